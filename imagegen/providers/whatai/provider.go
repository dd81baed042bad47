// Package whatai 实现 WhatAI 网关的 multipart 图像编辑适配器。
// 与其他适配器不同，它走 /images/edits 表单上传：参考图以文件分片
// 随表单提交，而不是嵌在 JSON 里。
package whatai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"os"
	"strconv"
	"strings"

	"github.com/BaSui01/imageflow/imagegen"
	"github.com/BaSui01/imageflow/imagegen/providers"
	"github.com/BaSui01/imageflow/types"
	"go.uber.org/zap"
)

const (
	defaultModel = "nano-banana"
	editsPath    = "/images/edits"
)

var validImageSizes = map[string]bool{"1K": true, "2K": true, "4K": true}

// Config holds the WhatAI adapter configuration.
type Config struct {
	DefaultModel string
}

// Provider implements the WhatAI multipart images/edits protocol.
type Provider struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a WhatAI image provider.
func New(cfg Config, logger *zap.Logger) *Provider {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{cfg: cfg, logger: logger.With(zap.String("provider", "whatai"))}
}

func (p *Provider) Name() string { return "whatai" }

func (p *Provider) Aliases() []string {
	return []string{"what_ai"}
}

// BuildRequest assembles the multipart form. Reference images arrive as
// data URIs or local paths; plain URLs cannot be inlined into a form
// upload and are skipped with a warning.
func (p *Provider) BuildRequest(_ context.Context, req *imagegen.GenerationRequest) (*imagegen.ProviderRequest, error) {
	if strings.TrimSpace(req.APIKey) == "" {
		return nil, types.NewError(types.ErrConfig, "api key is required").WithProvider(p.Name())
	}
	if strings.TrimSpace(req.APIBase) == "" {
		return nil, types.NewError(types.ErrConfig, "api base is required").WithProvider(p.Name())
	}
	model := req.Model
	if model == "" {
		model = p.cfg.DefaultModel
	}

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	fields := map[string]string{
		"model":           model,
		"prompt":          req.Prompt,
		"response_format": "url",
	}
	if req.Resolution != "" && validImageSizes[req.Resolution] {
		fields["image_size"] = req.Resolution
	}
	if req.AspectRatio != "" {
		fields["aspect_ratio"] = req.AspectRatio
	}
	for k, v := range fields {
		if err := form.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("write form field %s failed: %w", k, err)
		}
	}

	for i, ref := range req.ReferenceImages {
		data, err := loadReferenceImage(ref)
		if err != nil {
			p.logger.Warn("skipping reference image", zap.Int("index", i), zap.Error(err))
			continue
		}
		name := "image_" + strconv.Itoa(i) + extForMime(providers.SniffImageMime(data))
		part, err := form.CreateFormFile("image", name)
		if err != nil {
			return nil, fmt.Errorf("create form file failed: %w", err)
		}
		if _, err := part.Write(data); err != nil {
			return nil, fmt.Errorf("write form file failed: %w", err)
		}
	}

	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("close multipart form failed: %w", err)
	}

	return &imagegen.ProviderRequest{
		URL: providers.JoinEndpoint(req.APIBase, editsPath),
		Headers: map[string]string{
			"Authorization": "Bearer " + req.APIKey,
		},
		Body:        buf.Bytes(),
		ContentType: form.FormDataContentType(),
	}, nil
}

// loadReferenceImage materializes one reference into raw bytes.
func loadReferenceImage(ref string) ([]byte, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return nil, fmt.Errorf("empty reference")
	case strings.HasPrefix(ref, "data:"):
		return base64.StdEncoding.DecodeString(providers.StripDataURI(ref))
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return nil, fmt.Errorf("remote url cannot be inlined into multipart form")
	default:
		return os.ReadFile(ref)
	}
}

func extForMime(mime string) string {
	switch mime {
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

type editsResponse struct {
	Data []struct {
		URL           string `json:"url"`
		B64JSON       string `json:"b64_json"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
	Error *struct {
		Code    any    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseResponse extracts generated images from the edits reply.
func (p *Provider) ParseResponse(_ context.Context, body []byte, status int, _ string, _ *imagegen.ParseState) (*imagegen.GenerationResult, error) {
	if status >= 400 {
		msg := providers.ReadErrorMessage(body)
		return nil, providers.MapHTTPError(status, msg, p.Name())
	}

	var resp editsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, types.NewError(types.ErrParse, "unrecognized response shape").
			WithCause(err).WithProvider(p.Name())
	}
	if resp.Error != nil && resp.Error.Message != "" {
		return nil, providers.MapHTTPError(status, resp.Error.Message, p.Name())
	}

	res := &imagegen.GenerationResult{}
	for _, item := range resp.Data {
		switch {
		case item.URL != "":
			res.ImageURLs = append(res.ImageURLs, item.URL)
		case item.B64JSON != "":
			res.ImageURLs = append(res.ImageURLs, "data:image/png;base64,"+item.B64JSON)
		}
	}
	if len(resp.Data) > 0 && resp.Data[0].RevisedPrompt != "" {
		res.Text = resp.Data[0].RevisedPrompt
	}

	return providers.FinalizeResult(res, p.Name())
}
