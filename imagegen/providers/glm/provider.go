// Package glm 实现智谱 CogView 图像接口的字段重映射适配器：
// 通用的分辨率/长宽比参数被映射为 CogView 的 size 字段，
// 同时附带新版端点使用的嵌套 image_config 结构。
package glm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BaSui01/imageflow/imagegen"
	"github.com/BaSui01/imageflow/imagegen/providers"
	"github.com/BaSui01/imageflow/types"
	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://open.bigmodel.cn/api/paas/v4"
	defaultModel   = "cogView-4-250304"
	defaultSize    = "1024x1024"
)

// 符号分辨率到 CogView 尺寸
var sizeMapping = map[string]string{
	"1K": "1024x1024",
	"2K": "2048x2048",
	"4K": "4096x4096",
}

// 长宽比到尺寸
var aspectRatioMapping = map[string]string{
	"1:1":  "1024x1024",
	"16:9": "1920x1080",
	"9:16": "1080x1920",
	"4:3":  "1024x768",
	"3:4":  "768x1024",
	"3:2":  "1536x1024",
	"2:3":  "1024x1536",
}

// Config holds the CogView adapter configuration.
type Config struct {
	DefaultModel string
}

// Provider implements the CogView images/generations protocol.
type Provider struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a CogView image provider.
func New(cfg Config, logger *zap.Logger) *Provider {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{cfg: cfg, logger: logger.With(zap.String("provider", "glm"))}
}

func (p *Provider) Name() string { return "glm" }

func (p *Provider) Aliases() []string {
	return []string{"zhipu", "cogview", "bigmodel"}
}

// resolveSize maps the generic resolution/aspect-ratio inputs to a
// CogView size string. Resolution wins over aspect ratio; exact WxH
// passes through.
func (p *Provider) resolveSize(req *imagegen.GenerationRequest) string {
	if res := strings.TrimSpace(req.Resolution); res != "" {
		if mapped, ok := sizeMapping[res]; ok {
			return mapped
		}
		if strings.Contains(strings.ToLower(res), "x") {
			return strings.ToLower(res)
		}
		p.logger.Debug("unknown resolution, using default",
			zap.String("resolution", res))
		return defaultSize
	}
	if aspect := strings.TrimSpace(req.AspectRatio); aspect != "" {
		if mapped, ok := aspectRatioMapping[aspect]; ok {
			return mapped
		}
		p.logger.Debug("unknown aspect ratio, using default",
			zap.String("aspect_ratio", aspect))
		return defaultSize
	}
	return defaultSize
}

// BuildRequest assembles the CogView payload. The flat size field stays
// for older endpoints; the nested image_config mirrors it for newer ones.
func (p *Provider) BuildRequest(_ context.Context, req *imagegen.GenerationRequest) (*imagegen.ProviderRequest, error) {
	if strings.TrimSpace(req.APIKey) == "" {
		return nil, types.NewError(types.ErrConfig, "api key is required").WithProvider(p.Name())
	}
	model := req.Model
	if model == "" {
		model = p.cfg.DefaultModel
	}

	size := p.resolveSize(req)
	sizeField := req.ResolutionField
	if sizeField == "" {
		sizeField = "size"
	}

	body := map[string]any{
		"model":   model,
		"prompt":  req.Prompt,
		sizeField: size,
	}
	imageConfig := map[string]any{"size": size}
	if req.AspectRatio != "" {
		key := req.AspectRatioField
		if key == "" {
			key = "aspect_ratio"
		}
		imageConfig[key] = req.AspectRatio
	}
	body["image_config"] = imageConfig

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request failed: %w", err)
	}

	base := req.APIBase
	if base == "" {
		base = defaultBaseURL
	}
	return &imagegen.ProviderRequest{
		URL: providers.JoinEndpoint(base, "/images/generations"),
		Headers: map[string]string{
			"Authorization": "Bearer " + req.APIKey,
		},
		Body: payload,
	}, nil
}

type cogViewResponse struct {
	Data []struct {
		URL           string `json:"url"`
		B64JSON       string `json:"b64_json"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseResponse extracts image URLs / base64 payloads from the CogView
// data array; revised_prompt becomes the accompanying text.
func (p *Provider) ParseResponse(_ context.Context, body []byte, status int, _ string, _ *imagegen.ParseState) (*imagegen.GenerationResult, error) {
	if status >= 400 {
		msg := providers.ReadErrorMessage(body)
		return nil, providers.MapHTTPError(status, msg, p.Name())
	}

	var resp cogViewResponse
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
