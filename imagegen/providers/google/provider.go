// Package google 实现 Gemini 原生 generateContent 协议的图像适配器。
// 与 OpenAI 兼容系不同：独立的请求结构、x-goog-api-key 认证、
// inlineData 内联图像，以及 promptFeedback / finishReason 安全语义。
package google

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BaSui01/imageflow/imagegen"
	"github.com/BaSui01/imageflow/imagegen/providers"
	"github.com/BaSui01/imageflow/types"
	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-2.5-flash-image"

	// inlineData 引用图上限，沿用官方接口的限制
	maxReferenceImages = 14
)

var validImageSizes = map[string]bool{"1K": true, "2K": true, "4K": true}

// Config holds the Gemini adapter configuration.
type Config struct {
	DefaultModel string
}

// Provider implements the Gemini generateContent protocol.
type Provider struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a Gemini image provider.
func New(cfg Config, logger *zap.Logger) *Provider {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{cfg: cfg, logger: logger.With(zap.String("provider", "google"))}
}

func (p *Provider) Name() string { return "google" }

func (p *Provider) Aliases() []string {
	return []string{"gemini", "google_genai", "nano_banana"}
}

// BuildRequest assembles a generateContent payload: prompt text plus
// inline reference images, response modalities, and the image config.
func (p *Provider) BuildRequest(_ context.Context, req *imagegen.GenerationRequest) (*imagegen.ProviderRequest, error) {
	if strings.TrimSpace(req.APIKey) == "" {
		return nil, types.NewError(types.ErrConfig, "api key is required").WithProvider(p.Name())
	}
	model := req.Model
	if model == "" {
		model = p.cfg.DefaultModel
	}

	parts := []map[string]any{
		{"text": req.Prompt},
	}
	refs := req.ReferenceImages
	if len(refs) > maxReferenceImages {
		p.logger.Warn("truncating reference images",
			zap.Int("given", len(refs)), zap.Int("max", maxReferenceImages))
		refs = refs[:maxReferenceImages]
	}
	for _, ref := range refs {
		parts = append(parts, map[string]any{
			"inlineData": map[string]any{
				"mimeType": "image/png",
				"data":     providers.StripDataURI(ref),
			},
		})
	}

	// 纯 IMAGE 模态在部分模型上会被拒绝，统一升级为 TEXT+IMAGE。
	modalities := []string{"TEXT", "IMAGE"}
	genConfig := map[string]any{
		"responseModalities": modalities,
	}

	imageConfig := map[string]any{}
	if req.Resolution != "" && (req.ForceResolution || validImageSizes[req.Resolution]) {
		if !validImageSizes[req.Resolution] {
			return nil, types.NewError(types.ErrConfig,
				fmt.Sprintf("invalid image size %q, expected 1K/2K/4K", req.Resolution)).
				WithProvider(p.Name())
		}
		imageConfig["imageSize"] = req.Resolution
	}
	if req.AspectRatio != "" {
		if !strings.Contains(req.AspectRatio, ":") {
			return nil, types.NewError(types.ErrConfig,
				fmt.Sprintf("invalid aspect ratio %q, expected W:H", req.AspectRatio)).
				WithProvider(p.Name())
		}
		imageConfig["aspectRatio"] = req.AspectRatio
	}
	if len(imageConfig) > 0 {
		genConfig["imageConfig"] = imageConfig
	}
	if req.Seed != nil {
		genConfig["seed"] = *req.Seed
	}

	body := map[string]any{
		"contents": []map[string]any{
			{"parts": parts},
		},
		"generationConfig": genConfig,
	}
	if req.EnableGrounding {
		body["tools"] = []map[string]any{
			{"google_search": map[string]any{}},
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request failed: %w", err)
	}

	base := req.APIBase
	if base == "" {
		base = defaultBaseURL
	}
	return &imagegen.ProviderRequest{
		URL: fmt.Sprintf("%s/models/%s:generateContent", strings.TrimRight(base, "/"), model),
		Headers: map[string]string{
			"x-goog-api-key": req.APIKey,
		},
		Body: payload,
	}, nil
}

type generateContentResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text       string `json:"text"`
				Thought    bool   `json:"thought"`
				InlineData *struct {
					MimeType string `json:"mimeType"`
					Data     string `json:"data"`
				} `json:"inlineData"`
				ThoughtSignature string `json:"thoughtSignature"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

var blockedFinishReasons = map[string]bool{
	"SAFETY":             true,
	"RECITATION":         true,
	"PROHIBITED_CONTENT": true,
	"IMAGE_SAFETY":       true,
}

// ParseResponse interprets a generateContent reply. Safety blocks map to
// ErrSafetyFiltered whether they arrive as promptFeedback or finishReason.
func (p *Provider) ParseResponse(_ context.Context, body []byte, status int, _ string, _ *imagegen.ParseState) (*imagegen.GenerationResult, error) {
	if status >= 400 {
		msg := providers.ReadErrorMessage(body)
		return nil, providers.MapHTTPError(status, msg, p.Name())
	}

	var resp generateContentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, types.NewError(types.ErrParse, "unrecognized response shape").
			WithCause(err).WithProvider(p.Name())
	}
	if resp.Error != nil {
		return nil, providers.MapHTTPError(resp.Error.Code, resp.Error.Message, p.Name())
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return nil, types.NewError(types.ErrSafetyFiltered,
			"prompt blocked: "+resp.PromptFeedback.BlockReason).WithProvider(p.Name())
	}
	if len(resp.Candidates) == 0 {
		return nil, types.NewError(types.ErrEmptyResponse, "no candidates returned").
			WithRetryable(true).WithProvider(p.Name())
	}

	cand := resp.Candidates[0]
	if blockedFinishReasons[cand.FinishReason] {
		return nil, types.NewError(types.ErrSafetyFiltered,
			"generation blocked: "+cand.FinishReason).WithProvider(p.Name())
	}

	res := &imagegen.GenerationResult{}
	var texts []string
	for _, part := range cand.Content.Parts {
		if part.ThoughtSignature != "" {
			res.ThoughtSignature = part.ThoughtSignature
		}
		if part.Thought {
			continue
		}
		if part.InlineData != nil && part.InlineData.Data != "" {
			mime := part.InlineData.MimeType
			if mime == "" {
				// 有些网关不带 mimeType，按字节探测
				if raw, err := base64.StdEncoding.DecodeString(part.InlineData.Data); err == nil {
					mime = providers.SniffImageMime(raw)
				} else {
					mime = "image/png"
				}
			}
			res.ImageURLs = append(res.ImageURLs, "data:"+mime+";base64,"+part.InlineData.Data)
			continue
		}
		if part.Text != "" {
			texts = append(texts, part.Text)
		}
	}
	res.Text = strings.TrimSpace(strings.Join(texts, "\n"))

	return providers.FinalizeResult(res, p.Name())
}
