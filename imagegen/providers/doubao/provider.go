// Package doubao 实现火山方舟 Seedream 图像接口适配器：
// 组图（sequential_image_generation）、最多 14 张参考图、
// 按模型代次映射的尺寸档位，以及火山引擎错误码表的分类。
// url→b64_json 的表示降级由 retry.DowngradePolicy 驱动，
// 适配器只根据 attempt 序号选择 response_format。
package doubao

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/BaSui01/imageflow/imagegen"
	"github.com/BaSui01/imageflow/imagegen/providers"
	"github.com/BaSui01/imageflow/types"
	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://ark.cn-beijing.volces.com"
	defaultModel   = "doubao-seedream-4.5"

	maxReferenceImages  = 14
	maxSequentialImages = 15
)

// 火山引擎错误码分类表
// https://www.volcengine.com/docs/82379/1299023
var (
	// 内容安全类错误码前缀：不可重试，换提示词
	sensitiveCodePrefixes = []string{
		"InputTextRiskDetection",
		"InputImageRiskDetection",
		"OutputTextRiskDetection",
		"OutputImageRiskDetection",
		"SensitiveContentDetected",
		"InputTextSensitiveContentDetected",
		"InputImageSensitiveContentDetected",
		"InputVideoSensitiveContentDetected",
		"OutputTextSensitiveContentDetected",
		"OutputImageSensitiveContentDetected",
		"OutputVideoSensitiveContentDetected",
	}

	// 频率/配额类错误码前缀：可重试
	quotaCodePrefixes = []string{
		"RateLimitExceeded",
		"ModelAccountRpmRateLimitExceeded",
		"ModelAccountTpmRateLimitExceeded",
		"ModelAccountIpmRateLimitExceeded",
		"APIAccountRpmRateLimitExceeded",
		"AccountRateLimitExceeded",
		"InflightBatchsizeExceeded",
		"QuotaExceeded",
		"SetLimitExceeded",
	}

	// 服务端临时故障：可重试
	serverCodePrefixes = []string{
		"ServerOverloaded",
		"InternalServiceError",
		"ContentSecurityDetectionError",
	}

	// 配置/认证类错误码前缀：不可重试，查配置
	configCodePrefixes = []string{
		"MissingParameter",
		"InvalidParameter",
		"AuthenticationError",
		"InvalidAccountStatus",
		"AccessDenied",
		"OperationDenied",
		"AccountOverdueError",
		"InvalidEndpoint",
		"InvalidEndpointOrModel",
		"ModelNotOpen",
		"InvalidSubscription",
		"UnsupportedModel",
	}
)

var wxhPattern = regexp.MustCompile(`^\d{3,5}x\d{3,5}$`)

// Config holds the Seedream adapter configuration.
type Config struct {
	DefaultModel string
	// Watermark toggles the provider-side watermark. Off by default.
	Watermark bool
	// OptimizePromptMode is "standard" or "fast"; empty omits the option.
	OptimizePromptMode string
	// SequentialMode "auto" enables multi-image story generation.
	SequentialMode string
	// SequentialMaxImages caps one sequential batch (2..15).
	SequentialMaxImages int
}

// Provider implements the Volcengine Ark Seedream protocol.
type Provider struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a Seedream image provider.
func New(cfg Config, logger *zap.Logger) *Provider {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{cfg: cfg, logger: logger.With(zap.String("provider", "doubao"))}
}

func (p *Provider) Name() string { return "doubao" }

func (p *Provider) Aliases() []string {
	return []string{"seedream", "volcengine", "ark"}
}

// BuildRequest delegates to BuildRequestAttempt with a first attempt.
func (p *Provider) BuildRequest(ctx context.Context, req *imagegen.GenerationRequest) (*imagegen.ProviderRequest, error) {
	return p.BuildRequestAttempt(ctx, req, 0)
}

// BuildRequestAttempt assembles the Seedream payload. attempt > 0 means a
// downgrade retry: response_format flips from url to b64_json because some
// relay paths cannot serve fetchable URLs.
func (p *Provider) BuildRequestAttempt(_ context.Context, req *imagegen.GenerationRequest, attempt int) (*imagegen.ProviderRequest, error) {
	if strings.TrimSpace(req.APIKey) == "" {
		return nil, types.NewError(types.ErrConfig, "api key is required").WithProvider(p.Name())
	}
	model := req.Model
	if model == "" {
		model = p.cfg.DefaultModel
	}

	responseFormat := "url"
	if attempt > 0 {
		responseFormat = "b64_json"
		p.logger.Debug("downgrading response format", zap.Int("attempt", attempt))
	}

	body := map[string]any{
		"model":           model,
		"prompt":          req.Prompt,
		"response_format": responseFormat,
		"watermark":       p.cfg.Watermark,
	}

	if size := mapResolution(req.Resolution, model); size != "" {
		body["size"] = size
	}
	if req.Seed != nil {
		body["seed"] = *req.Seed
	}

	if img := referenceImageValue(req.ReferenceImages, p.logger); img != nil {
		body["image"] = img
	}

	if p.cfg.OptimizePromptMode == "standard" || p.cfg.OptimizePromptMode == "fast" {
		body["optimize_prompt_options"] = map[string]any{"mode": p.cfg.OptimizePromptMode}
	}
	if p.cfg.SequentialMode == "auto" {
		body["sequential_image_generation"] = "auto"
		if n := p.cfg.SequentialMaxImages; n >= 2 && n <= maxSequentialImages {
			body["sequential_image_generation_options"] = map[string]any{"max_images": n}
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
		URL: providers.JoinEndpoint(base, "/api/v3/images/generations"),
		Headers: map[string]string{
			"Authorization": "Bearer " + req.APIKey,
		},
		Body: payload,
	}, nil
}

// mapResolution maps the generic resolution to a Seedream size shortcut.
// 4.5 回退到 2K（不支持 1K），4.0 支持 1K/2K/4K，WxH 原样透传。
func mapResolution(resolution, model string) string {
	raw := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(resolution), " ", ""))
	if raw == "" {
		return "2K"
	}
	if wxhPattern.MatchString(raw) {
		return raw
	}

	modelNorm := strings.NewReplacer("-", ".", "_", ".").Replace(strings.ToLower(model))
	gen40 := strings.Contains(modelNorm, "4.0")

	switch raw {
	case "4k", "4096":
		return "4K"
	case "2k", "2048":
		return "2K"
	case "1k", "1024":
		if gen40 {
			return "1K"
		}
		return "2K"
	default:
		return "2K"
	}
}

// referenceImageValue builds the i2i image field: one string for a single
// reference, an array for several, nil when none survive normalization.
func referenceImageValue(refs []string, logger *zap.Logger) any {
	if len(refs) == 0 {
		return nil
	}
	if len(refs) > maxReferenceImages {
		logger.Warn("truncating reference images",
			zap.Int("given", len(refs)), zap.Int("max", maxReferenceImages))
		refs = refs[:maxReferenceImages]
	}

	processed := make([]string, 0, len(refs))
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		// URL 透传，其余按 data URI 规整
		if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
			processed = append(processed, ref)
			continue
		}
		processed = append(processed, providers.EnsureDataURI(ref))
	}

	switch len(processed) {
	case 0:
		return nil
	case 1:
		return processed[0]
	default:
		return processed
	}
}

type seedreamResponse struct {
	Data []struct {
		URL     string `json:"url"`
		B64JSON string `json:"b64_json"`
		Error   *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	Usage *struct {
		GeneratedImages int `json:"generated_images"`
		OutputTokens    int `json:"output_tokens"`
		TotalTokens     int `json:"total_tokens"`
	} `json:"usage"`
}

// ParseResponse classifies top-level errors through the Volcengine code
// tables, logs and skips per-image errors, and collects the survivors.
func (p *Provider) ParseResponse(_ context.Context, body []byte, status int, _ string, _ *imagegen.ParseState) (*imagegen.GenerationResult, error) {
	var resp seedreamResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		if status >= 400 {
			return nil, providers.MapHTTPError(status, providers.ReadErrorMessage(body), p.Name())
		}
		return nil, types.NewError(types.ErrParse, "unrecognized response shape").
			WithCause(err).WithProvider(p.Name())
	}

	if resp.Error != nil && resp.Error.Message != "" && len(resp.Data) == 0 {
		return nil, p.classifyCode(resp.Error.Code, resp.Error.Message, status)
	}
	if status >= 400 {
		return nil, providers.MapHTTPError(status, providers.ReadErrorMessage(body), p.Name())
	}

	res := &imagegen.GenerationResult{}
	for _, item := range resp.Data {
		if item.Error != nil && item.Error.Message != "" {
			p.logger.Warn("image item failed",
				zap.String("code", item.Error.Code),
				zap.String("message", item.Error.Message))
			continue
		}
		switch {
		case item.URL != "":
			res.ImageURLs = append(res.ImageURLs, item.URL)
		case item.B64JSON != "":
			res.ImageURLs = append(res.ImageURLs, "data:image/png;base64,"+item.B64JSON)
		}
	}

	if resp.Usage != nil {
		p.logger.Debug("generation usage",
			zap.Int("generated_images", resp.Usage.GeneratedImages),
			zap.Int("total_tokens", resp.Usage.TotalTokens))
	}

	if !res.HasImages() {
		return nil, types.NewError(types.ErrEmptyResponse, "no image data returned").
			WithRetryable(true).WithProvider(p.Name()).WithHTTPStatus(status)
	}
	return res, nil
}

// classifyCode maps a Volcengine error code onto the taxonomy.
func (p *Provider) classifyCode(code, message string, status int) *types.Error {
	mk := func(ec types.ErrorCode, retryable bool) *types.Error {
		return &types.Error{
			Code:       ec,
			Message:    fmt.Sprintf("%s: %s", code, message),
			Hint:       types.HintFor(ec),
			HTTPStatus: status,
			Retryable:  retryable,
			Provider:   p.Name(),
		}
	}

	switch {
	case matchPrefix(code, sensitiveCodePrefixes):
		return mk(types.ErrSafetyFiltered, false)
	case matchPrefix(code, quotaCodePrefixes):
		return mk(types.ErrProviderQuota, true)
	case matchPrefix(code, serverCodePrefixes):
		return mk(types.ErrUpstream, true)
	case matchPrefix(code, configCodePrefixes):
		return mk(types.ErrConfig, false)
	default:
		return mk(types.ErrUpstream, status == 429 || status >= 500)
	}
}

func matchPrefix(code string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(code, prefix) {
			return true
		}
	}
	return false
}
