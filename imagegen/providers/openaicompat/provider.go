// =============================================================================
// ImageFlow OpenAI-Compatible Image Provider Base
// =============================================================================
// Shared implementation for all chat-completions style image backends.
// Relay gateways, OpenRouter, and the zai adapter embed this and only
// override what differs: payload shape, URL interception, link scanning.
// =============================================================================

package openaicompat

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/BaSui01/imageflow/imagegen"
	"github.com/BaSui01/imageflow/imagegen/providers"
	"github.com/BaSui01/imageflow/types"
	"go.uber.org/zap"
)

// maxReferenceImages caps how many reference images go into one request.
const maxReferenceImages = 6

// ResolvedImage is the outcome of a URLHook that claimed a candidate URL.
// Exactly one of URL / Path / Data is set.
type ResolvedImage struct {
	// URL is a rewritten absolute URL to fetch later.
	URL string
	// Path is a local file the hook already materialized.
	Path string
	// Data is image bytes the hook downloaded eagerly.
	Data []byte
}

// Config holds the configuration for an OpenAI-compatible image provider.
type Config struct {
	// ProviderName is the canonical identifier (e.g. "openai", "zai").
	ProviderName string

	// ProviderAliases are alternative identifiers resolving to this adapter.
	ProviderAliases []string

	// BaseURL is used when the request carries no APIBase.
	BaseURL string

	// DefaultModel is the model when the request does not name one.
	DefaultModel string

	// EndpointPath is the completions endpoint. Defaults to "/v1/chat/completions".
	EndpointPath string

	// Timeout is advisory; the executor owns the HTTP client.
	Timeout time.Duration

	// PayloadHook reshapes the outgoing body after the base fields are set.
	// Use it for provider-specific fields (modalities, size hints).
	PayloadHook func(req *imagegen.GenerationRequest, body map[string]any)

	// URLHook inspects every candidate image URL before it is accepted.
	// Returning handled=true means the hook consumed the URL and the
	// resolved form (rewritten URL, local path, or raw bytes) is used
	// instead. The parse state prevents double handling within one response.
	URLHook func(ctx context.Context, rawURL, apiBase string, st *imagegen.ParseState) (handled bool, resolved *ResolvedImage, err error)

	// TextLinks extracts additional image links from the assistant text
	// when the structured payload omits them (markdown replies).
	TextLinks func(text string) []string
}

// Provider is the base adapter for chat-completions style image backends.
type Provider struct {
	Cfg    Config
	Logger *zap.Logger
}

// New creates an OpenAI-compatible image provider with the given config.
func New(cfg Config, logger *zap.Logger) *Provider {
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		Cfg:    cfg,
		Logger: logger.With(zap.String("provider", cfg.ProviderName)),
	}
}

// Name returns the provider name.
func (p *Provider) Name() string { return p.Cfg.ProviderName }

// Aliases returns alternative identifiers for this adapter.
func (p *Provider) Aliases() []string { return p.Cfg.ProviderAliases }

// BuildRequest assembles a chat-completions payload carrying the prompt
// and up to maxReferenceImages reference images as image_url parts.
func (p *Provider) BuildRequest(_ context.Context, req *imagegen.GenerationRequest) (*imagegen.ProviderRequest, error) {
	if strings.TrimSpace(req.APIKey) == "" {
		return nil, types.NewError(types.ErrConfig, "api key is required").WithProvider(p.Name())
	}
	model := req.Model
	if model == "" {
		model = p.Cfg.DefaultModel
	}
	if model == "" {
		return nil, types.NewError(types.ErrConfig, "model is required").WithProvider(p.Name())
	}

	content := []map[string]any{
		{"type": "text", "text": req.Prompt},
	}
	refs := req.ReferenceImages
	if len(refs) > maxReferenceImages {
		p.Logger.Warn("truncating reference images",
			zap.Int("given", len(refs)), zap.Int("max", maxReferenceImages))
		refs = refs[:maxReferenceImages]
	}
	for _, ref := range refs {
		content = append(content, map[string]any{
			"type":      "image_url",
			"image_url": map[string]any{"url": providers.EnsureDataURI(ref)},
		})
	}

	body := map[string]any{
		"model": model,
		"messages": []map[string]any{
			{"role": "user", "content": content},
		},
	}
	if p.Cfg.PayloadHook != nil {
		p.Cfg.PayloadHook(req, body)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request failed: %w", err)
	}

	base := req.APIBase
	if base == "" {
		base = p.Cfg.BaseURL
	}
	return &imagegen.ProviderRequest{
		URL: providers.JoinEndpoint(base, p.Cfg.EndpointPath),
		Headers: map[string]string{
			"Authorization": "Bearer " + req.APIKey,
		},
		Body: payload,
	}, nil
}

// chatResponse covers the response shapes relay gateways actually emit:
// message.images, content as string or parts, and the images-API data[].
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
			Images  []struct {
				Type     string          `json:"type"`
				ImageURL json.RawMessage `json:"image_url"`
			} `json:"images"`
		} `json:"message"`
	} `json:"choices"`
	Data []struct {
		URL     string `json:"url"`
		B64JSON string `json:"b64_json"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

var dataURIPattern = regexp.MustCompile(`data:image/[a-zA-Z0-9.+-]+;base64,[A-Za-z0-9+/=]+`)

// ParseResponse extracts image URLs and text from a chat-completions
// reply. Every candidate URL passes through the URLHook so embedding
// adapters can rewrite or pre-download it.
func (p *Provider) ParseResponse(ctx context.Context, body []byte, status int, apiBase string, st *imagegen.ParseState) (*imagegen.GenerationResult, error) {
	if status >= 400 {
		msg := providers.ReadErrorMessage(body)
		return nil, providers.MapHTTPError(status, msg, p.Name())
	}
	if st == nil {
		st = imagegen.NewParseState()
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, types.NewError(types.ErrParse, "unrecognized response shape").
			WithCause(err).WithProvider(p.Name())
	}
	if resp.Error != nil && resp.Error.Message != "" {
		return nil, providers.MapHTTPError(status, resp.Error.Message, p.Name())
	}

	res := &imagegen.GenerationResult{}

	// OpenAI images-API shape: some gateways answer chat calls with it.
	for _, item := range resp.Data {
		switch {
		case item.URL != "":
			p.acceptURL(ctx, item.URL, apiBase, st, res)
		case item.B64JSON != "":
			res.ImageURLs = append(res.ImageURLs, "data:image/png;base64,"+item.B64JSON)
		}
	}

	if len(resp.Choices) > 0 {
		msg := resp.Choices[0].Message

		for _, img := range msg.Images {
			if url := decodeImageURL(img.ImageURL); url != "" {
				p.acceptURL(ctx, url, apiBase, st, res)
			}
		}

		text := decodeContentText(msg.Content)
		// Data URIs embedded straight into the assistant text.
		for _, uri := range dataURIPattern.FindAllString(text, -1) {
			res.ImageURLs = append(res.ImageURLs, uri)
			text = strings.Replace(text, uri, "", 1)
		}
		if p.Cfg.TextLinks != nil {
			for _, link := range p.Cfg.TextLinks(text) {
				p.acceptURL(ctx, link, apiBase, st, res)
			}
		}
		res.Text = strings.TrimSpace(text)
	}

	if res.Empty() && len(resp.Choices) == 0 && len(resp.Data) == 0 {
		return nil, types.NewError(types.ErrParse,
			fmt.Sprintf("unrecognized response shape: %s", truncate(body, 256))).
			WithProvider(p.Name())
	}
	return providers.FinalizeResult(res, p.Name())
}

// acceptURL routes one candidate URL through the hook and into the result.
func (p *Provider) acceptURL(ctx context.Context, rawURL, apiBase string, st *imagegen.ParseState, res *imagegen.GenerationResult) {
	if rawURL == "" || st.Handled(rawURL) {
		return
	}
	if p.Cfg.URLHook != nil {
		handled, resolved, err := p.Cfg.URLHook(ctx, rawURL, apiBase, st)
		if err != nil {
			p.Logger.Warn("url hook failed", zap.String("url", rawURL), zap.Error(err))
			return
		}
		if handled && resolved != nil {
			st.MarkHandled(rawURL)
			switch {
			case resolved.Path != "":
				res.ImagePaths = append(res.ImagePaths, resolved.Path)
			case resolved.URL != "":
				res.ImageURLs = append(res.ImageURLs, resolved.URL)
			case len(resolved.Data) > 0:
				res.ImageURLs = append(res.ImageURLs, providers.BytesToDataURI(resolved.Data))
			}
			return
		}
	}
	st.MarkHandled(rawURL)
	res.ImageURLs = append(res.ImageURLs, rawURL)
}

// decodeImageURL accepts both the string and the {"url": ...} object form.
func decodeImageURL(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.URL
	}
	return ""
}

// decodeContentText flattens string content or typed content parts.
func decodeContentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil {
		var sb strings.Builder
		for _, part := range parts {
			if part.Text != "" {
				sb.WriteString(part.Text)
			}
		}
		return sb.String()
	}
	return ""
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
