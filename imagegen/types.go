package imagegen

// GenerationRequest describes one image generation or editing call.
// Adapters treat it as read-only: anything they need to change is
// copied into the outgoing payload, never written back.
type GenerationRequest struct {
	// Provider selects the adapter; the registry resolves aliases and
	// falls back to the default adapter for unknown identifiers.
	Provider string

	// Prompt is the user's natural-language description.
	Prompt string

	// Model overrides the adapter's default model when non-empty.
	Model string

	// APIKey / APIBase are the credentials and endpoint for this call.
	APIKey  string
	APIBase string

	// ReferenceImages are inputs for editing: data URIs, http(s) URLs,
	// or local file paths. Adapters normalize them as their protocol needs.
	ReferenceImages []string

	// Resolution is a symbolic size class ("1K", "2K", "4K") or an exact
	// "WxH" string, interpreted per adapter.
	Resolution string

	// AspectRatio like "16:9"; adapters map it into their own size field.
	AspectRatio string

	// ResolutionField / AspectRatioField rename the wire fields for
	// backends that moved them (e.g. newer CogView variants).
	ResolutionField  string
	AspectRatioField string

	// ForceResolution sends the resolution even when the backend would
	// otherwise pick its own.
	ForceResolution bool

	// EnableGrounding requests web-grounded generation where supported.
	EnableGrounding bool

	// Seed pins deterministic generation when the backend honors it.
	Seed *int64
}

// ProviderRequest is a fully materialized outbound HTTP request.
type ProviderRequest struct {
	URL     string
	Headers map[string]string
	Body    []byte

	// ContentType overrides application/json, e.g. for multipart bodies
	// where the boundary lives in the header.
	ContentType string
}

// GenerationResult holds everything extracted from a provider response.
// ImageURLs and ImagePaths keep the provider's ordering.
type GenerationResult struct {
	ImageURLs  []string
	ImagePaths []string
	Text       string

	// ThoughtSignature carries the opaque reasoning token some backends
	// return; callers echo it on follow-up turns.
	ThoughtSignature string
}

// Empty reports whether the result carries neither images nor text.
func (r *GenerationResult) Empty() bool {
	return r == nil || (len(r.ImageURLs) == 0 && len(r.ImagePaths) == 0 && r.Text == "")
}

// HasImages reports whether at least one image was produced.
func (r *GenerationResult) HasImages() bool {
	return r != nil && (len(r.ImageURLs) > 0 || len(r.ImagePaths) > 0)
}

// ParseState 是单次响应解析的可变状态，按 URL 维度记录
// 哪些候选链接已被钩子处理，避免同一响应内重复下载。
type ParseState struct {
	handled map[string]bool
}

// NewParseState creates an empty per-parse state.
func NewParseState() *ParseState {
	return &ParseState{handled: make(map[string]bool)}
}

// Handled reports whether a URL was already consumed by an earlier hook.
func (s *ParseState) Handled(url string) bool {
	if s == nil {
		return false
	}
	return s.handled[url]
}

// MarkHandled records that a URL has been consumed.
func (s *ParseState) MarkHandled(url string) {
	if s == nil {
		return
	}
	s.handled[url] = true
}
