package imagegen

import "context"

// Provider is the adapter contract every image backend implements.
// BuildRequest turns a GenerationRequest into one outbound HTTP request;
// ParseResponse extracts images and text from the raw response body.
// Adapters never perform delivery or persistence themselves.
type Provider interface {
	// Name is the canonical identifier, already in normalized form.
	Name() string

	// Aliases lists alternative identifiers that resolve to this adapter.
	Aliases() []string

	// BuildRequest materializes the outbound request. Missing credentials
	// or model fail with types.ErrConfig before any network use.
	BuildRequest(ctx context.Context, req *GenerationRequest) (*ProviderRequest, error)

	// ParseResponse interprets the provider's reply. apiBase is the base
	// the request was sent to, for resolving relative URLs. st threads
	// per-parse bookkeeping through URL hooks.
	ParseResponse(ctx context.Context, body []byte, status int, apiBase string, st *ParseState) (*GenerationResult, error)
}
