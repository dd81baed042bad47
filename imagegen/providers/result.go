package providers

import (
	"github.com/BaSui01/imageflow/imagegen"
	"github.com/BaSui01/imageflow/types"
)

// FinalizeResult applies the shared tail classification every adapter
// needs after extraction: nothing at all is an empty response, text
// without any image is a text-only reply. The two are distinct failures
// with distinct user guidance and must never collapse into one.
func FinalizeResult(res *imagegen.GenerationResult, provider string) (*imagegen.GenerationResult, error) {
	if res.Empty() {
		return nil, types.NewError(types.ErrEmptyResponse, "provider returned no content").
			WithRetryable(true).WithProvider(provider)
	}
	if !res.HasImages() {
		return nil, types.NewError(types.ErrTextOnly, "provider returned text but no image: "+res.Text).
			WithProvider(provider)
	}
	return res, nil
}
