package doubao

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/imageflow/imagegen"
	"github.com/BaSui01/imageflow/types"
)

func buildBody(t *testing.T, p *Provider, req *imagegen.GenerationRequest, attempt int) map[string]any {
	t.Helper()
	preq, err := p.BuildRequestAttempt(context.Background(), req, attempt)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(preq.Body, &body))
	return body
}

// ---------------------------------------------------------------------------
// BuildRequestAttempt
// ---------------------------------------------------------------------------

func TestBuildRequestDefaults(t *testing.T) {
	p := New(Config{}, nil)
	preq, err := p.BuildRequestAttempt(context.Background(), &imagegen.GenerationRequest{
		Prompt: "a dragon", APIKey: "k",
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, "https://ark.cn-beijing.volces.com/api/v3/images/generations", preq.URL)
	assert.Equal(t, "Bearer k", preq.Headers["Authorization"])

	var body map[string]any
	require.NoError(t, json.Unmarshal(preq.Body, &body))
	assert.Equal(t, "doubao-seedream-4.5", body["model"])
	assert.Equal(t, "url", body["response_format"])
	assert.Equal(t, false, body["watermark"])
	assert.Equal(t, "2K", body["size"])
}

func TestDowngradeAttemptUsesB64(t *testing.T) {
	p := New(Config{}, nil)
	body := buildBody(t, p, &imagegen.GenerationRequest{Prompt: "x", APIKey: "k"}, 1)
	assert.Equal(t, "b64_json", body["response_format"])
}

func TestSingleReferenceIsString(t *testing.T) {
	p := New(Config{}, nil)
	body := buildBody(t, p, &imagegen.GenerationRequest{
		Prompt: "x", APIKey: "k",
		ReferenceImages: []string{"https://cdn.example.com/a.png"},
	}, 0)
	assert.Equal(t, "https://cdn.example.com/a.png", body["image"])
}

func TestMultipleReferencesAreArray(t *testing.T) {
	p := New(Config{}, nil)
	body := buildBody(t, p, &imagegen.GenerationRequest{
		Prompt: "x", APIKey: "k",
		ReferenceImages: []string{"https://cdn.example.com/a.png", "QUJD"},
	}, 0)
	imgs := body["image"].([]any)
	require.Len(t, imgs, 2)
	assert.Equal(t, "https://cdn.example.com/a.png", imgs[0])
	assert.Equal(t, "data:image/png;base64,QUJD", imgs[1])
}

func TestSequentialAndPromptOptions(t *testing.T) {
	p := New(Config{
		OptimizePromptMode:  "fast",
		SequentialMode:      "auto",
		SequentialMaxImages: 4,
	}, nil)
	body := buildBody(t, p, &imagegen.GenerationRequest{Prompt: "story", APIKey: "k"}, 0)

	assert.Equal(t, "auto", body["sequential_image_generation"])
	opts := body["sequential_image_generation_options"].(map[string]any)
	assert.Equal(t, float64(4), opts["max_images"])
	po := body["optimize_prompt_options"].(map[string]any)
	assert.Equal(t, "fast", po["mode"])
}

func TestSequentialMaxImagesOutOfRangeOmitted(t *testing.T) {
	p := New(Config{SequentialMode: "auto", SequentialMaxImages: 99}, nil)
	body := buildBody(t, p, &imagegen.GenerationRequest{Prompt: "x", APIKey: "k"}, 0)
	assert.Equal(t, "auto", body["sequential_image_generation"])
	assert.NotContains(t, body, "sequential_image_generation_options")
}

func TestMapResolution(t *testing.T) {
	tests := []struct {
		resolution string
		model      string
		want       string
	}{
		{"", "doubao-seedream-4.5", "2K"},
		{"4K", "doubao-seedream-4.5", "4K"},
		{"2K", "doubao-seedream-4.5", "2K"},
		// 4.5 不支持 1K，升到 2K
		{"1K", "doubao-seedream-4.5", "2K"},
		{"1K", "doubao-seedream-4-0-250828", "1K"},
		{"1024", "doubao-seedream-4_0", "1K"},
		{"2048", "doubao-seedream-4.5", "2K"},
		{"1920x1080", "doubao-seedream-4.5", "1920x1080"},
		{"1920X1080", "doubao-seedream-4.5", "1920x1080"},
		{"huge", "doubao-seedream-4.5", "2K"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mapResolution(tt.resolution, tt.model),
			"resolution=%q model=%q", tt.resolution, tt.model)
	}
}

// ---------------------------------------------------------------------------
// ParseResponse 与错误码分类
// ---------------------------------------------------------------------------

func parse(t *testing.T, body string, status int) (*imagegen.GenerationResult, error) {
	t.Helper()
	p := New(Config{}, nil)
	return p.ParseResponse(context.Background(), []byte(body), status, "", nil)
}

func TestParseImages(t *testing.T) {
	body := `{"data":[
		{"url":"https://ark.example.com/a.png"},
		{"b64_json":"QUJD"}
	],"usage":{"generated_images":2,"total_tokens":100}}`
	res, err := parse(t, body, 200)
	require.NoError(t, err)
	require.Len(t, res.ImageURLs, 2)
}

func TestParseSkipsFailedItems(t *testing.T) {
	body := `{"data":[
		{"error":{"code":"OutputImageSensitiveContentDetected","message":"blocked"}},
		{"url":"https://ark.example.com/b.png"}
	]}`
	res, err := parse(t, body, 200)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://ark.example.com/b.png"}, res.ImageURLs)
}

func TestParseAllItemsFailed(t *testing.T) {
	body := `{"data":[
		{"error":{"code":"InternalServiceError","message":"oops"}}
	]}`
	_, err := parse(t, body, 200)
	require.Error(t, err)
	assert.Equal(t, types.ErrEmptyResponse, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestClassifyCodeTables(t *testing.T) {
	tests := []struct {
		code      string
		wantCode  types.ErrorCode
		retryable bool
	}{
		{"InputTextRiskDetection", types.ErrSafetyFiltered, false},
		{"OutputImageSensitiveContentDetected", types.ErrSafetyFiltered, false},
		{"RateLimitExceeded", types.ErrProviderQuota, true},
		{"ModelAccountTpmRateLimitExceeded", types.ErrProviderQuota, true},
		{"QuotaExceeded.NoRemaining", types.ErrProviderQuota, true},
		{"ServerOverloaded", types.ErrUpstream, true},
		{"InternalServiceError", types.ErrUpstream, true},
		{"AuthenticationError", types.ErrConfig, false},
		{"InvalidParameter", types.ErrConfig, false},
		{"ModelNotOpen", types.ErrConfig, false},
		{"SomethingNew", types.ErrUpstream, false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			body := `{"error":{"code":"` + tt.code + `","message":"detail"}}`
			_, err := parse(t, body, 200)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, types.GetErrorCode(err))
			assert.Equal(t, tt.retryable, types.IsRetryable(err))
		})
	}
}

func TestUnknownCodeRetryableOnServerStatus(t *testing.T) {
	body := `{"error":{"code":"SomethingNew","message":"detail"}}`
	_, err := parse(t, body, 503)
	require.Error(t, err)
	assert.Equal(t, types.ErrUpstream, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestParseNonJSONErrorBody(t *testing.T) {
	_, err := parse(t, "<html>bad gateway</html>", 502)
	require.Error(t, err)
	assert.Equal(t, types.ErrUpstream, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestParseMissingKey(t *testing.T) {
	p := New(Config{}, nil)
	_, err := p.BuildRequest(context.Background(), &imagegen.GenerationRequest{Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, types.ErrConfig, types.GetErrorCode(err))
}
