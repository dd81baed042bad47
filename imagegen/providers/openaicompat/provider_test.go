package openaicompat

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/imageflow/imagegen"
	"github.com/BaSui01/imageflow/types"
)

func newTestProvider(cfg Config) *Provider {
	if cfg.ProviderName == "" {
		cfg.ProviderName = "openai"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-image-1"
	}
	return New(cfg, nil)
}

// ---------------------------------------------------------------------------
// BuildRequest
// ---------------------------------------------------------------------------

func TestBuildRequestPayload(t *testing.T) {
	p := newTestProvider(Config{})
	preq, err := p.BuildRequest(context.Background(), &imagegen.GenerationRequest{
		Prompt:  "a red panda",
		APIKey:  "sk-test",
		APIBase: "https://relay.example.com",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://relay.example.com/v1/chat/completions", preq.URL)
	assert.Equal(t, "Bearer sk-test", preq.Headers["Authorization"])

	var body map[string]any
	require.NoError(t, json.Unmarshal(preq.Body, &body))
	assert.Equal(t, "gpt-image-1", body["model"])

	messages := body["messages"].([]any)
	require.Len(t, messages, 1)
	content := messages[0].(map[string]any)["content"].([]any)
	require.Len(t, content, 1)
	assert.Equal(t, "a red panda", content[0].(map[string]any)["text"])
}

func TestBuildRequestReferenceImages(t *testing.T) {
	p := newTestProvider(Config{})
	preq, err := p.BuildRequest(context.Background(), &imagegen.GenerationRequest{
		Prompt: "edit this",
		APIKey: "sk-test",
		ReferenceImages: []string{
			"data:image/png;base64,AAAA",
			"iVBORw0KGgo=", // 裸 base64 要补 data URI 前缀
		},
	})
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(preq.Body, &body))
	content := body["messages"].([]any)[0].(map[string]any)["content"].([]any)
	require.Len(t, content, 3)

	first := content[1].(map[string]any)["image_url"].(map[string]any)["url"].(string)
	second := content[2].(map[string]any)["image_url"].(map[string]any)["url"].(string)
	assert.Equal(t, "data:image/png;base64,AAAA", first)
	assert.Equal(t, "data:image/png;base64,iVBORw0KGgo=", second)
}

func TestBuildRequestTruncatesReferences(t *testing.T) {
	refs := make([]string, 10)
	for i := range refs {
		refs[i] = "data:image/png;base64,AA"
	}
	p := newTestProvider(Config{})
	preq, err := p.BuildRequest(context.Background(), &imagegen.GenerationRequest{
		Prompt: "x", APIKey: "k", ReferenceImages: refs,
	})
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(preq.Body, &body))
	content := body["messages"].([]any)[0].(map[string]any)["content"].([]any)
	assert.Len(t, content, 1+maxReferenceImages)
}

func TestBuildRequestMissingCredentials(t *testing.T) {
	p := newTestProvider(Config{})
	_, err := p.BuildRequest(context.Background(), &imagegen.GenerationRequest{Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, types.ErrConfig, types.GetErrorCode(err))

	p2 := New(Config{ProviderName: "bare"}, nil)
	_, err = p2.BuildRequest(context.Background(), &imagegen.GenerationRequest{Prompt: "x", APIKey: "k"})
	require.Error(t, err)
	assert.Equal(t, types.ErrConfig, types.GetErrorCode(err))
}

func TestPayloadHook(t *testing.T) {
	p := newTestProvider(Config{
		PayloadHook: func(req *imagegen.GenerationRequest, body map[string]any) {
			body["modalities"] = []string{"image", "text"}
		},
	})
	preq, err := p.BuildRequest(context.Background(), &imagegen.GenerationRequest{
		Prompt: "x", APIKey: "k",
	})
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(preq.Body, &body))
	assert.Contains(t, body, "modalities")
}

// ---------------------------------------------------------------------------
// ParseResponse
// ---------------------------------------------------------------------------

func TestParseMessageImagesObjectForm(t *testing.T) {
	body := `{"choices":[{"message":{
		"content":"here you go",
		"images":[{"type":"image_url","image_url":{"url":"https://cdn.example.com/a.png"}}]
	}}]}`

	p := newTestProvider(Config{})
	res, err := p.ParseResponse(context.Background(), []byte(body), 200, "", imagegen.NewParseState())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn.example.com/a.png"}, res.ImageURLs)
	assert.Equal(t, "here you go", res.Text)
}

func TestParseMessageImagesStringForm(t *testing.T) {
	body := `{"choices":[{"message":{
		"content":"",
		"images":[{"image_url":"https://cdn.example.com/b.png"}]
	}}]}`

	p := newTestProvider(Config{})
	res, err := p.ParseResponse(context.Background(), []byte(body), 200, "", imagegen.NewParseState())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn.example.com/b.png"}, res.ImageURLs)
}

func TestParseDataURIInContent(t *testing.T) {
	body := `{"choices":[{"message":{"content":"result: data:image/png;base64,QUJD done"}}]}`

	p := newTestProvider(Config{})
	res, err := p.ParseResponse(context.Background(), []byte(body), 200, "", imagegen.NewParseState())
	require.NoError(t, err)
	require.Len(t, res.ImageURLs, 1)
	assert.Equal(t, "data:image/png;base64,QUJD", res.ImageURLs[0])
	assert.NotContains(t, res.Text, "base64")
}

func TestParseImagesAPIShape(t *testing.T) {
	body := `{"data":[{"url":"https://cdn.example.com/c.png"},{"b64_json":"QUJD"}]}`

	p := newTestProvider(Config{})
	res, err := p.ParseResponse(context.Background(), []byte(body), 200, "", imagegen.NewParseState())
	require.NoError(t, err)
	require.Len(t, res.ImageURLs, 2)
	assert.Equal(t, "https://cdn.example.com/c.png", res.ImageURLs[0])
	assert.Contains(t, res.ImageURLs[1], "base64,QUJD")
}

func TestParseContentPartsForm(t *testing.T) {
	body := `{"choices":[{"message":{"content":[
		{"type":"text","text":"part one "},
		{"type":"text","text":"data:image/png;base64,QUJD"}
	]}}]}`

	p := newTestProvider(Config{})
	res, err := p.ParseResponse(context.Background(), []byte(body), 200, "", imagegen.NewParseState())
	require.NoError(t, err)
	require.Len(t, res.ImageURLs, 1)
}

func TestParseTextOnly(t *testing.T) {
	body := `{"choices":[{"message":{"content":"I cannot draw that"}}]}`

	p := newTestProvider(Config{})
	_, err := p.ParseResponse(context.Background(), []byte(body), 200, "", imagegen.NewParseState())
	require.Error(t, err)
	assert.Equal(t, types.ErrTextOnly, types.GetErrorCode(err))
}

func TestParseEmptyResponse(t *testing.T) {
	body := `{"choices":[{"message":{"content":""}}]}`

	p := newTestProvider(Config{})
	_, err := p.ParseResponse(context.Background(), []byte(body), 200, "", imagegen.NewParseState())
	require.Error(t, err)
	assert.Equal(t, types.ErrEmptyResponse, types.GetErrorCode(err))
}

func TestParseUnrecognizedShape(t *testing.T) {
	p := newTestProvider(Config{})
	_, err := p.ParseResponse(context.Background(), []byte(`{"foo":"bar"}`), 200, "", imagegen.NewParseState())
	require.Error(t, err)
	assert.Equal(t, types.ErrParse, types.GetErrorCode(err))
}

func TestParseHTTPError(t *testing.T) {
	body := `{"error":{"message":"rate limited"}}`

	p := newTestProvider(Config{})
	_, err := p.ParseResponse(context.Background(), []byte(body), http.StatusTooManyRequests, "", imagegen.NewParseState())
	require.Error(t, err)
	assert.Equal(t, types.ErrProviderQuota, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestParseEmbeddedError(t *testing.T) {
	body := `{"error":{"message":"invalid api key"}}`

	p := newTestProvider(Config{})
	_, err := p.ParseResponse(context.Background(), []byte(body), 200, "", imagegen.NewParseState())
	require.Error(t, err)
}

// ---------------------------------------------------------------------------
// Hooks
// ---------------------------------------------------------------------------

func TestURLHookIntercepts(t *testing.T) {
	p := newTestProvider(Config{
		URLHook: func(_ context.Context, rawURL, _ string, st *imagegen.ParseState) (bool, *ResolvedImage, error) {
			return true, &ResolvedImage{Path: "/var/cached" + rawURL[len("https://cdn.example.com"):]}, nil
		},
	})

	body := `{"choices":[{"message":{"images":[{"image_url":"https://cdn.example.com/x.png"}]}}]}`
	res, err := p.ParseResponse(context.Background(), []byte(body), 200, "", imagegen.NewParseState())
	require.NoError(t, err)
	assert.Empty(t, res.ImageURLs)
	assert.Equal(t, []string{"/var/cached/x.png"}, res.ImagePaths)
}

func TestURLHookNoDoubleHandling(t *testing.T) {
	calls := 0
	p := newTestProvider(Config{
		URLHook: func(_ context.Context, rawURL, _ string, _ *imagegen.ParseState) (bool, *ResolvedImage, error) {
			calls++
			return true, &ResolvedImage{URL: rawURL}, nil
		},
		TextLinks: func(text string) []string {
			// 文本扫描又扫出了同一个链接
			return []string{"https://cdn.example.com/x.png"}
		},
	})

	body := `{"choices":[{"message":{
		"content":"![img](https://cdn.example.com/x.png)",
		"images":[{"image_url":"https://cdn.example.com/x.png"}]
	}}]}`
	res, err := p.ParseResponse(context.Background(), []byte(body), 200, "", imagegen.NewParseState())
	require.NoError(t, err)
	assert.Len(t, res.ImageURLs, 1)
	assert.Equal(t, 1, calls)
}

func TestTextLinksExtraction(t *testing.T) {
	p := newTestProvider(Config{
		TextLinks: func(text string) []string {
			return []string{"https://cdn.example.com/from-text.png"}
		},
	})

	body := `{"choices":[{"message":{"content":"see image below"}}]}`
	res, err := p.ParseResponse(context.Background(), []byte(body), 200, "", imagegen.NewParseState())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn.example.com/from-text.png"}, res.ImageURLs)
}
