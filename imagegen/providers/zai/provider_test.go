package zai

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/imageflow/imagegen"
	"github.com/BaSui01/imageflow/types"
)

type fakeDownloader struct {
	calls []string
	data  []byte
	err   error
}

func (d *fakeDownloader) Download(_ context.Context, url string) ([]byte, error) {
	d.calls = append(d.calls, url)
	return d.data, d.err
}

const apiBase = "https://api.z.ai/api/paas/v4"

func TestRelativeURLJoinedToOrigin(t *testing.T) {
	dl := &fakeDownloader{}
	p := New(Config{}, dl, nil)

	body := `{"choices":[{"message":{"images":[{"image_url":"/files/img/abc.png"}]}}]}`
	res, err := p.ParseResponse(context.Background(), []byte(body), 200, apiBase, imagegen.NewParseState())
	require.NoError(t, err)
	// 相对路径按 origin 拼接，base 自己的 path 丢掉
	assert.Equal(t, []string{"https://api.z.ai/files/img/abc.png"}, res.ImageURLs)
	assert.Empty(t, dl.calls)
}

func TestExpiringLinkEagerlyDownloaded(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n....")
	dl := &fakeDownloader{data: png}
	p := New(Config{}, dl, nil)

	body := `{"choices":[{"message":{"images":[
		{"image_url":"https://api.z.ai/api/cache/xyz.png"}
	]}}]}`
	res, err := p.ParseResponse(context.Background(), []byte(body), 200, apiBase, imagegen.NewParseState())
	require.NoError(t, err)
	require.Len(t, dl.calls, 1)
	assert.Equal(t, "https://api.z.ai/api/cache/xyz.png", dl.calls[0])
	require.Len(t, res.ImageURLs, 1)
	assert.Contains(t, res.ImageURLs[0], "data:image/png;base64,")
}

func TestExpiresQueryTriggersDownload(t *testing.T) {
	dl := &fakeDownloader{data: []byte("abc")}
	p := New(Config{}, dl, nil)

	body := `{"choices":[{"message":{"images":[
		{"image_url":"https://cdn.z.ai/img/a.png?expires=1700000000"}
	]}}]}`
	res, err := p.ParseResponse(context.Background(), []byte(body), 200, apiBase, imagegen.NewParseState())
	require.NoError(t, err)
	require.Len(t, dl.calls, 1)
	assert.True(t, res.HasImages())
}

func TestStableAbsoluteURLPassesThrough(t *testing.T) {
	dl := &fakeDownloader{}
	p := New(Config{}, dl, nil)

	body := `{"choices":[{"message":{"images":[
		{"image_url":"https://cdn.z.ai/stable/a.png"}
	]}}]}`
	res, err := p.ParseResponse(context.Background(), []byte(body), 200, apiBase, imagegen.NewParseState())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn.z.ai/stable/a.png"}, res.ImageURLs)
	assert.Empty(t, dl.calls)
}

func TestMarkdownLinksExtractedFromText(t *testing.T) {
	dl := &fakeDownloader{}
	p := New(Config{}, dl, nil)

	body := `{"choices":[{"message":{
		"content":"生成完毕 ![结果](https://cdn.z.ai/md/a.png)"
	}}]}`
	res, err := p.ParseResponse(context.Background(), []byte(body), 200, apiBase, imagegen.NewParseState())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn.z.ai/md/a.png"}, res.ImageURLs)
}

func TestDownloadFailureDropsURL(t *testing.T) {
	dl := &fakeDownloader{err: errors.New("gone")}
	p := New(Config{}, dl, nil)

	body := `{"choices":[{"message":{"images":[
		{"image_url":"https://api.z.ai/api/cache/xyz.png"}
	]}}]}`
	_, err := p.ParseResponse(context.Background(), []byte(body), 200, apiBase, imagegen.NewParseState())
	// 下载失败的过期链接被丢弃，没有别的图就是空响应
	require.Error(t, err)
	assert.Equal(t, types.ErrEmptyResponse, types.GetErrorCode(err))
}

func TestJoinOrigin(t *testing.T) {
	assert.Equal(t, "https://api.z.ai/f/a.png", joinOrigin("https://api.z.ai/api/paas/v4", "/f/a.png"))
	assert.Equal(t, "", joinOrigin("not a url", "/f/a.png"))
}

func TestIsExpiring(t *testing.T) {
	assert.True(t, isExpiring("https://x.com/api/cache/a.png"))
	assert.True(t, isExpiring("https://x.com/tmp/a.png"))
	assert.True(t, isExpiring("https://x.com/a.png?expires=123"))
	assert.False(t, isExpiring("https://x.com/stable/a.png"))
}

func TestNameAndAliases(t *testing.T) {
	p := New(Config{}, &fakeDownloader{}, nil)
	assert.Equal(t, "zai", p.Name())
	assert.Contains(t, p.Aliases(), "z_ai")
}
