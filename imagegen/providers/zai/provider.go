// Package zai 基于 openaicompat 基座实现智谱 Z.ai 网关适配器。
// 该网关的两个怪癖都通过钩子解决：返回的图像链接可能是相对路径
// （需按 API base 的 origin 拼接），也可能是很快过期的临时缓存
// 链接（需在解析阶段立即下载）。
package zai

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/BaSui01/imageflow/imagegen"
	"github.com/BaSui01/imageflow/imagegen/providers/openaicompat"
	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://api.z.ai/api/paas/v4"
	defaultModel   = "glm-4v-image"
)

// 过期极快的临时链接特征，命中即在解析阶段下载
var expiringPatterns = []string{"/api/cache/", "/tmp/"}

var markdownImagePattern = regexp.MustCompile(`!\[[^\]]*\]\(([^)\s]+)\)`)

// Downloader fetches raw bytes from a URL. *imagegen.Executor satisfies it.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// Config holds the Z.ai adapter configuration.
type Config struct {
	DefaultModel string
}

// New creates the Z.ai adapter as an openaicompat base with the
// URL-joining and eager-download hooks installed.
func New(cfg Config, dl Downloader, logger *zap.Logger) *openaicompat.Provider {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.With(zap.String("provider", "zai"))

	return openaicompat.New(openaicompat.Config{
		ProviderName:    "zai",
		ProviderAliases: []string{"z_ai", "zhipu_ai"},
		BaseURL:         defaultBaseURL,
		DefaultModel:    cfg.DefaultModel,
		URLHook: func(ctx context.Context, rawURL, apiBase string, st *imagegen.ParseState) (bool, *openaicompat.ResolvedImage, error) {
			resolved := rawURL
			if strings.HasPrefix(rawURL, "/") {
				resolved = joinOrigin(apiBase, rawURL)
				if resolved == "" {
					return false, nil, nil
				}
				log.Debug("joined relative image url",
					zap.String("raw", rawURL), zap.String("resolved", resolved))
			}
			if isExpiring(resolved) {
				data, err := dl.Download(ctx, resolved)
				if err != nil {
					return false, nil, err
				}
				st.MarkHandled(resolved)
				log.Debug("eagerly downloaded expiring link",
					zap.String("url", resolved), zap.Int("bytes", len(data)))
				return true, &openaicompat.ResolvedImage{Data: data}, nil
			}
			if resolved != rawURL {
				return true, &openaicompat.ResolvedImage{URL: resolved}, nil
			}
			return false, nil, nil
		},
		TextLinks: func(text string) []string {
			var links []string
			for _, m := range markdownImagePattern.FindAllStringSubmatch(text, -1) {
				links = append(links, m[1])
			}
			return links
		},
	}, logger)
}

// joinOrigin resolves a path-only URL against the scheme://host of the
// API base, dropping the base's own path.
func joinOrigin(apiBase, path string) string {
	u, err := url.Parse(apiBase)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host + path
}

// isExpiring reports whether a URL matches the temporary-cache patterns.
func isExpiring(rawURL string) bool {
	for _, pat := range expiringPatterns {
		if strings.Contains(rawURL, pat) {
			return true
		}
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.Query().Has("expires")
}
