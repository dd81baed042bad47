package providers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/BaSui01/imageflow/types"
)

// MapHTTPError 将 HTTP 状态码映射为带重试标记的 types.Error，
// 是各图像适配器共用的错误映射函数。
func MapHTTPError(status int, msg string, provider string) *types.Error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &types.Error{
			Code:       types.ErrConfig,
			Message:    msg,
			Hint:       types.HintFor(types.ErrConfig),
			HTTPStatus: status,
			Provider:   provider,
		}
	case http.StatusTooManyRequests:
		return &types.Error{
			Code:       types.ErrProviderQuota,
			Message:    msg,
			Hint:       types.HintFor(types.ErrProviderQuota),
			HTTPStatus: status,
			Retryable:  true,
			Provider:   provider,
		}
	case http.StatusBadRequest:
		// 400 混杂了配额与内容拦截两类失败，靠关键字区分
		msgLower := strings.ToLower(msg)
		if strings.Contains(msgLower, "quota") ||
			strings.Contains(msgLower, "credit") ||
			strings.Contains(msgLower, "balance") {
			return &types.Error{
				Code:       types.ErrProviderQuota,
				Message:    msg,
				Hint:       types.HintFor(types.ErrProviderQuota),
				HTTPStatus: status,
				Provider:   provider,
			}
		}
		if strings.Contains(msgLower, "sensitive") ||
			strings.Contains(msgLower, "safety") ||
			strings.Contains(msgLower, "policy") {
			return &types.Error{
				Code:       types.ErrSafetyFiltered,
				Message:    msg,
				Hint:       types.HintFor(types.ErrSafetyFiltered),
				HTTPStatus: status,
				Provider:   provider,
			}
		}
		return &types.Error{
			Code:       types.ErrUpstream,
			Message:    msg,
			Hint:       types.HintFor(types.ErrUpstream),
			HTTPStatus: status,
			Provider:   provider,
		}
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return &types.Error{
			Code:       types.ErrUpstream,
			Message:    msg,
			Hint:       types.HintFor(types.ErrUpstream),
			HTTPStatus: status,
			Retryable:  true,
			Provider:   provider,
		}
	default:
		return &types.Error{
			Code:       types.ErrUpstream,
			Message:    msg,
			Hint:       types.HintFor(types.ErrUpstream),
			HTTPStatus: status,
			Retryable:  status >= 500,
			Provider:   provider,
		}
	}
}

// ReadErrorMessage 从响应体中提取错误消息：优先解析通用 JSON
// 错误结构，失败则回退到截断后的原始文本。
func ReadErrorMessage(body []byte) string {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    any    `json:"code"`
		} `json:"error"`
		Message string `json:"message"`
	}

	if err := json.Unmarshal(body, &errResp); err == nil {
		if errResp.Error.Message != "" {
			if errResp.Error.Type != "" {
				return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
			}
			return errResp.Error.Message
		}
		if errResp.Message != "" {
			return errResp.Message
		}
	}

	raw := strings.TrimSpace(string(body))
	if len(raw) > 512 {
		raw = raw[:512]
	}
	return raw
}

// EnsureDataURI wraps raw base64 as a PNG data URI; already-prefixed
// values and http(s) URLs pass through untouched.
func EnsureDataURI(s string) string {
	if strings.HasPrefix(s, "data:") ||
		strings.HasPrefix(s, "http://") ||
		strings.HasPrefix(s, "https://") {
		return s
	}
	return "data:image/png;base64," + s
}

// StripDataURI returns the bare base64 payload of a data URI, or the
// input unchanged when it carries no data: prefix.
func StripDataURI(s string) string {
	if !strings.HasPrefix(s, "data:") {
		return s
	}
	if i := strings.Index(s, ","); i >= 0 {
		return s[i+1:]
	}
	return s
}

// BytesToDataURI encodes raw image bytes as a data URI, sniffing the
// mime type from the magic bytes and defaulting to PNG.
func BytesToDataURI(data []byte) string {
	return "data:" + SniffImageMime(data) + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// SniffImageMime detects jpeg/png/gif/webp from magic bytes, PNG otherwise.
func SniffImageMime(data []byte) string {
	switch {
	case len(data) >= 2 && data[0] == 0xFF && data[1] == 0xD8:
		return "image/jpeg"
	case len(data) >= 8 && string(data[:8]) == "\x89PNG\r\n\x1a\n":
		return "image/png"
	case len(data) >= 6 && (string(data[:6]) == "GIF87a" || string(data[:6]) == "GIF89a"):
		return "image/gif"
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return "image/webp"
	default:
		return "image/png"
	}
}

// JoinEndpoint glues an API base and a path without duplicating the path
// when the base already ends with it.
func JoinEndpoint(base, path string) string {
	base = strings.TrimRight(base, "/")
	if strings.HasSuffix(base, path) {
		return base
	}
	return base + path
}
