package types

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// 各错误码的默认修复提示。分类结果只把这些提示透出给最终用户，
// 原始异常细节保留给运维日志。
var defaultHints = map[ErrorCode]string{
	ErrConfig:         "请检查插件配置（API 密钥与模型名称）。",
	ErrParse:          "服务商返回了无法识别的响应格式，请稍后重试。",
	ErrEmptyResponse:  "服务商没有返回任何内容，请重试或换一种描述。",
	ErrTextOnly:       "模型只返回了文字，没有生成图像，请调整提示词后重试。",
	ErrSafetyFiltered: "内容被安全策略拦截，请修改提示词后重试。",
	ErrProviderQuota:  "服务商配额或频率受限，请稍后重试。",
	ErrNetwork:        "网络连接失败，请检查网络或代理设置。",
	ErrRateLimited:    "请求过于频繁，请稍后再试。",
	ErrUpstream:       "服务商暂时不可用，请稍后重试。",
	ErrInternal:       "内部错误，请联系管理员。",
}

// HintFor returns the default remediation hint for a code.
func HintFor(code ErrorCode) string {
	return defaultHints[code]
}

// Classify 将任意错误规整到固定的错误分类上。
// 已经是 *Error 的错误原样通过（缺失的 hint 补默认值），
// 网络/超时类错误归入 ErrNetwork，其余归入 ErrInternal。
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		if e.Hint == "" {
			e.Hint = HintFor(e.Code)
		}
		return e
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{
			Code:      ErrNetwork,
			Message:   err.Error(),
			Hint:      HintFor(ErrNetwork),
			Retryable: true,
			Cause:     err,
		}
	}

	return &Error{
		Code:    ErrInternal,
		Message: err.Error(),
		Hint:    HintFor(ErrInternal),
		Cause:   err,
	}
}

// UserMessage 渲染面向用户的错误消息：只包含分类后的描述与提示，
// 绝不携带底层异常细节。
func UserMessage(err error) string {
	e := Classify(err)
	if e == nil {
		return ""
	}

	switch e.Code {
	case ErrRateLimited:
		if e.RetryAfter > 0 {
			return fmt.Sprintf("⏱️ 生图请求已达上限，请约 %d 秒后再试。", int(e.RetryAfter/time.Second))
		}
		return "⏱️ " + e.Hint
	case ErrSafetyFiltered:
		return "🚫 " + e.Hint
	default:
		return "❌ 图像生成失败：" + e.Hint
	}
}
