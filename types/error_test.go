package types

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorBuilders(t *testing.T) {
	cause := errors.New("connection reset")
	e := NewError(ErrNetwork, "request failed").
		WithCause(cause).
		WithHTTPStatus(502).
		WithRetryable(true).
		WithProvider("doubao").
		WithRetryAfter(30 * time.Second)

	assert.Equal(t, ErrNetwork, e.Code)
	assert.Equal(t, 502, e.HTTPStatus)
	assert.True(t, e.Retryable)
	assert.Equal(t, "doubao", e.Provider)
	assert.Equal(t, 30*time.Second, e.RetryAfter)
	assert.Equal(t, cause, errors.Unwrap(e))
	assert.Contains(t, e.Error(), "request failed")
}

func TestGetErrorCode(t *testing.T) {
	e := NewError(ErrSafetyFiltered, "blocked")
	wrapped := fmt.Errorf("outer: %w", e)

	assert.Equal(t, ErrSafetyFiltered, GetErrorCode(wrapped))
	assert.Equal(t, ErrInternal, GetErrorCode(errors.New("plain")))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewError(ErrNetwork, "x").WithRetryable(true)))
	assert.False(t, IsRetryable(NewError(ErrConfig, "x")))
	assert.False(t, IsRetryable(nil))
}

func TestClassifyPassThrough(t *testing.T) {
	orig := NewError(ErrTextOnly, "model replied with text only")
	got := Classify(fmt.Errorf("wrap: %w", orig))

	require.NotNil(t, got)
	assert.Equal(t, ErrTextOnly, got.Code)
	assert.NotEmpty(t, got.Hint, "classification should fill in a default hint")
}

func TestClassifyPlainError(t *testing.T) {
	got := Classify(errors.New("boom"))

	require.NotNil(t, got)
	assert.Equal(t, ErrInternal, got.Code)
	assert.Equal(t, "boom", got.Message)
}

func TestClassifyNil(t *testing.T) {
	assert.Nil(t, Classify(nil))
	assert.Equal(t, "", UserMessage(nil))
}

func TestUserMessageHidesCause(t *testing.T) {
	e := NewError(ErrUpstream, "internal state dump: token=secret").
		WithCause(errors.New("token=secret"))

	msg := UserMessage(e)
	assert.NotContains(t, msg, "secret")
	assert.Contains(t, msg, "稍后重试")
}

func TestUserMessageRateLimited(t *testing.T) {
	e := NewError(ErrRateLimited, "limit hit").WithRetryAfter(45 * time.Second)
	msg := UserMessage(e)
	assert.Contains(t, msg, "45")
}

// 空响应与纯文本响应是两个不同的分类，绝不混用。
func TestEmptyVsTextOnlyDistinct(t *testing.T) {
	empty := Classify(NewError(ErrEmptyResponse, "no candidates"))
	textOnly := Classify(NewError(ErrTextOnly, "text but no image"))

	assert.NotEqual(t, empty.Code, textOnly.Code)
	assert.NotEqual(t, empty.Hint, textOnly.Hint)
}
