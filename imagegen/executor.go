package imagegen

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/imageflow/types"
)

// Executor sends provider requests and downloads image bytes.
// It owns the HTTP client and optional outbound QPS smoothing; adapters
// stay pure (build payload / parse body) and never touch the network.
type Executor struct {
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) ExecutorOption {
	return func(e *Executor) { e.client = c }
}

// WithQPS throttles outbound requests to the given rate with burst 1.
// Zero or negative disables throttling.
func WithQPS(qps float64) ExecutorOption {
	return func(e *Executor) {
		if qps > 0 {
			e.limiter = rate.NewLimiter(rate.Limit(qps), 1)
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// NewExecutor creates an Executor with a 120s default timeout; image
// generation calls routinely run over a minute.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		client: &http.Client{Timeout: 120 * time.Second},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "executor"))
	return e
}

// Send posts a provider request and returns the raw body and status.
// Transport failures come back as types.ErrNetwork; HTTP error statuses
// are NOT an error here — the adapter's ParseResponse owns their meaning.
func (e *Executor) Send(ctx context.Context, preq *ProviderRequest) ([]byte, int, error) {
	if err := e.wait(ctx); err != nil {
		return nil, 0, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, preq.URL, bytes.NewReader(preq.Body))
	if err != nil {
		return nil, 0, types.NewError(types.ErrInternal, "build http request failed").WithCause(err)
	}
	contentType := preq.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	httpReq.Header.Set("Content-Type", contentType)
	for k, v := range preq.Headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := e.client.Do(httpReq)
	if err != nil {
		e.logger.Warn("provider request failed",
			zap.String("url", preq.URL), zap.Error(err))
		return nil, 0, types.NewError(types.ErrNetwork, "provider request failed").
			WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, types.NewError(types.ErrNetwork, "read provider response failed").
			WithCause(err).WithRetryable(true)
	}

	e.logger.Debug("provider request done",
		zap.String("url", preq.URL),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))
	return body, resp.StatusCode, nil
}

// Download fetches raw bytes from a URL, typically a generated image link.
func (e *Executor) Download(ctx context.Context, url string) ([]byte, error) {
	if err := e.wait(ctx); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "build download request failed").WithCause(err)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrNetwork, "image download failed").
			WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, types.NewError(types.ErrUpstream, "image download failed").
			WithHTTPStatus(resp.StatusCode).
			WithRetryable(resp.StatusCode >= 500)
	}
	return io.ReadAll(resp.Body)
}

func (e *Executor) wait(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return types.NewError(types.ErrInternal, "qps wait aborted").WithCause(err)
	}
	return nil
}
