// Package imageflow provides a top-level convenience entry point that
// wires configuration into a ready-to-use image generation engine.
//
// Usage:
//
//	import "github.com/BaSui01/imageflow"
//
//	engine, err := imageflow.New(cfg, myDelivery)
//	ack, err := engine.Generate(ctx, "user:42", &imagegen.GenerationRequest{
//	    Provider: "doubao",
//	    Prompt:   "a red panda reading a newspaper",
//	}, dest)
//
// The engine acknowledges admitted requests immediately; results arrive
// through the Delivery port once background generation finishes.
package imageflow

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/config"
	"github.com/BaSui01/imageflow/imagegen"
	"github.com/BaSui01/imageflow/imagegen/dedup"
	"github.com/BaSui01/imageflow/imagegen/providers/doubao"
	"github.com/BaSui01/imageflow/imagegen/providers/glm"
	"github.com/BaSui01/imageflow/imagegen/providers/google"
	"github.com/BaSui01/imageflow/imagegen/providers/openaicompat"
	"github.com/BaSui01/imageflow/imagegen/providers/whatai"
	"github.com/BaSui01/imageflow/imagegen/providers/zai"
	"github.com/BaSui01/imageflow/imagegen/ratelimit"
	"github.com/BaSui01/imageflow/imagegen/retry"
	"github.com/BaSui01/imageflow/imagegen/storage"
	"github.com/BaSui01/imageflow/internal/metrics"
	"github.com/BaSui01/imageflow/internal/pool"
)

// Engine is the assembled image generation stack.
type Engine struct {
	cfg      *config.Config
	registry *imagegen.Registry
	pipeline *imagegen.Pipeline
	limiter  *ratelimit.Limiter
	logger   *zap.Logger
	redis    *redis.Client
}

// Option customizes engine construction.
type Option func(*options)

type options struct {
	logger     *zap.Logger
	httpClient *http.Client
	registerer prometheus.Registerer
}

// WithLogger sets a custom zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithHTTPClient replaces the outbound HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithRegisterer sets the prometheus registerer for metrics.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) { o.registerer = r }
}

// New assembles an Engine from config: adapters registered with their
// aliases, redis-backed rate limiting when configured, dedup cache,
// storage, worker pool, and the orchestrator pipeline.
func New(cfg *config.Config, delivery imagegen.Delivery, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if delivery == nil {
		return nil, fmt.Errorf("delivery port is required")
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	execOpts := []imagegen.ExecutorOption{imagegen.WithLogger(logger)}
	if o.httpClient != nil {
		execOpts = append(execOpts, imagegen.WithHTTPClient(o.httpClient))
	}
	// 执行器为所有适配器共享，出站平滑取各服务商配置中最小的正 QPS
	if qps := minProviderQPS(cfg.Providers); qps > 0 {
		execOpts = append(execOpts, imagegen.WithQPS(qps))
	}
	executor := imagegen.NewExecutor(execOpts...)

	registry := imagegen.NewRegistry()
	registry.Register(openaicompat.New(openaicompat.Config{
		ProviderName:    "openai",
		ProviderAliases: []string{"openai_compatible", "openrouter"},
	}, logger))
	registry.Register(google.New(google.Config{}, logger))
	registry.Register(glm.New(glm.Config{}, logger))
	registry.Register(zai.New(zai.Config{}, executor, logger))
	registry.Register(whatai.New(whatai.Config{}, logger))
	registry.SetDefault(cfg.DefaultProvider)

	// Per-provider config produces dedicated adapter instances where the
	// adapter has provider-level knobs.
	var doubaoCfg doubao.Config
	if pc, ok := cfg.Providers["doubao"]; ok {
		doubaoCfg = doubao.Config{
			DefaultModel:        pc.Model,
			Watermark:           pc.Watermark,
			OptimizePromptMode:  pc.OptimizePromptMode,
			SequentialMode:      pc.SequentialMode,
			SequentialMaxImages: pc.SequentialMaxImages,
		}
	}
	registry.Register(doubao.New(doubaoCfg, logger))

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		var store ratelimit.Store
		if cfg.RateLimit.Persist && redisClient != nil {
			store = ratelimit.NewRedisStore(redisClient, cfg.Redis.KeyPrefix+"ratelimit:", 2*cfg.RateLimit.Window)
		}
		limiter = ratelimit.NewLimiter(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window, store, logger)
	}

	cache := dedup.NewCache(cfg.Cache.Capacity, logger)
	store, err := storage.NewStore(cfg.Storage.Dir, cfg.Storage.MaxAge, cache, executor, logger)
	if err != nil {
		return nil, err
	}

	workerPool := pool.New(pool.Config{
		MaxWorkers:  cfg.Pool.MaxWorkers,
		QueueSize:   cfg.Pool.QueueSize,
		IdleTimeout: cfg.Pool.IdleTimeout,
		OnPanic: func(r any) {
			logger.Error("generation unit panicked", zap.Any("panic", r))
		},
	})

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace, o.registerer, logger)
		store.SetCollector(collector)
	}

	retryer := retry.New(&retry.Policy{
		MaxRetries:   cfg.Retry.MaxRetries,
		InitialDelay: cfg.Retry.InitialDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
		Multiplier:   2.0,
		Jitter:       true,
	}, logger)

	pipeline := imagegen.NewPipeline(imagegen.PipelineConfig{
		Registry:  registry,
		Executor:  executor,
		Limiter:   limiter,
		Store:     store,
		Pool:      workerPool,
		Delivery:  delivery,
		Collector: collector,
		Retryer:   retryer,
		Logger:    logger,
	})

	// 多密钥轮换：配置了 api_keys 的服务商装上密钥环
	for id, pc := range cfg.Providers {
		keys := pc.APIKeys
		if len(keys) == 0 && pc.APIKey != "" {
			keys = []string{pc.APIKey}
		}
		if len(keys) > 0 {
			pipeline.SetKeyRing(id, imagegen.NewKeyRing(keys, pc.KeyCooldown))
		}
	}

	return &Engine{
		cfg:      cfg,
		registry: registry,
		pipeline: pipeline,
		limiter:  limiter,
		logger:   logger,
		redis:    redisClient,
	}, nil
}

// Generate submits one generation request for the given scope. Empty
// request fields fall back to the provider's configured defaults.
func (e *Engine) Generate(ctx context.Context, scope string, req *imagegen.GenerationRequest, dest imagegen.Destination) (*imagegen.Ack, error) {
	e.applyDefaults(req)
	return e.pipeline.Submit(ctx, scope, req, dest)
}

// applyDefaults fills request gaps from the provider's config section.
func (e *Engine) applyDefaults(req *imagegen.GenerationRequest) {
	if req.Provider == "" {
		req.Provider = e.cfg.DefaultProvider
	}
	pc, ok := e.cfg.Providers[imagegen.Normalize(req.Provider)]
	if !ok {
		return
	}
	if req.APIBase == "" {
		req.APIBase = pc.APIBase
	}
	if req.Model == "" {
		req.Model = pc.Model
	}
	if req.Resolution == "" {
		req.Resolution = pc.Resolution
	}
	if req.AspectRatio == "" {
		req.AspectRatio = pc.AspectRatio
	}
}

// ResetLimit clears the rate-limit window for one scope.
func (e *Engine) ResetLimit(ctx context.Context, scope string) {
	if e.limiter != nil {
		e.limiter.Reset(ctx, scope)
	}
}

// Providers lists the registered adapter names.
func (e *Engine) Providers() []string {
	return e.registry.List()
}

// Close drains in-flight generations and releases resources.
func (e *Engine) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.pipeline.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Minute):
	}
	if e.redis != nil {
		return e.redis.Close()
	}
	return nil
}

// minProviderQPS 返回配置里最小的正 QPS，没有配置时返回 0。
func minProviderQPS(providers map[string]config.ProviderConfig) float64 {
	min := 0.0
	for _, pc := range providers {
		if pc.QPS > 0 && (min == 0 || pc.QPS < min) {
			min = pc.QPS
		}
	}
	return min
}
