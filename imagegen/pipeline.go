package imagegen

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/imagegen/ratelimit"
	"github.com/BaSui01/imageflow/imagegen/retry"
	"github.com/BaSui01/imageflow/imagegen/storage"
	"github.com/BaSui01/imageflow/internal/metrics"
	"github.com/BaSui01/imageflow/internal/pool"
	"github.com/BaSui01/imageflow/types"
)

// Destination identifies where a background result should be delivered —
// a chat/session handle the host understands. The pipeline never
// inspects it.
type Destination any

// Payload is what gets delivered back to the host: either generated
// images plus optional text, or a user-facing failure message.
type Payload struct {
	RequestID  string
	Text       string
	ImagePaths []string
	ImageURLs  []string
	// Failed marks error deliveries; Text then carries the classified
	// user message, never raw diagnostics.
	Failed bool
}

// Delivery is the host-provided port for returning background results.
// Implementations are best-effort; the pipeline logs but does not retry
// delivery failures.
type Delivery interface {
	Deliver(ctx context.Context, dest Destination, payload Payload) error
}

// Ack acknowledges an admitted request before generation starts.
type Ack struct {
	RequestID  string
	Provider   string
	AcceptedAt time.Time
	// Remaining is the scope's leftover allowance in the current window,
	// -1 when limiting is disabled.
	Remaining int
}

// attemptBuilder is implemented by adapters that support representation
// downgrade: attempt > 0 switches url delivery to inline b64_json.
type attemptBuilder interface {
	BuildRequestAttempt(ctx context.Context, req *GenerationRequest, attempt int) (*ProviderRequest, error)
}

// Pipeline 是生图编排器：准入检查、立即回执、后台生成、结果物化、
// 一次且仅一次投递。提交方拿到回执后即可返回，后续结果通过
// Delivery 端口异步送达。
type Pipeline struct {
	registry  *Registry
	executor  *Executor
	limiter   *ratelimit.Limiter
	store     *storage.Store
	pool      *pool.WorkerPool
	delivery  Delivery
	collector *metrics.Collector
	retryer   *retry.Retryer
	downgrade *retry.DowngradePolicy
	logger    *zap.Logger

	mu       sync.RWMutex
	keyRings map[string]*KeyRing
}

// PipelineConfig wires a Pipeline's collaborators. Registry, Executor,
// Store, Pool, and Delivery are required; the rest default sensibly.
type PipelineConfig struct {
	Registry  *Registry
	Executor  *Executor
	Limiter   *ratelimit.Limiter
	Store     *storage.Store
	Pool      *pool.WorkerPool
	Delivery  Delivery
	Collector *metrics.Collector
	Retryer   *retry.Retryer
	Downgrade *retry.DowngradePolicy
	Logger    *zap.Logger
}

// NewPipeline creates the orchestrator.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	retryer := cfg.Retryer
	if retryer == nil {
		retryer = retry.New(nil, logger)
	}
	downgrade := cfg.Downgrade
	if downgrade == nil {
		downgrade = retry.DefaultDowngradePolicy()
	}
	return &Pipeline{
		registry:  cfg.Registry,
		executor:  cfg.Executor,
		limiter:   cfg.Limiter,
		store:     cfg.Store,
		pool:      cfg.Pool,
		delivery:  cfg.Delivery,
		collector: cfg.Collector,
		retryer:   retryer,
		downgrade: downgrade,
		logger:    logger.With(zap.String("component", "pipeline")),
		keyRings:  make(map[string]*KeyRing),
	}
}

// SetKeyRing installs multi-key rotation for one provider identifier.
// Requests without an explicit APIKey draw from the ring.
func (p *Pipeline) SetKeyRing(providerID string, ring *KeyRing) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keyRings[Normalize(providerID)] = ring
}

func (p *Pipeline) keyRing(providerID string) *KeyRing {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.keyRings[Normalize(providerID)]
}

// Submit admits one generation request. On admission it returns an Ack
// immediately and schedules the generation unit; the result arrives
// later through the Delivery port, exactly once per ack. A rate-limit
// denial returns ErrRateLimited without touching the provider or pool.
func (p *Pipeline) Submit(ctx context.Context, scope string, req *GenerationRequest, dest Destination) (*Ack, error) {
	if p.limiter != nil {
		decision := p.limiter.Check(ctx, scope)
		if !decision.Allowed {
			if p.collector != nil {
				p.collector.RecordLimiterRejection(scope)
			}
			return nil, types.NewError(types.ErrRateLimited, "generation quota exhausted for scope "+scope).
				WithRetryAfter(decision.RetryAfter)
		}
	}

	provider := p.registry.Resolve(req.Provider)
	if provider == nil {
		return nil, types.NewError(types.ErrConfig, "no provider registered for "+req.Provider)
	}

	// 从密钥环补齐密钥；请求显式带 key 时不轮换。
	// 请求可能用别名提交，先按适配器规范名找环，原始标识兜底。
	reqCopy := *req
	var ring *KeyRing
	if strings.TrimSpace(reqCopy.APIKey) == "" {
		if ring = p.keyRing(provider.Name()); ring == nil {
			ring = p.keyRing(req.Provider)
		}
		if ring != nil {
			key, err := ring.Next()
			if err != nil {
				return nil, err
			}
			reqCopy.APIKey = key
		}
	}

	ack := &Ack{
		RequestID:  uuid.NewString(),
		Provider:   provider.Name(),
		AcceptedAt: time.Now(),
		Remaining:  -1,
	}
	if p.limiter != nil {
		ack.Remaining = p.limiter.Peek(ctx, scope).Remaining
	}

	// 后台单元使用分离的 context：一旦受理，提交方取消不再中断生成
	unit := func(bg context.Context) {
		p.run(bg, provider, &reqCopy, ring, dest, ack)
	}
	if err := p.pool.Submit(unit); err != nil {
		p.logger.Warn("pool submission failed", zap.Error(err))
		return nil, types.NewError(types.ErrInternal, "generation queue is full").
			WithCause(err).WithRetryable(true)
	}

	p.logger.Info("generation accepted",
		zap.String("request_id", ack.RequestID),
		zap.String("provider", ack.Provider),
		zap.String("scope", scope))
	return ack, nil
}

// run executes one generation unit end to end and delivers exactly once.
func (p *Pipeline) run(ctx context.Context, provider Provider, req *GenerationRequest, ring *KeyRing, dest Destination, ack *Ack) {
	start := time.Now()
	log := p.logger.With(
		zap.String("request_id", ack.RequestID),
		zap.String("provider", provider.Name()))

	result, err := p.generate(ctx, provider, req, log)
	if err != nil {
		classified := types.Classify(err)
		log.Warn("generation failed",
			zap.String("code", string(classified.Code)),
			zap.Error(classified))
		if ring != nil && classified.Code == types.ErrProviderQuota {
			ring.MarkExhausted(req.APIKey)
		}
		if p.collector != nil {
			p.collector.RecordGeneration(provider.Name(), "error", time.Since(start), 0)
			p.collector.RecordFailure(provider.Name(), string(classified.Code))
		}
		p.deliver(ctx, dest, Payload{
			RequestID: ack.RequestID,
			Text:      types.UserMessage(classified),
			Failed:    true,
		})
		return
	}

	payload := p.materialize(ctx, result, ack.RequestID, log)
	images := len(payload.ImagePaths) + len(payload.ImageURLs)
	log.Info("generation completed",
		zap.Int("images", images),
		zap.Duration("elapsed", time.Since(start)))
	if p.collector != nil {
		p.collector.RecordGeneration(provider.Name(), "success", time.Since(start), images)
	}
	p.deliver(ctx, dest, payload)
}

// generate drives build → send → parse under the retry policy,
// threading the attempt index into downgrade-capable adapters.
func (p *Pipeline) generate(ctx context.Context, provider Provider, req *GenerationRequest, log *zap.Logger) (*GenerationResult, error) {
	builder, canDowngrade := provider.(attemptBuilder)

	var result *GenerationResult
	var lastErr error
	err := p.retryer.Do(ctx, func(attempt int) error {
		buildAttempt := 0
		if attempt > 0 && canDowngrade && p.downgrade.ShouldDowngrade(lastErr) {
			buildAttempt = attempt
		}

		var preq *ProviderRequest
		var err error
		if canDowngrade {
			preq, err = builder.BuildRequestAttempt(ctx, req, buildAttempt)
		} else {
			preq, err = provider.BuildRequest(ctx, req)
		}
		if err != nil {
			lastErr = err
			return err
		}

		body, status, err := p.executor.Send(ctx, preq)
		if err != nil {
			lastErr = err
			return err
		}

		st := NewParseState()
		result, err = provider.ParseResponse(ctx, body, status, req.APIBase, st)
		if err != nil {
			lastErr = err
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// materialize turns the parsed result into deliverable local files.
// Data URIs are decoded; remote URLs are downloaded best-effort and kept
// as URLs when the download fails.
func (p *Pipeline) materialize(ctx context.Context, result *GenerationResult, requestID string, log *zap.Logger) Payload {
	payload := Payload{
		RequestID:  requestID,
		Text:       result.Text,
		ImagePaths: append([]string(nil), result.ImagePaths...),
	}
	if p.store == nil {
		payload.ImageURLs = append(payload.ImageURLs, result.ImageURLs...)
		return payload
	}

	for _, url := range result.ImageURLs {
		path, err := p.store.Materialize(ctx, url)
		if err != nil {
			log.Warn("image materialization failed",
				zap.String("url", truncateURL(url)), zap.Error(err))
			if !strings.HasPrefix(url, "data:") {
				payload.ImageURLs = append(payload.ImageURLs, url)
			}
			continue
		}
		payload.ImagePaths = append(payload.ImagePaths, path)
	}
	return payload
}

// deliver pushes the payload through the host port. One call per ack.
func (p *Pipeline) deliver(ctx context.Context, dest Destination, payload Payload) {
	status := "success"
	if err := p.delivery.Deliver(ctx, dest, payload); err != nil {
		status = "error"
		p.logger.Warn("delivery failed",
			zap.String("request_id", payload.RequestID), zap.Error(err))
	}
	if p.collector != nil {
		p.collector.RecordDelivery(status)
	}
}

// Close drains the pool; pending units finish and deliver.
func (p *Pipeline) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func truncateURL(url string) string {
	if len(url) <= 80 {
		return url
	}
	return url[:80] + "..."
}
