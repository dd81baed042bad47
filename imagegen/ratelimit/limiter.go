// Package ratelimit 实现可持久化的固定窗口限流器。
// 窗口记录按 scope 维度持久化到 Store，进程重启后首次检查时
// 惰性回载，重启不会清零计数；没有 Store 时退化为纯内存限流。
package ratelimit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Record is one scope's fixed window, the unit of persistence.
type Record struct {
	WindowStart time.Time     `json:"window_start"`
	Count       int           `json:"count"`
	Limit       int           `json:"limit"`
	Window      time.Duration `json:"window"`
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Remaining int
	// RetryAfter is how long until the window rolls; only meaningful
	// when Allowed is false.
	RetryAfter time.Duration
}

// Limiter is a persisted fixed-window rate limiter keyed by scope.
// Persistence failures never block admission: the in-memory record is
// authoritative and store errors are logged and swallowed.
type Limiter struct {
	mu      sync.Mutex
	records map[string]*Record
	loaded  map[string]bool

	store  Store
	limit  int
	window time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewLimiter creates a limiter allowing limit requests per window per
// scope. limit <= 0 disables limiting entirely. store may be nil.
func NewLimiter(limit int, window time.Duration, store Store, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		records: make(map[string]*Record),
		loaded:  make(map[string]bool),
		store:   store,
		limit:   limit,
		window:  window,
		logger:  logger.With(zap.String("component", "ratelimit")),
		now:     time.Now,
	}
}

// Check admits or rejects one request for the scope, counting it when
// admitted. The record is persisted after every mutation.
func (l *Limiter) Check(ctx context.Context, scope string) Decision {
	if l.limit <= 0 {
		return Decision{Allowed: true, Remaining: -1}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rec := l.record(ctx, scope)
	now := l.now()

	// 窗口到期即滚动，墙钟时间
	if !now.Before(rec.WindowStart.Add(rec.Window)) {
		rec.WindowStart = now
		rec.Count = 0
	}

	if rec.Count >= rec.Limit {
		retryAfter := rec.WindowStart.Add(rec.Window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return Decision{Allowed: false, Remaining: 0, RetryAfter: retryAfter}
	}

	rec.Count++
	l.persist(ctx, scope, rec)
	return Decision{Allowed: true, Remaining: rec.Limit - rec.Count}
}

// Peek reports the current state without consuming an allowance.
func (l *Limiter) Peek(ctx context.Context, scope string) Decision {
	if l.limit <= 0 {
		return Decision{Allowed: true, Remaining: -1}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rec := l.record(ctx, scope)
	now := l.now()
	if !now.Before(rec.WindowStart.Add(rec.Window)) {
		return Decision{Allowed: true, Remaining: rec.Limit}
	}
	remaining := rec.Limit - rec.Count
	if remaining <= 0 {
		return Decision{Allowed: false, Remaining: 0, RetryAfter: rec.WindowStart.Add(rec.Window).Sub(now)}
	}
	return Decision{Allowed: true, Remaining: remaining}
}

// Reset clears the scope's window in memory and in the store.
// Concurrent resets are safe; last writer wins.
func (l *Limiter) Reset(ctx context.Context, scope string) {
	l.mu.Lock()
	delete(l.records, scope)
	l.loaded[scope] = true // no point reloading what we just cleared
	l.mu.Unlock()

	if l.store == nil {
		return
	}
	if err := l.store.Delete(ctx, scope); err != nil {
		l.logger.Warn("reset persistence failed",
			zap.String("scope", scope), zap.Error(err))
	}
}

// record returns the scope's window, lazily reloading it from the store
// on first touch after startup. Caller holds l.mu.
func (l *Limiter) record(ctx context.Context, scope string) *Record {
	if rec, ok := l.records[scope]; ok {
		return rec
	}

	rec := &Record{WindowStart: l.now(), Limit: l.limit, Window: l.window}
	if l.store != nil && !l.loaded[scope] {
		if data, err := l.store.Get(ctx, scope); err != nil {
			l.logger.Warn("record reload failed",
				zap.String("scope", scope), zap.Error(err))
		} else if data != nil {
			var saved Record
			if err := json.Unmarshal(data, &saved); err != nil {
				l.logger.Warn("record decode failed",
					zap.String("scope", scope), zap.Error(err))
			} else {
				rec.WindowStart = saved.WindowStart
				rec.Count = saved.Count
			}
		}
	}
	l.loaded[scope] = true
	l.records[scope] = rec
	return rec
}

// persist writes the record through to the store. Errors are swallowed:
// losing persistence degrades restart behavior, not admission.
func (l *Limiter) persist(ctx context.Context, scope string, rec *Record) {
	if l.store == nil {
		return
	}
	data, err := json.Marshal(rec)
	if err != nil {
		l.logger.Warn("record encode failed", zap.String("scope", scope), zap.Error(err))
		return
	}
	if err := l.store.Set(ctx, scope, data); err != nil {
		l.logger.Warn("record persistence failed",
			zap.String("scope", scope), zap.Error(err))
	}
}
