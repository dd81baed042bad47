package imagegen

import (
	"sync"
	"time"

	"github.com/BaSui01/imageflow/types"
)

// KeyRing 管理同一服务商的多个 API 密钥：轮询选取，配额耗尽的
// 密钥被临时摘除，冷却期过后自动归队。所有方法并发安全。
type KeyRing struct {
	mu        sync.Mutex
	keys      []string
	next      int
	exhausted map[string]time.Time
	cooldown  time.Duration
	now       func() time.Time
}

// NewKeyRing creates a ring over the given keys. cooldown is how long an
// exhausted key stays out of rotation; zero means 24h.
func NewKeyRing(keys []string, cooldown time.Duration) *KeyRing {
	if cooldown <= 0 {
		cooldown = 24 * time.Hour
	}
	return &KeyRing{
		keys:      append([]string(nil), keys...),
		exhausted: make(map[string]time.Time),
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Next returns the next usable key in round-robin order.
// All keys exhausted → ErrProviderQuota with the earliest recovery time.
func (k *KeyRing) Next() (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if len(k.keys) == 0 {
		return "", types.NewError(types.ErrConfig, "no api keys configured")
	}

	now := k.now()
	var soonest time.Time
	for i := 0; i < len(k.keys); i++ {
		key := k.keys[k.next]
		k.next = (k.next + 1) % len(k.keys)

		until, bad := k.exhausted[key]
		if !bad {
			return key, nil
		}
		if now.After(until) {
			delete(k.exhausted, key)
			return key, nil
		}
		if soonest.IsZero() || until.Before(soonest) {
			soonest = until
		}
	}

	e := types.NewError(types.ErrProviderQuota, "all api keys exhausted").WithRetryable(true)
	if !soonest.IsZero() {
		e = e.WithRetryAfter(soonest.Sub(now))
	}
	return "", e
}

// MarkExhausted takes a key out of rotation for the cooldown period.
// Called when a provider reports a quota or billing failure for it.
func (k *KeyRing) MarkExhausted(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.exhausted[key] = k.now().Add(k.cooldown)
}

// Len returns the number of keys in the ring, exhausted ones included.
func (k *KeyRing) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.keys)
}
