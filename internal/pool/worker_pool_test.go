package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitRunsUnit(t *testing.T) {
	p := New(Config{MaxWorkers: 2, QueueSize: 4})
	defer p.Close()

	done := make(chan struct{})
	err := p.Submit(func(ctx context.Context) {
		close(done)
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("unit never ran")
	}
}

func TestSubmitAllUnitsComplete(t *testing.T) {
	p := New(Config{MaxWorkers: 4, QueueSize: 64})

	var ran atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		err := p.Submit(func(ctx context.Context) {
			defer wg.Done()
			ran.Add(1)
		})
		require.NoError(t, err)
	}
	wg.Wait()
	p.Close()

	assert.Equal(t, int32(20), ran.Load())
	stats := p.Stats()
	assert.Equal(t, int64(20), stats.Submitted)
	assert.Equal(t, int64(20), stats.Completed)
}

func TestSubmitFullQueue(t *testing.T) {
	p := New(Config{MaxWorkers: 1, QueueSize: 1})
	defer p.Close()

	release := make(chan struct{})
	started := make(chan struct{})

	// 占住唯一 worker
	require.NoError(t, p.Submit(func(ctx context.Context) {
		close(started)
		<-release
	}))
	<-started

	// 填满队列
	require.NoError(t, p.Submit(func(ctx context.Context) {}))

	// 队列已满，立即拒绝而不是阻塞
	err := p.Submit(func(ctx context.Context) {})
	assert.ErrorIs(t, err, ErrPoolFull)
	assert.Equal(t, int64(1), p.Stats().Rejected)

	close(release)
}

func TestSubmitAfterClose(t *testing.T) {
	p := New(Config{})
	p.Close()
	err := p.Submit(func(ctx context.Context) {})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPanicRecovered(t *testing.T) {
	var recovered atomic.Value
	p := New(Config{
		MaxWorkers: 1,
		QueueSize:  4,
		OnPanic:    func(v any) { recovered.Store(v) },
	})

	done := make(chan struct{})
	require.NoError(t, p.Submit(func(ctx context.Context) {
		panic("boom")
	}))
	// panic 之后 worker 仍然存活，后续 unit 照常执行
	require.NoError(t, p.Submit(func(ctx context.Context) {
		close(done)
	}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool died after panic")
	}
	p.Close()

	assert.Equal(t, "boom", recovered.Load())
}

func TestCloseWaitsForInflight(t *testing.T) {
	p := New(Config{MaxWorkers: 1, QueueSize: 4})

	var finished atomic.Bool
	started := make(chan struct{})
	require.NoError(t, p.Submit(func(ctx context.Context) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
	}))
	<-started

	p.Close()
	assert.True(t, finished.Load(), "Close must wait for in-flight units")
}

func TestCloseIdempotent(t *testing.T) {
	p := New(Config{})
	p.Close()
	p.Close()
}

func TestConfigDefaults(t *testing.T) {
	p := New(Config{MaxWorkers: -1, QueueSize: 0, IdleTimeout: 0})
	defer p.Close()
	assert.Equal(t, 8, p.maxWorkers)
	assert.Equal(t, 64, cap(p.queue))
	assert.Equal(t, 60*time.Second, p.idleTimeout)
}
