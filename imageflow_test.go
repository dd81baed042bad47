package imageflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/imageflow/config"
	"github.com/BaSui01/imageflow/imagegen"
)

type noopDelivery struct{}

func (noopDelivery) Deliver(context.Context, imagegen.Destination, imagegen.Payload) error {
	return nil
}

func TestMinProviderQPS(t *testing.T) {
	assert.Zero(t, minProviderQPS(nil))
	assert.Zero(t, minProviderQPS(map[string]config.ProviderConfig{
		"a": {}, "b": {QPS: -1},
	}))
	// 共享执行器取最小的正值
	assert.Equal(t, 2.5, minProviderQPS(map[string]config.ProviderConfig{
		"a": {QPS: 10}, "b": {QPS: 2.5}, "c": {},
	}))
}

func TestNewWiresProviderQPS(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.Dir = t.TempDir()
	cfg.Metrics.Enabled = false
	cfg.Providers = map[string]config.ProviderConfig{
		"google": {QPS: 5},
		"doubao": {QPS: 2},
	}

	engine, err := New(cfg, noopDelivery{})
	require.NoError(t, err)
	require.NotNil(t, engine)
	t.Cleanup(func() { engine.Close(context.Background()) })
}
