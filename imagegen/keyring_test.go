package imagegen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/imageflow/types"
)

func TestKeyRingRoundRobin(t *testing.T) {
	ring := NewKeyRing([]string{"k1", "k2", "k3"}, time.Hour)

	var got []string
	for i := 0; i < 6; i++ {
		key, err := ring.Next()
		require.NoError(t, err)
		got = append(got, key)
	}
	assert.Equal(t, []string{"k1", "k2", "k3", "k1", "k2", "k3"}, got)
}

func TestKeyRingSkipsExhausted(t *testing.T) {
	ring := NewKeyRing([]string{"k1", "k2"}, time.Hour)
	ring.MarkExhausted("k1")

	for i := 0; i < 3; i++ {
		key, err := ring.Next()
		require.NoError(t, err)
		assert.Equal(t, "k2", key)
	}
}

func TestKeyRingAllExhausted(t *testing.T) {
	ring := NewKeyRing([]string{"k1", "k2"}, time.Hour)
	ring.MarkExhausted("k1")
	ring.MarkExhausted("k2")

	_, err := ring.Next()
	require.Error(t, err)
	assert.Equal(t, types.ErrProviderQuota, types.GetErrorCode(err))
}

func TestKeyRingCooldownRecovery(t *testing.T) {
	ring := NewKeyRing([]string{"k1"}, time.Hour)
	now := time.Now()
	ring.now = func() time.Time { return now }
	ring.MarkExhausted("k1")

	_, err := ring.Next()
	require.Error(t, err)

	// 冷却期过后密钥归队
	now = now.Add(2 * time.Hour)
	key, err := ring.Next()
	require.NoError(t, err)
	assert.Equal(t, "k1", key)
}

func TestKeyRingEmpty(t *testing.T) {
	ring := NewKeyRing(nil, 0)
	_, err := ring.Next()
	require.Error(t, err)
	assert.Equal(t, types.ErrConfig, types.GetErrorCode(err))
}
