package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T) *RedisAdapter {
	t.Helper()

	mr := miniredis.RunT(t)
	adapter, err := NewRedisAdapter("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { adapter.Close() })

	return adapter
}

func TestRedisAdapter_GetSet(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()

	err := adapter.Set(ctx, "shipment:OM123456789", []byte(`{"currentStatus":"In Transit"}`), 10*time.Second)
	assert.NoError(t, err)

	val, err := adapter.Get(ctx, "shipment:OM123456789")
	assert.NoError(t, err)
	assert.Equal(t, []byte(`{"currentStatus":"In Transit"}`), val)
}

func TestRedisAdapter_GetMiss(t *testing.T) {
	adapter := newTestAdapter(t)

	_, err := adapter.Get(context.Background(), "shipment:OM000000000")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisAdapter_Delete(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, adapter.Set(ctx, "shipment:OM123456789", []byte("value"), 0))
	assert.NoError(t, adapter.Delete(ctx, "shipment:OM123456789"))

	_, err := adapter.Get(ctx, "shipment:OM123456789")
	assert.ErrorIs(t, err, ErrCacheMiss)

	// Deleting an absent key is fine.
	assert.NoError(t, adapter.Delete(ctx, "shipment:OM123456789"))
}

func TestRedisAdapter_TTL(t *testing.T) {
	mr := miniredis.RunT(t)
	adapter, err := NewRedisAdapter("redis://" + mr.Addr())
	require.NoError(t, err)
	defer adapter.Close()

	ctx := context.Background()

	require.NoError(t, adapter.Set(ctx, "ttl_test", []byte("expires_soon"), 1*time.Second))

	_, err = adapter.Get(ctx, "ttl_test")
	assert.NoError(t, err)

	mr.FastForward(2 * time.Second)

	_, err = adapter.Get(ctx, "ttl_test")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisAdapter_Ping(t *testing.T) {
	adapter := newTestAdapter(t)
	assert.NoError(t, adapter.Ping(context.Background()))
}

func TestRedisAdapter_InvalidURL(t *testing.T) {
	_, err := NewRedisAdapter("invalid://url")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse Redis URL")
}
