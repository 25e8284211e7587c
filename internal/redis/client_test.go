package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-triggers/internal/common/errors"
)

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	t.Run("connects", func(t *testing.T) {
		client, err := NewClient(ctx, Config{Address: mr.Addr()})
		require.NoError(t, err)
		assert.Equal(t, mr.Addr(), client.Addr())
		assert.Equal(t, 10, client.Redis().Options().PoolSize)

		require.NoError(t, client.Redis().Set(ctx, "k", "v", 0).Err())
		got, err := mr.Get("k")
		require.NoError(t, err)
		assert.Equal(t, "v", got)
		assert.NoError(t, client.Close())
	})

	t.Run("address required", func(t *testing.T) {
		client, err := NewClient(ctx, Config{})
		assert.Nil(t, client)
		assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
	})

	t.Run("unreachable server", func(t *testing.T) {
		client, err := NewClient(ctx, Config{Address: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond})
		assert.Nil(t, client)
		assert.True(t, errors.IsType(err, errors.ErrTypeConnection))
	})
}

func TestClient_Health(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	client, err := NewClient(ctx, Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	assert.NoError(t, client.Health(ctx))

	mr.Close()
	assert.Error(t, client.Health(ctx))
}
