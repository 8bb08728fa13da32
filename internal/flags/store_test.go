package flags

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   1, // Use different DB for tests
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	require.NoError(t, client.FlushDB(ctx).Err())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.FlushDB(ctx).Err()
		_ = client.Close()
	})
	return client
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestStore_Upsert(t *testing.T) {
	store, err := NewStore(setupTestRedis(t))
	require.NoError(t, err)
	ctx := context.Background()

	flag, err := store.Upsert(ctx, Streaming, true)
	require.NoError(t, err)
	assert.Equal(t, Streaming, flag.Key)
	assert.True(t, flag.Value)
	assert.NotZero(t, flag.UpdatedAt)

	got, err := store.Get(ctx, Streaming)
	require.NoError(t, err)
	assert.Equal(t, flag.Value, got.Value)
	assert.True(t, flag.UpdatedAt.Equal(got.UpdatedAt))

	time.Sleep(time.Millisecond)
	flag2, err := store.Upsert(ctx, Streaming, false)
	require.NoError(t, err)
	assert.True(t, flag2.UpdatedAt.After(flag.UpdatedAt))

	got, err = store.Get(ctx, Streaming)
	require.NoError(t, err)
	assert.False(t, got.Value)
}

func TestStore_GetMissing(t *testing.T) {
	store, err := NewStore(setupTestRedis(t))
	require.NoError(t, err)

	flag, err := store.Get(context.Background(), "nonexistent.flag")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, flag)
}

func TestStore_Delete(t *testing.T) {
	store, err := NewStore(setupTestRedis(t))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Upsert(ctx, Charts, true)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, Charts))
	_, err = store.Get(ctx, Charts)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, store.Delete(ctx, "nonexistent.flag"))
}

func TestStore_ListIsSorted(t *testing.T) {
	store, err := NewStore(setupTestRedis(t))
	require.NoError(t, err)
	ctx := context.Background()

	flags, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, flags)

	for key, value := range map[string]bool{"flag3": true, "flag1": true, "flag2": false} {
		_, err := store.Upsert(ctx, key, value)
		require.NoError(t, err)
	}

	flags, err = store.List(ctx)
	require.NoError(t, err)
	require.Len(t, flags, 3)
	assert.Equal(t, "flag1", flags[0].Key)
	assert.Equal(t, "flag2", flags[1].Key)
	assert.False(t, flags[1].Value)
	assert.Equal(t, "flag3", flags[2].Key)
}

func TestStore_ConcurrentOperations(t *testing.T) {
	store, err := NewStore(setupTestRedis(t))
	require.NoError(t, err)
	ctx := context.Background()

	const numGoroutines = 10
	const numOps = 50

	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < numOps; j++ {
				key := fmt.Sprintf("flag.%d.%d", id, j)
				value := (id+j)%2 == 0

				_, err := store.Upsert(ctx, key, value)
				assert.NoError(t, err)

				got, err := store.Get(ctx, key)
				if assert.NoError(t, err) {
					assert.Equal(t, value, got.Value)
				}
			}
		}(i)
	}
	wg.Wait()

	flags, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, flags, numGoroutines*numOps)
}

func TestValidateKey(t *testing.T) {
	for _, key := range []string{"simple.flag", "flag.with.dots", "flag123", "a", Streaming, GeneralKnowledge} {
		assert.NoError(t, ValidateKey(key), key)
	}
	for _, key := range []string{"", " ", "flag with spaces", "flag:with:colons", "flag\twith\ttabs", "flag\nwith\nnewlines"} {
		assert.ErrorIs(t, ValidateKey(key), ErrInvalidKey, key)
	}
}

func TestStore_Enabled(t *testing.T) {
	store, err := NewStore(setupTestRedis(t), WithReadTTL(0))
	require.NoError(t, err)
	ctx := context.Background()

	assert.True(t, store.Enabled(ctx, GeneralKnowledge, true))
	assert.False(t, store.Enabled(ctx, GeneralKnowledge, false))

	_, err = store.Upsert(ctx, GeneralKnowledge, false)
	require.NoError(t, err)
	assert.False(t, store.Enabled(ctx, GeneralKnowledge, true))
}

func TestStore_EnabledCachesReads(t *testing.T) {
	client := setupTestRedis(t)
	store, err := NewStore(client, WithReadTTL(time.Minute))
	require.NoError(t, err)
	ctx := context.Background()

	assert.True(t, store.Enabled(ctx, Charts, true))

	// A write from another process is not seen until the entry expires.
	other, err := NewStore(client)
	require.NoError(t, err)
	_, err = other.Upsert(ctx, Charts, false)
	require.NoError(t, err)
	assert.True(t, store.Enabled(ctx, Charts, true))

	// Local writes invalidate immediately.
	_, err = store.Upsert(ctx, Charts, false)
	require.NoError(t, err)
	assert.False(t, store.Enabled(ctx, Charts, true))
}

func TestStore_EnabledFallsBackWhenRedisIsDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	store, err := NewStore(client, WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.True(t, store.Enabled(context.Background(), Streaming, true))
	assert.False(t, store.Enabled(context.Background(), Streaming, false))
}

func TestNewStore_NilClient(t *testing.T) {
	_, err := NewStore(nil)
	assert.Error(t, err)
}
