package pipeline

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("SPECGEST_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SPECGEST_TEST_REDIS_ADDR not set")
	}
	client, err := ConnectRedis(context.Background(), addr, os.Getenv("SPECGEST_TEST_REDIS_PASSWORD"), 0, 1)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, "specgest-test-"+uuid.NewString())
}

func TestRedisStore_Lifecycle(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	older := NewJob("r-old", "a.pdf", "r-old_a.pdf", "", 1)
	older.UploadDate = time.Now().Add(-time.Hour)
	require.NoError(t, store.Put(ctx, older))
	require.NoError(t, store.Put(ctx, NewJob("r-new", "b.pdf", "r-new_b.pdf", "qwen", 2)))

	got, err := store.Get(ctx, "r-new")
	require.NoError(t, err)
	assert.Equal(t, "qwen", got.Model)
	assert.NotNil(t, got.Chunks)

	updated, err := store.Update(ctx, "r-old", func(j *Job) { j.SetStatus(StatusProcessing, 2, "文档转换中...") })
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, updated.Status)

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "r-new", list[0].ID)
	assert.Equal(t, StatusProcessing, list[1].Status)

	require.NoError(t, store.Delete(ctx, "r-old"))
	require.NoError(t, store.Delete(ctx, "r-new"))
	assert.ErrorIs(t, store.Delete(ctx, "r-new"), ErrNotFound)
	_, err = store.Get(ctx, "r-old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Update(ctx, "r-old", func(*Job) {})
	assert.ErrorIs(t, err, ErrNotFound)
}
