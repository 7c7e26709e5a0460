package redisstore

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	unireq "github.com/oorabona/unireq-sub005"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Store) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := DefaultConfig()
	cfg.Addr = mr.Addr()
	store, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return mr, store
}

func sampleEntry(ttl time.Duration) *unireq.CacheEntry {
	resp := &unireq.Response{
		StatusCode: http.StatusOK,
		Status:     "OK",
		Header:     http.Header{"Etag": []string{`"v1"`}, "Content-Type": []string{"text/plain"}},
		Body:       []byte("hello"),
	}
	return unireq.NewCacheEntry("GET http://example.test/", resp, time.Now(), ttl)
}

func TestStore_SetAndGet(t *testing.T) {
	_, store := setupTestRedis(t)
	ctx := context.Background()

	entry := sampleEntry(time.Minute)
	require.NoError(t, store.Set(ctx, entry.Key, entry))

	got, found, err := store.Get(ctx, entry.Key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "hello", string(got.Body))
	assert.Equal(t, `"v1"`, got.ETag)
	assert.Equal(t, http.StatusOK, got.StatusCode)
	assert.True(t, got.ExpiresAt.Equal(entry.ExpiresAt))
}

func TestStore_GetMissing(t *testing.T) {
	_, store := setupTestRedis(t)

	got, found, err := store.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, got)
}

func TestStore_Delete(t *testing.T) {
	_, store := setupTestRedis(t)
	ctx := context.Background()

	entry := sampleEntry(time.Minute)
	require.NoError(t, store.Set(ctx, entry.Key, entry))
	require.NoError(t, store.Delete(ctx, entry.Key))

	_, found, err := store.Get(ctx, entry.Key)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_ExpiryIncludesRetention(t *testing.T) {
	mr, store := setupTestRedis(t)
	ctx := context.Background()

	entry := sampleEntry(time.Minute)
	require.NoError(t, store.Set(ctx, entry.Key, entry))

	ttl := mr.TTL(DefaultConfig().Prefix + entry.Key)
	assert.Greater(t, ttl, 24*time.Hour)
	assert.LessOrEqual(t, ttl, 24*time.Hour+time.Minute)

	mr.FastForward(25 * time.Hour)
	_, found, err := store.Get(ctx, entry.Key)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_ReadErrorPropagates(t *testing.T) {
	mr, store := setupTestRedis(t)
	mr.SetError("LOADING")

	_, _, err := store.Get(context.Background(), "k")
	assert.Error(t, err)
}

func TestStore_Closed(t *testing.T) {
	_, store := setupTestRedis(t)
	require.NoError(t, store.Close())

	_, _, err := store.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, store.Set(context.Background(), "k", sampleEntry(time.Minute)), ErrClosed)
}

func TestStore_BacksCachePolicy(t *testing.T) {
	_, store := setupTestRedis(t)
	calls := 0
	conn := unireq.ConnectorFunc(func(ctx context.Context, req *unireq.Request) (*unireq.Response, error) {
		calls++
		return &unireq.Response{StatusCode: http.StatusOK, Header: make(http.Header), Body: []byte("fresh"), Request: req}, nil
	})

	do := unireq.Compose(unireq.Cache(unireq.CacheOptions{Store: store, TTL: time.Minute})).Bind(conn)
	req := unireq.NewRequest("GET", "http://example.test/shared")

	_, err := do(context.Background(), req)
	require.NoError(t, err)
	resp, err := do(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, "HIT", resp.Header.Get(unireq.CacheHeader))
	assert.Equal(t, "fresh", resp.Text())
}
