package cache

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fisioclinic/clinic/internal/platform/db"
)

func TestKey_TenantScoped(t *testing.T) {
	ctx := db.WithTenant(context.Background(), "centro")
	assert.Equal(t, "clinic:centro:slots:p1:2025-03-10", Key(ctx, "slots", "p1", "2025-03-10"))
	assert.Equal(t, "clinic:_:plans", Key(context.Background(), "plans"))
}

func TestMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryCache()
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))
	v, found, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), v)

	now = now.Add(time.Minute)
	_, found, err = m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryCache_DeletePrefix(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryCache()
	require.NoError(t, m.Set(ctx, "clinic:a:slots:1", []byte("1"), 0))
	require.NoError(t, m.Set(ctx, "clinic:a:slots:2", []byte("2"), 0))
	require.NoError(t, m.Set(ctx, "clinic:b:slots:1", []byte("3"), 0))

	require.NoError(t, m.DeletePrefix(ctx, "clinic:a:slots"))
	assert.Equal(t, 1, m.Len())
}

type report struct {
	Total int64  `json:"total"`
	Label string `json:"label"`
}

func TestGetOrLoad_LoadsOnceThenHits(t *testing.T) {
	ctx := db.WithTenant(context.Background(), "centro")
	m := NewMemoryCache()
	calls := 0
	load := func(context.Context) (report, error) {
		calls++
		return report{Total: 4200, Label: "march"}, nil
	}

	key := Key(ctx, "reports", "dashboard")
	first, err := GetOrLoad(ctx, m, key, time.Minute, load)
	require.NoError(t, err)
	second, err := GetOrLoad(ctx, m, key, time.Minute, load)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(4200), second.Total)
}

func TestGetOrLoad_ErrorIsNotCached(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryCache()
	boom := errors.New("db down")

	_, err := GetOrLoad(ctx, m, "k", time.Minute, func(context.Context) (int, error) { return 0, boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, m.Len())
}

func TestGetOrLoad_NilCacheCallsLoad(t *testing.T) {
	v, err := GetOrLoad(context.Background(), nil, "k", time.Minute, func(context.Context) (string, error) {
		return "fresh", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
}

func TestInvalidate_ScopedToTenant(t *testing.T) {
	m := NewMemoryCache()
	a := db.WithTenant(context.Background(), "a")
	b := db.WithTenant(context.Background(), "b")
	require.NoError(t, m.Set(a, Key(a, "leaderboard", "10"), []byte("[]"), 0))
	require.NoError(t, m.Set(b, Key(b, "leaderboard", "10"), []byte("[]"), 0))

	require.NoError(t, Invalidate(a, m, "leaderboard"))

	_, found, _ := m.Get(b, Key(b, "leaderboard", "10"))
	assert.True(t, found)
	_, found, _ = m.Get(a, Key(a, "leaderboard", "10"))
	assert.False(t, found)
}

func TestRedisCache_RoundTrip(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	r, err := NewRedisCache(ctx, url)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Set(ctx, "clinic:test:k1", []byte("v1"), time.Minute))
	require.NoError(t, r.Set(ctx, "clinic:test:k2", []byte("v2"), time.Minute))
	v, found, err := r.Get(ctx, "clinic:test:k1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v1", string(v))

	require.NoError(t, r.DeletePrefix(ctx, "clinic:test:"))
	_, found, err = r.Get(ctx, "clinic:test:k2")
	require.NoError(t, err)
	assert.False(t, found)
}
