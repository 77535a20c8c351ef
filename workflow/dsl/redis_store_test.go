package dsl

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/flowforge/internal/cache"
)

func newRedisStore(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *RedisSummaryStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	manager, err := cache.NewManager(context.Background(), cache.Config{
		Addr:       mr.Addr(),
		KeyPrefix:  "flowforge:",
		DefaultTTL: time.Hour,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	return mr, NewRedisSummaryStore(manager, ttl)
}

func TestRedisSummaryStore_PutGetDelete(t *testing.T) {
	mr, store := newRedisStore(t, 0)
	ctx := context.Background()

	parsedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := &Summary{ID: "diamond", Name: "Diamond", Tags: []string{"demo"}, StepCount: 4, DependencyCount: 4, ParsedAt: parsedAt}
	require.NoError(t, store.Put(ctx, in))
	assert.True(t, mr.Exists("flowforge:workflow:summary:diamond"))
	assert.Equal(t, time.Hour, mr.TTL("flowforge:workflow:summary:diamond"))

	out, ok, err := store.Get(ctx, "diamond")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, in.Name, out.Name)
	assert.Equal(t, in.Tags, out.Tags)
	assert.True(t, parsedAt.Equal(out.ParsedAt))

	require.NoError(t, store.Delete(ctx, "diamond"))
	_, ok, err = store.Get(ctx, "diamond")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisSummaryStore_TTL(t *testing.T) {
	mr, store := newRedisStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &Summary{ID: "a", Name: "A"}))
	mr.FastForward(2 * time.Minute)

	_, ok, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisSummaryStore_CorruptEntry(t *testing.T) {
	mr, store := newRedisStore(t, 0)
	require.NoError(t, mr.Set("flowforge:workflow:summary:bad", "{"))

	_, ok, err := store.Get(context.Background(), "bad")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestParser_WithRedisSummaryStore(t *testing.T) {
	_, store := newRedisStore(t, 0)
	ctx := context.Background()

	writer := NewParser(zap.NewNop(), WithSummaryStore(store))
	src, err := SampleSource("project_generation")
	require.NoError(t, err)
	_, err = writer.ParseContext(ctx, src, FormatYAML)
	require.NoError(t, err)

	reader := NewParser(zap.NewNop(), WithSummaryStore(store))
	summary, ok := reader.GetSummary(ctx, "project_generation")
	require.True(t, ok)
	assert.Equal(t, 8, summary.StepCount)
	assert.Equal(t, 9, summary.DependencyCount)
	assert.Equal(t, "2.1", summary.Version)
}
