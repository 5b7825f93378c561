package querycache

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/coach-go/internal/coachapi"
	"github.com/tonimelisma/coach-go/internal/invalidate"
)

func openTestCache(t *testing.T, ttl time.Duration) *Cache {
	t.Helper()

	c, err := Open(context.Background(), filepath.Join(t.TempDir(), "cache.db"), ttl, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	return c
}

func TestPutGet(t *testing.T) {
	t.Parallel()

	c := openTestCache(t, time.Minute)
	ctx := context.Background()

	want := []coachapi.PlannedSession{{ID: "s1", Date: "2026-10-19", Type: "run", Status: coachapi.SessionPlanned}}
	require.NoError(t, c.Put(ctx, invalidate.TagCalendar, "calendar/week", want))

	var got []coachapi.PlannedSession
	hit, err := c.Get(ctx, "calendar/week", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, want, got)

	hit, err = c.Get(ctx, "calendar/season", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestGet_ExpiredEntryMisses(t *testing.T) {
	t.Parallel()

	c := openTestCache(t, time.Minute)
	ctx := context.Background()

	now := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	c.nowFunc = func() time.Time { return now }
	require.NoError(t, c.Put(ctx, invalidate.TagActivities, "activities", []int{1}))

	now = now.Add(2 * time.Minute)

	var got []int
	hit, err := c.Get(ctx, "activities", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestCapTTL_ShortensOneFamily(t *testing.T) {
	t.Parallel()

	c := openTestCache(t, 10*time.Minute)
	c.CapTTL(invalidate.TagActivities, 2*time.Minute)
	ctx := context.Background()

	now := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	c.nowFunc = func() time.Time { return now }
	require.NoError(t, c.Put(ctx, invalidate.TagActivities, "activities", []int{1}))
	require.NoError(t, c.Put(ctx, invalidate.TagCalendar, "calendar/today", []int{2}))

	now = now.Add(3 * time.Minute)

	var got []int
	hit, err := c.Get(ctx, "activities", &got)
	require.NoError(t, err)
	assert.False(t, hit, "capped family expires early")

	hit, err = c.Get(ctx, "calendar/today", &got)
	require.NoError(t, err)
	assert.True(t, hit, "other families keep the cache-wide TTL")

	c.CapTTL(invalidate.TagCalendar, time.Hour)
	now = now.Add(10 * time.Minute)

	hit, err = c.Get(ctx, "calendar/today", &got)
	require.NoError(t, err)
	assert.False(t, hit, "a cap never extends the TTL")
}

func TestDropTags_OnlyNamedFamilies(t *testing.T) {
	t.Parallel()

	c := openTestCache(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, invalidate.TagCalendar, "calendar/today", 1))
	require.NoError(t, c.Put(ctx, invalidate.TagCalendar, "calendar/week", 2))
	require.NoError(t, c.Put(ctx, invalidate.TagRevisions, "revisions", 3))

	n, err := c.DropTags(ctx, []invalidate.Tag{invalidate.TagCalendar})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	var v int
	hit, err := c.Get(ctx, "revisions", &v)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 3, v)

	logs, err := c.RecentInvalidations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "calendar", logs[0].Tag)
	assert.Equal(t, int64(2), logs[0].Dropped)
}

func TestSubscribe_BusDropsFamilies(t *testing.T) {
	t.Parallel()

	c := openTestCache(t, time.Hour)
	ctx := context.Background()
	bus := invalidate.NewBus(nil)
	unsub := c.Subscribe(bus)
	defer unsub()

	require.NoError(t, c.Put(ctx, invalidate.TagCalendar, "calendar/week", 1))
	require.NoError(t, c.Put(ctx, invalidate.TagActivities, "activities", 2))

	bus.InvalidateFor(ctx, coachapi.KindPairingMerge)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Empty(t, stats)
}

func TestFetch_ReadThrough(t *testing.T) {
	t.Parallel()

	c := openTestCache(t, time.Hour)
	ctx := context.Background()

	calls := 0
	fetch := func(context.Context) ([]string, error) {
		calls++
		return []string{"a"}, nil
	}

	for range 3 {
		v, err := Fetch(ctx, c, invalidate.TagActivities, "", fetch)
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, v)
	}

	assert.Equal(t, 1, calls)

	_, err := c.DropTags(ctx, []invalidate.Tag{invalidate.TagActivities})
	require.NoError(t, err)

	_, err = Fetch(ctx, c, invalidate.TagActivities, "", fetch)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestFetch_InvalidationDuringFetchSkipsFill(t *testing.T) {
	t.Parallel()

	c := openTestCache(t, time.Hour)
	ctx := context.Background()

	_, err := Fetch(ctx, c, invalidate.TagCalendar, "week", func(ctx context.Context) (int, error) {
		_, dropErr := c.DropTags(ctx, []invalidate.Tag{invalidate.TagCalendar})
		return 1, dropErr
	})
	require.NoError(t, err)

	var v int
	hit, err := c.Get(ctx, "calendar/week", &v)
	require.NoError(t, err)
	assert.False(t, hit, "pre-write result must not be cached")
}

func TestFetch_NilCacheAndErrors(t *testing.T) {
	t.Parallel()

	v, err := Fetch(context.Background(), nil, invalidate.TagCalendar, "today", func(context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	c := openTestCache(t, time.Hour)
	boom := errors.New("boom")

	_, err = Fetch(context.Background(), c, invalidate.TagCalendar, "today", func(context.Context) (int, error) {
		return 0, boom
	})
	require.ErrorIs(t, err, boom)

	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stats, "failed fetches are not cached")
}

func TestClear(t *testing.T) {
	t.Parallel()

	c := openTestCache(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, invalidate.TagCalendar, "calendar/week", 1))
	require.NoError(t, c.Put(ctx, invalidate.TagRevisions, "revisions", 2))

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Len(t, stats, 2)

	n, err := c.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	c, err := Open(ctx, path, time.Hour, nil)
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, invalidate.TagRevisions, "revisions", "x"))
	require.NoError(t, c.Close())

	c, err = Open(ctx, path, time.Hour, nil)
	require.NoError(t, err)
	defer c.Close()

	var v string
	hit, err := c.Get(ctx, "revisions", &v)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "x", v)
}
