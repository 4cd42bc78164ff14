package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/proto"
)

func response(id string) *proto.SearchResponse {
	return &proto.SearchResponse{
		Results: []proto.SearchResult{{Document: proto.Document{ID: id}, Score: 1}},
		Total:   1,
	}
}

func newCache(capacity int, ttl time.Duration) *Cache {
	return New(config.ResultCacheConfig{Capacity: capacity, TTL: ttl})
}

func TestGetExact(t *testing.T) {
	c := newCache(10, time.Minute)
	c.Set("aqdas", response("1"))

	resp, ok := c.Get("aqdas")
	require.True(t, ok)
	assert.Equal(t, "aqdas", resp.Query)
	assert.Equal(t, "1", resp.Results[0].ID)

	_, ok = c.Get("bayan")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
}

func TestAccessBookkeeping(t *testing.T) {
	c := newCache(10, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	c.Set("aqdas", response("1"))

	now = now.Add(time.Second)
	c.Get("aqdas")
	c.Get("aqdas")

	e, ok := c.Entry("aqdas")
	require.True(t, ok)
	assert.Equal(t, 2, e.AccessCount)
	assert.Equal(t, now, e.LastAccess)
	assert.True(t, e.Timestamp.Before(e.LastAccess))
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c := newCache(2, time.Minute)
	c.Set("uno", response("1"))
	c.Set("dos", response("2"))
	c.Get("uno")
	c.Set("tres", response("3"))

	_, ok := c.Get("dos")
	assert.False(t, ok)
	_, ok = c.Get("uno")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Stats().Size)
}

func TestEntriesExpire(t *testing.T) {
	c := newCache(10, 20*time.Millisecond)
	c.Set("aqdas", response("1"))
	require.Eventually(t, func() bool {
		_, ok := c.Get("aqdas")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestLookupPrefixAndFuzzy(t *testing.T) {
	c := newCache(10, time.Minute)
	c.Set("certeza", response("c"))
	c.Set("aqd", response("short"))
	c.Set("aqdas", response("long"))

	resp, kind, ok := c.Lookup("aqdas")
	require.True(t, ok)
	assert.Equal(t, MatchExact, kind)
	assert.Equal(t, "long", resp.Results[0].ID)

	resp, kind, ok = c.Lookup("aqdas kitab")
	require.True(t, ok)
	assert.Equal(t, MatchPrefix, kind)
	assert.Equal(t, "long", resp.Results[0].ID)
	assert.Equal(t, "aqdas kitab", resp.Query)

	resp, kind, ok = c.Lookup("certesa")
	require.True(t, ok)
	assert.Equal(t, MatchFuzzy, kind)
	assert.Equal(t, "c", resp.Results[0].ID)

	_, kind, ok = c.Lookup("oración")
	assert.False(t, ok)
	assert.Equal(t, MatchNone, kind)
}

func TestInvalidate(t *testing.T) {
	c := newCache(10, time.Minute)
	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("q%d", i), response("x"))
	}
	assert.Equal(t, 5, c.Invalidate())
	assert.Equal(t, 0, c.Stats().Size)
}

func TestCachedResultsAreCopies(t *testing.T) {
	c := newCache(10, time.Minute)
	original := response("1")
	c.Set("aqdas", original)
	original.Results[0].ID = "mutated"

	resp, _ := c.Get("aqdas")
	assert.Equal(t, "1", resp.Results[0].ID)
}

func TestLookupIgnoresDiacritics(t *testing.T) {
	c := newCache(10, time.Minute)
	c.Set("Bayán Persa", response("bayan"))
	c.Set("oración", response("oracion"))

	resp, kind, ok := c.Lookup("bayan")
	require.True(t, ok)
	assert.Equal(t, MatchPrefix, kind)
	assert.Equal(t, "bayan", resp.Results[0].ID)

	resp, kind, ok = c.Lookup("oracion obligatoria")
	require.True(t, ok)
	assert.Equal(t, MatchPrefix, kind)
	assert.Equal(t, "oracion", resp.Results[0].ID)

	resp, kind, ok = c.Lookup("oracíon")
	require.True(t, ok)
	assert.Equal(t, MatchPrefix, kind)
	assert.Equal(t, "oracion", resp.Results[0].ID)
}

func TestSetIfEpochDropsResponsesFromBeforeInvalidate(t *testing.T) {
	c := newCache(10, time.Minute)
	epoch := c.Epoch()

	assert.True(t, c.SetIfEpoch("aqdas", response("old"), epoch))
	c.Invalidate()
	assert.NotEqual(t, epoch, c.Epoch())

	assert.False(t, c.SetIfEpoch("aqdas", response("stale"), epoch))
	_, ok := c.Get("aqdas")
	assert.False(t, ok)

	assert.True(t, c.SetIfEpoch("aqdas", response("fresh"), c.Epoch()))
	resp, ok := c.Get("aqdas")
	require.True(t, ok)
	assert.Equal(t, "fresh", resp.Results[0].ID)
}
