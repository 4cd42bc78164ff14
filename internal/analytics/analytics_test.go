package analytics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/kafka"
)

type fakePublisher struct {
	mu      sync.Mutex
	batches [][]kafka.Event
	fail    bool
}

func (p *fakePublisher) PublishBatch(_ context.Context, events []kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker down")
	}
	p.batches = append(p.batches, events)
	return nil
}

func (p *fakePublisher) published() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, b := range p.batches {
		n += len(b)
	}
	return n
}

func TestAggregatorStats(t *testing.T) {
	a := NewAggregator()
	a.RecordSearch(SearchEvent{Query: "aqdas", Total: 3, LatencyMs: 10, CacheHit: true})
	a.RecordSearch(SearchEvent{Query: "aqdas", Total: 3, LatencyMs: 20})
	a.RecordSearch(SearchEvent{Query: "zzz", Total: 0, LatencyMs: 30, Degraded: true})
	a.RecordIndex(IndexEvent{Type: EventWorkLoaded})
	a.RecordIndex(IndexEvent{Type: EventRebuild})

	s := a.Stats()
	assert.Equal(t, int64(3), s.TotalSearches)
	assert.Equal(t, int64(1), s.CacheHits)
	assert.Equal(t, int64(1), s.DegradedSearches)
	assert.Equal(t, int64(1), s.ZeroResultCount)
	assert.Equal(t, int64(1), s.WorksLoaded)
	assert.Equal(t, int64(1), s.Rebuilds)
	assert.InDelta(t, 20.0, s.AvgLatencyMs, 1e-9)
	assert.Equal(t, int64(20), s.P50LatencyMs)
	assert.Equal(t, []QueryCount{{Query: "aqdas", Count: 2}, {Query: "zzz", Count: 1}}, s.TopQueries)
	assert.Equal(t, []QueryCount{{Query: "zzz", Count: 1}}, s.ZeroResultQueries)
}

func TestLatencySamplesAreBounded(t *testing.T) {
	a := NewAggregator()
	for i := 0; i < maxLatencySamples+10; i++ {
		a.RecordSearch(SearchEvent{Query: "q", Total: 1, LatencyMs: 1})
	}
	assert.Len(t, a.latencies, maxLatencySamples)
}

func TestCollectorFlushesWhenBatchFull(t *testing.T) {
	pub := &fakePublisher{}
	agg := NewAggregator()
	c := NewCollector(pub, agg, 2, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)

	c.TrackSearch(SearchEvent{Query: "uno", Total: 1})
	c.TrackSearch(SearchEvent{Query: "dos", Total: 1})
	require.Eventually(t, func() bool { return pub.published() == 2 }, time.Second, 5*time.Millisecond)

	c.TrackIndex(IndexEvent{Type: EventRebuild, Documents: 10})
	cancel()
	c.Close()
	assert.Equal(t, 3, pub.published())
	assert.Equal(t, int64(2), agg.Stats().TotalSearches)
}

func TestCollectorRequeuesOnFailure(t *testing.T) {
	pub := &fakePublisher{fail: true}
	c := NewCollector(pub, nil, 10, time.Hour)
	c.TrackSearch(SearchEvent{Query: "uno"})
	c.flush(context.Background())
	assert.Equal(t, 1, c.BufferLen())

	pub.fail = false
	c.flush(context.Background())
	assert.Equal(t, 0, c.BufferLen())
	assert.Equal(t, 1, pub.published())
}

func TestCollectorWithoutPublisherKeepsEventsLocal(t *testing.T) {
	agg := NewAggregator()
	c := NewCollector(nil, agg, 1, time.Hour)
	c.TrackSearch(SearchEvent{Query: "uno", Total: 1})
	assert.Equal(t, 0, c.BufferLen())
	assert.Equal(t, int64(1), agg.Stats().TotalSearches)
}

func TestNotifyCorpusUpdated(t *testing.T) {
	p := &fakePublisher{}
	ev, err := NotifyCorpusUpdated(context.Background(), p, "v7", "cms publish")
	require.NoError(t, err)
	assert.Equal(t, "v7", ev.Version)

	require.Len(t, p.batches, 1)
	require.Len(t, p.batches[0], 1)
	assert.Equal(t, "v7", p.batches[0][0].Key)
	assert.Equal(t, ev, p.batches[0][0].Value)

	p.fail = true
	_, err = NotifyCorpusUpdated(context.Background(), p, "v8", "")
	assert.Error(t, err)
}
