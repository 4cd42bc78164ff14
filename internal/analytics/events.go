// Package analytics records search activity. Events are aggregated in
// process for the stats endpoint and, when Kafka is enabled, published in
// batches to the search-events topic.
package analytics

import "time"

type EventType string

const (
	EventSearch     EventType = "search"
	EventZeroResult EventType = "zero_result"
	EventWorkLoaded EventType = "work_loaded"
	EventRebuild    EventType = "index_rebuilt"
)

// SearchEvent describes one answered search.
type SearchEvent struct {
	Type      EventType `json:"type"`
	Query     string    `json:"query"`
	Total     int       `json:"total"`
	Returned  int       `json:"returned"`
	LatencyMs int64     `json:"latency_ms"`
	CacheHit  bool      `json:"cache_hit"`
	Degraded  bool      `json:"degraded"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// IndexEvent describes a change of the indexed corpus.
type IndexEvent struct {
	Type      EventType `json:"type"`
	Work      string    `json:"work,omitempty"`
	Documents int       `json:"documents"`
	Version   string    `json:"version,omitempty"`
	LatencyMs int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// CorpusUpdated is consumed from the corpus-updated topic; it asks the
// service to refetch and rebuild.
type CorpusUpdated struct {
	Version string    `json:"version"`
	Reason  string    `json:"reason,omitempty"`
	At      time.Time `json:"at"`
}
