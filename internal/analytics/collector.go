package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/kafka"
)

// Publisher sends a batch of events. *kafka.Producer satisfies it.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// Collector feeds every tracked event to the aggregator and buffers it for
// the publisher, flushing when the batch is full or the interval elapses.
// A nil publisher keeps events local.
type Collector struct {
	publisher     Publisher
	aggregator    *Aggregator
	mu            sync.Mutex
	buffer        []kafka.Event
	batchSize     int
	flushInterval time.Duration
	flushCh       chan struct{}
	done          chan struct{}
	logger        *slog.Logger
}

// NewCollector creates a Collector.
func NewCollector(publisher Publisher, aggregator *Aggregator, batchSize int, flushInterval time.Duration) *Collector {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &Collector{
		publisher:     publisher,
		aggregator:    aggregator,
		buffer:        make([]kafka.Event, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		flushCh:       make(chan struct{}, 1),
		done:          make(chan struct{}),
		logger:        slog.Default().With("component", "analytics-collector"),
	}
}

// Start runs the flush loop until ctx is cancelled. A final flush with a
// short deadline drains the buffer.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.flush(ctx)
			case <-c.flushCh:
				c.flush(ctx)
			case <-ctx.Done():
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				c.flush(flushCtx)
				cancel()
				return
			}
		}
	}()
	c.logger.Info("analytics collector started",
		"batch_size", c.batchSize,
		"flush_interval", c.flushInterval,
		"publishing", c.publisher != nil,
	)
}

// TrackSearch records a search.
func (c *Collector) TrackSearch(e SearchEvent) {
	if c.aggregator != nil {
		c.aggregator.RecordSearch(e)
	}
	c.enqueue(e.Query, e)
}

// TrackIndex records a corpus change.
func (c *Collector) TrackIndex(e IndexEvent) {
	if c.aggregator != nil {
		c.aggregator.RecordIndex(e)
	}
	c.enqueue(string(e.Type), e)
}

func (c *Collector) enqueue(key string, value any) {
	if c.publisher == nil {
		return
	}
	c.mu.Lock()
	c.buffer = append(c.buffer, kafka.Event{Key: key, Value: value})
	full := len(c.buffer) >= c.batchSize
	c.mu.Unlock()
	if full {
		select {
		case c.flushCh <- struct{}{}:
		default:
		}
	}
}

// BufferLen returns the number of events waiting to be published.
func (c *Collector) BufferLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

// Close waits for the flush loop to finish. Cancel the Start ctx first.
func (c *Collector) Close() {
	<-c.done
}

func (c *Collector) flush(ctx context.Context) {
	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.buffer
	c.buffer = make([]kafka.Event, 0, c.batchSize)
	c.mu.Unlock()

	if err := c.publisher.PublishBatch(ctx, batch); err != nil {
		c.logger.Error("batch flush failed", "batch_size", len(batch), "error", err)
		c.mu.Lock()
		c.buffer = append(batch, c.buffer...)
		if limit := c.batchSize * 3; len(c.buffer) > limit {
			c.logger.Warn("buffer overflow, events dropped", "dropped", len(c.buffer)-limit)
			c.buffer = c.buffer[:limit]
		}
		c.mu.Unlock()
		return
	}
	c.logger.Debug("batch flushed", "events", len(batch))
}
