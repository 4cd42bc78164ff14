package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/kafka"
)

// NotifyCorpusUpdated publishes a CorpusUpdated message so running search
// services rebuild their index. The version is the message key.
func NotifyCorpusUpdated(ctx context.Context, p Publisher, version, reason string) (CorpusUpdated, error) {
	ev := CorpusUpdated{Version: version, Reason: reason, At: time.Now().UTC()}
	if err := p.PublishBatch(ctx, []kafka.Event{{Key: version, Value: ev}}); err != nil {
		return ev, fmt.Errorf("notifying corpus update: %w", err)
	}
	return ev, nil
}
