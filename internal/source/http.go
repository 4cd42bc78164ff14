package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/obras-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/resilience"
)

const maxBodyBytes = 256 << 20

// HTTPSource downloads the corpus from a JSON endpoint. Server errors are
// retried with backoff and repeated failures open a circuit breaker.
type HTTPSource struct {
	url     string
	client  *http.Client
	breaker *resilience.Breaker
	retry   resilience.RetryConfig
	now     func() time.Time
	logger  *slog.Logger
}

// NewHTTP creates a source for cfg.URL.
func NewHTTP(cfg config.SourceConfig) *HTTPSource {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPSource{
		url:    cfg.URL,
		client: &http.Client{Timeout: timeout},
		breaker: resilience.NewBreaker("document-source", resilience.BreakerConfig{
			Threshold: 3,
			Cooldown:  30 * time.Second,
		}),
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 250 * time.Millisecond,
			MaxDelay:     2 * time.Second,
		},
		now:    time.Now,
		logger: slog.Default().With("component", "http-source", "url", cfg.URL),
	}
}

// Breaker exposes the circuit breaker for health checks.
func (s *HTTPSource) Breaker() *resilience.Breaker {
	return s.breaker
}

// Fetch downloads and decodes the corpus.
func (s *HTTPSource) Fetch(ctx context.Context) (*Snapshot, error) {
	var body []byte
	var etag string
	err := resilience.Retry(ctx, "fetch documents", s.retry, func(ctx context.Context) error {
		return s.breaker.Do(ctx, func(ctx context.Context) error {
			b, tag, err := s.get(ctx)
			if err != nil {
				return err
			}
			body, etag = b, tag
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrSourceUnavailable, err)
	}
	snap, err := decode(body, s.now())
	if err != nil {
		return nil, err
	}
	if etag != "" && snap.Version == contentVersion(body) {
		snap.Version = etag
	}
	s.logger.Info("documents fetched", "documents", len(snap.Documents), "version", snap.Version)
	return snap, nil
}

func (s *HTTPSource) get(ctx context.Context) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, "", resilience.Permanent(fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("requesting documents: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, "", fmt.Errorf("document endpoint returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", resilience.Permanent(fmt.Errorf("document endpoint returned %d", resp.StatusCode))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, "", fmt.Errorf("reading document body: %w", err)
	}
	return body, resp.Header.Get("ETag"), nil
}
