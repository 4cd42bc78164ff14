// Package source fetches the document corpus the search index is built
// from. Three backends are supported: an HTTP endpoint, a Postgres view and a
// local JSON file.
package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/obras-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/proto"
)

// Snapshot is one fetch of the full corpus.
type Snapshot struct {
	Documents []proto.Document
	Version   string
	FetchedAt time.Time
}

// DocumentSource supplies the full corpus.
type DocumentSource interface {
	Fetch(ctx context.Context) (*Snapshot, error)
}

// WorkSource supplies the documents of a single work.
type WorkSource interface {
	FetchWork(ctx context.Context, obraSlug, autorSlug string) ([]proto.Document, error)
}

// New returns the DocumentSource selected by cfg.Source.Kind. The returned
// closer releases any connection the source holds.
func New(cfg *config.Config) (DocumentSource, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Source.Kind {
	case "http":
		return NewHTTP(cfg.Source), noop, nil
	case "file":
		return NewFile(cfg.Source.Path), noop, nil
	case "postgres":
		src, err := OpenPostgres(cfg.Postgres)
		if err != nil {
			return nil, noop, err
		}
		return src, src.Close, nil
	default:
		return nil, noop, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "unknown source kind %q", cfg.Source.Kind)
	}
}

// FilterWork returns the documents of docs that belong to the given work.
func FilterWork(docs []proto.Document, obraSlug, autorSlug string) []proto.Document {
	var out []proto.Document
	for _, d := range docs {
		if d.WorkSlug == obraSlug && d.AuthorSlug == autorSlug {
			out = append(out, d)
		}
	}
	return out
}

// payload is the object form of a corpus body. A bare JSON array of
// documents is accepted as well.
type payload struct {
	Version   string           `json:"version"`
	Documents []proto.Document `json:"documents"`
}

// decode parses a corpus body. The version falls back to a content hash so
// identical bodies always map to the same version.
func decode(body []byte, fetchedAt time.Time) (*Snapshot, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil, fmt.Errorf("decoding corpus: empty body")
	}
	var p payload
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(body, &p.Documents); err != nil {
			return nil, fmt.Errorf("decoding corpus array: %w", err)
		}
	} else if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decoding corpus object: %w", err)
	}
	if p.Version == "" {
		p.Version = contentVersion(body)
	}
	return &Snapshot{Documents: p.Documents, Version: p.Version, FetchedAt: fetchedAt}, nil
}

func contentVersion(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:8])
}
