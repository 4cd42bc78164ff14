package source

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/obras-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/proto"
)

const selectDocuments = `SELECT id, titulo, autor, obra_slug, autor_slug,
	COALESCE(seccion, ''), texto, COALESCE(numero, 0), tipo
	FROM search_documents`

const selectVersion = `SELECT COALESCE(to_char(MAX(updated_at) AT TIME ZONE 'UTC',
	'YYYYMMDDHH24MISSUS'), '') FROM search_documents`

// PostgresSource reads the corpus from the search_documents view.
type PostgresSource struct {
	db     *sql.DB
	closer func() error
	now    func() time.Time
	logger *slog.Logger
}

// OpenPostgres connects with cfg.
func OpenPostgres(cfg config.PostgresConfig) (*PostgresSource, error) {
	client, err := postgres.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrSourceUnavailable, err)
	}
	src := NewPostgres(client.DB)
	src.closer = client.Close
	return src, nil
}

// NewPostgres wraps an existing pool.
func NewPostgres(db *sql.DB) *PostgresSource {
	return &PostgresSource{
		db:     db,
		closer: func() error { return nil },
		now:    time.Now,
		logger: slog.Default().With("component", "postgres-source"),
	}
}

// Fetch reads every row of the view. The version is the newest updated_at.
func (s *PostgresSource) Fetch(ctx context.Context) (*Snapshot, error) {
	var version string
	if err := s.db.QueryRowContext(ctx, selectVersion).Scan(&version); err != nil {
		return nil, fmt.Errorf("%w: reading corpus version: %w", apperrors.ErrSourceUnavailable, err)
	}
	docs, err := s.query(ctx, selectDocuments+" ORDER BY obra_slug, numero, id")
	if err != nil {
		return nil, err
	}
	s.logger.Info("documents fetched", "documents", len(docs), "version", version)
	return &Snapshot{Documents: docs, Version: version, FetchedAt: s.now()}, nil
}

// FetchWork reads the documents of one work.
func (s *PostgresSource) FetchWork(ctx context.Context, obraSlug, autorSlug string) ([]proto.Document, error) {
	return s.query(ctx,
		selectDocuments+" WHERE obra_slug = $1 AND autor_slug = $2 ORDER BY numero, id",
		obraSlug, autorSlug)
}

// Ping checks the connection.
func (s *PostgresSource) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the pool when the source opened it.
func (s *PostgresSource) Close() error {
	return s.closer()
}

func (s *PostgresSource) query(ctx context.Context, q string, args ...any) ([]proto.Document, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: querying documents: %w", apperrors.ErrSourceUnavailable, err)
	}
	defer rows.Close()
	var docs []proto.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return docs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (proto.Document, error) {
	var d proto.Document
	if err := row.Scan(&d.ID, &d.Title, &d.Author, &d.WorkSlug, &d.AuthorSlug,
		&d.Section, &d.Text, &d.Number, &d.Kind); err != nil {
		return proto.Document{}, fmt.Errorf("scanning document: %w", err)
	}
	return d, nil
}
