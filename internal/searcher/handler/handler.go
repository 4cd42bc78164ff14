package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/searcher/service"
	apperrors "github.com/Adithya-Monish-Kumar-K/obras-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/proto"
)

const maxBodyBytes = 1 << 20

// SearchService is the part of service.Service the API exposes.
type SearchService interface {
	Search(ctx context.Context, raw string, limit int) (*proto.SearchResponse, error)
	Preview(ctx context.Context, raw string, limit int) (*proto.SearchResponse, cache.MatchKind, error)
	Highlight(text, query string) string
	LoadWork(ctx context.Context, obraSlug, autorSlug string) (int, error)
	Rebuild(ctx context.Context, reason string) error
	Status(ctx context.Context) service.Status
	CacheStats() cache.Stats
	InvalidateCache() int
}

// StatsHistory lists persisted analytics snapshots, newest first.
type StatsHistory interface {
	List(ctx context.Context, limit int) ([]analytics.Snapshot, error)
}

type Handler struct {
	svc          SearchService
	stats        *analytics.Aggregator
	history      StatsHistory
	defaultLimit int
	maxResults   int
	logger       *slog.Logger
}

// New builds a Handler. stats may be nil, which disables the analytics
// endpoint.
func New(svc SearchService, stats *analytics.Aggregator, defaultLimit, maxResults int) *Handler {
	return &Handler{
		svc:          svc,
		stats:        stats,
		defaultLimit: defaultLimit,
		maxResults:   maxResults,
		logger:       slog.Default().With("component", "search-handler"),
	}
}

type previewResponse struct {
	*proto.SearchResponse
	Match string `json:"match,omitempty"`
}

type highlightRequest struct {
	Text  string `json:"text"`
	Query string `json:"query"`
}

type rebuildRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	query, limit, ok := h.searchParams(w, r)
	if !ok {
		return
	}
	resp, err := h.svc.Search(r.Context(), query, limit)
	if err != nil {
		h.fail(w, r, "search failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	query, limit, ok := h.searchParams(w, r)
	if !ok {
		return
	}
	resp, match, err := h.svc.Preview(r.Context(), query, limit)
	if err != nil {
		h.fail(w, r, "preview failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, previewResponse{SearchResponse: resp, Match: string(match)})
}

func (h *Handler) Highlight(w http.ResponseWriter, r *http.Request) {
	var req highlightRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"html": h.svc.Highlight(req.Text, req.Query),
	})
}

func (h *Handler) LoadWork(w http.ResponseWriter, r *http.Request) {
	autor, obra := chi.URLParam(r, "autor"), chi.URLParam(r, "obra")
	indexed, err := h.svc.LoadWork(r.Context(), obra, autor)
	if err != nil {
		h.fail(w, r, "loading work failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"obra":    obra,
		"autor":   autor,
		"indexed": indexed,
	})
}

func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	req := rebuildRequest{Reason: "api"}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	if err := h.svc.Rebuild(r.Context(), req.Reason); err != nil {
		h.fail(w, r, "rebuild failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.svc.Status(r.Context()))
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.svc.Status(r.Context()))
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.svc.CacheStats())
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	n := h.svc.InvalidateCache()
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "entries": n})
}

func (h *Handler) AnalyticsStats(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	h.writeJSON(w, http.StatusOK, h.stats.Stats())
}

// WithHistory enables GET /api/v1/analytics/history.
func (h *Handler) WithHistory(history StatsHistory) *Handler {
	h.history = history
	return h
}

func (h *Handler) AnalyticsHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.writeJSON(w, http.StatusOK, map[string]any{"status": "disabled", "snapshots": []analytics.Snapshot{}})
		return
	}
	limit := 24
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 1000 {
			h.writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = parsed
	}
	snapshots, err := h.history.List(r.Context(), limit)
	if err != nil {
		h.fail(w, r, "listing stats history failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"snapshots": snapshots})
}

func (h *Handler) searchParams(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	query := r.URL.Query().Get("q")
	if strings.TrimSpace(query) == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return "", 0, false
	}

	limit := h.defaultLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return "", 0, false
		}
		if parsed > h.maxResults {
			parsed = h.maxResults
		}
		limit = parsed
	}
	return query, limit, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := apperrors.HTTPStatusCode(err)
	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error(msg, "path", r.URL.Path, "error", err)
	} else {
		log.Warn(msg, "path", r.URL.Path, "error", err)
	}

	message := msg
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && status < http.StatusInternalServerError {
		message = appErr.Message
	}
	h.writeError(w, status, message)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
