// internal/api/handler.go
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github-dashboard-sync/internal/model"
	"github-dashboard-sync/internal/report"
)

// SyncService is the pull interface the dashboard layer consumes.
type SyncService interface {
	GetCurrentData(ctx context.Context) (*model.SyncResult, error)
	Refresh(ctx context.Context) (*model.SyncResult, error)
	FullResync(ctx context.Context) (*model.SyncResult, error)
	CachedSnapshot() *model.CachedData
}

// Reporter exposes call accounting for the operational endpoint.
type Reporter interface {
	Summary() report.Summary
}

// Handler is the container for API dependencies.
type Handler struct {
	sync     SyncService
	reporter Reporter
	logger   *slog.Logger
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(sync SyncService, reporter Reporter, logger *slog.Logger) http.Handler {
	h := &Handler{
		sync:     sync,
		reporter: reporter,
		logger:   logger,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger) // Chi's default logger
	r.Use(middleware.Recoverer)
	// Bounds how long a client waits for a response, not the sync itself: a
	// sync that outlives the request keeps running detached and persists
	// normally, and the next request is served from the fresh cache.
	r.Use(middleware.Timeout(5 * time.Minute))

	// API Routes
	r.Get("/health", h.healthCheck)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/data", h.getData)
		r.Post("/refresh", h.refresh)
		r.Post("/full-resync", h.fullResync)
		r.Get("/cache", h.getCache)
		r.Get("/report/summary", h.getReportSummary)
	})

	return r
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// getData serves the current dataset via the default decision tree.
// GET /v1/data[?refresh=1][?full=1]
// When the sync fails outright, the persisted snapshot (if any) is served as
// a degraded response instead of an error.
func (h *Handler) getData(w http.ResponseWriter, r *http.Request) {
	var (
		result *model.SyncResult
		err    error
	)
	switch {
	case r.URL.Query().Get("full") == "1":
		result, err = h.sync.FullResync(r.Context())
	case r.URL.Query().Get("refresh") == "1":
		result, err = h.sync.Refresh(r.Context())
	default:
		result, err = h.sync.GetCurrentData(r.Context())
	}

	if err != nil {
		h.logger.Error("Sync failed", "error", err)
		if snapshot := h.sync.CachedSnapshot(); snapshot != nil {
			respondWithJSON(w, http.StatusOK, fallbackEnvelope(snapshot))
			return
		}
		respondWithError(w, http.StatusBadGateway, "Sync failed and no cached data is available")
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

// refresh forces incremental-sync semantics.
// POST /v1/refresh
func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	result, err := h.sync.Refresh(r.Context())
	if err != nil {
		h.logger.Error("Refresh failed", "error", err)
		respondWithError(w, http.StatusBadGateway, "Refresh failed")
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// fullResync forces a full sync.
// POST /v1/full-resync
func (h *Handler) fullResync(w http.ResponseWriter, r *http.Request) {
	result, err := h.sync.FullResync(r.Context())
	if err != nil {
		h.logger.Error("Full resync failed", "error", err)
		respondWithError(w, http.StatusBadGateway, "Full resync failed")
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// getCache serves the persisted snapshot directly, without syncing.
// GET /v1/cache
func (h *Handler) getCache(w http.ResponseWriter, r *http.Request) {
	snapshot := h.sync.CachedSnapshot()
	if snapshot == nil {
		respondWithError(w, http.StatusNotFound, "No cached data exists yet")
		return
	}
	respondWithJSON(w, http.StatusOK, snapshot)
}

// getReportSummary serves aggregate call statistics for the current ledger.
// GET /v1/report/summary
func (h *Handler) getReportSummary(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.reporter.Summary())
}

// fallbackEnvelope wraps a snapshot as a degraded result, stamped with the
// snapshot's own sync time so the caller knows the data is old.
func fallbackEnvelope(snapshot *model.CachedData) *model.SyncResult {
	return &model.SyncResult{
		Commits:       snapshot.Commits,
		PullRequests:  snapshot.PullRequests,
		Repositories:  snapshot.Repositories,
		UserInfo:      snapshot.UserInfo,
		Provenance:    model.ProvenanceFallback,
		IsIncremental: true,
		SyncTimestamp: snapshot.Metadata.LastSync,
	}
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
