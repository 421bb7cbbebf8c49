// Package http serves the job trigger and status API.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"ai-call-triage-service/internal/ledger"
	"ai-call-triage-service/internal/models"
	"ai-call-triage-service/internal/observability/logging"
	"ai-call-triage-service/internal/schema"
	"ai-call-triage-service/internal/service/orchestrator"
	"ai-call-triage-service/internal/service/storage"
)

// SourceHTTP labels triggers submitted through the API.
const SourceHTTP = "http"

const maxTriggerBytes = 1 << 20

// Submitter accepts job triggers.
type Submitter interface {
	Submit(ctx context.Context, source string, trigger models.Trigger) (string, error)
}

// JobStore reads job records.
type JobStore interface {
	Get(ctx context.Context, jobID string) (*ledger.Record, error)
	List(ctx context.Context, limit int) ([]ledger.Record, error)
}

// SnapshotReader reads persisted job snapshots.
type SnapshotReader interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Deps are the collaborators behind the API.
type Deps struct {
	Submitter Submitter
	Jobs      JobStore
	Snapshots SnapshotReader
	Ready     []ReadinessCheck
}

type handler struct {
	deps   Deps
	logger zerolog.Logger
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(deps Deps) http.Handler {
	h := &handler{deps: deps, logger: logging.WithComponent("http")}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", h.readiness)

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Post("/", h.createJob)
		r.Get("/", h.listJobs)
		r.Get("/{jobId}", h.getJob)
		r.Get("/{jobId}/snapshot", h.getSnapshot)
	})

	return r
}

func (h *handler) readiness(w http.ResponseWriter, r *http.Request) {
	for _, check := range h.deps.Ready {
		if err := check(r.Context()); err != nil {
			h.logger.Warn().Err(err).Msg("Readiness check failed")
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (h *handler) createJob(w http.ResponseWriter, r *http.Request) {
	var trigger models.Trigger
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTriggerBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&trigger); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	jobID, err := h.deps.Submitter.Submit(r.Context(), SourceHTTP, trigger)
	if err != nil {
		var verr *schema.ValidationError
		switch {
		case errors.As(err, &verr):
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": verr.Message, "fields": verr.Fields})
		case errors.Is(err, ledger.ErrDuplicateJob):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, orchestrator.ErrShuttingDown):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			h.logger.Error().Err(err).Str("jobId", jobID).Msg("Failed to submit job")
			writeError(w, http.StatusInternalServerError, "failed to submit job")
		}
		return
	}

	w.Header().Set("Location", "/v1/jobs/"+jobID)
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID, "status": "accepted"})
}

func (h *handler) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	recs, err := h.deps.Jobs.List(r.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if recs == nil {
		recs = []ledger.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *handler) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	rec, err := h.deps.Jobs.Get(r.Context(), jobID)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case err != nil:
		h.logger.Error().Err(err).Str("jobId", jobID).Msg("Failed to read job")
		writeError(w, http.StatusInternalServerError, "failed to read job")
	default:
		writeJSON(w, http.StatusOK, rec)
	}
}

// getSnapshot returns the persisted snapshot bytes unchanged.
func (h *handler) getSnapshot(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	data, err := h.deps.Snapshots.Get(r.Context(), storage.ProcessedKey(jobID))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "snapshot not found")
	case err != nil:
		h.logger.Error().Err(err).Str("jobId", jobID).Msg("Failed to read snapshot")
		writeError(w, http.StatusInternalServerError, "failed to read snapshot")
	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}

func (h *handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Str("requestId", middleware.GetReqID(r.Context())).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
