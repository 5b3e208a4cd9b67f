package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kimhsiao/teamsync/agent/internal/command"
	"github.com/kimhsiao/teamsync/agent/internal/errors"
	"github.com/kimhsiao/teamsync/agent/internal/models"
	syncpkg "github.com/kimhsiao/teamsync/agent/internal/sync"
	"github.com/kimhsiao/teamsync/agent/internal/sync/scheduler"
)

// QueueStore is the part of the durable queue the HTTP surface needs.
type QueueStore interface {
	GetAllPending(ctx context.Context) ([]*models.QueueRecord, error)
	Add(ctx context.Context, rec *models.QueueRecord) error
	ResetFailed(ctx context.Context, id string) (*models.QueueRecord, error)
	Stats(ctx context.Context) (map[string]int, error)
}

// SyncScheduler registers a sync the same way the schedule-sync command does.
type SyncScheduler interface {
	ScheduleSync(ctx context.Context) command.Result
}

// StatusReporter reports scheduler state.
type StatusReporter interface {
	Status() scheduler.SchedulerStatus
}

// Deps are the collaborators behind the routes. Engine and Scheduler may be
// nil, in which case /api/sync/status reports only what is available.
type Deps struct {
	Store     QueueStore
	Sync      SyncScheduler
	WebSocket http.HandlerFunc
	Engine    syncpkg.SyncEngineInterface
	Scheduler StatusReporter
}

// Handler handles the agent's HTTP requests.
type Handler struct {
	deps      Deps
	validator *validator.Validate
}

// NewHandler creates a new Handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		deps:      deps,
		validator: validator.New(),
	}
}

// NewRouter builds the chi router.
func NewRouter(deps Deps) *chi.Mux {
	h := NewHandler(deps)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", promhttp.Handler())
	if deps.WebSocket != nil {
		r.Get("/ws", deps.WebSocket)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(requestLogger)
		r.Use(middleware.Timeout(30 * time.Second))
		h.RegisterRoutes(r)
	})

	return r
}

// RegisterRoutes registers the queue and sync routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/queue", func(r chi.Router) {
		r.Get("/", h.ListQueue)
		r.Post("/", h.Enqueue)
		r.Post("/{id}/retry", h.RetryRecord)
	})
	r.Post("/sync", h.ScheduleSync)
	r.Get("/sync/status", h.SyncStatus)
}

// EnqueueRequest represents request body for queueing a mutation.
type EnqueueRequest struct {
	ID     string                 `json:"id" validate:"omitempty,max=128"`
	Type   string                 `json:"type" validate:"required,max=64"`
	Action string                 `json:"action" validate:"required,oneof=create update delete"`
	Data   map[string]interface{} `json:"data"`
}

// QueueResponse is the body of GET /api/queue.
type QueueResponse struct {
	Records []*models.QueueRecord `json:"records"`
	Stats   map[string]int        `json:"stats"`
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListQueue handles GET /api/queue.
func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	records, err := h.deps.Store.GetAllPending(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	stats, err := h.deps.Store.Stats(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	syncpkg.RecordQueueStats(stats)

	if records == nil {
		records = []*models.QueueRecord{}
	}
	Success(w, http.StatusOK, QueueResponse{Records: records, Stats: stats})
}

// Enqueue handles POST /api/queue.
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, errors.ErrInvalid, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		ValidationError(w, err)
		return
	}

	rec := models.NewQueueRecord(req.Type, models.Action(req.Action), req.Data)
	if req.ID != "" {
		rec.ID = req.ID
	}
	if err := rec.Validate(); err != nil {
		Error(w, http.StatusBadRequest, errors.ErrInvalid, err.Error())
		return
	}

	if err := h.deps.Store.Add(r.Context(), rec); err != nil {
		handleError(w, r, err)
		return
	}

	Success(w, http.StatusCreated, rec)
}

// RetryRecord handles POST /api/queue/{id}/retry.
func (h *Handler) RetryRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := h.deps.Store.ResetFailed(r.Context(), id)
	if err != nil {
		handleError(w, r, err, codeMapping{errors.ErrInvalid, http.StatusConflict})
		return
	}

	Success(w, http.StatusOK, rec)
}

// ScheduleSync handles POST /api/sync.
func (h *Handler) ScheduleSync(w http.ResponseWriter, r *http.Request) {
	result := h.deps.Sync.ScheduleSync(r.Context())
	if !result.Success {
		JSON(w, http.StatusServiceUnavailable, result)
		return
	}
	JSON(w, http.StatusAccepted, result)
}

// SyncStatusResponse is the body of GET /api/sync/status.
type SyncStatusResponse struct {
	Engine    syncpkg.SyncStatus         `json:"engine,omitempty"`
	LastRun   *syncpkg.RunResult         `json:"lastRun,omitempty"`
	Scheduler *scheduler.SchedulerStatus `json:"scheduler,omitempty"`
}

// SyncStatus handles GET /api/sync/status.
func (h *Handler) SyncStatus(w http.ResponseWriter, _ *http.Request) {
	var resp SyncStatusResponse
	if h.deps.Engine != nil {
		resp.Engine = h.deps.Engine.Status()
		resp.LastRun = h.deps.Engine.LastResult()
	}
	if h.deps.Scheduler != nil {
		status := h.deps.Scheduler.Status()
		resp.Scheduler = &status
	}
	Success(w, http.StatusOK, resp)
}
