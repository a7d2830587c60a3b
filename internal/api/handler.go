package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-analytics/harrier/internal/assignment"
	"github.com/opensource-analytics/harrier/internal/domain"
	"github.com/opensource-analytics/harrier/internal/drift"
	"github.com/opensource-analytics/harrier/internal/scores"
	"github.com/opensource-analytics/harrier/internal/worker"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo        domain.Repository
	cache       domain.Cache
	bus         domain.EventBus
	assigner    *assignment.Service
	drifter     *drift.Service
	runner      *worker.DiscoveryRunner
	snapshots   *worker.SnapshotRunner
	scoreEngine *scores.Engine
	version     string

	// async defers reassignment to the bus worker instead of running it
	// on the ingest path.
	async bool
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, assigner *assignment.Service, drifter *drift.Service, runner *worker.DiscoveryRunner, snapshots *worker.SnapshotRunner, scoreEngine *scores.Engine, version string, async bool) *Handler {
	return &Handler{
		repo:        repo,
		cache:       cache,
		bus:         bus,
		assigner:    assigner,
		drifter:     drifter,
		runner:      runner,
		snapshots:   snapshots,
		scoreEngine: scoreEngine,
		version:     version,
		async:       async,
	}
}

// IngestResponse is the response for POST /subjects/{id}/events.
type IngestResponse struct {
	EventID     string                   `json:"eventId"`
	Status      string                   `json:"status"`
	Reason      string                   `json:"reason,omitempty"`
	Profile     *domain.SubjectProfile   `json:"profile,omitempty"`
	Metadata    struct {
		TraceID  string `json:"traceId"`
		IngestMs int64  `json:"ingestMs"`
		TotalMs  int64  `json:"totalMs"`
		Version  string `json:"version"`
	} `json:"metadata"`
}

// IngestEvent handles POST /subjects/{id}/events: persist the event,
// then reassign the subject either inline or via the bus worker.
func (h *Handler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)
	subjectID := chi.URLParam(r, "id")

	var req domain.EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if subjectID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "subject id is required",
		})
		return
	}
	if req.Type == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "type is required",
		})
		return
	}
	if req.Amount < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "amount must not be negative",
		})
		return
	}

	ev := req.ToEvent(tenantID, subjectID)
	ev.ID = uuid.New().String()

	if err := h.repo.SaveEvent(ctx, tenantID, ev); err != nil {
		slog.Error("failed to save event", "subject_id", subjectID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save event",
		})
		return
	}

	ingestMs := time.Since(start).Milliseconds()

	if h.bus != nil {
		payload, _ := json.Marshal(worker.EventMessage{
			EventID:   ev.ID,
			TenantID:  tenantID,
			SubjectID: subjectID,
			Type:      ev.Type,
		})
		if err := h.bus.Publish(ctx, tenantID, domain.TopicEventIngested, payload); err != nil {
			slog.Error("failed to publish event", "event_id", ev.ID, "error", err)
		}
	}

	resp := IngestResponse{EventID: ev.ID}
	resp.Metadata.TraceID = traceID
	resp.Metadata.IngestMs = ingestMs
	resp.Metadata.Version = h.version

	// Async mode: the bus worker reassigns; the caller polls the
	// profile endpoint.
	if h.async {
		resp.Status = "QUEUED"
		resp.Metadata.TotalMs = time.Since(start).Milliseconds()
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	now := time.Now().UTC()
	result, err := h.assigner.AssignSubject(ctx, tenantID, subjectID, now)
	if err != nil {
		slog.Error("assignment failed", "subject_id", subjectID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "assignment failed",
		})
		return
	}

	if result.Grouped() && h.drifter != nil {
		if _, err := h.drifter.CaptureSnapshots(ctx, tenantID, result.Profile, now); err != nil {
			slog.Error("snapshot capture failed", "subject_id", subjectID, "error", err)
		}
	}

	resp.Status = result.Status
	resp.Reason = result.Reason
	resp.Profile = result.Profile
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()

	writeJSON(w, http.StatusOK, resp)
}

// AssignSubject handles POST /subjects/{id}/assign: force a
// reassignment from current history.
func (h *Handler) AssignSubject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	subjectID := chi.URLParam(r, "id")

	if subjectID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "subject id is required",
		})
		return
	}

	now := time.Now().UTC()
	result, err := h.assigner.AssignSubject(ctx, tenantID, subjectID, now)
	if err != nil {
		slog.Error("assignment failed", "subject_id", subjectID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "assignment failed",
		})
		return
	}

	if result.Grouped() && h.drifter != nil {
		if _, err := h.drifter.CaptureSnapshots(ctx, tenantID, result.Profile, now); err != nil {
			slog.Error("snapshot capture failed", "subject_id", subjectID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, result)
}

// GetProfile handles GET /subjects/{id}/profile. An unassigned subject
// is a 200 with UNGR status, not an error.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	subjectID := chi.URLParam(r, "id")

	if subjectID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "subject id is required",
		})
		return
	}

	result, err := h.assigner.GetProfile(ctx, tenantID, subjectID)
	if err != nil {
		slog.Error("failed to get profile", "subject_id", subjectID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get profile",
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ListDriftReports handles GET /subjects/{id}/drift.
func (h *Handler) ListDriftReports(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	subjectID := chi.URLParam(r, "id")

	reports, err := h.drifter.Reports(ctx, tenantID, subjectID, 0)
	if err != nil {
		slog.Error("failed to list drift reports", "subject_id", subjectID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list drift reports",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reports": reports,
		"count":   len(reports),
	})
}

// ComputeDrift handles POST /subjects/{id}/drift: compute and persist a
// fresh drift report from the newest snapshots.
func (h *Handler) ComputeDrift(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	subjectID := chi.URLParam(r, "id")

	report, err := h.drifter.ComputeDrift(ctx, tenantID, subjectID)
	if errors.Is(err, domain.ErrInsufficientData) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}
	if err != nil {
		slog.Error("drift computation failed", "subject_id", subjectID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "drift computation failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// RunDiscovery handles POST /discovery/run: sample, extract, and refit
// every axis. Runs synchronously; callers should treat it as a batch
// operation.
func (h *Handler) RunDiscovery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	run, err := h.runner.Run(ctx, tenantID, time.Now().UTC())
	if errors.Is(err, domain.ErrInsufficientData) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}
	if err != nil {
		slog.Error("discovery run failed", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "discovery run failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// GetDiscoveryRun handles GET /discovery/runs/{id}.
func (h *Handler) GetDiscoveryRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	runID := chi.URLParam(r, "id")

	run, err := h.repo.GetDiscoveryRun(ctx, tenantID, runID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "discovery run not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// ListAxes handles GET /axes: the latest model of every axis.
func (h *Handler) ListAxes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	models, err := h.repo.ListAxisModels(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list axis models", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list axis models",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"axes":  models,
		"count": len(models),
	})
}

// GetAxis handles GET /axes/{name}, optionally pinned with ?version=.
func (h *Handler) GetAxis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	axisName := chi.URLParam(r, "name")
	version := r.URL.Query().Get("version")

	var model *domain.AxisModel
	var err error
	if version != "" {
		model, err = h.repo.GetAxisModelVersion(ctx, tenantID, axisName, version)
	} else {
		model, err = h.repo.GetAxisModel(ctx, tenantID, axisName)
	}
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "axis model not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, model)
}

// ListArchetypes handles GET /archetypes, largest first.
func (h *Handler) ListArchetypes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	archetypes, err := h.repo.ListArchetypes(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list archetypes", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list archetypes",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"archetypes": archetypes,
		"count":      len(archetypes),
	})
}

// GetArchetype handles GET /archetypes/{id}.
func (h *Handler) GetArchetype(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	archetypeID := chi.URLParam(r, "id")

	archetype, err := h.repo.GetArchetype(ctx, tenantID, archetypeID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "archetype not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, archetype)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListScores returns all loaded scores from the engine.
// Scores are loaded from the database at startup and can be reloaded via POST /scores/reload.
func (h *Handler) ListScores(w http.ResponseWriter, r *http.Request) {
	loadedScores := h.scoreEngine.GetLoadedScores()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"scores": loadedScores,
		"count":  len(loadedScores),
		"source": "database",
	})
}

// GetScore retrieves a score by ID from the loaded engine scores.
func (h *Handler) GetScore(w http.ResponseWriter, r *http.Request) {
	scoreID := chi.URLParam(r, "id")

	if scoreID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "score id is required",
		})
		return
	}

	for _, score := range h.scoreEngine.GetLoadedScores() {
		if score.ID == scoreID {
			writeJSON(w, http.StatusOK, score)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "score not found",
	})
}

// CreateScoreRequest is the request body for creating a score.
type CreateScoreRequest struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Expression  string             `json:"expression"`
	Bands       []domain.ScoreBand `json:"bands,omitempty"`
	Enabled     bool               `json:"enabled"`
}

// GlobalTenantID is used for scores that apply to all tenants.
const GlobalTenantID = "*"

// CreateScore creates a new derived score and saves it to the database.
// Scores are saved globally (tenant_id = "*") so they apply to all tenants.
// After saving, call POST /scores/reload to hot-reload into the engine.
func (h *Handler) CreateScore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	scoreConfig := &domain.ScoreConfig{
		ID:          req.ID,
		TenantID:    GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Bands:       req.Bands,
		Enabled:     req.Enabled,
	}

	// Validate CEL expression by attempting to load
	if err := h.scoreEngine.LoadScore(scoreConfig); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveScoreConfig(ctx, GlobalTenantID, scoreConfig); err != nil {
			slog.Error("failed to save score config", "id", scoreConfig.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save score",
			})
			return
		}
	}

	slog.Info("score created", "id", scoreConfig.ID, "name", scoreConfig.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"score":   scoreConfig,
		"message": "Score created. Call POST /scores/reload to apply changes.",
	})
}

// DeleteScore deletes a score and auto-reloads the engine.
func (h *Handler) DeleteScore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scoreID := chi.URLParam(r, "id")

	if scoreID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "score id is required",
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.DeleteScoreConfig(ctx, GlobalTenantID, scoreID); err != nil {
			slog.Error("failed to delete score", "id", scoreID, "error", err)
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "score not found",
			})
			return
		}

		// Auto-reload engine after delete
		dbScores, err := h.repo.ListScoreConfigs(ctx, GlobalTenantID)
		if err != nil {
			slog.Error("failed to reload scores after delete", "error", err)
		} else if err := h.scoreEngine.ReloadScores(dbScores); err != nil {
			slog.Error("failed to reload scores into engine", "error", err)
		} else {
			slog.Info("scores auto-reloaded after delete", "count", len(dbScores))
		}
	}

	slog.Info("score deleted", "id", scoreID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Score deleted and engine reloaded.",
	})
}

// ReloadScores reloads all scores from the database into the engine.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadScores(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	dbScores, err := h.repo.ListScoreConfigs(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list scores from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load scores from database",
		})
		return
	}

	if err := h.scoreEngine.ReloadScores(dbScores); err != nil {
		slog.Error("failed to reload scores into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload scores: " + err.Error(),
		})
		return
	}

	slog.Info("scores reloaded from database", "count", len(dbScores))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "scores reloaded successfully",
		"count":   len(dbScores),
	})
}

// RunSnapshots handles POST /snapshots/run: capture due snapshots for
// every profile and prune expired ones.
func (h *Handler) RunSnapshots(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	captured, pruned, err := h.snapshots.Run(ctx, tenantID, time.Now().UTC())
	if err != nil {
		slog.Error("snapshot run failed", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "snapshot run failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"captured": captured,
		"pruned":   pruned,
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
