package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/anomaly"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/engine"
	"github.com/opensource-finance/harrier/internal/feedback"
	"github.com/opensource-finance/harrier/internal/ingest"
	"github.com/opensource-finance/harrier/internal/report"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/worker"
)

// GlobalTenantID is used for rules that apply to all tenants.
const GlobalTenantID = "*"

// defaultRunTTL bounds how long finalized runs stay cached.
const defaultRunTTL = 15 * time.Minute

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	engineCfg domain.EngineConfig
	version   string

	// engine is swapped atomically on rule reload; requests in flight
	// keep the engine they started with.
	mu     sync.RWMutex
	engine *engine.Engine
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, eng *engine.Engine, engineCfg domain.EngineConfig, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		engine:    eng,
		engineCfg: engineCfg,
		version:   version,
	}
}

func (h *Handler) currentEngine() *engine.Engine {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.engine
}

// RecordInput is one transaction row in a submitted batch. Features are
// derived server-side; callers only supply raw fields.
type RecordInput struct {
	ID            string    `json:"id"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	OriginCountry string    `json:"originCountry"`
	DestCountry   string    `json:"destCountry"`
	ClientID      string    `json:"clientId,omitempty"`
	Timestamp     time.Time `json:"timestamp,omitempty"`
}

// RunRequest is the request body for POST /runs.
type RunRequest struct {
	Records []RecordInput `json:"records"`

	// Rules, when present, replaces the persisted ruleset for this run
	// only. Not available for async submissions.
	Rules []*domain.Rule `json:"rules,omitempty"`

	// Async hands the batch to the worker pipeline instead of
	// evaluating inline; requires an event bus.
	Async bool `json:"async,omitempty"`
}

// RunResponse is the response for POST /runs.
type RunResponse struct {
	RunID       string                `json:"runId"`
	Status      string                `json:"status"`
	RecordCount int                   `json:"recordCount"`
	Counts      domain.TierCounts     `json:"counts,omitempty"`
	Findings    *domain.AuditFindings `json:"findings,omitempty"`
	Metadata    struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// CreateRun handles POST /runs requests.
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if len(req.Records) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "records must be non-empty",
		})
		return
	}

	records := make([]*domain.Record, 0, len(req.Records))
	for _, in := range req.Records {
		if in.ID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "every record requires an id",
			})
			return
		}
		if in.Amount <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "record " + in.ID + ": amount must be positive",
			})
			return
		}
		records = append(records, &domain.Record{
			ID:            in.ID,
			Amount:        in.Amount,
			Currency:      in.Currency,
			OriginCountry: in.OriginCountry,
			DestCountry:   in.DestCountry,
			ClientID:      in.ClientID,
			Timestamp:     in.Timestamp,
		})
	}

	runID := uuid.New().String()

	// Async mode: hand the batch to the worker pipeline and return
	// immediately. The findings become available via GET /runs/{id}.
	if req.Async {
		if len(req.Rules) > 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "inline rules are not supported for async runs",
			})
			return
		}
		if h.bus == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "event bus not available",
			})
			return
		}
		payload, err := json.Marshal(worker.RunMessage{
			RunID:    runID,
			TenantID: tenantID,
			Records:  records,
		})
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to encode run submission",
			})
			return
		}
		if err := h.bus.Publish(ctx, tenantID, domain.TopicRunSubmitted, payload); err != nil {
			slog.Error("failed to publish run submission", "run_id", runID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to submit run",
			})
			return
		}

		resp := RunResponse{
			RunID:       runID,
			Status:      "accepted",
			RecordCount: len(records),
		}
		resp.Metadata.TraceID = traceID
		resp.Metadata.TotalMs = time.Since(start).Milliseconds()
		resp.Metadata.Version = h.version
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	// Synchronous evaluation: derive features, run the engine, persist.
	ingest.DeriveFeatures(records)

	eng := h.currentEngine()
	if len(req.Rules) > 0 {
		// Inline rules replace the persisted ruleset for this run only.
		override, err := engine.New(req.Rules, anomaly.Params{
			Contamination: h.engineCfg.Contamination,
			MinBatchSize:  h.engineCfg.MinBatchSize,
			TopFeatures:   h.engineCfg.TopFeatures,
		}, h.engineCfg.MaxWorkers)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		eng = override
	}

	findings, err := eng.Run(ctx, records)
	if err != nil {
		if domain.IsConfigurationError(err) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		slog.Error("run failed", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "run failed",
		})
		return
	}

	run := &domain.Run{
		ID:          runID,
		TenantID:    tenantID,
		CreatedAt:   time.Now().UTC(),
		RecordCount: findings.RecordCount,
		Findings:    findings,
	}

	if h.repo != nil {
		if err := h.repo.SaveRun(ctx, tenantID, run); err != nil {
			slog.Error("failed to save run", "run_id", runID, "error", err)
		}
	}
	if h.cache != nil {
		if err := h.cache.SetRun(ctx, tenantID, run, defaultRunTTL); err != nil {
			slog.Warn("failed to cache run", "run_id", runID, "error", err)
		}
	}
	h.publishCompleted(ctx, tenantID, run)

	resp := RunResponse{
		RunID:       runID,
		Status:      "completed",
		RecordCount: findings.RecordCount,
		Counts:      findings.Counts,
		Findings:    findings,
	}
	resp.Metadata.TraceID = traceID
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// publishCompleted announces a finished run and, when the batch produced
// critical verdicts, raises an alert. Both are best-effort.
func (h *Handler) publishCompleted(ctx context.Context, tenantID string, run *domain.Run) {
	if h.bus == nil {
		return
	}
	payload, err := json.Marshal(worker.RunCompletedMessage{
		RunID:       run.ID,
		TenantID:    tenantID,
		RecordCount: run.RecordCount,
		Counts:      run.Findings.Counts,
	})
	if err != nil {
		return
	}
	if err := h.bus.Publish(ctx, tenantID, domain.TopicRunCompleted, payload); err != nil {
		slog.Warn("failed to publish run completion", "run_id", run.ID, "error", err)
	}
	if run.Findings.Counts.Critical > 0 {
		if err := h.bus.Publish(ctx, tenantID, domain.TopicCriticalAlert, payload); err != nil {
			slog.Warn("failed to publish critical alert", "run_id", run.ID, "error", err)
		}
	}
}

// GetRun retrieves a run with its findings by ID, cache first.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	runID := chi.URLParam(r, "id")

	if runID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "run id is required",
		})
		return
	}

	run, err := h.loadRun(ctx, tenantID, runID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "run not found",
			})
			return
		}
		slog.Error("failed to get run", "run_id", runID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// loadRun resolves a run through the cache, falling back to the repository
// and backfilling the cache on a miss.
func (h *Handler) loadRun(ctx context.Context, tenantID, runID string) (*domain.Run, error) {
	if h.cache != nil {
		if run, err := h.cache.GetRun(ctx, tenantID, runID); err == nil && run != nil {
			return run, nil
		}
	}

	if h.repo == nil {
		return nil, errors.New("repository not available")
	}
	run, err := h.repo.GetRun(ctx, tenantID, runID)
	if err != nil {
		return nil, err
	}

	if h.cache != nil {
		if err := h.cache.SetRun(ctx, tenantID, run, defaultRunTTL); err != nil {
			slog.Warn("failed to backfill run cache", "run_id", runID, "error", err)
		}
	}
	return run, nil
}

// ListRuns returns the tenant's most recent runs.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = n
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	runs, err := h.repo.ListRuns(ctx, tenantID, limit)
	if err != nil {
		slog.Error("failed to list runs", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list runs",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetReport renders the summary report for a completed run, folding in any
// analyst feedback recorded for the tenant.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	runID := chi.URLParam(r, "id")

	if runID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "run id is required",
		})
		return
	}

	run, err := h.loadRun(ctx, tenantID, runID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "run not found",
			})
			return
		}
		slog.Error("failed to get run for report", "run_id", runID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	var entries []domain.FeedbackEntry
	if h.repo != nil {
		stored, err := h.repo.ListFeedback(ctx, tenantID)
		if err != nil {
			slog.Error("failed to list feedback for report", "error", err)
		} else {
			entries = make([]domain.FeedbackEntry, 0, len(stored))
			for _, e := range stored {
				entries = append(entries, *e)
			}
		}
	}

	summary := report.Generate(nil, run.Findings, entries, h.engineCfg.TopAnomalies)
	writeJSON(w, http.StatusOK, summary)
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

// ListRules returns all persisted rule configurations.
// Rules are stored globally (tenant_id = "*") so they apply to all tenants.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	ruleset, err := h.repo.ListRules(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list rules",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  ruleset,
		"count":  len(ruleset),
		"source": "database",
	})
}

// GetRule retrieves a rule by name.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")

	if name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule name is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	rule, err := h.repo.GetRule(ctx, GlobalTenantID, name)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "rule not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// CreateRule validates and persists a rule configuration.
// After saving, call POST /rules/reload to hot-reload into the engine.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var rule domain.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := rule.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	if err := h.repo.SaveRule(ctx, GlobalTenantID, &rule); err != nil {
		slog.Error("failed to save rule", "name", rule.Name, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	slog.Info("rule created", "name", rule.Name, "kind", rule.Kind)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    rule,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// DeleteRule removes a rule configuration by name.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")

	if name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule name is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	if err := h.repo.DeleteRule(ctx, GlobalTenantID, name); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "rule not found",
		})
		return
	}

	slog.Info("rule deleted", "name", name)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Rule deleted. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules rebuilds the engine from the persisted ruleset.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	stored, err := h.repo.ListRules(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	ruleset := make([]*domain.Rule, 0, len(stored))
	for _, rule := range stored {
		if rule.Enabled {
			ruleset = append(ruleset, rule)
		}
	}

	eng, err := engine.New(ruleset, anomaly.Params{
		Contamination: h.engineCfg.Contamination,
		MinBatchSize:  h.engineCfg.MinBatchSize,
		TopFeatures:   h.engineCfg.TopFeatures,
	}, h.engineCfg.MaxWorkers)
	if err != nil {
		slog.Error("failed to rebuild engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	h.mu.Lock()
	h.engine = eng
	h.mu.Unlock()

	slog.Info("rules reloaded from database", "count", len(ruleset))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   len(ruleset),
	})
}

// FeedbackRequest is the request body for POST /feedback.
type FeedbackRequest struct {
	RecordID string `json:"recordId"`
	Label    string `json:"label"`
}

// SubmitFeedback records one analyst label for a record.
func (h *Handler) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.RecordID == "" || req.Label == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "recordId and label are required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	entry := &domain.FeedbackEntry{
		RecordID:  req.RecordID,
		Label:     req.Label,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.repo.SaveFeedback(ctx, tenantID, entry); err != nil {
		slog.Error("failed to save feedback", "record_id", req.RecordID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save feedback",
		})
		return
	}

	writeJSON(w, http.StatusCreated, entry)
}

// FeedbackSummary aggregates the tenant's feedback entries per label.
func (h *Handler) FeedbackSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	stored, err := h.repo.ListFeedback(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list feedback", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list feedback",
		})
		return
	}

	entries := make([]domain.FeedbackEntry, 0, len(stored))
	for _, e := range stored {
		entries = append(entries, *e)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"summary": feedback.Summarize(entries),
		"total":   len(entries),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
