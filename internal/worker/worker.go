// Package worker provides async run processing off the event bus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/engine"
	"github.com/opensource-finance/harrier/internal/ingest"
)

// Worker consumes submitted runs from the EventBus, executes the engine,
// persists the findings, and publishes lifecycle events.
type Worker struct {
	bus    domain.EventBus
	repo   domain.Repository
	cache  domain.Cache
	engine *engine.Engine

	cacheTTL time.Duration

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process.
	TenantIDs []string

	// CacheTTL bounds how long completed runs stay cached.
	CacheTTL time.Duration
}

// NewWorker creates a new async worker. Cache may be nil.
func NewWorker(bus domain.EventBus, repo domain.Repository, cache domain.Cache, eng *engine.Engine) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		repo:     repo,
		cache:    cache,
		engine:   eng,
		cacheTTL: 15 * time.Minute,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing submitted runs for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if cfg.CacheTTL > 0 {
		w.cacheTTL = cfg.CacheTTL
	}

	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicRunSubmitted, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts workers for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicRunSubmitted, func(ctx context.Context, msg *domain.Message) error {
		return w.processRun(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicRunSubmitted,
	)

	return nil
}

// handleMessage handles messages from global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processRun(ctx, msg.TenantID, msg)
}

// RunMessage is the payload for a submitted run.
type RunMessage struct {
	RunID    string           `json:"runId"`
	TenantID string           `json:"tenantId"`
	Records  []*domain.Record `json:"records"`
}

// RunCompletedMessage announces a finished run without carrying the full
// findings document; consumers fetch it by id.
type RunCompletedMessage struct {
	RunID       string            `json:"runId"`
	TenantID    string            `json:"tenantId"`
	RecordCount int               `json:"recordCount"`
	Counts      domain.TierCounts `json:"counts"`
}

// processRun executes one submitted batch end to end.
func (w *Worker) processRun(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var runMsg RunMessage
	if err := json.Unmarshal(msg.Payload, &runMsg); err != nil {
		slog.Error("failed to parse run message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if runMsg.TenantID != "" {
		tenantID = runMsg.TenantID
	}

	slog.Debug("processing run",
		"run_id", runMsg.RunID,
		"tenant_id", tenantID,
		"records", len(runMsg.Records),
	)

	ingest.DeriveFeatures(runMsg.Records)

	findings, err := w.engine.Run(ctx, runMsg.Records)
	if err != nil {
		slog.Error("run failed",
			"run_id", runMsg.RunID,
			"tenant_id", tenantID,
			"error", err,
		)
		return err
	}

	run := &domain.Run{
		ID:          runMsg.RunID,
		TenantID:    tenantID,
		CreatedAt:   time.Now().UTC(),
		RecordCount: findings.RecordCount,
		Findings:    findings,
	}

	if w.repo != nil {
		if err := w.repo.SaveRun(ctx, tenantID, run); err != nil {
			slog.Error("failed to save run",
				"run_id", run.ID,
				"error", err,
			)
			return err
		}
	}

	if w.cache != nil {
		if err := w.cache.SetRun(ctx, tenantID, run, w.cacheTTL); err != nil {
			slog.Warn("failed to cache run",
				"run_id", run.ID,
				"error", err,
			)
		}
	}

	completed, _ := json.Marshal(RunCompletedMessage{
		RunID:       run.ID,
		TenantID:    tenantID,
		RecordCount: run.RecordCount,
		Counts:      findings.Counts,
	})
	if err := w.bus.Publish(ctx, tenantID, domain.TopicRunCompleted, completed); err != nil {
		slog.Error("failed to publish run completion",
			"run_id", run.ID,
			"error", err,
		)
	}

	if findings.Counts.Critical > 0 {
		if err := w.bus.Publish(ctx, tenantID, domain.TopicCriticalAlert, completed); err != nil {
			slog.Error("failed to publish critical alert",
				"run_id", run.ID,
				"error", err,
			)
		}
	}

	slog.Info("run processed",
		"run_id", run.ID,
		"tenant_id", tenantID,
		"records", run.RecordCount,
		"critical", findings.Counts.Critical,
		"review", findings.Counts.Review,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
