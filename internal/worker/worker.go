// Package worker provides async event processing and scheduled
// segmentation jobs.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-analytics/harrier/internal/assignment"
	"github.com/opensource-analytics/harrier/internal/domain"
	"github.com/opensource-analytics/harrier/internal/drift"
)

// Worker reassigns subjects asynchronously as events arrive on the bus.
type Worker struct {
	bus      domain.EventBus
	assigner *assignment.Service
	drifter  *drift.Service

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all via wildcard if supported)
	TenantIDs []string

	// WorkerCount is the number of concurrent workers per tenant
	WorkerCount int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, assigner *assignment.Service, drifter *drift.Service) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		assigner: assigner,
		drifter:  drifter,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing events for the given tenants.
func (w *Worker) Start(cfg Config) error {
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
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicEventIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts workers for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicEventIngested, func(ctx context.Context, msg *domain.Message) error {
		return w.processEvent(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicEventIngested,
	)

	return nil
}

// handleMessage handles messages from the global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processEvent(ctx, msg.TenantID, msg)
}

// EventMessage is the message payload published on event ingestion.
type EventMessage struct {
	EventID   string `json:"eventId"`
	TenantID  string `json:"tenantId"`
	SubjectID string `json:"subjectId"`
	Type      string `json:"type"`
}

// processEvent reassigns the subject behind an ingested event and
// captures any due snapshots.
func (w *Worker) processEvent(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var evMsg EventMessage
	if err := json.Unmarshal(msg.Payload, &evMsg); err != nil {
		slog.Error("failed to parse event message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if evMsg.TenantID != "" {
		tenantID = evMsg.TenantID
	}
	if evMsg.SubjectID == "" {
		slog.Warn("event message without subject", "message_id", msg.ID)
		return nil
	}

	slog.Debug("processing event",
		"event_id", evMsg.EventID,
		"subject_id", evMsg.SubjectID,
		"tenant_id", tenantID,
	)

	now := time.Now().UTC()
	result, err := w.assigner.AssignSubject(ctx, tenantID, evMsg.SubjectID, now)
	if err != nil {
		slog.Error("assignment failed",
			"subject_id", evMsg.SubjectID,
			"error", err,
		)
		return err
	}

	if result.Grouped() && w.drifter != nil {
		if _, err := w.drifter.CaptureSnapshots(ctx, tenantID, result.Profile, now); err != nil {
			slog.Error("snapshot capture failed",
				"subject_id", evMsg.SubjectID,
				"error", err,
			)
		}
	}

	slog.Info("event processed",
		"event_id", evMsg.EventID,
		"subject_id", evMsg.SubjectID,
		"tenant_id", tenantID,
		"status", result.Status,
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
