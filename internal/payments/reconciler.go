package payments

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/multierr"

	"github.com/dukerupert/payline/internal/catalog"
	"github.com/dukerupert/payline/internal/model"
	"github.com/dukerupert/payline/internal/processor"
	"github.com/dukerupert/payline/internal/store"
)

// Reconciler turns pending webhook events into durable subscription state.
// It is the sole writer of webhook event status, the subscription registry,
// and the user projection. Failures are terminal to the record, never to the
// worker: a bad event is marked failed and the loop moves on.
type Reconciler struct {
	db       *sql.DB
	registry *processor.Registry
	catalog  *catalog.Catalog
	events   *store.WebhookEventStore
	subs     *store.SubscriptionStore
	users    *store.UserStore
	notify   <-chan string
	logger   *slog.Logger

	pollInterval time.Duration
	batchSize    int
}

func NewReconciler(
	db *sql.DB,
	registry *processor.Registry,
	cat *catalog.Catalog,
	events *store.WebhookEventStore,
	subs *store.SubscriptionStore,
	users *store.UserStore,
	notify <-chan string,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		db:           db,
		registry:     registry,
		catalog:      cat,
		events:       events,
		subs:         subs,
		users:        users,
		notify:       notify,
		logger:       logger,
		pollInterval: 5 * time.Second,
		batchSize:    50,
	}
}

// Run consumes receiver notifications and periodically sweeps for pending
// records the channel missed (full buffer, crash before notify). It returns
// when the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	// Drain whatever was pending before startup.
	r.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case id := <-r.notify:
			r.ReconcileOne(ctx, id)
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context) {
	pending, err := r.events.ListPending(r.batchSize)
	if err != nil {
		r.logger.Error("list pending events", "error", err)
		return
	}
	for _, evt := range pending {
		if ctx.Err() != nil {
			return
		}
		r.ReconcileOne(ctx, evt.ID)
	}
}

// ReconcileOne claims and reconciles a single event. The pending→processing
// transition is a compare-and-set, so a concurrent trigger for the same id
// loses the claim and returns without touching anything.
func (r *Reconciler) ReconcileOne(ctx context.Context, eventID string) {
	claimed, err := r.events.ClaimPending(eventID)
	if err != nil {
		r.logger.Error("claim event", "event_id", eventID, "error", err)
		return
	}
	if !claimed {
		r.logger.Debug("event not pending, skipping", "event_id", eventID)
		return
	}

	evt, err := r.events.GetByID(eventID)
	if err != nil || evt == nil {
		r.logger.Error("load claimed event", "event_id", eventID, "error", err)
		return
	}

	if err := r.reconcile(ctx, evt); err != nil {
		r.fail(evt, err)
	}
}

func (r *Reconciler) reconcile(ctx context.Context, evt *model.WebhookEvent) error {
	if evt.UID == nil || *evt.UID == "" {
		return fmt.Errorf("MissingUID: event %s has no resolved user", evt.ID)
	}
	uid := *evt.UID

	adapter, err := r.registry.Get(evt.Processor)
	if err != nil {
		return fmt.Errorf("resolve adapter: %w", err)
	}

	obj, err := processor.ExtractObject(evt.Raw)
	if err != nil {
		return err
	}

	unified, err := adapter.ToUnified(obj, processor.ToUnifiedContext{
		Catalog:   r.catalog,
		EventName: evt.EventType,
		EventID:   evt.ID,
	})
	if err != nil {
		return fmt.Errorf("normalize subscription: %w", err)
	}

	if err := r.project(evt, uid, unified); err != nil {
		return err
	}

	r.logger.Info("event reconciled",
		"event_id", evt.ID, "event_type", evt.EventType, "uid", uid,
		"resource_id", unified.Payment.ResourceID, "status", unified.Status)
	return nil
}

// project writes the user projection, the registry record, and the completed
// status in one transaction. The registry write is skipped when the
// normalized subscription carries no resource id; that is logged, not fatal.
func (r *Reconciler) project(evt *model.WebhookEvent, uid string, unified *model.UnifiedSubscription) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin projection: %w", err)
	}
	defer tx.Rollback()

	if err := r.users.UpdateSubscriptionTx(tx, uid, unified); err != nil {
		return err
	}

	if unified.Payment.ResourceID != "" {
		rec := &model.SubscriptionRecord{
			ResourceID:   unified.Payment.ResourceID,
			UID:          uid,
			Processor:    evt.Processor,
			Subscription: *unified,
			Raw:          evt.Raw,
			Metadata:     model.RecordMetadata{UpdatedBy: evt.ID},
		}
		if err := r.subs.UpsertTx(tx, rec); err != nil {
			return err
		}
	} else {
		r.logger.Warn("no resource id, skipping registry write", "event_id", evt.ID, "uid", uid)
	}

	if err := r.events.MarkCompletedTx(tx, evt.ID, uid); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit projection: %w", err)
	}
	return nil
}

// fail records the error on the event. Nothing propagates past here; the
// provider already got its 200 and retry happens by re-delivering the event.
func (r *Reconciler) fail(evt *model.WebhookEvent, cause error) {
	if markErr := r.events.MarkFailed(evt.ID, cause.Error()); markErr != nil {
		cause = multierr.Append(cause, markErr)
	}
	r.logger.Error("reconciliation failed",
		"event_id", evt.ID, "event_type", evt.EventType, "processor", evt.Processor, "error", cause)
}
