package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/consignhub/consignhub/internal/inventory"
	jobmetrics "github.com/consignhub/consignhub/internal/jobs"
)

// LocationLister enumerates every location holding a balance.
type LocationLister interface {
	ListLocations(ctx context.Context) ([]inventory.LocationKey, error)
}

// Reconciler reports balance/ledger drift at one location.
type Reconciler interface {
	Reconcile(ctx context.Context, loc inventory.LocationKey) ([]inventory.Drift, error)
}

// LedgerReconcileJob walks the stock locations and reports balances that no longer
// match the net of their ledger entries. It only reports; nothing is corrected.
type LedgerReconcileJob struct {
	Locations  LocationLister
	Reconciler Reconciler
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
	clock      func() time.Time
}

// NewLedgerReconcileJob constructs the job handler.
func NewLedgerReconcileJob(locations LocationLister, reconciler Reconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerReconcileJob {
	return &LedgerReconcileJob{
		Locations:  locations,
		Reconciler: reconciler,
		Logger:     logger,
		Metrics:    metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// ReconcileSummary is the outcome of one run.
type ReconcileSummary struct {
	Locations int
	Drifted   int
}

// Handle executes the reconciliation.
func (j *LedgerReconcileJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Locations == nil || j.Reconciler == nil {
		return errors.New("ledger reconcile: dependencies not configured")
	}
	var payload LedgerReconcilePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	tracker := metricsOrDefault(j.Metrics).Track(TaskLedgerReconcile)
	_, err := j.Run(ctx, payload)
	return tracker.End(err)
}

// Run reconciles the locations selected by payload.
func (j *LedgerReconcileJob) Run(ctx context.Context, payload LedgerReconcilePayload) (ReconcileSummary, error) {
	log := logger(j.Logger, TaskLedgerReconcile)
	locations, err := j.resolveLocations(ctx, payload)
	if err != nil {
		log.Error("resolve locations", slog.Any("error", err))
		return ReconcileSummary{}, err
	}

	start := j.now()
	summary := ReconcileSummary{}
	for _, loc := range locations {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		drift, err := j.Reconciler.Reconcile(ctx, loc)
		if err != nil {
			log.Error("reconcile location", slog.String("location", loc.String()), slog.Any("error", err))
			return summary, fmt.Errorf("reconcile %s: %w", loc, err)
		}
		summary.Locations++
		if len(drift) == 0 {
			continue
		}
		summary.Drifted += len(drift)
		metricsOrDefault(j.Metrics).AddDrift(string(loc.Type), len(drift))
		for _, d := range drift {
			log.Warn("ledger drift",
				slog.String("location", loc.String()),
				slog.Int64("product_id", d.ProductID),
				slog.String("on_hand", d.OnHand.String()),
				slog.String("ledger_net", d.LedgerNet.String()),
				slog.String("diff", d.Diff.String()),
			)
		}
	}
	log.Info("ledger reconciled",
		slog.Int("locations", summary.Locations),
		slog.Int("drifted", summary.Drifted),
		slog.Duration("duration", time.Since(start)),
	)
	return summary, nil
}

func (j *LedgerReconcileJob) resolveLocations(ctx context.Context, payload LedgerReconcilePayload) ([]inventory.LocationKey, error) {
	if payload.LocationType == "" {
		return j.Locations.ListLocations(ctx)
	}
	typ, err := inventory.ParseLocationType(payload.LocationType)
	if err != nil {
		return nil, err
	}
	loc := inventory.LocationKey{Type: typ, ID: payload.LocationID}
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	return []inventory.LocationKey{loc}, nil
}

func (j *LedgerReconcileJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
