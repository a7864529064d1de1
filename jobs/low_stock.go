package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/rxoptima/rxoptima/internal/docstore"
	"github.com/rxoptima/rxoptima/internal/inventory"
	jobmetrics "github.com/rxoptima/rxoptima/internal/jobs"
)

// LowStockJob records low-stock alerts raised by the engines.
type LowStockJob struct {
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLowStockJob initialises the alert handler.
func NewLowStockJob(logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockJob {
	return &LowStockJob{Logger: logger, Metrics: metrics}
}

// Handle processes TaskLowStockAlert tasks.
func (j *LowStockJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil {
		return errors.New("low stock: handler not configured")
	}
	var payload LowStockPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("low stock: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskLowStockAlert)
	defer func() { err = tracker.End(err) }()

	logger(j.Logger).Warn("drug below stock threshold",
		slog.String("identity", payload.Identity),
		slog.String("drug_id", payload.DrugID),
		slog.String("name", payload.Name),
		slog.Int("remaining", payload.Remaining),
		slog.Int("threshold", payload.Threshold),
		slog.String("source", payload.Source),
	)
	j.Metrics.AddLowStock(payload.Source)
	return nil
}

// LowStockSweepJob scans an operator's inventory and reports every item
// below the threshold.
type LowStockSweepJob struct {
	Store     docstore.Store
	Namespace string
	Threshold int
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	clock     func() time.Time
}

// NewLowStockSweepJob initialises the sweep handler.
func NewLowStockSweepJob(store docstore.Store, namespace string, threshold int, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockSweepJob {
	return &LowStockSweepJob{
		Store:     store,
		Namespace: namespace,
		Threshold: threshold,
		Logger:    logger,
		Metrics:   metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskLowStockSweep tasks.
func (j *LowStockSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload LowStockSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("low stock sweep: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	_, err := j.Sweep(ctx, payload)
	return err
}

// Sweep returns the alerts for every item of the operator below threshold.
func (j *LowStockSweepJob) Sweep(ctx context.Context, payload LowStockSweepPayload) (alerts []inventory.LowStockAlert, err error) {
	if j == nil || j.Store == nil {
		return nil, errors.New("low stock sweep: handler not configured")
	}
	if payload.Identity == "" {
		return nil, fmt.Errorf("low stock sweep: identity required: %w", asynq.SkipRetry)
	}
	threshold := payload.Threshold
	if threshold <= 0 {
		threshold = j.Threshold
	}

	tracker := j.Metrics.Track(TaskLowStockSweep)
	defer func() { err = tracker.End(err) }()

	scope := docstore.Scope{Namespace: j.Namespace, Identity: payload.Identity}
	items, err := inventory.NewCollection(j.Store, scope).Load(ctx)
	if err != nil {
		logger(j.Logger).Error("low stock sweep load failed", slog.String("identity", payload.Identity), slog.Any("error", err))
		return nil, err
	}
	now := j.clock()
	for _, item := range items {
		if item.QuantityInStock >= threshold {
			continue
		}
		alerts = append(alerts, inventory.LowStockAlert{
			Identity:  payload.Identity,
			DrugID:    item.ID,
			Name:      item.Name,
			Remaining: item.QuantityInStock,
			Threshold: threshold,
			Source:    "sweep",
			RaisedAt:  now,
		})
		logger(j.Logger).Warn("drug below stock threshold",
			slog.String("identity", payload.Identity),
			slog.String("drug_id", item.ID),
			slog.String("name", item.Name),
			slog.Int("remaining", item.QuantityInStock),
			slog.Int("threshold", threshold),
		)
		j.Metrics.AddLowStock("sweep")
	}
	logger(j.Logger).Info("low stock sweep finished", slog.String("identity", payload.Identity), slog.Int("low", len(alerts)), slog.Int("items", len(items)))
	return alerts, nil
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
