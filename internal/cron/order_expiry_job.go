package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/velara-studio/velara-backend/internal/orders"
	"github.com/velara-studio/velara-backend/pkg/logger"
	"github.com/velara-studio/velara-backend/pkg/metrics"
)

const defaultExpiryThreshold = 10 * 24 * time.Hour

// orderSweeper is the slice of the order coordinator the job needs.
type orderSweeper interface {
	SweepExpiredOrders(ctx context.Context, olderThan time.Duration) (*orders.SweepResult, error)
}

// OrderExpiryJobParams configure the stale-order expiry job.
type OrderExpiryJobParams struct {
	Logger    *logger.Logger
	Orders    orderSweeper
	Metrics   *metrics.CronJobMetrics
	Threshold time.Duration
}

// NewOrderExpiryJob builds the cron job that cancels orders stuck in an
// initial state without payment past the configured threshold.
func NewOrderExpiryJob(params OrderExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order sweeper required")
	}
	threshold := params.Threshold
	if threshold <= 0 {
		threshold = defaultExpiryThreshold
	}
	return &orderExpiryJob{
		logg:      params.Logger,
		orders:    params.Orders,
		metrics:   params.Metrics,
		threshold: threshold,
	}, nil
}

type orderExpiryJob struct {
	logg      *logger.Logger
	orders    orderSweeper
	metrics   *metrics.CronJobMetrics
	threshold time.Duration
}

func (j *orderExpiryJob) Name() string { return "order-expiry" }

// Run sweeps once. The coordinator cancels each candidate in its own
// transaction, so a failure on one order never blocks the rest; the combined
// error is surfaced for the cron service to log and count.
func (j *orderExpiryJob) Run(ctx context.Context) error {
	result, err := j.orders.SweepExpiredOrders(ctx, j.threshold)
	if result != nil {
		logCtx := j.logg.WithFields(ctx, map[string]any{
			"scanned":   result.Scanned,
			"cancelled": len(result.Cancelled),
			"failed":    result.Failed,
		})
		j.logg.Info(logCtx, "order expiry sweep complete")
		if j.metrics != nil {
			j.metrics.AddExpiredOrders(len(result.Cancelled))
		}
	}
	return err
}
