package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/velara-studio/velara-backend/internal/orders"
	"github.com/velara-studio/velara-backend/pkg/logger"
)

type stubSweeper struct {
	gotThreshold time.Duration
	result       *orders.SweepResult
	err          error
}

func (s *stubSweeper) SweepExpiredOrders(_ context.Context, olderThan time.Duration) (*orders.SweepResult, error) {
	s.gotThreshold = olderThan
	return s.result, s.err
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard})
}

func TestOrderExpiryJobPassesThreshold(t *testing.T) {
	sweeper := &stubSweeper{result: &orders.SweepResult{Scanned: 2, Cancelled: []uuid.UUID{uuid.New(), uuid.New()}}}
	job, err := NewOrderExpiryJob(OrderExpiryJobParams{
		Logger:    testLogger(),
		Orders:    sweeper,
		Threshold: 72 * time.Hour,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if job.Name() != "order-expiry" {
		t.Fatalf("unexpected job name %q", job.Name())
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if sweeper.gotThreshold != 72*time.Hour {
		t.Fatalf("expected threshold 72h, got %s", sweeper.gotThreshold)
	}
}

func TestOrderExpiryJobDefaultsThreshold(t *testing.T) {
	sweeper := &stubSweeper{result: &orders.SweepResult{}}
	job, err := NewOrderExpiryJob(OrderExpiryJobParams{
		Logger: testLogger(),
		Orders: sweeper,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if sweeper.gotThreshold != defaultExpiryThreshold {
		t.Fatalf("expected default threshold, got %s", sweeper.gotThreshold)
	}
}

func TestOrderExpiryJobSurfacesSweepErrors(t *testing.T) {
	sweepErr := errors.New("expire order: boom")
	sweeper := &stubSweeper{result: &orders.SweepResult{Scanned: 1, Failed: 1}, err: sweepErr}
	job, err := NewOrderExpiryJob(OrderExpiryJobParams{
		Logger: testLogger(),
		Orders: sweeper,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); !errors.Is(err, sweepErr) {
		t.Fatalf("expected sweep error, got %v", err)
	}
}

func TestNewOrderExpiryJobRequiresSweeper(t *testing.T) {
	_, err := NewOrderExpiryJob(OrderExpiryJobParams{Logger: testLogger()})
	if err == nil {
		t.Fatal("expected error without sweeper")
	}
}
