package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velara-studio/velara-backend/pkg/config"
	"github.com/velara-studio/velara-backend/pkg/db/models"
	"github.com/velara-studio/velara-backend/pkg/enums"
	"github.com/velara-studio/velara-backend/pkg/logger"
)

type stubResult struct {
	err error
}

func (r *stubResult) Get(context.Context) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return "server-id", nil
}

type stubPublisher struct {
	published []*gcppubsub.Message
	err       error
}

func (p *stubPublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	p.published = append(p.published, msg)
	return &stubResult{err: p.err}
}

type stubRepo struct {
	events    []models.OutboxEvent
	fetchErr  error
	published []uuid.UUID
	failed    []uuid.UUID
	lastErr   error
}

func (r *stubRepo) FetchUnpublished(limit, maxAttempts int) ([]models.OutboxEvent, error) {
	if r.fetchErr != nil {
		return nil, r.fetchErr
	}
	if limit > len(r.events) {
		limit = len(r.events)
	}
	return r.events[:limit], nil
}

func (r *stubRepo) MarkPublished(id uuid.UUID) error {
	r.published = append(r.published, id)
	return nil
}

func (r *stubRepo) MarkFailed(id uuid.UUID, err error) error {
	r.failed = append(r.failed, id)
	r.lastErr = err
	return nil
}

type stubPinger struct{ err error }

func (p *stubPinger) Ping(context.Context) error { return p.err }

type stubPubSub struct{ err error }

func (p *stubPubSub) Ping(context.Context) error            { return p.err }
func (p *stubPubSub) DomainPublisher() *gcppubsub.Publisher { return nil }

func testConfig() *config.Config {
	return &config.Config{
		Outbox: config.OutboxConfig{
			BatchSize:      10,
			PollIntervalMS: 5,
			MaxAttempts:    3,
		},
	}
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "outbox-test", Output: io.Discard})
}

func outboxEvent(t *testing.T) models.OutboxEvent {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"version": 1})
	require.NoError(t, err)
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       payload,
	}
}

func newTestService(t *testing.T, repo *stubRepo, pub *stubPublisher) *Service {
	t.Helper()
	service, err := NewService(ServiceParams{
		Config:           testConfig(),
		Logger:           testLogger(),
		DB:               &stubPinger{},
		PubSub:           &stubPubSub{},
		Repository:       repo,
		PublisherFactory: func() publisher { return pub },
	})
	require.NoError(t, err)
	return service
}

func TestNewServiceValidatesParams(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config is required")

	_, err = NewService(ServiceParams{Config: testConfig()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logger is required")
}

func TestProcessBatchPublishesAndMarks(t *testing.T) {
	event := outboxEvent(t)
	repo := &stubRepo{events: []models.OutboxEvent{event}}
	pub := &stubPublisher{}
	service := newTestService(t, repo, pub)

	processed, err := service.processBatch(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	require.Len(t, pub.published, 1)
	msg := pub.published[0]
	assert.Equal(t, []byte(event.Payload), msg.Data)
	assert.Equal(t, string(enums.EventOrderCreated), msg.Attributes["event_type"])
	assert.Equal(t, string(enums.AggregateOrder), msg.Attributes["aggregate_type"])
	assert.Equal(t, event.AggregateID.String(), msg.Attributes["aggregate_id"])

	require.Len(t, repo.published, 1)
	assert.Equal(t, event.ID, repo.published[0])
	assert.Empty(t, repo.failed)
}

func TestProcessBatchMarksFailureAndContinues(t *testing.T) {
	first := outboxEvent(t)
	second := outboxEvent(t)
	repo := &stubRepo{events: []models.OutboxEvent{first, second}}
	pub := &stubPublisher{err: errors.New("pubsub unavailable")}
	service := newTestService(t, repo, pub)

	processed, err := service.processBatch(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	assert.Empty(t, repo.published)
	require.Len(t, repo.failed, 2)
	assert.Equal(t, []uuid.UUID{first.ID, second.ID}, repo.failed)
	assert.EqualError(t, repo.lastErr, "pubsub unavailable")
}

func TestProcessBatchEmptyQueue(t *testing.T) {
	repo := &stubRepo{}
	service := newTestService(t, repo, &stubPublisher{})

	processed, err := service.processBatch(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestProcessBatchFetchError(t *testing.T) {
	repo := &stubRepo{fetchErr: errors.New("connection reset")}
	service := newTestService(t, repo, &stubPublisher{})

	_, err := service.processBatch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch unpublished")
}

func TestRunStopsWhenReadinessFails(t *testing.T) {
	service, err := NewService(ServiceParams{
		Config:           testConfig(),
		Logger:           testLogger(),
		DB:               &stubPinger{err: errors.New("db down")},
		PubSub:           &stubPubSub{},
		Repository:       &stubRepo{},
		PublisherFactory: func() publisher { return &stubPublisher{} },
	})
	require.NoError(t, err)

	err = service.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database ping failed")
}

func TestNextBackoffDoublesAndCaps(t *testing.T) {
	base := 500 * time.Millisecond
	next := nextBackoff(base, base, maxBackoff)
	assert.Equal(t, base*2, next)

	capped := nextBackoff(maxBackoff, base, maxBackoff)
	assert.Equal(t, maxBackoff, capped)
}
