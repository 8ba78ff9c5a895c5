package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// Purger deletes credentials that expired or were revoked before cutoff
type Purger interface {
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// PurgeObserver receives the number of purged credentials
type PurgeObserver interface {
	ObservePurge(n int64)
}

// PurgeJob handles TaskPurgeCredentials
type PurgeJob struct {
	Store    Purger
	Logger   *slog.Logger
	Observer PurgeObserver
	clock    func() time.Time
}

// NewPurgeJob wires dependencies for the purge handler
func NewPurgeJob(store Purger, logger *slog.Logger, observer PurgeObserver) *PurgeJob {
	return &PurgeJob{
		Store:    store,
		Logger:   logger,
		Observer: observer,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes purge tasks
func (j *PurgeJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("purge: handler not configured")
	}
	var payload PurgePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("purge: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.Retention < 0 {
		return fmt.Errorf("purge: negative retention: %w", asynq.SkipRetry)
	}

	cutoff := j.now().Add(-payload.Retention)
	logger := j.logger().With(slog.Time("cutoff", cutoff))

	n, err := j.Store.PurgeExpired(ctx, cutoff)
	if err != nil {
		logger.Error("purge credentials", slog.Any("error", err))
		return err
	}
	if j.Observer != nil {
		j.Observer.ObservePurge(n)
	}
	logger.Info("purged credentials", slog.Int64("count", n))
	return nil
}

func (j *PurgeJob) now() time.Time {
	if j.clock == nil {
		return time.Now().UTC()
	}
	return j.clock()
}

func (j *PurgeJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}
