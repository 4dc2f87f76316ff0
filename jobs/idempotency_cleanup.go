package jobs

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Purger deletes expired idempotency keys.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// IdempotencyCleanup purges expired keys on a fixed interval until ctx is done.
type IdempotencyCleanup struct {
	store    Purger
	interval time.Duration
}

func NewIdempotencyCleanup(store Purger, interval time.Duration) *IdempotencyCleanup {
	if interval <= 0 {
		interval = time.Hour
	}
	return &IdempotencyCleanup{store: store, interval: interval}
}

// Run blocks; start it in its own goroutine.
func (j *IdempotencyCleanup) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	logrus.WithField("interval", j.interval.String()).Info("Idempotency cleanup job started")
	j.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			logrus.Info("Idempotency cleanup job stopped")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single purge and reports the number of deleted keys.
func (j *IdempotencyCleanup) RunOnce(ctx context.Context) int64 {
	n, err := j.store.PurgeExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logrus.WithError(err).Error("Idempotency cleanup failed")
		}
		return 0
	}
	if n > 0 {
		logrus.WithField("deleted", n).Info("Expired idempotency keys purged")
	}
	return n
}
