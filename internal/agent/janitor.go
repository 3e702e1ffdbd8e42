package agent

import (
	"context"
	"time"

	"github.com/rahul/dealdesk/internal/observability"
	"go.uber.org/zap"
)

// IdleSessionStore deletes sessions that have not been touched since before.
type IdleSessionStore interface {
	DeleteIdle(ctx context.Context, before time.Time) (int64, error)
}

// Janitor periodically removes sessions idle longer than the retention.
type Janitor struct {
	Store     IdleSessionStore
	Retention time.Duration
	Interval  time.Duration
	Logger    *observability.Logger
}

func NewJanitor(store IdleSessionStore, retention, interval time.Duration, logger *observability.Logger) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{
		Store:     store,
		Retention: retention,
		Interval:  interval,
		Logger:    logger,
	}
}

// Start sweeps every Interval until ctx is done. A zero retention disables
// sweeping.
func (j *Janitor) Start(ctx context.Context) {
	if j.Retention <= 0 {
		return
	}
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	j.Logger.Info("session janitor started", zap.Duration("retention", j.Retention))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep deletes idle sessions once.
func (j *Janitor) Sweep(ctx context.Context) int64 {
	n, err := j.Store.DeleteIdle(ctx, time.Now().Add(-j.Retention))
	if err != nil {
		j.Logger.Error("failed to delete idle sessions", zap.Error(err))
		return 0
	}
	if n > 0 {
		j.Logger.Info("deleted idle sessions", zap.Int64("count", n))
	}
	return n
}
