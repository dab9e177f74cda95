// Package monitoring watches queue and review health, raises alerts, and
// exports Prometheus metrics.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/therapy-intel/internal/model"
)

// Snapshot is a point-in-time view of queue and review health.
type Snapshot struct {
	Queue         model.QueueStats `json:"queue"`
	FailureRate   float64          `json:"failure_rate"`
	ReviewBacklog int              `json:"review_backlog"`
	CollectedAt   time.Time        `json:"collected_at"`
}

// StatsSource reports queue statistics. queue.Service satisfies it.
type StatsSource interface {
	Stats(ctx context.Context) (*model.QueueStats, error)
}

// BacklogCounter counts extractions by review status.
type BacklogCounter interface {
	CountExtractions(ctx context.Context, status model.ReviewStatus) (int, error)
}

// Collector gathers snapshots.
type Collector struct {
	stats   StatsSource
	backlog BacklogCounter
	now     func() time.Time
}

// NewCollector creates a collector.
func NewCollector(stats StatsSource, backlog BacklogCounter) *Collector {
	return &Collector{
		stats:   stats,
		backlog: backlog,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Collect gathers a snapshot.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	stats, err := c.stats.Stats(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: queue stats")
	}

	pending, err := c.backlog.CountExtractions(ctx, model.ReviewPending)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count review backlog")
	}

	return &Snapshot{
		Queue:         *stats,
		FailureRate:   stats.FailureRate(),
		ReviewBacklog: pending,
		CollectedAt:   c.now(),
	}, nil
}
