// Package review records reviewer decisions on extractions and merges
// approved payloads into the canonical therapy tables.
package review

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/therapy-intel/internal/apperr"
	"github.com/sells-group/therapy-intel/internal/db"
	"github.com/sells-group/therapy-intel/internal/model"
	"github.com/sells-group/therapy-intel/internal/resilience"
	"github.com/sells-group/therapy-intel/internal/store"
)

// Recorder observes merge outcomes. monitoring.Metrics implements it.
type Recorder interface {
	RecordMerge(outcome string)
}

// Engine applies review decisions.
type Engine struct {
	store    store.ExtractionStore
	now      func() time.Time
	newID    func() string
	retry    resilience.RetryConfig
	recorder Recorder
	log      *zap.Logger
}

// NewEngine creates a review engine over an extraction store.
func NewEngine(st store.ExtractionStore) *Engine {
	return &Engine{
		store: st,
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.New().String() },
		retry: resilience.RetryConfig{
			MaxAttempts:    4,
			InitialBackoff: 50 * time.Millisecond,
			MaxBackoff:     time.Second,
			Multiplier:     2,
			JitterFraction: 0.5,
			ShouldRetry:    db.IsSerializationFailure,
			OnRetry:        resilience.RetryLogger("review", "merge"),
		},
		log: zap.L().With(zap.String("component", "review")),
	}
}

// WithClock replaces the time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// WithRecorder attaches a merge outcome recorder.
func (e *Engine) WithRecorder(r Recorder) *Engine {
	e.recorder = r
	return e
}

// Get returns one extraction.
func (e *Engine) Get(ctx context.Context, id string) (*model.Extraction, error) {
	return e.store.GetExtraction(ctx, id)
}

// List returns extractions oldest first, optionally filtered by review status.
func (e *Engine) List(ctx context.Context, filter store.ExtractionFilter) ([]model.Extraction, error) {
	switch filter.Status {
	case "", model.ReviewPending, model.ReviewApproved, model.ReviewRejected:
	default:
		return nil, apperr.BadRequest("unknown review status %q", filter.Status)
	}
	return e.store.ListExtractions(ctx, filter)
}

// Approve merges a pending extraction into the canonical tables and marks
// it approved, all in one transaction. On any error nothing is written and
// the extraction stays pending.
func (e *Engine) Approve(ctx context.Context, id, actor, notes string) (*model.MergeSummary, error) {
	if actor == "" {
		return nil, apperr.BadRequest("actor is required")
	}

	summary, err := resilience.DoVal(ctx, e.retry, func(ctx context.Context) (*model.MergeSummary, error) {
		var summary *model.MergeSummary
		err := e.store.RunMerge(ctx, func(ctx context.Context, tx store.MergeTx) error {
			var err error
			summary, err = e.merge(ctx, tx, id, actor, notes)
			return err
		})
		return summary, err
	})
	if err != nil {
		e.record("error")
		e.log.Warn("merge rolled back", zap.String("extraction_id", id), zap.Error(err))
		return nil, err
	}

	e.record("approved")
	e.log.Info("extraction approved",
		zap.String("extraction_id", id),
		zap.String("actor", actor),
		zap.Int("therapies_created", summary.TherapiesCreated),
		zap.Int("therapies_updated", summary.TherapiesUpdated),
		zap.Int("revenues_inserted", summary.RevenuesInserted),
		zap.Int("revenues_duplicate", summary.RevenuesDuplicate),
		zap.Int("approvals_inserted", summary.ApprovalsInserted),
	)
	return summary, nil
}

// Reject records a rejection. Only pending extractions can be rejected.
func (e *Engine) Reject(ctx context.Context, id, actor, notes string) (*model.Extraction, error) {
	if actor == "" {
		return nil, apperr.BadRequest("actor is required")
	}
	ok, err := e.store.RejectExtraction(ctx, id, actor, notes, e.now())
	if err != nil {
		return nil, err
	}
	ext, err := e.store.GetExtraction(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Precondition("extraction %s is already %s", id, ext.Review.Status)
	}
	e.record("rejected")
	e.log.Info("extraction rejected", zap.String("extraction_id", id), zap.String("actor", actor))
	return ext, nil
}

// Delete removes a pending extraction. Decided extractions are kept as history.
func (e *Engine) Delete(ctx context.Context, id string) error {
	ok, err := e.store.DeleteExtraction(ctx, id)
	if err != nil {
		return err
	}
	if ok {
		e.log.Info("extraction deleted", zap.String("extraction_id", id))
		return nil
	}
	ext, err := e.store.GetExtraction(ctx, id)
	if err != nil {
		return err
	}
	return apperr.Precondition("extraction %s is %s and cannot be deleted", id, ext.Review.Status)
}

func (e *Engine) record(outcome string) {
	if e.recorder != nil {
		e.recorder.RecordMerge(outcome)
	}
}
