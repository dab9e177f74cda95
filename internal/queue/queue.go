// Package queue implements the extraction job queue: priority ordering,
// exclusive claims, bounded retries, and the admin transitions on top of a
// store.JobStore.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/therapy-intel/internal/apperr"
	"github.com/sells-group/therapy-intel/internal/config"
	"github.com/sells-group/therapy-intel/internal/model"
	"github.com/sells-group/therapy-intel/internal/store"
)

// CancelMessage is recorded as the error of a cancelled job.
const CancelMessage = "cancelled by admin"

// Service applies queue policy over a job store.
type Service struct {
	store store.JobStore
	cfg   config.QueueConfig
	now   func() time.Time
	log   *zap.Logger
}

// New creates a queue service.
func New(st store.JobStore, cfg config.QueueConfig) *Service {
	return &Service{
		store: st,
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
		log:   zap.L().With(zap.String("component", "queue")),
	}
}

// WithClock replaces the time source. Tests use it to pin timestamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Enqueue adds a pending extraction job for a document. A priority of 0
// selects the configured default. It returns a Conflict error if the
// document already has a pending or processing job.
func (s *Service) Enqueue(ctx context.Context, documentID string, priority int) (*model.Job, error) {
	if documentID == "" {
		return nil, apperr.BadRequest("document id is required")
	}
	if priority == 0 {
		priority = s.cfg.DefaultPriority
	}
	if priority < model.PriorityHighest || priority > model.PriorityLowest {
		return nil, apperr.BadRequest("priority must be between %d and %d, got %d",
			model.PriorityHighest, model.PriorityLowest, priority)
	}

	maxAttempts := s.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	job := &model.Job{
		ID:          uuid.New().String(),
		DocumentID:  documentID,
		JobType:     model.JobTypeExtraction,
		Priority:    priority,
		Status:      model.JobStatusPending,
		MaxAttempts: maxAttempts,
		CreatedAt:   s.now(),
	}
	if err := s.store.InsertJob(ctx, job); err != nil {
		return nil, err
	}

	s.log.Info("job enqueued",
		zap.String("job_id", job.ID),
		zap.String("document_id", documentID),
		zap.Int("priority", priority),
	)
	return job, nil
}

// ClaimNext moves the best eligible pending job to processing and returns
// it, or returns nil when no job is claimable. Concurrent callers never
// receive the same job.
func (s *Service) ClaimNext(ctx context.Context) (*model.Job, error) {
	return s.store.ClaimNextJob(ctx, s.now())
}

// Get returns a job by id.
func (s *Service) Get(ctx context.Context, id string) (*model.Job, error) {
	return s.store.GetJob(ctx, id)
}

// List returns jobs newest first.
func (s *Service) List(ctx context.Context, filter store.JobFilter) ([]model.Job, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperr.BadRequest("unknown job status %q", filter.Status)
	}
	return s.store.ListJobs(ctx, filter)
}

// UpdateStatus finishes a processing job. Only completed and failed are
// accepted; failed records errMsg and consumes one attempt.
func (s *Service) UpdateStatus(ctx context.Context, id string, status model.JobStatus, errMsg string) (*model.Job, error) {
	switch status {
	case model.JobStatusCompleted:
		return s.Complete(ctx, id)
	case model.JobStatusFailed:
		return s.Fail(ctx, id, errMsg)
	default:
		return nil, apperr.BadRequest("status must be completed or failed, got %q", status)
	}
}

// Complete marks a processing job completed.
func (s *Service) Complete(ctx context.Context, id string) (*model.Job, error) {
	ok, err := s.store.CompleteJob(ctx, id, s.now())
	if err != nil {
		return nil, err
	}
	return s.afterTransition(ctx, id, ok, "complete")
}

// Fail marks a processing job failed and consumes one attempt.
func (s *Service) Fail(ctx context.Context, id, errMsg string) (*model.Job, error) {
	ok, err := s.store.FailJob(ctx, id, errMsg, s.now())
	if err != nil {
		return nil, err
	}
	return s.afterTransition(ctx, id, ok, "fail")
}

// Retry returns a failed job with remaining budget to pending immediately.
func (s *Service) Retry(ctx context.Context, id string) (*model.Job, error) {
	return s.RetryAfter(ctx, id, 0)
}

// RetryAfter returns a failed job with remaining budget to pending, not
// claimable until delay has passed.
func (s *Service) RetryAfter(ctx context.Context, id string, delay time.Duration) (*model.Job, error) {
	var notBefore *time.Time
	if delay > 0 {
		t := s.now().Add(delay)
		notBefore = &t
	}
	ok, err := s.store.RetryJob(ctx, id, notBefore)
	if err != nil {
		return nil, err
	}
	if ok {
		s.log.Info("job retried", zap.String("job_id", id), zap.Duration("delay", delay))
		return s.store.GetJob(ctx, id)
	}

	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status == model.JobStatusFailed {
		return nil, apperr.Precondition("job %s has used all %d attempts", id, job.MaxAttempts)
	}
	return nil, apperr.Precondition("cannot retry job %s: status is %s", id, job.Status)
}

// Reset returns a processing or failed job to pending regardless of its
// attempt count. The current error moves into the error history.
func (s *Service) Reset(ctx context.Context, id string) (*model.Job, error) {
	ok, err := s.store.ResetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.afterTransition(ctx, id, ok, "reset")
}

// Cancel fails a pending or processing job without consuming an attempt.
func (s *Service) Cancel(ctx context.Context, id string) (*model.Job, error) {
	ok, err := s.store.CancelJob(ctx, id, CancelMessage, s.now())
	if err != nil {
		return nil, err
	}
	return s.afterTransition(ctx, id, ok, "cancel")
}

// Stats summarizes the queue. Processing jobs started before now minus the
// stuck timeout count as stuck; nothing is reset automatically.
func (s *Service) Stats(ctx context.Context) (*model.QueueStats, error) {
	timeout := s.cfg.StuckTimeout()
	if timeout <= 0 {
		timeout = time.Hour
	}
	return s.store.JobStats(ctx, s.now().Add(-timeout))
}

// Cleanup deletes completed jobs that finished more than days ago and
// returns how many were removed.
func (s *Service) Cleanup(ctx context.Context, days int) (int64, error) {
	if days < 1 {
		return 0, apperr.BadRequest("cleanup window must be at least 1 day, got %d", days)
	}
	n, err := s.store.DeleteCompletedJobs(ctx, s.now().AddDate(0, 0, -days))
	if err != nil {
		return 0, err
	}
	s.log.Info("completed jobs cleaned up", zap.Int64("deleted", n), zap.Int("days", days))
	return n, nil
}

// afterTransition re-reads the job. When the conditional update matched
// nothing it distinguishes an unknown id from a job in the wrong state.
func (s *Service) afterTransition(ctx context.Context, id string, applied bool, op string) (*model.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, apperr.Precondition("cannot %s job %s: status is %s", op, id, job.Status)
	}
	s.log.Debug("job transition", zap.String("job_id", id), zap.String("op", op), zap.String("status", string(job.Status)))
	return job, nil
}
