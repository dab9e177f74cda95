// Package worker claims extraction jobs and runs them to completion.
package worker

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/therapy-intel/internal/apperr"
	"github.com/sells-group/therapy-intel/internal/config"
	"github.com/sells-group/therapy-intel/internal/extract"
	"github.com/sells-group/therapy-intel/internal/model"
	"github.com/sells-group/therapy-intel/internal/resilience"
)

// Queue is the subset of queue.Service the worker drives.
type Queue interface {
	ClaimNext(ctx context.Context) (*model.Job, error)
	Get(ctx context.Context, id string) (*model.Job, error)
	Complete(ctx context.Context, id string) (*model.Job, error)
	Fail(ctx context.Context, id, errMsg string) (*model.Job, error)
	RetryAfter(ctx context.Context, id string, delay time.Duration) (*model.Job, error)
}

// Documents resolves and materializes job documents.
type Documents interface {
	Get(ctx context.Context, id string) (*model.Document, error)
	Materialize(ctx context.Context, doc *model.Document) (string, func(), error)
}

// ExtractionSaver persists extraction results.
type ExtractionSaver interface {
	SaveExtraction(ctx context.Context, e *model.Extraction) error
}

// Recorder observes job outcomes.
type Recorder interface {
	RecordJob(outcome string)
}

// Job outcomes reported to the Recorder.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeRetried   = "retried"
	OutcomeDiscarded = "discarded"
)

// bookkeepingTimeout bounds the store writes that record a job's fate
// after the run context is gone.
const bookkeepingTimeout = 10 * time.Second

// Worker processes extraction jobs.
type Worker struct {
	queue       Queue
	docs        Documents
	extractions ExtractionSaver
	extractor   extract.Extractor
	limiter     *AdaptiveLimiter
	recorder    Recorder

	concurrency  int
	pollInterval time.Duration
	timeout      time.Duration
	retry        resilience.RetryConfig

	log *zap.Logger
}

// New creates a worker from config.
func New(q Queue, docs Documents, extractions ExtractionSaver, ex extract.Extractor, cfg config.WorkerConfig) *Worker {
	return &Worker{
		queue:        q,
		docs:         docs,
		extractions:  extractions,
		extractor:    ex,
		limiter:      NewAdaptiveLimiter(cfg.RequestsPerMinute),
		concurrency:  max(cfg.Concurrency, 1),
		pollInterval: time.Duration(max(cfg.PollIntervalSecs, 1)) * time.Second,
		timeout:      time.Duration(cfg.ExtractionTimeoutSecs) * time.Second,
		retry:        resilience.FromRetryConfig(0, cfg.RetryInitialBackoffMs, cfg.RetryMaxBackoffMs),
		log:          zap.L().With(zap.String("component", "worker")),
	}
}

// WithRecorder attaches an outcome recorder.
func (w *Worker) WithRecorder(r Recorder) *Worker {
	w.recorder = r
	return w
}

// Run polls the queue with the configured number of loops until ctx is
// cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker started",
		zap.Int("concurrency", w.concurrency),
		zap.Duration("poll_interval", w.pollInterval),
	)

	g, gCtx := errgroup.WithContext(ctx)
	for i := range w.concurrency {
		g.Go(func() error {
			w.loop(gCtx, i)
			return nil
		})
	}
	err := g.Wait()
	w.log.Info("worker stopped")
	return err
}

func (w *Worker) loop(ctx context.Context, slot int) {
	log := w.log.With(zap.Int("slot", slot))
	for {
		if ctx.Err() != nil {
			return
		}

		claimed, err := w.ProcessNext(ctx)
		if err != nil && ctx.Err() == nil {
			log.Error("claim failed", zap.Error(err))
		}
		if claimed && err == nil {
			continue
		}

		timer := time.NewTimer(w.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// RunOnce processes jobs until the queue has nothing claimable and returns
// the number of jobs handled.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	n := 0
	for {
		claimed, err := w.ProcessNext(ctx)
		if err != nil {
			return n, err
		}
		if !claimed {
			return n, nil
		}
		n++
	}
}

// ProcessNext claims one job and runs it. It reports whether a job was
// claimed. Job failures are recorded on the job, not returned.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	job, err := w.queue.ClaimNext(ctx)
	if err != nil {
		return false, eris.Wrap(err, "worker: claim")
	}
	if job == nil {
		return false, nil
	}

	log := w.log.With(
		zap.String("job_id", job.ID),
		zap.String("document_id", job.DocumentID),
		zap.Int("attempt", job.Attempts+1),
	)
	log.Info("job claimed")

	start := time.Now()
	outcome, runErr := w.run(ctx, job, log)
	if runErr != nil {
		outcome = w.fail(ctx, job, runErr, log)
	}
	w.record(outcome)
	log.Info("job finished", zap.String("outcome", outcome), zap.Duration("elapsed", time.Since(start)))
	return true, nil
}

func (w *Worker) run(ctx context.Context, job *model.Job, log *zap.Logger) (string, error) {
	doc, err := w.docs.Get(ctx, job.DocumentID)
	if err != nil {
		return "", eris.Wrap(err, "worker: load document")
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return "", err
	}

	path, cleanup, err := w.docs.Materialize(ctx, doc)
	if err != nil {
		return "", err
	}
	defer cleanup()

	exCtx := ctx
	if w.timeout > 0 {
		var cancel context.CancelFunc
		exCtx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	res, err := w.extractor.Extract(exCtx, doc, path)
	if err != nil {
		var te *resilience.TransientError
		if errors.As(err, &te) && te.StatusCode == http.StatusTooManyRequests {
			w.limiter.OnRateLimit()
		}
		return "", err
	}
	w.limiter.OnSuccess()

	// An admin may have cancelled or reset the job while it ran.
	current, err := w.queue.Get(ctx, job.ID)
	if err != nil {
		return "", eris.Wrap(err, "worker: re-read job")
	}
	if !sameRun(job, current) {
		log.Warn("job changed during extraction, result discarded",
			zap.String("status", string(current.Status)),
		)
		return OutcomeDiscarded, nil
	}

	ext := &model.Extraction{
		DocumentID: job.DocumentID,
		JobID:      job.ID,
		Payload:    res.Payload,
	}
	if err := w.extractions.SaveExtraction(ctx, ext); err != nil {
		return "", eris.Wrap(err, "worker: save extraction")
	}

	if _, err := w.queue.Complete(ctx, job.ID); err != nil {
		if apperr.Is(err, apperr.KindPrecondition) {
			log.Warn("job left processing before completion", zap.Error(err))
			return OutcomeDiscarded, nil
		}
		return "", err
	}

	log.Info("extraction saved",
		zap.String("extraction_id", ext.ID),
		zap.Int("therapies", len(res.Payload.Therapies)),
		zap.Int("revenues", len(res.Payload.Revenues)),
		zap.Int("approvals", len(res.Payload.Approvals)),
	)
	return OutcomeCompleted, nil
}

// fail records err on the job and schedules a delayed retry when the error
// is transient and the budget allows.
func (w *Worker) fail(ctx context.Context, job *model.Job, runErr error, log *zap.Logger) string {
	shutdown := ctx.Err() != nil
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	failed, err := w.queue.Fail(bctx, job.ID, runErr.Error())
	if err != nil {
		if apperr.Is(err, apperr.KindPrecondition) {
			log.Warn("job left processing before failure was recorded", zap.Error(runErr))
			return OutcomeDiscarded
		}
		log.Error("record job failure", zap.Error(err), zap.NamedError("cause", runErr))
		return OutcomeFailed
	}

	if !(shutdown || resilience.IsTransient(runErr)) || !failed.CanRetry() {
		log.Warn("job failed", zap.Error(runErr), zap.Int("attempts", failed.Attempts))
		return OutcomeFailed
	}

	delay := resilience.Backoff(failed.Attempts-1, w.retry)
	if shutdown {
		delay = 0
	}
	if _, err := w.queue.RetryAfter(bctx, job.ID, delay); err != nil {
		log.Error("schedule retry", zap.Error(err))
		return OutcomeFailed
	}
	log.Warn("job failed, retry scheduled",
		zap.Error(runErr),
		zap.Int("attempts", failed.Attempts),
		zap.Duration("delay", delay),
	)
	return OutcomeRetried
}

// sameRun reports whether current is still the claim that produced job. A
// reset followed by a new claim keeps the status but moves started_at.
func sameRun(job, current *model.Job) bool {
	if current.Status != model.JobStatusProcessing {
		return false
	}
	if job.StartedAt == nil || current.StartedAt == nil {
		return job.StartedAt == nil && current.StartedAt == nil
	}
	return job.StartedAt.Equal(*current.StartedAt)
}

func (w *Worker) record(outcome string) {
	if w.recorder != nil {
		w.recorder.RecordJob(outcome)
	}
}
