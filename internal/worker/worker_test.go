package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/therapy-intel/internal/config"
	"github.com/sells-group/therapy-intel/internal/document"
	"github.com/sells-group/therapy-intel/internal/extract"
	"github.com/sells-group/therapy-intel/internal/model"
	"github.com/sells-group/therapy-intel/internal/queue"
	"github.com/sells-group/therapy-intel/internal/resilience"
	"github.com/sells-group/therapy-intel/internal/store"
)

type extractFunc func(ctx context.Context, doc *model.Document, path string) (*extract.Result, error)

func (f extractFunc) Extract(ctx context.Context, doc *model.Document, path string) (*extract.Result, error) {
	return f(ctx, doc, path)
}

type countingRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *countingRecorder) RecordJob(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

type harness struct {
	store    *store.SQLiteStore
	queue    *queue.Service
	docs     *document.Service
	recorder *countingRecorder
	now      time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	st, err := store.NewSQLite(filepath.Join(dir, "worker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	storage, err := document.NewLocalStorage(filepath.Join(dir, "blobs"))
	require.NoError(t, err)

	h := &harness{
		store:    st,
		recorder: &countingRecorder{},
		now:      time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC),
	}
	h.queue = queue.New(st, config.QueueConfig{StuckTimeoutMinutes: 60, MaxAttempts: 2, DefaultPriority: 5}).
		WithClock(func() time.Time { return h.now })
	h.docs = document.NewService(st, h.queue, storage)
	return h
}

func (h *harness) worker(ex extract.Extractor) *Worker {
	return New(h.queue, h.docs, h.store, ex, config.WorkerConfig{
		Concurrency:           2,
		PollIntervalSecs:      1,
		ExtractionTimeoutSecs: 5,
		RetryInitialBackoffMs: 60000,
		RetryMaxBackoffMs:     600000,
	}).WithRecorder(h.recorder)
}

func (h *harness) ingest(t *testing.T, name, body string) *document.IngestResult {
	t.Helper()
	res, err := h.docs.Ingest(context.Background(), name, "text/plain", []byte(body), 0)
	require.NoError(t, err)
	require.NotNil(t, res.Job)
	return res
}

func samplePayload() model.ExtractedPayload {
	return model.ExtractedPayload{
		Therapies: []model.TherapyFact{{Name: "Keytruda", Manufacturer: "Merck"}},
		Revenues: []model.RevenueFact{{
			TherapyName: "Keytruda", Period: "Q3 2024", Region: "US", RevenueMillionsUSD: 4210,
		}},
	}
}

func TestProcessNext_Success(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	in := h.ingest(t, "merck.txt", "Keytruda US Q3 2024 sales 4,210")

	var sawPath string
	w := h.worker(extractFunc(func(_ context.Context, doc *model.Document, path string) (*extract.Result, error) {
		sawPath = path
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "Keytruda US Q3 2024 sales 4,210", string(data))
		assert.Equal(t, in.Document.ID, doc.ID)
		return &extract.Result{Payload: samplePayload()}, nil
	}))

	claimed, err := w.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, claimed)

	job, err := h.queue.Get(ctx, in.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, job.Status)

	exts, err := h.store.ListExtractions(ctx, store.ExtractionFilter{})
	require.NoError(t, err)
	require.Len(t, exts, 1)
	assert.Equal(t, in.Document.ID, exts[0].DocumentID)
	assert.Equal(t, in.Job.ID, exts[0].JobID)
	assert.Equal(t, model.ReviewPending, exts[0].Review.Status)
	require.Len(t, exts[0].Payload.Revenues, 1)

	_, statErr := os.Stat(sawPath)
	assert.True(t, os.IsNotExist(statErr), "temp file removed")
	assert.Equal(t, []string{OutcomeCompleted}, h.recorder.outcomes)
}

func TestProcessNext_EmptyQueue(t *testing.T) {
	h := newHarness(t)
	w := h.worker(extractFunc(func(context.Context, *model.Document, string) (*extract.Result, error) {
		t.Fatal("extractor must not run")
		return nil, nil
	}))

	claimed, err := w.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestProcessNext_CancelledDuringExtractionDiscardsResult(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	in := h.ingest(t, "merck.txt", "content")

	w := h.worker(extractFunc(func(context.Context, *model.Document, string) (*extract.Result, error) {
		_, err := h.queue.Cancel(ctx, in.Job.ID)
		require.NoError(t, err)
		return &extract.Result{Payload: samplePayload()}, nil
	}))

	claimed, err := w.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, claimed)

	job, err := h.queue.Get(ctx, in.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, job.Status)
	assert.Equal(t, queue.CancelMessage, job.ErrorMessage())

	n, err := h.store.CountExtractions(ctx, model.ReviewPending)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []string{OutcomeDiscarded}, h.recorder.outcomes)
}

func TestProcessNext_TransientErrorSchedulesRetry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	in := h.ingest(t, "merck.txt", "content")

	w := h.worker(extractFunc(func(context.Context, *model.Document, string) (*extract.Result, error) {
		return nil, resilience.NewTransientError(errors.New("overloaded"), 529)
	}))

	_, err := w.ProcessNext(ctx)
	require.NoError(t, err)

	job, err := h.queue.Get(ctx, in.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Equal(t, 1, job.Attempts)
	require.NotNil(t, job.NotBefore)
	assert.Nil(t, job.Error)

	// Backed off: not claimable at the same instant.
	claimed, err := w.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, []string{OutcomeRetried}, h.recorder.outcomes)
}

func TestProcessNext_PermanentErrorFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	in := h.ingest(t, "merck.txt", "content")

	w := h.worker(extractFunc(func(context.Context, *model.Document, string) (*extract.Result, error) {
		return nil, errors.New("extract: payload does not match schema")
	}))

	_, err := w.ProcessNext(ctx)
	require.NoError(t, err)

	job, err := h.queue.Get(ctx, in.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Contains(t, job.ErrorMessage(), "does not match schema")
	assert.Equal(t, []string{OutcomeFailed}, h.recorder.outcomes)
}

func TestProcessNext_TransientErrorWithoutBudgetFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	in := h.ingest(t, "merck.txt", "content")

	transient := extractFunc(func(context.Context, *model.Document, string) (*extract.Result, error) {
		return nil, resilience.NewTransientError(errors.New("rate limited"), 429)
	})
	w := h.worker(transient)

	_, err := w.ProcessNext(ctx)
	require.NoError(t, err)

	// Past the longest possible backoff the job is claimable again.
	h.now = h.now.Add(time.Hour)

	// Second attempt exhausts max_attempts=2.
	claimed, err := w.ProcessNext(ctx)
	require.NoError(t, err)
	require.True(t, claimed)

	job, err := h.queue.Get(ctx, in.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, job.Status)
	assert.Equal(t, 2, job.Attempts)
	assert.False(t, job.CanRetry())
	assert.Equal(t, []string{OutcomeRetried, OutcomeFailed}, h.recorder.outcomes)
}

func TestProcessNext_ExtractionTimeout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	in := h.ingest(t, "slow.txt", "content")

	w := h.worker(extractFunc(func(ctx context.Context, _ *model.Document, _ string) (*extract.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	w.timeout = 20 * time.Millisecond

	_, err := w.ProcessNext(ctx)
	require.NoError(t, err)

	job, err := h.queue.Get(ctx, in.Job.ID)
	require.NoError(t, err)
	// Deadline expiry is transient, so the job is rescheduled.
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Equal(t, 1, job.Attempts)
}

func TestRunOnce_DrainsQueue(t *testing.T) {
	h := newHarness(t)
	h.ingest(t, "a.txt", "alpha")
	h.ingest(t, "b.txt", "beta")
	h.ingest(t, "c.txt", "gamma")

	w := h.worker(extractFunc(func(context.Context, *model.Document, string) (*extract.Result, error) {
		return &extract.Result{Payload: samplePayload()}, nil
	}))

	n, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	stats, err := h.queue.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Completed)
	assert.Zero(t, stats.Pending)
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(t)
	h.ingest(t, "a.txt", "alpha")

	done := make(chan struct{})
	w := h.worker(extractFunc(func(context.Context, *model.Document, string) (*extract.Result, error) {
		defer close(done)
		return &extract.Result{Payload: samplePayload()}, nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job not processed")
	}
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestAdaptiveLimiter(t *testing.T) {
	l := NewAdaptiveLimiter(60)
	assert.InDelta(t, 1.0, float64(l.Rate()), 1e-9)

	l.OnRateLimit()
	assert.InDelta(t, 0.5, float64(l.Rate()), 1e-9)
	l.OnRateLimit()
	l.OnRateLimit()
	assert.InDelta(t, 0.25, float64(l.Rate()), 1e-9, "floored at a quarter")

	l.OnSuccess()
	assert.InDelta(t, 0.3, float64(l.Rate()), 1e-9)
	for range 20 {
		l.OnSuccess()
	}
	assert.InDelta(t, 1.0, float64(l.Rate()), 1e-9, "capped at configured rate")

	unlimited := NewAdaptiveLimiter(0)
	assert.Equal(t, rate.Inf, unlimited.Rate())
	unlimited.OnRateLimit()
	assert.Equal(t, rate.Inf, unlimited.Rate())
	require.NoError(t, unlimited.Wait(context.Background()))
}
