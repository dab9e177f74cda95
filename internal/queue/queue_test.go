package queue

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/therapy-intel/internal/apperr"
	"github.com/sells-group/therapy-intel/internal/config"
	"github.com/sells-group/therapy-intel/internal/model"
	"github.com/sells-group/therapy-intel/internal/store"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestQueue(t *testing.T) (*Service, *store.SQLiteStore, *fakeClock) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	clock := &fakeClock{t: time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)}
	svc := New(st, config.QueueConfig{
		StuckTimeoutMinutes: 60,
		MaxAttempts:         3,
		DefaultPriority:     5,
	}).WithClock(clock.Now)
	return svc, st, clock
}

func addDocument(t *testing.T, st *store.SQLiteStore, id string) {
	t.Helper()
	require.NoError(t, st.InsertDocument(context.Background(), &model.Document{
		ID: id, Filename: id + ".txt", ContentType: "text/plain", ContentHash: "h-" + id,
		StorageKey: "documents/" + id, CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}))
}

func TestEnqueue_DefaultsAndBounds(t *testing.T) {
	q, st, _ := newTestQueue(t)
	ctx := context.Background()
	addDocument(t, st, "doc-1")

	job, err := q.Enqueue(ctx, "doc-1", 0)
	require.NoError(t, err)
	assert.Equal(t, 5, job.Priority)
	assert.Equal(t, 3, job.MaxAttempts)
	assert.Equal(t, model.JobStatusPending, job.Status)

	_, err = q.Enqueue(ctx, "doc-1", 11)
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))

	_, err = q.Enqueue(ctx, "", 1)
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
}

func TestEnqueue_ConflictWhileActive(t *testing.T) {
	q, st, _ := newTestQueue(t)
	ctx := context.Background()
	addDocument(t, st, "doc-1")

	first, err := q.Enqueue(ctx, "doc-1", 5)
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, "doc-1", 5)
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	claimed, err := q.ClaimNext(ctx)
	require.NoError(t, err)
	require.Equal(t, first.ID, claimed.ID)

	_, err = q.Enqueue(ctx, "doc-1", 5)
	assert.True(t, apperr.Is(err, apperr.KindConflict), "processing jobs also block")

	_, err = q.Complete(ctx, first.ID)
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, "doc-1", 5)
	assert.NoError(t, err)
}

func TestClaimNext_PriorityThenAge(t *testing.T) {
	q, st, clock := newTestQueue(t)
	ctx := context.Background()

	ids := map[string]string{}
	for _, c := range []struct {
		doc      string
		priority int
	}{
		{"a", 5}, {"b", 2}, {"c", 5}, {"d", 2},
	} {
		addDocument(t, st, c.doc)
		job, err := q.Enqueue(ctx, c.doc, c.priority)
		require.NoError(t, err)
		ids[job.ID] = c.doc
		clock.Advance(time.Second)
	}

	var order []string
	for {
		job, err := q.ClaimNext(ctx)
		require.NoError(t, err)
		if job == nil {
			break
		}
		order = append(order, ids[job.ID])
	}
	assert.Equal(t, []string{"b", "d", "a", "c"}, order)
}

func TestUpdateStatus(t *testing.T) {
	q, st, _ := newTestQueue(t)
	ctx := context.Background()
	addDocument(t, st, "doc-1")

	job, err := q.Enqueue(ctx, "doc-1", 5)
	require.NoError(t, err)

	// Not processing yet.
	_, err = q.UpdateStatus(ctx, job.ID, model.JobStatusCompleted, "")
	assert.True(t, apperr.Is(err, apperr.KindPrecondition))

	_, err = q.UpdateStatus(ctx, job.ID, model.JobStatusPending, "")
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))

	_, err = q.ClaimNext(ctx)
	require.NoError(t, err)

	failed, err := q.UpdateStatus(ctx, job.ID, model.JobStatusFailed, "parse error")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, failed.Status)
	assert.Equal(t, 1, failed.Attempts)
	assert.Equal(t, "parse error", failed.ErrorMessage())
	assert.NotNil(t, failed.CompletedAt)

	_, err = q.UpdateStatus(ctx, "missing", model.JobStatusCompleted, "")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestRetry_BudgetExhaustion(t *testing.T) {
	q, st, _ := newTestQueue(t)
	ctx := context.Background()
	addDocument(t, st, "doc-1")

	job, err := q.Enqueue(ctx, "doc-1", 5)
	require.NoError(t, err)

	for attempt := 1; attempt <= 3; attempt++ {
		claimed, err := q.ClaimNext(ctx)
		require.NoError(t, err)
		require.NotNil(t, claimed)
		_, err = q.Fail(ctx, job.ID, fmt.Sprintf("attempt %d failed", attempt))
		require.NoError(t, err)

		retried, err := q.Retry(ctx, job.ID)
		if attempt < 3 {
			require.NoError(t, err)
			assert.Equal(t, model.JobStatusPending, retried.Status)
			assert.Nil(t, retried.Error)
			assert.Nil(t, retried.StartedAt)
			continue
		}
		assert.True(t, apperr.Is(err, apperr.KindPrecondition))
	}

	// Reset ignores the budget and keeps the attempt count.
	reset, err := q.Reset(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, reset.Status)
	assert.Equal(t, 3, reset.Attempts)
	assert.Contains(t, reset.ErrorHistory, "[attempt 3] attempt 3 failed")
}

func TestRetry_WrongState(t *testing.T) {
	q, st, _ := newTestQueue(t)
	ctx := context.Background()
	addDocument(t, st, "doc-1")

	job, err := q.Enqueue(ctx, "doc-1", 5)
	require.NoError(t, err)

	_, err = q.Retry(ctx, job.ID)
	assert.True(t, apperr.Is(err, apperr.KindPrecondition))

	_, err = q.Retry(ctx, "missing")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestRetryAfter_DelaysClaim(t *testing.T) {
	q, st, clock := newTestQueue(t)
	ctx := context.Background()
	addDocument(t, st, "doc-1")

	job, err := q.Enqueue(ctx, "doc-1", 5)
	require.NoError(t, err)
	_, err = q.ClaimNext(ctx)
	require.NoError(t, err)
	_, err = q.Fail(ctx, job.ID, "rate limited")
	require.NoError(t, err)

	retried, err := q.RetryAfter(ctx, job.ID, 5*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, retried.NotBefore)

	claimed, err := q.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, claimed)

	clock.Advance(5 * time.Minute)
	claimed, err = q.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, job.ID, claimed.ID)
}

func TestReset_FromPendingIsPrecondition(t *testing.T) {
	q, st, _ := newTestQueue(t)
	ctx := context.Background()
	addDocument(t, st, "doc-1")

	job, err := q.Enqueue(ctx, "doc-1", 5)
	require.NoError(t, err)

	_, err = q.Reset(ctx, job.ID)
	assert.True(t, apperr.Is(err, apperr.KindPrecondition))
}

func TestCancel(t *testing.T) {
	q, st, _ := newTestQueue(t)
	ctx := context.Background()
	addDocument(t, st, "doc-1")
	addDocument(t, st, "doc-2")

	pending, err := q.Enqueue(ctx, "doc-1", 5)
	require.NoError(t, err)
	cancelled, err := q.Cancel(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, cancelled.Status)
	assert.Equal(t, CancelMessage, cancelled.ErrorMessage())
	assert.Equal(t, 0, cancelled.Attempts)

	_, err = q.Cancel(ctx, pending.ID)
	assert.True(t, apperr.Is(err, apperr.KindPrecondition))

	done, err := q.Enqueue(ctx, "doc-2", 5)
	require.NoError(t, err)
	_, err = q.ClaimNext(ctx)
	require.NoError(t, err)
	_, err = q.Complete(ctx, done.ID)
	require.NoError(t, err)

	_, err = q.Cancel(ctx, done.ID)
	assert.True(t, apperr.Is(err, apperr.KindPrecondition))
}

func TestStats_StuckJobs(t *testing.T) {
	q, st, clock := newTestQueue(t)
	ctx := context.Background()
	addDocument(t, st, "doc-1")
	addDocument(t, st, "doc-2")

	_, err := q.Enqueue(ctx, "doc-1", 5)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "doc-2", 5)
	require.NoError(t, err)
	_, err = q.ClaimNext(ctx)
	require.NoError(t, err)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Processing)
	assert.Equal(t, 0, stats.Stuck)

	clock.Advance(30 * time.Minute)
	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Stuck, "30 minutes is inside the timeout")

	clock.Advance(60 * time.Minute)
	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Stuck, "90 minutes is past the timeout")

	// Stuck jobs are only reported.
	jobs, err := q.List(ctx, store.JobFilter{Status: model.JobStatusProcessing})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestCleanup(t *testing.T) {
	q, st, clock := newTestQueue(t)
	ctx := context.Background()
	addDocument(t, st, "doc-1")

	job, err := q.Enqueue(ctx, "doc-1", 5)
	require.NoError(t, err)
	_, err = q.ClaimNext(ctx)
	require.NoError(t, err)
	_, err = q.Complete(ctx, job.ID)
	require.NoError(t, err)

	_, err = q.Cleanup(ctx, 0)
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))

	n, err := q.Cleanup(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	clock.Advance(8 * 24 * time.Hour)
	n, err = q.Cleanup(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestList_InvalidStatus(t *testing.T) {
	q, _, _ := newTestQueue(t)
	_, err := q.List(context.Background(), store.JobFilter{Status: "bogus"})
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
}
