package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/therapy-intel/internal/config"
	"github.com/sells-group/therapy-intel/internal/model"
)

type mockStats struct{ mock.Mock }

func (m *mockStats) Stats(ctx context.Context) (*model.QueueStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.QueueStats), args.Error(1)
}

type mockBacklog struct{ mock.Mock }

func (m *mockBacklog) CountExtractions(ctx context.Context, status model.ReviewStatus) (int, error) {
	args := m.Called(ctx, status)
	return args.Int(0), args.Error(1)
}

type observerFunc func(*Snapshot)

func (f observerFunc) Observe(s *Snapshot) { f(s) }

func testCfg() config.MonitoringConfig {
	return config.MonitoringConfig{
		CheckIntervalSecs:      60,
		FailureRateThreshold:   0.25,
		ReviewBacklogThreshold: 10,
	}
}

func findAlert(alerts []Alert, typ AlertType) *Alert {
	for i := range alerts {
		if alerts[i].Type == typ {
			return &alerts[i]
		}
	}
	return nil
}

func TestCollector_Collect(t *testing.T) {
	stats := &mockStats{}
	stats.On("Stats", mock.Anything).Return(&model.QueueStats{Pending: 2, Completed: 6, Failed: 2}, nil)
	backlog := &mockBacklog{}
	backlog.On("CountExtractions", mock.Anything, model.ReviewPending).Return(7, nil)

	snap, err := NewCollector(stats, backlog).Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Queue.Pending)
	assert.InDelta(t, 0.25, snap.FailureRate, 1e-9)
	assert.Equal(t, 7, snap.ReviewBacklog)
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollector_Errors(t *testing.T) {
	stats := &mockStats{}
	stats.On("Stats", mock.Anything).Return(nil, errors.New("db down"))
	_, err := NewCollector(stats, &mockBacklog{}).Collect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: queue stats")

	stats = &mockStats{}
	stats.On("Stats", mock.Anything).Return(&model.QueueStats{}, nil)
	backlog := &mockBacklog{}
	backlog.On("CountExtractions", mock.Anything, model.ReviewPending).Return(0, errors.New("db down"))
	_, err = NewCollector(stats, backlog).Collect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count review backlog")
}

func TestAlerter_Evaluate_AllThresholds(t *testing.T) {
	snap := &Snapshot{
		Queue:         model.QueueStats{Processing: 3, Stuck: 1, Completed: 4, Failed: 4, Exhausted: 2},
		FailureRate:   0.5,
		ReviewBacklog: 11,
		CollectedAt:   time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
	}

	alerts := NewAlerter(testCfg()).Evaluate(snap)
	require.Len(t, alerts, 4)

	stuck := findAlert(alerts, AlertStuckJobs)
	require.NotNil(t, stuck)
	assert.Equal(t, "high", stuck.Severity)

	rate := findAlert(alerts, AlertFailureRate)
	require.NotNil(t, rate)
	assert.Equal(t, "high", rate.Severity)
	assert.Contains(t, rate.Message, "50.0%")

	exhausted := findAlert(alerts, AlertExhaustedJobs)
	require.NotNil(t, exhausted)
	assert.Equal(t, "medium", exhausted.Severity)

	backlog := findAlert(alerts, AlertReviewBacklog)
	require.NotNil(t, backlog)
	assert.Equal(t, "low", backlog.Severity)
	assert.Equal(t, snap.CollectedAt, backlog.Timestamp)
}

func TestAlerter_Evaluate_Healthy(t *testing.T) {
	snap := &Snapshot{
		Queue:         model.QueueStats{Completed: 20, Failed: 1},
		FailureRate:   1.0 / 21,
		ReviewBacklog: 10,
	}
	assert.Empty(t, NewAlerter(testCfg()).Evaluate(snap))
}

func TestAlerter_Evaluate_FailureRateNeedsVolume(t *testing.T) {
	snap := &Snapshot{
		Queue:       model.QueueStats{Completed: 1, Failed: 3},
		FailureRate: 0.75,
	}
	assert.Nil(t, findAlert(NewAlerter(testCfg()).Evaluate(snap), AlertFailureRate))
}

func TestAlerter_SendAlerts(t *testing.T) {
	var mu sync.Mutex
	var received []Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var a Alert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&a))
		mu.Lock()
		received = append(received, a)
		mu.Unlock()
		if a.Type == AlertReviewBacklog {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testCfg()
	cfg.WebhookURL = srv.URL
	sent := NewAlerter(cfg).SendAlerts(context.Background(), []Alert{
		{Type: AlertStuckJobs, Severity: "high", Message: "1 stuck"},
		{Type: AlertReviewBacklog, Severity: "low", Message: "backlog"},
	})

	assert.Equal(t, 1, sent)
	assert.Len(t, received, 2)
	assert.Equal(t, AlertStuckJobs, received[0].Type)
}

func TestAlerter_SendAlerts_NoWebhook(t *testing.T) {
	assert.Zero(t, NewAlerter(testCfg()).SendAlerts(context.Background(), []Alert{{Type: AlertStuckJobs}}))
}

func TestChecker_CheckObservesAndAlerts(t *testing.T) {
	stats := &mockStats{}
	stats.On("Stats", mock.Anything).Return(&model.QueueStats{
		Pending: 4, Processing: 2, Completed: 10, Failed: 1, Stuck: 2, AvgDurationSeconds: 42.5,
	}, nil)
	backlog := &mockBacklog{}
	backlog.On("CountExtractions", mock.Anything, model.ReviewPending).Return(3, nil)

	metrics := NewMetrics(prometheus.NewRegistry())
	checker := NewChecker(NewCollector(stats, backlog), NewAlerter(testCfg()), metrics, testCfg())

	alerts, err := checker.Check(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertStuckJobs, alerts[0].Type)

	assert.InDelta(t, 4, testutil.ToFloat64(metrics.QueueDepth.WithLabelValues("pending")), 1e-9)
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.StuckJobs), 1e-9)
	assert.InDelta(t, 42.5, testutil.ToFloat64(metrics.AvgDurationSeconds), 1e-9)
	assert.InDelta(t, 3, testutil.ToFloat64(metrics.ReviewBacklog), 1e-9)

	// Stuck jobs are surfaced, never reset.
	stats.AssertNumberOfCalls(t, "Stats", 1)
}

func TestChecker_CollectError(t *testing.T) {
	stats := &mockStats{}
	stats.On("Stats", mock.Anything).Return(nil, errors.New("db down"))
	checker := NewChecker(NewCollector(stats, &mockBacklog{}), NewAlerter(testCfg()), nil, testCfg())

	alerts, err := checker.Check(context.Background())
	require.Error(t, err)
	assert.Nil(t, alerts)
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	stats := &mockStats{}
	stats.On("Stats", mock.Anything).Return(&model.QueueStats{}, nil)
	backlog := &mockBacklog{}
	backlog.On("CountExtractions", mock.Anything, model.ReviewPending).Return(0, nil)
	observed := make(chan struct{}, 1)
	checker := NewChecker(NewCollector(stats, backlog), NewAlerter(testCfg()), observerFunc(func(*Snapshot) {
		select {
		case observed <- struct{}{}:
		default:
		}
	}), testCfg())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	select {
	case <-observed:
	case <-time.After(2 * time.Second):
		t.Fatal("no initial check")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("checker did not stop")
	}
}

func TestMetrics_Recorders(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordJob("completed")
	m.RecordJob("completed")
	m.RecordJob("failed")
	m.RecordMerge("approved")

	assert.InDelta(t, 2, testutil.ToFloat64(m.JobOutcomes.WithLabelValues("completed")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.JobOutcomes.WithLabelValues("failed")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.MergeOutcomes.WithLabelValues("approved")), 1e-9)
}
