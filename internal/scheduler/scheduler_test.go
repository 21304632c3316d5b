package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/helmcloud/release-watch/internal/collector"
	"github.com/helmcloud/release-watch/internal/notifier"
	"github.com/helmcloud/release-watch/internal/podstatus"
)

type stubCollector struct {
	reports  []collector.PodReport
	err      error
	selector string
}

func (c *stubCollector) CollectPods(_ context.Context, selector string) ([]collector.PodReport, error) {
	c.selector = selector
	return c.reports, c.err
}

type stubDispatcher struct {
	mu   sync.Mutex
	sent []notifier.Notification
}

func (d *stubDispatcher) Send(_ context.Context, n notifier.Notification) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, n)
	return 1
}

type stubCleaner struct {
	retention time.Duration
}

func (c *stubCleaner) CleanupOldStatuses(_ context.Context, retention time.Duration) (int64, error) {
	c.retention = retention
	return 3, nil
}

func testConfig() SchedulerConfig {
	return SchedulerConfig{
		Release:   "checkout-svc",
		Selector:  "app.kubernetes.io/instance=checkout-svc",
		Retention: 24 * time.Hour,
	}
}

func TestBuildSummary(t *testing.T) {
	summary := buildSummary("checkout-svc", []collector.PodReport{
		{
			Name:         "checkout-0",
			Status:       podstatus.FlatStatus{Phase: "Running"},
			Age:          3 * time.Hour,
			CPUActual:    "150m",
			MemoryActual: "128Mi",
		},
		{
			Name:           "checkout-1",
			Status:         podstatus.FlatStatus{Phase: "Failed", Reason: "OOMKilled"},
			RestartCount:   4,
			RestartReasons: "OOMKilled(1)",
			Warnings:       2,
		},
	})

	assert.Equal(t, notifier.KindSummary, summary.Kind)
	assert.Equal(t, "Release checkout-svc: 1/2 pods not Running", summary.Title)
	assert.Equal(t,
		"checkout-0: \"Running\" (restarts 0, age 3h, cpu 150m, memory 128Mi)\n"+
			"checkout-1: \"Failed\" (\"OOMKilled\") (restarts 4 OOMKilled(1), warnings 2)",
		summary.Body)
}

func TestBuildSummaryTitles(t *testing.T) {
	assert.Equal(t, "Release checkout-svc: no pods", buildSummary("checkout-svc", nil).Title)
	assert.Equal(t, "Release checkout-svc: all 1 pods Running", buildSummary("checkout-svc", []collector.PodReport{
		{Name: "checkout-0", Status: podstatus.FlatStatus{Phase: "Running"}},
	}).Title)
}

func TestRunSummary(t *testing.T) {
	col := &stubCollector{reports: []collector.PodReport{
		{Name: "checkout-0", Status: podstatus.FlatStatus{Phase: "Pending"}},
	}}
	dispatcher := &stubDispatcher{}
	s := New(col, dispatcher, nil, testConfig(), zap.NewNop())

	require.NoError(t, s.runSummary(context.Background()))
	assert.Equal(t, "app.kubernetes.io/instance=checkout-svc", col.selector)
	require.Len(t, dispatcher.sent, 1)
	assert.Equal(t, "Release checkout-svc: 1/1 pods not Running", dispatcher.sent[0].Title)
}

func TestRunSummaryCollectFailure(t *testing.T) {
	dispatcher := &stubDispatcher{}
	s := New(&stubCollector{err: errors.New("forbidden")}, dispatcher, nil, testConfig(), zap.NewNop())

	assert.Error(t, s.runSummary(context.Background()))
	assert.Empty(t, dispatcher.sent)
}

func TestRunCleanup(t *testing.T) {
	cleaner := &stubCleaner{}
	s := New(&stubCollector{}, &stubDispatcher{}, cleaner, testConfig(), zap.NewNop())

	require.NoError(t, s.runCleanup(context.Background()))
	assert.Equal(t, 24*time.Hour, cleaner.retention)
}

func TestStart(t *testing.T) {
	t.Run("registers configured jobs", func(t *testing.T) {
		cfg := testConfig()
		cfg.SummarySchedule = "@every 1h"
		s := New(&stubCollector{}, &stubDispatcher{}, &stubCleaner{}, cfg, zap.NewNop())

		require.NoError(t, s.Start(context.Background()))
		defer s.Stop()
		assert.Len(t, s.cron.Entries(), 2)
	})

	t.Run("nothing to schedule", func(t *testing.T) {
		s := New(&stubCollector{}, &stubDispatcher{}, nil, testConfig(), zap.NewNop())

		require.NoError(t, s.Start(context.Background()))
		defer s.Stop()
		assert.Empty(t, s.cron.Entries())
	})

	t.Run("invalid schedule", func(t *testing.T) {
		cfg := testConfig()
		cfg.SummarySchedule = "every now and then"
		s := New(&stubCollector{}, &stubDispatcher{}, nil, cfg, zap.NewNop())

		assert.Error(t, s.Start(context.Background()))
	})
}

func TestSummaryJobRuns(t *testing.T) {
	cfg := testConfig()
	cfg.SummarySchedule = "@every 1s"
	dispatcher := &stubDispatcher{}
	s := New(&stubCollector{}, dispatcher, nil, cfg, zap.NewNop())

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool {
		dispatcher.mu.Lock()
		defer dispatcher.mu.Unlock()
		return len(dispatcher.sent) > 0
	}, 5*time.Second, 50*time.Millisecond)
}
