package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/util/duration"

	"github.com/helmcloud/release-watch/internal/collector"
	"github.com/helmcloud/release-watch/internal/notifier"
)

const cleanupSchedule = "0 2 * * *"

type PodCollector interface {
	CollectPods(ctx context.Context, selector string) ([]collector.PodReport, error)
}

type Dispatcher interface {
	Send(ctx context.Context, notification notifier.Notification) int
}

type StatusCleaner interface {
	CleanupOldStatuses(ctx context.Context, retention time.Duration) (int64, error)
}

type SchedulerConfig struct {
	Release  string
	Selector string
	// SummarySchedule is a cron spec for the release digest. Empty disables it.
	SummarySchedule string
	Retention       time.Duration
}

// Scheduler runs the periodic jobs next to the watch pipeline: a digest of
// the release's pods and the daily purge of stale pod statuses.
type Scheduler struct {
	cron       *cron.Cron
	collector  PodCollector
	dispatcher Dispatcher
	cleaner    StatusCleaner
	config     SchedulerConfig
	logger     *zap.Logger
}

// New creates a scheduler. cleaner may be nil when pod statuses are not
// persisted.
func New(col PodCollector, dispatcher Dispatcher, cleaner StatusCleaner, cfg SchedulerConfig, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:       cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		collector:  col,
		dispatcher: dispatcher,
		cleaner:    cleaner,
		config:     cfg,
		logger:     logger,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.config.SummarySchedule != "" {
		_, err := s.cron.AddFunc(s.config.SummarySchedule, func() {
			if err := s.runSummary(ctx); err != nil {
				s.logger.Error("Error running summary", zap.Error(err))
			}
		})
		if err != nil {
			return fmt.Errorf("failed to schedule summary job: %w", err)
		}
		s.logger.Info("Release summary scheduled", zap.String("schedule", s.config.SummarySchedule))
	}

	if s.cleaner != nil && s.config.Retention > 0 {
		_, err := s.cron.AddFunc(cleanupSchedule, func() {
			if err := s.runCleanup(ctx); err != nil {
				s.logger.Error("Error running cleanup", zap.Error(err))
			}
		})
		if err != nil {
			return fmt.Errorf("failed to schedule cleanup job: %w", err)
		}
		s.logger.Info("State cleanup scheduled", zap.String("schedule", cleanupSchedule))
	}

	s.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runSummary(ctx context.Context) error {
	reports, err := s.collector.CollectPods(ctx, s.config.Selector)
	if err != nil {
		return fmt.Errorf("failed to collect pods: %w", err)
	}

	summary := buildSummary(s.config.Release, reports)
	delivered := s.dispatcher.Send(ctx, summary)
	s.logger.Info("Release summary sent", zap.Int("pods", len(reports)), zap.Int("senders", delivered))
	return nil
}

func (s *Scheduler) runCleanup(ctx context.Context) error {
	removed, err := s.cleaner.CleanupOldStatuses(ctx, s.config.Retention)
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}
	s.logger.Info("Cleanup completed", zap.Int64("removed", removed))
	return nil
}

func buildSummary(release string, reports []collector.PodReport) notifier.Notification {
	notRunning := 0
	lines := make([]string, 0, len(reports))
	for _, r := range reports {
		if !r.Status.IsRunning() {
			notRunning++
		}

		details := []string{fmt.Sprintf("restarts %d", r.RestartCount)}
		if r.RestartReasons != "" {
			details[0] += " " + r.RestartReasons
		}
		if r.Age > 0 {
			details = append(details, "age "+duration.HumanDuration(r.Age))
		}
		if r.CPUActual != "" {
			details = append(details, "cpu "+r.CPUActual)
		}
		if r.MemoryActual != "" {
			details = append(details, "memory "+r.MemoryActual)
		}
		if r.Warnings > 0 {
			details = append(details, fmt.Sprintf("warnings %d", r.Warnings))
		}
		lines = append(lines, fmt.Sprintf("%s: %s (%s)", r.Name, r.Status, strings.Join(details, ", ")))
	}

	var title string
	switch {
	case len(reports) == 0:
		title = fmt.Sprintf("Release %s: no pods", release)
	case notRunning == 0:
		title = fmt.Sprintf("Release %s: all %d pods Running", release, len(reports))
	default:
		title = fmt.Sprintf("Release %s: %d/%d pods not Running", release, notRunning, len(reports))
	}

	return notifier.Notification{
		Kind:  notifier.KindSummary,
		Title: title,
		Body:  strings.Join(lines, "\n"),
	}
}
