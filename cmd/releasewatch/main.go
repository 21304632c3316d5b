package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/helmcloud/release-watch/internal/collector"
	"github.com/helmcloud/release-watch/internal/config"
	"github.com/helmcloud/release-watch/internal/logging"
	"github.com/helmcloud/release-watch/internal/monitor"
	"github.com/helmcloud/release-watch/internal/notifier"
	"github.com/helmcloud/release-watch/internal/resolver"
	"github.com/helmcloud/release-watch/internal/scheduler"
	"github.com/helmcloud/release-watch/internal/storage"
	"github.com/helmcloud/release-watch/internal/watcher"
)

const appName = "release-watch"

// version is set at build time with -ldflags "-X main.version=...".
var version = "devel"

const (
	exitOK = iota
	exitFailure
	exitMissingTarget
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx)
	stop()
	os.Exit(code)
}

func execute(ctx context.Context) int {
	cmd, err := newRootCommand()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailure
	}

	err = cmd.ExecuteContext(ctx)
	switch {
	case err == nil:
		fmt.Println("Done.")
		return exitOK
	case missingTarget(err):
		fmt.Fprintln(os.Stderr, "Missing pod/release name")
		return exitMissingTarget
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailure
	}
}

func missingTarget(err error) bool {
	if errors.Is(err, monitor.ErrNoTarget) {
		return true
	}
	var resErr *resolver.ResolutionError
	if errors.As(err, &resErr) {
		return resErr.Cause == resolver.CauseNotFound || resErr.Cause == resolver.CauseMissingLabel
	}
	return false
}

func newRootCommand() (*cobra.Command, error) {
	loader := config.NewLoader()
	var configFile string

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Watch the pods of a release and notify when one leaves the Running phase",
		Example:       "release-watch --pod checkout-7d9f-abcde\nrelease-watch -n payments -r checkout-svc --notify-policy on-change",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := loader.ReadInConfig(configFile); err != nil {
				return err
			}
			cfg, err := loader.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "Path to a config file (default ./config.yaml or ~/.config/release-watch/config.yaml)")
	if err := loader.BindFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	cmd.MarkFlagsMutuallyExclusive("pod", "release")

	return cmd, nil
}

type statusStore interface {
	notifier.StatusStore
	Close() error
}

func run(ctx context.Context, cfg *config.Config) error {
	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.LogLevel
	logCfg.Format = cfg.LogFormat
	logCfg.File = cfg.LogFile
	logger, logCloser, err := logging.New(logCfg)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	clients, err := collector.NewClients(cfg.Kubeconfig, logger)
	if err != nil {
		return err
	}

	var store statusStore
	var cleaner scheduler.StatusCleaner
	if cfg.StatePath != "" {
		sqlite, err := storage.New(cfg.StatePath)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		store, cleaner = sqlite, sqlite
	} else {
		memory, err := storage.NewMemory(storage.DefaultMemorySize)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		store = memory
	}
	defer store.Close()

	notif := notifier.New(store, buildSenders(cfg, logger), notifier.Options{
		Policy:         cfg.NotifyPolicy,
		NotifyRecovery: cfg.NotifyRecovery,
	}, logger)

	podWatcher := watcher.New(clients.Kubernetes, cfg.Namespace, watcher.Config{
		Timeout:        cfg.WatchTimeout,
		InitialBackoff: cfg.WatchBackoffInitial,
		MaxBackoff:     cfg.WatchBackoffMax,
	}, logger)

	mon := monitor.New(cfg.Namespace, resolver.New(clients.Metadata, logger), podWatcher, notif, logger)

	target, err := mon.ResolveTarget(ctx, cfg.Pod, cfg.Release)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		logger.Error("Failed to resolve release", zap.Error(err))
		return err
	}

	if cfg.SummarySchedule != "" || cleaner != nil {
		sched := scheduler.New(collector.New(clients, cfg.Namespace, logger), notif, cleaner, scheduler.SchedulerConfig{
			Release:         target.Release,
			Selector:        target.Selector,
			SummarySchedule: cfg.SummarySchedule,
			Retention:       cfg.StateRetention,
		}, logger)
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer sched.Stop()
	}

	if cfg.MetricsAddress != "" {
		srv := serveMetrics(cfg.MetricsAddress, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if err := mon.Run(ctx, target); err != nil {
		logger.Error("Watch failed", zap.Error(err))
		return err
	}
	return nil
}

func buildSenders(cfg *config.Config, logger *zap.Logger) []notifier.Sender {
	senders := make([]notifier.Sender, 0, len(cfg.NotifySenders))
	for _, name := range cfg.NotifySenders {
		switch name {
		case config.SenderDesktop:
			senders = append(senders, notifier.NewDesktop(appName, cfg.NotifySound))
		case config.SenderSlack:
			senders = append(senders, notifier.NewSlack(cfg.SlackWebhookURL, cfg.SlackChannel))
		case config.SenderLog:
			senders = append(senders, notifier.NewLogSender(logger))
		}
	}
	return senders
}

func serveMetrics(addr string, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Metrics endpoint listening", zap.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics endpoint failed", zap.Error(err))
		}
	}()

	return srv
}
