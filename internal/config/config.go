// Package config loads release-watch settings from CLI flags, environment
// variables (prefix RELEASEWATCH_) and an optional config.yaml, in that
// order of precedence, falling back to compiled defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/helmcloud/release-watch/internal/notifier"
)

const (
	KeyNamespace           = "namespace"
	KeyPod                 = "pod"
	KeyRelease             = "release"
	KeyKubeconfig          = "kube.config"
	KeyWatchTimeout        = "watch.timeout"
	KeyWatchBackoffInitial = "watch.backoff.initial"
	KeyWatchBackoffMax     = "watch.backoff.max"
	KeyNotifyPolicy        = "notify.policy"
	KeyNotifyRecovery      = "notify.recovery"
	KeyNotifySenders       = "notify.senders"
	KeyNotifySound         = "notify.sound"
	KeySlackWebhookURL     = "slack.webhook_url"
	KeySlackChannel        = "slack.channel"
	KeyStatePath           = "state.path"
	KeyStateRetention      = "state.retention"
	KeySummarySchedule     = "summary.schedule"
	KeyMetricsAddress      = "metrics.address"
	KeyLogLevel            = "log.level"
	KeyLogFormat           = "log.format"
	KeyLogFile             = "log.file"
)

const (
	SenderDesktop = "desktop"
	SenderSlack   = "slack"
	SenderLog     = "log"
)

type ConfigOption struct {
	Key         string
	Flag        string
	Shorthand   string
	Default     any
	Description string
}

var Options = []ConfigOption{
	{Key: KeyNamespace, Flag: "namespace", Shorthand: "n", Default: "application", Description: "Namespace of the watched release"},
	{Key: KeyPod, Flag: "pod", Shorthand: "p", Default: "", Description: "Pod whose release instance label selects the watched pods"},
	{Key: KeyRelease, Flag: "release", Shorthand: "r", Default: "", Description: "Release instance name to watch"},
	{Key: KeyKubeconfig, Flag: "kubeconfig", Default: "", Description: "Path to a kubeconfig file (defaults to in-cluster, $KUBECONFIG, ~/.kube/config)"},
	{Key: KeyWatchTimeout, Flag: flag(KeyWatchTimeout), Default: 9 * time.Second, Description: "Server-side timeout of a single watch session"},
	{Key: KeyWatchBackoffInitial, Flag: flag(KeyWatchBackoffInitial), Default: time.Second, Description: "Initial delay before reconnecting after a transient fault"},
	{Key: KeyWatchBackoffMax, Flag: flag(KeyWatchBackoffMax), Default: 30 * time.Second, Description: "Maximum delay between reconnect attempts"},
	{Key: KeyNotifyPolicy, Flag: flag(KeyNotifyPolicy), Default: string(notifier.PolicyAlways), Description: "When to notify about non-Running pods (always, on-change)"},
	{Key: KeyNotifyRecovery, Flag: flag(KeyNotifyRecovery), Default: false, Description: "Notify when a pod returns to Running (on-change policy only)"},
	{Key: KeyNotifySenders, Flag: flag(KeyNotifySenders), Default: []string{SenderDesktop}, Description: "Notification senders (desktop, slack, log)"},
	{Key: KeyNotifySound, Flag: flag(KeyNotifySound), Default: "Funk", Description: "Sound played with macOS desktop notifications"},
	{Key: KeySlackWebhookURL, Flag: flag(KeySlackWebhookURL), Default: "", Description: "Slack incoming webhook URL"},
	{Key: KeySlackChannel, Flag: flag(KeySlackChannel), Default: "", Description: "Slack channel override"},
	{Key: KeyStatePath, Flag: flag(KeyStatePath), Default: "", Description: "SQLite file keeping last seen pod statuses (in memory when empty)"},
	{Key: KeyStateRetention, Flag: flag(KeyStateRetention), Default: 168 * time.Hour, Description: "How long persisted pod statuses are kept"},
	{Key: KeySummarySchedule, Flag: flag(KeySummarySchedule), Default: "", Description: "Cron schedule of the release summary (disabled when empty)"},
	{Key: KeyMetricsAddress, Flag: flag(KeyMetricsAddress), Default: "", Description: "Listen address of the Prometheus metrics endpoint (disabled when empty)"},
	{Key: KeyLogLevel, Flag: flag(KeyLogLevel), Default: "info", Description: "Log level (debug, info, warn, error)"},
	{Key: KeyLogFormat, Flag: flag(KeyLogFormat), Default: "console", Description: "Log format (console, json)"},
	{Key: KeyLogFile, Flag: flag(KeyLogFile), Default: "", Description: "Write logs to this rotated file instead of stderr"},
}

type Config struct {
	Namespace  string
	Pod        string
	Release    string
	Kubeconfig string

	WatchTimeout        time.Duration
	WatchBackoffInitial time.Duration
	WatchBackoffMax     time.Duration

	NotifyPolicy   notifier.Policy
	NotifyRecovery bool
	NotifySenders  []string
	NotifySound    string

	SlackWebhookURL string
	SlackChannel    string

	StatePath      string
	StateRetention time.Duration

	SummarySchedule string
	MetricsAddress  string

	LogLevel  string
	LogFormat string
	LogFile   string
}

type Loader struct {
	v *viper.Viper
}

func NewLoader() *Loader {
	v := viper.New()

	for _, o := range Options {
		v.SetDefault(o.Key, o.Default)
	}

	v.SetEnvPrefix("RELEASEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v}
}

// ReadInConfig reads path, or config.yaml from the working directory or
// $HOME/.config/release-watch when path is empty. A missing default file is
// not an error.
func (l *Loader) ReadInConfig(path string) error {
	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		return nil
	}

	l.v.SetConfigName("config")
	l.v.SetConfigType("yaml")
	l.v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		l.v.AddConfigPath(filepath.Join(home, ".config", "release-watch"))
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !(errors.As(err, &notFoundErr) || errors.Is(err, os.ErrNotExist)) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

func (l *Loader) BindFlags(fs *pflag.FlagSet) error {
	for _, o := range Options {
		switch v := o.Default.(type) {
		case string:
			fs.StringP(o.Flag, o.Shorthand, v, o.Description)
		case bool:
			fs.BoolP(o.Flag, o.Shorthand, v, o.Description)
		case []string:
			fs.StringSliceP(o.Flag, o.Shorthand, v, o.Description)
		case time.Duration:
			fs.DurationP(o.Flag, o.Shorthand, v, o.Description)
		default:
			return fmt.Errorf("unsupported flag type for key: %s", o.Key)
		}

		if err := l.v.BindPFlag(o.Key, fs.Lookup(o.Flag)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", o.Flag, err)
		}
	}
	return nil
}

func (l *Loader) Load() (*Config, error) {
	cfg := &Config{
		Namespace:  strings.TrimSpace(l.v.GetString(KeyNamespace)),
		Pod:        strings.TrimSpace(l.v.GetString(KeyPod)),
		Release:    strings.TrimSpace(l.v.GetString(KeyRelease)),
		Kubeconfig: l.v.GetString(KeyKubeconfig),

		WatchTimeout:        l.v.GetDuration(KeyWatchTimeout),
		WatchBackoffInitial: l.v.GetDuration(KeyWatchBackoffInitial),
		WatchBackoffMax:     l.v.GetDuration(KeyWatchBackoffMax),

		NotifyRecovery: l.v.GetBool(KeyNotifyRecovery),
		NotifySound:    l.v.GetString(KeyNotifySound),

		SlackWebhookURL: l.v.GetString(KeySlackWebhookURL),
		SlackChannel:    l.v.GetString(KeySlackChannel),

		StatePath:      l.v.GetString(KeyStatePath),
		StateRetention: l.v.GetDuration(KeyStateRetention),

		SummarySchedule: strings.TrimSpace(l.v.GetString(KeySummarySchedule)),
		MetricsAddress:  l.v.GetString(KeyMetricsAddress),

		LogLevel:  strings.ToLower(l.v.GetString(KeyLogLevel)),
		LogFormat: strings.ToLower(l.v.GetString(KeyLogFormat)),
		LogFile:   l.v.GetString(KeyLogFile),
	}

	if cfg.Namespace == "" {
		return nil, fmt.Errorf("%s must not be empty", KeyNamespace)
	}
	if cfg.Pod != "" && cfg.Release != "" {
		return nil, fmt.Errorf("%s and %s are mutually exclusive", KeyPod, KeyRelease)
	}

	policy, err := notifier.ParsePolicy(l.v.GetString(KeyNotifyPolicy))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", KeyNotifyPolicy, err)
	}
	cfg.NotifyPolicy = policy

	// Environment values arrive as one comma separated string.
	var senders []string
	for _, s := range l.v.GetStringSlice(KeyNotifySenders) {
		senders = append(senders, parseCommaSeparated(strings.ToLower(s))...)
	}
	if len(senders) == 0 {
		return nil, fmt.Errorf("%s requires at least one sender", KeyNotifySenders)
	}
	validSenders := []string{SenderDesktop, SenderSlack, SenderLog}
	for _, s := range senders {
		if !slices.Contains(validSenders, s) {
			return nil, fmt.Errorf("invalid sender in %s: %s", KeyNotifySenders, s)
		}
	}
	slices.Sort(senders)
	cfg.NotifySenders = slices.Compact(senders)

	if slices.Contains(cfg.NotifySenders, SenderSlack) && cfg.SlackWebhookURL == "" {
		return nil, fmt.Errorf("%s is required when the slack sender is enabled", KeySlackWebhookURL)
	}

	durations := map[string]time.Duration{
		KeyWatchTimeout:        cfg.WatchTimeout,
		KeyWatchBackoffInitial: cfg.WatchBackoffInitial,
		KeyWatchBackoffMax:     cfg.WatchBackoffMax,
		KeyStateRetention:      cfg.StateRetention,
	}
	for key, d := range durations {
		if d <= 0 {
			return nil, fmt.Errorf("%s must be positive, got %s", key, d)
		}
	}
	if cfg.WatchBackoffMax < cfg.WatchBackoffInitial {
		return nil, fmt.Errorf("%s must not be lower than %s", KeyWatchBackoffMax, KeyWatchBackoffInitial)
	}

	return cfg, nil
}

// flag converts a viper key like "slack.webhook_url" into "slack-webhook-url".
func flag(key string) string {
	f := strings.ToLower(key)
	f = strings.ReplaceAll(f, ".", "-")
	return strings.ReplaceAll(f, "_", "-")
}

func parseCommaSeparated(s string) []string {
	if s == "" {
		return []string{}
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
