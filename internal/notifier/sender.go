package notifier

import (
	"context"

	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/types"

	"github.com/helmcloud/release-watch/internal/podstatus"
)

type Kind string

const (
	KindFailure  Kind = "failure"
	KindRecovery Kind = "recovery"
	KindSummary  Kind = "summary"
)

type Notification struct {
	Kind   Kind
	Title  string
	Body   string
	Pod    types.NamespacedName
	Status podstatus.FlatStatus
}

// Sender delivers notifications to an operator-facing channel. Senders
// may be called from more than one goroutine.
type Sender interface {
	Name() string
	Send(ctx context.Context, notification Notification) error
}

// LogSender writes notifications to the process log.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Name() string {
	return "log"
}

func (s *LogSender) Send(_ context.Context, notification Notification) error {
	s.logger.Warn(notification.Title,
		zap.String("kind", string(notification.Kind)),
		zap.String("body", notification.Body),
	)
	return nil
}
