package notifier

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/types"

	"github.com/helmcloud/release-watch/internal/podstatus"
)

type Policy string

const (
	// PolicyAlways reports every non-Running observation, repeated or not.
	PolicyAlways Policy = "always"
	// PolicyOnChange reports a non-Running status only when it differs from
	// the last status seen for the same pod.
	PolicyOnChange Policy = "on-change"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyAlways, PolicyOnChange:
		return p, nil
	default:
		return "", fmt.Errorf("unknown notification policy %q (expected %q or %q)", s, PolicyAlways, PolicyOnChange)
	}
}

// StatusStore remembers the last status observed per pod.
type StatusStore interface {
	LastStatus(ctx context.Context, pod types.NamespacedName) (podstatus.FlatStatus, bool, error)
	RecordStatus(ctx context.Context, pod types.NamespacedName, status podstatus.FlatStatus) error
}

type Options struct {
	Policy Policy
	// NotifyRecovery also reports a pod returning to Running after a
	// non-Running observation. Only honoured with PolicyOnChange.
	NotifyRecovery bool
}

type Notifier struct {
	store   StatusStore
	senders []Sender
	opts    Options
	logger  *zap.Logger
}

func New(store StatusStore, senders []Sender, opts Options, logger *zap.Logger) *Notifier {
	if opts.Policy == "" {
		opts.Policy = PolicyAlways
	}

	return &Notifier{
		store:   store,
		senders: senders,
		opts:    opts,
		logger:  logger,
	}
}

// Handle evaluates one observed pod state and delivers at most one
// notification for it. Delivery failures are logged and never returned.
func (n *Notifier) Handle(ctx context.Context, pod *corev1.Pod) bool {
	id := types.NamespacedName{Namespace: pod.Namespace, Name: pod.Name}
	status := podstatus.Project(pod)

	n.logger.Info(fmt.Sprintf("POD: %s, status: %s", pod.Name, status),
		zap.String("namespace", pod.Namespace),
		zap.String("phase", status.Phase),
	)

	previous, seen, err := n.store.LastStatus(ctx, id)
	if err != nil {
		n.logger.Warn("Failed to read last pod status", zap.String("pod", pod.Name), zap.Error(err))
		seen = false
	}

	if err := n.store.RecordStatus(ctx, id, status); err != nil {
		n.logger.Warn("Failed to record pod status", zap.String("pod", pod.Name), zap.Error(err))
	}

	notification, ok := n.decide(id, status, previous, seen)
	if !ok {
		return false
	}

	n.Send(ctx, notification)
	return true
}

func (n *Notifier) decide(id types.NamespacedName, status, previous podstatus.FlatStatus, seen bool) (Notification, bool) {
	if status.IsRunning() {
		if n.opts.Policy == PolicyOnChange && n.opts.NotifyRecovery && seen && !previous.IsRunning() {
			return Notification{
				Kind:   KindRecovery,
				Title:  fmt.Sprintf("Pod %s", id.Name),
				Body:   "Is back in 'Running' phase",
				Pod:    id,
				Status: status,
			}, true
		}
		return Notification{}, false
	}

	if n.opts.Policy == PolicyOnChange && seen && previous == status {
		n.logger.Debug("Suppressing repeated status", zap.String("pod", id.Name), zap.Stringer("status", status))
		return Notification{}, false
	}

	return Notification{
		Kind:   KindFailure,
		Title:  fmt.Sprintf("Pod %s", id.Name),
		Body:   fmt.Sprintf("Is in non 'Running' phase: %s", status),
		Pod:    id,
		Status: status,
	}, true
}

// Send hands the notification to every sender. It returns the number of
// senders that accepted it.
func (n *Notifier) Send(ctx context.Context, notification Notification) int {
	delivered := 0
	for _, sender := range n.senders {
		if err := sender.Send(ctx, notification); err != nil {
			notificationsTotal.WithLabelValues(sender.Name(), "error").Inc()
			n.logger.Error("Failed to deliver notification",
				zap.String("sender", sender.Name()),
				zap.String("title", notification.Title),
				zap.Error(err),
			)
			continue
		}
		notificationsTotal.WithLabelValues(sender.Name(), "success").Inc()
		delivered++
	}
	return delivered
}
