package monitor

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"

	"github.com/helmcloud/release-watch/internal/resolver"
	"github.com/helmcloud/release-watch/internal/watcher"
)

var ErrNoTarget = errors.New("neither pod nor release given")

type ReleaseResolver interface {
	Resolve(ctx context.Context, namespace, podName string) (string, error)
}

type PodWatcher interface {
	Watch(selector string) (*watcher.Stream, error)
}

type PodHandler interface {
	Handle(ctx context.Context, pod *corev1.Pod) bool
}

// Target is the release being watched and the label selector scoping it.
type Target struct {
	Release  string
	Selector string
}

type Monitor struct {
	namespace string
	resolver  ReleaseResolver
	watcher   PodWatcher
	handler   PodHandler
	logger    *zap.Logger
}

func New(namespace string, res ReleaseResolver, w PodWatcher, handler PodHandler, logger *zap.Logger) *Monitor {
	return &Monitor{
		namespace: namespace,
		resolver:  res,
		watcher:   w,
		handler:   handler,
		logger:    logger,
	}
}

// ResolveTarget picks the release to watch. An explicit release wins;
// otherwise the release is read from the pod's instance label.
func (m *Monitor) ResolveTarget(ctx context.Context, podName, release string) (Target, error) {
	if release == "" {
		if podName == "" {
			return Target{}, ErrNoTarget
		}

		var err error
		release, err = m.resolver.Resolve(ctx, m.namespace, podName)
		if err != nil {
			return Target{}, err
		}
	}

	selector, err := resolver.Selector(release)
	if err != nil {
		return Target{}, err
	}
	return Target{Release: release, Selector: selector}, nil
}

// Run feeds every applied pod of the target to the handler until ctx is
// cancelled, which ends the run without error.
func (m *Monitor) Run(ctx context.Context, target Target) error {
	stream, err := m.watcher.Watch(target.Selector)
	if err != nil {
		return fmt.Errorf("failed to watch release %s: %w", target.Release, err)
	}
	defer stream.Close()

	m.logger.Info("Watching release",
		zap.String("namespace", m.namespace),
		zap.String("release", target.Release),
		zap.String("selector", target.Selector),
	)

	for {
		pod, err := stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				m.logger.Info("Watch stopped", zap.String("release", target.Release))
				return nil
			}
			return fmt.Errorf("failed to watch release %s: %w", target.Release, err)
		}

		m.handler.Handle(ctx, pod)
	}
}
