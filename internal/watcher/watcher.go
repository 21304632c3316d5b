package watcher

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
)

type Config struct {
	// Timeout bounds a single watch session. The server ends the session
	// once it elapses and the stream reopens it.
	Timeout        time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultConfig() Config {
	return Config{
		Timeout:        9 * time.Second,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// Controller opens label-scoped pod watches in a single namespace.
type Controller struct {
	client    kubernetes.Interface
	namespace string
	config    Config
	logger    *zap.Logger
}

func New(client kubernetes.Interface, namespace string, config Config, logger *zap.Logger) *Controller {
	defaults := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff < config.InitialBackoff {
		config.MaxBackoff = config.InitialBackoff
	}

	return &Controller{
		client:    client,
		namespace: namespace,
		config:    config,
		logger:    logger,
	}
}

// Watch prepares a stream over the pods matching selector. No request is
// made until the first call to Next.
func (c *Controller) Watch(selector string) (*Stream, error) {
	if _, err := labels.Parse(selector); err != nil {
		return nil, &TerminalError{Selector: selector, Err: fmt.Errorf("invalid label selector: %w", err)}
	}

	return &Stream{
		controller: c,
		selector:   selector,
		relist:     true,
		delivered:  make(map[string]string),
		backoff:    c.newBackoff(),
		logger:     c.logger.With(zap.String("selector", selector)),
	}, nil
}

func (c *Controller) newBackoff() wait.Backoff {
	return wait.Backoff{
		Duration: c.config.InitialBackoff,
		Factor:   2.0,
		Jitter:   0.1,
		Steps:    math.MaxInt32,
		Cap:      c.config.MaxBackoff,
	}
}

type signalKind int

const (
	signalApplied signalKind = iota
	signalDeleted
	signalBookmark
	signalSkipped
	signalFault
)

// signal is the normalized form of one watch event.
type signal struct {
	kind            signalKind
	pod             *corev1.Pod
	resourceVersion string
	fault           faultKind
	err             error
}

func classify(event watch.Event) signal {
	switch event.Type {
	case watch.Added, watch.Modified, watch.Deleted:
		pod, ok := event.Object.(*corev1.Pod)
		if !ok {
			// Reopening would replay the same event, so step over it.
			s := signal{kind: signalSkipped, err: fmt.Errorf("unexpected object %T in %s event", event.Object, event.Type)}
			if accessor, err := meta.Accessor(event.Object); err == nil {
				s.resourceVersion = accessor.GetResourceVersion()
			}
			return s
		}
		kind := signalApplied
		if event.Type == watch.Deleted {
			kind = signalDeleted
		}
		return signal{kind: kind, pod: pod, resourceVersion: pod.ResourceVersion}
	case watch.Bookmark:
		s := signal{kind: signalBookmark}
		if accessor, err := meta.Accessor(event.Object); err == nil {
			s.resourceVersion = accessor.GetResourceVersion()
		}
		return s
	case watch.Error:
		err := apierrors.FromObject(event.Object)
		return signal{kind: signalFault, fault: classifyError(err), err: err}
	default:
		return signal{kind: signalFault, fault: faultTransient, err: fmt.Errorf("unexpected watch event type %q", event.Type)}
	}
}

// Stream is a lazy, unbounded sequence of applied pods. It owns at most one
// watch session at a time and is not safe for concurrent use.
type Stream struct {
	controller *Controller
	selector   string
	logger     *zap.Logger

	session         watch.Interface
	sessionOpened   time.Time
	sessionEvents   int
	resourceVersion string
	relist          bool
	pending         []*corev1.Pod
	// delivered maps pod name to the last resourceVersion handed out.
	delivered map[string]string
	backoff   wait.Backoff
}

// Next blocks until a pod was added or modified, and returns its current
// state. Session timeouts and transport faults are retried internally. The
// returned error is either ctx.Err() or a *TerminalError.
func (s *Stream) Next(ctx context.Context) (*corev1.Pod, error) {
	for {
		if err := ctx.Err(); err != nil {
			s.Close()
			return nil, err
		}

		if len(s.pending) > 0 {
			pod := s.pending[0]
			s.pending = s.pending[1:]
			return pod, nil
		}

		if s.session == nil {
			if err := s.open(ctx); err != nil {
				return nil, err
			}
			continue
		}

		var event watch.Event
		var ok bool
		select {
		case <-ctx.Done():
			s.Close()
			return nil, ctx.Err()
		case event, ok = <-s.session.ResultChan():
		}

		if !ok {
			s.logger.Debug("Watch session closed", zap.String("resourceVersion", s.resourceVersion))
			s.Close()
			// A session dropped before its timeout without any event is a
			// broken connection, not the server ending it on schedule.
			if s.sessionEvents == 0 && time.Since(s.sessionOpened) < s.controller.config.Timeout {
				delay := s.backoff.Step()
				watchFaultsTotal.WithLabelValues(faultTransient.String()).Inc()
				s.logger.Warn("Watch session closed early, reconnecting", zap.Duration("backoff", delay))
				if err := sleep(ctx, delay); err != nil {
					return nil, err
				}
			}
			continue
		}
		s.sessionEvents++

		sig := classify(event)
		if sig.resourceVersion != "" {
			s.resourceVersion = sig.resourceVersion
		}

		switch sig.kind {
		case signalApplied:
			s.backoff = s.controller.newBackoff()
			s.delivered[sig.pod.Name] = sig.pod.ResourceVersion
			appliedEventsTotal.Inc()
			return sig.pod, nil
		case signalDeleted:
			delete(s.delivered, sig.pod.Name)
			s.logger.Debug("Pod deleted", zap.String("pod", sig.pod.Name))
		case signalBookmark:
		case signalSkipped:
			s.logger.Warn("Skipping watch event", zap.Error(sig.err), zap.String("resourceVersion", s.resourceVersion))
		case signalFault:
			s.Close()
			if err := s.handleFault(ctx, sig.fault, sig.err); err != nil {
				return nil, err
			}
		}
	}
}

// open either relists the current state or starts a new session from the
// last known resourceVersion.
func (s *Stream) open(ctx context.Context) error {
	if s.relist {
		if err := s.list(ctx); err != nil {
			return s.handleFault(ctx, classifyError(err), err)
		}
		return nil
	}

	timeoutSeconds := int64(s.controller.config.Timeout.Seconds())
	if timeoutSeconds < 1 {
		timeoutSeconds = 1
	}
	session, err := s.controller.client.CoreV1().Pods(s.controller.namespace).Watch(ctx, metav1.ListOptions{
		LabelSelector:       s.selector,
		ResourceVersion:     s.resourceVersion,
		TimeoutSeconds:      &timeoutSeconds,
		AllowWatchBookmarks: true,
	})
	if err != nil {
		return s.handleFault(ctx, classifyError(err), err)
	}

	watchSessionsTotal.Inc()
	s.logger.Debug("Watch session opened", zap.String("resourceVersion", s.resourceVersion))
	s.session = session
	s.sessionOpened = time.Now()
	s.sessionEvents = 0
	return nil
}

func (s *Stream) list(ctx context.Context) error {
	pods, err := s.controller.client.CoreV1().Pods(s.controller.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: s.selector,
	})
	if err != nil {
		return err
	}

	present := make(map[string]struct{}, len(pods.Items))
	for i := range pods.Items {
		pod := &pods.Items[i]
		present[pod.Name] = struct{}{}

		if rv, seen := s.delivered[pod.Name]; seen && rv == pod.ResourceVersion {
			continue
		}
		s.delivered[pod.Name] = pod.ResourceVersion
		s.pending = append(s.pending, pod)
	}

	for name := range s.delivered {
		if _, ok := present[name]; !ok {
			delete(s.delivered, name)
		}
	}

	s.resourceVersion = pods.ResourceVersion
	s.relist = false
	s.logger.Debug("Listed pods",
		zap.Int("count", len(pods.Items)),
		zap.Int("changed", len(s.pending)),
		zap.String("resourceVersion", s.resourceVersion),
	)
	return nil
}

func (s *Stream) handleFault(ctx context.Context, kind faultKind, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	watchFaultsTotal.WithLabelValues(kind.String()).Inc()

	switch kind {
	case faultExpired:
		s.logger.Info("Resource version expired, relisting", zap.String("resourceVersion", s.resourceVersion))
		s.relist = true
		s.resourceVersion = ""
		return nil
	case faultTerminal:
		s.logger.Error("Unrecoverable watch fault", zap.Error(err))
		return &TerminalError{Selector: s.selector, Err: err}
	default:
		delay := s.backoff.Step()
		s.logger.Warn("Watch interrupted, reconnecting", zap.Error(err), zap.Duration("backoff", delay))
		return sleep(ctx, delay)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Close stops the current session, if any. The stream may still be used
// afterwards; the next call to Next opens a fresh session.
func (s *Stream) Close() {
	if s.session != nil {
		s.session.Stop()
		s.session = nil
	}
}
