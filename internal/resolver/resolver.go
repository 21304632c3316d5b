package resolver

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/metadata"
)

// InstanceLabel identifies the release a pod belongs to.
const InstanceLabel = "app.kubernetes.io/instance"

var podsResource = schema.GroupVersionResource{Version: "v1", Resource: "pods"}

var ErrResolutionFailed = errors.New("release could not be resolved")

type Cause string

const (
	CauseNotFound     Cause = "pod not found"
	CauseMissingLabel Cause = "instance label missing"
	CauseFetchFailed  Cause = "metadata fetch failed"
)

type ResolutionError struct {
	Namespace string
	Pod       string
	Cause     Cause
	Err       error
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("failed to resolve release of pod %s/%s: %s", e.Namespace, e.Pod, e.Cause)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResolutionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrResolutionFailed}
	}
	return []error{ErrResolutionFailed, e.Err}
}

// Resolver maps a pod to the release identifier carried in its labels. Only
// the pod's metadata is fetched.
type Resolver struct {
	client metadata.Interface
	logger *zap.Logger
}

func New(client metadata.Interface, logger *zap.Logger) *Resolver {
	return &Resolver{
		client: client,
		logger: logger,
	}
}

func (r *Resolver) Resolve(ctx context.Context, namespace, podName string) (string, error) {
	meta, err := r.client.Resource(podsResource).Namespace(namespace).Get(ctx, podName, metav1.GetOptions{})
	if err != nil {
		cause := CauseFetchFailed
		if apierrors.IsNotFound(err) {
			cause = CauseNotFound
		}
		return "", &ResolutionError{Namespace: namespace, Pod: podName, Cause: cause, Err: err}
	}

	release, ok := meta.GetLabels()[InstanceLabel]
	if !ok || release == "" {
		return "", &ResolutionError{Namespace: namespace, Pod: podName, Cause: CauseMissingLabel}
	}

	r.logger.Info("Resolved release from pod",
		zap.String("namespace", namespace),
		zap.String("pod", podName),
		zap.String("release", release),
	)
	return release, nil
}

// Selector scopes a watch to the pods of release.
func Selector(release string) (string, error) {
	selector, err := labels.ValidatedSelectorFromSet(labels.Set{InstanceLabel: release})
	if err != nil {
		return "", fmt.Errorf("invalid release %q: %w", release, err)
	}
	return selector.String(), nil
}
