package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
	metricsv1beta1 "k8s.io/metrics/pkg/apis/metrics/v1beta1"
	metricsfake "k8s.io/metrics/pkg/client/clientset/versioned/fake"
)

const testSelector = "app.kubernetes.io/instance=checkout-svc"

func releasePod(name string, phase corev1.PodPhase) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: "application",
			Labels:    map[string]string{"app.kubernetes.io/instance": "checkout-svc"},
		},
		Status: corev1.PodStatus{Phase: phase},
	}
}

func TestCollectPods(t *testing.T) {
	crashing := releasePod("checkout-1", corev1.PodRunning)
	crashing.Status.ContainerStatuses = []corev1.ContainerStatus{
		{
			Name:         "app",
			RestartCount: 3,
			LastTerminationState: corev1.ContainerState{
				Terminated: &corev1.ContainerStateTerminated{Reason: "OOMKilled"},
			},
		},
		{
			Name:         "sidecar",
			RestartCount: 1,
			LastTerminationState: corev1.ContainerState{
				Terminated: &corev1.ContainerStateTerminated{},
			},
		},
	}

	other := releasePod("other-0", corev1.PodFailed)
	other.Labels = map[string]string{"app.kubernetes.io/instance": "billing"}

	warning := &corev1.Event{
		ObjectMeta:     metav1.ObjectMeta{Name: "checkout-1.oom", Namespace: "application"},
		InvolvedObject: corev1.ObjectReference{Kind: "Pod", Name: "checkout-1"},
		Type:           corev1.EventTypeWarning,
		Reason:         "BackOff",
		Count:          4,
		LastTimestamp:  metav1.NewTime(time.Now().Add(-time.Minute)),
	}
	stale := warning.DeepCopy()
	stale.Name = "checkout-1.stale"
	stale.LastTimestamp = metav1.NewTime(time.Now().Add(-24 * time.Hour))
	normal := warning.DeepCopy()
	normal.Name = "checkout-1.pulled"
	normal.Type = corev1.EventTypeNormal

	clientset := fake.NewSimpleClientset(
		releasePod("checkout-0", corev1.PodPending), crashing, other, warning, stale, normal,
	)
	metrics := metricsfake.NewSimpleClientset()
	metrics.PrependReactor("list", "pods", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, &metricsv1beta1.PodMetricsList{Items: []metricsv1beta1.PodMetrics{
			{
				ObjectMeta: metav1.ObjectMeta{
					Name:      "checkout-1",
					Namespace: "application",
					Labels:    map[string]string{"app.kubernetes.io/instance": "checkout-svc"},
				},
				Containers: []metricsv1beta1.ContainerMetrics{
					{Name: "app", Usage: corev1.ResourceList{
						corev1.ResourceCPU:    resource.MustParse("100m"),
						corev1.ResourceMemory: resource.MustParse("64Mi"),
					}},
					{Name: "sidecar", Usage: corev1.ResourceList{
						corev1.ResourceCPU:    resource.MustParse("50m"),
						corev1.ResourceMemory: resource.MustParse("64Mi"),
					}},
				},
			},
		}}, nil
	})

	c := New(&Clients{Kubernetes: clientset, Metrics: metrics}, "application", zap.NewNop())

	reports, err := c.CollectPods(context.Background(), testSelector)
	require.NoError(t, err)
	require.Len(t, reports, 2)

	assert.Equal(t, "checkout-0", reports[0].Name)
	assert.Equal(t, "Pending", reports[0].Status.Phase)
	assert.Empty(t, reports[0].CPUActual)
	assert.Zero(t, reports[0].Warnings)

	assert.Equal(t, "checkout-1", reports[1].Name)
	assert.Equal(t, int32(4), reports[1].RestartCount)
	assert.Equal(t, "OOMKilled(1), Unknown(1)", reports[1].RestartReasons)
	assert.Equal(t, "150m", reports[1].CPUActual)
	assert.Equal(t, "128Mi", reports[1].MemoryActual)
	assert.Equal(t, 4, reports[1].Warnings)
}

func TestCollectPodsWithoutMetricsAPI(t *testing.T) {
	clientset := fake.NewSimpleClientset(releasePod("checkout-0", corev1.PodRunning))
	metrics := metricsfake.NewSimpleClientset()
	metrics.PrependReactor("list", "pods", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("the server could not find the requested resource")
	})

	c := New(&Clients{Kubernetes: clientset, Metrics: metrics}, "application", zap.NewNop())

	reports, err := c.CollectPods(context.Background(), testSelector)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Empty(t, reports[0].CPUActual)
	assert.Empty(t, reports[0].MemoryActual)
}

func TestCollectPodsListFailure(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	clientset.PrependReactor("list", "pods", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("connection refused")
	})

	c := New(&Clients{Kubernetes: clientset}, "application", zap.NewNop())

	_, err := c.CollectPods(context.Background(), testSelector)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list pods")
}
