package podstatus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func TestProject(t *testing.T) {
	tests := []struct {
		name string
		pod  *corev1.Pod
		want FlatStatus
	}{
		{
			name: "nil pod",
			pod:  nil,
			want: FlatStatus{Phase: PhaseUnknown},
		},
		{
			name: "no status",
			pod:  &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "web-0"}},
			want: FlatStatus{Phase: PhaseUnknown},
		},
		{
			name: "reason without phase",
			pod: &corev1.Pod{Status: corev1.PodStatus{
				Reason: "NodeLost",
			}},
			want: FlatStatus{Phase: PhaseUnknown, Reason: "NodeLost"},
		},
		{
			name: "running",
			pod: &corev1.Pod{Status: corev1.PodStatus{
				Phase: corev1.PodRunning,
			}},
			want: FlatStatus{Phase: "Running"},
		},
		{
			name: "failed with reason",
			pod: &corev1.Pod{Status: corev1.PodStatus{
				Phase:  corev1.PodFailed,
				Reason: "Evicted",
			}},
			want: FlatStatus{Phase: "Failed", Reason: "Evicted"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Project(tt.pod))
		})
	}
}

func TestProjectIsPure(t *testing.T) {
	pod := &corev1.Pod{Status: corev1.PodStatus{Phase: corev1.PodPending, Reason: "Unschedulable"}}

	first := Project(pod)
	second := Project(pod.DeepCopy())

	assert.Equal(t, first, second)
	assert.Equal(t, corev1.PodPending, pod.Status.Phase, "projection must not touch the pod")
}

func TestFlatStatusString(t *testing.T) {
	assert.Equal(t, `"Failed" ("OOMKilled")`, FlatStatus{Phase: "Failed", Reason: "OOMKilled"}.String())
	assert.Equal(t, `"Pending"`, FlatStatus{Phase: "Pending"}.String())
}

func TestFlatStatusIsRunning(t *testing.T) {
	assert.True(t, FlatStatus{Phase: "Running"}.IsRunning())
	assert.False(t, FlatStatus{Phase: "CrashLoopBackOff"}.IsRunning())
	assert.False(t, FlatStatus{}.IsRunning())
}
