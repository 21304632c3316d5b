package podstatus

import (
	"fmt"

	corev1 "k8s.io/api/core/v1"
)

const (
	PhaseRunning = string(corev1.PodRunning)
	PhaseUnknown = string(corev1.PodUnknown)
)

// FlatStatus is the comparable projection of a pod's status. An empty
// Reason means the pod declared none.
type FlatStatus struct {
	Phase  string
	Reason string
}

// Project derives a FlatStatus from the pod alone.
func Project(pod *corev1.Pod) FlatStatus {
	if pod == nil {
		return FlatStatus{Phase: PhaseUnknown}
	}

	phase := string(pod.Status.Phase)
	if phase == "" {
		phase = PhaseUnknown
	}

	return FlatStatus{
		Phase:  phase,
		Reason: pod.Status.Reason,
	}
}

func (s FlatStatus) IsRunning() bool {
	return s.Phase == PhaseRunning
}

func (s FlatStatus) HasReason() bool {
	return s.Reason != ""
}

func (s FlatStatus) String() string {
	if s.HasReason() {
		return fmt.Sprintf("%q (%q)", s.Phase, s.Reason)
	}
	return fmt.Sprintf("%q", s.Phase)
}
