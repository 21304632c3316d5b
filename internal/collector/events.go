package collector

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// countWarnings returns the number of Warning events per pod name seen
// since cutoff.
func (c *Collector) countWarnings(ctx context.Context, cutoff time.Time) (map[string]int, error) {
	counts := make(map[string]int)

	events, err := c.clients.Kubernetes.CoreV1().Events(c.namespace).List(ctx, metav1.ListOptions{
		FieldSelector: "involvedObject.kind=Pod,type=" + corev1.EventTypeWarning,
	})
	if err != nil {
		return counts, fmt.Errorf("failed to list events: %w", err)
	}

	for _, event := range events.Items {
		if event.Type != corev1.EventTypeWarning || event.InvolvedObject.Kind != "Pod" {
			continue
		}

		if lastSeen(&event).Before(cutoff) {
			continue
		}

		count := int(event.Count)
		if count < 1 {
			count = 1
		}
		counts[event.InvolvedObject.Name] += count
	}

	return counts, nil
}

func lastSeen(event *corev1.Event) time.Time {
	switch {
	case !event.LastTimestamp.IsZero():
		return event.LastTimestamp.Time
	case !event.EventTime.IsZero():
		return event.EventTime.Time
	default:
		return event.CreationTimestamp.Time
	}
}
