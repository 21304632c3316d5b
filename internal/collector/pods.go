package collector

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/helmcloud/release-watch/internal/podstatus"
)

type PodReport struct {
	Name           string
	Status         podstatus.FlatStatus
	RestartCount   int32
	RestartReasons string
	Age            time.Duration
	CPUActual      string
	MemoryActual   string
	Warnings       int
}

type usage struct {
	cpu    string
	memory string
}

// CollectPods reports every pod matching selector, sorted by name. Usage is
// left empty when the metrics API cannot be reached.
func (c *Collector) CollectPods(ctx context.Context, selector string) ([]PodReport, error) {
	pods, err := c.clients.Kubernetes.CoreV1().Pods(c.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: selector,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods: %w", err)
	}

	usageByPod := c.collectUsage(ctx, selector)

	warnings, err := c.countWarnings(ctx, time.Now().Add(-c.eventsWindow))
	if err != nil {
		c.logger.Warn("Failed to fetch pod events", zap.Error(err))
	}

	reports := make([]PodReport, 0, len(pods.Items))
	for i := range pods.Items {
		pod := &pods.Items[i]

		restartCount := int32(0)
		for _, cs := range pod.Status.ContainerStatuses {
			restartCount += cs.RestartCount
		}

		report := PodReport{
			Name:           pod.Name,
			Status:         podstatus.Project(pod),
			RestartCount:   restartCount,
			RestartReasons: getRestartReasons(pod),
			Warnings:       warnings[pod.Name],
		}
		if !pod.CreationTimestamp.IsZero() {
			report.Age = time.Since(pod.CreationTimestamp.Time)
		}
		if u, ok := usageByPod[pod.Name]; ok {
			report.CPUActual = u.cpu
			report.MemoryActual = u.memory
		}

		reports = append(reports, report)
	}

	sort.Slice(reports, func(i, j int) bool {
		return reports[i].Name < reports[j].Name
	})

	c.logger.Debug("Collected pods", zap.Int("count", len(reports)))
	return reports, nil
}

func (c *Collector) collectUsage(ctx context.Context, selector string) map[string]usage {
	result := make(map[string]usage)
	if c.clients.Metrics == nil {
		return result
	}

	podMetrics, err := c.clients.Metrics.MetricsV1beta1().PodMetricses(c.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: selector,
	})
	if err != nil {
		c.logger.Warn("Failed to fetch pod metrics", zap.Error(err))
		return result
	}

	for _, pm := range podMetrics.Items {
		cpu := resource.Quantity{}
		memory := resource.Quantity{}
		for _, container := range pm.Containers {
			cpu.Add(*container.Usage.Cpu())
			memory.Add(*container.Usage.Memory())
		}
		result[pm.Name] = usage{cpu: cpu.String(), memory: memory.String()}
	}

	return result
}

func getRestartReasons(pod *corev1.Pod) string {
	reasons := make(map[string]int)
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.LastTerminationState.Terminated != nil {
			reason := cs.LastTerminationState.Terminated.Reason
			if reason == "" {
				reason = "Unknown"
			}
			reasons[reason]++
		}
	}

	if len(reasons) == 0 {
		return ""
	}

	parts := make([]string, 0, len(reasons))
	for reason, count := range reasons {
		parts = append(parts, fmt.Sprintf("%s(%d)", reason, count))
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}
