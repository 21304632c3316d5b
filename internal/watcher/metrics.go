package watcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	watchSessionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "releasewatch_watch_sessions_total",
			Help: "Total watch sessions opened.",
		},
	)
	watchFaultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "releasewatch_watch_faults_total",
			Help: "Total watch faults by kind (transient, expired, terminal).",
		},
		[]string{"kind"},
	)
	appliedEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "releasewatch_applied_events_total",
			Help: "Total pod states delivered by the watch stream.",
		},
	)
)
