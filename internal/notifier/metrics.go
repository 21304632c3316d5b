package notifier

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var notificationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "releasewatch_notifications_total",
		Help: "Total notification delivery attempts by sender and status.",
	},
	[]string{"sender", "status"},
)
