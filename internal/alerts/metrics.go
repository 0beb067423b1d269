package alerts

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_monitor_alert_deliveries_total",
			Help: "Notification delivery attempts by backend and status.",
		},
		[]string{"backend", "status"},
	)
	deliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "registry_monitor_alert_delivery_duration_seconds",
			Help:    "Duration of notification backend sends.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"backend"},
	)
	suppressedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_monitor_alerts_suppressed_total",
			Help: "Alerts that were not delivered, by reason.",
		},
		[]string{"reason"},
	)
	pendingAlerts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "registry_monitor_alerts_pending",
			Help: "Alerts waiting out their cancel timeout.",
		},
	)
	alertingGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "registry_monitor_alerting",
			Help: "1 when this agent holds the alerter lock at the last check.",
		},
	)
)
