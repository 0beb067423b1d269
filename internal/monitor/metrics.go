package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/t77yq/registry-monitor/internal/model"
)

var (
	pathState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "registry_monitor_path_state",
			Help: "1 for the current compliance state of each watched path.",
		},
		[]string{"path", "state"},
	)
	evaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_monitor_evaluations_total",
			Help: "Path compliance evaluations by resulting state.",
		},
		[]string{"state"},
	)
	hostCPUPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "registry_monitor_host_cpu_percent",
			Help: "CPU utilisation of the agent host.",
		},
	)
	hostMemoryPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "registry_monitor_host_memory_percent",
			Help: "Memory utilisation of the agent host.",
		},
	)
)

var allStates = []model.State{model.StateUnknown, model.StateOK, model.StateError}

func recordState(path string, state model.State) {
	evaluationsTotal.WithLabelValues(string(state)).Inc()
	for _, s := range allStates {
		v := 0.0
		if s == state {
			v = 1
		}
		pathState.WithLabelValues(path, string(s)).Set(v)
	}
}
