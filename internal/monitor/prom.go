package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tidewatch/tidewatch/internal/models"
	"github.com/tidewatch/tidewatch/internal/relay"
)

var (
	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidewatch_events_total",
			Help: "Total system events recorded, by kind",
		},
		[]string{"kind"},
	)

	wireBytesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tidewatch_wire_bytes_sent_total",
			Help: "Total payload bytes delivered to consumers",
		},
	)

	wireBytesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tidewatch_wire_bytes_received_total",
			Help: "Total payload bytes received from producers and consumers",
		},
	)

	billableConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tidewatch_billable_connections",
			Help: "Live viewer and admin connections (internal observers excluded)",
		},
	)

	observerConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tidewatch_observer_connections",
			Help: "Live internal-observer connections",
		},
	)

	hostCPUPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tidewatch_host_cpu_percent",
			Help: "Host CPU usage percentage",
		},
	)

	hostMemoryPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tidewatch_host_memory_percent",
			Help: "Host memory usage percentage",
		},
	)
)

func observeEvent(event models.SystemEvent) {
	eventsTotal.WithLabelValues(string(event.Kind)).Inc()
	switch event.Kind {
	case models.EventDataOut:
		wireBytesSent.Add(float64(detailBytes(event.Details)))
	case models.EventDataIn:
		wireBytesReceived.Add(float64(detailBytes(event.Details)))
	}
}

func observeSample(sample models.SystemMetricsSample, reg *relay.Registry) {
	hostCPUPercent.Set(sample.CPUPercent)
	hostMemoryPercent.Set(sample.MemoryPercent)
	billableConnections.Set(float64(reg.BillableCount()))
	observerConnections.Set(float64(reg.CountByClass(relay.ClassObserver)))
}
