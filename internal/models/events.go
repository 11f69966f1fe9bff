package models

import "time"

// EventKind classifies operational events on the monitoring side-channel.
type EventKind string

const (
	EventConnect    EventKind = "connection"
	EventDisconnect EventKind = "disconnection"
	EventDataIn     EventKind = "data_received"
	EventDataOut    EventKind = "data_sent"
	EventError      EventKind = "error"
)

// SystemEvent records one operational action. Events are never mutated after
// creation; the event bus keeps them in a bounded FIFO ring.
type SystemEvent struct {
	Kind       EventKind      `json:"event_type"`
	Timestamp  time.Time      `json:"timestamp"`
	Source     string         `json:"source"`
	Details    map[string]any `json:"details"`
	DurationMS *float64       `json:"duration_ms,omitempty"`
}

// AggregateCounters are monotonic process-wide totals. Each field is
// incremented exactly once per corresponding SystemEvent and only resets on
// process restart.
type AggregateCounters struct {
	TotalConnections    uint64 `json:"total_connections"`
	TotalDisconnections uint64 `json:"total_disconnections"`
	TotalDataMessages   uint64 `json:"total_data_messages"`
	TotalErrors         uint64 `json:"total_errors"`
	BytesSent           uint64 `json:"bytes_sent"`
	BytesReceived       uint64 `json:"bytes_received"`
}

// NetworkCounters mirrors the host NIC totals reported by the sampler.
type NetworkCounters struct {
	BytesSent   uint64 `json:"bytes_sent"`
	BytesRecv   uint64 `json:"bytes_recv"`
	PacketsSent uint64 `json:"packets_sent"`
	PacketsRecv uint64 `json:"packets_recv"`
}

// SystemMetricsSample is a point-in-time host and relay snapshot, captured on
// a fixed cadence and kept in a bounded ring.
type SystemMetricsSample struct {
	Timestamp         time.Time       `json:"timestamp"`
	CPUPercent        float64         `json:"cpu_percent"`
	MemoryPercent     float64         `json:"memory_percent"`
	Network           NetworkCounters `json:"network_io"`
	ActiveConnections int             `json:"active_connections"`
	TotalEvents       int             `json:"total_events"`
	EventsPerSecond   float64         `json:"events_per_second"`
	DeviceActive      bool            `json:"device_active"`
}

// SystemInfo describes the host process, collected once at startup.
type SystemInfo struct {
	Platform    string    `json:"platform"`
	GoVersion   string    `json:"go_version"`
	CPUCount    int       `json:"cpu_count"`
	MemoryTotal uint64    `json:"memory_total"`
	StartTime   time.Time `json:"start_time"`
}
