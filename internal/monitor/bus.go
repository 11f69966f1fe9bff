package monitor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tidewatch/tidewatch/internal/models"
	"github.com/tidewatch/tidewatch/internal/relay"
)

// livenessWindow is how long after the last DataIn event a producer is still
// considered active. A monitoring signal only, not a circuit breaker.
const livenessWindow = 10 * time.Second

// Archive persists system events outside the in-memory ring. Optional.
type Archive interface {
	InsertEvent(ctx context.Context, event models.SystemEvent) error
}

// Options configures a Bus. Zero fields fall back to the documented defaults
// (1000 events, 100 metric samples, 2s cadence, 5s backoff).
type Options struct {
	EventRingSize   int
	MetricsRingSize int
	SampleInterval  time.Duration
	Backoff         time.Duration
	Archive         Archive
}

// Bus is the append-only operational event pipeline. Every state change in
// the relay becomes observable through Record; nothing bypasses it. The bus
// owns the bounded event and metrics rings, the monotonic aggregate counters,
// and the fanout to internal-observer connections.
type Bus struct {
	reg     *relay.Registry
	fanout  *relay.Fanout
	archive Archive
	info    models.SystemInfo

	sampleInterval time.Duration
	backoff        time.Duration

	mu         sync.RWMutex
	events     *ring[models.SystemEvent]
	samples    *ring[models.SystemMetricsSample]
	counters   models.AggregateCounters
	lastDataIn map[string]time.Time

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewBus(reg *relay.Registry, fanout *relay.Fanout, opts Options) *Bus {
	if opts.EventRingSize <= 0 {
		opts.EventRingSize = 1000
	}
	if opts.MetricsRingSize <= 0 {
		opts.MetricsRingSize = 100
	}
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = 2 * time.Second
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 5 * time.Second
	}
	return &Bus{
		reg:            reg,
		fanout:         fanout,
		archive:        opts.Archive,
		info:           collectSystemInfo(),
		sampleInterval: opts.SampleInterval,
		backoff:        opts.Backoff,
		events:         newRing[models.SystemEvent](opts.EventRingSize),
		samples:        newRing[models.SystemMetricsSample](opts.MetricsRingSize),
		lastDataIn:     make(map[string]time.Time),
	}
}

// Record appends the event to the bounded ring, updates the aggregate
// counters for its kind, and fans the event out to internal-observer
// connections. A zero timestamp is stamped with the current time.
func (b *Bus) Record(event models.SystemEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.Lock()
	b.events.push(event)
	switch event.Kind {
	case models.EventConnect:
		b.counters.TotalConnections++
	case models.EventDisconnect:
		b.counters.TotalDisconnections++
	case models.EventDataIn:
		b.counters.TotalDataMessages++
		b.counters.BytesReceived += detailBytes(event.Details)
		b.lastDataIn[event.Source] = event.Timestamp
	case models.EventDataOut:
		b.counters.TotalDataMessages++
		b.counters.BytesSent += detailBytes(event.Details)
	case models.EventError:
		b.counters.TotalErrors++
	}
	b.mu.Unlock()

	observeEvent(event)

	if b.archive != nil {
		if err := b.archive.InsertEvent(context.Background(), event); err != nil {
			log.Warn().Err(err).Str("kind", string(event.Kind)).Msg("event archive write failed")
		}
	}

	payload, err := json.Marshal(map[string]any{
		"type":  "system_event",
		"event": event,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to encode system event")
		return
	}
	b.fanout.Send(b.reg, relay.ClassObserver, payload)
}

// Snapshot returns up to limit of the most recent events, in insertion order
// (oldest of the returned window first).
func (b *Bus) Snapshot(limit int) []models.SystemEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.events.last(limit)
}

// Samples returns up to limit of the most recent metric samples, in
// insertion order.
func (b *Bus) Samples(limit int) []models.SystemMetricsSample {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.samples.last(limit)
}

// Counters returns a copy of the aggregate counters.
func (b *Bus) Counters() models.AggregateCounters {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.counters
}

// ClearEvents drops the event ring. Counters are monotonic and unaffected.
func (b *Bus) ClearEvents() {
	b.mu.Lock()
	b.events.clear()
	b.mu.Unlock()
}

// ProducerActive reports whether a DataIn event tagged with source was
// recorded within the liveness window.
func (b *Bus) ProducerActive(source string) bool {
	b.mu.RLock()
	last, ok := b.lastDataIn[source]
	b.mu.RUnlock()
	return ok && time.Since(last) <= livenessWindow
}

// Info returns the host/process description collected at startup.
func (b *Bus) Info() models.SystemInfo {
	return b.info
}

// InitialState builds the payload sent to an internal observer right after
// it connects: the last 20 events and last 10 metric samples plus counters
// and host info.
func (b *Bus) InitialState() ([]byte, error) {
	b.mu.RLock()
	events := b.events.last(20)
	samples := b.samples.last(10)
	counters := b.counters
	b.mu.RUnlock()

	return json.Marshal(map[string]any{
		"type":            "initial_state",
		"system_info":     b.infoPayload(),
		"counters":        counters,
		"recent_events":   events,
		"metrics_history": samples,
	})
}

func (b *Bus) infoPayload() map[string]any {
	return map[string]any{
		"platform":       b.info.Platform,
		"go_version":     b.info.GoVersion,
		"cpu_count":      b.info.CPUCount,
		"memory_total":   b.info.MemoryTotal,
		"start_time":     b.info.StartTime.Format(time.RFC3339),
		"uptime_seconds": time.Since(b.info.StartTime).Seconds(),
	}
}

// eventsInLastSecond counts ring entries stamped within the past second.
// A linear scan is fine at the ring's bounded size.
func (b *Bus) eventsInLastSecond(now time.Time) int {
	count := 0
	for _, ev := range b.events.last(b.events.len()) {
		if now.Sub(ev.Timestamp) <= time.Second {
			count++
		}
	}
	return count
}

func detailBytes(details map[string]any) uint64 {
	if details == nil {
		return 0
	}
	switch v := details["bytes"].(type) {
	case int:
		if v > 0 {
			return uint64(v)
		}
	case int64:
		if v > 0 {
			return uint64(v)
		}
	case uint64:
		return v
	case float64:
		if v > 0 {
			return uint64(v)
		}
	}
	return 0
}
