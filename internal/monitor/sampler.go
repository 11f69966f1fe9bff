package monitor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	gnet "github.com/shirou/gopsutil/v4/net"

	"github.com/tidewatch/tidewatch/internal/models"
	"github.com/tidewatch/tidewatch/internal/relay"
)

// StartSampling launches the periodic metrics collection task. Calling it
// while the sampler is already running is a no-op.
func (b *Bus) StartSampling() {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.sampleLoop(ctx, b.done)
	log.Info().Dur("interval", b.sampleInterval).Msg("system metrics sampling started")
}

// StopSampling cancels the sampling task and waits for it to terminate. No
// background activity survives a stop call. Safe to call when not running.
func (b *Bus) StopSampling() {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.done == nil {
		return
	}
	b.cancel()
	<-b.done
	b.cancel, b.done = nil, nil
	log.Info().Msg("system metrics sampling stopped")
}

func (b *Bus) sampleLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(b.sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.sampleOnce(ctx); err != nil {
				log.Error().Err(err).Msg("metrics collection failed")
				b.Record(models.SystemEvent{
					Kind:    models.EventError,
					Source:  "system_monitor",
					Details: map[string]any{"stage": "sample", "error": err.Error()},
				})
				// pause before resuming; the task itself never dies
				select {
				case <-ctx.Done():
					return
				case <-time.After(b.backoff):
				}
			}
		}
	}
}

func (b *Bus) sampleOnce(ctx context.Context) error {
	cpuPercents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return err
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return err
	}
	nics, err := gnet.IOCountersWithContext(ctx, false)
	if err != nil {
		return err
	}

	now := time.Now()
	sample := models.SystemMetricsSample{
		Timestamp:         now,
		MemoryPercent:     vm.UsedPercent,
		ActiveConnections: b.reg.BillableCount(),
		DeviceActive:      b.ProducerActive(string(models.OriginArduino)),
	}
	if len(cpuPercents) > 0 {
		sample.CPUPercent = cpuPercents[0]
	}
	if len(nics) > 0 {
		sample.Network = models.NetworkCounters{
			BytesSent:   nics[0].BytesSent,
			BytesRecv:   nics[0].BytesRecv,
			PacketsSent: nics[0].PacketsSent,
			PacketsRecv: nics[0].PacketsRecv,
		}
	}

	b.mu.Lock()
	sample.TotalEvents = b.events.len()
	sample.EventsPerSecond = float64(b.eventsInLastSecond(now))
	b.samples.push(sample)
	counters := b.counters
	b.mu.Unlock()

	observeSample(sample, b.reg)

	payload, err := json.Marshal(map[string]any{
		"type":     "system_metrics",
		"metrics":  sample,
		"counters": counters,
		"connections": map[string]int{
			"viewer":            b.reg.CountByClass(relay.ClassViewer),
			"admin":             b.reg.CountByClass(relay.ClassAdmin),
			"internal_observer": b.reg.CountByClass(relay.ClassObserver),
		},
		"system_info": b.infoPayload(),
	})
	if err != nil {
		return err
	}
	b.fanout.Send(b.reg, relay.ClassObserver, payload)
	return nil
}
