package state

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tidewatch/tidewatch/internal/models"
	"github.com/tidewatch/tidewatch/internal/monitor"
	"github.com/tidewatch/tidewatch/internal/relay"
)

// Stats are the reading-side totals shown on the admin panel.
type Stats struct {
	TotalReadings    uint64     `json:"total_readings"`
	ArduinoReadings  uint64     `json:"arduino_readings"`
	MockReadings     uint64     `json:"mock_readings"`
	ConnectedClients int        `json:"connected_clients"`
	UptimeStart      time.Time  `json:"uptime_start"`
	LastArduino      *time.Time `json:"last_arduino_connection"`
	DeviceActive     bool       `json:"device_active"`
}

// Config is the mode portion of the admin status payload.
type Config struct {
	UseMockData             bool `json:"use_mock_data"`
	ConnectedMonitorClients int  `json:"connected_monitor_clients"`
	ConnectedAdminClients   int  `json:"connected_admin_clients"`
}

// Store holds the single current sensor reading and the source-mode flag.
// Updating the reading triggers fanout to viewer and admin consumers; all
// mutation goes through its methods.
type Store struct {
	reg    *relay.Registry
	fanout *relay.Fanout
	bus    *monitor.Bus

	mu      sync.RWMutex
	latest  models.SensorReading
	mock    bool
	total   uint64
	device  uint64
	mocked  uint64
	lastDev *time.Time
	started time.Time
}

func NewStore(reg *relay.Registry, fanout *relay.Fanout, bus *monitor.Bus) *Store {
	return &Store{
		reg:    reg,
		fanout: fanout,
		bus:    bus,
		latest: models.SensorReading{
			Turbidity:    25.0,
			PH:           7.0,
			Conductivity: 300.0,
			CapturedAt:   time.Now(),
			Origin:       models.OriginMock,
		},
		mock:    true,
		started: time.Now(),
	}
}

// Update replaces the current reading and pushes it to all live viewers,
// plus a richer status payload to admins. Device-origin readings emit a
// DataOut event per successful viewer delivery; simulated readings only do
// counter bookkeeping.
func (s *Store) Update(reading models.SensorReading) {
	fromDevice := reading.Origin == models.OriginArduino

	s.mu.Lock()
	s.latest = reading
	s.total++
	if fromDevice {
		s.device++
		at := reading.CapturedAt
		s.lastDev = &at
	} else {
		s.mocked++
	}
	s.mu.Unlock()

	if fromDevice {
		log.Info().
			Float64("turbidity", reading.Turbidity).
			Float64("ph", reading.PH).
			Float64("conductivity", reading.Conductivity).
			Msg("device reading applied")
	} else {
		log.Debug().
			Float64("turbidity", reading.Turbidity).
			Float64("ph", reading.PH).
			Float64("conductivity", reading.Conductivity).
			Msg("simulated reading applied")
	}

	payload, err := json.Marshal(reading.Wire())
	if err != nil {
		log.Error().Err(err).Msg("failed to encode reading")
		return
	}
	delivered := s.fanout.Send(s.reg, relay.ClassViewer, payload)

	if admin, err := s.adminUpdatePayload(reading); err == nil {
		s.fanout.Send(s.reg, relay.ClassAdmin, admin)
	}

	if fromDevice {
		for sent := 0; sent < delivered; sent++ {
			s.bus.Record(models.SystemEvent{
				Kind:    models.EventDataOut,
				Source:  "water_monitor",
				Details: map[string]any{"bytes": len(payload), "endpoint": "/water-monitor"},
			})
		}
	}
}

// Current returns the latest reading. Never blocks on I/O, never fails.
func (s *Store) Current() models.SensorReading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// SetMockMode toggles the data source. While mock mode is active, device
// writes are acknowledged but dropped so the generator owns the value slot.
func (s *Store) SetMockMode(enabled bool) {
	s.mu.Lock()
	s.mock = enabled
	s.mu.Unlock()
	mode := "live"
	if enabled {
		mode = "mock"
	}
	log.Info().Str("mode", mode).Msg("data source mode changed")
}

func (s *Store) MockMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mock
}

// StatsSnapshot returns the current reading-side totals. ConnectedClients is
// the billable count: viewers and admins, never internal observers.
func (s *Store) StatsSnapshot() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		TotalReadings:    s.total,
		ArduinoReadings:  s.device,
		MockReadings:     s.mocked,
		ConnectedClients: s.reg.BillableCount(),
		UptimeStart:      s.started,
		LastArduino:      s.lastDev,
		DeviceActive:     s.bus.ProducerActive(string(models.OriginArduino)),
	}
}

// ConfigSnapshot returns the mode flag and per-class connection counts.
func (s *Store) ConfigSnapshot() Config {
	return Config{
		UseMockData:             s.MockMode(),
		ConnectedMonitorClients: s.reg.CountByClass(relay.ClassViewer),
		ConnectedAdminClients:   s.reg.CountByClass(relay.ClassAdmin),
	}
}

// StatusPayload builds the admin "system_status" message sent on connect.
func (s *Store) StatusPayload() ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":           "system_status",
		"latest_reading": s.Current().Wire(),
		"stats":          s.StatsSnapshot(),
		"config":         s.ConfigSnapshot(),
	})
}

func (s *Store) adminUpdatePayload(reading models.SensorReading) ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":           "system_update",
		"latest_reading": reading.Wire(),
		"stats":          s.StatsSnapshot(),
		"config":         s.ConfigSnapshot(),
	})
}
