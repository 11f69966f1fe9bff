package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/tidewatch/tidewatch/internal/config"
	"github.com/tidewatch/tidewatch/internal/models"
	"github.com/tidewatch/tidewatch/internal/monitor"
	"github.com/tidewatch/tidewatch/internal/relay"
	"github.com/tidewatch/tidewatch/internal/state"
)

type Server struct {
	cfg      *config.Config
	reg      *relay.Registry
	store    *state.Store
	bus      *monitor.Bus
	router   *chi.Mux
	upgrader websocket.Upgrader
	started  time.Time
}

func NewServer(cfg *config.Config, reg *relay.Registry, store *state.Store, bus *monitor.Bus) *Server {
	s := &Server{
		cfg:    cfg,
		reg:    reg,
		store:  store,
		bus:    bus,
		router: chi.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// dashboards are served from arbitrary hosts in classrooms
			CheckOrigin: func(*http.Request) bool { return true },
		},
		started: time.Now(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.requestLogger)

	s.router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Tidewatch telemetry relay is running"))
	})
	s.router.Get("/health", s.handleHealth)

	s.router.Post("/water-monitor/publish", s.handleDevicePublish)

	s.router.Get("/water-monitor", s.handleViewerWS)
	s.router.Get("/admin-dashboard/ws", s.handleAdminWS)
	s.router.Get("/system-monitor/ws", s.handleObserverWS)

	s.router.Get("/api/stats", s.handleStats)
	s.router.Get("/api/events", s.handleEvents)

	s.router.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": time.Since(s.started).Seconds(),
	})
}

// handleDevicePublish accepts readings from bandwidth-constrained producers.
// Responses carry only a status code: 200 applied, 202 accepted but dropped
// because mock mode owns the value slot, 400 for anything malformed.
func (s *Server) handleDevicePublish(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<16))
	if err != nil || len(body) == 0 {
		log.Warn().Msg("empty or unreadable device payload")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var raw struct {
		T  *float64 `json:"T"`
		PH *float64 `json:"PH"`
		C  *float64 `json:"C"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		log.Warn().Err(err).Msg("malformed device JSON")
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if raw.T == nil || raw.PH == nil || raw.C == nil {
		log.Warn().Msg("incomplete device payload")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.bus.Record(models.SystemEvent{
		Kind:    models.EventDataIn,
		Source:  string(models.OriginArduino),
		Details: map[string]any{"bytes": len(body), "endpoint": "/water-monitor/publish"},
	})

	if s.store.MockMode() {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	s.store.Update(models.SensorReading{
		Turbidity:    *raw.T,
		PH:           *raw.PH,
		Conductivity: *raw.C,
		CapturedAt:   time.Now(),
		Origin:       models.OriginArduino,
	})
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":    s.store.StatsSnapshot(),
		"config":   s.store.ConfigSnapshot(),
		"counters": s.bus.Counters(),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed < 1 || parsed > s.cfg.EventRingSize {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be between 1 and " + strconv.Itoa(s.cfg.EventRingSize),
			})
			return
		}
		limit = parsed
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": s.bus.Snapshot(limit)})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}
