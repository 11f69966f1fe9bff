package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/tidewatch/tidewatch/internal/models"
	"github.com/tidewatch/tidewatch/internal/monitor"
	"github.com/tidewatch/tidewatch/internal/relay"
	"github.com/tidewatch/tidewatch/internal/state"
)

// sessionHandler runs one consumer session after a successful upgrade. It
// returns when the connection is gone; the returned error distinguishes a
// failed transport from a normal close.
type sessionHandler interface {
	Serve(conn *relay.WSConn, raw *websocket.Conn) error
}

// monitoredSession wraps a sessionHandler and records Connect, Disconnect
// and Error events around it, tagged with an explicit consumer class. It is
// composed at registration time, in place of implicit handler decoration.
type monitoredSession struct {
	class    relay.Class
	endpoint string
	bus      *monitor.Bus
	next     sessionHandler
}

func (m *monitoredSession) Serve(conn *relay.WSConn, raw *websocket.Conn) error {
	start := time.Now()
	m.bus.Record(models.SystemEvent{
		Kind:   models.EventConnect,
		Source: m.endpoint,
		Details: map[string]any{
			"client_class": string(m.class),
			"remote":       conn.RemoteAddr(),
		},
	})

	err := m.next.Serve(conn, raw)
	if err != nil && !isExpectedClose(err) {
		m.bus.Record(models.SystemEvent{
			Kind:   models.EventError,
			Source: m.endpoint,
			Details: map[string]any{
				"client_class": string(m.class),
				"error":        err.Error(),
			},
		})
	}

	elapsed := float64(time.Since(start).Milliseconds())
	m.bus.Record(models.SystemEvent{
		Kind:   models.EventDisconnect,
		Source: m.endpoint,
		Details: map[string]any{
			"client_class": string(m.class),
			"remote":       conn.RemoteAddr(),
		},
		DurationMS: &elapsed,
	})
	return err
}

// readPump feeds inbound frames to a channel so session loops can multiplex
// reads against the heartbeat timer. It exits when the connection errors or
// done closes.
func readPump(raw *websocket.Conn, done <-chan struct{}) (<-chan []byte, <-chan error) {
	msgs := make(chan []byte)
	errs := make(chan error, 1)
	go func() {
		for {
			_, payload, err := raw.ReadMessage()
			if err != nil {
				errs <- err
				return
			}
			select {
			case msgs <- payload:
			case <-done:
				return
			}
		}
	}()
	return msgs, errs
}

func heartbeatPayload() []byte {
	payload, _ := json.Marshal(map[string]any{
		"type":      "heartbeat",
		"timestamp": time.Now().Format(time.RFC3339),
	})
	return payload
}

// resetAfterRecv re-arms a timer whose channel has not fired.
func resetAfterRecv(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func isExpectedClose(err error) bool {
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) {
		return true
	}
	var netErr *net.OpError
	return errors.As(err, &netErr)
}

// viewerSession streams live readings to a dashboard. Silence is probed with
// a heartbeat, never punished: only a failed send disconnects.
type viewerSession struct {
	reg      *relay.Registry
	store    *state.Store
	readWait time.Duration
}

func (v *viewerSession) Serve(conn *relay.WSConn, raw *websocket.Conn) error {
	id := v.reg.Register(relay.ClassViewer, conn)
	defer v.reg.Unregister(id)
	log.Info().Str("conn", id).Int("viewers", v.reg.CountByClass(relay.ClassViewer)).Msg("viewer connected")
	defer log.Info().Str("conn", id).Msg("viewer disconnected")

	// current reading goes out immediately on connect
	initial, err := json.Marshal(v.store.Current().Wire())
	if err == nil {
		if err := conn.Send(initial); err != nil {
			return err
		}
	}

	done := make(chan struct{})
	defer close(done)
	msgs, errs := readPump(raw, done)

	timer := time.NewTimer(v.readWait)
	defer timer.Stop()

	for {
		select {
		case payload := <-msgs:
			resetAfterRecv(timer, v.readWait)
			var decoded map[string]any
			if err := json.Unmarshal(payload, &decoded); err != nil {
				log.Warn().Str("conn", id).Msg("viewer sent invalid JSON")
				continue
			}
			reply, err := json.Marshal(map[string]any{
				"type":             "echo",
				"original_message": decoded,
				"timestamp":        time.Now().Format(time.RFC3339),
				"status":           "received",
			})
			if err != nil {
				continue
			}
			if err := conn.Send(reply); err != nil {
				return err
			}
		case err := <-errs:
			return err
		case <-timer.C:
			if err := conn.Send(heartbeatPayload()); err != nil {
				return err
			}
			timer.Reset(v.readWait)
		}
	}
}

// adminSession serves the operational control channel: status on connect,
// then commands.
type adminSession struct {
	reg      *relay.Registry
	store    *state.Store
	readWait time.Duration
}

func (a *adminSession) Serve(conn *relay.WSConn, raw *websocket.Conn) error {
	id := a.reg.Register(relay.ClassAdmin, conn)
	defer a.reg.Unregister(id)
	log.Info().Str("conn", id).Msg("admin connected")
	defer log.Info().Str("conn", id).Msg("admin disconnected")

	status, err := a.store.StatusPayload()
	if err == nil {
		if err := conn.Send(status); err != nil {
			return err
		}
	}

	done := make(chan struct{})
	defer close(done)
	msgs, errs := readPump(raw, done)

	timer := time.NewTimer(a.readWait)
	defer timer.Stop()

	for {
		select {
		case payload := <-msgs:
			resetAfterRecv(timer, a.readWait)
			reply := a.handleCommand(id, payload)
			if reply != nil {
				if err := conn.Send(reply); err != nil {
					return err
				}
			}
		case err := <-errs:
			return err
		case <-timer.C:
			if err := conn.Send(heartbeatPayload()); err != nil {
				return err
			}
			timer.Reset(a.readWait)
		}
	}
}

func (a *adminSession) handleCommand(id string, payload []byte) []byte {
	var cmd struct {
		Command string `json:"command"`
		Value   *bool  `json:"value"`
	}
	if err := json.Unmarshal(payload, &cmd); err != nil {
		log.Warn().Str("conn", id).Msg("admin sent invalid JSON")
		return mustJSON(map[string]any{
			"type":    "error",
			"message": "invalid JSON payload",
		})
	}

	log.Info().Str("conn", id).Str("command", cmd.Command).Msg("admin command received")

	switch cmd.Command {
	case "set_mock_mode":
		enabled := true
		if cmd.Value != nil {
			enabled = *cmd.Value
		}
		a.store.SetMockMode(enabled)
		mode := "real"
		if enabled {
			mode = "mock"
		}
		return mustJSON(map[string]any{
			"type":      "command_response",
			"command":   "set_mock_mode",
			"success":   true,
			"message":   "data source switched to " + mode,
			"new_value": enabled,
		})
	case "get_stats":
		return mustJSON(map[string]any{
			"type":  "stats_response",
			"stats": a.store.StatsSnapshot(),
		})
	default:
		return mustJSON(map[string]any{
			"type":               "error",
			"message":            "unknown command: " + cmd.Command,
			"available_commands": []string{"set_mock_mode", "get_stats"},
		})
	}
}

// observerSession serves the meta-monitoring stream: event/metrics pushes
// arrive via the observer fanout, while this loop answers history commands.
type observerSession struct {
	reg      *relay.Registry
	bus      *monitor.Bus
	readWait time.Duration
}

func (o *observerSession) Serve(conn *relay.WSConn, raw *websocket.Conn) error {
	id := o.reg.Register(relay.ClassObserver, conn)
	defer o.reg.Unregister(id)
	log.Info().Str("conn", id).Msg("internal observer connected")
	defer log.Info().Str("conn", id).Msg("internal observer disconnected")

	initial, err := o.bus.InitialState()
	if err == nil {
		if err := conn.Send(initial); err != nil {
			return err
		}
	}

	done := make(chan struct{})
	defer close(done)
	msgs, errs := readPump(raw, done)

	timer := time.NewTimer(o.readWait)
	defer timer.Stop()

	for {
		select {
		case payload := <-msgs:
			resetAfterRecv(timer, o.readWait)
			reply := o.handleCommand(id, payload)
			if reply != nil {
				if err := conn.Send(reply); err != nil {
					return err
				}
			}
		case err := <-errs:
			return err
		case <-timer.C:
			if err := conn.Send(heartbeatPayload()); err != nil {
				return err
			}
			timer.Reset(o.readWait)
		}
	}
}

func (o *observerSession) handleCommand(id string, payload []byte) []byte {
	var cmd struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(payload, &cmd); err != nil {
		log.Warn().Str("conn", id).Msg("observer sent invalid JSON")
		return nil
	}

	o.bus.Record(models.SystemEvent{
		Kind:   models.EventDataIn,
		Source: "system_monitor_client",
		Details: map[string]any{
			"command": cmd.Action,
			"bytes":   len(payload),
		},
	})

	switch cmd.Action {
	case "get_full_history":
		return mustJSON(map[string]any{
			"type":    "full_history",
			"events":  o.bus.Snapshot(1 << 30),
			"metrics": o.bus.Samples(1 << 30),
		})
	case "clear_events":
		o.bus.ClearEvents()
		return mustJSON(map[string]any{"type": "events_cleared"})
	default:
		return nil
	}
}

func mustJSON(payload map[string]any) []byte {
	encoded, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode payload")
		return nil
	}
	return encoded
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request, class relay.Class, endpoint string, next sessionHandler) {
	raw, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("endpoint", endpoint).Msg("websocket upgrade failed")
		return
	}
	defer raw.Close()

	session := &monitoredSession{class: class, endpoint: endpoint, bus: s.bus, next: next}
	_ = session.Serve(relay.NewWSConn(raw), raw)
}

func (s *Server) handleViewerWS(w http.ResponseWriter, r *http.Request) {
	s.serveWS(w, r, relay.ClassViewer, "/water-monitor", &viewerSession{
		reg:      s.reg,
		store:    s.store,
		readWait: s.cfg.ReadWait,
	})
}

func (s *Server) handleAdminWS(w http.ResponseWriter, r *http.Request) {
	s.serveWS(w, r, relay.ClassAdmin, "/admin-dashboard/ws", &adminSession{
		reg:      s.reg,
		store:    s.store,
		readWait: s.cfg.ReadWait,
	})
}

func (s *Server) handleObserverWS(w http.ResponseWriter, r *http.Request) {
	s.serveWS(w, r, relay.ClassObserver, "/system-monitor/ws", &observerSession{
		reg:      s.reg,
		bus:      s.bus,
		readWait: s.cfg.ReadWait,
	})
}
