package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tidewatch/tidewatch/internal/models"
	"github.com/tidewatch/tidewatch/internal/relay"
)

func dialWS(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("payload %q is not JSON: %v", payload, err)
	}
	return decoded
}

// readUntilType skips interleaved meta pushes (system_event, system_metrics,
// heartbeat) until a message of the wanted type arrives.
func readUntilType(t *testing.T, conn *websocket.Conn, want string) map[string]any {
	t.Helper()
	for i := 0; i < 20; i++ {
		msg := readJSON(t, conn)
		if msg["type"] == want {
			return msg
		}
	}
	t.Fatalf("no %q message within 20 reads", want)
	return nil
}

func waitForCount(t *testing.T, f *fixture, class relay.Class, want int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for f.reg.CountByClass(class) != want {
		select {
		case <-deadline:
			t.Fatalf("%s count = %d, want %d", class, f.reg.CountByClass(class), want)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestViewerReceivesInitialReading(t *testing.T) {
	f := newFixture(30 * time.Second)
	srv := httptest.NewServer(f.server)
	defer srv.Close()

	conn := dialWS(t, srv, "/water-monitor")

	msg := readJSON(t, conn)
	if msg["T"] != 25.0 || msg["PH"] != 7.0 || msg["C"] != 300.0 {
		t.Fatalf("initial reading = %v", msg)
	}
	if msg["source"] != "mock" {
		t.Fatalf("initial source = %v, want mock", msg["source"])
	}

	waitForCount(t, f, relay.ClassViewer, 1)
	if got := f.reg.BillableCount(); got != 1 {
		t.Fatalf("BillableCount = %d, want 1", got)
	}
}

func TestViewerEcho(t *testing.T) {
	f := newFixture(30 * time.Second)
	srv := httptest.NewServer(f.server)
	defer srv.Close()

	conn := dialWS(t, srv, "/water-monitor")
	readJSON(t, conn) // initial reading

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"hello":"relay"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	msg := readUntilType(t, conn, "echo")
	if msg["status"] != "received" {
		t.Fatalf("echo status = %v", msg["status"])
	}
	original, ok := msg["original_message"].(map[string]any)
	if !ok || original["hello"] != "relay" {
		t.Fatalf("original_message = %v", msg["original_message"])
	}
}

func TestViewerInvalidJSONKeepsConnection(t *testing.T) {
	f := newFixture(30 * time.Second)
	srv := httptest.NewServer(f.server)
	defer srv.Close()

	conn := dialWS(t, srv, "/water-monitor")
	readJSON(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json at all")); err != nil {
		t.Fatalf("write: %v", err)
	}
	// a valid message afterwards still gets echoed
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"still":"here"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntilType(t, conn, "echo")
}

func TestViewerDisconnectUnregisters(t *testing.T) {
	f := newFixture(30 * time.Second)
	srv := httptest.NewServer(f.server)
	defer srv.Close()

	conn := dialWS(t, srv, "/water-monitor")
	readJSON(t, conn)
	waitForCount(t, f, relay.ClassViewer, 1)

	conn.Close()
	waitForCount(t, f, relay.ClassViewer, 0)

	// the session records exactly one disconnection
	deadline := time.After(2 * time.Second)
	for {
		disconnects := 0
		for _, ev := range f.bus.Snapshot(100) {
			if ev.Kind == models.EventDisconnect {
				disconnects++
			}
		}
		if disconnects == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("disconnection events = %d, want 1", disconnects)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestViewerHeartbeat(t *testing.T) {
	f := newFixture(100 * time.Millisecond)
	srv := httptest.NewServer(f.server)
	defer srv.Close()

	conn := dialWS(t, srv, "/water-monitor")
	readJSON(t, conn)

	// stay silent past the read window; the relay probes instead of dropping
	msg := readUntilType(t, conn, "heartbeat")
	if msg["timestamp"] == nil {
		t.Fatal("heartbeat missing timestamp")
	}

	if got := f.reg.CountByClass(relay.ClassViewer); got != 1 {
		t.Fatalf("viewer evicted after heartbeat, count = %d", got)
	}
}

func TestAdminStatusAndCommands(t *testing.T) {
	f := newFixture(30 * time.Second)
	srv := httptest.NewServer(f.server)
	defer srv.Close()

	conn := dialWS(t, srv, "/admin-dashboard/ws")

	status := readJSON(t, conn)
	if status["type"] != "system_status" {
		t.Fatalf("first message type = %v, want system_status", status["type"])
	}

	if err := conn.WriteJSON(map[string]any{"command": "set_mock_mode", "value": false}); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp := readUntilType(t, conn, "command_response")
	if resp["success"] != true || resp["new_value"] != false {
		t.Fatalf("command_response = %v", resp)
	}
	if f.store.MockMode() {
		t.Fatal("mock mode still on after set_mock_mode false")
	}

	// value defaults to true when omitted
	if err := conn.WriteJSON(map[string]any{"command": "set_mock_mode"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp = readUntilType(t, conn, "command_response")
	if resp["new_value"] != true {
		t.Fatalf("default new_value = %v, want true", resp["new_value"])
	}
	if !f.store.MockMode() {
		t.Fatal("mock mode off after default set_mock_mode")
	}

	if err := conn.WriteJSON(map[string]any{"command": "get_stats"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	stats := readUntilType(t, conn, "stats_response")
	if _, ok := stats["stats"].(map[string]any); !ok {
		t.Fatalf("stats_response missing stats object: %v", stats)
	}
}

func TestAdminUnknownCommand(t *testing.T) {
	f := newFixture(30 * time.Second)
	srv := httptest.NewServer(f.server)
	defer srv.Close()

	conn := dialWS(t, srv, "/admin-dashboard/ws")
	readJSON(t, conn)

	if err := conn.WriteJSON(map[string]any{"command": "reboot_reactor"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readUntilType(t, conn, "error")
	available, ok := msg["available_commands"].([]any)
	if !ok || len(available) != 2 {
		t.Fatalf("available_commands = %v", msg["available_commands"])
	}
}

func TestAdminInvalidJSONStaysConnected(t *testing.T) {
	f := newFixture(30 * time.Second)
	srv := httptest.NewServer(f.server)
	defer srv.Close()

	conn := dialWS(t, srv, "/admin-dashboard/ws")
	readJSON(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("garbage{{")); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntilType(t, conn, "error")

	if err := conn.WriteJSON(map[string]any{"command": "get_stats"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntilType(t, conn, "stats_response")
}

func TestObserverInitialStateAndHistory(t *testing.T) {
	f := newFixture(30 * time.Second)
	srv := httptest.NewServer(f.server)
	defer srv.Close()

	f.bus.Record(models.SystemEvent{Kind: models.EventConnect, Source: "seed"})

	conn := dialWS(t, srv, "/system-monitor/ws")

	initial := readJSON(t, conn)
	if initial["type"] != "initial_state" {
		t.Fatalf("first message type = %v, want initial_state", initial["type"])
	}
	if _, ok := initial["recent_events"].([]any); !ok {
		t.Fatalf("initial_state missing recent_events: %v", initial)
	}
	if _, ok := initial["system_info"].(map[string]any); !ok {
		t.Fatalf("initial_state missing system_info: %v", initial)
	}

	if err := conn.WriteJSON(map[string]any{"action": "get_full_history"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	history := readUntilType(t, conn, "full_history")
	events, ok := history["events"].([]any)
	if !ok || len(events) == 0 {
		t.Fatalf("full_history events = %v", history["events"])
	}

	if err := conn.WriteJSON(map[string]any{"action": "clear_events"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntilType(t, conn, "events_cleared")
	if got := len(f.bus.Snapshot(1000)); got != 0 {
		t.Fatalf("events after clear = %d, want 0", got)
	}
}

func TestObserverNotBillable(t *testing.T) {
	f := newFixture(30 * time.Second)
	srv := httptest.NewServer(f.server)
	defer srv.Close()

	conn := dialWS(t, srv, "/system-monitor/ws")
	readJSON(t, conn)
	waitForCount(t, f, relay.ClassObserver, 1)

	if got := f.reg.BillableCount(); got != 0 {
		t.Fatalf("BillableCount with one observer = %d, want 0", got)
	}
}

func TestObserverCommandRecordsDataIn(t *testing.T) {
	f := newFixture(30 * time.Second)
	srv := httptest.NewServer(f.server)
	defer srv.Close()

	conn := dialWS(t, srv, "/system-monitor/ws")
	readJSON(t, conn)
	waitForCount(t, f, relay.ClassObserver, 1)

	before := f.bus.Counters().TotalDataMessages
	if err := conn.WriteJSON(map[string]any{"action": "get_full_history"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntilType(t, conn, "full_history")

	if got := f.bus.Counters().TotalDataMessages; got != before+1 {
		t.Fatalf("TotalDataMessages = %d, want %d", got, before+1)
	}
}
