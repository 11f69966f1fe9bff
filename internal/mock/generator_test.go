package mock

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/tidewatch/tidewatch/internal/models"
	"github.com/tidewatch/tidewatch/internal/monitor"
	"github.com/tidewatch/tidewatch/internal/relay"
	"github.com/tidewatch/tidewatch/internal/state"
)

type captureConn struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (c *captureConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := make([]byte, len(payload))
	copy(buf, payload)
	c.payloads = append(c.payloads, buf)
	return nil
}

func (c *captureConn) Close()             {}
func (c *captureConn) RemoteAddr() string { return "test:0" }

func (c *captureConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

func (c *captureConn) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.payloads))
	copy(out, c.payloads)
	return out
}

func newTestStore() (*state.Store, *relay.Registry) {
	reg := relay.NewRegistry()
	fan := relay.NewFanout()
	bus := monitor.NewBus(reg, fan, monitor.Options{EventRingSize: 100})
	return state.NewStore(reg, fan, bus), reg
}

func TestGeneratorProducesInRangeReadings(t *testing.T) {
	store, reg := newTestStore()
	viewer := &captureConn{}
	reg.Register(relay.ClassViewer, viewer)

	gen := NewGenerator(store, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	go gen.Run(ctx)

	deadline := time.After(2 * time.Second)
	for viewer.count() < 3 {
		select {
		case <-deadline:
			t.Fatal("generator produced no readings before deadline")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()

	for _, msg := range viewer.received() {
		var wire models.WirePayload
		if err := json.Unmarshal(msg, &wire); err != nil {
			t.Fatalf("viewer payload is not JSON: %v", err)
		}
		if wire.Source != "mock" {
			t.Fatalf("source = %q, want mock", wire.Source)
		}
		if wire.T < TurbidityMin || wire.T > TurbidityMax {
			t.Fatalf("turbidity %v out of range [%v, %v]", wire.T, TurbidityMin, TurbidityMax)
		}
		if wire.PH < PHMin || wire.PH > PHMax {
			t.Fatalf("pH %v out of range [%v, %v]", wire.PH, PHMin, PHMax)
		}
		if wire.C < ConductivityMin || wire.C > ConductivityMax {
			t.Fatalf("conductivity %v out of range [%v, %v]", wire.C, ConductivityMin, ConductivityMax)
		}
		if wire.Timestamp == "" {
			t.Fatal("wire payload missing timestamp")
		}
	}
}

func TestGeneratorPausesInLiveMode(t *testing.T) {
	store, reg := newTestStore()
	viewer := &captureConn{}
	reg.Register(relay.ClassViewer, viewer)

	store.SetMockMode(false)

	gen := NewGenerator(store, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	go gen.Run(ctx)

	time.Sleep(100 * time.Millisecond)
	cancel()

	if got := viewer.count(); got != 0 {
		t.Fatalf("generator produced %d readings in live mode, want 0", got)
	}
}

func TestGeneratorStopsOnCancel(t *testing.T) {
	store, _ := newTestStore()

	gen := NewGenerator(store, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	stopped := make(chan struct{})
	go func() {
		gen.Run(ctx)
		close(stopped)
	}()

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("generator did not stop after context cancellation")
	}
}
