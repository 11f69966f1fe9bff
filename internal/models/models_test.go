package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestWireRoundsToTwoDecimals(t *testing.T) {
	reading := SensorReading{
		Turbidity:    123.456789,
		PH:           7.006,
		Conductivity: 999.994,
		CapturedAt:   time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC),
		Origin:       OriginArduino,
	}

	wire := reading.Wire()
	if wire.T != 123.46 {
		t.Errorf("T = %v, want 123.46", wire.T)
	}
	if wire.PH != 7.01 {
		t.Errorf("PH = %v, want 7.01", wire.PH)
	}
	if wire.C != 999.99 {
		t.Errorf("C = %v, want 999.99", wire.C)
	}
	if wire.Source != OriginArduino {
		t.Errorf("Source = %q, want arduino", wire.Source)
	}
	if wire.Timestamp != "2026-03-01T12:30:00Z" {
		t.Errorf("Timestamp = %q", wire.Timestamp)
	}
}

func TestWireJSONKeys(t *testing.T) {
	payload, err := json.Marshal(SensorReading{Origin: OriginMock}.Wire())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var keys map[string]any
	if err := json.Unmarshal(payload, &keys); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	// producers and browser dashboards share these exact short keys
	for _, key := range []string{"T", "PH", "C", "timestamp", "source"} {
		if _, ok := keys[key]; !ok {
			t.Errorf("wire payload missing key %q", key)
		}
	}
}
