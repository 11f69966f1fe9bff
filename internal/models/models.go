package models

import (
	"math"
	"time"
)

// Origin identifies where a sensor reading came from.
type Origin string

const (
	OriginMock    Origin = "mock"
	OriginArduino Origin = "arduino"
)

// SensorReading is a single water-quality measurement. Readings are immutable
// once constructed; the reading store replaces the whole value on update.
type SensorReading struct {
	Turbidity    float64   `json:"turbidity"`
	PH           float64   `json:"ph"`
	Conductivity float64   `json:"conductivity"`
	CapturedAt   time.Time `json:"captured_at"`
	Origin       Origin    `json:"origin"`
}

// WirePayload is the compact form pushed to viewers. The short field names
// match the JSON keys the Arduino firmware sends, so bandwidth-constrained
// producers and browser consumers share one format.
type WirePayload struct {
	T         float64 `json:"T"`
	PH        float64 `json:"PH"`
	C         float64 `json:"C"`
	Timestamp string  `json:"timestamp"`
	Source    Origin  `json:"source"`
}

// Wire converts the reading to its wire form, rounding values to two decimals.
func (r SensorReading) Wire() WirePayload {
	return WirePayload{
		T:         round2(r.Turbidity),
		PH:        round2(r.PH),
		C:         round2(r.Conductivity),
		Timestamp: r.CapturedAt.Format(time.RFC3339),
		Source:    r.Origin,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
