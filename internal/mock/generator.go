package mock

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tidewatch/tidewatch/internal/models"
	"github.com/tidewatch/tidewatch/internal/state"
)

// Generation ranges for synthetic readings, matching typical water-quality
// sensor envelopes: turbidity in NTU, pH, conductivity in μS/cm.
const (
	TurbidityMin, TurbidityMax       = 5.0, 800.0
	PHMin, PHMax                     = 3.0, 10.0
	ConductivityMin, ConductivityMax = 100.0, 1200.0
)

// Generator produces synthetic readings on a fixed interval while the store
// is in mock mode.
type Generator struct {
	store    *state.Store
	interval time.Duration
	backoff  time.Duration
}

func NewGenerator(store *state.Store, interval time.Duration) *Generator {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Generator{
		store:    store,
		interval: interval,
		backoff:  5 * time.Second,
	}
}

// Run generates readings until ctx is cancelled. A transient failure pauses
// the loop for the backoff window and then resumes; it never terminates the
// task.
func (g *Generator) Run(ctx context.Context) error {
	log.Info().Dur("interval", g.interval).Msg("mock data generation started")

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("mock data generation stopped")
			return nil
		case <-ticker.C:
			if !g.store.MockMode() {
				continue
			}
			if err := g.tick(); err != nil {
				log.Error().Err(err).Msg("mock data generation failed")
				select {
				case <-ctx.Done():
					log.Info().Msg("mock data generation stopped")
					return nil
				case <-time.After(g.backoff):
				}
			}
		}
	}
}

func (g *Generator) tick() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mock update panicked: %v", r)
		}
	}()

	g.store.Update(models.SensorReading{
		Turbidity:    uniform(TurbidityMin, TurbidityMax),
		PH:           uniform(PHMin, PHMax),
		Conductivity: uniform(ConductivityMin, ConductivityMax),
		CapturedAt:   time.Now(),
		Origin:       models.OriginMock,
	})
	return nil
}

func uniform(low, high float64) float64 {
	return low + rand.Float64()*(high-low)
}
