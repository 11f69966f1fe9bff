// Command device is a stand-in for the Arduino sensor rig: it publishes
// synthetic readings to a tidewatch relay over plain HTTP, at a fixed cadence,
// so live-mode behavior can be exercised without hardware.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tidewatch/tidewatch/internal/mock"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	serverURL := os.Getenv("TIDEWATCH_SERVER_URL")
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}
	interval := 5 * time.Second
	if raw := os.Getenv("TIDEWATCH_DEVICE_INTERVAL"); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			interval = parsed
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := &http.Client{Timeout: 10 * time.Second}
	endpoint := serverURL + "/water-monitor/publish"

	log.Info().Str("endpoint", endpoint).Dur("interval", interval).Msg("device publisher started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("device publisher stopped")
			return
		case <-ticker.C:
			if err := publish(ctx, client, endpoint); err != nil {
				log.Warn().Err(err).Msg("publish failed")
			}
		}
	}
}

func publish(ctx context.Context, client *http.Client, endpoint string) error {
	payload, err := json.Marshal(map[string]float64{
		"T":  uniform(mock.TurbidityMin, mock.TurbidityMax),
		"PH": uniform(mock.PHMin, mock.PHMax),
		"C":  uniform(mock.ConductivityMin, mock.ConductivityMax),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		log.Info().Msg("reading applied")
	case http.StatusAccepted:
		log.Info().Msg("reading accepted but relay is in mock mode")
	default:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func uniform(low, high float64) float64 {
	return low + rand.Float64()*(high-low)
}
