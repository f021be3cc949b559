package source

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"example.com/backstage/services/telemetry/config"
	"example.com/backstage/services/telemetry/internal/models"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	latestPath     = "/api/telemetry/latest"
	maxBodyBytes   = 8 << 20
	defaultTimeout = 10 * time.Second
	retryBackoff   = 250 * time.Millisecond
)

// HTTPSource polls the telemetry simulator for the latest readings
type HTTPSource struct {
	url        string
	client     *http.Client
	maxRetries int
	backoff    time.Duration
}

// NewHTTPSource creates a source for cfg.SimulatorEndpoint
func NewHTTPSource(cfg config.SyncConfig) *HTTPSource {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPSource{
		url:        strings.TrimRight(cfg.SimulatorEndpoint, "/") + latestPath,
		client:     &http.Client{Timeout: timeout},
		maxRetries: cfg.MaxRetries,
		backoff:    retryBackoff,
	}
}

// Name identifies the source in logs
func (s *HTTPSource) Name() string {
	return "http"
}

// Fetch returns the latest batch. Failures wrap models.ErrFetch after the retries are spent.
func (s *HTTPSource) Fetch(ctx context.Context) ([]models.TelemetryRecord, error) {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, errors.Wrapf(models.ErrFetch, "%v", ctx.Err())
			case <-time.After(time.Duration(attempt) * s.backoff):
			}
		}

		records, err := s.fetchOnce(ctx)
		if err == nil {
			return records, nil
		}
		lastErr = err
		log.Debug().Err(err).Int("attempt", attempt+1).Str("url", s.url).Msg("Telemetry fetch attempt failed")
	}
	return nil, errors.Wrapf(models.ErrFetch, "%s: %v", s.url, lastErr)
}

func (s *HTTPSource) fetchOnce(ctx context.Context) ([]models.TelemetryRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read body")
	}
	return DecodeBatch(body)
}

// DecodeBatch parses a {"telemetry": [...]} payload. Individual malformed records are skipped.
func DecodeBatch(body []byte) ([]models.TelemetryRecord, error) {
	var envelope struct {
		Telemetry []json.RawMessage `json:"telemetry"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, errors.Wrap(err, "malformed telemetry payload")
	}

	records := make([]models.TelemetryRecord, 0, len(envelope.Telemetry))
	for i, raw := range envelope.Telemetry {
		var rec models.TelemetryRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			log.Warn().Err(err).Int("index", i).Msg("Skipping malformed telemetry record")
			continue
		}
		if rec.DeviceID == "" {
			log.Warn().Int("index", i).Msg("Skipping telemetry record without deviceId")
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
