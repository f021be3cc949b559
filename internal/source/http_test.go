package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"example.com/backstage/services/telemetry/config"
	"example.com/backstage/services/telemetry/internal/models"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSourceFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/telemetry/latest", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"telemetry":[
			{"deviceId":"VF-ANT-001-N-L18-P1","timestamp":"2024-05-01T10:00:00Z","sequenceNumber":1,"temperature":72},
			{"deviceId":17,"temperature":40},
			{"timestamp":"2024-05-01T10:00:00Z"},
			{"deviceId":"VF-RRU-001-N-40W-P1","temperature":{"internal":48}}
		]}`))
	}))
	defer srv.Close()

	s := NewHTTPSource(config.SyncConfig{SimulatorEndpoint: srv.URL + "/"})
	records, err := s.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2, "malformed records are skipped individually")
	assert.Equal(t, "VF-ANT-001-N-L18-P1", records[0].DeviceID)

	temp, ok := records[1].Float("temperature.internal")
	require.True(t, ok)
	assert.Equal(t, 48.0, temp)
}

func TestHTTPSourceNon2xxIsFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPSource(config.SyncConfig{SimulatorEndpoint: srv.URL}).Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrFetch))
}

func TestHTTPSourceMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>gateway</html>`))
	}))
	defer srv.Close()

	_, err := NewHTTPSource(config.SyncConfig{SimulatorEndpoint: srv.URL}).Fetch(context.Background())
	assert.True(t, errors.Is(err, models.ErrFetch))
}

func TestHTTPSourceRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"telemetry":[{"deviceId":"VF-MW-001-N-0.6M-P2"}]}`))
	}))
	defer srv.Close()

	s := NewHTTPSource(config.SyncConfig{SimulatorEndpoint: srv.URL, MaxRetries: 2, RequestTimeout: time.Second})
	s.backoff = time.Millisecond

	records, err := s.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDecodeBatchWithoutTelemetryKey(t *testing.T) {
	records, err := DecodeBatch([]byte(`{"status":"warming up"}`))
	require.NoError(t, err)
	assert.Empty(t, records)
}
