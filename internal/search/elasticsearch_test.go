package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"example.com/backstage/services/telemetry/config"
	"example.com/backstage/services/telemetry/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCluster struct {
	mu       sync.Mutex
	paths    []string
	docs     map[string]map[string]any
	failWith int
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	if r.URL.Path == "/" {
		_, _ = io.WriteString(w, `{"version":{"number":"7.17.0","build_flavor":"default"},"tagline":"You Know, for Search"}`)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, r.Method+" "+r.URL.Path)

	if f.failWith != 0 {
		w.WriteHeader(f.failWith)
		_, _ = io.WriteString(w, `{"error":{"type":"mapper_parsing_exception"},"status":400}`)
		return
	}

	if strings.HasSuffix(r.URL.Path, "/_search") {
		_, _ = io.WriteString(w, `{"hits":{"hits":[
			{"_source":{"timestamp":"2024-05-01T10:00:05Z","temperature":41.5,"health_score":88}},
			{"_source":{"timestamp":"2024-05-01T10:00:00Z","temperature":40,"power":90}}
		]}}`)
		return
	}

	var doc map[string]any
	_ = json.NewDecoder(r.Body).Decode(&doc)
	f.docs[r.URL.Path] = doc
	w.WriteHeader(http.StatusCreated)
	_, _ = io.WriteString(w, `{"result":"created"}`)
}

func newTestClient(t *testing.T, f *fakeCluster) *ElasticClient {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	c, err := NewElasticClient(config.ElasticConfig{Enabled: true, URL: srv.URL, Index: "telemetry-history"})
	require.NoError(t, err)
	return c
}

func sampleUpdate() models.ElementUpdate {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	temp := 45.0
	return models.ElementUpdate{
		ElementID:    "101",
		DisplayLabel: "VF-ANT-001-N-L18-P1",
		Snapshot: models.TooltipSnapshot{
			ElementID:    "101",
			DisplayLabel: "VF-ANT-001-N-L18-P1",
			Status:       models.StatusOperational,
			HealthScore:  82,
			Temperature:  &temp,
			LastUpdate:   ts,
		},
		Properties: models.PropertyUpdate{
			ElementID:  "101",
			Properties: map[string]any{"RSSI": -60.0},
			Timestamp:  ts,
		},
	}
}

func TestIndexUpdateWritesMonthlyDocument(t *testing.T) {
	f := &fakeCluster{docs: map[string]map[string]any{}}
	c := newTestClient(t, f)

	require.NoError(t, c.IndexUpdate(context.Background(), sampleUpdate()))

	want := "/telemetry-history-2024.05/_doc/" + DocumentID("101", sampleUpdate().Snapshot.LastUpdate)
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Contains(t, f.docs, want)
	doc := f.docs[want]
	assert.Equal(t, "VF-ANT-001-N-L18-P1", doc["display_label"])
	assert.Equal(t, "OPERATIONAL", doc["status"])
	assert.Equal(t, 45.0, doc["temperature"])
	assert.Equal(t, -60.0, doc["properties:RSSI"])
}

func TestIndexUpdateReportsClusterErrors(t *testing.T) {
	f := &fakeCluster{docs: map[string]map[string]any{}, failWith: http.StatusBadRequest}
	c := newTestClient(t, f)

	err := c.IndexUpdate(context.Background(), sampleUpdate())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mapper_parsing_exception")
}

func TestSearchHistoryDecodesHits(t *testing.T) {
	f := &fakeCluster{docs: map[string]map[string]any{}}
	c := newTestClient(t, f)

	points, err := c.SearchHistory(context.Background(), "101", 10)
	require.NoError(t, err)
	require.Len(t, points, 2)
	require.NotNil(t, points[0].Temperature)
	assert.Equal(t, 41.5, *points[0].Temperature)
	assert.Nil(t, points[0].PowerConsumption)
	require.NotNil(t, points[1].PowerConsumption)
	assert.Equal(t, 90.0, *points[1].PowerConsumption)
	assert.True(t, points[0].Timestamp.After(points[1].Timestamp))
}

func TestIndexNameAndDocumentID(t *testing.T) {
	ts := time.Date(2024, 12, 31, 23, 0, 0, 0, time.FixedZone("X", -2*3600))
	assert.Equal(t, "telemetry-2025.01", IndexName("telemetry", ts))
	assert.Equal(t, DocumentID("101", ts), DocumentID("101", ts.UTC()))
}
