package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"example.com/backstage/services/telemetry/config"
	"example.com/backstage/services/telemetry/internal/models"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ElasticClient archives element updates to Elasticsearch
type ElasticClient struct {
	client *elasticsearch.Client
	config config.ElasticConfig
}

// NewElasticClient creates a new Elasticsearch client
func NewElasticClient(cfg config.ElasticConfig) (*ElasticClient, error) {
	esConfig := elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	}

	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticClient{
		client: client,
		config: cfg,
	}, nil
}

// IndexName returns the monthly index an update at t is written to
func IndexName(base string, t time.Time) string {
	return base + "-" + t.UTC().Format("2006.01")
}

// DocumentID identifies one reading of one element. Re-indexing the same reading overwrites it.
func DocumentID(elementID string, t time.Time) string {
	return fmt.Sprintf("%s-%d", elementID, t.UTC().UnixNano())
}

// IndexUpdate indexes one element update
func (c *ElasticClient) IndexUpdate(ctx context.Context, update models.ElementUpdate) error {
	snap := update.Snapshot
	doc := map[string]interface{}{
		"element_id":        update.ElementID,
		"display_label":     update.DisplayLabel,
		"timestamp":         snap.LastUpdate.UTC(),
		"status":            snap.Status,
		"health_score":      snap.HealthScore,
		"performance_index": snap.PerformanceIndex,
		"temperature":       snap.Temperature,
		"power":             snap.Power,
		"signal":            snap.Signal,
		"vendor":            snap.Vendor,
		"model":             snap.Model,
	}
	for k, v := range update.Properties.Properties {
		doc["properties:"+k] = v
	}

	docJSON, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal telemetry document")
	}

	req := esapi.IndexRequest{
		Index:      IndexName(c.config.Index, snap.LastUpdate),
		DocumentID: DocumentID(update.ElementID, snap.LastUpdate),
		Body:       bytes.NewReader(docJSON),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch index request")
	}
	defer res.Body.Close()

	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return errors.Wrap(err, "failed to parse Elasticsearch error response")
		}
		return errors.Errorf("Elasticsearch index error: %v", e)
	}

	log.Debug().Str("element_id", update.ElementID).Msg("telemetry indexed")
	return nil
}

// SearchHistory returns the archived readings of an element, newest first
func (c *ElasticClient) SearchHistory(ctx context.Context, elementID string, size int) ([]models.HistoryPoint, error) {
	query := map[string]interface{}{
		"size":  size,
		"sort":  []interface{}{map[string]interface{}{"timestamp": "desc"}},
		"query": map[string]interface{}{"term": map[string]interface{}{"element_id": elementID}},
	}
	queryJSON, err := json.Marshal(query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal search query")
	}

	req := esapi.SearchRequest{
		Index: []string{c.config.Index + "-*"},
		Body:  bytes.NewReader(queryJSON),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute Elasticsearch search request")
	}
	defer res.Body.Close()

	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return nil, errors.Wrap(err, "failed to parse Elasticsearch error response")
		}
		return nil, errors.Errorf("Elasticsearch search error: %v", e)
	}

	var result struct {
		Hits struct {
			Hits []struct {
				Source struct {
					Timestamp   time.Time `json:"timestamp"`
					Temperature *float64  `json:"temperature"`
					Power       *float64  `json:"power"`
					Signal      *float64  `json:"signal"`
					HealthScore *float64  `json:"health_score"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "failed to parse Elasticsearch search response")
	}

	points := make([]models.HistoryPoint, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		src := hit.Source
		points = append(points, models.HistoryPoint{
			Timestamp:        src.Timestamp,
			Temperature:      src.Temperature,
			PowerConsumption: src.Power,
			SignalStrength:   src.Signal,
			HealthScore:      src.HealthScore,
		})
	}
	return points, nil
}
