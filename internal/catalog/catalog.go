package catalog

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"example.com/backstage/services/telemetry/internal/models"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultPrefix is the operator prefix carried by every equipment label
const DefaultPrefix = "VF"

// Element is a model element as reported by the scene query engine
type Element struct {
	ID        string `json:"id" yaml:"id"`
	ClassName string `json:"class_name" yaml:"class_name"`
	Label     string `json:"label" yaml:"label"`
	ModelID   string `json:"model_id" yaml:"model_id"`
}

// ModelQuery is the asset model collaborator used to extract equipment
type ModelQuery interface {
	ListElements(ctx context.Context, pattern *regexp.Regexp) ([]Element, error)
	ElementProperties(ctx context.Context, elementID string) (map[string]any, error)
}

// ValidationReport compares extracted labels with the expected spec table
type ValidationReport struct {
	Expected   int      `json:"expected"`
	Found      int      `json:"found"`
	Missing    []string `json:"missing"`
	Unexpected []string `json:"unexpected"`
}

// Complete reports whether every expected label was found
func (r ValidationReport) Complete() bool {
	return len(r.Missing) == 0
}

// Catalog holds the equipment extracted from one model connection
type Catalog struct {
	mu      sync.RWMutex
	pattern *regexp.Regexp
	specs   map[string]models.EquipmentSpec
	order   []string
	entries []models.CatalogEntry
	byLabel map[string]int
}

// New creates an empty catalog for the given label prefix and spec table
func New(prefix string, specs []models.EquipmentSpec) *Catalog {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	c := &Catalog{
		pattern: LabelPattern(prefix),
		specs:   make(map[string]models.EquipmentSpec, len(specs)),
		byLabel: make(map[string]int),
	}
	for _, s := range specs {
		if _, dup := c.specs[s.ElementID]; dup {
			continue
		}
		c.specs[s.ElementID] = s
		c.order = append(c.order, s.ElementID)
	}
	return c
}

// LabelPattern returns the strict equipment label pattern for a prefix
func LabelPattern(prefix string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`^%s-(ANT|RRU|MW)-\d{3}-`, regexp.QuoteMeta(prefix)))
}

// Build queries the model for equipment elements and replaces the catalog contents.
// Property lookups are best effort: a failure leaves that entry with empty properties.
func (c *Catalog) Build(ctx context.Context, q ModelQuery) ([]models.CatalogEntry, error) {
	elements, err := q.ListElements(ctx, c.pattern)
	if err != nil {
		return nil, errors.Wrapf(models.ErrExtraction, "list elements: %v", err)
	}

	entries := make([]models.CatalogEntry, 0, len(elements))
	byLabel := make(map[string]int, len(elements))
	for _, el := range elements {
		label := el.Label
		if !c.pattern.MatchString(label) {
			continue
		}
		if _, dup := byLabel[label]; dup {
			log.Debug().Str("label", label).Str("element_id", el.ID).Msg("Skipping duplicate equipment label")
			continue
		}

		props, err := q.ElementProperties(ctx, el.ID)
		if err != nil {
			log.Warn().Err(err).Str("element_id", el.ID).Msg("Failed to fetch element properties")
			props = map[string]any{}
		}
		if props == nil {
			props = map[string]any{}
		}

		byLabel[label] = len(entries)
		entries = append(entries, models.CatalogEntry{
			ElementID:    el.ID,
			ClassName:    el.ClassName,
			DisplayLabel: label,
			Category:     Classify(label),
			ModelID:      el.ModelID,
			Properties:   props,
		})
	}

	c.mu.Lock()
	c.entries = entries
	c.byLabel = byLabel
	c.mu.Unlock()

	log.Info().Int("elements", len(elements)).Int("equipment", len(entries)).Msg("Equipment catalog built")
	return c.Entries(), nil
}

// Classify maps a label to its catalog category by the token after the prefix
func Classify(label string) models.Category {
	parts := strings.Split(label, "-")
	if len(parts) < 2 {
		return models.CategoryUnknown
	}
	switch parts[1] {
	case "ANT":
		return models.CategoryAntenna
	case "RRU":
		return models.CategoryRRU
	case "MW":
		return models.CategoryMicrolink
	default:
		return models.CategoryUnknown
	}
}

// Entries returns the catalog entries in model order
func (c *Catalog) Entries() []models.CatalogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.CatalogEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Lookup finds an entry by display label
func (c *Catalog) Lookup(label string) (models.CatalogEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.byLabel[label]
	if !ok {
		return models.CatalogEntry{}, false
	}
	return c.entries[i], true
}

// SpecOf returns the static specification for a display label
func (c *Catalog) SpecOf(label string) (models.EquipmentSpec, bool) {
	s, ok := c.specs[label]
	return s, ok
}

// SpecFor returns the spec of an entry, inferring one from the label when the table has none
func (c *Catalog) SpecFor(entry models.CatalogEntry) models.EquipmentSpec {
	if s, ok := c.SpecOf(entry.DisplayLabel); ok {
		return s
	}
	return InferSpec(entry)
}

// InferSpec derives type, sector and platform from a label such as VF-RRU-002-E-40W-P1
func InferSpec(entry models.CatalogEntry) models.EquipmentSpec {
	spec := models.EquipmentSpec{ElementID: entry.DisplayLabel}
	switch entry.Category {
	case models.CategoryAntenna:
		spec.EquipmentType = models.EquipmentAntenna
	case models.CategoryRRU:
		spec.EquipmentType = models.EquipmentRRU
	case models.CategoryMicrolink:
		spec.EquipmentType = models.EquipmentMicrolink
	}
	parts := strings.Split(entry.DisplayLabel, "-")
	if len(parts) > 3 {
		spec.Sector = parts[3]
	}
	if last := parts[len(parts)-1]; len(parts) > 4 && strings.HasPrefix(last, "P") {
		spec.Platform = last
	}
	return spec
}

// AliasMap maps raw element identifiers to display labels
func (c *Catalog) AliasMap() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	aliases := make(map[string]string, len(c.entries))
	for _, e := range c.entries {
		aliases[e.ElementID] = e.DisplayLabel
	}
	return aliases
}

// Validate reports expected labels that were not found and found labels with no spec
func (c *Catalog) Validate(found []models.CatalogEntry) ValidationReport {
	seen := make(map[string]struct{}, len(found))
	report := ValidationReport{Expected: len(c.order), Found: len(found)}
	for _, e := range found {
		seen[e.DisplayLabel] = struct{}{}
		if _, ok := c.specs[e.DisplayLabel]; !ok {
			report.Unexpected = append(report.Unexpected, e.DisplayLabel)
		}
	}
	for _, id := range c.order {
		if _, ok := seen[id]; !ok {
			report.Missing = append(report.Missing, id)
		}
	}
	sort.Strings(report.Unexpected)

	if !report.Complete() {
		log.Warn().Strs("missing", report.Missing).Msg("Equipment missing from model")
	}
	return report
}
