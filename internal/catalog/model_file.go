package catalog

import (
	"context"
	"os"
	"regexp"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// FileModel serves a model export (YAML or JSON) as a ModelQuery
type FileModel struct {
	elements   []Element
	properties map[string]map[string]any
}

type modelExport struct {
	Elements []struct {
		Element    `yaml:",inline"`
		Properties map[string]any `yaml:"properties"`
	} `yaml:"elements"`
}

// LoadFileModel reads an exported element list
func LoadFileModel(path string) (*FileModel, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read model export")
	}
	var exp modelExport
	if err := yaml.Unmarshal(b, &exp); err != nil {
		return nil, errors.Wrap(err, "failed to parse model export")
	}

	m := &FileModel{properties: make(map[string]map[string]any, len(exp.Elements))}
	for _, e := range exp.Elements {
		m.elements = append(m.elements, e.Element)
		if e.Properties != nil {
			m.properties[e.ID] = e.Properties
		}
	}
	return m, nil
}

// ListElements returns the exported elements whose label matches pattern
func (m *FileModel) ListElements(_ context.Context, pattern *regexp.Regexp) ([]Element, error) {
	out := make([]Element, 0, len(m.elements))
	for _, e := range m.elements {
		if pattern == nil || pattern.MatchString(e.Label) {
			out = append(out, e)
		}
	}
	return out, nil
}

// ElementProperties returns the exported property set of an element
func (m *FileModel) ElementProperties(_ context.Context, elementID string) (map[string]any, error) {
	props, ok := m.properties[elementID]
	if !ok {
		return nil, errors.Errorf("element %s has no exported properties", elementID)
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out, nil
}
