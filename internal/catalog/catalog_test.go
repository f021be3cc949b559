package catalog

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"example.com/backstage/services/telemetry/internal/models"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockModelQuery struct {
	mock.Mock
}

func (m *MockModelQuery) ListElements(ctx context.Context, pattern *regexp.Regexp) ([]Element, error) {
	args := m.Called(ctx, pattern)
	return args.Get(0).([]Element), args.Error(1)
}

func (m *MockModelQuery) ElementProperties(ctx context.Context, elementID string) (map[string]any, error) {
	args := m.Called(ctx, elementID)
	props, _ := args.Get(0).(map[string]any)
	return props, args.Error(1)
}

func TestBuildFiltersClassifiesAndDeduplicates(t *testing.T) {
	q := new(MockModelQuery)
	q.On("ListElements", mock.Anything, mock.Anything).Return([]Element{
		{ID: "101", ClassName: "IfcBuildingElementProxy", Label: "VF-ANT-001-N-L18-P1", ModelID: "tower"},
		{ID: "102", ClassName: "IfcBuildingElementProxy", Label: "VF-RRU-002-E-40W-P1", ModelID: "tower"},
		{ID: "103", ClassName: "IfcBuildingElementProxy", Label: "VF-MW-001-N-0.6M-P2", ModelID: "tower"},
		{ID: "104", ClassName: "IfcBuildingElementProxy", Label: "VF-ANT-001-N-L18-P1", ModelID: "tower"},
		{ID: "105", ClassName: "IfcMember", Label: "Pole Section 3", ModelID: "tower"},
		{ID: "106", ClassName: "IfcBuildingElementProxy", Label: "VF-ANT-07-N", ModelID: "tower"},
		{ID: "107", ClassName: "IfcBuildingElementProxy", Label: " VF-RRU-001-N-40W-P1 ", ModelID: "tower"},
	}, nil)
	q.On("ElementProperties", mock.Anything, "101").Return(map[string]any{"Weight": 18.5}, nil)
	q.On("ElementProperties", mock.Anything, "102").Return(nil, errors.New("property set unavailable"))
	q.On("ElementProperties", mock.Anything, "103").Return(map[string]any{}, nil)

	c := New(DefaultPrefix, DefaultSpecs())
	entries, err := c.Build(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "101", entries[0].ElementID, "first occurrence of a duplicate label wins")
	assert.Equal(t, models.CategoryAntenna, entries[0].Category)
	assert.Equal(t, 18.5, entries[0].Properties["Weight"])

	assert.Equal(t, models.CategoryRRU, entries[1].Category)
	assert.NotNil(t, entries[1].Properties)
	assert.Empty(t, entries[1].Properties, "property fetch failure degrades to an empty map")

	assert.Equal(t, models.CategoryMicrolink, entries[2].Category)

	e, ok := c.Lookup("VF-RRU-002-E-40W-P1")
	require.True(t, ok)
	assert.Equal(t, "102", e.ElementID)

	assert.Equal(t, map[string]string{
		"101": "VF-ANT-001-N-L18-P1",
		"102": "VF-RRU-002-E-40W-P1",
		"103": "VF-MW-001-N-0.6M-P2",
	}, c.AliasMap())

	q.AssertExpectations(t)
	q.AssertNotCalled(t, "ElementProperties", mock.Anything, "104")
	q.AssertNotCalled(t, "ElementProperties", mock.Anything, "107")
	_, ok = c.Lookup(" VF-RRU-001-N-40W-P1 ")
	assert.False(t, ok, "padded labels do not match the equipment pattern")
}

func TestBuildListFailureIsExtractionError(t *testing.T) {
	q := new(MockModelQuery)
	q.On("ListElements", mock.Anything, mock.Anything).Return([]Element(nil), errors.New("viewer disconnected"))

	_, err := New("", nil).Build(context.Background(), q)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrExtraction))
}

func TestLabelPattern(t *testing.T) {
	p := LabelPattern("VF")
	assert.True(t, p.MatchString("VF-ANT-001-N-L18-P1"))
	assert.True(t, p.MatchString("VF-MW-002-S-0.3M-P2"))
	assert.False(t, p.MatchString("VF-ANT-01-N"))
	assert.False(t, p.MatchString("XX-ANT-001-N"))
	assert.False(t, p.MatchString("VF-GPS-001-N"))
	assert.False(t, p.MatchString("vf-ant-001-n"))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, models.CategoryAntenna, Classify("VF-ANT-001-N"))
	assert.Equal(t, models.CategoryRRU, Classify("VF-RRU-001-N"))
	assert.Equal(t, models.CategoryMicrolink, Classify("VF-MW-001-N"))
	assert.Equal(t, models.CategoryUnknown, Classify("VF-GPS-001-N"))
	assert.Equal(t, models.CategoryUnknown, Classify("VF"))
}

func TestSpecOfAndValidate(t *testing.T) {
	c := New(DefaultPrefix, DefaultSpecs())

	spec, ok := c.SpecOf("VF-RRU-002-E-40W-P1")
	require.True(t, ok)
	assert.Equal(t, models.EquipmentRRU, spec.EquipmentType)
	assert.Equal(t, "E", spec.Sector)

	_, ok = c.SpecOf("VF-RRU-999-E-40W-P1")
	assert.False(t, ok)

	report := c.Validate([]models.CatalogEntry{
		{DisplayLabel: "VF-ANT-001-N-L18-P1"},
		{DisplayLabel: "VF-ANT-099-N-L18-P1"},
	})
	assert.Equal(t, len(DefaultSpecs()), report.Expected)
	assert.Equal(t, 2, report.Found)
	assert.Len(t, report.Missing, len(DefaultSpecs())-1)
	assert.NotContains(t, report.Missing, "VF-ANT-001-N-L18-P1")
	assert.Equal(t, []string{"VF-ANT-099-N-L18-P1"}, report.Unexpected)
	assert.False(t, report.Complete())
}

func TestLoadSpecTableAndFileModel(t *testing.T) {
	dir := t.TempDir()

	specPath := filepath.Join(dir, "specs.yaml")
	require.NoError(t, os.WriteFile(specPath, []byte(`
equipment:
  - element_id: VF-ANT-001-N-L18-P1
    equipment_type: antenna
    platform: P1
    sector: N
    vendor: Kathrein
    model: "80010865"
`), 0o644))
	specs, err := LoadSpecTable(specPath)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "80010865", specs[0].Model)

	badPath := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(badPath, []byte("equipment:\n  - element_id: X\n    equipment_type: crane\n"), 0o644))
	_, err = LoadSpecTable(badPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown equipment type "crane"`)

	modelPath := filepath.Join(dir, "model.yaml")
	require.NoError(t, os.WriteFile(modelPath, []byte(`
elements:
  - id: "201"
    class_name: IfcBuildingElementProxy
    label: VF-ANT-001-N-L18-P1
    model_id: tower
    properties:
      Height: 42
  - id: "202"
    class_name: IfcMember
    label: Pole Section 1
    model_id: tower
`), 0o644))
	model, err := LoadFileModel(modelPath)
	require.NoError(t, err)

	c := New(DefaultPrefix, specs)
	entries, err := c.Build(context.Background(), model)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "201", entries[0].ElementID)
	assert.Equal(t, 42, entries[0].Properties["Height"])
	assert.True(t, c.Validate(entries).Complete())
}

func TestSpecForInfersUnknownLabels(t *testing.T) {
	c := New(DefaultPrefix, DefaultSpecs())

	known := c.SpecFor(models.CatalogEntry{DisplayLabel: "VF-MW-001-N-0.6M-P2", Category: models.CategoryMicrolink})
	assert.Equal(t, "Ericsson", known.Vendor)

	inferred := c.SpecFor(models.CatalogEntry{DisplayLabel: "VF-RRU-009-W-60W-P3", Category: models.CategoryRRU})
	assert.Equal(t, models.EquipmentRRU, inferred.EquipmentType)
	assert.Equal(t, "W", inferred.Sector)
	assert.Equal(t, "P3", inferred.Platform)
	assert.Empty(t, inferred.Vendor)
}
