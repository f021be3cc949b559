package validation

import (
	"testing"

	"example.com/backstage/services/telemetry/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pollSettings struct {
	Kind     string `validate:"oneof=http modbus"`
	Interval int    `validate:"gt=0"`
}

func TestValidateStruct(t *testing.T) {
	require.NoError(t, ValidateStruct(pollSettings{Kind: "http", Interval: 1}))

	err := ValidateStruct(pollSettings{Kind: "mqtt", Interval: 0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `pollSettings.Kind must be one of [http modbus], got "mqtt"`)
	assert.Contains(t, err.Error(), "pollSettings.Interval must be gt 0")
}

func TestEquipmentSpecTags(t *testing.T) {
	spec := models.EquipmentSpec{
		ElementID:     "VF-RRU-001-N-40W-P1",
		EquipmentType: models.EquipmentRRU,
		Platform:      "P1",
		Sector:        "N",
	}
	require.NoError(t, ValidateStruct(spec))

	spec.EquipmentType = "crane"
	err := ValidateStruct(spec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown equipment type "crane"`)

	spec = models.EquipmentSpec{EquipmentType: models.EquipmentAntenna}
	err = ValidateStruct(spec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EquipmentSpec.ElementID is required")
}

func TestIsEquipmentType(t *testing.T) {
	assert.True(t, IsEquipmentType("microlink"))
	assert.False(t, IsEquipmentType("Microlink"))
	assert.False(t, IsEquipmentType(""))
}
