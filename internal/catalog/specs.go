package catalog

import (
	"os"

	"example.com/backstage/services/telemetry/internal/models"
	"example.com/backstage/services/telemetry/internal/validation"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type specFile struct {
	Equipment []models.EquipmentSpec `yaml:"equipment"`
}

// LoadSpecTable reads an equipment spec table from YAML. An empty path returns the default table.
func LoadSpecTable(path string) ([]models.EquipmentSpec, error) {
	if path == "" {
		return DefaultSpecs(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read spec table")
	}
	var f specFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, errors.Wrap(err, "failed to parse spec table")
	}
	if len(f.Equipment) == 0 {
		return nil, errors.Errorf("spec table %s has no equipment", path)
	}
	for i, s := range f.Equipment {
		if err := validation.ValidateStruct(s); err != nil {
			return nil, errors.Wrapf(err, "equipment[%d] %s", i, s.ElementID)
		}
	}
	return f.Equipment, nil
}

// DefaultSpecs is the equipment installed on the reference monopole
func DefaultSpecs() []models.EquipmentSpec {
	ant := func(id, sector, pos string) models.EquipmentSpec {
		return models.EquipmentSpec{ElementID: id, EquipmentType: models.EquipmentAntenna, Platform: "P1", Sector: sector, Position: pos, Vendor: "Kathrein", Model: "80010865"}
	}
	rru := func(id, sector, platform string) models.EquipmentSpec {
		return models.EquipmentSpec{ElementID: id, EquipmentType: models.EquipmentRRU, Platform: platform, Sector: sector, Vendor: "Ericsson", Model: "RRUS 4478 B8"}
	}
	mw := func(id, sector, model string) models.EquipmentSpec {
		return models.EquipmentSpec{ElementID: id, EquipmentType: models.EquipmentMicrolink, Platform: "P2", Sector: sector, Vendor: "Ericsson", Model: model}
	}
	return []models.EquipmentSpec{
		ant("VF-ANT-001-N-L18-P1", "N", "Left"),
		ant("VF-ANT-002-E-L18-P1", "E", "Left"),
		ant("VF-ANT-003-S-L18-P1", "S", "Left"),
		ant("VF-ANT-004-W-L18-P1", "W", "Left"),
		ant("VF-ANT-005-N-L26-P1", "N", "Right"),
		ant("VF-ANT-006-S-L26-P1", "S", "Right"),
		rru("VF-RRU-001-N-40W-P1", "N", "P1"),
		rru("VF-RRU-002-E-40W-P1", "E", "P1"),
		rru("VF-RRU-003-S-40W-P1", "S", "P1"),
		rru("VF-RRU-004-W-40W-P1", "W", "P1"),
		mw("VF-MW-001-N-0.6M-P2", "N", "MINI-LINK 6352 0.6m"),
		mw("VF-MW-002-S-0.3M-P2", "S", "MINI-LINK 6352 0.3m"),
	}
}
