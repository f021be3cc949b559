package source

import (
	"context"

	"example.com/backstage/services/telemetry/config"
	"example.com/backstage/services/telemetry/internal/models"

	"github.com/pkg/errors"
)

// Source produces one batch of telemetry per call
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]models.TelemetryRecord, error)
}

// New builds the source selected by cfg.Source.Kind
func New(cfg config.Config) (Source, error) {
	switch cfg.Source.Kind {
	case config.SourceHTTP, "":
		return NewHTTPSource(cfg.Sync), nil
	case config.SourceModbus:
		mcfg, err := LoadModbusConfig(cfg.Source.ModbusFile)
		if err != nil {
			return nil, err
		}
		return NewModbusSource(mcfg), nil
	default:
		return nil, errors.Errorf("unknown telemetry source %q", cfg.Source.Kind)
	}
}
