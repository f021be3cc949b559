package source

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"example.com/backstage/services/telemetry/internal/models"

	mb "github.com/goburrow/modbus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// ModbusConfig mirrors the modbus source YAML file
type ModbusConfig struct {
	Gateways []GatewayConfig `yaml:"gateways"`
}

// GatewayConfig is one Modbus TCP endpoint and the devices behind it
type GatewayConfig struct {
	Address string         `yaml:"address"`
	Timeout time.Duration  `yaml:"timeout"`
	Devices []ModbusDevice `yaml:"devices"`
}

// ModbusDevice maps the registers of one slave to a telemetry record
type ModbusDevice struct {
	DeviceID string        `yaml:"device_id"`
	SlaveID  uint8         `yaml:"slave_id"`
	Points   []ModbusPoint `yaml:"points"`
}

// ModbusPoint decodes one register into a record field
type ModbusPoint struct {
	Field        string  `yaml:"field"` // dot path, e.g. temperature.internal
	Address      uint16  `yaml:"address"`
	RegisterType string  `yaml:"register_type"` // holding | input | coil | discrete
	DataType     string  `yaml:"data_type"`     // uint16 | int16 | uint32 | int32 | float32 | bool
	ByteOrder    string  `yaml:"byte_order"`    // ABCD | DCBA | BADC | CDAB
	Scale        float64 `yaml:"scale"`
	Offset       float64 `yaml:"offset"`
}

// LoadModbusConfig reads the register map from YAML
func LoadModbusConfig(path string) (ModbusConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return ModbusConfig{}, errors.Wrap(err, "failed to read modbus config")
	}
	var cfg ModbusConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return ModbusConfig{}, errors.Wrap(err, "failed to parse modbus config")
	}
	if len(cfg.Gateways) == 0 {
		return ModbusConfig{}, errors.Errorf("modbus config %s has no gateways", path)
	}
	return cfg, nil
}

// RegisterReader is the read side of a Modbus client
type RegisterReader interface {
	ReadCoils(address, quantity uint16) ([]byte, error)
	ReadDiscreteInputs(address, quantity uint16) ([]byte, error)
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
}

type modbusConn interface {
	RegisterReader
	SetSlave(id byte)
	Close() error
}

type tcpConn struct {
	mb.Client
	handler *mb.TCPClientHandler
}

func (c *tcpConn) SetSlave(id byte) { c.handler.SlaveId = id }
func (c *tcpConn) Close() error     { return c.handler.Close() }

func dialTCP(gw GatewayConfig) (modbusConn, error) {
	h := mb.NewTCPClientHandler(gw.Address)
	h.Timeout = gw.Timeout
	if h.Timeout <= 0 {
		h.Timeout = 5 * time.Second
	}
	if err := h.Connect(); err != nil {
		return nil, errors.Wrapf(err, "connect %s", gw.Address)
	}
	return &tcpConn{Client: mb.NewClient(h), handler: h}, nil
}

// ModbusSource reads telemetry directly from equipment registers
type ModbusSource struct {
	cfg  ModbusConfig
	dial func(GatewayConfig) (modbusConn, error)
	now  func() time.Time
	seq  atomic.Int64
}

// NewModbusSource creates a Modbus TCP source
func NewModbusSource(cfg ModbusConfig) *ModbusSource {
	return &ModbusSource{cfg: cfg, dial: dialTCP, now: time.Now}
}

// Name identifies the source in logs
func (s *ModbusSource) Name() string {
	return "modbus"
}

// Fetch polls every gateway once. Devices that fail to read are left out of the batch;
// the call fails only when nothing could be read at all.
func (s *ModbusSource) Fetch(ctx context.Context) ([]models.TelemetryRecord, error) {
	var (
		records []models.TelemetryRecord
		lastErr error
	)
	for _, gw := range s.cfg.Gateways {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(models.ErrFetch, "%v", err)
		}
		recs, err := s.pollGateway(ctx, gw)
		if err != nil {
			lastErr = err
			log.Warn().Err(err).Str("gateway", gw.Address).Msg("Modbus gateway poll failed")
		}
		records = append(records, recs...)
	}
	if len(records) == 0 && lastErr != nil {
		return nil, errors.Wrapf(models.ErrFetch, "%v", lastErr)
	}
	return records, nil
}

func (s *ModbusSource) pollGateway(ctx context.Context, gw GatewayConfig) ([]models.TelemetryRecord, error) {
	conn, err := s.dial(gw)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var (
		records []models.TelemetryRecord
		lastErr error
	)
	for _, dev := range gw.Devices {
		if ctx.Err() != nil {
			break
		}
		conn.SetSlave(dev.SlaveID)
		rec, err := s.readDevice(conn, dev)
		if err != nil {
			lastErr = err
			log.Warn().Err(err).Str("device_id", dev.DeviceID).Msg("Skipping modbus device")
			continue
		}
		records = append(records, rec)
	}
	return records, lastErr
}

func (s *ModbusSource) readDevice(r RegisterReader, dev ModbusDevice) (models.TelemetryRecord, error) {
	rec := models.TelemetryRecord{
		DeviceID:       dev.DeviceID,
		Timestamp:      s.now().UTC(),
		SequenceNumber: s.seq.Add(1),
	}
	for _, p := range dev.Points {
		v, err := ReadPoint(r, p)
		if err != nil {
			return rec, errors.Wrapf(err, "point %s@%d", p.Field, p.Address)
		}
		rec.SetPath(p.Field, v)
	}
	return rec, nil
}

// ReadPoint reads and decodes one point. Bit registers decode to bool, the rest to scaled float64.
func ReadPoint(r RegisterReader, p ModbusPoint) (any, error) {
	dt := strings.ToLower(p.DataType)
	qty := uint16(1)
	if dt == "float32" || dt == "uint32" || dt == "int32" {
		qty = 2
	}

	switch strings.ToLower(p.RegisterType) {
	case "", "holding":
		data, err := r.ReadHoldingRegisters(p.Address, qty)
		if err != nil {
			return nil, err
		}
		return DecodeRegisters(data, p)
	case "input":
		data, err := r.ReadInputRegisters(p.Address, qty)
		if err != nil {
			return nil, err
		}
		return DecodeRegisters(data, p)
	case "coil":
		data, err := r.ReadCoils(p.Address, 1)
		if err != nil {
			return nil, err
		}
		return len(data) > 0 && data[0]&0x01 == 0x01, nil
	case "discrete":
		data, err := r.ReadDiscreteInputs(p.Address, 1)
		if err != nil {
			return nil, err
		}
		return len(data) > 0 && data[0]&0x01 == 0x01, nil
	default:
		return nil, errors.Errorf("unsupported register type: %s", p.RegisterType)
	}
}

// DecodeRegisters converts raw register bytes to a scaled value
func DecodeRegisters(data []byte, p ModbusPoint) (float64, error) {
	scale := p.Scale
	if scale == 0 {
		scale = 1
	}
	apply := func(v float64) float64 { return v*scale + p.Offset }

	switch strings.ToLower(p.DataType) {
	case "", "uint16":
		if len(data) < 2 {
			return 0, errors.New("insufficient data for uint16")
		}
		return apply(float64(binary.BigEndian.Uint16(data[:2]))), nil
	case "int16":
		if len(data) < 2 {
			return 0, errors.New("insufficient data for int16")
		}
		return apply(float64(int16(binary.BigEndian.Uint16(data[:2])))), nil
	case "float32":
		if len(data) < 4 {
			return 0, errors.New("insufficient data for float32")
		}
		u := binary.BigEndian.Uint32(reorder32(data[:4], p.ByteOrder))
		return apply(float64(math.Float32frombits(u))), nil
	case "uint32":
		if len(data) < 4 {
			return 0, errors.New("insufficient data for uint32")
		}
		return apply(float64(binary.BigEndian.Uint32(reorder32(data[:4], p.ByteOrder)))), nil
	case "int32":
		if len(data) < 4 {
			return 0, errors.New("insufficient data for int32")
		}
		return apply(float64(int32(binary.BigEndian.Uint32(reorder32(data[:4], p.ByteOrder))))), nil
	default:
		return 0, errors.Errorf("unsupported data type: %s", p.DataType)
	}
}

// reorder32 returns the 4 bytes rearranged into ABCD order.
// Supported orders: ABCD (default), DCBA, BADC (byte swap within words), CDAB (word swap).
func reorder32(in []byte, order string) []byte {
	var out [4]byte
	switch strings.ToUpper(strings.TrimSpace(order)) {
	case "DCBA":
		out[0], out[1], out[2], out[3] = in[3], in[2], in[1], in[0]
	case "BADC":
		out[0], out[1], out[2], out[3] = in[1], in[0], in[3], in[2]
	case "CDAB":
		out[0], out[1], out[2], out[3] = in[2], in[3], in[0], in[1]
	default:
		copy(out[:], in[:4])
	}
	return out[:]
}
