package source

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"example.com/backstage/services/telemetry/internal/models"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	slave   byte
	regs    map[byte]map[uint16][]byte
	coils   map[byte]map[uint16]bool
	failFor byte
	closed  bool
}

func (f *fakeConn) SetSlave(id byte) { f.slave = id }

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func (f *fakeConn) read(address, quantity uint16) ([]byte, error) {
	if f.slave == f.failFor {
		return nil, errors.New("exception 2: illegal data address")
	}
	b, ok := f.regs[f.slave][address]
	if !ok || len(b) < int(quantity)*2 {
		return nil, errors.Errorf("no register %d", address)
	}
	return b, nil
}

func (f *fakeConn) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	return f.read(address, quantity)
}

func (f *fakeConn) ReadInputRegisters(address, quantity uint16) ([]byte, error) {
	return f.read(address, quantity)
}

func (f *fakeConn) ReadCoils(address, _ uint16) ([]byte, error) {
	if f.coils[f.slave][address] {
		return []byte{0x01}, nil
	}
	return []byte{0x00}, nil
}

func (f *fakeConn) ReadDiscreteInputs(address, quantity uint16) ([]byte, error) {
	return f.ReadCoils(address, quantity)
}

func float32Bytes(v float32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, math.Float32bits(v))
	return b
}

func TestDecodeRegisters(t *testing.T) {
	v, err := DecodeRegisters([]byte{0x02, 0xD5}, ModbusPoint{DataType: "uint16", Scale: 0.1})
	require.NoError(t, err)
	assert.InDelta(t, 72.5, v, 1e-9)

	v, err = DecodeRegisters([]byte{0xFF, 0xB5}, ModbusPoint{DataType: "int16"})
	require.NoError(t, err)
	assert.Equal(t, -75.0, v)

	abcd := float32Bytes(48.25)
	v, err = DecodeRegisters(abcd, ModbusPoint{DataType: "float32"})
	require.NoError(t, err)
	assert.Equal(t, 48.25, v)

	cdab := []byte{abcd[2], abcd[3], abcd[0], abcd[1]}
	v, err = DecodeRegisters(cdab, ModbusPoint{DataType: "float32", ByteOrder: "CDAB"})
	require.NoError(t, err)
	assert.Equal(t, 48.25, v)

	v, err = DecodeRegisters([]byte{0x00, 0x00, 0x01, 0x00}, ModbusPoint{DataType: "uint32", Offset: -6})
	require.NoError(t, err)
	assert.Equal(t, 250.0, v)

	_, err = DecodeRegisters([]byte{0x01}, ModbusPoint{DataType: "uint16"})
	assert.Error(t, err)
	_, err = DecodeRegisters([]byte{0, 0, 0, 0}, ModbusPoint{DataType: "float64"})
	assert.Error(t, err)
}

func TestModbusSourceFetch(t *testing.T) {
	conn := &fakeConn{
		failFor: 9,
		regs: map[byte]map[uint16][]byte{
			1: {100: float32Bytes(72), 102: {0x00, 0xC8}},
			2: {100: {0x01, 0xE0}},
		},
		coils: map[byte]map[uint16]bool{1: {5: true}},
	}
	cfg := ModbusConfig{Gateways: []GatewayConfig{{
		Address: "tower-gw:502",
		Devices: []ModbusDevice{
			{DeviceID: "VF-RRU-001-N-40W-P1", SlaveID: 1, Points: []ModbusPoint{
				{Field: "temperature.internal", Address: 100, DataType: "float32"},
				{Field: "powerConsumption", Address: 102, RegisterType: "input"},
				{Field: "alarm", Address: 5, RegisterType: "coil"},
			}},
			{DeviceID: "VF-MW-001-N-0.6M-P2", SlaveID: 2, Points: []ModbusPoint{
				{Field: "linkQuality", Address: 100, Scale: 0.2},
			}},
			{DeviceID: "VF-ANT-001-N-L18-P1", SlaveID: 9, Points: []ModbusPoint{
				{Field: "temperature", Address: 100},
			}},
		},
	}}}

	fixed := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s := NewModbusSource(cfg)
	s.dial = func(GatewayConfig) (modbusConn, error) { return conn, nil }
	s.now = func() time.Time { return fixed }

	records, err := s.Fetch(context.Background())
	require.NoError(t, err, "a partially readable gateway still yields a batch")
	require.Len(t, records, 2)
	assert.True(t, conn.closed)

	rru := records[0]
	assert.Equal(t, "VF-RRU-001-N-40W-P1", rru.DeviceID)
	assert.Equal(t, fixed, rru.Timestamp)
	temp, ok := rru.Float("temperature.internal")
	require.True(t, ok)
	assert.Equal(t, 72.0, temp)
	power, _ := rru.Float("powerConsumption")
	assert.Equal(t, 200.0, power)
	assert.True(t, rru.Truthy("alarm"))

	lq, _ := records[1].Float("linkQuality")
	assert.InDelta(t, 96.0, lq, 1e-9)
	assert.Greater(t, records[1].SequenceNumber, rru.SequenceNumber)
}

func TestModbusSourceAllGatewaysDown(t *testing.T) {
	s := NewModbusSource(ModbusConfig{Gateways: []GatewayConfig{{Address: "a:502"}, {Address: "b:502"}}})
	s.dial = func(gw GatewayConfig) (modbusConn, error) {
		return nil, errors.Errorf("connect %s: connection refused", gw.Address)
	}

	_, err := s.Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrFetch))
}

func TestLoadModbusConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modbus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
gateways:
  - address: 10.0.0.5:502
    timeout: 2s
    devices:
      - device_id: VF-RRU-001-N-40W-P1
        slave_id: 3
        points:
          - field: temperature.internal
            address: 100
            data_type: float32
            byte_order: CDAB
`), 0o644))

	cfg, err := LoadModbusConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Gateways, 1)
	assert.Equal(t, 2*time.Second, cfg.Gateways[0].Timeout)
	assert.Equal(t, uint8(3), cfg.Gateways[0].Devices[0].SlaveID)
	assert.Equal(t, "CDAB", cfg.Gateways[0].Devices[0].Points[0].ByteOrder)

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("gateways: []\n"), 0o644))
	_, err = LoadModbusConfig(empty)
	assert.Error(t, err)
}
