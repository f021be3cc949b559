package store

import (
	"context"
	"testing"
	"time"

	"example.com/backstage/services/telemetry/internal/models"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockKV struct {
	mock.Mock
}

func (m *MockKV) Set(ctx context.Context, key string, value []byte) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}

func (m *MockKV) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

func (m *MockKV) DeleteByPrefix(ctx context.Context, prefix string) (int64, error) {
	args := m.Called(ctx, prefix)
	return args.Get(0).(int64), args.Error(1)
}

func update(id string, temp float64) models.PropertyUpdate {
	return models.PropertyUpdate{
		ElementID:  id,
		Properties: map[string]any{"Temperature": temp, "Status": "OPERATIONAL"},
		Units:      map[string]string{"Temperature": "°C"},
		Timestamp:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestWriteReplacesAndPersists(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	s := New(kv, "telemetry:")

	require.NoError(t, s.Write(ctx, update("101", 40)))
	next := update("101", 45)
	delete(next.Properties, "Status")
	require.NoError(t, s.Write(ctx, next))

	got, ok := s.Read(ctx, "101")
	require.True(t, ok)
	assert.Equal(t, 45.0, got.Properties["Temperature"])
	assert.NotContains(t, got.Properties, "Status", "write fully replaces the previous set")

	_, err := kv.Get(ctx, "telemetry:101")
	require.NoError(t, err)
}

func TestWriteIsolatesCallerMaps(t *testing.T) {
	ctx := context.Background()
	s := New(nil, "ns:")
	u := update("101", 40)
	require.NoError(t, s.Write(ctx, u))

	u.Properties["Temperature"] = 99.0
	got, _ := s.Read(ctx, "101")
	assert.Equal(t, 40.0, got.Properties["Temperature"])
}

func TestPersistenceFailureKeepsMemory(t *testing.T) {
	ctx := context.Background()
	kv := new(MockKV)
	kv.On("Set", mock.Anything, "ns:101", mock.Anything).Return(errors.New("connection refused"))
	kv.On("Set", mock.Anything, "ns:102", mock.Anything).Return(nil)

	s := New(kv, "ns:")
	res := s.WriteBatch(ctx, []models.PropertyUpdate{update("101", 40), update("102", 41)})

	assert.Equal(t, 2, res.Written)
	require.Len(t, res.PersistenceErrors, 1)
	assert.True(t, errors.Is(res.PersistenceErrors[0], models.ErrPersistence))
	assert.True(t, errors.Is(res.Err(), models.ErrPersistence))

	got, ok := s.Read(ctx, "101")
	require.True(t, ok, "memory stays authoritative after a persistence failure")
	assert.Equal(t, 40.0, got.Properties["Temperature"])
	kv.AssertExpectations(t)
}

func TestReadFallsBackToKV(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	require.NoError(t, New(kv, "ns:").Write(ctx, update("101", 40)))

	// fresh store over the same backend, as after a restart
	s := New(kv, "ns:")
	got, ok := s.Read(ctx, "101")
	require.True(t, ok)
	assert.Equal(t, 40.0, got.Properties["Temperature"])
	assert.Equal(t, 1, s.Len())

	_, ok = s.Read(ctx, "999")
	assert.False(t, ok)
}

func TestClearDeletesOnlyNamespace(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	require.NoError(t, kv.Set(ctx, "other:101", []byte("{}")))

	s := New(kv, "ns:")
	require.NoError(t, s.Write(ctx, update("101", 40)))
	require.NoError(t, s.Write(ctx, update("102", 40)))
	require.Equal(t, 3, kv.Len())

	require.NoError(t, s.Clear(ctx))
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 1, kv.Len())
	_, ok := s.Read(ctx, "101")
	assert.False(t, ok)
}

func TestClearReportsBackendFailure(t *testing.T) {
	kv := new(MockKV)
	kv.On("DeleteByPrefix", mock.Anything, "ns:").Return(int64(0), errors.New("timeout"))

	err := New(kv, "ns:").Clear(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrPersistence))
}

func TestListenersRunAfterWrite(t *testing.T) {
	s := New(nil, "ns:")
	var seen []string
	s.AddListener(func(u models.PropertyUpdate) { seen = append(seen, u.ElementID) })

	s.WriteBatch(context.Background(), []models.PropertyUpdate{update("101", 1), update("102", 2)})
	assert.Equal(t, []string{"101", "102"}, seen)
}

func TestListenerCannotMutateStoredProperties(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryKV(), "telemetry:")
	s.AddListener(func(u models.PropertyUpdate) {
		u.Properties["Temperature"] = -1.0
		u.Units["Temperature"] = "K"
	})

	require.NoError(t, s.Write(ctx, update("101", 40)))

	got, ok := s.Read(ctx, "101")
	require.True(t, ok)
	assert.Equal(t, 40.0, got.Properties["Temperature"])
	assert.Equal(t, "°C", got.Units["Temperature"])
}
