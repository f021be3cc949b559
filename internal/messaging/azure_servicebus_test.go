package messaging

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"example.com/backstage/services/telemetry/config"
	"example.com/backstage/services/telemetry/internal/models"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSender struct {
	mock.Mock
}

func (m *MockSender) SendMessage(ctx context.Context, message *azservicebus.Message, options *azservicebus.SendMessageOptions) error {
	args := m.Called(ctx, message, options)
	return args.Error(0)
}

func (m *MockSender) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func newTestClient(s sender) *serviceBusClient {
	return &serviceBusClient{
		sender:     s,
		queueName:  "telemetry-updates",
		clientType: "telemetry",
		now:        func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) },
	}
}

func TestNewServiceBusClientRequiresConnectionString(t *testing.T) {
	_, err := NewServiceBusClient(config.AzureConfig{QueueName: "q"}, "telemetry")
	assert.Error(t, err)
}

func TestPublishUpdateSendsSnapshot(t *testing.T) {
	s := new(MockSender)
	var sent *azservicebus.Message
	s.On("SendMessage", mock.Anything, mock.AnythingOfType("*azservicebus.Message"), (*azservicebus.SendMessageOptions)(nil)).
		Run(func(args mock.Arguments) { sent = args.Get(1).(*azservicebus.Message) }).
		Return(nil).Once()

	p := NewPublisher(newTestClient(s))
	err := p.PublishUpdate(context.Background(), models.ElementUpdate{
		ElementID: "101",
		Snapshot:  models.TooltipSnapshot{ElementID: "101", DisplayLabel: "VF-ANT-001-N-L18-P1", Status: models.StatusAlarm},
	})
	require.NoError(t, err)
	s.AssertExpectations(t)

	require.NotNil(t, sent)
	require.NotNil(t, sent.Subject)
	assert.Equal(t, SubjectElementUpdate, *sent.Subject)
	assert.Equal(t, "telemetry", sent.ApplicationProperties["source"])
	assert.Equal(t, "2024-05-01T10:00:00Z", sent.ApplicationProperties["time"])

	var snap models.TooltipSnapshot
	require.NoError(t, json.Unmarshal(sent.Body, &snap))
	assert.Equal(t, models.StatusAlarm, snap.Status)
}

func TestPublishStatusWrapsSendErrors(t *testing.T) {
	s := new(MockSender)
	s.On("SendMessage", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("amqp link detached"))

	p := NewPublisher(newTestClient(s))
	err := p.PublishStatus(context.Background(), models.SyncStatus{IsRunning: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync-status")
	assert.Contains(t, err.Error(), "amqp link detached")
}

func TestCloseClosesSender(t *testing.T) {
	s := new(MockSender)
	s.On("Close", mock.Anything).Return(nil).Once()

	require.NoError(t, NewPublisher(newTestClient(s)).Close())
	s.AssertExpectations(t)
}
