package messaging

import (
	"context"
	"encoding/json"
	"time"

	"example.com/backstage/services/telemetry/config"
	"example.com/backstage/services/telemetry/internal/models"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
)

// Message subjects published to the queue
const (
	SubjectElementUpdate = "element-update"
	SubjectSyncStatus    = "sync-status"
)

// ServiceBusClient is an interface for Azure Service Bus operations
type ServiceBusClient interface {
	SendMessage(ctx context.Context, subject string, body interface{}) error
	Close() error
}

type sender interface {
	SendMessage(ctx context.Context, message *azservicebus.Message, options *azservicebus.SendMessageOptions) error
	Close(ctx context.Context) error
}

// serviceBusClient implements the ServiceBusClient interface
type serviceBusClient struct {
	client     *azservicebus.Client
	sender     sender
	queueName  string
	clientType string
	now        func() time.Time
}

// NewServiceBusClient creates a new Azure Service Bus client
func NewServiceBusClient(cfg config.AzureConfig, clientType string) (ServiceBusClient, error) {
	if cfg.QueueConnStr == "" {
		return nil, errors.New("Azure Service Bus connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.QueueConnStr, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus client")
	}

	s, err := client.NewSender(cfg.QueueName, nil)
	if err != nil {
		_ = client.Close(context.Background())
		return nil, errors.Wrap(err, "failed to create Service Bus sender")
	}

	return &serviceBusClient{
		client:     client,
		sender:     s,
		queueName:  cfg.QueueName,
		clientType: clientType,
		now:        time.Now,
	}, nil
}

// SendMessage sends a JSON message to the Service Bus queue
func (s *serviceBusClient) SendMessage(ctx context.Context, subject string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message body")
	}

	contentType := "application/json"
	msg := &azservicebus.Message{
		Body:        data,
		Subject:     &subject,
		ContentType: &contentType,
		ApplicationProperties: map[string]interface{}{
			"source": s.clientType,
			"time":   s.now().UTC().Format(time.RFC3339),
		},
	}

	if err := s.sender.SendMessage(ctx, msg, nil); err != nil {
		return errors.Wrapf(err, "failed to send %s message to %s", subject, s.queueName)
	}
	return nil
}

// Close closes the Service Bus client
func (s *serviceBusClient) Close() error {
	if s.sender != nil {
		if err := s.sender.Close(context.Background()); err != nil {
			return err
		}
	}
	if s.client != nil {
		return s.client.Close(context.Background())
	}
	return nil
}

// Publisher forwards coordinator events to a Service Bus queue
type Publisher struct {
	client ServiceBusClient
}

// NewPublisher creates a publisher on client
func NewPublisher(client ServiceBusClient) *Publisher {
	return &Publisher{client: client}
}

// PublishUpdate sends the snapshot of one element update
func (p *Publisher) PublishUpdate(ctx context.Context, update models.ElementUpdate) error {
	return p.client.SendMessage(ctx, SubjectElementUpdate, update.Snapshot)
}

// PublishStatus sends a sync status
func (p *Publisher) PublishStatus(ctx context.Context, status models.SyncStatus) error {
	return p.client.SendMessage(ctx, SubjectSyncStatus, status)
}

// Close releases the underlying client
func (p *Publisher) Close() error {
	return p.client.Close()
}
