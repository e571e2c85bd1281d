package events

import (
	"context"
	"encoding/json"
	"fmt"

	awspkg "github.com/mrugaya/storefront-backend/pkg/aws"

	"go.uber.org/zap"
)

// Publisher fans checkout events out to downstream consumers (notifications,
// fulfilment). key orders events for the same order.
type Publisher interface {
	Publish(ctx context.Context, eventType, key string, payload interface{}) error
	Close() error
}

// SNSPublisher publishes to a single SNS topic with the event type as a
// message attribute.
type SNSPublisher struct {
	client   awspkg.SNSPublisher
	topicArn string
}

func NewSNSPublisher(client awspkg.SNSPublisher, topicArn string) *SNSPublisher {
	return &SNSPublisher{client: client, topicArn: topicArn}
}

func (p *SNSPublisher) Publish(ctx context.Context, eventType, key string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	return p.client.Publish(ctx, p.topicArn, body, map[string]string{
		"event_type": eventType,
		"order_id":   key,
	})
}

func (p *SNSPublisher) Close() error { return nil }

// NoopPublisher logs events instead of shipping them.
type NoopPublisher struct {
	logger *zap.Logger
}

func NewNoopPublisher(logger *zap.Logger) *NoopPublisher {
	return &NoopPublisher{logger: logger}
}

func (p *NoopPublisher) Publish(_ context.Context, eventType, key string, _ interface{}) error {
	p.logger.Debug("event sink disabled, dropping event", zap.String("event_type", eventType), zap.String("key", key))
	return nil
}

func (p *NoopPublisher) Close() error { return nil }
