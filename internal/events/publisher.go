// Package events emits verification lifecycle events to Kafka for downstream
// consumers (lead scoring, fraud review). Publishing is best effort: a broker
// outage never fails the request that triggered the event.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"verify-service/internal/bucketing"
	"verify-service/internal/client"
	"verify-service/internal/model"
	"verify-service/internal/util"
)

const (
	EventIssued         = "otp.issued"
	EventVerified       = "otp.verified"
	EventRejected       = "otp.rejected"
	EventDeliveryFailed = "otp.delivery_failed"
)

// Event is the wire format on the verification topic. Principals are never
// carried raw; only the masked form and the bucket.
type Event struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	Time      time.Time     `json:"time"`
	Principal string        `json:"principal"`
	Bucket    uint32        `json:"bucket"`
	Channel   model.Channel `json:"channel,omitempty"`
	Reason    string        `json:"reason,omitempty"`
}

// Publisher writes lifecycle events. A nil Publisher is valid and drops
// everything, so callers never branch on whether Kafka is configured.
type Publisher struct {
	producer *client.KafkaProducer
	buckets  *bucketing.Manager
	topic    string
	logger   *zap.Logger
}

func NewPublisher(producer *client.KafkaProducer, buckets *bucketing.Manager, topic string, logger *zap.Logger) *Publisher {
	return &Publisher{
		producer: producer,
		buckets:  buckets,
		topic:    topic,
		logger:   logger,
	}
}

// Publish emits one event. reason is only set for rejections and delivery
// failures.
func (p *Publisher) Publish(ctx context.Context, eventType, principal string, channel model.Channel, reason string) {
	if p == nil || p.producer == nil {
		return
	}

	ev := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Time:      time.Now().UTC(),
		Principal: util.MaskPrincipal(principal),
		Bucket:    p.buckets.PrincipalBucket(principal),
		Channel:   channel,
		Reason:    reason,
	}

	value, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("failed to encode event", zap.Error(err), zap.String("type", eventType))
		return
	}

	key := []byte(p.buckets.PrincipalKey(principal))
	if err := p.producer.ProduceMessage(ctx, p.topic, key, value, map[string]string{
		"event_type": eventType,
	}); err != nil {
		p.logger.Warn("failed to publish event",
			zap.Error(err),
			zap.String("type", eventType),
			zap.String("principal", ev.Principal),
		)
	}
}
