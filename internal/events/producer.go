package events

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Producer publishes lifecycle envelopes to Kafka through a buffered
// inbox so callers never block on the broker.
type Producer struct {
	w       *kafka.Writer
	inbox   chan kafka.Message
	closeCh chan struct{}
	closed  atomic.Bool
	name    string
	log     *zap.Logger
}

func NewProducer(brokers []string, topic, producerName string, log *zap.Logger) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		inbox:   make(chan kafka.Message, 256),
		closeCh: make(chan struct{}),
		name:    producerName,
		log:     log,
	}
}

func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for {
			select {
			case <-ctx.Done():
				// Stop accepting new events, flush what is queued, exit.
				// The inbox channel itself is never closed: publishers
				// can still be running during drain, and a send on a
				// closed channel would panic them.
				p.closed.Store(true)
				for {
					select {
					case m := <-p.inbox:
						p.write(m)
					default:
						_ = p.w.Close()
						return
					}
				}
			case m := <-p.inbox:
				p.write(m)
			}
		}
	}()
}

func (p *Producer) write(m kafka.Message) {
	if err := p.w.WriteMessages(context.Background(), m); err != nil {
		p.log.Warn("event publish failed", zap.String("key", string(m.Key)), zap.Error(err))
	}
}

func (p *Producer) WaitClosed() { <-p.closeCh }

// PublishOrderEvent wraps the payload in an envelope keyed by order id.
// Publishing is best effort; a full inbox drops the event with a log
// line rather than stalling the request path.
func (p *Producer) PublishOrderEvent(eventType string, payload OrderEventPayload) {
	if p.closed.Load() {
		p.log.Warn("producer closed, dropping event",
			zap.String("event_type", eventType), zap.String("order_id", payload.OrderID))
		return
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		p.log.Warn("event payload marshal failed", zap.Error(err))
		return
	}
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      p.name,
		CorrelationID: payload.OrderID,
		Payload:       raw,
	}
	value, err := json.Marshal(env)
	if err != nil {
		p.log.Warn("event envelope marshal failed", zap.Error(err))
		return
	}

	select {
	case p.inbox <- kafka.Message{Key: []byte(payload.OrderID), Value: value, Time: env.OccurredAt}:
	default:
		p.log.Warn("event inbox full, dropping event",
			zap.String("event_type", eventType), zap.String("order_id", payload.OrderID))
	}
}

// Nop satisfies the publisher contract where Kafka is not configured.
type Nop struct{}

func (Nop) PublishOrderEvent(eventType string, payload OrderEventPayload) {}
