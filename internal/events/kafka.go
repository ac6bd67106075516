package events

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"
)

// DefaultTopic receives order status changes.
const DefaultTopic = "paygate.order-status"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ Publisher = (*Kafka)(nil)

// Kafka publishes status changes keyed by order id, so every change of
// one order lands on the same partition in order.
type Kafka struct {
	w messageWriter
}

// NewKafka creates a publisher writing to topic on brokers.
func NewKafka(brokers []string, topic string) *Kafka {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Kafka{w: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		WriteTimeout:           10 * time.Second,
		BatchTimeout:           10 * time.Millisecond,
	}}
}

func (k *Kafka) PublishStatusChanged(ctx context.Context, e StatusChanged) error {
	enc := jx.GetEncoder()
	defer jx.PutEncoder(enc)
	e.Encode(enc)

	msg := kafka.Message{
		Key:   []byte(e.OrderID),
		Value: append([]byte(nil), enc.Bytes()...),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(TypeStatusChanged)},
			{Key: "status", Value: []byte(e.To)},
		},
		Time: e.At,
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "publish %s for %q", TypeStatusChanged, e.OrderID)
	}
	return nil
}

// Close flushes pending messages.
func (k *Kafka) Close() error {
	return k.w.Close()
}
