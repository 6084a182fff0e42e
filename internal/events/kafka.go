// Package events publishes order lifecycle events to Kafka.
package events

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/oklog/ulid/v2"
	"github.com/segmentio/kafka-go"

	"github.com/xenking/marketplace/internal/domain/money"
	"github.com/xenking/marketplace/internal/domain/order"
)

// Writer is the subset of *kafka.Writer used by Publisher.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter returns a synchronous writer keyed by buyer id, so events of
// one buyer land on one partition in commit order.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}

// Publisher implements order.Publisher on top of a Kafka writer.
type Publisher struct {
	w     Writer
	money money.Policy
	newID func() string
}

var _ order.Publisher = (*Publisher)(nil)

// Option configures a Publisher.
type Option func(*Publisher)

// WithMoneyPolicy sets how amounts are formatted in event payloads.
func WithMoneyPolicy(p money.Policy) Option {
	return func(pub *Publisher) { pub.money = p }
}

// NewPublisher returns a Publisher writing to w.
func NewPublisher(w Writer, opts ...Option) *Publisher {
	p := &Publisher{
		w:     w,
		money: money.MustPolicy("RUB"),
		newID: func() string { return ulid.Make().String() },
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Publish writes ev as one message.
func (p *Publisher) Publish(ctx context.Context, ev order.Event) error {
	id := p.newID()
	msg := kafka.Message{
		Key:   []byte(ev.Order.BuyerID),
		Value: Encode(id, ev, p.money),
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-id", Value: []byte(id)},
			{Key: "event-type", Value: []byte(ev.Type)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "write %s for order %s", ev.Type, ev.Order.ID)
	}
	return nil
}

// Close flushes pending messages.
func (p *Publisher) Close() error {
	return p.w.Close()
}

// Encode renders the event envelope. Amounts are decimal strings with the
// scale of the policy's currency.
func Encode(id string, ev order.Event, policy money.Policy) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	o := ev.Order
	e.ObjStart()
	e.Field("id", func(e *jx.Encoder) { e.Str(id) })
	e.Field("type", func(e *jx.Encoder) { e.Str(string(ev.Type)) })
	e.Field("occurred_at", func(e *jx.Encoder) { e.Str(ev.OccurredAt.UTC().Format(time.RFC3339Nano)) })
	e.Field("order", func(e *jx.Encoder) {
		e.ObjStart()
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("buyer_id", func(e *jx.Encoder) { e.Str(o.BuyerID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		if o.PromoCode != "" {
			e.Field("promo_code", func(e *jx.Encoder) { e.Str(o.PromoCode) })
		}
		e.Field("currency", func(e *jx.Encoder) { e.Str(policy.Currency()) })
		e.Field("discount", func(e *jx.Encoder) { e.Str(policy.Format(o.Discount)) })
		e.Field("total", func(e *jx.Encoder) { e.Str(policy.Format(o.Total)) })
		e.Field("items", func(e *jx.Encoder) {
			e.ArrStart()
			for _, it := range o.Items {
				e.ObjStart()
				e.Field("product_id", func(e *jx.Encoder) { e.Int64(it.ProductID) })
				e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
				e.Field("unit_price", func(e *jx.Encoder) { e.Str(policy.Format(it.UnitPrice)) })
				e.ObjEnd()
			}
			e.ArrEnd()
		})
		e.ObjEnd()
	})
	e.ObjEnd()

	out := make([]byte, len(e.Bytes()))
	copy(out, e.Bytes())
	return out
}
