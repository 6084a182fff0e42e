package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/marketplace/internal/domain/money"
	"github.com/xenking/marketplace/internal/domain/order"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func testEvent() order.Event {
	at := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	return order.Event{
		Type: order.EventCreated,
		Order: order.Order{
			ID:        "3b7c1f1e-8a51-4f7e-9d62-0c5e2d0a9b11",
			BuyerID:   "buyer-1",
			Status:    order.StatusCreated,
			PromoCode: "SALE20",
			Discount:  decimal.RequireFromString("23999.8"),
			Total:     decimal.RequireFromString("95999.19"),
			Items: []order.Item{
				{ProductID: 1, Quantity: 1, UnitPrice: decimal.RequireFromString("119998.99")},
			},
			CreatedAt: at,
			UpdatedAt: at,
		},
		OccurredAt: at,
	}
}

func TestPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := NewPublisher(w)
	p.newID = func() string { return "01JXEVENT" }

	require.NoError(t, p.Publish(context.Background(), testEvent()))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "buyer-1", string(msg.Key))
	assert.Equal(t, []kafka.Header{
		{Key: "event-id", Value: []byte("01JXEVENT")},
		{Key: "event-type", Value: []byte("order.created")},
	}, msg.Headers)

	var body struct {
		ID         string `json:"id"`
		Type       string `json:"type"`
		OccurredAt string `json:"occurred_at"`
		Order      struct {
			ID        string `json:"id"`
			PromoCode string `json:"promo_code"`
			Currency  string `json:"currency"`
			Discount  string `json:"discount"`
			Total     string `json:"total"`
			Items     []struct {
				ProductID int64  `json:"product_id"`
				Quantity  int    `json:"quantity"`
				UnitPrice string `json:"unit_price"`
			} `json:"items"`
		} `json:"order"`
	}
	require.NoError(t, json.Unmarshal(msg.Value, &body))
	assert.Equal(t, "01JXEVENT", body.ID)
	assert.Equal(t, "order.created", body.Type)
	assert.Equal(t, "2025-06-15T12:00:00Z", body.OccurredAt)
	assert.Equal(t, "SALE20", body.Order.PromoCode)
	assert.Equal(t, "RUB", body.Order.Currency)
	assert.Equal(t, "23999.80", body.Order.Discount)
	assert.Equal(t, "95999.19", body.Order.Total)
	require.Len(t, body.Order.Items, 1)
	assert.Equal(t, "119998.99", body.Order.Items[0].UnitPrice)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublisher_WriteError(t *testing.T) {
	p := NewPublisher(&fakeWriter{err: errors.New("leader not available")})

	err := p.Publish(context.Background(), testEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order.created")
}

func TestEncode_OmitsEmptyPromo(t *testing.T) {
	ev := testEvent()
	ev.Order.PromoCode = ""

	var body struct {
		Order map[string]any `json:"order"`
	}
	require.NoError(t, json.Unmarshal(Encode("id", ev, money.MustPolicy("RUB")), &body))
	assert.NotContains(t, body.Order, "promo_code")
	assert.Equal(t, "CREATED", body.Order["status"])
}

func TestPublisher_CurrencyScale(t *testing.T) {
	w := &fakeWriter{}
	p := NewPublisher(w, WithMoneyPolicy(money.MustPolicy("JPY")))

	ev := testEvent()
	ev.Order.Discount = decimal.RequireFromString("240")
	ev.Order.Total = decimal.RequireFromString("960")
	ev.Order.Items[0].UnitPrice = decimal.RequireFromString("1200")
	require.NoError(t, p.Publish(context.Background(), ev))
	require.Len(t, w.msgs, 1)

	var body struct {
		Order struct {
			Currency string `json:"currency"`
			Discount string `json:"discount"`
			Total    string `json:"total"`
			Items    []struct {
				UnitPrice string `json:"unit_price"`
			} `json:"items"`
		} `json:"order"`
	}
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &body))
	assert.Equal(t, "JPY", body.Order.Currency)
	assert.Equal(t, "240", body.Order.Discount)
	assert.Equal(t, "960", body.Order.Total)
	assert.Equal(t, "1200", body.Order.Items[0].UnitPrice)
}
