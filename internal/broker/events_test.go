package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"sneaker-store/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	keys   []string
	events []interface{}
}

func (r *recordingPublisher) PublishEvent(_ context.Context, key string, event interface{}) error {
	r.keys = append(r.keys, key)
	r.events = append(r.events, event)
	return nil
}

func TestPublisherKeysByCheckout(t *testing.T) {
	rec := &recordingPublisher{}
	ep := &EventPublisher{producer: rec}

	require.NoError(t, ep.PublishPaymentCompleted(context.Background(), &models.PaymentCompletedEvent{CheckoutRef: "ref-1"}))
	require.NoError(t, ep.PublishPaymentFailed(context.Background(), &models.PaymentFailedEvent{PurchaseOrderID: "11"}))

	assert.Equal(t, []string{"checkout-ref-1", "order-11"}, rec.keys)
}

func message(t *testing.T, event interface{}) kafka.Message {
	t.Helper()
	b, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Value: b}
}

func TestHandleMessageRoutesByType(t *testing.T) {
	eh := NewEventHandler()

	var got *models.PaymentCompletedEvent
	eh.OnPaymentCompleted(func(_ context.Context, e *models.PaymentCompletedEvent) error {
		got = e
		return nil
	})

	event := &models.PaymentCompletedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   "e-1",
			EventType: models.EventTypePaymentCompleted,
			Timestamp: time.Now(),
		},
		TransactionID: "tx-1",
		Amount:        2000,
	}
	require.NoError(t, eh.HandleMessage(context.Background(), message(t, event)))
	require.NotNil(t, got)
	assert.Equal(t, "tx-1", got.TransactionID)
	assert.Equal(t, int64(2000), got.Amount)
}

func TestHandleMessageSkipsUnregistered(t *testing.T) {
	eh := NewEventHandler()

	event := &models.CheckoutInitiatedEvent{
		BaseEvent: models.BaseEvent{EventType: models.EventTypeCheckoutInitiated},
	}
	assert.NoError(t, eh.HandleMessage(context.Background(), message(t, event)))
}

func TestHandleMessageRejectsGarbage(t *testing.T) {
	eh := NewEventHandler()
	err := eh.HandleMessage(context.Background(), kafka.Message{Value: []byte("not json")})
	assert.ErrorIs(t, err, ErrMalformedEvent)
}
