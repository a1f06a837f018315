package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"sneaker-store/internal/models"
	"sneaker-store/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ErrMalformedEvent wraps messages that cannot be decoded into a known event
var ErrMalformedEvent = errors.New("malformed event")

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer publisher
}

type publisher interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func checkoutKey(ref string) string {
	return "checkout-" + ref
}

// PublishCheckoutInitiated publishes CheckoutInitiated event
func (ep *EventPublisher) PublishCheckoutInitiated(ctx context.Context, event *models.CheckoutInitiatedEvent) error {
	return ep.producer.PublishEvent(ctx, checkoutKey(event.CheckoutRef), event)
}

// PublishPaymentCompleted publishes PaymentCompleted event
func (ep *EventPublisher) PublishPaymentCompleted(ctx context.Context, event *models.PaymentCompletedEvent) error {
	return ep.producer.PublishEvent(ctx, checkoutKey(event.CheckoutRef), event)
}

// PublishPaymentFailed publishes PaymentFailed event
func (ep *EventPublisher) PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error {
	return ep.producer.PublishEvent(ctx, fmt.Sprintf("order-%s", event.PurchaseOrderID), event)
}

// PublishCODOrderPlaced publishes CODOrderPlaced event
func (ep *EventPublisher) PublishCODOrderPlaced(ctx context.Context, event *models.CODOrderPlacedEvent) error {
	return ep.producer.PublishEvent(ctx, checkoutKey(event.CheckoutRef), event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onPaymentCompleted func(context.Context, *models.PaymentCompletedEvent) error
	onCODOrderPlaced   func(context.Context, *models.CODOrderPlacedEvent) error
	logger             *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnPaymentCompleted registers a handler for PaymentCompleted events
func (eh *EventHandler) OnPaymentCompleted(handler func(context.Context, *models.PaymentCompletedEvent) error) {
	eh.onPaymentCompleted = handler
}

// OnCODOrderPlaced registers a handler for CODOrderPlaced events
func (eh *EventHandler) OnCODOrderPlaced(handler func(context.Context, *models.CODOrderPlacedEvent) error) {
	eh.onCODOrderPlaced = handler
}

// HandleMessage routes messages to appropriate handlers. Event types without a handler are skipped.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("%w: base event: %v", ErrMalformedEvent, err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypePaymentCompleted:
		if eh.onPaymentCompleted != nil {
			var event models.PaymentCompletedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("%w: PaymentCompleted: %v", ErrMalformedEvent, err)
			}
			return eh.onPaymentCompleted(ctx, &event)
		}

	case models.EventTypeCODOrderPlaced:
		if eh.onCODOrderPlaced != nil {
			var event models.CODOrderPlacedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("%w: CODOrderPlaced: %v", ErrMalformedEvent, err)
			}
			return eh.onCODOrderPlaced(ctx, &event)
		}
	}

	return nil
}
