package worker

import (
	"context"
	"errors"

	"sneaker-store/internal/broker"
	"sneaker-store/internal/models"
	"sneaker-store/internal/notify"
	"sneaker-store/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// messageSource is the part of broker.Consumer the worker drives
type messageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// NotificationWorker sends order confirmation emails for completed checkouts
type NotificationWorker struct {
	consumer     messageSource
	eventHandler *broker.EventHandler
	sender       notify.EmailSender
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer, sender notify.EmailSender) *NotificationWorker {
	return newNotificationWorker(consumer, sender)
}

func newNotificationWorker(consumer messageSource, sender notify.EmailSender) *NotificationWorker {
	w := &NotificationWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		sender:       sender,
		logger:       util.GetLogger(),
	}

	w.eventHandler.OnPaymentCompleted(w.handlePaymentCompleted)
	w.eventHandler.OnCODOrderPlaced(w.handleCODOrderPlaced)
	return w
}

// Start consumes events until ctx is cancelled
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.handleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

func (w *NotificationWorker) handleMessage(ctx context.Context, msg kafka.Message) error {
	err := w.eventHandler.HandleMessage(ctx, msg)
	if errors.Is(err, broker.ErrMalformedEvent) {
		// committed so it is not redelivered forever
		w.logger.Warn("Dropping malformed event", zap.Int64("offset", msg.Offset), zap.Error(err))
		return nil
	}
	return err
}

func (w *NotificationWorker) handlePaymentCompleted(ctx context.Context, event *models.PaymentCompletedEvent) error {
	subject, body := notify.OrderConfirmationEmail(models.PaymentMethodKhalti, event.Items, event.Amount, event.TransactionID)
	return w.send(ctx, event.Email, subject, body, zap.String("transaction_id", event.TransactionID))
}

func (w *NotificationWorker) handleCODOrderPlaced(ctx context.Context, event *models.CODOrderPlacedEvent) error {
	subject, body := notify.OrderConfirmationEmail(models.PaymentMethodCOD, event.Items, event.TotalAmount, "")
	return w.send(ctx, event.Email, subject, body, zap.String("checkout_ref", event.CheckoutRef))
}

func (w *NotificationWorker) send(ctx context.Context, to, subject, body string, field zap.Field) error {
	if to == "" {
		w.logger.Warn("Skipping confirmation without recipient", field)
		util.NotificationsSentTotal.WithLabelValues("order_confirmation", "skipped").Inc()
		return nil
	}

	result, err := w.sender.SendEmail(ctx, to, subject, body)
	if errors.Is(err, notify.ErrNotConfigured) {
		util.NotificationsSentTotal.WithLabelValues("order_confirmation", "skipped").Inc()
		return nil
	}
	if err != nil {
		util.NotificationsSentTotal.WithLabelValues("order_confirmation", "error").Inc()
		w.logger.Error("Failed to send order confirmation", field, zap.Error(err))
		return err
	}

	util.NotificationsSentTotal.WithLabelValues("order_confirmation", "sent").Inc()
	w.logger.Info("Order confirmation sent", field, zap.String("message_id", result.MessageID))
	return nil
}
