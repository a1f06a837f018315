package service

import (
	"context"
	"errors"

	"sneaker-store/internal/models"
	"sneaker-store/internal/store"
	"sneaker-store/internal/util"

	"go.uber.org/zap"
)

// OrderService serves order history and the admin order and transaction views
type OrderService struct {
	intents         IntentStore
	payments        PaymentStore
	assetURL        string
	defaultPageSize int
	maxPageSize     int
	logger          *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(intents IntentStore, payments PaymentStore, assetURL string, defaultPageSize, maxPageSize int) *OrderService {
	return &OrderService{
		intents:         intents,
		payments:        payments,
		assetURL:        assetURL,
		defaultPageSize: defaultPageSize,
		maxPageSize:     maxPageSize,
		logger:          util.GetLogger(),
	}
}

type OrderPage struct {
	Orders []models.PurchaseIntent `json:"orders"`
	Page
}

type PaymentPage struct {
	Payments []models.PaymentRecord `json:"payments"`
	Page
}

// MyOrders returns the caller's purchase intents, newest first
func (s *OrderService) MyOrders(ctx context.Context, userID int64) ([]models.PurchaseIntent, error) {
	orders, err := s.intents.ListIntentsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.resolveImages(orders)
	return orders, nil
}

func (s *OrderService) ListOrders(ctx context.Context, pageNum, limit int) (*OrderPage, error) {
	pageNum, limit, offset := page(pageNum, limit, s.defaultPageSize, s.maxPageSize)
	orders, total, err := s.intents.ListIntents(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	s.resolveImages(orders)
	return &OrderPage{Orders: orders, Page: newPage(pageNum, limit, total)}, nil
}

func (s *OrderService) ListPayments(ctx context.Context, pageNum, limit int) (*PaymentPage, error) {
	pageNum, limit, offset := page(pageNum, limit, s.defaultPageSize, s.maxPageSize)
	payments, total, err := s.payments.ListPayments(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	return &PaymentPage{Payments: payments, Page: newPage(pageNum, limit, total)}, nil
}

// UpdateOrderStatusRequest changes the payment and/or delivery status of one intent
type UpdateOrderStatusRequest struct {
	PaymentStatus  string `json:"paymentStatus"`
	DeliveryStatus string `json:"deliveryStatus"`
}

// UpdateStatus applies an admin status change. Only the two status fields can be edited.
func (s *OrderService) UpdateStatus(ctx context.Context, id int64, req *UpdateOrderStatusRequest) (*models.PurchaseIntent, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateStatus")
	defer span.End()

	if req.PaymentStatus == "" && req.DeliveryStatus == "" {
		return nil, validationError("paymentStatus or deliveryStatus is required")
	}
	if req.PaymentStatus != "" && !models.ValidPaymentStatus(req.PaymentStatus) {
		return nil, validationError("unknown payment status %q", req.PaymentStatus)
	}
	if req.DeliveryStatus != "" && !models.ValidDeliveryStatus(req.DeliveryStatus) {
		return nil, validationError("unknown delivery status %q", req.DeliveryStatus)
	}

	pi, err := s.intents.UpdateIntentStatus(ctx, id, req.PaymentStatus, req.DeliveryStatus)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFoundError("order not found", err)
	}
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	s.logger.Info("Order status updated",
		zap.Int64("intent_id", id),
		zap.String("payment_status", pi.PaymentStatus),
		zap.String("delivery_status", pi.DeliveryStatus))
	pi.Image = resolveImage(s.assetURL, pi.Image)
	return pi, nil
}

func (s *OrderService) resolveImages(orders []models.PurchaseIntent) {
	for i := range orders {
		orders[i].Image = resolveImage(s.assetURL, orders[i].Image)
	}
}
