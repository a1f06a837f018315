package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"sneaker-store/internal/khalti"
	"sneaker-store/internal/models"
	"sneaker-store/internal/store"
	"sneaker-store/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CheckoutConfig holds the checkout settings taken from configuration
type CheckoutConfig struct {
	PaymentHold       time.Duration
	ReturnURL         string
	WebsiteURL        string
	PurchaseOrderName string
	AssetBaseURL      string
}

// CheckoutService turns carts into purchase intents
type CheckoutService struct {
	catalog CatalogStore
	intents IntentStore
	users   UserStore
	gateway Gateway
	events  EventPublisher
	cfg     CheckoutConfig
	logger  *zap.Logger
	now     func() time.Time
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(
	catalog CatalogStore,
	intents IntentStore,
	users UserStore,
	gateway Gateway,
	events EventPublisher,
	cfg CheckoutConfig,
) *CheckoutService {
	return &CheckoutService{
		catalog: catalog,
		intents: intents,
		users:   users,
		gateway: gateway,
		events:  events,
		cfg:     cfg,
		logger:  util.GetLogger(),
		now:     time.Now,
	}
}

// CartItem is one line of a checkout request
type CartItem struct {
	ProductID int64  `json:"productId"`
	Size      string `json:"size"`
	Quantity  int    `json:"quantity"`
}

// CheckoutRequest is the body of a checkout. TotalPrice is the total the client displayed, in paisa.
type CheckoutRequest struct {
	CartItems  []CartItem `json:"cartItems"`
	TotalPrice int64      `json:"totalPrice"`
}

// OrderDetails summarizes one checkout
type OrderDetails struct {
	CheckoutRef     string                  `json:"checkoutRef"`
	PurchaseOrderID int64                   `json:"purchaseOrderId"`
	TotalPrice      int64                   `json:"totalPrice"`
	PaymentMethod   string                  `json:"paymentMethod"`
	Items           []models.PurchaseIntent `json:"items,omitempty"`
}

// CheckoutResponse is returned by both checkout flows; Payment is nil for cash on delivery
type CheckoutResponse struct {
	Success        bool                     `json:"success"`
	PurchasedItems []models.PurchaseIntent  `json:"purchasedItems"`
	Payment        *khalti.InitiateResponse `json:"payment,omitempty"`
	OrderDetails   OrderDetails             `json:"orderDetails"`
}

// InitiateKhalti validates the cart, persists one pending intent per line and starts a hosted
// Khalti checkout for the total. Nothing is written when validation fails.
func (s *CheckoutService) InitiateKhalti(ctx context.Context, userID int64, req *CheckoutRequest) (*CheckoutResponse, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.InitiateKhalti")
	defer span.End()

	resp, user, err := s.placeOrder(ctx, userID, req, models.PaymentMethodKhalti)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	payment, err := s.gateway.Initiate(ctx, &khalti.InitiateRequest{
		ReturnURL:         s.cfg.ReturnURL,
		WebsiteURL:        s.cfg.WebsiteURL,
		Amount:            resp.OrderDetails.TotalPrice,
		PurchaseOrderID:   strconv.FormatInt(resp.OrderDetails.PurchaseOrderID, 10),
		PurchaseOrderName: s.cfg.PurchaseOrderName,
		CustomerInfo: khalti.CustomerInfo{
			Name:  user.Name,
			Email: user.Email,
			Phone: user.Phone,
		},
	})
	if err != nil {
		util.CheckoutsRejectedTotal.WithLabelValues("gateway_error").Inc()
		util.RecordError(span, err)
		s.logger.Error("Gateway initiation failed",
			zap.String("checkout_ref", resp.OrderDetails.CheckoutRef),
			zap.Error(err))
		return nil, newError(KindGateway, CodeGatewayError, "payment gateway error, please try again", err)
	}
	resp.Payment = payment

	ids := make([]int64, len(resp.PurchasedItems))
	for i, pi := range resp.PurchasedItems {
		ids[i] = pi.ID
	}
	event := &models.CheckoutInitiatedEvent{
		BaseEvent:       newBaseEvent(models.EventTypeCheckoutInitiated),
		CheckoutRef:     resp.OrderDetails.CheckoutRef,
		PurchaseOrderID: resp.OrderDetails.PurchaseOrderID,
		UserID:          userID,
		TotalAmount:     resp.OrderDetails.TotalPrice,
		Pidx:            payment.Pidx,
		IntentIDs:       ids,
	}
	if err := s.events.PublishCheckoutInitiated(ctx, event); err != nil {
		s.logger.Error("Failed to publish CheckoutInitiated event", zap.Error(err))
	}

	util.CheckoutsInitiatedTotal.WithLabelValues(models.PaymentMethodKhalti).Inc()
	s.logger.Info("Khalti checkout initiated",
		zap.String("checkout_ref", resp.OrderDetails.CheckoutRef),
		zap.Int64("purchase_order_id", resp.OrderDetails.PurchaseOrderID),
		zap.String("pidx", payment.Pidx))

	return resp, nil
}

// CheckoutCOD places a cash-on-delivery order. Stock is taken when the order is placed.
func (s *CheckoutService) CheckoutCOD(ctx context.Context, userID int64, req *CheckoutRequest) (*CheckoutResponse, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.CheckoutCOD")
	defer span.End()

	resp, user, err := s.placeOrder(ctx, userID, req, models.PaymentMethodCOD)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	event := &models.CODOrderPlacedEvent{
		BaseEvent:   newBaseEvent(models.EventTypeCODOrderPlaced),
		CheckoutRef: resp.OrderDetails.CheckoutRef,
		UserID:      userID,
		Email:       user.Email,
		TotalAmount: resp.OrderDetails.TotalPrice,
		Items:       models.OrderLines(resp.PurchasedItems),
	}
	if err := s.events.PublishCODOrderPlaced(ctx, event); err != nil {
		s.logger.Error("Failed to publish CODOrderPlaced event", zap.Error(err))
	}

	util.CheckoutsInitiatedTotal.WithLabelValues(models.PaymentMethodCOD).Inc()
	s.logger.Info("Cash on delivery order placed",
		zap.String("checkout_ref", resp.OrderDetails.CheckoutRef),
		zap.Int64("user_id", userID))

	return resp, nil
}

func (s *CheckoutService) placeOrder(ctx context.Context, userID int64, req *CheckoutRequest, method string) (*CheckoutResponse, *models.User, error) {
	if err := validateCart(req); err != nil {
		util.CheckoutsRejectedTotal.WithLabelValues("invalid_request").Inc()
		return nil, nil, err
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, newError(KindUnauthorized, CodeUnauthorized, "user not found", err)
		}
		return nil, nil, err
	}

	intents, total, err := s.priceCart(ctx, userID, req.CartItems, method)
	if err != nil {
		return nil, nil, err
	}

	if total != req.TotalPrice {
		util.CheckoutsRejectedTotal.WithLabelValues("total_mismatch").Inc()
		return nil, nil, newError(KindConsistency, CodeTotalPriceMismatch, "total price mismatch", nil)
	}

	holdSince := s.now().Add(-s.cfg.PaymentHold)
	if err := s.intents.CreatePurchaseIntents(ctx, intents, holdSince); err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			util.CheckoutsRejectedTotal.WithLabelValues("size_unavailable").Inc()
			return nil, nil, newError(KindValidation, CodeSizeUnavailable, "requested quantity is no longer available", err)
		}
		return nil, nil, err
	}
	util.PurchaseIntentsCreatedTotal.Add(float64(len(intents)))

	items := make([]models.PurchaseIntent, len(intents))
	for i, pi := range intents {
		items[i] = *pi
		items[i].Image = resolveImage(s.cfg.AssetBaseURL, pi.Image)
	}

	return &CheckoutResponse{
		Success:        true,
		PurchasedItems: items,
		OrderDetails: OrderDetails{
			CheckoutRef:     intents[0].CheckoutRef,
			PurchaseOrderID: intents[0].ID,
			TotalPrice:      total,
			PaymentMethod:   method,
		},
	}, user, nil
}

func validateCart(req *CheckoutRequest) error {
	if req == nil || len(req.CartItems) == 0 {
		return validationError("cart is empty")
	}
	for i, item := range req.CartItems {
		if item.ProductID <= 0 {
			return validationError("cart item %d: productId is required", i)
		}
		if item.Size == "" {
			return validationError("cart item %d: size is required", i)
		}
		if item.Quantity <= 0 {
			return validationError("cart item %d: quantity must be positive", i)
		}
	}
	if req.TotalPrice <= 0 {
		return validationError("totalPrice must be positive")
	}
	return nil
}

// priceCart resolves every line against the catalog and freezes its total. The per-line stock
// check here fails fast; the authoritative check runs under row locks in the store.
func (s *CheckoutService) priceCart(ctx context.Context, userID int64, items []CartItem, method string) ([]*models.PurchaseIntent, int64, error) {
	ref := uuid.New().String()
	intents := make([]*models.PurchaseIntent, 0, len(items))
	var total int64

	for _, item := range items {
		product, err := s.catalog.GetProductByID(ctx, item.ProductID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				util.CheckoutsRejectedTotal.WithLabelValues("product_not_found").Inc()
				return nil, 0, newError(KindNotFound, CodeProductNotFound, "product not found", err)
			}
			return nil, 0, err
		}

		size := product.FindSize(item.Size)
		if size == nil || item.Quantity > size.Quantity {
			util.CheckoutsRejectedTotal.WithLabelValues("size_unavailable").Inc()
			return nil, 0, newError(KindValidation, CodeSizeUnavailable,
				"size "+item.Size+" of "+product.Name+" is not available in the requested quantity", nil)
		}

		lineTotal := product.Price * int64(item.Quantity)
		total += lineTotal

		intents = append(intents, &models.PurchaseIntent{
			CheckoutRef:    ref,
			UserID:         userID,
			ProductID:      product.ID,
			ProductName:    product.Name,
			Size:           item.Size,
			Quantity:       item.Quantity,
			TotalPrice:     lineTotal,
			PaymentMethod:  method,
			PaymentStatus:  models.PaymentStatusPending,
			DeliveryStatus: models.DeliveryStatusPending,
			Image:          product.Image,
		})
	}

	return intents, total, nil
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}
