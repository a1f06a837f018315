package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"sneaker-store/internal/khalti"
	"sneaker-store/internal/models"
	"sneaker-store/internal/store"
	"sneaker-store/internal/util"

	"go.uber.org/zap"
)

// PaymentService reconciles gateway callbacks against purchase intents
type PaymentService struct {
	catalog  CatalogStore
	intents  IntentStore
	payments PaymentStore
	users    UserStore
	gateway  Gateway
	events   EventPublisher
	assetURL string
	logger   *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(
	catalog CatalogStore,
	intents IntentStore,
	payments PaymentStore,
	users UserStore,
	gateway Gateway,
	events EventPublisher,
	assetURL string,
) *PaymentService {
	return &PaymentService{
		catalog:  catalog,
		intents:  intents,
		payments: payments,
		users:    users,
		gateway:  gateway,
		events:   events,
		assetURL: assetURL,
		logger:   util.GetLogger(),
	}
}

// Callback is the query string Khalti appends to the return URL
type Callback struct {
	Pidx            string
	TransactionID   string
	Amount          string
	PurchaseOrderID string
	Status          string
	Query           url.Values
}

// CallbackFromQuery reads a Callback from the return URL query
func CallbackFromQuery(q url.Values) Callback {
	return Callback{
		Pidx:            q.Get("pidx"),
		TransactionID:   q.Get("transaction_id"),
		Amount:          q.Get("amount"),
		PurchaseOrderID: q.Get("purchase_order_id"),
		Status:          q.Get("status"),
		Query:           q,
	}
}

// Outcome is the terminal state of one callback. Reason is set only when Success is false.
type Outcome struct {
	Success       bool
	TransactionID string
	Reason        Reason
	Replay        bool
}

func failed(reason Reason) Outcome {
	return Outcome{Reason: reason}
}

// CompleteKhalti runs the verification state machine for one callback:
// reported failure, gateway lookup, intent and amount check, product and size check, then
// the atomic completion. Replays of an already recorded payment succeed without side effects.
func (s *PaymentService) CompleteKhalti(ctx context.Context, cb Callback) Outcome {
	ctx, span := util.StartSpan(ctx, "PaymentService.CompleteKhalti")
	defer span.End()

	logger := util.LoggerFor(ctx).With(
		zap.String("pidx", cb.Pidx),
		zap.String("purchase_order_id", cb.PurchaseOrderID))

	outcome := s.complete(ctx, cb, logger)

	switch {
	case outcome.Replay:
		util.PaymentCallbacksTotal.WithLabelValues("replay").Inc()
		util.PaymentReplaysTotal.Inc()
	case outcome.Success:
		util.PaymentCallbacksTotal.WithLabelValues("success").Inc()
	default:
		util.PaymentCallbacksTotal.WithLabelValues(string(outcome.Reason)).Inc()
		logger.Warn("Payment completion failed", zap.String("reason", string(outcome.Reason)))

		event := &models.PaymentFailedEvent{
			BaseEvent:       newBaseEvent(models.EventTypePaymentFailed),
			PurchaseOrderID: cb.PurchaseOrderID,
			Pidx:            cb.Pidx,
			Reason:          string(outcome.Reason),
		}
		if err := s.events.PublishPaymentFailed(ctx, event); err != nil {
			logger.Error("Failed to publish PaymentFailed event", zap.Error(err))
		}
	}

	return outcome
}

func (s *PaymentService) complete(ctx context.Context, cb Callback, logger *zap.Logger) Outcome {
	if strings.EqualFold(cb.Status, "failed") {
		return failed(ReasonInsufficientBalance)
	}

	if cb.Pidx == "" {
		return failed(ReasonVerificationFailed)
	}
	lookup, err := s.gateway.Lookup(ctx, cb.Pidx)
	if err != nil {
		logger.Error("Gateway lookup failed", zap.Error(err))
		return failed(ReasonVerificationFailed)
	}
	if lookup.Status != khalti.StatusCompleted {
		logger.Warn("Payment not completed at gateway", zap.String("status", lookup.Status))
		return failed(ReasonVerificationFailed)
	}
	amount, err := strconv.ParseInt(cb.Amount, 10, 64)
	if err != nil || amount != lookup.TotalAmount || cb.TransactionID != lookup.TransactionID {
		logger.Warn("Callback does not match gateway lookup",
			zap.String("callback_transaction_id", cb.TransactionID),
			zap.String("lookup_transaction_id", lookup.TransactionID),
			zap.String("callback_amount", cb.Amount),
			zap.Int64("lookup_amount", lookup.TotalAmount))
		return failed(ReasonVerificationFailed)
	}

	if existing, err := s.payments.GetPaymentByPidx(ctx, cb.Pidx); err == nil {
		return Outcome{Success: true, Replay: true, TransactionID: existing.TransactionID}
	} else if !errors.Is(err, store.ErrNotFound) {
		logger.Error("Failed to look up payment record", zap.Error(err))
		return failed(ReasonServerError)
	}

	group, reason := s.checkoutGroup(ctx, cb.PurchaseOrderID, lookup.TotalAmount, logger)
	if reason != "" {
		return failed(reason)
	}

	for _, pi := range group {
		product, err := s.catalog.GetProductByID(ctx, pi.ProductID)
		if errors.Is(err, store.ErrNotFound) {
			return failed(ReasonProductNotFound)
		}
		if err != nil {
			logger.Error("Failed to load product", zap.Int64("product_id", pi.ProductID), zap.Error(err))
			return failed(ReasonServerError)
		}
		if product.FindSize(pi.Size) == nil {
			return failed(ReasonSizeNotFound)
		}
	}

	verification, _ := json.Marshal(lookup)
	query, _ := json.Marshal(cb.Query)
	record := &models.PaymentRecord{
		UserID:              group[0].UserID,
		PurchaseIntentID:    group[0].ID,
		TransactionID:       lookup.TransactionID,
		Pidx:                lookup.Pidx,
		Amount:              lookup.TotalAmount,
		Gateway:             models.GatewayKhalti,
		Status:              models.RecordStatusSuccess,
		VerificationPayload: verification,
		CallbackQuery:       query,
	}
	if record.Pidx == "" {
		record.Pidx = cb.Pidx
	}

	result, err := s.payments.CompletePayment(ctx, group, record)
	switch {
	case errors.Is(err, store.ErrDuplicatePayment):
		logger.Info("Duplicate payment callback ignored", zap.String("transaction_id", lookup.TransactionID))
		return Outcome{Success: true, Replay: true, TransactionID: lookup.TransactionID}
	case errors.Is(err, store.ErrSizeNotFound):
		return failed(ReasonSizeNotFound)
	case errors.Is(err, store.ErrNotFound):
		return failed(ReasonIntentNotFoundMismatch)
	case err != nil:
		logger.Error("Failed to complete payment", zap.Error(err))
		return failed(ReasonServerError)
	}

	util.PaymentsRecordedTotal.Inc()
	if result.Clamped > 0 {
		util.StockDecrementClampedTotal.Add(float64(result.Clamped))
		logger.Warn("Stock decrement clamped at zero", zap.Int("lines", result.Clamped))
	}
	logger.Info("Payment recorded",
		zap.String("transaction_id", record.TransactionID),
		zap.Int64("amount", record.Amount),
		zap.Int("lines", len(group)))

	s.publishCompleted(ctx, group, record, logger)

	return Outcome{Success: true, TransactionID: record.TransactionID}
}

// checkoutGroup loads every intent of the checkout named by purchaseOrderID and checks that
// their frozen totals add up to the verified amount.
func (s *PaymentService) checkoutGroup(ctx context.Context, purchaseOrderID string, amount int64, logger *zap.Logger) ([]models.PurchaseIntent, Reason) {
	id, err := strconv.ParseInt(purchaseOrderID, 10, 64)
	if err != nil {
		return nil, ReasonIntentNotFoundMismatch
	}

	first, err := s.intents.GetPurchaseIntent(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ReasonIntentNotFoundMismatch
	}
	if err != nil {
		logger.Error("Failed to load purchase intent", zap.Error(err))
		return nil, ReasonServerError
	}
	if first.PaymentMethod != models.PaymentMethodKhalti {
		return nil, ReasonIntentNotFoundMismatch
	}

	group, err := s.intents.ListIntentsByCheckoutRef(ctx, first.CheckoutRef)
	if err != nil {
		logger.Error("Failed to load checkout", zap.Error(err))
		return nil, ReasonServerError
	}
	if len(group) == 0 {
		group = []models.PurchaseIntent{*first}
	}

	var total int64
	for _, pi := range group {
		total += pi.TotalPrice
	}
	if total != amount {
		logger.Warn("Verified amount does not match checkout total",
			zap.Int64("checkout_total", total),
			zap.Int64("verified_amount", amount))
		return nil, ReasonIntentNotFoundMismatch
	}
	return group, ""
}

func (s *PaymentService) publishCompleted(ctx context.Context, group []models.PurchaseIntent, record *models.PaymentRecord, logger *zap.Logger) {
	var email string
	if user, err := s.users.GetUserByID(ctx, record.UserID); err == nil {
		email = user.Email
	} else {
		logger.Warn("Failed to load user for notification", zap.Error(err))
	}

	event := &models.PaymentCompletedEvent{
		BaseEvent:       newBaseEvent(models.EventTypePaymentCompleted),
		CheckoutRef:     group[0].CheckoutRef,
		PurchaseOrderID: group[0].ID,
		UserID:          record.UserID,
		Email:           email,
		TransactionID:   record.TransactionID,
		Amount:          record.Amount,
		Items:           models.OrderLines(group),
	}
	if err := s.events.PublishPaymentCompleted(ctx, event); err != nil {
		logger.Error("Failed to publish PaymentCompleted event", zap.Error(err))
	}
}

// PaymentDetails is the payment view shown on the success page
type PaymentDetails struct {
	Success      bool                  `json:"success"`
	Payment      *models.PaymentRecord `json:"payment"`
	OrderDetails OrderDetails          `json:"orderDetails"`
}

// GetPaymentByTransactionID returns a recorded payment with the lines it paid for
func (s *PaymentService) GetPaymentByTransactionID(ctx context.Context, transactionID string) (*PaymentDetails, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.GetPaymentByTransactionID")
	defer span.End()

	if transactionID == "" {
		return nil, validationError("transaction id is required")
	}

	record, err := s.payments.GetPaymentByTransactionID(ctx, transactionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFoundError("payment not found", err)
	}
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	first, err := s.intents.GetPurchaseIntent(ctx, record.PurchaseIntentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFoundError("purchase not found", err)
	}
	if err != nil {
		return nil, err
	}
	group, err := s.intents.ListIntentsByCheckoutRef(ctx, first.CheckoutRef)
	if err != nil {
		return nil, err
	}

	var total int64
	for i := range group {
		total += group[i].TotalPrice
		group[i].Image = resolveImage(s.assetURL, group[i].Image)
	}

	return &PaymentDetails{
		Success: true,
		Payment: record,
		OrderDetails: OrderDetails{
			CheckoutRef:     first.CheckoutRef,
			PurchaseOrderID: first.ID,
			TotalPrice:      total,
			PaymentMethod:   first.PaymentMethod,
			Items:           group,
		},
	}, nil
}
