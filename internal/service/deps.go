package service

import (
	"context"
	"strings"
	"time"

	"sneaker-store/internal/khalti"
	"sneaker-store/internal/models"
	"sneaker-store/internal/notify"
	"sneaker-store/internal/store"
)

// CatalogStore is the product side of *store.Store
type CatalogStore interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	ListProducts(ctx context.Context, filter models.ProductFilter) ([]models.Product, int, error)
	CreateProduct(ctx context.Context, product *models.Product) error
	RestockProduct(ctx context.Context, productID int64, size string, quantity int) (*models.SizeStock, error)
	RemoveProduct(ctx context.Context, productID int64) error
}

// IntentStore is the purchase intent side of *store.Store
type IntentStore interface {
	CreatePurchaseIntents(ctx context.Context, intents []*models.PurchaseIntent, holdSince time.Time) error
	GetPurchaseIntent(ctx context.Context, id int64) (*models.PurchaseIntent, error)
	ListIntentsByCheckoutRef(ctx context.Context, ref string) ([]models.PurchaseIntent, error)
	ListIntentsByUser(ctx context.Context, userID int64) ([]models.PurchaseIntent, error)
	ListIntents(ctx context.Context, limit, offset int) ([]models.PurchaseIntent, int, error)
	UpdateIntentStatus(ctx context.Context, id int64, paymentStatus, deliveryStatus string) (*models.PurchaseIntent, error)
}

// PaymentStore is the payment record side of *store.Store
type PaymentStore interface {
	CompletePayment(ctx context.Context, intents []models.PurchaseIntent, record *models.PaymentRecord) (*store.CompletionResult, error)
	GetPaymentByTransactionID(ctx context.Context, transactionID string) (*models.PaymentRecord, error)
	GetPaymentByPidx(ctx context.Context, pidx string) (*models.PaymentRecord, error)
	ListPayments(ctx context.Context, limit, offset int) ([]models.PaymentRecord, int, error)
}

type UserStore interface {
	UpsertUser(ctx context.Context, email, role string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

type ReviewStore interface {
	CreateReview(ctx context.Context, review *models.Review) error
	ListReviewsByProduct(ctx context.Context, productID int64) ([]models.Review, error)
}

// Gateway is the hosted payment provider
type Gateway interface {
	Initiate(ctx context.Context, req *khalti.InitiateRequest) (*khalti.InitiateResponse, error)
	Lookup(ctx context.Context, pidx string) (*khalti.LookupResponse, error)
}

// EventPublisher is implemented by *broker.EventPublisher
type EventPublisher interface {
	PublishCheckoutInitiated(ctx context.Context, event *models.CheckoutInitiatedEvent) error
	PublishPaymentCompleted(ctx context.Context, event *models.PaymentCompletedEvent) error
	PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error
	PublishCODOrderPlaced(ctx context.Context, event *models.CODOrderPlacedEvent) error
}

// OTPStore is implemented by *redisclient.Client
type OTPStore interface {
	StoreOTP(ctx context.Context, email, hash string, ttl time.Duration) error
	ConsumeOTPAttempt(ctx context.Context, email string, maxAttempts int) (int, string, error)
	DeleteOTP(ctx context.Context, email string) error
}

// EmailSender is implemented by *notify.SMTPSender
type EmailSender = notify.EmailSender

// resolveImage turns a relative asset path into an absolute URL under base
func resolveImage(base, image string) string {
	if image == "" || base == "" {
		return image
	}
	lower := strings.ToLower(image)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "data:") {
		return image
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(image, "/")
}

// page converts 1-based page/limit query values into a bounded limit and offset
func page(pageNum, limit, defaultLimit, maxLimit int) (int, int, int) {
	if pageNum < 1 {
		pageNum = 1
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return pageNum, limit, (pageNum - 1) * limit
}

// Page is one page of a listing
type Page struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

func newPage(pageNum, limit, total int) Page {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return Page{Page: pageNum, Limit: limit, Total: total, TotalPages: pages}
}
