package models

import (
	"encoding/json"
	"time"
)

// Product represents a sneaker in the catalog. Price is in minor currency units (paisa).
type Product struct {
	ID          int64       `db:"id" json:"id"`
	Name        string      `db:"name" json:"name"`
	Category    string      `db:"category" json:"category"`
	Brand       string      `db:"brand" json:"brand"`
	Price       int64       `db:"price" json:"price"`
	Description string      `db:"description" json:"description"`
	Image       string      `db:"image" json:"image"`
	Removed     bool        `db:"removed" json:"-"`
	CreatedAt   time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updatedAt"`
	Sizes       []SizeStock `db:"-" json:"sizes"`
}

// SizeStock is the stock held for one size of a product
type SizeStock struct {
	ProductID int64  `db:"product_id" json:"-"`
	Size      string `db:"size" json:"size"`
	Quantity  int    `db:"quantity" json:"quantity"`
}

// FindSize returns the stock entry for size, or nil when the product has none
func (p *Product) FindSize(size string) *SizeStock {
	for i := range p.Sizes {
		if p.Sizes[i].Size == size {
			return &p.Sizes[i]
		}
	}
	return nil
}

// User is a storefront customer or an admin, identified by email
type User struct {
	ID        int64     `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	Name      string    `db:"name" json:"name"`
	Phone     string    `db:"phone" json:"phone,omitempty"`
	Role      string    `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// PurchaseIntent is one cart line turned into an order record. TotalPrice and Image are
// snapshots taken at checkout and are never recomputed from the product.
type PurchaseIntent struct {
	ID             int64     `db:"id" json:"id"`
	CheckoutRef    string    `db:"checkout_ref" json:"checkoutRef"`
	UserID         int64     `db:"user_id" json:"userId"`
	ProductID      int64     `db:"product_id" json:"productId"`
	ProductName    string    `db:"product_name" json:"productName"`
	Size           string    `db:"size" json:"size"`
	Quantity       int       `db:"quantity" json:"quantity"`
	TotalPrice     int64     `db:"total_price" json:"totalPrice"`
	PaymentMethod  string    `db:"payment_method" json:"paymentMethod"`
	PaymentStatus  string    `db:"payment_status" json:"paymentStatus"`
	DeliveryStatus string    `db:"delivery_status" json:"deliveryStatus"`
	Image          string    `db:"image" json:"image"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time `db:"updated_at" json:"updatedAt"`
}

// PaymentRecord is the immutable ledger entry for a verified gateway payment
type PaymentRecord struct {
	ID                  int64           `db:"id" json:"id"`
	UserID              int64           `db:"user_id" json:"userId"`
	PurchaseIntentID    int64           `db:"purchase_intent_id" json:"purchaseIntentId"`
	TransactionID       string          `db:"transaction_id" json:"transactionId"`
	Pidx                string          `db:"pidx" json:"pidx"`
	Amount              int64           `db:"amount" json:"amount"`
	Gateway             string          `db:"gateway" json:"gateway"`
	Status              string          `db:"status" json:"status"`
	VerificationPayload json.RawMessage `db:"verification_payload" json:"verificationPayload"`
	CallbackQuery       json.RawMessage `db:"callback_query" json:"callbackQuery"`
	CreatedAt           time.Time       `db:"created_at" json:"createdAt"`
}

// Review is a customer's rating of a purchased product
type Review struct {
	ID               int64     `db:"id" json:"id"`
	UserID           int64     `db:"user_id" json:"userId"`
	UserName         string    `db:"user_name" json:"userName"`
	PurchaseIntentID int64     `db:"purchase_intent_id" json:"purchaseIntentId"`
	ProductID        int64     `db:"product_id" json:"productId"`
	Rating           int       `db:"rating" json:"rating"`
	Comment          string    `db:"comment" json:"comment"`
	CreatedAt        time.Time `db:"created_at" json:"createdAt"`
}

// ProductFilter narrows catalog listings
type ProductFilter struct {
	Category string
	Brand    string
	Search   string
	Limit    int
	Offset   int
}

// Payment methods
const (
	PaymentMethodKhalti = "khalti"
	PaymentMethodCOD    = "cod"
)

// Payment statuses of a purchase intent
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusRefunded  = "refunded"
)

// Delivery statuses of a purchase intent
const (
	DeliveryStatusPending   = "pending"
	DeliveryStatusDelivered = "delivered"
)

// Payment record statuses
const (
	RecordStatusSuccess = "success"
	RecordStatusPending = "pending"
	RecordStatusFailed  = "failed"
)

// User roles
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// GatewayKhalti is the gateway name stored on payment records
const GatewayKhalti = "khalti"

// ValidPaymentStatus reports whether s is a payment status an admin may set
func ValidPaymentStatus(s string) bool {
	switch s {
	case PaymentStatusPending, PaymentStatusCompleted, PaymentStatusRefunded:
		return true
	}
	return false
}

// ValidDeliveryStatus reports whether s is a known delivery status
func ValidDeliveryStatus(s string) bool {
	return s == DeliveryStatusPending || s == DeliveryStatusDelivered
}
