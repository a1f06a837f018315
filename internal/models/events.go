package models

import "time"

// Event types
const (
	EventTypeCheckoutInitiated = "CHECKOUT_INITIATED"
	EventTypePaymentCompleted  = "PAYMENT_COMPLETED"
	EventTypePaymentFailed     = "PAYMENT_FAILED"
	EventTypeCODOrderPlaced    = "COD_ORDER_PLACED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// CheckoutInitiatedEvent published when a gateway checkout created its purchase intents
type CheckoutInitiatedEvent struct {
	BaseEvent
	CheckoutRef     string  `json:"checkout_ref"`
	PurchaseOrderID int64   `json:"purchase_order_id"`
	UserID          int64   `json:"user_id"`
	TotalAmount     int64   `json:"total_amount"`
	Pidx            string  `json:"pidx"`
	IntentIDs       []int64 `json:"intent_ids"`
}

// PaymentCompletedEvent published after a verified payment was recorded
type PaymentCompletedEvent struct {
	BaseEvent
	CheckoutRef     string      `json:"checkout_ref"`
	PurchaseOrderID int64       `json:"purchase_order_id"`
	UserID          int64       `json:"user_id"`
	Email           string      `json:"email"`
	TransactionID   string      `json:"transaction_id"`
	Amount          int64       `json:"amount"`
	Items           []OrderLine `json:"items"`
}

// PaymentFailedEvent published when a completion callback ends in a failure state
type PaymentFailedEvent struct {
	BaseEvent
	PurchaseOrderID string `json:"purchase_order_id"`
	Pidx            string `json:"pidx"`
	Reason          string `json:"reason"`
}

// CODOrderPlacedEvent published when a cash-on-delivery checkout succeeded
type CODOrderPlacedEvent struct {
	BaseEvent
	CheckoutRef string      `json:"checkout_ref"`
	UserID      int64       `json:"user_id"`
	Email       string      `json:"email"`
	TotalAmount int64       `json:"total_amount"`
	Items       []OrderLine `json:"items"`
}

// OrderLine represents one purchased line in events and emails
type OrderLine struct {
	ProductName string `json:"product_name"`
	Size        string `json:"size"`
	Quantity    int    `json:"quantity"`
	TotalPrice  int64  `json:"total_price"`
}

// OrderLines converts purchase intents into event lines
func OrderLines(intents []PurchaseIntent) []OrderLine {
	lines := make([]OrderLine, 0, len(intents))
	for _, pi := range intents {
		lines = append(lines, OrderLine{
			ProductName: pi.ProductName,
			Size:        pi.Size,
			Quantity:    pi.Quantity,
			TotalPrice:  pi.TotalPrice,
		})
	}
	return lines
}
