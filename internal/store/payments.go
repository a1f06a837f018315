package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"sneaker-store/internal/models"
)

const paymentColumns = `id, user_id, purchase_intent_id, transaction_id, pidx, amount, gateway, status,
	verification_payload, callback_query, created_at`

// CompletionResult reports what CompletePayment changed
type CompletionResult struct {
	// Clamped counts lines whose stock was lower than the purchased quantity and was floored at zero
	Clamped int
}

// CompletePayment records a verified payment and applies its effects in one transaction:
// insert the payment record, decrement stock for every intent (floored at zero), and mark the
// intents completed.
//
// A replay is detected by an existing payment record for the intent, never by its payment_status,
// which admins can edit. The insert also skips on a unique conflict (transaction id or pidx), so
// a replayed callback returns ErrDuplicatePayment without touching stock. A concurrent replay
// blocks on the intent row lock until the first transaction finishes.
func (s *Store) CompletePayment(ctx context.Context, intents []models.PurchaseIntent, record *models.PaymentRecord) (*CompletionResult, error) {
	if len(intents) == 0 {
		return nil, fmt.Errorf("no purchase intents to complete")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var recorded bool
	err = tx.GetContext(ctx, &recorded, `
		SELECT EXISTS (SELECT 1 FROM payment_records r WHERE r.purchase_intent_id = pi.id)
		FROM purchase_intents pi WHERE pi.id = $1 FOR UPDATE OF pi`, record.PurchaseIntentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("purchase intent %d: %w", record.PurchaseIntentID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock purchase intent: %w", err)
	}
	if recorded {
		return nil, ErrDuplicatePayment
	}

	err = tx.QueryRowxContext(ctx, `
		INSERT INTO payment_records (user_id, purchase_intent_id, transaction_id, pidx, amount, gateway, status,
			verification_payload, callback_query)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9::jsonb)
		ON CONFLICT DO NOTHING
		RETURNING id, created_at`,
		record.UserID, record.PurchaseIntentID, record.TransactionID, record.Pidx, record.Amount,
		record.Gateway, record.Status, jsonText(record.VerificationPayload), jsonText(record.CallbackQuery),
	).Scan(&record.ID, &record.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDuplicatePayment
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert payment record: %w", err)
	}

	result := &CompletionResult{}
	for _, pi := range intents {
		var onHand int
		err := tx.GetContext(ctx, &onHand,
			"SELECT quantity FROM product_sizes WHERE product_id = $1 AND size = $2 FOR UPDATE",
			pi.ProductID, pi.Size)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("product %d size %s: %w", pi.ProductID, pi.Size, ErrSizeNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to lock stock: %w", err)
		}

		remaining := onHand - pi.Quantity
		if remaining < 0 {
			remaining = 0
			result.Clamped++
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE product_sizes SET quantity = $1 WHERE product_id = $2 AND size = $3",
			remaining, pi.ProductID, pi.Size)
		if err != nil {
			return nil, fmt.Errorf("failed to decrement stock: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE purchase_intents SET payment_status = $1, updated_at = NOW() WHERE id = $2",
			models.PaymentStatusCompleted, pi.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to complete purchase intent %d: %w", pi.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return result, nil
}

// GetPaymentByTransactionID retrieves a payment record by gateway transaction id
func (s *Store) GetPaymentByTransactionID(ctx context.Context, transactionID string) (*models.PaymentRecord, error) {
	return s.getPayment(ctx, "transaction_id", transactionID)
}

// GetPaymentByPidx retrieves a payment record by gateway payment index
func (s *Store) GetPaymentByPidx(ctx context.Context, pidx string) (*models.PaymentRecord, error) {
	return s.getPayment(ctx, "pidx", pidx)
}

func (s *Store) getPayment(ctx context.Context, column, value string) (*models.PaymentRecord, error) {
	var rec models.PaymentRecord
	err := s.db.GetContext(ctx, &rec,
		"SELECT "+paymentColumns+" FROM payment_records WHERE "+column+" = $1", value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment %s=%s: %w", column, value, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListPayments returns one page of payment records, newest first
func (s *Store) ListPayments(ctx context.Context, limit, offset int) ([]models.PaymentRecord, int, error) {
	var total int
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM payment_records"); err != nil {
		return nil, 0, err
	}

	records := []models.PaymentRecord{}
	err := s.db.SelectContext(ctx, &records,
		"SELECT "+paymentColumns+" FROM payment_records ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2",
		limit, offset)
	return records, total, err
}

// jsonText sends JSON snapshots as text; lib/pq would encode a raw []byte as bytea.
func jsonText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}
