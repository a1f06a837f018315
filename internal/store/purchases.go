package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sneaker-store/internal/models"
)

const intentColumns = `id, checkout_ref, user_id, product_id, product_name, size, quantity, total_price,
	payment_method, payment_status, delivery_status, image, created_at, updated_at`

// CreatePurchaseIntents persists all lines of one checkout atomically.
//
// Each line locks its product_sizes row and re-checks availability inside the transaction.
// Available stock is the row quantity minus the quantity held by pending gateway checkouts
// created after holdSince, so concurrent checkouts of one size serialize on the row lock and
// the loser gets ErrInsufficientStock. Cash-on-delivery lines decrement stock immediately.
// On any error nothing is written.
func (s *Store) CreatePurchaseIntents(ctx context.Context, intents []*models.PurchaseIntent, holdSince time.Time) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, pi := range intents {
		var onHand int
		err := tx.GetContext(ctx, &onHand,
			"SELECT quantity FROM product_sizes WHERE product_id = $1 AND size = $2 FOR UPDATE",
			pi.ProductID, pi.Size)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("product %d size %s: %w", pi.ProductID, pi.Size, ErrInsufficientStock)
		}
		if err != nil {
			return fmt.Errorf("failed to lock stock: %w", err)
		}

		var held int
		err = tx.GetContext(ctx, &held, `
			SELECT COALESCE(SUM(quantity), 0) FROM purchase_intents
			WHERE product_id = $1 AND size = $2
			  AND payment_method = 'khalti' AND payment_status = 'pending'
			  AND created_at > $3`,
			pi.ProductID, pi.Size, holdSince)
		if err != nil {
			return fmt.Errorf("failed to sum held stock: %w", err)
		}

		if onHand-held < pi.Quantity {
			return fmt.Errorf("product %d size %s: available=%d, requested=%d: %w",
				pi.ProductID, pi.Size, onHand-held, pi.Quantity, ErrInsufficientStock)
		}

		if pi.PaymentMethod == models.PaymentMethodCOD {
			_, err = tx.ExecContext(ctx,
				"UPDATE product_sizes SET quantity = quantity - $1 WHERE product_id = $2 AND size = $3",
				pi.Quantity, pi.ProductID, pi.Size)
			if err != nil {
				return fmt.Errorf("failed to decrement stock: %w", err)
			}
		}

		err = tx.GetContext(ctx, pi, `
			INSERT INTO purchase_intents (checkout_ref, user_id, product_id, product_name, size, quantity,
				total_price, payment_method, payment_status, delivery_status, image)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING `+intentColumns,
			pi.CheckoutRef, pi.UserID, pi.ProductID, pi.ProductName, pi.Size, pi.Quantity,
			pi.TotalPrice, pi.PaymentMethod, pi.PaymentStatus, pi.DeliveryStatus, pi.Image)
		if err != nil {
			return fmt.Errorf("failed to insert purchase intent: %w", err)
		}
	}

	return tx.Commit()
}

// GetPurchaseIntent retrieves a purchase intent by ID
func (s *Store) GetPurchaseIntent(ctx context.Context, id int64) (*models.PurchaseIntent, error) {
	var pi models.PurchaseIntent
	err := s.db.GetContext(ctx, &pi, "SELECT "+intentColumns+" FROM purchase_intents WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("purchase intent %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &pi, nil
}

// ListIntentsByCheckoutRef returns every line of one checkout in creation order
func (s *Store) ListIntentsByCheckoutRef(ctx context.Context, ref string) ([]models.PurchaseIntent, error) {
	intents := []models.PurchaseIntent{}
	err := s.db.SelectContext(ctx, &intents,
		"SELECT "+intentColumns+" FROM purchase_intents WHERE checkout_ref = $1 ORDER BY id", ref)
	return intents, err
}

// ListIntentsByUser returns a user's order history, newest first
func (s *Store) ListIntentsByUser(ctx context.Context, userID int64) ([]models.PurchaseIntent, error) {
	intents := []models.PurchaseIntent{}
	err := s.db.SelectContext(ctx, &intents,
		"SELECT "+intentColumns+" FROM purchase_intents WHERE user_id = $1 ORDER BY created_at DESC, id DESC", userID)
	return intents, err
}

// ListIntents returns one page of all purchase intents, newest first
func (s *Store) ListIntents(ctx context.Context, limit, offset int) ([]models.PurchaseIntent, int, error) {
	var total int
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM purchase_intents"); err != nil {
		return nil, 0, err
	}

	intents := []models.PurchaseIntent{}
	err := s.db.SelectContext(ctx, &intents,
		"SELECT "+intentColumns+" FROM purchase_intents ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2",
		limit, offset)
	return intents, total, err
}

// UpdateIntentStatus sets the payment and/or delivery status; empty values are left unchanged
func (s *Store) UpdateIntentStatus(ctx context.Context, id int64, paymentStatus, deliveryStatus string) (*models.PurchaseIntent, error) {
	var pi models.PurchaseIntent
	err := s.db.GetContext(ctx, &pi, `
		UPDATE purchase_intents
		SET payment_status = COALESCE(NULLIF($2, ''), payment_status),
		    delivery_status = COALESCE(NULLIF($3, ''), delivery_status),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING `+intentColumns,
		id, paymentStatus, deliveryStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("purchase intent %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &pi, nil
}
