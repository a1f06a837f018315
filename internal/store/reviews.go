package store

import (
	"context"
	"fmt"

	"sneaker-store/internal/models"
)

// CreateReview inserts a review; one review per purchase intent
func (s *Store) CreateReview(ctx context.Context, review *models.Review) error {
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO reviews (user_id, purchase_intent_id, product_id, rating, comment)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		review.UserID, review.PurchaseIntentID, review.ProductID, review.Rating, review.Comment,
	).Scan(&review.ID, &review.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateReview
		}
		return fmt.Errorf("failed to insert review: %w", err)
	}
	return nil
}

// ListReviewsByProduct returns a product's reviews, newest first
func (s *Store) ListReviewsByProduct(ctx context.Context, productID int64) ([]models.Review, error) {
	reviews := []models.Review{}
	err := s.db.SelectContext(ctx, &reviews, `
		SELECT r.id, r.user_id, u.name AS user_name, r.purchase_intent_id, r.product_id, r.rating, r.comment, r.created_at
		FROM reviews r
		JOIN users u ON u.id = r.user_id
		WHERE r.product_id = $1
		ORDER BY r.created_at DESC, r.id DESC`, productID)
	return reviews, err
}
