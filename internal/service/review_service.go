package service

import (
	"context"
	"errors"
	"strings"

	"sneaker-store/internal/models"
	"sneaker-store/internal/store"
	"sneaker-store/internal/util"

	"go.uber.org/zap"
)

type ReviewService struct {
	reviews ReviewStore
	intents IntentStore
	logger  *zap.Logger
}

func NewReviewService(reviews ReviewStore, intents IntentStore) *ReviewService {
	return &ReviewService{reviews: reviews, intents: intents, logger: util.GetLogger()}
}

type CreateReviewRequest struct {
	PurchaseIntentID int64  `json:"purchaseIntentId"`
	Rating           int    `json:"rating"`
	Comment          string `json:"comment"`
}

// Create reviews one of the caller's completed purchases; each purchase can be reviewed once
func (s *ReviewService) Create(ctx context.Context, userID int64, req *CreateReviewRequest) (*models.Review, error) {
	if req.Rating < 1 || req.Rating > 5 {
		return nil, validationError("rating must be between 1 and 5")
	}

	pi, err := s.intents.GetPurchaseIntent(ctx, req.PurchaseIntentID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && pi.UserID != userID) {
		return nil, notFoundError("purchase not found", err)
	}
	if err != nil {
		return nil, err
	}
	if pi.PaymentStatus != models.PaymentStatusCompleted {
		return nil, validationError("only completed purchases can be reviewed")
	}

	review := &models.Review{
		UserID:           userID,
		PurchaseIntentID: pi.ID,
		ProductID:        pi.ProductID,
		Rating:           req.Rating,
		Comment:          strings.TrimSpace(req.Comment),
	}
	if err := s.reviews.CreateReview(ctx, review); err != nil {
		if errors.Is(err, store.ErrDuplicateReview) {
			return nil, newError(KindConflict, CodeConflict, "this purchase has already been reviewed", err)
		}
		return nil, err
	}

	s.logger.Info("Review created", zap.Int64("review_id", review.ID), zap.Int64("product_id", review.ProductID))
	return review, nil
}

func (s *ReviewService) ListForProduct(ctx context.Context, productID int64) ([]models.Review, error) {
	return s.reviews.ListReviewsByProduct(ctx, productID)
}
