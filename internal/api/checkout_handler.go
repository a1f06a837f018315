package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sneaker-store/internal/service"
	"sneaker-store/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const idempotencyLockTTL = 30 * time.Second

// idempotentResponse is what is cached under an Idempotency-Key
type idempotentResponse struct {
	RequestHash string          `json:"requestHash"`
	Body        json.RawMessage `json:"body"`
}

// requestHash fingerprints the decoded checkout so formatting differences do not count as a new request
func requestHash(req *service.CheckoutRequest) (string, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// initializeKhalti starts a gateway checkout. Repeats with the same Idempotency-Key and body get
// the first response; the same key with a different body is rejected with 422.
func (h *Handler) initializeKhalti(c *gin.Context) {
	claims := claimsFrom(c)
	ctx := c.Request.Context()
	logger := util.LoggerFor(ctx)

	var req service.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	key := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if key == "" || h.idempotency == nil {
		resp, err := h.svc.Checkout.InitiateKhalti(ctx, claims.UserID, &req)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	hash, err := requestHash(&req)
	if err != nil {
		writeError(c, err)
		return
	}
	cacheKey := fmt.Sprintf("checkout:%d:%s", claims.UserID, key)

	if cached, ok := h.cachedCheckout(c, cacheKey); ok {
		if cached.RequestHash != hash {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "message": "idempotency key was already used with a different request"})
			return
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", cached.Body)
		return
	}

	token, acquired, err := h.idempotency.AcquireLock(ctx, cacheKey, idempotencyLockTTL)
	if err != nil {
		writeError(c, fmt.Errorf("failed to lock idempotency key: %w", err))
		return
	}
	if !acquired {
		c.JSON(http.StatusConflict, gin.H{"success": false, "message": "a checkout with this idempotency key is already in progress"})
		return
	}
	defer func() {
		if err := h.idempotency.ReleaseLock(ctx, cacheKey, token); err != nil {
			logger.Warn("Failed to release idempotency lock", zap.Error(err))
		}
	}()

	resp, err := h.svc.Checkout.InitiateKhalti(ctx, claims.UserID, &req)
	if err != nil {
		writeError(c, err)
		return
	}

	body, err := json.Marshal(resp)
	if err != nil {
		writeError(c, err)
		return
	}
	entry, err := json.Marshal(idempotentResponse{RequestHash: hash, Body: body})
	if err == nil {
		err = h.idempotency.SetIdempotencyKey(ctx, cacheKey, entry, h.opts.IdempotencyTTL)
	}
	if err != nil {
		logger.Warn("Failed to cache checkout response", zap.Error(err))
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

// cachedCheckout returns the stored response for cacheKey. Lookup failures and unreadable entries
// are treated as a miss.
func (h *Handler) cachedCheckout(c *gin.Context, cacheKey string) (*idempotentResponse, bool) {
	logger := util.LoggerFor(c.Request.Context())

	raw, found, err := h.idempotency.GetIdempotencyKey(c.Request.Context(), cacheKey)
	if err != nil {
		logger.Warn("Idempotency lookup failed", zap.Error(err))
		return nil, false
	}
	if !found {
		return nil, false
	}

	var cached idempotentResponse
	if err := json.Unmarshal(raw, &cached); err != nil {
		logger.Warn("Discarding unreadable idempotency entry", zap.Error(err))
		return nil, false
	}
	return &cached, true
}

// completeKhaltiPayment is the gateway return URL. It always redirects to the storefront.
func (h *Handler) completeKhaltiPayment(c *gin.Context) {
	outcome := h.svc.Payments.CompleteKhalti(c.Request.Context(), service.CallbackFromQuery(c.Request.URL.Query()))

	base := strings.TrimRight(h.opts.FrontendURL, "/")
	if outcome.Success {
		c.Redirect(http.StatusFound, base+"/payment-success?transaction_id="+url.QueryEscape(outcome.TransactionID))
		return
	}
	c.Redirect(http.StatusFound, base+"/payment-failure?reason="+url.QueryEscape(string(outcome.Reason)))
}

func (h *Handler) getPayment(c *gin.Context) {
	details, err := h.svc.Payments.GetPaymentByTransactionID(c.Request.Context(), c.Param("transactionId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

func (h *Handler) checkoutCOD(c *gin.Context) {
	var req service.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	resp, err := h.svc.Checkout.CheckoutCOD(c.Request.Context(), claimsFrom(c).UserID, &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}
