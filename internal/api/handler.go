package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"sneaker-store/internal/auth"
	"sneaker-store/internal/models"
	"sneaker-store/internal/service"
	"sneaker-store/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type CheckoutAPI interface {
	InitiateKhalti(ctx context.Context, userID int64, req *service.CheckoutRequest) (*service.CheckoutResponse, error)
	CheckoutCOD(ctx context.Context, userID int64, req *service.CheckoutRequest) (*service.CheckoutResponse, error)
}

type PaymentAPI interface {
	CompleteKhalti(ctx context.Context, cb service.Callback) service.Outcome
	GetPaymentByTransactionID(ctx context.Context, transactionID string) (*service.PaymentDetails, error)
}

type CatalogAPI interface {
	ListProducts(ctx context.Context, q service.ListProductsQuery) (*service.ProductPage, error)
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	CreateProduct(ctx context.Context, req *service.CreateProductRequest) (*models.Product, error)
	Restock(ctx context.Context, productID int64, req *service.RestockRequest) (*models.SizeStock, error)
	RemoveProduct(ctx context.Context, productID int64) error
}

type OrderAPI interface {
	MyOrders(ctx context.Context, userID int64) ([]models.PurchaseIntent, error)
	ListOrders(ctx context.Context, page, limit int) (*service.OrderPage, error)
	ListPayments(ctx context.Context, page, limit int) (*service.PaymentPage, error)
	UpdateStatus(ctx context.Context, id int64, req *service.UpdateOrderStatusRequest) (*models.PurchaseIntent, error)
}

type ReviewAPI interface {
	Create(ctx context.Context, userID int64, req *service.CreateReviewRequest) (*models.Review, error)
	ListForProduct(ctx context.Context, productID int64) ([]models.Review, error)
}

type AuthAPI interface {
	RequestOTP(ctx context.Context, email string) error
	VerifyOTP(ctx context.Context, email, code string) (*service.LoginResponse, error)
}

// IdempotencyStore caches checkout responses per Idempotency-Key
type IdempotencyStore interface {
	GetIdempotencyKey(ctx context.Context, key string) ([]byte, bool, error)
	SetIdempotencyKey(ctx context.Context, key string, value []byte, ttl time.Duration) error
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
}

// Pinger is a dependency checked by the readiness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services groups the use cases the HTTP layer exposes
type Services struct {
	Checkout CheckoutAPI
	Payments PaymentAPI
	Catalog  CatalogAPI
	Orders   OrderAPI
	Reviews  ReviewAPI
	Auth     AuthAPI
}

// Options configures redirects, CORS and request limits
type Options struct {
	FrontendURL    string
	AllowedOrigins []string
	IdempotencyTTL time.Duration
	OTPLimiter     *RateLimiter
}

// Handler contains HTTP handlers
type Handler struct {
	svc         Services
	idempotency IdempotencyStore
	tokens      *auth.TokenManager
	probes      map[string]Pinger
	opts        Options
}

// NewHandler creates a new HTTP handler
func NewHandler(svc Services, idempotency IdempotencyStore, tokens *auth.TokenManager, probes map[string]Pinger, opts Options) *Handler {
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 10 * time.Minute
	}
	if opts.OTPLimiter == nil {
		opts.OTPLimiter = NewRateLimiter(0.1, 3, 10*time.Minute)
	}
	return &Handler{
		svc:         svc,
		idempotency: idempotency,
		tokens:      tokens,
		probes:      probes,
		opts:        opts,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(requestLogger())
	router.Use(prometheusMiddleware())
	router.Use(corsMiddleware(h.opts.AllowedOrigins))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	requireAuth := RequireAuth(h.tokens)

	router.POST("/initialize-khalti", requireAuth, h.initializeKhalti)
	router.GET("/complete-khalti-payment", h.completeKhaltiPayment)

	rest := router.Group("/api")
	{
		rest.GET("/payments/:transactionId", h.getPayment)

		rest.POST("/auth/otp/request", h.opts.OTPLimiter.Middleware(), h.requestOTP)
		rest.POST("/auth/otp/verify", h.opts.OTPLimiter.Middleware(), h.verifyOTP)

		rest.GET("/products", h.listProducts)
		rest.GET("/products/:id", h.getProduct)
		rest.GET("/products/:id/reviews", h.listReviews)

		rest.GET("/orders", requireAuth, h.myOrders)
		rest.POST("/checkout/cod", requireAuth, h.checkoutCOD)
		rest.POST("/reviews", requireAuth, h.createReview)
	}

	admin := rest.Group("/admin", requireAuth, RequireAdmin())
	{
		admin.POST("/products", h.createProduct)
		admin.PUT("/products/:id/stock", h.restockProduct)
		admin.DELETE("/products/:id", h.removeProduct)
		admin.GET("/orders", h.listOrders)
		admin.PATCH("/orders/:id", h.updateOrderStatus)
		admin.GET("/payments", h.listPayments)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only when every dependency answers a ping
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := make(gin.H, len(h.probes))
	ready := true
	for name, p := range h.probes {
		if err := p.Ping(ctx); err != nil {
			util.LoggerFor(ctx).Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			checks[name] = "unavailable"
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not ready", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status": status,
		"checks": checks,
		"time":   time.Now().Unix(),
	})
}

// writeError maps a service error to its status code. Internal errors never leak their cause.
func writeError(c *gin.Context, err error) {
	svcErr, ok := service.AsError(err)
	if !ok || svcErr.Kind == service.KindInternal {
		util.LoggerFor(c.Request.Context()).Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "internal server error"})
		return
	}

	status := statusForKind(svcErr.Kind)
	if status >= http.StatusInternalServerError {
		util.LoggerFor(c.Request.Context()).Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("code", svcErr.Code),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"success": false, "message": svcErr.Message})
}

func statusForKind(kind service.Kind) int {
	switch kind {
	case service.KindValidation, service.KindConsistency:
		return http.StatusBadRequest
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindConflict:
		return http.StatusConflict
	case service.KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": message})
}

func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	return page, limit
}
