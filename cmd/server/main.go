package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sneaker-store/config"
	"sneaker-store/internal/api"
	"sneaker-store/internal/auth"
	"sneaker-store/internal/broker"
	"sneaker-store/internal/khalti"
	"sneaker-store/internal/notify"
	"sneaker-store/internal/redisclient"
	"sneaker-store/internal/service"
	"sneaker-store/internal/store"
	"sneaker-store/internal/util"
	"sneaker-store/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting sneaker store")

	tp, err := util.InitTracer("sneaker-store", cfg.Observ.JaegerEndpoint, cfg.Observ.TraceSampleRatio)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = db.Migrate(migrateCtx)
	migrateCancel()
	if err != nil {
		logger.Fatal("Failed to apply migrations", zap.Error(err))
	}
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
	defer producer.Close()
	eventPublisher := broker.NewEventPublisher(producer)

	gateway := khalti.NewClient(cfg.Khalti.BaseURL, cfg.Khalti.SecretKey, cfg.Business.GatewayTimeout)
	mailer := notify.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From)
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	checkoutService := service.NewCheckoutService(db, db, db, gateway, eventPublisher, service.CheckoutConfig{
		PaymentHold:       cfg.Business.PaymentHold,
		ReturnURL:         cfg.URLs.Backend + "/complete-khalti-payment",
		WebsiteURL:        cfg.URLs.Frontend,
		PurchaseOrderName: cfg.Business.PurchaseOrderName,
		AssetBaseURL:      cfg.URLs.Backend,
	})
	paymentService := service.NewPaymentService(db, db, db, db, gateway, eventPublisher, cfg.URLs.Backend)
	catalogService := service.NewCatalogService(db, cfg.URLs.Backend, cfg.Business.DefaultPageSize, cfg.Business.MaxPageSize)
	orderService := service.NewOrderService(db, db, cfg.URLs.Backend, cfg.Business.DefaultPageSize, cfg.Business.MaxPageSize)
	reviewService := service.NewReviewService(db, db)
	authService := service.NewAuthService(redisClient, db, mailer, tokens, service.AuthConfig{
		OTPTTL:      cfg.Auth.OTPTTL,
		OTPAttempts: cfg.Auth.OTPAttempts,
		AdminEmails: cfg.Auth.AdminEmails,
	})

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, cfg.Kafka.ConsumerGroup)
	notificationWorker := worker.NewNotificationWorker(consumer, mailer)
	go func() {
		if err := notificationWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Notification worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Services{
		Checkout: checkoutService,
		Payments: paymentService,
		Catalog:  catalogService,
		Orders:   orderService,
		Reviews:  reviewService,
		Auth:     authService,
	}, redisClient, tokens, map[string]api.Pinger{
		"postgres": db,
		"redis":    redisClient,
	}, api.Options{
		FrontendURL:    cfg.URLs.Frontend,
		AllowedOrigins: []string{cfg.URLs.Frontend, cfg.URLs.Admin},
		IdempotencyTTL: cfg.Business.IdempotencyKeyTTL,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := notificationWorker.Stop(); err != nil {
		logger.Error("Error stopping notification worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
