package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mrugaya/storefront-backend/common/auth"
	apperrors "github.com/mrugaya/storefront-backend/common/errors"
	"github.com/mrugaya/storefront-backend/common/logger"
	"github.com/mrugaya/storefront-backend/common/middleware"
	"github.com/mrugaya/storefront-backend/config"
	"github.com/mrugaya/storefront-backend/controllers"
	"github.com/mrugaya/storefront-backend/database"
	"github.com/mrugaya/storefront-backend/events"
	awspkg "github.com/mrugaya/storefront-backend/pkg/aws"
	"github.com/mrugaya/storefront-backend/pkg/retry"
	"github.com/mrugaya/storefront-backend/repository"
	"github.com/mrugaya/storefront-backend/routes"
	"github.com/mrugaya/storefront-backend/services"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const serviceName = "storefront-checkout"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	var awsCfg *sdkaws.Config
	if cfg.EventSink == "sns" || cfg.CloudWatchMetrics || cfg.CloudWatchLogs {
		c, err := awspkg.LoadAWSConfig(ctx, cfg.AWSRegion, cfg.AWSEndpoint)
		if err != nil {
			log.Fatalf("Failed to load AWS config: %v", err)
		}
		awsCfg = &c
	}

	var sink *awspkg.CloudWatchLogsClient
	if cfg.CloudWatchLogs && awsCfg != nil {
		sink, err = awspkg.NewCloudWatchLogsClient(ctx, *awsCfg, cfg.CloudWatchLogGroup, serviceName)
		if err != nil {
			log.Printf("CloudWatch Logs unavailable, logging to stdout only: %v", err)
			sink = nil
		}
	}

	var zapLogger *zap.Logger
	if sink != nil {
		zapLogger, err = logger.New(cfg.AppEnv, sink)
	} else {
		zapLogger, err = logger.New(cfg.AppEnv, nil)
	}
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zapLogger.Sync() //nolint:errcheck

	var metrics *awspkg.MetricsClient
	if awsCfg != nil {
		metrics = awspkg.NewMetricsClient(*awsCfg, "Storefront", cfg.CloudWatchMetrics)
	}

	// Storage
	db, err := database.Connect(cfg.DSN(), zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db) //nolint:errcheck
	if err := database.Migrate(db); err != nil {
		zapLogger.Fatal("Failed to migrate order tables", zap.Error(err))
	}
	orderRepo := repository.NewGormOrderRepository(db)

	health := map[string]controllers.Pinger{"postgres": database.Ping(db)}

	var idem repository.IdempotencyStore
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			zapLogger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		idem = repository.NewRedisIdempotencyStore(redisClient)
		health["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	} else {
		zapLogger.Warn("REDIS_URL not set, idempotency keys are kept in memory")
		idem = repository.NewMemoryIdempotencyStore()
	}

	// Events
	var publisher events.Publisher
	switch cfg.EventSink {
	case "sns":
		publisher = events.NewSNSPublisher(awspkg.NewSNSClient(*awsCfg, zapLogger), cfg.OrderSNSTopicARN)
	case "kafka":
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, zapLogger)
	default:
		publisher = events.NewNoopPublisher(zapLogger)
	}

	// Payments and checkout
	gateway := services.NewRazorpayGateway(cfg.RazorpayKeyID, cfg.RazorpayKeySecret, zapLogger)
	verifier := services.NewSignatureVerifier(cfg.RazorpayKeySecret)
	widget := services.NewWidgetBroker(cfg.RazorpayKeyID)
	reconciler := services.NewReconciler(gateway,
		retry.Policy{MaxRetries: cfg.ReconcileMaxRetries, Interval: cfg.ReconcileInterval}, metrics, zapLogger)
	reconciler.SetRetention(cfg.ReconcileRetention)

	orderService := services.NewOrderService(orderRepo, verifier, publisher, zapLogger)
	reconciler.OnSettle(orderService.ApplyReconciliation)
	paymentService := services.NewPaymentService(gateway, verifier, reconciler, zapLogger)
	checkoutService := services.NewCheckoutService(orderRepo, gateway, widget, verifier, publisher, idem, metrics, zapLogger)
	checkoutService.SetSessionTTL(cfg.CheckoutSessionTTL)

	// HTTP
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(zapLogger))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))
	r.Use(middleware.RateLimitMiddleware(cfg.RateLimitRPM, cfg.RateLimitBurst))
	r.Use(middleware.MetricsMiddleware(metrics, serviceName))
	r.Use(middleware.OptionalAuth(auth.NewTokenParser(cfg.JWTSecret), zapLogger))
	r.Use(apperrors.ErrorMiddleware())

	routes.RegisterRoutes(r, routes.Controllers{
		Health:   controllers.NewHealthController(serviceName, health),
		Payment:  controllers.NewPaymentController(paymentService, zapLogger),
		Checkout: controllers.NewCheckoutController(checkoutService, zapLogger),
		Order:    controllers.NewOrderController(orderService, zapLogger),
	}, cfg.RequestTimeout)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Server failed", zap.Error(err))
		}
	}()

	zapLogger.Info("Storefront checkout service started",
		zap.String("port", cfg.Port),
		zap.String("event_sink", cfg.EventSink),
	)
	<-quit
	zapLogger.Info("Shutting down storefront checkout service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Open checkout sessions would otherwise hold their completion requests.
	if err := checkoutService.Shutdown(shutdownCtx); err != nil {
		zapLogger.Warn("Checkout sessions still open at shutdown", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := reconciler.Shutdown(shutdownCtx); err != nil {
		zapLogger.Warn("Payment verifications still running at shutdown", zap.Error(err))
	}
	if err := publisher.Close(); err != nil {
		zapLogger.Warn("Failed to close event publisher", zap.Error(err))
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	zapLogger.Info("Server exited cleanly")
}
