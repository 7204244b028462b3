package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/treasuretrails/payments-backend/internal/bus"
	"github.com/treasuretrails/payments-backend/internal/config"
	"github.com/treasuretrails/payments-backend/internal/crypto"
	"github.com/treasuretrails/payments-backend/internal/database"
	"github.com/treasuretrails/payments-backend/internal/gateway"
	"github.com/treasuretrails/payments-backend/internal/handlers"
	"github.com/treasuretrails/payments-backend/internal/middleware"
	"github.com/treasuretrails/payments-backend/internal/models"
	"github.com/treasuretrails/payments-backend/internal/resilience"
	"github.com/treasuretrails/payments-backend/internal/services"
	"github.com/treasuretrails/payments-backend/pkg/jwt"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting TreasureTrails Payments Backend")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Set log level
	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Set Gin mode
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize database connection
	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	// Initialize crypto provider. Config validation has already refused
	// the dev provider in production.
	var provider crypto.Provider
	if cfg.KMS.DevMode {
		logger.Warn("Using DEV crypto provider - ciphertext is base64, NOT encrypted")
		provider, err = crypto.NewDevProvider(true, cfg.KMS.DevHMACSecret)
		if err != nil {
			logger.Fatalf("Failed to initialize dev crypto provider: %v", err)
		}
	} else {
		logger.Infof("Using transit KMS at %s", cfg.KMS.URI)
		provider = crypto.NewVaultProvider(cfg.KMS.URI, cfg.KMS.Token, logger)
	}

	// Initialize repositories
	userRepository := database.NewUserRepository(db.DB, logger)
	addressRepository := database.NewAddressRepository(db.DB, logger)
	consentRepository := database.NewConsentRepository(db.DB, logger)
	auditRepository := database.NewUserAuditRepository(db.DB, logger)
	invoiceRepository := database.NewInvoiceRepository(db.DB, logger)
	paymentRepository := database.NewPaymentRepository(db.DB, logger)
	payoutRepository := database.NewPayoutRepository(db.DB, logger)
	vendorRepository := database.NewVendorRepository(db.DB, logger)
	linkRepository := database.NewPaymentLinkRepository(db.DB, logger)
	outboxRepository := database.NewOutboxRepository(db.DB, logger)

	// Initialize gateway client and the resilience policies that guard it
	gatewayClient := gateway.NewClient(cfg.Gateway, logger)
	ordersPolicy := resilience.NewPolicy("gatewayOrdersApi", cfg.Resilience.OrdersAPI, logger)
	paymentsPolicy := resilience.NewPolicy("gatewayPaymentsApi", cfg.Resilience.PaymentsAPI, logger)
	payoutsPolicy := resilience.NewPolicy("gatewayPayoutsApi", cfg.Resilience.PayoutsAPI, logger)

	// Initialize services
	logger.Info("Initializing services...")
	jwtService := jwt.NewService(cfg.ServiceToken.Secret, cfg.ServiceToken.Expiry)

	identityService := services.NewIdentityService(
		db.DB,
		userRepository,
		addressRepository,
		consentRepository,
		auditRepository,
		outboxRepository,
		provider,
		cfg.KMS.PIIKey,
		cfg.KMS.HMACKey,
		logger,
	)

	orchestrator := services.NewPaymentOrchestrator(
		db.DB,
		invoiceRepository,
		paymentRepository,
		payoutRepository,
		vendorRepository,
		linkRepository,
		outboxRepository,
		gatewayClient,
		ordersPolicy,
		paymentsPolicy,
		logger,
	)

	payoutService := services.NewPayoutService(
		db.DB,
		payoutRepository,
		vendorRepository,
		outboxRepository,
		gatewayClient,
		payoutsPolicy,
		logger,
	)

	reconciler := services.NewReconcilerService(
		invoiceRepository,
		payoutRepository,
		orchestrator,
		payoutService,
		gatewayClient,
		paymentsPolicy,
		logger,
	)

	// Connect to the bus: the publisher drains the outbox, the consumer
	// feeds enrollment events into the orchestrator
	publisher, err := bus.NewPublisher(cfg.Bus, logger)
	if err != nil {
		logger.Fatalf("Failed to connect bus publisher: %v", err)
	}
	defer publisher.Close()

	consumer, err := bus.NewConsumer(cfg.Bus.URL, logger)
	if err != nil {
		logger.Fatalf("Failed to connect bus consumer: %v", err)
	}
	defer consumer.Close()

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	dispatcher := services.NewOutboxDispatcher(outboxRepository, publisher, cfg.Outbox, logger)
	dispatcher.Start(rootCtx)

	err = consumer.SubscribeEnrollments(rootCtx, func(ctx context.Context, event *models.EnrollmentCreated) error {
		_, err := orchestrator.ProcessEnrollment(ctx, event)
		return err
	})
	if err != nil {
		logger.Fatalf("Failed to subscribe to enrollment events: %v", err)
	}

	// Initialize and start cron service
	cronService := services.NewCronService(dispatcher, reconciler, payoutService)
	if err := cronService.Start(); err != nil {
		logger.Fatalf("Failed to start cron service: %v", err)
	}

	logger.Info("Services initialized")

	// Initialize handlers
	webhookHandler := handlers.NewWebhookHandler(orchestrator, payoutService, gatewayClient, logger)
	identityHandler := handlers.NewIdentityHandler(identityService, logger)
	defaultCommission, err := decimal.NewFromString(cfg.Commission.Percent)
	if err != nil {
		logger.Fatalf("Invalid COMMISSION_PERCENT: %v", err)
	}
	vendorHandler := handlers.NewVendorHandler(vendorRepository, defaultCommission, logger)

	// Initialize Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(cors.Default())

	// Health check and metrics
	router.GET("/health", healthCheckHandler(db))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Gateway webhooks authenticate with an HMAC signature over the raw
	// body, not a service token
	router.POST("/webhooks/razorpay", webhookHandler.PaymentWebhook)
	router.POST("/webhooks/razorpayx", webhookHandler.PayoutWebhook)

	// Internal identity surface (service tokens required)
	internal := router.Group("/internal")
	internal.Use(middleware.AuthMiddleware(jwtService))
	{
		users := internal.Group("/users")
		{
			users.GET("/lookup", identityHandler.LookupUser)
			users.POST("/bulk", identityHandler.BulkLookup)
			users.GET("/:referenceId", identityHandler.GetUser)
			users.GET("/:referenceId/addresses", identityHandler.ListAddresses)
			users.GET("/:referenceId/consents", identityHandler.ListConsents)

			mutate := users.Group("")
			mutate.Use(middleware.RequireRole(jwt.RoleAdmin, jwt.RoleSupport))
			{
				mutate.POST("", identityHandler.CreateUser)
				mutate.PUT("/:referenceId", identityHandler.UpdateUser)
				mutate.DELETE("/:referenceId", identityHandler.ArchiveUser)
				mutate.POST("/:referenceId/reactivate", identityHandler.ReactivateUser)
				mutate.POST("/:referenceId/addresses", identityHandler.AddAddress)
				mutate.PUT("/:referenceId/addresses/:addressId", identityHandler.UpdateAddress)
				mutate.POST("/:referenceId/addresses/:addressId/primary", identityHandler.SetPrimaryAddress)
				mutate.DELETE("/:referenceId/addresses/:addressId", identityHandler.DeleteAddress)
				mutate.POST("/:referenceId/consents", identityHandler.RecordConsent)
			}

			users.POST("/:referenceId/anonymize",
				middleware.RequireRole(jwt.RoleAdmin), identityHandler.AnonymizeUser)
			users.GET("/:referenceId/export",
				middleware.RequireRole(jwt.RoleAdmin, jwt.RoleOwner), identityHandler.ExportUser)
		}

		// Vendor payout profiles (admin only)
		vendors := internal.Group("/vendors")
		vendors.Use(middleware.RequireRole(jwt.RoleAdmin))
		{
			vendors.POST("", vendorHandler.CreateVendor)
			vendors.GET("/:vendorId", vendorHandler.GetVendor)
			vendors.PUT("/:vendorId/bank", vendorHandler.UpdateBankDetails)
			vendors.PUT("/:vendorId/commission", vendorHandler.UpdateCommissionRate)
			vendors.PUT("/:vendorId/active", vendorHandler.SetActive)
		}

		// Operational endpoints
		admin := internal.Group("/admin")
		admin.Use(middleware.RequireRole(jwt.RoleAdmin))
		{
			admin.GET("/cron/status", func(c *gin.Context) {
				c.JSON(http.StatusOK, cronService.GetJobStatus())
			})
			admin.POST("/cron/reconcile", func(c *gin.Context) {
				if err := cronService.RunReconcileNow(); err != nil {
					c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
					return
				}
				c.JSON(http.StatusOK, gin.H{"message": "reconciliation triggered"})
			})
			admin.POST("/outbox/dispatch", func(c *gin.Context) {
				published, err := dispatcher.DispatchBatch(c.Request.Context())
				if err != nil {
					c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
					return
				}
				c.JSON(http.StatusOK, gin.H{"published": published})
			})
		}
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Stop intake first, then the background workers, then the server
	consumer.Close()
	cronService.Stop()
	dispatcher.Stop()
	cancelRoot()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited successfully")
}

// requestLogger middleware for logging HTTP requests
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		fields := logrus.Fields{
			"status":     c.Writer.Status(),
			"method":     c.Request.Method,
			"path":       path,
			"ip":         c.ClientIP(),
			"latency_ms": latency.Milliseconds(),
		}

		if actor, ok := middleware.GetActorContext(c); ok {
			fields["actor_id"] = actor.ActorID
			fields["correlation_id"] = actor.CorrelationID
		}

		entry := logger.WithFields(fields)
		switch {
		case len(c.Errors) > 0:
			entry.WithField("errors", c.Errors.String()).Error("Request failed with errors")
		case c.Writer.Status() >= 500:
			entry.Error("Request completed with server error")
		case c.Writer.Status() >= 400:
			entry.Warn("Request completed with client error")
		default:
			entry.Info("Request completed successfully")
		}
	}
}

// healthCheckHandler returns a health check endpoint
func healthCheckHandler(db *database.PostgresDB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": "unhealthy",
				"error":    err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"database":  "healthy",
			"version":   version,
			"timestamp": time.Now().Unix(),
		})
	}
}
