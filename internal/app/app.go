package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paylink_backend/database"
	"paylink_backend/internal/auth"
	"paylink_backend/internal/config"
	"paylink_backend/internal/events"
	"paylink_backend/internal/handlers"
	"paylink_backend/internal/logger"
	"paylink_backend/internal/middleware"
	"paylink_backend/internal/notify"
	"paylink_backend/internal/repositories"
	"paylink_backend/internal/routes"
	"paylink_backend/internal/services"
	"paylink_backend/internal/settlement"
	"paylink_backend/internal/storage"
	"paylink_backend/internal/stream"
	"paylink_backend/internal/validator"
	"paylink_backend/internal/workers"
	"paylink_backend/pkg/apperrors"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Dependencies overrides the externally facing collaborators. Nil fields are
// built from the config.
type Dependencies struct {
	Provider       settlement.Provider
	PayoutProvider settlement.PayoutProvider
	Publisher      events.Publisher
	Notifier       notify.Notifier
	Archive        storage.Storage
	Clock          services.Clock
}

// Application is a fully wired instance of the service.
type Application struct {
	Config   *config.Config
	DB       *gorm.DB
	Services *services.ServiceContainer
	Router   *gin.Engine
	Worker   *workers.ReconciliationWorker
	Hub      *stream.Hub // nil when the live stream is disabled
}

func Run() {
	if err := config.LoadConfig(); err != nil {
		logger.Fatal("Failed to load config", "error", err)
	}
	cfg := config.AppConfig

	if err := Serve(context.Background(), cfg); err != nil {
		logger.Fatal("Server stopped with error", "error", err)
	}
}

// Serve bootstraps the application and blocks until SIGINT/SIGTERM or ctx is
// done, then drains HTTP and the reconciliation worker.
func Serve(ctx context.Context, cfg *config.Config) error {
	Bootstrap(cfg)

	gormDB, err := Connect(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := New(ctx, cfg, gormDB, Dependencies{})
	if err != nil {
		return err
	}

	if cfg.Reconciliation.Enabled {
		application.Worker.Start(ctx)
	} else {
		logger.Warn("Reconciliation worker disabled")
	}

	address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              address,
		Handler:           application.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			application.Worker.Stop()
			return fmt.Errorf("server startup error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", "error", err)
	}
	application.Worker.Stop()

	if sqlDB, err := gormDB.DB(); err == nil {
		_ = sqlDB.Close()
	}
	return nil
}

// Bootstrap initialises the process-wide logger, error and token settings.
func Bootstrap(cfg *config.Config) {
	logger.Init(cfg.Server.Env)
	logger.Info("Logger initialized", "env", cfg.Server.Env)
	apperrors.SetDebug(cfg.Server.Env != "production")
	auth.Configure(cfg.JWT.Secret)
}

// Connect opens the database, pings it and runs migrations.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	logger.Info("Connecting to database...", "driver", cfg.Database.Driver)
	gormDB, err := database.Open(cfg.Database.Driver, cfg.Database.DSN, nil)
	if err != nil {
		return nil, err
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get *sql.DB from GORM: %w", err)
	}
	if err = sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database unavailable: %w", err)
	}
	logger.Info("Database connected")

	if err := database.Migrate(gormDB); err != nil {
		return nil, err
	}
	logger.Info("Database migrated")
	return gormDB, nil
}

// New wires repositories, services, handlers, router and worker.
func New(ctx context.Context, cfg *config.Config, gormDB *gorm.DB, deps Dependencies) (*Application, error) {
	if err := resolveDependencies(ctx, cfg, &deps); err != nil {
		return nil, err
	}

	var hub *stream.Hub
	publishers := []events.Publisher{deps.Publisher, notify.NewPayoutFailureSubscriber(deps.Notifier)}
	if cfg.Stream.Enabled {
		hub = stream.NewHub()
		go hub.Run(ctx)
		publishers = append(publishers, hub)
	}
	deps.Publisher = events.NewFanout(publishers...)

	serviceContainer := initializeServices(cfg, gormDB, deps)
	appHandlers := initializeHandlers(cfg, serviceContainer, deps, hub)

	ginRouter := initializeGinRouter(cfg)
	routes.RegisterRoutes(ginRouter, appHandlers)

	return &Application{
		Config:   cfg,
		DB:       gormDB,
		Services: serviceContainer,
		Router:   ginRouter,
		Worker:   workers.NewReconciliationWorker(serviceContainer.ReconciliationService, cfg.Reconciliation.Interval),
		Hub:      hub,
	}, nil
}

// SetupRouter returns only the HTTP engine of a wired application.
func SetupRouter(cfg *config.Config, gormDB *gorm.DB, deps Dependencies) (*gin.Engine, error) {
	application, err := New(context.Background(), cfg, gormDB, deps)
	if err != nil {
		return nil, err
	}
	return application.Router, nil
}

func resolveDependencies(ctx context.Context, cfg *config.Config, deps *Dependencies) error {
	if deps.Provider == nil {
		provider, err := newSettlementProvider(cfg)
		if err != nil {
			return err
		}
		deps.Provider = provider
	}

	if deps.PayoutProvider == nil {
		if cfg.Payouts.Enabled {
			deps.PayoutProvider = settlement.NewHTTPProvider(cfg.Settlement.BaseURL, cfg.Settlement.APIKey, cfg.Settlement.Timeout)
		} else {
			logger.Warn("Payouts disabled, payout requests will fail without reaching a provider")
			deps.PayoutProvider = &DisabledPayoutProvider{}
		}
	}

	if deps.Publisher == nil {
		if cfg.Events.SQSQueueURL != "" {
			publisher, err := events.NewSQSPublisher(ctx, events.SQSOptions{
				QueueURL:  cfg.Events.SQSQueueURL,
				Region:    cfg.Events.AWSRegion,
				AccessKey: cfg.Events.AWSAccessKey,
				SecretKey: cfg.Events.AWSSecretKey,
			})
			if err != nil {
				return fmt.Errorf("init sqs publisher: %w", err)
			}
			deps.Publisher = publisher
			logger.Info("State change events published to SQS", "queue", cfg.Events.SQSQueueURL)
		} else {
			deps.Publisher = events.NewLogPublisher()
		}
	}

	if deps.Notifier == nil {
		if cfg.Notify.SMTPHost != "" {
			notifier, err := notify.NewSMTPNotifier(notify.SMTPConfig{
				Host:      cfg.Notify.SMTPHost,
				Port:      cfg.Notify.SMTPPort,
				Username:  cfg.Notify.SMTPUser,
				Password:  cfg.Notify.SMTPPassword,
				FromEmail: cfg.Notify.FromEmail,
				To:        cfg.Notify.Operators,
			})
			if err != nil {
				return fmt.Errorf("init smtp notifier: %w", err)
			}
			deps.Notifier = notifier
		} else {
			deps.Notifier = notify.LogNotifier{}
		}
	}

	if deps.Archive == nil && cfg.Archive.Type != "" {
		store, err := storage.NewStorage(ctx, storage.Config{
			Type:      cfg.Archive.Type,
			BasePath:  cfg.Archive.BasePath,
			Bucket:    cfg.Archive.Bucket,
			Region:    cfg.Archive.Region,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			Endpoint:  cfg.Archive.Endpoint,
		})
		if err != nil {
			return fmt.Errorf("init webhook archive: %w", err)
		}
		deps.Archive = store
		logger.Info("Webhook archive initialized", "type", cfg.Archive.Type)
	}

	if deps.Clock == nil {
		deps.Clock = services.SystemClock
	}
	return nil
}

func newSettlementProvider(cfg *config.Config) (settlement.Provider, error) {
	s := cfg.Settlement
	switch s.Provider {
	case "paypal":
		provider, err := settlement.NewPayPalProvider(s.PayPal.ClientID, s.PayPal.ClientSecret, s.PayPal.Sandbox, s.CallbackURL)
		if err != nil {
			return nil, fmt.Errorf("init paypal provider: %w", err)
		}
		logger.Info("Settlement provider initialized", "provider", "paypal", "sandbox", s.PayPal.Sandbox)
		return provider, nil
	default:
		logger.Info("Settlement provider initialized", "provider", "http", "baseUrl", s.BaseURL)
		return settlement.NewHTTPProvider(s.BaseURL, s.APIKey, s.Timeout), nil
	}
}

func initializeServices(cfg *config.Config, gormDB *gorm.DB, deps Dependencies) *services.ServiceContainer {
	// --- Repositories ---
	txRepo := repositories.NewTransactionRepository(gormDB)
	linkRepo := repositories.NewPaymentLinkRepository(gormDB)
	auditRepo := repositories.NewAuditRepository(gormDB)
	payoutRepo := repositories.NewPayoutRepository(gormDB)
	verifyRepo := repositories.NewVerificationRepository(gormDB)

	// --- Services ---
	auditService := services.NewAuditService(auditRepo, deps.Clock)
	interceptor := services.NewAuditInterceptor(auditService)

	var retryPolicy services.PayoutRetryPolicy = services.OperatorRetryPolicy{}
	if cfg.Payouts.MaxRetries > 0 {
		retryPolicy = services.LimitedRetryPolicy{Max: cfg.Payouts.MaxRetries, AuditRepo: auditRepo}
	}
	stateManager := services.NewStateManager(txRepo, auditService, deps.Publisher, retryPolicy, deps.Clock)

	txService := services.NewTransactionService(services.TransactionServiceDeps{
		TxRepo:       txRepo,
		LinkRepo:     linkRepo,
		VerifyRepo:   verifyRepo,
		StateManager: stateManager,
		Audit:        auditService,
		Interceptor:  interceptor,
		Provider:     deps.Provider,
		CallbackURL:  cfg.Settlement.CallbackURL,
		LockTimeout:  cfg.Reconciliation.LockTimeout,
		Clock:        deps.Clock,
	})

	r := cfg.Reconciliation
	reconcileService := services.NewReconciliationService(
		txRepo, verifyRepo, txService, stateManager, auditService, interceptor, deps.Provider,
		services.ReconciliationOptions{
			WorkerID:    r.WorkerID,
			Workers:     r.Workers,
			BatchSize:   r.BatchSize,
			Cooldown:    r.Cooldown,
			LockTimeout: r.LockTimeout,
			InitGrace:   r.InitGrace,
		},
		deps.Clock,
	)

	payoutService := services.NewPayoutService(txRepo, payoutRepo, stateManager, auditService, interceptor, deps.PayoutProvider, deps.Clock)
	linkService := services.NewPaymentLinkService(linkRepo, interceptor, deps.Clock)

	return &services.ServiceContainer{
		AuditService:          auditService,
		AuditInterceptor:      interceptor,
		StateManager:          stateManager,
		TransactionService:    txService,
		ReconciliationService: reconcileService,
		PayoutService:         payoutService,
		PaymentLinkService:    linkService,
	}
}

func initializeHandlers(cfg *config.Config, sc *services.ServiceContainer, deps Dependencies, hub *stream.Hub) *handlers.AppHandlers {
	baseHandler := handlers.NewBaseHandler(validator.New())

	var archive *storage.WebhookArchive
	if deps.Archive != nil {
		archive = storage.NewWebhookArchive(deps.Archive, deps.Clock)
	}

	appHandlers := &handlers.AppHandlers{
		PaymentLinkHandler: handlers.NewPaymentLinkHandler(baseHandler, sc.PaymentLinkService),
		TransactionHandler: handlers.NewTransactionHandler(baseHandler, sc.TransactionService, sc.ReconciliationService),
		PayoutHandler:      handlers.NewPayoutHandler(baseHandler, sc.PayoutService),
		WebhookHandler:     handlers.NewWebhookHandler(baseHandler, sc.ReconciliationService, cfg.Settlement.WebhookSecret, archive),
	}
	if hub != nil {
		appHandlers.StreamHandler = stream.NewHandler(hub)
	}
	return appHandlers
}

func initializeGinRouter(cfg *config.Config) *gin.Engine {
	if cfg.Server.Env == "production" || cfg.Server.Env == "test" {
		gin.SetMode(gin.ReleaseMode)
	}

	ginRouter := gin.New()
	ginRouter.Use(gin.Recovery())
	ginRouter.Use(middleware.RequestIDMiddleware())
	ginRouter.Use(middleware.CorrelationIDMiddleware())
	ginRouter.Use(middleware.LoggingMiddleware())
	return ginRouter
}
