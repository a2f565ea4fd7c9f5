package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	sentryslog "github.com/getsentry/sentry-go/slog"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"

	"github.com/pagoshq/pagos/internal/cache"
	"github.com/pagoshq/pagos/internal/config"
	"github.com/pagoshq/pagos/internal/crypto"
	"github.com/pagoshq/pagos/internal/db"
	"github.com/pagoshq/pagos/internal/events"
	"github.com/pagoshq/pagos/internal/handlers"
	"github.com/pagoshq/pagos/internal/logging"
	"github.com/pagoshq/pagos/internal/observability"
	"github.com/pagoshq/pagos/internal/pricing"
	"github.com/pagoshq/pagos/internal/services"
)

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	DB            *pgxpool.Pool
	CacheProvider cache.Provider
	Publisher     *events.Publisher
	Handlers      *handlers.Handlers
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			EnableTracing:    true,
			TracesSampleRate: 1.0,
			EnableLogs:       true,
		}); err != nil {
			return nil, fmt.Errorf("failed to initialize sentry: %w", err)
		}
	}

	logger := newLogger(cfg)

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	database, err := db.Connect(startupCtx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	cacheProvider, err := cache.NewProvider(cache.Config{
		Provider:              cfg.CacheProvider,
		RedisConnectionString: cfg.RedisConnectionString,
	})
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize cache provider: %w", err)
	}

	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKey)
	if err != nil {
		closeCacheProvider(logger, cacheProvider)
		database.Close()
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	var zones []pricing.Zone
	if cfg.ShippingZonesFile != "" {
		zones, err = pricing.LoadZones(cfg.ShippingZonesFile)
		if err != nil {
			closeCacheProvider(logger, cacheProvider)
			database.Close()
			return nil, fmt.Errorf("failed to load shipping zones: %w", err)
		}
	}

	publisher := events.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopicPrefix+".payments")

	tenantStore := db.NewTenantStore(database, encryptor)
	variantStore := db.NewVariantStore(database)
	couponStore := db.NewCouponStore(database)
	orderStore := db.NewOrderStore(database)
	paymentStore := db.NewPaymentStore(database)
	webhookLogStore := db.NewWebhookLogStore(database)

	pricer := pricing.NewEngine(pricing.NewShippingCalculator(zones, nil))

	adapterFactory := services.NewAdapterFactory(services.GatewayEnvironment{
		FlowAPIURL:          cfg.FlowAPIURL,
		KhipuAPIURL:         cfg.KhipuAPIURL,
		TransbankAPIURL:     cfg.TransbankAPIURL,
		StripeWebhookSecret: cfg.StripeWebhookSecret,
		BaseURL:             strings.TrimRight(cfg.BaseURL, "/"),
		Client:              observability.NewHTTPClient(cfg.GatewayHTTPTimeout),
	}, tenantStore)

	checkoutService := services.NewCheckoutService(
		tenantStore,
		variantStore,
		couponStore,
		orderStore,
		pricer,
		logger.With("component", "checkout_service"),
	)
	paymentService := services.NewPaymentService(
		orderStore,
		paymentStore,
		webhookLogStore,
		adapterFactory,
		cacheProvider,
		publisher,
		strings.TrimRight(cfg.FrontendBaseURL, "/"),
		logger.With("component", "payment_service"),
	)
	orderService := services.NewOrderService(
		orderStore,
		publisher,
		logger.With("component", "order_service"),
	)

	h, err := handlers.New(handlers.Dependencies{
		Config:          cfg,
		DB:              database,
		CheckoutService: checkoutService,
		PaymentService:  paymentService,
		OrderService:    orderService,
		TenantStore:     tenantStore,
		Logger:          logger,
	})
	if err != nil {
		closePublisher(logger, publisher)
		closeCacheProvider(logger, cacheProvider)
		database.Close()
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	return &App{
		Config:        cfg,
		Logger:        logger,
		DB:            database,
		CacheProvider: cacheProvider,
		Publisher:     publisher,
		Handlers:      h,
	}, nil
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Publisher != nil {
		closePublisher(a.Logger, a.Publisher)
	}
	if a.CacheProvider != nil {
		closeCacheProvider(a.Logger, a.CacheProvider)
	}
	if a.DB != nil {
		a.DB.Close()
	}
	if a.Config != nil && a.Config.SentryDSN != "" {
		sentry.Flush(2 * time.Second)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(cfg.LogFormat)) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level: cfg.LogLevel,
		})
	}

	if cfg.SentryDSN != "" {
		handler = logging.MultiHandler(handler, sentryslog.Option{
			EventLevel: []slog.Level{slog.LevelError},
			LogLevel:   []slog.Level{slog.LevelWarn, slog.LevelInfo},
		}.NewSentryHandler(context.Background()))
	}

	return slog.New(handler)
}

func closeCacheProvider(logger *slog.Logger, provider cache.Provider) {
	if provider == nil {
		return
	}
	if err := provider.Close(); err != nil && logger != nil {
		logger.Warn("failed to close cache provider", "error", err)
	}
}

func closePublisher(logger *slog.Logger, publisher *events.Publisher) {
	if err := publisher.Close(); err != nil && logger != nil {
		logger.Warn("failed to close event publisher", "error", err)
	}
}
