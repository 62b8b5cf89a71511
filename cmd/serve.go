package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/fjod/wa-commerce/internal/cache"
	"github.com/fjod/wa-commerce/internal/config"
	"github.com/fjod/wa-commerce/internal/domain"
	"github.com/fjod/wa-commerce/internal/geocoding"
	apphttp "github.com/fjod/wa-commerce/internal/http"
	"github.com/fjod/wa-commerce/internal/metrics"
	"github.com/fjod/wa-commerce/internal/notifier"
	"github.com/fjod/wa-commerce/internal/payment"
	"github.com/fjod/wa-commerce/internal/publisher"
	"github.com/fjod/wa-commerce/internal/receipt"
	"github.com/fjod/wa-commerce/internal/repository"
	"github.com/fjod/wa-commerce/internal/secret"
	"github.com/fjod/wa-commerce/internal/service"
	"github.com/fjod/wa-commerce/internal/tenant"
	"github.com/fjod/wa-commerce/internal/whatsapp"
	"github.com/fjod/wa-commerce/internal/worker"
)

const (
	outboundTimeout = 10 * time.Second
	sweepInterval   = time.Minute
	jobTimeout      = time.Minute
)

func serve(cfg *config.Config, log *slog.Logger) error {
	log.Info("wa-commerce starting", "version", Version, "addr", cfg.HTTPAddr)
	var wg sync.WaitGroup

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Database setup
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	db, err := repository.ConnectMongoDB(connectCtx, cfg.MongoURI, cfg.MongoDBName)
	cancel()
	if err != nil {
		return fmt.Errorf("connect to mongodb: %w", err)
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.Client().Disconnect(disconnectCtx); err != nil {
			log.Warn("mongodb disconnect failed", "error", err)
		}
	}()

	if err := repository.RunMigrations(cfg.MongoURI, cfg.MongoDBName); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info("database migrations completed")

	conversations := repository.NewConversationRepository(db)
	orders := repository.NewOrderRepository(db)
	outbox := repository.NewOutboxRepository(db)
	tenants := repository.NewTenantRepository(db)

	// Redis
	rdb := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword)
	defer rdb.Close()
	geocodeCache := cache.NewGeocodeCache(rdb, cfg.GeocodeCacheTTL)
	ledger := cache.NewEventLedger(rdb, cfg.EventDedupeTTL)

	cipher, err := secret.NewCipher(cfg.EncryptionKey)
	if err != nil {
		return err
	}

	resolver := tenant.NewResolver(tenants, cipher, cfg.TenantCacheTTL, log, m)
	outboundHTTP := whatsapp.NewHTTPClient(outboundTimeout)
	clients := tenant.NewClients(cfg.ClientCacheTTL,
		func(tc *domain.TenantConfig) (service.Messenger, error) {
			return whatsapp.NewClient(cfg.WhatsAppAPIBase, tc.WhatsApp, outboundHTTP, log, m), nil
		},
		func(tc *domain.TenantConfig) (service.PaymentProvider, error) {
			return payment.NewProvider(tc.Razorpay, cfg.AppURL, log), nil
		},
	)

	queue := worker.NewKeyedQueue(cfg.QueueIdle, log, m)
	geocoder := geocoding.NewClient(geocoding.Config{
		URL:       cfg.GeocoderURL,
		UserAgent: cfg.GeocoderUserAgent,
		RPS:       cfg.GeocoderRPS,
		Timeout:   outboundTimeout,
	}, geocodeCache, log, m)

	engine := service.NewEngine(service.Deps{
		Conversations:        conversations,
		Orders:               orders,
		Outbox:               outbox,
		Tenants:              resolver,
		Clients:              clients,
		Geocoder:             geocoder,
		Receipts:             receipt.NewGenerator(cfg.ReceiptsDir, cfg.AppURL, log),
		Serializer:           queue,
		Logger:               log,
		Metrics:              m,
		DefaultCountry:       cfg.DefaultCountry,
		DefaultWebhookSecret: cfg.PaymentWebhookSecret,
		JobTimeout:           jobTimeout,
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		tenant.RunSweeper(ctx, sweepInterval, resolver, clients)
	}()

	// Order events
	var (
		poller   *publisher.OutboxPoller
		consumer *notifier.Consumer
	)
	if cfg.KafkaEnabled() {
		poller = publisher.NewOutboxPoller(outbox, cfg.KafkaTopic, log, m, cfg.KafkaBrokers...)
		consumer = notifier.NewConsumer(resolver, notifier.NewGateway(outboundTimeout, log, m),
			cfg.KafkaTopic, cfg.KafkaGroupID, log, cfg.KafkaBrokers...)

		wg.Add(2)
		go func() {
			defer wg.Done()
			poller.Run(ctx)
		}()
		go func() {
			defer wg.Done()
			consumer.Run(ctx)
		}()
	} else {
		log.Warn("KAFKA_BROKERS not set, order events stay in the outbox")
	}

	// HTTP server
	router := apphttp.NewRouter(apphttp.RouterConfig{
		WhatsApp: apphttp.NewWhatsAppHandler(cfg.WhatsAppVerifyToken, engine, cfg.MaxBodyBytes, log),
		Payments: apphttp.NewPaymentHandler(engine, ledger, cfg.MaxBodyBytes, log),
		Tenants: apphttp.NewTenantHandler(apphttp.TenantHandlerDeps{
			Tenants:       tenants,
			Orders:        orders,
			Conversations: conversations,
			Cipher:        cipher,
			Resolver:      resolver,
			Clients:       clients,
			Ops:           engine,
			Timeout:       cfg.RequestTimeout,
			Logger:        log,
		}),
		Health: apphttp.NewHealthHandler(map[string]apphttp.Pinger{
			"mongodb": func(ctx context.Context) error { return repository.Ping(ctx, db) },
			"redis":   func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		}, log),
		ReceiptsDir:    cfg.ReceiptsDir,
		AdminJWTSecret: cfg.AdminJWTSecret,
		RequestTimeout: cfg.RequestTimeout,
		Gatherer:       reg,
		Logger:         log,
	})

	if err := os.MkdirAll(cfg.ReceiptsDir, 0o755); err != nil {
		return fmt.Errorf("create receipts dir: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Graceful shutdown
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	stop()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "error", err)
	}
	if err := queue.Close(shutdownCtx); err != nil {
		log.Warn("conversation queue did not drain", "error", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info("background workers stopped cleanly")
	case <-shutdownCtx.Done():
		log.Warn("background workers didn't stop in time")
	}

	if poller != nil {
		if err := poller.Close(); err != nil {
			log.Warn("kafka writer close failed", "error", err)
		}
	}
	if consumer != nil {
		consumer.Close()
	}

	log.Info("wa-commerce stopped")
	return nil
}
