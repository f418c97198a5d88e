package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fjod/go_cart/checkout-engine/internal/cache"
	"github.com/fjod/go_cart/checkout-engine/internal/config"
	"github.com/fjod/go_cart/checkout-engine/internal/consumer"
	h "github.com/fjod/go_cart/checkout-engine/internal/http"
	"github.com/fjod/go_cart/checkout-engine/internal/invoice"
	"github.com/fjod/go_cart/checkout-engine/internal/metrics"
	"github.com/fjod/go_cart/checkout-engine/internal/publisher"
	"github.com/fjod/go_cart/checkout-engine/internal/repository"
	"github.com/fjod/go_cart/checkout-engine/internal/service"
	"github.com/fjod/go_cart/checkout-engine/internal/store"
	"github.com/fjod/go_cart/checkout-engine/pkg/logger"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB

	// the consumer waits out checkout's own invoice attempt plus this margin
	invoiceConsumerSlack = 5 * time.Second
)

func main() {
	configPath := flag.String("config", "", "optional .env or yaml config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		lg := zerolog.New(os.Stderr)
		lg.Fatal().Err(err).Msg("failed to load config")
	}

	log := logger.New("checkout-engine", cfg.LogLevel)

	repo, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open store")
	}
	defer repo.Close()
	if cfg.StoreDriver == config.StoreDriverMemory && cfg.SeedFile == "" {
		log.Warn().Msg("memory store started without SEED_FILE, every checkout will find an empty cart")
	}

	var orderCache cache.OrderCache
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		orderCache = cache.NewRedisCache(redisClient)
	} else {
		log.Warn().Msg("REDIS_ADDR not set, order history cache disabled")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	generator, err := invoice.NewPDFGenerator(cfg.InvoicesDir, invoice.DefaultStore)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to prepare invoices dir")
	}

	svc := service.NewCheckoutService(repo, generator, orderCache, m, log, cfg.InvoiceTimeout)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var wg sync.WaitGroup
	var closers []func() error

	if brokers := cfg.Brokers(); len(brokers) > 0 {
		writer := publisher.NewKafkaWriter(brokers...)
		closers = append(closers, writer.Close)
		poller := publisher.NewOutboxPoller(repo, writer, svc, m, log)

		reader := consumer.NewKafkaReader(brokers...)
		invoices := consumer.NewInvoiceConsumer(reader, svc, cfg.InvoiceTimeout+invoiceConsumerSlack, log)
		closers = append(closers, func() error {
			invoices.Close()
			return nil
		})

		wg.Add(2)
		go func() {
			defer wg.Done()
			poller.Run(ctx)
		}()
		go func() {
			defer wg.Done()
			invoices.Run(ctx)
		}()
	} else {
		log.Warn().Msg("KAFKA_BROKERS not set, outbox publisher and invoice consumer disabled")
	}

	ordersHandler := h.NewOrdersHandler(svc, cfg.RequestTimeout)
	router := h.NewRouter(ordersHandler, h.RouterConfig{
		InvoicesDir:     generator.Dir(),
		Gatherer:        reg,
		Metrics:         m,
		Logger:          log,
		MaxRequestBytes: maxRequestBodySize,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      otelhttp.NewHandler(router, "checkout-engine"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + cfg.InvoiceTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Str("driver", cfg.StoreDriver).Msg("checkout engine starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	stop()
	wg.Wait()
	for _, c := range closers {
		if err := c(); err != nil {
			log.Warn().Err(err).Msg("close failed")
		}
	}

	log.Info().Msg("server exited")
}

func openStore(cfg *config.Config) (repository.RepoInterface, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		mem := store.NewMemoryStore()
		if cfg.SeedFile == "" {
			return mem, nil
		}
		f, err := os.Open(cfg.SeedFile)
		if err != nil {
			return nil, fmt.Errorf("open seed file: %w", err)
		}
		defer f.Close()
		if err := mem.Load(f); err != nil {
			return nil, err
		}
		return mem, nil
	}

	cred := &repository.Credentials{
		Host:              cfg.DBHost,
		Port:              cfg.DBPort,
		User:              cfg.DBUser,
		Password:          cfg.DBPassword,
		DBName:            cfg.DBName,
		MigrationsDirPath: cfg.MigrationsPath,
	}
	repo, err := repository.NewRepository(cred)
	if err != nil {
		return nil, err
	}
	if err := repo.RunMigrations(cred); err != nil {
		repo.Close()
		return nil, err
	}
	return repo, nil
}
