package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mahmud-sazid/orderflow/libs/config"
	"github.com/mahmud-sazid/orderflow/libs/db"
	"github.com/mahmud-sazid/orderflow/libs/eventlog"
	"github.com/mahmud-sazid/orderflow/libs/httpx"
	otelx "github.com/mahmud-sazid/orderflow/libs/otel"
	"github.com/mahmud-sazid/orderflow/libs/redisx"
	"github.com/mahmud-sazid/orderflow/libs/runtime"
	"github.com/mahmud-sazid/orderflow/libs/saga"
	"github.com/mahmud-sazid/orderflow/services/inventory-service/internal/deduct"
	"github.com/mahmud-sazid/orderflow/services/inventory-service/internal/handlers"
	"github.com/mahmud-sazid/orderflow/services/inventory-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "inventory-service")
	port, err := config.Port("PORT", "8000")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	redisAddr := config.String("REDIS_ADDR", "localhost:6379")
	client, err := redisx.Open(ctx, redisAddr, config.String("REDIS_PASSWORD", ""), config.Int("REDIS_DB", 0))
	if err != nil {
		logger.Error("redis connection failed", "err", err)
		panic(err)
	}
	defer client.Close()

	readyChecks := []runtime.ReadyCheck{
		{Name: "redis", Check: redisx.ReadyCheck(client)},
	}

	var repo storage.ProductStore = storage.NewRedisProductRepository(client)
	if dbURL := config.String("DATABASE_URL", ""); dbURL != "" {
		pool, err := db.Open(ctx, dbURL)
		if err != nil {
			logger.Error("db connection failed", "err", err)
			panic(err)
		}
		defer pool.Close()
		repo = storage.NewPostgresProductRepository(pool)
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})
	}

	log := eventlog.New(client)
	inbox := eventlog.NewInbox(client, "inventory", config.Duration("INBOX_TTL", 24*time.Hour))
	processor := eventlog.NewProcessor(log, logger, eventlog.ProcessorConfig{
		Topic:         saga.TopicOrderCompleted,
		Group:         saga.GroupInventory,
		Consumer:      config.String("CONSUMER_NAME", service+"-1"),
		Block:         config.Duration("CLAIM_BLOCK", 5*time.Second),
		Backoff:       config.Duration("CLAIM_BACKOFF", time.Second),
		SweepEvery:    config.Duration("PENDING_SWEEP_EVERY", 30*time.Second),
		MinIdle:       config.Duration("PENDING_MIN_IDLE", time.Minute),
		MaxDeliveries: int64(config.Int("MAX_DELIVERIES", 5)),
	}, deduct.NewHandler(repo, inbox, logger).Handle)
	go processor.Run(ctx)

	r := chi.NewRouter()
	r.Get("/healthz", runtime.Healthz)
	r.Get("/readyz", runtime.Readyz(readyChecks...))
	handlers.New(repo, logger).Routes(r)

	handler := httpx.Chain(r,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(strings.Split(config.String("CORS_ORIGINS", "*"), ",")),
		httpx.WithBodyLimit(1<<20),
	)
	handler = otelhttp.NewHandler(handler, "inventory")

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
