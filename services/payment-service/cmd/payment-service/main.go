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
	"github.com/mahmud-sazid/orderflow/services/payment-service/internal/capture"
	"github.com/mahmud-sazid/orderflow/services/payment-service/internal/catalogclient"
	"github.com/mahmud-sazid/orderflow/services/payment-service/internal/handlers"
	"github.com/mahmud-sazid/orderflow/services/payment-service/internal/refund"
	"github.com/mahmud-sazid/orderflow/services/payment-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "payment-service")
	port, err := config.Port("PORT", "8001")
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

	var repo storage.OrderStore = storage.NewRedisOrderRepository(client)
	if dbURL := config.String("DATABASE_URL", ""); dbURL != "" {
		pool, err := db.Open(ctx, dbURL)
		if err != nil {
			logger.Error("db connection failed", "err", err)
			panic(err)
		}
		defer pool.Close()
		repo = storage.NewPostgresOrderRepository(pool)
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})
	}

	var charger capture.Charger = capture.NewNoopCharger()
	if key := config.String("STRIPE_SECRET_KEY", ""); key != "" {
		charger = capture.NewStripeCharger(key, config.String("STRIPE_CURRENCY", "usd"))
	}
	logger.Info("payment provider selected", "provider", charger.ProviderID())

	log := eventlog.New(client)
	worker := capture.NewWorker(client, repo, log, charger, logger, capture.Config{
		Interval:     config.Duration("CAPTURE_INTERVAL", time.Second),
		BatchSize:    config.Int("CAPTURE_BATCH_SIZE", 50),
		CaptureDelay: config.Duration("CAPTURE_DELAY", 5*time.Second),
	})
	go worker.Run(ctx)

	processor := eventlog.NewProcessor(log, logger, eventlog.ProcessorConfig{
		Topic:         saga.TopicRefundOrder,
		Group:         saga.GroupPayment,
		Consumer:      config.String("CONSUMER_NAME", service+"-1"),
		Block:         config.Duration("CLAIM_BLOCK", 5*time.Second),
		Backoff:       config.Duration("CLAIM_BACKOFF", time.Second),
		SweepEvery:    config.Duration("PENDING_SWEEP_EVERY", 30*time.Second),
		MinIdle:       config.Duration("PENDING_MIN_IDLE", time.Minute),
		MaxDeliveries: int64(config.Int("MAX_DELIVERIES", 5)),
	}, refund.NewHandler(repo, logger).Handle)
	go processor.Run(ctx)

	catalog := catalogclient.New(config.String("INVENTORY_URL", "http://localhost:8000"))

	r := chi.NewRouter()
	r.Get("/healthz", runtime.Healthz)
	r.Get("/readyz", runtime.Readyz(readyChecks...))
	handlers.New(repo, catalog, worker, logger).Routes(r)

	handler := httpx.Chain(r,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(strings.Split(config.String("CORS_ORIGINS", "*"), ",")),
		httpx.WithBodyLimit(1<<20),
	)
	handler = otelhttp.NewHandler(handler, "payment")

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
