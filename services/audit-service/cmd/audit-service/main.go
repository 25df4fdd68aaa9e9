package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mahmud-sazid/orderflow/libs/config"
	"github.com/mahmud-sazid/orderflow/libs/eventlog"
	"github.com/mahmud-sazid/orderflow/libs/httpx"
	"github.com/mahmud-sazid/orderflow/libs/kafkax"
	otelx "github.com/mahmud-sazid/orderflow/libs/otel"
	"github.com/mahmud-sazid/orderflow/libs/redisx"
	"github.com/mahmud-sazid/orderflow/libs/runtime"
	"github.com/mahmud-sazid/orderflow/libs/saga"
	"github.com/mahmud-sazid/orderflow/services/audit-service/internal/relay"
)

func main() {
	service := config.String("SERVICE_NAME", "audit-service")
	port, err := config.Port("PORT", "8002")
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

	brokers := config.String("KAFKA_BROKERS", "")
	inbox := eventlog.NewInbox(client, "audit", config.Duration("INBOX_TTL", 24*time.Hour))
	auditRelay := relay.New(kafkax.SplitBrokers(brokers), inbox, logger)
	defer auditRelay.Close()
	if brokers != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}

	log := eventlog.New(client)
	consumer := config.String("CONSUMER_NAME", service+"-1")
	for _, topic := range []string{saga.TopicOrderCompleted, saga.TopicRefundOrder} {
		processor := eventlog.NewProcessor(log, logger, eventlog.ProcessorConfig{
			Topic:         topic,
			Group:         saga.GroupAudit,
			Consumer:      consumer,
			Block:         config.Duration("CLAIM_BLOCK", 5*time.Second),
			Backoff:       config.Duration("CLAIM_BACKOFF", time.Second),
			SweepEvery:    config.Duration("PENDING_SWEEP_EVERY", 30*time.Second),
			MinIdle:       config.Duration("PENDING_MIN_IDLE", time.Minute),
			MaxDeliveries: int64(config.Int("MAX_DELIVERIES", 5)),
		}, auditRelay.Handle)
		go processor.Run(ctx)
	}

	r := chi.NewRouter()
	r.Get("/healthz", runtime.Healthz)
	r.Get("/readyz", runtime.Readyz(readyChecks...))

	handler := httpx.Chain(r,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)

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
