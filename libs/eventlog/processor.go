package eventlog

import (
	"context"
	"log/slog"
	"time"

	otelx "github.com/mahmud-sazid/orderflow/libs/otel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Handler applies the domain effect for one record. Returning nil
// acknowledges the record. Returning an error leaves it pending, to be
// redelivered by the stale-claim sweep until the delivery bound is reached and
// the record is dead-lettered. Domain outcomes that must not be retried
// (e.g. compensation for a missing product) are handled inside the handler,
// which then returns nil.
type Handler func(ctx context.Context, ev Event) error

type ProcessorConfig struct {
	Topic    string
	Group    string
	Consumer string

	// StartID is the group cursor position on first registration ("0" reads
	// the topic from the beginning).
	StartID string

	ClaimCount int64
	Block      time.Duration
	Backoff    time.Duration

	// SweepEvery/MinIdle control the periodic reclaim of stale pending
	// records; MaxDeliveries bounds redelivery before dead-lettering to
	// Topic + ".dlq".
	SweepEvery    time.Duration
	MinIdle       time.Duration
	MaxDeliveries int64
}

// Processor is the generic consume loop shared by the inventory, refund and
// audit consumers: claim, handle, acknowledge. It runs for the process
// lifetime; transient claim or handler errors are logged and the loop
// continues after a fixed backoff rather than crashing the consumer.
type Processor struct {
	log     *Log
	logger  *slog.Logger
	handler Handler
	cfg     ProcessorConfig
}

func NewProcessor(log *Log, logger *slog.Logger, cfg ProcessorConfig, handler Handler) *Processor {
	if cfg.StartID == "" {
		cfg.StartID = "0"
	}
	if cfg.ClaimCount <= 0 {
		cfg.ClaimCount = 10
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 1 * time.Second
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = 30 * time.Second
	}
	if cfg.MinIdle <= 0 {
		cfg.MinIdle = 1 * time.Minute
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 5
	}
	return &Processor{log: log, logger: logger, handler: handler, cfg: cfg}
}

// DeadLetterTopic is where records that exhausted their delivery bound end up.
func (p *Processor) DeadLetterTopic() string {
	return p.cfg.Topic + ".dlq"
}

func (p *Processor) Run(ctx context.Context) {
	for !p.bootstrap(ctx) {
		if !sleep(ctx, p.cfg.Backoff) {
			return
		}
	}
	p.logger.Info("processor started",
		"topic", p.cfg.Topic, "group", p.cfg.Group, "consumer", p.cfg.Consumer)

	nextSweep := time.Now()
	for ctx.Err() == nil {
		if !time.Now().Before(nextSweep) {
			p.sweep(ctx)
			nextSweep = time.Now().Add(p.cfg.SweepEvery)
		}

		events, err := p.log.Claim(ctx, p.cfg.Topic, p.cfg.Group, p.cfg.Consumer, p.cfg.ClaimCount, p.cfg.Block)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("claim failed", "topic", p.cfg.Topic, "group", p.cfg.Group, "err", err)
			if !sleep(ctx, p.cfg.Backoff) {
				return
			}
			continue
		}

		for _, ev := range events {
			p.process(ctx, ev)
		}
	}
}

// bootstrap seeds the topic and registers the group. Both steps are
// idempotent, so racing processor instances are fine.
func (p *Processor) bootstrap(ctx context.Context) bool {
	if err := p.log.EnsureTopic(ctx, p.cfg.Topic); err != nil {
		p.logger.Error("topic bootstrap failed", "topic", p.cfg.Topic, "err", err)
		return false
	}
	if err := p.log.CreateGroup(ctx, p.cfg.Topic, p.cfg.Group, p.cfg.StartID); err != nil {
		p.logger.Error("group create failed", "topic", p.cfg.Topic, "group", p.cfg.Group, "err", err)
		return false
	}
	return true
}

func (p *Processor) process(ctx context.Context, ev Event) {
	if ev.IsInit() {
		p.ack(ctx, ev.ID)
		return
	}

	evCtx := otelx.ContextWithTraceContext(ctx, ev.Fields["traceparent"], ev.Fields["tracestate"])
	evCtx, span := otel.Tracer("eventlog").Start(evCtx, "stream.consume",
		trace.WithAttributes(
			attribute.String("messaging.system", "redis-stream"),
			attribute.String("messaging.destination", ev.Topic),
			attribute.String("messaging.consumer.group", p.cfg.Group),
			attribute.String("messaging.message.id", ev.ID),
		),
	)
	defer span.End()

	if err := p.handler(evCtx, ev); err != nil {
		// Not acknowledged: the record stays pending and the sweep retries it.
		p.logger.Error("handler failed", "topic", ev.Topic, "id", ev.ID, "err", err)
		span.RecordError(err)
		return
	}
	p.ack(evCtx, ev.ID)
}

// sweep reclaims stale pending records so work abandoned by a crashed
// consumer is eventually retried, dead-lettering records that exhausted the
// delivery bound.
func (p *Processor) sweep(ctx context.Context) {
	reclaimed, err := p.log.ReclaimStale(ctx, p.cfg.Topic, p.cfg.Group, p.cfg.Consumer, p.cfg.MinIdle, p.cfg.ClaimCount)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error("pending sweep failed", "topic", p.cfg.Topic, "group", p.cfg.Group, "err", err)
		}
		return
	}

	for _, pe := range reclaimed {
		if pe.Deliveries >= p.cfg.MaxDeliveries && !pe.IsInit() {
			p.deadLetter(ctx, pe)
			continue
		}
		p.process(ctx, pe.Event)
	}
}

func (p *Processor) deadLetter(ctx context.Context, pe PendingEvent) {
	fields := make(map[string]string, len(pe.Fields)+2)
	for k, v := range pe.Fields {
		fields[k] = v
	}
	fields["error_reason"] = "max deliveries reached"
	fields["failed_at"] = time.Now().UTC().Format(time.RFC3339)

	if _, err := p.log.Append(ctx, p.DeadLetterTopic(), fields); err != nil {
		// Leave the record pending; the next sweep tries again.
		p.logger.Error("dead-letter append failed", "topic", p.cfg.Topic, "id", pe.ID, "err", err)
		return
	}
	p.logger.Warn("record dead-lettered",
		"topic", p.cfg.Topic, "id", pe.ID, "deliveries", pe.Deliveries)
	p.ack(ctx, pe.ID)
}

func (p *Processor) ack(ctx context.Context, id string) {
	if err := p.log.Ack(ctx, p.cfg.Topic, p.cfg.Group, id); err != nil && ctx.Err() == nil {
		p.logger.Error("ack failed", "topic", p.cfg.Topic, "id", id, "err", err)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
