package outbox

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Store hands out batches of unpublished events. fn runs while the batch is locked; when it
// returns nil every event in the batch is marked published, otherwise none are.
type Store interface {
	ProcessUnpublished(ctx context.Context, limit int, fn func(ctx context.Context, events []Event) error) error
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type PublisherConfig struct {
	PollEvery time.Duration
	BatchSize int
}

type Publisher struct {
	store     Store
	writer    MessageWriter
	logger    *slog.Logger
	pollEvery time.Duration
	batchSize int
}

func NewPublisher(store Store, writer MessageWriter, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		store:     store,
		writer:    writer,
		logger:    logger.With("component", "outbox.publisher"),
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
	}
}

// NewKafkaWriter returns a writer that routes each message to the topic named by its event
// type and keys partitions by appointment id.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Balancer: &kafka.Hash{},
	})
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// Run polls the outbox until ctx is cancelled and closes the writer on exit.
func (p *Publisher) Run(ctx context.Context) {
	defer func() {
		if err := p.writer.Close(); err != nil {
			p.logger.Warn("outbox writer close failed", "err", err)
		}
	}()

	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.PublishPending(ctx)
			if err != nil {
				p.logger.Error("outbox publish failed", "err", err)
				continue
			}
			if n > 0 {
				p.logger.Debug("outbox batch published", "count", n)
			}
		}
	}
}

// PublishPending publishes one batch and returns the number of events written.
func (p *Publisher) PublishPending(ctx context.Context) (int, error) {
	published := 0
	err := p.store.ProcessUnpublished(ctx, p.batchSize, func(ctx context.Context, events []Event) error {
		if len(events) == 0 {
			return nil
		}
		msgs := make([]kafka.Message, 0, len(events))
		for _, e := range events {
			msgs = append(msgs, toMessage(ctx, e))
		}
		if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
			return err
		}
		published = len(events)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return published, nil
}

func toMessage(ctx context.Context, e Event) kafka.Message {
	msg := kafka.Message{
		Topic: e.EventType,
		Key:   []byte(e.AggregateID),
		Value: []byte(e.Payload),
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(e.EventID.String())},
			{Key: "event_type", Value: []byte(e.EventType)},
		},
	}
	msgCtx := contextWithTraceContext(ctx, e.Traceparent, e.Tracestate)
	carrier := &headerCarrier{headers: msg.Headers}
	otel.GetTextMapPropagator().Inject(msgCtx, carrier)
	msg.Headers = carrier.headers
	return msg
}

type headerCarrier struct {
	headers []kafka.Header
}

func (c *headerCarrier) Get(key string) string {
	for _, h := range c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for _, h := range c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}

func (c *headerCarrier) Set(key, value string) {
	for i := range c.headers {
		if c.headers[i].Key == key {
			c.headers[i].Value = []byte(value)
			return
		}
	}
	c.headers = append(c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

var _ propagation.TextMapCarrier = (*headerCarrier)(nil)
