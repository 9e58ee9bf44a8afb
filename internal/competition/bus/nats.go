package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/neeru24/typing-comp/internal/competition/events"
	"github.com/rs/zerolog/log"
)

// NATSConfig holds the JetStream wiring for multi-process deployments.
type NATSConfig struct {
	URL           string
	StreamName    string
	ConsumerName  string
	SubjectPrefix string // events go to <prefix>.<competition id>
	MaxDeliver    int
	AckWait       time.Duration
	MaxAckPending int
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultNATSConfig(url string) NATSConfig {
	if url == "" {
		url = nats.DefaultURL
	}
	return NATSConfig{
		URL:           url,
		StreamName:    "COMPETITION_EVENTS",
		ConsumerName:  "competition-gateway",
		SubjectPrefix: "competition.events",
		MaxDeliver:    5,
		AckWait:       30 * time.Second,
		MaxAckPending: 100,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// NATSBus publishes events to a JetStream stream and delivers them to
// subscribers through a durable consumer. Subjects carry one
// competition each, so per-competition ordering survives the broker.
type NATSBus struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
	config NATSConfig

	consumeCtx jetstream.ConsumeContext
}

func NewNATSBus(ctx context.Context, config NATSConfig) (*NATSBus, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      config.StreamName,
		Subjects:  []string{config.SubjectPrefix + ".>"},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	return &NATSBus{nc: nc, js: js, stream: stream, config: config}, nil
}

func (b *NATSBus) Publish(ctx context.Context, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", b.config.SubjectPrefix, ev.CompetitionID)
	if _, err := b.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// Subscribe attaches the durable consumer and routes every event to h.
// Only one Subscribe per NATSBus; the gateway is the sole consumer.
func (b *NATSBus) Subscribe(h Handler) error {
	ctx := context.Background()

	consumer, err := b.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          b.config.ConsumerName,
		Durable:       b.config.ConsumerName,
		FilterSubject: b.config.SubjectPrefix + ".>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    b.config.MaxDeliver,
		AckWait:       b.config.AckWait,
		MaxAckPending: b.config.MaxAckPending,
	})
	if err != nil {
		return fmt.Errorf("ensure consumer: %w", err)
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		var ev events.Event
		if err := json.Unmarshal(msg.Data(), &ev); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to decode event")
			msg.Term()
			return
		}
		h(ev)
		if err := msg.Ack(); err != nil {
			log.Error().Err(err).Msg("failed to ACK event")
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	b.consumeCtx = consumeCtx
	return nil
}

func (b *NATSBus) Close() error {
	if b.consumeCtx != nil {
		b.consumeCtx.Stop()
	}
	b.nc.Close()
	return nil
}
