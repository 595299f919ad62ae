package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

const (
	SubjectLoanOpened           = "ledger.loan.opened"
	SubjectLoanRepaid           = "ledger.loan.repaid"
	SubjectDistributionComplete = "ledger.distribution.completed"
)

// Publisher emits ledger domain events after commit. Delivery is best-effort.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload interface{}) error
	Close()
}

// Config holds the configuration for the NATS JetStream connection.
type Config struct {
	URL            string
	StreamName     string
	ConnectionName string
}

type jetStreamPublisher struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// NewJetStreamPublisher connects to NATS and ensures the ledger stream exists.
func NewJetStreamPublisher(ctx context.Context, cfg Config) (Publisher, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.ConnectionName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("reconnected to NATS")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	if cfg.StreamName != "" {
		_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     cfg.StreamName,
			Subjects: []string{"ledger.>"},
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to ensure stream %s: %w", cfg.StreamName, err)
		}
	}
	return &jetStreamPublisher{nc: nc, js: js}, nil
}

func (p *jetStreamPublisher) Publish(ctx context.Context, subject string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (p *jetStreamPublisher) Close() {
	if p.nc == nil {
		return
	}
	p.nc.Close()
}

// Noop discards events; used when NATS_URL is unset.
type Noop struct{}

func (Noop) Publish(context.Context, string, interface{}) error { return nil }
func (Noop) Close()                                            {}

// Recorder keeps published events in memory.
type Recorder struct {
	Events []RecordedEvent
}

type RecordedEvent struct {
	Subject string
	Payload interface{}
}

func (r *Recorder) Publish(_ context.Context, subject string, payload interface{}) error {
	r.Events = append(r.Events, RecordedEvent{Subject: subject, Payload: payload})
	return nil
}

func (r *Recorder) Close() {}

// PublishLogged publishes and logs failures instead of returning them.
func PublishLogged(ctx context.Context, p Publisher, subject string, payload interface{}) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, subject, payload); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("event publish failed")
	}
}
