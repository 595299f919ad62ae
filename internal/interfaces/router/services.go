package router

import (
	"context"

	"estatevault-backend/internal/application/distribution"
	"estatevault-backend/internal/application/funds"
	"estatevault-backend/internal/application/lending"
	"estatevault-backend/internal/application/mirror"
	"estatevault-backend/internal/config"
	"estatevault-backend/internal/infrastructure/messaging"
	"estatevault-backend/internal/infrastructure/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Services is the ledger wiring shared by the API and the distribute command.
type Services struct {
	Lending     *lending.Service
	Rent        *distribution.RentService
	Coordinator *distribution.Coordinator
	Scheduler   *distribution.Scheduler
	Mirror      *mirror.OutboxDispatcher
	Events      messaging.Publisher
	Funds       *funds.Stripe
	Metrics     *metrics.Metrics
}

// NewServices builds the ledger services on db. rdb may be nil, in which
// case distribution runs are only guarded within this process. Optional
// integrations (chain mirror, NATS) degrade to no-ops when unconfigured or
// unreachable.
func NewServices(ctx context.Context, cfg *config.Config, db *gorm.DB, rdb *redis.Client, m *metrics.Metrics) *Services {
	s := &Services{
		Funds:   &funds.Stripe{SecretKey: cfg.StripeSecretKey, Currency: cfg.StripeCurrency},
		Metrics: m,
		Events:  messaging.Noop{},
	}

	if cfg.NATS.URL != "" {
		pub, err := messaging.NewJetStreamPublisher(ctx, messaging.Config{
			URL:            cfg.NATS.URL,
			StreamName:     cfg.NATS.Stream,
			ConnectionName: "estatevault-ledger",
		})
		if err != nil {
			log.Warn().Err(err).Msg("NATS unavailable; ledger events disabled")
		} else {
			s.Events = pub
		}
	}

	var chain mirror.Mirror
	if cfg.Mirror.RPCURL != "" {
		em, err := mirror.DialEthereum(ctx, cfg.Mirror.RPCURL, cfg.Mirror.ContractAddress, cfg.Mirror.PrivateKey)
		if err != nil {
			log.Warn().Err(err).Msg("chain mirror unavailable; outbox events will be skipped")
		} else {
			chain = em
		}
	}
	s.Mirror = mirror.NewOutboxDispatcher(db, chain, cfg.Mirror.Workers,
		mirror.WithMaxRetry(cfg.Mirror.MaxRetry),
		mirror.WithMetrics(m),
	)

	s.Lending = &lending.Service{
		DB:      db,
		Policy:  cfg.Lending,
		Funds:   s.Funds,
		Mirror:  s.Mirror,
		Events:  s.Events,
		Metrics: m,
	}
	s.Rent = &distribution.RentService{DB: db, DefaultManagementFeePercent: cfg.Rent.DefaultManagementFeePercent}

	s.Coordinator = distribution.NewCoordinator(db, &distribution.Engine{DB: db})
	s.Coordinator.Mirror = s.Mirror
	s.Coordinator.Events = s.Events
	s.Coordinator.Metrics = m
	if rdb != nil {
		s.Coordinator.Lock = distribution.NewRedisLock(rdb, cfg.Distribution.LockTTL)
	}
	s.Scheduler = distribution.NewScheduler(s.Coordinator, cfg.Distribution.Interval)
	return s
}

// Close waits for background reconciliation, stops the mirror workers and
// drops the NATS connection.
func (s *Services) Close() {
	if s.Coordinator != nil {
		s.Coordinator.Wait()
	}
	if s.Mirror != nil {
		s.Mirror.Stop()
	}
	if s.Events != nil {
		s.Events.Close()
	}
}
