package mirror

import (
	"context"
	"fmt"
	"sync"
	"time"

	"estatevault-backend/internal/domain"
	"estatevault-backend/internal/infrastructure/metrics"

	"github.com/alitto/pond/v2"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// OutboxDispatcher sends outbox groups on a bounded worker pool and writes
// the resulting transaction references back onto the ledger rows.
type OutboxDispatcher struct {
	db            *gorm.DB
	mirror        Mirror
	pool          pond.Pool
	maxRetry      uint64
	retryInterval time.Duration
	queueSize     int
	metrics       *metrics.Metrics
	inflight      sync.Map
}

type Option func(*OutboxDispatcher)

func WithMaxRetry(n int) Option {
	return func(d *OutboxDispatcher) {
		if n >= 0 {
			d.maxRetry = uint64(n)
		}
	}
}

func WithRetryInterval(interval time.Duration) Option {
	return func(d *OutboxDispatcher) { d.retryInterval = interval }
}

// WithQueueSize bounds how many groups may wait for a worker.
func WithQueueSize(n int) Option {
	return func(d *OutboxDispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *OutboxDispatcher) { d.metrics = m }
}

// NewOutboxDispatcher returns a dispatcher with workers goroutines. A nil
// mirror marks every event SKIPPED.
func NewOutboxDispatcher(db *gorm.DB, m Mirror, workers int, opts ...Option) *OutboxDispatcher {
	if workers <= 0 {
		workers = 1
	}
	d := &OutboxDispatcher{
		db:            db,
		mirror:        m,
		maxRetry:      5,
		retryInterval: 500 * time.Millisecond,
		queueSize:     1024,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.pool = pond.NewPool(workers, pond.WithQueueSize(d.queueSize))
	return d
}

// Dispatch queues a group for sending and never waits for a worker. When the
// queue is full the group stays PENDING for RetryPending.
func (d *OutboxDispatcher) Dispatch(ctx context.Context, groupID uuid.UUID) {
	bg := context.WithoutCancel(ctx)
	_, ok := d.pool.TrySubmit(func() {
		if err := d.ProcessGroup(bg, groupID); err != nil {
			log.Warn().Err(err).Str("group_id", groupID.String()).Msg("mirror group left for reconciliation")
		}
	})
	if !ok {
		log.Warn().Str("group_id", groupID.String()).Msg("mirror queue full, group left for reconciliation")
	}
}

// RetryPending re-sends every group with PENDING or FAILED events and waits
// for them. It returns how many groups were attempted.
func (d *OutboxDispatcher) RetryPending(ctx context.Context) (int, error) {
	var groups []uuid.UUID
	if err := d.db.WithContext(ctx).Model(&domain.MirrorEvent{}).
		Where("status IN ?", []string{domain.MirrorStatusPending, domain.MirrorStatusFailed}).
		Distinct().Pluck("group_id", &groups).Error; err != nil {
		return 0, err
	}

	tasks := make([]pond.Task, 0, len(groups))
	for _, g := range groups {
		groupID := g
		tasks = append(tasks, d.pool.SubmitErr(func() error {
			return d.ProcessGroup(ctx, groupID)
		}))
	}
	failed := 0
	for _, t := range tasks {
		if err := t.Wait(); err != nil {
			failed++
		}
	}
	if failed > 0 {
		log.Warn().Int("groups", len(groups)).Int("failed", failed).Msg("mirror reconciliation incomplete")
	}
	return len(groups), nil
}

// ProcessGroup sends a group's outstanding events in sequence order and
// stops at the first failure so later calls never overtake earlier ones.
func (d *OutboxDispatcher) ProcessGroup(ctx context.Context, groupID uuid.UUID) error {
	if _, busy := d.inflight.LoadOrStore(groupID, struct{}{}); busy {
		return nil
	}
	defer d.inflight.Delete(groupID)

	var events []domain.MirrorEvent
	if err := d.db.WithContext(ctx).
		Where("group_id = ? AND status IN ?", groupID, []string{domain.MirrorStatusPending, domain.MirrorStatusFailed}).
		Order("sequence ASC").
		Find(&events).Error; err != nil {
		return err
	}

	for i := range events {
		e := &events[i]
		if d.mirror == nil {
			if err := d.db.WithContext(ctx).Model(e).Update("status", domain.MirrorStatusSkipped).Error; err != nil {
				return err
			}
			continue
		}
		if err := d.send(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (d *OutboxDispatcher) send(ctx context.Context, e *domain.MirrorEvent) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = d.retryInterval
	exp.MaxInterval = 30 * time.Second
	b := backoff.WithMaxRetries(backoff.WithContext(exp, ctx), d.maxRetry)

	var ref string
	attempts := 0
	operation := func() error {
		attempts++
		var err error
		ref, err = call(ctx, d.mirror, e)
		return err
	}
	notify := func(err error, next time.Duration) {
		log.Warn().Err(err).
			Str("event_id", e.EventID.String()).
			Str("operation", e.Operation).
			Int("attempt", attempts).
			Dur("next_retry_in", next).
			Msg("mirror call failed, retrying")
	}

	err := backoff.RetryNotify(operation, b, notify)
	d.metrics.RecordMirrorCall(e.Operation, err)
	db := d.db.WithContext(ctx)
	if err != nil {
		msg := err.Error()
		if uerr := db.Model(e).Updates(map[string]interface{}{
			"status":     domain.MirrorStatusFailed,
			"attempts":   e.Attempts + attempts,
			"last_error": msg,
		}).Error; uerr != nil {
			return uerr
		}
		log.Warn().Err(err).
			Str("event_id", e.EventID.String()).
			Str("operation", e.Operation).
			Str("target_id", e.TargetID.String()).
			Msg("mirror call failed; ledger unaffected")
		return fmt.Errorf("%s %s: %w", e.Operation, e.TargetID, err)
	}

	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(e).Updates(map[string]interface{}{
			"status":   domain.MirrorStatusSent,
			"attempts": e.Attempts + attempts,
			"tx_ref":   ref,
		}).Error; err != nil {
			return err
		}
		return writeBack(tx, e, ref)
	})
}

// writeBack records the transaction reference on the ledger row the call
// mirrored.
func writeBack(tx *gorm.DB, e *domain.MirrorEvent, ref string) error {
	switch e.Operation {
	case domain.MirrorOpIssueLoan:
		return tx.Model(&domain.BorrowPosition{}).Where("position_id = ?", e.TargetID).Update("loan_tx_ref", ref).Error
	case domain.MirrorOpLockCollateral:
		return tx.Model(&domain.BorrowCollateral{}).Where("collateral_id = ?", e.TargetID).Update("lock_tx_ref", ref).Error
	case domain.MirrorOpUnlockCollateral:
		return tx.Model(&domain.BorrowCollateral{}).Where("collateral_id = ?", e.TargetID).Update("unlock_tx_ref", ref).Error
	case domain.MirrorOpRecordRepayment:
		return tx.Model(&domain.BorrowRepayment{}).Where("repayment_id = ?", e.TargetID).Update("mirror_tx_ref", ref).Error
	}
	return nil
}

// Stop waits for queued groups to finish.
func (d *OutboxDispatcher) Stop() {
	d.pool.StopAndWait()
}
