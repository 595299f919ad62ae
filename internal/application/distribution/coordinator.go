// Package distribution records rent payments and distributes them to token
// holders, netting each holder's outstanding loan interest first.
package distribution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"estatevault-backend/internal/domain"
	"estatevault-backend/internal/infrastructure/messaging"
	"estatevault-backend/internal/infrastructure/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MirrorRetrier re-sends outstanding on-chain mirror events.
type MirrorRetrier interface {
	RetryPending(ctx context.Context) (int, error)
}

type RunOptions struct {
	PropertyIDs []uuid.UUID
	DryRun      bool
	TriggeredBy string
}

type PaymentError struct {
	RentPaymentID uuid.UUID `json:"rent_payment_id"`
	PropertyID    uuid.UUID `json:"property_id"`
	Code          string    `json:"code"`
	Message       string    `json:"message"`
}

type RunSummary struct {
	RunID                 *uuid.UUID       `json:"run_id"`
	Status                string           `json:"status"`
	DryRun                bool             `json:"dry_run"`
	TriggeredBy           string           `json:"triggered_by"`
	PaymentsProcessed     int              `json:"payments_processed"`
	PaymentsSkipped       int              `json:"payments_skipped"`
	PaymentsFailed        int              `json:"payments_failed"`
	DistributionsCreated  int              `json:"distributions_created"`
	TotalGross            decimal.Decimal  `json:"total_gross"`
	TotalInterestDeducted decimal.Decimal  `json:"total_interest_deducted"`
	TotalNet              decimal.Decimal  `json:"total_net"`
	Errors                []PaymentError   `json:"errors"`
	Payments              []*PaymentResult `json:"payments"`
	StartedAt             time.Time        `json:"started_at"`
	CompletedAt           time.Time        `json:"completed_at"`
	Error                 string           `json:"error,omitempty"`
}

// Coordinator runs distribution batches. Only one batch runs per process at
// a time; Lock extends that across processes.
type Coordinator struct {
	DB      *gorm.DB
	Engine  Processor
	Lock    RunLock
	Mirror  MirrorRetrier
	Events  messaging.Publisher
	Metrics *metrics.Metrics
	Now     func() time.Time

	running  atomic.Bool
	retrying atomic.Bool
	retries  sync.WaitGroup
}

func NewCoordinator(db *gorm.DB, engine Processor) *Coordinator {
	return &Coordinator{DB: db, Engine: engine}
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

// Running reports whether a batch is in progress in this process.
func (c *Coordinator) Running() bool {
	return c.running.Load()
}

// Run distributes all PENDING rent payments, optionally limited to
// opts.PropertyIDs. Payment failures do not stop the batch. Outstanding
// mirror calls are retried in the background once the run guard is released.
func (c *Coordinator) Run(ctx context.Context, opts RunOptions) (*RunSummary, error) {
	summary, err := c.runExclusive(ctx, opts)
	if err != nil {
		return nil, err
	}
	if !opts.DryRun {
		c.retryMirror(context.WithoutCancel(ctx))
	}
	return summary, nil
}

// retryMirror starts one background reconciliation unless one is running.
func (c *Coordinator) retryMirror(ctx context.Context) {
	if c.Mirror == nil || !c.retrying.CompareAndSwap(false, true) {
		return
	}
	c.retries.Add(1)
	go func() {
		defer c.retries.Done()
		defer c.retrying.Store(false)
		if _, err := c.Mirror.RetryPending(ctx); err != nil {
			log.Warn().Err(err).Msg("mirror retry after distribution failed")
		}
	}()
}

// Wait blocks until background mirror reconciliation has finished.
func (c *Coordinator) Wait() {
	c.retries.Wait()
}

func (c *Coordinator) runExclusive(ctx context.Context, opts RunOptions) (*RunSummary, error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, domain.ErrDistributionInProgress
	}
	defer c.running.Store(false)

	if c.Lock != nil {
		release, ok, err := c.Lock.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire distribution lock: %w", err)
		}
		if !ok {
			return nil, domain.ErrDistributionInProgress
		}
		defer release()
	}

	c.Metrics.SetDistributionRunning(true)
	defer c.Metrics.SetDistributionRunning(false)

	if opts.TriggeredBy == "" {
		opts.TriggeredBy = "manual"
	}
	summary := &RunSummary{
		Status:                domain.RunStatusRunning,
		DryRun:                opts.DryRun,
		TriggeredBy:           opts.TriggeredBy,
		TotalGross:            decimal.Zero,
		TotalInterestDeducted: decimal.Zero,
		TotalNet:              decimal.Zero,
		Errors:                []PaymentError{},
		Payments:              []*PaymentResult{},
		StartedAt:             c.now(),
	}

	var run *domain.DistributionRun
	if !opts.DryRun {
		ids, _ := json.Marshal(opts.PropertyIDs)
		run = &domain.DistributionRun{
			Status:                domain.RunStatusRunning,
			TriggeredBy:           opts.TriggeredBy,
			PropertyIDs:           datatypes.JSON(ids),
			TotalGross:            decimal.Zero,
			TotalInterestDeducted: decimal.Zero,
			TotalNet:              decimal.Zero,
			StartedAt:             summary.StartedAt,
		}
		if err := c.DB.WithContext(ctx).Create(run).Error; err != nil {
			return nil, fmt.Errorf("create distribution run: %w", err)
		}
		summary.RunID = &run.RunID
	}

	if err := c.process(ctx, opts, summary); err != nil {
		summary.Status = domain.RunStatusFailed
		summary.Error = err.Error()
		log.Error().Err(err).Str("triggered_by", opts.TriggeredBy).Msg("distribution run failed")
	} else if summary.PaymentsFailed > 0 {
		summary.Status = domain.RunStatusPartial
	} else {
		summary.Status = domain.RunStatusCompleted
	}
	summary.CompletedAt = c.now()

	if run != nil {
		c.finishRun(run, summary)
	}
	c.Metrics.RecordRun(summary.Status)

	log.Info().
		Str("status", summary.Status).
		Bool("dry_run", summary.DryRun).
		Int("processed", summary.PaymentsProcessed).
		Int("failed", summary.PaymentsFailed).
		Str("total_net", summary.TotalNet.StringFixed(2)).
		Msg("distribution run finished")

	if !opts.DryRun {
		messaging.PublishLogged(ctx, c.Events, messaging.SubjectDistributionComplete, summary)
	}
	return summary, nil
}

func (c *Coordinator) process(ctx context.Context, opts RunOptions, summary *RunSummary) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during distribution: %v", r)
		}
	}()

	q := c.DB.WithContext(ctx).Where("status = ?", domain.RentStatusPending)
	if len(opts.PropertyIDs) > 0 {
		q = q.Where("property_id IN ?", opts.PropertyIDs)
	}
	var pending []domain.RentPayment
	if err := q.Order("period_start ASC").Order("\"createdAt\" ASC").Find(&pending).Error; err != nil {
		return fmt.Errorf("load pending rent payments: %w", err)
	}

	var pass *Pass
	if opts.DryRun {
		pass = NewPass(true)
	}
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := c.Engine.Distribute(ctx, p, pass)
		if err != nil {
			summary.PaymentsFailed++
			summary.Errors = append(summary.Errors, paymentError(p, err))
			c.Metrics.RecordRentPayment("failed", decimal.Zero, decimal.Zero)
			log.Error().Err(err).Str("rent_payment_id", p.RentPaymentID.String()).Msg("rent payment distribution failed")
			continue
		}
		if res.Skipped {
			summary.PaymentsSkipped++
			continue
		}
		summary.PaymentsProcessed++
		summary.DistributionsCreated += len(res.Distributions)
		summary.TotalGross = summary.TotalGross.Add(res.GrossAmount)
		summary.TotalInterestDeducted = summary.TotalInterestDeducted.Add(res.InterestDeducted)
		summary.TotalNet = summary.TotalNet.Add(res.NetAmount)
		summary.Payments = append(summary.Payments, res)
		if !opts.DryRun {
			c.Metrics.RecordRentPayment("distributed", res.NetAmount, res.InterestDeducted)
		}
	}
	return nil
}

func (c *Coordinator) finishRun(run *domain.DistributionRun, s *RunSummary) {
	errs, _ := json.Marshal(s.Errors)
	completed := s.CompletedAt
	run.Status = s.Status
	run.PaymentsProcessed = s.PaymentsProcessed
	run.PaymentsFailed = s.PaymentsFailed
	run.DistributionsCreated = s.DistributionsCreated
	run.TotalGross = s.TotalGross
	run.TotalInterestDeducted = s.TotalInterestDeducted
	run.TotalNet = s.TotalNet
	run.Errors = datatypes.JSON(errs)
	run.CompletedAt = &completed

	// The request context may already be cancelled; the audit row must still close.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.DB.WithContext(ctx).Model(run).Select(
		"Status", "PaymentsProcessed", "PaymentsFailed", "DistributionsCreated",
		"TotalGross", "TotalInterestDeducted", "TotalNet", "Errors", "CompletedAt", "UpdatedAt",
	).Updates(run).Error; err != nil {
		log.Error().Err(err).Str("run_id", run.RunID.String()).Msg("failed to close distribution run")
	}
}

func paymentError(p domain.RentPayment, err error) PaymentError {
	code := "INTERNAL"
	msg := err.Error()
	if de, ok := domain.AsError(err); ok {
		code = de.Code
	}
	if errors.Is(err, context.Canceled) {
		code = "CANCELLED"
	}
	return PaymentError{RentPaymentID: p.RentPaymentID, PropertyID: p.PropertyID, Code: code, Message: msg}
}
