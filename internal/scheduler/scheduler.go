package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paymirror/internal/clock"
	appconfig "github.com/smallbiznis/paymirror/internal/config"
	"github.com/smallbiznis/paymirror/internal/mode"
	obsmetrics "github.com/smallbiznis/paymirror/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/paymirror/internal/payment/domain"
	"github.com/smallbiznis/paymirror/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("sweeper dependencies missing")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	PaymentSvc paymentdomain.Service
	ModeHolder *mode.Holder
	SyncLocker *ratelimit.SyncLocker `optional:"true"`
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     Config `optional:"true"`
}

// Scheduler runs the background sweep that keeps the mirror converging on
// provider truth: stale in-flight payments are re-read from the provider, and
// optionally the full history is re-imported on a slow cadence.
type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	paymentSvc paymentdomain.Service
	modeHolder *mode.Holder
	syncLocker *ratelimit.SyncLocker

	lastAutoSync time.Time
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.PaymentSvc == nil || p.ModeHolder == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	return &Scheduler{
		db:         p.DB,
		log:        p.Log.Named("sweeper").With(zap.String("component", "sweeper")),
		cfg:        cfg,
		genID:      p.GenID,
		clock:      p.Clock,
		paymentSvc: p.PaymentSvc,
		modeHolder: p.ModeHolder,
		syncLocker: p.SyncLocker,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	sweepMetrics := obsmetrics.Sweeper()
	sweepMetrics.IncJobRun(name)

	err := fn(ctx)
	sweepMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	sweepMetrics.IncJobError(name, err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		// Soft timeout. The next tick resumes where the claim query left off.
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Timeout time.Duration
		Run     func(context.Context) error
	}{
		{"reconcile_stale", true, s.cfg.ReconcileTimeout, s.ReconcileStaleJob},
		{"auto_sync", s.autoSyncDue(), s.cfg.SyncTimeout, s.AutoSyncJob},
	}

	for _, job := range jobs {
		if !job.Enabled {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.BatchSize, job.Timeout, job.Run))
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now().Add(s.cfg.RunInterval)
	sweepMetrics := obsmetrics.Sweeper()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			sweepMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("sweep run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ReconcileStaleJob re-reads every non-terminal payment that has not moved
// since the staleness cutoff. A payment whose webhook was lost would otherwise
// sit in processing forever; the provider response overwrites local status
// either way, so sweeping a healthy record is a no-op.
func (s *Scheduler) ReconcileStaleJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "reconcile_stale", s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	cutoff := s.clock.Now().Add(-s.cfg.StaleAfter)
	sweepMetrics := obsmetrics.Sweeper()
	var jobErr error

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		payments, err := s.FetchStalePaymentsForWork(ctx, cutoff, s.cfg.BatchSize)
		if err != nil {
			s.logSweeperError(ctx, run, "sweeper.claim.failed", "reconcile_stale", err)
			return errors.Join(jobErr, err)
		}
		if len(payments) == 0 {
			break
		}

		processed := 0
		for _, payment := range payments {
			if ctx.Err() != nil {
				return errors.Join(jobErr, ctx.Err())
			}

			mc, skip := s.snapshotFor(payment.LiveMode)
			if skip {
				continue
			}

			if _, err := s.paymentSvc.ReconcilePaymentStatus(ctx, mc, payment.ExternalPaymentID); err != nil {
				jobErr = errors.Join(jobErr, err)
				sweepMetrics.IncJobErrorReason("reconcile_stale", obsmetrics.SweeperJobReasonProvider)
				s.logSweeperError(ctx, run, "sweeper.reconcile.failed", "reconcile_stale", err,
					zap.String("external_payment_id", payment.ExternalPaymentID),
					zap.String("mode", mc.Mode),
				)
				continue
			}
			processed++
			run.AddProcessed(1)
		}

		if processed > 0 {
			sweepMetrics.AddBatchProcessed("reconcile_stale", "payments", processed)
		} else {
			// Every claim in the batch was skipped or failed; re-fetching now
			// would return the same rows.
			break
		}
	}

	return jobErr
}

// AutoSyncJob re-imports provider history for the active mode. The Redis lock
// keeps a fleet of mirrors from hammering the provider list endpoints at once;
// the import itself is idempotent, so losing the lock race just means waiting
// for the next window.
func (s *Scheduler) AutoSyncJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "auto_sync", s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	s.lastAutoSync = s.clock.Now()

	token, ok, err := s.syncLocker.Acquire(ctx)
	if err != nil {
		s.logSweeperError(ctx, run, "sweeper.sync.lock_failed", "auto_sync", err)
		return err
	}
	if !ok {
		s.logger(ctx).Info("auto sync skipped, another instance holds the lock")
		return nil
	}
	defer func() {
		_ = s.syncLocker.Release(context.WithoutCancel(ctx), token)
	}()

	mc := s.modeHolder.Current()
	if !mc.HasCredentials() {
		s.logger(ctx).Debug("auto sync skipped, active mode has no credentials",
			zap.String("mode", mc.Mode),
		)
		return nil
	}

	result, err := s.paymentSvc.SyncHistoricalData(ctx, mc)
	if err != nil {
		s.logSweeperError(ctx, run, "sweeper.sync.failed", "auto_sync", err,
			zap.String("mode", mc.Mode),
		)
		return err
	}

	sweepMetrics := obsmetrics.Sweeper()
	sweepMetrics.AddBatchProcessed("auto_sync", "payments", result.PaymentsCreated)
	sweepMetrics.AddBatchProcessed("auto_sync", "refunds", result.RefundsCreated)
	run.AddProcessed(result.PaymentsCreated + result.RefundsCreated)

	s.logger(ctx).Info("auto sync finished",
		zap.String("mode", mc.Mode),
		zap.Int("payments_seen", result.PaymentsSeen),
		zap.Int("payments_created", result.PaymentsCreated),
		zap.Int("refunds_seen", result.RefundsSeen),
		zap.Int("refunds_created", result.RefundsCreated),
	)
	return nil
}

func (s *Scheduler) autoSyncDue() bool {
	if !s.cfg.AutoSyncEnabled {
		return false
	}
	if s.lastAutoSync.IsZero() {
		return true
	}
	return s.clock.Now().Sub(s.lastAutoSync) >= s.cfg.AutoSyncInterval
}

// snapshotFor resolves credentials for a record's stored mode. Records in a
// mode that currently has no credentials are left for a later sweep rather
// than counted as errors.
func (s *Scheduler) snapshotFor(liveMode bool) (mode.Context, bool) {
	name := appconfig.ModeTest
	if liveMode {
		name = appconfig.ModeLive
	}
	mc, err := s.modeHolder.Snapshot(name)
	if err != nil || !mc.HasCredentials() {
		return mode.Context{}, true
	}
	return mc, false
}
