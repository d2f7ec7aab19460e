// Package reconcile periodically checks that every account balance still
// equals the sum of its transaction log.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rafaelgcostaa/adslibrary/internal/clock"
	"github.com/rafaelgcostaa/adslibrary/internal/config"
	ledgerdomain "github.com/rafaelgcostaa/adslibrary/internal/ledger/domain"
	obsmetrics "github.com/rafaelgcostaa/adslibrary/internal/observability/metrics"
	"github.com/rafaelgcostaa/adslibrary/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	jobName = "reconcile_balances"
	lockKey = "adslibrary:jobs:reconcile_balances"

	defaultInterval   = 15 * time.Minute
	defaultBatchSize  = 200
	defaultJobTimeout = 5 * time.Minute
	defaultLockTTL    = 10 * time.Minute
)

var ErrInvalidConfig = errors.New("invalid_reconciler_config")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Ledger     ledgerdomain.Service
	Repo       ledgerdomain.Repository
	Clock      clock.Clock
	Config     config.Config
	Locker     *ratelimit.Locker      `optional:"true"`
	ObsMetrics *obsmetrics.Metrics    `optional:"true"`
	JobMetrics *obsmetrics.JobMetrics `optional:"true"`
}

// Report summarizes one sweep. Drift is reported, never corrected: balances
// only change through the ledger service.
type Report struct {
	Checked int
	Drifted []ledgerdomain.Verification
}

type Reconciler struct {
	db         *gorm.DB
	log        *zap.Logger
	ledger     ledgerdomain.Service
	repo       ledgerdomain.Repository
	clock      clock.Clock
	cfg        config.ReconcileConfig
	locker     *ratelimit.Locker
	obsMetrics *obsmetrics.Metrics
	jobMetrics *obsmetrics.JobMetrics
}

func New(p Params) (*Reconciler, error) {
	if p.DB == nil || p.Log == nil || p.Ledger == nil || p.Repo == nil {
		return nil, ErrInvalidConfig
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Reconciler{
		db:         p.DB,
		log:        p.Log.Named("reconcile").With(zap.String("component", "reconciler")),
		ledger:     p.Ledger,
		repo:       p.Repo,
		clock:      clk,
		cfg:        withDefaults(p.Config.Reconcile),
		locker:     p.Locker,
		obsMetrics: p.ObsMetrics,
		jobMetrics: p.JobMetrics,
	}, nil
}

func withDefaults(cfg config.ReconcileConfig) config.ReconcileConfig {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	return cfg
}

// RunOnce runs a single sweep unless another instance holds the job lock.
func (r *Reconciler) RunOnce(parent context.Context) (Report, error) {
	var report Report

	if r.locker != nil {
		token, ok, err := r.locker.TryLock(parent, lockKey, r.cfg.LockTTL)
		if err != nil {
			r.log.Warn("reconcile lock unavailable, skipping run", zap.Error(err))
			return report, nil
		}
		if !ok {
			r.jobMetrics.IncLockSkipped(jobName)
			r.log.Debug("reconcile already running elsewhere")
			return report, nil
		}
		defer func() {
			if err := r.locker.Release(context.WithoutCancel(parent), lockKey, token); err != nil {
				r.log.Warn("reconcile lock release failed", zap.Error(err))
			}
		}()
	}

	err := r.runJob(parent, r.cfg.JobTimeout, func(ctx context.Context) error {
		var sweepErr error
		report, sweepErr = r.sweep(ctx)
		return sweepErr
	})
	return report, err
}

func (r *Reconciler) runJob(parent context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	start := r.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	err := fn(ctx)
	r.jobMetrics.ObserveRun(jobName, r.clock.Now().Sub(start).Seconds(), err)
	if err == nil {
		return nil
	}

	// A timed out sweep resumes from the first account on the next tick.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		r.log.Warn("job timed out",
			zap.String("job", jobName),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", jobName, err)
}

// sweep verifies every account in id order, batch by batch. A failing
// account does not stop the sweep; its error is joined into the result.
func (r *Reconciler) sweep(ctx context.Context) (Report, error) {
	var (
		report Report
		errs   error
		after  string
	)

	for {
		if err := ctx.Err(); err != nil {
			return report, errors.Join(errs, err)
		}

		ids, err := r.repo.ListAccountIDs(ctx, r.db, after, r.cfg.BatchSize)
		if err != nil {
			return report, errors.Join(errs, err)
		}
		if len(ids) == 0 {
			break
		}

		for _, id := range ids {
			v, err := r.ledger.VerifyAccount(ctx, id)
			if err != nil {
				if ctx.Err() != nil {
					return report, errors.Join(errs, ctx.Err())
				}
				errs = errors.Join(errs, fmt.Errorf("account %s: %w", id, err))
				continue
			}
			report.Checked++
			if !v.Consistent() {
				report.Drifted = append(report.Drifted, v)
				r.jobMetrics.IncDrift(jobName)
				r.obsMetrics.RecordDrift(ctx)
				r.log.Error("balance drift detected",
					zap.String("account_id", v.AccountID),
					zap.String("balance", v.Balance.String()),
					zap.String("transaction_sum", v.TransactionSum.String()),
					zap.String("drift", v.Drift().String()),
					zap.Int64("transaction_count", v.TransactionCount),
				)
			}
		}
		r.jobMetrics.AddAccountsChecked(jobName, len(ids))

		after = ids[len(ids)-1]
		if len(ids) < r.cfg.BatchSize {
			break
		}
	}

	r.log.Info("reconcile sweep finished",
		zap.Int("accounts_checked", report.Checked),
		zap.Int("accounts_drifted", len(report.Drifted)),
	)
	return report, errs
}

// RunForever sweeps on every tick until ctx is done.
func (r *Reconciler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	nextRun := r.clock.Now()

	for {
		if lag := r.clock.Now().Sub(nextRun); lag > 0 {
			r.jobMetrics.ObserveRunLoopLag(lag.Seconds())
		}
		if _, err := r.RunOnce(ctx); err != nil {
			r.log.Warn("reconcile run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(r.cfg.Interval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
