package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/snowflake"
	"github.com/panjf2000/ants/v2"
	"github.com/smallbiznis/mordomozap/internal/clock"
	connectiondomain "github.com/smallbiznis/mordomozap/internal/connection/domain"
	integrationdomain "github.com/smallbiznis/mordomozap/internal/integration/domain"
	obsmetrics "github.com/smallbiznis/mordomozap/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("reconciler_invalid_config")

// StatusChecker runs a proxy status check, persisting what the gateway reports.
type StatusChecker interface {
	Status(ctx context.Context, tenantID string) (connectiondomain.StatusResult, error)
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Repo    integrationdomain.Repository
	Service connectiondomain.Service
	GenID   *snowflake.Node
	Clock   clock.Clock
	Config  Config                        `optional:"true"`
	Metrics *obsmetrics.ConnectionMetrics `optional:"true"`
}

// Reconciler walks connected integrations and re-checks each one so sessions
// dropped on the phone converge without anyone watching the screen.
type Reconciler struct {
	db      *gorm.DB
	log     *zap.Logger
	repo    integrationdomain.Repository
	checker StatusChecker
	genID   *snowflake.Node
	clock   clock.Clock
	cfg     Config
	metrics *obsmetrics.ConnectionMetrics

	pool    *ants.Pool
	running atomic.Bool
}

// Result counts one sweep.
type Result struct {
	Checked   int
	Unchanged int
	Updated   int
	Failed    int
}

func New(p Params) (*Reconciler, error) {
	if p.DB == nil || p.Log == nil || p.Repo == nil || p.Service == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return NewReconciler(p.DB, p.Log, p.Repo, p.Service, p.GenID, p.Clock, p.Config, p.Metrics)
}

func NewReconciler(
	db *gorm.DB,
	log *zap.Logger,
	repo integrationdomain.Repository,
	checker StatusChecker,
	genID *snowflake.Node,
	clk clock.Clock,
	cfg Config,
	m *obsmetrics.ConnectionMetrics,
) (*Reconciler, error) {
	cfg = cfg.withDefaults()
	pool, err := ants.NewPool(cfg.Workers, ants.WithPanicHandler(func(v any) {
		log.Error("reconciler worker panic", zap.Any("panic", v))
	}))
	if err != nil {
		return nil, fmt.Errorf("reconciler pool: %w", err)
	}
	return &Reconciler{
		db:      db,
		log:     log.Named("reconciler"),
		repo:    repo,
		checker: checker,
		genID:   genID,
		clock:   clk,
		cfg:     cfg,
		metrics: m,
		pool:    pool,
	}, nil
}

// Sweep pages through connected integrations. Overlapping sweeps are skipped.
func (r *Reconciler) Sweep(ctx context.Context) (Result, error) {
	if !r.running.CompareAndSwap(false, true) {
		r.log.Debug("sweep already running, skipping")
		return Result{}, nil
	}
	defer r.running.Store(false)

	runID := r.genID.Generate().String()
	log := r.log.With(zap.String("run_id", runID))
	startedAt := r.clock.Now()

	var (
		res     Result
		mu      sync.Mutex
		wg      sync.WaitGroup
		afterID int64
	)

	record := func(result string) {
		mu.Lock()
		defer mu.Unlock()
		res.Checked++
		switch result {
		case obsmetrics.ReconcileUnchanged:
			res.Unchanged++
		case obsmetrics.ReconcileUpdated:
			res.Updated++
		default:
			res.Failed++
		}
	}

	var sweepErr error
	for {
		if err := ctx.Err(); err != nil {
			sweepErr = err
			break
		}

		items, err := r.repo.ListByStatus(ctx, r.db, integrationdomain.StatusConnected, afterID, r.cfg.BatchSize)
		if err != nil {
			sweepErr = fmt.Errorf("list connected integrations: %w", err)
			break
		}
		if len(items) == 0 {
			break
		}

		for _, item := range items {
			tenantID := item.TenantID
			wg.Add(1)
			submitErr := r.pool.Submit(func() {
				defer wg.Done()
				record(r.check(ctx, log, tenantID))
			})
			if submitErr != nil {
				wg.Done()
				log.Warn("reconciler submit failed", zap.String("tenant_id", tenantID), zap.Error(submitErr))
				record(obsmetrics.ReconcileFailed)
			}
		}
		afterID = items[len(items)-1].ID

		if len(items) < r.cfg.BatchSize {
			break
		}
	}
	wg.Wait()

	elapsed := r.clock.Now().Sub(startedAt)
	outcome := "ok"
	if sweepErr != nil {
		outcome = "error"
	}
	r.metrics.RecordReconcileRun(outcome, elapsed)
	r.metrics.AddReconciled(obsmetrics.ReconcileUnchanged, res.Unchanged)
	r.metrics.AddReconciled(obsmetrics.ReconcileUpdated, res.Updated)
	r.metrics.AddReconciled(obsmetrics.ReconcileFailed, res.Failed)

	fields := []zap.Field{
		zap.Int("checked", res.Checked),
		zap.Int("unchanged", res.Unchanged),
		zap.Int("updated", res.Updated),
		zap.Int("failed", res.Failed),
		zap.Duration("duration", elapsed),
	}
	if sweepErr != nil {
		log.Error("reconcile sweep failed", append(fields, zap.Error(sweepErr))...)
		return res, sweepErr
	}
	if res.Checked > 0 {
		log.Info("reconcile sweep finished", fields...)
	}
	return res, nil
}

func (r *Reconciler) check(ctx context.Context, log *zap.Logger, tenantID string) string {
	st, err := r.checker.Status(ctx, tenantID)
	if err != nil {
		log.Warn("reconcile status check failed", zap.String("tenant_id", tenantID), zap.Error(err))
		return obsmetrics.ReconcileFailed
	}
	if st.Connected {
		return obsmetrics.ReconcileUnchanged
	}
	log.Info("integration no longer connected",
		zap.String("tenant_id", tenantID),
		zap.String("status", st.Status),
	)
	return obsmetrics.ReconcileUpdated
}

// Close releases the worker pool. Queued checks are dropped.
func (r *Reconciler) Close() {
	r.pool.Release()
}
