package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/meterwise/meterwise/internal/clock"
	meteringdomain "github.com/meterwise/meterwise/internal/metering/domain"
	obsmetrics "github.com/meterwise/meterwise/internal/observability/metrics"
	statementdomain "github.com/meterwise/meterwise/internal/statement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	MeteringSvc  meteringdomain.Service
	StatementSvc statementdomain.Generator
	Runner       *Runner
	Config       Config `optional:"true"`
}

// Scheduler drives the settlement pipeline: meter the closed day, fold its
// usage into statements, then pay what is owed. Job order matters; each run
// executes the three jobs in pipeline order.
type Scheduler struct {
	db           *gorm.DB
	log          *zap.Logger
	cfg          Config
	genID        *snowflake.Node
	clock        clock.Clock
	meteringSvc  meteringdomain.Service
	statementSvc statementdomain.Generator
	runner       *Runner
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.MeteringSvc == nil || p.StatementSvc == nil || p.Runner == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:           p.DB,
		log:          p.Log.Named("settlement.scheduler"),
		cfg:          p.Config.withDefaults(),
		genID:        p.GenID,
		clock:        p.Clock,
		meteringSvc:  p.MeteringSvc,
		statementSvc: p.StatementSvc,
		runner:       p.Runner,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	run := s.newJobRun(name)
	s.logJobStart(run)

	metrics := obsmetrics.Settlement()
	metrics.IncJobRun(name)

	err := fn(contextWithJobRun(ctx, run))
	metrics.ObserveJobDuration(name, time.Since(start))
	metrics.AddItemsProcessed(name, run.processedCount)
	if err != nil && run.errorCount == 0 {
		run.IncError()
	}
	s.logJobFinish(run)
	if err == nil {
		return nil
	}

	metrics.IncJobError(name)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.log.Warn("settlement job timed out",
			zap.String("job", name),
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err))
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce executes one full pipeline pass and aggregates per-job errors.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{"measure", s.MeasureJob},
		{"generate_statements", s.GenerateStatementsJob},
		{"pay_statements", s.PayStatementsJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, job.Run))
	}

	return err
}

// RunForever ticks the pipeline on the configured interval until the
// context is cancelled.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("settlement run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// Empty EnabledJobs means every job runs (monolith mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// MeasureJob meters the previous full UTC day for every active resource.
func (s *Scheduler) MeasureJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)

	summary, err := s.meteringSvc.Run(ctx, meteringdomain.RunRequest{})
	run.AddProcessed(summary.Count)
	for i := 0; i < summary.Failed; i++ {
		run.IncError()
	}
	return err
}

// GenerateStatementsJob folds yesterday's usage records into statements.
func (s *Scheduler) GenerateStatementsJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	yesterday := meteringdomain.DayOf(s.clock.Now()).Add(-24 * time.Hour)

	summary, err := s.statementSvc.Run(ctx, statementdomain.RunRequest{Date: yesterday})
	run.AddProcessed(summary.Count)
	for i := 0; i < summary.Failed; i++ {
		run.IncError()
	}
	return err
}

// PayStatementsJob settles all unpaid statements under the configured policy.
func (s *Scheduler) PayStatementsJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)

	summary, err := s.runner.Run(ctx, RunRequest{RequireEnoughBalance: s.cfg.RequireEnoughBalance})
	run.AddProcessed(summary.SuccessCount)
	for i := 0; i < summary.FailedCount; i++ {
		run.IncError()
	}
	return err
}
