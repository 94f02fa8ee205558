package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mamadbah2/farmledger/internal/config"
	"github.com/mamadbah2/farmledger/internal/domain/models"
	"github.com/mamadbah2/farmledger/internal/service/reporting"
)

const jobTimeout = 5 * time.Minute

// Vaccinations marks overdue vaccinations.
type Vaccinations interface {
	SweepMissed(ctx context.Context, now time.Time) (int64, error)
}

// Inventory audits cached stock against the ledger.
type Inventory interface {
	RecomputeStockFromLedger(ctx context.Context, ownerID string, repair bool) (models.ReconcileReport, error)
}

// Reporting builds the periodic reports.
type Reporting interface {
	ArchiveDailyReports(ctx context.Context, day time.Time) (int, error)
	WeeklySummary(ctx context.Context, ownerID string, now time.Time) (string, error)
}

// Owners lists the farms to visit and who can receive messages.
type Owners interface {
	ListOwnerIDs(ctx context.Context) ([]string, error)
}

// Recipients lists users with a linked WhatsApp number.
type Recipients interface {
	ListReachable(ctx context.Context) ([]models.User, error)
}

// Messenger delivers outbound WhatsApp messages.
type Messenger interface {
	SendOutbound(ctx context.Context, req models.OutboundMessageRequest) error
}

// Deps groups the services driven by the scheduler. Messenger may be nil when
// WhatsApp is disabled.
type Deps struct {
	Vaccinations Vaccinations
	Inventory    Inventory
	Reporting    Reporting
	Owners       Owners
	Recipients   Recipients
	Messenger    Messenger
}

// Scheduler manages scheduled tasks.
type Scheduler struct {
	cron   *cron.Cron
	deps   Deps
	cfg    config.Config
	loc    *time.Location
	now    func() time.Time
	logger *zap.Logger
}

// NewScheduler creates a scheduler running in the configured timezone.
func NewScheduler(cfg config.Config, deps Deps, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	loc, err := cfg.Reporting.Location()
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	return &Scheduler{
		cron:   cron.New(cron.WithLocation(loc)),
		deps:   deps,
		cfg:    cfg,
		loc:    loc,
		now:    time.Now,
		logger: logger,
	}, nil
}

// Start registers the jobs and starts the cron loop.
func (s *Scheduler) Start() error {
	jobs := []struct {
		name     string
		schedule string
		run      func(context.Context)
		enabled  bool
	}{
		{"vaccination sweep", s.cfg.Reporting.SweepSchedule, s.sweepVaccinations, true},
		{"stock audit", s.cfg.Reporting.ReconcileSchedule, s.auditStock, true},
		{"daily report archive", s.cfg.Reporting.CronSchedule, s.archiveDailyReports, s.cfg.MongoDB.Enabled()},
		{"weekly summary", s.cfg.Reporting.WeeklySchedule, s.sendWeeklySummaries, s.deps.Messenger != nil},
	}

	for _, job := range jobs {
		if !job.enabled || job.schedule == "" {
			s.logger.Info("job disabled", zap.String("job", job.name))
			continue
		}
		if _, err := s.cron.AddFunc(job.schedule, s.wrap(job.name, job.run)); err != nil {
			return fmt.Errorf("schedule %s %q: %w", job.name, job.schedule, err)
		}
		s.logger.Info("job scheduled", zap.String("job", job.name), zap.String("schedule", job.schedule))
	}

	s.logger.Info("starting scheduler", zap.String("timezone", s.loc.String()))
	s.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	<-s.cron.Stop().Done()
}

func (s *Scheduler) wrap(name string, run func(context.Context)) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		start := time.Now()
		run(ctx)
		s.logger.Debug("job finished", zap.String("job", name), zap.Duration("duration", time.Since(start)))
	}
}

func (s *Scheduler) sweepVaccinations(ctx context.Context) {
	n, err := s.deps.Vaccinations.SweepMissed(ctx, s.now().In(s.loc))
	if err != nil {
		s.logger.Error("vaccination sweep failed", zap.Error(err))
		return
	}
	s.logger.Info("vaccination sweep done", zap.Int64("missed", n))
}

// auditStock reports drift without repairing it.
func (s *Scheduler) auditStock(ctx context.Context) {
	owners, err := s.deps.Owners.ListOwnerIDs(ctx)
	if err != nil {
		s.logger.Error("stock audit failed to list owners", zap.Error(err))
		return
	}

	var drifted int
	for _, ownerID := range owners {
		report, err := s.deps.Inventory.RecomputeStockFromLedger(ctx, ownerID, false)
		if err != nil {
			s.logger.Error("stock audit failed", zap.String("owner_id", ownerID), zap.Error(err))
			continue
		}
		if len(report.Discrepancies) == 0 {
			continue
		}
		drifted++
		s.logger.Warn("stock drift detected",
			zap.String("owner_id", ownerID),
			zap.Any("discrepancies", report.Discrepancies))
		s.alert(ctx, reporting.FormatDrift(report))
	}

	s.logger.Info("stock audit done", zap.Int("owners", len(owners)), zap.Int("drifted", drifted))
}

func (s *Scheduler) alert(ctx context.Context, text string) {
	to := s.cfg.WhatsApp.AlertNumber
	if s.deps.Messenger == nil || to == "" {
		return
	}
	if err := s.deps.Messenger.SendOutbound(ctx, models.OutboundMessageRequest{To: to, Message: text}); err != nil {
		s.logger.Error("failed to send drift alert", zap.Error(err))
	}
}

func (s *Scheduler) archiveDailyReports(ctx context.Context) {
	if _, err := s.deps.Reporting.ArchiveDailyReports(ctx, s.now().In(s.loc)); err != nil {
		s.logger.Error("daily report archive incomplete", zap.Error(err))
	}
}

func (s *Scheduler) sendWeeklySummaries(ctx context.Context) {
	users, err := s.deps.Recipients.ListReachable(ctx)
	if err != nil {
		s.logger.Error("failed to list weekly summary recipients", zap.Error(err))
		return
	}

	now := s.now().In(s.loc)
	var sent int
	for _, u := range users {
		text, err := s.deps.Reporting.WeeklySummary(ctx, u.ID, now)
		if err != nil {
			s.logger.Error("failed to build weekly summary", zap.String("owner_id", u.ID), zap.Error(err))
			continue
		}
		if err := s.deps.Messenger.SendOutbound(ctx, models.OutboundMessageRequest{To: u.WhatsAppPhone, Message: text}); err != nil {
			s.logger.Error("failed to send weekly summary", zap.String("owner_id", u.ID), zap.Error(err))
			continue
		}
		sent++
	}
	s.logger.Info("weekly summaries sent", zap.Int("sent", sent), zap.Int("recipients", len(users)))
}
