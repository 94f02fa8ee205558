package reporting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mamadbah2/farmledger/internal/domain/models"
)

const (
	recentActivityLimit    = 5
	recentConsumptionLimit = 7
)

// Inventory is the read side of the feed stock service.
type Inventory interface {
	GetCurrentStock(ctx context.Context, ownerID string) ([]models.StockLevel, error)
	ListLedger(ctx context.Context, ownerID string, limit int) ([]models.FeedLedgerEntry, error)
}

// Crops is the read side of the crop service.
type Crops interface {
	ListCrops(ctx context.Context, ownerID string, status models.CropStatus) ([]models.Crop, error)
	ListDailyLogs(ctx context.Context, ownerID, cropID string, limit int) ([]models.DailyLog, error)
}

// Vaccinations lists an owner's vaccinations.
type Vaccinations interface {
	List(ctx context.Context, ownerID string, status models.VaccinationStatus) ([]models.Vaccination, error)
}

// Store provides the aggregate queries behind reports.
type Store interface {
	DailyTotals(ctx context.Context, ownerID, fromDate, toDate string) (int, float64, error)
	SumLedger(ctx context.Context, ownerID string, action models.FeedAction, from, to time.Time) (float64, error)
	ListOwnerIDs(ctx context.Context) ([]string, error)
}

// Archive persists daily reports.
type Archive interface {
	SaveDailyReport(ctx context.Context, report models.DailyReport) error
}

// Service builds dashboards and periodic summaries.
type Service struct {
	store        Store
	inventory    Inventory
	crops        Crops
	vaccinations Vaccinations
	archive      Archive
	logger       *zap.Logger
}

// NewService wires a new reporting service instance. archive may be nil when
// MongoDB is not configured.
func NewService(store Store, inventory Inventory, crops Crops, vaccinations Vaccinations, archive Archive, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:        store,
		inventory:    inventory,
		crops:        crops,
		vaccinations: vaccinations,
		archive:      archive,
		logger:       logger,
	}
}

// Dashboard gathers the farm overview. Independent sections load concurrently.
func (s *Service) Dashboard(ctx context.Context, ownerID string) (models.Dashboard, error) {
	if ownerID == "" {
		return models.Dashboard{}, models.ErrUnauthorized
	}

	dash := models.Dashboard{
		Stock:              []models.StockLevel{},
		LowStock:           []models.StockLevel{},
		MissedVaccinations: []models.Vaccination{},
		RecentActivity:     []models.ActivityItem{},
		RecentConsumption:  []models.DailyLog{},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		levels, err := s.inventory.GetCurrentStock(gctx, ownerID)
		if err != nil {
			return err
		}
		dash.Stock = levels
		for _, l := range levels {
			dash.TotalFeedStockKg += l.StockKg
			if l.Low {
				dash.LowStock = append(dash.LowStock, l)
			}
		}
		return nil
	})

	g.Go(func() error {
		active, err := s.crops.ListCrops(gctx, ownerID, models.CropStatusActive)
		if err != nil {
			return err
		}
		for _, c := range active {
			dash.ActiveBirds += c.PresentChicks
		}
		if len(active) == 0 {
			return nil
		}
		latest := active[0]
		dash.ActiveCrop = &latest

		logs, err := s.crops.ListDailyLogs(gctx, ownerID, latest.ID, recentConsumptionLimit)
		if err != nil {
			return err
		}
		dash.RecentConsumption = logs
		return nil
	})

	g.Go(func() error {
		pending, err := s.vaccinations.List(gctx, ownerID, models.VaccinationPending)
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			next := pending[0]
			dash.NextVaccination = &next
		}
		return nil
	})

	g.Go(func() error {
		missed, err := s.vaccinations.List(gctx, ownerID, models.VaccinationMissed)
		if err != nil {
			return err
		}
		dash.MissedVaccinations = missed
		return nil
	})

	g.Go(func() error {
		entries, err := s.inventory.ListLedger(gctx, ownerID, recentActivityLimit)
		if err != nil {
			return err
		}
		for _, e := range entries {
			dash.RecentActivity = append(dash.RecentActivity, activityItem(e))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return models.Dashboard{}, err
	}
	return dash, nil
}

func activityItem(e models.FeedLedgerEntry) models.ActivityItem {
	return models.ActivityItem{
		Action:  "Feed " + string(e.Action),
		Date:    e.LoggedAt,
		Details: fmt.Sprintf("%d %s of %s (%s kg)", e.Bags, plural(e.Bags, "bag"), e.FeedTypeName, formatKg(e.QuantityKg)),
	}
}

// BuildDailyReport totals one owner's activity for the calendar date of day,
// taken in day's location.
func (s *Service) BuildDailyReport(ctx context.Context, ownerID string, day time.Time) (models.DailyReport, error) {
	date := models.DateKey(day)
	start := startOfDay(day)
	end := start.AddDate(0, 0, 1)

	report := models.DailyReport{OwnerID: ownerID, Date: date, CreatedAt: time.Now().UTC()}

	mortality, _, err := s.store.DailyTotals(ctx, ownerID, date, date)
	if err != nil {
		return report, err
	}
	report.Mortality = mortality

	if report.FeedConsumedKg, err = s.store.SumLedger(ctx, ownerID, models.FeedActionUsage, start, end); err != nil {
		return report, err
	}
	if report.FeedRestockedKg, err = s.store.SumLedger(ctx, ownerID, models.FeedActionRestock, start, end); err != nil {
		return report, err
	}

	levels, err := s.inventory.GetCurrentStock(ctx, ownerID)
	if err != nil {
		return report, err
	}
	for _, l := range levels {
		report.StockKg += l.StockKg
	}

	active, err := s.crops.ListCrops(ctx, ownerID, models.CropStatusActive)
	if err != nil {
		return report, err
	}
	report.ActiveCrops = len(active)
	for _, c := range active {
		report.ActiveBirds += c.PresentChicks
	}

	return report, nil
}

// ArchiveDailyReports stores the report of day for every owner. An owner that
// fails does not stop the others; all failures are returned together.
func (s *Service) ArchiveDailyReports(ctx context.Context, day time.Time) (int, error) {
	if s.archive == nil {
		return 0, errors.New("report archive is not configured")
	}

	owners, err := s.store.ListOwnerIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list owners: %w", err)
	}

	var (
		saved int
		errs  []error
	)
	for _, ownerID := range owners {
		report, err := s.BuildDailyReport(ctx, ownerID, day)
		if err == nil {
			err = s.archive.SaveDailyReport(ctx, report)
		}
		if err != nil {
			s.logger.Error("failed to archive daily report", zap.String("owner_id", ownerID), zap.Error(err))
			errs = append(errs, fmt.Errorf("owner %s: %w", ownerID, err))
			continue
		}
		saved++
	}

	s.logger.Info("daily reports archived", zap.String("date", models.DateKey(day)), zap.Int("saved", saved))
	return saved, errors.Join(errs...)
}

// WeeklySummary renders the last seven days, ending with the date of now, as
// a WhatsApp message.
func (s *Service) WeeklySummary(ctx context.Context, ownerID string, now time.Time) (string, error) {
	end := startOfDay(now).AddDate(0, 0, 1)
	start := end.AddDate(0, 0, -7)
	fromDate, toDate := models.DateKey(start), models.DateKey(now)

	mortality, _, err := s.store.DailyTotals(ctx, ownerID, fromDate, toDate)
	if err != nil {
		return "", fmt.Errorf("load weekly totals: %w", err)
	}
	used, err := s.store.SumLedger(ctx, ownerID, models.FeedActionUsage, start, end)
	if err != nil {
		return "", fmt.Errorf("load weekly usage: %w", err)
	}
	restocked, err := s.store.SumLedger(ctx, ownerID, models.FeedActionRestock, start, end)
	if err != nil {
		return "", fmt.Errorf("load weekly restocks: %w", err)
	}
	levels, err := s.inventory.GetCurrentStock(ctx, ownerID)
	if err != nil {
		return "", fmt.Errorf("load stock: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Weekly summary (%s to %s)\n", fromDate, toDate)
	fmt.Fprintf(&b, "Feed used: %s kg (%s bags)\n", formatKg(used), formatKg(used/models.BagWeightKg))
	fmt.Fprintf(&b, "Feed restocked: %s kg\n", formatKg(restocked))
	fmt.Fprintf(&b, "Mortality: %d %s\n", mortality, plural(mortality, "bird"))
	b.WriteString(FormatStock(levels))
	return b.String(), nil
}

// FormatStock renders stock levels for chat replies.
func FormatStock(levels []models.StockLevel) string {
	if len(levels) == 0 {
		return "Stock: no feed recorded yet."
	}

	var b strings.Builder
	b.WriteString("Stock:")
	for _, l := range levels {
		fmt.Fprintf(&b, "\n- %s: %d %s (%s kg)", l.FeedType, l.AvailableBags, plural(l.AvailableBags, "bag"), formatKg(l.StockKg))
		if l.Low {
			b.WriteString(" LOW")
		}
	}
	return b.String()
}

// FormatDrift renders a reconciliation report for an alert message.
func FormatDrift(report models.ReconcileReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Stock drift detected for %s:", report.OwnerID)
	for _, d := range report.Discrepancies {
		fmt.Fprintf(&b, "\n- %s: cached %s kg, ledger %s kg", d.FeedType, formatKg(d.CachedKg), formatKg(d.LedgerKg))
	}
	return b.String()
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func formatKg(v float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
