package inventory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mamadbah2/farmledger/internal/domain/models"
)

const (
	mirrorTimeout = 10 * time.Second
	// stockEpsilonKg absorbs float rounding when comparing cached stock with the ledger.
	stockEpsilonKg = 1e-6
)

// Store is the persistence surface the inventory needs. *sqlstore.Store satisfies it.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	ReadSnapshot(ctx context.Context, fn func(ctx context.Context) error) error
	AfterCommit(ctx context.Context, fn func())

	FeedTypesForUpdate(ctx context.Context, ownerID string, names []string) (map[string]models.FeedType, error)
	EnsureFeedTypes(ctx context.Context, ownerID string, names []string) error
	AdjustFeedStock(ctx context.Context, feedTypeID string, deltaKg float64, lastRestockBags *int) error
	SetFeedStock(ctx context.Context, feedTypeID string, stockKg float64) error
	ListFeedTypes(ctx context.Context, ownerID string) ([]models.FeedType, error)

	AppendLedger(ctx context.Context, entries []models.FeedLedgerEntry) error
	LedgerTotals(ctx context.Context, ownerID string) ([]models.LedgerTotal, error)
	LedgerTotal(ctx context.Context, ownerID, feedType string) (float64, error)
	ListLedger(ctx context.Context, ownerID string, limit int) ([]models.FeedLedgerEntry, error)

	GetCrop(ctx context.Context, ownerID, cropID string) (models.Crop, error)
	UpsertDailyLog(ctx context.Context, cropID, logDate string, delta models.DailyLogDelta) (models.DailyLog, error)
}

// LedgerMirror receives committed ledger entries, e.g. a spreadsheet export.
type LedgerMirror interface {
	MirrorLedger(ctx context.Context, entries []models.FeedLedgerEntry) error
}

// Service owns every change to feed stock. Each write appends ledger entries
// and adjusts the cached stock in the same transaction.
type Service struct {
	store        Store
	mirror       LedgerMirror
	logger       *zap.Logger
	now          func() time.Time
	lowStockBags int

	// mirrors tracks in-flight mirror writes so Close can drain them.
	mirrors sync.WaitGroup
}

// Option customizes a Service.
type Option func(*Service)

// WithMirror copies committed ledger entries to m.
func WithMirror(m LedgerMirror) Option {
	return func(s *Service) { s.mirror = m }
}

// WithClock overrides the time source. The returned time's location decides
// which calendar date a daily log belongs to.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLowStockBags sets the threshold below which a feed type is flagged low.
func WithLowStockBags(bags int) Option {
	return func(s *Service) {
		if bags > 0 {
			s.lowStockBags = bags
		}
	}
}

// NewService wires the inventory service.
func NewService(store Store, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:        store,
		logger:       logger,
		now:          time.Now,
		lowStockBags: models.DefaultLowStockBags,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordUsage debits stock for every movement. Either all movements are
// recorded or none: the first feed type that cannot cover its request aborts
// the whole operation with an *models.InsufficientStockError.
//
// When cropID is set the entries are linked to the crop, and an Active crop
// also gets the used kilograms added to today's daily log.
func (s *Service) RecordUsage(ctx context.Context, ownerID string, movements []models.Movement, cropID *string) ([]models.FeedLedgerEntry, error) {
	if ownerID == "" {
		return nil, models.ErrUnauthorized
	}
	items, err := normalizeMovements(movements)
	if err != nil {
		return nil, err
	}

	var entries []models.FeedLedgerEntry
	err = s.store.WithinTx(ctx, func(ctx context.Context) error {
		var crop *models.Crop
		if cropID != nil {
			c, err := s.store.GetCrop(ctx, ownerID, *cropID)
			if err != nil {
				return err
			}
			crop = &c
		}

		locked, err := s.store.FeedTypesForUpdate(ctx, ownerID, names(items))
		if err != nil {
			return err
		}

		for _, item := range items {
			var stockKg float64
			if ft, ok := locked[item.FeedType]; ok {
				stockKg = ft.CurrentStockKg
			}
			if stockKg+stockEpsilonKg < models.BagsToKg(item.Bags) {
				return &models.InsufficientStockError{
					FeedType:  item.FeedType,
					Requested: item.Bags,
					Available: models.AvailableBags(stockKg),
				}
			}
		}

		entries = s.buildEntries(ownerID, models.FeedActionUsage, items, locked, cropID)
		if err := s.store.AppendLedger(ctx, entries); err != nil {
			return err
		}

		var totalKg float64
		for _, e := range entries {
			if err := s.store.AdjustFeedStock(ctx, e.FeedTypeID, -e.QuantityKg, nil); err != nil {
				return err
			}
			totalKg += e.QuantityKg
		}

		if crop != nil && crop.Status == models.CropStatusActive {
			day := models.DateKey(s.now())
			if _, err := s.store.UpsertDailyLog(ctx, crop.ID, day, models.DailyLogDelta{FeedConsumedKg: totalKg}); err != nil {
				return err
			}
		}

		s.afterCommit(ctx, "feed usage recorded", ownerID, entries)
		return nil
	})
	if err != nil {
		return nil, s.fail("record usage", ownerID, err)
	}
	return entries, nil
}

// RecordRestock credits stock for every movement, creating feed types the
// owner does not have yet. cropID optionally links the delivery to a crop.
func (s *Service) RecordRestock(ctx context.Context, ownerID string, movements []models.Movement, cropID *string) ([]models.FeedLedgerEntry, error) {
	if ownerID == "" {
		return nil, models.ErrUnauthorized
	}
	items, err := normalizeMovements(movements)
	if err != nil {
		return nil, err
	}

	var entries []models.FeedLedgerEntry
	err = s.store.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.store.EnsureFeedTypes(ctx, ownerID, names(items)); err != nil {
			return err
		}
		locked, err := s.store.FeedTypesForUpdate(ctx, ownerID, names(items))
		if err != nil {
			return err
		}

		entries = s.buildEntries(ownerID, models.FeedActionRestock, items, locked, cropID)
		if err := s.store.AppendLedger(ctx, entries); err != nil {
			return err
		}

		for _, e := range entries {
			bags := e.Bags
			if err := s.store.AdjustFeedStock(ctx, e.FeedTypeID, e.QuantityKg, &bags); err != nil {
				return err
			}
		}

		s.afterCommit(ctx, "feed restock recorded", ownerID, entries)
		return nil
	})
	if err != nil {
		return nil, s.fail("record restock", ownerID, err)
	}
	return entries, nil
}

// GetCurrentStock returns the owner's cached stock per feed type, ordered by name.
func (s *Service) GetCurrentStock(ctx context.Context, ownerID string) ([]models.StockLevel, error) {
	if ownerID == "" {
		return nil, models.ErrUnauthorized
	}

	rows, err := s.store.ListFeedTypes(ctx, ownerID)
	if err != nil {
		return nil, s.fail("get current stock", ownerID, err)
	}

	levels := make([]models.StockLevel, 0, len(rows))
	for _, ft := range rows {
		available := models.AvailableBags(ft.CurrentStockKg)
		levels = append(levels, models.StockLevel{
			FeedTypeID:      ft.ID,
			FeedType:        ft.Name,
			StockKg:         ft.CurrentStockKg,
			Bags:            ft.CurrentStockKg / models.BagWeightKg,
			AvailableBags:   available,
			LastRestockBags: ft.LastRestockBags,
			Low:             available < s.lowStockBags,
		})
	}
	return levels, nil
}

// ListLedger returns the owner's most recent ledger entries.
func (s *Service) ListLedger(ctx context.Context, ownerID string, limit int) ([]models.FeedLedgerEntry, error) {
	if ownerID == "" {
		return nil, models.ErrUnauthorized
	}
	entries, err := s.store.ListLedger(ctx, ownerID, limit)
	if err != nil {
		return nil, s.fail("list ledger", ownerID, err)
	}
	return entries, nil
}

// RecomputeStockFromLedger compares every cached stock figure with the signed
// sum of its ledger. With repair set, each drifting feed type is rewritten to
// its ledger value under a row lock. The report always lists the drift found
// before any repair.
func (s *Service) RecomputeStockFromLedger(ctx context.Context, ownerID string, repair bool) (models.ReconcileReport, error) {
	report := models.ReconcileReport{OwnerID: ownerID, Discrepancies: []models.Discrepancy{}}
	if ownerID == "" {
		return report, models.ErrUnauthorized
	}

	var (
		feedTypes []models.FeedType
		totals    []models.LedgerTotal
	)
	err := s.store.ReadSnapshot(ctx, func(ctx context.Context) error {
		var err error
		if feedTypes, err = s.store.ListFeedTypes(ctx, ownerID); err != nil {
			return err
		}
		totals, err = s.store.LedgerTotals(ctx, ownerID)
		return err
	})
	if err != nil {
		return report, s.fail("reconcile stock", ownerID, err)
	}
	report.CheckedAt = s.now()
	report.Discrepancies = diffStock(feedTypes, totals)

	if !repair || report.Clean() {
		return report, nil
	}

	for _, d := range report.Discrepancies {
		if err := s.repairFeedType(ctx, ownerID, d.FeedType); err != nil {
			return report, s.fail("repair stock", ownerID, err)
		}
	}
	report.Repaired = true

	s.logger.Warn("feed stock repaired from ledger",
		zap.String("owner_id", ownerID),
		zap.Any("discrepancies", report.Discrepancies),
	)
	return report, nil
}

// repairFeedType recomputes the ledger sum while holding the feed type lock so
// that concurrent writes cannot slip in between the read and the overwrite.
func (s *Service) repairFeedType(ctx context.Context, ownerID, name string) error {
	return s.store.WithinTx(ctx, func(ctx context.Context) error {
		locked, err := s.store.FeedTypesForUpdate(ctx, ownerID, []string{name})
		if err != nil {
			return err
		}
		ledgerKg, err := s.store.LedgerTotal(ctx, ownerID, name)
		if err != nil {
			return err
		}

		ft, ok := locked[name]
		if !ok {
			if ledgerKg <= stockEpsilonKg {
				return nil
			}
			if err := s.store.EnsureFeedTypes(ctx, ownerID, []string{name}); err != nil {
				return err
			}
			if locked, err = s.store.FeedTypesForUpdate(ctx, ownerID, []string{name}); err != nil {
				return err
			}
			ft = locked[name]
		}

		if math.Abs(ft.CurrentStockKg-ledgerKg) <= stockEpsilonKg {
			return nil
		}
		return s.store.SetFeedStock(ctx, ft.ID, ledgerKg)
	})
}

func diffStock(feedTypes []models.FeedType, totals []models.LedgerTotal) []models.Discrepancy {
	ledger := make(map[string]float64, len(totals))
	for _, t := range totals {
		ledger[t.FeedType] = t.TotalKg
	}

	out := []models.Discrepancy{}
	seen := make(map[string]bool, len(feedTypes))
	for _, ft := range feedTypes {
		seen[ft.Name] = true
		ledgerKg := ledger[ft.Name]
		if math.Abs(ledgerKg-ft.CurrentStockKg) > stockEpsilonKg {
			out = append(out, models.Discrepancy{
				FeedType: ft.Name,
				CachedKg: ft.CurrentStockKg,
				LedgerKg: ledgerKg,
				DeltaKg:  ledgerKg - ft.CurrentStockKg,
			})
		}
	}

	// Ledger rows whose feed type row is gone.
	for _, t := range totals {
		if seen[t.FeedType] || math.Abs(t.TotalKg) <= stockEpsilonKg {
			continue
		}
		out = append(out, models.Discrepancy{FeedType: t.FeedType, LedgerKg: t.TotalKg, DeltaKg: t.TotalKg})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].FeedType < out[j].FeedType })
	return out
}

func (s *Service) buildEntries(ownerID string, action models.FeedAction, items []models.Movement, feedTypes map[string]models.FeedType, cropID *string) []models.FeedLedgerEntry {
	batchID := uuid.NewString()
	loggedAt := s.now().UTC()

	entries := make([]models.FeedLedgerEntry, 0, len(items))
	for _, item := range items {
		entries = append(entries, models.FeedLedgerEntry{
			ID:           uuid.NewString(),
			OwnerID:      ownerID,
			BatchID:      batchID,
			FeedTypeID:   feedTypes[item.FeedType].ID,
			FeedTypeName: item.FeedType,
			CropID:       cropID,
			Action:       action,
			Bags:         item.Bags,
			QuantityKg:   models.BagsToKg(item.Bags),
			LoggedAt:     loggedAt,
		})
	}
	return entries
}

// afterCommit logs the movement and starts the mirror write once the
// outermost transaction commits. Callers running inside a larger unit of
// work get neither if it rolls back.
func (s *Service) afterCommit(ctx context.Context, msg, ownerID string, entries []models.FeedLedgerEntry) {
	s.store.AfterCommit(ctx, func() {
		s.logger.Info(msg,
			zap.String("owner_id", ownerID),
			zap.String("batch_id", entries[0].BatchID),
			zap.Int("feed_types", len(entries)),
		)
		if s.mirror == nil {
			return
		}

		// The mirror runs in the background so a slow spreadsheet API does not
		// hold up the request.
		mctx := context.WithoutCancel(ctx)
		s.mirrors.Add(1)
		go func() {
			defer s.mirrors.Done()
			mctx, cancel := context.WithTimeout(mctx, mirrorTimeout)
			defer cancel()
			if err := s.mirror.MirrorLedger(mctx, entries); err != nil {
				s.logger.Warn("failed to mirror ledger entries", zap.String("batch_id", entries[0].BatchID), zap.Error(err))
			}
		}()
	})
}

// Close waits for pending mirror writes.
func (s *Service) Close() {
	s.mirrors.Wait()
}

func (s *Service) fail(op, ownerID string, err error) error {
	wrapped := models.WrapPersistence(op, err)
	if !models.IsBusinessError(wrapped) {
		s.logger.Error(op+" failed", zap.String("owner_id", ownerID), zap.Error(err))
	}
	return wrapped
}

// normalizeMovements canonicalizes names, sums duplicates, drops zero
// quantities and sorts by name so locks are always taken in the same order.
func normalizeMovements(movements []models.Movement) ([]models.Movement, error) {
	totals := make(map[string]int, len(movements))
	for _, m := range movements {
		name := models.NormalizeFeedTypeName(m.FeedType)
		if name == "" {
			return nil, models.NewValidationError("feed type is required")
		}
		if m.Bags < 0 {
			return nil, models.NewValidationError("bags for %s cannot be negative", name)
		}
		if m.Bags > models.MaxBagsPerMovement {
			return nil, models.NewValidationError("bags for %s cannot exceed %d", name, models.MaxBagsPerMovement)
		}
		if m.Bags > 0 {
			totals[name] += m.Bags
			if totals[name] > models.MaxBagsPerMovement {
				return nil, models.NewValidationError("total bags for %s cannot exceed %d", name, models.MaxBagsPerMovement)
			}
		}
	}
	if len(totals) == 0 {
		return nil, models.NewValidationError("please specify at least one bag")
	}

	items := make([]models.Movement, 0, len(totals))
	for name, bags := range totals {
		items = append(items, models.Movement{FeedType: name, Bags: bags})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].FeedType < items[j].FeedType })
	return items, nil
}

func names(items []models.Movement) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.FeedType
	}
	return out
}
