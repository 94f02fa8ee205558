package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mamadbah2/farmledger/internal/domain/models"
)

// FeedTypesForUpdate loads the owner's feed types with the given names, locking
// the rows for the rest of the transaction. Missing names are absent from the map.
func (s *Store) FeedTypesForUpdate(ctx context.Context, ownerID string, names []string) (map[string]models.FeedType, error) {
	out := make(map[string]models.FeedType, len(names))
	if len(names) == 0 {
		return out, nil
	}

	var rows []models.FeedType
	err := s.forUpdate(s.conn(ctx)).
		Where("owner_id = ? AND name IN ?", ownerID, names).
		Order("name").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load feed types: %w", err)
	}

	for _, row := range rows {
		out[row.Name] = row
	}
	return out, nil
}

// EnsureFeedTypes creates empty feed types for names the owner does not have yet.
// Existing rows are left untouched.
func (s *Store) EnsureFeedTypes(ctx context.Context, ownerID string, names []string) error {
	if len(names) == 0 {
		return nil
	}

	rows := make([]models.FeedType, 0, len(names))
	for _, name := range names {
		rows = append(rows, models.FeedType{ID: uuid.NewString(), OwnerID: ownerID, Name: name})
	}

	if err := s.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
		return fmt.Errorf("create feed types: %w", err)
	}
	return nil
}

// AdjustFeedStock adds deltaKg to the cached stock. When lastRestockBags is not
// nil it also records the size of the latest restock.
func (s *Store) AdjustFeedStock(ctx context.Context, feedTypeID string, deltaKg float64, lastRestockBags *int) error {
	updates := map[string]any{
		"current_stock_kg": gorm.Expr("current_stock_kg + ?", deltaKg),
	}
	if lastRestockBags != nil {
		updates["last_restock_bags"] = *lastRestockBags
	}

	res := s.conn(ctx).Model(&models.FeedType{}).Where("id = ?", feedTypeID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("adjust feed stock: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// SetFeedStock overwrites the cached stock. Only reconciliation uses it.
func (s *Store) SetFeedStock(ctx context.Context, feedTypeID string, stockKg float64) error {
	res := s.conn(ctx).Model(&models.FeedType{}).Where("id = ?", feedTypeID).Update("current_stock_kg", stockKg)
	if res.Error != nil {
		return fmt.Errorf("set feed stock: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ListFeedTypes returns the owner's feed types ordered by name.
func (s *Store) ListFeedTypes(ctx context.Context, ownerID string) ([]models.FeedType, error) {
	var rows []models.FeedType
	if err := s.conn(ctx).Where("owner_id = ?", ownerID).Order("name").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list feed types: %w", err)
	}
	return rows, nil
}

// AppendLedger inserts ledger entries. Entries are never updated afterwards.
func (s *Store) AppendLedger(ctx context.Context, entries []models.FeedLedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := s.conn(ctx).Create(&entries).Error; err != nil {
		return fmt.Errorf("append feed ledger: %w", err)
	}
	return nil
}

const signedQuantity = "CASE WHEN action = 'Restock' THEN quantity_kg ELSE -quantity_kg END"

// LedgerTotals sums the owner's ledger per feed type name (restocks positive,
// usages negative).
func (s *Store) LedgerTotals(ctx context.Context, ownerID string) ([]models.LedgerTotal, error) {
	var totals []models.LedgerTotal
	err := s.conn(ctx).Model(&models.FeedLedgerEntry{}).
		Select("feed_type_name AS feed_type, SUM("+signedQuantity+") AS total_kg").
		Where("owner_id = ?", ownerID).
		Group("feed_type_name").
		Order("feed_type_name").
		Scan(&totals).Error
	if err != nil {
		return nil, fmt.Errorf("sum feed ledger: %w", err)
	}
	return totals, nil
}

// LedgerTotal sums the owner's ledger for a single feed type name.
func (s *Store) LedgerTotal(ctx context.Context, ownerID, feedType string) (float64, error) {
	var out struct {
		TotalKg float64
	}
	err := s.conn(ctx).Model(&models.FeedLedgerEntry{}).
		Select("COALESCE(SUM("+signedQuantity+"), 0) AS total_kg").
		Where("owner_id = ? AND feed_type_name = ?", ownerID, feedType).
		Scan(&out).Error
	if err != nil {
		return 0, fmt.Errorf("sum feed ledger for %s: %w", feedType, err)
	}
	return out.TotalKg, nil
}

// SumLedger totals the quantity of one action kind logged in [from, to).
func (s *Store) SumLedger(ctx context.Context, ownerID string, action models.FeedAction, from, to time.Time) (float64, error) {
	var out struct {
		TotalKg float64
	}
	err := s.conn(ctx).Model(&models.FeedLedgerEntry{}).
		Select("COALESCE(SUM(quantity_kg), 0) AS total_kg").
		Where("owner_id = ? AND action = ? AND logged_at >= ? AND logged_at < ?", ownerID, action, from.UTC(), to.UTC()).
		Scan(&out).Error
	if err != nil {
		return 0, fmt.Errorf("sum %s ledger: %w", action, err)
	}
	return out.TotalKg, nil
}

// ListLedger returns the owner's most recent ledger entries.
func (s *Store) ListLedger(ctx context.Context, ownerID string, limit int) ([]models.FeedLedgerEntry, error) {
	var rows []models.FeedLedgerEntry
	q := s.conn(ctx).Where("owner_id = ?", ownerID).Order("logged_at DESC").Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list feed ledger: %w", err)
	}
	return rows, nil
}

// ListOwnerIDs returns every owner that has inventory or crops.
func (s *Store) ListOwnerIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.conn(ctx).
		Raw("SELECT owner_id FROM feed_types UNION SELECT owner_id FROM crops ORDER BY owner_id").
		Scan(&ids).Error
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	return ids, nil
}
