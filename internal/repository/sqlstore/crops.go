package sqlstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"

	"github.com/mamadbah2/farmledger/internal/domain/models"
)

// CreateCrop inserts a crop together with its chick sources.
func (s *Store) CreateCrop(ctx context.Context, crop *models.Crop) error {
	if crop.ID == "" {
		crop.ID = uuid.NewString()
	}
	for i := range crop.Sources {
		if crop.Sources[i].ID == "" {
			crop.Sources[i].ID = uuid.NewString()
		}
		crop.Sources[i].CropID = crop.ID
	}

	if err := s.conn(ctx).Create(crop).Error; err != nil {
		return fmt.Errorf("create crop: %w", err)
	}
	return nil
}

// GetCrop loads one of the owner's crops with its chick sources.
func (s *Store) GetCrop(ctx context.Context, ownerID, cropID string) (models.Crop, error) {
	var crop models.Crop
	err := s.conn(ctx).
		Preload("Sources").
		Where("id = ? AND owner_id = ?", cropID, ownerID).
		First(&crop).Error
	if err != nil {
		return models.Crop{}, notFound(err)
	}
	return crop, nil
}

// GetCropForUpdate loads and locks one of the owner's crops.
func (s *Store) GetCropForUpdate(ctx context.Context, ownerID, cropID string) (models.Crop, error) {
	var crop models.Crop
	err := s.forUpdate(s.conn(ctx)).
		Where("id = ? AND owner_id = ?", cropID, ownerID).
		First(&crop).Error
	if err != nil {
		return models.Crop{}, notFound(err)
	}
	return crop, nil
}

// UpdateCrop persists every column of crop except its associations.
func (s *Store) UpdateCrop(ctx context.Context, crop *models.Crop) error {
	if err := s.conn(ctx).Omit(clause.Associations).Save(crop).Error; err != nil {
		return fmt.Errorf("update crop: %w", err)
	}
	return nil
}

// ListCrops returns the owner's crops, newest first. An empty status lists all.
func (s *Store) ListCrops(ctx context.Context, ownerID string, status models.CropStatus) ([]models.Crop, error) {
	var crops []models.Crop
	q := s.conn(ctx).Preload("Sources").Where("owner_id = ?", ownerID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Order("created_at DESC").Order("id").Find(&crops).Error; err != nil {
		return nil, fmt.Errorf("list crops: %w", err)
	}
	return crops, nil
}

// MortalityTotals sums recorded mortality per crop.
func (s *Store) MortalityTotals(ctx context.Context, cropIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(cropIDs))
	if len(cropIDs) == 0 {
		return out, nil
	}

	var rows []struct {
		CropID    string
		Mortality int
	}
	err := s.conn(ctx).Model(&models.DailyLog{}).
		Select("crop_id, COALESCE(SUM(mortality), 0) AS mortality").
		Where("crop_id IN ?", cropIDs).
		Group("crop_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("sum mortality: %w", err)
	}

	for _, row := range rows {
		out[row.CropID] = row.Mortality
	}
	return out, nil
}

// UpsertDailyLog merges delta into the crop's log for logDate, creating the
// row when the day has none yet.
func (s *Store) UpsertDailyLog(ctx context.Context, cropID, logDate string, delta models.DailyLogDelta) (models.DailyLog, error) {
	var out models.DailyLog
	err := s.WithinTx(ctx, func(ctx context.Context) error {
		db := s.conn(ctx)

		seed := models.DailyLog{ID: uuid.NewString(), CropID: cropID, LogDate: logDate}
		if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return fmt.Errorf("seed daily log: %w", err)
		}

		var current models.DailyLog
		if err := s.forUpdate(db).Where("crop_id = ? AND log_date = ?", cropID, logDate).First(&current).Error; err != nil {
			return fmt.Errorf("load daily log: %w", err)
		}

		current.Apply(delta)
		if err := db.Save(&current).Error; err != nil {
			return fmt.Errorf("save daily log: %w", err)
		}

		out = current
		return nil
	})
	return out, err
}

// ListDailyLogs returns the crop's logs, newest date first.
func (s *Store) ListDailyLogs(ctx context.Context, cropID string, limit int) ([]models.DailyLog, error) {
	var logs []models.DailyLog
	q := s.conn(ctx).Where("crop_id = ?", cropID).Order("log_date DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("list daily logs: %w", err)
	}
	return logs, nil
}

// DailyTotals sums mortality and feed consumption over the owner's crops for
// log dates in [fromDate, toDate] (inclusive, YYYY-MM-DD).
func (s *Store) DailyTotals(ctx context.Context, ownerID, fromDate, toDate string) (mortality int, feedKg float64, err error) {
	var out struct {
		Mortality      int
		FeedConsumedKg float64
	}
	err = s.conn(ctx).
		Table("daily_logs AS d").
		Joins("JOIN crops AS c ON c.id = d.crop_id").
		Select("COALESCE(SUM(d.mortality), 0) AS mortality, COALESCE(SUM(d.feed_consumed_kg), 0) AS feed_consumed_kg").
		Where("c.owner_id = ? AND d.log_date >= ? AND d.log_date <= ?", ownerID, fromDate, toDate).
		Scan(&out).Error
	if err != nil {
		return 0, 0, fmt.Errorf("sum daily logs: %w", err)
	}
	return out.Mortality, out.FeedConsumedKg, nil
}
