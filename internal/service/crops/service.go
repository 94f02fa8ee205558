package crops

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/farmledger/internal/domain/models"
)

// Store is the persistence surface for crops and their daily logs.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error

	CreateCrop(ctx context.Context, crop *models.Crop) error
	GetCrop(ctx context.Context, ownerID, cropID string) (models.Crop, error)
	GetCropForUpdate(ctx context.Context, ownerID, cropID string) (models.Crop, error)
	UpdateCrop(ctx context.Context, crop *models.Crop) error
	ListCrops(ctx context.Context, ownerID string, status models.CropStatus) ([]models.Crop, error)
	MortalityTotals(ctx context.Context, cropIDs []string) (map[string]int, error)

	UpsertDailyLog(ctx context.Context, cropID, logDate string, delta models.DailyLogDelta) (models.DailyLog, error)
	ListDailyLogs(ctx context.Context, cropID string, limit int) ([]models.DailyLog, error)
}

// Inventory is the feed stock service. Crops never touch stock directly.
type Inventory interface {
	RecordRestock(ctx context.Context, ownerID string, movements []models.Movement, cropID *string) ([]models.FeedLedgerEntry, error)
	RecordUsage(ctx context.Context, ownerID string, movements []models.Movement, cropID *string) ([]models.FeedLedgerEntry, error)
}

// CropIntake describes a new batch of chicks arriving on the farm.
type CropIntake struct {
	Name                string               `json:"name" binding:"required"`
	TotalChicks         int                  `json:"total_chicks"`
	ArrivalDate         time.Time            `json:"arrival_date"`
	ExpectedHarvestDate *time.Time           `json:"expected_harvest_date"`
	Notes               string               `json:"notes"`
	Sources             []models.ChickSource `json:"sources"`
	FeedBags            []models.Movement    `json:"feed_bags"`
}

// HarvestInput carries the closing measurements of a crop.
type HarvestInput struct {
	HarvestDate     *time.Time `json:"harvest_date"`
	AvgWeightHeavy  *float64   `json:"avg_weight_heavy"`
	AvgWeightMedium *float64   `json:"avg_weight_medium"`
	AvgWeightLight  *float64   `json:"avg_weight_light"`
}

// DailyEntry is one recording action for a crop's current day.
type DailyEntry struct {
	Mortality   int               `json:"mortality"`
	FeedBags    []models.Movement `json:"feed_bags"`
	WaterLiters float64           `json:"water_liters"`
	AvgWeightG  *float64          `json:"avg_weight_g"`
	Notes       string            `json:"notes"`
}

// Service manages the crop lifecycle and the per-day aggregates.
type Service struct {
	store     Store
	inventory Inventory
	logger    *zap.Logger
	now       func() time.Time
}

// NewService wires the crop service. now may be nil to use the wall clock.
func NewService(store Store, inventory Inventory, logger *zap.Logger, now func() time.Time) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, inventory: inventory, logger: logger, now: now}
}

// CreateCrop registers an Active crop with its chick sources. Feed delivered
// with the chicks is restocked through the inventory in the same transaction.
func (s *Service) CreateCrop(ctx context.Context, ownerID string, in CropIntake) (models.Crop, error) {
	if ownerID == "" {
		return models.Crop{}, models.ErrUnauthorized
	}
	crop, err := s.buildCrop(ownerID, in)
	if err != nil {
		return models.Crop{}, err
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.store.CreateCrop(ctx, &crop); err != nil {
			return err
		}
		if !hasBags(in.FeedBags) {
			return nil
		}
		_, err := s.inventory.RecordRestock(ctx, ownerID, in.FeedBags, &crop.ID)
		return err
	})
	if err != nil {
		return models.Crop{}, s.fail("create crop", ownerID, err)
	}

	crop.PresentChicks = crop.TotalChicks
	s.logger.Info("crop created",
		zap.String("owner_id", ownerID),
		zap.String("crop_id", crop.ID),
		zap.Int("chicks", crop.TotalChicks),
	)
	return crop, nil
}

func (s *Service) buildCrop(ownerID string, in CropIntake) (models.Crop, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return models.Crop{}, models.NewValidationError("crop name is required")
	}

	var sourced int
	sources := make([]models.ChickSource, 0, len(in.Sources))
	for _, src := range in.Sources {
		src.SupplierName = strings.TrimSpace(src.SupplierName)
		if src.SupplierName == "" {
			return models.Crop{}, models.NewValidationError("supplier name is required")
		}
		if src.Count <= 0 {
			return models.Crop{}, models.NewValidationError("chick count for %s must be positive", src.SupplierName)
		}
		sourced += src.Count
		src.ID, src.CropID = "", ""
		sources = append(sources, src)
	}

	total := in.TotalChicks
	switch {
	case total == 0:
		total = sourced
	case len(sources) > 0 && total != sourced:
		return models.Crop{}, models.NewValidationError("total chicks %d does not match the %d chicks from suppliers", total, sourced)
	}
	if total <= 0 {
		return models.Crop{}, models.NewValidationError("total chicks must be positive")
	}

	arrival := in.ArrivalDate
	if arrival.IsZero() {
		arrival = s.now()
	}
	if in.ExpectedHarvestDate != nil && in.ExpectedHarvestDate.Before(arrival) {
		return models.Crop{}, models.NewValidationError("expected harvest date cannot be before arrival")
	}

	return models.Crop{
		OwnerID:             ownerID,
		Name:                name,
		TotalChicks:         total,
		ArrivalDate:         arrival.UTC(),
		ExpectedHarvestDate: in.ExpectedHarvestDate,
		Status:              models.CropStatusActive,
		Notes:               strings.TrimSpace(in.Notes),
		Sources:             sources,
	}, nil
}

// HarvestCrop closes an Active crop.
func (s *Service) HarvestCrop(ctx context.Context, ownerID, cropID string, in HarvestInput) (models.Crop, error) {
	return s.transition(ctx, "harvest crop", ownerID, cropID, models.CropStatusActive, func(c *models.Crop) {
		harvested := s.now().UTC()
		if in.HarvestDate != nil {
			harvested = in.HarvestDate.UTC()
		}
		c.Status = models.CropStatusCompleted
		c.ActualHarvestDate = &harvested
		c.AvgWeightHeavy = in.AvgWeightHeavy
		c.AvgWeightMedium = in.AvgWeightMedium
		c.AvgWeightLight = in.AvgWeightLight
	})
}

// ArchiveCrop hides a Completed crop from the active views.
func (s *Service) ArchiveCrop(ctx context.Context, ownerID, cropID string) (models.Crop, error) {
	return s.transition(ctx, "archive crop", ownerID, cropID, models.CropStatusCompleted, func(c *models.Crop) {
		c.Status = models.CropStatusArchived
	})
}

func (s *Service) transition(ctx context.Context, op, ownerID, cropID string, from models.CropStatus, apply func(*models.Crop)) (models.Crop, error) {
	if ownerID == "" {
		return models.Crop{}, models.ErrUnauthorized
	}

	var crop models.Crop
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		crop, err = s.store.GetCropForUpdate(ctx, ownerID, cropID)
		if err != nil {
			return err
		}
		if crop.Status != from {
			return models.NewValidationError("crop %s is %s, expected %s", crop.Name, crop.Status, from)
		}
		apply(&crop)
		return s.store.UpdateCrop(ctx, &crop)
	})
	if err != nil {
		return models.Crop{}, s.fail(op, ownerID, err)
	}

	s.logger.Info("crop status changed", zap.String("crop_id", crop.ID), zap.String("status", string(crop.Status)))
	return s.GetCrop(ctx, ownerID, cropID)
}

// GetCrop returns one crop with its present chick count.
func (s *Service) GetCrop(ctx context.Context, ownerID, cropID string) (models.Crop, error) {
	if ownerID == "" {
		return models.Crop{}, models.ErrUnauthorized
	}
	crop, err := s.store.GetCrop(ctx, ownerID, cropID)
	if err != nil {
		return models.Crop{}, s.fail("get crop", ownerID, err)
	}
	crops := []models.Crop{crop}
	if err := s.withPresentChicks(ctx, crops); err != nil {
		return models.Crop{}, s.fail("get crop", ownerID, err)
	}
	return crops[0], nil
}

// ListCrops returns the owner's crops, optionally filtered by status.
func (s *Service) ListCrops(ctx context.Context, ownerID string, status models.CropStatus) ([]models.Crop, error) {
	if ownerID == "" {
		return nil, models.ErrUnauthorized
	}
	crops, err := s.store.ListCrops(ctx, ownerID, status)
	if err != nil {
		return nil, s.fail("list crops", ownerID, err)
	}
	if err := s.withPresentChicks(ctx, crops); err != nil {
		return nil, s.fail("list crops", ownerID, err)
	}
	return crops, nil
}

func (s *Service) withPresentChicks(ctx context.Context, crops []models.Crop) error {
	ids := make([]string, len(crops))
	for i := range crops {
		ids[i] = crops[i].ID
	}
	dead, err := s.store.MortalityTotals(ctx, ids)
	if err != nil {
		return err
	}
	for i := range crops {
		crops[i].PresentChicks = presentChicks(crops[i].TotalChicks, dead[crops[i].ID])
	}
	return nil
}

func presentChicks(total, dead int) int {
	if dead >= total {
		return 0
	}
	return total - dead
}

// RecordDailyLog merges one entry into today's log of an Active crop. Feed
// bags are debited through the inventory, which also books the consumed
// kilograms on the same log row.
func (s *Service) RecordDailyLog(ctx context.Context, ownerID, cropID string, in DailyEntry) (models.DailyLog, error) {
	if ownerID == "" {
		return models.DailyLog{}, models.ErrUnauthorized
	}
	if in.Mortality < 0 {
		return models.DailyLog{}, models.NewValidationError("mortality cannot be negative")
	}
	if in.WaterLiters < 0 {
		return models.DailyLog{}, models.NewValidationError("water consumption cannot be negative")
	}
	if in.AvgWeightG != nil && *in.AvgWeightG <= 0 {
		return models.DailyLog{}, models.NewValidationError("average weight must be positive")
	}
	feeding := hasBags(in.FeedBags)
	if in.Mortality == 0 && in.WaterLiters == 0 && in.AvgWeightG == nil && strings.TrimSpace(in.Notes) == "" && !feeding {
		return models.DailyLog{}, models.NewValidationError("nothing to record")
	}

	var log models.DailyLog
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		crop, err := s.store.GetCropForUpdate(ctx, ownerID, cropID)
		if err != nil {
			return err
		}
		if crop.Status != models.CropStatusActive {
			return models.NewValidationError("crop %s is %s; daily logs need an Active crop", crop.Name, crop.Status)
		}

		if in.Mortality > 0 {
			dead, err := s.store.MortalityTotals(ctx, []string{crop.ID})
			if err != nil {
				return err
			}
			if present := presentChicks(crop.TotalChicks, dead[crop.ID]); in.Mortality > present {
				return models.NewValidationError("mortality %d exceeds the %d birds present", in.Mortality, present)
			}
		}

		if feeding {
			if _, err := s.inventory.RecordUsage(ctx, ownerID, in.FeedBags, &crop.ID); err != nil {
				return err
			}
		}

		log, err = s.store.UpsertDailyLog(ctx, crop.ID, models.DateKey(s.now()), models.DailyLogDelta{
			Mortality:           in.Mortality,
			WaterConsumedLiters: in.WaterLiters,
			AvgWeightG:          in.AvgWeightG,
			Notes:               in.Notes,
		})
		return err
	})
	if err != nil {
		return models.DailyLog{}, s.fail("record daily log", ownerID, err)
	}

	s.logger.Info("daily log recorded",
		zap.String("crop_id", cropID),
		zap.String("date", log.LogDate),
		zap.Int("mortality", in.Mortality),
	)
	return log, nil
}

// ListDailyLogs returns the crop's logs, newest first.
func (s *Service) ListDailyLogs(ctx context.Context, ownerID, cropID string, limit int) ([]models.DailyLog, error) {
	if ownerID == "" {
		return nil, models.ErrUnauthorized
	}
	if _, err := s.store.GetCrop(ctx, ownerID, cropID); err != nil {
		return nil, s.fail("list daily logs", ownerID, err)
	}
	logs, err := s.store.ListDailyLogs(ctx, cropID, limit)
	if err != nil {
		return nil, s.fail("list daily logs", ownerID, err)
	}
	return logs, nil
}

func (s *Service) fail(op, ownerID string, err error) error {
	wrapped := models.WrapPersistence(op, err)
	if !models.IsBusinessError(wrapped) {
		s.logger.Error(op+" failed", zap.String("owner_id", ownerID), zap.Error(err))
	}
	return wrapped
}

func hasBags(movements []models.Movement) bool {
	for _, m := range movements {
		if m.Bags != 0 {
			return true
		}
	}
	return false
}
