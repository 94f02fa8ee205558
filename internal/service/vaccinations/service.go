package vaccinations

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/farmledger/internal/domain/models"
)

// Store is the persistence surface for vaccinations.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetCrop(ctx context.Context, ownerID, cropID string) (models.Crop, error)

	CreateVaccination(ctx context.Context, v *models.Vaccination) error
	GetVaccinationForUpdate(ctx context.Context, ownerID, id string) (models.Vaccination, error)
	UpdateVaccination(ctx context.Context, v *models.Vaccination) error
	DeleteVaccination(ctx context.Context, ownerID, id string) error
	ListVaccinations(ctx context.Context, ownerID string, status models.VaccinationStatus) ([]models.Vaccination, error)
	ListPendingVaccinations(ctx context.Context) ([]models.Vaccination, error)
	MarkVaccinationsMissed(ctx context.Context, ids []string) (int64, error)
}

// ScheduleInput plans a vaccination. Either TargetDate or StandardDay (age of
// the birds in days) must be given.
type ScheduleInput struct {
	CropID      string     `json:"crop_id" binding:"required"`
	VaccineName string     `json:"vaccine_name" binding:"required"`
	StandardDay *int       `json:"standard_day"`
	TargetDate  *time.Time `json:"target_date"`
	Notes       string     `json:"notes"`
}

// Service schedules vaccinations and tracks whether they were given.
type Service struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewService wires the vaccination service. now may be nil to use the wall clock.
func NewService(store Store, logger *zap.Logger, now func() time.Time) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, logger: logger, now: now}
}

// Schedule plans a Pending vaccination for one of the owner's crops.
func (s *Service) Schedule(ctx context.Context, ownerID string, in ScheduleInput) (models.Vaccination, error) {
	if ownerID == "" {
		return models.Vaccination{}, models.ErrUnauthorized
	}
	name := strings.TrimSpace(in.VaccineName)
	if name == "" {
		return models.Vaccination{}, models.NewValidationError("vaccine name is required")
	}
	if in.StandardDay != nil && *in.StandardDay < 0 {
		return models.Vaccination{}, models.NewValidationError("standard day cannot be negative")
	}
	if in.TargetDate == nil && in.StandardDay == nil {
		return models.Vaccination{}, models.NewValidationError("target date or standard day is required")
	}

	crop, err := s.store.GetCrop(ctx, ownerID, in.CropID)
	if err != nil {
		return models.Vaccination{}, s.fail("schedule vaccination", ownerID, err)
	}

	var target time.Time
	if in.TargetDate != nil {
		target = in.TargetDate.UTC()
	} else {
		target = crop.ArrivalDate.AddDate(0, 0, *in.StandardDay).UTC()
	}

	v := models.Vaccination{
		OwnerID:     ownerID,
		CropID:      crop.ID,
		VaccineName: name,
		StandardDay: in.StandardDay,
		TargetDate:  target,
		Status:      models.VaccinationPending,
		Notes:       strings.TrimSpace(in.Notes),
	}
	if err := s.store.CreateVaccination(ctx, &v); err != nil {
		return models.Vaccination{}, s.fail("schedule vaccination", ownerID, err)
	}

	s.logger.Info("vaccination scheduled",
		zap.String("crop_id", crop.ID),
		zap.String("vaccine", name),
		zap.Time("target_date", target),
	)
	return v, nil
}

// Administer marks a Pending vaccination as given. Missed and already
// administered vaccinations cannot change state again.
func (s *Service) Administer(ctx context.Context, ownerID, id string, at *time.Time) (models.Vaccination, error) {
	if ownerID == "" {
		return models.Vaccination{}, models.ErrUnauthorized
	}

	var v models.Vaccination
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		v, err = s.store.GetVaccinationForUpdate(ctx, ownerID, id)
		if err != nil {
			return err
		}
		if v.Status != models.VaccinationPending {
			return models.NewValidationError("vaccination %s is already %s", v.VaccineName, v.Status)
		}

		given := s.now().UTC()
		if at != nil {
			given = at.UTC()
		}
		v.Status = models.VaccinationAdministered
		v.AdministeredAt = &given
		return s.store.UpdateVaccination(ctx, &v)
	})
	if err != nil {
		return models.Vaccination{}, s.fail("administer vaccination", ownerID, err)
	}
	return v, nil
}

// Delete removes a vaccination from the plan.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	if ownerID == "" {
		return models.ErrUnauthorized
	}
	if err := s.store.DeleteVaccination(ctx, ownerID, id); err != nil {
		return s.fail("delete vaccination", ownerID, err)
	}
	return nil
}

// List returns the owner's vaccinations ordered by target date.
func (s *Service) List(ctx context.Context, ownerID string, status models.VaccinationStatus) ([]models.Vaccination, error) {
	if ownerID == "" {
		return nil, models.ErrUnauthorized
	}
	rows, err := s.store.ListVaccinations(ctx, ownerID, status)
	if err != nil {
		return nil, s.fail("list vaccinations", ownerID, err)
	}
	return rows, nil
}

// SweepMissed marks every Pending vaccination whose target date lies before
// the calendar date of now as Missed. It returns the number of rows changed.
func (s *Service) SweepMissed(ctx context.Context, now time.Time) (int64, error) {
	pending, err := s.store.ListPendingVaccinations(ctx)
	if err != nil {
		return 0, s.fail("sweep vaccinations", "", err)
	}

	today := models.DateKey(now)
	var overdue []string
	for _, v := range pending {
		if models.DateKey(v.TargetDate.In(now.Location())) < today {
			overdue = append(overdue, v.ID)
		}
	}
	if len(overdue) == 0 {
		return 0, nil
	}

	n, err := s.store.MarkVaccinationsMissed(ctx, overdue)
	if err != nil {
		return 0, s.fail("sweep vaccinations", "", err)
	}
	s.logger.Info("vaccinations marked missed", zap.Int64("count", n), zap.String("date", today))
	return n, nil
}

func (s *Service) fail(op, ownerID string, err error) error {
	wrapped := models.WrapPersistence(op, err)
	if !models.IsBusinessError(wrapped) {
		s.logger.Error(op+" failed", zap.String("owner_id", ownerID), zap.Error(err))
	}
	return wrapped
}
