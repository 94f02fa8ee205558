package sqlstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mamadbah2/farmledger/internal/domain/models"
)

// CreateVaccination inserts a scheduled vaccination.
func (s *Store) CreateVaccination(ctx context.Context, v *models.Vaccination) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if err := s.conn(ctx).Create(v).Error; err != nil {
		return fmt.Errorf("create vaccination: %w", err)
	}
	return nil
}

// GetVaccinationForUpdate loads and locks one of the owner's vaccinations.
func (s *Store) GetVaccinationForUpdate(ctx context.Context, ownerID, id string) (models.Vaccination, error) {
	var v models.Vaccination
	err := s.forUpdate(s.conn(ctx)).Where("id = ? AND owner_id = ?", id, ownerID).First(&v).Error
	if err != nil {
		return models.Vaccination{}, notFound(err)
	}
	return v, nil
}

// UpdateVaccination persists every column of v.
func (s *Store) UpdateVaccination(ctx context.Context, v *models.Vaccination) error {
	if err := s.conn(ctx).Save(v).Error; err != nil {
		return fmt.Errorf("update vaccination: %w", err)
	}
	return nil
}

// DeleteVaccination removes one of the owner's vaccinations.
func (s *Store) DeleteVaccination(ctx context.Context, ownerID, id string) error {
	res := s.conn(ctx).Where("id = ? AND owner_id = ?", id, ownerID).Delete(&models.Vaccination{})
	if res.Error != nil {
		return fmt.Errorf("delete vaccination: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ListVaccinations returns the owner's vaccinations by target date. An empty
// status lists all of them.
func (s *Store) ListVaccinations(ctx context.Context, ownerID string, status models.VaccinationStatus) ([]models.Vaccination, error) {
	var rows []models.Vaccination
	q := s.conn(ctx).Where("owner_id = ?", ownerID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Order("target_date").Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list vaccinations: %w", err)
	}
	return rows, nil
}

// ListPendingVaccinations returns every pending vaccination across owners.
func (s *Store) ListPendingVaccinations(ctx context.Context) ([]models.Vaccination, error) {
	var rows []models.Vaccination
	err := s.conn(ctx).Where("status = ?", models.VaccinationPending).Order("target_date").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list pending vaccinations: %w", err)
	}
	return rows, nil
}

// MarkVaccinationsMissed moves the given vaccinations from Pending to Missed.
// Rows that left Pending in the meantime are skipped.
func (s *Store) MarkVaccinationsMissed(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.conn(ctx).Model(&models.Vaccination{}).
		Where("id IN ? AND status = ?", ids, models.VaccinationPending).
		Update("status", models.VaccinationMissed)
	if res.Error != nil {
		return 0, fmt.Errorf("mark vaccinations missed: %w", res.Error)
	}
	return res.RowsAffected, nil
}
