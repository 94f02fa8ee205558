package models

import (
	"strings"
	"time"
)

// DateLayout is the calendar-date format used for daily log keys.
const DateLayout = "2006-01-02"

// DateKey returns the calendar date of t in t's own location.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// CropStatus enumerates the lifecycle states of a production batch.
type CropStatus string

const (
	CropStatusActive    CropStatus = "Active"
	CropStatusCompleted CropStatus = "Completed"
	CropStatusArchived  CropStatus = "Archived"
)

// Crop is one production batch of birds.
type Crop struct {
	ID                  string        `gorm:"primaryKey;size:36" json:"id"`
	OwnerID             string        `gorm:"size:64;not null;index" json:"owner_id"`
	Name                string        `gorm:"size:255;not null" json:"name"`
	TotalChicks         int           `gorm:"not null" json:"total_chicks"`
	ArrivalDate         time.Time     `gorm:"not null" json:"arrival_date"`
	ExpectedHarvestDate *time.Time    `json:"expected_harvest_date,omitempty"`
	ActualHarvestDate   *time.Time    `json:"actual_harvest_date,omitempty"`
	Status              CropStatus    `gorm:"size:16;not null;index" json:"status"`
	AvgWeightHeavy      *float64      `json:"avg_weight_heavy,omitempty"`
	AvgWeightMedium     *float64      `json:"avg_weight_medium,omitempty"`
	AvgWeightLight      *float64      `json:"avg_weight_light,omitempty"`
	Notes               string        `json:"notes,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	Sources             []ChickSource `gorm:"foreignKey:CropID" json:"sources,omitempty"`

	// PresentChicks is derived: total chicks minus recorded mortality.
	PresentChicks int `gorm:"-" json:"present_chicks"`
}

// TableName pins the table name shared with the SQL migrations.
func (Crop) TableName() string { return "crops" }

// ChickSource records how many chicks of a crop came from one supplier.
type ChickSource struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	CropID       string    `gorm:"size:36;not null;index" json:"crop_id"`
	SupplierName string    `gorm:"size:128;not null" json:"supplier_name" binding:"required"`
	Count        int       `gorm:"not null" json:"count"`
	UnitPrice    *float64  `json:"unit_price,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName pins the table name shared with the SQL migrations.
func (ChickSource) TableName() string { return "chick_sources" }

// DailyLog aggregates one crop's activity for one calendar date.
type DailyLog struct {
	ID                  string    `gorm:"primaryKey;size:36" json:"id"`
	CropID              string    `gorm:"size:36;not null;uniqueIndex:idx_daily_logs_crop_date" json:"crop_id"`
	LogDate             string    `gorm:"size:10;not null;uniqueIndex:idx_daily_logs_crop_date" json:"log_date"`
	Mortality           int       `gorm:"not null;default:0" json:"mortality"`
	FeedConsumedKg      float64   `gorm:"not null;default:0" json:"feed_consumed_kg"`
	WaterConsumedLiters float64   `gorm:"not null;default:0" json:"water_consumed_liters"`
	AvgWeightG          *float64  `json:"avg_weight_g,omitempty"`
	Notes               string    `json:"notes,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// TableName pins the table name shared with the SQL migrations.
func (DailyLog) TableName() string { return "daily_logs" }

// DailyLogDelta is the contribution of one recording action to a day's log.
type DailyLogDelta struct {
	Mortality           int
	FeedConsumedKg      float64
	WaterConsumedLiters float64
	AvgWeightG          *float64
	Notes               string
}

// Apply merges d into the log: numeric fields accumulate, the weight sample is
// replaced only when a new one is given and notes are appended on a new line.
func (l *DailyLog) Apply(d DailyLogDelta) {
	l.Mortality += d.Mortality
	l.FeedConsumedKg += d.FeedConsumedKg
	l.WaterConsumedLiters += d.WaterConsumedLiters
	if d.AvgWeightG != nil {
		weight := *d.AvgWeightG
		l.AvgWeightG = &weight
	}
	if notes := strings.TrimSpace(d.Notes); notes != "" {
		if l.Notes == "" {
			l.Notes = notes
		} else {
			l.Notes = l.Notes + "\n" + notes
		}
	}
}

// VaccinationStatus enumerates vaccination states. Transitions only leave Pending.
type VaccinationStatus string

const (
	VaccinationPending      VaccinationStatus = "Pending"
	VaccinationAdministered VaccinationStatus = "Administered"
	VaccinationMissed       VaccinationStatus = "Missed"
)

// Vaccination is a planned or completed vaccination of a crop.
type Vaccination struct {
	ID             string            `gorm:"primaryKey;size:36" json:"id"`
	OwnerID        string            `gorm:"size:64;not null;index" json:"owner_id"`
	CropID         string            `gorm:"size:36;not null;index" json:"crop_id"`
	VaccineName    string            `gorm:"size:128;not null" json:"vaccine_name"`
	StandardDay    *int              `json:"standard_day,omitempty"`
	TargetDate     time.Time         `gorm:"not null;index" json:"target_date"`
	Status         VaccinationStatus `gorm:"size:16;not null;index" json:"status"`
	AdministeredAt *time.Time        `json:"administered_at,omitempty"`
	Notes          string            `json:"notes,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// TableName pins the table name shared with the SQL migrations.
func (Vaccination) TableName() string { return "vaccinations" }

// User is the profile of an account. The ID is issued by the auth service.
type User struct {
	ID            string    `gorm:"primaryKey;size:64" json:"id"`
	FullName      string    `gorm:"size:255" json:"full_name"`
	FarmName      string    `gorm:"size:255" json:"farm_name"`
	WhatsAppPhone string    `gorm:"column:whatsapp_phone;size:32;index" json:"whatsapp_phone,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName pins the table name shared with the SQL migrations.
func (User) TableName() string { return "users" }
