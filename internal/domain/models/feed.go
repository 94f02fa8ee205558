package models

import (
	"strings"
	"time"
)

// BagWeightKg is the weight of one feed bag. All stock figures are kept in
// kilograms; bags are only an input and display unit.
const BagWeightKg = 50.0

// MaxBagsPerMovement caps the bags one request may move for a single feed type.
const MaxBagsPerMovement = 100000

// DefaultLowStockBags is the dashboard threshold below which a feed type is flagged.
const DefaultLowStockBags = 5

// FeedAction enumerates ledger movement kinds.
type FeedAction string

const (
	FeedActionRestock FeedAction = "Restock"
	FeedActionUsage   FeedAction = "Usage"
)

// Sign returns +1 for restocks and -1 for usages.
func (a FeedAction) Sign() float64 {
	if a == FeedActionRestock {
		return 1
	}
	return -1
}

// FeedType is a named feed category ("C1", "C2", ...) owned by one account.
// CurrentStockKg is a cache of the signed ledger sum for the same feed type.
type FeedType struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	OwnerID         string    `gorm:"size:64;not null;uniqueIndex:idx_feed_types_owner_name" json:"owner_id"`
	Name            string    `gorm:"size:64;not null;uniqueIndex:idx_feed_types_owner_name" json:"name"`
	CurrentStockKg  float64   `gorm:"not null;default:0" json:"current_stock_kg"`
	LastRestockBags int       `gorm:"not null;default:0" json:"last_restock_bags"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TableName pins the table name shared with the SQL migrations.
func (FeedType) TableName() string { return "feed_types" }

// FeedLedgerEntry is one immutable inventory movement for one feed type.
// Entries written by the same request share a BatchID.
type FeedLedgerEntry struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	OwnerID      string     `gorm:"size:64;not null;index:idx_feed_logs_owner_logged" json:"owner_id"`
	BatchID      string     `gorm:"size:36;not null;index" json:"batch_id"`
	FeedTypeID   string     `gorm:"size:36;not null;index" json:"feed_type_id"`
	FeedTypeName string     `gorm:"size:64;not null" json:"feed_type"`
	CropID       *string    `gorm:"size:36;index" json:"crop_id,omitempty"`
	Action       FeedAction `gorm:"size:16;not null" json:"action"`
	Bags         int        `gorm:"not null" json:"bags"`
	QuantityKg   float64    `gorm:"not null" json:"quantity_kg"`
	LoggedAt     time.Time  `gorm:"not null;index:idx_feed_logs_owner_logged" json:"log_date"`
}

// TableName pins the table name shared with the SQL migrations.
func (FeedLedgerEntry) TableName() string { return "feed_logs" }

// SignedKg is the contribution of the entry to the feed type's stock.
func (e FeedLedgerEntry) SignedKg() float64 {
	return e.Action.Sign() * e.QuantityKg
}

// Movement is a requested number of bags for one feed type.
type Movement struct {
	FeedType string `json:"feed_type" binding:"required"`
	Bags     int    `json:"bags"`
}

// NormalizeFeedTypeName canonicalizes user supplied feed type names so that
// "c1" and " C1 " address the same row.
func NormalizeFeedTypeName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// BagsToKg converts a bag count to kilograms.
func BagsToKg(bags int) float64 {
	return float64(bags) * BagWeightKg
}

// AvailableBags is the number of whole bags covered by stockKg.
func AvailableBags(stockKg float64) int {
	if stockKg <= 0 {
		return 0
	}
	return int(stockKg / BagWeightKg)
}

// StockLevel is the read model returned by GetCurrentStock.
type StockLevel struct {
	FeedTypeID      string  `json:"feed_type_id"`
	FeedType        string  `json:"feed_type"`
	StockKg         float64 `json:"stock_kg"`
	Bags            float64 `json:"bags"`
	AvailableBags   int     `json:"available_bags"`
	LastRestockBags int     `json:"last_restock_bags"`
	Low             bool    `json:"low"`
}

// LedgerTotal is the signed ledger sum for one feed type.
type LedgerTotal struct {
	FeedType string  `json:"feed_type"`
	TotalKg  float64 `json:"total_kg"`
}

// Discrepancy describes a feed type whose cached stock differs from its ledger.
type Discrepancy struct {
	FeedType string  `json:"feed_type"`
	CachedKg float64 `json:"cached_kg"`
	LedgerKg float64 `json:"ledger_kg"`
	DeltaKg  float64 `json:"delta_kg"`
}

// ReconcileReport is the outcome of comparing cached stock with the ledger.
type ReconcileReport struct {
	OwnerID       string        `json:"owner_id"`
	Discrepancies []Discrepancy `json:"discrepancies"`
	Repaired      bool          `json:"repaired"`
	CheckedAt     time.Time     `json:"checked_at"`
}

// Clean reports whether no drift was found.
func (r ReconcileReport) Clean() bool {
	return len(r.Discrepancies) == 0
}
