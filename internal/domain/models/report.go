package models

import "time"

// DailyReport is the per-owner summary of one calendar date archived in MongoDB.
type DailyReport struct {
	OwnerID         string    `bson:"owner_id" json:"owner_id"`
	Date            string    `bson:"date" json:"date"`
	ActiveCrops     int       `bson:"active_crops" json:"active_crops"`
	ActiveBirds     int       `bson:"active_birds" json:"active_birds"`
	Mortality       int       `bson:"mortality" json:"mortality"`
	FeedConsumedKg  float64   `bson:"feed_consumed_kg" json:"feed_consumed_kg"`
	FeedRestockedKg float64   `bson:"feed_restocked_kg" json:"feed_restocked_kg"`
	StockKg         float64   `bson:"stock_kg" json:"stock_kg"`
	CreatedAt       time.Time `bson:"created_at" json:"created_at"`
}

// ActivityItem is one line of the dashboard's recent activity feed.
type ActivityItem struct {
	Action  string    `json:"action"`
	Date    time.Time `json:"date"`
	Details string    `json:"details"`
}

// Dashboard aggregates everything the farm overview shows.
type Dashboard struct {
	ActiveCrop         *Crop          `json:"active_crop,omitempty"`
	ActiveBirds        int            `json:"active_birds"`
	TotalFeedStockKg   float64        `json:"total_feed_stock_kg"`
	Stock              []StockLevel   `json:"stock"`
	LowStock           []StockLevel   `json:"low_stock"`
	NextVaccination    *Vaccination   `json:"next_vaccination,omitempty"`
	MissedVaccinations []Vaccination  `json:"missed_vaccinations"`
	RecentActivity     []ActivityItem `json:"recent_activity"`
	RecentConsumption  []DailyLog     `json:"recent_consumption"`
}

// OutboundMessageRequest represents requests to send a WhatsApp message.
type OutboundMessageRequest struct {
	To         string `json:"to" binding:"required"`
	Message    string `json:"message" binding:"required"`
	PreviewURL bool   `json:"preview_url"`
}
