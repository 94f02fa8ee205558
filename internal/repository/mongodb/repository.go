package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mamadbah2/farmledger/internal/domain/models"
)

const reportsCollection = "daily_reports"

// ReportRepository keeps daily reports in MongoDB, one document per owner and date.
type ReportRepository struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewReportRepository connects to MongoDB and makes sure the report index exists.
func NewReportRepository(ctx context.Context, uri, dbName string) (*ReportRepository, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	repo := &ReportRepository{
		client:     client,
		collection: client.Database(dbName).Collection(reportsCollection),
	}

	_, err = repo.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "owner_id", Value: 1}, {Key: "date", Value: -1}},
		Options: options.Index().SetUnique(true).SetName("owner_date"),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create report index: %w", err)
	}

	return repo, nil
}

// SaveDailyReport replaces the owner's report for the same date, so re-running
// the archive job for a day is harmless.
func (r *ReportRepository) SaveDailyReport(ctx context.Context, report models.DailyReport) error {
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := r.collection.ReplaceOne(ctx, reportFilter(report.OwnerID, report.Date), report, opts); err != nil {
		return fmt.Errorf("failed to upsert daily report: %w", err)
	}
	return nil
}

// Close closes the MongoDB connection.
func (r *ReportRepository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

func reportFilter(ownerID, date string) bson.D {
	return bson.D{{Key: "owner_id", Value: ownerID}, {Key: "date", Value: date}}
}
