package inventory_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mamadbah2/farmledger/internal/domain/models"
	"github.com/mamadbah2/farmledger/internal/repository/sqlstore"
	"github.com/mamadbah2/farmledger/internal/service/inventory"
	"github.com/mamadbah2/farmledger/internal/testutil"
)

const owner = "owner-1"

type recordingMirror struct {
	mu      sync.Mutex
	batches [][]models.FeedLedgerEntry
	err     error
}

func (m *recordingMirror) MirrorLedger(_ context.Context, entries []models.FeedLedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, entries)
	return m.err
}

func (m *recordingMirror) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

func newService(t *testing.T, opts ...inventory.Option) (*inventory.Service, *sqlstore.Store) {
	t.Helper()
	store := testutil.NewTestStore(t)
	clock := testutil.FixedClock()
	opts = append([]inventory.Option{inventory.WithClock(clock.Now)}, opts...)
	return inventory.NewService(store, nil, opts...), store
}

func stockOf(t *testing.T, svc *inventory.Service, feedType string) float64 {
	t.Helper()
	levels, err := svc.GetCurrentStock(context.Background(), owner)
	require.NoError(t, err)
	for _, l := range levels {
		if l.FeedType == feedType {
			return l.StockKg
		}
	}
	return 0
}

func ledgerCount(t *testing.T, svc *inventory.Service) int {
	t.Helper()
	entries, err := svc.ListLedger(context.Background(), owner, 0)
	require.NoError(t, err)
	return len(entries)
}

func TestRestockThenUsage(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.RecordRestock(ctx, owner, []models.Movement{{FeedType: "c1", Bags: 5}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 250.0, stockOf(t, svc, "C1"))

	entries, err := svc.RecordUsage(ctx, owner, []models.Movement{{FeedType: "C1", Bags: 2}}, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.FeedActionUsage, entries[0].Action)
	assert.Equal(t, 100.0, entries[0].QuantityKg)

	assert.Equal(t, 150.0, stockOf(t, svc, "C1"))
	assert.Equal(t, 2, ledgerCount(t, svc))
}

func TestRecordRestockCreatesFeedTypeAndTracksLastRestock(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.RecordRestock(ctx, owner, []models.Movement{{FeedType: " c2 ", Bags: 4}}, nil)
	require.NoError(t, err)
	_, err = svc.RecordRestock(ctx, owner, []models.Movement{{FeedType: "C2", Bags: 3}}, nil)
	require.NoError(t, err)

	levels, err := svc.GetCurrentStock(ctx, owner)
	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.Equal(t, "C2", levels[0].FeedType)
	assert.Equal(t, 350.0, levels[0].StockKg)
	assert.Equal(t, 7.0, levels[0].Bags)
	assert.Equal(t, 7, levels[0].AvailableBags)
	assert.Equal(t, 3, levels[0].LastRestockBags)
	assert.False(t, levels[0].Low)
}

func TestRecordUsageInsufficientStock(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)

	_, err := svc.RecordRestock(ctx, owner, []models.Movement{{FeedType: "C1", Bags: 3}}, nil)
	require.NoError(t, err)
	// Bring C1 to 100 kg through the ledger so the invariant still holds.
	_, err = svc.RecordUsage(ctx, owner, []models.Movement{{FeedType: "C1", Bags: 1}}, nil)
	require.NoError(t, err)
	before := ledgerCount(t, svc)

	_, err = svc.RecordUsage(ctx, owner, []models.Movement{{FeedType: "C1", Bags: 3}}, nil)
	var stockErr *models.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "C1", stockErr.FeedType)
	assert.Equal(t, 3, stockErr.Requested)
	assert.Equal(t, 2, stockErr.Available)
	assert.Equal(t, "insufficient stock for C1: required 3 bags, but only 2 bags remaining", err.Error())

	assert.Equal(t, 100.0, stockOf(t, svc, "C1"))
	assert.Equal(t, before, ledgerCount(t, svc))

	total, err := store.LedgerTotal(ctx, owner, "C1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, total)
}

func TestRecordUsageIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.RecordRestock(ctx, owner, []models.Movement{
		{FeedType: "C1", Bags: 10},
		{FeedType: "C2", Bags: 1},
	}, nil)
	require.NoError(t, err)
	before := ledgerCount(t, svc)

	_, err = svc.RecordUsage(ctx, owner, []models.Movement{
		{FeedType: "C1", Bags: 4},
		{FeedType: "C2", Bags: 2},
	}, nil)
	var stockErr *models.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "C2", stockErr.FeedType)

	assert.Equal(t, 500.0, stockOf(t, svc, "C1"))
	assert.Equal(t, 50.0, stockOf(t, svc, "C2"))
	assert.Equal(t, before, ledgerCount(t, svc))
}

func TestRecordUsageUnknownFeedType(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.RecordUsage(context.Background(), owner, []models.Movement{{FeedType: "C9", Bags: 1}}, nil)
	var stockErr *models.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 0, stockErr.Available)
}

func TestMovementValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		movements []models.Movement
	}{
		{name: "empty", movements: nil},
		{name: "all zero", movements: []models.Movement{{FeedType: "C1", Bags: 0}}},
		{name: "negative", movements: []models.Movement{{FeedType: "C1", Bags: -1}}},
		{name: "blank name", movements: []models.Movement{{FeedType: "  ", Bags: 2}}},
		{name: "over cap", movements: []models.Movement{{FeedType: "C1", Bags: models.MaxBagsPerMovement + 1}}},
		{name: "duplicate lines overflow", movements: []models.Movement{{FeedType: "C1", Bags: math.MaxInt}, {FeedType: "c1", Bags: 1}}},
		{name: "duplicate lines over cap", movements: []models.Movement{{FeedType: "C1", Bags: models.MaxBagsPerMovement}, {FeedType: "c1", Bags: 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.RecordRestock(ctx, owner, tt.movements, nil)
			var validationErr *models.ValidationError
			assert.ErrorAs(t, err, &validationErr)

			_, err = svc.RecordUsage(ctx, owner, tt.movements, nil)
			assert.ErrorAs(t, err, &validationErr)
		})
	}
	assert.Zero(t, ledgerCount(t, svc))
}

func TestMissingOwnerIsUnauthorized(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.RecordUsage(ctx, "", []models.Movement{{FeedType: "C1", Bags: 1}}, nil)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	_, err = svc.RecordRestock(ctx, "", []models.Movement{{FeedType: "C1", Bags: 1}}, nil)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	_, err = svc.GetCurrentStock(ctx, "")
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	_, err = svc.RecomputeStockFromLedger(ctx, "", false)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestDuplicateMovementsAreSummed(t *testing.T) {
	svc, _ := newService(t)

	entries, err := svc.RecordRestock(context.Background(), owner, []models.Movement{
		{FeedType: "c1", Bags: 2},
		{FeedType: "C1", Bags: 3},
	}, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 5, entries[0].Bags)
}

func TestLowStockFlag(t *testing.T) {
	svc, _ := newService(t, inventory.WithLowStockBags(5))
	ctx := context.Background()

	_, err := svc.RecordRestock(ctx, owner, []models.Movement{{FeedType: "C1", Bags: 4}, {FeedType: "C2", Bags: 5}}, nil)
	require.NoError(t, err)

	levels, err := svc.GetCurrentStock(ctx, owner)
	require.NoError(t, err)
	require.Len(t, levels, 2)
	assert.True(t, levels[0].Low)
	assert.False(t, levels[1].Low)
}

func TestUsageUpdatesActiveCropDailyLog(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)

	crop := &models.Crop{OwnerID: owner, Name: "Batch A", TotalChicks: 500, ArrivalDate: time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC), Status: models.CropStatusActive}
	require.NoError(t, store.CreateCrop(ctx, crop))

	_, err := svc.RecordRestock(ctx, owner, []models.Movement{{FeedType: "C1", Bags: 10}}, nil)
	require.NoError(t, err)

	entries, err := svc.RecordUsage(ctx, owner, []models.Movement{{FeedType: "C1", Bags: 2}}, &crop.ID)
	require.NoError(t, err)
	require.NotNil(t, entries[0].CropID)
	assert.Equal(t, crop.ID, *entries[0].CropID)

	logs, err := store.ListDailyLogs(ctx, crop.ID, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "2026-03-02", logs[0].LogDate)
	assert.Equal(t, 100.0, logs[0].FeedConsumedKg)
	assert.Equal(t, 0, logs[0].Mortality)

	_, err = svc.RecordUsage(ctx, owner, []models.Movement{{FeedType: "C1", Bags: 1}}, &crop.ID)
	require.NoError(t, err)

	logs, err = store.ListDailyLogs(ctx, crop.ID, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, 150.0, logs[0].FeedConsumedKg)
}

func TestUsageOnCompletedCropSkipsDailyLog(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)

	crop := &models.Crop{OwnerID: owner, Name: "Batch B", TotalChicks: 100, ArrivalDate: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), Status: models.CropStatusCompleted}
	require.NoError(t, store.CreateCrop(ctx, crop))
	_, err := svc.RecordRestock(ctx, owner, []models.Movement{{FeedType: "C1", Bags: 2}}, nil)
	require.NoError(t, err)

	_, err = svc.RecordUsage(ctx, owner, []models.Movement{{FeedType: "C1", Bags: 1}}, &crop.ID)
	require.NoError(t, err)

	logs, err := store.ListDailyLogs(ctx, crop.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, logs)
	assert.Equal(t, 50.0, stockOf(t, svc, "C1"))
}

func TestUsageWithForeignCropIsNotFound(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)

	crop := &models.Crop{OwnerID: "someone-else", Name: "Other", TotalChicks: 100, ArrivalDate: time.Now(), Status: models.CropStatusActive}
	require.NoError(t, store.CreateCrop(ctx, crop))
	_, err := svc.RecordRestock(ctx, owner, []models.Movement{{FeedType: "C1", Bags: 2}}, nil)
	require.NoError(t, err)

	_, err = svc.RecordUsage(ctx, owner, []models.Movement{{FeedType: "C1", Bags: 1}}, &crop.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, 100.0, stockOf(t, svc, "C1"))
}

func TestConcurrentMovementsKeepStockConsistent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.RecordRestock(ctx, owner, []models.Movement{{FeedType: "C1", Bags: 5}}, nil)
	require.NoError(t, err)

	const workers = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		usedBags int
		failures []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := svc.RecordRestock(ctx, owner, []models.Movement{{FeedType: "C1", Bags: 1}}, nil); err != nil {
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
			}
		}()
		go func() {
			defer wg.Done()
			_, err := svc.RecordUsage(ctx, owner, []models.Movement{{FeedType: "C1", Bags: 2}}, nil)
			mu.Lock()
			defer mu.Unlock()
			var stockErr *models.InsufficientStockError
			switch {
			case err == nil:
				usedBags += 2
			case errors.As(err, &stockErr):
			default:
				failures = append(failures, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, failures)
	assert.Equal(t, models.BagsToKg(5+workers-usedBags), stockOf(t, svc, "C1"))

	report, err := svc.RecomputeStockFromLedger(ctx, owner, false)
	require.NoError(t, err)
	assert.True(t, report.Clean())
}

func TestRecomputeStockFromLedger(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)

	_, err := svc.RecordRestock(ctx, owner, []models.Movement{{FeedType: "C1", Bags: 5}, {FeedType: "C2", Bags: 2}}, nil)
	require.NoError(t, err)

	report, err := svc.RecomputeStockFromLedger(ctx, owner, false)
	require.NoError(t, err)
	assert.True(t, report.Clean())

	levels, err := svc.GetCurrentStock(ctx, owner)
	require.NoError(t, err)
	require.NoError(t, store.SetFeedStock(ctx, levels[0].FeedTypeID, 999))

	first, err := svc.RecomputeStockFromLedger(ctx, owner, false)
	require.NoError(t, err)
	second, err := svc.RecomputeStockFromLedger(ctx, owner, false)
	require.NoError(t, err)
	assert.Equal(t, first.Discrepancies, second.Discrepancies)
	require.Len(t, first.Discrepancies, 1)
	assert.Equal(t, models.Discrepancy{FeedType: "C1", CachedKg: 999, LedgerKg: 250, DeltaKg: -749}, first.Discrepancies[0])
	assert.False(t, first.Repaired)
	assert.Equal(t, 999.0, stockOf(t, svc, "C1"))

	repaired, err := svc.RecomputeStockFromLedger(ctx, owner, true)
	require.NoError(t, err)
	assert.True(t, repaired.Repaired)
	assert.Len(t, repaired.Discrepancies, 1)
	assert.Equal(t, 250.0, stockOf(t, svc, "C1"))

	after, err := svc.RecomputeStockFromLedger(ctx, owner, false)
	require.NoError(t, err)
	assert.True(t, after.Clean())
}

func TestMirrorRunsOnlyAfterCommit(t *testing.T) {
	ctx := context.Background()
	mirror := &recordingMirror{}
	svc, store := newService(t, inventory.WithMirror(mirror))

	_, err := svc.RecordRestock(ctx, owner, []models.Movement{{FeedType: "C1", Bags: 1}}, nil)
	require.NoError(t, err)
	svc.Close()
	assert.Equal(t, 1, mirror.count())

	rollback := errors.New("abort")
	err = store.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := svc.RecordRestock(ctx, owner, []models.Movement{{FeedType: "C1", Bags: 1}}, nil); err != nil {
			return err
		}
		return rollback
	})
	require.ErrorIs(t, err, rollback)
	svc.Close()
	assert.Equal(t, 1, mirror.count())
	assert.Equal(t, 50.0, stockOf(t, svc, "C1"))
}

func TestMirrorFailureDoesNotFailWrite(t *testing.T) {
	mirror := &recordingMirror{err: errors.New("sheets unavailable")}
	svc, _ := newService(t, inventory.WithMirror(mirror))

	_, err := svc.RecordRestock(context.Background(), owner, []models.Movement{{FeedType: "C1", Bags: 1}}, nil)
	require.NoError(t, err)
	svc.Close()
	assert.Equal(t, 1, mirror.count())
	assert.Equal(t, 50.0, stockOf(t, svc, "C1"))
}

type blockingMirror struct {
	release chan struct{}
	done    chan struct{}
}

func (m *blockingMirror) MirrorLedger(ctx context.Context, _ []models.FeedLedgerEntry) error {
	defer close(m.done)
	select {
	case <-m.release:
	case <-ctx.Done():
	}
	return nil
}

func TestSlowMirrorDoesNotDelayWrite(t *testing.T) {
	mirror := &blockingMirror{release: make(chan struct{}), done: make(chan struct{})}
	svc, _ := newService(t, inventory.WithMirror(mirror))

	_, err := svc.RecordRestock(context.Background(), owner, []models.Movement{{FeedType: "C1", Bags: 1}}, nil)
	require.NoError(t, err)

	select {
	case <-mirror.done:
		t.Fatal("mirror finished before it was released")
	default:
	}

	close(mirror.release)
	svc.Close()
	<-mirror.done
}

// dailyLogFailingStore lets every step of a usage succeed until the crop's
// daily log is written.
type dailyLogFailingStore struct {
	*sqlstore.Store
	err error
}

func (s *dailyLogFailingStore) UpsertDailyLog(context.Context, string, string, models.DailyLogDelta) (models.DailyLog, error) {
	return models.DailyLog{}, s.err
}

func TestUsageRollsBackWhenDailyLogFails(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewTestStore(t)
	mirror := &recordingMirror{}
	svc := inventory.NewService(&dailyLogFailingStore{Store: store, err: errors.New("disk full")}, nil,
		inventory.WithClock(testutil.FixedClock().Now), inventory.WithMirror(mirror))

	crop := &models.Crop{OwnerID: owner, Name: "Batch A", TotalChicks: 500, ArrivalDate: time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC), Status: models.CropStatusActive}
	require.NoError(t, store.CreateCrop(ctx, crop))
	_, err := svc.RecordRestock(ctx, owner, []models.Movement{{FeedType: "C1", Bags: 4}}, nil)
	require.NoError(t, err)

	_, err = svc.RecordUsage(ctx, owner, []models.Movement{{FeedType: "C1", Bags: 2}}, &crop.ID)
	var persistenceErr *models.PersistenceError
	require.ErrorAs(t, err, &persistenceErr)

	assert.Equal(t, 200.0, stockOf(t, svc, "C1"))
	assert.Equal(t, 1, ledgerCount(t, svc))
	logs, err := store.ListDailyLogs(ctx, crop.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, logs)

	svc.Close()
	assert.Equal(t, 1, mirror.count())
}

func TestMovementLogsWaitForOuterCommit(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewTestStore(t)
	core, logs := observer.New(zap.InfoLevel)
	svc := inventory.NewService(store, zap.New(core), inventory.WithClock(testutil.FixedClock().Now))

	rollback := errors.New("abort")
	err := store.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := svc.RecordRestock(ctx, owner, []models.Movement{{FeedType: "C1", Bags: 2}}, nil); err != nil {
			return err
		}
		if _, err := svc.RecordUsage(ctx, owner, []models.Movement{{FeedType: "C1", Bags: 1}}, nil); err != nil {
			return err
		}
		assert.Zero(t, logs.FilterMessage("feed restock recorded").Len())
		return rollback
	})
	require.ErrorIs(t, err, rollback)
	assert.Zero(t, logs.FilterMessage("feed restock recorded").Len())
	assert.Zero(t, logs.FilterMessage("feed usage recorded").Len())

	_, err = svc.RecordRestock(ctx, owner, []models.Movement{{FeedType: "C1", Bags: 2}}, nil)
	require.NoError(t, err)
	_, err = svc.RecordUsage(ctx, owner, []models.Movement{{FeedType: "C1", Bags: 1}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("feed restock recorded").Len())
	assert.Equal(t, 1, logs.FilterMessage("feed usage recorded").Len())
}
