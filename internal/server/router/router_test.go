package router_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/farmledger/internal/domain/models"
	"github.com/mamadbah2/farmledger/internal/server/handlers"
	"github.com/mamadbah2/farmledger/internal/server/router"
	"github.com/mamadbah2/farmledger/internal/service/accounts"
	"github.com/mamadbah2/farmledger/internal/service/crops"
	"github.com/mamadbah2/farmledger/internal/service/inventory"
	"github.com/mamadbah2/farmledger/internal/service/reporting"
	"github.com/mamadbah2/farmledger/internal/service/vaccinations"
	"github.com/mamadbah2/farmledger/internal/testutil"
	"github.com/mamadbah2/farmledger/pkg/clients/auth"
)

type stubVerifier map[string]string

func (s stubVerifier) GetUser(_ context.Context, token string) (auth.User, error) {
	id, ok := s[token]
	if !ok {
		return auth.User{}, auth.ErrInvalidToken
	}
	return auth.User{ID: id}, nil
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("connection refused") }

type api struct {
	t      *testing.T
	engine *gin.Engine
}

func newAPI(t *testing.T) api {
	t.Helper()
	store := testutil.NewTestStore(t)
	clock := testutil.FixedClock()

	inv := inventory.NewService(store, nil, inventory.WithClock(clock.Now))
	cropSvc := crops.NewService(store, inv, nil, clock.Now)
	vacc := vaccinations.NewService(store, nil, clock.Now)
	acc := accounts.NewService(store, nil)
	rep := reporting.NewService(store, inv, cropSvc, vacc, nil, nil)

	engine := router.New(router.Handlers{
		Inventory:    handlers.NewInventoryHandler(inv, nil),
		Crops:        handlers.NewCropHandler(cropSvc, nil),
		Vaccinations: handlers.NewVaccinationHandler(vacc, nil),
		Accounts:     handlers.NewAccountHandler(rep, acc, nil),
	}, stubVerifier{"alice-token": "alice", "bob-token": "bob"}, store, nil)

	return api{t: t, engine: engine}
}

func (a api) do(method, path, token string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.engine.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthz(t *testing.T) {
	a := newAPI(t)
	rec := a.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	down := router.New(router.Handlers{}, stubVerifier{}, downPinger{}, nil)
	rec = httptest.NewRecorder()
	down.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAPIRequiresToken(t *testing.T) {
	a := newAPI(t)
	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/api/feeds/stock", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/api/feeds/stock", "forged", nil).Code)
}

func TestFeedRoundTrip(t *testing.T) {
	a := newAPI(t)

	rec := a.do(http.MethodPost, "/api/feeds/restock", "alice-token", map[string]any{
		"items": []map[string]any{{"feed_type": "c1", "bags": 5}, {"feed_type": "C2", "bags": 2}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[struct {
		BatchID string                   `json:"batch_id"`
		Entries []models.FeedLedgerEntry `json:"entries"`
	}](t, rec)
	assert.NotEmpty(t, created.BatchID)
	assert.Len(t, created.Entries, 2)

	rec = a.do(http.MethodPost, "/api/feeds/usage", "alice-token", map[string]any{
		"items": []map[string]any{{"feed_type": "C1", "bags": 3}, {"feed_type": "C2", "bags": 3}},
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	conflict := decode[map[string]any](t, rec)
	assert.Equal(t, "C2", conflict["feed_type"])
	assert.EqualValues(t, 3, conflict["requested_bags"])
	assert.EqualValues(t, 2, conflict["available_bags"])

	rec = a.do(http.MethodGet, "/api/feeds/stock", "alice-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stock := decode[struct {
		Items []models.StockLevel `json:"items"`
	}](t, rec)
	require.Len(t, stock.Items, 2)
	assert.Equal(t, 250.0, stock.Items[0].StockKg)

	rec = a.do(http.MethodGet, "/api/feeds/stock", "bob-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[struct {
		Items []models.StockLevel `json:"items"`
	}](t, rec).Items)

	rec = a.do(http.MethodGet, "/api/feeds/ledger?limit=1", "alice-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[struct {
		Items []models.FeedLedgerEntry `json:"items"`
	}](t, rec).Items, 1)

	rec = a.do(http.MethodPost, "/api/feeds/reconcile", "alice-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[models.ReconcileReport](t, rec).Discrepancies)
}

func TestFeedValidation(t *testing.T) {
	a := newAPI(t)

	tests := []struct {
		name string
		body any
	}{
		{name: "no items", body: map[string]any{"items": []any{}}},
		{name: "missing feed type", body: map[string]any{"items": []map[string]any{{"bags": 1}}}},
		{name: "zero bags", body: map[string]any{"items": []map[string]any{{"feed_type": "C1", "bags": 0}}}},
		{name: "malformed", body: "not an object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(http.MethodPost, "/api/feeds/restock", "alice-token", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestCropLifecycle(t *testing.T) {
	a := newAPI(t)

	rec := a.do(http.MethodPost, "/api/crops", "alice-token", map[string]any{
		"name":         "Batch A",
		"total_chicks": 500,
		"arrival_date": "2026-02-27T00:00:00Z",
		"feed_bags":    []map[string]any{{"feed_type": "C1", "bags": 10}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	crop := decode[models.Crop](t, rec)
	assert.Equal(t, models.CropStatusActive, crop.Status)

	rec = a.do(http.MethodPost, "/api/crops/"+crop.ID+"/daily-logs", "alice-token", map[string]any{
		"mortality": 5,
		"feed_bags": []map[string]any{{"feed_type": "C1", "bags": 2}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 5, decode[models.DailyLog](t, rec).Mortality)

	rec = a.do(http.MethodGet, "/api/crops/"+crop.ID, "alice-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 495, decode[models.Crop](t, rec).PresentChicks)

	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/api/crops/"+crop.ID, "bob-token", nil).Code)

	rec = a.do(http.MethodGet, "/api/crops/"+crop.ID+"/daily-logs", "alice-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[struct {
		Items []models.DailyLog `json:"items"`
	}](t, rec).Items, 1)

	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, "/api/crops/"+crop.ID+"/archive", "alice-token", nil).Code)

	rec = a.do(http.MethodPost, "/api/crops/"+crop.ID+"/harvest", "alice-token", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.CropStatusCompleted, decode[models.Crop](t, rec).Status)

	rec = a.do(http.MethodPost, "/api/crops/"+crop.ID+"/archive", "alice-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.CropStatusArchived, decode[models.Crop](t, rec).Status)

	rec = a.do(http.MethodGet, "/api/crops?status=Active", "alice-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[struct {
		Items []models.Crop `json:"items"`
	}](t, rec).Items)
}

func TestVaccinationsAndDashboard(t *testing.T) {
	a := newAPI(t)

	rec := a.do(http.MethodPost, "/api/crops", "alice-token", map[string]any{
		"name":         "Batch B",
		"total_chicks": 300,
		"arrival_date": "2026-03-01T00:00:00Z",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	crop := decode[models.Crop](t, rec)

	rec = a.do(http.MethodPost, "/api/vaccinations", "alice-token", map[string]any{
		"crop_id":      crop.ID,
		"vaccine_name": "Gumboro",
		"standard_day": 14,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	vaccination := decode[models.Vaccination](t, rec)

	rec = a.do(http.MethodGet, "/api/dashboard", "alice-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	dash := decode[models.Dashboard](t, rec)
	require.NotNil(t, dash.NextVaccination)
	assert.Equal(t, vaccination.ID, dash.NextVaccination.ID)
	assert.Equal(t, 300, dash.ActiveBirds)

	rec = a.do(http.MethodPost, "/api/vaccinations/"+vaccination.ID+"/administer", "alice-token", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.VaccinationAdministered, decode[models.Vaccination](t, rec).Status)

	assert.Equal(t, http.StatusNotFound, a.do(http.MethodDelete, "/api/vaccinations/"+vaccination.ID, "bob-token", nil).Code)
	assert.Equal(t, http.StatusNoContent, a.do(http.MethodDelete, "/api/vaccinations/"+vaccination.ID, "alice-token", nil).Code)
}

func TestProfile(t *testing.T) {
	a := newAPI(t)

	rec := a.do(http.MethodPut, "/api/profile", "alice-token", map[string]any{
		"full_name":      "Alice Diallo",
		"farm_name":      "Keur Massar",
		"whatsapp_phone": "+221 77 000 00 00",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(http.MethodGet, "/api/profile", "alice-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	user := decode[models.User](t, rec)
	assert.Equal(t, "Alice Diallo", user.FullName)
	assert.Equal(t, "221770000000", user.WhatsAppPhone)

	rec = a.do(http.MethodPut, "/api/profile", "bob-token", map[string]any{"whatsapp_phone": "221770000000"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
