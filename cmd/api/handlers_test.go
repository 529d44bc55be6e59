package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiQuant/internal/config"
	"github.com/nemonet1337/zaiQuant/pkg/inventory"
	"github.com/nemonet1337/zaiQuant/pkg/inventory/storage"
)

type testAPI struct {
	router *mux.Router
	store  *storage.MemoryStorage
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := zap.NewNop()
	store := storage.NewMemoryStorage(logger)
	registry := prometheus.NewRegistry()
	manager := inventory.NewManager(store, &logPublisher{logger: logger}, logger, nil,
		inventory.WithMetrics(inventory.NewMetrics(registry)))
	handlers := NewHandlers(manager, store, store, 1, logger)
	return &testAPI{
		router: setupRouter(handlers, registry, config.APIConfig{EnableMetrics: true}),
		store:  store,
	}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "tester")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	var resp APIResponse
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

// decodeData はレスポンスのdataを任意の型に変換する
func decodeData(t *testing.T, resp APIResponse, v interface{}) {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, v))
}

// seed はロケーションと製品を登録する
func (a *testAPI) seed(t *testing.T) (stock, customer, product int64) {
	t.Helper()
	var loc inventory.Location
	rec, resp := a.do(t, http.MethodPost, "/api/v1/locations", inventory.Location{Name: "WH/Stock", Usage: inventory.UsageInternal, CompanyID: 1})
	require.Equal(t, http.StatusCreated, rec.Code)
	decodeData(t, resp, &loc)
	stock = loc.ID

	rec, resp = a.do(t, http.MethodPost, "/api/v1/locations", inventory.Location{Name: "Customers", Usage: inventory.UsageCustomer, CompanyID: 1})
	require.Equal(t, http.StatusCreated, rec.Code)
	decodeData(t, resp, &loc)
	customer = loc.ID

	var p inventory.Product
	rec, resp = a.do(t, http.MethodPost, "/api/v1/products", inventory.Product{
		Name:     "Widget",
		Type:     inventory.ProductTypeStorable,
		Tracking: inventory.TrackingNone,
		UoM:      inventory.UoM{Name: "Units", Rounding: decimal.RequireFromString("0.01")},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	decodeData(t, resp, &p)
	product = p.ID
	return stock, customer, product
}

func TestHealthCheck(t *testing.T) {
	api := newTestAPI(t)

	rec, resp := api.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	rec, _ = api.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestQuantEndpoints(t *testing.T) {
	api := newTestAPI(t)
	stock, _, product := api.seed(t)
	key := inventory.QuantKey{ProductID: product, LocationID: stock}
	availablePath := fmt.Sprintf("/api/v1/quants/available?product_id=%d&location_id=%d", product, stock)

	rec, resp := api.do(t, http.MethodPost, "/api/v1/quants/update-available", UpdateAvailableRequest{
		Key:   key,
		Delta: decimal.NewFromInt(10),
	})
	require.Equal(t, http.StatusOK, rec.Code, resp.Error)

	rec, resp = api.do(t, http.MethodPost, "/api/v1/quants/update-reserved", UpdateReservedRequest{
		Key:   key,
		Delta: decimal.NewFromInt(4),
	})
	require.Equal(t, http.StatusOK, rec.Code, resp.Error)

	rec, resp = api.do(t, http.MethodGet, availablePath, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var available struct {
		Available decimal.Decimal `json:"available"`
	}
	decodeData(t, resp, &available)
	assert.True(t, available.Available.Equal(decimal.NewFromInt(6)), available.Available.String())

	// 利用可能数量を超える予約は拒否される
	rec, resp = api.do(t, http.MethodPost, "/api/v1/quants/update-reserved", UpdateReservedRequest{
		Key:   key,
		Delta: decimal.NewFromInt(7),
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.False(t, resp.Success)

	rec, resp = api.do(t, http.MethodGet, fmt.Sprintf("/api/v1/quants?product_id=%d&location_id=%d", product, stock), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var quants []inventory.Quant
	decodeData(t, resp, &quants)
	require.Len(t, quants, 1)
	assert.Equal(t, "10", quants[0].Quantity.String())

	rec, _ = api.do(t, http.MethodPost, "/api/v1/quants/tasks", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMoveEndpoints(t *testing.T) {
	api := newTestAPI(t)
	stock, customer, product := api.seed(t)

	rec, resp := api.do(t, http.MethodPost, "/api/v1/quants/update-available", UpdateAvailableRequest{
		Key:   inventory.QuantKey{ProductID: product, LocationID: stock},
		Delta: decimal.NewFromInt(5),
	})
	require.Equal(t, http.StatusOK, rec.Code, resp.Error)

	var move inventory.Move
	rec, resp = api.do(t, http.MethodPost, "/api/v1/moves", inventory.MoveRequest{
		Reference:      "WH/OUT/0001",
		ProductID:      product,
		Quantity:       decimal.NewFromInt(3),
		LocationID:     stock,
		LocationDestID: customer,
	})
	require.Equal(t, http.StatusCreated, rec.Code, resp.Error)
	decodeData(t, resp, &move)
	movePath := fmt.Sprintf("/api/v1/moves/%d", move.ID)

	rec, resp = api.do(t, http.MethodPost, movePath+"/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code, resp.Error)

	rec, resp = api.do(t, http.MethodPost, movePath+"/assign", nil)
	require.Equal(t, http.StatusOK, rec.Code, resp.Error)
	var assigned MoveResponse
	decodeData(t, resp, &assigned)
	assert.Equal(t, inventory.MoveStateAssigned, assigned.Move.State)
	require.Len(t, assigned.Lines, 1)

	rec, resp = api.do(t, http.MethodPost, movePath+"/done", nil)
	require.Equal(t, http.StatusOK, rec.Code, resp.Error)
	var done MoveResponse
	decodeData(t, resp, &done)
	assert.Equal(t, inventory.MoveStateDone, done.Move.State)
	assert.Empty(t, rec.Header().Get("X-Backorder-ID"))

	var remaining decimal.Decimal
	for _, q := range api.store.AllQuants() {
		if q.LocationID == stock {
			remaining = remaining.Add(q.Quantity)
		}
	}
	assert.True(t, remaining.Equal(decimal.NewFromInt(2)), remaining.String())
}

func TestErrorResponses(t *testing.T) {
	api := newTestAPI(t)
	stock, _, product := api.seed(t)

	tests := []struct {
		name   string
		method string
		path   string
		header string
		status int
	}{
		{"製品ID未指定", http.MethodGet, fmt.Sprintf("/api/v1/quants/available?location_id=%d", stock), "", http.StatusBadRequest},
		{"存在しない移動", http.MethodGet, "/api/v1/moves/999", "", http.StatusNotFound},
		{"無効な移動ID", http.MethodGet, "/api/v1/moves/abc", "", http.StatusBadRequest},
		{"存在しない移動の確定", http.MethodPost, "/api/v1/moves/999/confirm", "", http.StatusNotFound},
		{"無効な会社ID", http.MethodGet, fmt.Sprintf("/api/v1/quants/available?product_id=%d&location_id=%d", product, stock), "x", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("X-Company-ID", tt.header)
			}
			rec := httptest.NewRecorder()
			api.router.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)

			var resp APIResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
		})
	}

	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/quants/update-available", bytes.NewBufferString("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
