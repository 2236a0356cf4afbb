package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfoliowatch/internal/cache"
	"portfoliowatch/internal/model"
	"portfoliowatch/internal/resolver"
)

type stubEquity struct{}

func (stubEquity) FetchLatest(_ context.Context, sym string) *model.PriceRecord {
	prev := 41.0
	return &model.PriceRecord{
		Symbol:        sym,
		Price:         41.2,
		PreviousClose: &prev,
		LastUpdate:    time.Now(),
		Currency:      "TRY",
	}
}

func (stubEquity) FetchHistory(_ context.Context, sym string, _ model.HistoryRange) ([]model.HistoricalPrice, error) {
	return []model.HistoricalPrice{{Date: "2026-08-28", Price: 41.0}, {Date: "2026-08-29", Price: 41.2}}, nil
}

type stubFunds struct{}

func (stubFunds) FetchLatest(_ context.Context, code string) (*model.PriceRecord, error) {
	return &model.PriceRecord{Symbol: code, Price: 1.25, PriceDate: "2026-08-31", LastUpdate: time.Now(), Currency: "TRY"}, nil
}

func (stubFunds) FetchHistory(_ context.Context, code string, _ model.HistoryRange) ([]model.HistoricalPrice, error) {
	return []model.HistoricalPrice{{Date: "2026-08-28", Price: 1.20}}, nil
}

type stubMetals struct{}

func (stubMetals) FetchSpot(_ context.Context, instrument, currency string) *model.PriceRecord {
	return &model.PriceRecord{Symbol: instrument + currency, Price: 3110.35, LastUpdate: time.Now(), Currency: currency}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	res := resolver.New(stubEquity{}, stubFunds{}, stubMetals{}, cache.NewMemoryStore())
	res.FundDispatchDelay = 0

	r := chi.NewRouter()
	NewServer(res).Mount(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestHandlePrices(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/prices?symbols=USDTRY,thyao,,USDTRY")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body pricesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Prices, 2)
	// Sorted by symbol regardless of completion order.
	assert.Equal(t, "THYAO", body.Prices[0].Symbol)
	assert.Equal(t, "USDTRY", body.Prices[1].Symbol)
	assert.Equal(t, 2, body.Stats.Total)
	assert.Equal(t, 2, body.Stats.Live)
}

func TestHandlePricesMissingSymbols(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/prices")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleHistory(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/history/thyao?range=1mo")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body historyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "THYAO", body.Symbol)
	assert.Equal(t, "1mo", body.Range)
	require.Len(t, body.Points, 2)
	assert.Equal(t, 41.0, body.Points[0].Price)
}

func TestHandleHistoryInvalidRange(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/history/THYAO?range=99y")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleCacheClear(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/cache/clear", "", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestHandleCacheClearSingleSymbol(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/cache/clear?symbol=usdtry", "", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
