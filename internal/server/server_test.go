package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neolight/smarttrader/internal/domain"
	"github.com/neolight/smarttrader/internal/quotes"
	"github.com/neolight/smarttrader/internal/reliability"
)

type stubLoop struct{}

func (stubLoop) Allocation() domain.AllocationVector {
	return domain.AllocationVector{
		Method:    "hrp",
		Weights:   map[string]float64{"turtle_trading": 0.6, "macd_momentum": 0.4},
		CreatedAt: time.Now(),
	}
}

func (stubLoop) CycleCount() int64 { return 42 }

type stubPortfolio struct{}

func (stubPortfolio) Cash() float64 { return 52000 }
func (stubPortfolio) Positions() []domain.Position {
	return []domain.Position{{Symbol: "AAPL", Quantity: 10, AvgPrice: 190}}
}

type stubQuotes struct{}

func (stubQuotes) Snapshot() quotes.Metrics {
	return quotes.Metrics{FreshCacheHits: 7, FetchSuccesses: 3}
}

type stubBreakers struct{}

func (stubBreakers) Snapshot() []reliability.BreakerInfo {
	return []reliability.BreakerInfo{{Name: "quotes:AAPL", State: reliability.StateClosed}}
}

type stubTrades struct {
	err error
}

func (s stubTrades) GetHistory(limit int) ([]domain.Trade, error) {
	if s.err != nil {
		return nil, s.err
	}
	trades := []domain.Trade{{OrderID: "order-1", Symbol: "AAPL", Side: domain.DirectionBuy}}
	if limit < len(trades) {
		trades = trades[:limit]
	}
	return trades, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	return New(Config{
		Port:      0,
		DataDir:   t.TempDir(),
		Loop:      stubLoop{},
		Portfolio: stubPortfolio{},
		Quotes:    stubQuotes{},
		Breakers:  stubBreakers{},
		Trades:    stubTrades{},
		Log:       zerolog.Nop(),
	})
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	rec := get(t, newTestServer(t), "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "smarttrader", body["service"])
}

func TestCurrentAllocationEndpoint(t *testing.T) {
	rec := get(t, newTestServer(t), "/api/allocation/current")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Method  string             `json:"method"`
		Weights map[string]float64 `json:"weights"`
		Cycle   int64              `json:"cycle"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "hrp", body.Method)
	assert.InDelta(t, 0.6, body.Weights["turtle_trading"], 1e-9)
	assert.Equal(t, int64(42), body.Cycle)
}

func TestBreakersEndpoint(t *testing.T) {
	rec := get(t, newTestServer(t), "/api/breakers")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "quotes:AAPL")
}

func TestQuoteMetricsEndpoint(t *testing.T) {
	rec := get(t, newTestServer(t), "/api/quotes/metrics")
	require.Equal(t, http.StatusOK, rec.Code)

	var metrics quotes.Metrics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &metrics))
	assert.Equal(t, uint64(7), metrics.FreshCacheHits)
}

func TestRecentTradesEndpoint(t *testing.T) {
	rec := get(t, newTestServer(t), "/api/trades/recent")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "order-1")
}

func TestRecentTradesRejectsBadLimit(t *testing.T) {
	rec := get(t, newTestServer(t), "/api/trades/recent?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(t, newTestServer(t), "/api/trades/recent?limit=0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPortfolioEndpoint(t *testing.T) {
	rec := get(t, newTestServer(t), "/api/portfolio")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Cash      float64           `json:"cash"`
		Positions []domain.Position `json:"positions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 52000.0, body.Cash)
	require.Len(t, body.Positions, 1)
	assert.Equal(t, "AAPL", body.Positions[0].Symbol)
}

func TestSystemEndpoint(t *testing.T) {
	rec := get(t, newTestServer(t), "/api/system")
	require.Equal(t, http.StatusOK, rec.Code)

	var body SystemResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.GreaterOrEqual(t, body.MemoryPercent, 0.0)
}
