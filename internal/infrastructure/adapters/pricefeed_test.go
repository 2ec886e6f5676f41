package adapters

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/coinpilot/coinpilot-core/pkg/errors"
)

func newTestPriceFeed(t *testing.T, baseURL string) *PriceFeedClient {
	return NewPriceFeedClient(PriceFeedConfig{
		BaseURL:    baseURL,
		Timeout:    2 * time.Second,
		MaxRetries: 1,
	}, zaptest.NewLogger(t))
}

func TestGetPriceDecodesQuote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/simple/price", r.URL.Path)
		assert.Equal(t, "bitcoin", r.URL.Query().Get("ids"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]map[string]float64{
			"bitcoin": {"usd": 50123.45},
		})
	}))
	defer server.Close()

	client := newTestPriceFeed(t, server.URL)

	price, err := client.GetPrice(context.Background(), "btc")
	require.NoError(t, err)
	assert.Equal(t, "50123.45", price.String())
}

func TestHistoricalCandlesDecodesRows(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/coins/ethereum/ohlc", r.URL.Path)
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currency"))
		assert.Equal(t, "30", r.URL.Query().Get("days"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([][]float64{
			{1756700000000, 4300, 4350, 4290, 4340},
			{1756714400000, 4340, 4360, 4320, 4355},
			{1756728800000, 4355, 4400, 4350, 4390},
		})
	}))
	defer server.Close()

	client := newTestPriceFeed(t, server.URL)

	candles, err := client.HistoricalCandles(context.Background(), "ETH", "4h", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)

	// Trimming keeps the most recent bars, oldest first
	assert.Equal(t, 4340.0, candles[0].Open)
	assert.Equal(t, 4390.0, candles[1].Close)
	assert.Equal(t, time.UnixMilli(1756728800000).UTC(), candles[1].Timestamp)
	assert.Zero(t, candles[1].Volume)
}

func TestHistoricalCandlesRejectsUnknownTimeframe(t *testing.T) {
	client := newTestPriceFeed(t, "http://localhost:0")

	_, err := client.HistoricalCandles(context.Background(), "BTC", "7m", 10)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidation))
}

func TestHistoricalCandlesProviderFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestPriceFeed(t, server.URL)

	_, err := client.HistoricalCandles(context.Background(), "BTC", "4h", 10)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodePriceUnavailable))
}
