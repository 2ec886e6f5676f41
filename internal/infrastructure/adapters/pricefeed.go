package adapters

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/coinpilot/coinpilot-core/internal/backtest"
	"github.com/coinpilot/coinpilot-core/internal/domain/entities"
	"github.com/coinpilot/coinpilot-core/pkg/errors"
	"github.com/coinpilot/coinpilot-core/pkg/metrics"
	"github.com/coinpilot/coinpilot-core/pkg/retry"
)

const (
	defaultPriceTimeout  = 10 * time.Second
	defaultPriceCacheTTL = 30 * time.Second
)

// assetIDs maps ticker symbols to provider asset identifiers
var assetIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"SOL":  "solana",
	"ADA":  "cardano",
	"DOT":  "polkadot",
	"DOGE": "dogecoin",
	"XRP":  "ripple",
	"LTC":  "litecoin",
}

// PriceFeedConfig represents price provider configuration
type PriceFeedConfig struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	MaxRetries    int
	CacheTTL      time.Duration
	QuoteCurrency string
}

type cachedPrice struct {
	price     decimal.Decimal
	fetchedAt time.Time
}

// PriceFeedClient fetches spot prices over HTTP with retry, circuit
// breaking and a short-lived cache
type PriceFeedClient struct {
	config         PriceFeedConfig
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker
	logger         *zap.Logger

	mu    sync.RWMutex
	cache map[string]cachedPrice
}

var _ backtest.CandleSource = (*PriceFeedClient)(nil)

// NewPriceFeedClient creates a new price feed client
func NewPriceFeedClient(config PriceFeedConfig, logger *zap.Logger) *PriceFeedClient {
	if config.Timeout == 0 {
		config.Timeout = defaultPriceTimeout
	}
	if config.CacheTTL == 0 {
		config.CacheTTL = defaultPriceCacheTTL
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.QuoteCurrency == "" {
		config.QuoteCurrency = "usd"
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	st := gobreaker.Settings{
		Name:        "PriceFeed",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &PriceFeedClient{
		config:         config,
		httpClient:     httpClient,
		circuitBreaker: gobreaker.NewCircuitBreaker(st),
		logger:         logger,
		cache:          make(map[string]cachedPrice),
	}
}

// GetPrice returns the spot price of one asset in the quote currency.
// Prices are cached briefly, so bursts of lookups during a sweep hit
// the provider once per asset.
func (c *PriceFeedClient) GetPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	symbol := strings.ToUpper(asset)

	if price, ok := c.cachedPrice(symbol); ok {
		return price, nil
	}

	started := time.Now()
	var price decimal.Decimal

	retryCfg := retry.Config{
		MaxAttempts: c.config.MaxRetries,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
	}

	err := retry.WithExponentialBackoff(ctx, retryCfg, func() error {
		result, cbErr := c.circuitBreaker.Execute(func() (interface{}, error) {
			return c.fetchPrice(ctx, symbol)
		})
		if cbErr != nil {
			return cbErr
		}
		price = result.(decimal.Decimal)
		return nil
	}, retry.IsTemporaryError)

	metrics.ExternalCallDuration.WithLabelValues("price_feed", "get_price").
		Observe(time.Since(started).Seconds())

	if err != nil {
		metrics.ExternalCallFailures.WithLabelValues("price_feed", "get_price").Inc()
		c.logger.Error("price lookup failed",
			zap.Error(err),
			zap.String("asset", symbol),
		)
		return decimal.Zero, errors.Wrap(err, errors.ErrCodePriceUnavailable,
			fmt.Sprintf("price lookup for %s", symbol))
	}

	c.storePrice(symbol, price)
	return price, nil
}

// candleDays maps a candle timeframe to the provider's lookback window.
// The provider picks the bar granularity from the window size, so the
// window is the only lever for the timeframe.
var candleDays = map[string]string{
	"30m": "1",
	"4h":  "30",
	"4d":  "365",
}

// HistoricalCandles returns up to limit OHLC bars for one asset at the
// given timeframe, oldest first. The provider does not report volume,
// so Volume is zero on every bar.
func (c *PriceFeedClient) HistoricalCandles(ctx context.Context, asset, timeframe string, limit int) ([]entities.Candle, error) {
	symbol := strings.ToUpper(asset)

	days, ok := candleDays[timeframe]
	if !ok {
		return nil, errors.ValidationError(fmt.Sprintf("unsupported candle timeframe %q", timeframe))
	}

	started := time.Now()
	var candles []entities.Candle

	retryCfg := retry.Config{
		MaxAttempts: c.config.MaxRetries,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
	}

	err := retry.WithExponentialBackoff(ctx, retryCfg, func() error {
		result, cbErr := c.circuitBreaker.Execute(func() (interface{}, error) {
			return c.fetchCandles(ctx, symbol, days)
		})
		if cbErr != nil {
			return cbErr
		}
		candles = result.([]entities.Candle)
		return nil
	}, retry.IsTemporaryError)

	metrics.ExternalCallDuration.WithLabelValues("price_feed", "historical_candles").
		Observe(time.Since(started).Seconds())

	if err != nil {
		metrics.ExternalCallFailures.WithLabelValues("price_feed", "historical_candles").Inc()
		c.logger.Error("candle lookup failed",
			zap.Error(err),
			zap.String("asset", symbol),
			zap.String("timeframe", timeframe),
		)
		return nil, errors.Wrap(err, errors.ErrCodePriceUnavailable,
			fmt.Sprintf("candle lookup for %s", symbol))
	}

	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

func (c *PriceFeedClient) fetchCandles(ctx context.Context, symbol, days string) ([]entities.Candle, error) {
	assetID := assetIDs[symbol]
	if assetID == "" {
		assetID = strings.ToLower(symbol)
	}

	url := fmt.Sprintf("%s/coins/%s/ohlc?vs_currency=%s&days=%s",
		c.config.BaseURL, assetID, c.config.QuoteCurrency, days)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build candle request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("x-api-key", c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("candle request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read candle response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price provider returned status %d: %s", resp.StatusCode, string(body))
	}

	// Response shape: [[ts_ms, open, high, low, close], ...]
	var rows [][]float64
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode candle response: %w", err)
	}

	candles := make([]entities.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			return nil, fmt.Errorf("malformed candle row with %d fields", len(row))
		}
		candles = append(candles, entities.Candle{
			Timestamp: time.UnixMilli(int64(row[0])).UTC(),
			Open:      row[1],
			High:      row[2],
			Low:       row[3],
			Close:     row[4],
		})
	}

	return candles, nil
}

func (c *PriceFeedClient) fetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	assetID := assetIDs[symbol]
	if assetID == "" {
		assetID = strings.ToLower(symbol)
	}

	url := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=%s",
		c.config.BaseURL, assetID, c.config.QuoteCurrency)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("build price request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("x-api-key", c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("price request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return decimal.Zero, fmt.Errorf("read price response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("price provider returned status %d: %s", resp.StatusCode, string(body))
	}

	// Response shape: {"bitcoin": {"usd": 50123.45}}
	var payload map[string]map[string]decimal.Decimal
	if err := json.Unmarshal(body, &payload); err != nil {
		return decimal.Zero, fmt.Errorf("decode price response: %w", err)
	}

	quote, ok := payload[assetID]
	if !ok {
		return decimal.Zero, fmt.Errorf("no quote for asset %s", symbol)
	}
	price, ok := quote[c.config.QuoteCurrency]
	if !ok || !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("no %s price for asset %s", c.config.QuoteCurrency, symbol)
	}

	return price, nil
}

func (c *PriceFeedClient) cachedPrice(symbol string) (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.cache[symbol]
	if !ok || time.Since(entry.fetchedAt) > c.config.CacheTTL {
		return decimal.Zero, false
	}
	return entry.price, true
}

func (c *PriceFeedClient) storePrice(symbol string, price decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[symbol] = cachedPrice{price: price, fetchedAt: time.Now()}
}
