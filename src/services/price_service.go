// backend/src/services/price_service.go
package services

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/username/cryptofolio/backend/src/config"
	"github.com/username/cryptofolio/backend/src/logger"
)

// Stablecoins are pinned to 1 USD; hitting a market API for them only adds
// latency and a rounding wobble.
var stablecoinPrices = map[string]decimal.Decimal{
	"USDT":  decimal.NewFromInt(1),
	"USDC":  decimal.NewFromInt(1),
	"BUSD":  decimal.NewFromInt(1),
	"FDUSD": decimal.NewFromInt(1),
	"DAI":   decimal.NewFromInt(1),
	"TUSD":  decimal.NewFromInt(1),
	"USD":   decimal.NewFromInt(1),
}

// --- API Response Structs ---

type tickerPriceResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// --- Service Implementation ---

type priceServiceImpl struct {
	httpClient http.Client
	baseURL    string
	priceCache *cache.Cache
}

func NewPriceService() PriceService {
	return &priceServiceImpl{
		httpClient: http.Client{Timeout: config.Cfg.PriceAPITimeout},
		baseURL:    config.Cfg.PriceAPIBaseURL,
		priceCache: cache.New(config.Cfg.PriceCacheExpiry, 2*config.Cfg.PriceCacheExpiry),
	}
}

// GetCurrentPrice returns the asset's latest USD price from the exchange
// ticker endpoint, cached briefly.
func (s *priceServiceImpl) GetCurrentPrice(asset string) (decimal.Decimal, error) {
	if price, ok := stablecoinPrices[asset]; ok {
		return price, nil
	}
	cacheKey := "current:" + asset
	if cached, found := s.priceCache.Get(cacheKey); found {
		return cached.(decimal.Decimal), nil
	}

	endpoint := fmt.Sprintf("%s/api/v3/ticker/price?symbol=%s", s.baseURL, url.QueryEscape(asset+"USDT"))
	resp, err := s.httpClient.Get(endpoint)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to call ticker price API: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return decimal.Zero, fmt.Errorf("ticker price API returned status %d for %s", resp.StatusCode, asset)
	}

	var ticker tickerPriceResponse
	if err := json.NewDecoder(resp.Body).Decode(&ticker); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode ticker price response: %w", err)
	}
	price, err := decimal.NewFromString(ticker.Price)
	if err != nil || !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("no usable price for %s", asset)
	}

	// Current prices go stale fast; cache them briefly regardless of the
	// configured historical expiry.
	s.priceCache.Set(cacheKey, price, 5*time.Minute)
	return price, nil
}

// GetHistoricalPrice returns the asset's daily close for the given date from
// the klines endpoint. Daily closes never change once the day is over, so
// they are cached with the long expiry.
func (s *priceServiceImpl) GetHistoricalPrice(asset string, ts time.Time) (decimal.Decimal, error) {
	if price, ok := stablecoinPrices[asset]; ok {
		return price, nil
	}
	day := ts.UTC().Truncate(24 * time.Hour)
	cacheKey := fmt.Sprintf("hist:%s:%s", asset, day.Format("2006-01-02"))
	if cached, found := s.priceCache.Get(cacheKey); found {
		return cached.(decimal.Decimal), nil
	}

	startMs := day.UnixMilli()
	endMs := day.Add(24 * time.Hour).UnixMilli()
	endpoint := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=1d&startTime=%d&endTime=%d&limit=1",
		s.baseURL, url.QueryEscape(asset+"USDT"), startMs, endMs)

	resp, err := s.httpClient.Get(endpoint)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to call klines API: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return decimal.Zero, fmt.Errorf("klines API returned status %d for %s", resp.StatusCode, asset)
	}

	// A kline row is a mixed-type array; the close price is index 4.
	var klines [][]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&klines); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode klines response: %w", err)
	}
	if len(klines) == 0 || len(klines[0]) < 5 {
		return decimal.Zero, fmt.Errorf("no kline data for %s on %s", asset, day.Format("2006-01-02"))
	}
	closeStr, ok := klines[0][4].(string)
	if !ok {
		return decimal.Zero, fmt.Errorf("unexpected kline close type for %s", asset)
	}
	price, err := decimal.NewFromString(closeStr)
	if err != nil || !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("no usable historical price for %s", asset)
	}

	s.priceCache.Set(cacheKey, price, cache.DefaultExpiration)
	logger.L.Debug("Historical price resolved", "asset", asset, "date", day.Format("2006-01-02"), "price", price)
	return price, nil
}
