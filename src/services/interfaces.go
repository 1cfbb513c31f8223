// backend/src/services/interfaces.go
package services

import (
	"errors"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/cryptofolio/backend/src/models"
)

// Define common service errors
var (
	ErrParsingFailed    = errors.New("csv parsing failed")
	ErrProcessingFailed = errors.New("transaction processing failed")
	ErrUnknownProvider  = errors.New("unknown provider")
)

// ImportService owns the full import pipeline: parse, normalize, persist
// events, rebuild the ledger and derive trades, lots and disposals. Both
// the CSV upload path and the exchange-API sync path go through it so the
// FIFO accounting lives in exactly one place.
type ImportService interface {
	ProcessUpload(fileReader io.Reader, userID int64, provider, filename string, filesize int64) (*models.BatchResult, error)
	ProcessFills(fills []models.ExchangeFill, userID int64, provider string) (*models.BatchResult, error)

	// Rebuild recomputes every derived record for the user from the full
	// event history. Used after imports and after deletions.
	Rebuild(userID int64) (*RebuildResult, error)

	GetTrades(userID int64) ([]models.Trade, error)
	GetEvents(userID int64) ([]models.TransactionEvent, error)
	GetLots(userID int64) ([]models.Lot, error)
	GetDisposals(userID int64) ([]models.Disposal, error)
	GetTaxSummary(userID int64, periodStart, periodEnd time.Time) (models.TaxSummary, error)
	GetHoldingsWithValue(userID int64) ([]models.HoldingValue, error)

	DeleteUserData(userID int64, provider string) error
	InvalidateUserCache(userID int64)
}

// RebuildResult summarizes one full recomputation of a user's derived state.
type RebuildResult struct {
	Trades         []models.Trade
	Disposals      []models.Disposal
	GroupingErrors []models.GroupingError
}

// PriceService resolves USD prices for crypto assets. Implementations cache
// aggressively; a missing price is reported, never invented.
type PriceService interface {
	// GetCurrentPrice returns the asset's latest USD price.
	GetCurrentPrice(asset string) (decimal.Decimal, error)
	// GetHistoricalPrice returns the asset's daily close on the given date.
	GetHistoricalPrice(asset string, ts time.Time) (decimal.Decimal, error)
}
