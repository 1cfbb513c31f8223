// backend/src/models/trade.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeKind classifies a canonical trade derived from one grouped bucket of
// transaction events.
type TradeKind string

const (
	TradeBuy  TradeKind = "BUY"
	TradeSell TradeKind = "SELL"
)

// Trade is the canonical record of one real-world trade, collapsed from the
// several raw rows an exchange export spreads it across. The ID is derived
// deterministically from the trade's identity fields so re-running the
// pipeline on the same inputs upserts instead of duplicating.
type Trade struct {
	ID              string          `json:"id"`
	UserID          int64           `json:"user_id"`
	Provider        string          `json:"provider"`
	Kind            TradeKind       `json:"kind"`
	Timestamp       time.Time       `json:"timestamp"`
	Asset           string          `json:"asset"`              // primary traded asset
	NetAmount       decimal.Decimal `json:"net_amount"`         // quantity acquired/disposed after same-asset fees
	CounterValueUSD decimal.Decimal `json:"counter_value_usd"`  // quote-currency value of this trade
	UnitPriceUSD    decimal.Decimal `json:"unit_price_usd"`     // CounterValueUSD / NetAmount
	FeeAmount       decimal.Decimal `json:"fee_amount"`
	FeeAsset        string          `json:"fee_asset,omitempty"`
	FeeUSD          decimal.Decimal `json:"fee_usd"`
	ViaConvert      bool            `json:"via_convert,omitempty"` // derived from an exchange-native swap
	BatchID         string          `json:"batch_id,omitempty"`
}

// GroupingError carries a minute bucket that could not be resolved into a
// balanced set of legs. The raw events are retained for manual review; a
// grouping error never aborts the batch.
type GroupingError struct {
	BucketKey string             `json:"bucket_key"`
	Reason    string             `json:"reason"`
	Events    []TransactionEvent `json:"events"`
}

func (e GroupingError) Error() string {
	return "grouping: bucket " + e.BucketKey + ": " + e.Reason
}
