// backend/src/models/summary.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TaxBucket aggregates realized results for one holding-period class.
type TaxBucket struct {
	ProceedsUSD  decimal.Decimal `json:"proceeds_usd"`
	CostBasisUSD decimal.Decimal `json:"cost_basis_usd"`
	GainLossUSD  decimal.Decimal `json:"gain_loss_usd"`
	Disposals    int             `json:"disposals"`
}

// TaxSummary is a pure aggregation over a period's disposals, split into
// short-term (held <= 365 days) and long-term buckets. It is recomputed in
// full for each request, never patched incrementally.
type TaxSummary struct {
	PeriodStart       time.Time       `json:"period_start"`
	PeriodEnd         time.Time       `json:"period_end"`
	ShortTerm         TaxBucket       `json:"short_term"`
	LongTerm          TaxBucket       `json:"long_term"`
	TotalGainLossUSD  decimal.Decimal `json:"total_gain_loss_usd"`
	DeductibleFeesUSD decimal.Decimal `json:"deductible_fees_usd"`
	NeedsReviewCount  int             `json:"needs_review_count"`
}

// HoldingValue is one asset's aggregated open position, valued for portfolio
// display from the remaining lot amounts.
type HoldingValue struct {
	Asset            string          `json:"asset"`
	Quantity         decimal.Decimal `json:"quantity"`
	CostBasisUSD     decimal.Decimal `json:"cost_basis_usd"`
	CurrentPriceUSD  decimal.Decimal `json:"current_price_usd"`
	MarketValueUSD   decimal.Decimal `json:"market_value_usd"`
	UnrealizedPnLUSD decimal.Decimal `json:"unrealized_pnl_usd"`
	PriceStatus      string          `json:"price_status"` // "OK" or "UNAVAILABLE"
}
