// backend/src/models/lot.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Lot is a discrete acquisition of an asset at a known cost. Lots are created
// by BUY and CONVERT-buy trades (and by external deposits valued at import
// time) and consumed FIFO by later disposals. RemainingAmount only ever
// decreases, and only through the ledger.
type Lot struct {
	ID              string          `json:"id"` // trade or event id that created the lot
	UserID          int64           `json:"user_id"`
	Asset           string          `json:"asset"`
	AcquiredAt      time.Time       `json:"acquired_at"`
	OriginalAmount  decimal.Decimal `json:"original_amount"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	UnitCostUSD     decimal.Decimal `json:"unit_cost_usd"` // includes capitalized acquisition fees
}

// LotConsumption records one lot's contribution to a disposal.
type LotConsumption struct {
	LotID            string          `json:"lot_id"`
	AcquiredAt       time.Time       `json:"acquired_at"`
	AmountConsumed   decimal.Decimal `json:"amount_consumed"`
	CostBasisPortion decimal.Decimal `json:"cost_basis_portion"`
	IsShortTerm      bool            `json:"is_short_term"`
}

// Disposal is the result of matching a SELL or CONVERT-sell trade against the
// lot queue. When the queue runs out before the full quantity is matched the
// disposal keeps its partial consumptions, NeedsReview is set, and the total
// cost basis is left null rather than fabricated.
type Disposal struct {
	TradeID           string              `json:"trade_id"`
	UserID            int64               `json:"user_id"`
	Asset             string              `json:"asset"`
	DisposedAt        time.Time           `json:"disposed_at"`
	Amount            decimal.Decimal     `json:"amount"`       // trade net amount requested
	Consumptions      []LotConsumption    `json:"consumptions"` // in acquisition-time order
	UnmatchedAmount   decimal.Decimal     `json:"unmatched_amount"`
	TotalCostBasisUSD decimal.NullDecimal `json:"total_cost_basis_usd"`
	ProceedsUSD       decimal.Decimal     `json:"proceeds_usd"`
	FeeUSD            decimal.Decimal     `json:"fee_usd"`
	RealizedPnLUSD    decimal.NullDecimal `json:"realized_pnl_usd"`
	NeedsReview       bool                `json:"needs_review"`
}

// MatchedAmount returns the quantity covered by consumed lots.
func (d Disposal) MatchedAmount() decimal.Decimal {
	total := decimal.Zero
	for _, c := range d.Consumptions {
		total = total.Add(c.AmountConsumed)
	}
	return total
}
