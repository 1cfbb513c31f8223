// backend/src/models/event.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OperationKind is the canonical classification of a single raw ledger row
// after normalization. Downstream logic switches on this enum only, never on
// the provider's raw operation label.
type OperationKind string

const (
	OpBuyLeg     OperationKind = "BUY_LEG"     // crypto received in a trade
	OpSellLeg    OperationKind = "SELL_LEG"    // crypto given away in a trade
	OpSpendLeg   OperationKind = "SPEND_LEG"   // quote currency paid out
	OpRevenueLeg OperationKind = "REVENUE_LEG" // quote currency received
	OpFeeLeg     OperationKind = "FEE_LEG"     // trading fee row
	OpConvertLeg OperationKind = "CONVERT_LEG" // one side of an exchange-native swap
	OpTransfer   OperationKind = "TRANSFER"    // internal wallet movement
	OpDeposit    OperationKind = "DEPOSIT"     // external funds in
	OpWithdrawal OperationKind = "WITHDRAWAL"  // external funds out
	OpIgnored    OperationKind = "IGNORED"     // mapped but deliberately skipped
)

// Valid reports whether k is one of the known operation kinds.
func (k OperationKind) Valid() bool {
	switch k {
	case OpBuyLeg, OpSellLeg, OpSpendLeg, OpRevenueLeg, OpFeeLeg,
		OpConvertLeg, OpTransfer, OpDeposit, OpWithdrawal, OpIgnored:
		return true
	}
	return false
}

// OperationClass partitions operation kinds for minute-bucket grouping.
type OperationClass string

const (
	ClassTrade       OperationClass = "TRADE"
	ClassConvert     OperationClass = "CONVERT"
	ClassPassthrough OperationClass = "PASSTHROUGH" // transfers, deposits, withdrawals
	ClassNone        OperationClass = "NONE"        // ignored rows
)

// Class returns the grouping class for the operation kind.
func (k OperationKind) Class() OperationClass {
	switch k {
	case OpBuyLeg, OpSellLeg, OpSpendLeg, OpRevenueLeg, OpFeeLeg:
		return ClassTrade
	case OpConvertLeg:
		return ClassConvert
	case OpTransfer, OpDeposit, OpWithdrawal:
		return ClassPassthrough
	default:
		return ClassNone
	}
}

// TransactionEvent is the immutable, canonical form of one raw provider row
// (or one exchange-API fill leg). Events are created once per import batch;
// trades, lots and disposals are all derived from the ordered event history.
type TransactionEvent struct {
	ID        int64           `json:"id,omitempty"`
	UserID    int64           `json:"user_id"`
	Provider  string          `json:"provider"`  // e.g. "binance"
	Timestamp time.Time       `json:"timestamp"` // always UTC, minute resolution used for grouping
	Kind      OperationKind   `json:"kind"`
	Asset     string          `json:"asset"`
	Amount    decimal.Decimal `json:"amount"`     // signed; sign encodes direction
	SourceRef string          `json:"source_ref"` // idempotency key: provider external id or provider+row index
	Remark    string          `json:"remark,omitempty"`
	BatchID   string          `json:"batch_id,omitempty"` // import/sync batch this event arrived in
}

// RawRecord holds the direct string values of a single row from a provider
// export, before normalization. The parser fills it; the normalizer owns all
// interpretation.
type RawRecord struct {
	RowIndex   int    `json:"row_index"`
	Timestamp  string `json:"timestamp"`
	Operation  string `json:"operation"`
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
	Remark     string `json:"remark"`
	ExternalID string `json:"external_id"`
}

// ExchangeFill is one already-fetched fill or transfer from an exchange API
// sync. The HTTP client that produced it lives outside this backend; fills
// are converted to TransactionEvents and run through the same pipeline as
// CSV rows.
type ExchangeFill struct {
	Type       string          `json:"type"` // "buy", "sell", "deposit", "withdrawal"
	Asset      string          `json:"asset"`
	Quantity   decimal.Decimal `json:"quantity"` // always positive
	Price      decimal.Decimal `json:"price"`    // quote price per unit
	QuoteAsset string          `json:"quote_asset"`
	FeeAmount  decimal.Decimal `json:"fee_amount"`
	FeeAsset   string          `json:"fee_asset"`
	ExternalID string          `json:"external_id"`
	Timestamp  time.Time       `json:"timestamp"`
}
