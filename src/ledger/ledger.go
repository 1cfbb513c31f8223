// backend/src/ledger/ledger.go
package ledger

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/cryptofolio/backend/src/models"
)

// shortTermMaxDays is the holding-period boundary: a lot held for exactly
// this many days is still short-term, one day more is long-term.
const shortTermMaxDays = 365

type key struct {
	userID int64
	asset  string
}

// Ledger owns every acquisition lot, indexed by (owner, asset). It is the
// single place where RemainingAmount is mutated: both the CSV import path
// and the exchange sync path post through it. Operations on one (owner,
// asset) queue are serialized with a per-key mutex so two concurrent
// disposals can never decrement the same lot from the same baseline.
type Ledger struct {
	mu    sync.Mutex
	locks map[key]*sync.Mutex
	lots  map[key][]*models.Lot
}

func New() *Ledger {
	return &Ledger{
		locks: make(map[key]*sync.Mutex),
		lots:  make(map[key][]*models.Lot),
	}
}

func (l *Ledger) lockFor(k key) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[k]
	if !ok {
		m = &sync.Mutex{}
		l.locks[k] = m
	}
	return m
}

// PostBuy opens a new lot from a BUY trade. The acquisition fee is
// capitalized into the unit cost. The queue stays ordered by acquisition
// time; posting events in ascending timestamp order keeps this an append.
func (l *Ledger) PostBuy(trade models.Trade) *models.Lot {
	unitCost := decimal.Zero
	if trade.NetAmount.IsPositive() {
		unitCost = trade.CounterValueUSD.Add(trade.FeeUSD).Div(trade.NetAmount)
	}
	lot := &models.Lot{
		ID:              trade.ID,
		UserID:          trade.UserID,
		Asset:           trade.Asset,
		AcquiredAt:      trade.Timestamp,
		OriginalAmount:  trade.NetAmount,
		RemainingAmount: trade.NetAmount,
		UnitCostUSD:     unitCost,
	}
	l.insert(lot)
	return lot
}

// PostDeposit opens a lot from an external deposit or airdrop, valued at the
// supplied per-unit price since deposits carry no counter value of their own.
func (l *Ledger) PostDeposit(ev models.TransactionEvent, unitPriceUSD decimal.Decimal) *models.Lot {
	amount := ev.Amount.Abs()
	lot := &models.Lot{
		ID:              ev.SourceRef,
		UserID:          ev.UserID,
		Asset:           ev.Asset,
		AcquiredAt:      ev.Timestamp,
		OriginalAmount:  amount,
		RemainingAmount: amount,
		UnitCostUSD:     unitPriceUSD,
	}
	l.insert(lot)
	return lot
}

func (l *Ledger) insert(lot *models.Lot) {
	k := key{userID: lot.UserID, asset: lot.Asset}
	mu := l.lockFor(k)
	mu.Lock()
	defer mu.Unlock()

	l.mu.Lock()
	queue := append(l.lots[k], lot)
	// Same-timestamp ties keep insertion order; strict FIFO everywhere else.
	sort.SliceStable(queue, func(i, j int) bool {
		return queue[i].AcquiredAt.Before(queue[j].AcquiredAt)
	})
	l.lots[k] = queue
	l.mu.Unlock()
}

// PostSell matches a SELL trade against the owner's lot queue for the
// traded asset, oldest lot first. When the queue runs out before the full
// quantity is matched, the matched consumptions are kept, the disposal is
// flagged for review, and cost basis and realized P&L are left null rather
// than fabricated from zero or full proceeds.
func (l *Ledger) PostSell(trade models.Trade) models.Disposal {
	k := key{userID: trade.UserID, asset: trade.Asset}
	mu := l.lockFor(k)
	mu.Lock()
	defer mu.Unlock()

	disposal := models.Disposal{
		TradeID:     trade.ID,
		UserID:      trade.UserID,
		Asset:       trade.Asset,
		DisposedAt:  trade.Timestamp,
		Amount:      trade.NetAmount,
		ProceedsUSD: trade.CounterValueUSD,
		FeeUSD:      trade.FeeUSD,
	}

	remaining := trade.NetAmount
	totalBasis := decimal.Zero

	// Lot fields are mutated under l.mu as well, so snapshot reads
	// (Lots, Holdings) never observe a half-applied consumption.
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, lot := range l.lots[k] {
		if !remaining.IsPositive() {
			break
		}
		if !lot.RemainingAmount.IsPositive() {
			continue
		}
		consumed := decimal.Min(remaining, lot.RemainingAmount)
		portion := consumed.Mul(lot.UnitCostUSD)
		lot.RemainingAmount = lot.RemainingAmount.Sub(consumed)
		remaining = remaining.Sub(consumed)
		totalBasis = totalBasis.Add(portion)

		disposal.Consumptions = append(disposal.Consumptions, models.LotConsumption{
			LotID:            lot.ID,
			AcquiredAt:       lot.AcquiredAt,
			AmountConsumed:   consumed,
			CostBasisPortion: portion,
			IsShortTerm:      isShortTerm(lot.AcquiredAt, trade.Timestamp),
		})
	}

	disposal.UnmatchedAmount = remaining
	if remaining.IsPositive() {
		disposal.NeedsReview = true
		return disposal
	}

	disposal.TotalCostBasisUSD = decimal.NewNullDecimal(totalBasis)
	disposal.RealizedPnLUSD = decimal.NewNullDecimal(
		trade.CounterValueUSD.Sub(trade.FeeUSD).Sub(totalBasis))
	return disposal
}

// isShortTerm compares calendar dates, not instants: a lot acquired exactly
// 365 days before the sell date is still short-term.
func isShortTerm(acquiredAt, disposedAt time.Time) bool {
	acquired := truncateToDate(acquiredAt)
	disposed := truncateToDate(disposedAt)
	days := int(disposed.Sub(acquired).Hours() / 24)
	return days <= shortTermMaxDays
}

func truncateToDate(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Lots returns a snapshot copy of every lot belonging to the user, ordered
// by asset then acquisition time. The copies are safe to hand to handlers.
func (l *Ledger) Lots(userID int64) []models.Lot {
	l.mu.Lock()
	var out []models.Lot
	for k, queue := range l.lots {
		if k.userID != userID {
			continue
		}
		for _, lot := range queue {
			out = append(out, *lot)
		}
	}
	l.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Asset != out[j].Asset {
			return out[i].Asset < out[j].Asset
		}
		return out[i].AcquiredAt.Before(out[j].AcquiredAt)
	})
	return out
}

// Holdings aggregates the user's remaining lot quantities per asset,
// dropping assets that are fully consumed.
func (l *Ledger) Holdings(userID int64) map[string]decimal.Decimal {
	holdings := make(map[string]decimal.Decimal)
	for _, lot := range l.Lots(userID) {
		if lot.RemainingAmount.IsPositive() {
			holdings[lot.Asset] = holdings[lot.Asset].Add(lot.RemainingAmount)
		}
	}
	return holdings
}

// Reset drops every lot queue belonging to the user. A rebuild replays the
// full event history after a reset; incremental patching of an out-of-order
// backfill is deliberately unsupported.
func (l *Ledger) Reset(userID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k := range l.lots {
		if k.userID == userID {
			delete(l.lots, k)
		}
	}
}
