// backend/src/processors/tax_processor.go
package processors

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/cryptofolio/backend/src/models"
)

// TaxProcessor aggregates disposals into period summaries. It never mutates
// its input: a summary is recomputed in full for each request so it cannot
// drift from the underlying disposal set.
type TaxProcessor struct{}

func NewTaxProcessor() *TaxProcessor {
	return &TaxProcessor{}
}

// Categorize splits each disposal's consumed portions by holding period and
// sums them into short-term and long-term buckets for the given period.
// A single disposal may straddle the boundary: its consumptions are split
// individually, and its proceeds are attributed to each portion by quantity
// share. Disposals flagged for review are counted but excluded from the
// gain/loss totals since their cost basis is unknown.
func (p *TaxProcessor) Categorize(disposals []models.Disposal, periodStart, periodEnd time.Time) models.TaxSummary {
	summary := models.TaxSummary{
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
	}

	for _, d := range disposals {
		if d.DisposedAt.Before(periodStart) || d.DisposedAt.After(periodEnd) {
			continue
		}
		summary.DeductibleFeesUSD = summary.DeductibleFeesUSD.Add(d.FeeUSD)
		if d.NeedsReview {
			summary.NeedsReviewCount++
			continue
		}

		matched := d.MatchedAmount()
		shortTouched, longTouched := false, false
		for _, c := range d.Consumptions {
			proceeds := decimal.Zero
			if matched.IsPositive() {
				proceeds = d.ProceedsUSD.Mul(c.AmountConsumed).Div(matched)
			}
			gain := proceeds.Sub(c.CostBasisPortion)
			if c.IsShortTerm {
				summary.ShortTerm.ProceedsUSD = summary.ShortTerm.ProceedsUSD.Add(proceeds)
				summary.ShortTerm.CostBasisUSD = summary.ShortTerm.CostBasisUSD.Add(c.CostBasisPortion)
				summary.ShortTerm.GainLossUSD = summary.ShortTerm.GainLossUSD.Add(gain)
				shortTouched = true
			} else {
				summary.LongTerm.ProceedsUSD = summary.LongTerm.ProceedsUSD.Add(proceeds)
				summary.LongTerm.CostBasisUSD = summary.LongTerm.CostBasisUSD.Add(c.CostBasisPortion)
				summary.LongTerm.GainLossUSD = summary.LongTerm.GainLossUSD.Add(gain)
				longTouched = true
			}
		}
		if shortTouched {
			summary.ShortTerm.Disposals++
		}
		if longTouched {
			summary.LongTerm.Disposals++
		}
	}

	summary.TotalGainLossUSD = summary.ShortTerm.GainLossUSD.Add(summary.LongTerm.GainLossUSD)
	return summary
}
