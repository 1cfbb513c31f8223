// backend/src/processors/tax_processor_test.go
package processors

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/username/cryptofolio/backend/src/models"
)

func taxPeriod() (time.Time, time.Time) {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC)
}

func settledDisposal(t *testing.T, tradeID string, disposedAt time.Time, proceeds, fee string, consumptions ...models.LotConsumption) models.Disposal {
	t.Helper()
	d := models.Disposal{
		TradeID:      tradeID,
		UserID:       1,
		Asset:        "BTC",
		DisposedAt:   disposedAt,
		ProceedsUSD:  dec(t, proceeds),
		FeeUSD:       dec(t, fee),
		Consumptions: consumptions,
	}
	basis := decimal.Zero
	for _, c := range consumptions {
		d.Amount = d.Amount.Add(c.AmountConsumed)
		basis = basis.Add(c.CostBasisPortion)
	}
	d.TotalCostBasisUSD = decimal.NewNullDecimal(basis)
	d.RealizedPnLUSD = decimal.NewNullDecimal(d.ProceedsUSD.Sub(d.FeeUSD).Sub(basis))
	return d
}

func TestTaxProcessor_ShortAndLongSplit(t *testing.T) {
	start, end := taxPeriod()
	disposedAt := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	disposals := []models.Disposal{
		settledDisposal(t, "s1", disposedAt, "3000", "3", models.LotConsumption{
			LotID: "b1", AmountConsumed: dec(t, "1"), CostBasisPortion: dec(t, "1000"), IsShortTerm: true,
		}),
		settledDisposal(t, "s2", disposedAt, "5000", "5", models.LotConsumption{
			LotID: "b2", AmountConsumed: dec(t, "2"), CostBasisPortion: dec(t, "6000"), IsShortTerm: false,
		}),
	}

	summary := NewTaxProcessor().Categorize(disposals, start, end)

	assert.True(t, summary.ShortTerm.ProceedsUSD.Equal(dec(t, "3000")))
	assert.True(t, summary.ShortTerm.CostBasisUSD.Equal(dec(t, "1000")))
	assert.True(t, summary.ShortTerm.GainLossUSD.Equal(dec(t, "2000")))
	assert.Equal(t, 1, summary.ShortTerm.Disposals)

	assert.True(t, summary.LongTerm.ProceedsUSD.Equal(dec(t, "5000")))
	assert.True(t, summary.LongTerm.CostBasisUSD.Equal(dec(t, "6000")))
	assert.True(t, summary.LongTerm.GainLossUSD.Equal(dec(t, "-1000")))
	assert.Equal(t, 1, summary.LongTerm.Disposals)

	assert.True(t, summary.TotalGainLossUSD.Equal(dec(t, "1000")))
	assert.True(t, summary.DeductibleFeesUSD.Equal(dec(t, "8")))
	assert.Equal(t, 0, summary.NeedsReviewCount)
}

func TestTaxProcessor_StraddlingDisposalSplitsByQuantity(t *testing.T) {
	// One disposal eats a long-term lot and a short-term lot; proceeds are
	// attributed to each portion by quantity share.
	start, end := taxPeriod()
	disposedAt := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	d := settledDisposal(t, "s1", disposedAt, "4000", "0",
		models.LotConsumption{
			LotID: "old", AmountConsumed: dec(t, "3"), CostBasisPortion: dec(t, "1500"), IsShortTerm: false,
		},
		models.LotConsumption{
			LotID: "new", AmountConsumed: dec(t, "1"), CostBasisPortion: dec(t, "900"), IsShortTerm: true,
		},
	)

	summary := NewTaxProcessor().Categorize([]models.Disposal{d}, start, end)

	assert.True(t, summary.LongTerm.ProceedsUSD.Equal(dec(t, "3000")))
	assert.True(t, summary.LongTerm.GainLossUSD.Equal(dec(t, "1500")))
	assert.True(t, summary.ShortTerm.ProceedsUSD.Equal(dec(t, "1000")))
	assert.True(t, summary.ShortTerm.GainLossUSD.Equal(dec(t, "100")))

	// a straddling disposal counts once on each side
	assert.Equal(t, 1, summary.ShortTerm.Disposals)
	assert.Equal(t, 1, summary.LongTerm.Disposals)
	assert.True(t, summary.TotalGainLossUSD.Equal(dec(t, "1600")))
}

func TestTaxProcessor_NeedsReviewExcludedFromTotals(t *testing.T) {
	start, end := taxPeriod()
	disposedAt := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	review := models.Disposal{
		TradeID:         "s1",
		UserID:          1,
		Asset:           "BTC",
		DisposedAt:      disposedAt,
		Amount:          dec(t, "10"),
		ProceedsUSD:     dec(t, "500000"),
		FeeUSD:          dec(t, "50"),
		UnmatchedAmount: dec(t, "10"),
		NeedsReview:     true,
	}

	summary := NewTaxProcessor().Categorize([]models.Disposal{review}, start, end)

	assert.Equal(t, 1, summary.NeedsReviewCount)
	assert.True(t, summary.TotalGainLossUSD.IsZero())
	assert.True(t, summary.ShortTerm.ProceedsUSD.IsZero())
	assert.Equal(t, 0, summary.ShortTerm.Disposals)
	// its fee is still deductible in the period
	assert.True(t, summary.DeductibleFeesUSD.Equal(dec(t, "50")))
}

func TestTaxProcessor_PeriodFilter(t *testing.T) {
	start, end := taxPeriod()

	inside := settledDisposal(t, "s1", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), "1000", "1",
		models.LotConsumption{LotID: "b1", AmountConsumed: dec(t, "1"), CostBasisPortion: dec(t, "400"), IsShortTerm: true})
	before := settledDisposal(t, "s2", time.Date(2023, 12, 31, 23, 59, 59, 0, time.UTC), "9999", "9",
		models.LotConsumption{LotID: "b2", AmountConsumed: dec(t, "1"), CostBasisPortion: dec(t, "1"), IsShortTerm: true})
	after := settledDisposal(t, "s3", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), "9999", "9",
		models.LotConsumption{LotID: "b3", AmountConsumed: dec(t, "1"), CostBasisPortion: dec(t, "1"), IsShortTerm: true})

	summary := NewTaxProcessor().Categorize([]models.Disposal{inside, before, after}, start, end)

	assert.True(t, summary.ShortTerm.ProceedsUSD.Equal(dec(t, "1000")))
	assert.True(t, summary.ShortTerm.GainLossUSD.Equal(dec(t, "600")))
	assert.Equal(t, 1, summary.ShortTerm.Disposals)
	assert.True(t, summary.DeductibleFeesUSD.Equal(dec(t, "1")))
}

func TestTaxProcessor_EmptyInput(t *testing.T) {
	start, end := taxPeriod()
	summary := NewTaxProcessor().Categorize(nil, start, end)

	assert.Equal(t, start, summary.PeriodStart)
	assert.Equal(t, end, summary.PeriodEnd)
	assert.True(t, summary.TotalGainLossUSD.IsZero())
	require.Equal(t, 0, summary.NeedsReviewCount)
}
