// backend/src/services/import_service_test.go
package services

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/models"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	os.Exit(m.Run())
}

func newTestImportService() *importServiceImpl {
	return &importServiceImpl{
		userLocks: make(map[int64]*sync.Mutex),
	}
}

func TestUserLock_SameUserSameMutex(t *testing.T) {
	s := newTestImportService()

	assert.Same(t, s.userLock(1), s.userLock(1))
	assert.NotSame(t, s.userLock(1), s.userLock(2))
}

func TestUserLock_SerializesSameUser(t *testing.T) {
	s := newTestImportService()

	// An unguarded counter only ends up exact when every goroutine holds
	// the same user's mutex around its critical section.
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				mu := s.userLock(42)
				mu.Lock()
				counter++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 2000, counter)
}

func TestFillToEvents(t *testing.T) {
	ts := time.Date(2024, 5, 1, 9, 15, 0, 0, time.UTC)

	fill := models.ExchangeFill{
		Type:       "buy",
		Asset:      "eth",
		Quantity:   decimal.RequireFromString("2"),
		Price:      decimal.RequireFromString("3000"),
		QuoteAsset: "USDT",
		FeeAmount:  decimal.RequireFromString("0.002"),
		FeeAsset:   "ETH",
		ExternalID: "order-7",
		Timestamp:  ts,
	}

	events, err := fillToEvents(fill, 1, "binance", "batch-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, models.OpBuyLeg, events[0].Kind)
	assert.Equal(t, "ETH", events[0].Asset)
	assert.True(t, events[0].Amount.Equal(decimal.RequireFromString("2")))
	assert.Equal(t, "binance-order-7-base", events[0].SourceRef)

	assert.Equal(t, models.OpSpendLeg, events[1].Kind)
	assert.Equal(t, "USDT", events[1].Asset)
	assert.True(t, events[1].Amount.Equal(decimal.RequireFromString("-6000")))

	assert.Equal(t, models.OpFeeLeg, events[2].Kind)
	assert.True(t, events[2].Amount.Equal(decimal.RequireFromString("-0.002")))
}

func TestFillToEvents_SellAndPassthrough(t *testing.T) {
	ts := time.Date(2024, 5, 1, 9, 15, 0, 0, time.UTC)

	sellEvents, err := fillToEvents(models.ExchangeFill{
		Type: "sell", Asset: "BTC", Quantity: decimal.RequireFromString("0.5"),
		Price: decimal.RequireFromString("60000"), QuoteAsset: "USDT", Timestamp: ts,
	}, 1, "binance", "batch-1", 0)
	require.NoError(t, err)
	require.Len(t, sellEvents, 2)
	assert.Equal(t, models.OpSellLeg, sellEvents[0].Kind)
	assert.True(t, sellEvents[0].Amount.IsNegative())
	assert.Equal(t, models.OpRevenueLeg, sellEvents[1].Kind)
	assert.True(t, sellEvents[1].Amount.Equal(decimal.RequireFromString("30000")))

	depEvents, err := fillToEvents(models.ExchangeFill{
		Type: "deposit", Asset: "SOL", Quantity: decimal.RequireFromString("10"), Timestamp: ts,
	}, 1, "binance", "batch-1", 1)
	require.NoError(t, err)
	require.Len(t, depEvents, 1)
	assert.Equal(t, models.OpDeposit, depEvents[0].Kind)
}

func TestFillToEvents_Invalid(t *testing.T) {
	ts := time.Date(2024, 5, 1, 9, 15, 0, 0, time.UTC)

	_, err := fillToEvents(models.ExchangeFill{Type: "margin", Asset: "BTC", Timestamp: ts}, 1, "binance", "b", 0)
	require.Error(t, err)

	_, err = fillToEvents(models.ExchangeFill{Type: "buy", Asset: "not a symbol!", Timestamp: ts}, 1, "binance", "b", 0)
	require.Error(t, err)
}

func TestSanitizeRemark(t *testing.T) {
	tests := []struct {
		name   string
		remark string
		want   string
	}{
		{"plain text kept", "Withdraw fee is included 0.0005", "Withdraw fee is included 0.0005"},
		{"markup stripped", "note <b>bold</b>", "note bold"},
		{"script payload dropped", "<script>alert(1)</script>", ""},
		{"formula prefix neutralized", "=SUM(A1:A9)", "'=SUM(A1:A9)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeRemark(tt.remark, "batch-1"))
		})
	}
}
