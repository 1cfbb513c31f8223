// backend/src/processors/normalizer_test.go
package processors

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/username/cryptofolio/backend/src/models"
)

func normalizerMapping() *models.ProviderMapping {
	return &models.ProviderMapping{
		Provider: "binance",
		Operations: map[string]models.OperationKind{
			"Transaction Buy":   models.OpBuyLeg,
			"Transaction Spend": models.OpSpendLeg,
			"Transaction Fee":   models.OpFeeLeg,
			"Deposit":           models.OpDeposit,
			"Transfer In":       models.OpTransfer,
			"P2P Trading":       models.OpIgnored,
		},
		QuoteAssets:           []string{"USDT"},
		DropInternalTransfers: true,
	}
}

func TestNormalizer_Normalize(t *testing.T) {
	n := NewNormalizer(normalizerMapping())

	event, err := n.Normalize(models.RawRecord{
		RowIndex:  2,
		Timestamp: "2024-03-10 14:30:12",
		Operation: "Transaction Buy",
		Asset:     "doge",
		Amount:    "1,234.5",
		Remark:    "  spot  ",
	})
	require.NoError(t, err)
	require.NotNil(t, event)

	assert.Equal(t, "binance", event.Provider)
	assert.Equal(t, models.OpBuyLeg, event.Kind)
	assert.Equal(t, "DOGE", event.Asset)
	assert.True(t, event.Amount.Equal(decimal.RequireFromString("1234.5")))
	assert.Equal(t, time.Date(2024, 3, 10, 14, 30, 12, 0, time.UTC), event.Timestamp)
	assert.Equal(t, time.UTC, event.Timestamp.Location())
	assert.Equal(t, "spot", event.Remark)
	assert.NotEmpty(t, event.SourceRef)
}

func TestNormalizer_TimestampFormats(t *testing.T) {
	n := NewNormalizer(normalizerMapping())

	tests := []struct {
		value string
		want  time.Time
	}{
		{"2024-03-10 14:30:12", time.Date(2024, 3, 10, 14, 30, 12, 0, time.UTC)},
		{"10/03/2024 14:30", time.Date(2024, 3, 10, 14, 30, 0, 0, time.UTC)},
		{"10/03/2024 14:30:12", time.Date(2024, 3, 10, 14, 30, 12, 0, time.UTC)},
		{"10-03-2024 14:30", time.Date(2024, 3, 10, 14, 30, 0, 0, time.UTC)},
		{"2024-03-10 14:30", time.Date(2024, 3, 10, 14, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			event, err := n.Normalize(models.RawRecord{
				Timestamp: tt.value,
				Operation: "Transaction Buy",
				Asset:     "BTC",
				Amount:    "1",
			})
			require.NoError(t, err)
			require.NotNil(t, event)
			assert.Equal(t, tt.want, event.Timestamp)
		})
	}
}

func TestNormalizer_MappingTimestampLayoutsTakePrecedence(t *testing.T) {
	mapping := normalizerMapping()
	mapping.TimestampLayouts = []string{"02.01.2006 15:04:05"}
	n := NewNormalizer(mapping)

	event, err := n.Normalize(models.RawRecord{
		Timestamp: "10.03.2024 14:30:12",
		Operation: "Transaction Buy",
		Asset:     "BTC",
		Amount:    "1",
	})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 10, 14, 30, 12, 0, time.UTC), event.Timestamp)

	_, err = n.Normalize(models.RawRecord{
		Timestamp: "2024-03-10 14:30:12",
		Operation: "Transaction Buy",
		Asset:     "BTC",
		Amount:    "1",
	})
	var parseErr *RowParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "timestamp", parseErr.Field)
}

func TestNormalizer_RowErrors(t *testing.T) {
	n := NewNormalizer(normalizerMapping())

	tests := []struct {
		name  string
		raw   models.RawRecord
		field string
	}{
		{
			name:  "unparseable timestamp",
			raw:   models.RawRecord{Timestamp: "not a date", Operation: "Transaction Buy", Asset: "BTC", Amount: "1"},
			field: "timestamp",
		},
		{
			name:  "missing asset",
			raw:   models.RawRecord{Timestamp: "2024-03-10 14:30:12", Operation: "Transaction Buy", Asset: "  ", Amount: "1"},
			field: "asset",
		},
		{
			name:  "nan asset",
			raw:   models.RawRecord{Timestamp: "2024-03-10 14:30:12", Operation: "Transaction Buy", Asset: "NaN", Amount: "1"},
			field: "asset",
		},
		{
			name:  "bad amount",
			raw:   models.RawRecord{Timestamp: "2024-03-10 14:30:12", Operation: "Transaction Buy", Asset: "BTC", Amount: "abc"},
			field: "amount",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := n.Normalize(tt.raw)
			assert.Nil(t, event)
			var parseErr *RowParseError
			require.ErrorAs(t, err, &parseErr)
			assert.Equal(t, tt.field, parseErr.Field)
		})
	}
}

func TestNormalizer_UnknownOperation(t *testing.T) {
	n := NewNormalizer(normalizerMapping())

	event, err := n.Normalize(models.RawRecord{
		Timestamp: "2024-03-10 14:30:12",
		Operation: "Mystery Operation",
		Asset:     "BTC",
		Amount:    "1",
	})
	assert.Nil(t, event)
	var unknown *UnknownOperationError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "Mystery Operation", unknown.Label)
}

func TestNormalizer_IgnoredAndDroppedRows(t *testing.T) {
	n := NewNormalizer(normalizerMapping())

	event, err := n.Normalize(models.RawRecord{
		Timestamp: "2024-03-10 14:30:12",
		Operation: "P2P Trading",
		Asset:     "BTC",
		Amount:    "1",
	})
	require.NoError(t, err)
	assert.Nil(t, event)

	// transfers are dropped when the mapping says so
	event, err = n.Normalize(models.RawRecord{
		Timestamp: "2024-03-10 14:30:12",
		Operation: "Transfer In",
		Asset:     "BTC",
		Amount:    "1",
	})
	require.NoError(t, err)
	assert.Nil(t, event)
}

func TestNormalizer_TransfersPassThroughWhenKept(t *testing.T) {
	mapping := normalizerMapping()
	mapping.DropInternalTransfers = false
	n := NewNormalizer(mapping)

	event, err := n.Normalize(models.RawRecord{
		Timestamp: "2024-03-10 14:30:12",
		Operation: "Transfer In",
		Asset:     "BTC",
		Amount:    "1",
	})
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, models.OpTransfer, event.Kind)
}

func TestNormalizer_SourceRef(t *testing.T) {
	n := NewNormalizer(normalizerMapping())

	row := models.RawRecord{
		RowIndex:  7,
		Timestamp: "2024-03-10 14:30:12",
		Operation: "Transaction Buy",
		Asset:     "BTC",
		Amount:    "1",
	}
	first, err := n.Normalize(row)
	require.NoError(t, err)
	second, err := n.Normalize(row)
	require.NoError(t, err)
	assert.Equal(t, first.SourceRef, second.SourceRef)

	// a provider-assigned id wins over the content hash
	row.ExternalID = "tx-42"
	withID, err := n.Normalize(row)
	require.NoError(t, err)
	assert.Equal(t, "binance-tx-42", withID.SourceRef)
	assert.NotEqual(t, first.SourceRef, withID.SourceRef)
}

func TestNormalizer_NormalizeAll(t *testing.T) {
	n := NewNormalizer(normalizerMapping())

	rows := []models.RawRecord{
		{RowIndex: 2, Timestamp: "2024-03-10 14:30:12", Operation: "Transaction Buy", Asset: "DOGE", Amount: "601"},
		{RowIndex: 3, Timestamp: "2024-03-10 14:30:12", Operation: "Transaction Spend", Asset: "USDT", Amount: "-199.56205"},
		{RowIndex: 4, Timestamp: "2024-03-10 14:30:12", Operation: "Mystery Operation", Asset: "BTC", Amount: "1"},
		{RowIndex: 5, Timestamp: "2024-03-10 14:30:12", Operation: "Mystery Operation", Asset: "BTC", Amount: "2"},
		{RowIndex: 6, Timestamp: "bad", Operation: "Transaction Buy", Asset: "BTC", Amount: "1"},
		{RowIndex: 7, Timestamp: "2024-03-10 14:30:12", Operation: "P2P Trading", Asset: "BTC", Amount: "1"},
	}

	result := n.NormalizeAll(rows, 42, "batch-7")

	require.Len(t, result.Events, 2)
	for _, event := range result.Events {
		assert.Equal(t, int64(42), event.UserID)
		assert.Equal(t, "batch-7", event.BatchID)
	}
	assert.Equal(t, map[string]int{"Mystery Operation": 2}, result.UnknownOperations)
	require.Len(t, result.ParseErrors, 1)
	assert.Equal(t, 6, result.ParseErrors[0].RowIndex)
	assert.Equal(t, 1, result.SkippedIgnored)
}

func TestRemarkFee(t *testing.T) {
	tests := []struct {
		remark string
		want   string
		ok     bool
	}{
		{"Withdraw fee is included 0.0005", "0.0005", true},
		{"fee: 1.25", "1.25", true},
		{"Fee 3", "3", true},
		{"no charge here", "", false},
		{"fee 0", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.remark, func(t *testing.T) {
			fee, ok := RemarkFee(tt.remark)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, fee.Equal(decimal.RequireFromString(tt.want)), "fee = %s", fee)
			}
		})
	}
}
