// backend/src/parsers/binance/parser_test.go
package binance

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/username/cryptofolio/backend/src/models"
)

func TestParse_ValidExport(t *testing.T) {
	csvData := `User_ID,UTC_Time,Account,Operation,Coin,Change,Remark
12345,2024-03-10 14:30:12,Spot,Transaction Buy,doge,601,
12345,2024-03-10 14:30:12,Spot,Transaction Fee,DOGE,-0.601,
12345,2024-03-10 14:30:12,Spot,Transaction Spend,USDT,"-1,199.56205",spot order
`
	rows, err := NewParser().Parse(strings.NewReader(csvData))
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, 2, rows[0].RowIndex)
	assert.Equal(t, "2024-03-10 14:30:12", rows[0].Timestamp)
	assert.Equal(t, "Transaction Buy", rows[0].Operation)
	assert.Equal(t, "DOGE", rows[0].Asset)
	assert.Equal(t, "601", rows[0].Amount)

	assert.Equal(t, 3, rows[1].RowIndex)
	assert.Equal(t, "-0.601", rows[1].Amount)

	// thousands separators are stripped so the normalizer sees a plain decimal
	assert.Equal(t, "-1199.56205", rows[2].Amount)
	assert.Equal(t, "spot order", rows[2].Remark)
}

func TestParse_ByteOrderMark(t *testing.T) {
	csvData := "\uFEFFUTC_Time,Operation,Coin,Change\n2024-03-10 14:30:12,Deposit,BTC,0.5\n"
	rows, err := NewParser().Parse(strings.NewReader(csvData))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Deposit", rows[0].Operation)
}

func TestParse_MissingColumns(t *testing.T) {
	csvData := "UTC_Time,Coin,Change\n2024-03-10 14:30:12,BTC,0.5\n"
	rows, err := NewParser().Parse(strings.NewReader(csvData))
	assert.Nil(t, rows)

	var structural *models.StructuralError
	require.ErrorAs(t, err, &structural)
	assert.Equal(t, []string{"Operation"}, structural.MissingFields)
}

func TestParse_EmptyFile(t *testing.T) {
	rows, err := NewParser().Parse(strings.NewReader(""))
	assert.Nil(t, rows)

	var structural *models.StructuralError
	require.ErrorAs(t, err, &structural)
}

func TestParse_HeaderOnly(t *testing.T) {
	csvData := "UTC_Time,Operation,Coin,Change\n"
	rows, err := NewParser().Parse(strings.NewReader(csvData))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestParse_ShortRowYieldsEmptyCells(t *testing.T) {
	// ragged rows are tolerated structurally; the normalizer rejects them
	// field by field
	csvData := "UTC_Time,Operation,Coin,Change,Remark\n2024-03-10 14:30:12,Deposit,BTC,0.5\n"
	rows, err := NewParser().Parse(strings.NewReader(csvData))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "", rows[0].Remark)
}
