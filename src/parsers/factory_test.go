// backend/src/parsers/factory_test.go
package parsers

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/username/cryptofolio/backend/src/models"
)

func TestGetParser(t *testing.T) {
	parser, err := GetParser("binance")
	require.NoError(t, err)
	require.NotNil(t, parser)

	_, err = GetParser("unknown-exchange")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown-exchange")
}

func TestGetParser_StructuralErrorsSurfaceThroughInterface(t *testing.T) {
	parser, err := GetParser("binance")
	require.NoError(t, err)

	_, err = parser.Parse(strings.NewReader("UTC_Time,Coin,Change\n"))
	var structural *models.StructuralError
	require.ErrorAs(t, err, &structural)
	assert.Equal(t, []string{"Operation"}, structural.MissingFields)
}
