// backend/src/providers/loader_test.go
package providers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/models"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	os.Exit(m.Run())
}

func writeMapping(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoad_ValidMapping(t *testing.T) {
	dir := t.TempDir()
	writeMapping(t, dir, "binance.json", `{
		"provider": "binance",
		"operations": {
			"Transaction Buy": "BUY_LEG",
			"Deposit": "DEPOSIT",
			"P2P Trading": "IGNORED"
		},
		"quote_assets": ["USDT", "USDC"],
		"drop_internal_transfers": true
	}`)

	reg, err := Load(dir)
	require.NoError(t, err)

	mapping, err := reg.Get("binance")
	require.NoError(t, err)
	assert.Equal(t, "binance", mapping.Provider)
	assert.Equal(t, models.OpBuyLeg, mapping.Operations["Transaction Buy"])
	assert.True(t, mapping.IsQuoteAsset("USDT"))
	assert.False(t, mapping.IsQuoteAsset("BTC"))
	assert.True(t, mapping.DropInternalTransfers)
	assert.Equal(t, []string{"binance"}, reg.Names())
}

func TestLoad_UnknownKindFailsStartup(t *testing.T) {
	dir := t.TempDir()
	writeMapping(t, dir, "broken.json", `{
		"provider": "broken",
		"operations": {"Something": "NOT_A_KIND"}
	}`)

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOT_A_KIND")
}

func TestLoad_RejectsEmptyMapping(t *testing.T) {
	dir := t.TempDir()
	writeMapping(t, dir, "empty.json", `{"provider": "empty", "operations": {}}`)

	_, err := Load(dir)
	require.Error(t, err)
}

func TestLoad_EmptyDirectory(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no mapping files")
}

func TestRegistry_GetUnknownProvider(t *testing.T) {
	dir := t.TempDir()
	writeMapping(t, dir, "binance.json", `{
		"provider": "binance",
		"operations": {"Deposit": "DEPOSIT"}
	}`)

	reg, err := Load(dir)
	require.NoError(t, err)

	_, err = reg.Get("kraken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "binance")
}
