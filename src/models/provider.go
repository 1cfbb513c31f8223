// backend/src/models/provider.go
package models

// ProviderMapping is the external, data-only dictionary describing how one
// provider's export rows translate into canonical operation kinds. Mappings
// are loaded from JSON files at startup; adding an exchange must not require
// a code change in the normalizer.
type ProviderMapping struct {
	Provider string `json:"provider"`

	// TimestampLayouts are the Go time layouts tried in order when parsing
	// a row timestamp. All parsed times are treated as UTC.
	TimestampLayouts []string `json:"timestamp_layouts"`

	// Operations maps the provider's literal operation labels to kinds.
	// Labels absent from the map are counted as unknown and skipped.
	Operations map[string]OperationKind `json:"operations"`

	// QuoteAssets are the symbols treated as the USD-pegged quote currency
	// when splitting buckets into spend/revenue legs (e.g. USDT, USDC).
	QuoteAssets []string `json:"quote_assets"`

	// DropInternalTransfers skips TRANSFER events entirely instead of
	// passing them through.
	DropInternalTransfers bool `json:"drop_internal_transfers"`
}

// IsQuoteAsset reports whether symbol is one of the mapping's quote assets.
func (m *ProviderMapping) IsQuoteAsset(symbol string) bool {
	for _, q := range m.QuoteAssets {
		if q == symbol {
			return true
		}
	}
	return false
}
