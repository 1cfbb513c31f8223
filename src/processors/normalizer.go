// backend/src/processors/normalizer.go
package processors

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/cryptofolio/backend/src/models"
	"github.com/username/cryptofolio/backend/src/security/validation"
)

// defaultTimestampLayouts are tried when a provider mapping does not supply
// its own. Exchange exports are inconsistent even within one provider, so
// several literal formats are accepted. All values are treated as UTC.
var defaultTimestampLayouts = []string{
	"2006-01-02 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006 15:04:05",
	"02-01-2006 15:04",
	"2006-01-02 15:04",
}

// RowParseError reports a single row whose timestamp, amount or asset could
// not be interpreted. The row is skipped; the batch continues.
type RowParseError struct {
	RowIndex int
	Field    string
	Value    string
	Msg      string
}

func (e *RowParseError) Error() string {
	return fmt.Sprintf("row %d: invalid %s %q: %s", e.RowIndex, e.Field, e.Value, e.Msg)
}

// UnknownOperationError reports an operation label absent from the provider
// mapping. Unknown labels are counted once each, never fatal.
type UnknownOperationError struct {
	Label string
}

func (e *UnknownOperationError) Error() string {
	return fmt.Sprintf("unknown operation label %q", e.Label)
}

// NormalizeResult carries the canonical events plus all per-row diagnostics
// for one batch. Diagnostics are returned, not just logged, so the caller
// can surface them in the batch result.
type NormalizeResult struct {
	Events            []models.TransactionEvent
	ParseErrors       []models.ParseErrorDetail
	UnknownOperations map[string]int
	SkippedIgnored    int
}

// Normalizer maps provider-specific raw records to canonical transaction
// events using a data-only provider mapping. It is pure: no I/O, no shared
// state, every outcome is a return value.
type Normalizer struct {
	mapping *models.ProviderMapping
}

func NewNormalizer(mapping *models.ProviderMapping) *Normalizer {
	return &Normalizer{mapping: mapping}
}

// Normalize converts one raw record. It returns (nil, nil) when the row maps
// to an IGNORED operation, a *UnknownOperationError when the label is not in
// the mapping, and a *RowParseError when a field cannot be interpreted.
func (n *Normalizer) Normalize(raw models.RawRecord) (*models.TransactionEvent, error) {
	label := strings.TrimSpace(raw.Operation)
	kind, known := n.mapping.Operations[label]
	if !known {
		return nil, &UnknownOperationError{Label: label}
	}
	if kind == models.OpIgnored {
		return nil, nil
	}
	if !kind.Valid() {
		return nil, &RowParseError{RowIndex: raw.RowIndex, Field: "operation", Value: label,
			Msg: fmt.Sprintf("mapping yields invalid kind %q", kind)}
	}
	if kind == models.OpTransfer && n.mapping.DropInternalTransfers {
		return nil, nil
	}

	ts, err := n.parseTimestamp(raw.Timestamp)
	if err != nil {
		return nil, &RowParseError{RowIndex: raw.RowIndex, Field: "timestamp", Value: raw.Timestamp,
			Msg: "no accepted format matched"}
	}

	asset := strings.ToUpper(strings.TrimSpace(raw.Asset))
	if asset == "" || asset == "NAN" || asset == "NULL" {
		return nil, &RowParseError{RowIndex: raw.RowIndex, Field: "asset", Value: raw.Asset,
			Msg: "missing asset symbol"}
	}

	amountStr := strings.ReplaceAll(strings.TrimSpace(raw.Amount), ",", "")
	amount, err := validation.ValidateDecimalString(amountStr, "amount", true)
	if err != nil {
		return nil, &RowParseError{RowIndex: raw.RowIndex, Field: "amount", Value: raw.Amount,
			Msg: "not a decimal number"}
	}

	event := &models.TransactionEvent{
		Provider:  n.mapping.Provider,
		Timestamp: ts,
		Kind:      kind,
		Asset:     asset,
		Amount:    amount,
		SourceRef: n.sourceRef(raw),
		Remark:    strings.TrimSpace(raw.Remark),
	}
	return event, nil
}

// NormalizeAll runs Normalize over a whole batch, stamping owner and batch
// identifiers onto the produced events. Row order is preserved.
func (n *Normalizer) NormalizeAll(rows []models.RawRecord, userID int64, batchID string) NormalizeResult {
	result := NormalizeResult{
		UnknownOperations: make(map[string]int),
	}
	for _, raw := range rows {
		event, err := n.Normalize(raw)
		if err != nil {
			switch e := err.(type) {
			case *UnknownOperationError:
				result.UnknownOperations[e.Label]++
			case *RowParseError:
				result.ParseErrors = append(result.ParseErrors, models.ParseErrorDetail{
					RowIndex: e.RowIndex,
					Field:    e.Field,
					Value:    e.Value,
					Message:  e.Msg,
				})
			}
			continue
		}
		if event == nil {
			result.SkippedIgnored++
			continue
		}
		event.UserID = userID
		event.BatchID = batchID
		result.Events = append(result.Events, *event)
	}
	return result
}

// parseTimestamp tries the mapping's layouts, then the defaults.
func (n *Normalizer) parseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	layouts := n.mapping.TimestampLayouts
	if len(layouts) == 0 {
		layouts = defaultTimestampLayouts
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("could not parse timestamp: %s", value)
}

// sourceRef derives the event's idempotency key. A provider-assigned external
// id wins; otherwise the key is a content hash of the row, so re-importing
// the same file reproduces the same refs and duplicates are rejected by the
// store's uniqueness constraint.
func (n *Normalizer) sourceRef(raw models.RawRecord) string {
	if ext := strings.TrimSpace(raw.ExternalID); ext != "" {
		return n.mapping.Provider + "-" + ext
	}
	input := fmt.Sprintf("%s|%s|%s|%s|%s|%d",
		n.mapping.Provider, raw.Timestamp, raw.Operation, raw.Asset, raw.Amount, raw.RowIndex)
	hash := sha256.Sum256([]byte(input))
	return n.mapping.Provider + "-" + hex.EncodeToString(hash[:16])
}

var remarkFeeRe = regexp.MustCompile(`(?i)fee[^0-9]*([0-9]*\.?[0-9]+)`)

// RemarkFee extracts a fee amount embedded in a free-text remark, e.g.
// "withdraw fee 0.0005 included". Returns false when the remark carries no
// recognizable fee figure.
func RemarkFee(remark string) (decimal.Decimal, bool) {
	m := remarkFeeRe.FindStringSubmatch(remark)
	if m == nil {
		return decimal.Zero, false
	}
	fee, err := decimal.NewFromString(m[1])
	if err != nil || fee.IsZero() {
		return decimal.Zero, false
	}
	return fee, true
}
