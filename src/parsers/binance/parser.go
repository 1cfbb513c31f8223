// backend/src/parsers/binance/parser.go
package binance

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/username/cryptofolio/backend/src/models"
)

// Required columns of a Binance transaction-history export. Exports may
// carry extra columns (User_ID, Account); those are ignored.
var requiredColumns = []string{"UTC_Time", "Operation", "Coin", "Change"}

// BinanceParser implements the parsers.Parser interface for Binance
// transaction-history CSV exports.
type BinanceParser struct{}

// NewParser creates a new instance of the BinanceParser.
func NewParser() *BinanceParser {
	return &BinanceParser{}
}

// Parse reads a Binance CSV export and maps its rows to raw records. A
// missing required column is structural and fails the whole file; malformed
// values inside a row are passed through as strings for the normalizer to
// reject per row.
func (p *BinanceParser) Parse(file io.Reader) ([]models.RawRecord, error) {
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, &models.StructuralError{Reason: fmt.Sprintf("binance parser: failed to read CSV header: %v", err)}
	}
	// Exports made on Windows carry a UTF-8 BOM on the first cell.
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\uFEFF")
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}

	var missing []string
	for _, name := range requiredColumns {
		if _, ok := columns[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &models.StructuralError{
			MissingFields: missing,
			Reason:        "binance parser: missing required columns: " + strings.Join(missing, ", "),
		}
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, &models.StructuralError{Reason: fmt.Sprintf("binance parser: failed to read CSV records: %v", err)}
	}

	cell := func(record []string, column string) string {
		idx, ok := columns[column]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	var rows []models.RawRecord
	for i, record := range records {
		rows = append(rows, models.RawRecord{
			RowIndex:  i + 2, // 1-based, after the header row
			Timestamp: cell(record, "UTC_Time"),
			Operation: cell(record, "Operation"),
			Asset:     strings.ToUpper(cell(record, "Coin")),
			Amount:    strings.ReplaceAll(cell(record, "Change"), ",", ""),
			Remark:    cell(record, "Remark"),
		})
	}
	return rows, nil
}
