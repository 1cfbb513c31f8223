// backend/src/parsers/parser.go
package parsers

import (
	"io"

	"github.com/username/cryptofolio/backend/src/models"
)

// Parser turns one provider's export file into raw records. Parsers only
// extract strings; interpretation (timestamps, amounts, operation mapping)
// belongs to the normalizer.
type Parser interface {
	Parse(file io.Reader) ([]models.RawRecord, error)
}
