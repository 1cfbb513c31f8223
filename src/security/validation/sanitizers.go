// backend/src/security/validation/sanitizers.go
package validation

import (
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// Imported CSVs carry free-text remarks straight from the exchange, so
// everything here runs before a remark is persisted or echoed in a report.
var strictHTMLPolicy = bluemonday.StrictPolicy()

// SanitizeText strips every HTML tag and attribute from the input.
func SanitizeText(s string) string {
	return strictHTMLPolicy.Sanitize(s)
}

// SanitizeForFormulaInjection neutralizes spreadsheet formula triggers in
// values that may end up in an exported CSV cell. The trigger character is
// looked for on the trimmed string, but the quote is prepended to the
// original so leading whitespace survives.
func SanitizeForFormulaInjection(s string) string {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) == 0 {
		return s
	}

	switch trimmed[0] {
	case '=', '+', '-', '@', '\t', '\r':
		// A leading single quote makes Excel/LibreOffice/Sheets treat the
		// cell as text.
		return "'" + s
	}
	return s
}

// StripUnprintable drops non-printable runes, keeping tab, newline and
// carriage return.
func StripUnprintable(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) || r == '\t' || r == '\n' || r == '\r' {
			return r
		}
		return -1
	}, s)
}
