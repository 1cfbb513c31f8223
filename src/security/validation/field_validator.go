// backend/src/security/validation/field_validator.go
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

var ErrValidationFailed = fmt.Errorf("validation failed")

const (
	DefaultMaxStringLength = 255
	MaxAssetSymbolLength   = 20
	MaxProviderNameLength  = 50
	MaxRemarkLength        = 1024
)

// --- String Validators ---

// ValidateStringNotEmpty checks if a string is not empty after trimming.
func ValidateStringNotEmpty(s, fieldName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s cannot be empty", ErrValidationFailed, fieldName)
	}
	return nil
}

// ValidateStringMaxLength checks if a string's UTF-8 character count is within max bounds.
func ValidateStringMaxLength(s string, maxLength int, fieldName string) error {
	if utf8.RuneCountInString(s) > maxLength {
		return fmt.Errorf("%w: %s exceeds maximum length of %d characters", ErrValidationFailed, fieldName, maxLength)
	}
	return nil
}

// ValidateStringRegex checks if a string matches a given regex pattern.
func ValidateStringRegex(s string, pattern *regexp.Regexp, fieldName, formatDescription string) error {
	if !pattern.MatchString(s) {
		return fmt.Errorf("%w: %s ('%s') is not in the expected format (%s)", ErrValidationFailed, fieldName, s, formatDescription)
	}
	return nil
}

// --- Specific Format Validators ---

var (
	assetSymbolRegex  = regexp.MustCompile(`^[A-Z0-9]{1,20}$`)
	providerNameRegex = regexp.MustCompile(`^[a-z0-9_-]+$`)
)

// ValidateAssetSymbol checks that a symbol looks like an exchange ticker
// (uppercase alphanumeric, e.g. BTC, USDT, 1INCH).
func ValidateAssetSymbol(s string) error {
	trimmed := strings.ToUpper(strings.TrimSpace(s))
	if trimmed == "" {
		return fmt.Errorf("%w: asset symbol cannot be empty", ErrValidationFailed)
	}
	if err := ValidateStringMaxLength(trimmed, MaxAssetSymbolLength, "Asset Symbol"); err != nil {
		return err
	}
	return ValidateStringRegex(trimmed, assetSymbolRegex, "Asset Symbol", "uppercase letters and digits")
}

// ValidateProviderName checks a provider identifier ("binance") used in
// routes and mapping lookups.
func ValidateProviderName(s string) error {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return fmt.Errorf("%w: provider cannot be empty", ErrValidationFailed)
	}
	if err := ValidateStringMaxLength(trimmed, MaxProviderNameLength, "Provider"); err != nil {
		return err
	}
	return ValidateStringRegex(trimmed, providerNameRegex, "Provider", "lowercase letters, digits, hyphens")
}

// ValidateDecimalString parses a signed decimal amount string. Exchange
// quantities overflow float64 precision, so the parse goes through
// arbitrary-precision decimals.
func ValidateDecimalString(s, fieldName string, allowNegative bool) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(s)
	if err := ValidateStringNotEmpty(trimmed, fieldName); err != nil {
		return decimal.Zero, err
	}
	val, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s ('%s') is not a valid decimal", ErrValidationFailed, fieldName, s)
	}
	if !allowNegative && val.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %s cannot be negative", ErrValidationFailed, fieldName)
	}
	return val, nil
}
