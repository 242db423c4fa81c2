package validation

import (
	"strings"

	"github.com/shopspring/decimal"

	"settlement-service/pkg/common"
)

const (
	AccountAddressLen      = 56
	AssetCodeMaxLen        = 12
	AnchorTxIDMaxLen       = 255
	CallbackTypeMaxLen     = 20
	CallbackStatusMaxLen   = 20
	MemoMaxLen             = 255
	AmountInputMaxLen      = 64
)

var memoTypes = []string{"text", "hash", "id"}

// SanitizeString strips control characters and collapses whitespace.
func SanitizeString(value string) string {
	var b strings.Builder
	for _, ch := range value {
		if ch >= 32 && ch != 127 {
			b.WriteRune(ch)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// ValidateAccountAddress checks the fixed-format counterparty address:
// exactly 56 characters, starting with 'G', uppercase letters and digits
// only. It returns the sanitized form, which is what callers must persist.
func ValidateAccountAddress(address string) (string, error) {
	address = SanitizeString(address)
	if address == "" {
		return "", common.NewValidationError("account", "must not be empty")
	}
	if len(address) != AccountAddressLen {
		return "", common.NewValidationError("account", "must be exactly 56 characters")
	}
	if address[0] != 'G' {
		return "", common.NewValidationError("account", "must start with 'G'")
	}
	for _, ch := range address {
		if !((ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')) {
			return "", common.NewValidationError("account", "must contain only uppercase letters and digits")
		}
	}
	return address, nil
}

// ValidateAmount parses an arbitrary-precision decimal amount. Floating point
// never touches monetary values. Length is bounded before parsing so an
// attacker cannot feed pathological inputs to the parser.
func ValidateAmount(input string) (decimal.Decimal, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return decimal.Zero, common.NewValidationError("amount", "must not be empty")
	}
	if len(input) > AmountInputMaxLen {
		return decimal.Zero, common.NewValidationError("amount", "exceeds maximum input length")
	}
	amount, err := decimal.NewFromString(input)
	if err != nil {
		return decimal.Zero, common.NewValidationError("amount", "must be a valid decimal number")
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, common.NewValidationError("amount", "must be greater than zero")
	}
	return amount, nil
}

// ValidateAssetCode checks the short uppercase asset symbol.
func ValidateAssetCode(code string) error {
	if code == "" {
		return common.NewValidationError("asset_code", "must not be empty")
	}
	if len(code) > AssetCodeMaxLen {
		return common.NewValidationError("asset_code", "must be at most 12 characters")
	}
	for _, ch := range code {
		if !((ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')) {
			return common.NewValidationError("asset_code", "must contain only uppercase letters and digits")
		}
	}
	return nil
}

// ValidateMemoType checks the optional memo type enum.
func ValidateMemoType(memoType string) error {
	for _, allowed := range memoTypes {
		if memoType == allowed {
			return nil
		}
	}
	return common.NewValidationError("memo_type", "must be one of: text, hash, id")
}

// ValidateMaxLen bounds free-form string fields.
func ValidateMaxLen(field, value string, max int) error {
	if len(value) > max {
		return common.NewValidationError(field, "exceeds maximum length")
	}
	return nil
}
