package utils

import (
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/vitwit/batchpay/types"
)

var amountPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// AmountCodec converts between human decimal amounts and token base units.
type AmountCodec struct {
	// Decimals is the token's base-unit precision (6 for USDC).
	Decimals int32

	// Max is the largest accepted human amount. Zero disables the ceiling.
	Max decimal.Decimal
}

// NewAmountCodec builds a codec with the given ceiling in human units.
// An empty max disables the ceiling.
func NewAmountCodec(decimals int32, max string) (AmountCodec, error) {
	codec := AmountCodec{Decimals: decimals}
	if max == "" {
		return codec, nil
	}
	m, err := decimal.NewFromString(max)
	if err != nil || m.IsNegative() {
		return codec, types.NewError(types.CodeConfig, "invalid max amount %q", max)
	}
	codec.Max = m
	return codec, nil
}

// ParseAmount validates a human amount without converting it.
func (c AmountCodec) ParseAmount(amount string) (decimal.Decimal, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return decimal.Zero, types.NewError(types.CodeValidation, "amount cannot be empty")
	}
	if !amountPattern.MatchString(amount) {
		return decimal.Zero, types.NewError(types.CodeValidation, "invalid amount format %q", amount)
	}
	if i := strings.IndexByte(amount, '.'); i >= 0 && int32(len(amount)-i-1) > c.Decimals {
		return decimal.Zero, types.NewError(types.CodeValidation,
			"amount %q has more than %d fractional digits", amount, c.Decimals)
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Zero, types.WrapError(types.CodeValidation, err, "invalid amount %q", amount)
	}
	if dec.IsZero() {
		return decimal.Zero, types.NewError(types.CodeValidation, "amount must be positive")
	}
	if !c.Max.IsZero() && dec.GreaterThan(c.Max) {
		return decimal.Zero, types.NewError(types.CodeValidation,
			"amount %s exceeds maximum %s", dec.String(), c.Max.String())
	}
	return dec, nil
}

// ToBaseUnits converts a human amount into integer base units.
func (c AmountCodec) ToBaseUnits(amount string) (*big.Int, error) {
	dec, err := c.ParseAmount(amount)
	if err != nil {
		return nil, err
	}
	// exact: the fractional digits were bounded above
	return dec.Shift(c.Decimals).BigInt(), nil
}

// FromBaseUnits renders base units with exactly Decimals fractional digits.
func (c AmountCodec) FromBaseUnits(units *big.Int) string {
	return FormatAmountFromBigInt(units, c.Decimals)
}

// Sum adds validated human amounts.
func (c AmountCodec) Sum(amounts ...string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, a := range amounts {
		dec, err := c.ParseAmount(a)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(dec)
	}
	return total, nil
}

// ParseAmountWithDecimals parses a decimal amount string and converts to big.Int with specified decimals
func ParseAmountWithDecimals(amount string, decimals int32) (*big.Int, error) {
	return AmountCodec{Decimals: decimals}.ToBaseUnits(amount)
}

// FormatAmountFromBigInt formats a big.Int amount to decimal string with specified decimals
func FormatAmountFromBigInt(amount *big.Int, decimals int32) string {
	if amount == nil {
		amount = new(big.Int)
	}
	return decimal.NewFromBigInt(amount, -decimals).StringFixed(decimals)
}

// TotalOf sums recipient amounts without a ceiling check; used where the
// amounts were already validated.
func TotalOf(recipients []types.Recipient) (decimal.Decimal, error) {
	total := decimal.Zero
	for i, r := range recipients {
		dec, err := decimal.NewFromString(strings.TrimSpace(r.Amount))
		if err != nil {
			return decimal.Zero, types.WrapError(types.CodeValidation, err,
				"recipient %d: invalid amount %q", i, r.Amount)
		}
		total = total.Add(dec)
	}
	return total, nil
}
