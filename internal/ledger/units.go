package ledger

import (
	"errors"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Decimals is the token's base-unit scale.
const Decimals = 18

var ErrInvalidAmount = errors.New("invalid token amount")

// FromBaseUnits renders a base-unit integer as a decimal token string
// without trailing zeros: 500000000000000000 -> "0.5".
func FromBaseUnits(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -Decimals).String()
}

// maxAmountLen bounds amount input; anything longer is not a sane amount.
const maxAmountLen = 96

// maxBaseUnitBits is the width of a uint256 contract value.
const maxBaseUnitBits = 256

// ParseDecimal parses a plain positive decimal ("1.5", "0,5"). Exponent
// notation is rejected, so parsing never costs more than the input length.
func ParseDecimal(amount string) (decimal.Decimal, error) {
	amount = strings.TrimSpace(amount)
	amount = strings.ReplaceAll(amount, ",", ".")

	if amount == "" || len(amount) > maxAmountLen || strings.ContainsAny(amount, "eE") {
		return decimal.Decimal{}, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(amount)
	if err != nil || d.Sign() <= 0 {
		return decimal.Decimal{}, ErrInvalidAmount
	}
	return d, nil
}

// ToBaseUnits parses a token amount into base units (floor); the result
// must be > 0 and fit a uint256.
func ToBaseUnits(amount string) (*big.Int, error) {
	d, err := ParseDecimal(amount)
	if err != nil {
		return nil, err
	}

	out := d.Shift(Decimals).Floor().BigInt()
	if out.Sign() <= 0 || out.BitLen() > maxBaseUnitBits {
		return nil, ErrInvalidAmount
	}
	return out, nil
}
