package types

import (
	"fmt"
	"math/big"
	"regexp"

	"github.com/shopspring/decimal"
)

// XRP has 6 decimals on the ledger (drops) and 18 on the EVM sidechain (wei)
const (
	DECIMALS_XRPL = 6
	DECIMALS_EVM  = 18
)

var amountPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// ValidateAmount checks that amount is a plain positive decimal string.
// The string itself is kept as is by callers.
func ValidateAmount(amount string) error {
	if !amountPattern.MatchString(amount) {
		return fmt.Errorf("%w: amount %q is not a decimal number", ErrValidation, amount)
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return fmt.Errorf("%w: amount %q: %s", ErrValidation, amount, err.Error())
	}
	if !d.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	return nil
}

// ToBaseUnits converts a decimal amount to integer chain units without
// rounding, amounts finer than the chain precision are rejected.
func ToBaseUnits(amount string, decimals int32) (*big.Int, error) {
	if err := ValidateAmount(amount); err != nil {
		return nil, err
	}
	d, _ := decimal.NewFromString(amount)
	shifted := d.Shift(decimals)
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("%w: amount %s has more than %d decimal places", ErrValidation, amount, decimals)
	}
	return shifted.BigInt(), nil
}

func FromBaseUnits(units *big.Int, decimals int32) string {
	if units == nil {
		return "0"
	}
	return decimal.NewFromBigInt(units, -decimals).String()
}

// SameAmount compares two decimal strings numerically ("10" == "10.000")
func SameAmount(a, b string) bool {
	da, err := decimal.NewFromString(a)
	if err != nil {
		return false
	}
	db, err := decimal.NewFromString(b)
	if err != nil {
		return false
	}
	return da.Equal(db)
}
