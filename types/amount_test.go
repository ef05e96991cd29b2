package types_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"xrplbridge/types"
)

func TestValidateAmount(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		Name   string
		Amount string
		Valid  bool
	}{
		{"Integer", "10", true},
		{"Fraction", "0.5", true},
		{"High precision", "123456789.123456789", true},
		{"Zero", "0", false},
		{"Zero fraction", "0.000", false},
		{"Empty", "", false},
		{"Negative", "-1", false},
		{"Exponent", "1e6", false},
		{"Trailing dot", "1.", false},
		{"Garbage", "ten", false},
	} {
		test := test
		t.Run(test.Name, func(t *testing.T) {
			t.Parallel()
			err := types.ValidateAmount(test.Amount)
			if test.Valid {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				require.True(t, errors.Is(err, types.ErrValidation))
			}
		})
	}
}

func TestToBaseUnits(t *testing.T) {
	t.Parallel()

	drops, err := types.ToBaseUnits("10.5", types.DECIMALS_XRPL)
	require.NoError(t, err)
	require.Equal(t, "10500000", drops.String())

	wei, err := types.ToBaseUnits("123456789.123456789", types.DECIMALS_EVM)
	require.NoError(t, err)
	require.Equal(t, "123456789123456789000000000", wei.String())

	_, err = types.ToBaseUnits("0.0000001", types.DECIMALS_XRPL)
	require.ErrorIs(t, err, types.ErrValidation)

	drops, err = types.ToBaseUnits("1.500000000", types.DECIMALS_XRPL)
	require.NoError(t, err)
	require.Equal(t, "1500000", drops.String())
}

func TestFromBaseUnits(t *testing.T) {
	t.Parallel()

	require.Equal(t, "10.5", types.FromBaseUnits(big.NewInt(10500000), types.DECIMALS_XRPL))
	require.Equal(t, "0", types.FromBaseUnits(nil, types.DECIMALS_EVM))

	wei, _ := new(big.Int).SetString("1000000000000000001", 10)
	require.Equal(t, "1.000000000000000001", types.FromBaseUnits(wei, types.DECIMALS_EVM))
}

func TestSameAmount(t *testing.T) {
	t.Parallel()

	require.True(t, types.SameAmount("10", "10.000"))
	require.False(t, types.SameAmount("10", "10.000001"))
	require.False(t, types.SameAmount("10", "x"))
}
