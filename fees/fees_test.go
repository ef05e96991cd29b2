package fees_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"xrplbridge/fees"
	"xrplbridge/types"
)

func TestStatic(t *testing.T) {
	t.Parallel()

	est, err := fees.NewStatic("0.001")
	require.NoError(t, err)

	fee, err := est.Estimate(context.Background(), types.CHAIN_XRPL, types.CHAIN_EVM, types.ASSET_XRP)
	require.NoError(t, err)
	require.Equal(t, "0.001", fee)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = est.Estimate(ctx, types.CHAIN_EVM, types.CHAIN_XRPL, types.ASSET_XRP)
	require.Error(t, err)

	_, err = fees.NewStatic("nope")
	require.ErrorIs(t, err, types.ErrValidation)
}
