package wallet_test

import (
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"xrplbridge/wallet"
)

func TestNewWalletIsFreshEachCall(t *testing.T) {
	t.Parallel()

	f := wallet.NewFactory()
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		w, err := f.NewWallet()
		require.NoError(t, err)
		require.True(t, common.IsHexAddress(w.Address))
		require.False(t, seen[w.Address])
		seen[w.Address] = true

		require.Equal(t, w.Address, crypto.PubkeyToAddress(w.PrivateKey().PublicKey).Hex())
	}
}

func TestWalletFormattingHidesKey(t *testing.T) {
	t.Parallel()

	w, err := wallet.NewFactory().NewWallet()
	require.NoError(t, err)
	require.Equal(t, w.Address, fmt.Sprintf("%v", w))
	require.Equal(t, w.Address, fmt.Sprint(w))
}
