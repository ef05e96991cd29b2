package wallet

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// Wallet is a single-use EVM account minted for one bridge request.
// Only Address is ever persisted.
type Wallet struct {
	Address string
	key     *ecdsa.PrivateKey
}

func (w *Wallet) PrivateKey() *ecdsa.PrivateKey {
	return w.key
}

// String keeps the key out of logs and %v output
func (w *Wallet) String() string {
	return w.Address
}

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

// NewWallet generates a fresh secp256k1 key, there is no pooling or reuse
func (f *Factory) NewWallet() (*Wallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("can't generate wallet key: %w", err)
	}
	return &Wallet{
		Address: crypto.PubkeyToAddress(key.PublicKey).Hex(),
		key:     key,
	}, nil
}
