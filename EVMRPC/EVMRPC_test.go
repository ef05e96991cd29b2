package EVMRPC_test

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"xrplbridge/EVMRPC"
	"xrplbridge/logging"
	"xrplbridge/types"
	"xrplbridge/wallet"
)

const chainID = 1440002

type fakeBackend struct {
	mu        sync.Mutex
	chainID   int64
	fail      bool
	head      uint64
	blocks    map[uint64]*ethtypes.Block
	receipts  map[common.Hash]*ethtypes.Receipt
	txs       map[common.Hash]*ethtypes.Transaction
	balances  map[common.Address]*big.Int
	sent      []*ethtypes.Transaction
	revert    bool
	noReceipt bool
	closed    bool
	// lagging makes the pending nonce ignore everything sent so far
	lagging  bool
	gasDelay time.Duration
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		chainID:  chainID,
		head:     100,
		blocks:   make(map[uint64]*ethtypes.Block),
		receipts: make(map[common.Hash]*ethtypes.Receipt),
		txs:      make(map[common.Hash]*ethtypes.Transaction),
		balances: make(map[common.Address]*big.Int),
	}
}

var errDown = errors.New("connection refused")

func (f *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) {
	if f.fail {
		return nil, errDown
	}
	return big.NewInt(f.chainID), nil
}

func (f *fakeBackend) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return 0, errDown
	}
	return f.head, nil
}

func (f *fakeBackend) BlockByNumber(ctx context.Context, number *big.Int) (*ethtypes.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if block, ok := f.blocks[number.Uint64()]; ok {
		return block, nil
	}
	return ethtypes.NewBlockWithHeader(&ethtypes.Header{Number: number, Time: uint64(time.Now().Unix())}), nil
}

func (f *fakeBackend) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errDown
	}
	if balance, ok := f.balances[account]; ok {
		return balance, nil
	}
	return big.NewInt(0), nil
}

func (f *fakeBackend) TransactionByHash(ctx context.Context, hash common.Hash) (*ethtypes.Transaction, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[hash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	_, mined := f.receipts[hash]
	return tx, !mined, nil
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	receipt, ok := f.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (f *fakeBackend) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return nil, nil
}

func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lagging {
		return 0, nil
	}
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	time.Sleep(f.gasDelay)
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 50_000, nil
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	from, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(big.NewInt(f.chainID)), tx)
	if err != nil {
		return err
	}
	for _, prev := range f.sent {
		prevFrom, _ := ethtypes.Sender(ethtypes.LatestSignerForChainID(big.NewInt(f.chainID)), prev)
		if prevFrom == from && prev.Nonce() == tx.Nonce() {
			return errors.New("nonce too low")
		}
	}
	f.sent = append(f.sent, tx)
	f.txs[tx.Hash()] = tx
	if f.noReceipt {
		return nil
	}
	status := ethtypes.ReceiptStatusSuccessful
	if f.revert {
		status = ethtypes.ReceiptStatusFailed
	}
	f.head++
	f.receipts[tx.Hash()] = &ethtypes.Receipt{Status: status, TxHash: tx.Hash(), BlockNumber: new(big.Int).SetUint64(f.head)}
	return nil
}

func (f *fakeBackend) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeBackend) sentTxs() []*ethtypes.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*ethtypes.Transaction(nil), f.sent...)
}

// mine puts a signed transfer into a new block
func (f *fakeBackend) mine(t *testing.T, key *ecdsa.PrivateKey, to common.Address, value *big.Int, at time.Time, status uint64) *ethtypes.Transaction {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	tx, err := ethtypes.SignTx(ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    uint64(len(f.txs)),
		To:       &to,
		Value:    value,
		Gas:      21000,
		GasPrice: big.NewInt(1),
	}), ethtypes.LatestSignerForChainID(big.NewInt(chainID)), key)
	require.NoError(t, err)

	f.head++
	header := &ethtypes.Header{Number: new(big.Int).SetUint64(f.head), Time: uint64(at.Unix())}
	f.blocks[f.head] = ethtypes.NewBlockWithHeader(header).WithBody([]*ethtypes.Transaction{tx}, nil)
	f.txs[tx.Hash()] = tx
	f.receipts[tx.Hash()] = &ethtypes.Receipt{Status: status, TxHash: tx.Hash(), BlockNumber: header.Number}
	return tx
}

func newKey(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key, crypto.PubkeyToAddress(key.PublicKey).Hex()
}

func newClient(t *testing.T, backends ...*fakeBackend) (*EVMRPC.Client, *ecdsa.PrivateKey) {
	t.Helper()
	key, _ := newKey(t)
	endpoints := make([]EVMRPC.Endpoint, 0, len(backends))
	for i, b := range backends {
		endpoints = append(endpoints, EVMRPC.Endpoint{URL: string(rune('a' + i)), Backend: b})
	}
	client, err := EVMRPC.New(context.Background(), EVMRPC.Config{
		ChainID:          chainID,
		PrivateKey:       "0x" + hex.EncodeToString(crypto.FromECDSA(key)),
		Timeout:          time.Second,
		PollInterval:     5 * time.Millisecond,
		DepositTimeout:   50 * time.Millisecond,
		ReceiptTimeout:   50 * time.Millisecond,
		MinConfirmations: 1,
		SafetyWindow:     10,
	}, logging.Discard(), endpoints...)
	require.NoError(t, err)
	return client, key
}

func TestNewChecksChainID(t *testing.T) {
	t.Parallel()

	wrong := newFakeBackend()
	wrong.chainID = 1
	down := newFakeBackend()
	down.fail = true

	_, err := EVMRPC.New(context.Background(), EVMRPC.Config{ChainID: chainID}, logging.Discard(),
		EVMRPC.Endpoint{URL: "wrong", Backend: wrong},
		EVMRPC.Endpoint{URL: "down", Backend: down},
	)
	require.ErrorIs(t, err, types.ErrAdapterUnavailable)
	require.True(t, wrong.closed)

	_, err = EVMRPC.New(context.Background(), EVMRPC.Config{ChainID: chainID, PrivateKey: "nope"}, logging.Discard(),
		EVMRPC.Endpoint{URL: "ok", Backend: newFakeBackend()},
	)
	require.ErrorIs(t, err, types.ErrAdapterUnavailable)
}

func TestReadsFailOver(t *testing.T) {
	t.Parallel()

	first := newFakeBackend()
	second := newFakeBackend()
	client, _ := newClient(t, first, second)

	_, account := newKey(t)
	second.balances[common.HexToAddress(account)] = new(big.Int).Mul(big.NewInt(15), big.NewInt(1e17))
	first.fail = true

	balance, err := client.Balance(context.Background(), account)
	require.NoError(t, err)
	require.Equal(t, "1.5", balance)

	_, err = client.Balance(context.Background(), "0xABC")
	require.ErrorIs(t, err, types.ErrValidation)
}

func TestSendPayment(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	client, key := newClient(t, backend)
	_, destination := newKey(t)

	payment, err := client.SendPayment(context.Background(), destination, "123456789.123456789")
	require.NoError(t, err)
	require.True(t, payment.Confirmed)

	sent := backend.sentTxs()
	require.Len(t, sent, 1)
	require.Equal(t, payment.TxHash, sent[0].Hash().Hex())
	require.Equal(t, common.HexToAddress(destination), *sent[0].To())
	require.Equal(t, "123456789123456789000000000", sent[0].Value().String())
	require.Equal(t, uint64(21000), sent[0].Gas())

	sender, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(big.NewInt(chainID)), sent[0])
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), sender)
	require.Equal(t, sender.Hex(), client.BridgeAddress())

	status, err := client.Status(context.Background(), payment.TxHash)
	require.NoError(t, err)
	require.Equal(t, types.TxConfirmed, status)
}

func TestSendPaymentConcurrentNonces(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	backend.gasDelay = 20 * time.Millisecond
	client, _ := newClient(t, backend)

	const payments = 4
	errs := make(chan error, payments)
	var wg sync.WaitGroup
	for i := 0; i < payments; i++ {
		_, destination := newKey(t)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.SendPayment(context.Background(), destination, "1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	nonces := make(map[uint64]bool)
	for _, tx := range backend.sentTxs() {
		nonces[tx.Nonce()] = true
	}
	require.Len(t, nonces, payments)
}

func TestSendPaymentLaggingNode(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	backend.lagging = true
	client, _ := newClient(t, backend)
	_, destination := newKey(t)

	for i := 0; i < 3; i++ {
		_, err := client.SendPayment(context.Background(), destination, "1")
		require.NoError(t, err)
	}
	sent := backend.sentTxs()
	require.Len(t, sent, 3)
	for i, tx := range sent {
		require.Equal(t, uint64(i), tx.Nonce())
	}
}

func TestSendPaymentFailures(t *testing.T) {
	t.Parallel()

	t.Run("reverted", func(t *testing.T) {
		t.Parallel()
		backend := newFakeBackend()
		backend.revert = true
		client, _ := newClient(t, backend)
		_, destination := newKey(t)

		_, err := client.SendPayment(context.Background(), destination, "1")
		require.ErrorIs(t, err, types.ErrTransferFailed)
	})
	t.Run("no receipt", func(t *testing.T) {
		t.Parallel()
		backend := newFakeBackend()
		backend.noReceipt = true
		client, _ := newClient(t, backend)
		_, destination := newKey(t)

		payment, err := client.SendPayment(context.Background(), destination, "1")
		require.NoError(t, err)
		require.False(t, payment.Confirmed)

		status, err := client.Status(context.Background(), payment.TxHash)
		require.NoError(t, err)
		require.Equal(t, types.TxPending, status)
	})
	t.Run("bad destination", func(t *testing.T) {
		t.Parallel()
		backend := newFakeBackend()
		client, _ := newClient(t, backend)

		_, err := client.SendPayment(context.Background(), "0xABC", "1")
		require.ErrorIs(t, err, types.ErrTransferFailed)
		require.Empty(t, backend.sentTxs())
	})
}

func TestConfirmDeposit(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	client, _ := newClient(t, backend)
	bridge := common.HexToAddress(client.BridgeAddress())
	userKey, user := newKey(t)
	otherKey, _ := newKey(t)
	value := big.NewInt(2e18)
	since := time.Now().Add(-time.Minute)

	backend.mine(t, userKey, bridge, value, since.Add(-time.Hour), ethtypes.ReceiptStatusSuccessful)
	backend.mine(t, otherKey, bridge, value, since.Add(time.Second), ethtypes.ReceiptStatusSuccessful)
	backend.mine(t, userKey, bridge, value, since.Add(2*time.Second), ethtypes.ReceiptStatusFailed)
	claimed := backend.mine(t, userKey, bridge, value, since.Add(3*time.Second), ethtypes.ReceiptStatusSuccessful)
	good := backend.mine(t, userKey, bridge, value, since.Add(4*time.Second), ethtypes.ReceiptStatusSuccessful)

	query := types.DepositQuery{
		SourceAddress: user,
		Amount:        "2",
		Since:         since,
		Exclude: func(ctx context.Context, txHash string) bool {
			return txHash == claimed.Hash().Hex()
		},
	}
	tx, err := client.ConfirmDeposit(context.Background(), query)
	require.NoError(t, err)
	require.NotNil(t, tx)
	require.Equal(t, good.Hash().Hex(), tx.Hash)
	require.Equal(t, "2", tx.Amount)

	byHash := types.DepositQuery{SourceAddress: user, Amount: "2", TxHash: good.Hash().Hex()}
	tx, err = client.ConfirmDeposit(context.Background(), byHash)
	require.NoError(t, err)
	require.NotNil(t, tx)

	byHash.Amount = "3"
	tx, err = client.ConfirmDeposit(context.Background(), byHash)
	require.NoError(t, err)
	require.Nil(t, tx)

	query.Amount = "5"
	tx, err = client.ConfirmDeposit(context.Background(), query)
	require.NoError(t, err)
	require.Nil(t, tx)
}

func TestCallContract(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	client, _ := newClient(t, backend)
	w, err := wallet.NewFactory().NewWallet()
	require.NoError(t, err)
	_, contract := newKey(t)

	hash, err := client.CallContract(context.Background(), w, contract, "deposit", "1.5")
	require.NoError(t, err)

	sent := backend.sentTxs()
	require.Len(t, sent, 1)
	require.Equal(t, hash, sent[0].Hash().Hex())
	require.Equal(t, crypto.Keccak256([]byte("deposit()"))[:4], sent[0].Data())
	require.Equal(t, uint64(50_000), sent[0].Gas())

	sender, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(big.NewInt(chainID)), sent[0])
	require.NoError(t, err)
	require.Equal(t, w.Address, sender.Hex())

	backend.revert = true
	_, err = client.CallContract(context.Background(), w, contract, "deposit", "1.5")
	require.Error(t, err)
}
