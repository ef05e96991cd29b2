package EVMRPC

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"xrplbridge/logging"
	"xrplbridge/types"
	"xrplbridge/utils"
	"xrplbridge/wallet"
)

const transferGas = 21000

type Config struct {
	RPCList          []string
	ChainID          int64
	PrivateKey       string
	Timeout          time.Duration
	PollInterval     time.Duration
	DepositTimeout   time.Duration
	ReceiptTimeout   time.Duration
	MinConfirmations int
	SafetyWindow     int
}

// Backend is the part of ethclient.Client used by the bridge
type Backend interface {
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*ethtypes.Block, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*ethtypes.Transaction, bool, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	Close()
}

type Endpoint struct {
	URL     string
	Backend Backend
}

// Client moves XRP on the EVM sidechain from the bridge operating wallet.
// Reads fail over across all configured endpoints, writes go to the first one.
type Client struct {
	cfg       Config
	endpoints []Endpoint
	chainID   *big.Int
	signer    ethtypes.Signer
	key       *ecdsa.PrivateKey
	address   common.Address
	logger    logging.Logger

	sendersMu sync.Mutex
	senders   map[common.Address]*sender
}

// sender serializes nonce allocation for one account.
// next is the nonce after the last broadcast made by this process.
type sender struct {
	mu   sync.Mutex
	next uint64
}

func (c *Client) sender(from common.Address) *sender {
	c.sendersMu.Lock()
	defer c.sendersMu.Unlock()
	s, ok := c.senders[from]
	if !ok {
		s = &sender{}
		c.senders[from] = s
	}
	return s
}

// Dial connects to every url of the RPC list, unreachable ones are skipped
func Dial(ctx context.Context, cfg Config, logger logging.Logger) (*Client, error) {
	var endpoints []Endpoint
	for _, url := range cfg.RPCList {
		dialCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		client, err := ethclient.DialContext(dialCtx, url)
		cancel()
		if err != nil {
			logger.WithError(err).WithField("url", url).Error("can't connect to evm rpc")
			continue
		}
		endpoints = append(endpoints, Endpoint{URL: url, Backend: client})
	}
	return New(ctx, cfg, logger, endpoints...)
}

// New checks the chain id of every endpoint and keeps the matching ones
func New(ctx context.Context, cfg Config, logger logging.Logger, endpoints ...Endpoint) (*Client, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.MinConfirmations <= 0 {
		cfg.MinConfirmations = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := &Client{
		cfg:     cfg,
		chainID: big.NewInt(cfg.ChainID),
		signer:  ethtypes.LatestSignerForChainID(big.NewInt(cfg.ChainID)),
		logger:  logger.WithField("chain", types.CHAIN_EVM),
		senders: make(map[common.Address]*sender),
	}

	for _, e := range endpoints {
		callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		chainID, err := e.Backend.ChainID(callCtx)
		cancel()
		if err != nil {
			c.logger.WithError(err).WithField("url", e.URL).Error("can't get chain id")
			e.Backend.Close()
			continue
		}
		if chainID.Cmp(c.chainID) != 0 {
			c.logger.WithField("url", e.URL).Errorf("received chain id %s != expected %s", chainID, c.chainID)
			e.Backend.Close()
			continue
		}
		c.endpoints = append(c.endpoints, e)
	}
	if len(c.endpoints) == 0 {
		return nil, fmt.Errorf("%w: no evm rpc with chain id %d is reachable", types.ErrAdapterUnavailable, cfg.ChainID)
	}

	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("%w: invalid evm bridge private key", types.ErrAdapterUnavailable)
		}
		c.key = key
		c.address = crypto.PubkeyToAddress(key.PublicKey)

		balance, err := c.Balance(ctx, c.address.Hex())
		if err != nil {
			c.logger.WithError(err).Warn("can't get bridge wallet balance")
		} else {
			c.logger.WithFields(logrus.Fields{
				"address": c.address.Hex(),
				"balance": balance,
			}).Info("bridge wallet ready")
		}
	}
	return c, nil
}

// BridgeAddress is the operating wallet that receives deposits and pays out
func (c *Client) BridgeAddress() string {
	return c.address.Hex()
}

func (c *Client) Close() error {
	for _, e := range c.endpoints {
		e.Backend.Close()
	}
	return nil
}

// WithClient runs f against the endpoints in order until one succeeds
func WithClient[T any](ctx context.Context, c *Client, query string, f func(ctx context.Context, backend Backend) (T, error)) (res T, err error) {
	for _, e := range c.endpoints {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		stop := ObserveDuration(e.URL, query)
		res, err = f(callCtx, e.Backend)
		stop()
		cancel()
		ObserveError(e.URL, query, err)
		if err == nil || ctx.Err() != nil {
			return
		}
		c.logger.WithError(err).WithField("url", e.URL).Debugf("%s failed", query)
	}
	return
}

func (c *Client) primary() Endpoint {
	return c.endpoints[0]
}

// send signs a legacy transaction with key, broadcasts it and waits for the receipt.
// A receipt that did not arrive within the receipt timeout is reported as unconfirmed.
func (c *Client) send(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, value *big.Int, data []byte) (*types.Payment, error) {
	from := crypto.PubkeyToAddress(key.PublicKey)
	tx, err := c.broadcast(ctx, key, from, to, value, data)
	if err != nil {
		return nil, err
	}
	e := c.primary()
	logger := c.logger.WithFields(logrus.Fields{
		"from":    from.Hex(),
		"to":      to.Hex(),
		"value":   value.String(),
		"tx_hash": tx.Hash().Hex(),
	})
	logger.Info("evm transaction sent")

	waitCtx, waitCancel := context.WithTimeout(ctx, c.cfg.ReceiptTimeout)
	defer waitCancel()
	receipt, err := bind.WaitMined(waitCtx, e.Backend, tx)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		logger.Warn("evm transaction receipt not received in time")
		return &types.Payment{TxHash: tx.Hash().Hex(), Confirmed: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("can't wait for receipt of %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: evm transaction %s reverted", types.ErrTransferFailed, tx.Hash().Hex())
	}
	logger.WithField("block", receipt.BlockNumber).Info("evm transaction mined")
	return &types.Payment{TxHash: tx.Hash().Hex(), Confirmed: true}, nil
}

func parseAddress(address string) (common.Address, error) {
	if !common.IsHexAddress(address) {
		return common.Address{}, fmt.Errorf("%w: %q is not an evm address", types.ErrValidation, address)
	}
	return common.HexToAddress(address), nil
}

// SendPayment pays amount XRP (as wei) from the bridge operating wallet
func (c *Client) SendPayment(ctx context.Context, destination, amount string) (*types.Payment, error) {
	if c.key == nil {
		return nil, fmt.Errorf("%w: evm bridge private key is not configured", types.ErrTransferFailed)
	}
	to, err := parseAddress(destination)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", types.ErrTransferFailed, err.Error())
	}
	value, err := types.ToBaseUnits(amount, types.DECIMALS_EVM)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, c.key, to, value, nil)
}

func payableABI(method string) (abi.ABI, error) {
	return abi.JSON(strings.NewReader(fmt.Sprintf(
		`[{"type":"function","name":%q,"stateMutability":"payable","inputs":[],"outputs":[]}]`, method)))
}

// CallContract calls a payable no-argument method of contract from w,
// sending amount XRP along. Gas is paid by w.
func (c *Client) CallContract(ctx context.Context, w *wallet.Wallet, contract, method, amount string) (string, error) {
	to, err := parseAddress(contract)
	if err != nil {
		return "", err
	}
	value, err := types.ToBaseUnits(amount, types.DECIMALS_EVM)
	if err != nil {
		return "", err
	}
	parsed, err := payableABI(method)
	if err != nil {
		return "", fmt.Errorf("can't build abi for %s: %w", method, err)
	}
	data, err := parsed.Pack(method)
	if err != nil {
		return "", fmt.Errorf("can't pack %s call: %w", method, err)
	}
	payment, err := c.send(ctx, w.PrivateKey(), to, value, data)
	if err != nil {
		return "", err
	}
	if !payment.Confirmed {
		return payment.TxHash, fmt.Errorf("%w: contract call %s not confirmed", types.ErrTransferFailed, payment.TxHash)
	}
	return payment.TxHash, nil
}

func (c *Client) blockNumber(ctx context.Context) (uint64, error) {
	return WithClient(ctx, c, "eth_blockNumber", func(ctx context.Context, b Backend) (uint64, error) {
		return b.BlockNumber(ctx)
	})
}

func (c *Client) receipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	return WithClient(ctx, c, "eth_getTransactionReceipt", func(ctx context.Context, b Backend) (*ethtypes.Receipt, error) {
		return b.TransactionReceipt(ctx, hash)
	})
}

func (c *Client) confirmed(ctx context.Context, receipt *ethtypes.Receipt) (bool, error) {
	if c.cfg.MinConfirmations <= 1 {
		return true, nil
	}
	head, err := c.blockNumber(ctx)
	if err != nil {
		return false, err
	}
	return head+1 >= receipt.BlockNumber.Uint64()+uint64(c.cfg.MinConfirmations), nil
}

func (c *Client) matchDeposit(tx *ethtypes.Transaction, q types.DepositQuery, value *big.Int) bool {
	if tx.To() == nil || *tx.To() != c.address || tx.Value().Cmp(value) != 0 {
		return false
	}
	sender, err := ethtypes.Sender(c.signer, tx)
	if err != nil {
		return false
	}
	return strings.EqualFold(sender.Hex(), q.SourceAddress)
}

// ConfirmDeposit finds the transfer described by q to the bridge wallet.
// nil, nil is returned when there is no such transfer.
func (c *Client) ConfirmDeposit(ctx context.Context, q types.DepositQuery) (*types.Transaction, error) {
	value, err := types.ToBaseUnits(q.Amount, types.DECIMALS_EVM)
	if err != nil {
		return nil, err
	}
	if q.TxHash != "" {
		return c.confirmDepositTx(ctx, q, value)
	}

	logger := c.logger.WithFields(logrus.Fields{"source": q.SourceAddress, "amount": q.Amount})
	logger.Info("waiting for evm deposit")

	head, err := c.blockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("can't get block number: %w", err)
	}
	next := uint64(0)
	if head > uint64(c.cfg.SafetyWindow) {
		next = head - uint64(c.cfg.SafetyWindow)
	}
	deadline := time.Now().Add(c.cfg.DepositTimeout)
	for {
		found, last, err := c.scanBlocks(ctx, q, value, next)
		if err != nil {
			return nil, err
		}
		if found != nil {
			logger.WithField("tx_hash", found.Hash).Info("evm deposit found")
			return found, nil
		}
		next = last
		if !time.Now().Before(deadline) {
			logger.Warn("evm deposit not found in time")
			return nil, nil
		}
		if utils.ContextSleep(ctx, c.cfg.PollInterval) == nil {
			return nil, ctx.Err()
		}
	}
}

// scanBlocks looks for a matching deposit in the confirmed blocks starting
// at from, it returns the first block that still has to be scanned
func (c *Client) scanBlocks(ctx context.Context, q types.DepositQuery, value *big.Int, from uint64) (*types.Transaction, uint64, error) {
	head, err := c.blockNumber(ctx)
	if err != nil {
		return nil, from, fmt.Errorf("can't get block number: %w", err)
	}
	confirmations := uint64(c.cfg.MinConfirmations - 1)
	if head < confirmations {
		return nil, from, nil
	}
	head -= confirmations

	for n := from; n <= head; n++ {
		block, err := WithClient(ctx, c, "eth_getBlockByNumber", func(ctx context.Context, b Backend) (*ethtypes.Block, error) {
			return b.BlockByNumber(ctx, new(big.Int).SetUint64(n))
		})
		if err != nil {
			return nil, n, fmt.Errorf("can't get block %d: %w", n, err)
		}
		timestamp := time.Unix(int64(block.Time()), 0).UTC()
		if !q.Since.IsZero() && timestamp.Before(q.Since.Truncate(time.Second)) {
			continue
		}
		for _, tx := range block.Transactions() {
			if !c.matchDeposit(tx, q, value) || q.Excluded(ctx, tx.Hash().Hex()) {
				continue
			}
			receipt, err := c.receipt(ctx, tx.Hash())
			if err != nil {
				return nil, n, fmt.Errorf("can't get receipt of %s: %w", tx.Hash().Hex(), err)
			}
			if receipt.Status != ethtypes.ReceiptStatusSuccessful {
				continue
			}
			return &types.Transaction{
				Hash:      tx.Hash().Hex(),
				From:      q.SourceAddress,
				To:        tx.To().Hex(),
				Amount:    q.Amount,
				Timestamp: timestamp,
			}, n, nil
		}
	}
	return nil, head + 1, nil
}

func (c *Client) confirmDepositTx(ctx context.Context, q types.DepositQuery, value *big.Int) (*types.Transaction, error) {
	hash := common.HexToHash(q.TxHash)
	deadline := time.Now().Add(c.cfg.ReceiptTimeout)
	for {
		receipt, err := c.receipt(ctx, hash)
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("can't get receipt of %s: %w", q.TxHash, err)
		}
		if err == nil {
			if receipt.Status != ethtypes.ReceiptStatusSuccessful {
				return nil, nil
			}
			ok, err := c.confirmed(ctx, receipt)
			if err != nil {
				return nil, err
			}
			if ok {
				break
			}
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
		if utils.ContextSleep(ctx, c.cfg.PollInterval) == nil {
			return nil, ctx.Err()
		}
	}

	tx, err := WithClient(ctx, c, "eth_getTransactionByHash", func(ctx context.Context, b Backend) (*ethtypes.Transaction, error) {
		tx, _, err := b.TransactionByHash(ctx, hash)
		return tx, err
	})
	if err != nil {
		return nil, fmt.Errorf("can't get transaction %s: %w", q.TxHash, err)
	}
	if !c.matchDeposit(tx, q, value) {
		return nil, nil
	}
	return &types.Transaction{
		Hash:   tx.Hash().Hex(),
		From:   q.SourceAddress,
		To:     tx.To().Hex(),
		Amount: q.Amount,
	}, nil
}

func (c *Client) Balance(ctx context.Context, address string) (string, error) {
	account, err := parseAddress(address)
	if err != nil {
		return "", err
	}
	balance, err := WithClient(ctx, c, "eth_getBalance", func(ctx context.Context, b Backend) (*big.Int, error) {
		return b.BalanceAt(ctx, account, nil)
	})
	if err != nil {
		return "", fmt.Errorf("can't get evm balance of %s: %w", address, err)
	}
	return types.FromBaseUnits(balance, types.DECIMALS_EVM), nil
}

func (c *Client) Status(ctx context.Context, txHash string) (types.TxStatus, error) {
	hash := common.HexToHash(txHash)
	receipt, err := c.receipt(ctx, hash)
	if err == nil {
		if receipt.Status == ethtypes.ReceiptStatusSuccessful {
			return types.TxConfirmed, nil
		}
		return types.TxFailed, nil
	}
	if !errors.Is(err, ethereum.NotFound) {
		return types.TxUnknown, err
	}

	pending, err := WithClient(ctx, c, "eth_getTransactionByHash", func(ctx context.Context, b Backend) (bool, error) {
		_, pending, err := b.TransactionByHash(ctx, hash)
		return pending, err
	})
	if errors.Is(err, ethereum.NotFound) {
		return types.TxUnknown, nil
	}
	if err != nil {
		return types.TxUnknown, err
	}
	if pending {
		return types.TxPending, nil
	}
	return types.TxUnknown, nil
}

// broadcast holds the sender lock from nonce lookup until the node accepted the
// transaction, so concurrent payouts from one wallet never share a nonce
func (c *Client) broadcast(ctx context.Context, key *ecdsa.PrivateKey, from, to common.Address, value *big.Int, data []byte) (*ethtypes.Transaction, error) {
	e := c.primary()
	s := c.sender(from)
	s.mu.Lock()
	defer s.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	nonce, err := e.Backend.PendingNonceAt(callCtx, from)
	ObserveError(e.URL, "eth_getTransactionCount", err)
	if err != nil {
		return nil, fmt.Errorf("can't get nonce: %w", err)
	}
	if s.next > nonce {
		nonce = s.next
	}
	gasPrice, err := e.Backend.SuggestGasPrice(callCtx)
	ObserveError(e.URL, "eth_gasPrice", err)
	if err != nil {
		return nil, fmt.Errorf("can't get gas price: %w", err)
	}
	gas := uint64(transferGas)
	if len(data) > 0 {
		gas, err = e.Backend.EstimateGas(callCtx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: data})
		ObserveError(e.URL, "eth_estimateGas", err)
		if err != nil {
			return nil, fmt.Errorf("%w: can't estimate gas: %s", types.ErrTransferFailed, err.Error())
		}
	}

	tx, err := ethtypes.SignTx(ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	}), c.signer, key)
	if err != nil {
		return nil, fmt.Errorf("can't sign transaction: %w", err)
	}

	err = e.Backend.SendTransaction(callCtx, tx)
	ObserveError(e.URL, "eth_sendRawTransaction", err)
	if err != nil {
		return nil, fmt.Errorf("%w: can't send transaction: %s", types.ErrTransferFailed, err.Error())
	}
	s.next = nonce + 1
	return tx, nil
}
