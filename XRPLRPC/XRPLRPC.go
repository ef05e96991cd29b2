package XRPLRPC

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	addresscodec "github.com/Peersyst/xrpl-go/address-codec"
	xrplwallet "github.com/Peersyst/xrpl-go/xrpl/wallet"
	"github.com/sirupsen/logrus"
	"github.com/ybbus/jsonrpc"

	"xrplbridge/logging"
	"xrplbridge/types"
	"xrplbridge/utils"
)

// seconds between the unix epoch and the ripple epoch (2000-01-01)
const rippleEpoch = 946684800

// ledger close times are rounded down to the close time resolution, up to 30s
// on a slow network, so a deposit can look older than the request it pays
const closeTimeGrace = 30 * time.Second

const (
	resultSuccess = "tesSUCCESS"
	resultQueued  = "terQUEUED"

	errTxnNotFound = "txnNotFound"
	errActNotFound = "actNotFound"
)

type Config struct {
	URL               string
	BridgeAddress     string
	BridgeSecret      string
	Timeout           time.Duration
	PollInterval      time.Duration
	DepositTimeout    time.Duration
	ValidationTimeout time.Duration
	HistoryLimit      int
}

// RippledError is an error reported inside a rippled result object
type RippledError struct {
	Code    string
	Message string
}

func (e *RippledError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func isRippledError(err error, code string) bool {
	var rippledErr *RippledError
	return errors.As(err, &rippledErr) && rippledErr.Code == code
}

// Client talks to a rippled node over JSON-RPC and moves XRP for the bridge
// account. Transactions are signed locally, secrets never reach the node.
type Client struct {
	cfg    Config
	rpc    jsonrpc.RPCClient
	bridge *xrplwallet.Wallet
	logger logging.Logger

	accountsMu sync.Mutex
	accounts   map[string]*account
}

// ValidAddress reports whether address is a classic XRPL account address
func ValidAddress(address string) bool {
	return addresscodec.IsValidClassicAddress(address)
}

func Dial(ctx context.Context, cfg Config, logger logging.Logger) (*Client, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 100
	}
	var bridge *xrplwallet.Wallet
	if cfg.BridgeSecret != "" {
		w, err := xrplwallet.FromSeed(cfg.BridgeSecret, "")
		if err != nil {
			return nil, fmt.Errorf("%w: invalid xrpl bridge secret", types.ErrAdapterUnavailable)
		}
		if cfg.BridgeAddress == "" {
			cfg.BridgeAddress = string(w.ClassicAddress)
		}
		if string(w.ClassicAddress) != cfg.BridgeAddress {
			return nil, fmt.Errorf("%w: xrpl bridge secret does not belong to %s", types.ErrAdapterUnavailable, cfg.BridgeAddress)
		}
		bridge = &w
	}
	if cfg.BridgeAddress != "" && !ValidAddress(cfg.BridgeAddress) {
		return nil, fmt.Errorf("%w: invalid xrpl bridge address %q", types.ErrAdapterUnavailable, cfg.BridgeAddress)
	}
	c := &Client{
		cfg: cfg,
		rpc: jsonrpc.NewClientWithOpts(cfg.URL, &jsonrpc.RPCClientOpts{
			HTTPClient: &http.Client{Timeout: cfg.Timeout},
		}),
		bridge:   bridge,
		logger:   logger.WithField("chain", types.CHAIN_XRPL),
		accounts: make(map[string]*account),
	}

	var info struct {
		Info struct {
			BuildVersion    string `json:"build_version"`
			CompleteLedgers string `json:"complete_ledgers"`
			ServerState     string `json:"server_state"`
		} `json:"info"`
	}
	if err := c.call(ctx, "server_info", map[string]interface{}{}, &info); err != nil {
		return nil, fmt.Errorf("%w: xrpl node %s: %s", types.ErrAdapterUnavailable, cfg.URL, err.Error())
	}
	c.logger.WithFields(logrus.Fields{
		"url":          cfg.URL,
		"version":      info.Info.BuildVersion,
		"server_state": info.Info.ServerState,
	}).Info("connected to xrpl node")
	return c, nil
}

func (c *Client) BridgeAddress() string {
	return c.cfg.BridgeAddress
}

func (c *Client) Close() error {
	return nil
}

type statusResult struct {
	Status       string `json:"status"`
	Error        string `json:"error"`
	ErrorMessage string `json:"error_message"`
}

func (c *Client) call(ctx context.Context, method string, params map[string]interface{}, out interface{}) (err error) {
	defer ObserveDuration(c.cfg.URL, method)()
	defer func() {
		ObserveError(c.cfg.URL, method, err)
	}()

	if err = ctx.Err(); err != nil {
		return err
	}
	// rippled expects the parameters object wrapped in an array
	resp, err := c.rpc.Call(method, []interface{}{params})
	if err != nil {
		return fmt.Errorf("can't call %s: %w", method, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("%s: %w", method, resp.Error)
	}

	var status statusResult
	if err = resp.GetObject(&status); err != nil {
		return fmt.Errorf("can't decode %s result: %w", method, err)
	}
	if status.Status == "error" || status.Error != "" {
		return &RippledError{Code: status.Error, Message: status.ErrorMessage}
	}
	if out != nil {
		if err = resp.GetObject(out); err != nil {
			return fmt.Errorf("can't decode %s result: %w", method, err)
		}
	}
	return nil
}

type txResult struct {
	Hash            string          `json:"hash"`
	TransactionType string          `json:"TransactionType"`
	Account         string          `json:"Account"`
	Destination     string          `json:"Destination"`
	Amount          json.RawMessage `json:"Amount"`
	Date            int64           `json:"date"`
	Validated       bool            `json:"validated"`
	Meta            txMeta          `json:"meta"`
}

type txMeta struct {
	TransactionResult string          `json:"TransactionResult"`
	DeliveredAmount   json.RawMessage `json:"delivered_amount"`
}

// deliveredDrops returns the XRP drops received by the destination,
// false for issued currencies
func (tx *txResult) deliveredDrops() (string, bool) {
	raw := tx.Meta.DeliveredAmount
	if len(raw) == 0 || string(raw) == `"unavailable"` {
		raw = tx.Amount
	}
	var drops string
	if err := json.Unmarshal(raw, &drops); err != nil {
		return "", false
	}
	return drops, true
}

func (tx *txResult) timestamp() time.Time {
	return time.Unix(tx.Date+rippleEpoch, 0).UTC()
}

func (tx *txResult) isPaymentTo(destination string) bool {
	return tx.TransactionType == "Payment" && tx.Destination == destination && tx.Meta.TransactionResult == resultSuccess
}

func (c *Client) getTx(ctx context.Context, hash string) (*txResult, error) {
	var tx txResult
	err := c.call(ctx, "tx", map[string]interface{}{"transaction": hash, "binary": false}, &tx)
	if err != nil {
		return nil, err
	}
	if tx.Hash == "" {
		tx.Hash = hash
	}
	return &tx, nil
}

// waitValidated polls the transaction until it is in a validated ledger.
// nil, nil means it did not validate within timeout.
func (c *Client) waitValidated(ctx context.Context, hash string, timeout time.Duration) (*txResult, error) {
	deadline := time.Now().Add(timeout)
	for {
		tx, err := c.getTx(ctx, hash)
		if err != nil && !isRippledError(err, errTxnNotFound) {
			return nil, err
		}
		if err == nil && tx.Validated {
			return tx, nil
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
		if utils.ContextSleep(ctx, c.cfg.PollInterval) == nil {
			return nil, ctx.Err()
		}
	}
}

func (c *Client) submitPayment(ctx context.Context, w *xrplwallet.Wallet, to, amount string) (*types.Payment, error) {
	if !ValidAddress(to) {
		return nil, fmt.Errorf("%w: %q is not an xrpl address", types.ErrTransferFailed, to)
	}
	drops, err := types.ToBaseUnits(amount, types.DECIMALS_XRPL)
	if err != nil {
		return nil, err
	}
	from := string(w.ClassicAddress)
	logger := c.logger.WithFields(logrus.Fields{"from": from, "to": to, "amount": amount})

	hash, err := c.signAndSubmit(ctx, w, map[string]interface{}{
		"TransactionType": "Payment",
		"Account":         from,
		"Destination":     to,
		"Amount":          drops.String(),
	})
	if err != nil {
		return nil, err
	}
	logger = logger.WithField("tx_hash", hash)
	logger.Info("xrpl payment submitted")

	tx, err := c.waitValidated(ctx, hash, c.cfg.ValidationTimeout)
	if err != nil {
		return nil, fmt.Errorf("can't confirm xrpl payment %s: %w", hash, err)
	}
	if tx == nil {
		logger.Warn("xrpl payment was not validated in time")
		return &types.Payment{TxHash: hash, Confirmed: false}, nil
	}
	if tx.Meta.TransactionResult != resultSuccess {
		return nil, fmt.Errorf("%w: xrpl payment %s failed with %s", types.ErrTransferFailed, hash, tx.Meta.TransactionResult)
	}
	logger.Info("xrpl payment validated")
	return &types.Payment{TxHash: hash, Confirmed: true}, nil
}

// SendPayment pays amount XRP from the bridge account
func (c *Client) SendPayment(ctx context.Context, destination, amount string) (*types.Payment, error) {
	if c.bridge == nil {
		return nil, fmt.Errorf("%w: xrpl bridge secret is not configured", types.ErrTransferFailed)
	}
	return c.submitPayment(ctx, c.bridge, destination, amount)
}

// TransferToBridge moves amount XRP from a user account to the bridge account.
// The secret must derive the from account and is used for this call only.
func (c *Client) TransferToBridge(ctx context.Context, from, secret, amount string) (*types.Payment, error) {
	w, err := xrplwallet.FromSeed(secret, "")
	if err != nil {
		return nil, fmt.Errorf("%w: invalid xrpl source secret", types.ErrValidation)
	}
	if string(w.ClassicAddress) != from {
		return nil, fmt.Errorf("%w: source secret does not belong to %s", types.ErrValidation, from)
	}
	return c.submitPayment(ctx, &w, c.cfg.BridgeAddress, amount)
}

func (c *Client) matchDeposit(tx *txResult, q types.DepositQuery, drops string) *types.Transaction {
	if !tx.isPaymentTo(c.cfg.BridgeAddress) || tx.Account != q.SourceAddress {
		return nil
	}
	delivered, ok := tx.deliveredDrops()
	if !ok || delivered != drops {
		return nil
	}
	return &types.Transaction{
		Hash:      tx.Hash,
		From:      tx.Account,
		To:        tx.Destination,
		Amount:    q.Amount,
		Timestamp: tx.timestamp(),
	}
}

// ConfirmDeposit finds the payment described by q on the bridge account.
// nil, nil is returned when there is no such payment.
func (c *Client) ConfirmDeposit(ctx context.Context, q types.DepositQuery) (*types.Transaction, error) {
	amount, err := types.ToBaseUnits(q.Amount, types.DECIMALS_XRPL)
	if err != nil {
		return nil, err
	}
	drops := amount.String()

	if q.TxHash != "" {
		tx, err := c.waitValidated(ctx, q.TxHash, c.cfg.ValidationTimeout)
		if err != nil || tx == nil {
			return nil, err
		}
		return c.matchDeposit(tx, q, drops), nil
	}

	logger := c.logger.WithFields(logrus.Fields{"source": q.SourceAddress, "amount": q.Amount})
	logger.Info("waiting for xrpl deposit")
	deadline := time.Now().Add(c.cfg.DepositTimeout)
	for {
		found, err := c.scanDeposits(ctx, q, drops)
		if err != nil {
			return nil, err
		}
		if found != nil {
			logger.WithField("tx_hash", found.Hash).Info("xrpl deposit found")
			return found, nil
		}
		if !time.Now().Before(deadline) {
			logger.Warn("xrpl deposit not found in time")
			return nil, nil
		}
		if utils.ContextSleep(ctx, c.cfg.PollInterval) == nil {
			return nil, ctx.Err()
		}
	}
}

func (c *Client) scanDeposits(ctx context.Context, q types.DepositQuery, drops string) (*types.Transaction, error) {
	var res struct {
		Transactions []struct {
			Tx        txResult `json:"tx"`
			Meta      txMeta   `json:"meta"`
			Validated bool     `json:"validated"`
		} `json:"transactions"`
	}
	err := c.call(ctx, "account_tx", map[string]interface{}{
		"account":          c.cfg.BridgeAddress,
		"ledger_index_min": -1,
		"ledger_index_max": -1,
		"limit":            c.cfg.HistoryLimit,
		"forward":          false,
	}, &res)
	if err != nil {
		return nil, fmt.Errorf("can't list bridge account transactions: %w", err)
	}

	// newest first, the oldest unclaimed match wins
	var found *types.Transaction
	for _, entry := range res.Transactions {
		if !entry.Validated {
			continue
		}
		tx := entry.Tx
		tx.Meta = entry.Meta
		if !q.Since.IsZero() && tx.timestamp().Before(q.Since.Add(-closeTimeGrace)) {
			continue
		}
		match := c.matchDeposit(&tx, q, drops)
		if match == nil || q.Excluded(ctx, match.Hash) {
			continue
		}
		found = match
	}
	return found, nil
}

func (c *Client) Balance(ctx context.Context, address string) (string, error) {
	var res struct {
		AccountData struct {
			Balance string `json:"Balance"`
		} `json:"account_data"`
	}
	err := c.call(ctx, "account_info", map[string]interface{}{
		"account":      address,
		"ledger_index": "validated",
	}, &res)
	if isRippledError(err, errActNotFound) {
		return "0", nil
	}
	if err != nil {
		return "", fmt.Errorf("can't get xrpl balance of %s: %w", address, err)
	}
	drops, ok := parseDrops(res.AccountData.Balance)
	if !ok {
		return "", fmt.Errorf("unexpected xrpl balance %q", res.AccountData.Balance)
	}
	return types.FromBaseUnits(drops, types.DECIMALS_XRPL), nil
}

func (c *Client) Status(ctx context.Context, txHash string) (types.TxStatus, error) {
	tx, err := c.getTx(ctx, txHash)
	if isRippledError(err, errTxnNotFound) {
		return types.TxUnknown, nil
	}
	if err != nil {
		return types.TxUnknown, err
	}
	if !tx.Validated {
		return types.TxPending, nil
	}
	if tx.Meta.TransactionResult == resultSuccess {
		return types.TxConfirmed, nil
	}
	return types.TxFailed, nil
}

func parseDrops(s string) (*big.Int, bool) {
	return new(big.Int).SetString(s, 10)
}
