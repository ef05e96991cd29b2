package XRPLRPC

import (
	"context"
	"fmt"
	"strings"
	"sync"

	xrplwallet "github.com/Peersyst/xrpl-go/xrpl/wallet"

	"xrplbridge/types"
)

const (
	defaultFeeDrops = 12
	maxFeeDrops     = 2000

	// ledgers a signed transaction stays valid for
	ledgerOffset = 20
)

// account serializes Sequence allocation for one signing account.
// next is the Sequence after the last transaction this process submitted.
type account struct {
	mu   sync.Mutex
	next uint32
}

func (c *Client) account(address string) *account {
	c.accountsMu.Lock()
	defer c.accountsMu.Unlock()
	a, ok := c.accounts[address]
	if !ok {
		a = &account{}
		c.accounts[address] = a
	}
	return a
}

// consumesSequence reports whether rippled applied or queued the transaction,
// which uses up its Sequence even when the payment itself fails
func consumesSequence(result string) bool {
	return result == resultQueued || strings.HasPrefix(result, "tes") || strings.HasPrefix(result, "tec")
}

func (c *Client) sequence(ctx context.Context, address string) (uint32, error) {
	var res struct {
		AccountData struct {
			Sequence uint32 `json:"Sequence"`
		} `json:"account_data"`
	}
	err := c.call(ctx, "account_info", map[string]interface{}{
		"account":      address,
		"ledger_index": "current",
	}, &res)
	if isRippledError(err, errActNotFound) {
		return 0, fmt.Errorf("%w: xrpl account %s is not funded", types.ErrTransferFailed, address)
	}
	if err != nil {
		return 0, fmt.Errorf("can't get sequence of %s: %w", address, err)
	}
	return res.AccountData.Sequence, nil
}

// fee returns the open ledger fee in drops and the current ledger index
func (c *Client) fee(ctx context.Context) (uint64, uint32, error) {
	var res struct {
		Drops struct {
			OpenLedgerFee string `json:"open_ledger_fee"`
		} `json:"drops"`
		LedgerCurrentIndex uint32 `json:"ledger_current_index"`
	}
	if err := c.call(ctx, "fee", map[string]interface{}{}, &res); err != nil {
		return 0, 0, fmt.Errorf("can't get xrpl fee: %w", err)
	}
	fee := uint64(defaultFeeDrops)
	if drops, ok := parseDrops(res.Drops.OpenLedgerFee); ok && drops.IsUint64() && drops.Uint64() > fee {
		fee = drops.Uint64()
	}
	if fee > maxFeeDrops {
		c.logger.WithField("open_ledger_fee", res.Drops.OpenLedgerFee).Warn("xrpl fee capped")
		fee = maxFeeDrops
	}
	return fee, res.LedgerCurrentIndex, nil
}

// signAndSubmit fills Fee, Sequence and LastLedgerSequence, signs tx with w and
// submits the blob. The account lock is held from the Sequence lookup until
// rippled answered, concurrent submissions from one account get distinct
// Sequences even when the node has not applied the previous one yet.
func (c *Client) signAndSubmit(ctx context.Context, w *xrplwallet.Wallet, tx map[string]interface{}) (string, error) {
	address := string(w.ClassicAddress)
	a := c.account(address)
	a.mu.Lock()
	defer a.mu.Unlock()

	seq, err := c.sequence(ctx, address)
	if err != nil {
		return "", err
	}
	if a.next > seq {
		seq = a.next
	}
	fee, ledger, err := c.fee(ctx)
	if err != nil {
		return "", err
	}
	tx["Fee"] = fmt.Sprint(fee)
	tx["Sequence"] = seq
	tx["LastLedgerSequence"] = ledger + ledgerOffset
	tx["SigningPubKey"] = w.PublicKey

	blob, hash, err := w.Sign(tx)
	if err != nil {
		return "", fmt.Errorf("%w: can't sign xrpl transaction: %s", types.ErrTransferFailed, err.Error())
	}

	var res struct {
		EngineResult        string `json:"engine_result"`
		EngineResultMessage string `json:"engine_result_message"`
		TxJSON              struct {
			Hash string `json:"hash"`
		} `json:"tx_json"`
	}
	if err := c.call(ctx, "submit", map[string]interface{}{"tx_blob": blob}, &res); err != nil {
		return "", fmt.Errorf("%w: can't submit xrpl transaction: %s", types.ErrTransferFailed, err.Error())
	}
	if consumesSequence(res.EngineResult) {
		a.next = seq + 1
	}
	if res.EngineResult != resultSuccess && res.EngineResult != resultQueued {
		return "", fmt.Errorf("%w: xrpl transaction rejected: %s %s", types.ErrTransferFailed, res.EngineResult, res.EngineResultMessage)
	}
	if res.TxJSON.Hash != "" {
		hash = res.TxJSON.Hash
	}
	return hash, nil
}
