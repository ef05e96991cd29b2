package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"xrplbridge/logging"
	"xrplbridge/types"
	"xrplbridge/utils"
	"xrplbridge/wallet"
)

// ChainAdapter moves and observes XRP on one chain
type ChainAdapter interface {
	SendPayment(ctx context.Context, destination, amount string) (*types.Payment, error)
	// ConfirmDeposit returns nil, nil when no matching deposit was found
	ConfirmDeposit(ctx context.Context, q types.DepositQuery) (*types.Transaction, error)
	Balance(ctx context.Context, address string) (string, error)
	Status(ctx context.Context, txHash string) (types.TxStatus, error)
}

// AutoDepositor can move the user's funds to the bridge when given the user's secret
type AutoDepositor interface {
	TransferToBridge(ctx context.Context, from, secret, amount string) (*types.Payment, error)
}

// ContractCaller can call a payable contract method from a minted wallet
type ContractCaller interface {
	CallContract(ctx context.Context, w *wallet.Wallet, contract, method, amount string) (string, error)
}

type WalletFactory interface {
	NewWallet() (*wallet.Wallet, error)
}

type FeeEstimator interface {
	Estimate(ctx context.Context, sourceChain, destChain, asset string) (string, error)
}

// Store persists bridge requests. Every write after Create only succeeds while
// the stored record is still pending, otherwise types.ErrConflict is returned.
type Store interface {
	Create(ctx context.Context, req *types.BridgeRequest) error
	Get(ctx context.Context, id string) (*types.BridgeRequest, error)
	UpdatePending(ctx context.Context, req *types.BridgeRequest) error
	// ClaimSourceTx stores req.SourceTxHash unless another request owns it
	ClaimSourceTx(ctx context.Context, req *types.BridgeRequest) (bool, error)
	SourceTxClaimedBy(ctx context.Context, txHash string) (string, error)
	Finalize(ctx context.Context, req *types.BridgeRequest) error
	ListByStatus(ctx context.Context, status types.Status, limit int) ([]*types.BridgeRequest, error)
	ListBySourceAddress(ctx context.Context, address string, limit int) ([]*types.BridgeRequest, error)
	CountCreatedSince(ctx context.Context, since time.Time) (int, error)
}

type HookConfig struct {
	Enabled         bool
	ContractAddress string
	Method          string
	GasStipend      string
}

type Config struct {
	SettleDelay time.Duration
	Hook        HookConfig
}

// Coordinator drives a single bridge request from pending to a terminal status
type Coordinator struct {
	store   Store
	xrpl    ChainAdapter
	evm     ChainAdapter
	wallets WalletFactory
	fees    FeeEstimator
	cfg     Config
	logger  logging.Logger
	now     func() time.Time
}

func NewCoordinator(store Store, xrpl, evm ChainAdapter, wallets WalletFactory, fees FeeEstimator, cfg Config, logger logging.Logger) *Coordinator {
	return &Coordinator{
		store:   store,
		xrpl:    xrpl,
		evm:     evm,
		wallets: wallets,
		fees:    fees,
		cfg:     cfg,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (c *Coordinator) Adapter(chain string) ChainAdapter {
	if chain == types.CHAIN_EVM {
		return c.evm
	}
	return c.xrpl
}

// run keeps what a single processing attempt learned
type run struct {
	req       *types.BridgeRequest
	secret    string
	minted    *wallet.Wallet
	deposited bool
	disbursed bool
	logger    logging.Logger
}

// Process runs the request to completion and writes its terminal status.
// The returned error is the reason of a failure, the record is already
// finalized when it is a processing error.
func (c *Coordinator) Process(ctx context.Context, requestID, sourceSecret string) (*types.BridgeRequest, error) {
	req, err := c.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != types.StatusPending {
		return req, fmt.Errorf("bridge request %s is %s: %w", requestID, req.Status, types.ErrConflict)
	}

	r := &run{
		req:    req.Clone(),
		secret: sourceSecret,
		logger: c.logger.WithFields(logrus.Fields{
			"request_id": req.RequestID,
			"direction":  req.Direction,
		}),
	}
	r.logger.Info("processing bridge request")
	procErr := c.execute(ctx, r)

	final := r.req
	now := c.now()
	final.UpdatedAt = now
	final.CompletedAt = &now
	if procErr != nil {
		final.Status = types.StatusFailed
		final.ErrorMessage = procErr.Error()
		r.logger.WithError(procErr).Error("bridge request failed")
		if r.deposited && !r.disbursed {
			StrandedDeposits.WithLabelValues(string(final.Direction)).Inc()
			r.logger.WithFields(logrus.Fields{
				"source_tx_hash": final.SourceTxHash,
				"amount":         final.Amount,
			}).Error("deposit confirmed but not disbursed, operator action required")
		}
	} else {
		final.Status = types.StatusCompleted
		final.ErrorMessage = ""
	}

	if err := c.store.Finalize(ctx, final); err != nil {
		r.logger.WithError(err).Error("can't finalize bridge request")
		return final, fmt.Errorf("can't finalize bridge request: %w", err)
	}
	RequestsTotal.WithLabelValues(string(final.Direction), string(final.Status)).Inc()
	r.logger.WithFields(logrus.Fields{
		"status":  final.Status,
		"tx_hash": final.DestinationTxHash,
	}).Info("bridge request finished")
	return final, procErr
}

func (c *Coordinator) execute(ctx context.Context, r *run) error {
	if !r.req.Direction.Valid() {
		return fmt.Errorf("%w: unknown direction %q", types.ErrValidation, r.req.Direction)
	}
	if err := c.resolveDestination(ctx, r); err != nil {
		return err
	}
	if err := c.confirmDeposit(ctx, r); err != nil {
		return err
	}
	c.estimateFee(ctx, r)
	if err := c.disburse(ctx, r); err != nil {
		return err
	}
	return c.runHook(ctx, r)
}

func (c *Coordinator) resolveDestination(ctx context.Context, r *run) error {
	if r.req.DestinationAddress != "" {
		return nil
	}
	if r.req.Direction != types.DirectionXRPLToEVM {
		return fmt.Errorf("%w: destination address is required", types.ErrValidation)
	}
	w, err := c.wallets.NewWallet()
	if err != nil {
		return fmt.Errorf("can't create destination wallet: %w", err)
	}
	r.minted = w
	r.req.DestinationAddress = w.Address
	r.req.UpdatedAt = c.now()
	if err := c.store.UpdatePending(ctx, r.req); err != nil {
		return fmt.Errorf("can't save destination address: %w", err)
	}
	r.logger.WithField("destination", w.Address).Info("destination wallet created")
	return nil
}

// claimedByOther skips deposits that already fund a different request
func (c *Coordinator) claimedByOther(requestID string, logger logging.Logger) func(ctx context.Context, txHash string) bool {
	return func(ctx context.Context, txHash string) bool {
		owner, err := c.store.SourceTxClaimedBy(ctx, txHash)
		if err != nil {
			logger.WithError(err).WithField("tx_hash", txHash).Warn("can't check source tx claim")
			return true
		}
		return owner != "" && owner != requestID
	}
}

func (c *Coordinator) confirmDeposit(ctx context.Context, r *run) error {
	defer observePhase(string(r.req.Direction), "deposit")()

	sourceChain := r.req.Direction.SourceChain()
	source := c.Adapter(sourceChain)
	q := types.DepositQuery{
		SourceAddress: r.req.SourceAddress,
		Amount:        r.req.Amount,
		Since:         r.req.CreatedAt,
		Exclude:       c.claimedByOther(r.req.RequestID, r.logger),
	}

	if r.secret != "" {
		depositor, ok := source.(AutoDepositor)
		if !ok {
			return fmt.Errorf("%w: %s can't transfer with a source secret", types.ErrValidation, sourceChain)
		}
		payment, err := depositor.TransferToBridge(ctx, r.req.SourceAddress, r.secret, r.req.Amount)
		if err != nil {
			return fmt.Errorf("can't transfer deposit to bridge: %w", err)
		}
		r.logger.WithField("tx_hash", payment.TxHash).Info("deposit transferred to bridge")
		if utils.ContextSleep(ctx, c.cfg.SettleDelay) == nil {
			return ctx.Err()
		}
		q.TxHash = payment.TxHash
	}

	tx, err := source.ConfirmDeposit(ctx, q)
	if err != nil {
		return fmt.Errorf("can't confirm deposit: %w", err)
	}
	if tx == nil {
		return fmt.Errorf("%w: no payment of %s XRP from %s on %s", types.ErrDepositNotFound, r.req.Amount, r.req.SourceAddress, sourceChain)
	}
	if !types.SameAmount(tx.Amount, r.req.Amount) {
		return fmt.Errorf("%w: source tx %s carries %s XRP, expected %s", types.ErrDepositNotFound, tx.Hash, tx.Amount, r.req.Amount)
	}

	r.req.SourceTxHash = tx.Hash
	r.req.UpdatedAt = c.now()
	ok, err := c.store.ClaimSourceTx(ctx, r.req)
	if err != nil {
		return fmt.Errorf("can't claim source tx: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: source tx %s already funds another request", types.ErrDepositNotFound, tx.Hash)
	}
	r.deposited = true
	r.logger.WithField("tx_hash", tx.Hash).Info("deposit confirmed")
	return nil
}

func (c *Coordinator) estimateFee(ctx context.Context, r *run) {
	fee, err := c.fees.Estimate(ctx, r.req.Direction.SourceChain(), r.req.Direction.DestChain(), types.ASSET_XRP)
	if err != nil {
		r.logger.WithError(err).Warn("can't estimate fee")
		return
	}
	r.req.EstimatedFee = fee
	r.logger.WithField("fee", fee).Info("estimated fee")
}

func (c *Coordinator) disburse(ctx context.Context, r *run) error {
	defer observePhase(string(r.req.Direction), "disburse")()

	destChain := r.req.Direction.DestChain()
	payment, err := c.Adapter(destChain).SendPayment(ctx, r.req.DestinationAddress, r.req.Amount)
	if err != nil {
		return fmt.Errorf("can't send payment on %s: %w", destChain, err)
	}
	r.req.DestinationTxHash = payment.TxHash
	if !payment.Confirmed {
		return fmt.Errorf("%w: payment %s on %s was not confirmed", types.ErrTransferFailed, payment.TxHash, destChain)
	}
	r.disbursed = true
	r.logger.WithField("tx_hash", payment.TxHash).Info("payment sent")
	return nil
}

// runHook funds the minted wallet with gas and calls the configured contract
// from it. Only the gas funding can fail the request.
func (c *Coordinator) runHook(ctx context.Context, r *run) error {
	hook := c.cfg.Hook
	if !hook.Enabled || hook.ContractAddress == "" || r.minted == nil || r.req.Direction != types.DirectionXRPLToEVM {
		return nil
	}
	defer observePhase(string(r.req.Direction), "hook")()

	dest := c.Adapter(types.CHAIN_EVM)
	caller, ok := dest.(ContractCaller)
	if !ok {
		r.logger.Warn("evm adapter can't call contracts, hook skipped")
		return nil
	}

	stipend, err := dest.SendPayment(ctx, r.minted.Address, hook.GasStipend)
	if err != nil {
		return fmt.Errorf("can't fund hook gas: %w", err)
	}
	if !stipend.Confirmed {
		return fmt.Errorf("%w: hook gas payment %s was not confirmed", types.ErrTransferFailed, stipend.TxHash)
	}

	txHash, err := caller.CallContract(ctx, r.minted, hook.ContractAddress, hook.Method, r.req.Amount)
	r.req.HookTxHash = txHash
	if err != nil {
		hookErr := fmt.Errorf("%w: %s", types.ErrOptionalHook, err.Error())
		r.req.HookStatus = types.HookStatusFailed
		r.req.HookMessage = hookErr.Error()
		HookFailures.Inc()
		r.logger.WithError(hookErr).Warn("contract call failed, bridge transfer is complete")
		return nil
	}
	r.req.HookStatus = types.HookStatusCompleted
	r.logger.WithField("tx_hash", txHash).Info("contract called")
	return nil
}

