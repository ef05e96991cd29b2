package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"xrplbridge/bridge"
	"xrplbridge/logging"
	"xrplbridge/types"
	"xrplbridge/utils"
	"xrplbridge/workers/pool"
)

const msgInterrupted = "processing interrupted, check the source and destination chains before retrying"

type Processor interface {
	Process(ctx context.Context, requestID, sourceSecret string) (*types.BridgeRequest, error)
}

// Dispatcher creates bridge requests and hands them to the worker pool
type Dispatcher struct {
	store      bridge.Store
	processor  Processor
	pool       *pool.Pool
	staleAfter time.Duration
	logger     logging.Logger
	now        func() time.Time
}

func NewDispatcher(store bridge.Store, processor Processor, workers *pool.Pool, staleAfter time.Duration, logger logging.Logger) *Dispatcher {
	return &Dispatcher{
		store:      store,
		processor:  processor,
		pool:       workers,
		staleAfter: staleAfter,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CreateXRPLToEVM registers a transfer of XRP from the ledger to the sidechain.
// Without a destination a fresh wallet is created while processing. With a
// source seed the deposit is made on the user's behalf, the seed is never stored.
func (d *Dispatcher) CreateXRPLToEVM(ctx context.Context, amount, sourceAddress, destinationAddress, sourceSeed string) (*types.BridgeRequest, *pool.Handle, error) {
	return d.create(ctx, types.DirectionXRPLToEVM, amount, sourceAddress, destinationAddress, sourceSeed)
}

// CreateEVMToXRPL registers a transfer of XRP from the sidechain to the ledger
func (d *Dispatcher) CreateEVMToXRPL(ctx context.Context, amount, sourceAddress, destinationAddress string) (*types.BridgeRequest, *pool.Handle, error) {
	if destinationAddress == "" {
		return nil, nil, fmt.Errorf("%w: destinationAddress is required", types.ErrValidation)
	}
	return d.create(ctx, types.DirectionEVMToXRPL, amount, sourceAddress, destinationAddress, "")
}

func (d *Dispatcher) create(ctx context.Context, direction types.Direction, amount, sourceAddress, destinationAddress, sourceSeed string) (*types.BridgeRequest, *pool.Handle, error) {
	if sourceAddress == "" {
		return nil, nil, fmt.Errorf("%w: sourceAddress is required", types.ErrValidation)
	}
	if amount == "" {
		return nil, nil, fmt.Errorf("%w: amount is required", types.ErrValidation)
	}
	if err := types.ValidateAmount(amount); err != nil {
		return nil, nil, err
	}

	now := d.now()
	req := &types.BridgeRequest{
		RequestID:          uuid.New().String(),
		Direction:          direction,
		SourceAddress:      sourceAddress,
		DestinationAddress: destinationAddress,
		Amount:             amount,
		Status:             types.StatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := d.store.Create(ctx, req); err != nil {
		return nil, nil, fmt.Errorf("can't create bridge request: %w", err)
	}
	logger := d.logger.WithFields(logrus.Fields{
		"request_id": req.RequestID,
		"direction":  req.Direction,
		"amount":     req.Amount,
	})
	logger.Info("bridge request created")

	id := req.RequestID
	h, err := d.pool.Submit(id, func(ctx context.Context) error {
		_, err := d.processor.Process(ctx, id, sourceSeed)
		return err
	})
	if err != nil {
		logger.WithError(err).Error("can't dispatch bridge request")
		failed := req.Clone()
		failedAt := d.now()
		failed.Status = types.StatusFailed
		failed.ErrorMessage = fmt.Sprintf("can't dispatch: %s", err.Error())
		failed.UpdatedAt = failedAt
		failed.CompletedAt = &failedAt
		if ferr := d.store.Finalize(ctx, failed); ferr != nil {
			logger.WithError(ferr).Error("can't finalize undispatched bridge request")
		}
		return failed, nil, err
	}
	return req, h, nil
}

func (d *Dispatcher) Status(ctx context.Context, requestID string) (*types.BridgeRequest, error) {
	return d.store.Get(ctx, requestID)
}

// ReconcileStale fails pending requests older than the stale period that no
// worker is handling. Their run was lost and can't be resumed safely.
func (d *Dispatcher) ReconcileStale(ctx context.Context) (int, error) {
	pending, err := d.store.ListByStatus(ctx, types.StatusPending, 0)
	if err != nil {
		return 0, fmt.Errorf("can't list pending bridge requests: %w", err)
	}
	cutoff := d.now().Add(-d.staleAfter)
	count := 0
	for _, req := range pending {
		if !req.CreatedAt.Before(cutoff) || d.pool.Active(req.RequestID) {
			continue
		}
		now := d.now()
		req.Status = types.StatusFailed
		req.ErrorMessage = msgInterrupted
		req.UpdatedAt = now
		req.CompletedAt = &now
		err := d.store.Finalize(ctx, req)
		if errors.Is(err, types.ErrConflict) {
			continue
		}
		if err != nil {
			return count, fmt.Errorf("can't finalize stale bridge request %s: %w", req.RequestID, err)
		}
		d.logger.WithFields(logrus.Fields{
			"request_id":     req.RequestID,
			"source_tx_hash": req.SourceTxHash,
		}).Warn("stale bridge request marked failed, operator action required")
		count++
	}
	return count, nil
}

// RunReconciler calls ReconcileStale every interval until ctx is done
func (d *Dispatcher) RunReconciler(ctx context.Context, interval time.Duration) {
	for utils.ContextSleep(ctx, interval) != nil {
		count, err := d.ReconcileStale(ctx)
		if err != nil {
			d.logger.WithError(err).Error("can't reconcile stale bridge requests")
			continue
		}
		if count > 0 {
			d.logger.WithField("count", count).Warn("stale bridge requests marked failed")
		}
	}
}
