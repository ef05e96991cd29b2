// Package bridgetest has in-memory fakes of the bridge dependencies.
package bridgetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"xrplbridge/types"
	"xrplbridge/wallet"
)

// MemStore keeps requests in memory with the same compare-and-set rules as
// the redis and postgres stores
type MemStore struct {
	mu       sync.Mutex
	requests map[string]*types.BridgeRequest
	claims   map[string]string
}

func NewMemStore() *MemStore {
	return &MemStore{
		requests: make(map[string]*types.BridgeRequest),
		claims:   make(map[string]string),
	}
}

func (s *MemStore) Create(ctx context.Context, req *types.BridgeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.Status != types.StatusPending {
		return errors.New("bridge request must be created pending")
	}
	if _, ok := s.requests[req.RequestID]; ok {
		return fmt.Errorf("bridge request %s already exists", req.RequestID)
	}
	s.requests[req.RequestID] = req.Clone()
	return nil
}

func (s *MemStore) Get(ctx context.Context, id string) (*types.BridgeRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("bridge request %s: %w", id, types.ErrNotFound)
	}
	return req.Clone(), nil
}

func (s *MemStore) pending(id string) (*types.BridgeRequest, error) {
	req, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("bridge request %s: %w", id, types.ErrNotFound)
	}
	if req.Status != types.StatusPending {
		return nil, fmt.Errorf("bridge request %s: %w", id, types.ErrConflict)
	}
	return req, nil
}

func (s *MemStore) UpdatePending(ctx context.Context, req *types.BridgeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, err := s.pending(req.RequestID)
	if err != nil {
		return err
	}
	stored.DestinationAddress = req.DestinationAddress
	stored.EstimatedFee = req.EstimatedFee
	stored.UpdatedAt = req.UpdatedAt
	return nil
}

func (s *MemStore) ClaimSourceTx(ctx context.Context, req *types.BridgeRequest) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, err := s.pending(req.RequestID)
	if err != nil {
		return false, err
	}
	key := strings.ToLower(req.SourceTxHash)
	if owner, ok := s.claims[key]; ok && owner != req.RequestID {
		return false, nil
	}
	s.claims[key] = req.RequestID
	stored.SourceTxHash = req.SourceTxHash
	stored.UpdatedAt = req.UpdatedAt
	return true, nil
}

func (s *MemStore) SourceTxClaimedBy(ctx context.Context, txHash string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claims[strings.ToLower(txHash)], nil
}

func (s *MemStore) Finalize(ctx context.Context, req *types.BridgeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !req.Status.IsTerminal() {
		return fmt.Errorf("%s is not a terminal status", req.Status)
	}
	if _, err := s.pending(req.RequestID); err != nil {
		return err
	}
	s.requests[req.RequestID] = req.Clone()
	return nil
}

func (s *MemStore) list(match func(*types.BridgeRequest) bool, limit int) []*types.BridgeRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	reqs := make([]*types.BridgeRequest, 0)
	for _, req := range s.requests {
		if match(req) {
			reqs = append(reqs, req.Clone())
		}
	}
	sort.Slice(reqs, func(i, j int) bool {
		return reqs[i].CreatedAt.After(reqs[j].CreatedAt)
	})
	if limit > 0 && len(reqs) > limit {
		reqs = reqs[:limit]
	}
	return reqs
}

func (s *MemStore) ListByStatus(ctx context.Context, status types.Status, limit int) ([]*types.BridgeRequest, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", types.ErrValidation, status)
	}
	return s.list(func(r *types.BridgeRequest) bool { return r.Status == status }, limit), nil
}

func (s *MemStore) ListBySourceAddress(ctx context.Context, address string, limit int) ([]*types.BridgeRequest, error) {
	return s.list(func(r *types.BridgeRequest) bool { return strings.EqualFold(r.SourceAddress, address) }, limit), nil
}

func (s *MemStore) CountCreatedSince(ctx context.Context, since time.Time) (int, error) {
	return len(s.list(func(r *types.BridgeRequest) bool { return !r.CreatedAt.Before(since) }, 0)), nil
}

type PaymentCall struct {
	Destination string
	Amount      string
}

type TransferCall struct {
	From   string
	Secret string
	Amount string
}

type ContractCall struct {
	Wallet   string
	Contract string
	Method   string
	Amount   string
}

// Chain is a scriptable chain adapter recording every call made to it
type Chain struct {
	Name string

	// SendFunc replaces the default SendPayment behaviour when set
	SendFunc    func(destination, amount string) (*types.Payment, error)
	SendErr     error
	Unconfirmed bool
	// NoDeposit makes ConfirmDeposit report nothing found
	NoDeposit  bool
	DepositErr error
	// DepositHash is returned for every deposit instead of a unique hash
	DepositHash string
	// DepositAmount overrides the amount of the found deposit
	DepositAmount string
	// BeforeDeposit runs at the start of every ConfirmDeposit call
	BeforeDeposit func(q types.DepositQuery)
	TransferErr error
	CallErr     error
	Balances    map[string]string
	// Gate blocks SendPayment until it is closed
	Gate chan struct{}

	mu        sync.Mutex
	seq       int
	payments  []PaymentCall
	transfers []TransferCall
	queries   []types.DepositQuery
	calls     []ContractCall
}

func NewChain(name string) *Chain {
	return &Chain{Name: name, Balances: make(map[string]string)}
}

func (c *Chain) nextHash(kind string) string {
	c.seq++
	return fmt.Sprintf("%s-%s-%d", c.Name, kind, c.seq)
}

func (c *Chain) SendPayment(ctx context.Context, destination, amount string) (*types.Payment, error) {
	if c.Gate != nil {
		select {
		case <-c.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payments = append(c.payments, PaymentCall{Destination: destination, Amount: amount})
	if c.SendFunc != nil {
		return c.SendFunc(destination, amount)
	}
	if c.SendErr != nil {
		return nil, c.SendErr
	}
	return &types.Payment{TxHash: c.nextHash("payment"), Confirmed: !c.Unconfirmed}, nil
}

func (c *Chain) TransferToBridge(ctx context.Context, from, secret, amount string) (*types.Payment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transfers = append(c.transfers, TransferCall{From: from, Secret: secret, Amount: amount})
	if c.TransferErr != nil {
		return nil, c.TransferErr
	}
	return &types.Payment{TxHash: c.nextHash("transfer"), Confirmed: true}, nil
}

func (c *Chain) ConfirmDeposit(ctx context.Context, q types.DepositQuery) (*types.Transaction, error) {
	if c.BeforeDeposit != nil {
		c.BeforeDeposit(q)
	}
	c.mu.Lock()
	c.queries = append(c.queries, q)
	if c.DepositErr != nil || c.NoDeposit {
		defer c.mu.Unlock()
		return nil, c.DepositErr
	}
	hash := q.TxHash
	if hash == "" {
		hash = c.DepositHash
	}
	if hash == "" {
		hash = c.nextHash("deposit")
	}
	amount := q.Amount
	if c.DepositAmount != "" {
		amount = c.DepositAmount
	}
	c.mu.Unlock()

	if q.TxHash == "" && q.Excluded(ctx, hash) {
		return nil, nil
	}
	return &types.Transaction{
		Hash:      hash,
		From:      q.SourceAddress,
		Amount:    amount,
		Timestamp: time.Now(),
	}, nil
}

func (c *Chain) Balance(ctx context.Context, address string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if balance, ok := c.Balances[address]; ok {
		return balance, nil
	}
	return "0", nil
}

func (c *Chain) Status(ctx context.Context, txHash string) (types.TxStatus, error) {
	if strings.HasPrefix(txHash, c.Name+"-") {
		return types.TxConfirmed, nil
	}
	return types.TxUnknown, nil
}

func (c *Chain) CallContract(ctx context.Context, w *wallet.Wallet, contract, method, amount string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, ContractCall{Wallet: w.Address, Contract: contract, Method: method, Amount: amount})
	if c.CallErr != nil {
		return "", c.CallErr
	}
	return c.nextHash("call"), nil
}

func (c *Chain) Payments() []PaymentCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]PaymentCall(nil), c.payments...)
}

func (c *Chain) Transfers() []TransferCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]TransferCall(nil), c.transfers...)
}

func (c *Chain) Queries() []types.DepositQuery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.DepositQuery(nil), c.queries...)
}

func (c *Chain) ContractCalls() []ContractCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ContractCall(nil), c.calls...)
}

type FailingFees struct{}

func (FailingFees) Estimate(ctx context.Context, sourceChain, destChain, asset string) (string, error) {
	return "", errors.New("fee oracle is down")
}
