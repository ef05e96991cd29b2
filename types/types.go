package types

import (
	"context"
	"time"
)

// chain names as used by the bridge network and the fee estimator
const (
	CHAIN_XRPL = "xrpl"
	CHAIN_EVM  = "xrpl-evm"
	ASSET_XRP  = "XRP"
)

type Direction string

const (
	DirectionXRPLToEVM Direction = "xrpl_to_evm"
	DirectionEVMToXRPL Direction = "evm_to_xrpl"
)

func (d Direction) Valid() bool {
	return d == DirectionXRPLToEVM || d == DirectionEVMToXRPL
}

// SourceChain and DestChain return the chain names for the direction
func (d Direction) SourceChain() string {
	if d == DirectionEVMToXRPL {
		return CHAIN_EVM
	}
	return CHAIN_XRPL
}

func (d Direction) DestChain() string {
	if d == DirectionEVMToXRPL {
		return CHAIN_XRPL
	}
	return CHAIN_EVM
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	// reserved, nothing transitions a request here yet
	StatusRefunded Status = "refunded"
)

var AllStatuses = []Status{StatusPending, StatusCompleted, StatusFailed, StatusRefunded}

func (s Status) Valid() bool {
	for _, st := range AllStatuses {
		if s == st {
			return true
		}
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// outcome of the optional post-transfer contract call, never affects Status
const (
	HookStatusCompleted = "completed"
	HookStatusFailed    = "failed"
)

// Bridge request is a single bridge attempt (deposit on source chain and
// payment on destination chain) having a status
type BridgeRequest struct {
	RequestID          string     `json:"requestId"`
	Direction          Direction  `json:"direction"`
	SourceAddress      string     `json:"sourceAddress"`
	DestinationAddress string     `json:"destinationAddress,omitempty"` // minted for xrpl_to_evm when not provided
	Amount             string     `json:"amount"`                       // decimal string in XRP, never converted to float
	Status             Status     `json:"status"`
	SourceTxHash       string     `json:"sourceTxHash,omitempty"`      // transaction where funds are received by bridge
	DestinationTxHash  string     `json:"destinationTxHash,omitempty"` // transaction where funds are sent by bridge
	ErrorMessage       string     `json:"errorMessage,omitempty"`
	EstimatedFee       string     `json:"estimatedFee,omitempty"`
	HookStatus         string     `json:"hookStatus,omitempty"`
	HookTxHash         string     `json:"hookTxHash,omitempty"`
	HookMessage        string     `json:"hookMessage,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`
}

// Clone returns a copy safe to mutate without touching the original
func (r *BridgeRequest) Clone() *BridgeRequest {
	if r == nil {
		return nil
	}
	c := *r
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Payment is the result of a value transfer submitted by a chain adapter
type Payment struct {
	TxHash    string
	Confirmed bool
}

// Transaction is an incoming transfer observed on a chain
type Transaction struct {
	Hash      string
	From      string
	To        string
	Amount    string // decimal string in XRP
	Timestamp time.Time
}

type TxStatus string

const (
	TxConfirmed TxStatus = "confirmed"
	TxPending   TxStatus = "pending"
	TxFailed    TxStatus = "failed"
	TxUnknown   TxStatus = "unknown"
)

// DepositQuery describes the incoming payment a chain adapter looks for.
// With TxHash set only that transaction is checked.
type DepositQuery struct {
	SourceAddress string
	Amount        string
	TxHash        string
	// transactions older than Since are ignored while polling
	Since time.Time
	// Exclude reports hashes that must not be matched, e.g. already claimed
	Exclude func(ctx context.Context, txHash string) bool
}

func (q DepositQuery) Excluded(ctx context.Context, txHash string) bool {
	return q.Exclude != nil && q.Exclude(ctx, txHash)
}
