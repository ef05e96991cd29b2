package handlers

import (
	"context"
	"time"

	"xrplbridge/types"
)

// Store is the read side of the request store used by operator routes
type Store interface {
	ListByStatus(ctx context.Context, status types.Status, limit int) ([]*types.BridgeRequest, error)
	CountCreatedSince(ctx context.Context, since time.Time) (int, error)
}

type BalanceReader interface {
	Balance(ctx context.Context, address string) (string, error)
}

type Handlers struct {
	Dispatcher Dispatcher
	Store      Store
	XRPL       BalanceReader
	EVM        BalanceReader

	XRPLBridgeAddress string
	EVMBridgeAddress  string
	// StatsLimit caps the records returned by Stats, 0 means no limit
	StatsLimit int
}
