package types

import "errors"

var (
	ErrValidation         = errors.New("validation error")
	ErrDepositNotFound    = errors.New("deposit not found")
	ErrTransferFailed     = errors.New("transfer failed")
	ErrAdapterUnavailable = errors.New("chain adapter unavailable")
	ErrOptionalHook       = errors.New("post-transfer hook failed")

	ErrNotFound = errors.New("not found")
	// compare-and-set lost: the record is no longer pending
	ErrConflict = errors.New("bridge request is not pending")
)
