package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when an update or lookup targets an unknown
// transaction id. Records are never deleted, so callers treat this as a
// caller-side bug: logged, never fatal.
var ErrNotFound = errors.New("transaction not found")

// ErrInvalidTransition is returned when an update would move a
// transaction backward or out of a terminal status.
var ErrInvalidTransition = errors.New("invalid status transition")

// Store is the registry of cross-chain transactions. The listener runs
// against the in-memory implementation by default; the bun-backed
// postgres implementation substitutes without touching the orchestrator.
// Neither implementation ever removes a record.
type Store interface {
	// Create registers a new PENDING transaction and returns it.
	Create(ctx context.Context, sourceTxHash string, details Details) (*Transaction, error)
	// Get returns the transaction with the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Transaction, error)
	// UpdateStatus moves a transaction to a new status, refreshing
	// UpdatedAt. Options attach the destination tx hash or an error
	// message. Returns ErrNotFound for unknown ids and
	// ErrInvalidTransition for backward moves.
	UpdateStatus(ctx context.Context, id string, status Status, opts ...UpdateOption) error
	// ListByStatus returns transactions with the given status in
	// insertion order, oldest first.
	ListByStatus(ctx context.Context, status Status) ([]*Transaction, error)
	// List returns up to limit transactions, newest first.
	List(ctx context.Context, limit int) ([]*Transaction, error)
	// Close releases any resources held by the store.
	Close() error
}

type updateOptions struct {
	destTxHash *string
	errMsg     *string
}

// UpdateOption attaches extra details to a status update.
type UpdateOption func(*updateOptions)

// WithDestTxHash records the destination chain transaction hash.
func WithDestTxHash(hash string) UpdateOption {
	return func(o *updateOptions) {
		o.destTxHash = &hash
	}
}

// WithError records the failure reason.
func WithError(msg string) UpdateOption {
	return func(o *updateOptions) {
		o.errMsg = &msg
	}
}

func applyUpdateOptions(opts []UpdateOption) updateOptions {
	var o updateOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
