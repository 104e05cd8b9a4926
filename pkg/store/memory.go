package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is the default, in-memory transaction registry. State is
// lost on restart; durability is an external responsibility (see the
// postgres implementation). The orchestrator is single-threaded, but the
// HTTP API reads concurrently, so access is guarded by a mutex.
type MemoryStore struct {
	mu    sync.RWMutex
	byID  map[string]*Transaction
	order []string

	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID: make(map[string]*Transaction),
		now:  time.Now,
	}
}

// Create registers a new PENDING transaction.
func (s *MemoryStore) Create(_ context.Context, sourceTxHash string, details Details) (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	tx := &Transaction{
		ID:           uuid.New().String(),
		Status:       StatusPending,
		SourceTxHash: sourceTxHash,
		Details:      details,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.byID[tx.ID] = tx
	s.order = append(s.order, tx.ID)

	out := *tx
	return &out, nil
}

// Get returns a copy of the transaction with the given id.
func (s *MemoryStore) Get(_ context.Context, id string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	out := *tx
	return &out, nil
}

// UpdateStatus moves a transaction forward through the state machine.
func (s *MemoryStore) UpdateStatus(_ context.Context, id string, status Status, opts ...UpdateOption) error {
	o := applyUpdateOptions(opts)

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !tx.Status.CanTransitionTo(status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, tx.Status, status)
	}

	tx.Status = status
	tx.UpdatedAt = s.now()
	if o.destTxHash != nil {
		tx.DestTxHash = *o.destTxHash
	}
	if o.errMsg != nil {
		tx.Error = *o.errMsg
	}
	return nil
}

// ListByStatus returns transactions with the given status in insertion
// order, oldest first.
func (s *MemoryStore) ListByStatus(_ context.Context, status Status) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Transaction
	for _, id := range s.order {
		tx := s.byID[id]
		if tx.Status == status {
			cp := *tx
			out = append(out, &cp)
		}
	}
	return out, nil
}

// List returns up to limit transactions, newest first.
func (s *MemoryStore) List(_ context.Context, limit int) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Transaction
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *s.byID[s.order[i]]
		out = append(out, &cp)
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
