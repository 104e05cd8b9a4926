package store

import (
	"time"
)

// Status represents the current state of a cross-chain transaction
type Status string

const (
	// StatusPending means the deposit was detected on the source chain
	StatusPending Status = "PENDING"
	// StatusRelayed means the relay service accepted the transaction
	StatusRelayed Status = "RELAYED"
	// StatusCompleted means the transfer was confirmed on the destination chain
	StatusCompleted Status = "COMPLETED"
	// StatusFailed means relay dispatch was rejected or errored
	StatusFailed Status = "FAILED"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRelayed, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is legal.
// Statuses only move forward: PENDING -> RELAYED -> COMPLETED, with
// FAILED reachable from PENDING and RELAYED. COMPLETED and FAILED are
// terminal.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusRelayed || next == StatusFailed
	case StatusRelayed:
		return next == StatusCompleted || next == StatusFailed
	}
	return false
}

// Details holds the decoded deposit event fields attached to a
// transaction at creation.
type Details struct {
	Sender        string `json:"sender"`
	Recipient     string `json:"recipient"`
	Amount        string `json:"amount"`
	SourceChainID string `json:"source_chain_id"`
}

// Transaction represents one cross-chain transfer tracked by the
// listener. ID never changes after creation; DestTxHash is set only on
// the transition to COMPLETED; Error only on FAILED.
type Transaction struct {
	ID           string    `json:"id"`
	Status       Status    `json:"status"`
	SourceTxHash string    `json:"source_tx_hash"`
	DestTxHash   string    `json:"dest_tx_hash,omitempty"`
	Details      Details   `json:"details"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
