package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/chainsafe/bridge-listener/pkg/config"
)

// transactionDao is the bun model backing the postgres store.
type transactionDao struct {
	bun.BaseModel `bun:"table:transactions"`

	ID string `bun:"id,pk"`
	// Seq is assigned by the database on insert and carries strict
	// insertion order; created_at alone cannot break same-timestamp
	// ties, and FIFO correlation needs the order to be total.
	Seq           int64     `bun:"seq,autoincrement"`
	Status        string    `bun:"status,notnull"`
	SourceTxHash  string    `bun:"source_tx_hash,notnull"`
	DestTxHash    *string   `bun:"dest_tx_hash"`
	Sender        string    `bun:"sender"`
	Recipient     string    `bun:"recipient"`
	Amount        string    `bun:"amount"`
	SourceChainID string    `bun:"source_chain_id"`
	Error         *string   `bun:"error"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
	UpdatedAt     time.Time `bun:"updated_at,notnull"`
}

func (d *transactionDao) toTransaction() *Transaction {
	tx := &Transaction{
		ID:           d.ID,
		Status:       Status(d.Status),
		SourceTxHash: d.SourceTxHash,
		Details: Details{
			Sender:        d.Sender,
			Recipient:     d.Recipient,
			Amount:        d.Amount,
			SourceChainID: d.SourceChainID,
		},
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	if d.DestTxHash != nil {
		tx.DestTxHash = *d.DestTxHash
	}
	if d.Error != nil {
		tx.Error = *d.Error
	}
	return tx
}

// PGStore is the bun-backed postgres transaction registry, for
// deployments where losing listener state on restart is not acceptable.
type PGStore struct {
	db  *bun.DB
	now func() time.Time
}

// ConnectDB creates a bun connection from database configuration.
func ConnectDB(cfg *config.DatabaseConfig) (*bun.DB, error) {
	connector := pgdriver.NewConnector(
		pgdriver.WithNetwork("tcp"),
		pgdriver.WithAddr(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)),
		pgdriver.WithUser(cfg.User),
		pgdriver.WithPassword(cfg.Password),
		pgdriver.WithDatabase(cfg.Database),
		pgdriver.WithInsecure(cfg.SSLMode == "disable"),
	)

	sqldb := sql.OpenDB(connector)
	db := bun.NewDB(sqldb, pgdialect.New())

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database %s: %w", cfg.Database, err)
	}
	return db, nil
}

// NewPGStore creates a postgres store and ensures its schema exists.
func NewPGStore(ctx context.Context, db *bun.DB) (*PGStore, error) {
	_, err := db.NewCreateTable().
		Model((*transactionDao)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactions table: %w", err)
	}
	return &PGStore{db: db, now: time.Now}, nil
}

// Create registers a new PENDING transaction.
func (s *PGStore) Create(ctx context.Context, sourceTxHash string, details Details) (*Transaction, error) {
	now := s.now()
	dao := &transactionDao{
		ID:            uuid.New().String(),
		Status:        string(StatusPending),
		SourceTxHash:  sourceTxHash,
		Sender:        details.Sender,
		Recipient:     details.Recipient,
		Amount:        details.Amount,
		SourceChainID: details.SourceChainID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if _, err := s.db.NewInsert().Model(dao).Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	return dao.toTransaction(), nil
}

// Get returns the transaction with the given id.
func (s *PGStore) Get(ctx context.Context, id string) (*Transaction, error) {
	dao := new(transactionDao)
	err := s.db.NewSelect().Model(dao).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return dao.toTransaction(), nil
}

// UpdateStatus moves a transaction forward through the state machine.
func (s *PGStore) UpdateStatus(ctx context.Context, id string, status Status, opts ...UpdateOption) error {
	o := applyUpdateOptions(opts)

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		dao := new(transactionDao)
		err := tx.NewSelect().Model(dao).Where("id = ?", id).For("UPDATE").Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			return fmt.Errorf("failed to load transaction: %w", err)
		}

		if !Status(dao.Status).CanTransitionTo(status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, dao.Status, status)
		}

		dao.Status = string(status)
		dao.UpdatedAt = s.now()
		if o.destTxHash != nil {
			dao.DestTxHash = o.destTxHash
		}
		if o.errMsg != nil {
			dao.Error = o.errMsg
		}

		_, err = tx.NewUpdate().
			Model(dao).
			Column("status", "updated_at", "dest_tx_hash", "error").
			Where("id = ?", id).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to update transaction: %w", err)
		}
		return nil
	})
}

// ListByStatus returns transactions with the given status, oldest first.
func (s *PGStore) ListByStatus(ctx context.Context, status Status) ([]*Transaction, error) {
	var daos []*transactionDao
	err := s.db.NewSelect().
		Model(&daos).
		Where("status = ?", string(status)).
		Order("seq ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions by status: %w", err)
	}

	out := make([]*Transaction, 0, len(daos))
	for _, dao := range daos {
		out = append(out, dao.toTransaction())
	}
	return out, nil
}

// List returns up to limit transactions, newest first.
func (s *PGStore) List(ctx context.Context, limit int) ([]*Transaction, error) {
	var daos []*transactionDao
	err := s.db.NewSelect().
		Model(&daos).
		Order("seq DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	out := make([]*Transaction, 0, len(daos))
	for _, dao := range daos {
		out = append(out, dao.toTransaction())
	}
	return out, nil
}

// Close closes the database connection.
func (s *PGStore) Close() error {
	return s.db.Close()
}
