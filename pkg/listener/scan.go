package listener

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/chainsafe/bridge-listener/internal/metrics"
	"github.com/chainsafe/bridge-listener/pkg/config"
	"github.com/chainsafe/bridge-listener/pkg/events"
	"github.com/chainsafe/bridge-listener/pkg/relay"
	"github.com/chainsafe/bridge-listener/pkg/store"
)

// scanRange resolves the block range for one direction's scan. It
// returns ok=false when there is nothing to scan this cycle: the client
// is disconnected (a reconnect was attempted, the scan is skipped
// entirely), the endpoint is unreachable, or no new blocks exist.
func (e *Engine) scanRange(ctx context.Context, s *scanState) (from, to uint64, ok bool) {
	name := s.client.Name()

	if !s.client.Connected() {
		e.logger.Warn("Chain disconnected, attempting to reconnect", zap.String("chain", name))
		if err := s.client.Connect(ctx); err != nil {
			metrics.ConnectivityErrors.WithLabelValues(name).Inc()
			e.logger.Warn("Reconnect failed", zap.String("chain", name), zap.Error(err))
		}
		return 0, 0, false
	}

	height, err := s.client.CurrentHeight(ctx)
	if err != nil {
		metrics.ConnectivityErrors.WithLabelValues(name).Inc()
		e.logger.Warn("Failed to get current height, skipping scan",
			zap.String("chain", name),
			zap.Error(err))
		return 0, 0, false
	}

	if !s.initialized {
		s.cursor = height
		s.initialized = true
		e.logger.Info("Scan cursor established",
			zap.String("chain", name),
			zap.Uint64("height", height))
		return 0, 0, false
	}

	if height <= s.cursor {
		return 0, 0, false
	}
	return s.cursor + 1, height, true
}

// fetchLogs queries one direction's bridge contract for a topic in a
// block range. A query failure is treated as "no logs"; the caller
// advances the cursor regardless.
func (e *Engine) fetchLogs(ctx context.Context, s *scanState, from, to uint64, topic common.Hash) []types.Log {
	logs, err := s.client.FilterLogs(ctx, from, to, s.contract, []common.Hash{topic})
	if err != nil {
		metrics.ConnectivityErrors.WithLabelValues(s.client.Name()).Inc()
		e.logger.Warn("Log query failed, treating range as empty",
			zap.String("chain", s.client.Name()),
			zap.Uint64("from", from),
			zap.Uint64("to", to),
			zap.Error(err))
		return nil
	}
	return logs
}

// advanceCursor moves one direction's cursor to the latest observed
// height after the whole range was processed.
func (e *Engine) advanceCursor(s *scanState, from, to uint64) {
	metrics.BlocksScanned.WithLabelValues(s.client.Name()).Add(float64(to - from + 1))
	metrics.LastProcessedBlock.WithLabelValues(s.client.Name()).Set(float64(to))
	s.cursor = to
}

// scanSource polls the source chain for deposit events. Each recognized
// deposit creates a PENDING transaction and is relayed synchronously
// within the same cycle.
func (e *Engine) scanSource(ctx context.Context) error {
	from, to, ok := e.scanRange(ctx, &e.source)
	if !ok {
		return nil
	}

	e.logger.Debug("Scanning source chain",
		zap.String("chain", e.source.client.Name()),
		zap.Uint64("from", from),
		zap.Uint64("to", to))

	logs := e.fetchLogs(ctx, &e.source, from, to, e.decoder.DepositTopic())
	for _, log := range logs {
		decoded, err := e.decoder.Decode(log)
		if err != nil {
			metrics.LogsSkipped.WithLabelValues(e.source.client.Name()).Inc()
			e.logger.Debug("Skipping undecodable log",
				zap.String("tx_hash", log.TxHash.Hex()),
				zap.Error(err))
			continue
		}
		if decoded.Kind != events.KindDeposit {
			metrics.LogsSkipped.WithLabelValues(e.source.client.Name()).Inc()
			continue
		}

		e.handleDeposit(ctx, decoded)
	}

	e.advanceCursor(&e.source, from, to)
	return nil
}

// handleDeposit creates the transaction record for a decoded deposit
// and dispatches the relay action. A store failure skips this event
// only: earlier deposits in the batch were already dispatched, so the
// cycle must not abort and rescan the range.
func (e *Engine) handleDeposit(ctx context.Context, decoded *events.Decoded) {
	dep := decoded.Deposit
	metrics.EventsDecoded.WithLabelValues(e.source.client.Name(), string(decoded.Kind)).Inc()

	details := store.Details{
		Sender:        dep.From.Hex(),
		Recipient:     dep.To.Hex(),
		Amount:        dep.Amount.String(),
		SourceChainID: dep.SourceChainID.String(),
	}

	tx, err := e.store.Create(ctx, decoded.TxHash.Hex(), details)
	if err != nil {
		metrics.LogsSkipped.WithLabelValues(e.source.client.Name()).Inc()
		e.logger.Error("Failed to create transaction for deposit, skipping event",
			zap.String("source_tx_hash", decoded.TxHash.Hex()),
			zap.Error(err))
		return
	}
	metrics.TransactionTransitions.WithLabelValues(string(store.StatusPending)).Inc()
	metrics.PendingTransactions.WithLabelValues(string(store.StatusPending)).Inc()

	e.logger.Info("Deposit detected, transaction created",
		zap.String("id", tx.ID),
		zap.String("source_tx_hash", tx.SourceTxHash),
		zap.String("amount", details.Amount),
		zap.String("recipient", details.Recipient))

	e.dispatchRelay(ctx, tx)
}

// dispatchRelay invokes the relay service for a newly created
// transaction and records the outcome. All outcomes are non-fatal.
func (e *Engine) dispatchRelay(ctx context.Context, tx *store.Transaction) {
	outcome := e.dispatcher.Dispatch(ctx, relay.Request{
		SourceTxID:    tx.ID,
		Recipient:     tx.Details.Recipient,
		Amount:        tx.Details.Amount,
		SourceChainID: tx.Details.SourceChainID,
	})
	metrics.RelayDispatches.WithLabelValues(string(outcome.Status)).Inc()

	var err error
	switch outcome.Status {
	case relay.Accepted:
		err = e.store.UpdateStatus(ctx, tx.ID, store.StatusRelayed)
		metrics.TransactionTransitions.WithLabelValues(string(store.StatusRelayed)).Inc()
		metrics.PendingTransactions.WithLabelValues(string(store.StatusPending)).Dec()
		metrics.PendingTransactions.WithLabelValues(string(store.StatusRelayed)).Inc()
	default:
		err = e.store.UpdateStatus(ctx, tx.ID, store.StatusFailed, store.WithError(outcome.Reason))
		metrics.TransactionTransitions.WithLabelValues(string(store.StatusFailed)).Inc()
		metrics.PendingTransactions.WithLabelValues(string(store.StatusPending)).Dec()
		e.logger.Error("Relay dispatch failed",
			zap.String("id", tx.ID),
			zap.String("outcome", string(outcome.Status)),
			zap.String("reason", outcome.Reason))
	}
	if err != nil {
		// Ids are never invalidated, so a failed update points at a
		// caller bug or a store fault. Logged, never fatal.
		e.logger.Error("Failed to update transaction status after dispatch",
			zap.String("id", tx.ID),
			zap.Error(err))
	}
}

// scanDestination polls the destination chain for completion events and
// correlates them against relayed transactions.
func (e *Engine) scanDestination(ctx context.Context) error {
	from, to, ok := e.scanRange(ctx, &e.dest)
	if !ok {
		return nil
	}

	e.logger.Debug("Scanning destination chain",
		zap.String("chain", e.dest.client.Name()),
		zap.Uint64("from", from),
		zap.Uint64("to", to))

	logs := e.fetchLogs(ctx, &e.dest, from, to, e.decoder.CompletionTopic())

	var completions []*events.Decoded
	for _, log := range logs {
		decoded, err := e.decoder.Decode(log)
		if err != nil {
			metrics.LogsSkipped.WithLabelValues(e.dest.client.Name()).Inc()
			e.logger.Debug("Skipping undecodable log",
				zap.String("tx_hash", log.TxHash.Hex()),
				zap.Error(err))
			continue
		}
		if decoded.Kind != events.KindCompletion {
			metrics.LogsSkipped.WithLabelValues(e.dest.client.Name()).Inc()
			continue
		}
		metrics.EventsDecoded.WithLabelValues(e.dest.client.Name(), string(decoded.Kind)).Inc()
		completions = append(completions, decoded)
	}

	if len(completions) > 0 {
		if err := e.correlate(ctx, completions); err != nil {
			return err
		}
	}

	e.advanceCursor(&e.dest, from, to)
	return nil
}

// correlate matches completion events from one scan batch against the
// in-order list of RELAYED transactions.
//
// Best-effort FIFO correlation: in the default mode each completion
// event completes the oldest relayed transaction, positionally, without
// verifying that the event's on-chain details belong to it. Production
// systems must correlate by a deterministic key, e.g. the source
// transaction hash echoed in the completion event — which is what the
// keyed mode does.
func (e *Engine) correlate(ctx context.Context, completions []*events.Decoded) error {
	relayed, err := e.store.ListByStatus(ctx, store.StatusRelayed)
	if err != nil {
		return fmt.Errorf("failed to list relayed transactions: %w", err)
	}
	if len(relayed) == 0 {
		e.logger.Warn("Completion events observed with no relayed transactions to match",
			zap.Int("events", len(completions)))
		return nil
	}

	if e.cfg.Listener.CorrelationMode == config.CorrelationKeyed {
		e.correlateKeyed(ctx, completions, relayed)
		return nil
	}
	e.correlateFIFO(ctx, completions, relayed)
	return nil
}

func (e *Engine) correlateFIFO(ctx context.Context, completions []*events.Decoded, relayed []*store.Transaction) {
	for _, completion := range completions {
		if len(relayed) == 0 {
			e.logger.Warn("Completion event with no remaining relayed transaction",
				zap.String("dest_tx_hash", completion.TxHash.Hex()))
			continue
		}
		// Head of the list so a later completion event in the same
		// batch cannot match the same transaction again.
		tx := relayed[0]
		relayed = relayed[1:]
		e.complete(ctx, tx, completion)
	}
}

func (e *Engine) correlateKeyed(ctx context.Context, completions []*events.Decoded, relayed []*store.Transaction) {
	bySourceTx := make(map[string]*store.Transaction, len(relayed))
	for _, tx := range relayed {
		bySourceTx[tx.SourceTxHash] = tx
	}

	for _, completion := range completions {
		key := completion.Completion.SourceTxHash.Hex()
		tx, ok := bySourceTx[key]
		if !ok {
			e.logger.Warn("Completion event does not match any relayed transaction",
				zap.String("source_tx_hash", key),
				zap.String("dest_tx_hash", completion.TxHash.Hex()))
			continue
		}
		delete(bySourceTx, key)
		e.complete(ctx, tx, completion)
	}
}

// complete marks one relayed transaction COMPLETED with the destination
// transaction hash attached.
func (e *Engine) complete(ctx context.Context, tx *store.Transaction, completion *events.Decoded) {
	err := e.store.UpdateStatus(ctx, tx.ID, store.StatusCompleted,
		store.WithDestTxHash(completion.TxHash.Hex()))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.logger.Error("Completion update targeted unknown transaction",
				zap.String("id", tx.ID))
			return
		}
		e.logger.Error("Failed to mark transaction completed",
			zap.String("id", tx.ID),
			zap.Error(err))
		return
	}
	metrics.TransactionTransitions.WithLabelValues(string(store.StatusCompleted)).Inc()
	metrics.PendingTransactions.WithLabelValues(string(store.StatusRelayed)).Dec()

	e.logger.Info("Transfer completed on destination chain",
		zap.String("id", tx.ID),
		zap.String("source_tx_hash", tx.SourceTxHash),
		zap.String("dest_tx_hash", completion.TxHash.Hex()))
}
