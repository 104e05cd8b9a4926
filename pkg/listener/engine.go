package listener

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/chainsafe/bridge-listener/internal/metrics"
	"github.com/chainsafe/bridge-listener/pkg/config"
	"github.com/chainsafe/bridge-listener/pkg/events"
	"github.com/chainsafe/bridge-listener/pkg/relay"
	"github.com/chainsafe/bridge-listener/pkg/store"
)

// ChainClient defines the chain query operations the engine needs
type ChainClient interface {
	Name() string
	Connected() bool
	Connect(ctx context.Context) error
	CurrentHeight(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, from, to uint64, address common.Address, topics []common.Hash) ([]types.Log, error)
}

// EventDecoder defines the log decoding operations the engine needs
type EventDecoder interface {
	Decode(log types.Log) (*events.Decoded, error)
	DepositTopic() common.Hash
	CompletionTopic() common.Hash
}

// RelayDispatcher defines the relay invocation the engine needs
type RelayDispatcher interface {
	Dispatch(ctx context.Context, req relay.Request) relay.Outcome
}

// scanState tracks one chain direction: its query client, the bridge
// contract being watched, and the last fully processed block height.
type scanState struct {
	client   ChainClient
	contract common.Address

	// cursor is the last block height fully processed. It never moves
	// backward and advances to the latest observed height each cycle,
	// whether or not any event was found.
	cursor      uint64
	initialized bool
}

// Engine drives the poll loop: scan source, scan destination, sleep,
// repeat. Execution is strictly sequential; the store is only touched
// from the loop goroutine, and the stop signal is observed between
// cycles, never mid-cycle.
type Engine struct {
	cfg        *config.Config
	source     scanState
	dest       scanState
	decoder    EventDecoder
	store      store.Store
	dispatcher RelayDispatcher
	logger     *zap.Logger

	ready    atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewEngine creates the listener engine.
func NewEngine(
	cfg *config.Config,
	source ChainClient,
	dest ChainClient,
	decoder EventDecoder,
	txStore store.Store,
	dispatcher RelayDispatcher,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		cfg: cfg,
		source: scanState{
			client:   source,
			contract: common.HexToAddress(cfg.Source.BridgeContract),
		},
		dest: scanState{
			client:   dest,
			contract: common.HexToAddress(cfg.Destination.BridgeContract),
		},
		decoder:    decoder,
		store:      txStore,
		dispatcher: dispatcher,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// Start initializes the scan cursors and launches the poll loop.
func (e *Engine) Start(ctx context.Context) {
	e.logger.Info("Starting listener engine",
		zap.String("source", e.source.client.Name()),
		zap.String("destination", e.dest.client.Name()),
		zap.Duration("poll_interval", e.cfg.Listener.PollInterval),
		zap.String("correlation_mode", string(e.cfg.Listener.CorrelationMode)))

	e.initCursor(ctx, &e.source, e.cfg.Source.StartBlock)
	e.initCursor(ctx, &e.dest, e.cfg.Destination.StartBlock)

	e.wg.Add(1)
	go e.run(ctx)
}

// Stop signals the loop to exit after the current iteration and waits
// for it.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
	})
	e.wg.Wait()
	e.logger.Info("Listener engine stopped")
}

// IsReady reports whether at least one full poll cycle has completed.
func (e *Engine) IsReady() bool {
	return e.ready.Load()
}

// initCursor establishes the starting height for one direction: the
// configured start block if set, otherwise the current height at
// startup, so historical events are never scanned. If the endpoint is
// unreachable the cursor stays unset and the first successful cycle
// establishes it.
func (e *Engine) initCursor(ctx context.Context, s *scanState, startBlock uint64) {
	if startBlock > 0 {
		s.cursor = startBlock
		s.initialized = true
		e.logger.Info("Scan cursor set from configuration",
			zap.String("chain", s.client.Name()),
			zap.Uint64("start_block", startBlock))
		return
	}

	height, err := s.client.CurrentHeight(ctx)
	if err != nil {
		e.logger.Warn("Could not probe chain height at startup, cursor will be set on first scan",
			zap.String("chain", s.client.Name()),
			zap.Error(err))
		return
	}
	s.cursor = height
	s.initialized = true
	e.logger.Info("Scan cursor set to current height",
		zap.String("chain", s.client.Name()),
		zap.Uint64("height", height))
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := e.runCycle(ctx); err != nil {
			metrics.CycleErrors.Inc()
			e.logger.Error("Unhandled error in poll cycle, backing off",
				zap.Error(err),
				zap.Duration("backoff", e.cfg.Listener.ErrorBackoff))
			if !e.sleep(e.cfg.Listener.ErrorBackoff) {
				return
			}
			continue
		}

		e.ready.Store(true)
		if !e.sleep(e.cfg.Listener.PollInterval) {
			return
		}
	}
}

// runCycle executes one sequential scan pass. Anything that escapes the
// per-step recovery paths, including a panic, surfaces here as an error
// so the loop can back off and continue.
func (e *Engine) runCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("poll cycle panicked: %v", r)
		}
	}()

	if err := e.scanSource(ctx); err != nil {
		return fmt.Errorf("source scan: %w", err)
	}
	if err := e.scanDestination(ctx); err != nil {
		return fmt.Errorf("destination scan: %w", err)
	}
	return nil
}

// sleep waits for d, returning false if a stop was requested meanwhile.
func (e *Engine) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-e.stopCh:
		return false
	case <-timer.C:
		return true
	}
}
