package listener

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/chainsafe/bridge-listener/pkg/config"
	"github.com/chainsafe/bridge-listener/pkg/events"
	"github.com/chainsafe/bridge-listener/pkg/relay"
	"github.com/chainsafe/bridge-listener/pkg/store"
)

const (
	testSourceContract = "0x000000000000000000000000000000000000aaaa"
	testDestContract   = "0x000000000000000000000000000000000000bbbb"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Source.Name = "source"
	cfg.Source.BridgeContract = testSourceContract
	cfg.Destination.Name = "destination"
	cfg.Destination.BridgeContract = testDestContract
	cfg.Listener.PollInterval = 10 * time.Millisecond
	cfg.Listener.ErrorBackoff = 10 * time.Millisecond
	cfg.Listener.CorrelationMode = config.CorrelationFIFO
	return cfg
}

type testEnv struct {
	engine     *Engine
	source     *MockChainClient
	dest       *MockChainClient
	decoder    *events.Decoder
	store      *store.MemoryStore
	dispatcher *MockDispatcher
}

func newTestEnv(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()

	decoder, err := events.NewDecoder()
	if err != nil {
		t.Fatalf("failed to build decoder: %v", err)
	}

	env := &testEnv{
		source:     &MockChainClient{NameVal: "source", ConnectedVal: true},
		dest:       &MockChainClient{NameVal: "destination", ConnectedVal: true},
		decoder:    decoder,
		store:      store.NewMemoryStore(),
		dispatcher: &MockDispatcher{},
	}
	env.engine = NewEngine(cfg, env.source, env.dest, decoder, env.store, env.dispatcher, zap.NewNop())
	return env
}

// setCursor places one direction's cursor as if a previous cycle had
// completed at that height.
func setCursor(s *scanState, height uint64) {
	s.cursor = height
	s.initialized = true
}

func TestScanSource_NoNewBlocks(t *testing.T) {
	env := newTestEnv(t, testConfig())
	setCursor(&env.engine.source, 100)
	env.source.CurrentHeightFunc = func(ctx context.Context) (uint64, error) {
		return 100, nil
	}

	if err := env.engine.scanSource(context.Background()); err != nil {
		t.Fatalf("scanSource failed: %v", err)
	}

	if env.engine.source.cursor != 100 {
		t.Errorf("cursor should stay at 100, got %d", env.engine.source.cursor)
	}
	if env.source.FilterLogsCalls != 0 {
		t.Errorf("no log query should happen without new blocks")
	}
}

func TestScanSource_DepositCreatesAndRelays(t *testing.T) {
	env := newTestEnv(t, testConfig())
	setCursor(&env.engine.source, 100)

	from := common.HexToAddress("0x1111111111111111111111111111111111111111")
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")
	depositTx := common.HexToHash("0xd1")

	env.source.CurrentHeightFunc = func(ctx context.Context) (uint64, error) {
		return 105, nil
	}
	env.source.FilterLogsFunc = func(ctx context.Context, fromBlock, toBlock uint64, address common.Address, topics []common.Hash) ([]types.Log, error) {
		if fromBlock != 101 || toBlock != 105 {
			t.Errorf("expected range [101, 105], got [%d, %d]", fromBlock, toBlock)
		}
		if address != common.HexToAddress(testSourceContract) {
			t.Errorf("unexpected contract address %s", address.Hex())
		}
		if len(topics) != 1 || topics[0] != env.decoder.DepositTopic() {
			t.Errorf("expected deposit topic filter, got %v", topics)
		}
		return []types.Log{
			depositLog(env.decoder, 103, depositTx, from, to, big.NewInt(1000), big.NewInt(5)),
		}, nil
	}

	// Verify the record is PENDING at dispatch time, before the
	// outcome is applied.
	var statusAtDispatch store.Status
	env.dispatcher.DispatchFunc = func(ctx context.Context, req relay.Request) relay.Outcome {
		tx, err := env.store.Get(ctx, req.SourceTxID)
		if err != nil {
			t.Fatalf("transaction not in store at dispatch time: %v", err)
		}
		statusAtDispatch = tx.Status
		return relay.Outcome{Status: relay.Accepted}
	}

	if err := env.engine.scanSource(context.Background()); err != nil {
		t.Fatalf("scanSource failed: %v", err)
	}

	if statusAtDispatch != store.StatusPending {
		t.Errorf("expected PENDING at dispatch time, got %s", statusAtDispatch)
	}
	if env.engine.source.cursor != 105 {
		t.Errorf("cursor should advance to 105, got %d", env.engine.source.cursor)
	}

	if len(env.dispatcher.Requests) != 1 {
		t.Fatalf("expected 1 dispatch, got %d", len(env.dispatcher.Requests))
	}
	req := env.dispatcher.Requests[0]
	if req.Recipient != to.Hex() || req.Amount != "1000" || req.SourceChainID != "5" {
		t.Errorf("unexpected relay request: %+v", req)
	}

	relayed, err := env.store.ListByStatus(context.Background(), store.StatusRelayed)
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(relayed) != 1 {
		t.Fatalf("expected 1 relayed transaction, got %d", len(relayed))
	}
	if relayed[0].SourceTxHash != depositTx.Hex() {
		t.Errorf("expected source tx hash %s, got %s", depositTx.Hex(), relayed[0].SourceTxHash)
	}
	if req.SourceTxID != relayed[0].ID {
		t.Errorf("dispatch should reference the created transaction id")
	}
}

func TestScanSource_DispatchRejected(t *testing.T) {
	env := newTestEnv(t, testConfig())
	setCursor(&env.engine.source, 100)

	env.source.CurrentHeightFunc = func(ctx context.Context) (uint64, error) {
		return 101, nil
	}
	env.source.FilterLogsFunc = func(ctx context.Context, from, to uint64, address common.Address, topics []common.Hash) ([]types.Log, error) {
		return []types.Log{
			depositLog(env.decoder, 101, common.HexToHash("0xd2"),
				common.HexToAddress("0x1"), common.HexToAddress("0x2"),
				big.NewInt(7), big.NewInt(1)),
		}, nil
	}
	env.dispatcher.DispatchFunc = func(ctx context.Context, req relay.Request) relay.Outcome {
		return relay.Outcome{Status: relay.Rejected, Reason: "relayer not configured"}
	}

	if err := env.engine.scanSource(context.Background()); err != nil {
		t.Fatalf("scanSource failed: %v", err)
	}

	failed, err := env.store.ListByStatus(context.Background(), store.StatusFailed)
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("expected 1 failed transaction, got %d", len(failed))
	}
	if failed[0].Error == "" {
		t.Error("FAILED transaction must carry a non-empty error detail")
	}
}

func TestScanSource_NetworkErrorFails(t *testing.T) {
	env := newTestEnv(t, testConfig())
	setCursor(&env.engine.source, 10)

	env.source.CurrentHeightFunc = func(ctx context.Context) (uint64, error) {
		return 11, nil
	}
	env.source.FilterLogsFunc = func(ctx context.Context, from, to uint64, address common.Address, topics []common.Hash) ([]types.Log, error) {
		return []types.Log{
			depositLog(env.decoder, 11, common.HexToHash("0xd3"),
				common.HexToAddress("0x1"), common.HexToAddress("0x2"),
				big.NewInt(7), big.NewInt(1)),
		}, nil
	}
	env.dispatcher.DispatchFunc = func(ctx context.Context, req relay.Request) relay.Outcome {
		return relay.Outcome{Status: relay.NetworkError, Reason: "connection refused"}
	}

	if err := env.engine.scanSource(context.Background()); err != nil {
		t.Fatalf("scanSource failed: %v", err)
	}

	failed, _ := env.store.ListByStatus(context.Background(), store.StatusFailed)
	if len(failed) != 1 || failed[0].Error != "connection refused" {
		t.Fatalf("expected 1 failed transaction with reason, got %+v", failed)
	}
}

func TestScanSource_Disconnected(t *testing.T) {
	env := newTestEnv(t, testConfig())
	setCursor(&env.engine.source, 100)
	env.source.ConnectedVal = false
	env.source.ConnectFunc = func(ctx context.Context) error {
		return fmt.Errorf("still down")
	}
	heightCalls := 0
	env.source.CurrentHeightFunc = func(ctx context.Context) (uint64, error) {
		heightCalls++
		return 200, nil
	}

	if err := env.engine.scanSource(context.Background()); err != nil {
		t.Fatalf("scanSource failed: %v", err)
	}

	if env.source.ConnectCalls != 1 {
		t.Errorf("expected 1 reconnect attempt, got %d", env.source.ConnectCalls)
	}
	if heightCalls != 0 {
		t.Error("disconnected cycle must not scan at all")
	}
	if env.engine.source.cursor != 100 {
		t.Errorf("cursor must not move on a skipped cycle, got %d", env.engine.source.cursor)
	}
}

func TestScanSource_HeightUnavailable(t *testing.T) {
	env := newTestEnv(t, testConfig())
	setCursor(&env.engine.source, 100)
	env.source.CurrentHeightFunc = func(ctx context.Context) (uint64, error) {
		return 0, fmt.Errorf("endpoint unreachable")
	}

	if err := env.engine.scanSource(context.Background()); err != nil {
		t.Fatalf("scanSource failed: %v", err)
	}

	if env.engine.source.cursor != 100 {
		t.Errorf("cursor must stay at 100, got %d", env.engine.source.cursor)
	}
	if env.source.FilterLogsCalls != 0 {
		t.Error("no scan should happen when the height is unavailable")
	}
}

func TestScanSource_LogQueryFailureAdvancesCursor(t *testing.T) {
	env := newTestEnv(t, testConfig())
	setCursor(&env.engine.source, 100)
	env.source.CurrentHeightFunc = func(ctx context.Context) (uint64, error) {
		return 110, nil
	}
	env.source.FilterLogsFunc = func(ctx context.Context, from, to uint64, address common.Address, topics []common.Hash) ([]types.Log, error) {
		return nil, fmt.Errorf("rpc: request too large")
	}

	if err := env.engine.scanSource(context.Background()); err != nil {
		t.Fatalf("scanSource failed: %v", err)
	}

	// A failed log query is treated as an empty range.
	if env.engine.source.cursor != 110 {
		t.Errorf("cursor should advance to 110 regardless, got %d", env.engine.source.cursor)
	}
	if txs, _ := env.store.List(context.Background(), 10); len(txs) != 0 {
		t.Errorf("no transactions should exist, got %d", len(txs))
	}
}

func TestScanSource_UnrecognizedLogSkipped(t *testing.T) {
	env := newTestEnv(t, testConfig())
	setCursor(&env.engine.source, 100)
	env.source.CurrentHeightFunc = func(ctx context.Context) (uint64, error) {
		return 101, nil
	}
	env.source.FilterLogsFunc = func(ctx context.Context, from, to uint64, address common.Address, topics []common.Hash) ([]types.Log, error) {
		return []types.Log{
			{Topics: []common.Hash{common.HexToHash("0xffff")}, BlockNumber: 101},
			{BlockNumber: 101}, // no topics at all
		}, nil
	}

	if err := env.engine.scanSource(context.Background()); err != nil {
		t.Fatalf("scanSource failed: %v", err)
	}

	if txs, _ := env.store.List(context.Background(), 10); len(txs) != 0 {
		t.Errorf("unrecognized logs must not create transactions, got %d", len(txs))
	}
	if env.engine.source.cursor != 101 {
		t.Errorf("cursor should advance to 101, got %d", env.engine.source.cursor)
	}
}

// faultingStore fails the nth Create call, passing everything else
// through to the wrapped store.
type faultingStore struct {
	store.Store
	createCalls int
	failOn      int
}

func (s *faultingStore) Create(ctx context.Context, sourceTxHash string, details store.Details) (*store.Transaction, error) {
	s.createCalls++
	if s.createCalls == s.failOn {
		return nil, fmt.Errorf("write transactions: connection reset by peer")
	}
	return s.Store.Create(ctx, sourceTxHash, details)
}

func TestScanSource_CreateFailureDoesNotDuplicate(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.engine.store = &faultingStore{Store: env.store, failOn: 2}
	setCursor(&env.engine.source, 100)
	ctx := context.Background()

	env.source.CurrentHeightFunc = func(ctx context.Context) (uint64, error) {
		return 101, nil
	}
	env.source.FilterLogsFunc = func(ctx context.Context, from, to uint64, address common.Address, topics []common.Hash) ([]types.Log, error) {
		return []types.Log{
			depositLog(env.decoder, 101, common.HexToHash("0xd1"),
				common.HexToAddress("0x1"), common.HexToAddress("0x2"),
				big.NewInt(7), big.NewInt(1)),
			depositLog(env.decoder, 101, common.HexToHash("0xd2"),
				common.HexToAddress("0x3"), common.HexToAddress("0x4"),
				big.NewInt(9), big.NewInt(1)),
		}, nil
	}

	if err := env.engine.scanSource(ctx); err != nil {
		t.Fatalf("scanSource failed: %v", err)
	}

	// The first deposit was created and dispatched; the second was
	// skipped. The cursor still covers the whole range.
	if env.engine.source.cursor != 101 {
		t.Errorf("cursor should advance to 101, got %d", env.engine.source.cursor)
	}
	if len(env.dispatcher.Requests) != 1 {
		t.Fatalf("expected 1 dispatch, got %d", len(env.dispatcher.Requests))
	}
	txs, err := env.store.List(ctx, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(txs) != 1 || txs[0].SourceTxHash != common.HexToHash("0xd1").Hex() {
		t.Fatalf("expected exactly one record for 0xd1, got %+v", txs)
	}

	// The next cycle, as after an error backoff, must not rescan the
	// range and recreate or re-dispatch the first deposit.
	if err := env.engine.scanSource(ctx); err != nil {
		t.Fatalf("scanSource failed: %v", err)
	}
	if len(env.dispatcher.Requests) != 1 {
		t.Errorf("deposit was dispatched again: %d dispatches", len(env.dispatcher.Requests))
	}
	txs, _ = env.store.List(ctx, 10)
	if len(txs) != 1 {
		t.Errorf("duplicate record created for an already-relayed deposit: %d records", len(txs))
	}
}

// relayedTransaction seeds one RELAYED transaction directly through the
// store, returning it.
func relayedTransaction(t *testing.T, s *store.MemoryStore, sourceTxHash string) *store.Transaction {
	t.Helper()
	tx, err := s.Create(context.Background(), sourceTxHash, store.Details{
		Recipient:     "0x2222222222222222222222222222222222222222",
		Amount:        "1000",
		SourceChainID: "5",
	})
	if err != nil {
		t.Fatalf("failed to create transaction: %v", err)
	}
	if err := s.UpdateStatus(context.Background(), tx.ID, store.StatusRelayed); err != nil {
		t.Fatalf("failed to relay transaction: %v", err)
	}
	return tx
}

func TestScanDestination_FIFOCorrelation(t *testing.T) {
	env := newTestEnv(t, testConfig())
	setCursor(&env.engine.dest, 50)
	ctx := context.Background()

	t1 := relayedTransaction(t, env.store, "0xtx1")
	t2 := relayedTransaction(t, env.store, "0xtx2")
	t3 := relayedTransaction(t, env.store, "0xtx3")

	recipient := common.HexToAddress("0x2222222222222222222222222222222222222222")
	destTx1 := common.HexToHash("0xc1")
	destTx2 := common.HexToHash("0xc2")

	env.dest.CurrentHeightFunc = func(ctx context.Context) (uint64, error) {
		return 55, nil
	}
	env.dest.FilterLogsFunc = func(ctx context.Context, from, to uint64, address common.Address, topics []common.Hash) ([]types.Log, error) {
		if len(topics) != 1 || topics[0] != env.decoder.CompletionTopic() {
			t.Errorf("expected completion topic filter, got %v", topics)
		}
		// Two completion events in the same batch. Neither hash
		// matches any source tx; FIFO must not care.
		return []types.Log{
			completionLog(env.decoder, 52, destTx1, common.HexToHash("0x9999"), recipient, big.NewInt(1000)),
			completionLog(env.decoder, 53, destTx2, common.HexToHash("0x8888"), recipient, big.NewInt(1000)),
		}, nil
	}

	if err := env.engine.scanDestination(ctx); err != nil {
		t.Fatalf("scanDestination failed: %v", err)
	}

	// T1 and T2 complete, in that order; T3 stays relayed.
	got1, _ := env.store.Get(ctx, t1.ID)
	got2, _ := env.store.Get(ctx, t2.ID)
	got3, _ := env.store.Get(ctx, t3.ID)

	if got1.Status != store.StatusCompleted || got1.DestTxHash != destTx1.Hex() {
		t.Errorf("T1: expected COMPLETED with dest %s, got %s/%s", destTx1.Hex(), got1.Status, got1.DestTxHash)
	}
	if got2.Status != store.StatusCompleted || got2.DestTxHash != destTx2.Hex() {
		t.Errorf("T2: expected COMPLETED with dest %s, got %s/%s", destTx2.Hex(), got2.Status, got2.DestTxHash)
	}
	if got3.Status != store.StatusRelayed {
		t.Errorf("T3: expected RELAYED, got %s", got3.Status)
	}
	if env.engine.dest.cursor != 55 {
		t.Errorf("destination cursor should advance to 55, got %d", env.engine.dest.cursor)
	}
}

func TestScanDestination_ExtraCompletionEventsIgnored(t *testing.T) {
	env := newTestEnv(t, testConfig())
	setCursor(&env.engine.dest, 50)
	ctx := context.Background()

	t1 := relayedTransaction(t, env.store, "0xtx1")

	recipient := common.HexToAddress("0x2222222222222222222222222222222222222222")
	env.dest.CurrentHeightFunc = func(ctx context.Context) (uint64, error) {
		return 51, nil
	}
	env.dest.FilterLogsFunc = func(ctx context.Context, from, to uint64, address common.Address, topics []common.Hash) ([]types.Log, error) {
		return []types.Log{
			completionLog(env.decoder, 51, common.HexToHash("0xc1"), common.HexToHash("0x1"), recipient, big.NewInt(1)),
			completionLog(env.decoder, 51, common.HexToHash("0xc2"), common.HexToHash("0x2"), recipient, big.NewInt(1)),
		}, nil
	}

	if err := env.engine.scanDestination(ctx); err != nil {
		t.Fatalf("scanDestination failed: %v", err)
	}

	got1, _ := env.store.Get(ctx, t1.ID)
	if got1.Status != store.StatusCompleted {
		t.Errorf("T1 should complete, got %s", got1.Status)
	}
	// The second event has nothing left to match; the scan still
	// finishes and the cursor advances.
	if env.engine.dest.cursor != 51 {
		t.Errorf("cursor should advance to 51, got %d", env.engine.dest.cursor)
	}
}

func TestScanDestination_KeyedCorrelation(t *testing.T) {
	cfg := testConfig()
	cfg.Listener.CorrelationMode = config.CorrelationKeyed
	env := newTestEnv(t, cfg)
	setCursor(&env.engine.dest, 50)
	ctx := context.Background()

	sourceHash1 := common.HexToHash("0xaaa1")
	sourceHash2 := common.HexToHash("0xaaa2")
	t1 := relayedTransaction(t, env.store, sourceHash1.Hex())
	t2 := relayedTransaction(t, env.store, sourceHash2.Hex())

	recipient := common.HexToAddress("0x2222222222222222222222222222222222222222")
	destTx := common.HexToHash("0xc9")

	env.dest.CurrentHeightFunc = func(ctx context.Context) (uint64, error) {
		return 51, nil
	}
	env.dest.FilterLogsFunc = func(ctx context.Context, from, to uint64, address common.Address, topics []common.Hash) ([]types.Log, error) {
		return []types.Log{
			// Completes T2 by key even though T1 is older.
			completionLog(env.decoder, 51, destTx, sourceHash2, recipient, big.NewInt(1000)),
			// Unmatched key: logged and skipped.
			completionLog(env.decoder, 51, common.HexToHash("0xca"), common.HexToHash("0xdead"), recipient, big.NewInt(1000)),
		}, nil
	}

	if err := env.engine.scanDestination(ctx); err != nil {
		t.Fatalf("scanDestination failed: %v", err)
	}

	got1, _ := env.store.Get(ctx, t1.ID)
	got2, _ := env.store.Get(ctx, t2.ID)
	if got1.Status != store.StatusRelayed {
		t.Errorf("T1 should stay RELAYED in keyed mode, got %s", got1.Status)
	}
	if got2.Status != store.StatusCompleted || got2.DestTxHash != destTx.Hex() {
		t.Errorf("T2 should be COMPLETED with dest %s, got %s/%s", destTx.Hex(), got2.Status, got2.DestTxHash)
	}
}

func TestScanDestination_NoRelayedTransactions(t *testing.T) {
	env := newTestEnv(t, testConfig())
	setCursor(&env.engine.dest, 50)

	env.dest.CurrentHeightFunc = func(ctx context.Context) (uint64, error) {
		return 51, nil
	}
	env.dest.FilterLogsFunc = func(ctx context.Context, from, to uint64, address common.Address, topics []common.Hash) ([]types.Log, error) {
		return []types.Log{
			completionLog(env.decoder, 51, common.HexToHash("0xc1"), common.HexToHash("0x1"),
				common.HexToAddress("0x2"), big.NewInt(1)),
		}, nil
	}

	if err := env.engine.scanDestination(context.Background()); err != nil {
		t.Fatalf("scanDestination failed: %v", err)
	}

	if env.engine.dest.cursor != 51 {
		t.Errorf("cursor should advance to 51, got %d", env.engine.dest.cursor)
	}
}

func TestInitCursor(t *testing.T) {
	t.Run("configured start block wins", func(t *testing.T) {
		env := newTestEnv(t, testConfig())
		env.engine.initCursor(context.Background(), &env.engine.source, 500)
		if env.engine.source.cursor != 500 || !env.engine.source.initialized {
			t.Errorf("expected cursor 500, got %d", env.engine.source.cursor)
		}
	})

	t.Run("defaults to current height", func(t *testing.T) {
		env := newTestEnv(t, testConfig())
		env.source.CurrentHeightFunc = func(ctx context.Context) (uint64, error) {
			return 777, nil
		}
		env.engine.initCursor(context.Background(), &env.engine.source, 0)
		if env.engine.source.cursor != 777 || !env.engine.source.initialized {
			t.Errorf("expected cursor 777, got %d", env.engine.source.cursor)
		}
	})

	t.Run("unavailable endpoint defers to first scan", func(t *testing.T) {
		env := newTestEnv(t, testConfig())
		env.source.CurrentHeightFunc = func(ctx context.Context) (uint64, error) {
			return 0, fmt.Errorf("unreachable")
		}
		env.engine.initCursor(context.Background(), &env.engine.source, 0)
		if env.engine.source.initialized {
			t.Error("cursor must stay uninitialized")
		}

		// First successful cycle establishes the cursor without
		// scanning backward.
		env.source.CurrentHeightFunc = func(ctx context.Context) (uint64, error) {
			return 900, nil
		}
		if err := env.engine.scanSource(context.Background()); err != nil {
			t.Fatalf("scanSource failed: %v", err)
		}
		if env.engine.source.cursor != 900 || !env.engine.source.initialized {
			t.Errorf("expected cursor 900, got %d", env.engine.source.cursor)
		}
		if env.source.FilterLogsCalls != 0 {
			t.Error("the establishing cycle must not scan")
		}
	})
}

func TestRunCycle_PanicRecovered(t *testing.T) {
	env := newTestEnv(t, testConfig())
	setCursor(&env.engine.source, 1)
	env.source.CurrentHeightFunc = func(ctx context.Context) (uint64, error) {
		panic("rpc client state corrupted")
	}

	err := env.engine.runCycle(context.Background())
	if err == nil {
		t.Fatal("expected the panic to surface as a cycle error")
	}
}

func TestEngine_StartStop(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.source.CurrentHeightFunc = func(ctx context.Context) (uint64, error) {
		return 100, nil
	}
	env.dest.CurrentHeightFunc = func(ctx context.Context) (uint64, error) {
		return 100, nil
	}

	env.engine.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for !env.engine.IsReady() {
		if time.Now().After(deadline) {
			t.Fatal("engine never became ready")
		}
		time.Sleep(5 * time.Millisecond)
	}

	done := make(chan struct{})
	go func() {
		env.engine.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return in time")
	}
}
