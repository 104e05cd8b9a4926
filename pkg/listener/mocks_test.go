package listener

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/chainsafe/bridge-listener/pkg/events"
	"github.com/chainsafe/bridge-listener/pkg/relay"
)

// MockChainClient is a mock implementation of ChainClient
type MockChainClient struct {
	NameVal           string
	ConnectedVal      bool
	ConnectFunc       func(ctx context.Context) error
	CurrentHeightFunc func(ctx context.Context) (uint64, error)
	FilterLogsFunc    func(ctx context.Context, from, to uint64, address common.Address, topics []common.Hash) ([]types.Log, error)

	ConnectCalls    int
	FilterLogsCalls int
}

func (m *MockChainClient) Name() string {
	if m.NameVal != "" {
		return m.NameVal
	}
	return "mock-chain"
}

func (m *MockChainClient) Connected() bool {
	return m.ConnectedVal
}

func (m *MockChainClient) Connect(ctx context.Context) error {
	m.ConnectCalls++
	if m.ConnectFunc != nil {
		return m.ConnectFunc(ctx)
	}
	m.ConnectedVal = true
	return nil
}

func (m *MockChainClient) CurrentHeight(ctx context.Context) (uint64, error) {
	if m.CurrentHeightFunc != nil {
		return m.CurrentHeightFunc(ctx)
	}
	return 0, nil
}

func (m *MockChainClient) FilterLogs(ctx context.Context, from, to uint64, address common.Address, topics []common.Hash) ([]types.Log, error) {
	m.FilterLogsCalls++
	if m.FilterLogsFunc != nil {
		return m.FilterLogsFunc(ctx, from, to, address, topics)
	}
	return nil, nil
}

// MockDispatcher is a mock implementation of RelayDispatcher
type MockDispatcher struct {
	DispatchFunc func(ctx context.Context, req relay.Request) relay.Outcome

	Requests []relay.Request
}

func (m *MockDispatcher) Dispatch(ctx context.Context, req relay.Request) relay.Outcome {
	m.Requests = append(m.Requests, req)
	if m.DispatchFunc != nil {
		return m.DispatchFunc(ctx, req)
	}
	return relay.Outcome{Status: relay.Accepted}
}

// depositLog builds a raw DepositInitiated log the way the bridge
// contract would emit it.
func depositLog(d *events.Decoder, block uint64, txHash common.Hash, from, to common.Address, amount, chainID *big.Int) types.Log {
	data := append(
		common.LeftPadBytes(amount.Bytes(), 32),
		common.LeftPadBytes(chainID.Bytes(), 32)...,
	)
	return types.Log{
		Topics: []common.Hash{
			d.DepositTopic(),
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data:        data,
		BlockNumber: block,
		TxHash:      txHash,
	}
}

// completionLog builds a raw TransferCompleted log.
func completionLog(d *events.Decoder, block uint64, txHash, sourceTxHash common.Hash, recipient common.Address, amount *big.Int) types.Log {
	return types.Log{
		Topics: []common.Hash{
			d.CompletionTopic(),
			sourceTxHash,
			common.BytesToHash(recipient.Bytes()),
		},
		Data:        common.LeftPadBytes(amount.Bytes(), 32),
		BlockNumber: block,
		TxHash:      txHash,
	}
}
