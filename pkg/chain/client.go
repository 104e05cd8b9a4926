package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// ErrUnavailable is returned when the chain endpoint cannot be reached.
// Callers treat it as a reported condition, not a fatal error: the client
// stays disconnected until Connect succeeds again.
var ErrUnavailable = errors.New("chain endpoint unavailable")

// Client is the query handle for a single ledger's RPC endpoint.
// Connectivity is binary and re-checked lazily: a failed call marks the
// client disconnected, and nothing reconnects in the background.
type Client struct {
	name   string
	rpcURL string
	logger *zap.Logger

	eth *ethclient.Client
}

// NewClient creates a client for the given endpoint and attempts an
// initial connection. A failed initial dial is not fatal; the client
// starts disconnected and the caller reconnects before the next use.
func NewClient(name, rpcURL string, logger *zap.Logger) *Client {
	c := &Client{
		name:   name,
		rpcURL: rpcURL,
		logger: logger,
	}

	if err := c.Connect(context.Background()); err != nil {
		logger.Warn("Initial chain connection failed",
			zap.String("chain", name),
			zap.Error(err))
	}
	return c
}

// Name returns the friendly chain name used in logs and metrics.
func (c *Client) Name() string {
	return c.name
}

// Connected reports whether the last call against the endpoint succeeded.
func (c *Client) Connected() bool {
	return c.eth != nil
}

// Connect establishes (or re-establishes) the RPC connection.
func (c *Client) Connect(ctx context.Context) error {
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}

	eth, err := ethclient.DialContext(ctx, c.rpcURL)
	if err != nil {
		return fmt.Errorf("%w: failed to dial %s: %v", ErrUnavailable, c.name, err)
	}

	// Dialing an HTTP endpoint is lazy; probe it so Connected means
	// something.
	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return fmt.Errorf("%w: failed to reach %s: %v", ErrUnavailable, c.name, err)
	}

	c.eth = eth
	c.logger.Info("Connected to chain",
		zap.String("chain", c.name),
		zap.String("chain_id", chainID.String()))
	return nil
}

// CurrentHeight returns the latest block number.
func (c *Client) CurrentHeight(ctx context.Context) (uint64, error) {
	if c.eth == nil {
		return 0, fmt.Errorf("%w: %s is not connected", ErrUnavailable, c.name)
	}

	height, err := c.eth.BlockNumber(ctx)
	if err != nil {
		c.disconnect()
		return 0, fmt.Errorf("%w: failed to get height from %s: %v", ErrUnavailable, c.name, err)
	}
	return height, nil
}

// FilterLogs returns the logs emitted by the given contract in the block
// range [from, to], filtered to the given topic0 hashes.
func (c *Client) FilterLogs(
	ctx context.Context,
	from, to uint64,
	address common.Address,
	topics []common.Hash,
) ([]types.Log, error) {
	if c.eth == nil {
		return nil, fmt.Errorf("%w: %s is not connected", ErrUnavailable, c.name)
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{address},
		Topics:    [][]common.Hash{topics},
	}

	logs, err := c.eth.FilterLogs(ctx, query)
	if err != nil {
		c.disconnect()
		return nil, fmt.Errorf("%w: failed to filter logs on %s blocks %d-%d: %v",
			ErrUnavailable, c.name, from, to, err)
	}
	return logs, nil
}

// Close closes the underlying RPC connection.
func (c *Client) Close() {
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
}

func (c *Client) disconnect() {
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	c.logger.Warn("Chain endpoint unreachable, marked disconnected",
		zap.String("chain", c.name))
}
