package events

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// bridgeABI describes the two bridge contract events the listener cares
// about. Real bridge ABIs are much larger; only the event fragments are
// needed for log decoding.
const bridgeABI = `[
	{"type":"event","name":"DepositInitiated","inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false},{"name":"sourceChainId","type":"uint256","indexed":false}],"anonymous":false},
	{"type":"event","name":"TransferCompleted","inputs":[{"name":"sourceTxHash","type":"bytes32","indexed":true},{"name":"recipient","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false}],"anonymous":false}
]`

// ErrUnrecognized is returned for logs that do not match a known event
// signature or fail structural decoding. Callers skip such logs.
var ErrUnrecognized = errors.New("unrecognized log")

// Kind identifies a known bridge event type.
type Kind string

const (
	KindDeposit    Kind = "DepositInitiated"
	KindCompletion Kind = "TransferCompleted"
)

// DepositInitiated is a decoded deposit event from the source chain.
type DepositInitiated struct {
	From          common.Address
	To            common.Address
	Amount        *big.Int
	SourceChainID *big.Int
}

// TransferCompleted is a decoded completion event from the destination
// chain. SourceTxHash echoes the originating deposit transaction.
type TransferCompleted struct {
	SourceTxHash common.Hash
	Recipient    common.Address
	Amount       *big.Int
}

// Decoded is the result of decoding a raw log. Exactly one of Deposit
// and Completion is set, matching Kind.
type Decoded struct {
	Kind        Kind
	TxHash      common.Hash
	BlockNumber uint64
	LogIndex    uint

	Deposit    *DepositInitiated
	Completion *TransferCompleted
}

type decodeFunc func(types.Log) (*Decoded, error)

// Decoder matches raw logs against the known bridge event signatures.
// The signature table is built once at construction so no hashing
// happens per log. Registration order is deposit first, completion
// second; each signature hash maps to exactly one event within the
// bridge contract namespace, so order cannot change an outcome.
type Decoder struct {
	abi   abi.ABI
	table map[common.Hash]decodeFunc

	depositTopic    common.Hash
	completionTopic common.Hash
}

// NewDecoder parses the bridge event ABI and builds the topic table.
func NewDecoder() (*Decoder, error) {
	parsed, err := abi.JSON(strings.NewReader(bridgeABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse bridge ABI: %w", err)
	}

	d := &Decoder{
		abi:             parsed,
		table:           make(map[common.Hash]decodeFunc),
		depositTopic:    parsed.Events[string(KindDeposit)].ID,
		completionTopic: parsed.Events[string(KindCompletion)].ID,
	}
	d.table[d.depositTopic] = d.decodeDeposit
	d.table[d.completionTopic] = d.decodeCompletion

	return d, nil
}

// DepositTopic returns the topic0 hash of DepositInitiated.
func (d *Decoder) DepositTopic() common.Hash {
	return d.depositTopic
}

// CompletionTopic returns the topic0 hash of TransferCompleted.
func (d *Decoder) CompletionTopic() common.Hash {
	return d.completionTopic
}

// Decode identifies the event a raw log represents and extracts its
// fields. Unknown signatures and malformed logs return ErrUnrecognized.
func (d *Decoder) Decode(log types.Log) (*Decoded, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("%w: log has no topics", ErrUnrecognized)
	}
	decode, ok := d.table[log.Topics[0]]
	if !ok {
		return nil, fmt.Errorf("%w: unknown signature %s", ErrUnrecognized, log.Topics[0].Hex())
	}
	return decode(log)
}

func (d *Decoder) decodeDeposit(log types.Log) (*Decoded, error) {
	if len(log.Topics) != 3 {
		return nil, fmt.Errorf("%w: deposit log has %d topics, want 3", ErrUnrecognized, len(log.Topics))
	}

	values, err := d.abi.Unpack(string(KindDeposit), log.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to unpack deposit data: %v", ErrUnrecognized, err)
	}
	amount, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: deposit amount is not uint256", ErrUnrecognized)
	}
	sourceChainID, ok := values[1].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: deposit sourceChainId is not uint256", ErrUnrecognized)
	}

	return &Decoded{
		Kind:        KindDeposit,
		TxHash:      log.TxHash,
		BlockNumber: log.BlockNumber,
		LogIndex:    log.Index,
		Deposit: &DepositInitiated{
			From:          common.BytesToAddress(log.Topics[1].Bytes()),
			To:            common.BytesToAddress(log.Topics[2].Bytes()),
			Amount:        amount,
			SourceChainID: sourceChainID,
		},
	}, nil
}

func (d *Decoder) decodeCompletion(log types.Log) (*Decoded, error) {
	if len(log.Topics) != 3 {
		return nil, fmt.Errorf("%w: completion log has %d topics, want 3", ErrUnrecognized, len(log.Topics))
	}

	values, err := d.abi.Unpack(string(KindCompletion), log.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to unpack completion data: %v", ErrUnrecognized, err)
	}
	amount, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: completion amount is not uint256", ErrUnrecognized)
	}

	return &Decoded{
		Kind:        KindCompletion,
		TxHash:      log.TxHash,
		BlockNumber: log.BlockNumber,
		LogIndex:    log.Index,
		Completion: &TransferCompleted{
			SourceTxHash: log.Topics[1],
			Recipient:    common.BytesToAddress(log.Topics[2].Bytes()),
			Amount:       amount,
		},
	}, nil
}
