// Package wire defines the primitive value types, canonical log signatures,
// and data model shared across the simulation engine.
package wire

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Address is a 20-byte account identifier.
type Address = common.Address

// Hash is a 32-byte word, used for storage slots and topics.
type Hash = common.Hash

// U256 is a 256-bit unsigned integer, big-endian on the wire.
type U256 = uint256.Int

// Bytes is an immutable byte buffer.
type Bytes = []byte

// Canonical event signatures used to classify logs emitted during a
// transaction (spec §4.6, §6).
var (
	TransferEventSig       = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	TransferSingleEventSig = crypto.Keccak256Hash([]byte("TransferSingle(address,address,address,uint256,uint256)"))
	TransferBatchEventSig  = crypto.Keccak256Hash([]byte("TransferBatch(address,address,address,uint256[],uint256[])"))
)

// Solidity revert-reason selectors (spec §4.8).
var (
	ErrorSelector = [4]byte{0x08, 0xc3, 0x79, 0xa0} // Error(string)
	PanicSelector = [4]byte{0x4e, 0x48, 0x7b, 0x71} // Panic(uint256)
)

// TokenType distinguishes the asset kind of a TokenTransfer.
type TokenType int

const (
	TokenNative TokenType = iota
	TokenERC20
	TokenERC721
	TokenERC1155
)

func (t TokenType) String() string {
	switch t {
	case TokenNative:
		return "native"
	case TokenERC20:
		return "erc20"
	case TokenERC721:
		return "erc721"
	case TokenERC1155:
		return "erc1155"
	default:
		return "unknown"
	}
}

// TokenTransfer records one asset movement observed during execution.
// To is nil only for an in-flight CREATE transfer whose recipient address
// is not yet known; it is resolved before the batch result is returned.
type TokenTransfer struct {
	Token     Address
	From      Address
	To        *Address
	Value     *uint256.Int
	TokenType TokenType
	ID        *uint256.Int // set for ERC-721/1155
}

// CallScheme names the EVM call type that produced a CallTrace node.
type CallScheme int

const (
	SchemeCall CallScheme = iota
	SchemeCallCode
	SchemeDelegateCall
	SchemeStaticCall
	SchemeCreate
	SchemeCreate2
)

func (s CallScheme) String() string {
	switch s {
	case SchemeCall:
		return "call"
	case SchemeCallCode:
		return "callcode"
	case SchemeDelegateCall:
		return "delegatecall"
	case SchemeStaticCall:
		return "staticcall"
	case SchemeCreate:
		return "create"
	case SchemeCreate2:
		return "create2"
	default:
		return "unknown"
	}
}

// StatusKind is the sum type spec §3 calls CallStatus.
type StatusKind int

const (
	StatusSuccess StatusKind = iota
	StatusRevert
	StatusHalt
	StatusFatalError
	StatusInProgress
)

// CallStatus is the outcome of a call frame. Message is set for Revert,
// Halt and FatalError; InProgress only appears while the frame is still open on the stack.
type CallStatus struct {
	Kind    StatusKind
	Message string
}

func (s CallStatus) IsSuccess() bool { return s.Kind == StatusSuccess }

func Success() CallStatus              { return CallStatus{Kind: StatusSuccess} }
func Revert(msg string) CallStatus     { return CallStatus{Kind: StatusRevert, Message: msg} }
func Halt(msg string) CallStatus       { return CallStatus{Kind: StatusHalt, Message: msg} }
func FatalError(msg string) CallStatus { return CallStatus{Kind: StatusFatalError, Message: msg} }
func InProgress() CallStatus           { return CallStatus{Kind: StatusInProgress} }

// CallTrace is one node of the reconstructed call tree.
//
// trace_address is the path from root; a node's Subtraces[i].TraceAddress
// equals append(node.TraceAddress, i). ErrorOrigin is true iff this node
// failed and all of its subtraces succeeded.
type CallTrace struct {
	Caller       Address
	Target       Address
	Value        *uint256.Int
	Input        Bytes
	Output       Bytes
	GasUsed      uint64
	Scheme       CallScheme
	Status       CallStatus
	ErrorOrigin  bool
	Subtraces    []*CallTrace
	TraceAddress []int
}

// SlotChange is one dirtied storage slot for an account, old != new.
type SlotChange struct {
	Address  Address
	Slot     Hash
	OldValue Hash
	NewValue Hash
}

// StorageDiff maps an address to its ordered sequence of dirtied slots.
type StorageDiff map[Address][]SlotChange

// LogRecord is a raw log emitted during execution.
type LogRecord struct {
	Address Address
	Topics  []Hash
	Data    Bytes
}

// TxTraceOutput is the structured per-transaction result of the reference
// inspector.
type TxTraceOutput struct {
	AssetTransfers    []TokenTransfer
	CallTrace         *CallTrace
	Logs              []LogRecord
	ErrorTraceAddress []int // nil if the transaction did not fail
}

// TokenInfo is ERC-20 metadata decoded from the standard getters.
type TokenInfo struct {
	Address     Address
	Name        string
	Symbol      string
	Decimals    uint8
	TotalSupply *uint256.Int
}

// BlockEnv carries the block-scoped parameters presented to a transaction.
type BlockEnv struct {
	Number     uint64
	Timestamp  uint64
	Difficulty *uint256.Int
	GasLimit   uint64
	BaseFee    *uint256.Int
	Coinbase   Address
}

// TxKind distinguishes a regular call from a contract creation.
type TxKind int

const (
	KindCall TxKind = iota
	KindCreate
)

// SimulationTx is one transaction to be run by the orchestrator.
type SimulationTx struct {
	Caller Address
	To     Address // only meaningful when Kind == KindCall
	Value  *uint256.Int
	Data   Bytes
	Kind   TxKind
}

// SimulationBatch is an ordered sequence of transactions plus statefulness.
//
// StopOnFailure is a supplemental field (not present in the distilled
// spec): when true, the orchestrator stops running further transactions in
// the batch the instant one fails, mirroring the bound-multicall behavior
// of an earlier revision of the source this spec was distilled from. It
// defaults to false, which preserves the documented run-regardless
// behavior.
type SimulationBatch struct {
	Transactions  []SimulationTx
	IsStateful    bool
	StopOnFailure bool
}
