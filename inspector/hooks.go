// Package inspector defines the hook surface a simulation inspector
// implements (spec §4.4) and provides the reference TxInspector (spec
// §4.5, §4.6) that reconstructs call trees, transfers, logs, and error
// origins.
package inspector

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/clydemeng/ethsim/wire"
)

// CallInputs describes a CALL/CALLCODE/DELEGATECALL/STATICCALL frame
// about to execute.
type CallInputs struct {
	Caller          common.Address
	Target          common.Address // the account whose balance/context the call targets
	BytecodeAddress common.Address // the account whose code actually runs (== Target except CALLCODE/DELEGATECALL)
	Value           *uint256.Int
	Input           []byte
	Scheme          wire.CallScheme
	Gas             uint64
}

// CreateInputs describes a CREATE/CREATE2 frame about to execute.
type CreateInputs struct {
	Caller common.Address
	Value  *uint256.Int
	Init   []byte
	Scheme wire.CallScheme // SchemeCreate or SchemeCreate2
	Gas    uint64
}

// OutcomeKind classifies how a frame ended, before status-string decoding.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRevert
	OutcomeHalt
	OutcomeFatal
)

// Outcome is the raw result of a closed frame, handed to OnCallEnd/
// OnCreateEnd. Status-message derivation (spec §4.6 "Frame close-out")
// happens inside the inspector, not here, so this stays a thin value type.
type Outcome struct {
	Kind       OutcomeKind
	HaltReason string
	FatalErr   error
	Output     []byte
	GasUsed    uint64
}

// CreateOutcome additionally carries the deployed address, nil if the
// deployment did not succeed in producing one.
type CreateOutcome struct {
	Outcome
	Address *common.Address
}

// Hooks is the hook surface spec §4.4 requires of any inspector.
type Hooks interface {
	OnCall(inputs CallInputs)
	OnCallEnd(inputs CallInputs, outcome Outcome)
	OnCreate(inputs CreateInputs)
	OnCreateEnd(inputs CreateInputs, outcome CreateOutcome)
	OnLog(log wire.LogRecord)
	OnSelfdestruct(contract, beneficiary common.Address, value *uint256.Int)
}

// Resetter clears any per-transaction accumulator state; it must be called
// before every transaction (spec §4.4 "Reset").
type Resetter interface {
	Reset()
}

// TraceOutputter returns the structured output for the last transaction.
// Output is `any` in place of Rust's associated type; NoOp returns nil.
type TraceOutputter interface {
	TraceOutput() any
}

// Inspector is the full contract a simulation inspector implements.
type Inspector interface {
	Hooks
	Resetter
	TraceOutputter
}

// NoOp implements Inspector trivially (spec §4.4 "A no-op inspector
// implements all three trivially").
type NoOp struct{}

func (NoOp) OnCall(CallInputs)                                           {}
func (NoOp) OnCallEnd(CallInputs, Outcome)                               {}
func (NoOp) OnCreate(CreateInputs)                                       {}
func (NoOp) OnCreateEnd(CreateInputs, CreateOutcome)                     {}
func (NoOp) OnLog(wire.LogRecord)                                        {}
func (NoOp) OnSelfdestruct(common.Address, common.Address, *uint256.Int) {}
func (NoOp) Reset()                                                      {}
func (NoOp) TraceOutput() any                                            { return nil }

var _ Inspector = NoOp{}
