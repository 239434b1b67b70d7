package inspector

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	gethvm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"

	"github.com/clydemeng/ethsim/wire"
)

// frame tracks the in-flight call/create inputs for one open depth so that
// Adapter can hand OnExit the matching inputs struct, mirroring the
// open-frame stack TxInspector itself keeps (spec §4.6).
type frame struct {
	isCreate     bool
	selfdestruct bool // SELFDESTRUCT pseudo-frame: OnExit pops it without closing a trace
	callIn       CallInputs
	createIn     CreateInputs
	addr         common.Address // callee address (CALL target) or precomputed CREATE address
}

// Adapter translates go-ethereum's core/tracing.Hooks callback shape into
// calls on an Inspector, so a TxInspector can be installed as vm.Config.Tracer
// without either package depending on the other's native shape.
type Adapter struct {
	insp  Inspector
	stack []frame
}

// NewAdapter wraps insp; Reset/TraceOutput on the underlying inspector are
// the caller's responsibility (the orchestrator resets between transactions).
func NewAdapter(insp Inspector) *Adapter {
	return &Adapter{insp: insp}
}

// Hooks builds the *tracing.Hooks value vm.Config.Tracer expects.
func (a *Adapter) Hooks() *tracing.Hooks {
	return &tracing.Hooks{
		OnEnter: a.onEnter,
		OnExit:  a.onExit,
		OnLog:   a.onLog,
	}
}

func (a *Adapter) onEnter(depth int, typ byte, from common.Address, to common.Address, input []byte, gas uint64, value *big.Int) {
	v := bigToUint256(value)

	// go-ethereum reports SELFDESTRUCT as a zero-gas OnEnter/OnExit pair
	// with the beneficiary as `to` and the swept balance as `value`; there
	// is no dedicated hook for it on tracing.Hooks.
	if gethvm.OpCode(typ) == gethvm.SELFDESTRUCT {
		a.insp.OnSelfdestruct(from, to, v)
		a.stack = append(a.stack, frame{selfdestruct: true})
		return
	}

	scheme := schemeFromOpcode(typ)
	if scheme == wire.SchemeCreate || scheme == wire.SchemeCreate2 {
		in := CreateInputs{Caller: from, Value: v, Init: append([]byte(nil), input...), Scheme: scheme, Gas: gas}
		a.insp.OnCreate(in)
		a.stack = append(a.stack, frame{isCreate: true, createIn: in, addr: to})
		return
	}

	in := CallInputs{
		Caller:          from,
		Target:          to,
		BytecodeAddress: to,
		Value:           v,
		Input:           append([]byte(nil), input...),
		Scheme:          scheme,
		Gas:             gas,
	}
	a.insp.OnCall(in)
	a.stack = append(a.stack, frame{isCreate: false, callIn: in, addr: to})
}

func (a *Adapter) onExit(depth int, output []byte, gasUsed uint64, err error, reverted bool) {
	if len(a.stack) == 0 {
		return
	}
	f := a.stack[len(a.stack)-1]
	a.stack = a.stack[:len(a.stack)-1]

	if f.selfdestruct {
		return
	}

	kind := outcomeKind(err, reverted)
	out := append([]byte(nil), output...)

	var haltReason string
	if kind == OutcomeHalt && err != nil {
		haltReason = err.Error()
	}

	if f.isCreate {
		var addr *common.Address
		if err == nil && !reverted {
			resolved := f.addr
			addr = &resolved
		}
		a.insp.OnCreateEnd(f.createIn, CreateOutcome{
			Outcome: Outcome{Kind: kind, HaltReason: haltReason, Output: out, GasUsed: gasUsed},
			Address: addr,
		})
		return
	}

	a.insp.OnCallEnd(f.callIn, Outcome{Kind: kind, HaltReason: haltReason, Output: out, GasUsed: gasUsed})
}

func (a *Adapter) onLog(log *types.Log) {
	a.insp.OnLog(wire.LogRecord{Address: log.Address, Topics: log.Topics, Data: log.Data})
}

func schemeFromOpcode(typ byte) wire.CallScheme {
	switch gethvm.OpCode(typ) {
	case gethvm.CALLCODE:
		return wire.SchemeCallCode
	case gethvm.DELEGATECALL:
		return wire.SchemeDelegateCall
	case gethvm.STATICCALL:
		return wire.SchemeStaticCall
	case gethvm.CREATE:
		return wire.SchemeCreate
	case gethvm.CREATE2:
		return wire.SchemeCreate2
	default:
		return wire.SchemeCall
	}
}

func outcomeKind(err error, reverted bool) OutcomeKind {
	switch {
	case err == nil:
		return OutcomeSuccess
	case reverted:
		return OutcomeRevert
	default:
		return OutcomeHalt
	}
}

func bigToUint256(v *big.Int) *uint256.Int {
	if v == nil {
		return uint256.NewInt(0)
	}
	u, _ := uint256.FromBig(v)
	return u
}
