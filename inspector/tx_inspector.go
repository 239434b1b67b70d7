package inspector

import (
	"encoding/hex"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/clydemeng/ethsim/util"
	"github.com/clydemeng/ethsim/wire"
)

// pendingCreate tracks an in-flight CREATE whose recipient address is not
// yet known (spec §4.6 "CREATE transfer fix-up"): the provisional trace
// node, and the index of the transfer to patch once the deployed address
// is known (-1 when the CREATE carried no value).
type pendingCreate struct {
	trace         *wire.CallTrace
	transferIndex int
}

// TxInspector is the reference inspector: it reconstructs the call tree,
// tracks the effective caller across delegatecall, records native and
// token transfers (including pending CREATE recipients), captures every
// log, and locates the originating frame of any revert (spec §4.5, §4.6).
//
// The call tree is built the way original_source/src/inspectors/
// tx_inspector/{inspector.rs,trace.rs} and, independently, Harmony's
// ParityBlockTracer do it: a stack of currently-open frames plus, per
// frame, an ordered slice of already-closed children. When a frame closes
// it is moved out of the open stack and appended to its parent's
// subtraces (or kept as the root if the stack is now empty) — no cyclic
// parent pointers are ever needed (spec §9).
type TxInspector struct {
	transfers     []wire.TokenTransfer
	logs          []wire.LogRecord
	openStack     []*wire.CallTrace
	addressStack  []common.Address
	pendingCreate []pendingCreate
	root          *wire.CallTrace
}

var _ Inspector = (*TxInspector)(nil)

// NewTxInspector returns a ready-to-use, already-reset inspector.
func NewTxInspector() *TxInspector {
	t := &TxInspector{}
	t.Reset()
	return t
}

// Reset clears all per-transaction accumulator state (spec §4.5: transfers,
// call_traces, logs, call_stack, address_stack, pending_create_transfers).
func (t *TxInspector) Reset() {
	t.transfers = nil
	t.logs = nil
	t.openStack = nil
	t.addressStack = nil
	t.pendingCreate = nil
	t.root = nil
}

// TraceOutput returns the structured output for the last transaction.
func (t *TxInspector) TraceOutput() any {
	return t.Output()
}

// Output is the typed accessor; TraceOutput satisfies the generic
// TraceOutputter contract by delegating to it.
func (t *TxInspector) Output() wire.TxTraceOutput {
	out := wire.TxTraceOutput{
		AssetTransfers: t.transfers,
		CallTrace:      t.root,
		Logs:           t.logs,
	}
	if t.root != nil && !t.root.Status.IsSuccess() {
		if addr := findErrorTrace(t.root); addr != nil {
			out.ErrorTraceAddress = addr
		}
	}
	return out
}

// effectiveCaller returns the top of the address stack, or fallback if the
// stack is empty (the outermost frame's caller is the transaction's own
// sender).
func (t *TxInspector) effectiveCaller(fallback common.Address) common.Address {
	if len(t.addressStack) == 0 {
		return fallback
	}
	return t.addressStack[len(t.addressStack)-1]
}

// OnCall implements the effective-caller-across-delegatecall algorithm of
// spec §4.6: for CALL/CALLCODE/STATICCALL the next frame's effective
// caller is the callee address; for DELEGATECALL it is preserved as the
// current effective caller.
func (t *TxInspector) OnCall(in CallInputs) {
	from := t.effectiveCaller(in.Caller)
	to := in.Target
	if in.Scheme == wire.SchemeDelegateCall {
		to = in.BytecodeAddress
	}
	nextCaller := to
	if in.Scheme == wire.SchemeDelegateCall {
		nextCaller = from
	}
	t.addressStack = append(t.addressStack, nextCaller)

	// Native value transfers are only tracked for regular calls (spec §9
	// open question (ii) guards this on value > 0 defensively; CALLCODE
	// moves balance into the calling contract itself the same way CALL
	// does, DELEGATECALL/STATICCALL never carry value).
	if (in.Scheme == wire.SchemeCall || in.Scheme == wire.SchemeCallCode) && in.Value != nil && !in.Value.IsZero() {
		toAddr := to
		t.transfers = append(t.transfers, wire.TokenTransfer{
			Token:     common.Address{},
			From:      from,
			To:        &toAddr,
			Value:     in.Value.Clone(),
			TokenType: wire.TokenNative,
		})
	}

	node := &wire.CallTrace{
		Caller: from,
		Target: to,
		Value:  valueOrZero(in.Value),
		Input:  in.Input,
		Scheme: in.Scheme,
		Status: wire.InProgress(),
	}
	t.pushFrame(node)
}

// OnCallEnd pops the address stack and closes the frame.
func (t *TxInspector) OnCallEnd(in CallInputs, outcome Outcome) {
	if len(t.addressStack) > 0 {
		t.addressStack = t.addressStack[:len(t.addressStack)-1]
	}
	t.handleEnd(outcome)
}

// OnCreate implements the CREATE transfer fix-up of spec §4.6: if value >
// 0, append a TokenTransfer with To == nil and remember it alongside the
// provisional trace node so both can be patched once the deployed address
// is known.
func (t *TxInspector) OnCreate(in CreateInputs) {
	from := t.effectiveCaller(in.Caller)

	node := &wire.CallTrace{
		Caller: from,
		Target: common.Address{}, // patched in OnCreateEnd
		Value:  valueOrZero(in.Value),
		Input:  in.Init,
		Scheme: in.Scheme,
		Status: wire.InProgress(),
	}
	t.pushFrame(node)

	// Nested calls issued from inside the constructor keep the creator as
	// their effective caller.
	t.addressStack = append(t.addressStack, from)

	pc := pendingCreate{trace: node, transferIndex: -1}
	if in.Value != nil && !in.Value.IsZero() {
		transfer := wire.TokenTransfer{
			Token:     common.Address{}, // native asset has no token contract
			From:      from,
			To:        nil,
			Value:     in.Value.Clone(),
			TokenType: wire.TokenNative,
		}
		t.transfers = append(t.transfers, transfer)
		pc.transferIndex = len(t.transfers) - 1
	}
	t.pendingCreate = append(t.pendingCreate, pc)
}

// OnCreateEnd patches the deployed address into the trace node and the
// pending transfer (if any), pops them, then closes the frame.
func (t *TxInspector) OnCreateEnd(in CreateInputs, outcome CreateOutcome) {
	if n := len(t.pendingCreate); n > 0 {
		pc := t.pendingCreate[n-1]
		t.pendingCreate = t.pendingCreate[:n-1]

		if outcome.Address != nil {
			pc.trace.Target = *outcome.Address
			if pc.transferIndex >= 0 && pc.transferIndex < len(t.transfers) {
				t.transfers[pc.transferIndex].To = outcome.Address
			}
		}
	}
	if len(t.addressStack) > 0 {
		t.addressStack = t.addressStack[:len(t.addressStack)-1]
	}
	t.handleEnd(outcome.Outcome)
}

// pushFrame assigns node's trace address and opens the frame. The address
// is fixed at open time: the parent frame is still on the stack with its
// own path settled, and every earlier sibling has already closed into
// parent.Subtraces, so the next child index is just the current count.
func (t *TxInspector) pushFrame(node *wire.CallTrace) {
	if n := len(t.openStack); n > 0 {
		parent := t.openStack[n-1]
		node.TraceAddress = append(append([]int{}, parent.TraceAddress...), len(parent.Subtraces))
	} else {
		node.TraceAddress = []int{}
	}
	t.openStack = append(t.openStack, node)
}

// handleEnd implements spec §4.6's "Frame close-out": pop the open frame,
// derive its status, mark error_origin, and move it into its parent's
// subtraces (or keep it as the root).
func (t *TxInspector) handleEnd(outcome Outcome) {
	n := len(t.openStack)
	if n == 0 {
		return
	}
	node := t.openStack[n-1]
	t.openStack = t.openStack[:n-1]

	node.GasUsed = outcome.GasUsed
	node.Output = outcome.Output
	node.Status = deriveStatus(outcome)

	allSubtracesSucceeded := true
	for _, s := range node.Subtraces {
		if !s.Status.IsSuccess() {
			allSubtracesSucceeded = false
			break
		}
	}
	node.ErrorOrigin = !node.Status.IsSuccess() && allSubtracesSucceeded

	if parentN := len(t.openStack); parentN > 0 {
		parent := t.openStack[parentN-1]
		parent.Subtraces = append(parent.Subtraces, node)
	} else {
		t.root = node
	}
}

// deriveStatus implements spec §4.6's status derivation, including the
// revert-reason decode attempt.
func deriveStatus(outcome Outcome) wire.CallStatus {
	switch outcome.Kind {
	case OutcomeSuccess:
		return wire.Success()
	case OutcomeRevert:
		if msg, ok := util.DecodeRevertReason(outcome.Output); ok {
			return wire.Revert(msg)
		}
		return wire.Revert("0x" + hex.EncodeToString(outcome.Output))
	case OutcomeHalt:
		return wire.Halt(outcome.HaltReason)
	default:
		msg := "fatal error"
		if outcome.FatalErr != nil {
			msg = outcome.FatalErr.Error()
		}
		return wire.FatalError(msg)
	}
}

// OnLog appends every log, then attempts to classify it as a token
// transfer (spec §4.6 "Log handling").
func (t *TxInspector) OnLog(log wire.LogRecord) {
	t.logs = append(t.logs, log)
	t.transfers = append(t.transfers, wire.ParseTransferLog(log)...)
}

// OnSelfdestruct appends a native transfer if a non-zero balance moved.
func (t *TxInspector) OnSelfdestruct(contract, beneficiary common.Address, value *uint256.Int) {
	if value == nil || value.IsZero() {
		return
	}
	b := beneficiary
	t.transfers = append(t.transfers, wire.TokenTransfer{
		From:      contract,
		To:        &b,
		Value:     value.Clone(),
		TokenType: wire.TokenNative,
	})
}

func valueOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return uint256.NewInt(0)
	}
	return v.Clone()
}

// findErrorTrace performs the depth-first search of spec §4.6/§8 property
// 2: the deepest node whose ErrorOrigin is true along the failing path.
func findErrorTrace(node *wire.CallTrace) []int {
	if node == nil {
		return nil
	}
	for _, sub := range node.Subtraces {
		if sub.Status.IsSuccess() {
			continue
		}
		if addr := findErrorTrace(sub); addr != nil {
			return addr
		}
	}
	if node.ErrorOrigin {
		return node.TraceAddress
	}
	return nil
}
