package inspector

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/clydemeng/ethsim/wire"
)

// TestCallTraceShapeMatchesTraceAddress exercises spec §8 property 1: for
// every node n, n.Subtraces[i].TraceAddress == append(n.TraceAddress, i).
func TestCallTraceShapeMatchesTraceAddress(t *testing.T) {
	eoa := common.HexToAddress("0x00")
	root := common.HexToAddress("0x01")
	childA := common.HexToAddress("0x02")
	childB := common.HexToAddress("0x03")
	grandchild := common.HexToAddress("0x04")

	insp := NewTxInspector()

	// the transaction's single outermost frame, eoa -> root, with two
	// children (childA, childB) and a grandchild nested under childA.
	insp.OnCall(CallInputs{Caller: eoa, Target: root, BytecodeAddress: root, Scheme: wire.SchemeCall})
	insp.OnCall(CallInputs{Caller: root, Target: childA, BytecodeAddress: childA, Scheme: wire.SchemeCall})
	insp.OnCall(CallInputs{Caller: childA, Target: grandchild, BytecodeAddress: grandchild, Scheme: wire.SchemeCall})
	insp.OnCallEnd(CallInputs{}, Outcome{Kind: OutcomeSuccess}) // closes grandchild
	insp.OnCallEnd(CallInputs{}, Outcome{Kind: OutcomeSuccess}) // closes childA

	insp.OnCall(CallInputs{Caller: root, Target: childB, BytecodeAddress: childB, Scheme: wire.SchemeCall})
	insp.OnCallEnd(CallInputs{}, Outcome{Kind: OutcomeSuccess}) // closes childB

	insp.OnCallEnd(CallInputs{}, Outcome{Kind: OutcomeSuccess}) // closes root

	out := insp.Output()
	rootTrace := out.CallTrace
	if rootTrace == nil {
		t.Fatalf("expected a root trace")
	}
	if len(rootTrace.Subtraces) != 2 {
		t.Fatalf("expected 2 top-level subtraces, got %d", len(rootTrace.Subtraces))
	}
	for i, sub := range rootTrace.Subtraces {
		want := append(append([]int{}, rootTrace.TraceAddress...), i)
		if !intSliceEqual(sub.TraceAddress, want) {
			t.Fatalf("subtrace %d: trace address = %v, want %v", i, sub.TraceAddress, want)
		}
	}
	nested := rootTrace.Subtraces[0]
	if len(nested.Subtraces) != 1 {
		t.Fatalf("expected 1 nested subtrace, got %d", len(nested.Subtraces))
	}
	want := append(append([]int{}, nested.TraceAddress...), 0)
	if !intSliceEqual(nested.Subtraces[0].TraceAddress, want) {
		t.Fatalf("nested subtrace trace address = %v, want %v", nested.Subtraces[0].TraceAddress, want)
	}
}

// TestDelegatecallPreservesEffectiveCaller exercises spec §8 property 3: in
// a chain A --CALL--> B --DELEGATECALL--> C, the frame for C has From == B.
func TestDelegatecallPreservesEffectiveCaller(t *testing.T) {
	a := common.HexToAddress("0xaa")
	b := common.HexToAddress("0xbb")
	c := common.HexToAddress("0xcc")

	insp := NewTxInspector()

	insp.OnCall(CallInputs{Caller: a, Target: b, BytecodeAddress: b, Scheme: wire.SchemeCall})
	insp.OnCall(CallInputs{Caller: b, Target: b, BytecodeAddress: c, Scheme: wire.SchemeDelegateCall})
	insp.OnCallEnd(CallInputs{}, Outcome{Kind: OutcomeSuccess})
	insp.OnCallEnd(CallInputs{}, Outcome{Kind: OutcomeSuccess})

	out := insp.Output()
	root := out.CallTrace
	if len(root.Subtraces) != 1 {
		t.Fatalf("expected 1 subtrace, got %d", len(root.Subtraces))
	}
	delegated := root.Subtraces[0]
	if delegated.Caller != b {
		t.Fatalf("delegatecall frame's effective caller = %s, want %s (B)", delegated.Caller, b)
	}
	if delegated.Target != c {
		t.Fatalf("delegatecall frame's target = %s, want %s (C, the bytecode address)", delegated.Target, c)
	}

	// A hypothetical further CALL issued from inside C's delegated code
	// should still see B as its caller (effective caller preserved through
	// the delegate frame).
	d := common.HexToAddress("0xdd")
	insp2 := NewTxInspector()
	insp2.OnCall(CallInputs{Caller: a, Target: b, BytecodeAddress: b, Scheme: wire.SchemeCall})
	insp2.OnCall(CallInputs{Caller: b, Target: b, BytecodeAddress: c, Scheme: wire.SchemeDelegateCall})
	insp2.OnCall(CallInputs{Caller: c, Target: d, BytecodeAddress: d, Scheme: wire.SchemeCall})
	insp2.OnCallEnd(CallInputs{}, Outcome{Kind: OutcomeSuccess})
	insp2.OnCallEnd(CallInputs{}, Outcome{Kind: OutcomeSuccess})
	insp2.OnCallEnd(CallInputs{}, Outcome{Kind: OutcomeSuccess})

	out2 := insp2.Output()
	nested := out2.CallTrace.Subtraces[0].Subtraces[0]
	if nested.Caller != b {
		t.Fatalf("nested call from delegated frame has caller %s, want %s (B, effective caller preserved)", nested.Caller, b)
	}
}

// TestErrorOriginUniqueAlongFailingPath exercises spec §8 property 2: in a
// failed transaction, the DFS returns exactly one node with ErrorOrigin ==
// true along a root-to-leaf path of failed frames, and it is the deepest
// failing frame whose own children all succeeded.
func TestErrorOriginUniqueAlongFailingPath(t *testing.T) {
	eoa := common.HexToAddress("0x00")
	root := common.HexToAddress("0x01")
	mid := common.HexToAddress("0x02")
	leaf := common.HexToAddress("0x03")
	sibling := common.HexToAddress("0x04")

	insp := NewTxInspector()

	// the transaction's single outermost frame, eoa -> root
	insp.OnCall(CallInputs{Caller: eoa, Target: root, BytecodeAddress: root, Scheme: wire.SchemeCall})

	// root --CALL--> mid --CALL--> leaf (reverts); the failure propagates up
	// through mid to root, but leaf is the true origin since it has no
	// failing children of its own.
	insp.OnCall(CallInputs{Caller: root, Target: mid, BytecodeAddress: mid, Scheme: wire.SchemeCall})
	insp.OnCall(CallInputs{Caller: mid, Target: leaf, BytecodeAddress: leaf, Scheme: wire.SchemeCall})
	insp.OnCallEnd(CallInputs{}, Outcome{Kind: OutcomeRevert, Output: nil})
	insp.OnCallEnd(CallInputs{}, Outcome{Kind: OutcomeRevert, Output: nil}) // mid also fails

	// root also calls a sibling that succeeds, which must not affect the
	// error-origin search down the failing path.
	insp.OnCall(CallInputs{Caller: root, Target: sibling, BytecodeAddress: sibling, Scheme: wire.SchemeCall})
	insp.OnCallEnd(CallInputs{}, Outcome{Kind: OutcomeSuccess})

	// the whole transaction's root call also fails (propagated from mid).
	insp.OnCallEnd(CallInputs{}, Outcome{Kind: OutcomeRevert, Output: nil})

	out := insp.Output()
	if out.ErrorTraceAddress == nil {
		t.Fatalf("expected an error trace address")
	}

	midNode := out.CallTrace.Subtraces[0]
	leafNode := midNode.Subtraces[0]
	if !intSliceEqual(out.ErrorTraceAddress, leafNode.TraceAddress) {
		t.Fatalf("error trace address = %v, want leaf's %v", out.ErrorTraceAddress, leafNode.TraceAddress)
	}
	if !leafNode.ErrorOrigin {
		t.Fatalf("expected leaf node to be flagged as the error origin")
	}
	if midNode.ErrorOrigin {
		t.Fatalf("mid should not be flagged as the error origin (its own child, leaf, also failed)")
	}

	// Exactly one node along the whole tree should have ErrorOrigin set.
	count := 0
	var walk func(n *wire.CallTrace)
	walk = func(n *wire.CallTrace) {
		if n.ErrorOrigin {
			count++
		}
		for _, s := range n.Subtraces {
			walk(s)
		}
	}
	walk(out.CallTrace)
	if count != 1 {
		t.Fatalf("expected exactly 1 ErrorOrigin node in the whole tree, got %d", count)
	}
}

// TestNestedCreateAddressResolution exercises spec §8 property 4 with a
// nested CREATE (a CREATE issued from inside another CREATE's constructor),
// checking that paired pending-create fix-ups resolve independently.
func TestNestedCreateAddressResolution(t *testing.T) {
	deployer := common.HexToAddress("0x01")
	outer := common.HexToAddress("0xaa")
	inner := common.HexToAddress("0xbb")

	insp := NewTxInspector()

	insp.OnCreate(CreateInputs{Caller: deployer, Value: uint256.NewInt(5), Scheme: wire.SchemeCreate})
	insp.OnCreate(CreateInputs{Caller: deployer, Value: uint256.NewInt(2), Scheme: wire.SchemeCreate})
	insp.OnCreateEnd(CreateInputs{}, CreateOutcome{Outcome: Outcome{Kind: OutcomeSuccess}, Address: &inner})
	insp.OnCreateEnd(CreateInputs{}, CreateOutcome{Outcome: Outcome{Kind: OutcomeSuccess}, Address: &outer})

	out := insp.Output()
	if len(out.AssetTransfers) != 2 {
		t.Fatalf("expected 2 pending CREATE transfers resolved, got %d", len(out.AssetTransfers))
	}
	// transfers are recorded in OnCreate emission order: the outer CREATE's
	// transfer was appended first (even though the inner CREATE's pending
	// entry, pushed later, is patched first on the LIFO pendingCreate stack).
	if out.AssetTransfers[0].To == nil || *out.AssetTransfers[0].To != outer {
		t.Fatalf("outer transfer To = %v, want %s", out.AssetTransfers[0].To, outer)
	}
	if out.AssetTransfers[1].To == nil || *out.AssetTransfers[1].To != inner {
		t.Fatalf("inner transfer To = %v, want %s", out.AssetTransfers[1].To, inner)
	}

	root := out.CallTrace
	if root.Target != outer {
		t.Fatalf("outer trace node Target = %s, want %s", root.Target, outer)
	}
	if len(root.Subtraces) != 1 || root.Subtraces[0].Target != inner {
		t.Fatalf("expected nested trace node resolved to %s", inner)
	}
}

// TestConstructorNestedCallKeepsCreatorAsCaller checks that a call (with
// value) issued from inside a constructor records the creator as its
// effective caller, not a placeholder.
func TestConstructorNestedCallKeepsCreatorAsCaller(t *testing.T) {
	deployer := common.HexToAddress("0x01")
	deployed := common.HexToAddress("0xaa")
	sink := common.HexToAddress("0xbb")

	insp := NewTxInspector()

	insp.OnCreate(CreateInputs{Caller: deployer, Value: uint256.NewInt(3), Scheme: wire.SchemeCreate})
	insp.OnCall(CallInputs{Caller: deployed, Target: sink, BytecodeAddress: sink, Value: uint256.NewInt(1), Scheme: wire.SchemeCall})
	insp.OnCallEnd(CallInputs{}, Outcome{Kind: OutcomeSuccess})
	insp.OnCreateEnd(CreateInputs{}, CreateOutcome{Outcome: Outcome{Kind: OutcomeSuccess}, Address: &deployed})

	out := insp.Output()
	nested := out.CallTrace.Subtraces[0]
	if nested.Caller != deployer {
		t.Fatalf("constructor-nested call caller = %s, want %s (the creator)", nested.Caller, deployer)
	}
	if len(out.AssetTransfers) != 2 {
		t.Fatalf("expected 2 transfers (create + nested call), got %d", len(out.AssetTransfers))
	}
	if out.AssetTransfers[1].From != deployer {
		t.Fatalf("nested transfer From = %s, want %s", out.AssetTransfers[1].From, deployer)
	}
}

// TestResetClearsStateBetweenTransactions exercises spec §8 property 5: two
// stateless transactions that each do exactly one native transfer to
// different recipients must produce equal-length asset transfer lists with
// distinct first-transfer To fields once Reset runs between them.
func TestResetClearsStateBetweenTransactions(t *testing.T) {
	caller := common.HexToAddress("0x01")
	to1 := common.HexToAddress("0x02")
	to2 := common.HexToAddress("0x03")

	insp := NewTxInspector()

	insp.OnCall(CallInputs{Caller: caller, Target: to1, BytecodeAddress: to1, Value: uint256.NewInt(1), Scheme: wire.SchemeCall})
	insp.OnCallEnd(CallInputs{}, Outcome{Kind: OutcomeSuccess})
	out1 := insp.Output()

	insp.Reset()

	insp.OnCall(CallInputs{Caller: caller, Target: to2, BytecodeAddress: to2, Value: uint256.NewInt(1), Scheme: wire.SchemeCall})
	insp.OnCallEnd(CallInputs{}, Outcome{Kind: OutcomeSuccess})
	out2 := insp.Output()

	if len(out1.AssetTransfers) != len(out2.AssetTransfers) {
		t.Fatalf("asset transfer counts differ: %d vs %d", len(out1.AssetTransfers), len(out2.AssetTransfers))
	}
	if out1.AssetTransfers[0].To == nil || out2.AssetTransfers[0].To == nil {
		t.Fatalf("expected resolved recipients in both transactions")
	}
	if *out1.AssetTransfers[0].To != to1 || *out2.AssetTransfers[0].To != to2 {
		t.Fatalf("recipients not distinct: %s vs %s", *out1.AssetTransfers[0].To, *out2.AssetTransfers[0].To)
	}
	if *out1.AssetTransfers[0].To == *out2.AssetTransfers[0].To {
		t.Fatalf("expected distinct first-transfer recipients across reset transactions")
	}
}

func intSliceEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
