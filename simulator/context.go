package simulator

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"

	"github.com/clydemeng/ethsim/backend"
	"github.com/clydemeng/ethsim/cache"
	"github.com/clydemeng/ethsim/inspector"
	"github.com/clydemeng/ethsim/simerrors"
	"github.com/clydemeng/ethsim/util"
	"github.com/clydemeng/ethsim/wire"
)

// defaultGasLimit is the gas budget handed to every simulated transaction.
// SimulationTx carries no gas field (spec §3): the orchestrator's job is to
// reproduce outcomes, not meter a caller's wallet, so it always hands out
// a generous fixed budget instead of asking the caller for one.
const defaultGasLimit = 50_000_000

// Context assembles the EVM execution context of spec §4.3: block env,
// chain id, a cache-backed database, and the installed inspector. One
// Context owns exactly one cache and one inspector and is not safe for
// concurrent use (spec §5) — parallelism comes from cloning the shared
// backend into several Contexts, not from sharing one.
type Context struct {
	be    *backend.Backend
	cache *cache.Cache

	chainConfig *params.ChainConfig
	block       wire.BlockEnv

	insp    inspector.Inspector
	adapter *inspector.Adapter

	txEnv TxEnv
}

// TxEnv carries the transaction-scoped settings applied to every simulated
// transaction beyond what SimulationTx itself supplies. The zero value
// means "defaults": a zero GasLimit is replaced by the orchestrator's own
// generous budget, a nil GasPrice by zero (no fee accounting).
type TxEnv struct {
	GasPrice *uint256.Int
	GasLimit uint64
}

// TxEnv returns the transaction env applied to subsequent transactions.
func (c *Context) TxEnv() TxEnv { return c.txEnv }

// SetTxEnv overrides the transaction env for subsequent transactions
// (spec §4.3 "mutators for...transaction env"). The orchestrator resets it
// to the default after every batch.
func (c *Context) SetTxEnv(env TxEnv) { c.txEnv = env }

// BlockEnv returns the block-scoped parameters currently presented to
// transactions.
func (c *Context) BlockEnv() wire.BlockEnv { return c.block }

// SetBlockEnv overrides the block env's number/timestamp directly without
// touching the underlying backend's pin (spec §4.3 "mutators for block
// env"). Use SetDBBlock to also re-pin the backend and invalidate caches.
func (c *Context) SetBlockEnv(env wire.BlockEnv) { c.block = env }

// ChainID returns the chain id transactions are simulated against.
func (c *Context) ChainID() *big.Int { return new(big.Int).Set(c.chainConfig.ChainID) }

// SetChainID overrides the chain id used to build the EVM's chain rules
// (spec §4.3 "exposes...a chain-id setting").
func (c *Context) SetChainID(id *big.Int) { c.chainConfig.ChainID = new(big.Int).Set(id) }

// DB returns the cache backing this context's reads, for callers that want
// direct access (e.g. Stats(), or to seed it via backend.Prefetch).
func (c *Context) DB() *cache.Cache { return c.cache }

// Inspector returns the inspector installed on this context.
func (c *Context) Inspector() inspector.Inspector { return c.insp }

// Backend returns the underlying remote state backend, for callers that
// want to Clone() it into a sibling Context on another goroutine.
func (c *Context) Backend() *backend.Backend { return c.be }

// SetDBBlock re-pins the underlying backend to a new block, clears the
// cache (any per-block derived data is now stale), and updates the block
// env's number to match (spec §6 "Block control"). Fails as an Init error
// if the re-pin itself fails.
func (c *Context) SetDBBlock(ctx context.Context, blockNumber uint64) error {
	if err := c.be.Pin(ctx, blockNumber); err != nil {
		return simerrors.Init("set-db-block", err)
	}
	c.cache.Reset()
	c.block.Number = c.be.PinnedBlock()
	c.block.Timestamp = c.be.PinnedTimestamp()
	return nil
}

// ExecutionResult is the EVM's outcome for one transaction: success/revert/
// halt plus gas used and return data. Spec §6 treats this as an opaque,
// EVM-library-native type; this is the nearest Go shape to revm's
// ExecutionResult enum (Success/Revert/Halt variants collapsed to fields).
type ExecutionResult struct {
	Status  wire.CallStatus
	GasUsed uint64
	Output  []byte
	Created *common.Address // set for a successful CREATE: the deployed address
}

// IsSuccess reports whether the transaction completed without reverting or
// halting.
func (r ExecutionResult) IsSuccess() bool { return r.Status.IsSuccess() }

// TxResult is one transaction's outcome from TraceTransactions: either all
// three fields are populated and Err is nil, or Err is set and the others
// are zero values (spec §6 "sequence of Result<(...), error>").
type TxResult struct {
	Exec   ExecutionResult
	Diff   wire.StorageDiff
	Output wire.TxTraceOutput
	Err    error
}

// getHash adapts a cache.Cache's BlockHash query to the BLOCKHASH opcode
// directly, rather than walking a header chain the way go-ethereum's own
// core.NewEVMBlockContext does: our backend already serves "hash for block
// N" as one of its four read queries (spec §4.1), so there is no
// parent-chain walk to perform.
func (c *Context) getHash(ctx context.Context) func(n uint64) common.Hash {
	return func(n uint64) common.Hash {
		h, err := c.cache.BlockHash(ctx, n)
		if err != nil {
			log.Debug("ethsim: blockhash lookup failed", "number", n, "err", err)
			return common.Hash{}
		}
		return h
	}
}

// canTransfer and transfer mirror go-ethereum's own core.CanTransfer/
// core.Transfer (spec §4.3 block context), reimplemented locally so this
// package only needs core/vm's StateDB interface, not the upstream core
// package's Message/GasPool machinery this orchestrator replaces (see
// DESIGN.md).
func canTransfer(db vm.StateDB, addr common.Address, amount *uint256.Int) bool {
	return db.GetBalance(addr).Cmp(amount) >= 0
}

func transfer(db vm.StateDB, sender, recipient common.Address, amount *uint256.Int) {
	db.SubBalance(sender, amount, tracing.BalanceChangeTransfer)
	db.AddBalance(recipient, amount, tracing.BalanceChangeTransfer)
}

// blockContext builds the vm.BlockContext for the current block env. A
// non-nil Random is required for go-ethereum to apply post-merge chain
// rules (it gates Rules' isMerge flag on it); without it a modern pinned
// block would execute under pre-Shanghai opcodes and PUSH0 bytecode
// would halt.
func (c *Context) blockContext(ctx context.Context) vm.BlockContext {
	difficulty := new(big.Int)
	if c.block.Difficulty != nil {
		difficulty = c.block.Difficulty.ToBig()
	}
	var baseFee *big.Int
	if c.block.BaseFee != nil {
		baseFee = c.block.BaseFee.ToBig()
	}
	gasLimit := c.block.GasLimit
	if gasLimit == 0 {
		// spec §4.3 "per-block gas limit disabled": treat an unset block
		// gas limit as "no cap", not "no gas available".
		gasLimit = defaultGasLimit
	}
	prevRandao := common.Hash{}
	return vm.BlockContext{
		CanTransfer: canTransfer,
		Transfer:    transfer,
		GetHash:     c.getHash(ctx),
		Coinbase:    c.block.Coinbase,
		BlockNumber: new(big.Int).SetUint64(c.block.Number),
		Time:        c.block.Timestamp,
		Difficulty:  difficulty,
		BaseFee:     baseFee,
		BlobBaseFee: new(big.Int),
		Random:      &prevRandao,
		GasLimit:    gasLimit,
	}
}

// runTx executes one SimulationTx against a fresh StateDB layered on this
// context's cache, following the "inspect-and-replay" sequence of spec
// §4.7: reset the inspector, fetch the caller's nonce, build the EVM, run
// the call or create, extract the storage diff and post-state from the
// resulting working set, and return the inspector's structured trace
// output alongside it. Err is non-nil only for failures that prevented
// obtaining any ExecutionResult at all (spec §7) — a revert or halt is a
// value inside a successful ExecutionResult, not an Err.
func (c *Context) runTx(ctx context.Context, tx wire.SimulationTx) (ExecutionResult, wire.StorageDiff, wire.TxTraceOutput, cache.PostState, error) {
	c.insp.Reset()

	sdb := NewStateDB(c.cache)
	sdb.SetContext(ctx)

	_ = sdb.GetNonce(tx.Caller) // spec §4.7.b: fetch through the cache now so a fetch failure surfaces before executing
	if sdb.Error() != nil {
		return ExecutionResult{}, nil, wire.TxTraceOutput{}, cache.PostState{}, simerrors.Runtime("fetch-nonce", sdb.Error())
	}

	value := valueOrZero(tx.Value)
	balance := sdb.GetBalance(tx.Caller)
	if balance.Cmp(value) < 0 {
		return ExecutionResult{}, nil, wire.TxTraceOutput{}, cache.PostState{}, simerrors.Runtime("insufficient-balance",
			fmt.Errorf("sender %s has balance %s, need %s", tx.Caller, balance, value))
	}
	if sdb.Error() != nil {
		return ExecutionResult{}, nil, wire.TxTraceOutput{}, cache.PostState{}, simerrors.Runtime("fetch-balance", sdb.Error())
	}

	gasLimit := c.txEnv.GasLimit
	if gasLimit == 0 {
		gasLimit = defaultGasLimit
	}
	gasPrice := new(big.Int)
	if c.txEnv.GasPrice != nil {
		gasPrice = c.txEnv.GasPrice.ToBig()
	}

	blockCtx := c.blockContext(ctx)
	hooks := c.adapter.Hooks()
	sdb.SetLogger(hooks)
	evm := vm.NewEVM(blockCtx, sdb, c.chainConfig, vm.Config{Tracer: hooks, NoBaseFee: true})
	evm.SetTxContext(vm.TxContext{Origin: tx.Caller, GasPrice: gasPrice})

	// vm.EVM does not seed the EIP-2929 access list itself; the state
	// transition this orchestrator replaces warms the sender, destination,
	// active precompiles, and (post-Shanghai) coinbase before dispatch, or
	// every first touch is billed cold.
	rules := c.chainConfig.Rules(blockCtx.BlockNumber, blockCtx.Random != nil, blockCtx.Time)
	var dest *common.Address
	if tx.Kind != wire.KindCreate {
		to := tx.To
		dest = &to
	}
	sdb.Prepare(rules, tx.Caller, blockCtx.Coinbase, dest, vm.ActivePrecompiles(rules), nil)

	var (
		ret         []byte
		leftoverGas uint64
		vmErr       error
		created     *common.Address
	)

	switch tx.Kind {
	case wire.KindCreate:
		var addr common.Address
		ret, addr, leftoverGas, vmErr = evm.Create(tx.Caller, tx.Data, gasLimit, value)
		if vmErr == nil {
			created = &addr
		}
	default:
		// CALL does not bump the nonce internally the way vm.Create does
		// for CREATE (go-ethereum's own state transition does this exact
		// increment outside of vm.Call); this orchestrator replaces that
		// transition, so it does the bump itself.
		sdb.SetNonce(tx.Caller, sdb.GetNonce(tx.Caller)+1, tracing.NonceChangeEoACall)
		ret, leftoverGas, vmErr = evm.Call(tx.Caller, tx.To, tx.Data, gasLimit, value)
	}

	gasUsed := gasLimit - leftoverGas

	var status wire.CallStatus
	switch {
	case vmErr == nil:
		status = wire.Success()
	case errors.Is(vmErr, vm.ErrExecutionReverted):
		status = wire.Revert(decodeRevert(ret))
	default:
		status = wire.Halt(vmErr.Error())
	}

	exec := ExecutionResult{Status: status, GasUsed: gasUsed, Output: ret, Created: created}

	diff := sdb.StorageDiff(func(addr common.Address, slot common.Hash) common.Hash {
		v, err := c.cache.Storage(ctx, addr, slot)
		if err != nil {
			return common.Hash{}
		}
		return v
	})

	out := wire.TxTraceOutput{}
	if txOut, ok := c.insp.TraceOutput().(wire.TxTraceOutput); ok {
		out = txOut
	}

	return exec, diff, out, sdb.PostState(), nil
}

func decodeRevert(output []byte) string {
	if msg, ok := util.DecodeRevertReason(output); ok {
		return msg
	}
	return "0x" + hex.EncodeToString(output)
}

func valueOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return uint256.NewInt(0)
	}
	return v
}
