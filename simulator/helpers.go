package simulator

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"

	"github.com/clydemeng/ethsim/cache"
	"github.com/clydemeng/ethsim/simerrors"
	"github.com/clydemeng/ethsim/util"
	"github.com/clydemeng/ethsim/wire"
)

// call runs a single read-only message call against a throwaway StateDB
// layered on c's cache (no inspector attached, no post-state committed):
// the shared plumbing under every "on-the-fly helper" in spec §4.8/§6.
func (c *Context) call(ctx context.Context, from, to common.Address, data []byte) ([]byte, error) {
	sdb := NewStateDB(c.cache)
	sdb.SetContext(ctx)

	blockCtx := c.blockContext(ctx)
	rules := c.chainConfig.Rules(blockCtx.BlockNumber, blockCtx.Random != nil, blockCtx.Time)
	sdb.Prepare(rules, from, blockCtx.Coinbase, &to, vm.ActivePrecompiles(rules), nil)
	evm := vm.NewEVM(blockCtx, sdb, c.chainConfig, vm.Config{NoBaseFee: true})
	evm.SetTxContext(vm.TxContext{Origin: from, GasPrice: new(big.Int)})

	ret, _, err := evm.Call(from, to, data, defaultGasLimit, new(uint256.Int))
	if sdb.Error() != nil {
		return nil, simerrors.Runtime("call", sdb.Error())
	}
	if err != nil {
		return nil, simerrors.Runtime("call", err)
	}
	return ret, nil
}

// readOnlyCaller adapts Context.call to util.ContractCaller so util package
// functions (which don't know about EVM contexts) can run getter calls.
type readOnlyCaller struct {
	c    *Context
	from common.Address
}

func (r readOnlyCaller) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return r.c.call(ctx, r.from, to, data)
}

// defaultCaller is used as the `from` address of read-only simulated calls
// that have no natural sender of their own (spec §6 helper functions).
var defaultCaller = common.HexToAddress("0x0000000000000000000000000000000000000001")

// QueryERC20Balance returns holder's balance of token (spec §6
// "query_erc20_balance(ctx, token, holder, block?)"). If blockNumber is
// non-zero, the context is first re-pinned to it.
func (c *Context) QueryERC20Balance(ctx context.Context, token, holder common.Address, blockNumber uint64) (*uint256.Int, error) {
	if blockNumber != 0 {
		if err := c.SetDBBlock(ctx, blockNumber); err != nil {
			return nil, err
		}
	}
	data, err := wire.PackBalanceOf(holder)
	if err != nil {
		return nil, simerrors.Token("balanceOf", token.Hex(), err)
	}
	out, err := c.call(ctx, defaultCaller, token, data)
	if err != nil {
		return nil, simerrors.Token("balanceOf", token.Hex(), err)
	}
	bal, err := wire.UnpackBigUint("balanceOf", out)
	if err != nil {
		return nil, simerrors.Token("balanceOf", token.Hex(), err)
	}
	return bal, nil
}

// QueryBalance returns addr's native balance, optionally after re-pinning
// to blockNumber (SPEC_FULL.md §5 item 5, exercising SetDBBlock re-pinning
// across historical queries; spec §8 scenario E6).
func (c *Context) QueryBalance(ctx context.Context, addr common.Address, blockNumber uint64) (*uint256.Int, error) {
	if blockNumber != 0 {
		if err := c.SetDBBlock(ctx, blockNumber); err != nil {
			return nil, err
		}
	}
	acc, err := c.cache.Account(ctx, addr)
	if err != nil {
		return nil, simerrors.Network("query-balance", err)
	}
	return acc.Balance, nil
}

// GetTokenInfos batch-fetches ERC-20 metadata for tokens (spec §6
// "get_token_infos(ctx, tokens, block?)").
func (c *Context) GetTokenInfos(ctx context.Context, tokens []common.Address, blockNumber uint64) ([]wire.TokenInfo, error) {
	if blockNumber != 0 {
		if err := c.SetDBBlock(ctx, blockNumber); err != nil {
			return nil, err
		}
	}
	return util.GetTokenInfos(ctx, readOnlyCaller{c: c, from: defaultCaller}, tokens)
}

// cacheStateReader adapts cache.Cache to util.StateReader for proxy
// resolution, translating its (ctx, addr, slot) shape into the CodeHashAt
// query GetImplementation needs.
type cacheStateReader struct {
	c *cache.Cache
}

func (r cacheStateReader) StorageAt(ctx context.Context, addr common.Address, slot common.Hash) (common.Hash, error) {
	return r.c.Storage(ctx, addr, slot)
}

func (r cacheStateReader) CodeHashAt(ctx context.Context, addr common.Address) (common.Hash, error) {
	acc, err := r.c.Account(ctx, addr)
	if err != nil {
		return common.Hash{}, err
	}
	return acc.CodeHash, nil
}

// GetImplementation resolves proxy's implementation address by checking
// the four well-known slots (spec §4.8, §6 "get_implementation(ctx, addr)").
func (c *Context) GetImplementation(ctx context.Context, proxy common.Address) (common.Address, bool, error) {
	impl, ok, err := util.GetImplementation(ctx, cacheStateReader{c: c.cache}, proxy)
	if err != nil {
		return common.Address{}, false, simerrors.Network("get-implementation", err)
	}
	return impl, ok, nil
}

// DeployAndBatchCall deploys a Multicall3-compatible aggregator via CREATE
// in a reset cache, then issues tryAggregate(requireSuccess, calls) with
// nonce 1 (spec §4.8 "Multicall"). Deployment and decode failures are
// distinct error kinds (spec §7): both surface as Runtime errors here,
// distinguishable via errors.As on the wrapped cause.
func (c *Context) DeployAndBatchCall(ctx context.Context, calls []util.MulticallCall, requireSuccess bool) ([]util.MulticallResult, error) {
	c.cache.Reset()

	sdb := NewStateDB(c.cache)
	sdb.SetContext(ctx)

	deployer := defaultCaller
	sdb.SetNonce(deployer, 0, tracing.NonceChangeUnspecified)

	blockCtx := c.blockContext(ctx)
	rules := c.chainConfig.Rules(blockCtx.BlockNumber, blockCtx.Random != nil, blockCtx.Time)
	sdb.Prepare(rules, deployer, blockCtx.Coinbase, nil, vm.ActivePrecompiles(rules), nil)
	evm := vm.NewEVM(blockCtx, sdb, c.chainConfig, vm.Config{NoBaseFee: true})
	evm.SetTxContext(vm.TxContext{Origin: deployer, GasPrice: new(big.Int)})

	_, multicallAddr, _, err := evm.Create(deployer, util.Multicall3Bytecode, defaultGasLimit, new(uint256.Int))
	if err != nil {
		return nil, simerrors.Runtime("deploy-multicall", err)
	}

	// spec §4.8: "issue tryAggregate(requireSuccess, calls) with nonce 1" —
	// the deployer's nonce after one CREATE.
	if got := sdb.GetNonce(deployer); got != 1 {
		sdb.SetNonce(deployer, 1, tracing.NonceChangeUnspecified)
	}

	data, err := util.PackTryAggregate(requireSuccess, calls)
	if err != nil {
		return nil, simerrors.Runtime("pack-try-aggregate", err)
	}

	// The aggregate call is its own transaction; re-seed the access list
	// with the freshly deployed contract as its destination.
	sdb.Prepare(rules, deployer, blockCtx.Coinbase, &multicallAddr, vm.ActivePrecompiles(rules), nil)
	ret, _, err := evm.Call(deployer, multicallAddr, data, defaultGasLimit, new(uint256.Int))
	if err != nil {
		return nil, simerrors.Runtime("call-multicall", err)
	}

	results, err := util.UnpackTryAggregate(ret)
	if err != nil {
		return nil, simerrors.Runtime("decode-try-aggregate", err)
	}
	return results, nil
}
