package util

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/clydemeng/ethsim/wire"
)

// ContractCaller is the minimal read surface GetTokenInfos needs to run a
// static call against simulated state: enough to eth_call name/symbol/
// decimals/totalSupply without broadcasting (spec §4.8 "ERC-20 metadata
// helpers" is exercised through the same read-only call path as
// everything else in this package, grounded on backend.Backend's
// read-through query shape).
type ContractCaller interface {
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// GetTokenInfos batch-queries name/symbol/decimals/totalSupply for each
// address in tokens, tolerating tokens that don't implement the full
// ERC-20 metadata surface (many legacy tokens omit decimals or symbol) by
// leaving those fields at their zero value rather than failing the whole
// batch.
func GetTokenInfos(ctx context.Context, c ContractCaller, tokens []common.Address) ([]wire.TokenInfo, error) {
	infos := make([]wire.TokenInfo, len(tokens))
	for i, addr := range tokens {
		info := wire.TokenInfo{Address: addr}

		if data, err := wire.PackName(); err == nil {
			if out, err := c.Call(ctx, addr, data); err == nil {
				if name, err := wire.UnpackString("name", out); err == nil {
					info.Name = name
				}
			}
		}
		if data, err := wire.PackSymbol(); err == nil {
			if out, err := c.Call(ctx, addr, data); err == nil {
				if sym, err := wire.UnpackString("symbol", out); err == nil {
					info.Symbol = sym
				}
			}
		}
		if data, err := wire.PackDecimals(); err == nil {
			if out, err := c.Call(ctx, addr, data); err == nil {
				if dec, err := wire.UnpackUint8("decimals", out); err == nil {
					info.Decimals = dec
				}
			}
		}
		if data, err := wire.PackTotalSupply(); err == nil {
			if out, err := c.Call(ctx, addr, data); err == nil {
				if supply, err := wire.UnpackBigUint("totalSupply", out); err == nil {
					info.TotalSupply = supply
				}
			}
		}

		infos[i] = info
	}
	return infos, nil
}

// nativeTokenInfo is the fallback metadata for a chain's native asset,
// served by DefaultNativeTokenInfo (SPEC_FULL.md §5 "native-token
// fallback"); GetTokenInfos and the transfer-log path do not consult it.
var nativeTokenInfo = map[uint64]wire.TokenInfo{
	1:   {Name: "Ether", Symbol: "ETH", Decimals: 18},
	56:  {Name: "BNB", Symbol: "BNB", Decimals: 18},
	137: {Name: "Matic", Symbol: "MATIC", Decimals: 18},
}

// DefaultNativeTokenInfo returns the well-known native-asset metadata for
// chainID, or a generic placeholder if the chain isn't recognized.
func DefaultNativeTokenInfo(chainID uint64) wire.TokenInfo {
	if info, ok := nativeTokenInfo[chainID]; ok {
		return info
	}
	return wire.TokenInfo{Name: "Native", Symbol: fmt.Sprintf("CHAIN%d", chainID), Decimals: 18}
}
