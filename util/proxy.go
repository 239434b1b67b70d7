package util

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Well-known implementation-address storage slots, checked in this order
// (spec §4.8). Values are the canonical slots defined by their respective
// EIPs/OpenZeppelin convention, not transcribed from
// original_source/src/utils/proxy_utils.rs: several of that file's literal
// constants are malformed (65 hex digits), so the real EIP-numbered values
// are used here instead (see DESIGN.md).
var (
	// EIP-1967 implementation slot: bytes32(uint256(keccak256('eip1967.proxy.implementation')) - 1)
	EIP1967ImplementationSlot = common.HexToHash("0x360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc")
	// EIP-1967 beacon slot: bytes32(uint256(keccak256('eip1967.proxy.beacon')) - 1)
	EIP1967BeaconSlot = common.HexToHash("0xa3f0ad74e5423aebfd80d3ef4346578335a9a72aeaee59ff6cb3582b35133d50")
	// OpenZeppelin legacy implementation slot: keccak256("org.zeppelinos.proxy.implementation")
	OZLegacyImplementationSlot = common.HexToHash("0x7050c9e0f4ca769c69bd3a8ef740bc37934f8e2c036e5a723fd8ee048ed3f8c3")
	// EIP-1822 UUPS slot: keccak256("PROXIABLE")
	EIP1822ProxiableSlot = common.HexToHash("0xc5f16f0fcc639fa48a6947836d9850f504798523bf8c9a3a87d5876cf622bcf3")
)

// implementationSlots is the check order spec §4.8 names: EIP-1967
// implementation, EIP-1967 beacon, OpenZeppelin legacy, EIP-1822 UUPS.
var implementationSlots = []common.Hash{
	EIP1967ImplementationSlot,
	EIP1967BeaconSlot,
	OZLegacyImplementationSlot,
	EIP1822ProxiableSlot,
}

// StateReader is the minimal read surface GetImplementation needs: storage
// slot reads and code-hash lookups, satisfied by a cache.Cache or any
// compatible stand-in in tests.
type StateReader interface {
	StorageAt(ctx context.Context, addr common.Address, slot common.Hash) (common.Hash, error)
	CodeHashAt(ctx context.Context, addr common.Address) (common.Hash, error)
}

// GetImplementation resolves proxy's implementation contract by reading
// each well-known slot in order and returning the first one that both
// holds a non-zero address and has deployed code (spec §4.8 "Proxy
// resolver"). It returns (zero, false) if none match.
func GetImplementation(ctx context.Context, r StateReader, proxy common.Address) (common.Address, bool, error) {
	for _, slot := range implementationSlots {
		val, err := r.StorageAt(ctx, proxy, slot)
		if err != nil {
			return common.Address{}, false, err
		}
		if val == (common.Hash{}) {
			continue
		}
		impl := common.BytesToAddress(val[12:])
		codeHash, err := r.CodeHashAt(ctx, impl)
		if err != nil {
			return common.Address{}, false, err
		}
		if codeHash != (common.Hash{}) && codeHash != emptyCodeHash {
			return impl, true, nil
		}
	}
	return common.Address{}, false, nil
}

var emptyCodeHash = crypto.Keccak256Hash(nil)
