// Package cache implements the read-through memoization layer over a
// backend.Backend: one map each for accounts, code, storage slots, and
// block hashes, with reset and post-state commit (spec §4.2).
package cache

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/clydemeng/ethsim/backend"
)

// Source is the subset of backend.Backend the cache reads through to.
// Accepting an interface rather than the concrete type keeps the cache
// testable without a live RPC endpoint.
type Source interface {
	Account(ctx context.Context, addr common.Address) (backend.Account, error)
	Code(ctx context.Context, addr common.Address) ([]byte, error)
	Storage(ctx context.Context, addr common.Address, slot common.Hash) (common.Hash, error)
	BlockHash(ctx context.Context, number uint64) (common.Hash, error)
}

type storageKey struct {
	addr common.Address
	slot common.Hash
}

// Stats are cumulative read-miss counters since the last Reset, a
// supplemental feature grounded on revm_bridge/metrics.go's miss-counter
// idea (re-homed here since that file's cgo host is dropped; see
// DESIGN.md).
type Stats struct {
	AccountMisses   uint64
	CodeMisses      uint64
	StorageMisses   uint64
	BlockHashMisses uint64
}

// Cache wraps a backend with read-through memoization. It is not safe for
// concurrent use from multiple goroutines at once: spec §5 scopes one
// cache to one execution context, used from a single goroutine at a time;
// the mutex here only guards against the backend's own worker goroutine
// racing a concurrent Reset/Commit.
type Cache struct {
	be Source

	mu          sync.Mutex
	accounts    map[common.Address]backend.Account
	code        sync.Map // map[common.Hash][]byte -- content-addressed, safe to share across resets of the account map
	storage     map[storageKey]common.Hash
	blockHashes map[uint64]common.Hash

	stats Stats
}

// New constructs an empty cache over be.
func New(be Source) *Cache {
	c := &Cache{be: be}
	c.Reset()
	return c
}

// Reset clears the accounts, storage, and block-hash maps. The code map is
// left intact: bytecode is content-addressed by hash and immutable, so
// keeping it across a reset cannot return a stale answer (mirrors
// revm_bridge/statedb.go's codeCache, which is never cleared either).
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accounts = make(map[common.Address]backend.Account)
	c.storage = make(map[storageKey]common.Hash)
	c.blockHashes = make(map[uint64]common.Hash)
	c.stats = Stats{}
}

// Stats returns the cumulative miss counters since the last Reset.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Account returns the cached account basics for addr, fetching and
// memoizing from the backend on a miss.
func (c *Cache) Account(ctx context.Context, addr common.Address) (backend.Account, error) {
	c.mu.Lock()
	if acc, ok := c.accounts[addr]; ok {
		c.mu.Unlock()
		return acc, nil
	}
	c.stats.AccountMisses++
	c.mu.Unlock()

	acc, err := c.be.Account(ctx, addr)
	if err != nil {
		return backend.Account{}, err
	}
	c.mu.Lock()
	c.accounts[addr] = acc
	c.mu.Unlock()
	return acc, nil
}

// Code returns the bytecode for addr, fetching and memoizing by code hash.
func (c *Cache) Code(ctx context.Context, addr common.Address) ([]byte, error) {
	acc, err := c.Account(ctx, addr)
	if err != nil {
		return nil, err
	}
	if v, ok := c.code.Load(acc.CodeHash); ok {
		return v.([]byte), nil
	}
	c.mu.Lock()
	c.stats.CodeMisses++
	c.mu.Unlock()

	code, err := c.be.Code(ctx, addr)
	if err != nil {
		return nil, err
	}
	c.code.Store(acc.CodeHash, code)
	return code, nil
}

// Storage returns the value at (addr, slot), fetching and memoizing on a
// miss.
func (c *Cache) Storage(ctx context.Context, addr common.Address, slot common.Hash) (common.Hash, error) {
	key := storageKey{addr, slot}
	c.mu.Lock()
	if v, ok := c.storage[key]; ok {
		c.mu.Unlock()
		return v, nil
	}
	c.stats.StorageMisses++
	c.mu.Unlock()

	v, err := c.be.Storage(ctx, addr, slot)
	if err != nil {
		return common.Hash{}, err
	}
	c.mu.Lock()
	c.storage[key] = v
	c.mu.Unlock()
	return v, nil
}

// BlockHash returns the hash for block `number`, fetching and memoizing on
// a miss.
func (c *Cache) BlockHash(ctx context.Context, number uint64) (common.Hash, error) {
	c.mu.Lock()
	if v, ok := c.blockHashes[number]; ok {
		c.mu.Unlock()
		return v, nil
	}
	c.stats.BlockHashMisses++
	c.mu.Unlock()

	v, err := c.be.BlockHash(ctx, number)
	if err != nil {
		return common.Hash{}, err
	}
	c.mu.Lock()
	c.blockHashes[number] = v
	c.mu.Unlock()
	return v, nil
}

// PostState is the post-execution state delta the orchestrator extracts
// from the EVM after a stateful transaction, to be merged into the cache
// so the next transaction in the batch observes it (spec §4.2, §4.7).
type PostState struct {
	Accounts map[common.Address]backend.Account
	Storage  map[common.Address]map[common.Hash]common.Hash
	Code     map[common.Hash][]byte
}

// Commit merges a post-execution state delta into the cache (spec §4.2):
// dirtied accounts and slots take their post-state values, and any newly
// deployed bytecode is added to the code map. Grounded on
// revm_bridge/statedb.go's flushPending, generalized from "overlay on top
// of a local StateDB" to "merge directly into our own maps" since this
// cache has no separate trie beneath it.
func (c *Cache) Commit(post PostState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for addr, acc := range post.Accounts {
		c.accounts[addr] = acc
	}
	for addr, slots := range post.Storage {
		for slot, val := range slots {
			c.storage[storageKey{addr, slot}] = val
		}
	}
	for hash, code := range post.Code {
		c.code.Store(hash, code)
	}
}
