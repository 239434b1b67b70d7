package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/clydemeng/ethsim/backend"
)

type fakeSource struct {
	accountCalls int
	codeCalls    int
	accounts     map[common.Address]backend.Account
	code         map[common.Address][]byte
	storage      map[common.Address]map[common.Hash]common.Hash
	blockHashes  map[uint64]common.Hash
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		accounts:    make(map[common.Address]backend.Account),
		code:        make(map[common.Address][]byte),
		storage:     make(map[common.Address]map[common.Hash]common.Hash),
		blockHashes: make(map[uint64]common.Hash),
	}
}

func (f *fakeSource) Account(ctx context.Context, addr common.Address) (backend.Account, error) {
	f.accountCalls++
	acc, ok := f.accounts[addr]
	if !ok {
		return backend.Account{}, errors.New("not found")
	}
	return acc, nil
}

func (f *fakeSource) Code(ctx context.Context, addr common.Address) ([]byte, error) {
	f.codeCalls++
	return f.code[addr], nil
}

func (f *fakeSource) Storage(ctx context.Context, addr common.Address, slot common.Hash) (common.Hash, error) {
	return f.storage[addr][slot], nil
}

func (f *fakeSource) BlockHash(ctx context.Context, number uint64) (common.Hash, error) {
	return f.blockHashes[number], nil
}

func TestCacheMemoizesAccount(t *testing.T) {
	src := newFakeSource()
	addr := common.HexToAddress("0x01")
	src.accounts[addr] = backend.Account{Nonce: 7}

	c := New(src)
	ctx := context.Background()

	if _, err := c.Account(ctx, addr); err != nil {
		t.Fatalf("Account: %v", err)
	}
	if _, err := c.Account(ctx, addr); err != nil {
		t.Fatalf("Account: %v", err)
	}
	if src.accountCalls != 1 {
		t.Fatalf("expected 1 backend call, got %d", src.accountCalls)
	}
	if c.Stats().AccountMisses != 1 {
		t.Fatalf("expected 1 miss, got %d", c.Stats().AccountMisses)
	}
}

func TestCacheResetClearsAccountsButKeepsCode(t *testing.T) {
	src := newFakeSource()
	addr := common.HexToAddress("0x01")
	codeHash := common.HexToHash("0xaa")
	src.accounts[addr] = backend.Account{Nonce: 1, CodeHash: codeHash}
	src.code[addr] = []byte{0x60, 0x01}

	c := New(src)
	ctx := context.Background()
	if _, err := c.Code(ctx, addr); err != nil {
		t.Fatalf("Code: %v", err)
	}
	if src.codeCalls != 1 {
		t.Fatalf("expected 1 code call, got %d", src.codeCalls)
	}

	c.Reset()

	// Account must be refetched after reset...
	if _, err := c.Account(ctx, addr); err != nil {
		t.Fatalf("Account: %v", err)
	}
	if src.accountCalls != 2 {
		t.Fatalf("expected 2 account calls after reset, got %d", src.accountCalls)
	}
	// ...but code, being content-addressed, should still be warm.
	if _, err := c.Code(ctx, addr); err != nil {
		t.Fatalf("Code: %v", err)
	}
	if src.codeCalls != 1 {
		t.Fatalf("expected code cache to survive reset, got %d calls", src.codeCalls)
	}
}

func TestCacheCommitMergesPostState(t *testing.T) {
	src := newFakeSource()
	addr := common.HexToAddress("0x01")
	slot := common.HexToHash("0x02")

	c := New(src)
	ctx := context.Background()
	c.Commit(PostState{
		Accounts: map[common.Address]backend.Account{addr: {Nonce: 9}},
		Storage:  map[common.Address]map[common.Hash]common.Hash{addr: {slot: common.HexToHash("0x99")}},
	})

	acc, err := c.Account(ctx, addr)
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if acc.Nonce != 9 {
		t.Fatalf("expected committed nonce 9, got %d", acc.Nonce)
	}
	if src.accountCalls != 0 {
		t.Fatalf("committed account should not hit backend, got %d calls", src.accountCalls)
	}

	val, err := c.Storage(ctx, addr, slot)
	if err != nil {
		t.Fatalf("Storage: %v", err)
	}
	if val != common.HexToHash("0x99") {
		t.Fatalf("expected committed slot value, got %s", val.Hex())
	}
}
