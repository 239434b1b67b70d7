// Package simulator assembles the EVM execution context (spec §4.3), wires
// the cache-backed StateDB the EVM runs against, and drives the batch
// orchestrator (spec §4.7).
package simulator

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/stateless"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/trie/utils"
	"github.com/holiman/uint256"

	"github.com/clydemeng/ethsim/backend"
	"github.com/clydemeng/ethsim/cache"
	"github.com/clydemeng/ethsim/wire"
)

// account is the StateDB's working copy of one address's basics, lazily
// populated from the cache on first touch.
type account struct {
	loaded   bool
	balance  *uint256.Int
	nonce    uint64
	codeHash common.Hash
	code     []byte
	created  bool // created earlier in this transaction (EIP-6780 gate)
	destruct bool
}

// journal entries are undo closures, the same linear-undo idiom
// go-ethereum's own core/state.StateDB journal uses, reimplemented here
// because this StateDB keeps its working set in plain maps instead of a
// trie (spec §4.3 "snapshot/revert").
type journalEntry func(s *StateDB)

// StateDB implements vm.StateDB over a cache.Cache, so the go-ethereum EVM
// can run directly against remote chain state without a local trie (spec
// §2 "treat the EVM opcode interpreter as an external library", §4.3).
// It is not safe for concurrent use; each Context owns exactly one.
type StateDB struct {
	ctx   context.Context
	c     *cache.Cache
	block uint64 // pinned block number; NewStateDB leaves it zero and no method reads it

	accounts  map[common.Address]*account
	storage   map[common.Address]map[common.Hash]common.Hash
	transient map[common.Address]map[common.Hash]common.Hash

	accessAddrs map[common.Address]bool
	accessSlots map[common.Address]map[common.Hash]bool

	refund uint64
	logs   []*types.Log
	logger *tracing.Hooks

	journal []journalEntry

	err error
}

var _ vm.StateDB = (*StateDB)(nil)

// NewStateDB constructs a StateDB reading through c.
func NewStateDB(c *cache.Cache) *StateDB {
	return &StateDB{c: c}
}

// SetContext installs the context used for the remaining read-through
// calls; the orchestrator calls this once per transaction.
func (s *StateDB) SetContext(ctx context.Context) { s.ctx = ctx }

// Error returns the first error recorded by a failed read-through call,
// mirroring go-ethereum's own StateDB.Error()/setError convention: EVM
// opcodes cannot themselves return errors from StateDB accessors, so
// failures are recorded and surfaced after execution completes.
func (s *StateDB) Error() error { return s.err }

func (s *StateDB) setError(err error) {
	if s.err == nil && err != nil {
		s.err = err
	}
}

func (s *StateDB) getAccount(addr common.Address) *account {
	if s.accounts == nil {
		s.accounts = make(map[common.Address]*account)
	}
	if a, ok := s.accounts[addr]; ok {
		return a
	}
	a := &account{balance: uint256.NewInt(0), codeHash: types.EmptyCodeHash}
	acc, err := s.c.Account(s.ctx, addr)
	if err != nil {
		s.setError(err)
	} else {
		if acc.Balance != nil {
			a.balance = acc.Balance.Clone()
		}
		a.nonce = acc.Nonce
		if acc.CodeHash != (common.Hash{}) {
			a.codeHash = acc.CodeHash
		}
	}
	a.loaded = true
	s.accounts[addr] = a
	return a
}

// --- balance / nonce -------------------------------------------------------

func (s *StateDB) GetBalance(addr common.Address) *uint256.Int {
	return s.getAccount(addr).balance.Clone()
}

func (s *StateDB) AddBalance(addr common.Address, amount *uint256.Int, reason tracing.BalanceChangeReason) uint256.Int {
	a := s.getAccount(addr)
	prev := a.balance.Clone()
	s.journal = append(s.journal, func(s *StateDB) { s.accounts[addr].balance = prev })
	a.balance = new(uint256.Int).Add(a.balance, amount)
	return *prev
}

func (s *StateDB) SubBalance(addr common.Address, amount *uint256.Int, reason tracing.BalanceChangeReason) uint256.Int {
	a := s.getAccount(addr)
	prev := a.balance.Clone()
	s.journal = append(s.journal, func(s *StateDB) { s.accounts[addr].balance = prev })
	a.balance = new(uint256.Int).Sub(a.balance, amount)
	return *prev
}

func (s *StateDB) GetNonce(addr common.Address) uint64 {
	return s.getAccount(addr).nonce
}

func (s *StateDB) SetNonce(addr common.Address, nonce uint64, reason tracing.NonceChangeReason) {
	a := s.getAccount(addr)
	prev := a.nonce
	s.journal = append(s.journal, func(s *StateDB) { s.accounts[addr].nonce = prev })
	a.nonce = nonce
}

// --- code -------------------------------------------------------------

func (s *StateDB) GetCodeHash(addr common.Address) common.Hash {
	a := s.getAccount(addr)
	if a.codeHash == (common.Hash{}) {
		return types.EmptyCodeHash
	}
	return a.codeHash
}

func (s *StateDB) GetCode(addr common.Address) []byte {
	a := s.getAccount(addr)
	if a.code != nil {
		return a.code
	}
	if a.codeHash == (common.Hash{}) || a.codeHash == types.EmptyCodeHash {
		return nil
	}
	code, err := s.c.Code(s.ctx, addr)
	if err != nil {
		s.setError(err)
		return nil
	}
	a.code = code
	return code
}

func (s *StateDB) GetCodeSize(addr common.Address) int {
	return len(s.GetCode(addr))
}

func (s *StateDB) SetCode(addr common.Address, code []byte) []byte {
	a := s.getAccount(addr)
	prevHash, prevCode := a.codeHash, a.code
	s.journal = append(s.journal, func(s *StateDB) {
		acc := s.accounts[addr]
		acc.codeHash, acc.code = prevHash, prevCode
	})
	a.code = code
	if len(code) == 0 {
		a.codeHash = types.EmptyCodeHash
	} else {
		a.codeHash = crypto.Keccak256Hash(code)
	}
	return prevCode
}

// --- storage ------------------------------------------------------------

func (s *StateDB) getStorage(addr common.Address, slot common.Hash) common.Hash {
	if s.storage == nil {
		s.storage = make(map[common.Address]map[common.Hash]common.Hash)
	}
	if m, ok := s.storage[addr]; ok {
		if v, ok := m[slot]; ok {
			return v
		}
	}
	v, err := s.c.Storage(s.ctx, addr, slot)
	if err != nil {
		s.setError(err)
		return common.Hash{}
	}
	if s.storage[addr] == nil {
		s.storage[addr] = make(map[common.Hash]common.Hash)
	}
	s.storage[addr][slot] = v
	return v
}

func (s *StateDB) GetState(addr common.Address, slot common.Hash) common.Hash {
	return s.getStorage(addr, slot)
}

// GetCommittedState returns the pre-transaction value: since this StateDB
// has no in-flight-vs-committed distinction below the cache layer (the
// cache itself is the committed baseline for the pinned block), this is
// the cache's read-through value, bypassing any dirty overlay written
// during the current transaction.
func (s *StateDB) GetCommittedState(addr common.Address, slot common.Hash) common.Hash {
	v, err := s.c.Storage(s.ctx, addr, slot)
	if err != nil {
		s.setError(err)
		return common.Hash{}
	}
	return v
}

func (s *StateDB) SetState(addr common.Address, slot common.Hash, value common.Hash) common.Hash {
	prev := s.getStorage(addr, slot)
	s.journal = append(s.journal, func(s *StateDB) { s.storage[addr][slot] = prev })
	s.storage[addr][slot] = value
	return prev
}

func (s *StateDB) GetStorageRoot(addr common.Address) common.Hash {
	return common.Hash{}
}

// --- transient storage (EIP-1153) ---------------------------------------

func (s *StateDB) GetTransientState(addr common.Address, key common.Hash) common.Hash {
	if m, ok := s.transient[addr]; ok {
		return m[key]
	}
	return common.Hash{}
}

func (s *StateDB) SetTransientState(addr common.Address, key, value common.Hash) {
	if s.transient == nil {
		s.transient = make(map[common.Address]map[common.Hash]common.Hash)
	}
	prev := s.GetTransientState(addr, key)
	s.journal = append(s.journal, func(s *StateDB) { s.transient[addr][key] = prev })
	if s.transient[addr] == nil {
		s.transient[addr] = make(map[common.Hash]common.Hash)
	}
	s.transient[addr][key] = value
}

// --- refund ---------------------------------------------------------------

func (s *StateDB) AddRefund(gas uint64) {
	prev := s.refund
	s.journal = append(s.journal, func(s *StateDB) { s.refund = prev })
	s.refund += gas
}

func (s *StateDB) SubRefund(gas uint64) {
	prev := s.refund
	s.journal = append(s.journal, func(s *StateDB) { s.refund = prev })
	if gas > s.refund {
		s.refund = 0
		return
	}
	s.refund -= gas
}

func (s *StateDB) GetRefund() uint64 { return s.refund }

// --- account lifecycle ----------------------------------------------------

func (s *StateDB) CreateAccount(addr common.Address) {
	a := s.getAccount(addr)
	prev := *a
	s.journal = append(s.journal, func(s *StateDB) {
		restored := prev
		s.accounts[addr] = &restored
	})
	s.accounts[addr] = &account{loaded: true, balance: a.balance.Clone()}
}

func (s *StateDB) CreateContract(addr common.Address) {
	a := s.getAccount(addr)
	if !a.created {
		s.journal = append(s.journal, func(s *StateDB) { s.accounts[addr].created = false })
		a.created = true
	}
}

func (s *StateDB) SelfDestruct(addr common.Address) uint256.Int {
	a := s.getAccount(addr)
	prevBalance, prevDestruct := a.balance.Clone(), a.destruct
	s.journal = append(s.journal, func(s *StateDB) {
		acc := s.accounts[addr]
		acc.balance, acc.destruct = prevBalance, prevDestruct
	})
	balance := *a.balance
	a.balance = uint256.NewInt(0)
	a.destruct = true
	return balance
}

func (s *StateDB) HasSelfDestructed(addr common.Address) bool {
	if a, ok := s.accounts[addr]; ok {
		return a.destruct
	}
	return false
}

// SelfDestruct6780 implements EIP-6780: SELFDESTRUCT only actually
// destroys the account (rather than just sweeping its balance) when the
// account was created earlier in the same transaction.
func (s *StateDB) SelfDestruct6780(addr common.Address) (uint256.Int, bool) {
	a := s.getAccount(addr)
	if a.created {
		return s.SelfDestruct(addr), true
	}
	return *a.balance.Clone(), false
}

// Exist reports whether addr is considered present in state, including
// accounts self-destructed earlier in the current transaction. A remote
// read-only backend can't distinguish "never touched" from "touched but
// all-zero" (both read back as zero balance/nonce/empty code hash), so
// anything beyond the per-transaction lifecycle flags falls back to the
// EIP-161 emptiness test.
func (s *StateDB) Exist(addr common.Address) bool {
	a := s.getAccount(addr)
	return a.destruct || a.created || !s.Empty(addr)
}

func (s *StateDB) Empty(addr common.Address) bool {
	a := s.getAccount(addr)
	return a.nonce == 0 && a.balance.IsZero() && (a.codeHash == common.Hash{} || a.codeHash == types.EmptyCodeHash)
}

// --- access list (EIP-2929/2930) -----------------------------------------

func (s *StateDB) AddressInAccessList(addr common.Address) bool {
	return s.accessAddrs != nil && s.accessAddrs[addr]
}

func (s *StateDB) SlotInAccessList(addr common.Address, slot common.Hash) (bool, bool) {
	addrOK := s.AddressInAccessList(addr)
	if s.accessSlots == nil {
		return addrOK, false
	}
	m, ok := s.accessSlots[addr]
	if !ok {
		return addrOK, false
	}
	return addrOK, m[slot]
}

func (s *StateDB) AddAddressToAccessList(addr common.Address) {
	if s.accessAddrs == nil {
		s.accessAddrs = make(map[common.Address]bool)
	}
	if s.accessAddrs[addr] {
		return
	}
	s.journal = append(s.journal, func(s *StateDB) { delete(s.accessAddrs, addr) })
	s.accessAddrs[addr] = true
}

func (s *StateDB) AddSlotToAccessList(addr common.Address, slot common.Hash) {
	s.AddAddressToAccessList(addr)
	if s.accessSlots == nil {
		s.accessSlots = make(map[common.Address]map[common.Hash]bool)
	}
	if s.accessSlots[addr] == nil {
		s.accessSlots[addr] = make(map[common.Hash]bool)
	}
	if s.accessSlots[addr][slot] {
		return
	}
	s.journal = append(s.journal, func(s *StateDB) { delete(s.accessSlots[addr], slot) })
	s.accessSlots[addr][slot] = true
}

func (s *StateDB) Prepare(rules params.Rules, sender, coinbase common.Address, dest *common.Address, precompiles []common.Address, txAccesses types.AccessList) {
	s.accessAddrs = make(map[common.Address]bool)
	s.accessSlots = make(map[common.Address]map[common.Hash]bool)
	s.AddAddressToAccessList(sender)
	if dest != nil {
		s.AddAddressToAccessList(*dest)
	}
	for _, p := range precompiles {
		s.AddAddressToAccessList(p)
	}
	if rules.IsShanghai {
		s.AddAddressToAccessList(coinbase)
	}
	for _, el := range txAccesses {
		s.AddAddressToAccessList(el.Address)
		for _, key := range el.StorageKeys {
			s.AddSlotToAccessList(el.Address, key)
		}
	}
}

// --- verkle / witness / preimage hooks ------------------------------------
//
// These satisfy the remainder of vm.StateDB for features this simulator
// never enables: verkle trees (PointCache/AccessEvents), stateless witness
// collection, and preimage recording. go-ethereum only consults them when
// the corresponding chain rules or vm.Config flags are on.

func (s *StateDB) PointCache() *utils.PointCache { return nil }

func (s *StateDB) AccessEvents() *state.AccessEvents { return nil }

func (s *StateDB) Witness() *stateless.Witness { return nil }

func (s *StateDB) AddPreimage(common.Hash, []byte) {}

// Finalise is a no-op: this StateDB has no trie to fold dirty objects
// into; the orchestrator extracts PostState and merges it into the cache
// instead.
func (s *StateDB) Finalise(bool) {}

// --- snapshot / revert -----------------------------------------------------

func (s *StateDB) Snapshot() int { return len(s.journal) }

func (s *StateDB) RevertToSnapshot(id int) {
	for i := len(s.journal) - 1; i >= id; i-- {
		s.journal[i](s)
	}
	s.journal = s.journal[:id]
}

// --- logs -----------------------------------------------------------------

// SetLogger installs tracing hooks, matching go-ethereum's own
// state.StateDB: the LOG opcodes surface through AddLog on the database,
// not through vm.Config.Tracer, so the inspector's OnLog hook has to be
// fired from here.
func (s *StateDB) SetLogger(l *tracing.Hooks) { s.logger = l }

func (s *StateDB) AddLog(log *types.Log) {
	s.logs = append(s.logs, log)
	if s.logger != nil && s.logger.OnLog != nil {
		s.logger.OnLog(log)
	}
}

func (s *StateDB) Logs() []*types.Log { return s.logs }

// --- post-state extraction (spec §4.7 "commit on stateful batches") -------

// PostState collects every account and storage slot this StateDB touched
// during the transaction, for the orchestrator to merge into the cache via
// cache.Cache.Commit when running a stateful batch.
func (s *StateDB) PostState() cache.PostState {
	post := cache.PostState{
		Accounts: make(map[common.Address]backend.Account, len(s.accounts)),
		Storage:  make(map[common.Address]map[common.Hash]common.Hash, len(s.storage)),
		Code:     make(map[common.Hash][]byte),
	}
	for addr, a := range s.accounts {
		post.Accounts[addr] = backend.Account{Balance: a.balance.Clone(), Nonce: a.nonce, CodeHash: a.codeHash}
		if a.code != nil {
			post.Code[a.codeHash] = a.code
		}
	}
	for addr, slots := range s.storage {
		m := make(map[common.Hash]common.Hash, len(slots))
		for slot, val := range slots {
			m[slot] = val
		}
		post.Storage[addr] = m
	}
	return post
}

// StorageDiff reports every slot this StateDB dirtied during the
// transaction, old value vs. new (spec §4.6 "storage diff"). before
// resolves the pre-transaction value for a slot, normally
// cache.Cache.Storage.
func (s *StateDB) StorageDiff(before func(addr common.Address, slot common.Hash) common.Hash) wire.StorageDiff {
	out := make(wire.StorageDiff)
	for addr, slots := range s.storage {
		for slot, newVal := range slots {
			oldVal := before(addr, slot)
			if oldVal == newVal {
				continue
			}
			out[addr] = append(out[addr], wire.SlotChange{
				Address: addr, Slot: slot, OldValue: oldVal, NewValue: newVal,
			})
		}
	}
	return out
}
