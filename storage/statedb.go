package storage

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/tolchain/core"
	"github.com/tolelom/tolchain/trie"
	"github.com/tolelom/tolchain/vm"
)

const (
	prefixAccount    = "account:"
	prefixAsset      = "asset:"
	prefixCollection = "collection:"
	prefixChannel    = "channel:"
)

type stateSnapshot struct {
	dirty   map[string][]byte
	deleted map[string]bool
}

// StateDB implements core.State on top of a DB with an in-memory write
// buffer, snapshot/rollback, and a Merkle-Patricia trie over the account
// map for GetRootHash. Only account:-prefixed entries feed the trie;
// asset/collection/channel registries are durable but not trie-committed.
type StateDB struct {
	db        DB
	accTrie   *trie.Trie
	dirty     map[string][]byte
	deleted   map[string]bool
	snapshots []stateSnapshot
}

// NewStateDB opens a StateDB over db and rebuilds the account trie from
// the durable account: entries, per §4.2's "rebuilt from the account
// store on startup".
func NewStateDB(db DB) (*StateDB, error) {
	s := &StateDB{
		db:      db,
		accTrie: trie.New(),
		dirty:   make(map[string][]byte),
		deleted: make(map[string]bool),
	}
	if err := s.rebuildTrie(); err != nil {
		return nil, fmt.Errorf("rebuild trie: %w", err)
	}
	return s, nil
}

func (s *StateDB) rebuildTrie() error {
	it := s.db.NewIterator([]byte(prefixAccount))
	defer it.Release()
	for it.Next() {
		addr := string(it.Key())[len(prefixAccount):]
		val := make([]byte, len(it.Value()))
		copy(val, it.Value())
		s.accTrie.Insert([]byte(addr), val)
	}
	return it.Error()
}

// ---- internal write buffer ----

func (s *StateDB) get(key string) ([]byte, error) {
	if s.deleted[key] {
		return nil, core.ErrNotFound
	}
	if v, ok := s.dirty[key]; ok {
		return v, nil
	}
	return s.db.Get([]byte(key))
}

func (s *StateDB) set(key string, val []byte) {
	delete(s.deleted, key)
	s.dirty[key] = val
}

// ---- Account ----

// GetAccount returns core.ErrNotFound for an address never credited, per
// the core.State contract — callers that want implicit account creation
// (a transaction's receiver, a channel partner, ...) check
// errors.Is(err, core.ErrNotFound) themselves and fall back to
// core.NewAccount(0) rather than having that folded in here.
func (s *StateDB) GetAccount(addr string) (*core.Account, error) {
	data, err := s.get(prefixAccount + addr)
	if err != nil {
		return nil, err
	}
	var acc core.Account
	if err := json.Unmarshal(data, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *StateDB) GetBalance(addr string) uint64 {
	acc, err := s.GetAccount(addr)
	if err != nil {
		return 0
	}
	return acc.Balance
}

func (s *StateDB) GetNonce(addr string) uint64 {
	acc, err := s.GetAccount(addr)
	if err != nil {
		return 0
	}
	return acc.Nonce
}

func (s *StateDB) SetAccount(addr string, acc *core.Account) error {
	data, err := json.Marshal(acc)
	if err != nil {
		return err
	}
	s.set(prefixAccount+addr, data)
	return nil
}

// ---- Asset ----

func (s *StateDB) GetAsset(id string) (*core.Asset, error) {
	data, err := s.get(prefixAsset + id)
	if err != nil {
		return nil, err
	}
	var a core.Asset
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *StateDB) SetAsset(a *core.Asset) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	s.set(prefixAsset+a.ID, data)
	return nil
}

// ---- Collection ----

func (s *StateDB) GetCollection(id string) (*core.Collection, error) {
	data, err := s.get(prefixCollection + id)
	if err != nil {
		return nil, err
	}
	var c core.Collection
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *StateDB) SetCollection(c *core.Collection) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	s.set(prefixCollection+c.ID, data)
	return nil
}

// ---- PaymentChannel ----

func (s *StateDB) GetChannel(id string) (*core.PaymentChannel, error) {
	data, err := s.get(prefixChannel + id)
	if err != nil {
		return nil, err
	}
	var c core.PaymentChannel
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *StateDB) SetChannel(c *core.PaymentChannel) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	s.set(prefixChannel+c.ID, data)
	return nil
}

// ---- Transaction execution ----

// ApplyTransaction checks tx.Nonce against the staged account nonce, then
// dispatches tx.Data through the vm module Registry. Any dispatch error
// reverts this transaction's own writes before returning, so a handler
// that partially mutates state before failing never leaves a half-applied
// effect staged for the caller to discard alongside the rest of the block.
func (s *StateDB) ApplyTransaction(tx *core.Transaction, deps core.TxDeps) error {
	sender := hex.EncodeToString(tx.Sender)
	expected := s.GetNonce(sender)
	if tx.Nonce != expected {
		return fmt.Errorf("invalid nonce: expected %d got %d", expected, tx.Nonce)
	}

	snapID, err := s.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	ctx := &vm.Context{
		State:      s,
		Validators: deps.Validators,
		Block:      deps.Block,
		Tx:         tx,
		Emitter:    deps.Emitter,
	}
	if err := vm.Dispatch(ctx, tx.Data); err != nil {
		if revertErr := s.RevertToSnapshot(snapID); revertErr != nil {
			return fmt.Errorf("revert after tx failure: %w (revert error: %v)", err, revertErr)
		}
		return err
	}

	// Bumping the nonce is bookkeeping, not a balance check: a handler
	// like handleCreateCollection or handleMintNFT never touches the
	// sender's own account, so it may still be uncredited at this point.
	acc, err := s.GetAccount(sender)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			return err
		}
		acc = core.NewAccount(0)
	}
	acc.Nonce++
	return s.SetAccount(sender, acc)
}

// ---- Snapshot / Rollback / Commit ----

// Snapshot saves the current write buffer and returns a snapshot ID.
func (s *StateDB) Snapshot() (int, error) {
	snap := stateSnapshot{
		dirty:   make(map[string][]byte, len(s.dirty)),
		deleted: make(map[string]bool, len(s.deleted)),
	}
	for k, v := range s.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		snap.dirty[k] = cp
	}
	for k, v := range s.deleted {
		snap.deleted[k] = v
	}
	s.snapshots = append(s.snapshots, snap)
	return len(s.snapshots) - 1, nil
}

// RevertToSnapshot restores the write buffer to a previously saved
// snapshot. The snapshot maps are deep-copied so later writes cannot
// corrupt them.
func (s *StateDB) RevertToSnapshot(id int) error {
	if id < 0 || id >= len(s.snapshots) {
		return fmt.Errorf("invalid snapshot id %d", id)
	}
	snap := s.snapshots[id]

	dirty := make(map[string][]byte, len(snap.dirty))
	for k, v := range snap.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		dirty[k] = cp
	}
	deleted := make(map[string]bool, len(snap.deleted))
	for k, v := range snap.deleted {
		deleted[k] = v
	}

	s.dirty = dirty
	s.deleted = deleted
	s.snapshots = s.snapshots[:id]
	return nil
}

// DiscardChanges drops the entire write buffer without side effects,
// rejecting a whole block's staged changes per §4.8 step 4.
func (s *StateDB) DiscardChanges() {
	s.dirty = make(map[string][]byte)
	s.deleted = make(map[string]bool)
	s.snapshots = nil
}

// ApplyChanges flushes the write buffer to the durable store via a
// WriteBatch, replays account: writes into the trie, and clears the
// stage.
func (s *StateDB) ApplyChanges() error {
	batch := s.db.NewBatch()
	for k, v := range s.dirty {
		batch.Set([]byte(k), v)
		if addr, ok := cutPrefix(k, prefixAccount); ok {
			s.accTrie.Insert([]byte(addr), v)
		}
	}
	for k := range s.deleted {
		batch.Delete([]byte(k))
	}
	if err := batch.Write(); err != nil {
		return err
	}
	s.dirty = make(map[string][]byte)
	s.deleted = make(map[string]bool)
	s.snapshots = nil
	return nil
}

// GetRootHash returns the account trie's root as of the last ApplyChanges.
func (s *StateDB) GetRootHash() string {
	return s.accTrie.Root()
}

func cutPrefix(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || s[:len(prefix)] != prefix {
		return "", false
	}
	return s[len(prefix):], true
}
