// Package chain implements the block pipeline: add_block's ten-step
// validation/apply/persist/index sequence, vote accounting and finality,
// range queries, and local block production. A Chain is exclusively owned
// by one cooperative loop; it performs no internal locking.
package chain

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/tolelom/tolchain/config"
	"github.com/tolelom/tolchain/consensus"
	"github.com/tolelom/tolchain/core"
	"github.com/tolelom/tolchain/crypto"
	"github.com/tolelom/tolchain/events"
	"github.com/tolelom/tolchain/storage"
	"github.com/tolelom/tolchain/validatorset"
	"github.com/tolelom/tolchain/vm"
)

// Chain owns the canonical block store, the staged state, the validator
// registry, and the in-memory equivocation/vote caches that sit in front
// of the durable store.
type Chain struct {
	store      *storage.ChainStore
	state      core.State
	validators *validatorset.Set
	mempool    *core.Mempool
	exec       *vm.Executor
	emitter    *events.Emitter
	clock      consensus.Clock

	head          string
	finalizedHead string
	height        uint64 // slot of head

	seenHeaders map[string]string        // "slot:pubkeyHex" -> block hash, in-memory fast path over store
	votes       map[string]map[string]bool // blockHash -> voterHex -> true, in-memory fast path over store
}

// New wires a Chain over an already-initialized store (genesis must
// already be committed via Init).
func New(
	store *storage.ChainStore,
	state core.State,
	validators *validatorset.Set,
	mempool *core.Mempool,
	exec *vm.Executor,
	emitter *events.Emitter,
	clock consensus.Clock,
) *Chain {
	return &Chain{
		store:       store,
		state:       state,
		validators:  validators,
		mempool:     mempool,
		exec:        exec,
		emitter:     emitter,
		clock:       clock,
		seenHeaders: make(map[string]string),
		votes:       make(map[string]map[string]bool),
	}
}

// Init brings the in-memory head/finalized_head/height state into sync
// with the store. If the store already has a head (a restart against
// existing data), that head is adopted; otherwise genesis is persisted and
// adopted as both head and finalized_head. It must be called exactly once,
// before any AddBlock.
func (c *Chain) Init(genesis *core.Block) error {
	existingHead, err := c.store.GetHead()
	if err != nil {
		return fmt.Errorf("read head: %w", err)
	}
	if existingHead != "" {
		head, err := c.store.GetBlock(existingHead)
		if err != nil {
			return fmt.Errorf("load existing head %s: %w", existingHead, err)
		}
		finalized, err := c.store.GetFinalizedHead()
		if err != nil {
			return fmt.Errorf("read finalized head: %w", err)
		}
		c.head = existingHead
		c.height = head.Header.Slot
		if finalized != "" {
			c.finalizedHead = finalized
		} else {
			c.finalizedHead = genesis.Hash
		}
		return nil
	}

	if err := c.store.PutBlock(genesis); err != nil {
		return fmt.Errorf("persist genesis: %w", err)
	}
	if err := c.store.PutHeightIndex(genesis.Header.Slot, genesis.Hash); err != nil {
		return fmt.Errorf("index genesis: %w", err)
	}
	if err := c.store.SetHead(genesis.Hash); err != nil {
		return fmt.Errorf("set head: %w", err)
	}
	if err := c.store.SetFinalizedHead(genesis.Hash); err != nil {
		return fmt.Errorf("set finalized head: %w", err)
	}
	c.head = genesis.Hash
	c.finalizedHead = genesis.Hash
	c.height = genesis.Header.Slot
	return nil
}

// Head returns the current fork-choice head hash.
func (c *Chain) Head() string { return c.head }

// FinalizedHead returns the most recent block hash whose accumulated vote
// stake has crossed the finality threshold.
func (c *Chain) FinalizedHead() string { return c.finalizedHead }

// Height returns the slot of the current head.
func (c *Chain) Height() uint64 { return c.height }

func (c *Chain) GetBlock(hash string) (*core.Block, error) {
	return c.store.GetBlock(hash)
}

func (c *Chain) GetBlockBySlot(slot uint64) (*core.Block, error) {
	hash, err := c.store.GetHeightIndex(slot)
	if err != nil {
		return nil, err
	}
	return c.store.GetBlock(hash)
}

// State exposes the staged account ledger for read-only queries (GET
// /account and friends). The node loop remains the only writer.
func (c *Chain) State() core.State { return c.state }

// Validators exposes the stake registry for read-only queries.
func (c *Chain) Validators() *validatorset.Set { return c.validators }

// FaucetClaim returns the last faucet claim time for addr, in unix millis
// (0 if never claimed).
func (c *Chain) FaucetClaim(addr string) (int64, error) {
	return c.store.GetFaucetClaim(addr)
}

// SetFaucetClaim records addr's latest faucet claim time.
func (c *Chain) SetFaucetClaim(addr string, unixMilli int64) error {
	return c.store.SetFaucetClaim(addr, unixMilli)
}

// equivKey identifies a (slot, producer) pair for equivocation tracking.
func equivKey(slot uint64, producerHex string) string {
	return fmt.Sprintf("%d:%s", slot, producerHex)
}

// AddBlock runs the full ten-step pipeline. Any failure at any step leaves
// the store and staged state untouched: state.DiscardChanges() and
// validators.RevertToSnapshot() run before any error return past step 4,
// and no store writes happen before step 7.
func (c *Chain) AddBlock(b *core.Block) error {
	// 1. Parent lookup.
	parent, err := c.store.GetBlock(b.Header.ParentHash)
	if err != nil {
		return fmt.Errorf("parent %s not found: %w", b.Header.ParentHash, err)
	}

	// 2. Equivocation check.
	producerHex := hex.EncodeToString(b.Header.ValidatorPubkey)
	key := equivKey(b.Header.Slot, producerHex)
	if existing, ok := c.seenHeaders[key]; ok {
		if existing != b.Hash {
			if _, slashErr := c.validators.Slash(b.Header.ValidatorPubkey); slashErr != nil && !errors.Is(slashErr, validatorset.ErrAlreadySlashed) {
				return fmt.Errorf("slash equivocating producer: %w", slashErr)
			}
			if c.emitter != nil {
				c.emitter.Emit(events.Event{Type: events.EventValidatorSlashed, Slot: b.Header.Slot, Data: map[string]any{"pubkey": producerHex}})
			}
			return fmt.Errorf("equivocation: producer %s already produced a different block at slot %d", producerHex, b.Header.Slot)
		}
		// Idempotent re-acceptance: same hash already recorded, nothing new to do.
		return nil
	}
	if stored, err := c.store.GetSeenHeader(b.Header.Slot, producerHex); err == nil && stored != b.Hash {
		if _, slashErr := c.validators.Slash(b.Header.ValidatorPubkey); slashErr != nil && !errors.Is(slashErr, validatorset.ErrAlreadySlashed) {
			return fmt.Errorf("slash equivocating producer: %w", slashErr)
		}
		return fmt.Errorf("equivocation: producer %s already produced a different block at slot %d", producerHex, b.Header.Slot)
	}

	// 3. Consensus validation.
	if err := consensus.ValidateBlock(b, parent, c.validators); err != nil {
		return fmt.Errorf("consensus validation: %w", err)
	}

	// 4. State application (atomic per block).
	c.state.DiscardChanges()
	validatorSnap := c.validators.Snapshot()
	if err := c.exec.ApplyBlock(c.state, b, c.validators); err != nil {
		c.state.DiscardChanges()
		if revertErr := c.validators.RevertToSnapshot(validatorSnap); revertErr != nil {
			return fmt.Errorf("%w (validator revert error: %v)", err, revertErr)
		}
		return err
	}

	// 5. State-root check.
	if b.Header.StateRoot != "" && b.Header.StateRoot != c.state.GetRootHash() {
		c.state.DiscardChanges()
		if revertErr := c.validators.RevertToSnapshot(validatorSnap); revertErr != nil {
			return fmt.Errorf("state_root mismatch and validator revert failed: %v", revertErr)
		}
		return fmt.Errorf("state_root mismatch: header %s computed %s", b.Header.StateRoot, c.state.GetRootHash())
	}

	// 6. Fork-choice.
	head, err := c.store.GetBlock(c.head)
	if err != nil {
		c.state.DiscardChanges()
		_ = c.validators.RevertToSnapshot(validatorSnap)
		return fmt.Errorf("load current head: %w", err)
	}
	newHead := consensus.IsBetter(b, head)

	// 7. Persist block.
	if err := c.store.PutBlock(b); err != nil {
		c.state.DiscardChanges()
		_ = c.validators.RevertToSnapshot(validatorSnap)
		return fmt.Errorf("persist block: %w", err)
	}
	if newHead {
		if err := c.store.SetHead(b.Hash); err != nil {
			c.state.DiscardChanges()
			_ = c.validators.RevertToSnapshot(validatorSnap)
			return fmt.Errorf("persist head: %w", err)
		}
		c.head = b.Hash
		c.height = b.Header.Slot
	}

	// 8. Commit state.
	if err := c.state.ApplyChanges(); err != nil {
		return fmt.Errorf("commit state: %w", err)
	}

	// 9. Indexing side effects. tx_index/history are projected by the
	// indexer off EventTxExecuted; Chain only owns the height index and
	// the equivocation record, since validator registration/unregistration
	// already happened inside the vm dispatch in step 4.
	if err := c.store.PutHeightIndex(b.Header.Slot, b.Hash); err != nil {
		return fmt.Errorf("index height: %w", err)
	}
	if err := c.store.PutSeenHeader(b.Header.Slot, producerHex, b.Hash); err != nil {
		return fmt.Errorf("index seen header: %w", err)
	}
	c.seenHeaders[key] = b.Hash

	c.mempool.RemoveTransactions(b.Transactions)

	if c.emitter != nil {
		c.emitter.Emit(events.Event{
			Type: events.EventBlockCommit,
			Slot: b.Header.Slot,
			Data: map[string]any{"hash": b.Hash, "txs": len(b.Transactions), "head": newHead},
		})
	}
	return nil
}

// AddVote verifies and persists v, then checks whether the accumulated
// stake of distinct non-slashed voters for v.BlockHash has crossed the
// finality threshold (> 2/3 of total stake). All arithmetic is integer:
// the comparison sum*3 > total*2 is equivalent to sum/total > 2/3 without
// ever dividing.
func (c *Chain) AddVote(v *core.Vote) error {
	if _, ok := c.validators.Get(v.ValidatorPubkey); !ok {
		return fmt.Errorf("unknown validator %s", v.ValidatorHex())
	}
	if err := v.Verify(); err != nil {
		return fmt.Errorf("vote signature invalid: %w", err)
	}

	voters, ok := c.votes[v.BlockHash]
	if !ok {
		voters = make(map[string]bool)
		c.votes[v.BlockHash] = voters
	}
	voterHex := v.ValidatorHex()
	if voters[voterHex] {
		return fmt.Errorf("duplicate vote from %s for block %s", voterHex, v.BlockHash)
	}
	if existing, err := c.store.GetVote(v.BlockHash, voterHex); err == nil && existing != nil {
		voters[voterHex] = true
		return nil
	}
	if err := c.store.PutVote(v); err != nil {
		return fmt.Errorf("persist vote: %w", err)
	}
	voters[voterHex] = true

	if c.emitter != nil {
		c.emitter.Emit(events.Event{Type: events.EventVoteRecorded, Data: map[string]any{"block_hash": v.BlockHash, "voter": voterHex}})
	}
	if v.BlockHash == c.finalizedHead {
		return nil
	}
	sum := new(big.Int)
	for voterHex := range voters {
		pub, err := hex.DecodeString(voterHex)
		if err != nil {
			continue
		}
		vi, ok := c.validators.Get(pub)
		if !ok || vi.Slashed {
			continue
		}
		sum.Add(sum, new(big.Int).SetUint64(vi.Stake))
	}
	total := new(big.Int).SetUint64(c.validators.TotalStake())
	lhs := new(big.Int).Mul(sum, big.NewInt(3))
	rhs := new(big.Int).Mul(total, big.NewInt(2))
	if total.Sign() > 0 && lhs.Cmp(rhs) > 0 {
		if err := c.store.SetFinalizedHead(v.BlockHash); err != nil {
			return fmt.Errorf("persist finalized head: %w", err)
		}
		c.finalizedHead = v.BlockHash
		if c.emitter != nil {
			c.emitter.Emit(events.Event{Type: events.EventBlockFinalized, Data: map[string]any{"block_hash": v.BlockHash}})
		}
	}
	return nil
}

// GetBlocksRange resolves startHash's slot, then walks the height index
// forward up to limit blocks.
func (c *Chain) GetBlocksRange(startHash string, limit int) ([]*core.Block, error) {
	start, err := c.store.GetBlock(startHash)
	if err != nil {
		return nil, fmt.Errorf("start block %s: %w", startHash, err)
	}
	var out []*core.Block
	for slot := start.Header.Slot; len(out) < limit; slot++ {
		hash, err := c.store.GetHeightIndex(slot)
		if errors.Is(err, core.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		b, err := c.store.GetBlock(hash)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// ProduceBlock is called by the node loop when the slot timer ticks. If
// this node's VRF does not make it the slot leader for the current slot,
// it returns (nil, nil) rather than an error: not being the leader is the
// expected outcome most slots.
func (c *Chain) ProduceBlock(nowMS int64, signingKey crypto.PrivateKey, vrfKey crypto.VRFPrivateKey, maxTxs int) (*core.Block, *core.Vote, error) {
	head, err := c.store.GetBlock(c.head)
	if err != nil {
		return nil, nil, fmt.Errorf("load head: %w", err)
	}
	slot := c.clock.CurrentSlot(nowMS)
	if slot <= head.Header.Slot {
		return nil, nil, nil
	}

	seed := consensus.VRFSeed(head.Header.VRFOutput, slot)
	vrfOutput, vrfProof, err := consensus.SealVRF(vrfKey, seed)
	if err != nil {
		return nil, nil, fmt.Errorf("vrf sign: %w", err)
	}
	pub := signingKey.Public()
	if !c.validators.IsSlotLeader(pub, vrfOutput) {
		return nil, nil, nil
	}

	if maxTxs <= 0 {
		maxTxs = config.DefaultConfig().MaxBlockTxs
	}
	txs := c.mempool.GetTransactionsForBlock(maxTxs)

	header := core.BlockHeader{
		ParentHash:      head.Hash,
		Slot:            slot,
		Epoch:           consensus.Epoch(slot),
		VRFOutput:       vrfOutput,
		VRFProof:        vrfProof,
		ValidatorPubkey: pub,
		Timestamp:       nowMS,
	}
	block := core.NewBlock(header, txs)

	c.state.DiscardChanges()
	validatorSnap := c.validators.Snapshot()
	if err := c.exec.ApplyBlock(c.state, block, c.validators); err != nil {
		c.state.DiscardChanges()
		_ = c.validators.RevertToSnapshot(validatorSnap)
		return nil, nil, fmt.Errorf("execute own block: %w", err)
	}
	block.Header.StateRoot = c.state.GetRootHash()
	block.Hash = core.ComputeHeaderHash(block.Header)
	block.Sign(signingKey)
	// Roll the trial execution back; AddBlock re-executes from scratch so
	// the exact same staged-state path is exercised for locally produced
	// and network-received blocks alike.
	c.state.DiscardChanges()
	if err := c.validators.RevertToSnapshot(validatorSnap); err != nil {
		return nil, nil, fmt.Errorf("reset validator trial state: %w", err)
	}

	if err := c.AddBlock(block); err != nil {
		return nil, nil, fmt.Errorf("add own block: %w", err)
	}

	vote, err := core.NewVote(signingKey, block.Hash)
	if err != nil {
		return block, nil, fmt.Errorf("sign own vote: %w", err)
	}
	if err := c.AddVote(vote); err != nil {
		return block, nil, fmt.Errorf("add own vote: %w", err)
	}
	return block, vote, nil
}
