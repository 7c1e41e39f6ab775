package vm

import (
	"encoding/hex"
	"fmt"

	"github.com/tolelom/tolchain/core"
	"github.com/tolelom/tolchain/events"
)

// Executor drives a block's transactions through core.State.ApplyTransaction
// (which performs the nonce check, variant dispatch through the module
// Registry, and nonce increment) and emits a generic tx-executed event per
// success.
type Executor struct {
	emitter *events.Emitter
}

// NewExecutor creates an Executor that emits through emitter (may be nil).
func NewExecutor(emitter *events.Emitter) *Executor {
	return &Executor{emitter: emitter}
}

// ApplyBlock applies every transaction in block order. The first failing
// transaction aborts the whole block: the caller (Chain) is responsible
// for discarding staged state and any validator-set changes made so far.
func (e *Executor) ApplyBlock(state core.State, block *core.Block, validators core.ValidatorRegistry) error {
	for _, tx := range block.Transactions {
		deps := core.TxDeps{Validators: validators, Block: block, Emitter: e.emitter}
		if err := state.ApplyTransaction(tx, deps); err != nil {
			return fmt.Errorf("tx %s failed: %w", tx.HashHex(), err)
		}
		if e.emitter != nil {
			e.emitter.Emit(events.Event{
				Type: events.EventTxExecuted,
				TxID: tx.HashHex(),
				Slot: block.Header.Slot,
				Data: map[string]any{
					"type": string(tx.Data.Tag()),
					"from": hex.EncodeToString(tx.Sender),
				},
			})
		}
	}
	return nil
}
