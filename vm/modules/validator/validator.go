// Package validator implements the stake-registry transaction variants:
// RegisterValidator and UnregisterValidator.
package validator

import (
	"errors"
	"fmt"

	"github.com/tolelom/tolchain/core"
	"github.com/tolelom/tolchain/events"
	"github.com/tolelom/tolchain/vm"
)

func init() {
	vm.Register(core.TxRegisterValidator, handleRegisterValidator)
	vm.Register(core.TxUnregisterValidator, handleUnregisterValidator)
}

// handleRegisterValidator registers the caller as a validator before
// debiting the stake, so a failing registration (duplicate pubkey, stake
// below minimum) never leaves a debited account with no corresponding
// registry entry.
func handleRegisterValidator(ctx *vm.Context, data core.TxData) error {
	d := data.(core.RegisterValidator)
	if d.Stake == 0 {
		return errors.New("stake must be greater than 0")
	}
	if len(d.VRFPubkey) == 0 {
		return errors.New("vrf pubkey must not be empty")
	}
	if ctx.Validators == nil {
		return errors.New("no validator registry available")
	}

	sender := vm.SenderAddr(ctx)
	acc, err := ctx.State.GetAccount(sender)
	if err != nil {
		return fmt.Errorf("sender account: %w", err)
	}
	if acc.Balance < d.Stake {
		return fmt.Errorf("insufficient balance for stake: have %d need %d", acc.Balance, d.Stake)
	}

	var epoch uint64
	if ctx.Block != nil {
		epoch = ctx.Block.Header.Epoch
	}
	if err := ctx.Validators.RegisterVRF(ctx.Tx.Sender, d.VRFPubkey, d.Stake, epoch); err != nil {
		return fmt.Errorf("register validator: %w", err)
	}

	acc.Balance -= d.Stake
	if err := ctx.State.SetAccount(sender, acc); err != nil {
		return err
	}

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type: events.EventValidatorRegistered,
			TxID: ctx.Tx.HashHex(),
			Data: map[string]any{"pubkey": sender, "stake": d.Stake},
		})
	}
	return nil
}

func handleUnregisterValidator(ctx *vm.Context, _ core.TxData) error {
	if ctx.Validators == nil {
		return errors.New("no validator registry available")
	}
	sender := vm.SenderAddr(ctx)

	stake, err := ctx.Validators.Unregister(ctx.Tx.Sender)
	if err != nil {
		return fmt.Errorf("unregister validator: %w", err)
	}

	acc, err := ctx.State.GetAccount(sender)
	if err != nil {
		return fmt.Errorf("sender account: %w", err)
	}
	acc.Balance += stake
	if err := ctx.State.SetAccount(sender, acc); err != nil {
		return err
	}

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type: events.EventValidatorUnregistered,
			TxID: ctx.Tx.HashHex(),
			Data: map[string]any{"pubkey": sender, "refund": stake},
		})
	}
	return nil
}
