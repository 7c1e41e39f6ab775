// Package transfer implements the native-balance transaction variants:
// NativeTransfer and DelegateSpend.
package transfer

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/tolelom/tolchain/core"
	"github.com/tolelom/tolchain/events"
	"github.com/tolelom/tolchain/vm"
)

func init() {
	vm.Register(core.TxNativeTransfer, handleNativeTransfer)
	vm.Register(core.TxDelegateSpend, handleDelegateSpend)
}

func handleNativeTransfer(ctx *vm.Context, data core.TxData) error {
	d := data.(core.NativeTransfer)
	sender := vm.SenderAddr(ctx)
	receiver := vm.ReceiverAddr(ctx)

	if sender == receiver {
		return errors.New("cannot send to self")
	}
	if d.Amount == 0 {
		return errors.New("amount must be greater than 0")
	}

	senderAcc, err := ctx.State.GetAccount(sender)
	if err != nil {
		return fmt.Errorf("sender account: %w", err)
	}
	if senderAcc.Balance < d.Amount {
		return fmt.Errorf("insufficient balance: have %d need %d", senderAcc.Balance, d.Amount)
	}
	senderAcc.Balance -= d.Amount
	if err := ctx.State.SetAccount(sender, senderAcc); err != nil {
		return err
	}

	receiverAcc, err := ctx.State.GetAccount(receiver)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			return fmt.Errorf("receiver account: %w", err)
		}
		receiverAcc = core.NewAccount(0)
	}
	receiverAcc.Balance += d.Amount
	if err := ctx.State.SetAccount(receiver, receiverAcc); err != nil {
		return err
	}

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type: events.EventTokenTransfer,
			TxID: ctx.Tx.HashHex(),
			Data: map[string]any{"from": sender, "to": receiver, "amount": d.Amount},
		})
	}
	return nil
}

func handleDelegateSpend(ctx *vm.Context, data core.TxData) error {
	d := data.(core.DelegateSpend)
	if len(d.Delegate) == 0 {
		return errors.New("empty delegate")
	}
	sender := vm.SenderAddr(ctx)

	acc, err := ctx.State.GetAccount(sender)
	if err != nil {
		return fmt.Errorf("sender account: %w", err)
	}
	if acc.DelegatedAllowance == nil {
		acc.DelegatedAllowance = make(map[string]uint64)
	}
	acc.DelegatedAllowance[hex.EncodeToString(d.Delegate)] = d.Allowance
	return ctx.State.SetAccount(sender, acc)
}
