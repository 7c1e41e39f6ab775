// Package channel implements the payment-channel transaction variants:
// OpenChannel and CloseChannel.
package channel

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/tolelom/tolchain/core"
	"github.com/tolelom/tolchain/events"
	"github.com/tolelom/tolchain/vm"
)

func init() {
	vm.Register(core.TxOpenChannel, handleOpenChannel)
	vm.Register(core.TxCloseChannel, handleCloseChannel)
}

func handleOpenChannel(ctx *vm.Context, data core.TxData) error {
	d := data.(core.OpenChannel)
	if len(d.Partner) == 0 {
		return errors.New("empty partner")
	}
	if d.Amount == 0 {
		return errors.New("amount must be greater than 0")
	}

	sender := vm.SenderAddr(ctx)
	partner := hex.EncodeToString(d.Partner)
	if sender == partner {
		return errors.New("cannot open a channel with yourself")
	}

	id := hex.EncodeToString(core.DeterministicID(ctx.Tx.Sender, ctx.Tx.Nonce, string(core.TxOpenChannel)))
	if _, err := ctx.State.GetChannel(id); err == nil {
		return fmt.Errorf("channel %q already exists", id)
	} else if !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("checking channel %q: %w", id, err)
	}

	senderAcc, err := ctx.State.GetAccount(sender)
	if err != nil {
		return fmt.Errorf("sender account: %w", err)
	}
	if senderAcc.Balance < d.Amount {
		return fmt.Errorf("insufficient balance for channel deposit: have %d need %d", senderAcc.Balance, d.Amount)
	}
	senderAcc.Balance -= d.Amount
	if err := ctx.State.SetAccount(sender, senderAcc); err != nil {
		return err
	}

	var expiry uint64
	if ctx.Block != nil {
		expiry = ctx.Block.Header.Slot + d.Duration
	}
	c := &core.PaymentChannel{
		ID:           id,
		PartnerA:     sender,
		PartnerB:     partner,
		TotalDeposit: d.Amount,
		Expiry:       expiry,
	}
	if err := ctx.State.SetChannel(c); err != nil {
		return err
	}

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type: events.EventChannelOpened,
			TxID: ctx.Tx.HashHex(),
			Data: map[string]any{"channel_id": id, "partner_a": sender, "partner_b": partner, "deposit": d.Amount},
		})
	}
	return nil
}

func handleCloseChannel(ctx *vm.Context, data core.TxData) error {
	d := data.(core.CloseChannel)
	if len(d.ChannelID) == 0 {
		return errors.New("empty channel id")
	}

	sender := vm.SenderAddr(ctx)
	channelID := hex.EncodeToString(d.ChannelID)

	c, err := ctx.State.GetChannel(channelID)
	if err != nil {
		return fmt.Errorf("channel %q not found: %w", channelID, err)
	}
	if c.IsClosed {
		return fmt.Errorf("channel %q already closed", channelID)
	}
	if sender != c.PartnerA && sender != c.PartnerB {
		return errors.New("only a channel partner can close it")
	}
	if d.FinalBalanceA+d.FinalBalanceB != c.TotalDeposit {
		return fmt.Errorf("final balances %d+%d do not sum to deposit %d", d.FinalBalanceA, d.FinalBalanceB, c.TotalDeposit)
	}

	accA, err := ctx.State.GetAccount(c.PartnerA)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			return fmt.Errorf("partner_a account: %w", err)
		}
		accA = core.NewAccount(0)
	}
	accA.Balance += d.FinalBalanceA
	if err := ctx.State.SetAccount(c.PartnerA, accA); err != nil {
		return err
	}

	accB, err := ctx.State.GetAccount(c.PartnerB)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			return fmt.Errorf("partner_b account: %w", err)
		}
		accB = core.NewAccount(0)
	}
	accB.Balance += d.FinalBalanceB
	if err := ctx.State.SetAccount(c.PartnerB, accB); err != nil {
		return err
	}

	c.IsClosed = true
	if err := ctx.State.SetChannel(c); err != nil {
		return err
	}

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type: events.EventChannelClosed,
			TxID: ctx.Tx.HashHex(),
			Data: map[string]any{"channel_id": channelID, "final_a": d.FinalBalanceA, "final_b": d.FinalBalanceB},
		})
	}
	return nil
}
