// Package asset implements the fungible-asset transaction variants:
// CreateAsset and TransferAsset.
package asset

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/tolelom/tolchain/core"
	"github.com/tolelom/tolchain/events"
	"github.com/tolelom/tolchain/vm"
)

func init() {
	vm.Register(core.TxCreateAsset, handleCreateAsset)
	vm.Register(core.TxTransferAsset, handleTransferAsset)
}

func handleCreateAsset(ctx *vm.Context, data core.TxData) error {
	d := data.(core.CreateAsset)
	if d.Name == "" || d.Symbol == "" {
		return errors.New("empty asset name or symbol")
	}

	sender := vm.SenderAddr(ctx)
	id := hex.EncodeToString(core.DeterministicID(ctx.Tx.Sender, ctx.Tx.Nonce, string(core.TxCreateAsset)))

	if _, err := ctx.State.GetAsset(id); err == nil {
		return fmt.Errorf("asset %q already exists", id)
	} else if !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("checking asset %q: %w", id, err)
	}

	a := &core.Asset{
		ID:          id,
		Issuer:      sender,
		Name:        d.Name,
		Symbol:      d.Symbol,
		TotalSupply: d.Supply,
		Decimals:    d.Decimals,
		Metadata:    d.Metadata,
	}
	if err := ctx.State.SetAsset(a); err != nil {
		return err
	}

	acc, err := ctx.State.GetAccount(sender)
	if err != nil {
		return fmt.Errorf("issuer account: %w", err)
	}
	if acc.Assets == nil {
		acc.Assets = make(map[string]uint64)
	}
	acc.Assets[id] += d.Supply
	if err := ctx.State.SetAccount(sender, acc); err != nil {
		return err
	}

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type: events.EventAssetCreated,
			TxID: ctx.Tx.HashHex(),
			Data: map[string]any{"asset_id": id, "issuer": sender, "supply": d.Supply},
		})
	}
	return nil
}

func handleTransferAsset(ctx *vm.Context, data core.TxData) error {
	d := data.(core.TransferAsset)
	if len(d.AssetID) == 0 {
		return errors.New("empty asset id")
	}
	if d.Amount == 0 {
		return errors.New("amount must be greater than 0")
	}

	sender := vm.SenderAddr(ctx)
	receiver := vm.ReceiverAddr(ctx)
	if sender == receiver {
		return errors.New("cannot send to self")
	}
	assetID := hex.EncodeToString(d.AssetID)

	if _, err := ctx.State.GetAsset(assetID); err != nil {
		return fmt.Errorf("asset %q not found: %w", assetID, err)
	}

	senderAcc, err := ctx.State.GetAccount(sender)
	if err != nil {
		return fmt.Errorf("sender account: %w", err)
	}
	if senderAcc.Assets[assetID] < d.Amount {
		return fmt.Errorf("insufficient asset balance: have %d need %d", senderAcc.Assets[assetID], d.Amount)
	}
	senderAcc.Assets[assetID] -= d.Amount
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
	if receiverAcc.Assets == nil {
		receiverAcc.Assets = make(map[string]uint64)
	}
	receiverAcc.Assets[assetID] += d.Amount
	if err := ctx.State.SetAccount(receiver, receiverAcc); err != nil {
		return err
	}

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type: events.EventAssetTransfer,
			TxID: ctx.Tx.HashHex(),
			Data: map[string]any{"asset_id": assetID, "from": sender, "to": receiver, "amount": d.Amount},
		})
	}
	return nil
}
