// Package collection implements the NFT transaction variants:
// CreateCollection, MintNFT, and TransferNFT.
package collection

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/tolelom/tolchain/core"
	"github.com/tolelom/tolchain/events"
	"github.com/tolelom/tolchain/vm"
)

func init() {
	vm.Register(core.TxCreateCollection, handleCreateCollection)
	vm.Register(core.TxMintNFT, handleMintNFT)
	vm.Register(core.TxTransferNFT, handleTransferNFT)
}

func handleCreateCollection(ctx *vm.Context, data core.TxData) error {
	d := data.(core.CreateCollection)
	if d.Name == "" || d.Symbol == "" {
		return errors.New("empty collection name or symbol")
	}

	sender := vm.SenderAddr(ctx)
	id := hex.EncodeToString(core.DeterministicID(ctx.Tx.Sender, ctx.Tx.Nonce, string(core.TxCreateCollection)))

	if _, err := ctx.State.GetCollection(id); err == nil {
		return fmt.Errorf("collection %q already exists", id)
	} else if !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("checking collection %q: %w", id, err)
	}

	c := &core.Collection{
		ID:       id,
		Issuer:   sender,
		Name:     d.Name,
		Symbol:   d.Symbol,
		Metadata: d.Metadata,
		Items:    make(map[uint64]*core.NFTItem),
	}
	if err := ctx.State.SetCollection(c); err != nil {
		return err
	}

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type: events.EventCollectionCreated,
			TxID: ctx.Tx.HashHex(),
			Data: map[string]any{"collection_id": id, "issuer": sender},
		})
	}
	return nil
}

func handleMintNFT(ctx *vm.Context, data core.TxData) error {
	d := data.(core.MintNFT)
	if len(d.CollectionID) == 0 {
		return errors.New("empty collection id")
	}
	if len(d.Recipient) == 0 {
		return errors.New("empty recipient")
	}

	sender := vm.SenderAddr(ctx)
	collectionID := hex.EncodeToString(d.CollectionID)

	c, err := ctx.State.GetCollection(collectionID)
	if err != nil {
		return fmt.Errorf("collection %q not found: %w", collectionID, err)
	}
	if c.Issuer != sender {
		return errors.New("only the collection issuer can mint")
	}
	if _, exists := c.Items[d.ItemID]; exists {
		return fmt.Errorf("item id %d already minted in collection %q", d.ItemID, collectionID)
	}

	recipient := hex.EncodeToString(d.Recipient)
	if c.Items == nil {
		c.Items = make(map[uint64]*core.NFTItem)
	}
	c.Items[d.ItemID] = &core.NFTItem{ID: d.ItemID, Owner: recipient, Metadata: d.ItemMetadata}
	if err := ctx.State.SetCollection(c); err != nil {
		return err
	}

	recipientAcc, err := ctx.State.GetAccount(recipient)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			return fmt.Errorf("recipient account: %w", err)
		}
		recipientAcc = core.NewAccount(0)
	}
	if recipientAcc.NFTs == nil {
		recipientAcc.NFTs = make(map[string][]uint64)
	}
	recipientAcc.NFTs[collectionID] = append(recipientAcc.NFTs[collectionID], d.ItemID)
	if err := ctx.State.SetAccount(recipient, recipientAcc); err != nil {
		return err
	}

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type: events.EventNFTMinted,
			TxID: ctx.Tx.HashHex(),
			Data: map[string]any{"collection_id": collectionID, "item_id": d.ItemID, "owner": recipient},
		})
	}
	return nil
}

func handleTransferNFT(ctx *vm.Context, data core.TxData) error {
	d := data.(core.TransferNFT)
	if len(d.CollectionID) == 0 {
		return errors.New("empty collection id")
	}

	sender := vm.SenderAddr(ctx)
	receiver := vm.ReceiverAddr(ctx)
	if sender == receiver {
		return errors.New("cannot send to self")
	}
	collectionID := hex.EncodeToString(d.CollectionID)

	c, err := ctx.State.GetCollection(collectionID)
	if err != nil {
		return fmt.Errorf("collection %q not found: %w", collectionID, err)
	}
	item, ok := c.Items[d.ItemID]
	if !ok {
		return fmt.Errorf("item id %d not found in collection %q", d.ItemID, collectionID)
	}
	if item.Owner != sender {
		return errors.New("only the item owner can transfer it")
	}
	item.Owner = receiver
	if err := ctx.State.SetCollection(c); err != nil {
		return err
	}

	senderAcc, err := ctx.State.GetAccount(sender)
	if err != nil {
		return fmt.Errorf("sender account: %w", err)
	}
	senderAcc.NFTs[collectionID] = removeItem(senderAcc.NFTs[collectionID], d.ItemID)
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
	if receiverAcc.NFTs == nil {
		receiverAcc.NFTs = make(map[string][]uint64)
	}
	receiverAcc.NFTs[collectionID] = append(receiverAcc.NFTs[collectionID], d.ItemID)
	if err := ctx.State.SetAccount(receiver, receiverAcc); err != nil {
		return err
	}

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type: events.EventNFTTransfer,
			TxID: ctx.Tx.HashHex(),
			Data: map[string]any{"collection_id": collectionID, "item_id": d.ItemID, "from": sender, "to": receiver},
		})
	}
	return nil
}

func removeItem(items []uint64, id uint64) []uint64 {
	out := items[:0]
	for _, v := range items {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
