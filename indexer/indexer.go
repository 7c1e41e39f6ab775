// Package indexer maintains secondary indexes over executed transactions so
// RPC clients can look up an address's history or the asset IDs ever
// credited to an address without scanning full state.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/tolelom/tolchain/core"
	"github.com/tolelom/tolchain/events"
	"github.com/tolelom/tolchain/storage"
)

const (
	prefixOwnerAssets  = "idx:owner:asset:"
	prefixOwnerNFTs    = "idx:owner:nft:"
	prefixHistory      = "history:"
	prefixHistoryCount = "history_count:"
	prefixTxIndex      = "tx_index:"
)

// Indexer subscribes to execution events and updates secondary lookup
// tables. It is a pure read-side projection: nothing it does can fail a
// block, so handler errors are logged and dropped rather than propagated.
type Indexer struct {
	db      storage.DB
	emitter *events.Emitter
}

// New creates an Indexer backed by db and subscribes to relevant events.
func New(db storage.DB, emitter *events.Emitter) *Indexer {
	idx := &Indexer{db: db, emitter: emitter}
	emitter.Subscribe(events.EventTxExecuted, idx.onTxExecuted)
	emitter.Subscribe(events.EventAssetCreated, idx.onAssetCreated)
	emitter.Subscribe(events.EventAssetTransfer, idx.onAssetTransferred)
	emitter.Subscribe(events.EventNFTMinted, idx.onNFTMinted)
	emitter.Subscribe(events.EventNFTTransfer, idx.onNFTTransferred)
	return idx
}

// GetAssetsByOwner returns all asset IDs ever credited to owner.
func (idx *Indexer) GetAssetsByOwner(owner string) ([]string, error) {
	return idx.getList(prefixOwnerAssets + owner)
}

// GetNFTsByOwner returns all "collectionID:itemID" pairs ever credited to
// owner.
func (idx *Indexer) GetNFTsByOwner(owner string) ([]string, error) {
	return idx.getList(prefixOwnerNFTs + owner)
}

// GetHistory returns the transaction hashes addr appeared in as sender,
// oldest first.
func (idx *Indexer) GetHistory(addr string) ([]string, error) {
	count, err := idx.historyCount(addr)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, count)
	for i := uint64(0); i < count; i++ {
		data, err := idx.db.Get([]byte(fmt.Sprintf("%s%s:%d", prefixHistory, addr, i)))
		if err != nil {
			return nil, err
		}
		out = append(out, string(data))
	}
	return out, nil
}

// GetTxRecord returns the stored block slot and type for a transaction
// hash, or core.ErrNotFound if it was never indexed.
func (idx *Indexer) GetTxRecord(txHash string) (slot uint64, txType string, err error) {
	data, err := idx.db.Get([]byte(prefixTxIndex + txHash))
	if err != nil {
		return 0, "", err
	}
	var rec struct {
		Slot uint64 `json:"slot"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return 0, "", err
	}
	return rec.Slot, rec.Type, nil
}

// ---- event handlers ----

func (idx *Indexer) onTxExecuted(ev events.Event) {
	from, _ := ev.Data["from"].(string)
	txType, _ := ev.Data["type"].(string)
	if ev.TxID == "" || from == "" {
		return
	}
	if err := idx.appendHistory(from, ev.TxID); err != nil {
		log.Printf("[indexer] history write failed (addr=%s tx=%s): %v", from, ev.TxID, err)
	}
	rec, err := json.Marshal(struct {
		Slot uint64 `json:"slot"`
		Type string `json:"type"`
	}{Slot: ev.Slot, Type: txType})
	if err != nil {
		return
	}
	if err := idx.db.Set([]byte(prefixTxIndex+ev.TxID), rec); err != nil {
		log.Printf("[indexer] tx index write failed (tx=%s): %v", ev.TxID, err)
	}
}

func (idx *Indexer) onAssetCreated(ev events.Event) {
	issuer, _ := ev.Data["issuer"].(string)
	assetID, _ := ev.Data["asset_id"].(string)
	if issuer == "" || assetID == "" {
		return
	}
	if err := idx.addToList(prefixOwnerAssets+issuer, assetID); err != nil {
		log.Printf("[indexer] asset create index failed (issuer=%s asset=%s): %v", issuer, assetID, err)
	}
}

func (idx *Indexer) onAssetTransferred(ev events.Event) {
	to, _ := ev.Data["to"].(string)
	assetID, _ := ev.Data["asset_id"].(string)
	if to == "" || assetID == "" {
		return
	}
	if err := idx.addToList(prefixOwnerAssets+to, assetID); err != nil {
		log.Printf("[indexer] asset transfer index failed (to=%s asset=%s): %v", to, assetID, err)
	}
}

func (idx *Indexer) onNFTMinted(ev events.Event) {
	owner, _ := ev.Data["owner"].(string)
	collectionID, _ := ev.Data["collection_id"].(string)
	itemID := ev.Data["item_id"]
	if owner == "" || collectionID == "" {
		return
	}
	key := fmt.Sprintf("%v:%v", collectionID, itemID)
	if err := idx.addToList(prefixOwnerNFTs+owner, key); err != nil {
		log.Printf("[indexer] nft mint index failed (owner=%s item=%s): %v", owner, key, err)
	}
}

func (idx *Indexer) onNFTTransferred(ev events.Event) {
	to, _ := ev.Data["to"].(string)
	collectionID, _ := ev.Data["collection_id"].(string)
	itemID := ev.Data["item_id"]
	if to == "" || collectionID == "" {
		return
	}
	key := fmt.Sprintf("%v:%v", collectionID, itemID)
	if err := idx.addToList(prefixOwnerNFTs+to, key); err != nil {
		log.Printf("[indexer] nft transfer index failed (to=%s item=%s): %v", to, key, err)
	}
}

// ---- history (append-only, count-indexed) ----

func (idx *Indexer) historyCount(addr string) (uint64, error) {
	data, err := idx.db.Get([]byte(prefixHistoryCount + addr))
	if errors.Is(err, core.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var count uint64
	if err := json.Unmarshal(data, &count); err != nil {
		return 0, err
	}
	return count, nil
}

func (idx *Indexer) appendHistory(addr, txHash string) error {
	count, err := idx.historyCount(addr)
	if err != nil {
		return fmt.Errorf("read count: %w", err)
	}
	if err := idx.db.Set([]byte(fmt.Sprintf("%s%s:%d", prefixHistory, addr, count)), []byte(txHash)); err != nil {
		return err
	}
	data, err := json.Marshal(count + 1)
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(prefixHistoryCount+addr), data)
}

// ---- list helpers (owner indexes, not append-only: deduplicated) ----

func (idx *Indexer) getList(key string) ([]string, error) {
	data, err := idx.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return ids, nil
}

func (idx *Indexer) addToList(key, value string) error {
	ids, err := idx.getList(key)
	if err != nil {
		return fmt.Errorf("read list: %w", err)
	}
	for _, id := range ids {
		if id == value {
			return nil
		}
	}
	ids = append(ids, value)
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(key), data)
}
