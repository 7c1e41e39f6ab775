package core

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
)

const maxMempoolSize = 10_000

// Mempool is a thread-safe pending-transaction pool keyed by transaction
// signature (hex-encoded), per §4.6.
type Mempool struct {
	mu  sync.RWMutex
	txs map[string]*Transaction
	ord []string // insertion order, for deterministic iteration
}

// NewMempool creates an empty mempool.
func NewMempool() *Mempool {
	return &Mempool{txs: make(map[string]*Transaction)}
}

// AddTransaction runs the §4.6 admission contract against tx: capacity,
// signature and variant-specific logic, sender balance (for value-moving
// variants), nonce monotonicity against state, then insertion.
func (m *Mempool) AddTransaction(tx *Transaction, state State) error {
	if err := ValidateTransactionLogic(tx); err != nil {
		return fmt.Errorf("invalid transaction: %w", err)
	}
	if err := tx.Verify(); err != nil {
		return fmt.Errorf("invalid signature: %w", err)
	}
	if err := checkSufficientFunds(tx, state); err != nil {
		return err
	}
	senderNonce := state.GetNonce(hex.EncodeToString(tx.Sender))
	if tx.Nonce < senderNonce {
		return fmt.Errorf("stale nonce: tx has %d, account is at %d", tx.Nonce, senderNonce)
	}

	key := hex.EncodeToString(tx.Signature)

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.txs) >= maxMempoolSize {
		return errors.New("mempool full")
	}
	if _, exists := m.txs[key]; exists {
		return errors.New("tx already in pool")
	}
	m.txs[key] = tx
	m.ord = append(m.ord, key)
	return nil
}

// checkSufficientFunds enforces the §4.6 balance pre-check for variants
// that move native or asset balances out of the sender's account.
func checkSufficientFunds(tx *Transaction, state State) error {
	sender := hex.EncodeToString(tx.Sender)
	switch d := tx.Data.(type) {
	case NativeTransfer:
		if state.GetBalance(sender) < d.Amount {
			return errors.New("insufficient balance")
		}
	case TransferAsset:
		acc, err := state.GetAccount(sender)
		if err != nil {
			return errors.New("sender account not found")
		}
		if acc.Assets[hex.EncodeToString(d.AssetID)] < d.Amount {
			return errors.New("insufficient asset balance")
		}
	case OpenChannel:
		if state.GetBalance(sender) < d.Amount {
			return errors.New("insufficient balance for channel deposit")
		}
	case RegisterValidator:
		if state.GetBalance(sender) < d.Stake {
			return errors.New("insufficient balance for stake")
		}
	}
	return nil
}

// ValidateTransactionLogic runs the variant-specific structural checks
// (non-zero amounts, non-empty ids, no self-transfer) for mempool
// admission. Block execution does not call it; the vm handlers repeat the
// checks they need.
func ValidateTransactionLogic(tx *Transaction) error {
	if len(tx.Sender) == 0 {
		return errors.New("empty sender")
	}
	switch d := tx.Data.(type) {
	case NativeTransfer:
		if d.Amount == 0 {
			return errors.New("amount must be greater than 0")
		}
		if len(tx.Receiver) == 0 {
			return errors.New("empty receiver")
		}
		if bytes.Equal(tx.Sender, tx.Receiver) {
			return errors.New("cannot send to self")
		}
	case CreateAsset:
		if d.Name == "" || d.Symbol == "" {
			return errors.New("empty asset name or symbol")
		}
	case TransferAsset:
		if len(d.AssetID) == 0 {
			return errors.New("empty asset id")
		}
		if d.Amount == 0 {
			return errors.New("amount must be greater than 0")
		}
	case CreateCollection:
		if d.Name == "" || d.Symbol == "" {
			return errors.New("empty collection name or symbol")
		}
	case MintNFT:
		if len(d.CollectionID) == 0 {
			return errors.New("empty collection id")
		}
		if len(d.Recipient) == 0 {
			return errors.New("empty recipient")
		}
	case TransferNFT:
		if len(d.CollectionID) == 0 {
			return errors.New("empty collection id")
		}
	case OpenChannel:
		if len(d.Partner) == 0 {
			return errors.New("empty partner")
		}
		if d.Amount == 0 {
			return errors.New("amount must be greater than 0")
		}
		if bytes.Equal(tx.Sender, d.Partner) {
			return errors.New("cannot open a channel with yourself")
		}
	case CloseChannel:
		if len(d.ChannelID) == 0 {
			return errors.New("empty channel id")
		}
	case DelegateSpend:
		if len(d.Delegate) == 0 {
			return errors.New("empty delegate")
		}
	case RegisterValidator:
		if d.Stake == 0 {
			return errors.New("stake must be greater than 0")
		}
		if len(d.VRFPubkey) == 0 {
			return errors.New("empty vrf pubkey")
		}
	case UnregisterValidator:
		// no payload to validate
	default:
		return fmt.Errorf("unknown transaction variant %T", d)
	}
	return nil
}

// Get returns a transaction by its hex-encoded signature.
func (m *Mempool) Get(sigHex string) (*Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.txs[sigHex]
	return tx, ok
}

// GetTransactionsForBlock returns up to limit pending transactions sorted
// ascending by nonce, breaking ties by insertion order.
func (m *Mempool) GetTransactionsForBlock(limit int) []*Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ordered := make([]*Transaction, 0, len(m.ord))
	for _, key := range m.ord {
		if tx, ok := m.txs[key]; ok {
			ordered = append(ordered, tx)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Nonce < ordered[j].Nonce
	})
	if len(ordered) > limit {
		ordered = ordered[:limit]
	}
	return ordered
}

// RemoveTransactions drops the given transactions (matched by signature)
// from the pool, called after their containing block commits.
func (m *Mempool) RemoveTransactions(txs []*Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := make(map[string]bool, len(txs))
	for _, tx := range txs {
		key := hex.EncodeToString(tx.Signature)
		delete(m.txs, key)
		removed[key] = true
	}
	filtered := m.ord[:0]
	for _, key := range m.ord {
		if !removed[key] {
			filtered = append(filtered, key)
		}
	}
	m.ord = filtered
}

// Size returns the current number of pending transactions.
func (m *Mempool) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.txs)
}
