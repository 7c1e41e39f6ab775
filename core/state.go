package core

import "github.com/tolelom/tolchain/events"

// Account holds a participant's balances and replay-protection nonce. All
// map keys (asset/collection/delegate ids) are lowercase hex strings so
// Account is directly JSON- and trie-value-serializable.
type Account struct {
	Balance            uint64            `json:"balance"`
	Nonce              uint64            `json:"nonce"`
	Assets             map[string]uint64   `json:"assets,omitempty"`              // asset id hex -> balance
	NFTs               map[string][]uint64 `json:"nfts,omitempty"`                // collection id hex -> item ids
	DelegatedAllowance map[string]uint64   `json:"delegated_allowance,omitempty"` // delegate addr hex -> allowance
}

// NewAccount returns a zero-value account with the given balance.
func NewAccount(balance uint64) *Account {
	return &Account{Balance: balance}
}

// Asset is a fungible registry entry minted by CreateAsset.
type Asset struct {
	ID          string `json:"id"` // hex, H(sender||LE64(nonce)||"CreateAsset")
	Issuer      string `json:"issuer"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	TotalSupply uint64 `json:"total_supply"`
	Decimals    uint8  `json:"decimals"`
	Metadata    []byte `json:"metadata,omitempty"`
}

// Collection is an NFT registry entry created by CreateCollection.
type Collection struct {
	ID       string              `json:"id"` // hex, H(sender||LE64(nonce)||"CreateCollection")
	Issuer   string              `json:"issuer"`
	Name     string              `json:"name"`
	Symbol   string              `json:"symbol"`
	Metadata []byte              `json:"metadata,omitempty"`
	Items    map[uint64]*NFTItem `json:"items,omitempty"` // item id -> item
}

// NFTItem is one minted item within a Collection.
type NFTItem struct {
	ID       uint64 `json:"id"`
	Owner    string `json:"owner"`
	Metadata []byte `json:"metadata,omitempty"`
}

// PaymentChannel is a two-party escrow opened by OpenChannel and settled by
// CloseChannel.
type PaymentChannel struct {
	ID           string `json:"id"` // hex, H(sender||LE64(nonce)||"OpenChannel")
	PartnerA     string `json:"partner_a"`
	PartnerB     string `json:"partner_b"`
	TotalDeposit uint64 `json:"total_deposit"`
	Expiry       uint64 `json:"expiry"` // slot number
	IsClosed     bool   `json:"is_closed"`
}

// State is the staged, atomic account ledger. Addresses and ids are
// lowercase hex strings throughout. Reads are read-through: a pending
// (staged) write always shadows the durable store.
type State interface {
	GetAccount(addr string) (*Account, error) // ErrNotFound if never credited
	GetBalance(addr string) uint64            // 0 if absent
	GetNonce(addr string) uint64               // 0 if absent
	SetAccount(addr string, acc *Account) error

	GetAsset(id string) (*Asset, error)
	SetAsset(a *Asset) error

	GetCollection(id string) (*Collection, error)
	SetCollection(c *Collection) error

	GetChannel(id string) (*PaymentChannel, error)
	SetChannel(c *PaymentChannel) error

	// ApplyTransaction stages tx's effect: nonce check, variant dispatch,
	// nonce increment. It never touches the durable store directly.
	ApplyTransaction(tx *Transaction, deps TxDeps) error

	// Snapshot/RevertToSnapshot bracket a single tx's staged effects so a
	// later failure in the same block can be undone without discarding
	// earlier transactions' effects.
	Snapshot() (int, error)
	RevertToSnapshot(id int) error

	// ApplyChanges flushes all staged writes to the durable store and to
	// the trie, then clears the stage. DiscardChanges drops the stage
	// without side effects. GetRootHash returns the trie root as of the
	// last ApplyChanges.
	ApplyChanges() error
	DiscardChanges()
	GetRootHash() string
}

// TxDeps are the cross-component collaborators a transaction's execution
// may need beyond State itself: the validator registry for
// RegisterValidator/UnregisterValidator, the block the tx is executing
// in (for timestamp-dependent effects and event metadata), and the event
// emitter. Passed explicitly rather than held by State so State has no
// back-reference to Chain.
type TxDeps struct {
	Validators ValidatorRegistry
	Block      *Block
	Emitter    *events.Emitter
}

// ValidatorRegistry is the subset of validatorset.Set that transaction
// execution needs, kept as an interface here so core does not import
// validatorset directly.
type ValidatorRegistry interface {
	Register(pubkey []byte, stake uint64, epoch uint64) error
	RegisterVRF(pubkey, vrfPubkey []byte, stake, epoch uint64) error
	Unregister(pubkey []byte) (uint64, error)
}
