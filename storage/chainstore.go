package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/tolchain/core"
)

const (
	prefixBlock      = "block:"
	prefixHeight     = "height:"
	keyHead          = "head"
	keyFinalizedHead = "finalized_head"

	prefixHeader = "header:" // header:{slot}:{hex(pub)} -> block hash, equivocation tracking
	prefixVote   = "vote:"   // vote:{hash}:{hex(pub)} -> serialized Vote
	prefixFaucet = "faucet:" // faucet:{addr} -> LE i64 timestamp
)

// ChainStore persists blocks, the canonical height index, the current
// head, per-(slot,producer) header sightings (for equivocation
// detection), and votes. It is a thin keyspace wrapper over DB; Chain
// owns all consensus logic.
type ChainStore struct {
	db DB
}

// NewChainStore wraps db as a ChainStore.
func NewChainStore(db DB) *ChainStore {
	return &ChainStore{db: db}
}

func (s *ChainStore) PutBlock(b *core.Block) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return s.db.Set([]byte(prefixBlock+b.Hash), data)
}

func (s *ChainStore) GetBlock(hash string) (*core.Block, error) {
	data, err := s.db.Get([]byte(prefixBlock + hash))
	if err != nil {
		return nil, err
	}
	var b core.Block
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *ChainStore) PutHeightIndex(slot uint64, hash string) error {
	return s.db.Set([]byte(fmt.Sprintf("%s%d", prefixHeight, slot)), []byte(hash))
}

func (s *ChainStore) GetHeightIndex(slot uint64) (string, error) {
	data, err := s.db.Get([]byte(fmt.Sprintf("%s%d", prefixHeight, slot)))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *ChainStore) GetHead() (string, error) {
	data, err := s.db.Get([]byte(keyHead))
	if errors.Is(err, core.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *ChainStore) SetHead(hash string) error {
	return s.db.Set([]byte(keyHead), []byte(hash))
}

func (s *ChainStore) GetFinalizedHead() (string, error) {
	data, err := s.db.Get([]byte(keyFinalizedHead))
	if errors.Is(err, core.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *ChainStore) SetFinalizedHead(hash string) error {
	return s.db.Set([]byte(keyFinalizedHead), []byte(hash))
}

// GetSeenHeader returns the block hash previously recorded for (slot,
// producerPubkeyHex), or core.ErrNotFound if none.
func (s *ChainStore) GetSeenHeader(slot uint64, producerHex string) (string, error) {
	data, err := s.db.Get([]byte(fmt.Sprintf("%s%d:%s", prefixHeader, slot, producerHex)))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *ChainStore) PutSeenHeader(slot uint64, producerHex, hash string) error {
	return s.db.Set([]byte(fmt.Sprintf("%s%d:%s", prefixHeader, slot, producerHex)), []byte(hash))
}

func (s *ChainStore) GetVote(blockHash, voterHex string) (*core.Vote, error) {
	data, err := s.db.Get([]byte(fmt.Sprintf("%s%s:%s", prefixVote, blockHash, voterHex)))
	if err != nil {
		return nil, err
	}
	var v core.Vote
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *ChainStore) PutVote(v *core.Vote) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	voterHex := v.ValidatorHex()
	return s.db.Set([]byte(fmt.Sprintf("%s%s:%s", prefixVote, v.BlockHash, voterHex)), data)
}

// VotesForBlock scans all votes recorded for blockHash.
func (s *ChainStore) VotesForBlock(blockHash string) ([]*core.Vote, error) {
	it := s.db.NewIterator([]byte(prefixVote + blockHash + ":"))
	defer it.Release()
	var votes []*core.Vote
	for it.Next() {
		var v core.Vote
		if err := json.Unmarshal(it.Value(), &v); err != nil {
			return nil, err
		}
		votes = append(votes, &v)
	}
	return votes, it.Error()
}

func (s *ChainStore) GetFaucetClaim(addr string) (int64, error) {
	data, err := s.db.Get([]byte(prefixFaucet + addr))
	if errors.Is(err, core.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("faucet claim for %s: want 8 bytes, got %d", addr, len(data))
	}
	return int64(binary.LittleEndian.Uint64(data)), nil
}

func (s *ChainStore) SetFaucetClaim(addr string, unixMilli int64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(unixMilli))
	return s.db.Set([]byte(prefixFaucet+addr), buf[:])
}
