package node

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/tolelom/tolchain/config"
	"github.com/tolelom/tolchain/core"
	"github.com/tolelom/tolchain/crypto"
	"github.com/tolelom/tolchain/rpc"
)

// Compile-time assertion that Node satisfies the HTTP layer's contract.
var _ rpc.NodeAPI = (*Node)(nil)

func (n *Node) Stats(ctx context.Context) (rpc.StatsResult, error) {
	var out rpc.StatsResult
	err := n.runOnLoop(ctx, func() {
		slot := n.clock.CurrentSlot(nowMS())
		out = rpc.StatsResult{
			ChainID:       n.cfg.Genesis.ChainID,
			Head:          n.chain.Head(),
			FinalizedHead: n.chain.FinalizedHead(),
			Height:        n.chain.Height(),
			Slot:          slot,
			Epoch:         slot / config.SlotsPerEpoch,
			MempoolSize:   n.mempool.Size(),
			PeerCount:     len(n.net.Peers()),
		}
	})
	return out, err
}

func (n *Node) BlockLatest(ctx context.Context) (*core.Block, error) {
	var out *core.Block
	var rerr error
	err := n.runOnLoop(ctx, func() {
		out, rerr = n.chain.GetBlock(n.chain.Head())
	})
	if err != nil {
		return nil, err
	}
	return out, rerr
}

func (n *Node) BlockByHash(ctx context.Context, hash string) (*core.Block, error) {
	var out *core.Block
	var rerr error
	err := n.runOnLoop(ctx, func() {
		out, rerr = n.chain.GetBlock(hash)
	})
	if err != nil {
		return nil, err
	}
	return out, rerr
}

func (n *Node) Blocks(ctx context.Context, startHeight uint64, limit int) ([]*core.Block, error) {
	var out []*core.Block
	var rerr error
	err := n.runOnLoop(ctx, func() {
		start, sErr := n.chain.GetBlockBySlot(startHeight)
		if sErr != nil {
			rerr = sErr
			return
		}
		out, rerr = n.chain.GetBlocksRange(start.Hash, limit)
	})
	if err != nil {
		return nil, err
	}
	return out, rerr
}

func (n *Node) Account(ctx context.Context, addr string) (*core.Account, error) {
	var out *core.Account
	var rerr error
	err := n.runOnLoop(ctx, func() {
		out, rerr = n.chain.State().GetAccount(addr)
	})
	if err != nil {
		return nil, err
	}
	return out, rerr
}

func (n *Node) AccountHistory(ctx context.Context, addr string) ([]string, error) {
	var out []string
	var rerr error
	err := n.runOnLoop(ctx, func() {
		out, rerr = n.idx.GetHistory(addr)
	})
	if err != nil {
		return nil, err
	}
	return out, rerr
}

func (n *Node) TransactionByHash(ctx context.Context, hash string) (*rpc.TxRecord, error) {
	var out *rpc.TxRecord
	var rerr error
	err := n.runOnLoop(ctx, func() {
		slot, txType, e := n.idx.GetTxRecord(hash)
		if e != nil {
			rerr = e
			return
		}
		out = &rpc.TxRecord{Hash: hash, Slot: slot, Type: txType}
	})
	if err != nil {
		return nil, err
	}
	return out, rerr
}

func (n *Node) SendTransaction(ctx context.Context, tx *core.Transaction) (string, error) {
	var rerr error
	err := n.runOnLoop(ctx, func() {
		if aErr := n.mempool.AddTransaction(tx, n.chain.State()); aErr != nil {
			rerr = aErr
			return
		}
		n.net.BroadcastTx(tx)
	})
	if err != nil {
		return "", err
	}
	if rerr != nil {
		return "", rerr
	}
	return tx.HashHex(), nil
}

func (n *Node) Mempool(ctx context.Context) ([]*core.Transaction, error) {
	var out []*core.Transaction
	err := n.runOnLoop(ctx, func() {
		out = n.mempool.GetTransactionsForBlock(n.mempool.Size())
	})
	return out, err
}

func (n *Node) Peers(ctx context.Context) ([]rpc.PeerResult, error) {
	var out []rpc.PeerResult
	err := n.runOnLoop(ctx, func() {
		for _, p := range n.net.Peers() {
			out = append(out, rpc.PeerResult{ID: p.ID, Addr: p.Addr, Height: n.peerHeights[p.ID]})
		}
	})
	return out, err
}

func (n *Node) Validator(ctx context.Context, addr string) (*rpc.ValidatorResult, error) {
	var out *rpc.ValidatorResult
	var rerr error
	err := n.runOnLoop(ctx, func() {
		pub, dErr := hex.DecodeString(addr)
		if dErr != nil {
			rerr = rpc.ErrValidation
			return
		}
		v, ok := n.validators.Get(pub)
		if !ok {
			rerr = core.ErrNotFound
			return
		}
		out = &rpc.ValidatorResult{
			PubKeyHex:       hex.EncodeToString(v.Pubkey),
			VRFPubKeyHex:    hex.EncodeToString(v.VRFPubkey),
			Stake:           v.Stake,
			RegisteredEpoch: v.RegisteredEpoch,
			Slashed:         v.Slashed,
		}
	})
	if err != nil {
		return nil, err
	}
	return out, rerr
}

func (n *Node) Validators(ctx context.Context) ([]*rpc.ValidatorResult, error) {
	var out []*rpc.ValidatorResult
	err := n.runOnLoop(ctx, func() {
		for _, v := range n.validators.All() {
			out = append(out, &rpc.ValidatorResult{
				PubKeyHex:       hex.EncodeToString(v.Pubkey),
				VRFPubKeyHex:    hex.EncodeToString(v.VRFPubkey),
				Stake:           v.Stake,
				RegisteredEpoch: v.RegisteredEpoch,
				Slashed:         v.Slashed,
			})
		}
	})
	return out, err
}

func (n *Node) Consensus(ctx context.Context) (*rpc.ConsensusResult, error) {
	var out *rpc.ConsensusResult
	err := n.runOnLoop(ctx, func() {
		slot := n.clock.CurrentSlot(nowMS())
		out = &rpc.ConsensusResult{
			Slot:          slot,
			Epoch:         slot / config.SlotsPerEpoch,
			Head:          n.chain.Head(),
			FinalizedHead: n.chain.FinalizedHead(),
			TotalStake:    n.validators.TotalStake(),
		}
	})
	return out, err
}

// Faucet credits config.FaucetAmount native units to addr from the
// configured faucet signing key, subject to a cooldown, by submitting a
// normal signed transfer through the mempool — the faucet never mutates
// State directly, so it can't desync from the chain's nonce/balance
// bookkeeping.
func (n *Node) Faucet(ctx context.Context, addr string) (string, error) {
	if n.cfg.FaucetKey == "" {
		return "", fmt.Errorf("%w: faucet not configured on this node", rpc.ErrValidation)
	}
	faucetPriv, err := crypto.PrivKeyFromHex(n.cfg.FaucetKey)
	if err != nil {
		return "", fmt.Errorf("faucet key: %w", err)
	}
	receiver, err := hex.DecodeString(addr)
	if err != nil {
		return "", fmt.Errorf("%w: invalid address", rpc.ErrValidation)
	}

	var rerr error
	var txHash string
	err = n.runOnLoop(ctx, func() {
		faucetAddr := faucetPriv.Public().Hex()
		last, cErr := n.chain.FaucetClaim(addr)
		if cErr == nil && nowMS()-last < config.FaucetCooldownMS {
			rerr = fmt.Errorf("%w: faucet cooldown not elapsed for %s", rpc.ErrValidation, addr)
			return
		}
		acc, aErr := n.chain.State().GetAccount(faucetAddr)
		if aErr != nil {
			rerr = fmt.Errorf("faucet account: %w", aErr)
			return
		}
		tx := core.NewTransaction(faucetPriv, receiver, acc.Nonce, core.NativeTransfer{Amount: config.FaucetAmount})
		if aErr := n.mempool.AddTransaction(tx, n.chain.State()); aErr != nil {
			rerr = aErr
			return
		}
		n.net.BroadcastTx(tx)
		if sErr := n.chain.SetFaucetClaim(addr, nowMS()); sErr != nil {
			rerr = sErr
			return
		}
		txHash = tx.HashHex()
	})
	if err != nil {
		return "", err
	}
	return txHash, rerr
}
