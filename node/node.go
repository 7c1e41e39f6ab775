// Package node implements the single-threaded cooperative scheduler that
// owns the Chain (per §5): a P2P event loop, a block/API loop, and an
// operator stdin reader, multiplexed by one goroutine each but with
// Chain/State/ValidatorSet/Mempool/SyncManager touched only from Run's
// tick, so no lock is needed around any of them.
package node

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/tolelom/tolchain/chain"
	"github.com/tolelom/tolchain/config"
	"github.com/tolelom/tolchain/consensus"
	"github.com/tolelom/tolchain/core"
	"github.com/tolelom/tolchain/crypto"
	"github.com/tolelom/tolchain/indexer"
	"github.com/tolelom/tolchain/network"
	"github.com/tolelom/tolchain/rpc"
	"github.com/tolelom/tolchain/sync"
	"github.com/tolelom/tolchain/validatorset"
)

// pollInterval is the block loop's timer-sleep suspension point (§5).
const pollInterval = 100 * time.Millisecond

// chainInfoPollEvery polls connected peers for ChainInfo every this many
// ticks, to discover sync targets without flooding the wire.
const chainInfoPollEvery = 50 // ~5s at pollInterval

// apiRequest is a one-shot command from the HTTP layer: fn runs on the
// block loop goroutine, then done is closed so the caller's goroutine can
// proceed. A caller whose context expires before done closes sees
// rpc.ErrTimeout; fn still runs to completion on the loop (it cannot be
// cancelled mid-flight, matching §5's "block loop never cancels
// mid-transaction").
type apiRequest struct {
	fn   func()
	done chan struct{}
}

// Node is the block/API loop. It implements rpc.NodeAPI.
type Node struct {
	cfg        *config.Config
	chain      *chain.Chain
	mempool    *core.Mempool
	validators *validatorset.Set
	idx        *indexer.Indexer
	net        *network.Node
	syncMgr    *sync.Manager
	clock      consensus.Clock

	signingKey crypto.PrivateKey // zero value → follower-only, never proposes
	vrfKey     crypto.VRFPrivateKey
	maxBlockTxs int

	peerHeights map[string]uint64 // peer id -> last advertised height, for GET /peers

	apiCmds chan apiRequest
	tick    uint64
}

// New wires a Node over its already-initialized dependencies. chain.Init
// must already have been called.
func New(
	cfg *config.Config,
	c *chain.Chain,
	mempool *core.Mempool,
	validators *validatorset.Set,
	idx *indexer.Indexer,
	net *network.Node,
	syncMgr *sync.Manager,
	clock consensus.Clock,
	signingKey crypto.PrivateKey,
	vrfKey crypto.VRFPrivateKey,
) *Node {
	maxTxs := cfg.MaxBlockTxs
	if maxTxs <= 0 {
		maxTxs = 500
	}
	return &Node{
		cfg:         cfg,
		chain:       c,
		mempool:     mempool,
		validators:  validators,
		idx:         idx,
		net:         net,
		syncMgr:     syncMgr,
		clock:       clock,
		signingKey:  signingKey,
		vrfKey:      vrfKey,
		maxBlockTxs: maxTxs,
		peerHeights: make(map[string]uint64),
		apiCmds:     make(chan apiRequest, 64),
	}
}

// Run blocks until ctx is cancelled, draining every queue once per tick in
// the order §5 specifies: votes, sync messages, CLI commands, sync
// events, slot-timer production, incoming blocks, incoming transactions,
// API commands.
func (n *Node) Run(ctx context.Context, stdin *bufio.Scanner) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	cliLines := make(chan string, 16)
	if stdin != nil {
		go func() {
			for stdin.Scan() {
				cliLines <- stdin.Text()
			}
			close(cliLines)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		n.tick++

		n.drainVotes()
		n.drainSyncMessages()
		n.drainCLI(cliLines)
		n.drainSyncEvents()
		n.maybeProduceBlock()
		n.drainIncomingBlocks()
		n.drainIncomingTxs()
		n.drainAPICommands()
	}
}

func (n *Node) drainVotes() {
	for {
		select {
		case v := <-n.net.Votes():
			if err := n.chain.AddVote(v); err != nil {
				log.Printf("[node] reject gossiped vote: %v", err)
			}
		default:
			return
		}
	}
}

func (n *Node) drainSyncMessages() {
	for {
		select {
		case q := <-n.net.ChainInfoQueries():
			q.Reply <- network.ChainInfo{HeadHash: n.chain.Head(), Height: n.chain.Height()}
		default:
			goto blocksQueries
		}
	}
blocksQueries:
	for {
		select {
		case q := <-n.net.BlocksQueries():
			blocks, err := n.chain.GetBlocksRange(q.StartHash, q.Limit)
			if err != nil {
				q.Reply <- nil
				continue
			}
			q.Reply <- blocks
		default:
			return
		}
	}
}

func (n *Node) drainCLI(lines <-chan string) {
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			n.handleCLI(line)
		default:
			return
		}
	}
}

func (n *Node) handleCLI(line string) {
	switch line {
	case "status":
		fmt.Printf("head=%s height=%d finalized=%s mempool=%d sync=%s\n",
			n.chain.Head(), n.chain.Height(), n.chain.FinalizedHead(), n.mempool.Size(), n.syncMgr.State())
	case "peers":
		for _, p := range n.net.Peers() {
			fmt.Printf("  %s (%s)\n", p.ID, p.Addr)
		}
	default:
		if line != "" {
			fmt.Printf("unknown command %q (try: status, peers)\n", line)
		}
	}
}

func (n *Node) drainSyncEvents() {
	for _, ev := range n.syncMgr.DrainEvents() {
		log.Printf("[sync] %s", ev)
	}

	if n.tick%chainInfoPollEvery == 0 {
		n.pollPeersForChainInfo()
	}

	if peer, ok := n.syncMgr.ShouldSync(n.chain.Height()); ok {
		n.startSyncFrom(peer)
	}
}

func (n *Node) pollPeersForChainInfo() {
	for _, p := range n.net.Peers() {
		peer := p
		go func() {
			res := <-n.net.RequestChainInfo(peer)
			if res.Err != nil {
				return
			}
			_ = n.runOnLoop(context.Background(), func() {
				n.peerHeights[peer.ID] = res.Info.Height
				n.syncMgr.UpdatePeer(sync.PeerInfo{ID: peer.ID, Height: res.Info.Height})
			})
		}()
	}
}

func (n *Node) startSyncFrom(peer sync.PeerInfo) {
	p := n.net.Peer(peer.ID)
	if p == nil {
		return
	}
	n.syncMgr.StartSync(peer.ID, peer.Height)
	head := n.chain.Head()
	go func() {
		res := <-n.net.RequestBlocks(p, head, 100)
		if res.Err != nil {
			log.Printf("[sync] request blocks from %s: %v", peer.ID, res.Err)
			return
		}
		_ = n.runOnLoop(context.Background(), func() {
			if err := n.syncMgr.ProcessBlocks(res.Blocks, n.chain); err != nil {
				log.Printf("[sync] apply blocks from %s: %v", peer.ID, err)
			}
		})
	}()
}

func (n *Node) maybeProduceBlock() {
	if n.signingKey == nil {
		return
	}
	block, vote, err := n.chain.ProduceBlock(nowMS(), n.signingKey, n.vrfKey, n.maxBlockTxs)
	if err != nil {
		log.Printf("[node] produce block: %v", err)
		return
	}
	if block == nil {
		return
	}
	log.Printf("[node] produced block slot=%d hash=%s txs=%d", block.Header.Slot, block.Hash, len(block.Transactions))
	n.net.BroadcastBlock(block)
	if vote != nil {
		n.net.BroadcastVote(vote)
	}
}

func (n *Node) drainIncomingBlocks() {
	for {
		select {
		case b := <-n.net.Blocks():
			if err := n.chain.AddBlock(b); err != nil {
				log.Printf("[node] reject gossiped block %s: %v", b.Hash, err)
			}
		default:
			return
		}
	}
}

func (n *Node) drainIncomingTxs() {
	for {
		select {
		case tx := <-n.net.Txs():
			if err := n.mempool.AddTransaction(tx, n.chain.State()); err != nil {
				log.Printf("[node] reject gossiped tx: %v", err)
			}
		default:
			return
		}
	}
}

func (n *Node) drainAPICommands() {
	for {
		select {
		case req := <-n.apiCmds:
			req.fn()
			close(req.done)
		default:
			return
		}
	}
}

// runOnLoop schedules fn to run on the block loop and blocks the calling
// goroutine until it completes or ctx expires. A timed-out call still
// lets fn run to completion on the loop; the caller just stops waiting.
func (n *Node) runOnLoop(ctx context.Context, fn func()) error {
	req := apiRequest{fn: fn, done: make(chan struct{})}
	select {
	case n.apiCmds <- req:
	case <-ctx.Done():
		return rpc.ErrTimeout
	case <-time.After(5 * time.Second):
		return rpc.ErrTimeout
	}
	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return rpc.ErrTimeout
	case <-time.After(5 * time.Second):
		return rpc.ErrTimeout
	}
}

func nowMS() int64 { return time.Now().UnixMilli() }
