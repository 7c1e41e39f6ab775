package network

import (
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/tolelom/tolchain/core"
)

// DefaultMaxPeers is the default limit on simultaneous peer connections.
const DefaultMaxPeers = 50

// requestTimeout bounds how long a direct request/response waits for a
// reply before its result channel receives an error.
const requestTimeout = 10 * time.Second

// ChainInfo answers GetChainInfo: a peer's current head and height.
type ChainInfo struct {
	HeadHash string `json:"head_hash"`
	Height   uint64 `json:"height"`
}

// ChainInfoResult is delivered on the channel returned by RequestChainInfo.
type ChainInfoResult struct {
	Info ChainInfo
	Err  error
}

// BlocksResult is delivered on the channel returned by RequestBlocks.
type BlocksResult struct {
	Blocks []*core.Block
	Err    error
}

// GetBlocksRequest asks a peer for up to Limit blocks starting at StartHash.
type GetBlocksRequest struct {
	StartHash string `json:"start_hash"`
	Limit     int    `json:"limit"`
}

// BlocksPayload carries a batch of blocks, request or response side.
type BlocksPayload struct {
	Blocks []*core.Block `json:"blocks"`
}

// ChainInfoQuery is a peer's request for our ChainInfo, surfaced to the
// block loop so it can answer from its own authoritative Head()/Height().
type ChainInfoQuery struct {
	Peer  *Peer
	Reply chan<- ChainInfo
}

// BlocksQuery is a peer's request for a range of our blocks.
type BlocksQuery struct {
	Peer      *Peer
	StartHash string
	Limit     int
	Reply     chan<- []*core.Block
}

// Node listens for incoming peers and manages outgoing connections. It
// performs no consensus logic itself: every inbound gossip message and
// every inbound query is handed to the block loop over a channel, and
// every direct request this node issues is answered asynchronously via a
// correlation id.
type Node struct {
	nodeID     string
	listenAddr string
	tlsConfig  *tls.Config // nil → plain TCP
	maxPeers   int

	mu    sync.RWMutex
	peers map[string]*Peer

	pendingMu sync.Mutex
	pending   map[string]chan Message

	txInbox    chan *core.Transaction
	blockInbox chan *core.Block
	voteInbox  chan *core.Vote
	chainInfoQueries chan ChainInfoQuery
	blocksQueries    chan BlocksQuery

	listener net.Listener
	stopCh   chan struct{}
}

// NewNode creates a Node that will listen on listenAddr. If tlsCfg is
// non-nil the listener and outgoing connections use TLS.
func NewNode(nodeID, listenAddr string, tlsCfg *tls.Config) *Node {
	return &Node{
		nodeID:           nodeID,
		listenAddr:       listenAddr,
		tlsConfig:        tlsCfg,
		maxPeers:         DefaultMaxPeers,
		peers:            make(map[string]*Peer),
		pending:          make(map[string]chan Message),
		txInbox:          make(chan *core.Transaction, 1024),
		blockInbox:       make(chan *core.Block, 256),
		voteInbox:        make(chan *core.Vote, 256),
		chainInfoQueries: make(chan ChainInfoQuery, 16),
		blocksQueries:    make(chan BlocksQuery, 16),
		stopCh:           make(chan struct{}),
	}
}

// Txs is the inbound gossip queue for txs/1.0.0.
func (n *Node) Txs() <-chan *core.Transaction { return n.txInbox }

// Blocks is the inbound gossip queue for blocks/1.0.0.
func (n *Node) Blocks() <-chan *core.Block { return n.blockInbox }

// Votes is the inbound gossip queue for votes/1.0.0.
func (n *Node) Votes() <-chan *core.Vote { return n.voteInbox }

// ChainInfoQueries is the inbound queue of peers asking for our ChainInfo.
func (n *Node) ChainInfoQueries() <-chan ChainInfoQuery { return n.chainInfoQueries }

// BlocksQueries is the inbound queue of peers asking for a block range.
func (n *Node) BlocksQueries() <-chan BlocksQuery { return n.blocksQueries }

// Start begins accepting connections.
func (n *Node) Start() error {
	var ln net.Listener
	var err error
	if n.tlsConfig != nil {
		ln, err = tls.Listen("tcp", n.listenAddr, n.tlsConfig)
	} else {
		ln, err = net.Listen("tcp", n.listenAddr)
	}
	if err != nil {
		return fmt.Errorf("listen %s: %w", n.listenAddr, err)
	}
	n.listener = ln
	go n.acceptLoop()
	return nil
}

// Stop shuts down the node.
func (n *Node) Stop() {
	close(n.stopCh)
	if n.listener != nil {
		n.listener.Close()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, p := range n.peers {
		p.Close()
	}
}

// AddPeer dials addr and registers the peer.
func (n *Node) AddPeer(id, addr string) error {
	peer, err := Connect(id, addr, n.tlsConfig)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.peers[id] = peer
	n.mu.Unlock()
	go n.readLoop(peer)

	hello, err := json.Marshal(map[string]string{"node_id": n.nodeID})
	if err != nil {
		log.Printf("[network] marshal hello: %v", err)
		return nil
	}
	if err := peer.Send(Message{Type: MsgHello, Payload: hello}); err != nil {
		log.Printf("[network] send hello to %s: %v", id, err)
	}
	return nil
}

// Peer returns the connected peer with the given id, or nil if not found.
func (n *Node) Peer(id string) *Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.peers[id]
}

// Peers returns a snapshot of the currently connected peers.
func (n *Node) Peers() []*Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		out = append(out, p)
	}
	return out
}

func (n *Node) broadcast(msg Message) {
	for _, p := range n.Peers() {
		if err := p.Send(msg); err != nil {
			log.Printf("[network] broadcast to %s: %v", p.ID, err)
		}
	}
}

// BroadcastTx gossips tx on txs/1.0.0.
func (n *Node) BroadcastTx(tx *core.Transaction) {
	data, err := json.Marshal(tx)
	if err != nil {
		log.Printf("[network] marshal tx: %v", err)
		return
	}
	n.broadcast(Message{Type: MsgTx, Payload: data})
}

// BroadcastBlock gossips block on blocks/1.0.0.
func (n *Node) BroadcastBlock(block *core.Block) {
	data, err := json.Marshal(block)
	if err != nil {
		log.Printf("[network] marshal block: %v", err)
		return
	}
	n.broadcast(Message{Type: MsgBlock, Payload: data})
}

// BroadcastVote gossips vote on votes/1.0.0.
func (n *Node) BroadcastVote(vote *core.Vote) {
	data, err := json.Marshal(vote)
	if err != nil {
		log.Printf("[network] marshal vote: %v", err)
		return
	}
	n.broadcast(Message{Type: MsgVote, Payload: data})
}

// RequestChainInfo sends peer a GetChainInfo request and returns a
// channel that receives exactly one ChainInfoResult, an error result if
// the peer never answers within requestTimeout.
func (n *Node) RequestChainInfo(peer *Peer) <-chan ChainInfoResult {
	out := make(chan ChainInfoResult, 1)
	id := newRequestID()
	reply := n.registerPending(id)
	if err := peer.Send(Message{Type: MsgGetChainInfo, ID: id}); err != nil {
		n.clearPending(id)
		out <- ChainInfoResult{Err: err}
		return out
	}
	go func() {
		select {
		case msg := <-reply:
			var info ChainInfo
			if err := json.Unmarshal(msg.Payload, &info); err != nil {
				out <- ChainInfoResult{Err: err}
				return
			}
			out <- ChainInfoResult{Info: info}
		case <-time.After(requestTimeout):
			n.clearPending(id)
			out <- ChainInfoResult{Err: fmt.Errorf("chain info request to %s timed out", peer.ID)}
		}
	}()
	return out
}

// RequestBlocks sends peer a GetBlocks request and returns a channel that
// receives exactly one BlocksResult.
func (n *Node) RequestBlocks(peer *Peer, startHash string, limit int) <-chan BlocksResult {
	out := make(chan BlocksResult, 1)
	id := newRequestID()
	reply := n.registerPending(id)
	payload, err := json.Marshal(GetBlocksRequest{StartHash: startHash, Limit: limit})
	if err != nil {
		n.clearPending(id)
		out <- BlocksResult{Err: err}
		return out
	}
	if err := peer.Send(Message{Type: MsgGetBlocks, ID: id, Payload: payload}); err != nil {
		n.clearPending(id)
		out <- BlocksResult{Err: err}
		return out
	}
	go func() {
		select {
		case msg := <-reply:
			var resp BlocksPayload
			if err := json.Unmarshal(msg.Payload, &resp); err != nil {
				out <- BlocksResult{Err: err}
				return
			}
			out <- BlocksResult{Blocks: resp.Blocks}
		case <-time.After(requestTimeout):
			n.clearPending(id)
			out <- BlocksResult{Err: fmt.Errorf("blocks request to %s timed out", peer.ID)}
		}
	}()
	return out
}

func (n *Node) registerPending(id string) chan Message {
	ch := make(chan Message, 1)
	n.pendingMu.Lock()
	n.pending[id] = ch
	n.pendingMu.Unlock()
	return ch
}

func (n *Node) clearPending(id string) {
	n.pendingMu.Lock()
	delete(n.pending, id)
	n.pendingMu.Unlock()
}

func (n *Node) resolvePending(id string, msg Message) bool {
	n.pendingMu.Lock()
	ch, ok := n.pending[id]
	if ok {
		delete(n.pending, id)
	}
	n.pendingMu.Unlock()
	if !ok {
		return false
	}
	ch <- msg
	return true
}

func newRequestID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func (n *Node) acceptLoop() {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.stopCh:
				return
			default:
				log.Printf("[network] accept error: %v", err)
				time.Sleep(100 * time.Millisecond)
				continue
			}
		}
		n.mu.RLock()
		peerCount := len(n.peers)
		n.mu.RUnlock()
		if peerCount >= n.maxPeers {
			log.Printf("[network] max peers (%d) reached, rejecting %s", n.maxPeers, conn.RemoteAddr())
			conn.Close()
			continue
		}
		peer := NewPeer(conn.RemoteAddr().String(), conn.RemoteAddr().String(), conn)
		n.mu.Lock()
		n.peers[peer.ID] = peer
		n.mu.Unlock()
		go n.readLoop(peer)
	}
}

func (n *Node) readLoop(peer *Peer) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[network] readLoop panic from %s: %v", peer.ID, r)
		}
		peer.Close()
		n.mu.Lock()
		delete(n.peers, peer.ID)
		n.mu.Unlock()
	}()
	for {
		msg, err := peer.Receive()
		if err != nil {
			return
		}
		n.dispatch(peer, msg)
	}
}

func (n *Node) dispatch(peer *Peer, msg Message) {
	switch msg.Type {
	case MsgHello:
		// identity only; no reply expected

	case MsgTx:
		var tx core.Transaction
		if err := json.Unmarshal(msg.Payload, &tx); err != nil {
			log.Printf("[network] unmarshal tx from %s: %v", peer.ID, err)
			return
		}
		select {
		case n.txInbox <- &tx:
		default:
			log.Printf("[network] tx inbox full, dropping tx from %s", peer.ID)
		}

	case MsgBlock:
		var b core.Block
		if err := json.Unmarshal(msg.Payload, &b); err != nil {
			log.Printf("[network] unmarshal block from %s: %v", peer.ID, err)
			return
		}
		select {
		case n.blockInbox <- &b:
		default:
			log.Printf("[network] block inbox full, dropping block from %s", peer.ID)
		}

	case MsgVote:
		var v core.Vote
		if err := json.Unmarshal(msg.Payload, &v); err != nil {
			log.Printf("[network] unmarshal vote from %s: %v", peer.ID, err)
			return
		}
		select {
		case n.voteInbox <- &v:
		default:
			log.Printf("[network] vote inbox full, dropping vote from %s", peer.ID)
		}

	case MsgGetChainInfo:
		reply := make(chan ChainInfo, 1)
		query := ChainInfoQuery{Peer: peer, Reply: reply}
		select {
		case n.chainInfoQueries <- query:
		default:
			log.Printf("[network] chain info query queue full, dropping request from %s", peer.ID)
			return
		}
		go func() {
			select {
			case info := <-reply:
				data, err := json.Marshal(info)
				if err != nil {
					return
				}
				_ = peer.Send(Message{Type: MsgChainInfo, ID: msg.ID, Payload: data})
			case <-time.After(requestTimeout):
			}
		}()

	case MsgGetBlocks:
		var req GetBlocksRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return
		}
		reply := make(chan []*core.Block, 1)
		query := BlocksQuery{Peer: peer, StartHash: req.StartHash, Limit: req.Limit, Reply: reply}
		select {
		case n.blocksQueries <- query:
		default:
			log.Printf("[network] blocks query queue full, dropping request from %s", peer.ID)
			return
		}
		go func() {
			select {
			case blocks := <-reply:
				data, err := json.Marshal(BlocksPayload{Blocks: blocks})
				if err != nil {
					return
				}
				_ = peer.Send(Message{Type: MsgBlocks, ID: msg.ID, Payload: data})
			case <-time.After(requestTimeout):
			}
		}()

	case MsgChainInfo, MsgBlocks:
		if msg.ID == "" || !n.resolvePending(msg.ID, msg) {
			log.Printf("[network] unmatched response %s from %s", msg.Type, peer.ID)
		}

	default:
		log.Printf("[network] unknown message type %q from %s", msg.Type, peer.ID)
	}
}
