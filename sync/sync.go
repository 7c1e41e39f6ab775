// Package sync implements the peer-height-driven catch-up state machine:
// Idle, Syncing{peer, targetHeight}, Synced, with stall detection against
// a peer that advertises a height it cannot serve.
package sync

import (
	"fmt"

	"github.com/tolelom/tolchain/chain"
	"github.com/tolelom/tolchain/core"
)

// State is the sync state machine's current mode.
type State int

const (
	Idle State = iota
	Syncing
	Synced
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Syncing:
		return "syncing"
	case Synced:
		return "synced"
	default:
		return "unknown"
	}
}

// Event is emitted on state transitions so the node loop can log or relay
// them; it carries no payload beyond its name since all relevant detail
// (peer, target) is already on the Manager.
type Event string

const (
	SyncStarted  Event = "sync_started"
	SyncCompleted Event = "sync_completed"
	SyncFailed   Event = "sync_failed"
)

// PeerInfo is what the manager knows about a remote node: its last
// advertised height and identity.
type PeerInfo struct {
	ID     string
	Height uint64
}

// Manager tracks peer heights and the local sync state machine.
type Manager struct {
	state        State
	peer         string
	targetHeight uint64
	peers        map[string]PeerInfo

	events []Event // pending events for the node loop to drain
}

// New returns a Manager in Idle with no known peers.
func New() *Manager {
	return &Manager{state: Idle, peers: make(map[string]PeerInfo)}
}

// State returns the current mode.
func (m *Manager) State() State { return m.state }

// Peer returns the peer id currently being synced from, if Syncing.
func (m *Manager) Peer() string { return m.peer }

// TargetHeight returns the height being synced to, if Syncing.
func (m *Manager) TargetHeight() uint64 { return m.targetHeight }

// UpdatePeer records p's latest advertised height.
func (m *Manager) UpdatePeer(p PeerInfo) {
	m.peers[p.ID] = p
}

// DrainEvents returns and clears all events queued since the last drain.
func (m *Manager) DrainEvents() []Event {
	ev := m.events
	m.events = nil
	return ev
}

func (m *Manager) emit(e Event) {
	m.events = append(m.events, e)
}

// ShouldSync reports the peer to sync from, if any: in Idle, the known
// peer with the greatest height strictly above ourHeight.
func (m *Manager) ShouldSync(ourHeight uint64) (PeerInfo, bool) {
	if m.state != Idle {
		return PeerInfo{}, false
	}
	var best PeerInfo
	found := false
	for _, p := range m.peers {
		if p.Height > ourHeight && (!found || p.Height > best.Height) {
			best = p
			found = true
		}
	}
	return best, found
}

// StartSync transitions Idle -> Syncing{peer, height} and emits
// SyncStarted.
func (m *Manager) StartSync(peer string, height uint64) {
	m.state = Syncing
	m.peer = peer
	m.targetHeight = height
	m.emit(SyncStarted)
}

// ProcessBlocks hands each block to chain.AddBlock. A block that fails
// because it is already present is not counted as a failure. An empty
// batch received while Syncing is a stall: the manager falls back to Idle
// and emits SyncFailed. Reaching targetHeight transitions to Synced and
// emits SyncCompleted.
func (m *Manager) ProcessBlocks(blocks []*core.Block, c *chain.Chain) error {
	if m.state != Syncing {
		return fmt.Errorf("process_blocks called while not syncing (state=%s)", m.state)
	}
	if len(blocks) == 0 {
		m.state = Idle
		m.peer = ""
		m.targetHeight = 0
		m.emit(SyncFailed)
		return nil
	}
	for _, b := range blocks {
		if _, err := c.GetBlock(b.Hash); err == nil {
			continue // already present, not a failure
		}
		if err := c.AddBlock(b); err != nil {
			return fmt.Errorf("sync apply block %s: %w", b.Hash, err)
		}
	}
	if c.Height() >= m.targetHeight {
		m.state = Synced
		m.emit(SyncCompleted)
	}
	return nil
}
