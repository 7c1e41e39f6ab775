package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
)

// TLSConfig holds paths to the PEM files needed for mTLS.
// When nil or all paths empty, the node falls back to plain TCP.
type TLSConfig struct {
	CACert   string `json:"ca_cert"`   // CA certificate PEM path
	NodeCert string `json:"node_cert"` // node certificate PEM path
	NodeKey  string `json:"node_key"`  // node private key PEM path
}

// SeedPeer identifies a remote node to connect to on startup.
type SeedPeer struct {
	ID   string `json:"id"`   // remote node ID
	Addr string `json:"addr"` // host:port
}

// GenesisValidator seeds the validator set at slot 0: an ed25519 pubkey hex,
// a compressed secp256k1 VRF pubkey hex (distinct keypair, used only to
// verify the slot-leader proof), and an initial stake, which must be at
// least validatorset.MinStake.
type GenesisValidator struct {
	Pubkey    string `json:"pubkey"`
	VRFPubkey string `json:"vrf_pubkey"`
	Stake     uint64 `json:"stake"`
}

// GenesisConfig describes the chain's initial state.
type GenesisConfig struct {
	ChainID    string             `json:"chain_id"`
	Timestamp  int64              `json:"timestamp"` // ms, fixed so every node derives the same genesis hash
	Alloc      map[string]uint64  `json:"alloc"`      // pubkey hex → initial balance
	Validators []GenesisValidator `json:"validators"` // initial stake-weighted validator set
}

// Consensus timing and economic constants. These are fixed module-wide
// rather than per-config because changing them mid-chain would fork any
// two nodes that disagreed on slot or epoch boundaries.
const (
	SlotDurationMS = 2000 // wall-clock duration of one slot
	SlotsPerEpoch  = 1800 // slots per epoch (1 hour at SlotDurationMS=2000)
	PruneHorizon   = 100  // finalized blocks older than this many slots may be pruned
	MinStake       = 1000 // minimum stake accepted by RegisterValidator
	FaucetAmount   = 100  // native units credited per POST /faucet claim
	FaucetCooldownMS = 24 * 60 * 60 * 1000 // minimum time between faucet claims for one address
)

// Config holds all node configuration.
type Config struct {
	NodeID      string `json:"node_id"`
	DataDir     string `json:"data_dir"`
	RPCPort     int    `json:"rpc_port"`
	P2PPort     int    `json:"p2p_port"`
	MaxBlockTxs int    `json:"max_block_txs"` // max transactions per block; 0 → 500

	// ValidatorKey is this node's own ed25519 signing key hex, used to
	// produce and sign blocks when it is the slot leader. Empty means the
	// node runs in follower-only mode (sync and serve RPC, never propose).
	ValidatorKey string `json:"validator_key,omitempty"`
	// VRFKey is this node's secp256k1 VRF private key hex, paired with
	// ValidatorKey for leader-election proofs. Required whenever
	// ValidatorKey is set.
	VRFKey string `json:"vrf_key,omitempty"`
	// FaucetKey is an optional ed25519 signing key hex funded in Genesis.Alloc;
	// when set, POST /faucet drains from it to credit test accounts.
	FaucetKey string `json:"faucet_key,omitempty"`

	Genesis      GenesisConfig `json:"genesis"`
	SeedPeers    []SeedPeer    `json:"seed_peers,omitempty"`     // initial peers to connect to
	TLS          *TLSConfig    `json:"tls,omitempty"`            // nil → plain TCP
	RPCAuthToken string        `json:"rpc_auth_token,omitempty"` // empty → no auth
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:      "node0",
		DataDir:     "./data",
		RPCPort:     8545,
		P2PPort:     30303,
		MaxBlockTxs: 500,
		Genesis: GenesisConfig{
			ChainID:   "tolchain-dev",
			Timestamp: 1735689600000, // 2025-01-01T00:00:00Z
			Alloc:     map[string]uint64{},
		},
	}
}

// Load reads a JSON config file from path and validates required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required fields are present and well-formed.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Genesis.ChainID == "" {
		return fmt.Errorf("genesis.chain_id must not be empty")
	}
	if c.RPCPort <= 0 || c.RPCPort > 65535 {
		return fmt.Errorf("rpc_port must be 1-65535, got %d", c.RPCPort)
	}
	if c.P2PPort <= 0 || c.P2PPort > 65535 {
		return fmt.Errorf("p2p_port must be 1-65535, got %d", c.P2PPort)
	}
	if c.RPCPort == c.P2PPort {
		return fmt.Errorf("rpc_port and p2p_port must not be the same (%d)", c.RPCPort)
	}
	if len(c.Genesis.Validators) == 0 {
		return fmt.Errorf("genesis.validators list must not be empty")
	}
	for i, v := range c.Genesis.Validators {
		b, err := hex.DecodeString(v.Pubkey)
		if err != nil || len(b) != 32 {
			return fmt.Errorf("genesis.validators[%d]: pubkey must be 64-char hex (32 bytes ed25519), got %q", i, v.Pubkey)
		}
		vrfB, err := hex.DecodeString(v.VRFPubkey)
		if err != nil || len(vrfB) != 33 {
			return fmt.Errorf("genesis.validators[%d]: vrf_pubkey must be 66-char hex (33 bytes compressed secp256k1), got %q", i, v.VRFPubkey)
		}
		if v.Stake < MinStake {
			return fmt.Errorf("genesis.validators[%d]: stake %d below minimum %d", i, v.Stake, MinStake)
		}
	}
	if c.TLS != nil {
		t := c.TLS
		allSet := t.CACert != "" && t.NodeCert != "" && t.NodeKey != ""
		allEmpty := t.CACert == "" && t.NodeCert == "" && t.NodeKey == ""
		if !allSet && !allEmpty {
			return fmt.Errorf("tls: all three paths (ca_cert, node_cert, node_key) must be set or all empty")
		}
	}
	return nil
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
