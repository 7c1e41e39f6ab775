// Command node starts a tolchain node: the block/API loop, the P2P
// listener, and the HTTP API, wired together as described in package node.
package main

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/tolelom/tolchain/chain"
	"github.com/tolelom/tolchain/config"
	"github.com/tolelom/tolchain/consensus"
	"github.com/tolelom/tolchain/core"
	"github.com/tolelom/tolchain/crypto"
	"github.com/tolelom/tolchain/crypto/certgen"
	"github.com/tolelom/tolchain/events"
	"github.com/tolelom/tolchain/indexer"
	"github.com/tolelom/tolchain/network"
	"github.com/tolelom/tolchain/node"
	"github.com/tolelom/tolchain/rpc"
	"github.com/tolelom/tolchain/storage"
	"github.com/tolelom/tolchain/sync"
	"github.com/tolelom/tolchain/validatorset"
	"github.com/tolelom/tolchain/vm"
	"github.com/tolelom/tolchain/wallet"

	// Import VM modules to trigger their init() self-registration.
	_ "github.com/tolelom/tolchain/vm/modules/asset"
	_ "github.com/tolelom/tolchain/vm/modules/channel"
	_ "github.com/tolelom/tolchain/vm/modules/collection"
	_ "github.com/tolelom/tolchain/vm/modules/transfer"
	_ "github.com/tolelom/tolchain/vm/modules/validator"
)

func main() {
	cfgPath := flag.String("config", "config.json", "path to config file")
	keyPath := flag.String("key", "validator.key", "path to keystore file")
	genKey := flag.Bool("genkey", false, "generate a new validator key and exit")
	genCerts := flag.String("gencerts", "", "generate CA + node TLS certs into the given directory and exit (requires node ID from config)")
	flag.Parse()

	// Read keystore password from environment (not CLI flags — they leak via ps).
	password := os.Getenv("TOL_PASSWORD")
	if password == "" {
		log.Println("WARNING: TOL_PASSWORD not set — keystore will use an empty password")
	}

	if *genKey {
		w, err := wallet.Generate()
		if err != nil {
			log.Fatal(err)
		}
		if err := wallet.SaveKey(*keyPath, password, w.PrivKey()); err != nil {
			log.Fatal(err)
		}
		vrfPriv, vrfPub, err := crypto.GenerateVRFKeyPair()
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Generated key. Public key (validator address): %s\n", w.PubKey())
		fmt.Printf("Saved to: %s\n", *keyPath)
		fmt.Printf("VRF private key (set as vrf_key in config, keep secret): %x\n", vrfPriv.Bytes())
		fmt.Printf("VRF public key (set as genesis.validators[].vrf_pubkey): %s\n", vrfPub.Hex())
		return
	}

	if *genCerts != "" {
		cfgForCerts, err := config.Load(*cfgPath)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if err := certgen.GenerateAll(*genCerts, cfgForCerts.NodeID, nil); err != nil {
			log.Fatalf("gencerts: %v", err)
		}
		fmt.Printf("Certificates generated in %s for node %q\n", *genCerts, cfgForCerts.NodeID)
		return
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- validator signing key (optional: empty means follower-only) ----
	var signingKey crypto.PrivateKey
	var vrfKey crypto.VRFPrivateKey
	if cfg.ValidatorKey != "" {
		signingKey, err = crypto.PrivKeyFromHex(cfg.ValidatorKey)
		if err != nil {
			log.Fatalf("validator_key: %v", err)
		}
		vrfBytes, err := hex.DecodeString(cfg.VRFKey)
		if err != nil {
			log.Fatalf("vrf_key: %v", err)
		}
		vrfKey, err = crypto.VRFPrivKeyFromBytes(vrfBytes)
		if err != nil {
			log.Fatalf("vrf_key: %v", err)
		}
		log.Printf("Validator key loaded: %s", signingKey.Public().Hex())
	} else {
		log.Println("No validator_key configured — running as a follower (sync + RPC only)")
	}
	_ = keyPath // the legacy -key keystore flag only matters to -genkey

	// ---- open DB ----
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("mkdir data dir: %v", err)
	}
	db, err := storage.NewLevelDB(cfg.DataDir + "/chain")
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	chainStore := storage.NewChainStore(db)
	state, err := storage.NewStateDB(db)
	if err != nil {
		log.Fatalf("state init: %v", err)
	}

	emitter := events.NewEmitter()
	idx := indexer.New(db, emitter)
	mempool := core.NewMempool()
	exec := vm.NewExecutor(emitter)
	validators := validatorset.New()
	clock := consensus.NewClock(cfg.Genesis.Timestamp)

	c := chain.New(chainStore, state, validators, mempool, exec, emitter, clock)

	// The genesis proposer pubkey is part of the hashed header, so every
	// node, validator or follower, signs genesis with the same key derived
	// from the chain ID rather than with its own validator key.
	genesisSeed := crypto.HashBytes([]byte("genesis:" + cfg.Genesis.ChainID))
	genesisProposer := crypto.PrivateKey(ed25519.NewKeyFromSeed(genesisSeed))
	genesisBlock, err := config.CreateGenesisBlock(cfg, state, validators, genesisProposer)
	if err != nil {
		log.Fatalf("genesis: %v", err)
	}
	if err := c.Init(genesisBlock); err != nil {
		log.Fatalf("chain init: %v", err)
	}
	log.Printf("Chain ready: head=%s height=%d", c.Head(), c.Height())

	syncMgr := sync.New()

	// ---- TLS ----
	tlsCfg, err := config.LoadTLSConfig(cfg.TLS)
	if err != nil {
		log.Fatalf("tls: %v", err)
	}
	if tlsCfg != nil {
		log.Println("mTLS enabled for P2P")
	}

	// ---- network ----
	p2pAddr := fmt.Sprintf(":%d", cfg.P2PPort)
	net := network.NewNode(cfg.NodeID, p2pAddr, tlsCfg)
	if err := net.Start(); err != nil {
		log.Fatalf("p2p start: %v", err)
	}
	defer net.Stop()
	log.Printf("P2P listening on %s", p2pAddr)

	for _, sp := range cfg.SeedPeers {
		if err := net.AddPeer(sp.ID, sp.Addr); err != nil {
			log.Printf("seed peer %s (%s): %v", sp.ID, sp.Addr, err)
			continue
		}
		log.Printf("Connected to seed peer %s (%s)", sp.ID, sp.Addr)
	}

	// ---- block/API loop ----
	n := node.New(cfg, c, mempool, validators, idx, net, syncMgr, clock, signingKey, vrfKey)

	// ---- RPC ----
	rpcAddr := fmt.Sprintf(":%d", cfg.RPCPort)
	rpcHandler := rpc.NewHandler(n)
	rpcServer := rpc.NewServer(rpcAddr, rpcHandler, cfg.RPCAuthToken)
	if err := rpcServer.Start(); err != nil {
		log.Fatalf("rpc start: %v", err)
	}
	defer rpcServer.Stop()
	log.Printf("RPC listening on %s", rpcAddr)
	if cfg.RPCAuthToken != "" {
		log.Println("RPC Bearer token authentication enabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() {
		runDone <- n.Run(ctx, bufio.NewScanner(os.Stdin))
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("Shutting down...")
	cancel()
	<-runDone

	log.Println("Shutdown complete.")
}
