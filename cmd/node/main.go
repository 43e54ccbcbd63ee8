// Command node starts a commons node.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/tolelom/commons/api"
	"github.com/tolelom/commons/config"
	"github.com/tolelom/commons/crypto/certgen"
	"github.com/tolelom/commons/events"
	"github.com/tolelom/commons/game"
	"github.com/tolelom/commons/indexer"
	"github.com/tolelom/commons/journal"
	"github.com/tolelom/commons/network"
	"github.com/tolelom/commons/poller"
	"github.com/tolelom/commons/rpc"
	"github.com/tolelom/commons/storage"
	"github.com/tolelom/commons/telemetry"
	"github.com/tolelom/commons/wallet"

	// Import API modules to trigger their init() self-registration.
	_ "github.com/tolelom/commons/api/modules/lobby"
	_ "github.com/tolelom/commons/api/modules/play"
)

func main() {
	cfgPath := flag.String("config", "config.json", "path to config file")
	genKey := flag.Bool("genkey", false, "generate a new agent key and exit")
	genCerts := flag.String("gencerts", "", "issue a TLS cert for this node into the given CA directory and exit")
	replay := flag.Bool("replay", false, "rebuild the ledger from the op journal and exit")
	flag.Parse()

	cfg, err := config.Resolve(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Password == "" {
		log.Println("WARNING: COMMONS_PASSWORD not set, keystore uses an empty password")
	}

	// ---- generate key mode ----
	if *genKey {
		w, err := wallet.Generate()
		if err != nil {
			log.Fatal(err)
		}
		if err := wallet.SaveKey(cfg.KeyFile, cfg.Password, w.PrivKey()); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Generated key. Agent: %s\n", w.Agent())
		fmt.Printf("Saved to: %s\n", cfg.KeyFile)
		return
	}

	// ---- generate certs mode ----
	if *genCerts != "" {
		p, err := certgen.IssueNode(*genCerts, cfg.NodeID, nil)
		if err != nil {
			log.Fatalf("gencerts: %v", err)
		}
		fmt.Printf("ca_cert:   %s\nnode_cert: %s\nnode_key:  %s\n", p.CACert, p.NodeCert, p.NodeKey)
		return
	}

	// ---- open DB ----
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("mkdir data dir: %v", err)
	}
	db, err := storage.Open(cfg.DBBackend, cfg.DBPath())
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	// ---- events + ledger ----
	emitter := events.NewEmitter()
	ledger, err := storage.NewLedger(db, emitter)
	if err != nil {
		log.Fatalf("ledger: %v", err)
	}

	// ---- replay mode ----
	if *replay {
		n, err := journal.Replay(cfg.JournalDir(), ledger)
		if err != nil {
			log.Fatalf("replay: %v", err)
		}
		fmt.Printf("Replayed %d ops, ledger at seq %d\n", n, ledger.Seq())
		return
	}

	// ---- agent key ----
	w, created, err := wallet.LoadOrCreate(cfg.KeyFile, cfg.Password)
	if err != nil {
		log.Fatalf("load key: %v", err)
	}
	if created {
		log.Printf("Generated agent key at %s", cfg.KeyFile)
	}

	// ---- tracing ----
	shutdownTracing, err := telemetry.Setup(context.Background(), "commons-node", cfg.NodeID, cfg.OTelEndpoint)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	// ---- journal ----
	if cfg.Journal {
		j := journal.New(cfg.JournalDir())
		j.Attach(emitter)
		defer j.Close()
		log.Printf("Journaling ops to %s", cfg.JournalDir())
	}

	// ---- indexer ----
	idx := indexer.New(db, emitter)

	// ---- engine ----
	params, err := cfg.GameParams()
	if err != nil {
		log.Fatalf("game params: %v", err)
	}
	engine := game.New(ledger, emitter, game.WithDefaults(params))
	exec := api.NewExecutor(engine)
	poll := poller.New(engine, w.Agent(), emitter)

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
	node := network.NewNode(cfg.NodeID, p2pAddr, tlsCfg)
	replicator := network.NewReplicator(node, ledger, emitter)
	if err := node.Start(); err != nil {
		log.Fatalf("p2p start: %v", err)
	}
	defer node.Stop()
	log.Printf("P2P listening on %s", p2pAddr)

	// ---- connect to seed peers ----
	seeds, _ := cfg.Peers()
	for _, sp := range seeds {
		if _, err := node.AddPeer(sp.ID, sp.Addr); err != nil {
			log.Printf("seed peer %s (%s): %v", sp.ID, sp.Addr, err)
			continue
		}
		log.Printf("Connected to seed peer %s (%s)", sp.ID, sp.Addr)
	}

	// ---- RPC ----
	rpcAddr := fmt.Sprintf(":%d", cfg.RPCPort)
	hub := rpc.NewSignalHub(emitter)
	rpcServer := rpc.NewServer(rpcAddr, rpc.NewHandler(exec, idx, node), cfg.RPCAuthToken, hub)
	if err := rpcServer.Start(); err != nil {
		log.Fatalf("rpc start: %v", err)
	}
	defer rpcServer.Stop()
	log.Printf("RPC listening on %s", rpcAddr)
	if cfg.RPCAuthToken != "" {
		log.Println("RPC Bearer token authentication enabled")
	}

	// ---- background loops ----
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		poll.Run(cfg.PollInterval.Std(), done)
	}()
	go func() {
		defer wg.Done()
		replicator.Run(cfg.SyncInterval.Std(), done)
	}()
	log.Printf("Node %s running as agent %s", cfg.NodeID, w.Short())

	// ---- graceful shutdown ----
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("Shutting down...")

	// Stop background writers first, then deferred calls run in LIFO:
	// rpcServer.Stop, node.Stop, journal, tracing, db.Close.
	close(done)
	wg.Wait()
	log.Println("Shutdown complete.")
}
