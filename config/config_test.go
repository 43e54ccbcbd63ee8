package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tolelom/commons/core"
	"github.com/tolelom/commons/crypto/certgen"
)

func TestResolveDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Resolve(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	def := DefaultConfig()
	if cfg.NodeID != def.NodeID || cfg.RPCPort != def.RPCPort || cfg.PollInterval != def.PollInterval {
		t.Errorf("got %+v, want defaults", cfg)
	}
}

func TestFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	file := `{"node_id":"n1","rpc_port":9000,"poll_interval":"500ms","seed_peers":["n2@127.0.0.1:30304"]}`
	if err := os.WriteFile(path, []byte(file), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("COMMONS_RPC_PORT", "9100")
	t.Setenv("COMMONS_DB_BACKEND", "sqlite")
	t.Setenv("COMMONS_JOURNAL", "false")
	t.Setenv("COMMONS_PASSWORD", "pw")

	cfg, err := Resolve(path)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.NodeID != "n1" {
		t.Errorf("node id from file: %q", cfg.NodeID)
	}
	if cfg.RPCPort != 9100 {
		t.Errorf("env should override rpc port: %d", cfg.RPCPort)
	}
	if cfg.PollInterval.Std() != 500*time.Millisecond {
		t.Errorf("poll interval: %v", cfg.PollInterval.Std())
	}
	if cfg.SyncInterval != DefaultConfig().SyncInterval {
		t.Errorf("sync interval should keep its default: %v", cfg.SyncInterval.Std())
	}
	if cfg.DBBackend != "sqlite" || cfg.Journal || cfg.Password != "pw" {
		t.Errorf("env overrides: %+v", cfg)
	}
	if cfg.DBPath() != filepath.Join(cfg.DataDir, "ledger.sqlite") {
		t.Errorf("db path: %s", cfg.DBPath())
	}
	peers, _ := cfg.Peers()
	if len(peers) != 1 || peers[0].ID != "n2" || peers[0].Addr != "127.0.0.1:30304" {
		t.Errorf("peers: %+v", peers)
	}
}

func TestEnvParseError(t *testing.T) {
	t.Setenv("COMMONS_RPC_PORT", "not-an-int")
	_, err := Resolve(filepath.Join(t.TempDir(), "missing.json"))
	if err == nil || !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Config)
	}{
		{"no node id", func(c *Config) { c.NodeID = "" }},
		{"bad backend", func(c *Config) { c.DBBackend = "bolt" }},
		{"zero poll", func(c *Config) { c.PollInterval = 0 }},
		{"bad seed", func(c *Config) { c.SeedPeers = []string{"127.0.0.1:1"} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mut(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSaveLoadKeepsPasswordOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := DefaultConfig()
	cfg.Password = "secret"
	if err := Save(cfg, path); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "secret") {
		t.Error("password written to config file")
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.PollInterval != cfg.PollInterval || got.DBBackend != cfg.DBBackend {
		t.Errorf("round trip: %+v", got)
	}
}

func TestGameParams(t *testing.T) {
	cfg := DefaultConfig()
	p, err := cfg.GameParams()
	if err != nil || p != core.DefaultGameParams() {
		t.Fatalf("defaults: %+v %v", p, err)
	}

	path := filepath.Join(t.TempDir(), "game.yaml")
	if err := os.WriteFile(path, []byte("start_amount: 40\nnum_rounds: 5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.GameParamsFile = path
	p, err = cfg.GameParams()
	if err != nil {
		t.Fatal(err)
	}
	want := core.GameParams{RegenerationFactor: 1.1, StartAmount: 40, NumRounds: 5}
	if p != want {
		t.Errorf("got %+v want %+v", p, want)
	}

	if err := os.WriteFile(path, []byte("num_rounds: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadGameParams(path); err == nil {
		t.Error("num_rounds 0 accepted")
	}
}

func TestLoadTLSConfig(t *testing.T) {
	if c, err := LoadTLSConfig(TLSConfig{}); c != nil || err != nil {
		t.Fatalf("disabled: %v %v", c, err)
	}
	if _, err := LoadTLSConfig(TLSConfig{CACert: "ca.crt"}); err == nil {
		t.Error("partial config accepted")
	}

	p, err := certgen.IssueNode(t.TempDir(), "n1", nil)
	if err != nil {
		t.Fatal(err)
	}
	c, err := LoadTLSConfig(TLSConfig{CACert: p.CACert, NodeCert: p.NodeCert, NodeKey: p.NodeKey})
	if err != nil {
		t.Fatalf("LoadTLSConfig: %v", err)
	}
	if len(c.Certificates) != 1 || c.RootCAs == nil {
		t.Errorf("tls config incomplete")
	}
}
