// Package config loads node configuration. A JSON file provides the base,
// COMMONS_* environment variables override it, and an optional YAML file
// sets the parameters of sessions started from a game code.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Duration is a time.Duration that reads and writes as "2s" in JSON and in
// the environment.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// TLSConfig holds PEM paths for P2P mutual TLS. All empty means plain TCP.
type TLSConfig struct {
	CACert   string `json:"ca_cert" env:"COMMONS_TLS_CA_CERT"`
	NodeCert string `json:"node_cert" env:"COMMONS_TLS_NODE_CERT"`
	NodeKey  string `json:"node_key" env:"COMMONS_TLS_NODE_KEY"`
}

// Config holds all node configuration.
type Config struct {
	NodeID       string    `json:"node_id" env:"COMMONS_NODE_ID"`
	DataDir      string    `json:"data_dir" env:"COMMONS_DATA_DIR"`
	DBBackend    string    `json:"db_backend" env:"COMMONS_DB_BACKEND"` // leveldb | sqlite
	KeyFile      string    `json:"key_file" env:"COMMONS_KEY_FILE"`
	RPCPort      int       `json:"rpc_port" env:"COMMONS_RPC_PORT"`
	RPCAuthToken string    `json:"rpc_auth_token" env:"COMMONS_RPC_AUTH_TOKEN"`
	P2PPort      int       `json:"p2p_port" env:"COMMONS_P2P_PORT"`
	SeedPeers    []string  `json:"seed_peers" env:"COMMONS_SEED_PEERS"` // id@host:port
	TLS          TLSConfig `json:"tls"`

	PollInterval Duration `json:"poll_interval" env:"COMMONS_POLL_INTERVAL"`
	SyncInterval Duration `json:"sync_interval" env:"COMMONS_SYNC_INTERVAL"`

	Journal        bool   `json:"journal" env:"COMMONS_JOURNAL"`
	OTelEndpoint   string `json:"otel_endpoint" env:"COMMONS_OTEL_ENDPOINT"`
	GameParamsFile string `json:"game_params_file" env:"COMMONS_GAME_PARAMS_FILE"`

	// Keystore password; environment only so it never lands in a file.
	Password string `json:"-" env:"COMMONS_PASSWORD"`
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:       "node0",
		DataDir:      "./data",
		DBBackend:    "leveldb",
		KeyFile:      "agent.key",
		RPCPort:      8545,
		P2PPort:      30303,
		PollInterval: Duration(2 * time.Second),
		SyncInterval: Duration(10 * time.Second),
		Journal:      true,
	}
}

// Load reads a JSON config file from path over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Resolve loads path (falling back to defaults when it does not exist),
// applies environment overrides and validates the result.
func Resolve(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg = DefaultConfig()
	}
	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values a node cannot start without.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("config: node_id is required")
	}
	switch c.DBBackend {
	case "", "leveldb", "sqlite":
	default:
		return fmt.Errorf("config: unknown db_backend %q", c.DBBackend)
	}
	if c.PollInterval <= 0 || c.SyncInterval <= 0 {
		return fmt.Errorf("config: poll_interval and sync_interval must be positive")
	}
	if _, err := c.Peers(); err != nil {
		return err
	}
	return nil
}

// SeedPeer is a parsed seed_peers entry.
type SeedPeer struct {
	ID   string
	Addr string
}

// Peers parses SeedPeers.
func (c *Config) Peers() ([]SeedPeer, error) {
	out := make([]SeedPeer, 0, len(c.SeedPeers))
	for _, s := range c.SeedPeers {
		id, addr, ok := strings.Cut(strings.TrimSpace(s), "@")
		if !ok || id == "" || addr == "" {
			return nil, fmt.Errorf("config: seed peer %q is not id@host:port", s)
		}
		out = append(out, SeedPeer{ID: id, Addr: addr})
	}
	return out, nil
}

// DBPath is where the ledger database lives.
func (c *Config) DBPath() string {
	if c.DBBackend == "sqlite" {
		return filepath.Join(c.DataDir, "ledger.sqlite")
	}
	return filepath.Join(c.DataDir, "ledger")
}

// JournalDir is where op journal files are written.
func (c *Config) JournalDir() string { return filepath.Join(c.DataDir, "journal") }
