// Package config loads and persists the daemon's YAML configuration file,
// following the defaults-on-first-run pattern of the node package it is
// adapted from.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the default config file name.
const ConfigFileName = "xbridged.yaml"

// Config holds all configuration for the daemon.
type Config struct {
	// DHT holds overlay transport settings.
	DHT DHTConfig `yaml:"dht"`

	// Bridge holds the optional TCP session acceptor settings.
	Bridge BridgeConfig `yaml:"bridge"`

	// UI holds the optional notification websocket listener settings.
	UI UIConfig `yaml:"ui"`

	// Storage holds data-directory settings.
	Storage StorageConfig `yaml:"storage"`

	// Logging holds logger settings.
	Logging LoggingConfig `yaml:"logging"`

	// Timers holds the periodic-sweep intervals.
	Timers TimerConfig `yaml:"timers"`

	// Wallets maps a currency code (e.g. "BLOCK") to its attached wallet's
	// JSON-RPC connection details.
	Wallets map[string]*WalletConfig `yaml:"wallets,omitempty"`
}

// DHTConfig holds overlay transport settings.
type DHTConfig struct {
	// ListenAddrs are the multiaddrs to listen on.
	ListenAddrs []string `yaml:"listen_addrs"`

	// BootstrapPeers are the initial peers to connect to.
	BootstrapPeers []string `yaml:"bootstrap_peers"`

	// EnableMDNS enables local peer discovery via mDNS.
	EnableMDNS bool `yaml:"enable_mdns"`

	// Namespace scopes rendezvous/discovery so unrelated swarms do not mix.
	Namespace string `yaml:"namespace"`

	// ConnMgr holds connection manager settings.
	ConnMgr ConnMgrConfig `yaml:"conn_mgr"`

	// KnownMessageCacheSize bounds the inbound broadcast dedup set (spec §9
	// open question: a capped LRU, not an unbounded set).
	KnownMessageCacheSize int `yaml:"known_message_cache_size"`
}

// ConnMgrConfig holds connection manager settings.
type ConnMgrConfig struct {
	LowWater    int           `yaml:"low_water"`
	HighWater   int           `yaml:"high_water"`
	GracePeriod time.Duration `yaml:"grace_period"`
}

// BridgeConfig holds the optional client TCP acceptor settings.
type BridgeConfig struct {
	// ListenAddr is empty to disable the TCP acceptor entirely.
	ListenAddr string `yaml:"listen_addr"`
}

// UIConfig holds the optional websocket notification listener settings
// (spec §7's UI notification publish interface, given a concrete transport).
type UIConfig struct {
	// ListenAddr is empty to disable the notification websocket entirely.
	ListenAddr string `yaml:"listen_addr"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	// DataDir is the directory for all data files (sqlite db, node key).
	DataDir string `yaml:"data_dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// TimerConfig holds the intervals driving the periodic sweep (spec §5).
type TimerConfig struct {
	// SweepInterval drives checkFinishedTransactions / sendListOfTransactions
	// / sendListOfWallets / eraseExpiredPendingTransactions / getAddressBook.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// TransactionTTL bounds how long a hub-side Transaction may remain
	// active before the sweep cancels it.
	TransactionTTL time.Duration `yaml:"transaction_ttl"`

	// PendingTTL bounds how long an unmatched pending order survives.
	PendingTTL time.Duration `yaml:"pending_ttl"`
}

// WalletConfig holds one attached wallet's RPC connection details (spec §6
// CLI/config collaborator notes).
type WalletConfig struct {
	// Title is a human-readable label shown in the UI / address book.
	Title string `yaml:"title"`

	// RPC connection.
	RPCHost string `yaml:"rpc_host"`
	RPCPort int    `yaml:"rpc_port"`
	RPCUser string `yaml:"rpc_user"`
	RPCPass string `yaml:"rpc_pass"`
	RPCTLS  bool   `yaml:"rpc_tls"`

	// Address is the base58check-encoded primary wallet address.
	Address string `yaml:"address"`

	// Coin is the integer scale factor between the wallet's atomic unit and
	// its display unit (e.g. 100000000 for 8-decimal coins).
	Coin uint64 `yaml:"coin"`

	// MinTxFee is the single flat per-transaction fee, in atomic units
	// (spec §9 open question: no dynamic fee-market estimation).
	MinTxFee uint64 `yaml:"min_tx_fee"`

	// LockTimeSeconds is parsed but not read by the daemon: the hub sends
	// pay-tx locktime offsets derived from TransactionTTL (TTL*2 for the
	// first party, TTL*4 for the second) in xbcTransactionCreate.
	LockTimeSeconds uint32 `yaml:"lock_time_seconds"`

	// RevertDelaySeconds is parsed but not read by the daemon: the hub sends
	// fixed revert delays (24h for the first party, 48h for the second), and
	// the revert's nLockTime is now plus that delay.
	RevertDelaySeconds uint32 `yaml:"revert_delay_seconds"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DHT: DHTConfig{
			ListenAddrs: []string{
				"/ip4/0.0.0.0/tcp/4200",
				"/ip6/::/tcp/4200",
			},
			BootstrapPeers: []string{},
			EnableMDNS:     true,
			Namespace:      "xbridge-mainnet",
			ConnMgr: ConnMgrConfig{
				LowWater:    50,
				HighWater:   200,
				GracePeriod: time.Minute,
			},
			KnownMessageCacheSize: 4096,
		},
		Bridge: BridgeConfig{
			ListenAddr: "",
		},
		UI: UIConfig{
			ListenAddr: "127.0.0.1:4201",
		},
		Storage: StorageConfig{
			DataDir: "~/.xbridged",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
		Timers: TimerConfig{
			SweepInterval:  5 * time.Second,
			TransactionTTL: 150 * time.Second,
			PendingTTL:     150 * time.Second,
		},
		Wallets: map[string]*WalletConfig{},
	}
}

// Load loads configuration from dataDir/xbridged.yaml. If the file does not
// exist, it writes one populated with defaults and returns it.
func Load(dataDir string) (*Config, error) {
	expanded := expandPath(dataDir)
	path := filepath.Join(expanded, ConfigFileName)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir
		if err := cfg.Save(path); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to path, creating its directory if needed.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# xbridged configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Path returns the full path to the config file for the given data directory.
func Path(dataDir string) string {
	return filepath.Join(expandPath(dataDir), ConfigFileName)
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
