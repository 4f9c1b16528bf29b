package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, dir, cfg.Storage.DataDir)
	require.True(t, cfg.DHT.EnableMDNS)
	require.FileExists(t, filepath.Join(dir, ConfigFileName))
}

func TestLoadRoundTripsEditedConfig(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)
	cfg.Wallets["BLOCK"] = &WalletConfig{
		Title:    "Blocknet",
		RPCHost:  "127.0.0.1",
		RPCPort:  41414,
		Coin:     100000000,
		MinTxFee: 10000,
	}
	require.NoError(t, cfg.Save(Path(dir)))

	reloaded, err := Load(dir)
	require.NoError(t, err)
	require.Contains(t, reloaded.Wallets, "BLOCK")
	require.Equal(t, uint64(100000000), reloaded.Wallets["BLOCK"].Coin)
}

func TestParseFlagsOverridesLogLevel(t *testing.T) {
	f, err := ParseFlags([]string{"-loglevel", "debug"})
	require.NoError(t, err)

	cfg := DefaultConfig()
	f.Apply(cfg)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestParseFlagsLeavesDefaultsWhenUnset(t *testing.T) {
	f, err := ParseFlags([]string{})
	require.NoError(t, err)

	cfg := DefaultConfig()
	f.Apply(cfg)
	require.Equal(t, "info", cfg.Logging.Level)
}
