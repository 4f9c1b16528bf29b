package app

import (
	"testing"

	"github.com/stretchr/testify/require"

	xconfig "github.com/xbridge-go/xbridged/internal/config"
)

// testWalletAddress is a Base58Check-encoded address (version byte 26, raw
// bytes 1..20) generated once offline; buildWallets must recover both the
// version byte and the raw payload from it.
const testWalletAddress = "BTt1goArr9xPyiJmuCVqZ3DpTVMKkBT1dL"

func TestBuildWalletsDecodesAddress(t *testing.T) {
	wallets := map[string]*xconfig.WalletConfig{
		"BLOCK": {
			RPCHost:  "127.0.0.1",
			RPCPort:  41414,
			Address:  testWalletAddress,
			Coin:     100000000,
			MinTxFee: 1000,
		},
	}

	out, err := buildWallets(wallets)
	require.NoError(t, err)
	require.Len(t, out, 1)

	w := out["BLOCK"]
	require.NotNil(t, w)
	require.Equal(t, "BLOCK", w.currency)
	require.NotNil(t, w.rpc)
	require.NotNil(t, w.builder)

	expected := make([]byte, 20)
	for i := range expected {
		expected[i] = byte(i + 1)
	}
	require.Equal(t, expected, w.primaryAddr.Bytes())
}

func TestBuildWalletsRejectsInvalidAddress(t *testing.T) {
	wallets := map[string]*xconfig.WalletConfig{
		"BLOCK": {Address: "not-a-valid-base58check-address"},
	}
	_, err := buildWallets(wallets)
	require.Error(t, err)
}

func TestClientWalletsAdaptsAttachedWallets(t *testing.T) {
	wallets := map[string]*xconfig.WalletConfig{
		"BLOCK": {Address: testWalletAddress, Coin: 100000000},
	}
	attached, err := buildWallets(wallets)
	require.NoError(t, err)

	adapted := clientWallets(attached)
	require.Len(t, adapted, 1)
	require.Equal(t, uint64(100000000), adapted["BLOCK"].Coin)
	require.Same(t, attached["BLOCK"].builder, adapted["BLOCK"].Builder)
}
