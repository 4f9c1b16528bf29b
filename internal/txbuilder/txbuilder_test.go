package txbuilder

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	"github.com/xbridge-go/xbridged/internal/nodeid"
	"github.com/xbridge-go/xbridged/internal/walletrpc"
)

func newWalletServer(t *testing.T, handlers map[string]func(params json.RawMessage) interface{}) *walletrpc.Client {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64          `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		h, ok := handlers[req.Method]
		require.True(t, ok, "unexpected method %s", req.Method)

		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": h(req.Params)}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return walletrpc.New(walletrpc.Config{Host: u.Hostname(), Port: port})
}

func TestBuildPaySelectsUTXOsAndSigns(t *testing.T) {
	rpc := newWalletServer(t, map[string]func(json.RawMessage) interface{}{
		"listunspent": func(json.RawMessage) interface{} {
			return []walletrpc.Unspent{
				{TxID: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", Vout: 0, Amount: 2.0, Spendable: true, Confirmations: 6},
			}
		},
		"getnewaddress": func(json.RawMessage) interface{} {
			return "1BoatSLRHtKNngkdXEeobR76b53LETtpyT"
		},
		"signrawtransaction": func(json.RawMessage) interface{} {
			return map[string]interface{}{"hex": "signedhex", "complete": true}
		},
	})

	b := New(Config{RPC: rpc, PubKeyHashAddrID: 0x00, MinTxFee: 1000})

	dest, err := nodeid.Generate()
	require.NoError(t, err)

	result, err := b.BuildPay(context.Background(), 100000000, 50000000, dest, 600)
	require.NoError(t, err)
	require.Equal(t, "signedhex", result.RawTxHex)
}

func TestBuildPayInsufficientFunds(t *testing.T) {
	rpc := newWalletServer(t, map[string]func(json.RawMessage) interface{}{
		"listunspent": func(json.RawMessage) interface{} {
			return []walletrpc.Unspent{
				{TxID: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", Vout: 0, Amount: 0.001, Spendable: true, Confirmations: 6},
			}
		},
	})

	b := New(Config{RPC: rpc, PubKeyHashAddrID: 0x00, MinTxFee: 1000})
	dest, err := nodeid.Generate()
	require.NoError(t, err)

	_, err = b.BuildPay(context.Background(), 100000000, 50000000, dest, 600)
	require.Error(t, err)
}

func TestBuildRevertUnsigned(t *testing.T) {
	rpc := newWalletServer(t, map[string]func(json.RawMessage) interface{}{
		"getnewaddress": func(json.RawMessage) interface{} {
			return "1BoatSLRHtKNngkdXEeobR76b53LETtpyT"
		},
	})

	b := New(Config{RPC: rpc, PubKeyHashAddrID: 0x00, MinTxFee: 1000})

	payHash := "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	rawHex, err := b.BuildRevert(context.Background(), payHash, 50000000, 3600)
	require.NoError(t, err)
	require.NotEmpty(t, rawHex)
}

func TestBuildRevertSetsLockTime(t *testing.T) {
	rpc := newWalletServer(t, map[string]func(json.RawMessage) interface{}{
		"getnewaddress": func(json.RawMessage) interface{} {
			return "1BoatSLRHtKNngkdXEeobR76b53LETtpyT"
		},
	})

	b := New(Config{RPC: rpc, PubKeyHashAddrID: 0x00, MinTxFee: 1000, NowFn: func() int64 { return 1000 }})

	payHash := "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	rawHex, err := b.BuildRevert(context.Background(), payHash, 50000000, 3600)
	require.NoError(t, err)

	raw, err := hex.DecodeString(rawHex)
	require.NoError(t, err)
	var tx wire.MsgTx
	require.NoError(t, tx.Deserialize(bytes.NewReader(raw)))
	require.Equal(t, uint32(1000+3600), tx.LockTime)
	require.Equal(t, int64(50000000-2*1000), tx.TxOut[0].Value)
}

func TestBuildRevertAmountTooSmall(t *testing.T) {
	rpc := newWalletServer(t, map[string]func(json.RawMessage) interface{}{})
	b := New(Config{RPC: rpc, PubKeyHashAddrID: 0x00, MinTxFee: 1000})

	_, err := b.BuildRevert(context.Background(), "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", 1500, 3600)
	require.Error(t, err)
}

func TestCommitBroadcasts(t *testing.T) {
	rpc := newWalletServer(t, map[string]func(json.RawMessage) interface{}{
		"sendrawtransaction": func(json.RawMessage) interface{} {
			return "committedtxid"
		},
	})
	b := New(Config{RPC: rpc, PubKeyHashAddrID: 0x00, MinTxFee: 1000})

	txid, err := b.Commit(context.Background(), "signedhex")
	require.NoError(t, err)
	require.Equal(t, "committedtxid", txid)
}
