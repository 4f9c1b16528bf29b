package walletrpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler func(method string, params json.RawMessage) (interface{}, *rpcError)) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64          `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		result, rpcErr := handler(req.Method, req.Params)

		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = map[string]interface{}{"code": rpcErr.Code, "message": rpcErr.Message}
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)
	return srv
}

type rpcError struct {
	Code    int
	Message string
}

func clientFor(t *testing.T, srv *httptest.Server) *Client {
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return New(Config{Host: u.Hostname(), Port: port})
}

func TestListAccounts(t *testing.T) {
	srv := newTestServer(t, func(method string, params json.RawMessage) (interface{}, *rpcError) {
		require.Equal(t, "listaccounts", method)
		return map[string]float64{"": 0, "trading": 1.5}, nil
	})
	c := clientFor(t, srv)

	accounts, err := c.ListAccounts(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"", "trading"}, accounts)
}

func TestListUnspent(t *testing.T) {
	srv := newTestServer(t, func(method string, params json.RawMessage) (interface{}, *rpcError) {
		require.Equal(t, "listunspent", method)
		return []Unspent{{TxID: "abc", Vout: 0, Amount: 1.5, Confirmations: 6, Spendable: true}}, nil
	})
	c := clientFor(t, srv)

	unspent, err := c.ListUnspent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, unspent, 1)
	require.Equal(t, "abc", unspent[0].TxID)
}

func TestSignRawTransaction(t *testing.T) {
	srv := newTestServer(t, func(method string, params json.RawMessage) (interface{}, *rpcError) {
		return map[string]interface{}{"hex": "deadbeef", "complete": true}, nil
	})
	c := clientFor(t, srv)

	hex, complete, err := c.SignRawTransaction(context.Background(), "rawhex")
	require.NoError(t, err)
	require.True(t, complete)
	require.Equal(t, "deadbeef", hex)
}

func TestRpcErrorSurfacesAsRpcFailure(t *testing.T) {
	srv := newTestServer(t, func(method string, params json.RawMessage) (interface{}, *rpcError) {
		return nil, &rpcError{Code: -5, Message: "invalid address"}
	})
	c := clientFor(t, srv)

	_, err := c.GetNewAddress(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid address")
}

func TestSendRawTransaction(t *testing.T) {
	srv := newTestServer(t, func(method string, params json.RawMessage) (interface{}, *rpcError) {
		require.Equal(t, "sendrawtransaction", method)
		return "txid123", nil
	})
	c := clientFor(t, srv)

	txid, err := c.SendRawTransaction(context.Background(), "rawhex")
	require.NoError(t, err)
	require.Equal(t, "txid123", txid)
}

func TestGetTransaction(t *testing.T) {
	srv := newTestServer(t, func(method string, params json.RawMessage) (interface{}, *rpcError) {
		return TransactionInfo{TxID: "abc", Confirmations: 3}, nil
	})
	c := clientFor(t, srv)

	info, err := c.GetTransaction(context.Background(), "abc")
	require.NoError(t, err)
	require.EqualValues(t, 3, info.Confirmations)
}
