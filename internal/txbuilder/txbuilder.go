// Package txbuilder constructs and signs the time-locked pay/revert
// transaction pairs used by the client side of a swap (spec.md §4.5 "Client
// transaction construction"), via greedy UTXO selection, P2PKH script
// synthesis, and the attached wallet's JSON-RPC signer.
package txbuilder

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/xbridge-go/xbridged/internal/nodeid"
	"github.com/xbridge-go/xbridged/internal/walletrpc"
	"github.com/xbridge-go/xbridged/internal/xerr"
)

// dustThreshold mirrors the standard relay-policy floor below which a
// change output is dropped rather than created.
const dustThreshold = 546

// Builder constructs pay/revert transaction pairs for one attached wallet.
type Builder struct {
	rpc      *walletrpc.Client
	params   *chaincfg.Params
	minFee   uint64
	nowFn    func() int64
}

// Config configures a Builder.
type Config struct {
	RPC *walletrpc.Client

	// PubKeyHashAddrID is the wallet's base58check version byte for P2PKH
	// addresses (spec.md "Address": "the bytes inside a Base58Check-encoded
	// wallet address, minus the version prefix and checksum").
	PubKeyHashAddrID byte

	// MinTxFee is the flat per-transaction fee in atomic units (spec.md §9
	// open question: no dynamic fee-market estimation).
	MinTxFee uint64

	// NowFn returns the current Unix time; overridable in tests.
	NowFn func() int64
}

// New constructs a Builder from cfg.
func New(cfg Config) *Builder {
	return &Builder{
		rpc:    cfg.RPC,
		params: &chaincfg.Params{PubKeyHashAddrID: cfg.PubKeyHashAddrID},
		minFee: cfg.MinTxFee,
		nowFn:  cfg.NowFn,
	}
}

func (b *Builder) now() int64 {
	if b.nowFn != nil {
		return b.nowFn()
	}
	return time.Now().Unix()
}

// selectedUTXO is one UTXO chosen by greedy selection, carrying enough to
// build a wire.TxIn.
type selectedUTXO struct {
	hash   *chainhash.Hash
	vout   uint32
	amount uint64
}

// selectUTXOs greedily accumulates unspent outputs until target is covered,
// largest amounts first is NOT required by spec.md — a simple first-fit
// walk in listing order matches the reference implementation's behavior of
// consuming listunspent's own ordering.
func selectUTXOs(unspent []walletrpc.Unspent, coin uint64, target uint64) ([]selectedUTXO, uint64, error) {
	var selected []selectedUTXO
	var total uint64

	for _, u := range unspent {
		if !u.Spendable {
			continue
		}
		h, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			continue
		}
		amount := uint64(u.Amount * float64(coin))
		selected = append(selected, selectedUTXO{hash: h, vout: u.Vout, amount: amount})
		total += amount
		if total >= target {
			return selected, total, nil
		}
	}

	return nil, 0, fmt.Errorf("%w: need %d, found %d across %d utxos", xerr.InsufficientFunds, target, total, len(selected))
}

// scriptForAddress synthesises a P2PKH output script from a 20-byte
// overlay/wallet address and this wallet's version prefix.
func (b *Builder) scriptForAddress(addr nodeid.ID) ([]byte, error) {
	a, err := btcutil.NewAddressPubKeyHash(addr[:], b.params)
	if err != nil {
		return nil, fmt.Errorf("%w: building P2PKH address: %v", xerr.WireFormat, err)
	}
	script, err := txscript.PayToAddrScript(a)
	if err != nil {
		return nil, fmt.Errorf("%w: building P2PKH script: %v", xerr.WireFormat, err)
	}
	return script, nil
}

// BuildPayResult is the outcome of constructing and signing a pay
// transaction.
type BuildPayResult struct {
	RawTxHex string
	TxHash   string
}

// BuildPay constructs the first of the two escrow transactions (spec.md
// §4.5 step 2): inputs are greedily selected UTXOs; output #0 pays
// amount-fee to destAddr; an optional change output returns the remainder
// to a freshly derived address; nLockTime is now+lockTimeSeconds. The
// result is signed via the wallet but NOT broadcast.
func (b *Builder) BuildPay(ctx context.Context, coin uint64, amount uint64, destAddr nodeid.ID, lockTimeSeconds uint32) (*BuildPayResult, error) {
	unspent, err := b.rpc.ListUnspent(ctx, 1)
	if err != nil {
		return nil, err
	}

	if amount <= b.minFee {
		return nil, fmt.Errorf("%w: amount %d too small to cover fee", xerr.InsufficientFunds, amount)
	}
	target := amount + b.minFee
	selected, total, err := selectUTXOs(unspent, coin, target)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	for _, u := range selected {
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(u.hash, u.vout), nil, nil))
	}

	destScript, err := b.scriptForAddress(destAddr)
	if err != nil {
		return nil, err
	}
	tx.AddTxOut(wire.NewTxOut(int64(amount-b.minFee), destScript))

	change := total - target
	if change > dustThreshold {
		changeAddr, err := b.rpc.GetNewAddress(ctx)
		if err != nil {
			return nil, err
		}
		changeScript, err := addressStringToScript(changeAddr, b.params)
		if err != nil {
			return nil, err
		}
		tx.AddTxOut(wire.NewTxOut(int64(change), changeScript))
	}

	tx.LockTime = uint32(b.now()) + lockTimeSeconds

	rawHex, err := serializeTx(tx)
	if err != nil {
		return nil, err
	}

	signedHex, complete, err := b.rpc.SignRawTransaction(ctx, rawHex)
	if err != nil {
		return nil, err
	}
	if !complete {
		return nil, fmt.Errorf("%w: wallet could not fully sign pay transaction", xerr.RpcFailure)
	}

	return &BuildPayResult{RawTxHex: signedHex, TxHash: tx.TxHash().String()}, nil
}

// BuildRevert constructs the escape-hatch transaction (spec.md §4.5 step 3):
// a single input spending payTxHash output 0 (worth amount-fee), a single
// output of amount-2*fee to a freshly derived address, nLockTime =
// now+revertDelaySeconds. The
// revert transaction is returned UNSIGNED — signing is performed by the
// counterparty (spec.md: "signing of the revert is done by the
// COUNTERPARTY").
func (b *Builder) BuildRevert(ctx context.Context, payTxHash string, amount uint64, revertDelaySeconds uint32) (string, error) {
	h, err := chainhash.NewHashFromStr(payTxHash)
	if err != nil {
		return "", fmt.Errorf("%w: invalid pay tx hash: %v", xerr.WireFormat, err)
	}

	if amount <= 2*b.minFee {
		return "", fmt.Errorf("%w: amount %d too small to cover fee", xerr.InsufficientFunds, amount)
	}
	revertAmount := amount - 2*b.minFee

	changeAddr, err := b.rpc.GetNewAddress(ctx)
	if err != nil {
		return "", err
	}
	changeScript, err := addressStringToScript(changeAddr, b.params)
	if err != nil {
		return "", err
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(h, 0), nil, nil))
	tx.AddTxOut(wire.NewTxOut(int64(revertAmount), changeScript))
	tx.LockTime = uint32(b.now()) + revertDelaySeconds

	return serializeTx(tx)
}

// SignRevert signs an unsigned revert transaction hex received from a
// counterparty (the client that built it is not the one that signs it).
func (b *Builder) SignRevert(ctx context.Context, unsignedHex string) (signedHex string, err error) {
	signed, complete, err := b.rpc.SignRawTransaction(ctx, unsignedHex)
	if err != nil {
		return "", err
	}
	if !complete {
		return "", fmt.Errorf("%w: wallet could not fully sign revert transaction", xerr.RpcFailure)
	}
	return signed, nil
}

// Commit broadcasts a signed pay transaction and returns its txid.
func (b *Builder) Commit(ctx context.Context, signedTxHex string) (string, error) {
	return b.rpc.SendRawTransaction(ctx, signedTxHex)
}

// Rollback broadcasts a signed revert transaction and returns its txid —
// the same wire operation as Commit, named separately for call-site clarity
// (spec.md §4.4 "each client responds by broadcasting its revert
// transaction").
func (b *Builder) Rollback(ctx context.Context, signedRevertTxHex string) (string, error) {
	return b.rpc.SendRawTransaction(ctx, signedRevertTxHex)
}

func serializeTx(tx *wire.MsgTx) (string, error) {
	var buf []byte
	w := byteWriter{&buf}
	if err := tx.Serialize(w); err != nil {
		return "", fmt.Errorf("%w: serializing transaction: %v", xerr.WireFormat, err)
	}
	return hex.EncodeToString(buf), nil
}

// byteWriter adapts a *[]byte to io.Writer for wire.MsgTx.Serialize.
type byteWriter struct {
	buf *[]byte
}

func (w byteWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}

func addressStringToScript(address string, params *chaincfg.Params) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding address %s: %v", xerr.WireFormat, address, err)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: building script for %s: %v", xerr.WireFormat, address, err)
	}
	return script, nil
}
