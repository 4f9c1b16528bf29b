package app

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"

	clientpkg "github.com/xbridge-go/xbridged/internal/client"
	xconfig "github.com/xbridge-go/xbridged/internal/config"
	"github.com/xbridge-go/xbridged/internal/nodeid"
	"github.com/xbridge-go/xbridged/internal/protocol"
	"github.com/xbridge-go/xbridged/internal/storage"
	"github.com/xbridge-go/xbridged/internal/txbuilder"
	"github.com/xbridge-go/xbridged/internal/walletrpc"
)

// attachedWallet pairs one currency's wallet-RPC client and transaction
// builder with the configuration it was built from (spec.md §4.6 "Address
// Book & Wallet Attachment").
type attachedWallet struct {
	currency string
	cfg      *xconfig.WalletConfig
	rpc      *walletrpc.Client
	builder  *txbuilder.Builder

	// primaryAddr is cfg.Address decoded to its raw 20-byte overlay
	// identifier (spec.md "Address": "the bytes inside a Base58Check-
	// encoded wallet address, minus the version prefix and checksum").
	primaryAddr nodeid.ID
}

// buildWallets constructs one attachedWallet per configured currency.
func buildWallets(wallets map[string]*xconfig.WalletConfig) (map[string]*attachedWallet, error) {
	out := make(map[string]*attachedWallet, len(wallets))
	for currency, wc := range wallets {
		payload, version, err := base58.CheckDecode(wc.Address)
		if err != nil {
			return nil, fmt.Errorf("decode wallet address for %s: %w", currency, err)
		}
		addr, err := nodeid.FromBytes(payload)
		if err != nil {
			return nil, fmt.Errorf("wallet address for %s is not 20 bytes: %w", currency, err)
		}

		rpc := walletrpc.New(walletrpc.Config{
			Host: wc.RPCHost,
			Port: wc.RPCPort,
			User: wc.RPCUser,
			Pass: wc.RPCPass,
			TLS:  wc.RPCTLS,
		})
		builder := txbuilder.New(txbuilder.Config{
			RPC:              rpc,
			PubKeyHashAddrID: version,
			MinTxFee:         wc.MinTxFee,
		})

		out[currency] = &attachedWallet{
			currency:    currency,
			cfg:         wc,
			rpc:         rpc,
			builder:     builder,
			primaryAddr: addr,
		}
	}
	return out, nil
}

// clientWallets adapts the attached wallet set to client.Wallet, the shape
// internal/client.Config expects.
func clientWallets(wallets map[string]*attachedWallet) map[string]*clientpkg.Wallet {
	out := make(map[string]*clientpkg.Wallet, len(wallets))
	for currency, w := range wallets {
		out[currency] = &clientpkg.Wallet{Builder: w.builder, Coin: w.cfg.Coin}
	}
	return out
}

// pollAddressBook implements spec.md §4.6: for every attached wallet, list
// its accounts and each account's addresses, register every address as
// locally deliverable, persist it to the address book, and broadcast it so
// peers can display counterparty names.
func (a *App) pollAddressBook(ctx context.Context) {
	for currency, w := range a.wallets {
		accounts, err := w.rpc.ListAccounts(ctx)
		if err != nil {
			a.log.Warn("listaccounts failed", "currency", currency, "error", err)
			continue
		}
		for _, account := range accounts {
			addrs, err := w.rpc.GetAddressesByAccount(ctx, account)
			if err != nil {
				a.log.Warn("getaddressesbyaccount failed", "currency", currency, "account", account, "error", err)
				continue
			}
			for _, raw := range addrs {
				payload, _, err := base58.CheckDecode(raw)
				if err != nil {
					a.log.Warn("decode wallet address failed", "currency", currency, "address", raw, "error", err)
					continue
				}
				id, err := nodeid.FromBytes(payload)
				if err != nil {
					continue
				}

				a.dispatcher.AddLocalAddress(id)
				if err := a.transport.AdvertiseAddress(id); err != nil {
					a.log.Warn("advertise address failed", "address", id, "error", err)
				}

				entry := &storage.AddressBookEntry{
					Address:  id.String(),
					Currency: currency,
					Name:     account,
					IsLocal:  true,
				}
				if err := a.store.UpsertAddressBookEntry(entry); err != nil {
					a.log.Warn("upsert address book entry failed", "error", err)
					continue
				}

				msg := &protocol.AddressBookEntryMsg{
					Currency:      currency,
					Name:          account,
					AddressBase64: base64.StdEncoding.EncodeToString(payload),
				}
				if err := a.sender.Broadcast(makeAddressBookPacket(msg)); err != nil {
					a.log.Warn("broadcast address book entry failed", "error", err)
				}
			}
		}
	}
}
