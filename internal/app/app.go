package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/libp2p/go-libp2p/core/peer"

	clientpkg "github.com/xbridge-go/xbridged/internal/client"
	"github.com/xbridge-go/xbridged/internal/command"
	xconfig "github.com/xbridge-go/xbridged/internal/config"
	"github.com/xbridge-go/xbridged/internal/dht"
	"github.com/xbridge-go/xbridged/internal/hub"
	"github.com/xbridge-go/xbridged/internal/nodeid"
	"github.com/xbridge-go/xbridged/internal/notify"
	"github.com/xbridge-go/xbridged/internal/packet"
	"github.com/xbridge-go/xbridged/internal/session"
	"github.com/xbridge-go/xbridged/internal/storage"
	"github.com/xbridge-go/xbridged/internal/workerpool"
	"github.com/xbridge-go/xbridged/pkg/logging"
)

// App is the Application Core singleton (spec.md §2 component 7, §9
// "Global singletons"): it exclusively owns the two transaction tables (via
// Storage), the outbound message queue's dedup gate, the address book, and
// coordinates the DHT thread, the session dispatcher, and the worker pool.
// One App is constructed in cmd/xbridged/main.go and dropped last.
type App struct {
	cfg *xconfig.Config
	log *logging.Logger

	store      *storage.Storage
	transport  *dht.Transport
	dispatcher *session.Dispatcher
	sender     *sender
	dedup      *dedup
	pool       *workerpool.Pool
	notifyHub  *notify.Hub
	bridge     *session.Bridge

	hub    *hub.Exchange
	client *clientpkg.Client

	wallets map[string]*attachedWallet

	stopNotify chan struct{}
}

// New constructs an App: it opens storage, brings up the DHT transport
// (generating or loading the persistent identity key under
// cfg.Storage.DataDir), attaches every configured wallet, and wires the hub
// and client coordinators into one exhaustive session.Dispatcher. It does
// not yet start the DHT command loop, the timer thread, or the optional
// bridge listener — call Start for that (spec.md §9's documented
// init/teardown order: Application Core first, Exchange next, worker pool
// last).
func New(ctx context.Context, cfg *xconfig.Config) (*App, error) {
	a := &App{
		cfg:        cfg,
		log:        logging.GetDefault().Component("app"),
		stopNotify: make(chan struct{}),
	}

	store, err := storage.New(&storage.Config{DataDir: cfg.Storage.DataDir})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.store = store

	dedupSet, err := newDedup(cfg.DHT.KnownMessageCacheSize, store)
	if err != nil {
		store.Close()
		return nil, err
	}
	a.dedup = dedupSet

	keyPath := filepath.Join(expandPath(cfg.Storage.DataDir), "node.key")
	transport, err := dht.New(ctx, dht.Config{
		DHT:     cfg.DHT,
		KeyPath: keyPath,
		Handler: a.handleInbound,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("construct dht transport: %w", err)
	}
	a.transport = transport
	a.sender = &sender{transport: transport, dedup: dedupSet}

	wallets, err := buildWallets(cfg.Wallets)
	if err != nil {
		return nil, fmt.Errorf("attach wallets: %w", err)
	}
	a.wallets = wallets

	enabledCurrencies := make(map[string]bool, len(wallets))
	for currency := range wallets {
		enabledCurrencies[currency] = true
	}

	a.notifyHub = notify.NewHub()

	localID := transport.LocalID()

	a.dispatcher = session.New(localID, a.sender)
	for _, w := range wallets {
		a.dispatcher.AddLocalAddress(w.primaryAddr)
	}

	a.hub = hub.New(hub.Config{
		LocalID:           localID,
		Storage:           store,
		Sender:            a.sender,
		Notify:            a.notifyHub,
		EnabledCurrencies: enabledCurrencies,
		TransactionTTL:    cfg.Timers.TransactionTTL,
		PendingTTL:        cfg.Timers.PendingTTL,
	})

	a.client = clientpkg.New(clientpkg.Config{
		LocalID: localID,
		Storage: store,
		Sender:  a.sender,
		Notify:  a.notifyHub,
		Wallets: clientWallets(wallets),
	})

	a.registerHandlers()

	if cfg.Bridge.ListenAddr != "" {
		bridge, err := session.Listen(cfg.Bridge.ListenAddr, a.dispatcher)
		if err != nil {
			return nil, fmt.Errorf("listen bridge: %w", err)
		}
		a.bridge = bridge
	}

	a.pool = workerpool.New(2, 256)

	return a, nil
}

// handleInbound is the DHT transport's PacketHandler: broadcast packets
// whose body-hash is already known are dropped before dispatch (spec.md
// §4.2 "Message deduplication" — "On inbound broadcast, if H is already
// present the packet is dropped before dispatch"); everything else is
// handed to the session dispatcher, which applies the relay rule and then
// the registered handler.
func (a *App) handleInbound(_ peer.ID, pkt *packet.Packet) {
	if command.IsBroadcast(pkt.Command) {
		if a.dedup.seen(pkt.Body) {
			return
		}
		a.dedup.record(pkt.Body)
	}
	a.pool.Submit(func() {
		a.dispatcher.Dispatch(pkt)
	})
}

// Start brings the App fully online: the DHT command loop and periodic
// tick, the optional TCP bridge acceptor, the notification hub's fan-out
// loop, and the timer thread (spec.md §5).
func (a *App) Start(ctx context.Context) error {
	if err := a.transport.Start(); err != nil {
		return fmt.Errorf("start dht transport: %w", err)
	}

	go a.notifyHub.Run(a.stopNotify)

	if a.bridge != nil {
		go func() {
			if err := a.bridge.Serve(); err != nil {
				a.log.Debug("bridge accept loop stopped", "error", err)
			}
		}()
	}

	go a.runTimer(ctx)

	a.log.Info("application core started", "node_id", a.transport.LocalID(), "wallets", len(a.wallets))
	return nil
}

// Stop tears everything down in the reverse of the init order: worker pool
// first, then the bridge and DHT transport, then storage last.
func (a *App) Stop() error {
	a.pool.Close()
	close(a.stopNotify)

	if a.bridge != nil {
		if err := a.bridge.Close(); err != nil {
			a.log.Warn("close bridge failed", "error", err)
		}
	}

	if err := a.transport.Stop(); err != nil {
		a.log.Warn("stop dht transport failed", "error", err)
	}

	return a.store.Close()
}

// LocalID returns this node's overlay NodeId.
func (a *App) LocalID() nodeid.ID {
	return a.transport.LocalID()
}

// NotifyHub returns the UI notification fan-out hub, for cmd/xbridged to
// mount as an HTTP handler.
func (a *App) NotifyHub() *notify.Hub {
	return a.notifyHub
}

// Transport returns the DHT overlay transport, for cmd/xbridged to print
// listen addresses in its startup banner.
func (a *App) Transport() *dht.Transport {
	return a.transport
}

// ObserveTransaction feeds an externally observed on-chain transaction hash
// into the hub's Commited -> Confirmed path (spec.md §4.4 step 6), for a
// wallet-scanner collaborator that watches gettransaction confirmations
// outside the overlay.
func (a *App) ObserveTransaction(txHash nodeid.Hash256) error {
	return a.hub.ObserveTransaction(txHash)
}

// CreateOrder originates a new client-side order (spec.md §4.5 step 1).
func (a *App) CreateOrder(fromAddr nodeid.ID, fromCur string, fromAmt uint64, toAddr nodeid.ID, toCur string, toAmt uint64) (*storage.Order, error) {
	return a.client.CreateOrder(fromAddr, fromCur, fromAmt, toAddr, toCur, toAmt)
}

// expandPath resolves a leading "~" the same way internal/config does,
// duplicated here since that helper is unexported.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
