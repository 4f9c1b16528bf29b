// Package dht implements the overlay transport: a libp2p host, a Kademlia
// DHT used both for peer routing and as the content-routing substrate for
// "who can reach NodeId X" lookups, and a GossipSub topic for the broadcast
// primitive. It is the Go-native shape of the dht_init/dht_periodic/
// dht_search/dht_send_message/dht_storage_store contract (spec.md §4.2): a
// "two sockets" IPv4+IPv6 select loop becomes one dual-stack libp2p host,
// and a single goroutine drains a buffered command queue the way the
// original drains one queued application command per tick.
package dht

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	kaddht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	connmgr "github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/multiformats/go-multiaddr"

	xconfig "github.com/xbridge-go/xbridged/internal/config"
	"github.com/xbridge-go/xbridged/internal/nodeid"
	"github.com/xbridge-go/xbridged/internal/packet"
	"github.com/xbridge-go/xbridged/pkg/logging"
)

const (
	// streamProtocol carries direct (non-broadcast) packets between two
	// known peers.
	streamProtocol = protocol.ID("/xbridge/packet/1.0.0")

	// dhtProtocolPrefix namespaces the Kademlia DHT's own wire protocol so
	// it cannot interoperate with an unrelated libp2p-kad-dht swarm.
	dhtProtocolPrefix = protocol.ID("/xbridge")

	// providerRefreshInterval is how often a node re-announces itself as a
	// provider of its own NodeId, mirroring dht_periodic's housekeeping
	// tick. IPFS's own default provider TTL is the precedent for this
	// figure.
	providerRefreshInterval = 10 * time.Minute

	// maxPacketBody caps the body size accepted from a stream before it is
	// fully read, guarding against a peer declaring an absurd bodySize.
	maxPacketBody = 16 << 20
)

// PacketHandler processes one inbound packet, received either over a direct
// stream or the broadcast topic. remote is the sending libp2p peer, not the
// overlay NodeId — the session dispatcher recovers the logical sender from
// the packet body per spec.md §6's per-command layouts.
type PacketHandler func(remote peer.ID, pkt *packet.Packet)

// Config configures a Transport.
type Config struct {
	DHT xconfig.DHTConfig

	// KeyPath is where the libp2p identity key is persisted across
	// restarts. The local overlay NodeId is derived from this same key
	// (nodeid.FromPubKey), so the transport identity and the swap-engine
	// identity are always one and the same key.
	KeyPath string

	Handler PacketHandler
}

// Transport is the overlay network: a libp2p host, a Kademlia DHT used for
// both peer routing and provider-based NodeId lookup, and a broadcast topic.
type Transport struct {
	host   host.Host
	dht    *kaddht.IpfsDHT
	pubsub *pubsub.PubSub
	topic  *pubsub.Topic
	sub    *pubsub.Subscription

	mdnsService mdns.Service

	cfg     xconfig.DHTConfig
	log     *logging.Logger
	localID nodeid.ID

	handler PacketHandler

	mu        sync.RWMutex
	resolved  map[nodeid.ID]peer.AddrInfo // cache of successful Search results, for Dump
	cmdCh     chan command
	ctx       context.Context
	cancel    context.CancelFunc
	startedAt time.Time
}

// New constructs a Transport. It loads or generates the node's persistent
// identity key, brings up the libp2p host, the Kademlia DHT, and GossipSub,
// but does not yet connect to bootstrap peers or start the command loop —
// call Start for that.
func New(ctx context.Context, cfg Config) (*Transport, error) {
	ctx, cancel := context.WithCancel(ctx)

	t := &Transport{
		cfg:      cfg.DHT,
		log:      logging.GetDefault().Component("dht"),
		handler:  cfg.Handler,
		resolved: make(map[nodeid.ID]peer.AddrInfo),
		cmdCh:    make(chan command, 64),
		ctx:      ctx,
		cancel:   cancel,
	}

	privKey, err := loadOrCreateKey(cfg.KeyPath)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("dht: load/create identity key: %w", err)
	}

	pubRaw, err := privKey.GetPublic().Raw()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("dht: extract public key: %w", err)
	}
	t.localID = nodeid.FromPubKey(pubRaw)

	listenAddrs := make([]multiaddr.Multiaddr, 0, len(cfg.DHT.ListenAddrs))
	for _, addr := range cfg.DHT.ListenAddrs {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("dht: invalid listen address %s: %w", addr, err)
		}
		listenAddrs = append(listenAddrs, ma)
	}

	cm, err := connmgr.NewConnManager(
		cfg.DHT.ConnMgr.LowWater,
		cfg.DHT.ConnMgr.HighWater,
		connmgr.WithGracePeriod(cfg.DHT.ConnMgr.GracePeriod),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("dht: connection manager: %w", err)
	}

	h, err := libp2p.New(
		libp2p.Identity(privKey),
		libp2p.ListenAddrs(listenAddrs...),
		libp2p.ConnectionManager(cm),
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.DefaultSecurity,
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("dht: create libp2p host: %w", err)
	}
	t.host = h

	if err := t.initDHT(ctx); err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("dht: initialize kademlia: %w", err)
	}

	if err := t.initPubSub(ctx); err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("dht: initialize pubsub: %w", err)
	}

	h.SetStreamHandler(streamProtocol, t.handleStream)

	if cfg.DHT.EnableMDNS {
		if err := t.initMDNS(); err != nil {
			t.log.Warn("mDNS initialization failed", "error", err)
		}
	}

	return t, nil
}

func loadOrCreateKey(path string) (crypto.PrivKey, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}

	if data, err := os.ReadFile(path); err == nil {
		return crypto.UnmarshalPrivateKey(data)
	}

	privKey, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, err
	}

	data, err := crypto.MarshalPrivateKey(privKey)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return nil, err
	}

	return privKey, nil
}

func (t *Transport) initDHT(ctx context.Context) error {
	var err error
	t.dht, err = kaddht.New(ctx, t.host,
		kaddht.Mode(kaddht.ModeAutoServer),
		kaddht.ProtocolPrefix(dhtProtocolPrefix),
	)
	if err != nil {
		return err
	}
	return t.dht.Bootstrap(ctx)
}

func (t *Transport) initPubSub(ctx context.Context) error {
	var err error
	t.pubsub, err = pubsub.NewGossipSub(ctx, t.host,
		pubsub.WithPeerExchange(true),
		pubsub.WithFloodPublish(true),
	)
	if err != nil {
		return err
	}

	topicName := t.cfg.Namespace + "/broadcast"
	t.topic, err = t.pubsub.Join(topicName)
	if err != nil {
		return fmt.Errorf("join broadcast topic: %w", err)
	}
	t.sub, err = t.topic.Subscribe()
	if err != nil {
		return fmt.Errorf("subscribe broadcast topic: %w", err)
	}

	go t.readTopic()
	return nil
}

func (t *Transport) initMDNS() error {
	t.mdnsService = mdns.NewMdnsService(t.host, t.cfg.Namespace, t)
	return t.mdnsService.Start()
}

// HandlePeerFound implements mdns.Notifee.
func (t *Transport) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == t.host.ID() {
		return
	}
	t.host.Peerstore().AddAddrs(pi.ID, pi.Addrs, peerstore.PermanentAddrTTL)

	go func() {
		ctx, cancel := context.WithTimeout(t.ctx, 10*time.Second)
		defer cancel()
		if err := t.host.Connect(ctx, pi); err != nil {
			t.log.Debug("mDNS peer connect failed", "peer", shortID(pi.ID), "error", err)
		}
	}()
}

// Start connects to the configured bootstrap peers, announces this node's
// own NodeId as a DHT provider record, and starts the command-queue and
// periodic-refresh goroutines (dht_periodic).
func (t *Transport) Start() error {
	t.startedAt = time.Now()

	for _, addrStr := range t.cfg.BootstrapPeers {
		ma, err := multiaddr.NewMultiaddr(addrStr)
		if err != nil {
			t.log.Warn("invalid bootstrap address", "addr", addrStr, "error", err)
			continue
		}
		pi, err := peer.AddrInfoFromP2pAddr(ma)
		if err != nil {
			t.log.Warn("invalid bootstrap peer info", "addr", addrStr, "error", err)
			continue
		}
		go func(pi peer.AddrInfo) {
			ctx, cancel := context.WithTimeout(t.ctx, 30*time.Second)
			defer cancel()
			if err := t.host.Connect(ctx, pi); err != nil {
				t.log.Warn("bootstrap connect failed", "peer", shortID(pi.ID), "error", err)
			} else {
				t.log.Info("connected to bootstrap peer", "peer", shortID(pi.ID))
			}
		}(*pi)
	}

	go t.runCommandLoop()
	go t.runPeriodic()

	return nil
}

// Stop tears the transport down.
func (t *Transport) Stop() error {
	t.cancel()
	if t.mdnsService != nil {
		t.mdnsService.Close()
	}
	if t.sub != nil {
		t.sub.Cancel()
	}
	if t.topic != nil {
		t.topic.Close()
	}
	if t.dht != nil {
		t.dht.Close()
	}
	return t.host.Close()
}

// LocalID returns this node's overlay NodeId.
func (t *Transport) LocalID() nodeid.ID {
	return t.localID
}

// Host returns the underlying libp2p host, for callers (e.g. cmd/xbridged)
// that need to log its listen addresses.
func (t *Transport) Host() host.Host {
	return t.host
}

func (t *Transport) runPeriodic() {
	ticker := time.NewTicker(providerRefreshInterval)
	defer ticker.Stop()

	t.advertiseSelf()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.advertiseSelf()
		}
	}
}

func (t *Transport) advertiseSelf() {
	c, err := nodeCID(t.localID)
	if err != nil {
		t.log.Error("compute self provider key", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(t.ctx, 30*time.Second)
	defer cancel()
	if err := t.dht.Provide(ctx, c, true); err != nil {
		t.log.Warn("advertise self as provider failed", "error", err)
	}
}

func shortID(p peer.ID) string {
	s := p.String()
	if len(s) > 12 {
		return s[:12]
	}
	return s
}

func (t *Transport) handleStream(s network.Stream) {
	defer s.Close()
	pkt, err := readPacket(s)
	if err != nil {
		t.log.Debug("malformed inbound stream packet", "peer", shortID(s.Conn().RemotePeer()), "error", err)
		return
	}
	if t.handler != nil {
		t.handler(s.Conn().RemotePeer(), pkt)
	}
}

func (t *Transport) readTopic() {
	for {
		msg, err := t.sub.Next(t.ctx)
		if err != nil {
			return // context cancelled, or subscription closed
		}
		if msg.ReceivedFrom == t.host.ID() {
			continue
		}
		pkt, err := packet.Parse(msg.Data)
		if err != nil {
			t.log.Debug("malformed broadcast packet", "peer", shortID(msg.ReceivedFrom), "error", err)
			continue
		}
		if t.handler != nil {
			t.handler(msg.ReceivedFrom, pkt)
		}
	}
}
