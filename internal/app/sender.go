// Package app wires every other package into one running process: the
// Application Core singleton of spec.md §2 component 7, §9 "Global
// singletons". It owns the local NodeId, the DHT transport, the session
// dispatcher, the hub and client coordinators, the address book poller, and
// the timer thread — constructed once in cmd/xbridged/main.go and dropped
// last, per spec.md §9's documented init/teardown order.
package app

import (
	"encoding/hex"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/xbridge-go/xbridged/internal/dht"
	"github.com/xbridge-go/xbridged/internal/nodeid"
	"github.com/xbridge-go/xbridged/internal/packet"
	"github.com/xbridge-go/xbridged/internal/storage"
	"github.com/xbridge-go/xbridged/pkg/logging"
)

// messageHash computes H = SHA256(SHA256(body)) (spec.md §4.2 "Message
// deduplication"), reusing the same double-SHA256 primitive
// internal/nodeid already applies to fingerprints and hub ids.
func messageHash(body []byte) string {
	return hex.EncodeToString(chainhash.DoubleHashB(body))
}

// dedup bounds the known-message set with an in-memory LRU cap backed by a
// sqlite mirror for restart survival (spec.md §9 open question: "Known-
// message set has no eviction. An implementation MUST bound it; a
// size-capped LRU of recent body-hashes is recommended").
type dedup struct {
	mu    sync.Mutex
	cache *lru.Cache[string, struct{}]
	store *storage.Storage
}

func newDedup(size int, store *storage.Storage) (*dedup, error) {
	if size < 1 {
		size = 4096
	}
	cache, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("construct known-message cache: %w", err)
	}
	d := &dedup{cache: cache, store: store}
	if err := d.warm(size); err != nil {
		return nil, err
	}
	return d, nil
}

// warm seeds the in-memory cache from the sqlite mirror on startup, so a
// restart does not immediately re-process broadcasts it already suppressed
// before shutting down.
func (d *dedup) warm(limit int) error {
	hashes, err := d.store.RecentKnownMessages(limit)
	if err != nil {
		return fmt.Errorf("warm known-message cache: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, h := range hashes {
		d.cache.Add(h, struct{}{})
	}
	return nil
}

// seen reports whether body's hash is already known, without recording it.
func (d *dedup) seen(body []byte) bool {
	h := messageHash(body)
	d.mu.Lock()
	_, ok := d.cache.Get(h)
	d.mu.Unlock()
	return ok
}

// record inserts body's hash into both the in-memory cache and the sqlite
// mirror, done immediately before a message is enqueued for DHT delivery
// (spec.md §4.2 "Message deduplication").
func (d *dedup) record(body []byte) {
	h := messageHash(body)
	d.mu.Lock()
	d.cache.Add(h, struct{}{})
	d.mu.Unlock()
	if err := d.store.RecordKnownMessage(h); err != nil {
		logging.GetDefault().Component("app").Warn("persist known message failed", "error", err)
	}
}

// sender implements session.Sender over a dht.Transport, inserting a
// message's hash into the dedup set before every broadcast — the outbound
// half of spec.md §4.2's dedup contract. Send (unicast, including relay and
// retries) never touches the dedup set: only broadcasts are deduplicated.
type sender struct {
	transport *dht.Transport
	dedup     *dedup
}

func (s *sender) Send(to nodeid.ID, pkt *packet.Packet) error {
	return s.transport.Send(to, pkt)
}

func (s *sender) Broadcast(pkt *packet.Packet) error {
	s.dedup.record(pkt.Body)
	return s.transport.Broadcast(pkt)
}
