package dht

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
	mh "github.com/multiformats/go-multihash"

	"github.com/xbridge-go/xbridged/internal/nodeid"
	"github.com/xbridge-go/xbridged/internal/packet"
	"github.com/xbridge-go/xbridged/internal/xerr"
)

// commandKind enumerates the operations dht_init's queue drains: generate
// (re-announce), search, send, broadcast, dump.
type commandKind int

const (
	cmdSearch commandKind = iota
	cmdSend
	cmdBroadcast
	cmdDump
	cmdAdvertise
)

type command struct {
	kind   commandKind
	target nodeid.ID
	pkt    *packet.Packet
	result chan commandResult
}

type commandResult struct {
	addr peer.AddrInfo
	dump []nodeid.ID
	err  error
}

// runCommandLoop services cmdCh on a single goroutine, matching spec.md's
// "drain one queued application command" tick: Search/Send/Broadcast/Dump
// calls never touch the DHT or pubsub directly from the caller's goroutine.
func (t *Transport) runCommandLoop() {
	for {
		select {
		case <-t.ctx.Done():
			return
		case c := <-t.cmdCh:
			t.execute(c)
		}
	}
}

func (t *Transport) execute(c command) {
	switch c.kind {
	case cmdSearch:
		addr, err := t.doSearch(c.target)
		c.result <- commandResult{addr: addr, err: err}
	case cmdSend:
		err := t.doSend(c.target, c.pkt)
		c.result <- commandResult{err: err}
	case cmdBroadcast:
		err := t.doBroadcast(c.pkt)
		c.result <- commandResult{err: err}
	case cmdDump:
		c.result <- commandResult{dump: t.doDump()}
	case cmdAdvertise:
		err := t.doAdvertise(c.target)
		c.result <- commandResult{err: err}
	}
}

func (t *Transport) enqueue(c command) commandResult {
	c.result = make(chan commandResult, 1)
	select {
	case t.cmdCh <- c:
	case <-t.ctx.Done():
		return commandResult{err: fmt.Errorf("%w: transport stopped", xerr.NetworkPermanent)}
	}
	select {
	case r := <-c.result:
		return r
	case <-t.ctx.Done():
		return commandResult{err: fmt.Errorf("%w: transport stopped", xerr.NetworkPermanent)}
	}
}

// Search resolves target's reachable address via the DHT's provider
// records (dht_search). It is the counterpart of advertiseSelf's
// dht_storage_store.
func (t *Transport) Search(target nodeid.ID) (peer.AddrInfo, error) {
	r := t.enqueue(command{kind: cmdSearch, target: target})
	return r.addr, r.err
}

func (t *Transport) doSearch(target nodeid.ID) (peer.AddrInfo, error) {
	t.mu.RLock()
	if addr, ok := t.resolved[target]; ok {
		t.mu.RUnlock()
		return addr, nil
	}
	t.mu.RUnlock()

	c, err := nodeCID(target)
	if err != nil {
		return peer.AddrInfo{}, fmt.Errorf("%w: compute provider key: %v", xerr.NetworkPermanent, err)
	}

	ctx, cancel := context.WithTimeout(t.ctx, 15*time.Second)
	defer cancel()

	providers := t.dht.FindProvidersAsync(ctx, c, 1)
	for addr := range providers {
		if len(addr.Addrs) == 0 {
			continue
		}
		t.mu.Lock()
		t.resolved[target] = addr
		t.mu.Unlock()
		return addr, nil
	}

	return peer.AddrInfo{}, fmt.Errorf("%w: no provider found for %s", xerr.NetworkTransient, target)
}

// Send delivers pkt to target over a direct stream, resolving target's
// address via Search first. Spec.md's E_NOT_FOUND handling is a single
// retry: if the cached address is stale (the peer no longer accepts the
// stream), the cache entry is dropped and Search is retried once before
// giving up.
func (t *Transport) Send(target nodeid.ID, pkt *packet.Packet) error {
	r := t.enqueue(command{kind: cmdSend, target: target, pkt: pkt})
	return r.err
}

func (t *Transport) doSend(target nodeid.ID, pkt *packet.Packet) error {
	addr, err := t.doSearch(target)
	if err != nil {
		return err
	}

	if err := t.openAndWrite(addr, pkt); err != nil {
		t.mu.Lock()
		delete(t.resolved, target)
		t.mu.Unlock()

		addr, err = t.doSearch(target)
		if err != nil {
			return err
		}
		if err := t.openAndWrite(addr, pkt); err != nil {
			return fmt.Errorf("%w: send to %s: %v", xerr.NetworkTransient, target, err)
		}
	}
	return nil
}

func (t *Transport) openAndWrite(addr peer.AddrInfo, pkt *packet.Packet) error {
	ctx, cancel := context.WithTimeout(t.ctx, 15*time.Second)
	defer cancel()

	if err := t.host.Connect(ctx, addr); err != nil {
		return err
	}

	s, err := t.host.NewStream(ctx, addr.ID, streamProtocol)
	if err != nil {
		return err
	}
	defer s.Close()

	_, err = s.Write(pkt.Marshal())
	return err
}

// Broadcast publishes pkt to the swarm's GossipSub topic.
func (t *Transport) Broadcast(pkt *packet.Packet) error {
	r := t.enqueue(command{kind: cmdBroadcast, pkt: pkt})
	return r.err
}

func (t *Transport) doBroadcast(pkt *packet.Packet) error {
	ctx, cancel := context.WithTimeout(t.ctx, 10*time.Second)
	defer cancel()
	if err := t.topic.Publish(ctx, pkt.Marshal()); err != nil {
		return fmt.Errorf("%w: broadcast: %v", xerr.NetworkTransient, err)
	}
	return nil
}

// AdvertiseAddress announces a locally attached wallet address (spec.md
// §4.6) as a DHT-reachable id pointing at this node, exactly as
// advertiseSelf does for the node's own NodeId. The address is also seeded
// into the resolved cache so a local Send/Search for it never needs a
// round trip.
func (t *Transport) AdvertiseAddress(addr nodeid.ID) error {
	r := t.enqueue(command{kind: cmdAdvertise, target: addr})
	return r.err
}

func (t *Transport) doAdvertise(addr nodeid.ID) error {
	t.mu.Lock()
	t.resolved[addr] = peer.AddrInfo{ID: t.host.ID(), Addrs: t.host.Addrs()}
	t.mu.Unlock()

	c, err := nodeCID(addr)
	if err != nil {
		return fmt.Errorf("%w: compute provider key: %v", xerr.NetworkPermanent, err)
	}
	ctx, cancel := context.WithTimeout(t.ctx, 30*time.Second)
	defer cancel()
	if err := t.dht.Provide(ctx, c, true); err != nil {
		return fmt.Errorf("%w: advertise address: %v", xerr.NetworkTransient, err)
	}
	return nil
}

// Dump returns every NodeId this transport has successfully resolved an
// address for, the local counterpart of dht_dump.
func (t *Transport) Dump() []nodeid.ID {
	r := t.enqueue(command{kind: cmdDump})
	return r.dump
}

func (t *Transport) doDump() []nodeid.ID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]nodeid.ID, 0, len(t.resolved))
	for id := range t.resolved {
		out = append(out, id)
	}
	return out
}

// nodeCID wraps a NodeId's bytes as an identity-hashed raw CID: the DHT's
// provider-record key space is content-addressed, but a NodeId is already a
// fixed-size digest, so it is embedded rather than re-hashed.
func nodeCID(id nodeid.ID) (cid.Cid, error) {
	sum, err := mh.Sum(id.Bytes(), mh.IDENTITY, -1)
	if err != nil {
		return cid.Cid{}, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// readPacket reads one length-framed packet from r: the fixed 16-byte
// header followed by its declared body.
func readPacket(r io.Reader) (*packet.Packet, error) {
	header := make([]byte, packet.HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: read header: %v", xerr.WireFormat, err)
	}

	bodySize := binary.LittleEndian.Uint32(header[8:12])
	if bodySize > maxPacketBody {
		return nil, fmt.Errorf("%w: declared body size %d exceeds limit", xerr.WireFormat, bodySize)
	}

	body := make([]byte, bodySize)
	if bodySize > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, fmt.Errorf("%w: read body: %v", xerr.WireFormat, err)
		}
	}

	return packet.Parse(append(header, body...))
}
