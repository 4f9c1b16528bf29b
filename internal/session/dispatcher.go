// Package session implements the per-command dispatch table and the
// overlay's store-and-forward relay rule (spec.md §4.3): on an inbound
// packet, look up the registered handler by command code and invoke it;
// unicast bodies whose 20-byte destination prefix does not match the local
// NodeId are re-queued to the DHT transport instead of being handled
// locally.
package session

import (
	"fmt"
	"sync"

	"github.com/xbridge-go/xbridged/internal/command"
	"github.com/xbridge-go/xbridged/internal/nodeid"
	"github.com/xbridge-go/xbridged/internal/packet"
	"github.com/xbridge-go/xbridged/pkg/logging"
)

// Handler processes one inbound packet already past the relay check. It
// returns an error classified by the xerr taxonomy; the dispatcher logs
// failures and never lets one bad packet take down the process (spec.md §7
// "Handlers return success/failure; failure is logged and the connection
// continues").
type Handler func(pkt *packet.Packet) error

// Sender delivers an outbound packet to a specific NodeId, or floods it to
// the whole overlay.
type Sender interface {
	Send(to nodeid.ID, pkt *packet.Packet) error
	Broadcast(pkt *packet.Packet) error
}

// Dispatcher routes inbound packets to the handler registered for their
// command code, relaying unicast packets not addressed to this node.
type Dispatcher struct {
	localID  nodeid.ID
	sender   Sender
	handlers map[command.Command]Handler
	log      *logging.Logger

	aliasMu sync.RWMutex
	aliases map[nodeid.ID]bool
}

// New constructs a Dispatcher for a node whose overlay identity is localID.
func New(localID nodeid.ID, sender Sender) *Dispatcher {
	return &Dispatcher{
		localID:  localID,
		sender:   sender,
		handlers: make(map[command.Command]Handler),
		log:      logging.GetDefault().Component("session"),
		aliases:  make(map[nodeid.ID]bool),
	}
}

// AddLocalAddress registers addr (typically a locally attached wallet's
// overlay address, spec.md §4.6) as an additional destination that counts
// as "this node" for the relay rule, alongside the node's own generated
// NodeId. Wallet addresses are routed to their owning node the same way a
// NodeId is, so a handler's local/relay decision must recognise both.
func (d *Dispatcher) AddLocalAddress(addr nodeid.ID) {
	d.aliasMu.Lock()
	defer d.aliasMu.Unlock()
	d.aliases[addr] = true
}

// RemoveLocalAddress undoes AddLocalAddress, e.g. when a wallet is detached.
func (d *Dispatcher) RemoveLocalAddress(addr nodeid.ID) {
	d.aliasMu.Lock()
	defer d.aliasMu.Unlock()
	delete(d.aliases, addr)
}

func (d *Dispatcher) isLocal(addr nodeid.ID) bool {
	if addr == d.localID {
		return true
	}
	d.aliasMu.RLock()
	defer d.aliasMu.RUnlock()
	return d.aliases[addr]
}

// Register installs h as the handler for cmd. A command registered twice
// is a programmer error — the handler-table construction this package is
// built around is meant to be exhaustive and unambiguous, so this panics
// immediately rather than silently overwriting.
func (d *Dispatcher) Register(cmd command.Command, h Handler) {
	if _, exists := d.handlers[cmd]; exists {
		panic(fmt.Sprintf("session: duplicate handler registration for %s", cmd))
	}
	d.handlers[cmd] = h
}

// MustBeExhaustive panics if any non-Invalid command known to the command
// package has no registered handler. Call once at startup, after the hub
// and/or client handler sets for this process's role have registered —
// this makes a missing handler a startup-time failure, not a silent drop
// discovered in production (spec.md §9 "per-command dispatch table"
// redesign note).
func (d *Dispatcher) MustBeExhaustive() {
	for _, c := range command.All() {
		if c == command.Invalid {
			continue
		}
		if _, ok := d.handlers[c]; !ok {
			panic(fmt.Sprintf("session: no handler registered for %s", c))
		}
	}
}

// Dispatch handles one inbound packet. Unknown commands are logged and
// dropped. A unicast packet (anything command.IsBroadcast reports false
// for) whose body does not begin with this node's own NodeId or another
// address registered as local (AddLocalAddress) is relayed to
// its actual destination and no handler runs; no local state is touched
// (spec.md §4.3 "Relay rule").
func (d *Dispatcher) Dispatch(pkt *packet.Packet) {
	if !command.IsBroadcast(pkt.Command) {
		if len(pkt.Body) < nodeid.Size {
			d.log.Warn("unicast packet shorter than destination prefix", "command", pkt.Command)
			return
		}
		dest, err := nodeid.FromBytes(pkt.Body[:nodeid.Size])
		if err != nil {
			d.log.Warn("malformed destination prefix", "command", pkt.Command, "error", err)
			return
		}
		if !d.isLocal(dest) {
			if err := d.sender.Send(dest, pkt); err != nil {
				d.log.Warn("relay failed", "command", pkt.Command, "dest", dest, "error", err)
			}
			return
		}
	}

	h, ok := d.handlers[pkt.Command]
	if !ok {
		d.log.Warn("no handler registered for command, dropping", "command", pkt.Command)
		return
	}

	if err := h(pkt); err != nil {
		d.log.Warn("handler returned error", "command", pkt.Command, "error", err)
	}
}
