// Package notify implements the UI notification publish interface (spec.md
// §7): OrderReceived, OrderIdChanged, OrderStateChanged,
// AddressBookEntryReceived, and LogMessage, fanned out as JSON frames over a
// local websocket server. A UI collaborator is explicitly out of scope
// (spec.md §1) — this package only gives that publish interface a concrete
// transport, grounded on the teacher's internal/rpc/websocket.go WSHub.
package notify

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xbridge-go/xbridged/pkg/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EventType identifies a notification frame's shape, one per spec.md §7
// publish-interface method.
type EventType string

const (
	EventOrderReceived            EventType = "order_received"
	EventOrderIDChanged           EventType = "order_id_changed"
	EventOrderStateChanged        EventType = "order_state_changed"
	EventAddressBookEntryReceived EventType = "address_book_entry_received"
	EventLogMessage               EventType = "log_message"
)

// Event is one notification frame sent to every subscribed client.
type Event struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// OrderReceivedData carries the fields of a freshly observed order
// (spec.md "Order (client-side view) — TransactionDescr").
type OrderReceivedData struct {
	LocalID      string `json:"local_id"`
	FromAddress  string `json:"from_address"`
	FromCurrency string `json:"from_currency"`
	FromAmount   uint64 `json:"from_amount"`
	ToAddress    string `json:"to_address"`
	ToCurrency   string `json:"to_currency"`
	ToAmount     uint64 `json:"to_amount"`
}

// OrderIDChangedData reports an order's LocalId being re-keyed to a hub id.
type OrderIDChangedData struct {
	OldID string `json:"old_id"`
	NewID string `json:"new_id"`
}

// OrderStateChangedData reports a state-machine transition for one order.
type OrderStateChangedData struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// AddressBookEntryData reports a newly learned address book entry.
type AddressBookEntryData struct {
	Currency string `json:"currency"`
	Name     string `json:"name"`
	Address  string `json:"address"`
}

// LogMessageData wraps a free-text log line surfaced to an attached UI.
type LogMessageData struct {
	Text string `json:"text"`
}

// client is one connected websocket subscriber.
type client struct {
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[EventType]bool
	mu            sync.RWMutex
}

// Hub fans out Event frames to every connected client, matching the
// register/unregister/broadcast channel loop of the teacher's WSHub.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan *Event
	register   chan *client
	unregister chan *client
	log        *logging.Logger
	mu         sync.RWMutex
}

// NewHub constructs a Hub. Call Run in its own goroutine before serving any
// connections.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan *Event, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		log:        logging.GetDefault().Component("notify"),
	}
}

// Run services the hub's registration and broadcast channels until ctx is
// cancelled by the caller closing stop.
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.log.Debug("notify client connected", "clients", len(h.clients))
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.log.Debug("notify client disconnected", "clients", len(h.clients))
		case event := <-h.broadcast:
			h.deliver(event)
		}
	}
}

func (h *Hub) deliver(event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error("marshal notification event", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.mu.RLock()
		subscribed := len(c.subscriptions) == 0 || c.subscriptions[event.Type]
		c.mu.RUnlock()
		if !subscribed {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.log.Warn("client send buffer full, dropping frame", "type", event.Type)
		}
	}
}

func (h *Hub) publish(t EventType, data interface{}) {
	event := &Event{Type: t, Data: data, Timestamp: time.Now().Unix()}
	select {
	case h.broadcast <- event:
	default:
		h.log.Warn("broadcast channel full, dropping event", "type", t)
	}
}

// OrderReceived implements spec.md §7's OrderReceived(descr) notification.
func (h *Hub) OrderReceived(d OrderReceivedData) { h.publish(EventOrderReceived, d) }

// OrderIDChanged implements spec.md §7's OrderIdChanged(old,new).
func (h *Hub) OrderIDChanged(oldID, newID string) {
	h.publish(EventOrderIDChanged, OrderIDChangedData{OldID: oldID, NewID: newID})
}

// OrderStateChanged implements spec.md §7's OrderStateChanged(id,state).
func (h *Hub) OrderStateChanged(id, state string) {
	h.publish(EventOrderStateChanged, OrderStateChangedData{ID: id, State: state})
}

// AddressBookEntryReceived implements spec.md §7's
// AddressBookEntryReceived(currency,name,addr).
func (h *Hub) AddressBookEntryReceived(currency, name, addr string) {
	h.publish(EventAddressBookEntryReceived, AddressBookEntryData{Currency: currency, Name: name, Address: addr})
}

// LogMessage implements spec.md §7's LogMessage(text).
func (h *Hub) LogMessage(text string) { h.publish(EventLogMessage, LogMessageData{Text: text}) }

// ClientCount returns the number of connected websocket clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request to a websocket and registers the resulting
// client with the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		conn:          conn,
		send:          make(chan []byte, 256),
		subscriptions: make(map[EventType]bool),
	}
	h.register <- c

	go c.writePump()
	go c.readPump(h)
}

type subscription struct {
	Action string   `json:"action"`
	Events []string `json:"events"`
}

func (c *client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var sub subscription
		if err := json.Unmarshal(message, &sub); err == nil {
			c.applySubscription(&sub)
		}
	}
}

func (c *client) applySubscription(sub *subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, name := range sub.Events {
		t := EventType(name)
		switch sub.Action {
		case "subscribe":
			c.subscriptions[t] = true
		case "unsubscribe":
			delete(c.subscriptions, t)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
