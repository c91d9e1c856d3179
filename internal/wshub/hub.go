// Package wshub implements the event broadcaster (C8) over WebSocket
// connections, adapting the teacher SDK's client-side WSClient
// (heartbeat ticker, JSON envelope, best-effort delivery) into a
// server-side per-chain-id fanout registry.
package wshub

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/kaifufi/trade-coordinator/internal/broadcaster"
)

// HeartbeatInterval matches the cadence the teacher SDK's client expects
// from a healthy connection.
const HeartbeatInterval = 30 * time.Second

const writeTimeout = 5 * time.Second

// envelope is the wire shape delivered to subscribers, playing the same
// role as the client SDK's WSMessage{Action} but carrying a typed payload
// instead of leaving the caller to branch on Action alone.
type envelope struct {
	ChainID string      `json:"chainId"`
	Type    string      `json:"type"`
	Payload interface{} `json:"data"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans events out to WebSocket subscribers, partitioned by chain id
// so a subscriber only receives events for chains it opted into.
type Hub struct {
	log *logrus.Logger

	mu          sync.RWMutex
	subscribers map[string]map[*subscriber]struct{} // chainID string -> subscriber set
}

// New returns an empty Hub.
func New(log *logrus.Logger) *Hub {
	return &Hub{
		log:         log,
		subscribers: make(map[string]map[*subscriber]struct{}),
	}
}

// ServeWS upgrades the request to a WebSocket connection and registers it
// as a subscriber for chainID until the connection closes.
func (h *Hub) ServeWS(chainID string, w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	sub := &subscriber{conn: conn, send: make(chan []byte, 64)}
	h.register(chainID, sub)

	go h.writeLoop(chainID, sub)
	go h.readLoop(chainID, sub)

	return nil
}

func (h *Hub) register(chainID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subscribers[chainID] == nil {
		h.subscribers[chainID] = make(map[*subscriber]struct{})
	}
	h.subscribers[chainID][sub] = struct{}{}
}

// unregister removes sub from chainID's subscriber set and closes its send
// channel. writeLoop and readLoop each call this independently on the same
// sub along the ordinary disconnect path (a write error unregisters and
// closes the connection, which then unblocks the other's ReadMessage), so
// the close must only happen on whichever call actually finds sub still
// present — otherwise the second call closes an already-closed channel.
func (h *Hub) unregister(chainID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subscribers[chainID]
	if !ok {
		return
	}
	if _, present := set[sub]; !present {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subscribers, chainID)
	}
	close(sub.send)
}

// writeLoop drains sub.send to the connection and drives the heartbeat
// ping, mirroring the client SDK's startHeartbeat/sendHeartbeat pairing
// but from the server side of the same connection.
func (h *Hub) writeLoop(chainID string, sub *subscriber) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	defer sub.conn.Close()

	for {
		select {
		case data, ok := <-sub.send:
			if !ok {
				sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.log.WithError(err).Debug("wshub: write failed, dropping subscriber")
				h.unregister(chainID, sub)
				return
			}
		case <-ticker.C:
			sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(chainID, sub)
				return
			}
		}
	}
}

// readLoop discards inbound frames (subscribers are receive-only) purely
// to detect disconnects and pongs, matching gorilla/websocket's
// requirement that someone always be reading.
func (h *Hub) readLoop(chainID string, sub *subscriber) {
	defer h.unregister(chainID, sub)
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Publish implements broadcaster.Broadcaster. Delivery is best-effort: a
// subscriber whose send buffer is full is skipped rather than blocking
// the publisher.
func (h *Hub) Publish(event broadcaster.Event) {
	chainID := event.ChainID.String()
	data, err := json.Marshal(envelope{ChainID: chainID, Type: string(event.Type), Payload: event.Payload})
	if err != nil {
		h.log.WithError(err).Error("wshub: failed to marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subscribers[chainID] {
		select {
		case sub.send <- data:
		default:
			h.log.Warn("wshub: subscriber send buffer full, dropping event")
		}
	}
}
