// Feathercore - Identity Correlation Engine for Forensic Artifact Feathers
// Copyright 2026 Feathercore Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelforensics/feathercore

package progress

import (
	"sort"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/kestrelforensics/feathercore/internal/logging"
)

// WebSocketBroadcaster is an optional Listener that fans Events out to any
// attached GUI client over a websocket connection, reusing the host
// codebase's hub broadcast idiom: non-blocking per-client sends, clients
// iterated in a deterministic (sorted) order so dispatch order doesn't
// depend on Go's unordered map iteration.
type WebSocketBroadcaster struct {
	mu      sync.RWMutex
	clients map[uint64]*wsClient
	nextID  uint64
}

type wsClient struct {
	id   uint64
	conn *websocket.Conn
	send chan Event
}

// NewWebSocketBroadcaster returns an empty broadcaster.
func NewWebSocketBroadcaster() *WebSocketBroadcaster {
	return &WebSocketBroadcaster{clients: map[uint64]*wsClient{}}
}

// Attach registers a websocket connection to receive future events. The
// returned detach func must be called when the connection closes.
func (b *WebSocketBroadcaster) Attach(conn *websocket.Conn) (detach func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	c := &wsClient{id: id, conn: conn, send: make(chan Event, 64)}
	b.clients[id] = c
	b.mu.Unlock()

	go b.pump(c)

	return func() {
		b.mu.Lock()
		delete(b.clients, id)
		b.mu.Unlock()
		close(c.send)
	}
}

func (b *WebSocketBroadcaster) pump(c *wsClient) {
	for e := range c.send {
		if err := c.conn.WriteJSON(e); err != nil {
			logging.Warn().Err(err).Uint64("client_id", c.id).Msg("progress websocket write failed")
			return
		}
	}
}

// OnProgressEvent implements Listener. It dispatches non-blockingly: a
// client whose send buffer is full is dropped from this broadcast rather
// than stalling the emitter's thread (§5's non-blocking-listener rule).
func (b *WebSocketBroadcaster) OnProgressEvent(e Event) {
	b.mu.RLock()
	ids := make([]uint64, 0, len(b.clients))
	for id := range b.clients {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	clients := make([]*wsClient, 0, len(ids))
	for _, id := range ids {
		clients = append(clients, b.clients[id])
	}
	b.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- e:
		default:
			logging.Warn().Uint64("client_id", c.id).Msg("progress listener buffer full, dropping client")
		}
	}
}

// ClientCount reports the number of attached clients.
func (b *WebSocketBroadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
