// Copyright (c) 2023–2026 The shutterbox developers. All rights reserved.
// Project site: https://github.com/MxKuna/shutterbox
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package statushub fans shutter status updates out to websocket
// subscribers. Every connected client receives each published status map as
// a JSON message; slow clients are dropped rather than allowed to stall the
// publisher.
package statushub

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeTimeout = 2 * time.Second
	sendBuffer   = 8
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub owns the set of live subscriber connections.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	last    map[string]interface{}
	log     *logrus.Logger
}

type client struct {
	conn *websocket.Conn
	send chan map[string]interface{}
}

// New returns an empty hub logging to log.
func New(log *logrus.Logger) *Hub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		log:     log,
	}
}

// Publish delivers a status map to every subscriber. The map is retained and
// replayed to clients that connect later, so a fresh subscriber sees state
// immediately instead of waiting for the next poll cycle.
func (h *Hub) Publish(status map[string]interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = status
	for c := range h.clients {
		select {
		case c.send <- status:
		default:
			// Client can't keep up with the poll rate; cut it loose.
			h.dropLocked(c)
		}
	}
}

// ClientCount reports the number of live subscribers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request to a websocket and streams status updates
// until the peer disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("websocket upgrade: %v", err)
		return
	}
	c := &client{conn: conn, send: make(chan map[string]interface{}, sendBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	if h.last != nil {
		c.send <- h.last
	}
	h.mu.Unlock()
	h.log.Debugf("status subscriber connected: %s", conn.RemoteAddr())

	go h.writeLoop(c)
	h.readLoop(c)
}

// writeLoop drains the client's send channel onto the wire.
func (h *Hub) writeLoop(c *client) {
	for status := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(status); err != nil {
			h.log.Debugf("status send to %s: %v", c.conn.RemoteAddr(), err)
			h.drop(c)
			return
		}
	}
}

// readLoop consumes (and discards) client frames so pings and close frames
// are processed; its return signals disconnect.
func (h *Hub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.drop(c)
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(c)
}

func (h *Hub) dropLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	_ = c.conn.Close()
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.dropLocked(c)
	}
}
