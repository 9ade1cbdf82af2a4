// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package eventfeed streams session events to websocket clients.
package eventfeed

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/frostbyte73/core"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/livekit-session/pkg/rtc"
	"github.com/livekit/livekit-session/pkg/rtc/types"
)

const (
	defaultSendBuffer   = 64
	defaultWriteTimeout = 10 * time.Second
)

var (
	ErrTooManyClients = errors.New("too many feed clients")
	ErrFeedClosed     = errors.New("feed is closed")
)

type client struct {
	conn         *websocket.Conn
	send         chan []byte
	writeTimeout time.Duration
	closeOnce    sync.Once
}

func newClient(conn *websocket.Conn, sendBuffer int, writeTimeout time.Duration) *client {
	c := &client{
		conn:         conn,
		send:         make(chan []byte, sendBuffer),
		writeTimeout: writeTimeout,
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.writeTimeout),
	)
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

type FeedParams struct {
	// 0 means unlimited
	MaxClients   int
	SendBuffer   int
	WriteTimeout time.Duration
	CheckOrigin  func(r *http.Request) bool
	Logger       logger.Logger
}

// Feed is a session listener that fans events out to websocket clients.
// Clients that cannot keep up are disconnected.
type Feed struct {
	params   FeedParams
	upgrader websocket.Upgrader

	lock    sync.RWMutex
	clients map[*client]struct{}

	seq    atomic.Uint64
	closed core.Fuse
}

func NewFeed(params FeedParams) *Feed {
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	if params.SendBuffer <= 0 {
		params.SendBuffer = defaultSendBuffer
	}
	if params.WriteTimeout <= 0 {
		params.WriteTimeout = defaultWriteTimeout
	}
	f := &Feed{
		params:  params,
		clients: make(map[*client]struct{}),
	}
	f.upgrader = websocket.Upgrader{
		CheckOrigin: params.CheckOrigin,
	}
	return f
}

func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.closed.IsBroken() {
		http.Error(w, ErrFeedClosed.Error(), http.StatusServiceUnavailable)
		return
	}
	if maxClients := f.params.MaxClients; maxClients > 0 && f.ClientCount() >= maxClients {
		f.params.Logger.Infow("rejecting feed client", "remote", r.RemoteAddr, "clients", maxClients)
		http.Error(w, ErrTooManyClients.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.params.Logger.Warnw("could not upgrade feed connection", err, "remote", r.RemoteAddr)
		return
	}

	c, err := f.addClient(conn)
	if err != nil {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(f.params.WriteTimeout),
		)
		_ = conn.Close()
		return
	}
	f.params.Logger.Debugw("feed client connected", "remote", r.RemoteAddr)

	// reads only to notice the peer going away
	go func() {
		defer func() {
			f.removeClient(c)
			f.params.Logger.Debugw("feed client disconnected", "remote", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (f *Feed) addClient(conn *websocket.Conn) (*client, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	if f.closed.IsBroken() {
		return nil, ErrFeedClosed
	}
	if maxClients := f.params.MaxClients; maxClients > 0 && len(f.clients) >= maxClients {
		return nil, ErrTooManyClients
	}
	c := newClient(conn, f.params.SendBuffer, f.params.WriteTimeout)
	f.clients[c] = struct{}{}
	return c, nil
}

func (f *Feed) removeClient(c *client) {
	f.lock.Lock()
	if _, ok := f.clients[c]; ok {
		delete(f.clients, c)
		c.close()
	}
	f.lock.Unlock()
}

func (f *Feed) ClientCount() int {
	f.lock.RLock()
	defer f.lock.RUnlock()

	return len(f.clients)
}

func (f *Feed) OnSessionEvent(s *rtc.Session, event types.Event) {
	msg := Message{
		Seq:     f.seq.Inc(),
		Type:    event.Type(),
		Time:    time.Now(),
		Payload: ToPayload(event),
	}
	if s != nil {
		msg.SessionID = s.ID()
	}
	f.Broadcast(msg)
}

func (f *Feed) Broadcast(msg Message) {
	if f.closed.IsBroken() {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		f.params.Logger.Warnw("could not marshal feed message", err, "type", msg.Type)
		return
	}

	var slow []*client
	f.lock.RLock()
	for c := range f.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	f.lock.RUnlock()

	for _, c := range slow {
		f.params.Logger.Infow("feed client too slow, disconnecting")
		f.removeClient(c)
	}
}

// Close disconnects every client. Later events are dropped.
func (f *Feed) Close() {
	f.lock.Lock()
	f.closed.Break()
	clients := f.clients
	f.clients = make(map[*client]struct{})
	f.lock.Unlock()

	for c := range clients {
		c.close()
	}
}
