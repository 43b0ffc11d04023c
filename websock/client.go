// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package websock

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// CloseTimeout limits how long a graceful close waits for the peer to
// acknowledge, before the transport gets torn down anyway.
var CloseTimeout = 10 * time.Second

// ReadingClientWebsocket represents a websocket for reading, with graceful
// handling of the closing procedure.
type ReadingClientWebsocket struct {
	*websocket.Conn
	closing bool       // are we in the process of gracefully closing?
	m       sync.Mutex // synchronizes access to this websocket's state.
	// Signals that the websocket is closed, by closing (sic!) this channel.
	closed    chan struct{}
	closeOnce sync.Once
}

// NewReadingClient returns an enhanced gorilla websocket that does graceful
// close handling.
func NewReadingClient(ws *websocket.Conn) *ReadingClientWebsocket {
	return &ReadingClientWebsocket{
		Conn:   ws,
		closed: make(chan struct{}),
	}
}

// Closing returns true if a graceful close is in progress or done.
func (ws *ReadingClientWebsocket) Closing() bool {
	ws.m.Lock()
	defer ws.m.Unlock()
	return ws.closing
}

// Read reads the next message from the websocket, either binary (pcap) or
// text (log) data. It correctly handles gracefully closing the websocket when
// the peer (server) signals to do so. The client can trigger a close itself
// using the Close() method. When the websocket has been gracefully closed,
// Read returns a *websocket.CloseError with the peer's close code and text.
func (ws *ReadingClientWebsocket) Read() (data []byte, err error) {
	_, data, err = ws.Conn.ReadMessage()
	if err == nil {
		return data, nil
	}
	cerr, ok := err.(*websocket.CloseError)
	if !ok {
		ws.markClosed()
		return nil, err
	}
	// So we got a websocket close control message. If the peer sent it in
	// response to our close control message, we're done. Otherwise the peer
	// started the close and we need to acknowledge.
	ws.m.Lock()
	if !ws.closing {
		ws.closing = true
		log.Debug("server closes websocket, acknowledging close")
		_ = ws.Conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	} else {
		log.Debug("server acknowledged websocket close")
	}
	ws.m.Unlock()
	ws.markClosed()
	return nil, cerr
}

// Close gracefully closes this client websocket and waits for the close to
// complete, but not longer than CloseTimeout. Close must only be used while
// another go routine keeps calling Read, as otherwise the peer's close
// acknowledgement never gets processed.
func (ws *ReadingClientWebsocket) Close() {
	ws.m.Lock()
	if !ws.closing {
		ws.closing = true
		log.Debug("initiating graceful websocket close")
		_ = ws.Conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	}
	ws.m.Unlock()
	log.Debug("waiting for graceful close to be finished...")
	select {
	case <-time.After(CloseTimeout):
		log.Debug("graceful websocket close timeout; forced closed")
		ws.markClosed()
	case <-ws.closed:
	}
	log.Debug("websocket gracefully closed.")
}

// Done returns a channel that gets closed when the websocket is closed.
func (ws *ReadingClientWebsocket) Done() <-chan struct{} {
	return ws.closed
}

func (ws *ReadingClientWebsocket) markClosed() {
	ws.closeOnce.Do(func() {
		ws.Conn.Close()
		close(ws.closed)
	})
}
