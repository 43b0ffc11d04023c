// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package websock

import (
	"bytes"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ErrClosed is returned when writing to a websocket that is closing or
// already has been closed.
var ErrClosed = errors.New("websocket closed")

// Close frames carry at most 125 bytes of payload, including the close code.
const maxCloseReason = 123

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 32 * 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// WritingServerWebsocket is the server side of a dump stream: an io.Writer
// that sends each Write as a single binary websocket message, and which
// notices when the client wants to close the stream. Text streams instead
// carry one message per line, so that messages never end in the middle of a
// UTF-8 sequence.
type WritingServerWebsocket struct {
	conn    *websocket.Conn
	msgType int
	m       sync.Mutex
	closing bool
	partial []byte // incomplete last line of a text stream.
	// closed when the client has started (or acknowledged) the close.
	peerDone  chan struct{}
	peerOnce  sync.Once
	closeOnce sync.Once
}

// Upgrade upgrades the HTTP server connection to a websocket which will carry
// binary messages if binary is true, and text messages otherwise.
func Upgrade(w http.ResponseWriter, r *http.Request, binary bool) (*WritingServerWebsocket, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, errors.Wrap(err, "cannot upgrade to websocket")
	}
	ws := &WritingServerWebsocket{
		conn:     conn,
		msgType:  websocket.TextMessage,
		peerDone: make(chan struct{}),
	}
	if binary {
		ws.msgType = websocket.BinaryMessage
	}
	go ws.readControl()
	return ws, nil
}

// readControl processes control messages sent by the client; clients don't
// send data messages on dump streams, so these are ignored.
func (ws *WritingServerWebsocket) readControl() {
	defer ws.peerOnce.Do(func() { close(ws.peerDone) })
	for {
		if _, _, err := ws.conn.ReadMessage(); err != nil {
			if _, ok := err.(*websocket.CloseError); ok {
				ws.m.Lock()
				if !ws.closing {
					ws.closing = true
					log.Debug("client closes websocket, acknowledging close")
					_ = ws.conn.WriteMessage(
						websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
				}
				ws.m.Unlock()
			}
			return
		}
	}
}

// ClientGone returns a channel that is closed as soon as the client closed
// the stream or the connection broke.
func (ws *WritingServerWebsocket) ClientGone() <-chan struct{} {
	return ws.peerDone
}

// Write sends b as a single websocket message. On text streams, Write sends
// each complete line as its own message and buffers an incomplete last line
// until it is either completed or the stream gets closed.
func (ws *WritingServerWebsocket) Write(b []byte) (int, error) {
	ws.m.Lock()
	defer ws.m.Unlock()
	if ws.closing {
		return 0, ErrClosed
	}
	if ws.msgType == websocket.BinaryMessage {
		if err := ws.conn.WriteMessage(ws.msgType, b); err != nil {
			return 0, err
		}
		return len(b), nil
	}
	ws.partial = append(ws.partial, b...)
	for {
		eol := bytes.IndexByte(ws.partial, '\n')
		if eol < 0 {
			break
		}
		if err := ws.conn.WriteMessage(ws.msgType, ws.partial[:eol+1]); err != nil {
			return 0, err
		}
		ws.partial = ws.partial[eol+1:]
	}
	return len(b), nil
}

// flush sends what is left of an incomplete last text line; the caller must
// hold the lock.
func (ws *WritingServerWebsocket) flush() {
	if len(ws.partial) == 0 {
		return
	}
	_ = ws.conn.WriteMessage(ws.msgType, bytes.ToValidUTF8(ws.partial, []byte("\uFFFD")))
	ws.partial = nil
}

// Close gracefully closes the stream from the server side, waiting at most
// CloseTimeout for the client to acknowledge. Close is idempotent.
func (ws *WritingServerWebsocket) Close() error {
	return ws.CloseWith(websocket.CloseNormalClosure, "end of stream")
}

// CloseWith gracefully closes the stream using the specified close code and
// reason text, such as websocket.CloseInternalServerErr when a dump failed.
// Only the first close counts.
func (ws *WritingServerWebsocket) CloseWith(code int, text string) error {
	text = truncateReason(text)
	ws.closeOnce.Do(func() {
		ws.m.Lock()
		if !ws.closing {
			ws.closing = true
			ws.flush()
			_ = ws.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(code, text),
				time.Now().Add(time.Second))
		}
		ws.m.Unlock()
		select {
		case <-ws.peerDone:
		case <-time.After(CloseTimeout):
			log.Debug("client did not acknowledge websocket close; forced closed")
		}
		ws.conn.Close()
	})
	return nil
}

// truncateReason shortens a close reason to what fits into a close frame,
// without cutting a UTF-8 sequence in two.
func truncateReason(text string) string {
	if len(text) <= maxCloseReason {
		return text
	}
	n := maxCloseReason
	for n > 0 && !utf8.RuneStart(text[n]) {
		n--
	}
	return text[:n]
}
