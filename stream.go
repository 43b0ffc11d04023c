// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

// Receiving live dump streams via websockets.

package svcdebug

import (
	"io"
	"os"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/siemens/svcdebug/websock"
)

// StreamReceiver gives control over an individual live dump stream.
type StreamReceiver interface {
	// Stop this stream in an orderly manner. This operation will block until
	// the stream has finally terminated. It is also idempotent.
	Stop()
	// Wait for the stream to terminate, but do not initiate the termination.
	Wait()
	// StopAfter waits the specified duration for the stream to terminate, and
	// terminates it after the duration if necessary.
	StopAfter(d time.Duration)
}

// streamReceiver is the implementation of the StreamReceiver interface.
type streamReceiver struct {
	// The (wrapped) websocket for the dump stream.
	cws *websock.ReadingClientWebsocket
	// Signals that the stream finally has ended.
	done chan struct{}
}

// Stop the stream and wait for it to gracefully terminate. See also Wait() for
// the usecase where a go routine needs to wait for the stream to terminate,
// but will not initiate the termination itself.
func (sr *streamReceiver) Stop() {
	sr.cws.Close()
	<-sr.done
}

// Wait for the stream to terminate, without initiating it. See also Stop().
func (sr *streamReceiver) Wait() {
	<-sr.done
}

// StopAfter waits for the stream to terminate and terminates it after the
// specified duration if necessary.
func (sr *streamReceiver) StopAfter(d time.Duration) {
	select {
	case <-sr.done:
		// We're toast.
	case <-time.After(d):
		sr.Stop()
	}
}

// ReceiveStream is a low-level function most svcdebug package users WON'T
// use; instead, use the Client's Capture and FollowLog methods.
//
// ReceiveStream needs to be given an already successfully connected websocket
// and then in the background streams the incoming dump data into the given
// Writer, until either the websocket or the writer breaks.
func ReceiveStream(w io.Writer, ws *websocket.Conn) StreamReceiver {
	sr := &streamReceiver{
		// Wrap the websocket connection into something more "graceful" when it
		// comes to websocket closing.
		cws:  websock.NewReadingClient(ws),
		done: make(chan struct{}),
	}
	go func() {
		defer close(sr.done)
		for {
			data, err := sr.cws.Read()
			if err != nil {
				log.Debugf("websocket dump stream ended: %s", err.Error())
				return
			}
			_, err = w.Write(data)
			if err == nil {
				continue
			}
			if perr, ok := err.(*os.PathError); ok && perr.Err == os.ErrClosed {
				log.Errorf("stream writer is fed up and does not accept any more data.")
			} else {
				log.Errorf("stream writer failed: %s", err.Error())
			}
			// We need to read further from the websocket in order to keep the
			// control message interaction going during the graceful close.
			// It's just that we're throwing away any data that might still
			// arrive because it was already in flight.
			go func() {
				log.Debug("draining websocket...")
				for {
					if _, err := sr.cws.Read(); err != nil {
						break
					}
				}
				log.Debug("...drained")
			}()
			sr.cws.Close()
			return
		}
	}()
	return sr
}
