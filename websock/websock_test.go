// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package websock

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func dial(url string) *ReadingClientWebsocket {
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http"), nil)
	Expect(err).NotTo(HaveOccurred())
	return NewReadingClient(conn)
}

var _ = Describe("graceful websockets", func() {

	It("streams until the server closes", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ws, err := Upgrade(w, r, true)
			if err != nil {
				return
			}
			for _, msg := range []string{"one", "two", "three"} {
				if _, err := ws.Write([]byte(msg)); err != nil {
					return
				}
			}
			ws.Close()
		}))
		defer srv.Close()

		cws := dial(srv.URL)
		received := []string{}
		var err error
		for {
			var data []byte
			if data, err = cws.Read(); err != nil {
				break
			}
			received = append(received, string(data))
		}
		Expect(received).To(Equal([]string{"one", "two", "three"}))
		Expect(err).To(BeAssignableToTypeOf(&websocket.CloseError{}))
		Expect(cws.Closing()).To(BeTrue())
		Eventually(cws.Done()).Should(BeClosed())
	})

	It("lets the client stop the stream", func() {
		gone := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ws, err := Upgrade(w, r, false)
			if err != nil {
				return
			}
			defer close(gone)
			for {
				select {
				case <-ws.ClientGone():
					_, err := ws.Write([]byte("late"))
					Expect(err).To(HaveOccurred())
					ws.Close()
					return
				case <-time.After(10 * time.Millisecond):
					_, _ = ws.Write([]byte("tick\n"))
				}
			}
		}))
		defer srv.Close()

		cws := dial(srv.URL)
		data, err := cws.Read()
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("tick\n"))
		go func() {
			defer GinkgoRecover()
			for {
				if _, err := cws.Read(); err != nil {
					return
				}
			}
		}()
		cws.Close()
		Eventually(gone).Should(BeClosed())
	})

	It("passes close reasons to the client", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ws, err := Upgrade(w, r, true)
			if err != nil {
				return
			}
			ws.CloseWith(websocket.CloseInternalServerErr, strings.Repeat("x", 200))
			ws.Close()
		}))
		defer srv.Close()

		cws := dial(srv.URL)
		_, err := cws.Read()
		Expect(err).To(BeAssignableToTypeOf(&websocket.CloseError{}))
		cerr := err.(*websocket.CloseError)
		Expect(cerr.Code).To(Equal(websocket.CloseInternalServerErr))
		Expect(cerr.Text).To(HaveLen(maxCloseReason))
	})

	It("sends text streams line by line", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ws, err := Upgrade(w, r, false)
			if err != nil {
				return
			}
			euro := []byte("€ 1\n€ 2\n€")
			// split inside euro signs, with an incomplete last line.
			for _, chunk := range [][]byte{euro[:1], euro[1:7], euro[7:13]} {
				if _, err := ws.Write(chunk); err != nil {
					return
				}
			}
			ws.Close()
		}))
		defer srv.Close()

		cws := dial(srv.URL)
		received := []string{}
		for {
			data, err := cws.Read()
			if err != nil {
				break
			}
			Expect(utf8.Valid(data)).To(BeTrue())
			received = append(received, string(data))
		}
		Expect(received).To(Equal([]string{"€ 1\n", "€ 2\n", "\uFFFD"}))
	})

	It("truncates close reasons on rune boundaries", func() {
		Expect(truncateReason("short")).To(Equal("short"))
		reason := truncateReason(strings.Repeat("x", maxCloseReason-1) + "äöü")
		Expect(reason).To(Equal(strings.Repeat("x", maxCloseReason-1)))
		Expect(utf8.ValidString(reason)).To(BeTrue())
		Expect(truncateReason(strings.Repeat("ä", 100))).To(HaveLen(maxCloseReason - 1))
	})

})
