// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/siemens/svcdebug"
	"github.com/siemens/svcdebug/api"
	"github.com/siemens/svcdebug/sshconn"
	"github.com/siemens/svcdebug/websock"
)

// streamHost looks up the host of a stream request, answering with an error
// if necessary.
func (s *Server) streamHost(w http.ResponseWriter, r *http.Request) (*api.Host, bool) {
	id, ok := hostID(w, r)
	if !ok {
		return nil, false
	}
	host, err := s.hosts.Get(id)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return host, true
}

func (s *Server) captureStream(w http.ResponseWriter, r *http.Request) {
	host, ok := s.streamHost(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	opts := &svcdebug.PcapOptions{
		Interface: query.Get("interface"),
		Filter:    query.Get("filter"),
		Format:    api.PcapFormat(query.Get("format")),
	}
	switch opts.Format {
	case "":
		opts.Format = api.FormatPcapng
	case api.FormatPcap, api.FormatPcapng:
	default:
		writeError(w, &api.ValidationError{Fields: map[string]string{
			"format": "must be either pcap or pcapng"}})
		return
	}
	ws, err := websock.Upgrade(w, r, true)
	if err != nil {
		log.Errorf("capture stream: %s", err.Error())
		return
	}
	name := fmt.Sprintf("stream.pcap_%s", sshconn.RandomID(api.TaskIDLen))
	s.stream(ws, svcdebug.NewPcapDump(name, host, ws, opts, s.ssh))
}

func (s *Server) logStream(w http.ResponseWriter, r *http.Request) {
	host, ok := s.streamHost(w, r)
	if !ok {
		return
	}
	file := r.URL.Query().Get("file")
	if file == "" {
		writeError(w, &api.ValidationError{Fields: map[string]string{
			"file": "must not be empty"}})
		return
	}
	ws, err := websock.Upgrade(w, r, false)
	if err != nil {
		log.Errorf("log stream: %s", err.Error())
		return
	}
	name := fmt.Sprintf("stream.log_%s", sshconn.RandomID(api.TaskIDLen))
	s.stream(ws, svcdebug.NewLogDump(name, host, ws, file, s.ssh))
}

// stream runs the dumper until either the client goes away or the remote
// command terminates.
func (s *Server) stream(ws *websock.WritingServerWebsocket, d *svcdebug.Dumper) {
	if err := d.Start(); err != nil {
		_ = ws.CloseWith(websocket.CloseInternalServerErr, err.Error())
		return
	}
	select {
	case <-ws.ClientGone():
		d.Stop()
	case <-d.Done():
	}
	if err := d.Err(); err != nil {
		_ = ws.CloseWith(websocket.CloseInternalServerErr, err.Error())
		return
	}
	_ = ws.Close()
}
