// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package server

import (
	"net/http"

	"github.com/siemens/svcdebug/api"
)

func (s *Server) listHosts(w http.ResponseWriter, r *http.Request) {
	hosts, err := s.hosts.All()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hosts)
}

func (s *Server) addHost(w http.ResponseWriter, r *http.Request) {
	var host api.Host
	if !decode(w, r, &host) {
		return
	}
	if err := host.Validate(); err != nil {
		writeError(w, err)
		return
	}
	id, err := s.hosts.Add(&host)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.IDResponse{ID: id})
}

func (s *Server) getHost(w http.ResponseWriter, r *http.Request) {
	id, ok := hostID(w, r)
	if !ok {
		return
	}
	host, err := s.hosts.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, host)
}

func (s *Server) updateHost(w http.ResponseWriter, r *http.Request) {
	id, ok := hostID(w, r)
	if !ok {
		return
	}
	var host api.Host
	if !decode(w, r, &host) {
		return
	}
	if err := host.Validate(); err != nil {
		writeError(w, err)
		return
	}
	if err := s.hosts.Update(id, &host); err != nil {
		writeError(w, err)
		return
	}
	writeDetail(w, http.StatusOK, "Updated")
}

func (s *Server) deleteHost(w http.ResponseWriter, r *http.Request) {
	id, ok := hostID(w, r)
	if !ok {
		return
	}
	if err := s.hosts.Delete(id); err != nil {
		writeError(w, err)
		return
	}
	writeDetail(w, http.StatusOK, "Deleted")
}
