// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/siemens/svcdebug/api"
)

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tasks.Tasks())
}

func (s *Server) startTask(w http.ResponseWriter, r *http.Request) {
	var req api.TaskRequest
	if !decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, err)
		return
	}
	host, err := s.hosts.Get(req.HostID)
	if err != nil {
		writeError(w, err)
		return
	}
	task, err := s.tasks.Start(host, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.TaskInfo(chi.URLParam(r, "task_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) stopTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.StopTask(chi.URLParam(r, "task_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}
