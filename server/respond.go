// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/siemens/svcdebug"
	"github.com/siemens/svcdebug/api"
	"github.com/siemens/svcdebug/hostrepo"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("cannot encode response: %s", err.Error())
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, api.DetailResponse{Detail: detail})
}

// writeError maps errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var verr *api.ValidationError
	var terr *svcdebug.TaskNotFoundError
	switch {
	case errors.Is(err, hostrepo.ErrHostNotFound):
		writeDetail(w, http.StatusNotFound, "Host not found")
	case errors.As(err, &terr):
		writeDetail(w, http.StatusNotFound, terr.Error())
	case errors.As(err, &verr):
		writeDetail(w, http.StatusUnprocessableEntity, verr.Error())
	default:
		log.Errorf("request failed: %s", err.Error())
		writeDetail(w, http.StatusInternalServerError, err.Error())
	}
}

// decode decodes the JSON request body into v, answering with 400 on
// malformed bodies.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// hostID returns the host ID from the URL path, answering with 422 on
// malformed IDs.
func hostID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "host_id"))
	if err != nil {
		writeError(w, &api.ValidationError{Fields: map[string]string{
			"host_id": "must be an integer"}})
		return 0, false
	}
	return id, true
}
