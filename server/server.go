// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

/*
Package server implements the REST API and the live dump streams of the
services debugger.

Hosts are managed at "/api/v1/hosts" and dump tasks writing into files at
"/api/v1/tasks". Live streams are websockets at
"/api/v1/hosts/{host_id}/capture" (binary pcapng messages) and
"/api/v1/hosts/{host_id}/logs" (text messages). Every stream runs its own
remote dump for as long as the client keeps the websocket open.
*/
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/siemens/svcdebug"
	"github.com/siemens/svcdebug/hostrepo"
	"github.com/siemens/svcdebug/sshconn"
)

// Server serves the services debugger API.
type Server struct {
	hosts  *hostrepo.Repository
	tasks  *svcdebug.TaskManager
	ssh    *sshconn.Manager
	token  string
	router chi.Router
}

// New returns a new API server for the specified host repository and task
// manager, leasing SSH connections for live streams from the specified
// connection manager. A non-empty token requires clients to authenticate
// using this bearer token.
func New(hosts *hostrepo.Repository, tasks *svcdebug.TaskManager, ssh *sshconn.Manager, token string) *Server {
	s := &Server{
		hosts: hosts,
		tasks: tasks,
		ssh:   ssh,
		token: token,
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler of the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Route("/hosts", func(r chi.Router) {
			r.Get("/", s.listHosts)
			r.Post("/", s.addHost)
			r.Get("/{host_id}", s.getHost)
			r.Put("/{host_id}", s.updateHost)
			r.Delete("/{host_id}", s.deleteHost)
			r.Get("/{host_id}/capture", s.captureStream)
			r.Get("/{host_id}/logs", s.logStream)
		})
		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.listTasks)
			r.Post("/", s.startTask)
			r.Get("/{task_id}", s.getTask)
			r.Delete("/{task_id}", s.stopTask)
		})
	})
	return r
}

// authenticate checks the bearer token, if required.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
			writeDetail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs served requests via logrus.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			log.WithFields(log.Fields{
				"request": middleware.GetReqID(r.Context()),
				"remote":  r.RemoteAddr,
				"status":  ww.Status(),
				"bytes":   ww.BytesWritten(),
				"elapsed": time.Since(start),
			}).Infof("%s %s", r.Method, r.URL.Path)
		}()
		next.ServeHTTP(ww, r)
	})
}

// ListenAndServe serves the API on the specified address until the context
// gets cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errch := make(chan error, 1)
	go func() {
		log.Infof("serving services debugger API on %s", addr)
		errch <- srv.ListenAndServe()
	}()
	select {
	case err := <-errch:
		return errors.Wrap(err, "cannot serve API")
	case <-ctx.Done():
	}
	log.Info("shutting down API server")
	shutdownctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownctx); err != nil {
		return errors.Wrap(err, "cannot shut down API server")
	}
	return nil
}
