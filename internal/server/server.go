// Package server sets up the HTTP router, middleware, and debug/health
// handlers for gsbd.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/howard-nolan/gsb"
	"github.com/howard-nolan/gsb/internal/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server holds the HTTP router and the dependencies its debug handlers
// need: the config that's actually running, the router being
// introspected, and a live broker connection to report liveness for.
type Server struct {
	router chi.Router
	cfg    *config.Config
	gsb    *gsb.Router
	conn   *gsb.ConnectionRef
}

// New creates a Server, wires up routes and middleware, and returns it
// ready to use as an http.Handler. conn may be nil if the daemon never
// managed to dial the broker; handlers degrade gracefully.
func New(cfg *config.Config, router *gsb.Router, conn *gsb.ConnectionRef) *Server {
	s := &Server{cfg: cfg, gsb: router, conn: conn}
	s.routes()
	return s
}

// routes builds the chi router with all middleware and route
// definitions, gathered in one method so the routing table is easy to
// scan.
func (s *Server) routes() {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/debug/bindings", s.handleBindings)
	r.Handle("/metrics", promhttp.Handler())

	s.router = r
}

// ServeHTTP makes Server satisfy the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
