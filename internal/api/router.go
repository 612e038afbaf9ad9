package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/endpoint-cloud/internal/topology"
)

// Router paths that are not part of the topology.
const (
	pathHealth  = "/health"
	pathOutputs = "/outputs"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Get(pathHealth, s.handleHealth)
	r.Get(pathOutputs, s.handleOutputs)
	r.Get(s.wsPath(), s.handleWebSocket)

	for _, route := range s.topo.Routes() {
		s.mount(r, route)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeNotFound(w, fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow,
			fmt.Sprintf("%s is not allowed on %s", r.Method, r.URL.Path))
	})

	return r
}

// mount registers every method of a route against its integration handler.
// The request reaches the handler unchanged.
func (s *Server) mount(r chi.Router, route topology.Route) {
	h := s.handlers[route.Integration]
	if route.Authorization == topology.AuthSigned && s.secCfg.Authorizer.Enabled {
		h = s.signedIdentity(route, h)
	}
	for _, method := range route.Methods {
		r.Method(method, route.Path, h)
	}
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"version":    s.version,
		"ws_clients": s.hub.ClientCount(),
	})
}

// handleOutputs returns the published configuration outputs.
func (s *Server) handleOutputs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.topo.OutputMap())
}
