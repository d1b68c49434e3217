package main

import (
	"net/http"
	"time"
)

// Router wires HTTP/WS handlers for the server and logs each request at
// debug level.
type Router struct {
	mux *http.ServeMux
}

// NewRouter constructs router with provided handlers.
func NewRouter(server *WebServer) *Router {
	mux := http.NewServeMux()
	server.registerHandlers(mux)
	return &Router{mux: mux}
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if r == nil || r.mux == nil {
		http.NotFound(w, req)
		return
	}
	start := time.Now()
	r.mux.ServeHTTP(w, req)
	GetLogger().Debugf("%s %s (%s)", req.Method, req.URL.Path, time.Since(start))
}
