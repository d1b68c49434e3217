package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"github.com/Readm/hart_sim/core"
	"github.com/Readm/hart_sim/visual"
)

// TraceSource serves the recorded rendezvous timeline.
type TraceSource interface {
	Since(seq int64) []core.HartEvent
	ForHart(h core.HartID) []core.HartEvent
}

// WebServer provides HTTP endpoints for visualization and control.
type WebServer struct {
	mu          sync.RWMutex
	latestFrame *Frame
	harts       int
	commands    CommandQueue
	trace       TraceSource
	hub         *wsHub
	server      *http.Server
	listener    net.Listener
}

// NewWebServer creates a new web server instance. Control requests are
// queued on commands; harts bounds the hart ids they may name.
func NewWebServer(addr string, harts int, commands CommandQueue, trace TraceSource) *WebServer {
	ws := &WebServer{
		harts:    harts,
		commands: commands,
		trace:    trace,
		hub:      newHub(),
	}
	ws.server = &http.Server{
		Addr:    addr,
		Handler: NewRouter(ws),
	}
	return ws
}

func (ws *WebServer) registerHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/api/frame", ws.handleFrame)
	mux.HandleFunc("/api/harts", ws.handleHarts)
	mux.HandleFunc("/api/trace", ws.handleTrace)
	mux.HandleFunc("/api/control", ws.handleControl)
	mux.HandleFunc("/api/configs", ws.handleConfigs)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.hub.handle(ws, w, r)
	})
}

// Start listens on the configured address and serves in a goroutine.
func (ws *WebServer) Start() error {
	ln, err := net.Listen("tcp", ws.server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", ws.server.Addr, err)
	}
	ws.listener = ln
	GetLogger().Infof("web server listening on %s", ln.Addr())
	go func() {
		if err := ws.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			GetLogger().Errorf("web server: %v", err)
		}
	}()
	return nil
}

// Shutdown stops the HTTP server and the websocket hub.
func (ws *WebServer) Shutdown(ctx context.Context) error {
	defer ws.hub.close()
	return ws.server.Shutdown(ctx)
}

// UpdateFrame stores the latest frame and streams it to websocket clients.
func (ws *WebServer) UpdateFrame(frame *Frame) {
	if frame == nil {
		return
	}
	ws.mu.Lock()
	ws.latestFrame = frame
	ws.mu.Unlock()
	ws.hub.broadcastFrame(frame)
}

// PublishEvent streams one rendezvous event to websocket clients.
func (ws *WebServer) PublishEvent(ev core.HartEvent) {
	ws.hub.broadcastEvent(ev)
}

// SetTrace sets the timeline served by /api/trace.
func (ws *WebServer) SetTrace(trace TraceSource) {
	ws.mu.Lock()
	ws.trace = trace
	ws.mu.Unlock()
}

func (ws *WebServer) traceSource() TraceSource {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.trace
}

func (ws *WebServer) frame() *Frame {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.latestFrame
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func (ws *WebServer) handleFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	frame := ws.frame()
	if frame == nil {
		http.Error(w, "No frame available", http.StatusNotFound)
		return
	}
	writeJSON(w, frame)
}

func (ws *WebServer) handleHarts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	frame := ws.frame()
	if frame == nil {
		http.Error(w, "No frame available", http.StatusNotFound)
		return
	}
	if q := r.URL.Query().Get("hart"); q != "" {
		h, err := ws.parseHart(q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, snap := range frame.Report.Harts {
			if snap.ID == h {
				writeJSON(w, snap)
				return
			}
		}
		http.Error(w, "No such hart", http.StatusNotFound)
		return
	}
	writeJSON(w, frame.Report.Harts)
}

func (ws *WebServer) handleTrace(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	trace := ws.traceSource()
	if trace == nil {
		http.Error(w, "No trace available", http.StatusNotFound)
		return
	}
	q := r.URL.Query()
	if hs := q.Get("hart"); hs != "" {
		h, err := ws.parseHart(hs)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, trace.ForHart(h))
		return
	}
	var since int64
	if s := q.Get("since"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v < 0 {
			http.Error(w, "Invalid since", http.StatusBadRequest)
			return
		}
		since = v
	}
	writeJSON(w, trace.Since(since))
}

type configSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Harts       int    `json:"harts"`
}

func (ws *WebServer) handleConfigs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	configs := GetPredefinedConfigs()
	out := make([]configSummary, 0, len(configs))
	for _, c := range configs {
		out = append(out, configSummary{Name: c.Name, Description: c.Description, Harts: c.Harts})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	writeJSON(w, out)
}

type controlRequest struct {
	Type  string `json:"type"`
	Hart  *int   `json:"hart,omitempty"`
	Key   string `json:"key,omitempty"`
	Value uint64 `json:"value,omitempty"`
}

func (ws *WebServer) handleControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	cmd, err := ws.processControlRequest(&req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !ws.queueCommand(*cmd) {
		http.Error(w, "Command queue full", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte("Command accepted"))
}

func (ws *WebServer) processControlRequest(req *controlRequest) (*visual.ControlCommand, error) {
	cmd := &visual.ControlCommand{Type: visual.ControlCommandType(req.Type)}
	switch cmd.Type {
	case visual.CommandRaise:
		if req.Hart == nil {
			return nil, &validationError{msg: "raise needs a hart"}
		}
		h := core.HartID(*req.Hart)
		if !h.Valid(ws.harts) {
			return nil, &validationError{msg: fmt.Sprintf("hart %d outside [0,%d)", h, ws.harts)}
		}
		cmd.Hart = h
	case visual.CommandPublish:
		if req.Key == "" {
			return nil, &validationError{msg: "publish needs a key"}
		}
		cmd.Key = req.Key
		cmd.Value = req.Value
	case visual.CommandStatus, visual.CommandStop:
	default:
		return nil, &validationError{msg: "Invalid command type"}
	}
	return cmd, nil
}

func (ws *WebServer) queueCommand(cmd visual.ControlCommand) bool {
	if ws.commands == nil {
		return false
	}
	return ws.commands.Enqueue(cmd)
}

func (ws *WebServer) parseHart(s string) (core.HartID, error) {
	v, err := strconv.Atoi(s)
	if err != nil || !core.HartID(v).Valid(ws.harts) {
		return 0, &validationError{msg: fmt.Sprintf("invalid hart %q", s)}
	}
	return core.HartID(v), nil
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
