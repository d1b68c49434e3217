package main

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/Readm/hart_sim/core"
)

type wsMessage struct {
	Kind  string          `json:"kind"`
	Frame *Frame          `json:"frame,omitempty"`
	Event *core.HartEvent `json:"event,omitempty"`
}

type wsHub struct {
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	register  chan *websocket.Conn
	remove    chan *websocket.Conn
	broadcast chan []byte
	quit      chan struct{}
	closeOnce sync.Once
}

func newHub() *wsHub {
	hub := &wsHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:   make(map[*websocket.Conn]bool),
		register:  make(chan *websocket.Conn),
		remove:    make(chan *websocket.Conn),
		broadcast: make(chan []byte, 64),
		quit:      make(chan struct{}),
	}
	go hub.run()
	return hub
}

func (h *wsHub) run() {
	for {
		select {
		case conn := <-h.register:
			h.clients[conn] = true
		case conn := <-h.remove:
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
		case msg := <-h.broadcast:
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					GetLogger().Warnf("Failed to send to WebSocket client: %v", err)
					delete(h.clients, conn)
					conn.Close()
				}
			}
		case <-h.quit:
			for conn := range h.clients {
				conn.Close()
			}
			h.clients = map[*websocket.Conn]bool{}
			return
		}
	}
}

func (h *wsHub) close() {
	h.closeOnce.Do(func() { close(h.quit) })
}

func (h *wsHub) handle(ws *WebServer, w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		GetLogger().Errorf("WebSocket upgrade failed: %v", err)
		return
	}

	// The latest frame goes out before registration so the hub loop is the
	// only writer once the client is registered.
	if frame := ws.frame(); frame != nil {
		if data, err := json.Marshal(wsMessage{Kind: "frame", Frame: frame}); err == nil {
			conn.WriteMessage(websocket.TextMessage, data)
		}
	}
	select {
	case h.register <- conn:
	case <-h.quit:
		conn.Close()
		return
	}

	go func() {
		defer func() {
			select {
			case h.remove <- conn:
			case <-h.quit:
			}
		}()
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					GetLogger().Warnf("WebSocket error: %v", err)
				}
				break
			}

			var req controlRequest
			if err := json.Unmarshal(message, &req); err == nil {
				if cmd, err := ws.processControlRequest(&req); err == nil {
					ws.queueCommand(*cmd)
				} else {
					GetLogger().Warnf("WebSocket control rejected: %v", err)
				}
			}
		}
	}()
}

func (h *wsHub) send(msg wsMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		GetLogger().Errorf("Failed to marshal %s for WebSocket: %v", msg.Kind, err)
		return
	}
	// Events are sent from hart hooks and must not block.
	select {
	case h.broadcast <- data:
	default:
		GetLogger().Debugf("WebSocket backlog full, dropping %s", msg.Kind)
	}
}

func (h *wsHub) broadcastFrame(frame *Frame) {
	if frame == nil {
		return
	}
	h.send(wsMessage{Kind: "frame", Frame: frame})
}

func (h *wsHub) broadcastEvent(ev core.HartEvent) {
	h.send(wsMessage{Kind: "event", Event: &ev})
}
