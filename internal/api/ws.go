package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"mapahead/internal/discover"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type    string          `json:"type"`
	RouteID string          `json:"routeId,omitempty"`
	Event   *discover.Event `json:"event,omitempty"`
	Message string          `json:"message,omitempty"`
}

// WSHandler handles GET /v1/ws?routeId=... It upgrades to a WebSocket and
// forwards the route's discovery events, so a second client can watch a run
// another client triggered over SSE. Pings keep the connection alive; the
// read loop only exists to notice the peer going away.
func (s *Server) WSHandler(w http.ResponseWriter, r *http.Request) {
	routeID := r.URL.Query().Get("routeId")
	if routeID == "" {
		writeProblem(w, http.StatusBadRequest, "Missing routeId", "query parameter routeId required", r.URL.Path)
		return
	}
	if _, err := s.Store.Get(routeID); err != nil {
		writeProblem(w, http.StatusNotFound, "Route not found", err.Error(), r.URL.Path)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	var wmu sync.Mutex
	write := func(v any) error {
		wmu.Lock()
		defer wmu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v)
	}
	_ = write(wsMessage{Type: "ack", RouteID: routeID})

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ch := s.Broker.Subscribe(routeID)
	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			s.Broker.Unsubscribe(routeID, ch)
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := write(wsMessage{Type: "event", RouteID: routeID, Event: &evt}); err != nil {
				s.Broker.Unsubscribe(routeID, ch)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				s.Broker.Unsubscribe(routeID, ch)
				return
			}
		}
	}
}
