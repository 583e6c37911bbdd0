package web

import (
	"net/http"
	"time"

	"github.com/Bucknalla/go-geomessage-simulator/gps"
)

// writeWait bounds every websocket write made while holding the client
// lock.
var writeWait = 2 * time.Second

type message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.lg.Warnf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.mu.Lock()
	s.clients[conn] = true
	n := len(s.clients)
	// Send current status immediately
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = conn.WriteJSON(message{Type: "status", Data: s.sched.Status()})
	s.mu.Unlock()
	s.lg.Info("websocket client connected", "clients", n)
	if err != nil {
		s.lg.Warnf("error sending status: %v", err)
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.mu.Lock()
	delete(s.clients, conn)
	n = len(s.clients)
	s.mu.Unlock()
	s.lg.Info("websocket client disconnected", "clients", n)
}

// OnEvent forwards a replayed position to every websocket client. Clients
// that fail a write are dropped.
func (s *Server) OnEvent(ev gps.PositionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := message{Type: "position", Data: ev}
	for client := range s.clients {
		_ = client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.WriteJSON(msg); err != nil {
			s.lg.Warnf("websocket write error: %v", err)
			client.Close()
			delete(s.clients, client)
		}
	}
	return nil
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for client := range s.clients {
		client.Close()
		delete(s.clients, client)
	}
}
