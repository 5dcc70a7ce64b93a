package api

import (
    "net/http"
    "time"

    "github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
    Type string         `json:"type"`
    Data map[string]any `json:"data,omitempty"`
}

// StreamHandler handles GET /v1/deliveries/stream: a WebSocket feed of
// delivery status events for the caller's organization.
func (s *Server) StreamHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    conn, err := upgrader.Upgrade(w, r, nil)
    if err != nil {
        return
    }
    defer func() { _ = conn.Close() }()

    conn.SetReadLimit(1 << 20)
    _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
    conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

    ch := s.Broker.Subscribe(p.Org)
    defer s.Broker.Unsubscribe(p.Org, ch)

    // Discard client frames; their only purpose is pong/close detection.
    done := make(chan struct{})
    go func() {
        defer close(done)
        for {
            if _, _, err := conn.ReadMessage(); err != nil {
                return
            }
        }
    }()

    ping := time.NewTicker(20 * time.Second)
    defer ping.Stop()
    for {
        select {
        case <-done:
            return
        case <-ping.C:
            if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
                return
            }
        case evt, ok := <-ch:
            if !ok {
                return
            }
            if err := conn.WriteJSON(wsMessage{Type: evt.Type, Data: evt.Data}); err != nil {
                return
            }
        }
    }
}
