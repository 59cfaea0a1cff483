package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"dockpulse/internal/models"
)

// wsConn adapts a gorilla connection to hub.Conn. The hub serializes writes;
// ping uses WriteControl, which gorilla allows concurrently.
type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) WriteMessage(ctx context.Context, data []byte) error {
	dl, _ := ctx.Deadline()
	if err := c.ws.SetWriteDeadline(dl); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error { return c.ws.Close() }

func (c *wsConn) ping(timeout time.Duration) error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout))
}

type inbound struct {
	Type string `json:"type"`
}

// handleWebSocket serves one viewer. Pushes come from the hub; this loop
// only answers pings and checks liveness every viewer timeout. Without any
// inbound traffic for the idle timeout the read fails and the session ends.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	conn := &wsConn{ws: ws}
	if err := s.hub.Register(conn); err != nil {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
		_ = ws.Close()
		return
	}
	defer s.hub.Deregister(conn)
	ctx := r.Context()
	s.log.Debug("viewer connected", "remote", r.RemoteAddr, "viewers", s.hub.Count())

	if snap, ok := s.snaps.Latest(); ok {
		if err := s.hub.Send(ctx, conn, models.Message{Type: models.MessageSystemMetrics, Data: snap.Host}); err != nil {
			return
		}
		if err := s.hub.Send(ctx, conn, models.Message{Type: models.MessageEntityStats, Data: snap.Entities}); err != nil {
			return
		}
	}

	idle := s.opts.IdleTimeout
	_ = ws.SetReadDeadline(time.Now().Add(idle))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(idle))
	})

	done := make(chan struct{})
	defer close(done)
	frames := make(chan []byte)
	go func() {
		defer close(frames)
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			_ = ws.SetReadDeadline(time.Now().Add(idle))
			select {
			case frames <- data:
			case <-done:
				return
			}
		}
	}()

	ticker := time.NewTicker(s.opts.ViewerTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-frames:
			if !ok {
				s.log.Debug("viewer disconnected", "remote", r.RemoteAddr)
				return
			}
			var msg inbound
			if json.Unmarshal(data, &msg) != nil || msg.Type != "ping" {
				continue
			}
			if err := s.hub.Send(ctx, conn, models.Message{Type: models.MessagePong}); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.ping(s.opts.WriteTimeout); err != nil {
				s.log.Debug("viewer liveness check failed", "remote", r.RemoteAddr, "err", err)
				return
			}
		}
	}
}
