package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/papercomputeco/sseview/pkg/aggregator"
	"github.com/papercomputeco/sseview/pkg/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	maxRequestBytes = 4096
)

// observerConn couples an observer websocket with its aggregator
// subscription. Only writePump writes to the socket.
type observerConn struct {
	ws       *websocket.Conn
	observer *aggregator.Observer
	replies  chan protocol.Notification
	stopped  chan struct{}
}

// handleObserve upgrades to a websocket speaking the observer protocol for
// one browsing context ("*" for every context). Requests are answered on the
// same socket; registry mutations are pushed as they happen.
func (s *Server) handleObserve(w http.ResponseWriter, r *http.Request) {
	contextID := r.PathValue("context")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade observer websocket", "context", contextID, "error", err)
		return
	}

	ctx := r.Context()
	obs, err := s.aggregator.Subscribe(ctx, contextID)
	if err != nil {
		s.logger.Warn("failed to subscribe observer", "context", contextID, "error", err)
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(writeWait),
		)
		conn.Close()
		return
	}

	s.logger.Debug("observer connected", "context", contextID, "remote", r.RemoteAddr)

	c := &observerConn{
		ws:       conn,
		observer: obs,
		replies:  make(chan protocol.Notification, 16),
		stopped:  make(chan struct{}),
	}

	go c.writePump()
	s.readPump(ctx, c)

	s.logger.Debug("observer disconnected", "context", contextID, "remote", r.RemoteAddr)
}

// readPump answers observer requests until the socket fails, then drops the
// subscription, which in turn stops writePump.
func (s *Server) readPump(ctx context.Context, c *observerConn) {
	defer func() {
		if err := s.aggregator.Unsubscribe(context.WithoutCancel(ctx), c.observer); err != nil {
			s.logger.Warn("failed to unsubscribe observer", "context", c.observer.ContextID(), "error", err)
		}
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxRequestBytes)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	contextID := c.observer.ContextID()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("observer websocket error", "context", contextID, "error", err)
			}
			return
		}

		select {
		case c.replies <- s.answer(ctx, contextID, data):
		case <-c.stopped:
			return
		}
	}
}

func (s *Server) answer(ctx context.Context, contextID string, data []byte) protocol.Notification {
	var req protocol.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return protocol.ErrorNotification(contextID, err)
	}

	reply, err := s.aggregator.Handle(ctx, contextID, req)
	if err != nil {
		return protocol.ErrorNotification(contextID, err)
	}
	return reply
}

// writePump serializes replies, pushed notifications and pings onto the
// socket. It exits when the subscription ends or a write fails.
func (c *observerConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(c.stopped)
		c.ws.Close()
	}()

	for {
		select {
		case n, ok := <-c.observer.Notifications():
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteJSON(n); err != nil {
				return
			}

		case n := <-c.replies:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(n); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
