package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

const clientBuffer = 64

// Server exposes the event bus over WebSocket so external UIs can
// observe ticket, message, and campaign events live.
type Server struct {
	bus    *Bus
	nextID atomic.Int64
}

// NewServer wraps a bus into an HTTP handler.
func NewServer(bus *Bus) *Server {
	return &Server{bus: bus}
}

// ServeHTTP upgrades the request and streams events until the client
// disconnects. Slow clients are dropped rather than backpressuring the
// engine.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("events: websocket accept failed", "error", err)
		return
	}

	subID := "ws-" + strconv.FormatInt(s.nextID.Add(1), 10)

	ch := make(chan Event, clientBuffer)
	s.bus.Subscribe(subID, func(ev Event) {
		select {
		case ch <- ev:
		default:
			// client too slow, skip this event for it
		}
	})
	defer s.bus.Unsubscribe(subID)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev := <-ch:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				conn.Close(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}
