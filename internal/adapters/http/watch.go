package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/videocall/internal/adapters/wire"
	"github.com/dkeye/videocall/internal/core"
	"github.com/dkeye/videocall/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// watchConn is one watch stream. Frames go through a bounded queue drained
// by writePump; a client too slow to keep up is disconnected.
type watchConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *watchConn) trySend(f []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *watchConn) sendJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.trySend(b)
}

// close ends the stream; writePump flushes a close frame and drops the socket.
func (c *watchConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (h *RoomsController) writePump(ctx context.Context, c *watchConn) {
	ping := h.PingPeriod
	if ping <= 0 {
		ping = 54 * time.Second
	}
	ticker := time.NewTicker(ping)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "adapters.http").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "watch ended"),
					time.Now().Add(time.Second))
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

// readPump only watches for the client going away; watch streams carry no
// client frames.
func (h *RoomsController) readPump(c *watchConn) {
	c.conn.SetReadLimit(h.readLimit())
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// serveWatch upgrades the request, opens the subscription through subscribe
// and keeps the stream until either side ends it.
func (h *RoomsController) serveWatch(c *gin.Context, subscribe func(ctx context.Context, push func(wire.WatchEvent)) (core.Subscription, error)) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("ws upgrade")
		return
	}
	conn := &watchConn{conn: ws, send: make(chan []byte, 256)}

	ctx, cancel := context.WithCancel(h.baseContext())
	defer cancel()
	go h.writePump(ctx, conn)

	// events can arrive before subscribe returns; they wait for the ready frame
	ready := make(chan struct{})
	push := func(ev wire.WatchEvent) {
		select {
		case <-ready:
		case <-ctx.Done():
			return
		}
		if err := conn.sendJSON(ev); err != nil {
			log.Warn().Err(err).Str("module", "adapters.http").Msg("watch client too slow, closing")
			conn.close()
		}
	}

	sub, err := subscribe(c.Request.Context(), push)
	if err != nil {
		_ = conn.sendJSON(wire.WatchEvent{Type: wire.EventError, Error: wire.CodeFor(err)})
		conn.close()
		return
	}
	defer sub.Cancel()
	_ = conn.sendJSON(wire.WatchEvent{Type: wire.EventReady})
	close(ready)

	// the store ends the subscription when the room goes away
	go func() {
		select {
		case <-sub.Done():
			conn.close()
		case <-ctx.Done():
		}
	}()

	h.readPump(conn)
	conn.close()
}

func (h *RoomsController) baseContext() context.Context {
	if h.ctx != nil {
		return h.ctx
	}
	return context.Background()
}

func (h *RoomsController) WatchCandidates(c *gin.Context) {
	l, err := domain.ParseCandidateLog(c.Param("log"))
	if err != nil {
		badRequest(c, wire.CodeBadLog)
		return
	}
	id := roomID(c)
	log.Info().Str("module", "adapters.http").Str("room", string(id)).Str("log", string(l)).Msg("candidate watch opened")
	h.serveWatch(c, func(ctx context.Context, push func(wire.WatchEvent)) (core.Subscription, error) {
		return h.Store.WatchCandidates(ctx, id, l, func(rec domain.CandidateRecord) {
			push(wire.WatchEvent{Type: wire.EventCandidate, Candidate: &rec})
		})
	})
}

func (h *RoomsController) WatchRoom(c *gin.Context) {
	id := roomID(c)
	log.Info().Str("module", "adapters.http").Str("room", string(id)).Msg("room watch opened")
	h.serveWatch(c, func(ctx context.Context, push func(wire.WatchEvent)) (core.Subscription, error) {
		return h.Store.WatchRoom(ctx, id, func(room domain.Room) {
			push(wire.WatchEvent{Type: wire.EventRoom, Room: &room})
		})
	})
}
