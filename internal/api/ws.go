package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/menubuilder/offline-gateway/internal/events"
	"github.com/menubuilder/offline-gateway/internal/logger"
	"github.com/menubuilder/offline-gateway/internal/messaging"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10 // must be < wsPongWait
	wsMaxMsgSize = 1 << 20
	// wsSendBuffer is the per-client outbox. Events for a client whose outbox
	// is full are dropped.
	wsSendBuffer = 64
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser client
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	},
}

// wsClient is one connected page. Everything written to conn goes through
// send so the writer goroutine is the only writer.
type wsClient struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// enqueue queues msg for the client, waiting until ctx ends or the client
// goes away.
func (c *wsClient) enqueue(ctx context.Context, msg []byte) error {
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return websocket.ErrCloseSent
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send implements messaging.ReplyPort.
func (c *wsClient) Send(ctx context.Context, reply messaging.Reply) error {
	data, err := json.Marshal(reply)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, data)
}

// wsHub tracks connected clients and fans bus events out to them.
type wsHub struct {
	mu      sync.RWMutex
	clients map[string]*wsClient
	log     logger.Logger
}

func newWSHub(log logger.Logger) *wsHub {
	return &wsHub{
		clients: make(map[string]*wsClient),
		log:     log,
	}
}

func (h *wsHub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Debug("websocket client connected", logger.String("client_id", c.id), logger.Int("clients", n))
}

func (h *wsHub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c.id)
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Debug("websocket client disconnected", logger.String("client_id", c.id), logger.Int("clients", n))
}

func (h *wsHub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// broadcast is an events.Handler. It never blocks the bus.
func (h *wsHub) broadcast(event *events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Warn("failed to encode event", logger.String("type", string(event.Type)), logger.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.log.Debug("dropping event for slow websocket client", logger.String("client_id", c.id))
		}
	}
}

func (h *wsHub) closeAll() {
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.close()
	}
}

// handleWebSocket upgrades the request and serves messages until the socket
// closes. Each text frame is one messaging.Message; replies and bus events
// are written back on the same socket.
func (s *Server) handleWebSocket(ctx echo.Context) error {
	conn, err := wsUpgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		return nil
	}

	client := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, wsSendBuffer),
		done: make(chan struct{}),
	}
	s.hub.add(client)
	defer func() {
		s.hub.remove(client)
		client.close()
	}()

	go s.writePump(client)

	conn.SetReadLimit(wsMaxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	reqCtx := ctx.Request().Context()
	for {
		msgType, data, readErr := conn.ReadMessage()
		if readErr != nil {
			return nil
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.handleSocketMessage(reqCtx, client, data)
	}
}

func (s *Server) handleSocketMessage(ctx context.Context, client *wsClient, data []byte) {
	var msg messaging.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		_ = client.Send(ctx, messaging.Reply{Error: "invalid message"})
		return
	}
	if err := s.deps.Dispatcher.Dispatch(ctx, &msg, client); err != nil {
		s.log.Debug("websocket message failed",
			logger.String("client_id", client.id),
			logger.String("type", string(msg.Type)),
			logger.Error(err))
		_ = client.Send(ctx, messaging.Reply{Type: msg.Type, Error: err.Error()})
	}
}

// writePump is the only writer on the client's socket.
func (s *Server) writePump(client *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				client.close()
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				client.close()
				return
			}
		case <-client.done:
			return
		}
	}
}
