package hub

import (
	"net/http"
	"sync"
	"time"

	"xpsocial/pkg/envelope"
	"xpsocial/pkg/logging"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type ActionHandler = func(envelope.Envelope)

// DefaultMaxInFlight caps the handlers running at once for one connection.
const DefaultMaxInFlight = 8

type Option func(*Hub)

// WithMaxInFlight sets how many actions of one connection may run concurrently.
// Frames over the cap are answered with 429 and not dispatched.
func WithMaxInFlight(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.maxInFlight = n
		}
	}
}

// Conn is the part of *websocket.Conn the hub uses.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type clientConn struct {
	id       string
	conn     Conn
	userID   string
	username string
	slots    chan struct{}
	mu       sync.Mutex
}

func (cc *clientConn) send(data []byte) error {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.conn.WriteMessage(websocket.TextMessage, data)
}

type Hub struct {
	mu           sync.RWMutex
	clients      map[string]*clientConn
	byUser       map[string][]*clientConn
	handlers     map[string]ActionHandler
	onDisconnect []func(connID string)
	maxInFlight  int
	log          *logrus.Entry
}

func New(opts ...Option) *Hub {
	h := &Hub{
		clients:     make(map[string]*clientConn),
		byUser:      make(map[string][]*clientConn),
		handlers:    make(map[string]ActionHandler),
		maxInFlight: DefaultMaxInFlight,
		log:         logging.For("hub"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// On registers the handler for action. Call before serving connections.
func (h *Hub) On(action string, fn ActionHandler) {
	h.mu.Lock()
	h.handlers[action] = fn
	h.mu.Unlock()
}

// OnDisconnect registers fn to run after a connection is removed.
func (h *Hub) OnDisconnect(fn func(connID string)) {
	h.mu.Lock()
	h.onDisconnect = append(h.onDisconnect, fn)
	h.mu.Unlock()
}

// HandleClientConn serves c until it is closed. Every inbound envelope is
// stamped with the connection id and the identity taken from the token, so
// handlers never trust client supplied identity.
func (h *Hub) HandleClientConn(c Conn, userID, username string) {
	cc := &clientConn{
		id:       uuid.NewString(),
		conn:     c,
		userID:   userID,
		username: username,
		slots:    make(chan struct{}, h.maxInFlight),
	}

	h.mu.Lock()
	h.clients[cc.id] = cc
	if userID != "" {
		h.byUser[userID] = append(h.byUser[userID], cc)
	}
	h.mu.Unlock()

	log := h.log.WithFields(logrus.Fields{"conn_id": cc.id, "user_id": userID})
	log.WithField("total", h.ClientCount()).Info("client connected")
	h.Broadcast("userCount", "system", map[string]int{"count": h.ClientCount()})

	defer func() {
		h.remove(cc)
		c.Close()
		log.WithField("total", h.ClientCount()).Info("client disconnected")
		h.Broadcast("userCount", "system", map[string]int{"count": h.ClientCount()})
	}()

	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			return
		}

		env, err := envelope.Unmarshal(raw)
		if err != nil {
			h.write(cc, envelope.Envelope{
				Action:    "error",
				Error:     &envelope.ErrorPayload{Code: http.StatusBadRequest, Message: "invalid JSON"},
				Timestamp: time.Now().UnixMilli(),
			})
			continue
		}

		if env.Action == "ping" {
			h.write(cc, envelope.New("pong", "system"))
			continue
		}

		env.ConnID = cc.id
		env.UserID = userID
		env.Username = username

		h.mu.RLock()
		handler, ok := h.handlers[env.Action]
		h.mu.RUnlock()
		if !ok {
			h.write(cc, envelope.NewError(env, http.StatusNotFound, "unknown action: "+env.Action))
			continue
		}

		select {
		case cc.slots <- struct{}{}:
		default:
			log.WithField("action", env.Action).Debug("in-flight limit reached")
			h.write(cc, envelope.NewError(env, http.StatusTooManyRequests, "too many requests in flight"))
			continue
		}
		go func() {
			defer func() { <-cc.slots }()
			handler(env)
		}()
	}
}

func (h *Hub) remove(cc *clientConn) {
	h.mu.Lock()
	delete(h.clients, cc.id)
	if cc.userID != "" {
		conns := h.byUser[cc.userID]
		for i, conn := range conns {
			if conn == cc {
				h.byUser[cc.userID] = append(conns[:i], conns[i+1:]...)
				break
			}
		}
		if len(h.byUser[cc.userID]) == 0 {
			delete(h.byUser, cc.userID)
		}
	}
	hooks := append([]func(string){}, h.onDisconnect...)
	h.mu.Unlock()

	for _, fn := range hooks {
		fn(cc.id)
	}
}

// Reply sends a response to the connection that made the request.
func (h *Hub) Reply(original envelope.Envelope, data any) {
	env, err := envelope.NewReply(original, data)
	if err != nil {
		h.log.WithError(err).WithField("action", original.Action).Warn("reply marshal failed")
		return
	}
	h.SendTo(original.ConnID, env)
}

func (h *Hub) ReplyError(original envelope.Envelope, code int, msg string) {
	h.SendTo(original.ConnID, envelope.NewError(original, code, msg))
}

// SendEvent pushes a server event to one connection. It reports false when the
// connection is gone.
func (h *Hub) SendEvent(connID, action, service string, data any) bool {
	env, err := envelope.NewEvent(action, service, data)
	if err != nil {
		h.log.WithError(err).WithField("action", action).Warn("event marshal failed")
		return false
	}
	return h.SendTo(connID, env)
}

func (h *Hub) SendTo(connID string, env envelope.Envelope) bool {
	h.mu.RLock()
	cc, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return h.write(cc, env)
}

// Deliver sends env to every connection of env.UserID and returns how many
// connections received it.
func (h *Hub) Deliver(env envelope.Envelope) int {
	if env.UserID == "" {
		return 0
	}
	h.mu.RLock()
	conns := append([]*clientConn(nil), h.byUser[env.UserID]...)
	h.mu.RUnlock()

	sent := 0
	for _, cc := range conns {
		if h.write(cc, env) {
			sent++
		}
	}
	return sent
}

// Broadcast sends an event to every connected client.
func (h *Hub) Broadcast(action, service string, data any) {
	env, err := envelope.NewEvent(action, service, data)
	if err != nil {
		return
	}
	raw, err := env.Marshal()
	if err != nil {
		return
	}
	h.mu.RLock()
	conns := make([]*clientConn, 0, len(h.clients))
	for _, cc := range h.clients {
		conns = append(conns, cc)
	}
	h.mu.RUnlock()
	for _, cc := range conns {
		cc.send(raw)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) AuthenticatedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser)
}

func (h *Hub) write(cc *clientConn, env envelope.Envelope) bool {
	raw, err := env.Marshal()
	if err != nil {
		return false
	}
	if err := cc.send(raw); err != nil {
		h.log.WithError(err).WithField("conn_id", cc.id).Debug("send failed")
		return false
	}
	return true
}
