// Package gateway is the websocket entry point: it authenticates each
// connection, subscribes it to its rooms, runs inbound event handlers and
// delivers outbound events.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mahaj/dupahar-realtime/pkg/apperr"
	"github.com/mahaj/dupahar-realtime/pkg/auth"
	"github.com/mahaj/dupahar-realtime/pkg/chat"
	"github.com/mahaj/dupahar-realtime/pkg/model"
)

const defaultHandlerTimeout = 10 * time.Second

type Authenticator interface {
	Authenticate(ctx context.Context, h auth.Handshake) (model.Identity, error)
}

// Presence is the part of the presence tracker the gateway drives.
type Presence interface {
	Connect(ctx context.Context, userID string) error
	Heartbeat(ctx context.Context, userID string) error
	Disconnect(ctx context.Context, userID string, immediate bool)
}

type Option func(*Server)

// WithHandlerTimeout bounds each inbound handler. Handlers run on their own
// context, so a disconnect does not cancel them.
func WithHandlerTimeout(d time.Duration) Option {
	return func(s *Server) { s.handlerTimeout = d }
}

// WithCheckOrigin replaces the default allow-all origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(s *Server) { s.upgrader.CheckOrigin = fn }
}

type Server struct {
	hub            *Hub
	auth           Authenticator
	presence       Presence
	chat           *chat.Service
	log            *slog.Logger
	upgrader       websocket.Upgrader
	handlers       map[model.EventType]handlerFunc
	handlerTimeout time.Duration
}

func NewServer(hub *Hub, authn Authenticator, presence Presence, svc *chat.Service, log *slog.Logger, opts ...Option) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		hub:      hub,
		auth:     authn,
		presence: presence,
		chat:     svc,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    []string{auth.SubprotocolName},
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		handlerTimeout: defaultHandlerTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	s.handlers = s.routes()
	return s
}

// ServeHTTP authenticates the handshake and upgrades it. A failed
// authentication is refused before the upgrade with a textual reason.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := s.auth.Authenticate(r.Context(), auth.HandshakeFromRequest(r))
	if err != nil {
		s.log.Info("handshake rejected", "remote", r.RemoteAddr, "error", err)
		http.Error(w, apperr.Message(err), apperr.KindOf(err).HTTPStatus())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", "user", id.ID, "error", err)
		return
	}
	c := newClient(s, conn, id.ID)
	s.hub.attach(c)

	ctx, cancel := c.context()
	defer cancel()
	if err := s.presence.Connect(ctx, id.ID); err != nil {
		c.log.Error("presence connect failed", "error", err)
	}
	rooms, err := s.hub.registry.JoinAllForUser(ctx, c, id.ID)
	if err != nil {
		c.log.Error("join rooms failed", "error", err)
	}
	c.log.Info("client connected", "rooms", len(rooms))

	go c.writePump()
	go c.readPump()
}

// disconnect runs once the read pump stops: presence goes through its
// grace period and the connection leaves every room before teardown.
func (s *Server) disconnect(c *Client) {
	ctx, cancel := c.context()
	defer cancel()
	s.presence.Disconnect(ctx, c.userID, false)
	s.hub.detach(c)
	c.close(websocket.CloseNormalClosure, "")
	c.log.Info("client disconnected")
}
