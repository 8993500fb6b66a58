// Package server exposes the WebSocket upgrade endpoint agents connect to:
// a gin.Engine with a single upgrade route, an Upgrader with permissive
// CheckOrigin (agents authenticate over the channel itself, not via CORS),
// and a per-connection goroutine handed off to internal/agentconn once the
// upgrade completes.
package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zencelium/zencelium/internal/agentconn"
	"github.com/zencelium/zencelium/internal/bus"
	"github.com/zencelium/zencelium/internal/catalog"
	"github.com/zencelium/zencelium/internal/registry"
	"github.com/zencelium/zencelium/internal/session"
	"github.com/zencelium/zencelium/internal/zlog"
)

// Server wires the HTTP/WebSocket upgrade layer to the relay core.
type Server struct {
	engine   *gin.Engine
	store    catalog.Store
	registry *registry.Registry
	busHub   bus.Bus
	sessions *session.Manager
	connCfg  agentconn.Config
	upgrader websocket.Upgrader
	log      *zerolog.Logger
}

// New builds a Server ready to Run. sessions may be a disabled Manager
// (empty secret) to turn off session-login entirely.
func New(store catalog.Store, reg *registry.Registry, busHub bus.Bus, sessions *session.Manager, connCfg agentconn.Config) *Server {
	s := &Server{
		store:    store,
		registry: reg,
		busHub:   busHub,
		sessions: sessions,
		connCfg:  connCfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: zlog.Server(),
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/api/v1/agents/connect", s.handleConnect)
	engine.GET("/healthz", s.handleHealthz)
	s.engine = engine
	return s
}

// Run starts the HTTP server, blocking until it returns (mirrors
// http.ListenAndServe's contract).
func (s *Server) Run(addr string) error {
	s.log.Info().Str("addr", addr).Msg("listening for agent connections")
	return s.engine.Run(addr)
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleConnect upgrades the request to a WebSocket and hands the
// connection to an agentconn.Connection. An optional "session" query
// parameter carries a JWT issued by a prior authenticated HTTP session,
// whose subject names an account; when present and valid it drives
// session-login instead of requiring an explicit login frame.
func (s *Server) handleConnect(c *gin.Context) {
	var ident *agentconn.SessionIdentity
	if s.sessions != nil && s.sessions.Enabled() {
		if raw := c.Query("session"); raw != "" {
			claims, err := s.sessions.ValidateToken(raw)
			if err != nil {
				s.log.Warn().Err(err).Msg("rejecting invalid session token")
			} else {
				ident = &agentconn.SessionIdentity{AccountName: claims.AccountName()}
			}
		}
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	connection := agentconn.New(conn, s.store, s.registry, s.busHub, s.connCfg)
	if err := connection.Start(context.Background(), ident); err != nil {
		s.log.Warn().Err(err).Msg("connection runtime exited with error")
	}
}
