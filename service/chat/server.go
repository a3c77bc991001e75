package chat

import (
	"net/http"
	"time"

	"MeetChat/logger"
	"MeetChat/middleware"
	mwsecurity "MeetChat/middleware/security"
	"MeetChat/service/storage"
	"MeetChat/tools/ids"
	"MeetChat/tools/safe"
	"MeetChat/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type ServerOptions struct {
	Verifier       security.TokenVerifier
	Registry       storage.Registry
	Conns          *ConnManager
	Dispatcher     *Dispatcher
	IDs            ids.Source
	AllowedOrigins []string
	// OpTimeout bounds registry calls made on connect and disconnect, default 3s.
	OpTimeout time.Duration
	// FrameTimeout bounds the handling of one inbound frame, default 15s.
	FrameTimeout time.Duration
	Logger       *zap.Logger
}

// Server is the chat protocol gateway.
type Server struct {
	verifier     security.TokenVerifier
	reg          storage.Registry
	conns        *ConnManager
	disp         *Dispatcher
	ids          ids.Source
	upgrader     websocket.Upgrader
	opTimeout    time.Duration
	frameTimeout time.Duration
	log          *zap.Logger
}

func NewServer(opts ServerOptions) *Server {
	safe.MustNotNil(opts.Verifier, "token verifier")
	safe.MustNotNil(opts.Registry, "connection registry")
	safe.MustNotNil(opts.Conns, "connection manager")
	safe.MustNotNil(opts.Dispatcher, "dispatcher")
	safe.MustNotNil(opts.IDs, "id source")

	s := &Server{
		verifier:     opts.Verifier,
		reg:          opts.Registry,
		conns:        opts.Conns,
		disp:         opts.Dispatcher,
		ids:          opts.IDs,
		opTimeout:    opts.OpTimeout,
		frameTimeout: opts.FrameTimeout,
		log:          opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     middleware.OriginAllowed(opts.AllowedOrigins),
		},
	}
	if s.opTimeout <= 0 {
		s.opTimeout = 3 * time.Second
	}
	if s.frameTimeout <= 0 {
		s.frameTimeout = 15 * time.Second
	}
	if s.log == nil {
		s.log = logger.L("gateway")
	}
	return s
}

// Routes mounts GET /chat/ws. The token comes from ?token= or an Authorization header and is
// checked before the upgrade, so a rejected client gets a plain HTTP 401.
func (s *Server) Routes(r gin.IRoutes) {
	auth := mwsecurity.Middleware(s.verifier, &mwsecurity.Options{
		HeaderToken: "Authorization",
		QueryToken:  "token",
	})
	r.GET("/chat/ws", auth, s.HandleWS)
}

func (s *Server) Conns() *ConnManager { return s.conns }

// Close drops every local connection; their read loops unregister them.
func (s *Server) Close() { s.conns.Close() }

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"gatewayId":   s.conns.GatewayID(),
		"connections": s.conns.Count(),
	}})
}

// StatsRoute mounts GET /chat/ws/stats with the local connection count.
func (s *Server) StatsRoute(r gin.IRoutes) {
	r.GET("/chat/ws/stats", s.health)
}
