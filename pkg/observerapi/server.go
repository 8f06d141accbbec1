// Package observerapi implements the read-only loopback HTTP/websocket
// surface a local editor extension can poll instead of re-parsing the
// state files directly — SPEC_FULL.md §7, new domain-stack component.
// Grounded on pkg/observability/prometheus.go's gin+promhttp wiring,
// generalized with golang-jwt/jwt/v5 bearer auth and gin-contrib/cors,
// both present in the teacher's go.mod but unused by any kept teacher
// file (see DESIGN.md).
package observerapi

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/whit3rabbit/specsync/internal/config"
	"github.com/whit3rabbit/specsync/internal/observability"
	"github.com/whit3rabbit/specsync/pkg/syncservice"
)

// Server hosts the observer API's read-only routes.
type Server struct {
	router  *gin.Engine
	http    *http.Server
	secret  []byte
	svc     *syncservice.Service
	metrics *observability.Metrics
	log     zerolog.Logger

	upgrader websocket.Upgrader
	mu       sync.Mutex
	clients  map[*websocket.Conn]bool
}

// New builds the observer API server bound to cfg.Listen. The JWT secret is
// random per process — there is nothing durable to protect across
// restarts, per SPEC_FULL.md §7.
func New(cfg config.ObserverConfig, svc *syncservice.Service, metrics *observability.Metrics, log zerolog.Logger) (*Server, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOriginFunc = func(origin string) bool {
		return strings.HasPrefix(origin, "http://localhost:") || strings.HasPrefix(origin, "http://127.0.0.1:")
	}
	corsCfg.AllowCredentials = true
	router.Use(cors.New(corsCfg))

	s := &Server{
		router:  router,
		secret:  secret,
		svc:     svc,
		metrics: metrics,
		log:     log,
		clients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	router.Use(methodGuard())
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	authed := router.Group("/")
	authed.Use(s.authMiddleware())
	authed.GET("/status", s.handleStatus)
	authed.GET("/conflicts", s.handleConflicts)
	authed.GET("/events", s.handleEvents)

	s.http = &http.Server{Addr: cfg.Listen, Handler: router}

	svc.AddHook(s.broadcast)
	return s, nil
}

// methodGuard enforces the read-only surface: only GET is ever answered;
// everything else is 405, per SPEC_FULL.md §11's testable property.
func methodGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.AbortWithStatus(http.StatusMethodNotAllowed)
			return
		}
		c.Next()
	}
}

// Token mints a short-lived bearer token signed with the server's
// per-process secret. Intended for the local process (CLI or editor
// extension launcher) to hand to whatever client will call this API.
func (s *Server) Token(ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    "specsyncd",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("Authorization")
		tokenStr := strings.TrimPrefix(raw, "Bearer ")
		if tokenStr == raw && raw == "" {
			if q := c.Query("token"); q != "" {
				tokenStr = q
			}
		}
		if tokenStr == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		_, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
			return s.secret, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"sync_state": s.svc.Status(),
		"queue":      s.svc.QueueStats(),
	})
}

func (s *Server) handleConflicts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"conflicts": s.svc.Conflicts()})
}

func (s *Server) handleEvents(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	s.mu.Lock()
	s.clients[conn] = true
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.clients, conn)
			s.mu.Unlock()
			conn.Close()
		}()
		// Drain and discard any client frames; this is a server-push-only
		// channel, but we must read to notice the connection close.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// broadcast is registered as a syncservice.Hook and fans every event out to
// connected websocket clients.
func (s *Server) broadcast(e syncservice.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			conn.Close()
			delete(s.clients, conn)
		}
	}
}

// Serve blocks until ctx is cancelled, then shuts the HTTP server down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
