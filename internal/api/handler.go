// Package api serves the operator HTTP surface over the gateway manager.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"trading-gateway/internal/gateway"
	"trading-gateway/internal/persistence"
)

// Options configures the server.
type Options struct {
	Manager        *gateway.Manager
	Journal        *persistence.Journal // nil disables /api/events
	Gatherer       prometheus.Gatherer  // nil uses the default registry
	DefaultAccount string
	JWTSecret      string
	PasswordHash   string // bcrypt hash of the operator password; empty disables login
	AllowOrigins   []string
	RateLimit      float64 // requests per second per client IP
	Version        string
}

// Server wires HTTP endpoints around the gateway manager.
type Server struct {
	Router *gin.Engine

	opts    Options
	limiter *ipLimiter
	logger  zerolog.Logger
	started time.Time
	http    *http.Server
}

// NewServer builds the router.
func NewServer(opts Options, logger zerolog.Logger) *Server {
	if opts.DefaultAccount == "" {
		opts.DefaultAccount = "main"
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 20
	}
	logger = logger.With().Str("component", "api").Logger()

	r := gin.New()
	s := &Server{
		Router:  r,
		opts:    opts,
		limiter: newIPLimiter(opts.RateLimit, int(opts.RateLimit*2)+1),
		logger:  logger,
		started: time.Now(),
	}

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(logger))
	r.Use(CORSMiddleware(opts.AllowOrigins))
	r.Use(RateLimitMiddleware(s.limiter, logger))

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.POST("/auth/login", s.login)

		api.GET("/system", s.getSystem)
		api.GET("/session", s.getSession)
		api.GET("/risk", s.getRisk)
		api.GET("/positions", s.getPositions)
		api.GET("/balances", s.getBalances)
		api.GET("/clock", s.getClock)
		api.GET("/products", s.getProducts)
		api.GET("/events", s.getEvents)

		// Commands require an operator token.
		protected := api.Group("")
		protected.Use(AuthMiddleware(s.opts.JWTSecret))
		{
			protected.POST("/session/start", s.startSession)
			protected.POST("/session/stop", s.stopSession)
			protected.POST("/killswitch", s.killSwitch)
			protected.POST("/positions", s.openPosition)
			protected.DELETE("/positions/:id", s.closePosition)
			protected.POST("/positions/refresh", s.refreshPositions)
			protected.PUT("/risk", s.updateRisk)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.opts.Version})
}

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("api listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
