// Package debugserver exposes health, metrics and live map state over HTTP.
package debugserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/olablt/slippymap/pkg/logger"
	"github.com/olablt/slippymap/pkg/telemetry"
)

const requestIDHeader = "X-Request-ID"

// Sources supplies the state served under /debug. Every function is called
// from request goroutines and must be safe for concurrent use.
type Sources struct {
	View  func() any
	Cache func() any
}

type Options struct {
	Addr     string
	Registry *prometheus.Registry
	Sources  Sources
	Tracing  bool
	Logger   logger.Logger
}

type Server struct {
	http *http.Server
	log  logger.Logger
}

func NewRouter(opts Options) *gin.Engine {
	l := logger.OrNop(opts.Logger)
	r := gin.New()
	r.Use(gin.Recovery())
	if opts.Tracing {
		r.Use(telemetry.GinMiddleware())
	}
	r.Use(requestID(), ginZapLogger(l))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if opts.Registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})))
	}

	debug := r.Group("/debug")
	debug.GET("/view", serve(opts.Sources.View))
	debug.GET("/cache", serve(opts.Sources.Cache))
	return r
}

func serve(fn func() any) gin.HandlerFunc {
	return func(c *gin.Context) {
		if fn == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not available"})
			return
		}
		c.JSON(http.StatusOK, fn())
	}
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func ginZapLogger(l logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		l.Debug("request",
			"request_id", c.GetString("request_id"),
			"status", c.Writer.Status(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"latency", time.Since(start),
			"size", c.Writer.Size(),
		)
	}
}

func New(opts Options) *Server {
	return &Server{
		http: &http.Server{
			Addr:              opts.Addr,
			Handler:           NewRouter(opts),
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: logger.OrNop(opts.Logger),
	}
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		s.log.Info("starting debug server", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("debug server failed", "error", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
