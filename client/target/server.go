// Package target is a small stand-in for the application under test. It
// serves /login, /logout, /healthz, /users and /metrics so a full load test
// can run locally and in tests.
package target

import (
	"compress/gzip"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	gzipmw "github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/ksuid"
)

const ctxGUIDKey = "stackload_guid"

type Server struct {
	cfg      *Config
	router   *gin.Engine
	tokens   *cache.Cache
	denied   *cache.Cache
	users    *userTable
	recorder *Recorder
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	logger   *slog.Logger
}

// Option configures a Server built by New.
type Option func(*Server)

// WithRecorder keeps every call in a Recorder. It holds all calls for the
// lifetime of the server and is meant for tests.
func WithRecorder() Option {
	return func(s *Server) {
		s.recorder = &Recorder{}
	}
}

// New builds the router. gin's mode is left to the caller.
func New(cfg *Config, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		router:   gin.New(),
		tokens:   cache.New(cfg.TokenTTL, 10*time.Minute),
		denied:   cache.New(cfg.TokenTTL, 10*time.Minute),
		users:    newUserTable(cfg.Email),
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Requests handled by path and status code.",
		}, []string{"path", "code"}),
		logger: logger,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.registry.MustRegister(s.requests)

	s.router.Use(gin.Recovery(), s.requestLogger())

	if s.recorder != nil {
		s.router.Use(s.recorder.middleware())
	}

	s.router.Use(s.metrics(), gzipmw.Gzip(gzip.DefaultCompression))

	s.router.GET("/healthz", s.healthz)
	s.router.POST("/login", s.login)
	s.router.POST("/logout", s.requireToken(), s.logout)
	s.router.GET("/users", s.requireToken(), s.listUsers)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{DisableCompression: true})))

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Recorder returns nil unless the server was built WithRecorder.
func (s *Server) Recorder() *Recorder {
	return s.recorder
}

// Registry exposes the metrics registry, e.g. for tests.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("Target listening", slog.String("address", ln.Addr().String()))

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		guid := ksuid.New().String()
		ctx.Set(ctxGUIDKey, guid)
		ctx.Header("X-Request-Id", guid)

		start := time.Now()

		ctx.Next()

		logFn := s.logger.Debug
		if err := ctx.Errors.Last(); err != nil {
			logFn = s.logger.Warn
		}

		logFn("HTTP request",
			slog.String("guid", guid),
			slog.String("method", ctx.Request.Method),
			slog.String("uri_path", ctx.Request.URL.Path),
			slog.Int("http_status", ctx.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
			slog.String("error", ctx.Errors.String()))
	}
}

func (s *Server) metrics() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Next()

		path := ctx.FullPath()
		if path == "" {
			path = "unmatched"
		}

		s.requests.WithLabelValues(path, strconv.Itoa(ctx.Writer.Status())).Inc()
	}
}
