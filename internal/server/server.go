package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/johann/assetview/internal/cache"
	"github.com/johann/assetview/internal/config"
	"github.com/johann/assetview/internal/logging"
)

const shutdownTimeout = 10 * time.Second

// Options carries the server's collaborators.
type Options struct {
	Source      Source
	Cache       *cache.Cache // optional
	Logger      *zap.Logger
	Frontend    fs.FS // optional; root holds index.html
	MetricsPort int
	Title       string
}

// Server is the asset proxy
type Server struct {
	config      *config.ServerConfig
	source      Source
	cache       *cache.Cache
	router      *gin.Engine
	metricsPort int
	metrics     *Metrics
	title       string
	frontend    fs.FS
	rateLimiter *RateLimiter
	log         *zap.Logger
}

// New creates a new server instance
func New(cfg *config.ServerConfig, opts Options) (*Server, error) {
	if opts.Source == nil {
		return nil, errors.New("server needs a remote source")
	}
	if opts.Title == "" {
		opts.Title = "Asset Viewer"
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{
		config:      cfg,
		source:      opts.Source,
		cache:       opts.Cache,
		router:      router,
		metricsPort: opts.MetricsPort,
		metrics:     NewMetrics(),
		title:       opts.Title,
		frontend:    opts.Frontend,
		rateLimiter: NewRateLimiter(15 * time.Second),
		log:         logging.OrNop(opts.Logger),
	}

	s.setupRoutes()

	return s, nil
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Metrics returns the server's metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Run serves until ctx is cancelled or a listener fails, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		srv := &http.Server{
			Addr:              s.config.ListenAddr,
			Handler:           s.router,
			ReadHeaderTimeout: 10 * time.Second,
		}
		s.log.Info("http server listening", zap.String("addr", s.config.ListenAddr))
		return serveUntilDone(ctx, srv)
	})

	if s.metricsPort > 0 {
		g.Go(func() error {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", s.metricsPort),
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			}
			s.log.Info("metrics server listening", zap.Int("port", s.metricsPort))
			return serveUntilDone(ctx, srv)
		})
	}

	if s.cache != nil && s.config.CacheRetentionDays > 0 {
		g.Go(func() error {
			s.runPruner(ctx)
			return nil
		})
	}

	return g.Wait()
}

func serveUntilDone(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen on %s: %w", srv.Addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown %s: %w", srv.Addr, err)
		}
		return nil
	}
}

// Close releases the server's background resources
func (s *Server) Close() error {
	s.rateLimiter.Stop()
	if s.cache != nil {
		return s.cache.Close()
	}
	return nil
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Range", "Content-Type", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "Content-Range", "Accept-Ranges", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	s.router.Use(s.requestContext())

	// Public endpoints
	s.router.GET("/api/health", s.handleHealth)
	s.router.GET("/api/config", s.handleConfig)

	// Protected endpoints (auth required when a token is configured)
	protected := s.router.Group("/")
	protected.Use(s.authMiddleware())
	{
		protected.GET("/api/manifest", s.handleManifest)
		protected.GET("/api/sample", s.handleSample)
		protected.GET("/api/list", s.handleList)
		protected.GET("/api/cache", s.handleCacheStats)

		assets := s.config.RoutePrefix + "/*path"
		protected.GET(assets, s.handleAsset)
		protected.HEAD(assets, s.handleAsset)
	}

	// Static files (web UI)
	s.router.NoRoute(s.handleStaticFiles)
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.config.Token == "" {
			c.Next()
			return
		}

		clientIP := GetRealIP(c)
		log := requestLogger(c)

		// Check if IP is blocked due to previous failed attempts
		if s.rateLimiter.IsBlocked(clientIP) {
			logFailedAuth(log, clientIP, "ip temporarily blocked", true)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many failed attempts, try again later"})
			return
		}

		token := bearerToken(c)
		if token == "" {
			logFailedAuth(log, clientIP, "missing token", false)
			s.rateLimiter.BlockIP(clientIP)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(s.config.Token)) != 1 {
			logFailedAuth(log, clientIP, "invalid token", false)
			s.rateLimiter.BlockIP(clientIP)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Next()
	}
}

// bearerToken reads the token from the Authorization header, falling back to
// the token query parameter for clients that cannot set headers.
func bearerToken(c *gin.Context) string {
	const prefix = "Bearer "
	if h := c.GetHeader("Authorization"); h != "" {
		if strings.HasPrefix(h, prefix) {
			return strings.TrimSpace(h[len(prefix):])
		}
		return strings.TrimSpace(h)
	}
	return c.Query("token")
}

func (s *Server) runPruner(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	// Run once at startup
	s.prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.prune(ctx)
		}
	}
}

func (s *Server) prune(ctx context.Context) {
	cutoff := time.Now().Add(-s.config.CacheRetention())

	removed, err := s.cache.Prune(ctx, cutoff)
	if err != nil {
		s.log.Error("cache pruning failed", zap.Error(err))
		return
	}
	s.log.Debug("cache pruned", zap.Int("objects", removed), zap.Time("cutoff", cutoff))
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"title":         s.title,
		"route_prefix":  s.config.RoutePrefix,
		"sample_size":   s.config.SampleSize,
		"auth_required": s.config.Token != "",
	})
}
