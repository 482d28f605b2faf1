package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/johann/assetview"
	"github.com/johann/assetview/internal/cache"
	"github.com/johann/assetview/internal/config"
	"github.com/johann/assetview/internal/logging"
	"github.com/johann/assetview/internal/remote"
	"github.com/johann/assetview/internal/server"
)

const defaultTitle = "Asset Viewer"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the asset server",
	Long:  "Start the asset server with the SFTP proxy, the JSON API and the web viewer.",
	RunE:  runServe,
}

var (
	serveListenAddr  string
	serveMetricsPort int
	serveTitle       string
)

func init() {
	serveCmd.Flags().StringVar(&serveListenAddr, "listen", "", "Listen address (default from config or :8080)")
	serveCmd.Flags().IntVar(&serveMetricsPort, "metrics-port", 0, "Port for Prometheus metrics (disabled if 0)")
	serveCmd.Flags().StringVar(&serveTitle, "title", defaultTitle, "Title for the web UI")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if serveListenAddr != "" {
		cfg.ListenAddr = serveListenAddr
	}
	if v := os.Getenv(config.EnvPrefix + "_TITLE"); v != "" && !cmd.Flags().Changed("title") {
		serveTitle = v
	}
	if v := os.Getenv(config.EnvPrefix + "_METRICS_PORT"); v != "" && !cmd.Flags().Changed("metrics-port") {
		if port, err := strconv.Atoi(v); err == nil {
			serveMetricsPort = port
		}
	}

	if err := cfg.Validate(); err != nil {
		path, _ := configPath()
		return fmt.Errorf("invalid configuration (edit %s or set %s_* variables): %w", path, config.EnvPrefix, err)
	}

	log := logging.New(cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fetcher, err := newFetcher(cfg, log)
	if err != nil {
		return err
	}

	var assetCache *cache.Cache
	if cfg.CacheEnabled && !cfg.CacheActive() {
		log.Warn("cache disabled: cache_max_object_mb is not positive")
	}
	if cfg.CacheActive() {
		assetCache, err = openCache(ctx, cfg, log)
		if err != nil {
			return err
		}
	}

	frontend, err := assetview.FrontendFS()
	if err != nil {
		return fmt.Errorf("load embedded frontend: %w", err)
	}

	srv, err := server.New(cfg, server.Options{
		Source:      server.FetcherSource(fetcher),
		Cache:       assetCache,
		Logger:      log,
		Frontend:    frontend,
		MetricsPort: serveMetricsPort,
		Title:       serveTitle,
	})
	if err != nil {
		if assetCache != nil {
			_ = assetCache.Close()
		}
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer srv.Close()

	log.Info("starting server",
		zap.String("listen", cfg.ListenAddr),
		zap.String("remote", fetcher.Addr()),
		zap.String("route_prefix", cfg.RoutePrefix),
		zap.String("remote_root", cfg.RemoteRoot),
		zap.Bool("cache", assetCache != nil),
		zap.Int("metrics_port", serveMetricsPort),
	)

	return srv.Run(ctx)
}

func newFetcher(cfg *config.ServerConfig, log *zap.Logger) (*remote.Fetcher, error) {
	f, err := remote.New(remote.Config{
		Host:           cfg.SSHHost,
		Port:           cfg.SSHPort,
		User:           cfg.SSHUser,
		Password:       cfg.SSHPassword,
		KeyPath:        cfg.SSHKeyPath,
		KeyPassphrase:  cfg.SSHKeyPassphrase,
		KnownHostsPath: cfg.SSHKnownHosts,
		DialTimeout:    cfg.SSHTimeout(),
	}, log)
	if err != nil {
		return nil, fmt.Errorf("configure ssh: %w", err)
	}
	return f, nil
}

func openCache(ctx context.Context, cfg *config.ServerConfig, log *zap.Logger) (*cache.Cache, error) {
	opts := cache.Options{
		DBPath:        cfg.DBPath,
		MaxObjectSize: cfg.CacheMaxObject(),
	}
	if cfg.S3Bucket != "" {
		blobs, err := cache.NewS3Client(ctx, cache.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to S3: %w", err)
		}
		opts.Blobs = blobs
	}

	c, err := cache.Open(opts, log)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	return c, nil
}
