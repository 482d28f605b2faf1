package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var (
	configDir  string
	configErr  error
	configOnce sync.Once
)

// EnvPrefix is the prefix for environment overrides, e.g. ASSETVIEW_SSH_HOST.
const EnvPrefix = "ASSETVIEW"

// ClientConfig holds client-side configuration
type ClientConfig struct {
	ServerURL string `json:"server_url" mapstructure:"server_url"`
	Token     string `json:"token,omitempty" mapstructure:"token"`
}

// ServerConfig holds server-side configuration
type ServerConfig struct {
	Token      string `json:"token,omitempty" mapstructure:"token"`
	ListenAddr string `json:"listen_addr" mapstructure:"listen_addr"`
	LogLevel   string `json:"log_level" mapstructure:"log_level"`

	// RoutePrefix is the URL prefix under which remote files are served.
	// RemoteRoot is the directory on the remote host that the prefix maps to.
	RoutePrefix      string `json:"route_prefix" mapstructure:"route_prefix"`
	RemoteRoot       string `json:"remote_root" mapstructure:"remote_root"`
	ManifestPath     string `json:"manifest_path" mapstructure:"manifest_path"`
	ManifestCategory string `json:"manifest_category" mapstructure:"manifest_category"`
	SampleSize       int    `json:"sample_size" mapstructure:"sample_size"`

	// SSH configuration
	SSHHost           string `json:"ssh_host" mapstructure:"ssh_host"`
	SSHPort           int    `json:"ssh_port" mapstructure:"ssh_port"`
	SSHUser           string `json:"ssh_user" mapstructure:"ssh_user"`
	SSHPassword       string `json:"ssh_password,omitempty" mapstructure:"ssh_password"`
	SSHKeyPath        string `json:"ssh_key_path,omitempty" mapstructure:"ssh_key_path"`
	SSHKeyPassphrase  string `json:"ssh_key_passphrase,omitempty" mapstructure:"ssh_key_passphrase"`
	SSHKnownHosts     string `json:"ssh_known_hosts,omitempty" mapstructure:"ssh_known_hosts"`
	SSHTimeoutSeconds int    `json:"ssh_timeout_seconds" mapstructure:"ssh_timeout_seconds"`

	// Cache configuration
	CacheEnabled       bool   `json:"cache_enabled" mapstructure:"cache_enabled"`
	DBPath             string `json:"db_path" mapstructure:"db_path"`
	CacheMaxObjectMB   int    `json:"cache_max_object_mb" mapstructure:"cache_max_object_mb"`
	CacheRetentionDays int    `json:"cache_retention_days" mapstructure:"cache_retention_days"`

	// S3 configuration for cached objects too large to keep inline
	S3Endpoint  string `json:"s3_endpoint,omitempty" mapstructure:"s3_endpoint"`
	S3Bucket    string `json:"s3_bucket,omitempty" mapstructure:"s3_bucket"`
	S3AccessKey string `json:"s3_access_key,omitempty" mapstructure:"s3_access_key"`
	S3SecretKey string `json:"s3_secret_key,omitempty" mapstructure:"s3_secret_key"`
	S3Region    string `json:"s3_region,omitempty" mapstructure:"s3_region"`
}

// SSHTimeout returns the dial and handshake timeout.
func (c *ServerConfig) SSHTimeout() time.Duration {
	return time.Duration(c.SSHTimeoutSeconds) * time.Second
}

// CacheMaxObject returns the largest file size admitted into the cache, in bytes.
func (c *ServerConfig) CacheMaxObject() int64 {
	return int64(c.CacheMaxObjectMB) * 1024 * 1024
}

// CacheActive reports whether the cache should be opened. A zero or negative
// cache_max_object_mb admits nothing, so it disables the cache.
func (c *ServerConfig) CacheActive() bool {
	return c.CacheEnabled && c.CacheMaxObjectMB > 0
}

// CacheRetention returns how long an unused cache entry is kept.
func (c *ServerConfig) CacheRetention() time.Duration {
	return time.Duration(c.CacheRetentionDays) * 24 * time.Hour
}

// Validate checks that the settings needed to serve assets are present.
func (c *ServerConfig) Validate() error {
	var errs []error
	if c.SSHHost == "" {
		errs = append(errs, errors.New("ssh_host is required"))
	}
	if c.SSHUser == "" {
		errs = append(errs, errors.New("ssh_user is required"))
	}
	if c.SSHPassword == "" && c.SSHKeyPath == "" {
		errs = append(errs, errors.New("one of ssh_password or ssh_key_path is required"))
	}
	if c.SSHPort <= 0 || c.SSHPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ssh_port %d", c.SSHPort))
	}
	if !strings.HasPrefix(c.RoutePrefix, "/") || c.RoutePrefix == "/" {
		errs = append(errs, fmt.Errorf("route_prefix %q must start with / and not be the root", c.RoutePrefix))
	}
	if c.RoutePrefix == "/api" || strings.HasPrefix(c.RoutePrefix, "/api/") {
		errs = append(errs, fmt.Errorf("route_prefix %q collides with the API routes", c.RoutePrefix))
	}
	if !strings.HasPrefix(c.RemoteRoot, "/") {
		errs = append(errs, fmt.Errorf("remote_root %q must be absolute", c.RemoteRoot))
	}
	if c.SampleSize <= 0 {
		errs = append(errs, errors.New("sample_size must be positive"))
	}
	if c.CacheActive() && c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required when the cache is enabled"))
	}
	return errors.Join(errs...)
}

// Dir returns the configuration directory path, creating it on first use.
func Dir() (string, error) {
	configOnce.Do(func() {
		configDir, configErr = dirPath()
		if configErr == nil {
			configErr = os.MkdirAll(configDir, 0700)
		}
		if configErr != nil {
			configDir = ""
		}
	})
	return configDir, configErr
}

func dirPath() (string, error) {
	if v := os.Getenv(EnvPrefix + "_CONFIG_DIR"); v != "" {
		return v, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "assetview"), nil
}

// LoadClient loads the client configuration
func LoadClient() (*ClientConfig, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	return LoadClientFrom(filepath.Join(dir, "config.json"))
}

// LoadClientFrom loads the client configuration from path. A missing file yields
// an empty configuration.
func LoadClientFrom(path string) (*ClientConfig, error) {
	v := newViper(path)
	useEnv(v)
	v.SetDefault("server_url", "")
	v.SetDefault("token", "")

	if err := readInConfig(v); err != nil {
		return nil, err
	}

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal client config: %w", err)
	}
	return &cfg, nil
}

// SaveClient saves the client configuration
func SaveClient(cfg *ClientConfig) error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, "config.json"), cfg)
}

// LoadServer loads the server configuration.
// Precedence: environment (including a .env file) over server.json over defaults.
func LoadServer() (*ServerConfig, error) {
	path, err := ServerPath()
	if err != nil {
		return nil, err
	}
	return LoadServerFrom(path)
}

// ServerPath returns the default location of server.json.
func ServerPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "server.json"), nil
}

// LoadServerFrom loads the server configuration from path, with environment
// overrides applied.
func LoadServerFrom(path string) (*ServerConfig, error) {
	return loadServer(path, true)
}

// LoadServerFile loads only path over the defaults, ignoring the environment
// and .env. Commands that edit and save server.json use it.
func LoadServerFile(path string) (*ServerConfig, error) {
	return loadServer(path, false)
}

func loadServer(path string, env bool) (*ServerConfig, error) {
	v := newViper(path)
	setDefaults(v, DefaultServerConfig())

	if env {
		_ = godotenv.Load()
		useEnv(v)
		// Unprefixed names still found in older .env files.
		_ = v.BindEnv("ssh_host", EnvPrefix+"_SSH_HOST", "SSH_HOST")
		_ = v.BindEnv("ssh_user", EnvPrefix+"_SSH_USER", "SSH_USER")
		_ = v.BindEnv("ssh_password", EnvPrefix+"_SSH_PASSWORD", "SSH_PASS")
		_ = v.BindEnv("ssh_port", EnvPrefix+"_SSH_PORT", "SSH_PORT")
	}

	if err := readInConfig(v); err != nil {
		return nil, err
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal server config: %w", err)
	}

	if port := os.Getenv("PORT"); env && port != "" && os.Getenv(EnvPrefix+"_LISTEN_ADDR") == "" {
		cfg.ListenAddr = ":" + port
	}
	cfg.RoutePrefix = strings.TrimSuffix(cfg.RoutePrefix, "/")
	if cfg.RemoteRoot != "/" {
		cfg.RemoteRoot = strings.TrimSuffix(cfg.RemoteRoot, "/")
	}

	return &cfg, nil
}

// SaveServer saves the server configuration
func SaveServer(cfg *ServerConfig) error {
	path, err := ServerPath()
	if err != nil {
		return err
	}
	return SaveServerTo(path, cfg)
}

// SaveServerTo saves the server configuration to path.
func SaveServerTo(path string, cfg *ServerConfig) error {
	return writeJSON(path, cfg)
}

// DefaultServerConfig returns default server configuration. It does not
// touch the filesystem.
func DefaultServerConfig() *ServerConfig {
	dir, _ := dirPath()
	return &ServerConfig{
		ListenAddr:         ":8080",
		LogLevel:           "info",
		RoutePrefix:        "/data/lego",
		RemoteRoot:         "/data/lego",
		ManifestPath:       "/data/lego/data/dataset.json",
		ManifestCategory:   "assets",
		SampleSize:         20,
		SSHPort:            22,
		SSHTimeoutSeconds:  15,
		DBPath:             filepath.Join(dir, "cache.db"),
		CacheMaxObjectMB:   64,
		CacheRetentionDays: 30,
		S3Region:           "us-east-1",
	}
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	return v
}

func useEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
}

func readInConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", v.ConfigFileUsed(), err)
	}
	return nil
}

// setDefaults registers every key so AutomaticEnv can see it during Unmarshal.
func setDefaults(v *viper.Viper, d *ServerConfig) {
	v.SetDefault("token", d.Token)
	v.SetDefault("listen_addr", d.ListenAddr)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("route_prefix", d.RoutePrefix)
	v.SetDefault("remote_root", d.RemoteRoot)
	v.SetDefault("manifest_path", d.ManifestPath)
	v.SetDefault("manifest_category", d.ManifestCategory)
	v.SetDefault("sample_size", d.SampleSize)
	v.SetDefault("ssh_host", d.SSHHost)
	v.SetDefault("ssh_port", d.SSHPort)
	v.SetDefault("ssh_user", d.SSHUser)
	v.SetDefault("ssh_password", d.SSHPassword)
	v.SetDefault("ssh_key_path", d.SSHKeyPath)
	v.SetDefault("ssh_key_passphrase", d.SSHKeyPassphrase)
	v.SetDefault("ssh_known_hosts", d.SSHKnownHosts)
	v.SetDefault("ssh_timeout_seconds", d.SSHTimeoutSeconds)
	v.SetDefault("cache_enabled", d.CacheEnabled)
	v.SetDefault("db_path", d.DBPath)
	v.SetDefault("cache_max_object_mb", d.CacheMaxObjectMB)
	v.SetDefault("cache_retention_days", d.CacheRetentionDays)
	v.SetDefault("s3_endpoint", d.S3Endpoint)
	v.SetDefault("s3_bucket", d.S3Bucket)
	v.SetDefault("s3_access_key", d.S3AccessKey)
	v.SetDefault("s3_secret_key", d.S3SecretKey)
	v.SetDefault("s3_region", d.S3Region)
}

func writeJSON(path string, cfg any) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
