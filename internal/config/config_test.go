package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "assetview-config")
	if err != nil {
		panic(err)
	}
	os.Setenv(EnvPrefix+"_CONFIG_DIR", dir)
	code := m.Run()
	os.RemoveAll(dir)
	os.Exit(code)
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "server.json")
	require.NoError(t, os.WriteFile(p, []byte(content), 0600))
	return p
}

func TestLoadServerDefaults(t *testing.T) {
	cfg, err := LoadServerFrom(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "/data/lego", cfg.RoutePrefix)
	assert.Equal(t, "/data/lego", cfg.RemoteRoot)
	assert.Equal(t, "/data/lego/data/dataset.json", cfg.ManifestPath)
	assert.Equal(t, 20, cfg.SampleSize)
	assert.Equal(t, 22, cfg.SSHPort)
	assert.Equal(t, 15*time.Second, cfg.SSHTimeout())
	assert.Equal(t, int64(64<<20), cfg.CacheMaxObject())
	assert.Equal(t, 30*24*time.Hour, cfg.CacheRetention())
	assert.False(t, cfg.CacheEnabled)
}

func TestLoadServerFileAndEnv(t *testing.T) {
	p := writeFile(t, `{
		"ssh_host": "file-host",
		"ssh_user": "file-user",
		"route_prefix": "/assets/",
		"remote_root": "/srv/models/",
		"sample_size": 12
	}`)
	t.Setenv(EnvPrefix+"_SSH_HOST", "env-host")
	t.Setenv(EnvPrefix+"_SSH_PORT", "2222")
	t.Setenv(EnvPrefix+"_CACHE_ENABLED", "true")

	cfg, err := LoadServerFrom(p)
	require.NoError(t, err)

	assert.Equal(t, "env-host", cfg.SSHHost)
	assert.Equal(t, "file-user", cfg.SSHUser)
	assert.Equal(t, 2222, cfg.SSHPort)
	assert.Equal(t, 12, cfg.SampleSize)
	assert.True(t, cfg.CacheEnabled)
	assert.Equal(t, "/assets", cfg.RoutePrefix)
	assert.Equal(t, "/srv/models", cfg.RemoteRoot)
}

func TestLoadServerLegacyEnv(t *testing.T) {
	t.Setenv("SSH_HOST", "legacy-host")
	t.Setenv("SSH_USER", "legacy-user")
	t.Setenv("SSH_PASS", "legacy-pass")
	t.Setenv("PORT", "5000")

	cfg, err := LoadServerFrom(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, "legacy-host", cfg.SSHHost)
	assert.Equal(t, "legacy-user", cfg.SSHUser)
	assert.Equal(t, "legacy-pass", cfg.SSHPassword)
	assert.Equal(t, ":5000", cfg.ListenAddr)
	assert.NoError(t, cfg.Validate())
}

func TestListenAddrEnvBeatsPort(t *testing.T) {
	t.Setenv("PORT", "5000")
	t.Setenv(EnvPrefix+"_LISTEN_ADDR", "127.0.0.1:9999")

	cfg, err := LoadServerFrom(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.ListenAddr)
}

func TestLoadServerBadFile(t *testing.T) {
	p := writeFile(t, `{not json`)
	_, err := LoadServerFrom(p)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultServerConfig()
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "ssh_host is required")
	assert.ErrorContains(t, err, "ssh_user is required")
	assert.ErrorContains(t, err, "ssh_password or ssh_key_path")

	cfg.SSHHost = "host"
	cfg.SSHUser = "user"
	cfg.SSHKeyPath = "/home/user/.ssh/id_ed25519"
	assert.NoError(t, cfg.Validate())

	cfg.RoutePrefix = "/api/files"
	assert.ErrorContains(t, cfg.Validate(), "collides")

	cfg.RoutePrefix = "/"
	assert.ErrorContains(t, cfg.Validate(), "route_prefix")

	cfg.RoutePrefix = "/data"
	cfg.SampleSize = 0
	cfg.SSHPort = 70000
	err = cfg.Validate()
	assert.ErrorContains(t, err, "sample_size")
	assert.ErrorContains(t, err, "ssh_port")
}

func TestSaveAndLoadServer(t *testing.T) {
	p := filepath.Join(t.TempDir(), "server.json")
	cfg := DefaultServerConfig()
	cfg.SSHHost = "saved-host"
	cfg.Token = "abc"

	require.NoError(t, SaveServerTo(p, cfg))

	info, err := os.Stat(p)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadServerFrom(p)
	require.NoError(t, err)
	assert.Equal(t, "saved-host", loaded.SSHHost)
	assert.Equal(t, "abc", loaded.Token)
}

func TestClientConfigRoundTrip(t *testing.T) {
	cfg, err := LoadClient()
	require.NoError(t, err)
	assert.Empty(t, cfg.ServerURL)

	require.NoError(t, SaveClient(&ClientConfig{ServerURL: "http://viewer:8080", Token: "t"}))

	cfg, err = LoadClient()
	require.NoError(t, err)
	assert.Equal(t, "http://viewer:8080", cfg.ServerURL)
	assert.Equal(t, "t", cfg.Token)
}

func TestLoadServerFileIgnoresEnvironment(t *testing.T) {
	p := writeFile(t, `{"ssh_host": "filehost", "listen_addr": ":9000"}`)

	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SSH_USER=from-dotenv\n"), 0600))
	t.Cleanup(func() { os.Unsetenv("SSH_USER") })
	t.Setenv("SSH_PASS", "env-secret")
	t.Setenv("PORT", "7777")
	t.Setenv(EnvPrefix+"_SSH_HOST", "envhost")

	cfg, err := LoadServerFile(p)
	require.NoError(t, err)
	assert.Equal(t, "filehost", cfg.SSHHost)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Empty(t, cfg.SSHPassword)

	cfg.Token = "rotated"
	require.NoError(t, SaveServerTo(p, cfg))

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "env-secret")
	assert.NotContains(t, string(data), "7777")
	assert.NotContains(t, string(data), "envhost")

	saved, err := LoadServerFile(p)
	require.NoError(t, err)
	assert.Equal(t, "rotated", saved.Token)
	assert.Equal(t, ":9000", saved.ListenAddr)
	assert.Empty(t, saved.SSHUser)

	merged, err := LoadServerFrom(p)
	require.NoError(t, err)
	assert.Equal(t, "envhost", merged.SSHHost)
	assert.Equal(t, "from-dotenv", merged.SSHUser)
	assert.Equal(t, "env-secret", merged.SSHPassword)
	assert.Equal(t, ":7777", merged.ListenAddr)
}

func TestDefaultServerConfigHasNoSideEffects(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "not-created")
	t.Setenv(EnvPrefix+"_CONFIG_DIR", dir)

	cfg := DefaultServerConfig()
	assert.Equal(t, filepath.Join(dir, "cache.db"), cfg.DBPath)
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func resetDir(t *testing.T) {
	t.Helper()
	configOnce = sync.Once{}
	configDir, configErr = "", nil
}

func TestDirErrorIsSticky(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0600))
	t.Setenv(EnvPrefix+"_CONFIG_DIR", filepath.Join(blocker, "sub"))

	resetDir(t)
	t.Cleanup(func() { resetDir(t) })

	for i := 0; i < 2; i++ {
		dir, err := Dir()
		assert.Error(t, err)
		assert.Empty(t, dir)
	}
	_, err := ServerPath()
	assert.Error(t, err)
	assert.Error(t, SaveClient(&ClientConfig{ServerURL: "http://x"}))
}

func TestCacheActive(t *testing.T) {
	cfg := DefaultServerConfig()
	assert.False(t, cfg.CacheActive())

	cfg.CacheEnabled = true
	assert.True(t, cfg.CacheActive())

	cfg.CacheMaxObjectMB = 0
	assert.False(t, cfg.CacheActive())

	// An inactive cache needs no database path.
	cfg.SSHHost, cfg.SSHUser, cfg.SSHPassword = "h", "u", "p"
	cfg.DBPath = ""
	assert.NoError(t, cfg.Validate())
}
