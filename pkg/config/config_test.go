package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/cve-sync/pkg/logging"
	"github.com/Sternrassler/cve-sync/pkg/ratelimit"
)

func writeINI(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cve-sync.ini")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://services.nvd.nist.gov/rest/json/cves/2.0", cfg.NVD.URL)
	assert.Equal(t, 5, cfg.NVD.PublicRateLimit)
	assert.Equal(t, 50, cfg.NVD.APIKeyRateLimit)
	assert.Equal(t, 30, cfg.NVD.RollingWindow)
	assert.Equal(t, 2000, cfg.NVD.ResultsPerPage)
	assert.Equal(t, 10, cfg.NVD.MaxThreads)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, CheckpointStore, cfg.Store.CheckpointBackend)
	assert.False(t, cfg.HasAPIKey())
}

func TestLoad_INIFile(t *testing.T) {
	path := writeINI(t, `
[nvd]
apikey = secret-key
results_per_page = 500
max_threads = 4
rolling_window = 60
retry_limit = 2
retry_delay = 5
save_data = true
data_dir = /tmp/nvd

[store]
driver = postgres
dsn = postgres://localhost/cves
collection = nvd_cves
strict = true

[log]
level = debug
pretty = true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "secret-key", cfg.NVD.APIKey)
	assert.Equal(t, 500, cfg.NVD.ResultsPerPage)
	assert.Equal(t, 4, cfg.NVD.MaxThreads)
	assert.True(t, cfg.NVD.SaveData)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.True(t, cfg.Store.Strict)
	assert.Equal(t, "nvd", cfg.Store.SourceName, "unset keys keep their defaults")

	profile := cfg.RateLimitProfile()
	assert.Equal(t, ratelimit.Profile{MaxCalls: 50, Window: time.Minute}, profile)

	cc := cfg.ClientConfig("test-agent")
	assert.Equal(t, "secret-key", cc.APIKey)
	assert.Equal(t, 2, cc.RetryLimit)
	assert.Equal(t, 5*time.Second, cc.RetryDelay)
	assert.Equal(t, "test-agent", cc.UserAgent)

	sc := cfg.SyncerConfig()
	assert.Equal(t, "nvd_cves", sc.Collection)
	assert.Equal(t, 500, sc.ResultsPerPage)
	assert.Equal(t, "/tmp/nvd", sc.SnapshotDir)
	assert.True(t, sc.Strict)

	assert.Equal(t, 4, cfg.PaginationConfig().MaxConcurrency)

	lc := cfg.LoggingConfig()
	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.True(t, lc.Pretty)
}

func TestLoad_PublicProfileWithoutKey(t *testing.T) {
	cfg, err := Load(writeINI(t, "[nvd]\npublic_rate_limit = 7\n"))
	require.NoError(t, err)

	assert.Equal(t, ratelimit.Profile{MaxCalls: 7, Window: 30 * time.Second}, cfg.RateLimitProfile())
	assert.Empty(t, cfg.SyncerConfig().SnapshotDir)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CVESYNC_NVD_APIKEY", "from-env")
	t.Setenv("CVESYNC_NVD_MAX_THREADS", "3")
	t.Setenv("CVESYNC_STORE_DRIVER", "memory")

	cfg, err := Load(writeINI(t, "[nvd]\napikey = from-file\nmax_threads = 8\n"))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.NVD.APIKey)
	assert.Equal(t, 3, cfg.NVD.MaxThreads)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.ini"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{name: "zero threads", mutate: func(c *Config) { c.NVD.MaxThreads = 0 }, wantMsg: "nvd.max_threads"},
		{name: "page size above NVD maximum", mutate: func(c *Config) { c.NVD.ResultsPerPage = 5000 }, wantMsg: "nvd.results_per_page"},
		{name: "negative retry limit", mutate: func(c *Config) { c.NVD.RetryLimit = -1 }, wantMsg: "nvd.retry_limit"},
		{name: "unknown driver", mutate: func(c *Config) { c.Store.Driver = "mongodb" }, wantMsg: "store.driver"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Store.Driver = DriverPostgres; c.Store.DSN = "" }, wantMsg: "store.dsn"},
		{name: "redis checkpoints without addr", mutate: func(c *Config) {
			c.Store.CheckpointBackend = CheckpointRedis
			c.Redis.Addr = ""
		}, wantMsg: "redis.addr"},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "loud" }, wantMsg: "log.level"},
		{name: "snapshot without dir", mutate: func(c *Config) { c.NVD.SaveData = true; c.NVD.DataDir = "" }, wantMsg: "nvd.data_dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Default()
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	cfg.NVD.MaxThreads = 0
	cfg.Store.Collection = ""

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nvd.max_threads")
	assert.Contains(t, err.Error(), "store.collection")
}
