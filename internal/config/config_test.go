package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "sqlite3", cfg.Database.Driver)
				assert.Equal(t, "ds/meta.db", cfg.Database.Path)
				assert.Equal(t, "ingestd-api", cfg.App.Name)
				assert.Equal(t, 250*time.Millisecond, cfg.Ingest.PollInterval)
				assert.Equal(t, int64(10737418240), cfg.Ingest.CapacityBytes)
				assert.Contains(t, cfg.Ingest.AllowedHostSuffixes, ".gv.at")
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minimal.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  path: meta.db\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, 250*time.Millisecond, cfg.Ingest.PollInterval)
	assert.Equal(t, 60*time.Second, cfg.Ingest.FetchTimeout)
	assert.Equal(t, "utf-8", cfg.Ingest.DefaultEncoding)
	assert.Equal(t, "ds", cfg.Ingest.DatasetDir)
}

func TestValidateWorkerConfig(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Database: DatabaseConfig{Driver: "sqlite3", Path: "meta.db"},
			Ingest: IngestConfig{
				DatasetDir:          "ds",
				PollInterval:        time.Second,
				FetchTimeout:        time.Second,
				AllowedHostSuffixes: []string{".gv.at"},
			},
		}
	}

	tests := []struct {
		name      string
		mutate    func(*Config)
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:      "missing sqlite path",
			mutate:    func(c *Config) { c.Database.Path = "" },
			errString: "database path is required",
		},
		{
			name:      "unsupported driver",
			mutate:    func(c *Config) { c.Database.Driver = "oracle" },
			errString: "unsupported database driver",
		},
		{
			name:      "empty allow-list",
			mutate:    func(c *Config) { c.Ingest.AllowedHostSuffixes = nil },
			errString: "allowed_host_suffixes",
		},
		{
			name:      "zero poll interval",
			mutate:    func(c *Config) { c.Ingest.PollInterval = 0 },
			errString: "poll_interval",
		},
		{
			name: "postgres without host",
			mutate: func(c *Config) {
				c.Database = DatabaseConfig{Driver: "postgres", Port: 5432, Database: "meta"}
			},
			errString: "database host is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.ValidateWorkerConfig()

			if tt.errString == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			}
		})
	}
}

func TestValidateAPIConfig(t *testing.T) {
	cfg := &Config{
		Server:   ServerConfig{Port: 8080},
		Database: DatabaseConfig{Driver: "sqlite3", Path: "meta.db"},
		RabbitMQ: RabbitMQConfig{Enabled: true, Host: "localhost", Port: 5672, Exchange: "ingest", Queue: "ingest_jobs"},
	}
	require.NoError(t, cfg.ValidateAPIConfig())

	cfg.RabbitMQ.Exchange = ""
	err := cfg.ValidateAPIConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exchange name is required")

	cfg.RabbitMQ.Enabled = false
	require.NoError(t, cfg.ValidateAPIConfig())

	cfg.Server.Port = 0
	err = cfg.ValidateAPIConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid server port")
}
