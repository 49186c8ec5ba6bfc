package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actionsdash/actionsdash/pkg/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
backend:
  stream_url: ws://localhost:9100/stream
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, config.DefaultLogLevel, cfg.Global.LogLevel)
	assert.Equal(t, config.DefaultListen, cfg.Server.Listen)
	assert.Equal(t, "sqlite", cfg.Cache.Database.Driver)
	assert.Equal(t, config.DefaultCachePath, cfg.Cache.Database.SQLite.Path)
	assert.Equal(t, config.DefaultRequestTimeout, cfg.Backend.RequestTimeout)
	assert.Equal(t, config.DefaultFetchConcurrency, cfg.Backend.FetchConcurrency)

	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing stream url",
			yaml:    ``,
			wantErr: "stream_url is required",
		},
		{
			name: "http scheme rejected",
			yaml: `
backend:
  stream_url: http://localhost:9100/stream
`,
			wantErr: "ws or wss scheme",
		},
		{
			name: "bad request timeout",
			yaml: `
backend:
  stream_url: ws://localhost:9100/stream
  request_timeout: soon
`,
			wantErr: "request_timeout",
		},
		{
			name: "unknown cache driver",
			yaml: `
backend:
  stream_url: ws://localhost:9100/stream
cache:
  database:
    driver: oracle
`,
			wantErr: "unsupported cache database driver",
		},
		{
			name: "postgres requires host",
			yaml: `
backend:
  stream_url: ws://localhost:9100/stream
cache:
  database:
    driver: postgres
`,
			wantErr: "postgres host is required",
		},
		{
			name: "valid wss config",
			yaml: `
backend:
  stream_url: wss://backend.example.com/stream
  api_url: https://backend.example.com
`,
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.Load(writeConfig(t, tt.yaml))
			require.NoError(t, err)

			err = cfg.Validate()

			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
