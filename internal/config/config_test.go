package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(values map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		value, ok := values[name]
		return value, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load("", envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, "https://graph.microsoft.com/v1.0", cfg.Graph.BaseURL)
	assert.Equal(t, time.Second, cfg.Sync.PageDelay)
	assert.Equal(t, 5*time.Second, cfg.Sync.DefaultRetryAfter)
	assert.Equal(t, 5, cfg.Sync.MaxThrottleRetries)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Store.Database, "database comes from the store URI unless set")
}

func TestStoreDatabaseFromEnvironment(t *testing.T) {
	cfg, err := load("", envMap(map[string]string{
		"MONGO_URI":     "mongodb://localhost:27017/legacydb",
		"MONGO_DB_NAME": "directory",
	}))
	require.NoError(t, err)
	assert.Equal(t, "directory", cfg.Store.Database)

	cfg, err = load("", envMap(map[string]string{
		"MONGO_DB_NAME":            "directory",
		"GRAPHSYNC_STORE_DATABASE": "graphsync",
	}))
	require.NoError(t, err)
	assert.Equal(t, "graphsync", cfg.Store.Database)
}

func TestLoadFileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graphsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
graph:
  tenant_id: file-tenant
  client_id: file-client
store:
  dsn: sqlite:///var/lib/graphsync.db
sync:
  page_delay: 250ms
  page_size: 200
  streams: [sign_ins, audits]
log:
  format: console
`), 0o600))

	cfg, err := load(path, envMap(map[string]string{
		"GRAPH_TENANT_ID":     "env-tenant",
		"GRAPH_CLIENT_SECRET": "env-secret",
		"MONGO_URI":           "mongodb://localhost:27017",
	}))
	require.NoError(t, err)
	assert.Equal(t, "env-tenant", cfg.Graph.TenantID, "environment wins over file")
	assert.Equal(t, "file-client", cfg.Graph.ClientID)
	assert.Equal(t, "env-secret", cfg.Graph.ClientSecret)
	assert.Equal(t, "mongodb://localhost:27017", cfg.Store.DSN)
	assert.Equal(t, 250*time.Millisecond, cfg.Sync.PageDelay)
	assert.Equal(t, 200, cfg.Sync.PageSize)
	assert.Equal(t, []string{"sign_ins", "audits"}, cfg.Sync.Streams)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 5*time.Second, cfg.Sync.DefaultRetryAfter, "unset values keep defaults")
	require.NoError(t, cfg.Validate())
}

func TestStoreDSNPrefersExplicitVariable(t *testing.T) {
	cfg, err := load("", envMap(map[string]string{
		"MONGO_URI":           "mongodb://legacy:27017",
		"GRAPHSYNC_STORE_DSN": "postgres://localhost/graphsync",
		"GRAPHSYNC_STREAMS":   " principals , ,audits",
	}))
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/graphsync", cfg.Store.DSN)
	assert.Equal(t, []string{"principals", "audits"}, cfg.Sync.Streams)
}

func TestInvalidEnvironmentValues(t *testing.T) {
	_, err := load("", envMap(map[string]string{
		"GRAPHSYNC_PAGE_DELAY": "soon",
		"GRAPHSYNC_PAGE_SIZE":  "many",
	}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
	assert.Contains(t, err.Error(), "GRAPHSYNC_PAGE_DELAY")
	assert.Contains(t, err.Error(), "GRAPHSYNC_PAGE_SIZE")
}

func TestValidateListsEveryMissingValue(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.True(t, errors.Is(err, ErrMissingConfig))
	assert.Contains(t, err.Error(), "store.dsn")

	cfg.Store.DSN = "memory://"
	err = cfg.Validate()
	require.True(t, errors.Is(err, ErrMissingConfig))
	assert.Contains(t, err.Error(), "GRAPH_TENANT_ID")
	assert.Contains(t, err.Error(), "GRAPH_CLIENT_ID")
	assert.Contains(t, err.Error(), "GRAPH_CLIENT_SECRET")

	cfg.Graph.TenantID, cfg.Graph.ClientID, cfg.Graph.ClientSecret = "t", "c", "s"
	require.NoError(t, cfg.Validate())

	cfg.Log.Format = "xml"
	assert.True(t, errors.Is(cfg.Validate(), ErrInvalidConfig))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "absent.yaml"), envMap(nil))
	require.Error(t, err)
}
