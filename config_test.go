package drizzle

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFile(t *testing.T) {
	c, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig, *c)
}

func TestLoadConfig(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "drizzle.yaml")
	content := `
data-dir: /tmp/downloads
workers: 4
max-backlog: 2
unchoke-timeout: 10s
request-timeout: 1m30s
`
	require.NoError(t, os.WriteFile(filename, []byte(content), 0600))

	c, err := LoadConfig(filename)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/downloads", c.DataDir)
	assert.Equal(t, 4, c.Workers)
	assert.Equal(t, 2, c.MaxBacklog)
	assert.Equal(t, 10*time.Second, c.UnchokeTimeout)
	assert.Equal(t, 90*time.Second, c.RequestTimeout)
	// Values not in file keep their defaults.
	assert.Equal(t, DefaultConfig.Port, c.Port)
	assert.Equal(t, DefaultConfig.GapTimeout, c.GapTimeout)
}

func TestLoadConfigInvalid(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "drizzle.yaml")
	require.NoError(t, os.WriteFile(filename, []byte("workers: many"), 0600))
	_, err := LoadConfig(filename)
	assert.Error(t, err)
}
