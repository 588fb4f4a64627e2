package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileConfigMissingFileReturnsEmpty(t *testing.T) {
	fc, err := loadFileConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, &FileConfig{}, fc)
}

func TestLoadFileConfigParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s3db.yaml")
	body := `
connection: memory://bootstrap-db
passphrase: correct-horse
concurrency: 20
redis:
  addr: localhost:6379
  db: 2
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	fc, err := loadFileConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "memory://bootstrap-db", fc.Connection)
	assert.Equal(t, "correct-horse", fc.Passphrase)
	assert.Equal(t, 20, fc.Concurrency)
	assert.Equal(t, "localhost:6379", fc.Redis.Addr)
	assert.Equal(t, 2, fc.Redis.DB)
}

func TestFirstNonEmptyPicksEarliestSet(t *testing.T) {
	assert.Equal(t, "flag", firstNonEmpty("flag", "env", "file"))
	assert.Equal(t, "env", firstNonEmpty("", "env", "file"))
	assert.Equal(t, "file", firstNonEmpty("", "", "file"))
	assert.Equal(t, "", firstNonEmpty("", "", ""))
}
