package bootstrap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_EnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worker.env")
	require.NoError(t, os.WriteFile(path, []byte("SERVICES=replayer\nLOG_LEVEL=DEBUG\n"), 0o600))

	t.Setenv("ENV_FILE", path)
	t.Setenv("SERVICES", "") // restores SERVICES after godotenv sets it
	require.NoError(t, os.Unsetenv("SERVICES"))
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "replayer", cfg.Services)
	assert.Equal(t, "warn", cfg.LogLevel, "the process environment wins over the file")
}

func TestLoadConfig_MissingEnvFile(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "absent.env"))
	t.Setenv("SERVICES", "consumer")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "consumer", cfg.Services)
}
