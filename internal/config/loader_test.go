package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadDefaults", func(t *testing.T) {
		// Run from an empty directory so no batchkeeper.yaml is picked up.
		chdir(t, t.TempDir())
		t.Setenv("HOME", t.TempDir())

		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, os.Getpid(), cfg.ManagerID)
		assert.Equal(t, "/storage/raw_data", cfg.RawDataRoot)
		assert.Equal(t, 5*time.Second, cfg.PollInterval)
		assert.Equal(t, 10*time.Second, cfg.LockTimeout)
		assert.False(t, cfg.KeepJobLogs)
		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8642, cfg.Server.Port)
	})

	t.Run("ConfigFileOverrides", func(t *testing.T) {
		dir := t.TempDir()
		content := "manager_id: 42\npoll_interval: 30s\nprocessed_data_root: /nvme/processed\nserver:\n  port: 9000\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, "batchkeeper.yaml"), []byte(content), 0644))
		chdir(t, dir)
		t.Setenv("HOME", t.TempDir())

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, 42, cfg.ManagerID)
		assert.Equal(t, 30*time.Second, cfg.PollInterval)
		assert.Equal(t, "/nvme/processed", cfg.ProcessedDataRoot)
		assert.Equal(t, 9000, cfg.Server.Port)
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		chdir(t, t.TempDir())
		t.Setenv("HOME", t.TempDir())
		t.Setenv("BATCHKEEPER_MANAGER_ID", "7")
		t.Setenv("BATCHKEEPER_LOCK_TIMEOUT", "3s")

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, 7, cfg.ManagerID)
		assert.Equal(t, 3*time.Second, cfg.LockTimeout)
	})

	t.Run("RejectsBadDurations", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "batchkeeper.yaml"), []byte("poll_interval: -4s\n"), 0644))
		chdir(t, dir)
		t.Setenv("HOME", t.TempDir())

		_, err := Load(ctx)
		require.Error(t, err)
	})
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
