package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backup.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "default_repository_password: s3cret\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultDBPath, cfg.DBPath)
	assert.Equal(t, 2*time.Hour, cfg.StuckThreshold)
	assert.Equal(t, DefaultSchedulerTrigger, cfg.SchedulerTrigger)
	assert.Equal(t, DefaultWorkers, cfg.Workers)
	assert.True(t, cfg.CheckS3)
	assert.Equal(t, []string{"/home"}, cfg.BasePaths["files"])
	assert.Equal(t, "127.0.0.1:8336", cfg.OpsAddr())
	assert.Equal(t, path, cfg.ConfigPath)
}

func TestLoadFileAndEnvironment(t *testing.T) {
	path := writeConfig(t, `
default_repository_password: from-file
backup_timeout: 30m
retention_timeout: 45m
stuck_threshold: 3h
workers: 4
api_port: 0
base_paths:
  files: [/srv/www, /home]
`)
	t.Setenv("VSISPANEL_BACKUP_DEFAULT_REPOSITORY_PASSWORD", "from-env")
	t.Setenv("VSISPANEL_BACKUP_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.DefaultRepositoryPassword)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 30*time.Minute, cfg.BackupTimeout)
	assert.Equal(t, 45*time.Minute, cfg.RetentionTimeout)
	assert.Equal(t, DefaultInitTimeout, cfg.InitTimeout)
	assert.Equal(t, 3*time.Hour, cfg.StuckThreshold)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, []string{"/srv/www", "/home"}, cfg.BasePaths["files"])
	assert.Empty(t, cfg.OpsAddr())
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			DBPath:                    DefaultDBPath,
			DefaultRepositoryPassword: "pw",
			OutputTailBytes:           DefaultOutputTailBytes,
			BackupTimeout:             time.Hour,
			CopyTimeout:               time.Hour,
			RestoreTimeout:            time.Hour,
			InitTimeout:               time.Minute,
			RetentionTimeout:          time.Hour,
			CancelPoll:                time.Second,
			StuckThreshold:            2 * time.Hour,
			LockTTL:                   time.Minute,
			SchedulerTrigger:          DefaultSchedulerTrigger,
			ReaperTrigger:             DefaultReaperTrigger,
			Workers:                   1,
			QueueSize:                 1,
			APIPort:                   DefaultAPIPort,
		}
	}
	require.NoError(t, func() error { c := valid(); return c.Validate() }())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing password", func(c *Config) { c.DefaultRepositoryPassword = "" }},
		{"no workers", func(c *Config) { c.Workers = 0 }},
		{"tiny tail", func(c *Config) { c.OutputTailBytes = 10 }},
		{"zero timeout", func(c *Config) { c.RestoreTimeout = 0 }},
		{"zero init timeout", func(c *Config) { c.InitTimeout = 0 }},
		{"negative retention timeout", func(c *Config) { c.RetentionTimeout = -time.Minute }},
		{"threshold below timeout", func(c *Config) { c.StuckThreshold = 30 * time.Minute }},
		{"bad trigger", func(c *Config) { c.ReaperTrigger = "every 15 minutes" }},
		{"bad port", func(c *Config) { c.APIPort = 70000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
