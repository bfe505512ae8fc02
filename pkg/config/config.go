package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

type Config struct {
	DBPath string `mapstructure:"db_path"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// Engine settings
	ResticBinary              string `mapstructure:"restic_binary"`
	DefaultRepositoryPassword string `mapstructure:"default_repository_password"`
	OutputTailBytes           int    `mapstructure:"output_tail_bytes"`
	CheckS3                   bool   `mapstructure:"s3_existence_check"`

	BackupTimeout  time.Duration `mapstructure:"backup_timeout"`
	CopyTimeout    time.Duration `mapstructure:"copy_timeout"`
	RestoreTimeout time.Duration `mapstructure:"restore_timeout"`
	// InitTimeout bounds repository init and snapshot listing,
	// RetentionTimeout bounds forget with prune.
	InitTimeout      time.Duration `mapstructure:"init_timeout"`
	RetentionTimeout time.Duration `mapstructure:"retention_timeout"`
	CancelPoll       time.Duration `mapstructure:"cancel_poll"`

	// Reaper and scheduler
	StuckThreshold   time.Duration `mapstructure:"stuck_threshold"`
	LockTTL          time.Duration `mapstructure:"lock_ttl"`
	SchedulerTrigger string        `mapstructure:"scheduler_trigger"`
	ReaperTrigger    string        `mapstructure:"reaper_trigger"`

	// Dispatcher
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`

	// Ops server
	APIHost string `mapstructure:"api_host"`
	APIPort int    `mapstructure:"api_port"`

	// BasePaths maps a backup type (files, databases, emails, config) to the
	// filesystem roots it captures.
	BasePaths map[string][]string `mapstructure:"base_paths"`

	// RestoreRoots restricts restore targets to these roots when set.
	RestoreRoots []string `mapstructure:"restore_roots"`

	ConfigPath string `mapstructure:"-"`
}

const (
	DefaultConfigPath       = "/etc/vsispanel/backup.yml"
	DefaultDBPath           = "/var/lib/vsispanel/backup.sqlite3"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "json"
	DefaultResticBinary     = "restic"
	DefaultOutputTailBytes  = 8192
	DefaultBackupTimeout    = 2 * time.Hour
	DefaultCopyTimeout      = 2 * time.Hour
	DefaultRestoreTimeout   = 2 * time.Hour
	DefaultInitTimeout      = 5 * time.Minute
	DefaultRetentionTimeout = time.Hour
	DefaultCancelPoll       = 5 * time.Second
	DefaultStuckThreshold   = 2 * time.Hour
	DefaultLockTTL          = 10 * time.Minute
	DefaultSchedulerTrigger = "* * * * *"
	DefaultReaperTrigger    = "*/15 * * * *"
	DefaultWorkers          = 2
	DefaultQueueSize        = 64
	DefaultAPIHost          = "127.0.0.1"
	DefaultAPIPort          = 8336
	EnvPrefix               = "VSISPANEL_BACKUP"
)

func defaultBasePaths() map[string][]string {
	return map[string][]string{
		"files":     {"/home"},
		"databases": {"/var/backups/vsispanel/databases"},
		"emails":    {"/var/vmail"},
		"config":    {"/etc/vsispanel"},
	}
}

// Load reads configuration from configPath (optional), then the
// environment. A missing file at the default path is not an error, so the
// CLI works on hosts configured through the environment alone.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("db_path", DefaultDBPath)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("log_format", DefaultLogFormat)
	v.SetDefault("restic_binary", DefaultResticBinary)
	v.SetDefault("output_tail_bytes", DefaultOutputTailBytes)
	v.SetDefault("s3_existence_check", true)
	v.SetDefault("backup_timeout", DefaultBackupTimeout)
	v.SetDefault("copy_timeout", DefaultCopyTimeout)
	v.SetDefault("restore_timeout", DefaultRestoreTimeout)
	v.SetDefault("init_timeout", DefaultInitTimeout)
	v.SetDefault("retention_timeout", DefaultRetentionTimeout)
	v.SetDefault("cancel_poll", DefaultCancelPoll)
	v.SetDefault("stuck_threshold", DefaultStuckThreshold)
	v.SetDefault("lock_ttl", DefaultLockTTL)
	v.SetDefault("scheduler_trigger", DefaultSchedulerTrigger)
	v.SetDefault("reaper_trigger", DefaultReaperTrigger)
	v.SetDefault("workers", DefaultWorkers)
	v.SetDefault("queue_size", DefaultQueueSize)
	v.SetDefault("api_host", DefaultAPIHost)
	v.SetDefault("api_port", DefaultAPIPort)
	v.SetDefault("base_paths", defaultBasePaths())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// No default, so AutomaticEnv alone would not surface it to Unmarshal.
	_ = v.BindEnv("default_repository_password")

	explicit := configPath != ""
	if !explicit {
		configPath = DefaultConfigPath
	}
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !(errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.ConfigPath = configPath

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.DefaultRepositoryPassword == "" {
		return fmt.Errorf("default_repository_password is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1")
	}
	if c.OutputTailBytes < 256 {
		return fmt.Errorf("output_tail_bytes must be at least 256")
	}
	for name, d := range map[string]time.Duration{
		"backup_timeout":    c.BackupTimeout,
		"copy_timeout":      c.CopyTimeout,
		"restore_timeout":   c.RestoreTimeout,
		"init_timeout":      c.InitTimeout,
		"retention_timeout": c.RetentionTimeout,
		"cancel_poll":       c.CancelPoll,
		"stuck_threshold":   c.StuckThreshold,
		"lock_ttl":          c.LockTTL,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	// A threshold shorter than the timeout would reap healthy backups.
	if c.StuckThreshold < c.BackupTimeout {
		return fmt.Errorf("stuck_threshold (%s) must not be shorter than backup_timeout (%s)", c.StuckThreshold, c.BackupTimeout)
	}
	for name, expr := range map[string]string{
		"scheduler_trigger": c.SchedulerTrigger,
		"reaper_trigger":    c.ReaperTrigger,
	} {
		if _, err := cron.ParseStandard(expr); err != nil {
			return fmt.Errorf("%s is not a valid cron expression: %w", name, err)
		}
	}
	if c.APIPort < 0 || c.APIPort > 65535 {
		return fmt.Errorf("api_port must be between 0 and 65535")
	}
	return nil
}

// OpsAddr is the listen address of the ops server. An empty string disables it.
func (c *Config) OpsAddr() string {
	if c.APIPort == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.APIHost, c.APIPort)
}
