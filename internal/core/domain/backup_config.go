package domain

import (
	"time"

	"github.com/google/uuid"
)

type BackupType string

const (
	BackupTypeFull      BackupType = "full"
	BackupTypeFiles     BackupType = "files"
	BackupTypeDatabases BackupType = "databases"
	BackupTypeEmails    BackupType = "emails"
	BackupTypeConfig    BackupType = "config"
)

func (t BackupType) Valid() bool {
	switch t {
	case BackupTypeFull, BackupTypeFiles, BackupTypeDatabases, BackupTypeEmails, BackupTypeConfig:
		return true
	}
	return false
}

type DestinationType string

const (
	DestinationLocal DestinationType = "local"
	DestinationS3    DestinationType = "s3"
	DestinationFTP   DestinationType = "ftp"
	DestinationB2    DestinationType = "b2"
)

// RepositoryPasswordKey is the destination config key holding the engine
// encryption password.
const RepositoryPasswordKey = "repository_password"

type RetentionPolicy struct {
	KeepLast    int `db:"keep_last" json:"keep_last"`
	KeepDaily   int `db:"keep_daily" json:"keep_daily"`
	KeepWeekly  int `db:"keep_weekly" json:"keep_weekly"`
	KeepMonthly int `db:"keep_monthly" json:"keep_monthly"`
	KeepYearly  int `db:"keep_yearly" json:"keep_yearly"`
}

func (p RetentionPolicy) IsEmpty() bool {
	return p.KeepLast <= 0 && p.KeepDaily <= 0 && p.KeepWeekly <= 0 && p.KeepMonthly <= 0 && p.KeepYearly <= 0
}

type BackupConfig struct {
	ID                 string
	UserID             int64
	Name               string
	BackupType         BackupType
	BackupItems        []string
	DestinationType    DestinationType
	DestinationConfig  map[string]string
	RemoteID           *string
	SecondaryRemoteIDs []string
	Schedule           string
	Frequency          ScheduleFrequency
	TimeOfDay          *string // HH:MM
	DayOfWeek          *int    // 0-6 (Sunday-Saturday)
	Retention          RetentionPolicy
	IncludePaths       []string
	ExcludePatterns    []string
	IsActive           bool
	LastRunAt          *time.Time
	NextRunAt          *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
	DeletedAt          *time.Time
}

func NewBackupConfig(userID int64, name string, backupType BackupType, now time.Time) *BackupConfig {
	return &BackupConfig{
		ID:                uuid.New().String(),
		UserID:            userID,
		Name:              name,
		BackupType:        backupType,
		DestinationType:   DestinationLocal,
		DestinationConfig: map[string]string{},
		Frequency:         FrequencyDaily,
		IsActive:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// ScheduleExpression resolves the cron expression that drives this config.
// Custom schedules use Schedule verbatim, presets are translated.
func (c *BackupConfig) ScheduleExpression() (string, error) {
	if c.Frequency == FrequencyCustom || c.Frequency == "" {
		if _, err := ParseSchedule(c.Schedule); err != nil {
			return "", err
		}
		return c.Schedule, nil
	}
	return PresetExpression(c.Frequency, c.TimeOfDay, c.DayOfWeek)
}

// RecomputeNextRun sets NextRunAt to the first activation strictly after now.
// An invalid schedule clears NextRunAt so the config is never due.
func (c *BackupConfig) RecomputeNextRun(now time.Time) error {
	expr, err := c.ScheduleExpression()
	if err != nil {
		c.NextRunAt = nil
		return err
	}
	c.Schedule = expr
	next, err := NextRun(expr, now)
	if err != nil {
		c.NextRunAt = nil
		return err
	}
	c.NextRunAt = &next
	return nil
}

// MarkRun records a scheduler claim at now and advances the schedule.
func (c *BackupConfig) MarkRun(now time.Time) error {
	c.LastRunAt = &now
	c.UpdatedAt = now
	return c.RecomputeNextRun(now)
}

func (c *BackupConfig) IsDue(now time.Time) bool {
	if !c.IsActive || c.Trashed() || c.NextRunAt == nil {
		return false
	}
	return !c.NextRunAt.After(now)
}

func (c *BackupConfig) Trashed() bool {
	return c.DeletedAt != nil
}

// RepositoryPassword returns the configured engine password or fallback.
func (c *BackupConfig) RepositoryPassword(fallback string) string {
	if pw := c.DestinationConfig[RepositoryPasswordKey]; pw != "" {
		return pw
	}
	return fallback
}
