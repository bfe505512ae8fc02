package domain

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

type BackupStatus string

const (
	BackupStatusPending   BackupStatus = "pending"
	BackupStatusRunning   BackupStatus = "running"
	BackupStatusCompleted BackupStatus = "completed"
	BackupStatusFailed    BackupStatus = "failed"
	BackupStatusCancelled BackupStatus = "cancelled"
)

// IsActive reports whether the status holds the per-config concurrency guard.
func (s BackupStatus) IsActive() bool {
	return s == BackupStatusPending || s == BackupStatusRunning
}

func (s BackupStatus) IsTerminal() bool {
	return s == BackupStatusCompleted || s == BackupStatusFailed || s == BackupStatusCancelled
}

// Trigger sources recorded in Backup.Metadata["trigger"].
const (
	TriggerScheduler = "scheduler"
	TriggerForced    = "forced"
	TriggerManual    = "manual"
)

type Backup struct {
	ID             string
	BackupConfigID *string
	UserID         int64
	Type           BackupType
	Status         BackupStatus
	SizeBytes      *int64
	SnapshotID     *string
	StartedAt      *time.Time
	CompletedAt    *time.Time
	ErrorMessage   *string
	Metadata       map[string]any
	RemoteID       *string
	RemotePath     *string
	SyncedRemotes  []string
	ProcessID      *int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time
}

func NewBackup(config *BackupConfig, trigger string, now time.Time) *Backup {
	configID := config.ID
	return &Backup{
		ID:             uuid.New().String(),
		BackupConfigID: &configID,
		UserID:         config.UserID,
		Type:           config.BackupType,
		Status:         BackupStatusPending,
		Metadata:       map[string]any{"trigger": trigger},
		RemoteID:       config.RemoteID,
		SyncedRemotes:  []string{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (b *Backup) Trashed() bool {
	return b.DeletedAt != nil
}

// NeedsRemoteCleanup reports whether a trashed backup still has copies on
// secondary remotes. Soft delete never removes those copies.
func (b *Backup) NeedsRemoteCleanup() bool {
	return b.Trashed() && len(b.SyncedRemotes) > 0
}

func (b *Backup) Start(now time.Time) error {
	if b.Status != BackupStatusPending {
		return fmt.Errorf("%w: backup %s is %s, not pending", ErrInvalidTransition, b.ID, b.Status)
	}
	b.Status = BackupStatusRunning
	b.StartedAt = &now
	b.UpdatedAt = now
	return nil
}

func (b *Backup) Complete(now time.Time, snapshotID string, size int64) error {
	if b.Status != BackupStatusRunning {
		return fmt.Errorf("%w: backup %s is %s, not running", ErrInvalidTransition, b.ID, b.Status)
	}
	b.Status = BackupStatusCompleted
	b.SnapshotID = &snapshotID
	b.SizeBytes = &size
	b.CompletedAt = &now
	b.UpdatedAt = now
	return nil
}

func (b *Backup) Fail(now time.Time, message string) error {
	if !b.Status.IsActive() {
		return fmt.Errorf("%w: backup %s is already %s", ErrInvalidTransition, b.ID, b.Status)
	}
	b.Status = BackupStatusFailed
	b.ErrorMessage = &message
	b.CompletedAt = &now
	b.UpdatedAt = now
	return nil
}

func (b *Backup) Cancel(now time.Time) error {
	if !b.Status.IsActive() {
		return fmt.Errorf("%w: backup %s is already %s", ErrInvalidTransition, b.ID, b.Status)
	}
	msg := "cancelled"
	b.Status = BackupStatusCancelled
	b.ErrorMessage = &msg
	b.CompletedAt = &now
	b.UpdatedAt = now
	return nil
}

func (b *Backup) MarkSynced(remoteID string) {
	if !slices.Contains(b.SyncedRemotes, remoteID) {
		b.SyncedRemotes = append(b.SyncedRemotes, remoteID)
	}
}

func (b *Backup) SetMetadata(key string, value any) {
	if b.Metadata == nil {
		b.Metadata = map[string]any{}
	}
	b.Metadata[key] = value
}

func (b *Backup) Trigger() string {
	if t, ok := b.Metadata["trigger"].(string); ok {
		return t
	}
	return ""
}
