package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type RestoreStatus string

const (
	RestoreStatusPending   RestoreStatus = "pending"
	RestoreStatusRunning   RestoreStatus = "running"
	RestoreStatusCompleted RestoreStatus = "completed"
	RestoreStatusFailed    RestoreStatus = "failed"
)

type RestoreOperation struct {
	ID            string
	BackupID      string
	UserID        int64
	Status        RestoreStatus
	TargetPath    string
	IncludePaths  []string
	FilesRestored *int64
	BytesRestored *int64
	Output        *string
	ErrorMessage  *string
	StartedAt     *time.Time
	CompletedAt   *time.Time
	ProcessID     *int64
	CreatedAt     time.Time
}

func NewRestoreOperation(backupID string, userID int64, targetPath string, includePaths []string, now time.Time) *RestoreOperation {
	return &RestoreOperation{
		ID:           uuid.New().String(),
		BackupID:     backupID,
		UserID:       userID,
		Status:       RestoreStatusPending,
		TargetPath:   targetPath,
		IncludePaths: includePaths,
		CreatedAt:    now,
	}
}

func (r *RestoreOperation) Start(now time.Time) error {
	if r.Status != RestoreStatusPending {
		return fmt.Errorf("%w: restore %s is %s, not pending", ErrInvalidTransition, r.ID, r.Status)
	}
	r.Status = RestoreStatusRunning
	r.StartedAt = &now
	return nil
}

func (r *RestoreOperation) Complete(now time.Time, files, bytes int64, output string) {
	r.Status = RestoreStatusCompleted
	r.FilesRestored = &files
	r.BytesRestored = &bytes
	if output != "" {
		r.Output = &output
	}
	r.CompletedAt = &now
}

func (r *RestoreOperation) Fail(now time.Time, message, output string) {
	r.Status = RestoreStatusFailed
	r.ErrorMessage = &message
	if output != "" {
		r.Output = &output
	}
	r.CompletedAt = &now
}

// IsTerminal is true once CompletedAt has been stamped.
func (r *RestoreOperation) IsTerminal() bool {
	return r.CompletedAt != nil
}
