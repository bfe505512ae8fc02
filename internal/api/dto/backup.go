package dto

import "time"

// BackupResponse represents one backup execution
type BackupResponse struct {
	ID                 string         `json:"id"`
	BackupConfigID     *string        `json:"backup_config_id,omitempty"`
	UserID             int64          `json:"user_id"`
	Type               string         `json:"type"`
	Status             string         `json:"status"`
	Trigger            string         `json:"trigger,omitempty"`
	SizeBytes          *int64         `json:"size_bytes,omitempty"`
	SnapshotID         *string        `json:"snapshot_id,omitempty"`
	StartedAt          *time.Time     `json:"started_at,omitempty"`
	CompletedAt        *time.Time     `json:"completed_at,omitempty"`
	ErrorMessage       *string        `json:"error_message,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	SyncedRemotes      []string       `json:"synced_remotes"`
	NeedsRemoteCleanup bool           `json:"needs_remote_cleanup"`
	ProcessID          *int64         `json:"process_id,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	DeletedAt          *time.Time     `json:"deleted_at,omitempty"`
}

type BackupListResponse struct {
	Items      []BackupResponse `json:"items"`
	Pagination PaginationInfo   `json:"pagination"`
}
