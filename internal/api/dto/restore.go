package dto

import "time"

// RestoreResponse represents a restore operation
type RestoreResponse struct {
	ID            string     `json:"id"`
	BackupID      string     `json:"backup_id"`
	UserID        int64      `json:"user_id"`
	Status        string     `json:"status"`
	TargetPath    string     `json:"target_path"`
	IncludePaths  []string   `json:"include_paths"`
	FilesRestored *int64     `json:"files_restored,omitempty"`
	BytesRestored *int64     `json:"bytes_restored,omitempty"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	ProcessID     *int64     `json:"process_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type RestoreListResponse struct {
	Items      []RestoreResponse `json:"items"`
	Pagination PaginationInfo    `json:"pagination"`
}
