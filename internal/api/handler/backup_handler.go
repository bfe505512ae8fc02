package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vsisnet/vsispanel-sub003/internal/api/dto"
	"github.com/vsisnet/vsispanel-sub003/internal/core/domain"
	"github.com/vsisnet/vsispanel-sub003/internal/core/repository"
	"github.com/vsisnet/vsispanel-sub003/internal/core/service"
)

var (
	backupQueryFields = []string{"id", "backup_config_id", "user_id", "type", "status", "snapshot_id", "started_at", "completed_at", "created_at"}
	backupOrderFields = []string{"created_at", "started_at", "completed_at", "status"}
)

// BackupHandler exposes backup executions read-only for monitoring.
type BackupHandler struct {
	backupService *service.BackupService
}

func NewBackupHandler(backupService *service.BackupService) *BackupHandler {
	return &BackupHandler{backupService: backupService}
}

// ListBackups handles GET /backups. trashed=include adds trashed backups,
// trashed=only lists nothing else.
func (h *BackupHandler) ListBackups(c *gin.Context) {
	listFilter, ok := parseListFilter(c, backupQueryFields, backupOrderFields)
	if !ok {
		return
	}
	filter := repository.BackupFilter{ListFilter: listFilter}

	switch c.Query("trashed") {
	case "":
	case "include":
		filter.IncludeTrashed = true
	case "only":
		filter.OnlyTrashed = true
	default:
		abortWithError(c, http.StatusBadRequest, "trashed must be include or only")
		return
	}
	if configID := c.Query("config_id"); configID != "" {
		filter.ConfigID = &configID
	}
	if userID := c.Query("user_id"); userID != "" {
		id, err := strconv.ParseInt(userID, 10, 64)
		if err != nil {
			abortWithError(c, http.StatusBadRequest, "user_id must be an integer")
			return
		}
		filter.UserID = &id
	}

	backups, err := h.backupService.ListBackups(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	count, err := h.backupService.CountBackups(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	response := dto.BackupListResponse{
		Items:      make([]dto.BackupResponse, len(backups)),
		Pagination: dto.NewPagination(count, listFilter.Page, listFilter.PerPage),
	}
	for i, b := range backups {
		response.Items[i] = toBackupResponse(b)
	}
	c.JSON(http.StatusOK, response)
}

// GetBackup handles GET /backups/:id
func (h *BackupHandler) GetBackup(c *gin.Context) {
	b, err := h.backupService.GetBackup(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBackupResponse(b))
}

func toBackupResponse(b *domain.Backup) dto.BackupResponse {
	return dto.BackupResponse{
		ID:                 b.ID,
		BackupConfigID:     b.BackupConfigID,
		UserID:             b.UserID,
		Type:               string(b.Type),
		Status:             string(b.Status),
		Trigger:            b.Trigger(),
		SizeBytes:          b.SizeBytes,
		SnapshotID:         b.SnapshotID,
		StartedAt:          b.StartedAt,
		CompletedAt:        b.CompletedAt,
		ErrorMessage:       b.ErrorMessage,
		Metadata:           b.Metadata,
		SyncedRemotes:      b.SyncedRemotes,
		NeedsRemoteCleanup: b.NeedsRemoteCleanup(),
		ProcessID:          b.ProcessID,
		CreatedAt:          b.CreatedAt,
		DeletedAt:          b.DeletedAt,
	}
}
