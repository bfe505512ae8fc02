package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vsisnet/vsispanel-sub003/internal/api/dto"
	"github.com/vsisnet/vsispanel-sub003/internal/core/domain"
	"github.com/vsisnet/vsispanel-sub003/internal/core/repository"
	"github.com/vsisnet/vsispanel-sub003/internal/core/service"
)

var (
	restoreQueryFields = []string{"id", "backup_id", "user_id", "status", "target_path", "started_at", "completed_at", "created_at"}
	restoreOrderFields = []string{"created_at", "started_at", "completed_at", "status"}
)

type RestoreHandler struct {
	restoreService *service.RestoreService
}

func NewRestoreHandler(restoreService *service.RestoreService) *RestoreHandler {
	return &RestoreHandler{restoreService: restoreService}
}

// ListRestores handles GET /restores
func (h *RestoreHandler) ListRestores(c *gin.Context) {
	listFilter, ok := parseListFilter(c, restoreQueryFields, restoreOrderFields)
	if !ok {
		return
	}
	filter := repository.RestoreFilter{ListFilter: listFilter}
	if backupID := c.Query("backup_id"); backupID != "" {
		filter.BackupID = &backupID
	}

	restores, err := h.restoreService.ListRestores(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	count, err := h.restoreService.CountRestores(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	response := dto.RestoreListResponse{
		Items:      make([]dto.RestoreResponse, len(restores)),
		Pagination: dto.NewPagination(count, listFilter.Page, listFilter.PerPage),
	}
	for i, r := range restores {
		response.Items[i] = toRestoreResponse(r)
	}
	c.JSON(http.StatusOK, response)
}

// GetRestore handles GET /restores/:id
func (h *RestoreHandler) GetRestore(c *gin.Context) {
	op, err := h.restoreService.GetRestore(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRestoreResponse(op))
}

func toRestoreResponse(r *domain.RestoreOperation) dto.RestoreResponse {
	return dto.RestoreResponse{
		ID:            r.ID,
		BackupID:      r.BackupID,
		UserID:        r.UserID,
		Status:        string(r.Status),
		TargetPath:    r.TargetPath,
		IncludePaths:  r.IncludePaths,
		FilesRestored: r.FilesRestored,
		BytesRestored: r.BytesRestored,
		ErrorMessage:  r.ErrorMessage,
		StartedAt:     r.StartedAt,
		CompletedAt:   r.CompletedAt,
		ProcessID:     r.ProcessID,
		CreatedAt:     r.CreatedAt,
	}
}
