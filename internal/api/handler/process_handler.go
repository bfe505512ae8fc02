package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vsisnet/vsispanel-sub003/internal/api/dto"
	"github.com/vsisnet/vsispanel-sub003/internal/core/domain"
	"github.com/vsisnet/vsispanel-sub003/internal/core/repository"
	"github.com/vsisnet/vsispanel-sub003/internal/core/service"
)

// Allowed fields for process queries and ordering
var (
	processQueryFields = []string{"id", "command", "command_id", "pid", "status", "return_code", "start_time", "end_time", "type"}
	processOrderFields = []string{"id", "start_time", "end_time", "status"}
)

type ProcessHandler struct {
	processService *service.ProcessService
}

func NewProcessHandler(processService *service.ProcessService) *ProcessHandler {
	return &ProcessHandler{
		processService: processService,
	}
}

// ListProcesses handles GET /processes
func (h *ProcessHandler) ListProcesses(c *gin.Context) {
	listFilter, ok := parseListFilter(c, processQueryFields, processOrderFields)
	if !ok {
		return
	}
	filter := repository.ProcessFilter{ListFilter: listFilter}

	processes, err := h.processService.ListProcesses(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	count, err := h.processService.CountProcesses(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	response := dto.ProcessListResponse{
		Items:      make([]dto.ProcessResponse, len(processes)),
		Pagination: dto.NewPagination(count, listFilter.Page, listFilter.PerPage),
	}
	for i, process := range processes {
		response.Items[i] = toProcessResponse(process)
	}

	c.JSON(http.StatusOK, response)
}

// GetProcessByCommandID handles GET /status/:command_id
func (h *ProcessHandler) GetProcessByCommandID(c *gin.Context) {
	commandID := c.Param("command_id")

	process, err := h.processService.GetProcessByCommandID(c.Request.Context(), commandID)
	if err != nil {
		abortWithError(c, http.StatusNotFound, fmt.Sprintf("Process not found: %s", commandID))
		return
	}

	c.JSON(http.StatusOK, toProcessResponse(process))
}

// GetProcess handles GET /processes/:id
func (h *ProcessHandler) GetProcess(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid process ID")
		return
	}

	process, err := h.processService.GetProcess(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, http.StatusNotFound, fmt.Sprintf("Process not found: %d", id))
		return
	}

	c.JSON(http.StatusOK, toProcessResponse(process))
}

func toProcessResponse(process *domain.Process) dto.ProcessResponse {
	response := dto.ProcessResponse{
		ID:         process.ID,
		CommandID:  process.CommandID,
		Command:    process.Command,
		PID:        process.PID,
		Status:     string(process.Status),
		Progress:   process.Progress,
		Output:     process.Output,
		Error:      process.Error,
		ReturnCode: process.ReturnCode,
		StartTime:  process.StartTime,
		EndTime:    process.EndTime,
		Type:       string(process.Type),
		Args:       process.Args,
	}

	link := fmt.Sprintf("/status/%s", process.CommandID)
	response.Link = &link

	for _, key := range []string{"restore_id", "backup_id"} {
		if id, ok := process.Args[key].(string); ok {
			response.ResourceID = &id
			break
		}
	}

	return response
}
