package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vsisnet/vsispanel-sub003/internal/api/dto"
	"github.com/vsisnet/vsispanel-sub003/internal/api/util"
	"github.com/vsisnet/vsispanel-sub003/internal/core/domain"
	"github.com/vsisnet/vsispanel-sub003/internal/core/service"
)

const (
	defaultPerPage = 25
	maxPerPage     = 500
)

func abortWithError(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, dto.ErrorResponse{
		Error:   http.StatusText(code),
		Message: message,
		Code:    code,
	})
}

// respondError maps service and domain errors onto status codes.
func respondError(c *gin.Context, err error) {
	var svcErr *service.ServiceError
	switch {
	case errors.As(err, &svcErr):
		abortWithError(c, svcErr.Code, svcErr.Message)
	case errors.Is(err, domain.ErrNotFound):
		abortWithError(c, http.StatusNotFound, err.Error())
	default:
		_ = c.Error(err)
		abortWithError(c, http.StatusInternalServerError, err.Error())
	}
}

// parseListFilter reads page, per_page, query and order, validating field
// names against the allow-lists. It writes a 400 and returns false on bad
// input.
func parseListFilter(c *gin.Context, queryFields, orderFields []string) (util.ListFilter, bool) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		abortWithError(c, http.StatusBadRequest, "page must be a positive integer")
		return util.ListFilter{}, false
	}
	perPage, err := strconv.Atoi(c.DefaultQuery("per_page", strconv.Itoa(defaultPerPage)))
	if err != nil || perPage < 1 || perPage > maxPerPage {
		abortWithError(c, http.StatusBadRequest, "per_page must be between 1 and 500")
		return util.ListFilter{}, false
	}

	filter := util.ListFilter{Page: page, PerPage: perPage}

	if queryStr := c.Query("query"); queryStr != "" {
		filters, err := util.ParseQuery(queryStr, util.NewFields(queryFields...))
		if err != nil {
			abortWithError(c, http.StatusBadRequest, err.Error())
			return util.ListFilter{}, false
		}
		filter.Filters = filters
	}

	if orderStr := c.Query("order"); orderStr != "" {
		orders, err := util.ParseOrder(orderStr, util.NewFields(orderFields...))
		if err != nil {
			abortWithError(c, http.StatusBadRequest, err.Error())
			return util.ListFilter{}, false
		}
		filter.Order = orders
	}

	return filter, true
}
