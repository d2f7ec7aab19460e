package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	activitydomain "github.com/rafaelgcostaa/adslibrary/internal/activity/domain"
	"github.com/rafaelgcostaa/adslibrary/pkg/db/pagination"
)

const defaultActivityLimit = 10

func (s *Server) RecentActivity(c *gin.Context) {
	limit, err := parseOptionalInt(c.Query("limit"), defaultActivityLimit)
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}

	entries := make([]activitydomain.Entry, 0)
	for entry, err := range s.activitySvc.RecentActivity(c.Request.Context(), callerAccountID(c), limit) {
		if err != nil {
			AbortWithError(c, err)
			return
		}
		entries = append(entries, entry)
	}

	c.JSON(http.StatusOK, gin.H{"data": entries})
}

func (s *Server) ActivitySummary(c *gin.Context) {
	resp, err := s.activitySvc.Summary(c.Request.Context(), callerAccountID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListTransactions(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Kind       string `form:"kind"`
		ActionType string `form:"action_type"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.activitySvc.List(c.Request.Context(), activitydomain.ListRequest{
		AccountID:  callerAccountID(c),
		Kind:       strings.TrimSpace(query.Kind),
		ActionType: strings.TrimSpace(query.ActionType),
		PageToken:  query.PageToken,
		PageSize:   query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
