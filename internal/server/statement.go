package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) ExportStatement(c *gin.Context) {
	now := s.now()
	from, err := parseOptionalTime(c.Query("from"), false)
	if err != nil {
		AbortWithError(c, newValidationError("from", "invalid_from", "invalid from"))
		return
	}
	to, err := parseOptionalTime(c.Query("to"), true)
	if err != nil {
		AbortWithError(c, newValidationError("to", "invalid_to", "invalid to"))
		return
	}

	// Defaults to the current calendar month.
	if to == nil {
		end := now
		to = &end
	}
	if from == nil {
		start := monthStart(*to)
		if !start.Before(*to) {
			start = monthStart(to.AddDate(0, 0, -1))
		}
		from = &start
	}

	accountID := callerAccountID(c)
	doc, err := s.statements.Render(c.Request.Context(), accountID, *from, *to)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	filename := fmt.Sprintf("statement-%s-%s.pdf", from.Format(dateOnlyLayout), to.Format(dateOnlyLayout))
	c.DataFromReader(http.StatusOK, -1, "application/pdf", doc, map[string]string{
		"Content-Disposition": fmt.Sprintf(`attachment; filename="%s"`, filename),
	})
}
