package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rafaelgcostaa/adslibrary/internal/authorization"
	"github.com/rafaelgcostaa/adslibrary/pkg/accountctx"
)

// Identity headers are set by the trusted gateway after authentication.
const (
	HeaderAccountID = "X-Account-ID"
	HeaderRole      = "X-Caller-Role"

	contextAccountIDKey = "account_id"
	contextRoleKey      = "caller_role"
)

// CallerRole reads the caller role. Requests without one act as a user.
func (s *Server) CallerRole() gin.HandlerFunc {
	return func(c *gin.Context) {
		role := strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderRole)))
		if role == "" {
			role = authorization.RoleUser
		}
		c.Set(contextRoleKey, role)
		c.Next()
	}
}

// CallerRequired resolves the authenticated account and the caller role.
func (s *Server) CallerRequired() gin.HandlerFunc {
	resolveRole := s.CallerRole()
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderAccountID))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		parsed, err := uuid.Parse(raw)
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		accountID := parsed.String()
		c.Set(contextAccountIDKey, accountID)
		c.Request = c.Request.WithContext(accountctx.WithAccountID(c.Request.Context(), accountID))
		resolveRole(c)
	}
}

func (s *Server) authorize(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.authzSvc == nil {
			AbortWithError(c, ErrForbidden)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), callerRole(c), object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func callerAccountID(c *gin.Context) string {
	return c.GetString(contextAccountIDKey)
}

func callerRole(c *gin.Context) string {
	if role := c.GetString(contextRoleKey); role != "" {
		return role
	}
	return authorization.RoleUser
}
