package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	ledgerdomain "github.com/rafaelgcostaa/adslibrary/internal/ledger/domain"
)

type accountResponse struct {
	ID        string                     `json:"id"`
	Balance   ledgerdomain.Credits       `json:"balance"`
	Status    ledgerdomain.AccountStatus `json:"status"`
	CreatedAt time.Time                  `json:"created_at"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

func newAccountResponse(account *ledgerdomain.Account) accountResponse {
	return accountResponse{
		ID:        account.ID,
		Balance:   account.Balance,
		Status:    account.Status,
		CreatedAt: account.CreatedAt,
		UpdatedAt: account.UpdatedAt,
	}
}

// OpenAccount creates the caller's account with its trial credits. Calling it
// again for an existing account returns the account unchanged.
func (s *Server) OpenAccount(c *gin.Context) {
	res, err := s.ledgerSvc.OpenAccount(c.Request.Context(), callerAccountID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"data": newAccountResponse(res.Account)})
}

func (s *Server) GetBalance(c *gin.Context) {
	account, err := s.ledgerSvc.GetAccount(c.Request.Context(), callerAccountID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"account_id": account.ID,
		"balance":    account.Balance,
		"status":     account.Status,
	}})
}

func (s *Server) DisableAccount(c *gin.Context) {
	accountID, ok := accountIDParam(c)
	if !ok {
		return
	}
	if err := s.ledgerSvc.DisableAccount(c.Request.Context(), accountID); err != nil {
		AbortWithError(c, err)
		return
	}
	s.respondAccount(c, accountID)
}

func (s *Server) EnableAccount(c *gin.Context) {
	accountID, ok := accountIDParam(c)
	if !ok {
		return
	}
	if err := s.ledgerSvc.EnableAccount(c.Request.Context(), accountID); err != nil {
		AbortWithError(c, err)
		return
	}
	s.respondAccount(c, accountID)
}

func (s *Server) VerifyAccount(c *gin.Context) {
	accountID, ok := accountIDParam(c)
	if !ok {
		return
	}
	v, err := s.ledgerSvc.VerifyAccount(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"account_id":        v.AccountID,
		"balance":           v.Balance,
		"transaction_sum":   v.TransactionSum,
		"transaction_count": v.TransactionCount,
		"drift":             v.Drift(),
		"consistent":        v.Consistent(),
	}})
}

func (s *Server) respondAccount(c *gin.Context, accountID string) {
	account, err := s.ledgerSvc.GetAccount(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": newAccountResponse(account)})
}

func accountIDParam(c *gin.Context) (string, bool) {
	parsed, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_account", "invalid account id"))
		return "", false
	}
	return parsed.String(), true
}
