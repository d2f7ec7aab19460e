package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/rafaelgcostaa/adslibrary/internal/ledger/domain"
	meteringdomain "github.com/rafaelgcostaa/adslibrary/internal/metering/domain"
)

type createChargeRequest struct {
	ActionType  string         `json:"action_type"`
	RequestID   string         `json:"request_id"`
	Description string         `json:"description"`
	Context     map[string]any `json:"context"`
}

type refundChargeRequest struct {
	Reason string `json:"reason"`
}

type createCreditRequest struct {
	AccountID      string               `json:"account_id"`
	Amount         ledgerdomain.Credits `json:"amount"`
	Kind           ledgerdomain.Kind    `json:"kind"`
	Description    string               `json:"description"`
	IdempotencyKey string               `json:"idempotency_key"`
	Metadata       map[string]any       `json:"metadata"`
}

func (s *Server) ListPrices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.meteringSvc.Prices()})
}

func (s *Server) CreateCharge(c *gin.Context) {
	var req createChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	c.Set("action_type", strings.TrimSpace(req.ActionType))

	resp, err := s.meteringSvc.Charge(c.Request.Context(), meteringdomain.ChargeRequest{
		AccountID:   callerAccountID(c),
		ActionType:  req.ActionType,
		RequestID:   req.RequestID,
		Description: strings.TrimSpace(req.Description),
		Context:     req.Context,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RefundCharge(c *gin.Context) {
	var req refundChargeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	resp, err := s.meteringSvc.Refund(c.Request.Context(), meteringdomain.RefundRequest{
		AccountID: callerAccountID(c),
		RequestID: c.Param("request_id"),
		Reason:    strings.TrimSpace(req.Reason),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// CreateCredit records a purchase, bonus or adjustment on any account. It is
// reserved to billing callers.
func (s *Server) CreateCredit(c *gin.Context) {
	var req createCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.meteringSvc.Credit(c.Request.Context(), meteringdomain.CreditRequest{
		AccountID:      strings.TrimSpace(req.AccountID),
		Amount:         req.Amount,
		Kind:           req.Kind,
		Description:    strings.TrimSpace(req.Description),
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
		Metadata:       req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
