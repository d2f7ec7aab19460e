// Package domain defines the metering facade: what feature code calls to
// pay for an action before performing it.
package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/rafaelgcostaa/adslibrary/internal/ledger/domain"
)

var (
	ErrUnknownAction    = errors.New("unknown_action")
	ErrInvalidRequestID = errors.New("invalid_request_id")
	ErrRateLimited      = errors.New("rate_limited")
	ErrChargeNotFound   = errors.New("charge_not_found")
	ErrChargeRefunded   = errors.New("charge_already_refunded")
)

// RateLimitError is returned when the account spends faster than its
// token bucket allows. Nothing was charged.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// ChargeRequest asks to pay for one action. RequestID identifies the user
// request: retries must reuse it so the charge is applied at most once.
type ChargeRequest struct {
	AccountID   string         `json:"account_id"`
	ActionType  string         `json:"action_type"`
	RequestID   string         `json:"request_id"`
	Description string         `json:"description"`
	Context     map[string]any `json:"context"`
}

type ChargeResult struct {
	TransactionID  snowflake.ID            `json:"transaction_id,string"`
	ActionType     ledgerdomain.ActionType `json:"action_type"`
	Cost           ledgerdomain.Credits    `json:"cost"`
	Balance        ledgerdomain.Credits    `json:"balance"`
	AlreadyApplied bool                    `json:"already_applied"`
}

// CreditRequest adds credits from outside the metering flow, typically a
// purchase confirmed by billing.
type CreditRequest struct {
	AccountID      string               `json:"account_id"`
	Amount         ledgerdomain.Credits `json:"amount"`
	Kind           ledgerdomain.Kind    `json:"kind"`
	Description    string               `json:"description"`
	IdempotencyKey string               `json:"idempotency_key"`
	Metadata       map[string]any       `json:"metadata"`
}

type CreditResult struct {
	TransactionID  snowflake.ID         `json:"transaction_id,string"`
	Amount         ledgerdomain.Credits `json:"amount"`
	Balance        ledgerdomain.Credits `json:"balance"`
	AlreadyApplied bool                 `json:"already_applied"`
}

type RefundRequest struct {
	AccountID string `json:"account_id"`
	RequestID string `json:"request_id"`
	Reason    string `json:"reason"`
}

type Service interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	Credit(ctx context.Context, req CreditRequest) (CreditResult, error)
	Refund(ctx context.Context, req RefundRequest) (CreditResult, error)
	Run(ctx context.Context, req ChargeRequest, work func(ctx context.Context) error) (ChargeResult, error)
	Price(action string) (ledgerdomain.Credits, error)
	Prices() map[ledgerdomain.ActionType]ledgerdomain.Credits
}

// ChargeKey is the idempotency key of the charge for requestID.
func ChargeKey(requestID string) string { return "charge:" + requestID }

// RefundKey is the idempotency key of the refund compensating requestID.
func RefundKey(requestID string) string { return "refund:" + requestID }

// IsReservedKey reports whether key belongs to the charge, refund or signup
// bonus namespaces that only this service writes.
func IsReservedKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	return strings.HasPrefix(key, "charge:") ||
		strings.HasPrefix(key, "refund:") ||
		key == ledgerdomain.SignupBonusKey
}
