package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rafaelgcostaa/adslibrary/internal/authorization"
	ledgerdomain "github.com/rafaelgcostaa/adslibrary/internal/ledger/domain"
	meteringdomain "github.com/rafaelgcostaa/adslibrary/internal/metering/domain"
	"github.com/rafaelgcostaa/adslibrary/internal/statement"
	"github.com/rafaelgcostaa/adslibrary/pkg/db/pagination"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type      string                `json:"type"`
	Message   string                `json:"message"`
	Errors    []ValidationError     `json:"errors,omitempty"`
	Balance   *ledgerdomain.Credits `json:"balance,omitempty"`
	Required  *ledgerdomain.Credits `json:"required,omitempty"`
	Shortfall *ledgerdomain.Credits `json:"shortfall,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrInternal       = errors.New("internal_error")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		var rateErr *meteringdomain.RateLimitError
		if errors.As(lastErr.Err, &rateErr) && rateErr.RetryAfter > 0 {
			seconds := int(rateErr.RetryAfter.Seconds())
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(seconds))
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	var fundsErr *ledgerdomain.InsufficientFundsError
	if errors.As(err, &fundsErr) {
		balance, required, shortfall := fundsErr.Balance, fundsErr.Required, fundsErr.Shortfall()
		return http.StatusPaymentRequired, errorPayload{
			Type:      "insufficient_credits",
			Message:   "insufficient credits",
			Balance:   &balance,
			Required:  &required,
			Shortfall: &shortfall,
		}
	}

	switch {
	case errors.Is(err, ledgerdomain.ErrInsufficientFunds):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "insufficient_credits",
			Message: "insufficient credits",
		}
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, authorization.ErrInvalidRole):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, ledgerdomain.ErrAccountDisabled):
		return http.StatusForbidden, errorPayload{
			Type:    "account_disabled",
			Message: "account disabled",
		}
	case errors.Is(err, meteringdomain.ErrChargeNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "charge not found",
		}
	case errors.Is(err, meteringdomain.ErrChargeRefunded):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "charge already refunded",
		}
	case errors.Is(err, meteringdomain.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ledgerdomain.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "try_again",
			Message: "temporarily unavailable, try again",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the error type and code logged with a request.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	if status >= http.StatusInternalServerError {
		return payload.Type, err.Error()
	}
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, pagination.ErrInvalidPageToken),
		errors.Is(err, statement.ErrTooManyLines):
		return true
	case isLedgerValidationError(err),
		isMeteringValidationError(err):
		return true
	default:
		return false
	}
}

func isLedgerValidationError(err error) bool {
	switch {
	case errors.Is(err, ledgerdomain.ErrInvalidAccount),
		errors.Is(err, ledgerdomain.ErrInvalidAmount),
		errors.Is(err, ledgerdomain.ErrInvalidKind),
		errors.Is(err, ledgerdomain.ErrInvalidIdempotency),
		errors.Is(err, ledgerdomain.ErrInvalidPeriod):
		return true
	default:
		return false
	}
}

func isMeteringValidationError(err error) bool {
	switch {
	case errors.Is(err, meteringdomain.ErrUnknownAction),
		errors.Is(err, meteringdomain.ErrInvalidRequestID):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	for _, sentinel := range []error{
		ErrInvalidRequest,
		pagination.ErrInvalidPageToken,
		statement.ErrTooManyLines,
		ledgerdomain.ErrInvalidAccount,
		ledgerdomain.ErrInvalidAmount,
		ledgerdomain.ErrInvalidKind,
		ledgerdomain.ErrInvalidIdempotency,
		ledgerdomain.ErrInvalidPeriod,
		meteringdomain.ErrUnknownAction,
		meteringdomain.ErrInvalidRequestID,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_request":
		return "request"
	case "unknown_action":
		return "action_type"
	case "invalid_idempotency_key":
		return "idempotency_key"
	case "invalid_account":
		return "account_id"
	case "statement_too_large", "invalid_period":
		return "period"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "unknown_action":
		return "unknown action type"
	case "statement_too_large":
		return "too many transactions in period, narrow the range"
	default:
		return "invalid value"
	}
}
