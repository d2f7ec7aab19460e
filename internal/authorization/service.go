package authorization

import (
	"context"
	"errors"
)

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidRole   = errors.New("invalid_role")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)

const (
	RoleUser    = "user"
	RoleBilling = "billing"
	RoleAdmin   = "admin"
)

const (
	ObjectAccount   = "account"
	ObjectCharge    = "charge"
	ObjectCredit    = "credit"
	ObjectLedger    = "ledger"
	ObjectStatement = "statement"
)

const (
	ActionAccountOpen    = "account.open"
	ActionAccountDisable = "account.disable"
	ActionAccountEnable  = "account.enable"
	ActionAccountVerify  = "account.verify"

	ActionChargeCreate = "charge.create"
	ActionChargeRefund = "charge.refund"

	ActionCreditCreate = "credit.create"

	ActionLedgerView = "ledger.view"

	ActionStatementExport = "statement.export"
)

// Service decides whether a caller role may perform an action on an object.
type Service interface {
	Authorize(ctx context.Context, role string, object string, action string) error
}
