package domain

import (
	"context"

	"github.com/rafaelgcostaa/adslibrary/pkg/db/pagination"
)

// ApplyRequest describes one balance change. Amount is signed: consumption
// is negative, purchase, bonus and refund are positive, adjustment is either.
type ApplyRequest struct {
	AccountID      string
	Amount         Credits
	Kind           Kind
	ActionType     ActionType
	Description    string
	Metadata       map[string]any
	IdempotencyKey string
}

// ApplyResult is the outcome of ApplyTransaction. AlreadyApplied is set when
// the idempotency key matched an earlier transaction; nothing new was written
// and Balance is the balance right after that earlier transaction.
type ApplyResult struct {
	Transaction    *Transaction
	Balance        Credits
	AlreadyApplied bool
}

// OpenResult reports the state of an account after OpenAccount.
type OpenResult struct {
	Account *Account
	Created bool
}

// Verification compares the stored balance with the replayed transaction log.
type Verification struct {
	AccountID        string
	Balance          Credits
	TransactionSum   Credits
	TransactionCount int64
}

// Consistent reports whether the balance equals the sum of its transactions.
func (v Verification) Consistent() bool { return v.Balance == v.TransactionSum }

// Drift is the stored balance minus the replayed sum.
func (v Verification) Drift() Credits { return v.Balance - v.TransactionSum }

type ListTransactionsRequest struct {
	AccountID  string     `json:"account_id"`
	Kind       Kind       `json:"kind"`
	ActionType ActionType `json:"action_type"`
	PageToken  string     `json:"page_token"`
	PageSize   int        `json:"page_size"`
}

type ListTransactionsResponse struct {
	pagination.PageInfo
	Transactions []Transaction `json:"transactions"`
}

// Service is the transaction authority: the only writer of balances.
type Service interface {
	ApplyTransaction(ctx context.Context, req ApplyRequest) (ApplyResult, error)
	OpenAccount(ctx context.Context, accountID string) (OpenResult, error)
	GetAccount(ctx context.Context, accountID string) (*Account, error)
	GetBalance(ctx context.Context, accountID string) (Credits, error)
	FindTransaction(ctx context.Context, accountID, idempotencyKey string) (*Transaction, error)
	DisableAccount(ctx context.Context, accountID string) error
	EnableAccount(ctx context.Context, accountID string) error
	VerifyAccount(ctx context.Context, accountID string) (Verification, error)
	ListTransactions(ctx context.Context, req ListTransactionsRequest) (ListTransactionsResponse, error)
}
