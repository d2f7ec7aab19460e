// Package domain defines the read-only activity view over the ledger.
package domain

import (
	"context"
	"iter"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/rafaelgcostaa/adslibrary/internal/ledger/domain"
	"github.com/rafaelgcostaa/adslibrary/pkg/db/pagination"
)

const (
	StatusSuccess = "success"
	StatusInfo    = "info"
)

// Entry is one ledger transaction rendered for a user's activity feed.
type Entry struct {
	TransactionID snowflake.ID            `json:"transaction_id"`
	Action        string                  `json:"action"`
	Target        string                  `json:"target"`
	Time          string                  `json:"time"`
	Status        string                  `json:"status"`
	Amount        ledgerdomain.Credits    `json:"amount"`
	BalanceAfter  ledgerdomain.Credits    `json:"balance_after"`
	Kind          ledgerdomain.Kind       `json:"kind"`
	ActionType    ledgerdomain.ActionType `json:"action_type,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
}

type ListRequest struct {
	AccountID  string `json:"account_id"`
	Kind       string `json:"kind"`
	ActionType string `json:"action_type"`
	PageToken  string `json:"page_token"`
	PageSize   int    `json:"page_size"`
}

type ListResponse struct {
	pagination.PageInfo
	Entries []Entry `json:"entries"`
}

type ActionSummary struct {
	ActionType ledgerdomain.ActionType `json:"action_type"`
	Label      string                  `json:"label"`
	Count      int64                   `json:"count"`
	Spent      ledgerdomain.Credits    `json:"spent"`
}

// Summary aggregates an account's consumption for dashboards.
type Summary struct {
	AccountID  string               `json:"account_id"`
	Balance    ledgerdomain.Credits `json:"balance"`
	TotalSpent ledgerdomain.Credits `json:"total_spent"`
	Actions    []ActionSummary      `json:"actions"`
}

type Service interface {
	// RecentActivity yields at most limit entries, newest first. Pages are
	// fetched lazily and every range starts a fresh read.
	RecentActivity(ctx context.Context, accountID string, limit int) iter.Seq2[Entry, error]
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	Summary(ctx context.Context, accountID string) (Summary, error)
}
