// Package domain holds the credit ledger model: accounts, their immutable
// transaction log, and the contracts of the store and the authority.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "active"
	AccountStatusDisabled AccountStatus = "disabled"
)

// Kind classifies a ledger transaction.
type Kind string

const (
	KindConsumption Kind = "consumption"
	KindPurchase    Kind = "purchase"
	KindBonus       Kind = "bonus"
	KindRefund      Kind = "refund"
	KindAdjustment  Kind = "adjustment"
)

// Valid reports whether k is a known transaction kind.
func (k Kind) Valid() bool {
	switch k {
	case KindConsumption, KindPurchase, KindBonus, KindRefund, KindAdjustment:
		return true
	}
	return false
}

// ActionType names the billable or informational action behind a transaction.
type ActionType string

const (
	ActionSearch          ActionType = "search"
	ActionImageGeneration ActionType = "image_generation"
	ActionTextGeneration  ActionType = "text_generation"
	ActionFavorite        ActionType = "favorite"
	ActionReportExport    ActionType = "report_export"
	ActionPurchase        ActionType = "purchase"
	ActionBonus           ActionType = "bonus"
	ActionRefund          ActionType = "refund"
	ActionAdjustment      ActionType = "adjustment"
)

var actionLabels = map[ActionType]string{
	ActionSearch:          "Search performed",
	ActionImageGeneration: "Creative generated",
	ActionTextGeneration:  "Creative generated",
	ActionFavorite:        "Ad favorited",
	ActionReportExport:    "Report exported",
	ActionPurchase:        "Credits purchased",
	ActionBonus:           "Bonus credits",
	ActionRefund:          "Credits refunded",
	ActionAdjustment:      "Balance adjusted",
}

// Label is the human-readable activity name of the action.
func (a ActionType) Label() string {
	if label, ok := actionLabels[a]; ok {
		return label
	}
	return strings.ReplaceAll(string(a), "_", " ")
}

// SignupBonusKey is the idempotency key of the free-trial grant applied
// when an account is opened.
const SignupBonusKey = "signup_bonus"

// Account is the running balance of one user. It is never hard-deleted.
type Account struct {
	ID        string        `gorm:"type:text;primaryKey"`
	Balance   Credits       `gorm:"not null;default:0"`
	Status    AccountStatus `gorm:"type:text;not null;default:'active'"`
	CreatedAt time.Time     `gorm:"not null"`
	UpdatedAt time.Time     `gorm:"not null"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "credit_accounts" }

func (a *Account) Disabled() bool { return a.Status == AccountStatusDisabled }

// Transaction is one immutable entry of the ledger.
type Transaction struct {
	ID             snowflake.ID      `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	AccountID      string            `gorm:"type:text;not null;index:idx_credit_transactions_account_created,priority:1;uniqueIndex:ux_credit_transactions_idempotency,priority:1" json:"account_id"`
	Amount         Credits           `gorm:"not null" json:"amount"`
	BalanceAfter   Credits           `gorm:"not null" json:"balance_after"`
	Kind           Kind              `gorm:"type:text;not null" json:"kind"`
	ActionType     ActionType        `gorm:"type:text" json:"action_type,omitempty"`
	Description    string            `gorm:"type:text" json:"description,omitempty"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	IdempotencyKey *string           `gorm:"type:text;uniqueIndex:ux_credit_transactions_idempotency,priority:2" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time         `gorm:"not null;index:idx_credit_transactions_account_created,priority:2" json:"created_at"`
}

// TableName sets the database table name.
func (Transaction) TableName() string { return "credit_transactions" }

// IsDebit reports whether the transaction reduced the balance.
func (t *Transaction) IsDebit() bool { return t.Amount < 0 }

// ActionTotal aggregates consumption per action type.
type ActionTotal struct {
	ActionType ActionType
	Count      int64
	Spent      Credits
}

// TransactionFilter narrows ListTransactions.
type TransactionFilter struct {
	Kind       Kind
	ActionType ActionType
	From       time.Time
	To         time.Time
}
