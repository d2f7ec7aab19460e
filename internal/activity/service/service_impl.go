package service

import (
	"context"
	"iter"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	activitydomain "github.com/rafaelgcostaa/adslibrary/internal/activity/domain"
	"github.com/rafaelgcostaa/adslibrary/internal/clock"
	ledgerdomain "github.com/rafaelgcostaa/adslibrary/internal/ledger/domain"
	"github.com/rafaelgcostaa/adslibrary/internal/observability/logger"
	"github.com/rafaelgcostaa/adslibrary/pkg/accountctx"
	pkgdb "github.com/rafaelgcostaa/adslibrary/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	DefaultRecentLimit = 10
	MaxRecentLimit     = 100
	recentPageSize     = 25
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Ledger ledgerdomain.Service
	Repo   ledgerdomain.Repository
	Clock  clock.Clock
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	ledger ledgerdomain.Service
	repo   ledgerdomain.Repository
	clock  clock.Clock
}

func NewService(p Params) activitydomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("activity.service"),
		ledger: p.Ledger,
		repo:   p.Repo,
		clock:  clk,
	}
}

func (s *Service) RecentActivity(ctx context.Context, accountID string, limit int) iter.Seq2[activitydomain.Entry, error] {
	limit = clampRecent(limit)
	return func(yield func(activitydomain.Entry, error) bool) {
		now := s.clock.Now()
		token := ""
		emitted := 0
		for emitted < limit {
			resp, err := s.ledger.ListTransactions(ctx, ledgerdomain.ListTransactionsRequest{
				AccountID: accountID,
				PageToken: token,
				PageSize:  min(recentPageSize, limit-emitted),
			})
			if err != nil {
				yield(activitydomain.Entry{}, err)
				return
			}
			for _, record := range resp.Transactions {
				if !yield(project(record, now), nil) {
					return
				}
				emitted++
				if emitted >= limit {
					return
				}
			}
			if !resp.HasMore || resp.NextPageToken == "" {
				return
			}
			token = resp.NextPageToken
		}
	}
}

func (s *Service) List(ctx context.Context, req activitydomain.ListRequest) (activitydomain.ListResponse, error) {
	resp, err := s.ledger.ListTransactions(ctx, ledgerdomain.ListTransactionsRequest{
		AccountID:  req.AccountID,
		Kind:       ledgerdomain.Kind(strings.ToLower(strings.TrimSpace(req.Kind))),
		ActionType: ledgerdomain.ActionType(strings.ToLower(strings.TrimSpace(req.ActionType))),
		PageToken:  req.PageToken,
		PageSize:   req.PageSize,
	})
	if err != nil {
		return activitydomain.ListResponse{}, err
	}

	now := s.clock.Now()
	entries := make([]activitydomain.Entry, 0, len(resp.Transactions))
	for _, record := range resp.Transactions {
		entries = append(entries, project(record, now))
	}
	return activitydomain.ListResponse{PageInfo: resp.PageInfo, Entries: entries}, nil
}

func (s *Service) Summary(ctx context.Context, accountID string) (activitydomain.Summary, error) {
	account, err := s.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return activitydomain.Summary{}, err
	}

	totals, err := s.repo.Summarize(ctx, s.db, account.ID)
	if err != nil {
		logger.WithContext(accountctx.WithAccountID(ctx, account.ID), s.log).
			Error("summarize activity failed", zap.Error(err))
		return activitydomain.Summary{}, ledgerdomain.WrapStorage(err, pkgdb.IsTransientErr(err))
	}

	summary := activitydomain.Summary{
		AccountID: account.ID,
		Balance:   account.Balance,
		Actions:   make([]activitydomain.ActionSummary, 0, len(totals)),
	}
	for _, total := range totals {
		summary.TotalSpent += total.Spent
		summary.Actions = append(summary.Actions, activitydomain.ActionSummary{
			ActionType: total.ActionType,
			Label:      total.ActionType.Label(),
			Count:      total.Count,
			Spent:      total.Spent,
		})
	}
	return summary, nil
}

func project(record ledgerdomain.Transaction, now time.Time) activitydomain.Entry {
	status := activitydomain.StatusInfo
	if record.Kind == ledgerdomain.KindConsumption {
		status = activitydomain.StatusSuccess
	}

	action := record.ActionType
	if action == "" {
		action = ledgerdomain.ActionType(record.Kind)
	}

	return activitydomain.Entry{
		TransactionID: record.ID,
		Action:        action.Label(),
		Target:        target(record),
		Time:          humanize.RelTime(record.CreatedAt, now, "ago", "from now"),
		Status:        status,
		Amount:        record.Amount,
		BalanceAfter:  record.BalanceAfter,
		Kind:          record.Kind,
		ActionType:    record.ActionType,
		CreatedAt:     record.CreatedAt,
	}
}

// target prefers what the user acted on, such as the search query, over
// the generic description.
func target(record ledgerdomain.Transaction) string {
	for _, key := range []string{"target", "query", "prompt", "niche"} {
		if value, ok := record.Metadata[key].(string); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return record.Description
}

func clampRecent(limit int) int {
	if limit <= 0 {
		return DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		return MaxRecentLimit
	}
	return limit
}
