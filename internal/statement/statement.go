// Package statement builds account statements for a period from the
// transaction log and renders them as PDF.
package statement

import (
	"context"
	"errors"
	"slices"
	"time"

	ledgerdomain "github.com/rafaelgcostaa/adslibrary/internal/ledger/domain"
	"github.com/rafaelgcostaa/adslibrary/internal/observability/logger"
	"github.com/rafaelgcostaa/adslibrary/pkg/accountctx"
	pkgdb "github.com/rafaelgcostaa/adslibrary/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxPeriod = 366 * 24 * time.Hour
	maxLines  = 5000
)

var ErrTooManyLines = errors.New("statement_too_large")

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Ledger ledgerdomain.Service
	Repo   ledgerdomain.Repository
}

type Line struct {
	TransactionID string
	Date          time.Time
	Description   string
	Kind          ledgerdomain.Kind
	Amount        ledgerdomain.Credits
	BalanceAfter  ledgerdomain.Credits
}

// Statement covers [From, To). Opening is the balance right before From,
// Closing the balance after the last line.
type Statement struct {
	AccountID string
	From      time.Time
	To        time.Time
	Opening   ledgerdomain.Credits
	Closing   ledgerdomain.Credits
	Credited  ledgerdomain.Credits
	Debited   ledgerdomain.Credits
	Lines     []Line
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	ledger ledgerdomain.Service
	repo   ledgerdomain.Repository
}

func NewService(p Params) *Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("statement.service"),
		ledger: p.Ledger,
		repo:   p.Repo,
	}
}

func (s *Service) Build(ctx context.Context, accountID string, from, to time.Time) (*Statement, error) {
	from, to = from.UTC(), to.UTC()
	if from.IsZero() || to.IsZero() || !from.Before(to) || to.Sub(from) > maxPeriod {
		return nil, ledgerdomain.ErrInvalidPeriod
	}

	account, err := s.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	log := logger.WithContext(accountctx.WithAccountID(ctx, account.ID), s.log)

	st := &Statement{AccountID: account.ID, From: from, To: to}

	previous, err := s.repo.LastTransactionBefore(ctx, s.db, account.ID, from)
	if err != nil {
		return nil, s.storageErr(log, "load opening balance", err)
	}
	if previous != nil {
		st.Opening = previous.BalanceAfter
	}

	records, err := s.repo.ListTransactions(ctx, s.db, account.ID, ledgerdomain.TransactionFilter{From: from, To: to}, maxLines+1, nil)
	if err != nil {
		return nil, s.storageErr(log, "load statement lines", err)
	}
	if len(records) > maxLines {
		return nil, ErrTooManyLines
	}
	slices.Reverse(records)

	st.Closing = st.Opening
	st.Lines = make([]Line, 0, len(records))
	for _, record := range records {
		if record.Amount < 0 {
			st.Debited += record.Amount.Abs()
		} else {
			st.Credited += record.Amount
		}
		st.Closing = record.BalanceAfter
		st.Lines = append(st.Lines, Line{
			TransactionID: record.ID.String(),
			Date:          record.CreatedAt,
			Description:   describe(record),
			Kind:          record.Kind,
			Amount:        record.Amount,
			BalanceAfter:  record.BalanceAfter,
		})
	}

	if st.Opening+st.Credited-st.Debited != st.Closing {
		log.Error("statement does not balance",
			zap.String("opening", st.Opening.String()),
			zap.String("credited", st.Credited.String()),
			zap.String("debited", st.Debited.String()),
			zap.String("closing", st.Closing.String()),
		)
	}
	return st, nil
}

func (s *Service) storageErr(log *zap.Logger, msg string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	transient := pkgdb.IsTransientErr(err)
	log.Error(msg, zap.Error(err), zap.Bool("transient", transient))
	return ledgerdomain.WrapStorage(err, transient)
}

func describe(record *ledgerdomain.Transaction) string {
	if record.Description != "" {
		return record.Description
	}
	if record.ActionType != "" {
		return record.ActionType.Label()
	}
	return string(record.Kind)
}
