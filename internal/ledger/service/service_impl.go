package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/rafaelgcostaa/adslibrary/internal/clock"
	"github.com/rafaelgcostaa/adslibrary/internal/config"
	ledgerdomain "github.com/rafaelgcostaa/adslibrary/internal/ledger/domain"
	"github.com/rafaelgcostaa/adslibrary/internal/observability/logger"
	obsmetrics "github.com/rafaelgcostaa/adslibrary/internal/observability/metrics"
	"github.com/rafaelgcostaa/adslibrary/pkg/accountctx"
	pkgdb "github.com/rafaelgcostaa/adslibrary/pkg/db"
	"github.com/rafaelgcostaa/adslibrary/pkg/db/pagination"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxIdempotencyKeyLength = 255

// errIdempotencyConflict rolls back a transaction whose insert lost the
// race for its idempotency key.
var errIdempotencyConflict = errors.New("idempotency_conflict")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       ledgerdomain.Repository
	Clock      clock.Clock
	Config     config.Config
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	repo         ledgerdomain.Repository
	clock        clock.Clock
	trialCredits ledgerdomain.Credits
	obsMetrics   *obsmetrics.Metrics
	tracer       trace.Tracer
}

func NewService(p Params) ledgerdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("ledger.service"),
		genID:        p.GenID,
		repo:         p.Repo,
		clock:        clk,
		trialCredits: p.Config.TrialCredits,
		obsMetrics:   p.ObsMetrics,
		tracer:       otel.Tracer("adslibrary/ledger"),
	}
}

// ApplyTransaction atomically checks and applies one balance change. All
// writes for an account are serialized on its row; different accounts never
// contend.
func (s *Service) ApplyTransaction(ctx context.Context, req ledgerdomain.ApplyRequest) (ledgerdomain.ApplyResult, error) {
	req, err := normalizeApplyRequest(req)
	if err != nil {
		return ledgerdomain.ApplyResult{}, err
	}

	ctx, span := s.tracer.Start(ctx, "ledger.ApplyTransaction", trace.WithAttributes(
		attribute.String("ledger.kind", string(req.Kind)),
		attribute.String("ledger.action_type", string(req.ActionType)),
		attribute.Int64("ledger.amount", int64(req.Amount)),
	))
	defer span.End()

	log := logger.WithContext(accountctx.WithAccountID(ctx, req.AccountID), s.log).With(
		zap.String("kind", string(req.Kind)),
		zap.String("action_type", string(req.ActionType)),
		zap.String("amount", req.Amount.String()),
	)

	if req.IdempotencyKey != "" {
		existing, err := s.repo.FindByIdempotencyKey(ctx, s.db, req.AccountID, req.IdempotencyKey)
		if err != nil {
			return ledgerdomain.ApplyResult{}, s.fail(span, log, "idempotency lookup failed", err)
		}
		if existing != nil {
			return s.replayed(ctx, log, req, existing), nil
		}
	}

	var result ledgerdomain.ApplyResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		applied, err := s.apply(ctx, tx, req)
		if err != nil {
			return err
		}
		result = applied
		return nil
	})
	if errors.Is(err, errIdempotencyConflict) {
		existing, findErr := s.repo.FindByIdempotencyKey(ctx, s.db, req.AccountID, req.IdempotencyKey)
		if findErr != nil {
			return ledgerdomain.ApplyResult{}, s.fail(span, log, "idempotency reload failed", findErr)
		}
		if existing == nil {
			return ledgerdomain.ApplyResult{}, s.fail(span, log, "idempotency conflict without row", err)
		}
		return s.replayed(ctx, log, req, existing), nil
	}
	if err != nil {
		var insufficient *ledgerdomain.InsufficientFundsError
		if errors.As(err, &insufficient) {
			s.obsMetrics.RecordInsufficientFunds(ctx, string(req.ActionType))
			span.SetAttributes(attribute.Int64("ledger.shortfall", int64(insufficient.Shortfall())))
			log.Info("debit rejected",
				zap.String("balance", insufficient.Balance.String()),
				zap.String("shortfall", insufficient.Shortfall().String()),
			)
			return ledgerdomain.ApplyResult{}, err
		}
		return ledgerdomain.ApplyResult{}, s.fail(span, log, "apply transaction failed", err)
	}

	if result.AlreadyApplied {
		s.obsMetrics.RecordReplay(ctx, string(req.Kind))
		return result, nil
	}

	s.obsMetrics.RecordTransaction(ctx, string(req.Kind), string(req.ActionType), int64(req.Amount))
	span.SetAttributes(attribute.String("ledger.transaction_id", result.Transaction.ID.String()))
	log.Info("transaction applied",
		zap.String("transaction_id", result.Transaction.ID.String()),
		zap.String("balance", result.Balance.String()),
	)
	return result, nil
}

// apply runs steps 3 to 6 of a balance change on tx. The caller owns the
// transaction scope.
func (s *Service) apply(ctx context.Context, tx *gorm.DB, req ledgerdomain.ApplyRequest) (ledgerdomain.ApplyResult, error) {
	account, err := s.repo.LockAccount(ctx, tx, req.AccountID)
	if err != nil {
		return ledgerdomain.ApplyResult{}, err
	}
	if account == nil {
		return ledgerdomain.ApplyResult{}, ledgerdomain.ErrAccountNotFound
	}

	if req.IdempotencyKey != "" {
		existing, err := s.repo.FindByIdempotencyKey(ctx, tx, req.AccountID, req.IdempotencyKey)
		if err != nil {
			return ledgerdomain.ApplyResult{}, err
		}
		if existing != nil {
			return ledgerdomain.ApplyResult{
				Transaction:    existing,
				Balance:        existing.BalanceAfter,
				AlreadyApplied: true,
			}, nil
		}
	}

	debit := req.Amount.IsNegative()
	if debit {
		if account.Disabled() {
			return ledgerdomain.ApplyResult{}, ledgerdomain.ErrAccountDisabled
		}
		if account.Balance+req.Amount < 0 {
			return ledgerdomain.ApplyResult{}, &ledgerdomain.InsufficientFundsError{
				AccountID: account.ID,
				Balance:   account.Balance,
				Required:  req.Amount.Abs(),
			}
		}
	}

	now := s.clock.Now()
	balance, ok, err := s.repo.ApplyDelta(ctx, tx, req.AccountID, req.Amount, debit, now)
	if err != nil {
		return ledgerdomain.ApplyResult{}, err
	}
	if !ok {
		current, err := s.repo.FindAccount(ctx, tx, req.AccountID)
		if err != nil {
			return ledgerdomain.ApplyResult{}, err
		}
		if current == nil {
			return ledgerdomain.ApplyResult{}, ledgerdomain.ErrAccountNotFound
		}
		return ledgerdomain.ApplyResult{}, &ledgerdomain.InsufficientFundsError{
			AccountID: current.ID,
			Balance:   current.Balance,
			Required:  req.Amount.Abs(),
		}
	}

	record := &ledgerdomain.Transaction{
		ID:           s.genID.Generate(),
		AccountID:    req.AccountID,
		Amount:       req.Amount,
		BalanceAfter: balance,
		Kind:         req.Kind,
		ActionType:   req.ActionType,
		Description:  req.Description,
		CreatedAt:    now,
	}
	if len(req.Metadata) > 0 {
		record.Metadata = datatypes.JSONMap(req.Metadata)
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		record.IdempotencyKey = &key
	}

	inserted, err := s.repo.InsertTransaction(ctx, tx, record)
	if err != nil {
		return ledgerdomain.ApplyResult{}, err
	}
	if !inserted {
		return ledgerdomain.ApplyResult{}, errIdempotencyConflict
	}

	return ledgerdomain.ApplyResult{Transaction: record, Balance: balance}, nil
}

// OpenAccount creates the account and grants the free-trial credits in one
// transaction. Calling it again for an existing account changes nothing.
func (s *Service) OpenAccount(ctx context.Context, accountID string) (ledgerdomain.OpenResult, error) {
	accountID, err := normalizeAccountID(accountID)
	if err != nil {
		return ledgerdomain.OpenResult{}, err
	}
	log := logger.WithContext(accountctx.WithAccountID(ctx, accountID), s.log)

	created := false
	var bonus ledgerdomain.ApplyResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		inserted, err := s.repo.InsertAccount(ctx, tx, &ledgerdomain.Account{
			ID:        accountID,
			Balance:   0,
			Status:    ledgerdomain.AccountStatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return err
		}
		created = inserted

		if s.trialCredits <= 0 {
			return nil
		}
		bonus, err = s.apply(ctx, tx, ledgerdomain.ApplyRequest{
			AccountID:      accountID,
			Amount:         s.trialCredits,
			Kind:           ledgerdomain.KindBonus,
			ActionType:     ledgerdomain.ActionBonus,
			Description:    "Free trial credits",
			IdempotencyKey: ledgerdomain.SignupBonusKey,
		})
		return err
	})
	if err != nil && !errors.Is(err, errIdempotencyConflict) {
		return ledgerdomain.OpenResult{}, s.classify(log, "open account failed", err)
	}

	if bonus.Transaction != nil && !bonus.AlreadyApplied {
		s.obsMetrics.RecordTransaction(ctx, string(ledgerdomain.KindBonus), string(ledgerdomain.ActionBonus), int64(s.trialCredits))
	}

	account, err := s.repo.FindAccount(ctx, s.db, accountID)
	if err != nil {
		return ledgerdomain.OpenResult{}, s.classify(log, "reload account failed", err)
	}
	if account == nil {
		return ledgerdomain.OpenResult{}, ledgerdomain.ErrAccountNotFound
	}
	if created {
		log.Info("account opened", zap.String("balance", account.Balance.String()))
	}
	return ledgerdomain.OpenResult{Account: account, Created: created}, nil
}

func (s *Service) GetAccount(ctx context.Context, accountID string) (*ledgerdomain.Account, error) {
	accountID, err := normalizeAccountID(accountID)
	if err != nil {
		return nil, err
	}
	account, err := s.repo.FindAccount(ctx, s.db, accountID)
	if err != nil {
		return nil, s.classify(logger.WithContext(ctx, s.log), "get account failed", err)
	}
	if account == nil {
		return nil, ledgerdomain.ErrAccountNotFound
	}
	return account, nil
}

// GetBalance returns the committed balance. It never returns an
// uncommitted intermediate value.
func (s *Service) GetBalance(ctx context.Context, accountID string) (ledgerdomain.Credits, error) {
	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

func (s *Service) FindTransaction(ctx context.Context, accountID, idempotencyKey string) (*ledgerdomain.Transaction, error) {
	accountID, err := normalizeAccountID(accountID)
	if err != nil {
		return nil, err
	}
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey == "" {
		return nil, ledgerdomain.ErrInvalidIdempotency
	}
	record, err := s.repo.FindByIdempotencyKey(ctx, s.db, accountID, idempotencyKey)
	if err != nil {
		return nil, s.classify(logger.WithContext(ctx, s.log), "find transaction failed", err)
	}
	return record, nil
}

func (s *Service) DisableAccount(ctx context.Context, accountID string) error {
	return s.setStatus(ctx, accountID, ledgerdomain.AccountStatusDisabled)
}

func (s *Service) EnableAccount(ctx context.Context, accountID string) error {
	return s.setStatus(ctx, accountID, ledgerdomain.AccountStatusActive)
}

func (s *Service) setStatus(ctx context.Context, accountID string, status ledgerdomain.AccountStatus) error {
	accountID, err := normalizeAccountID(accountID)
	if err != nil {
		return err
	}
	log := logger.WithContext(accountctx.WithAccountID(ctx, accountID), s.log)

	rows, err := s.repo.SetStatus(ctx, s.db, accountID, status, s.clock.Now())
	if err != nil {
		return s.classify(log, "set account status failed", err)
	}
	if rows == 0 {
		return ledgerdomain.ErrAccountNotFound
	}
	log.Info("account status changed", zap.String("status", string(status)))
	return nil
}

// VerifyAccount replays the transaction log under the account lock and
// compares it with the stored balance.
func (s *Service) VerifyAccount(ctx context.Context, accountID string) (ledgerdomain.Verification, error) {
	accountID, err := normalizeAccountID(accountID)
	if err != nil {
		return ledgerdomain.Verification{}, err
	}

	var v ledgerdomain.Verification
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.repo.LockAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if account == nil {
			return ledgerdomain.ErrAccountNotFound
		}
		sum, count, err := s.repo.SumTransactions(ctx, tx, accountID)
		if err != nil {
			return err
		}
		v = ledgerdomain.Verification{
			AccountID:        accountID,
			Balance:          account.Balance,
			TransactionSum:   sum,
			TransactionCount: count,
		}
		return nil
	})
	if err != nil {
		return ledgerdomain.Verification{}, s.classify(logger.WithContext(ctx, s.log), "verify account failed", err)
	}
	return v, nil
}

func (s *Service) ListTransactions(ctx context.Context, req ledgerdomain.ListTransactionsRequest) (ledgerdomain.ListTransactionsResponse, error) {
	accountID, err := normalizeAccountID(req.AccountID)
	if err != nil {
		return ledgerdomain.ListTransactionsResponse{}, err
	}
	if req.Kind != "" && !req.Kind.Valid() {
		return ledgerdomain.ListTransactionsResponse{}, ledgerdomain.ErrInvalidKind
	}

	before, err := decodePosition(req.PageToken)
	if err != nil {
		return ledgerdomain.ListTransactionsResponse{}, err
	}
	pageSize := pagination.NormalizeSize(req.PageSize)

	items, err := s.repo.ListTransactions(ctx, s.db, accountID, ledgerdomain.TransactionFilter{
		Kind:       req.Kind,
		ActionType: req.ActionType,
	}, pageSize+1, before)
	if err != nil {
		return ledgerdomain.ListTransactionsResponse{}, s.classify(logger.WithContext(ctx, s.log), "list transactions failed", err)
	}

	return buildListResponse(items, pageSize), nil
}

func (s *Service) replayed(ctx context.Context, log *zap.Logger, req ledgerdomain.ApplyRequest, existing *ledgerdomain.Transaction) ledgerdomain.ApplyResult {
	if existing.Amount != req.Amount || existing.Kind != req.Kind {
		log.Warn("idempotency key reused with different payload",
			zap.String("transaction_id", existing.ID.String()),
			zap.String("recorded_amount", existing.Amount.String()),
			zap.String("recorded_kind", string(existing.Kind)),
		)
	}
	s.obsMetrics.RecordReplay(ctx, string(req.Kind))
	return ledgerdomain.ApplyResult{
		Transaction:    existing,
		Balance:        existing.BalanceAfter,
		AlreadyApplied: true,
	}
}

func (s *Service) fail(span trace.Span, log *zap.Logger, msg string, err error) error {
	err = s.classify(log, msg, err)
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	return err
}

// classify passes domain and cancellation errors through. Other failures are
// wrapped as ErrStorageUnavailable when transient and ErrStorageFailure otherwise.
func (s *Service) classify(log *zap.Logger, msg string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ledgerdomain.ErrAccountNotFound),
		errors.Is(err, ledgerdomain.ErrAccountDisabled),
		errors.Is(err, ledgerdomain.ErrInsufficientFunds),
		errors.Is(err, ledgerdomain.ErrStorageUnavailable),
		errors.Is(err, ledgerdomain.ErrStorageFailure),
		errors.Is(err, pagination.ErrInvalidPageToken),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	transient := pkgdb.IsTransientErr(err)
	log.Error(msg, zap.Error(err), zap.Bool("transient", transient))
	return ledgerdomain.WrapStorage(err, transient)
}

func normalizeApplyRequest(req ledgerdomain.ApplyRequest) (ledgerdomain.ApplyRequest, error) {
	accountID, err := normalizeAccountID(req.AccountID)
	if err != nil {
		return req, err
	}
	req.AccountID = accountID

	req.Kind = ledgerdomain.Kind(strings.ToLower(strings.TrimSpace(string(req.Kind))))
	if !req.Kind.Valid() {
		return req, ledgerdomain.ErrInvalidKind
	}
	if err := validateAmount(req.Kind, req.Amount); err != nil {
		return req, err
	}

	req.ActionType = ledgerdomain.ActionType(strings.ToLower(strings.TrimSpace(string(req.ActionType))))
	if req.ActionType == "" && req.Kind != ledgerdomain.KindConsumption {
		req.ActionType = ledgerdomain.ActionType(req.Kind)
	}
	req.Description = strings.TrimSpace(req.Description)

	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if len(req.IdempotencyKey) > maxIdempotencyKeyLength {
		return req, ledgerdomain.ErrInvalidIdempotency
	}
	return req, nil
}

func validateAmount(kind ledgerdomain.Kind, amount ledgerdomain.Credits) error {
	if amount == 0 {
		return ledgerdomain.ErrInvalidAmount
	}
	switch kind {
	case ledgerdomain.KindConsumption:
		if amount > 0 {
			return ledgerdomain.ErrInvalidAmount
		}
	case ledgerdomain.KindPurchase, ledgerdomain.KindBonus, ledgerdomain.KindRefund:
		if amount < 0 {
			return ledgerdomain.ErrInvalidAmount
		}
	}
	return nil
}

// normalizeAccountID accepts the auth provider's UUID in any case and
// returns its canonical form.
func normalizeAccountID(accountID string) (string, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return "", ledgerdomain.ErrInvalidAccount
	}
	parsed, err := uuid.Parse(accountID)
	if err != nil {
		return "", ledgerdomain.ErrInvalidAccount
	}
	return parsed.String(), nil
}

func decodePosition(token string) (*ledgerdomain.Position, error) {
	cursor, err := pagination.DecodeCursor(token)
	if err != nil || cursor == nil {
		return nil, err
	}
	id, createdAt, err := cursor.Position()
	if err != nil {
		return nil, err
	}
	return &ledgerdomain.Position{ID: id, CreatedAt: createdAt}, nil
}

func buildListResponse(items []*ledgerdomain.Transaction, pageSize int) ledgerdomain.ListTransactionsResponse {
	items, pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(record *ledgerdomain.Transaction) string {
		token, err := pagination.EncodeCursor(pagination.NewCursor(int64(record.ID), record.CreatedAt))
		if err != nil {
			return ""
		}
		return token
	})

	records := make([]ledgerdomain.Transaction, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		records = append(records, *item)
	}

	resp := ledgerdomain.ListTransactionsResponse{Transactions: records}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp
}
