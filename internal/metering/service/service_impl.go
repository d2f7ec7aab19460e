package service

import (
	"context"
	"errors"
	"maps"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gosimple/slug"
	"github.com/rafaelgcostaa/adslibrary/internal/config"
	ledgerdomain "github.com/rafaelgcostaa/adslibrary/internal/ledger/domain"
	meteringdomain "github.com/rafaelgcostaa/adslibrary/internal/metering/domain"
	"github.com/rafaelgcostaa/adslibrary/internal/observability/logger"
	obsmetrics "github.com/rafaelgcostaa/adslibrary/internal/observability/metrics"
	"github.com/rafaelgcostaa/adslibrary/internal/ratelimit"
	"github.com/rafaelgcostaa/adslibrary/pkg/accountctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const maxRequestIDLength = 200

const (
	refundReasonRequested  = "requested"
	refundReasonWorkFailed = "work_failed"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Ledger     ledgerdomain.Service
	Pricing    *config.PricingHolder
	Config     config.Config
	Limiter    *ratelimit.ChargeLimiter `optional:"true"`
	ObsMetrics *obsmetrics.Metrics      `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	ledger     ledgerdomain.Service
	pricing    *config.PricingHolder
	limiter    *ratelimit.ChargeLimiter
	retry      config.ChargeConfig
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) meteringdomain.Service {
	return &Service{
		log:        p.Log.Named("metering.service"),
		ledger:     p.Ledger,
		pricing:    p.Pricing,
		limiter:    p.Limiter,
		retry:      p.Config.Charge,
		obsMetrics: p.ObsMetrics,
	}
}

// Charge debits the price of one action. A retry with the same request id
// returns the original outcome without charging again.
func (s *Service) Charge(ctx context.Context, req meteringdomain.ChargeRequest) (meteringdomain.ChargeResult, error) {
	req.AccountID = strings.TrimSpace(req.AccountID)
	if req.AccountID == "" {
		return meteringdomain.ChargeResult{}, ledgerdomain.ErrInvalidAccount
	}
	requestID, err := normalizeRequestID(req.RequestID)
	if err != nil {
		return meteringdomain.ChargeResult{}, err
	}
	action := NormalizeAction(req.ActionType)
	price, err := s.Price(string(action))
	if err != nil {
		return meteringdomain.ChargeResult{}, err
	}

	ctx = accountctx.WithRequestID(accountctx.WithAccountID(ctx, req.AccountID), requestID)
	log := logger.WithContext(ctx, s.log).With(zap.String("action_type", string(action)))
	key := meteringdomain.ChargeKey(requestID)

	if s.limiter.Enabled() {
		// Retries of a settled request replay without spending a token.
		existing, err := s.ledger.FindTransaction(ctx, req.AccountID, key)
		if err != nil {
			return meteringdomain.ChargeResult{}, err
		}
		if existing != nil {
			s.obsMetrics.RecordReplay(ctx, string(existing.Kind))
			return chargeResult(action, ledgerdomain.ApplyResult{
				Transaction:    existing,
				Balance:        existing.BalanceAfter,
				AlreadyApplied: true,
			}), nil
		}
		if err := s.allow(ctx, log, req.AccountID, action); err != nil {
			return meteringdomain.ChargeResult{}, err
		}
	}

	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = action.Label()
	}
	metadata := make(map[string]any, len(req.Context)+1)
	maps.Copy(metadata, req.Context)
	metadata["request_id"] = requestID

	applied, err := s.apply(ctx, log, action, ledgerdomain.ApplyRequest{
		AccountID:      req.AccountID,
		Amount:         price.Neg(),
		Kind:           ledgerdomain.KindConsumption,
		ActionType:     action,
		Description:    description,
		Metadata:       metadata,
		IdempotencyKey: key,
	})
	if err != nil {
		return meteringdomain.ChargeResult{}, err
	}

	if !applied.AlreadyApplied {
		log.Debug("charge applied",
			zap.String("cost", price.String()),
			zap.String("balance", applied.Balance.String()),
		)
	}
	return chargeResult(action, applied), nil
}

// Credit adds credits outside of metering. Consumption is not a credit kind.
func (s *Service) Credit(ctx context.Context, req meteringdomain.CreditRequest) (meteringdomain.CreditResult, error) {
	kind := ledgerdomain.Kind(strings.ToLower(strings.TrimSpace(string(req.Kind))))
	if kind == "" {
		kind = ledgerdomain.KindPurchase
	}
	if kind == ledgerdomain.KindConsumption || !kind.Valid() {
		return meteringdomain.CreditResult{}, ledgerdomain.ErrInvalidKind
	}
	if meteringdomain.IsReservedKey(req.IdempotencyKey) {
		return meteringdomain.CreditResult{}, ledgerdomain.ErrInvalidIdempotency
	}

	ctx = accountctx.WithAccountID(ctx, req.AccountID)
	log := logger.WithContext(ctx, s.log).With(zap.String("kind", string(kind)))
	applied, err := s.apply(ctx, log, ledgerdomain.ActionType(kind), ledgerdomain.ApplyRequest{
		AccountID:      req.AccountID,
		Amount:         req.Amount,
		Kind:           kind,
		ActionType:     ledgerdomain.ActionType(kind),
		Description:    req.Description,
		Metadata:       req.Metadata,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return meteringdomain.CreditResult{}, err
	}
	return creditResult(applied), nil
}

// Refund returns exactly what the charge of the same request cost. It is
// idempotent per request id.
func (s *Service) Refund(ctx context.Context, req meteringdomain.RefundRequest) (meteringdomain.CreditResult, error) {
	return s.refund(ctx, req, refundReasonRequested)
}

func (s *Service) refund(ctx context.Context, req meteringdomain.RefundRequest, metricReason string) (meteringdomain.CreditResult, error) {
	requestID, err := normalizeRequestID(req.RequestID)
	if err != nil {
		return meteringdomain.CreditResult{}, err
	}
	charge, err := s.ledger.FindTransaction(ctx, req.AccountID, meteringdomain.ChargeKey(requestID))
	if err != nil {
		return meteringdomain.CreditResult{}, err
	}
	if charge == nil || charge.Kind != ledgerdomain.KindConsumption {
		return meteringdomain.CreditResult{}, meteringdomain.ErrChargeNotFound
	}

	reason := strings.TrimSpace(req.Reason)
	description := "Refund: " + charge.ActionType.Label()
	if reason != "" {
		description += " (" + reason + ")"
	}

	ctx = accountctx.WithRequestID(accountctx.WithAccountID(ctx, charge.AccountID), requestID)
	log := logger.WithContext(ctx, s.log)
	applied, err := s.apply(ctx, log, ledgerdomain.ActionRefund, ledgerdomain.ApplyRequest{
		AccountID:   charge.AccountID,
		Amount:      charge.Amount.Abs(),
		Kind:        ledgerdomain.KindRefund,
		ActionType:  ledgerdomain.ActionRefund,
		Description: description,
		Metadata: map[string]any{
			"request_id":            requestID,
			"charge_transaction_id": charge.ID.String(),
			"charged_action_type":   string(charge.ActionType),
			"reason":                reason,
		},
		IdempotencyKey: meteringdomain.RefundKey(requestID),
	})
	if err != nil {
		return meteringdomain.CreditResult{}, err
	}
	if !applied.AlreadyApplied {
		s.obsMetrics.RecordRefund(ctx, metricReason)
		log.Info("charge refunded",
			zap.String("amount", applied.Transaction.Amount.String()),
			zap.String("reason", metricReason),
		)
	}
	return creditResult(applied), nil
}

// Run charges first and performs work only when the charge succeeded. If
// the work fails the charge is refunded and the work error returned.
func (s *Service) Run(ctx context.Context, req meteringdomain.ChargeRequest, work func(ctx context.Context) error) (meteringdomain.ChargeResult, error) {
	result, err := s.Charge(ctx, req)
	if err != nil {
		return meteringdomain.ChargeResult{}, err
	}

	if result.AlreadyApplied {
		refunded, err := s.ledger.FindTransaction(ctx, req.AccountID, meteringdomain.RefundKey(strings.TrimSpace(req.RequestID)))
		if err != nil {
			return result, err
		}
		if refunded != nil {
			return result, meteringdomain.ErrChargeRefunded
		}
	}

	workErr := work(ctx)
	if workErr == nil {
		return result, nil
	}

	// The refund must land even when the caller's context is already done.
	refundCtx := context.WithoutCancel(ctx)
	refund, err := s.refund(refundCtx, meteringdomain.RefundRequest{
		AccountID: req.AccountID,
		RequestID: req.RequestID,
		Reason:    "action failed",
	}, refundReasonWorkFailed)
	if err != nil {
		logger.WithContext(accountctx.WithRequestID(accountctx.WithAccountID(ctx, req.AccountID), req.RequestID), s.log).
			Error("refund after failed work", zap.Error(err))
		return result, errors.Join(workErr, err)
	}
	result.Balance = refund.Balance
	return result, workErr
}

func (s *Service) Price(action string) (ledgerdomain.Credits, error) {
	normalized := NormalizeAction(action)
	if normalized == "" {
		return 0, meteringdomain.ErrUnknownAction
	}
	price, ok := s.pricing.Get().Price(normalized)
	if !ok {
		return 0, meteringdomain.ErrUnknownAction
	}
	return price, nil
}

func (s *Service) Prices() map[ledgerdomain.ActionType]ledgerdomain.Credits {
	return s.pricing.Get().Prices()
}

func (s *Service) allow(ctx context.Context, log *zap.Logger, accountID string, action ledgerdomain.ActionType) error {
	decision, err := s.limiter.Allow(ctx, accountID)
	if err != nil {
		// Fail open: the limiter guards abuse, not balances.
		log.Warn("charge rate limiter unavailable", zap.Error(err))
		s.obsMetrics.RecordRateLimitAllowed(ctx, string(action))
		return nil
	}
	if !decision.Allowed {
		s.obsMetrics.RecordRateLimitDenied(ctx, string(action), "bucket_empty")
		log.Info("charge rate limited", zap.Duration("retry_after", decision.RetryAfter))
		return &meteringdomain.RateLimitError{RetryAfter: decision.RetryAfter}
	}
	s.obsMetrics.RecordRateLimitAllowed(ctx, string(action))
	return nil
}

// apply hands the request to the authority and retries transient storage
// failures. Requests without an idempotency key are never retried.
func (s *Service) apply(ctx context.Context, log *zap.Logger, action ledgerdomain.ActionType, req ledgerdomain.ApplyRequest) (ledgerdomain.ApplyResult, error) {
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		return s.ledger.ApplyTransaction(ctx, req)
	}

	operation := func() (ledgerdomain.ApplyResult, error) {
		res, err := s.ledger.ApplyTransaction(ctx, req)
		if err == nil {
			return res, nil
		}
		if ledgerdomain.IsRetryable(err) {
			return res, err
		}
		return res, backoff.Permanent(err)
	}

	notify := func(err error, next time.Duration) {
		s.obsMetrics.RecordChargeRetry(ctx, string(action))
		log.Warn("retrying ledger write", zap.Duration("backoff", next), zap.Error(err))
	}

	return backoff.Retry(ctx, operation, s.retryOptions(notify)...)
}

func (s *Service) retryOptions(notify backoff.Notify) []backoff.RetryOption {
	b := backoff.NewExponentialBackOff()
	if s.retry.InitialBackoff > 0 {
		b.InitialInterval = s.retry.InitialBackoff
	}
	if s.retry.MaxBackoff > 0 {
		b.MaxInterval = s.retry.MaxBackoff
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithNotify(notify),
	}
	maxAttempts := s.retry.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 1
	}
	opts = append(opts, backoff.WithMaxTries(maxAttempts))
	if s.retry.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(s.retry.MaxElapsed))
	}
	return opts
}

// NormalizeAction maps free-form action names such as "Image Generation" or
// "image-generation" onto the pricing key image_generation.
func NormalizeAction(raw string) ledgerdomain.ActionType {
	normalized := slug.Make(strings.TrimSpace(raw))
	return ledgerdomain.ActionType(strings.ReplaceAll(normalized, "-", "_"))
}

func normalizeRequestID(raw string) (string, error) {
	requestID := strings.TrimSpace(raw)
	if requestID == "" || len(requestID) > maxRequestIDLength {
		return "", meteringdomain.ErrInvalidRequestID
	}
	return requestID, nil
}

func chargeResult(action ledgerdomain.ActionType, applied ledgerdomain.ApplyResult) meteringdomain.ChargeResult {
	result := meteringdomain.ChargeResult{
		ActionType:     action,
		Balance:        applied.Balance,
		AlreadyApplied: applied.AlreadyApplied,
	}
	if applied.Transaction != nil {
		result.TransactionID = applied.Transaction.ID
		result.Cost = applied.Transaction.Amount.Abs()
	}
	return result
}

func creditResult(applied ledgerdomain.ApplyResult) meteringdomain.CreditResult {
	result := meteringdomain.CreditResult{
		Balance:        applied.Balance,
		AlreadyApplied: applied.AlreadyApplied,
	}
	if applied.Transaction != nil {
		result.TransactionID = applied.Transaction.ID
		result.Amount = applied.Transaction.Amount
	}
	return result
}
