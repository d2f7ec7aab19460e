package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rafaelgcostaa/adslibrary/internal/config"
	ledgerdomain "github.com/rafaelgcostaa/adslibrary/internal/ledger/domain"
	"github.com/rafaelgcostaa/adslibrary/internal/ledger/ledgertest"
	ledgerrepo "github.com/rafaelgcostaa/adslibrary/internal/ledger/repository"
	ledgerservice "github.com/rafaelgcostaa/adslibrary/internal/ledger/service"
	meteringdomain "github.com/rafaelgcostaa/adslibrary/internal/metering/domain"
	"github.com/rafaelgcostaa/adslibrary/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db      *gorm.DB
	ledger  ledgerdomain.Service
	meter   meteringdomain.Service
	account string
}

func newFixture(t *testing.T, trial string, limiter *ratelimit.ChargeLimiter) fixture {
	t.Helper()
	db := ledgertest.OpenDB(t)
	cfg := config.Config{
		TrialCredits: ledgertest.Credits(t, trial),
		Charge:       config.ChargeConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond},
	}
	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  ledgertest.MustNode(t),
		Repo:   ledgerrepo.Provide(),
		Clock:  ledgertest.Clock(),
		Config: cfg,
	})
	meter := NewService(Params{
		Log:     zap.NewNop(),
		Ledger:  ledger,
		Pricing: config.NewStaticPricingHolder(config.DefaultPrices()),
		Config:  cfg,
		Limiter: limiter,
	})

	account := ledgertest.NewAccountID()
	_, err := ledger.OpenAccount(context.Background(), account)
	require.NoError(t, err)
	return fixture{db: db, ledger: ledger, meter: meter, account: account}
}

func TestCreditRejectsReservedKeys(t *testing.T) {
	f := newFixture(t, "10.00", nil)
	ctx := context.Background()

	for _, key := range []string{"charge:req-1", " Refund:req-1", "signup_bonus"} {
		_, err := f.meter.Credit(ctx, meteringdomain.CreditRequest{
			AccountID:      f.account,
			Amount:         ledgertest.Credits(t, "5.00"),
			Kind:           ledgerdomain.KindPurchase,
			IdempotencyKey: key,
		})
		assert.ErrorIs(t, err, ledgerdomain.ErrInvalidIdempotency, key)
	}

	res, err := f.meter.Charge(ctx, meteringdomain.ChargeRequest{
		AccountID: f.account, ActionType: "search", RequestID: "req-1",
	})
	require.NoError(t, err)
	assert.False(t, res.AlreadyApplied)
	assert.Equal(t, "7.50", res.Balance.String())
}

func TestChargeSearch(t *testing.T) {
	f := newFixture(t, "10.00", nil)
	ctx := context.Background()

	res, err := f.meter.Charge(ctx, meteringdomain.ChargeRequest{
		AccountID:  f.account,
		ActionType: "search",
		RequestID:  "req-1",
		Context:    map[string]any{"query": "running shoes"},
	})
	require.NoError(t, err)
	assert.Equal(t, "7.50", res.Balance.String())
	assert.Equal(t, "2.50", res.Cost.String())
	assert.False(t, res.AlreadyApplied)

	record, err := f.ledger.FindTransaction(ctx, f.account, "charge:req-1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, ledgerdomain.KindConsumption, record.Kind)
	assert.Equal(t, "-2.50", record.Amount.String())
	assert.Equal(t, "Search performed", record.Description)
	assert.Equal(t, "running shoes", record.Metadata["query"])
	assert.Equal(t, "req-1", record.Metadata["request_id"])
}

func TestChargeRetryIsAlreadyApplied(t *testing.T) {
	f := newFixture(t, "10.00", nil)
	ctx := context.Background()
	req := meteringdomain.ChargeRequest{AccountID: f.account, ActionType: "search", RequestID: "req-1"}

	first, err := f.meter.Charge(ctx, req)
	require.NoError(t, err)
	second, err := f.meter.Charge(ctx, req)
	require.NoError(t, err)

	assert.True(t, second.AlreadyApplied)
	assert.Equal(t, "7.50", second.Balance.String())
	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.Equal(t, int64(2), ledgertest.CountTransactions(t, f.db, f.account))
}

func TestChargeInsufficientFunds(t *testing.T) {
	f := newFixture(t, "0", nil)
	ctx := context.Background()

	_, err := f.meter.Credit(ctx, meteringdomain.CreditRequest{
		AccountID: f.account, Amount: ledgertest.Credits(t, "1.00"), Kind: ledgerdomain.KindPurchase,
	})
	require.NoError(t, err)

	_, err = f.meter.Charge(ctx, meteringdomain.ChargeRequest{
		AccountID: f.account, ActionType: "image_generation", RequestID: "req-2",
	})
	require.ErrorIs(t, err, ledgerdomain.ErrInsufficientFunds)

	balance, err := f.ledger.GetBalance(ctx, f.account)
	require.NoError(t, err)
	assert.Equal(t, "1.00", balance.String())
	assert.Equal(t, int64(1), ledgertest.CountTransactions(t, f.db, f.account))
}

func TestCreditPurchase(t *testing.T) {
	f := newFixture(t, "0", nil)
	ctx := context.Background()

	res, err := f.meter.Credit(ctx, meteringdomain.CreditRequest{
		AccountID:      f.account,
		Amount:         ledgertest.Credits(t, "50.00"),
		Kind:           ledgerdomain.KindPurchase,
		Description:    "Starter pack",
		IdempotencyKey: "invoice:42",
	})
	require.NoError(t, err)
	assert.Equal(t, "50.00", res.Balance.String())
	assert.Equal(t, "50.00", res.Amount.String())

	again, err := f.meter.Credit(ctx, meteringdomain.CreditRequest{
		AccountID:      f.account,
		Amount:         ledgertest.Credits(t, "50.00"),
		Kind:           ledgerdomain.KindPurchase,
		IdempotencyKey: "invoice:42",
	})
	require.NoError(t, err)
	assert.True(t, again.AlreadyApplied)
	assert.Equal(t, int64(1), ledgertest.CountTransactions(t, f.db, f.account))

	_, err = f.meter.Credit(ctx, meteringdomain.CreditRequest{
		AccountID: f.account, Amount: ledgertest.Credits(t, "5.00"), Kind: ledgerdomain.KindConsumption,
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidKind)
}

func TestChargeValidation(t *testing.T) {
	f := newFixture(t, "10.00", nil)
	ctx := context.Background()

	_, err := f.meter.Charge(ctx, meteringdomain.ChargeRequest{AccountID: f.account, ActionType: "teleport", RequestID: "r"})
	assert.ErrorIs(t, err, meteringdomain.ErrUnknownAction)

	_, err = f.meter.Charge(ctx, meteringdomain.ChargeRequest{AccountID: f.account, ActionType: "search", RequestID: "  "})
	assert.ErrorIs(t, err, meteringdomain.ErrInvalidRequestID)

	_, err = f.meter.Charge(ctx, meteringdomain.ChargeRequest{ActionType: "search", RequestID: "r"})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidAccount)

	res, err := f.meter.Charge(ctx, meteringdomain.ChargeRequest{AccountID: f.account, ActionType: "Image Generation", RequestID: "r"})
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.ActionImageGeneration, res.ActionType)
	assert.Equal(t, "5.00", res.Cost.String())
}

func TestNormalizeAction(t *testing.T) {
	assert.Equal(t, ledgerdomain.ActionImageGeneration, NormalizeAction("image-generation"))
	assert.Equal(t, ledgerdomain.ActionImageGeneration, NormalizeAction(" Image Generation "))
	assert.Equal(t, ledgerdomain.ActionTextGeneration, NormalizeAction("text_generation"))
	assert.Equal(t, ledgerdomain.ActionType(""), NormalizeAction(""))
}

func TestRefundSymmetry(t *testing.T) {
	f := newFixture(t, "10.00", nil)
	ctx := context.Background()

	_, err := f.meter.Charge(ctx, meteringdomain.ChargeRequest{AccountID: f.account, ActionType: "image_generation", RequestID: "req-9"})
	require.NoError(t, err)

	refund, err := f.meter.Refund(ctx, meteringdomain.RefundRequest{AccountID: f.account, RequestID: "req-9", Reason: "provider timeout"})
	require.NoError(t, err)
	assert.Equal(t, "10.00", refund.Balance.String())
	assert.Equal(t, "5.00", refund.Amount.String())

	again, err := f.meter.Refund(ctx, meteringdomain.RefundRequest{AccountID: f.account, RequestID: "req-9"})
	require.NoError(t, err)
	assert.True(t, again.AlreadyApplied)
	assert.Equal(t, "10.00", again.Balance.String())

	_, err = f.meter.Refund(ctx, meteringdomain.RefundRequest{AccountID: f.account, RequestID: "unknown"})
	assert.ErrorIs(t, err, meteringdomain.ErrChargeNotFound)

	v, err := f.ledger.VerifyAccount(ctx, f.account)
	require.NoError(t, err)
	assert.True(t, v.Consistent())
}

func TestRunPerformsWorkOnlyAfterCharge(t *testing.T) {
	f := newFixture(t, "3.00", nil)
	ctx := context.Background()

	calls := 0
	work := func(context.Context) error {
		calls++
		return nil
	}

	res, err := f.meter.Run(ctx, meteringdomain.ChargeRequest{AccountID: f.account, ActionType: "search", RequestID: "a"}, work)
	require.NoError(t, err)
	assert.Equal(t, "0.50", res.Balance.String())
	assert.Equal(t, 1, calls)

	_, err = f.meter.Run(ctx, meteringdomain.ChargeRequest{AccountID: f.account, ActionType: "search", RequestID: "b"}, work)
	assert.ErrorIs(t, err, ledgerdomain.ErrInsufficientFunds)
	assert.Equal(t, 1, calls)
}

func TestRunRefundsFailedWork(t *testing.T) {
	f := newFixture(t, "10.00", nil)
	ctx := context.Background()
	providerErr := errors.New("provider unavailable")
	req := meteringdomain.ChargeRequest{AccountID: f.account, ActionType: "text_generation", RequestID: "gen-1"}

	res, err := f.meter.Run(ctx, req, func(context.Context) error { return providerErr })
	assert.ErrorIs(t, err, providerErr)
	assert.Equal(t, "10.00", res.Balance.String())

	refund, err := f.ledger.FindTransaction(ctx, f.account, "refund:gen-1")
	require.NoError(t, err)
	require.NotNil(t, refund)
	assert.Equal(t, "3.00", refund.Amount.String())

	// A retry of a refunded request must not get the work for free.
	ran := false
	_, err = f.meter.Run(ctx, req, func(context.Context) error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, meteringdomain.ErrChargeRefunded)
	assert.False(t, ran)
}

func TestChargeRateLimited(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter := ratelimit.NewChargeLimiter(config.Config{
		RateLimit: config.RateLimitConfig{Enabled: true, Capacity: 1, RefillPerSecond: 0.001},
	}, client)

	f := newFixture(t, "10.00", limiter)
	ctx := context.Background()

	_, err := f.meter.Charge(ctx, meteringdomain.ChargeRequest{AccountID: f.account, ActionType: "search", RequestID: "r1"})
	require.NoError(t, err)

	replay, err := f.meter.Charge(ctx, meteringdomain.ChargeRequest{AccountID: f.account, ActionType: "search", RequestID: "r1"})
	require.NoError(t, err)
	assert.True(t, replay.AlreadyApplied)

	_, err = f.meter.Charge(ctx, meteringdomain.ChargeRequest{AccountID: f.account, ActionType: "search", RequestID: "r2"})
	require.ErrorIs(t, err, meteringdomain.ErrRateLimited)
	var limited *meteringdomain.RateLimitError
	require.ErrorAs(t, err, &limited)
	assert.Greater(t, limited.RetryAfter, time.Duration(0))

	balance, err := f.ledger.GetBalance(ctx, f.account)
	require.NoError(t, err)
	assert.Equal(t, "7.50", balance.String())
}

type mockLedger struct {
	mock.Mock
	ledgerdomain.Service
}

func (m *mockLedger) ApplyTransaction(ctx context.Context, req ledgerdomain.ApplyRequest) (ledgerdomain.ApplyResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(ledgerdomain.ApplyResult), args.Error(1)
}

func newMockedService(ledger *mockLedger, attempts uint) *Service {
	return NewService(Params{
		Log:     zap.NewNop(),
		Ledger:  ledger,
		Pricing: config.NewStaticPricingHolder(config.DefaultPrices()),
		Config: config.Config{Charge: config.ChargeConfig{
			MaxAttempts:    attempts,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
		}},
	}).(*Service)
}

func TestChargeRetriesTransientStorageErrors(t *testing.T) {
	ledger := &mockLedger{}
	transient := fmt.Errorf("%w: connection reset", ledgerdomain.ErrStorageUnavailable)
	ok := ledgerdomain.ApplyResult{
		Transaction: &ledgerdomain.Transaction{ID: 7, Amount: -250, Kind: ledgerdomain.KindConsumption},
		Balance:     750,
	}

	keyed := mock.MatchedBy(func(req ledgerdomain.ApplyRequest) bool {
		return req.IdempotencyKey == "charge:req-1" && req.Amount == -250
	})
	ledger.On("ApplyTransaction", mock.Anything, keyed).Return(ledgerdomain.ApplyResult{}, transient).Twice()
	ledger.On("ApplyTransaction", mock.Anything, keyed).Return(ok, nil).Once()

	svc := newMockedService(ledger, 4)
	res, err := svc.Charge(context.Background(), meteringdomain.ChargeRequest{
		AccountID: ledgertest.NewAccountID(), ActionType: "search", RequestID: "req-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "7.50", res.Balance.String())
	ledger.AssertNumberOfCalls(t, "ApplyTransaction", 3)
}

func TestChargeDoesNotRetryTerminalErrors(t *testing.T) {
	ledger := &mockLedger{}
	ledger.On("ApplyTransaction", mock.Anything, mock.Anything).
		Return(ledgerdomain.ApplyResult{}, &ledgerdomain.InsufficientFundsError{Balance: 100, Required: 250}).Once()

	svc := newMockedService(ledger, 4)
	_, err := svc.Charge(context.Background(), meteringdomain.ChargeRequest{
		AccountID: ledgertest.NewAccountID(), ActionType: "search", RequestID: "req-1",
	})
	require.ErrorIs(t, err, ledgerdomain.ErrInsufficientFunds)
	ledger.AssertNumberOfCalls(t, "ApplyTransaction", 1)
}

func TestChargeDoesNotRetryPermanentStorageErrors(t *testing.T) {
	ledger := &mockLedger{}
	permanent := ledgerdomain.WrapStorage(errors.New("CHECK constraint failed: balance_after"), false)
	ledger.On("ApplyTransaction", mock.Anything, mock.Anything).Return(ledgerdomain.ApplyResult{}, permanent)

	svc := newMockedService(ledger, 4)
	_, err := svc.Charge(context.Background(), meteringdomain.ChargeRequest{
		AccountID: ledgertest.NewAccountID(), ActionType: "search", RequestID: "req-1",
	})
	require.ErrorIs(t, err, ledgerdomain.ErrStorageFailure)
	assert.False(t, ledgerdomain.IsRetryable(err))
	ledger.AssertNumberOfCalls(t, "ApplyTransaction", 1)
}

func TestChargeOnBrokenSchemaFailsOnce(t *testing.T) {
	f := newFixture(t, "10.00", nil)
	require.NoError(t, f.db.Exec(`DROP TABLE credit_transactions`).Error)

	_, err := f.meter.Charge(context.Background(), meteringdomain.ChargeRequest{
		AccountID: f.account, ActionType: "search", RequestID: "req-1",
	})
	require.ErrorIs(t, err, ledgerdomain.ErrStorageFailure)
	assert.False(t, ledgerdomain.IsRetryable(err))
}

func TestChargeGivesUpAfterMaxAttempts(t *testing.T) {
	ledger := &mockLedger{}
	transient := fmt.Errorf("%w: timeout", ledgerdomain.ErrStorageUnavailable)
	ledger.On("ApplyTransaction", mock.Anything, mock.Anything).Return(ledgerdomain.ApplyResult{}, transient)

	svc := newMockedService(ledger, 2)
	_, err := svc.Charge(context.Background(), meteringdomain.ChargeRequest{
		AccountID: ledgertest.NewAccountID(), ActionType: "search", RequestID: "req-1",
	})
	require.Error(t, err)
	assert.True(t, ledgerdomain.IsRetryable(err))
	ledger.AssertNumberOfCalls(t, "ApplyTransaction", 2)
}

func TestPrices(t *testing.T) {
	svc := newMockedService(&mockLedger{}, 1)
	prices := svc.Prices()
	assert.Equal(t, "2.50", prices[ledgerdomain.ActionSearch].String())

	price, err := svc.Price("text-generation")
	require.NoError(t, err)
	assert.Equal(t, "3.00", price.String())

	_, err = svc.Price("favorite")
	assert.ErrorIs(t, err, meteringdomain.ErrUnknownAction)
}
