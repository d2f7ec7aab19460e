package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	activitydomain "github.com/rafaelgcostaa/adslibrary/internal/activity/domain"
	"github.com/rafaelgcostaa/adslibrary/internal/clock"
	"github.com/rafaelgcostaa/adslibrary/internal/config"
	ledgerdomain "github.com/rafaelgcostaa/adslibrary/internal/ledger/domain"
	"github.com/rafaelgcostaa/adslibrary/internal/ledger/ledgertest"
	ledgerrepo "github.com/rafaelgcostaa/adslibrary/internal/ledger/repository"
	ledgerservice "github.com/rafaelgcostaa/adslibrary/internal/ledger/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	clock    *clock.FakeClock
	ledger   ledgerdomain.Service
	activity activitydomain.Service
	account  string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := ledgertest.OpenDB(t)
	clk := ledgertest.Clock()
	repo := ledgerrepo.Provide()
	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  ledgertest.MustNode(t),
		Repo:   repo,
		Clock:  clk,
		Config: config.Config{TrialCredits: ledgertest.Credits(t, "100.00")},
	})
	activity := NewService(Params{DB: db, Log: zap.NewNop(), Ledger: ledger, Repo: repo, Clock: clk})

	account := ledgertest.NewAccountID()
	_, err := ledger.OpenAccount(context.Background(), account)
	require.NoError(t, err)
	return fixture{clock: clk, ledger: ledger, activity: activity, account: account}
}

func (f fixture) charge(t *testing.T, action ledgerdomain.ActionType, amount string, metadata map[string]any) {
	t.Helper()
	_, err := f.ledger.ApplyTransaction(context.Background(), ledgerdomain.ApplyRequest{
		AccountID:   f.account,
		Amount:      ledgertest.Credits(t, amount).Neg(),
		Kind:        ledgerdomain.KindConsumption,
		ActionType:  action,
		Description: action.Label(),
		Metadata:    metadata,
	})
	require.NoError(t, err)
}

func collect(t *testing.T, seq func(func(activitydomain.Entry, error) bool)) []activitydomain.Entry {
	t.Helper()
	var entries []activitydomain.Entry
	for entry, err := range seq {
		require.NoError(t, err)
		entries = append(entries, entry)
	}
	return entries
}

func TestRecentActivityProjectsEntries(t *testing.T) {
	f := newFixture(t)
	f.charge(t, ledgerdomain.ActionSearch, "2.50", map[string]any{"query": "Nicho: Fitness"})
	f.charge(t, ledgerdomain.ActionImageGeneration, "5.00", nil)
	f.clock.Advance(15 * time.Minute)

	entries := collect(t, f.activity.RecentActivity(context.Background(), f.account, 10))
	require.Len(t, entries, 3)

	assert.Equal(t, "Creative generated", entries[0].Action)
	assert.Equal(t, "Creative generated", entries[0].Target)
	assert.Equal(t, activitydomain.StatusSuccess, entries[0].Status)
	assert.Equal(t, "15 minutes ago", entries[0].Time)

	assert.Equal(t, "Search performed", entries[1].Action)
	assert.Equal(t, "Nicho: Fitness", entries[1].Target)
	assert.Equal(t, "-2.50", entries[1].Amount.String())

	assert.Equal(t, ledgerdomain.KindBonus, entries[2].Kind)
	assert.Equal(t, activitydomain.StatusInfo, entries[2].Status)
	assert.Equal(t, "Bonus credits", entries[2].Action)
}

func TestRecentActivityIsFiniteAndRestartable(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 30; i++ {
		f.charge(t, ledgerdomain.ActionSearch, "0.10", map[string]any{"query": fmt.Sprintf("q%d", i)})
	}

	seq := f.activity.RecentActivity(context.Background(), f.account, 27)
	first := collect(t, seq)
	second := collect(t, seq)
	require.Len(t, first, 27)
	assert.Equal(t, first, second)
	assert.Equal(t, "q29", first[0].Target)
	assert.Equal(t, "q3", first[26].Target)

	all := collect(t, f.activity.RecentActivity(context.Background(), f.account, 100))
	assert.Len(t, all, 31)

	seen := 0
	for range f.activity.RecentActivity(context.Background(), f.account, 10) {
		seen++
		if seen == 4 {
			break
		}
	}
	assert.Equal(t, 4, seen)
}

func TestRecentActivityYieldsErrors(t *testing.T) {
	f := newFixture(t)
	var errs []error
	for _, err := range f.activity.RecentActivity(context.Background(), "not-a-uuid", 5) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ledgerdomain.ErrInvalidAccount)
}

func TestListPaginates(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 4; i++ {
		f.charge(t, ledgerdomain.ActionTextGeneration, "1.00", nil)
	}

	page, err := f.activity.List(context.Background(), activitydomain.ListRequest{AccountID: f.account, PageSize: 3})
	require.NoError(t, err)
	assert.Len(t, page.Entries, 3)
	assert.True(t, page.HasMore)

	rest, err := f.activity.List(context.Background(), activitydomain.ListRequest{AccountID: f.account, PageSize: 3, PageToken: page.NextPageToken})
	require.NoError(t, err)
	assert.Len(t, rest.Entries, 2)
	assert.False(t, rest.HasMore)

	consumption, err := f.activity.List(context.Background(), activitydomain.ListRequest{AccountID: f.account, Kind: "consumption"})
	require.NoError(t, err)
	assert.Len(t, consumption.Entries, 4)
}

func TestSummary(t *testing.T) {
	f := newFixture(t)
	f.charge(t, ledgerdomain.ActionSearch, "2.50", nil)
	f.charge(t, ledgerdomain.ActionSearch, "2.50", nil)
	f.charge(t, ledgerdomain.ActionImageGeneration, "5.00", nil)

	summary, err := f.activity.Summary(context.Background(), f.account)
	require.NoError(t, err)
	assert.Equal(t, "90.00", summary.Balance.String())
	assert.Equal(t, "10.00", summary.TotalSpent.String())
	require.Len(t, summary.Actions, 2)
	assert.Equal(t, "Creative generated", summary.Actions[0].Label)
	assert.Equal(t, int64(2), summary.Actions[1].Count)

	_, err = f.activity.Summary(context.Background(), ledgertest.NewAccountID())
	assert.ErrorIs(t, err, ledgerdomain.ErrAccountNotFound)
}
