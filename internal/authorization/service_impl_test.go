package authorization

import (
	"context"
	"testing"

	"github.com/rafaelgcostaa/adslibrary/internal/ledger/ledgertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) Service {
	t.Helper()
	enforcer, err := NewEnforcer(ledgertest.OpenDB(t))
	require.NoError(t, err)
	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer})
}

func TestAuthorizeMatrix(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		role    string
		object  string
		action  string
		allowed bool
	}{
		{RoleUser, ObjectCharge, ActionChargeCreate, true},
		{RoleUser, ObjectLedger, ActionLedgerView, true},
		{RoleUser, ObjectCredit, ActionCreditCreate, false},
		{RoleUser, ObjectCharge, ActionChargeRefund, false},
		{RoleUser, ObjectAccount, ActionAccountDisable, false},
		{RoleBilling, ObjectCredit, ActionCreditCreate, true},
		{RoleBilling, ObjectCharge, ActionChargeRefund, true},
		{RoleBilling, ObjectCharge, ActionChargeCreate, false},
		{RoleAdmin, ObjectAccount, ActionAccountDisable, true},
		{RoleAdmin, ObjectAccount, ActionAccountVerify, true},
		{RoleAdmin, ObjectCredit, ActionCreditCreate, true},
		{RoleAdmin, ObjectCharge, ActionChargeCreate, true},
		{"role:admin", ObjectStatement, ActionStatementExport, true},
	}
	for _, tc := range cases {
		err := svc.Authorize(ctx, tc.role, tc.object, tc.action)
		if tc.allowed {
			assert.NoError(t, err, "%s %s %s", tc.role, tc.object, tc.action)
		} else {
			assert.ErrorIs(t, err, ErrForbidden, "%s %s %s", tc.role, tc.object, tc.action)
		}
	}
}

func TestAuthorizeRejectsUnknownInput(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Authorize(ctx, "root", ObjectCharge, ActionChargeCreate), ErrInvalidRole)
	assert.ErrorIs(t, svc.Authorize(ctx, "", ObjectCharge, ActionChargeCreate), ErrInvalidRole)
	assert.ErrorIs(t, svc.Authorize(ctx, RoleUser, " ", ActionChargeCreate), ErrInvalidObject)
	assert.ErrorIs(t, svc.Authorize(ctx, RoleUser, ObjectCharge, ""), ErrInvalidAction)
}

func TestNewEnforcerIsIdempotent(t *testing.T) {
	db := ledgertest.OpenDB(t)
	_, err := NewEnforcer(db)
	require.NoError(t, err)
	enforcer, err := NewEnforcer(db)
	require.NoError(t, err)

	policies, err := enforcer.GetPolicy()
	require.NoError(t, err)
	assert.Len(t, policies, 8)
}
