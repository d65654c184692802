package authz

import (
	"context"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poscore/internal/observability"
	dErrors "poscore/pkg/domain-errors"
	"poscore/pkg/requestcontext"
)

func newTestEngine(t *testing.T) (*Engine, *Metrics) {
	t.Helper()
	reg := prometheus.NewRegistry()
	guard := observability.NewCodeGuardWith(reg, t.Name(), 0)
	m := NewMetricsWith(reg, guard)
	return NewEngine(m), m
}

func ec(tenant string, roles ...Role) ExecutionContext {
	return ExecutionContext{TenantID: tenant, ActorID: "actor-1", Roles: roles}
}

func TestEnsure_AllowsRoleInMatrix(t *testing.T) {
	engine, _ := newTestEngine(t)

	err := engine.Ensure(ec("t1", RoleCashier), CapabilityOrderCreate)
	assert.NoError(t, err)
}

func TestEnsure_DeniesRoleOutsideMatrix(t *testing.T) {
	engine, m := newTestEngine(t)

	err := engine.Ensure(ec("t1", RoleSupport), CapabilityCustomerWrite)
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeMissingRole))

	denials := testutil.ToFloat64(m.denials.WithLabelValues(string(CapabilityCustomerWrite)))
	assert.Equal(t, 1.0, denials)
}

func TestEnsure_SuperAdminBypassesMatrix(t *testing.T) {
	engine, _ := newTestEngine(t)

	for _, cap := range allCapabilities {
		assert.NoError(t, engine.Ensure(ec("t1", RoleSuperAdmin), cap), "capability %s", cap)
	}
}

func TestEnsure_UnknownCapabilityRejected(t *testing.T) {
	engine, _ := newTestEngine(t)

	err := engine.Ensure(ec("t1", RoleTenantAdmin), Capability("warehouse.teleport"))
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeInvalidInput))
}

func TestEnsure_EmptyRolesDenied(t *testing.T) {
	engine, _ := newTestEngine(t)

	err := engine.Ensure(ExecutionContext{TenantID: "t1"}, CapabilityInventoryView)
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeMissingRole))
}

func TestEnsure_Deterministic(t *testing.T) {
	engine, _ := newTestEngine(t)

	for _, role := range []Role{RoleTenantAdmin, RoleStoreManager, RoleCashier, RoleSupport, RoleAuditor} {
		for _, cap := range allCapabilities {
			first := engine.Ensure(ec("t1", role), cap)
			for i := 0; i < 3; i++ {
				again := engine.Ensure(ec("t1", role), cap)
				if first == nil {
					assert.NoError(t, again, "role %s capability %s", role, cap)
				} else {
					assert.Error(t, again, "role %s capability %s", role, cap)
				}
			}
		}
	}
}

func TestEnsure_CheckCounterIncrementsOnEveryCall(t *testing.T) {
	engine, m := newTestEngine(t)

	require.NoError(t, engine.Ensure(ec("t1", RoleCashier), CapabilityPaymentProcess))
	require.Error(t, engine.Ensure(ec("t1", RoleSupport), CapabilityPaymentProcess))

	allow := testutil.ToFloat64(m.checks.WithLabelValues(string(CapabilityPaymentProcess), outcomeAllow))
	deny := testutil.ToFloat64(m.checks.WithLabelValues(string(CapabilityPaymentProcess), outcomeDeny))
	assert.Equal(t, 1.0, allow)
	assert.Equal(t, 1.0, deny)
}

func TestSelfCheck_MatrixCoversEveryCapability(t *testing.T) {
	assert.NoError(t, SelfCheck())
}

func TestParseCapability(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"inventory.adjust", false},
		{"audit.view", false},
		{"", true},
		{"made.up", true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("input=%q", tt.input), func(t *testing.T) {
			cap, err := ParseCapability(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.input, cap.String())
			}
		})
	}
}

func TestParseRoles_DropsUnknown(t *testing.T) {
	roles := ParseRoles([]string{"cashier", "intern", "auditor", ""})
	assert.Equal(t, []Role{RoleCashier, RoleAuditor}, roles)
}

func TestParseRoles_NormalizesInput(t *testing.T) {
	roles := ParseRoles([]string{" Cashier ", "CASHIER", "auditor"})
	assert.Equal(t, []Role{RoleCashier, RoleAuditor}, roles)
}

func TestFromContext(t *testing.T) {
	t.Run("resolves full execution context", func(t *testing.T) {
		ctx := requestcontext.WithTenantID(context.Background(), "t1")
		ctx = requestcontext.WithActorID(ctx, "clerk-7")
		ctx = requestcontext.WithRoles(ctx, []string{"cashier"})
		ctx = requestcontext.WithTraceID(ctx, "trace-1")

		got, err := FromContext(ctx)
		require.NoError(t, err)
		assert.Equal(t, "t1", got.TenantID)
		assert.Equal(t, "clerk-7", got.ActorID)
		assert.Equal(t, []Role{RoleCashier}, got.Roles)
		assert.Equal(t, "trace-1", got.TraceID)
	})

	t.Run("missing tenant is a hard failure", func(t *testing.T) {
		ctx := requestcontext.WithRoles(context.Background(), []string{"cashier"})
		_, err := FromContext(ctx)
		require.Error(t, err)
		assert.True(t, dErrors.Is(err, dErrors.CodeForbidden))
	})

	t.Run("unrecognized roles only is a hard failure", func(t *testing.T) {
		ctx := requestcontext.WithTenantID(context.Background(), "t1")
		ctx = requestcontext.WithRoles(ctx, []string{"intern"})
		_, err := FromContext(ctx)
		require.Error(t, err)
		assert.True(t, dErrors.Is(err, dErrors.CodeForbidden))
	})
}
