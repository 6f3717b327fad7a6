package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()

	cases := []struct {
		roles []string
		cap   Capability
		want  bool
	}{
		{[]string{RoleAdmin}, CapClaimsDecide, true},
		{[]string{RoleBilling}, CapPaymentsRecord, true},
		{[]string{RoleBilling}, CapClaimsDecide, false},
		{[]string{RoleClaimsReview}, CapClaimsDecide, true},
		{[]string{RoleClaimsReview}, CapPaymentsRecord, false},
		{[]string{RoleFrontDesk}, CapClaimsSubmit, true},
		{[]string{RoleFrontDesk}, CapInvoicesCreate, false},
		{[]string{RolePatient}, CapPaymentsVerify, true},
		{[]string{RolePatient}, CapClaimsView, false},
		{[]string{"unknown"}, CapClaimsView, false},
		{nil, CapClaimsView, false},
		{[]string{RoleFrontDesk, RoleBilling}, CapInvoicesCreate, true},
	}

	for _, tc := range cases {
		if got := p.Allows(tc.roles, tc.cap); got != tc.want {
			t.Errorf("Allows(%v, %s) = %v, want %v", tc.roles, tc.cap, got, tc.want)
		}
	}
}

func TestPatientScope(t *testing.T) {
	withIdentity := func(roles []string, patientID string) context.Context {
		ctx := context.WithValue(context.Background(), UserRolesKey, roles)
		if patientID != "" {
			ctx = context.WithValue(ctx, PatientIDKey, patientID)
		}
		return ctx
	}
	pid := "0b8f4a2e-3f6d-4e1a-9c0d-5a7b6c8d9e0f"

	for _, role := range []string{RoleAdmin, RoleBilling, RoleClaimsReview, RoleFrontDesk} {
		if _, scoped := PatientScope(withIdentity([]string{role}, pid)); scoped {
			t.Errorf("%s should not be patient-scoped", role)
		}
	}

	scope, scoped := PatientScope(withIdentity([]string{RolePatient}, pid))
	if !scoped || scope.String() != pid {
		t.Errorf("patient scope = (%s, %v), want (%s, true)", scope, scoped, pid)
	}

	// A patient who also holds a staff role reads as staff.
	if _, scoped := PatientScope(withIdentity([]string{RolePatient, RoleBilling}, pid)); scoped {
		t.Error("patient with billing role should not be scoped")
	}

	// A patient token without a usable patient_id is scoped to nothing.
	scope, scoped = PatientScope(withIdentity([]string{RolePatient}, ""))
	if !scoped || scope.String() == pid {
		t.Errorf("missing patient_id: scope = (%s, %v), want (nil, true)", scope, scoped)
	}
}

func TestRequireCapability(t *testing.T) {
	e := echo.New()
	p := DefaultPolicy()

	call := func(roles []string) error {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		ctx := context.WithValue(req.Context(), UserRolesKey, roles)
		req = req.WithContext(ctx)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		h := RequireCapability(p, CapClaimsDecide)(func(c echo.Context) error {
			return c.NoContent(http.StatusOK)
		})
		return h(c)
	}

	if err := call([]string{RoleClaimsReview}); err != nil {
		t.Errorf("claims_reviewer should be allowed to decide: %v", err)
	}

	err := call([]string{RoleBilling})
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusForbidden {
		t.Errorf("billing deciding a claim: got %v, want 403", err)
	}
}

func TestRequireRole(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := context.WithValue(req.Context(), UserRolesKey, []string{RoleAdmin})
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := RequireRole(RoleBilling)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	if err := h(c); err != nil {
		t.Errorf("admin should pass any role check: %v", err)
	}
}
