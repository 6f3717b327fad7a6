package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Capability names an operation a role may perform. Visibility and mutation
// rights live in one policy table instead of scattered handler conditionals.
type Capability string

const (
	CapClaimsView     Capability = "claims.view"
	CapClaimsSubmit   Capability = "claims.submit"
	CapClaimsDecide   Capability = "claims.decide"
	CapClaimsRescore  Capability = "claims.rescore"
	CapInvoicesView   Capability = "invoices.view"
	CapInvoicesCreate Capability = "invoices.create"
	CapPaymentsView   Capability = "payments.view"
	CapPaymentsRecord Capability = "payments.record"
	CapPaymentsVerify Capability = "payments.verify"
	CapRiskRead       Capability = "risk.read"
)

// Role names used in JWT claims.
const (
	RoleAdmin        = "admin"
	RoleBilling      = "billing"
	RoleClaimsReview = "claims_reviewer"
	RoleFrontDesk    = "front_desk"
	RolePatient      = "patient"
)

// Policy maps roles to the capabilities they hold. Admin implicitly holds
// every capability.
type Policy struct {
	grants map[string]map[Capability]bool
}

// DefaultPolicy returns the capability table for the RCM service.
func DefaultPolicy() *Policy {
	p := &Policy{grants: make(map[string]map[Capability]bool)}
	p.grant(RoleBilling,
		CapClaimsView, CapClaimsSubmit, CapClaimsRescore,
		CapInvoicesView, CapInvoicesCreate,
		CapPaymentsView, CapPaymentsRecord, CapPaymentsVerify,
		CapRiskRead)
	p.grant(RoleClaimsReview,
		CapClaimsView, CapClaimsRescore, CapClaimsDecide, CapRiskRead)
	p.grant(RoleFrontDesk,
		CapClaimsView, CapClaimsSubmit, CapInvoicesView, CapRiskRead)
	p.grant(RolePatient,
		CapInvoicesView, CapPaymentsView, CapPaymentsVerify)
	return p
}

func (p *Policy) grant(role string, caps ...Capability) {
	m, ok := p.grants[role]
	if !ok {
		m = make(map[Capability]bool)
		p.grants[role] = m
	}
	for _, c := range caps {
		m[c] = true
	}
}

// Allows reports whether any of the given roles holds the capability.
func (p *Policy) Allows(roles []string, cap Capability) bool {
	for _, r := range roles {
		if r == RoleAdmin {
			return true
		}
		if p.grants[r][cap] {
			return true
		}
	}
	return false
}

// PatientScope returns the patient identity a caller's reads are limited to.
// Staff roles see every patient, so the second return is false for them. A
// caller whose only role is patient is scoped to the patient_id their token
// carries; a patient token without a usable patient_id scopes to nothing and
// every scoped read is refused.
func PatientScope(ctx context.Context) (uuid.UUID, bool) {
	for _, r := range RolesFromContext(ctx) {
		switch r {
		case RoleAdmin, RoleBilling, RoleClaimsReview, RoleFrontDesk:
			return uuid.Nil, false
		}
	}
	id, err := uuid.Parse(PatientIDFromContext(ctx))
	if err != nil {
		return uuid.Nil, true
	}
	return id, true
}

// RequireCapability returns middleware enforcing the policy at the route
// boundary.
func RequireCapability(p *Policy, cap Capability) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			roles := RolesFromContext(c.Request().Context())
			if !p.Allows(roles, cap) {
				return echo.NewHTTPError(http.StatusForbidden,
					fmt.Sprintf("required capability: %s", cap))
			}
			return next(c)
		}
	}
}

// RequireRole returns middleware that checks if the user has at least one of
// the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userRoles := RolesFromContext(c.Request().Context())
			for _, required := range roles {
				for _, has := range userRoles {
					if has == required || has == RoleAdmin {
						return next(c)
					}
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}
