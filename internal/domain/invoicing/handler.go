package invoicing

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/rcm/rcm/internal/platform/auth"
	"github.com/rcm/rcm/internal/platform/errs"
	"github.com/rcm/rcm/pkg/pagination"
)

type Handler struct {
	svc    *Service
	policy *auth.Policy
}

func NewHandler(svc *Service, policy *auth.Policy) *Handler {
	return &Handler{svc: svc, policy: policy}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/invoices", h.List, auth.RequireCapability(h.policy, auth.CapInvoicesView))
	api.GET("/invoices/:id", h.Get, auth.RequireCapability(h.policy, auth.CapInvoicesView))
	api.GET("/invoices/:id/items", h.GetItems, auth.RequireCapability(h.policy, auth.CapInvoicesView))
	api.GET("/invoices/:id/receipt", h.GetReceipt, auth.RequireCapability(h.policy, auth.CapInvoicesView))
	api.POST("/invoices/from-claim", h.FromClaim, auth.RequireCapability(h.policy, auth.CapInvoicesCreate))
	api.POST("/invoices/from-recommendations", h.FromRecommendations, auth.RequireCapability(h.policy, auth.CapInvoicesCreate))
	api.GET("/recommendations", h.ListRecommendations, auth.RequireCapability(h.policy, auth.CapInvoicesView))
	api.POST("/recommendations", h.CreateRecommendation, auth.RequireCapability(h.policy, auth.CapInvoicesCreate))
}

type fromClaimRequest struct {
	ClaimID uuid.UUID   `json:"claim_id"`
	Items   []ItemInput `json:"items"`
}

func (h *Handler) FromClaim(c echo.Context) error {
	var req fromClaimRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ClaimID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "claim_id is required")
	}
	inv, err := h.svc.FromClaim(c.Request().Context(), req.ClaimID, req.Items)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, inv)
}

type fromRecommendationsRequest struct {
	PatientID         uuid.UUID   `json:"patient_id"`
	RecommendationIDs []uuid.UUID `json:"recommendation_ids"`
}

func (h *Handler) FromRecommendations(c echo.Context) error {
	var req fromRecommendationsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.PatientID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	inv, err := h.svc.FromRecommendations(c.Request().Context(), req.PatientID, req.RecommendationIDs)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, inv)
}

// scopedPatient resolves the patient a list request targets, defaulting a
// patient-role caller to their own record and refusing anyone else's.
func scopedPatient(c echo.Context) (uuid.UUID, error) {
	scope, scoped := auth.PatientScope(c.Request().Context())
	raw := c.QueryParam("patient_id")
	if raw == "" && scoped {
		return scope, nil
	}
	pid, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	if scoped && pid != scope {
		return uuid.Nil, echo.NewHTTPError(http.StatusForbidden, "patients can only view their own records")
	}
	return pid, nil
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	inv, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	if scope, scoped := auth.PatientScope(c.Request().Context()); scoped && inv.PatientID != scope {
		return echo.NewHTTPError(http.StatusForbidden, "patients can only view their own records")
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	pid, err := scopedPatient(c)
	if err != nil {
		return err
	}
	items, total, err := h.svc.ListByPatient(c.Request().Context(), pid, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	resp := pagination.NewResponse(items, total, pg.Limit, pg.Offset)
	resp.Links = pg.Links(c.Path(), total)
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetItems(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	if scope, scoped := auth.PatientScope(ctx); scoped {
		inv, err := h.svc.Get(ctx, id)
		if err != nil {
			return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
		}
		if inv.PatientID != scope {
			return echo.NewHTTPError(http.StatusForbidden, "patients can only view their own records")
		}
	}
	items, err := h.svc.GetItems(ctx, id)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"items": items})
}

func (h *Handler) GetReceipt(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	receipt, err := h.svc.GetReceipt(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	if scope, scoped := auth.PatientScope(c.Request().Context()); scoped && receipt.PatientID != scope {
		return echo.NewHTTPError(http.StatusForbidden, "patients can only view their own records")
	}
	return c.JSON(http.StatusOK, receipt)
}

func (h *Handler) CreateRecommendation(c echo.Context) error {
	var rec Recommendation
	if err := c.Bind(&rec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateRecommendation(c.Request().Context(), &rec); err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) ListRecommendations(c echo.Context) error {
	pid, err := scopedPatient(c)
	if err != nil {
		return err
	}
	recs, err := h.svc.ListRecommendations(c.Request().Context(), pid, RecommendationStatus(c.QueryParam("status")))
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"recommendations": recs})
}
