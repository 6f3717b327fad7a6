package claims

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/rcm/rcm/internal/platform/auth"
	"github.com/rcm/rcm/internal/platform/errs"
	"github.com/rcm/rcm/internal/platform/risk"
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
	api.GET("/claims", h.List, auth.RequireCapability(h.policy, auth.CapClaimsView))
	api.GET("/claims/:id", h.Get, auth.RequireCapability(h.policy, auth.CapClaimsView))
	api.GET("/claims/:id/risk", h.GetRisk, auth.RequireCapability(h.policy, auth.CapRiskRead))
	api.POST("/claims", h.Submit, auth.RequireCapability(h.policy, auth.CapClaimsSubmit))
	api.POST("/claims/:id/resubmit", h.Resubmit, auth.RequireCapability(h.policy, auth.CapClaimsSubmit))
	api.POST("/claims/:id/decision", h.Decide, auth.RequireCapability(h.policy, auth.CapClaimsDecide))
	api.POST("/claims/:id/rescore", h.Rescore, auth.RequireCapability(h.policy, auth.CapClaimsRescore))
	api.POST("/claims/rescore", h.RescoreBatch, auth.RequireCapability(h.policy, auth.CapClaimsRescore))
	api.POST("/claims/predict-score", h.PredictScore, auth.RequireCapability(h.policy, auth.CapClaimsRescore))
	api.POST("/risk/scores", h.CurrentScores, auth.RequireCapability(h.policy, auth.CapRiskRead))
}

func (h *Handler) Submit(c echo.Context) error {
	var in SubmitInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	claim, err := h.svc.Submit(c.Request().Context(), in)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, claim)
}

func (h *Handler) Resubmit(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in SubmitInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	claim, err := h.svc.Resubmit(c.Request().Context(), id, in)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, claim)
}

type decisionRequest struct {
	Outcome string `json:"outcome"` // "approve" or "deny"
}

func (h *Handler) Decide(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req decisionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var approve bool
	switch req.Outcome {
	case "approve":
		approve = true
	case "deny":
		approve = false
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "outcome must be approve or deny")
	}

	decidedBy := auth.UserIDFromContext(c.Request().Context())
	claim, err := h.svc.Decide(c.Request().Context(), id, approve, decidedBy)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, claim)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	claim, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, claim)
}

// GetRisk serves the claim's current score with its top contributing
// factors.
func (h *Handler) GetRisk(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	claim, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"claim_id":         claim.ID,
		"risk_score":       claim.RiskScore,
		"risk_explanation": claim.RiskExplanation,
		"top_factors":      claim.TopRiskFactors(),
		"version":          claim.Version,
		"updated_at":       claim.UpdatedAt,
	})
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()

	if patientID := c.QueryParam("patient_id"); patientID != "" {
		pid, err := uuid.Parse(patientID)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		items, total, err := h.svc.ListByPatient(ctx, pid, pg.Limit, pg.Offset)
		if err != nil {
			return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
		}
		resp := pagination.NewResponse(items, total, pg.Limit, pg.Offset)
		resp.Links = pg.Links(c.Path(), total)
		return c.JSON(http.StatusOK, resp)
	}

	items, total, err := h.svc.List(ctx, Status(c.QueryParam("status")), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	resp := pagination.NewResponse(items, total, pg.Limit, pg.Offset)
	resp.Links = pg.Links(c.Path(), total)
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) Rescore(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	claim, err := h.svc.RescoreClaim(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, claim)
}

type rescoreRequest struct {
	ClaimIDs []uuid.UUID `json:"claim_ids"`
}

// RescoreBatch re-scores the named claims, or every open claim when the body
// names none.
func (h *Handler) RescoreBatch(c echo.Context) error {
	var req rescoreRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Rescore(c.Request().Context(), req.ClaimIDs); err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) PredictScore(c echo.Context) error {
	var features risk.Features
	if err := c.Bind(&features); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	score, err := h.svc.PredictScore(c.Request().Context(), features)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, score)
}

type scoresRequest struct {
	ClaimIDs []uuid.UUID `json:"claim_ids"`
}

// CurrentScores is the poll endpoint the sync scheduler (and any UI client)
// hits to refresh displayed scores.
func (h *Handler) CurrentScores(c echo.Context) error {
	var req scoresRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.ClaimIDs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "claim_ids is required")
	}
	views, err := h.svc.CurrentScores(c.Request().Context(), req.ClaimIDs)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"scores": views})
}
