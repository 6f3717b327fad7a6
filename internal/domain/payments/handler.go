package payments

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/rcm/rcm/internal/platform/auth"
	"github.com/rcm/rcm/internal/platform/errs"
)

type Handler struct {
	svc    *Service
	policy *auth.Policy
}

func NewHandler(svc *Service, policy *auth.Policy) *Handler {
	return &Handler{svc: svc, policy: policy}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/payments", h.ListByInvoice, auth.RequireCapability(h.policy, auth.CapPaymentsView))
	api.POST("/payments", h.Record, auth.RequireCapability(h.policy, auth.CapPaymentsRecord))
	api.POST("/payments/orders", h.CreateOrder, auth.RequireCapability(h.policy, auth.CapPaymentsVerify))
	api.POST("/payments/verify", h.Verify, auth.RequireCapability(h.policy, auth.CapPaymentsVerify))
}

type recordRequest struct {
	InvoiceID     uuid.UUID `json:"invoice_id"`
	AmountMinor   int64     `json:"amount_minor"`
	Method        Method    `json:"method"`
	ExternalTxnID *string   `json:"external_txn_id,omitempty"`
}

func (h *Handler) Record(c echo.Context) error {
	var req recordRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.InvoiceID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invoice_id is required")
	}
	recordedBy := auth.UserIDFromContext(c.Request().Context())
	p, err := h.svc.ApplyPayment(c.Request().Context(), req.InvoiceID, req.AmountMinor, req.Method, req.ExternalTxnID, recordedBy)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}

type createOrderRequest struct {
	InvoiceID   *uuid.UUID `json:"invoice_id,omitempty"`
	AmountMinor int64      `json:"amount_minor"`
}

func (h *Handler) CreateOrder(c echo.Context) error {
	var req createOrderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	o, err := h.svc.CreateOrder(c.Request().Context(), req.InvoiceID, req.AmountMinor)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, o)
}

type verifyRequest struct {
	OrderID   string    `json:"order_id"`
	PaymentID string    `json:"payment_id"`
	Signature string    `json:"signature"`
	InvoiceID uuid.UUID `json:"invoice_id"`
}

func (h *Handler) Verify(c echo.Context) error {
	var req verifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.OrderID == "" || req.PaymentID == "" || req.Signature == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "order_id, payment_id and signature are required")
	}
	if req.InvoiceID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invoice_id is required")
	}
	p, err := h.svc.VerifyPayment(c.Request().Context(), req.OrderID, req.PaymentID, req.Signature, req.InvoiceID)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListByInvoice(c echo.Context) error {
	invoiceID, err := uuid.Parse(c.QueryParam("invoice_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invoice_id is required")
	}
	ctx := c.Request().Context()
	if scope, scoped := auth.PatientScope(ctx); scoped {
		pid, err := h.svc.InvoicePatient(ctx, invoiceID)
		if err != nil {
			return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
		}
		if pid != scope {
			return echo.NewHTTPError(http.StatusForbidden, "patients can only view their own records")
		}
	}
	items, err := h.svc.ListByInvoice(ctx, invoiceID)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"payments": items})
}
