package hospitalisation

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/bjyoucef/inaya/internal/platform/apperr"
	"github.com/bjyoucef/inaya/internal/platform/auth"
	"github.com/bjyoucef/inaya/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole(auth.RolePhysician, auth.RoleNurse, auth.RoleAdmissions, auth.RoleBilling))
	readGroup.GET("/admission-requests", h.ListRequests)
	readGroup.GET("/admission-requests/:id", h.GetRequest)
	readGroup.GET("/admissions", h.ListAdmissions)
	readGroup.GET("/admissions/:id", h.GetAdmission)
	readGroup.GET("/admissions/:id/cost", h.GetCost)
	readGroup.GET("/admissions/:id/assignments", h.ListAssignments)
	readGroup.GET("/admissions/:id/transfers", h.ListTransfers)

	// Waiting lists and bed placement
	deskGroup := api.Group("", auth.RequireRole(auth.RoleAdmissions, auth.RolePhysician))
	deskGroup.POST("/admission-requests", h.CreateRequest)
	deskGroup.POST("/admission-requests/:id/cancel", h.CancelRequest)
	deskGroup.POST("/admission-requests/:id/admit", h.Admit)
	deskGroup.POST("/admission-requests/:id/complete-transfer", h.CompleteTransfer)

	careGroup := api.Group("", auth.RequireRole(auth.RolePhysician, auth.RoleNurse))
	careGroup.POST("/admissions/:id/transfer-bed", h.TransferBed)
	careGroup.POST("/admissions/:id/transfer-service", h.TransferService)

	dischargeGroup := api.Group("", auth.RequireRole(auth.RolePhysician))
	dischargeGroup.POST("/admissions/:id/discharge", h.Discharge)
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func queryUUID(c echo.Context, name string) (uuid.UUID, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

// -- Admission requests --

func (h *Handler) CreateRequest(c echo.Context) error {
	var req Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.RequestAdmission(c.Request().Context(), &req); err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, req)
}

func (h *Handler) GetRequest(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	req, err := h.svc.GetRequest(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, req)
}

// ListRequests filters by service_id, patient_id and status. Without a
// status only waiting requests are listed.
func (h *Handler) ListRequests(c echo.Context) error {
	var f RequestFilter
	var err error
	if f.ServiceID, err = queryUUID(c, "service_id"); err != nil {
		return err
	}
	if f.PatientID, err = queryUUID(c, "patient_id"); err != nil {
		return err
	}
	f.Status = RequestStatus(c.QueryParam("status"))
	if f.Status == "" {
		f.Status = RequestWaiting
	}
	p := pagination.FromContext(c)
	reqs, total, err := h.svc.ListRequests(c.Request().Context(), f, p.Limit, p.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(reqs, total, p.Limit, p.Offset))
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) CancelRequest(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var body cancelRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req, err := h.svc.CancelRequest(c.Request().Context(), id, body.Reason)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) Admit(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var in AdmitInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	view, err := h.svc.Admit(c.Request().Context(), id, in)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, view)
}

func (h *Handler) CompleteTransfer(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var in CompleteTransferInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	view, err := h.svc.CompleteTransfer(c.Request().Context(), id, in)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, view)
}

// -- Admissions --

func (h *Handler) ListAdmissions(c echo.Context) error {
	var f AdmissionFilter
	var err error
	if f.ServiceID, err = queryUUID(c, "service_id"); err != nil {
		return err
	}
	if f.PatientID, err = queryUUID(c, "patient_id"); err != nil {
		return err
	}
	if raw := c.QueryParam("active"); raw != "" {
		if f.ActiveOnly, err = strconv.ParseBool(raw); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid active")
		}
	}
	p := pagination.FromContext(c)
	admissions, total, err := h.svc.ListAdmissions(c.Request().Context(), f, p.Limit, p.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(admissions, total, p.Limit, p.Offset))
}

func (h *Handler) GetAdmission(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	view, err := h.svc.GetAdmission(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) GetCost(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	cost, err := h.svc.Cost(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, cost)
}

func (h *Handler) ListAssignments(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	items, err := h.svc.ListAssignments(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	if items == nil {
		items = []*Assignment{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListTransfers(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	items, err := h.svc.ListTransfers(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	if items == nil {
		items = []*Transfer{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) TransferBed(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var in TransferInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	view, err := h.svc.TransferBed(c.Request().Context(), id, in)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, view)
}

type serviceTransferResponse struct {
	Admission *AdmissionView `json:"admission"`
	Request   *Request       `json:"request"`
}

func (h *Handler) TransferService(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var in ServiceTransferInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	view, req, err := h.svc.TransferService(c.Request().Context(), id, in)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, serviceTransferResponse{Admission: view, Request: req})
}

func (h *Handler) Discharge(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var in DischargeInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	view, err := h.svc.Discharge(c.Request().Context(), id, in)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, view)
}
