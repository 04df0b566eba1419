package bloc

import (
	"net/http"
	"time"

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
	// Read endpoints – surgeons, nurses and billing
	readGroup := api.Group("", auth.RequireRole(auth.RoleSurgeon, auth.RoleNurse, auth.RoleBilling, auth.RolePhysician))
	readGroup.GET("/blocs", h.ListBlocs)
	readGroup.GET("/blocs/:id", h.GetBloc)
	readGroup.GET("/forfaits", h.ListForfaits)
	readGroup.GET("/forfaits/:id", h.GetForfait)
	readGroup.GET("/bloc-rentals", h.ListRentals)
	readGroup.GET("/bloc-rentals/:id", h.GetRental)
	readGroup.GET("/bloc-rentals/:id/consumptions", h.ListConsumptions)
	readGroup.GET("/bloc-rentals/:id/bill", h.GetBill)

	// Theatre floor
	floorGroup := api.Group("", auth.RequireRole(auth.RoleSurgeon, auth.RoleNurse))
	floorGroup.POST("/bloc-rentals", h.StartRental)
	floorGroup.POST("/bloc-rentals/:id/consumptions", h.RecordConsumption)
	floorGroup.POST("/bloc-rentals/:id/complete", h.CompleteRental)
	floorGroup.POST("/bloc-rentals/:id/cancel", h.CancelRental)

	// Tariffs – admin only
	writeGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	writeGroup.POST("/blocs", h.CreateBloc)
	writeGroup.POST("/forfaits", h.CreateForfait)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// -- Blocs --

func (h *Handler) CreateBloc(c echo.Context) error {
	var b Bloc
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateBloc(c.Request().Context(), &b); err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) GetBloc(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.GetBloc(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListBlocs(c echo.Context) error {
	blocs, err := h.svc.ListBlocs(c.Request().Context())
	if err != nil {
		return apperr.HTTPError(err)
	}
	if blocs == nil {
		blocs = []*Bloc{}
	}
	return c.JSON(http.StatusOK, blocs)
}

// -- Forfaits --

func (h *Handler) CreateForfait(c echo.Context) error {
	var f Forfait
	if err := c.Bind(&f); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateForfait(c.Request().Context(), &f); err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, f)
}

func (h *Handler) GetForfait(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	f, err := h.svc.GetForfait(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) ListForfaits(c echo.Context) error {
	var blocID uuid.UUID
	if raw := c.QueryParam("bloc_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid bloc_id")
		}
		blocID = parsed
	}
	forfaits, err := h.svc.ListForfaits(c.Request().Context(), blocID)
	if err != nil {
		return apperr.HTTPError(err)
	}
	if forfaits == nil {
		forfaits = []*Forfait{}
	}
	return c.JSON(http.StatusOK, forfaits)
}

// -- Rentals --

func (h *Handler) StartRental(c echo.Context) error {
	var r Rental
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.StartRental(c.Request().Context(), &r); err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) GetRental(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.GetRental(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ListRentals(c echo.Context) error {
	var f RentalFilter
	for name, dst := range map[string]*uuid.UUID{"bloc_id": &f.BlocID, "patient_id": &f.PatientID} {
		if raw := c.QueryParam(name); raw != "" {
			parsed, err := uuid.Parse(raw)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
			}
			*dst = parsed
		}
	}
	f.Status = RentalStatus(c.QueryParam("status"))
	p := pagination.FromContext(c)
	rentals, total, err := h.svc.ListRentals(c.Request().Context(), f, p.Limit, p.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(rentals, total, p.Limit, p.Offset))
}

func (h *Handler) RecordConsumption(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var item Consumption
	if err := c.Bind(&item); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.RecordConsumption(c.Request().Context(), id, &item); err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, item)
}

func (h *Handler) ListConsumptions(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListConsumptions(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	if items == nil {
		items = []*Consumption{}
	}
	return c.JSON(http.StatusOK, items)
}

type completeRequest struct {
	At *time.Time `json:"at"`
}

func (h *Handler) CompleteRental(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req completeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	bill, err := h.svc.CompleteRental(c.Request().Context(), id, req.At)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, bill)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) CancelRental(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r, err := h.svc.CancelRental(c.Request().Context(), id, req.Reason)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) GetBill(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	bill, err := h.svc.Bill(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, bill)
}
