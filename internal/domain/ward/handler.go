package ward

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

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
	// Read endpoints – every ward role
	readGroup := api.Group("", auth.RequireRole(auth.RolePhysician, auth.RoleNurse, auth.RoleAdmissions, auth.RoleBilling))
	readGroup.GET("/services", h.ListServices)
	readGroup.GET("/services/:id", h.GetService)
	readGroup.GET("/services/:id/available-beds", h.AvailableBeds)
	readGroup.GET("/services/:id/occupancy", h.Occupancy)
	readGroup.GET("/rooms", h.ListRooms)
	readGroup.GET("/rooms/:id", h.GetRoom)
	readGroup.GET("/rooms/:id/beds", h.ListBeds)
	readGroup.GET("/beds/:id", h.GetBed)

	// Housekeeping – nurses
	careGroup := api.Group("", auth.RequireRole(auth.RoleNurse))
	careGroup.PATCH("/beds/:id/status", h.SetBedStatus)
	careGroup.POST("/beds/:id/cleaned", h.MarkBedCleaned)

	// Registry writes – admin only
	writeGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	writeGroup.POST("/services", h.CreateService)
	writeGroup.POST("/rooms", h.CreateRoom)
	writeGroup.PATCH("/rooms/:id/price", h.UpdateRoomPrice)
	writeGroup.DELETE("/rooms/:id", h.DeleteRoom)
	writeGroup.POST("/rooms/:id/beds", h.AddBed)
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

// -- Care services --

func (h *Handler) CreateService(c echo.Context) error {
	var svc CareService
	if err := c.Bind(&svc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateService(c.Request().Context(), &svc); err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, svc)
}

func (h *Handler) GetService(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	svc, err := h.svc.GetService(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, svc)
}

func (h *Handler) ListServices(c echo.Context) error {
	services, err := h.svc.ListServices(c.Request().Context())
	if err != nil {
		return apperr.HTTPError(err)
	}
	if services == nil {
		services = []*CareService{}
	}
	return c.JSON(http.StatusOK, services)
}

func (h *Handler) AvailableBeds(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	beds, err := h.svc.AvailableBeds(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, beds)
}

func (h *Handler) Occupancy(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	occ, err := h.svc.Occupancy(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, occ)
}

// -- Rooms --

func (h *Handler) CreateRoom(c echo.Context) error {
	var room Room
	if err := c.Bind(&room); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateRoom(c.Request().Context(), &room); err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, room)
}

func (h *Handler) GetRoom(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	room, err := h.svc.GetRoom(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, room)
}

// ListRooms accepts an optional service_id filter.
func (h *Handler) ListRooms(c echo.Context) error {
	var serviceID uuid.UUID
	if raw := c.QueryParam("service_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid service_id")
		}
		serviceID = parsed
	}
	p := pagination.FromContext(c)
	rooms, total, err := h.svc.ListRooms(c.Request().Context(), serviceID, p.Limit, p.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(rooms, total, p.Limit, p.Offset))
}

type priceRequest struct {
	NightlyPrice *decimal.Decimal `json:"nightly_price"`
}

func (h *Handler) UpdateRoomPrice(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req priceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.NightlyPrice == nil {
		return apperr.HTTPError(apperr.Validation("nightly_price is required"))
	}
	room, err := h.svc.UpdateRoomPrice(c.Request().Context(), id, *req.NightlyPrice)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, room)
}

func (h *Handler) DeleteRoom(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	kept, err := h.svc.DeleteRoom(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	if kept != nil {
		return c.JSON(http.StatusOK, kept)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Beds --

func (h *Handler) AddBed(c echo.Context) error {
	roomID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var bed Bed
	if err := c.Bind(&bed); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	bed.RoomID = roomID
	if err := h.svc.AddBed(c.Request().Context(), &bed); err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, bed)
}

func (h *Handler) ListBeds(c echo.Context) error {
	roomID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	beds, err := h.svc.ListBeds(c.Request().Context(), roomID)
	if err != nil {
		return apperr.HTTPError(err)
	}
	if beds == nil {
		beds = []*Bed{}
	}
	return c.JSON(http.StatusOK, beds)
}

func (h *Handler) GetBed(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	bed, err := h.svc.GetBed(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, bed)
}

type statusRequest struct {
	Status BedStatus `json:"status"`
}

func (h *Handler) SetBedStatus(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	bed, err := h.svc.SetBedStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, bed)
}

func (h *Handler) MarkBedCleaned(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	bed, err := h.svc.MarkBedCleaned(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, bed)
}
