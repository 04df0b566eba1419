package audit

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/bjyoucef/inaya/internal/platform/apperr"
	"github.com/bjyoucef/inaya/internal/platform/auth"
	"github.com/bjyoucef/inaya/pkg/pagination"
)

type Handler struct {
	repo Repository
}

func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleAdmin))
	g.GET("/audit-entries", h.List)
}

// List returns the trail, newest first, filtered by entity_type, entity_id
// and actor query parameters.
func (h *Handler) List(c echo.Context) error {
	var f Filter
	if et := c.QueryParam("entity_type"); et != "" {
		f.EntityType = EntityType(et)
		if !f.EntityType.Valid() {
			return apperr.HTTPError(apperr.Validation("unknown entity_type %q", et))
		}
	}
	if id := c.QueryParam("entity_id"); id != "" {
		parsed, err := uuid.Parse(id)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid entity_id")
		}
		f.EntityID = parsed
	}
	f.Actor = c.QueryParam("actor")

	pg := pagination.FromContext(c)
	entries, total, err := h.repo.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(entries, total, pg.Limit, pg.Offset))
}
