package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"corkboard-api/domain"
)

// respondError maps the domain error taxonomy onto HTTP statuses. Anything
// outside the taxonomy is treated as a persistence failure: logged in full,
// surfaced generically, no automatic retry.
func respondError(c echo.Context, logger *log.Logger, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrAccessDenied):
		return c.JSON(http.StatusForbidden, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrInvalidOperation):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		logger.WithError(err).Error("board operation failed")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "persistence failure"})
	}
}
