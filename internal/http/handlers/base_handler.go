// README: Base handler utilities (JSON helpers, caller identity, error mapping).
package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"bora/internal/http/middleware"
	"bora/internal/modules/ride"
	"bora/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

// isValidID accepts the uuid-style ids the service generates.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

func writeRideError(c *gin.Context, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, ride.ErrBadRequest),
		errors.Is(err, ride.ErrInvalidTransition),
		errors.Is(err, ride.ErrInvalidCode):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, ride.ErrForbidden):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, ride.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, ride.ErrConflict):
		writeError(c, http.StatusConflict, err.Error())
	default:
		log.Error("ride request failed", "path", c.FullPath(), "ride_id", c.Param("id"), "error", err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

func actorFrom(c *gin.Context) ride.Actor {
	return ride.Actor{
		ID:    types.ID(middleware.CallerUID(c)),
		Role:  ride.Role(middleware.CallerRole(c)),
		Email: middleware.CallerEmail(c),
		Name:  middleware.CallerName(c),
	}
}

// bindOptionalJSON decodes the body into v; an empty body leaves v untouched.
func bindOptionalJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func rideID(c *gin.Context) (types.ID, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid ride id")
		return "", false
	}
	return types.ID(id), true
}
