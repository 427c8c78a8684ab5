// README: HTTP router registration.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"bora/internal/http/handlers"
	"bora/internal/http/middleware"
	"bora/internal/infra"
	"bora/internal/modules/ride"
)

type RouterDeps struct {
	Rides    *ride.Service
	Verifier infra.TokenVerifier
	Log      *slog.Logger
}

func NewRouter(deps RouterDeps) http.Handler {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}

	r := gin.New()
	r.Use(middleware.Logging(log), middleware.Recovery(log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	api := r.Group("/api", middleware.Auth(deps.Verifier))
	handlers.NewRideHandler(deps.Rides, log).Register(api.Group("/rides"))

	return r
}
