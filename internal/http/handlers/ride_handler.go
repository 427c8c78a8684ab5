// README: Ride handlers: one endpoint per lifecycle action plus the read side.
package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"bora/internal/modules/eta"
	"bora/internal/modules/ride"
	"bora/internal/types"
)

type RideHandler struct {
	rides *ride.Service
	log   *slog.Logger
}

func NewRideHandler(svc *ride.Service, log *slog.Logger) *RideHandler {
	if log == nil {
		log = slog.Default()
	}
	return &RideHandler{rides: svc, log: log}
}

type requestRideReq struct {
	Origin               ride.Place `json:"origin"`
	Destination          ride.Place `json:"destination"`
	DistanceKm           float64    `json:"distance_km"`
	EstimatedTimeMinutes float64    `json:"estimated_time_minutes"`
}

type acceptReq struct {
	Vehicle string `json:"vehicle"`
	Plate   string `json:"plate"`
}

type verifyCodeReq struct {
	Code string `json:"code"`
}

type cancelReq struct {
	Reason string `json:"reason"`
}

type rateReq struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

type reportReq struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

type locationReq struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	SpeedKmh  *float64 `json:"speed_kmh"`
}

type statusUpdateReq struct {
	Status          string       `json:"status"`
	Reason          string       `json:"reason"`
	CurrentLocation *types.Point `json:"current_location"`
	SpeedKmh        *float64     `json:"speed_kmh"`
}

type etaResp struct {
	Target     eta.Target `json:"target"`
	Seconds    int64      `json:"seconds"`
	ComputedAt time.Time  `json:"computed_at"`
}

// Register mounts the ride routes on g. Static paths are registered before :id.
func (h *RideHandler) Register(g *gin.RouterGroup) {
	g.POST("/request", h.Request)
	g.GET("/available", h.Available)
	g.GET("/mine", h.Mine)
	g.GET("/driver/stats", h.DriverStats)

	g.GET("/:id", h.Get)
	g.GET("/:id/status", h.Status)
	g.GET("/:id/details", h.Details)
	g.GET("/:id/events", h.Events)

	g.POST("/:id/accept", h.Accept)
	g.POST("/:id/arrived", h.Arrived)
	g.POST("/:id/verify-code", h.VerifyCode)
	g.POST("/:id/pickup", h.Start)
	g.POST("/:id/start", h.Start)
	g.POST("/:id/finish", h.Finish)
	g.POST("/:id/cancel", h.Cancel)
	g.POST("/:id/rate", h.Rate)
	g.POST("/:id/report", h.Report)
	g.POST("/:id/location", h.Location)
	g.POST("/:id/status-update", h.StatusUpdate)
}

func (h *RideHandler) Request(c *gin.Context) {
	var req requestRideReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	a := actorFrom(c)
	r, err := h.rides.Request(c.Request.Context(), a, ride.RequestCommand{
		Origin:        req.Origin,
		Destination:   req.Destination,
		DistanceKm:    req.DistanceKm,
		EstimatedTime: time.Duration(req.EstimatedTimeMinutes * float64(time.Minute)),
	})
	if err != nil {
		writeRideError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"ride": r.ViewFor(a)})
}

func (h *RideHandler) Available(c *gin.Context) {
	var near *types.Point
	if lat, lng := c.Query("lat"), c.Query("lng"); lat != "" || lng != "" {
		p, ok := parsePoint(lat, lng)
		if !ok {
			writeError(c, http.StatusBadRequest, "invalid lat/lng")
			return
		}
		near = &p
	}
	a := actorFrom(c)
	rides, err := h.rides.ListAvailable(c.Request.Context(), a, near)
	if err != nil {
		writeRideError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"rides": views(rides, a)})
}

func (h *RideHandler) Mine(c *gin.Context) {
	a := actorFrom(c)
	rides, err := h.rides.ListMine(c.Request.Context(), a)
	if err != nil {
		writeRideError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"rides": views(rides, a)})
}

func (h *RideHandler) DriverStats(c *gin.Context) {
	stats, err := h.rides.DriverStats(c.Request.Context(), actorFrom(c))
	if err != nil {
		writeRideError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"stats": stats})
}

func (h *RideHandler) Get(c *gin.Context) {
	id, ok := rideID(c)
	if !ok {
		return
	}
	a := actorFrom(c)
	r, err := h.rides.Get(c.Request.Context(), a, id)
	if err != nil {
		writeRideError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ride": r.ViewFor(a)})
}

func (h *RideHandler) Status(c *gin.Context) {
	id, ok := rideID(c)
	if !ok {
		return
	}
	r, err := h.rides.Get(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		writeRideError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ride_id": r.ID, "status": r.Status, "version": r.Version})
}

func (h *RideHandler) Details(c *gin.Context) {
	id, ok := rideID(c)
	if !ok {
		return
	}
	a := actorFrom(c)
	d, err := h.rides.Details(c.Request.Context(), a, id)
	if err != nil {
		writeRideError(c, h.log, err)
		return
	}
	resp := gin.H{"ride": d.Ride.ViewFor(a)}
	if d.ETA != nil {
		resp["estimated_arrival"] = etaResp{
			Target:     d.ETA.Target,
			Seconds:    int64(d.ETA.Duration / time.Second),
			ComputedAt: d.ETA.ComputedAt,
		}
	}
	writeJSON(c, http.StatusOK, resp)
}

func (h *RideHandler) Events(c *gin.Context) {
	id, ok := rideID(c)
	if !ok {
		return
	}
	events, err := h.rides.Events(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		writeRideError(c, h.log, err)
		return
	}
	if events == nil {
		events = []ride.Event{}
	}
	writeJSON(c, http.StatusOK, gin.H{"events": events})
}

func (h *RideHandler) Accept(c *gin.Context) {
	var req acceptReq
	if !bindOptionalJSON(c, &req) {
		return
	}
	h.apply(c, ride.AcceptCommand{Driver: ride.DriverInfo{
		Vehicle: req.Vehicle,
		Plate:   req.Plate,
	}})
}

func (h *RideHandler) Arrived(c *gin.Context) {
	h.apply(c, ride.ArriveCommand{})
}

func (h *RideHandler) VerifyCode(c *gin.Context) {
	var req verifyCodeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	h.apply(c, ride.VerifyCodeCommand{Code: req.Code})
}

// Start also serves the pickup route.
func (h *RideHandler) Start(c *gin.Context) {
	h.apply(c, ride.StartCommand{})
}

func (h *RideHandler) Finish(c *gin.Context) {
	h.apply(c, ride.FinishCommand{})
}

func (h *RideHandler) Cancel(c *gin.Context) {
	var req cancelReq
	if !bindOptionalJSON(c, &req) {
		return
	}
	h.apply(c, ride.CancelCommand{Reason: req.Reason})
}

func (h *RideHandler) Rate(c *gin.Context) {
	var req rateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	h.apply(c, ride.RateCommand{Score: req.Rating, Comment: req.Comment})
}

func (h *RideHandler) Report(c *gin.Context) {
	var req reportReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	h.apply(c, ride.ReportCommand{Type: ride.ReportType(req.Type), Description: req.Description})
}

func (h *RideHandler) Location(c *gin.Context) {
	var req locationReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Latitude == nil || req.Longitude == nil {
		writeError(c, http.StatusBadRequest, "latitude and longitude are required")
		return
	}
	h.apply(c, ride.LocationCommand{
		Point:    types.Point{Lat: *req.Latitude, Lng: *req.Longitude},
		SpeedKmh: req.SpeedKmh,
	})
}

func (h *RideHandler) StatusUpdate(c *gin.Context) {
	id, ok := rideID(c)
	if !ok {
		return
	}
	var req statusUpdateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	a := actorFrom(c)
	r, err := h.rides.StatusUpdate(c.Request.Context(), a, id, ride.StatusUpdateCommand{
		Status:   ride.Status(req.Status),
		Reason:   req.Reason,
		Location: req.CurrentLocation,
		SpeedKmh: req.SpeedKmh,
	})
	if err != nil {
		writeRideError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ride": r.ViewFor(a)})
}

func (h *RideHandler) apply(c *gin.Context, cmd ride.Command) {
	id, ok := rideID(c)
	if !ok {
		return
	}
	a := actorFrom(c)
	r, err := h.rides.Apply(c.Request.Context(), a, id, cmd)
	if err != nil {
		writeRideError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ride": r.ViewFor(a)})
}

func views(rides []*ride.Ride, a ride.Actor) []*ride.Ride {
	out := make([]*ride.Ride, 0, len(rides))
	for _, r := range rides {
		out = append(out, r.ViewFor(a))
	}
	return out
}

func parsePoint(lat, lng string) (types.Point, bool) {
	la, err1 := strconv.ParseFloat(lat, 64)
	ln, err2 := strconv.ParseFloat(lng, 64)
	if err1 != nil || err2 != nil {
		return types.Point{}, false
	}
	p := types.Point{Lat: la, Lng: ln}
	return p, p.Valid()
}
