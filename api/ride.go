package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/semanticallynull/cycleshare-backend/internal/apperr"
	"github.com/semanticallynull/cycleshare-backend/internal/middleware"
	"github.com/semanticallynull/cycleshare-backend/ride"
)

var errStatsForbidden = apperr.New(apperr.Forbidden, "only administrators may view other riders' stats")

type startRideRequest struct {
	CycleID   string `json:"cycleId" binding:"required,max=50"`
	StationID string `json:"stationId" binding:"required,uuid"`
}

type feedbackRequest struct {
	Rating  int    `json:"rating" binding:"required,min=1,max=5"`
	Comment string `json:"comment" binding:"max=500"`
}

type endRideRequest struct {
	CycleID   string           `json:"cycleId" binding:"required,max=50"`
	StationID string           `json:"stationId" binding:"required,uuid"`
	Feedback  *feedbackRequest `json:"feedback"`
}

type feedbackResponse struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment,omitempty"`
}

type rideResponse struct {
	ID             uuid.UUID         `json:"id"`
	UserID         uuid.UUID         `json:"userId"`
	CycleID        string            `json:"cycleId"`
	StartStationID uuid.UUID         `json:"startStationId"`
	EndStationID   *uuid.UUID        `json:"endStationId,omitempty"`
	StartTime      time.Time         `json:"startTime"`
	EndTime        *time.Time        `json:"endTime,omitempty"`
	Duration       *int32            `json:"duration,omitempty"`
	DistanceKm     *float64          `json:"distance,omitempty"`
	Status         ride.Status       `json:"status"`
	Cost           int64             `json:"cost"`
	Feedback       *feedbackResponse `json:"feedback,omitempty"`
}

func (a *API) toRideResponse(r ride.Ride) rideResponse {
	resp := rideResponse{
		ID:             r.ID,
		UserID:         r.UserID,
		CycleID:        r.CycleCode,
		StartStationID: r.StartStationID,
		EndStationID:   r.EndStationID,
		StartTime:      r.StartedAt,
		Status:         r.Status,
		Cost:           r.Cost(a.rides.RatePerHour()),
	}
	if r.EndedAt.Valid {
		resp.EndTime = &r.EndedAt.Time
	}
	if r.DurationMinutes.Valid {
		resp.Duration = &r.DurationMinutes.Int32
	}
	if r.DistanceKm.Valid {
		resp.DistanceKm = &r.DistanceKm.Float64
	}
	if r.Rating.Valid {
		resp.Feedback = &feedbackResponse{Rating: int(r.Rating.Int16), Comment: r.Comment.String}
	}
	return resp
}

func (a *API) toRideResponses(rides []ride.Ride) []rideResponse {
	resp := make([]rideResponse, 0, len(rides))
	for _, r := range rides {
		resp = append(resp, a.toRideResponse(r))
	}
	return resp
}

func (a *API) startRideHandler(c *gin.Context) {
	var req startRideRequest
	if !bind(c, &req) {
		return
	}

	userID := currentUser(c)
	r, err := a.rides.StartRide(c.Request.Context(), userID, req.CycleID, uuid.MustParse(req.StationID))
	if err != nil {
		middleware.GetLogger(c).Info("ride not started", "cycle", req.CycleID, "error", err)
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, a.toRideResponse(r))
}

func (a *API) endRideHandler(c *gin.Context) {
	var req endRideRequest
	if !bind(c, &req) {
		return
	}

	var fb *ride.Feedback
	if req.Feedback != nil {
		fb = &ride.Feedback{Rating: req.Feedback.Rating, Comment: req.Feedback.Comment}
	}

	userID := currentUser(c)
	r, err := a.rides.EndRide(c.Request.Context(), userID, req.CycleID, uuid.MustParse(req.StationID), fb)
	if err != nil {
		middleware.GetLogger(c).Info("ride not ended", "cycle", req.CycleID, "error", err)
		fail(c, err)
		return
	}
	okMessage(c, "ride completed", a.toRideResponse(r))
}

func (a *API) cancelRideHandler(c *gin.Context) {
	r, err := a.rides.CancelRide(c.Request.Context(), currentUser(c))
	if err != nil {
		fail(c, err)
		return
	}
	okMessage(c, "ride cancelled", a.toRideResponse(r))
}

// activeRideHandler answers with null data when the rider is not riding.
func (a *API) activeRideHandler(c *gin.Context) {
	r, err := a.rides.GetActiveRide(c.Request.Context(), currentUser(c))
	if err != nil {
		fail(c, err)
		return
	}
	if r == nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "data": nil})
		return
	}
	ok(c, http.StatusOK, a.toRideResponse(*r))
}

func (a *API) rideHistoryHandler(c *gin.Context) {
	var q pageQuery
	if !bindQuery(c, &q) {
		return
	}
	rides, meta, err := a.rides.History(c.Request.Context(), currentUser(c), q.request())
	if err != nil {
		fail(c, err)
		return
	}
	okPage(c, a.toRideResponses(rides), meta)
}

type statsResponse struct {
	TotalRides    int     `json:"totalRides"`
	TotalDuration int     `json:"totalDuration"`
	TotalCost     int64   `json:"totalCost"`
	AvgDuration   float64 `json:"avgDuration"`
}

type statsQuery struct {
	UserID string `form:"userId" binding:"omitempty,uuid"`
}

func (a *API) rideStatsHandler(c *gin.Context) {
	var q statsQuery
	if !bindQuery(c, &q) {
		return
	}

	target := currentUser(c)
	if q.UserID != "" {
		requested := uuid.MustParse(q.UserID)
		if id, _ := middleware.GetIdentity(c); requested != target && !id.IsAdmin() {
			fail(c, errStatsForbidden)
			return
		}
		target = requested
	}

	s, err := a.rides.GetUserStats(c.Request.Context(), target)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, statsResponse{
		TotalRides:    s.TotalRides,
		TotalDuration: s.TotalDuration,
		TotalCost:     s.TotalCost,
		AvgDuration:   s.AvgDuration,
	})
}

type rideListQuery struct {
	pageQuery
	Status string `form:"status" binding:"omitempty,oneof=active completed cancelled"`
}

func (a *API) listRidesHandler(c *gin.Context) {
	var q rideListQuery
	if !bindQuery(c, &q) {
		return
	}
	rides, meta, err := a.rides.ListRides(c.Request.Context(), ride.Status(q.Status), q.request())
	if err != nil {
		fail(c, err)
		return
	}
	okPage(c, a.toRideResponses(rides), meta)
}

func (a *API) adminCancelRideHandler(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	r, err := a.rides.AdminCancelRide(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	admin, _ := middleware.GetUserID(c)
	middleware.GetLogger(c).Warn("ride cancelled by administrator", "rideId", id, "adminId", admin)
	okMessage(c, "ride cancelled", a.toRideResponse(r))
}
