package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/semanticallynull/cycleshare-backend/internal/middleware"
	"github.com/semanticallynull/cycleshare-backend/station"
)

type stationResponse struct {
	ID              uuid.UUID    `json:"id"`
	Name            string       `json:"name"`
	Address         string       `json:"address"`
	Capacity        int          `json:"capacity"`
	Lat             float64      `json:"latitude"`
	Lng             float64      `json:"longitude"`
	Type            station.Type `json:"type"`
	AvailableCycles int          `json:"availableCycles"`
	DistanceKm      *float64     `json:"distanceKm,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
}

func toStationResponse(s station.Station) stationResponse {
	return stationResponse{
		ID:              s.ID,
		Name:            s.Name,
		Address:         s.Address,
		Capacity:        s.Capacity,
		Lat:             s.Lat(),
		Lng:             s.Lng(),
		Type:            s.Type,
		AvailableCycles: s.AvailableCycles,
		CreatedAt:       s.CreatedAt,
	}
}

func (a *API) stationsHandler(c *gin.Context) {
	stations, err := a.stations.GetStations(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}

	resp := make([]stationResponse, 0, len(stations))
	for _, s := range stations {
		resp = append(resp, toStationResponse(s))
	}
	ok(c, http.StatusOK, resp)
}

type nearbyQuery struct {
	Lat      *float64 `form:"lat" binding:"required,latitude"`
	Lng      *float64 `form:"lng" binding:"required,longitude"`
	RadiusKm float64  `form:"radiusKm" binding:"omitempty,gt=0,max=50"`
}

func (a *API) nearbyStationsHandler(c *gin.Context) {
	var q nearbyQuery
	if !bindQuery(c, &q) {
		return
	}
	stations, err := a.stations.GetStations(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}

	nearby := station.Nearby(stations, *q.Lat, *q.Lng, q.RadiusKm)
	resp := make([]stationResponse, 0, len(nearby))
	for _, n := range nearby {
		r := toStationResponse(n.Station)
		r.DistanceKm = &n.DistanceKm
		resp = append(resp, r)
	}
	ok(c, http.StatusOK, resp)
}

func (a *API) stationHandler(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	s, err := a.stations.GetStation(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, toStationResponse(s))
}

// stationCyclesHandler lists the cycles a rider could take from a station
// right now.
func (a *API) stationCyclesHandler(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	ctx := c.Request.Context()
	if _, err := a.stations.GetStation(ctx, id); err != nil {
		fail(c, err)
		return
	}
	cycles, err := a.cycles.GetAvailableAtStation(ctx, id)
	if err != nil {
		fail(c, err)
		return
	}

	resp := make([]cycleResponse, 0, len(cycles))
	for _, cy := range cycles {
		resp = append(resp, toCycleResponse(cy))
	}
	ok(c, http.StatusOK, resp)
}

type stationRequest struct {
	Name     string       `json:"name" binding:"required,max=100"`
	Address  string       `json:"address" binding:"max=200"`
	Capacity int          `json:"capacity" binding:"min=0,max=500"`
	Lat      *float64     `json:"latitude" binding:"required,latitude"`
	Lng      *float64     `json:"longitude" binding:"required,longitude"`
	Type     station.Type `json:"type"`
}

func (r stationRequest) station() station.Station {
	return station.Station{
		Name:     r.Name,
		Address:  r.Address,
		Capacity: r.Capacity,
		Location: station.NewLocation(*r.Lat, *r.Lng),
		Type:     r.Type,
	}
}

func (a *API) createStationHandler(c *gin.Context) {
	var req stationRequest
	if !bind(c, &req) {
		return
	}
	s := req.station()
	if err := a.stations.CreateStation(c.Request.Context(), &s); err != nil {
		fail(c, err)
		return
	}
	middleware.GetLogger(c).Info("station created", "stationId", s.ID)
	ok(c, http.StatusCreated, toStationResponse(s))
}

func (a *API) updateStationHandler(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	var req stationRequest
	if !bind(c, &req) {
		return
	}
	s := req.station()
	s.ID = id
	updated, err := a.stations.UpdateStation(c.Request.Context(), s)
	if err != nil {
		fail(c, err)
		return
	}
	okMessage(c, "station updated", toStationResponse(updated))
}

func (a *API) deleteStationHandler(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	if err := a.stations.DeleteStation(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	middleware.GetLogger(c).Info("station deactivated", "stationId", id)
	okMessage(c, "station deleted", nil)
}
