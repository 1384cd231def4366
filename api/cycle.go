package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/semanticallynull/cycleshare-backend/cycle"
	"github.com/semanticallynull/cycleshare-backend/internal/apperr"
	"github.com/semanticallynull/cycleshare-backend/internal/middleware"
)

type cycleResponse struct {
	ID          uuid.UUID    `json:"id"`
	Code        string       `json:"cycleId"`
	StationID   *uuid.UUID   `json:"stationId,omitempty"`
	StationName *string      `json:"stationName,omitempty"`
	Status      cycle.Status `json:"status"`
	Model       string       `json:"model,omitempty"`
	Color       string       `json:"color,omitempty"`
	Condition   string       `json:"condition,omitempty"`
}

func toCycleResponse(c cycle.Cycle) cycleResponse {
	return cycleResponse{
		ID:          c.ID,
		Code:        c.Code,
		StationID:   c.StationID,
		StationName: c.StationName,
		Status:      c.Status,
		Model:       c.Model,
		Color:       c.Color,
		Condition:   c.Condition,
	}
}

// cycleByCodeHandler resolves a scanned QR code.
func (a *API) cycleByCodeHandler(c *gin.Context) {
	cy, err := a.cycles.GetCycleByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, toCycleResponse(cy))
}

type cycleListQuery struct {
	pageQuery
	Status    string `form:"status" binding:"omitempty,oneof=available in-use maintenance out-of-service"`
	StationID string `form:"stationId" binding:"omitempty,uuid"`
}

func (a *API) listCyclesHandler(c *gin.Context) {
	var q cycleListQuery
	if !bindQuery(c, &q) {
		return
	}
	f := cycle.Filter{Status: cycle.Status(q.Status)}
	if q.StationID != "" {
		id := uuid.MustParse(q.StationID)
		f.StationID = &id
	}

	page := q.request()
	cycles, total, err := a.cycles.GetCycles(c.Request.Context(), f, page)
	if err != nil {
		fail(c, err)
		return
	}

	resp := make([]cycleResponse, 0, len(cycles))
	for _, cy := range cycles {
		resp = append(resp, toCycleResponse(cy))
	}
	okPage(c, resp, page.Meta(total))
}

type cycleRequest struct {
	Code      string `json:"cycleId" binding:"required,max=50"`
	StationID string `json:"stationId" binding:"omitempty,uuid"`
	Model     string `json:"model" binding:"max=100"`
	Color     string `json:"color" binding:"max=50"`
	Condition string `json:"condition" binding:"max=100"`
}

func (r cycleRequest) cycle() cycle.Cycle {
	c := cycle.Cycle{
		Code:      r.Code,
		Model:     r.Model,
		Color:     r.Color,
		Condition: r.Condition,
	}
	if r.StationID != "" {
		id := uuid.MustParse(r.StationID)
		c.StationID = &id
	}
	return c
}

func (a *API) checkStation(c *gin.Context, id *uuid.UUID) bool {
	if id == nil {
		return true
	}
	if _, err := a.stations.GetStation(c.Request.Context(), *id); err != nil {
		fail(c, err)
		return false
	}
	return true
}

func (a *API) createCycleHandler(c *gin.Context) {
	var req cycleRequest
	if !bind(c, &req) {
		return
	}
	cy := req.cycle()
	if !a.checkStation(c, cy.StationID) {
		return
	}
	if err := a.cycles.CreateCycle(c.Request.Context(), &cy); err != nil {
		fail(c, err)
		return
	}
	middleware.GetLogger(c).Info("cycle created", "cycleId", cy.ID, "code", cy.Code)
	ok(c, http.StatusCreated, toCycleResponse(cy))
}

func (a *API) updateCycleHandler(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	var req cycleRequest
	if !bind(c, &req) {
		return
	}
	cy := req.cycle()
	cy.ID = id
	if !a.checkStation(c, cy.StationID) {
		return
	}
	updated, err := a.cycles.UpdateCycle(c.Request.Context(), cy)
	if err != nil {
		fail(c, err)
		return
	}
	okMessage(c, "cycle updated", toCycleResponse(updated))
}

type cycleStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=available maintenance out-of-service"`
}

func (a *API) setCycleStatusHandler(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	var req cycleStatusRequest
	if !bind(c, &req) {
		return
	}
	cy, err := a.cycles.SetStatus(c.Request.Context(), id, cycle.Status(req.Status))
	if err != nil {
		fail(c, err)
		return
	}
	middleware.GetLogger(c).Info("cycle status changed", "cycleId", id, "status", cy.Status)
	okMessage(c, "cycle status updated", toCycleResponse(cy))
}

func (a *API) deleteCycleHandler(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	if err := a.cycles.DeleteCycle(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	middleware.GetLogger(c).Info("cycle retired", "cycleId", id)
	okMessage(c, "cycle deleted", nil)
}

func (a *API) cycleQRHandler(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	size := cycle.DefaultQRSize
	if s := c.Query("size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 64 || n > 1024 {
			fail(c, apperr.Invalid("size", "must be between 64 and 1024"))
			return
		}
		size = n
	}

	cy, err := a.cycles.GetCycle(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	png, err := cycle.QRCode(cy, size)
	if err != nil {
		fail(c, err)
		return
	}
	c.Header("Content-Disposition", `inline; filename="`+cy.Code+`.png"`)
	c.Data(http.StatusOK, "image/png", png)
}
