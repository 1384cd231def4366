package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/semanticallynull/cycleshare-backend/dashboard"
)

func (a *API) overviewHandler(c *gin.Context) {
	o, err := a.dashboard.Overview(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, o)
}

type revenueQuery struct {
	Days int `form:"days" binding:"omitempty,min=1,max=365"`
}

func (a *API) revenueHandler(c *gin.Context) {
	var q revenueQuery
	if !bindQuery(c, &q) {
		return
	}
	days := dashboard.ClampDays(q.Days)
	rows, err := a.dashboard.Revenue(c.Request.Context(), days, a.now())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"days": days, "revenue": rows})
}

type stationUsageQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=100"`
}

func (a *API) stationUsageHandler(c *gin.Context) {
	var q stationUsageQuery
	if !bindQuery(c, &q) {
		return
	}
	limit := q.Limit
	if limit == 0 {
		limit = dashboard.TopStations
	}
	rows, err := a.dashboard.Stations(c.Request.Context(), limit)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, rows)
}
