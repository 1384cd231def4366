package ride

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/semanticallynull/cycleshare-backend/internal/apperr"
)

var rideTransitionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ride_transitions_total",
		Help: "Ride lifecycle transitions by outcome",
	},
	[]string{"transition", "outcome"},
)

func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(rideTransitionsTotal)
}

func observe(transition string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = apperr.KindOf(err).String()
	}
	rideTransitionsTotal.WithLabelValues(transition, outcome).Inc()
}
