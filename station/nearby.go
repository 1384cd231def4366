package station

import (
	"sort"

	"github.com/umahmood/haversine"
)

// DefaultRadiusKm is used by nearby searches that do not specify a radius.
const DefaultRadiusKm = 2.0

type NearbyStation struct {
	Station
	DistanceKm float64
}

// DistanceKm returns the great-circle distance between two stations.
func DistanceKm(a, b Station) float64 {
	_, km := haversine.Distance(
		haversine.Coord{Lat: a.Lat(), Lon: a.Lng()},
		haversine.Coord{Lat: b.Lat(), Lon: b.Lng()},
	)
	return km
}

// Nearby filters stations to those within radiusKm of the given point,
// closest first.
func Nearby(stations []Station, lat, lng, radiusKm float64) []NearbyStation {
	if radiusKm <= 0 {
		radiusKm = DefaultRadiusKm
	}
	origin := haversine.Coord{Lat: lat, Lon: lng}

	out := make([]NearbyStation, 0, len(stations))
	for _, s := range stations {
		_, km := haversine.Distance(origin, haversine.Coord{Lat: s.Lat(), Lon: s.Lng()})
		if km <= radiusKm {
			out = append(out, NearbyStation{Station: s, DistanceKm: km})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	return out
}
