// Package geo matches a request origin against the provider directory.
package geo

import (
	"math"
	"sort"

	"github.com/medping/golang_services/internal/broadcast_service/domain"
)

// EarthRadiusKm is the mean Earth radius used by DistanceKm.
const EarthRadiusKm = 6371.0

// Match is a provider within range together with its distance from the origin.
type Match struct {
	Provider   domain.Provider
	DistanceKm float64
}

// DistanceKm returns the Haversine great-circle distance between a and b.
func DistanceKm(a, b domain.Coordinate) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := lat2 - lat1
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Nearby returns the candidates with DistanceKm(origin, p) <= radiusKm, closest first.
// Ties keep the candidates' input order. Inactive providers are skipped.
func Nearby(origin domain.Coordinate, radiusKm float64, candidates []domain.Provider) []Match {
	matches := make([]Match, 0, len(candidates))
	for _, p := range candidates {
		if !p.Active {
			continue
		}
		d := DistanceKm(origin, p.Location)
		if d <= radiusKm {
			matches = append(matches, Match{Provider: p, DistanceKm: d})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].DistanceKm < matches[j].DistanceKm
	})
	return matches
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
