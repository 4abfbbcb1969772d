package geo

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medping/golang_services/internal/broadcast_service/domain"
)

var kathmandu = domain.Coordinate{Lat: 27.7172, Lng: 85.3240}

// northOf returns the point distanceKm due north of c along its meridian.
func northOf(c domain.Coordinate, distanceKm float64) domain.Coordinate {
	return domain.Coordinate{Lat: c.Lat + distanceKm/EarthRadiusKm*180/math.Pi, Lng: c.Lng}
}

func provider(id string, at domain.Coordinate) domain.Provider {
	return domain.Provider{ID: id, Name: id, Location: at, Active: true}
}

func ids(matches []Match) []string {
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Provider.ID)
	}
	return out
}

func TestDistanceKm(t *testing.T) {
	assert.Zero(t, DistanceKm(kathmandu, kathmandu))
	assert.InDelta(t, 3.0, DistanceKm(kathmandu, northOf(kathmandu, 3)), 1e-9)

	// Kathmandu to Pokhara is roughly 140 km as the crow flies.
	pokhara := domain.Coordinate{Lat: 28.2096, Lng: 83.9856}
	assert.InDelta(t, 140, DistanceKm(kathmandu, pokhara), 5)
	assert.InDelta(t, DistanceKm(kathmandu, pokhara), DistanceKm(pokhara, kathmandu), 1e-9)
}

func TestNearby_KathmanduScenario(t *testing.T) {
	candidates := []domain.Provider{
		provider("p20", northOf(kathmandu, 20)),
		provider("p4.9", northOf(kathmandu, 4.9)),
		provider("p0", kathmandu),
		provider("p5.1", northOf(kathmandu, 5.1)),
		provider("p3", northOf(kathmandu, 3)),
	}

	matches := Nearby(kathmandu, 5, candidates)

	require.Equal(t, []string{"p0", "p3", "p4.9"}, ids(matches))
	assert.InDelta(t, 0, matches[0].DistanceKm, 1e-9)
	assert.InDelta(t, 3, matches[1].DistanceKm, 1e-9)
	assert.InDelta(t, 4.9, matches[2].DistanceKm, 1e-9)
}

func TestNearby_BoundaryIsInclusive(t *testing.T) {
	edge := northOf(kathmandu, 5)
	radius := DistanceKm(kathmandu, edge)

	matches := Nearby(kathmandu, radius, []domain.Provider{provider("edge", edge)})
	assert.Equal(t, []string{"edge"}, ids(matches))
}

func TestNearby_EmptyInputsAreNotErrors(t *testing.T) {
	assert.Empty(t, Nearby(kathmandu, 5, nil))
	assert.Empty(t, Nearby(kathmandu, 5, []domain.Provider{provider("far", northOf(kathmandu, 50))}))
}

func TestNearby_SkipsInactiveProviders(t *testing.T) {
	inactive := provider("off", kathmandu)
	inactive.Active = false

	matches := Nearby(kathmandu, 5, []domain.Provider{inactive, provider("on", northOf(kathmandu, 1))})
	assert.Equal(t, []string{"on"}, ids(matches))
}

func TestNearby_SortedAndExactOverRandomSets(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 200; round++ {
		radius := rng.Float64() * 30
		candidates := make([]domain.Provider, rng.Intn(40))
		for i := range candidates {
			candidates[i] = provider(string(rune('a'+i%26))+string(rune('0'+i/26)), domain.Coordinate{
				Lat: kathmandu.Lat + (rng.Float64()-0.5)*0.8,
				Lng: kathmandu.Lng + (rng.Float64()-0.5)*0.8,
			})
		}

		matches := Nearby(kathmandu, radius, candidates)

		assert.True(t, sort.SliceIsSorted(matches, func(i, j int) bool {
			return matches[i].DistanceKm < matches[j].DistanceKm
		}))

		want := 0
		for _, p := range candidates {
			if DistanceKm(kathmandu, p.Location) <= radius {
				want++
			}
		}
		require.Len(t, matches, want)
		for _, m := range matches {
			assert.LessOrEqual(t, m.DistanceKm, radius)
		}
	}
}
