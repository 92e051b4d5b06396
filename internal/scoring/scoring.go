// Package scoring turns a guess into a distance and a point score. Solo
// practice and the battle round preview both call Score so the two can
// never disagree.
package scoring

import (
	"fmt"
	"math"

	"github.com/campusguess/battle-client/pkg/types"
)

const (
	EarthRadiusMeters = 6_371_000.0
	MaxScore          = 100
	// RadiusMeters is where the linear falloff reaches zero.
	RadiusMeters = 1000.0
)

type Result struct {
	Meters float64
	Score  int
}

// Distance is the haversine great-circle distance between a and b in meters.
func Distance(a, b types.Coord) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }

	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	lat1 := toRad(a.Lat)
	lat2 := toRad(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// Rounding can push h past 1 for antipodal points.
	h = math.Min(1, math.Max(0, h))
	c := 2 * math.Asin(math.Sqrt(h))
	return EarthRadiusMeters * c
}

// Score returns 0 points and a NaN distance when correct is nil.
func Score(correct *types.Coord, guess types.Coord) Result {
	if correct == nil {
		return Result{Meters: math.NaN(), Score: 0}
	}
	meters := Distance(*correct, guess)
	if math.IsNaN(meters) || math.IsInf(meters, 0) || meters >= RadiusMeters {
		return Result{Meters: meters, Score: 0}
	}
	raw := math.Max(0, MaxScore*(1-meters/RadiusMeters))
	return Result{Meters: meters, Score: int(math.Round(raw))}
}

type PracticeResult struct {
	Result
	Perfect bool
	Message string
}

// Practice scores a solo-practice attempt. A nil guess or a question
// without a stored coordinate scores zero with an explanation.
func Practice(correct *types.Coord, guess *types.Coord) PracticeResult {
	if guess == nil {
		return PracticeResult{Result: Result{Meters: math.NaN()}, Message: "place a marker on the map first"}
	}
	if correct == nil {
		return PracticeResult{Result: Result{Meters: math.NaN()}, Message: "this question has no answer coordinate"}
	}
	r := Score(correct, *guess)
	out := PracticeResult{Result: r, Perfect: r.Score == MaxScore}
	if out.Perfect {
		out.Message = "correct!"
	} else {
		out.Message = "missed the spot"
	}
	return out
}

func FormatMeters(m float64) string {
	if math.IsNaN(m) || math.IsInf(m, 0) {
		return "-"
	}
	if m >= 1000 {
		return fmt.Sprintf("%.2f km", m/1000)
	}
	return fmt.Sprintf("%d m", int(math.Round(m)))
}
