package geo

import (
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

// PathLength returns the great-circle length of a path in meters.
func PathLength(path orb.LineString) float64 {
	if len(path) < 2 {
		return 0
	}
	return orbgeo.LengthHaversine(path)
}

// VertexIndex maps progress in [0,1] to a vertex of a path with n points.
// Progress outside the range is clamped.
func VertexIndex(n int, progress float64) int {
	if n <= 0 {
		return -1
	}
	if math.IsNaN(progress) || progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	return int(math.Floor(progress * float64(n-1)))
}

// Vertex returns the path vertex for progress and the heading toward the next vertex.
// ok is false for an empty path.
func Vertex(path orb.LineString, progress float64) (p Point, heading float64, ok bool) {
	i := VertexIndex(len(path), progress)
	if i < 0 {
		return Point{}, 0, false
	}
	p = FromOrb(path[i])
	switch {
	case i+1 < len(path):
		heading = Bearing(p, FromOrb(path[i+1]))
	case i > 0:
		heading = Bearing(FromOrb(path[i-1]), p)
	}
	return p, heading, true
}
