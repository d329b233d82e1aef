package match

import(
	"errors"
	"fmt"
	"log"
	"math/rand"

	"github.com/abworrall/ccdtrail/pkg/emath"
	"github.com/abworrall/ccdtrail/pkg/wcs"
)

const DefaultNumSamples = 1000

// InBounds is true for points in [0,w] x [0,h]; both edges are inclusive.
func InBounds(x, y float64, w, h int) bool {
	return !(x < 0 || y < 0 || x > float64(w) || y > float64(h))
}

// A Frame is what SampleGrid needs to know about each side.
type Frame struct {
	Mapper wcs.Mapper
	W, H   int
}

// SampleGrid scatters `n` random points over frame 1, maps each of them
// into frame 2 via the sky, and keeps the ones that land inside frame
// 2. Every stage of both mappings is kept in the result.
func SampleGrid(f1, f2 Frame, n int, rng *rand.Rand) ([]Match, error) {
	if n <= 0 { n = DefaultNumSamples }
	if rng == nil { rng = rand.New(rand.NewSource(1)) }

	matches := []Match{}
	nOffSky := 0
	for i:=0; i<n; i++ {
		x, y := rng.Float64()*float64(f1.W), rng.Float64()*float64(f1.H)

		p1, err := f1.Mapper.PixelToSky(x, y)
		if err != nil {
			return nil, fmt.Errorf("sample %d (%.1f,%.1f) in frame 1: %w", i, x, y, err)
		}

		p2, err := f2.Mapper.SkyToPixel(p1.RA, p1.Dec)
		if err != nil {
			var pe *wcs.ProjectionError
			if errors.As(err, &pe) {
				// On the far side of frame 2's tangent plane; can't overlap
				nOffSky++
				continue
			}
			return nil, fmt.Errorf("sample %d (%.6f,%.6f) into frame 2: %w", i, p1.RA, p1.Dec, err)
		}

		if !InBounds(p2.PixX, p2.PixY, f2.W, f2.H) {
			continue
		}

		matches = append(matches, Match{Index1: i, Index2: i, P1: p1, P2: p2})
	}

	log.Printf("match: %d of %d grid samples land in frame 2 (%d unprojectable)\n", len(matches), n, nOffSky)
	return matches, nil
}

// Offsets gives the mean pixel shift from frame 1 to frame 2.
func Offsets(matches []Match) (dx, dy float64) {
	if len(matches) == 0 { return 0, 0 }
	for _, m := range matches {
		dx += m.P2.PixX - m.P1.PixX
		dy += m.P2.PixY - m.P1.PixY
	}
	return dx/float64(len(matches)), dy/float64(len(matches))
}

// MaxRoundTripError is how far (arcsec) the two sky positions of any
// match are apart; grid matches should be ~0.
func MaxRoundTripError(matches []Match) float64 {
	worst := 0.0
	for _, m := range matches {
		if d := emath.AngularSeparation(m.P1.RA, m.P1.Dec, m.P2.RA, m.P2.Dec) * emath.ArcsecPerDeg; d > worst {
			worst = d
		}
	}
	return worst
}
