package ccd

import(
	"fmt"
	"math"
	"sort"

	"github.com/abworrall/ccdtrail/pkg/emath"
)

const(
	KronApertureScale = 6.0   // Kron radius is measured within this many ellipse units
	FluxRadiusFrac    = 0.5
	FluxRadiusScale   = 6.0   // ... within this many semi-major axes
	FluxRadiusSubpix  = 5
)

// addShapeExtras computes the optional statistics. Failures are
// logged and flagged, and leave the stat unavailable.
func addShapeExtras(s *Source, data *emath.FloatGrid, mask *Mask, name string) {
	if !emath.IsFinite(s.X) || !emath.IsFinite(s.Y) {
		s.Ellipticity = Unavailable("no centroid")
		s.FWHM = Unavailable("no centroid")
		s.KronRadius = Unavailable("no centroid")
		s.FluxRadius = Unavailable("no centroid")
		return
	}

	if s.A > 0 {
		s.Ellipticity = Computed(1 - s.B/s.A)
	} else {
		s.Ellipticity = Unavailable("zero semi-major axis")
	}
	s.FWHM = Computed(2 * math.Sqrt(math.Ln2 * (s.A*s.A + s.B*s.B)))

	var flag int
	s.KronRadius, flag = KronRadius(data, mask, *s, KronApertureScale)
	s.Flag |= flag
	if !s.KronRadius.Available {
		logShapeFailure(name, s, "kron radius", s.KronRadius.Reason)
	}

	s.FluxRadius, flag = FluxRadius(data, mask, *s, FluxRadiusFrac, FluxRadiusScale*s.A, FluxRadiusSubpix)
	s.Flag |= flag
	if !s.FluxRadius.Available {
		logShapeFailure(name, s, "flux radius", s.FluxRadius.Reason)
	}
}

// apertureBox is the pixel range that an aperture of radius r about
// (x,y) could touch, clipped to the grid; truncated if it had to clip.
func apertureBox(g *emath.FloatGrid, x, y, r float64) (x0, y0, x1, y1 int, truncated bool) {
	x0, y0 = int(math.Floor(x-r)), int(math.Floor(y-r))
	x1, y1 = int(math.Ceil(x+r)), int(math.Ceil(y+r))
	if x0 < 0 { x0, truncated = 0, true }
	if y0 < 0 { y0, truncated = 0, true }
	if x1 > g.Dx()-1 { x1, truncated = g.Dx()-1, true }
	if y1 > g.Dy()-1 { y1, truncated = g.Dy()-1, true }
	return
}

// KronRadius is the first moment of the light profile, in units of the
// source's ellipse, inside an elliptical aperture of `r` units.
func KronRadius(data *emath.FloatGrid, mask *Mask, s Source, r float64) (Stat, int) {
	if !(s.A > 0) || !emath.IsFinite(s.CXX) {
		return Unavailable("degenerate ellipse"), 0
	}

	flag := 0
	x0, y0, x1, y1, truncated := apertureBox(data, s.X, s.Y, r*s.A)
	if truncated { flag |= FlagApertureTruncated }

	sumR, sum := 0.0, 0.0
	for y:=y0; y<=y1; y++ {
		for x:=x0; x<=x1; x++ {
			dx, dy := float64(x)-s.X, float64(y)-s.Y
			r2 := s.CXX*dx*dx + s.CYY*dy*dy + s.CXY*dx*dy
			if r2 > r*r { continue }
			v := data.Get(x,y)
			if mask.IsBad(x,y) || !emath.IsFinite(v) {
				flag |= FlagApertureMasked
				continue
			}
			sumR += math.Sqrt(r2) * v
			sum += v
		}
	}

	if !(sum > 0) || !(sumR > 0) {
		return Unavailable(fmt.Sprintf("non-positive flux %g in aperture", sum)), flag | FlagNonPositive
	}
	return Computed(sumR / sum), flag
}

// FluxRadius is the radius of the circle, centred on the source, that
// holds `frac` of the flux within rmax; pixels are split into
// subpix x subpix samples.
func FluxRadius(data *emath.FloatGrid, mask *Mask, s Source, frac, rmax float64, subpix int) (Stat, int) {
	if !(rmax > 0) {
		return Unavailable("zero aperture"), 0
	}
	if frac <= 0 || frac > 1 {
		return Unavailable(fmt.Sprintf("fraction %g out of range", frac)), 0
	}
	if subpix < 1 { subpix = 1 }

	flag := 0
	x0, y0, x1, y1, truncated := apertureBox(data, s.X, s.Y, rmax)
	if truncated { flag |= FlagApertureTruncated }

	type sample struct{ r, v float64 }
	samples := []sample{}
	step := 1.0 / float64(subpix)
	weight := step * step
	total := 0.0

	for y:=y0; y<=y1; y++ {
		for x:=x0; x<=x1; x++ {
			v := data.Get(x,y)
			if mask.IsBad(x,y) || !emath.IsFinite(v) {
				flag |= FlagApertureMasked
				continue
			}
			for j:=0; j<subpix; j++ {
				for i:=0; i<subpix; i++ {
					sx := float64(x) - 0.5 + (float64(i)+0.5)*step
					sy := float64(y) - 0.5 + (float64(j)+0.5)*step
					r := math.Hypot(sx-s.X, sy-s.Y)
					if r > rmax { continue }
					samples = append(samples, sample{r, v * weight})
					total += v * weight
				}
			}
		}
	}

	if !(total > 0) {
		return Unavailable(fmt.Sprintf("non-positive flux %g in aperture", total)), flag | FlagNonPositive
	}

	sort.Slice(samples, func(i, j int) bool { return samples[i].r < samples[j].r })
	target := frac * total
	cum, prevR, prevCum := 0.0, 0.0, 0.0
	for _, smp := range samples {
		cum += smp.v
		if cum >= target {
			if cum == prevCum {
				return Computed(smp.r), flag
			}
			return Computed(prevR + (smp.r-prevR)*(target-prevCum)/(cum-prevCum)), flag
		}
		prevR, prevCum = smp.r, cum
	}

	// Negative pixels near the edge can keep the sum below target
	return Unavailable("cumulative flux never reached target"), flag
}
