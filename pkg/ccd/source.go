package ccd

import(
	"fmt"
	"math"

	"github.com/abworrall/ccdtrail/pkg/wcs"
)

// Source flag bits; same values as SEP / SExtractor.
const(
	FlagMerged            = 0x01 // Split off from a blended object
	FlagTruncated         = 0x02 // Touches the edge of the frame
	FlagSingular          = 0x08 // Second moments were singular, and got regularised
	FlagApertureTruncated = 0x10 // An aperture ran off the frame
	FlagApertureMasked    = 0x20 // An aperture covered masked pixels
	FlagNonPositive       = 0x80 // Aperture flux was not positive
)

// A Stat is an optional derived statistic; if it couldn't be computed,
// Reason says why.
type Stat struct {
	Value     float64
	Available bool
	Reason    string `yaml:",omitempty"`
}

func Computed(v float64) Stat          { return Stat{Value: v, Available: true} }
func Unavailable(reason string) Stat  { return Stat{Value: math.NaN(), Reason: reason} }

func (s Stat)String() string {
	if !s.Available { return "n/a(" + s.Reason + ")" }
	return fmt.Sprintf("%.3f", s.Value)
}

// A Source is one detected object. X and Y are 0-based array coords.
type Source struct {
	X, Y          float64
	X2, Y2, XY    float64  // Second moments
	A, B, Theta   float64  // Ellipse semi-axes (pixels), and angle (radians, from +x)
	CXX, CYY, CXY float64  // Ellipse coefficients
	Flux          float64
	Peak          float64
	NPix          int
	XMin, XMax    int      // Bounding box, inclusive
	YMin, YMax    int
	Flag          int

	Ellipticity   Stat
	FWHM          Stat
	KronRadius    Stat
	FluxRadius    Stat

	RA, Dec       float64  // Degrees; only valid if HasSky
	HasSky        bool
}

func (s Source)String() string {
	str := fmt.Sprintf("(%8.2f,%8.2f) flux %10.1f, a/b %.2f/%.2f th %5.1f, bbox [%d-%d,%d-%d], flag 0x%02x",
		s.X, s.Y, s.Flux, s.A, s.B, s.Theta*180/math.Pi, s.XMin, s.XMax, s.YMin, s.YMax, s.Flag)
	if s.HasSky {
		str += fmt.Sprintf(", sky (%.6f,%.6f)", s.RA, s.Dec)
	}
	return str
}

// Diagonal is the length of the bounding box diagonal, in pixels.
func (s Source)Diagonal() float64 {
	return math.Hypot(float64(s.XMax-s.XMin), float64(s.YMax-s.YMin))
}

// HasNaN looks at every numeric field; stats that are unavailable
// don't count, since they are NaN on purpose.
func (s Source)HasNaN() bool {
	for _, v := range []float64{s.X, s.Y, s.X2, s.Y2, s.XY, s.A, s.B, s.Theta, s.CXX, s.CYY, s.CXY, s.Flux, s.Peak} {
		if math.IsNaN(v) { return true }
	}
	for _, st := range []Stat{s.Ellipticity, s.FWHM, s.KronRadius, s.FluxRadius} {
		if st.Available && math.IsNaN(st.Value) { return true }
	}
	if s.HasSky && (math.IsNaN(s.RA) || math.IsNaN(s.Dec)) {
		return true
	}
	return false
}

type SourceTable struct {
	Name    string
	Sources []Source
}

func (t SourceTable)Len() int { return len(t.Sources) }

func (t SourceTable)String() string {
	str := fmt.Sprintf("%s: %d sources\n", t.Name, len(t.Sources))
	for i, s := range t.Sources {
		str += fmt.Sprintf("  [%04d] %s\n", i, s)
	}
	return str
}

// Filter returns a new table holding the sources that `keep` likes,
// in the same order.
func (t SourceTable)Filter(keep func(Source) bool) SourceTable {
	out := SourceTable{Name: t.Name, Sources: []Source{}}
	for _, s := range t.Sources {
		if keep(s) {
			out.Sources = append(out.Sources, s)
		}
	}
	return out
}

// PruneNaN drops every row with a NaN anywhere in it.
func PruneNaN(t SourceTable) SourceTable {
	return t.Filter(func(s Source) bool { return !s.HasNaN() })
}

// AugmentSky fills in RA/Dec for every source, via the mapper. Source
// coords are 0-based, the mapper wants FITS 1-based pixels.
func AugmentSky(t SourceTable, m wcs.Mapper) (SourceTable, error) {
	out := SourceTable{Name: t.Name, Sources: make([]Source, len(t.Sources))}
	for i, s := range t.Sources {
		p, err := m.PixelToSky(s.X+1, s.Y+1)
		if err != nil {
			return t, fmt.Errorf("%s source %d: %w", t.Name, i, err)
		}
		s.RA, s.Dec, s.HasSky = p.RA, p.Dec, true
		out.Sources[i] = s
	}
	return out, nil
}
