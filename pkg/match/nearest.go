package match

import(
	"fmt"
	"log"
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/abworrall/ccdtrail/pkg/ccd"
	"github.com/abworrall/ccdtrail/pkg/emath"
	"github.com/abworrall/ccdtrail/pkg/wcs"
)

// Sky positions go into the kd-tree as unit vectors, so the distance
// is a chord (and there is no trouble at RA=0 or the poles).
type skyVec struct {
	p   kdtree.Point
	idx int
}

func newSkyVec(ra, dec float64, idx int) skyVec {
	v := emath.SkyToVec(ra, dec)
	return skyVec{p: kdtree.Point{v[0], v[1], v[2]}, idx: idx}
}

func (v skyVec)Compare(c kdtree.Comparable, d kdtree.Dim) float64 { return v.p[d] - c.(skyVec).p[d] }
func (v skyVec)Dims() int                                         { return 3 }
func (v skyVec)Distance(c kdtree.Comparable) float64              { return v.p.Distance(c.(skyVec).p) }

type skyVecs []skyVec

func (s skyVecs)Index(i int) kdtree.Comparable          { return s[i] }
func (s skyVecs)Len() int                               { return len(s) }
func (s skyVecs)Pivot(d kdtree.Dim) int                 { return plane{Dim: d, skyVecs: s}.Pivot() }
func (s skyVecs)Slice(start, end int) kdtree.Interface  { return s[start:end] }

type plane struct {
	kdtree.Dim
	skyVecs
}

func (p plane)Less(i, j int) bool                        { return p.skyVecs[i].p[p.Dim] < p.skyVecs[j].p[p.Dim] }
func (p plane)Pivot() int                                { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p plane)Slice(start, end int) kdtree.SortSlicer    { p.skyVecs = p.skyVecs[start:end]; return p }
func (p plane)Swap(i, j int)                             { p.skyVecs[i], p.skyVecs[j] = p.skyVecs[j], p.skyVecs[i] }

// chordToArcsec turns a squared chord length between unit vectors into
// an angle.
func chordToArcsec(d2 float64) float64 {
	c := math.Sqrt(d2)
	if c > 2 { c = 2 }
	return 2 * math.Asin(c/2) * emath.Rad2Deg * emath.ArcsecPerDeg
}

func skyPoint(s ccd.Source) wcs.Point {
	return wcs.Point{PixX: s.X+1, PixY: s.Y+1, RA: s.RA, Dec: s.Dec}
}

// NearestNeighbours finds, for each source in t1, the nearest source
// in t2 on the sky. Both tables need sky coords (see ccd.AugmentSky).
// If opts.MaxSeparationArcsec is set, sources in t1 with nothing that
// close are left out.
func NearestNeighbours(t1, t2 ccd.SourceTable, opts Options) ([]Match, error) {
	if len(t2.Sources) == 0 {
		return []Match{}, nil
	}

	pts := make(skyVecs, len(t2.Sources))
	for i, s := range t2.Sources {
		if !s.HasSky {
			return nil, fmt.Errorf("%s source %d has no sky coords", t2.Name, i)
		}
		pts[i] = newSkyVec(s.RA, s.Dec, i)
	}
	tree := kdtree.New(pts, false)

	matches := []Match{}
	for i, s := range t1.Sources {
		if !s.HasSky {
			return nil, fmt.Errorf("%s source %d has no sky coords", t1.Name, i)
		}

		c, d2 := tree.Nearest(newSkyVec(s.RA, s.Dec, i))
		if c == nil {
			continue
		}
		j := c.(skyVec).idx
		sep := chordToArcsec(d2)
		if opts.MaxSeparationArcsec > 0 && sep > opts.MaxSeparationArcsec {
			continue
		}

		matches = append(matches, Match{
			Index1:    i,
			Index2:    j,
			P1:        skyPoint(s),
			P2:        skyPoint(t2.Sources[j]),
			SepArcsec: sep,
		})
	}

	log.Printf("match: %s x %s: %d of %d matched, %s\n", t1.Name, t2.Name, len(matches), len(t1.Sources),
		Summarize(matches))
	return matches, nil
}
