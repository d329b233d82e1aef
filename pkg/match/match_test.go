package match

import(
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abworrall/ccdtrail/pkg/ccd"
	"github.com/abworrall/ccdtrail/pkg/emath"
	"github.com/abworrall/ccdtrail/pkg/wcs"
)

const scaleArcsec = 1.0

func tanMapper(t *testing.T, crpix1, crpix2 float64) wcs.Mapper {
	w, err := wcs.Parse(wcs.Header{
		"CTYPE1": "RA---TAN", "CTYPE2": "DEC--TAN",
		"CRPIX1": crpix1, "CRPIX2": crpix2,
		"CRVAL1": 210.0, "CRVAL2": -15.0,
		"CD1_1": -scaleArcsec/3600, "CD1_2": 0.0,
		"CD2_1": 0.0, "CD2_2": scaleArcsec/3600,
	})
	require.NoError(t, err)
	return wcs.Mapper{Astrom: w}
}

func TestInBounds(t *testing.T) {
	assert.True(t, InBounds(0, 0, 100, 50))
	assert.True(t, InBounds(100, 50, 100, 50))
	assert.True(t, InBounds(42.5, 7, 100, 50))
	assert.False(t, InBounds(-0.001, 10, 100, 50))
	assert.False(t, InBounds(10, -0.001, 100, 50))
	assert.False(t, InBounds(100.001, 10, 100, 50))
	assert.False(t, InBounds(10, 50.001, 100, 50))
}

func TestSampleGridSameFrame(t *testing.T) {
	m := tanMapper(t, 50, 50)
	f := Frame{Mapper: m, W: 100, H: 100}

	matches, err := SampleGrid(f, f, 200, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, 200, len(matches))

	for _, mt := range matches {
		assert.InDelta(t, mt.P1.PixX, mt.P2.PixX, 1e-6)
		assert.InDelta(t, mt.P1.PixY, mt.P2.PixY, 1e-6)
		assert.Equal(t, mt.P1.PixX, mt.P1.DetX, "no chip, so detector == pixel")
		assert.InDelta(t, mt.P1.RA, mt.P2.RA, 1e-12)
	}
	assert.Less(t, MaxRoundTripError(matches), 1e-6)
}

func TestSampleGridOverlap(t *testing.T) {
	// Frame 2's reference pixel is 50px further along x, so frame 1's
	// x=0..50 lands on frame 2's x=50..100
	f1 := Frame{Mapper: tanMapper(t, 50, 50), W: 100, H: 100}
	f2 := Frame{Mapper: tanMapper(t, 100, 50), W: 100, H: 100}

	matches, err := SampleGrid(f1, f2, 1000, rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	assert.True(t, len(matches) > 400 && len(matches) < 600, "got %d", len(matches))

	for _, mt := range matches {
		assert.LessOrEqual(t, mt.P1.PixX, 50.0+1e-6)
		assert.True(t, InBounds(mt.P2.PixX, mt.P2.PixY, 100, 100))
	}
	dx, dy := Offsets(matches)
	assert.InDelta(t, 50.0, dx, 1e-3)
	assert.InDelta(t, 0.0, dy, 1e-3)

	al, err := FitAffine("overlap", matches)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, al.Xform[0], 1e-4)
	assert.InDelta(t, 50.0, al.Xform[2], 1e-3)
	assert.InDelta(t, 1.0, al.Xform[4], 1e-4)
	assert.Less(t, al.RMS, 1e-3)
}

func TestSampleGridNeedsWCS(t *testing.T) {
	f1 := Frame{Mapper: wcs.Mapper{}, W: 100, H: 100}
	_, err := SampleGrid(f1, f1, 10, nil)
	var ce *wcs.ConfigurationError
	assert.ErrorAs(t, err, &ce)
}

func skyTable(name string, coords ...[2]float64) ccd.SourceTable {
	st := ccd.SourceTable{Name: name}
	for _, c := range coords {
		st.Sources = append(st.Sources, ccd.Source{RA: c[0], Dec: c[1], HasSky: true})
	}
	return st
}

func TestNearestNeighbours(t *testing.T) {
	as := 1.0 / 3600
	t1 := skyTable("t1", [2]float64{10, 20}, [2]float64{10.1, 20}, [2]float64{11, 21}, [2]float64{359.99999, 0})
	t2 := skyTable("t2",
		[2]float64{10.1 + as, 20},        // 0: near t1[1]
		[2]float64{0.00001, 0},           // 1: near t1[3], across RA=0
		[2]float64{10, 20 + 0.5*as},      // 2: near t1[0]
		[2]float64{50, 50})               // 3: nowhere near

	matches, err := NearestNeighbours(t1, t2, Options{})
	require.NoError(t, err)
	require.Equal(t, 4, len(matches), "no limit, everything matches")

	want := []int{2, 0, 0, 1}
	for i, m := range matches {
		assert.Equal(t, i, m.Index1)
		assert.Equal(t, want[i], m.Index2, "t1[%d]", i)
	}
	assert.InDelta(t, 0.5, matches[0].SepArcsec, 1e-3)
	assert.InDelta(t, math.Cos(20*emath.Deg2Rad), matches[1].SepArcsec, 1e-3)
	assert.InDelta(t, 0.072, matches[3].SepArcsec, 1e-3)
	assert.Greater(t, matches[2].SepArcsec, 3000.0)

	matches, err = NearestNeighbours(t1, t2, Options{MaxSeparationArcsec: 2})
	require.NoError(t, err)
	require.Equal(t, 3, len(matches))
	for _, m := range matches {
		assert.NotEqual(t, 2, m.Index1)
		assert.LessOrEqual(t, m.SepArcsec, 2.0)
	}

	matches, err = NearestNeighbours(t1, ccd.SourceTable{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, len(matches))

	t1.Sources[0].HasSky = false
	_, err = NearestNeighbours(t1, t2, Options{})
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	matches := []Match{}
	for i:=1; i<=100; i++ {
		matches = append(matches, Match{SepArcsec: float64(i) / 10})
	}
	s := Summarize(matches)
	assert.Equal(t, int64(100), s.N)
	assert.InDelta(t, 5.05, s.MeanArcsec, 0.01)
	assert.InDelta(t, 5.0, s.P50, 0.01)
	assert.InDelta(t, 9.0, s.P90, 0.01)
	assert.InDelta(t, 10.0, s.MaxArcsec, 0.01)

	assert.Equal(t, int64(0), Summarize(nil).N)
}

func TestFitAffine(t *testing.T) {
	truth := emath.RotateAbout(1.5, 500, 400).Translate(12.25, -3.5)
	matches := []Match{}
	rng := rand.New(rand.NewSource(3))
	for i:=0; i<50; i++ {
		x, y := rng.Float64()*1000, rng.Float64()*800
		x2, y2 := truth.Apply(x, y)
		matches = append(matches, Match{P1: wcs.Point{PixX: x, PixY: y}, P2: wcs.Point{PixX: x2, PixY: y2}})
	}

	al, err := FitAffine("fit", matches)
	require.NoError(t, err)
	for i := range truth {
		assert.InDelta(t, truth[i], al.Xform[i], 1e-6, "element %d", i)
	}
	assert.Less(t, al.RMS, 1e-6)
	assert.Equal(t, 50, al.N)

	_, err = FitAffine("few", matches[:2])
	assert.Error(t, err)
}

func starGrid(w, h int, cx, cy float64) emath.FloatGrid {
	g := emath.NewFloatGrid(w, h)
	for y:=0; y<h; y++ {
		for x:=0; x<w; x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			g.Set(x, y, 100*math.Exp(-(dx*dx+dy*dy)/8))
		}
	}
	return g
}

func TestSubtract(t *testing.T) {
	g1 := starGrid(100, 100, 50, 50)
	g2 := starGrid(100, 100, 53, 52)
	al := Alignment{Name: "shift", Xform: emath.Identity().Translate(3, 2)}

	diff, err := Subtract(&g1, &g2, al)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, diff.Get(50, 50), 1e-9)
	assert.InDelta(t, 0.0, diff.Get(96, 97), 1e-9)
	assert.True(t, math.IsNaN(diff.Get(97, 50)), "off the edge of frame 2")
	assert.True(t, math.IsNaN(diff.Get(50, 98)))

	metric, frac := DiffMetric(&g1, &g2, al)
	assert.InDelta(t, 0.0, metric, 1e-9)
	assert.InDelta(t, 97.0*98.0/10000.0, frac, 1e-9)

	worse, _ := DiffMetric(&g1, &g2, Alignment{Xform: emath.Identity()})
	assert.Greater(t, worse, 0.1)

	small := emath.NewFloatGrid(10, 10)
	metric, frac = DiffMetric(&g1, &small, Alignment{Xform: emath.Identity().Translate(500, 500)})
	assert.Equal(t, 0.0, frac)
	assert.Equal(t, math.MaxFloat64, metric)
}

func TestRefine(t *testing.T) {
	g1 := starGrid(80, 80, 40, 40)
	g2 := starGrid(80, 80, 43, 42)
	start := Alignment{Name: "rough", Xform: emath.Identity().Translate(3.5, 1.75)}

	al := Refine(&g1, &g2, start, 1.0, 0.25, 4)
	assert.InDelta(t, 3.0, al.Xform[2], 1e-9)
	assert.InDelta(t, 2.0, al.Xform[5], 1e-9)
	assert.InDelta(t, 0.0, al.ErrorMetric, 1e-9)
	assert.Equal(t, "rough", al.Name)
}

func TestRefineTiesAreDeterministic(t *testing.T) {
	// Flat frames score every nudge the same
	g1, g2 := emath.NewFloatGrid(30, 30), emath.NewFloatGrid(30, 30)
	start := Alignment{Name: "flat", Xform: emath.Identity().Translate(2, 1)}

	for i:=0; i<10; i++ {
		al := Refine(&g1, &g2, start, 0.5, 0.25, 8)
		assert.Equal(t, 1.5, al.Xform[2], "run %d", i)
		assert.Equal(t, 0.5, al.Xform[5], "run %d", i)
		assert.Equal(t, 0.0, al.ErrorMetric)
	}
}
