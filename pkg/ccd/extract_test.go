package ccd

import(
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abworrall/ccdtrail/pkg/emath"
)

type star struct{ x, y, amp, sigma float64 }

func starField(w, h int, stars ...star) emath.FloatGrid {
	g := emath.NewFloatGrid(w, h)
	for y:=0; y<h; y++ {
		for x:=0; x<w; x++ {
			v := 0.0
			for _, s := range stars {
				dx, dy := float64(x)-s.x, float64(y)-s.y
				v += s.amp * math.Exp(-(dx*dx + dy*dy) / (2*s.sigma*s.sigma))
			}
			g.Set(x, y, v)
		}
	}
	return g
}

func defaultExtractConfig() ExtractConfig { return NewConfig().Extract }

func TestExtractTwoStars(t *testing.T) {
	g := starField(100, 100, star{30, 40, 100, 2}, star{70, 60, 100, 2})
	ex, err := Extract("two", &g, nil, nil, 1.0, defaultExtractConfig())
	require.NoError(t, err)
	require.Equal(t, 2, ex.Sources.Len())

	s1, s2 := ex.Sources.Sources[0], ex.Sources.Sources[1]
	assert.InDelta(t, 30.0, s1.X, 1e-6)
	assert.InDelta(t, 40.0, s1.Y, 1e-6)
	assert.InDelta(t, 70.0, s2.X, 1e-6)
	assert.InDelta(t, 60.0, s2.Y, 1e-6)

	for _, s := range ex.Sources.Sources {
		assert.True(t, s.A > 1.5 && s.A < 2.1, "a=%f", s.A)
		assert.InDelta(t, s.A, s.B, 1e-3)
		assert.Equal(t, 0, s.Flag)
		assert.InDelta(t, 100.0, s.Peak, 1e-9)
		assert.True(t, s.Flux > 2000 && s.Flux < 2600, "flux=%f", s.Flux)
		assert.True(t, s.XMin < int(s.X) && s.XMax > int(s.X))
	}
	assert.Nil(t, ex.Segmentation)
}

func TestExtractElongated(t *testing.T) {
	// A streak along the x axis, made of a row of overlapping stars
	stars := []star{}
	for x:=20.0; x<=60; x += 1 {
		stars = append(stars, star{x, 50, 20, 1.5})
	}
	g := starField(100, 100, stars...)
	cfg := defaultExtractConfig()
	cfg.DeblendNThresh = 1

	ex, err := Extract("streak", &g, nil, nil, 1.0, cfg)
	require.NoError(t, err)
	require.Equal(t, 1, ex.Sources.Len())

	s := ex.Sources.Sources[0]
	assert.InDelta(t, 40.0, s.X, 1e-6)
	assert.InDelta(t, 50.0, s.Y, 1e-6)
	assert.Greater(t, s.A, 5*s.B)
	assert.InDelta(t, 0.0, s.Theta, 1e-6)
	assert.Greater(t, s.Diagonal(), 40.0)
}

func TestExtractDeblend(t *testing.T) {
	g := starField(80, 100, star{30, 50, 100, 2}, star{40, 50, 100, 2})

	ex, err := Extract("blend", &g, nil, nil, 1.0, defaultExtractConfig())
	require.NoError(t, err)
	require.Equal(t, 2, ex.Sources.Len())
	assert.InDelta(t, 30.0, ex.Sources.Sources[0].X, 0.5)
	assert.InDelta(t, 40.0, ex.Sources.Sources[1].X, 0.5)
	for _, s := range ex.Sources.Sources {
		assert.InDelta(t, 50.0, s.Y, 0.5)
		assert.Equal(t, FlagMerged, s.Flag & FlagMerged)
	}

	// No branch can hold all the flux, so no split
	cfg := defaultExtractConfig()
	cfg.DeblendContrast = 1.0
	ex, err = Extract("blend", &g, nil, nil, 1.0, cfg)
	require.NoError(t, err)
	require.Equal(t, 1, ex.Sources.Len())
	assert.InDelta(t, 35.0, ex.Sources.Sources[0].X, 1e-6)
	assert.Equal(t, 0, ex.Sources.Sources[0].Flag & FlagMerged)
}

func TestExtractMinAreaAndFilter(t *testing.T) {
	g := emath.NewFloatGrid(100, 100)
	g.Set(50, 50, 100)

	cfg := defaultExtractConfig()
	cfg.FilterKernel = false
	ex, err := Extract("hot", &g, nil, nil, 1.0, cfg)
	require.NoError(t, err)
	assert.Equal(t, 0, ex.Sources.Len(), "a single pixel is smaller than minarea")

	// Smoothing spreads it over 3x3 pixels, all above threshold
	cfg.FilterKernel = true
	ex, err = Extract("hot", &g, nil, nil, 1.0, cfg)
	require.NoError(t, err)
	require.Equal(t, 1, ex.Sources.Len())
	s := ex.Sources.Sources[0]
	assert.Equal(t, 9, s.NPix)
	assert.InDelta(t, 50.0, s.X, 1e-9)
	assert.Equal(t, FlagSingular, s.Flag & FlagSingular)
	assert.InDelta(t, math.Sqrt(1.0/12.0), s.A, 1e-9)
}

func TestExtractSegmentation(t *testing.T) {
	g := starField(100, 100, star{30, 40, 100, 2}, star{70, 60, 100, 2})
	cfg := defaultExtractConfig()
	cfg.Segmentation = true

	ex, err := Extract("seg", &g, nil, nil, 1.0, cfg)
	require.NoError(t, err)
	require.NotNil(t, ex.Segmentation)
	assert.Equal(t, 1, ex.Segmentation.Get(30, 40))
	assert.Equal(t, 2, ex.Segmentation.Get(70, 60))
	assert.Equal(t, 0, ex.Segmentation.Get(0, 0))
	assert.Equal(t, 0, ex.Segmentation.Get(50, 50))

	n := 0
	for y:=0; y<100; y++ {
		for x:=0; x<100; x++ {
			if ex.Segmentation.Get(x, y) == 1 { n++ }
		}
	}
	assert.Equal(t, ex.Sources.Sources[0].NPix, n)

	// Dropping the first source relabels the second
	ex2 := ex.Filter(func(s Source) bool { return s.X > 50 })
	require.Equal(t, 1, ex2.Sources.Len())
	assert.Equal(t, 0, ex2.Segmentation.Get(30, 40))
	assert.Equal(t, 1, ex2.Segmentation.Get(70, 60))
}

func TestExtractThresholds(t *testing.T) {
	g := starField(100, 100, star{30, 40, 100, 2}, star{70, 60, 100, 2})

	_, err := Extract("none", &g, nil, nil, 0, defaultExtractConfig())
	assert.Error(t, err, "needs either an error grid or a global rms")

	errGrid := g.NewFromThis()
	for i := range errGrid.Values() { errGrid.Values()[i] = 1 }
	ex, err := Extract("err", &g, &errGrid, nil, 0, defaultExtractConfig())
	require.NoError(t, err)
	assert.Equal(t, 2, ex.Sources.Len())

	// Make the errors huge over the first star only
	for y:=0; y<50; y++ {
		for x:=0; x<50; x++ {
			errGrid.Set(x, y, 1000)
		}
	}
	ex, err = Extract("err", &g, &errGrid, nil, 0, defaultExtractConfig())
	require.NoError(t, err)
	require.Equal(t, 1, ex.Sources.Len())
	assert.InDelta(t, 70.0, ex.Sources.Sources[0].X, 1e-6)

	small := emath.NewFloatGrid(10, 10)
	_, err = Extract("err", &g, &small, nil, 0, defaultExtractConfig())
	assert.Error(t, err)
}

func TestExtractMasked(t *testing.T) {
	g := starField(100, 100, star{30, 40, 100, 2}, star{70, 60, 100, 2})
	mask := NewMask(100, 100)
	for y:=20; y<60; y++ {
		for x:=10; x<50; x++ {
			mask.Set(x, y, true)
		}
	}
	g.Set(5, 5, math.NaN())

	ex, err := Extract("masked", &g, nil, mask, 1.0, defaultExtractConfig())
	require.NoError(t, err)
	require.Equal(t, 1, ex.Sources.Len())
	assert.InDelta(t, 70.0, ex.Sources.Sources[0].X, 1e-6)
}

func TestExtractTruncated(t *testing.T) {
	g := starField(60, 60, star{1, 30, 100, 2})
	ex, err := Extract("edge", &g, nil, nil, 1.0, defaultExtractConfig())
	require.NoError(t, err)
	require.Equal(t, 1, ex.Sources.Len())
	assert.Equal(t, FlagTruncated, ex.Sources.Sources[0].Flag & FlagTruncated)
	assert.Equal(t, 0, ex.Sources.Sources[0].XMin)
}

func TestExtractShapeExtras(t *testing.T) {
	g := starField(100, 100, star{50, 50, 100, 2})
	cfg := defaultExtractConfig()
	cfg.ShapeExtras = true

	ex, err := Extract("shape", &g, nil, nil, 1.0, cfg)
	require.NoError(t, err)
	require.Equal(t, 1, ex.Sources.Len())
	s := ex.Sources.Sources[0]

	require.True(t, s.Ellipticity.Available)
	assert.InDelta(t, 0.0, s.Ellipticity.Value, 0.01)

	// The true values for a sigma=2 gaussian
	require.True(t, s.FWHM.Available)
	assert.InDelta(t, 2*math.Sqrt(2*math.Ln2)*2, s.FWHM.Value, 0.4)
	require.True(t, s.FluxRadius.Available, s.FluxRadius.Reason)
	assert.InDelta(t, 2*math.Sqrt(2*math.Ln2), s.FluxRadius.Value, 0.2)
	require.True(t, s.KronRadius.Available, s.KronRadius.Reason)
	assert.InDelta(t, math.Sqrt(math.Pi/2), s.KronRadius.Value, 0.2)

	assert.False(t, s.HasNaN())
}

func TestShapeFailures(t *testing.T) {
	g := emath.NewFloatGrid(20, 20)
	s := Source{X: 10, Y: 10, A: 1, B: 1, CXX: 1, CYY: 1}

	st, flag := KronRadius(&g, nil, s, KronApertureScale)
	assert.False(t, st.Available)
	assert.NotEmpty(t, st.Reason)
	assert.Equal(t, FlagNonPositive, flag & FlagNonPositive)
	assert.True(t, math.IsNaN(st.Value))

	st, flag = FluxRadius(&g, nil, s, 0.5, 6, 5)
	assert.False(t, st.Available)
	assert.Equal(t, FlagNonPositive, flag & FlagNonPositive)

	st, _ = KronRadius(&g, nil, Source{X: 10, Y: 10}, KronApertureScale)
	assert.False(t, st.Available, "zero sized ellipse")

	// Near the edge, the aperture runs off the frame
	g.Set(1, 1, 10)
	st, flag = FluxRadius(&g, nil, Source{X: 1, Y: 1, A: 1}, 0.5, 6, 5)
	assert.True(t, st.Available)
	assert.Equal(t, FlagApertureTruncated, flag & FlagApertureTruncated)

	// An unavailable stat doesn't make the row look like it has NaNs
	s.KronRadius = Unavailable("test")
	assert.False(t, s.HasNaN())
}
