package ccd

import(
	"errors"
	"fmt"
	"log"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/abworrall/ccdtrail/pkg/emath"
)

// Background is a smooth model of the sky level under a frame, built
// from sigma-clipped statistics over a grid of boxes.
type Background struct {
	Level      emath.FloatGrid  // Full resolution background level
	RMS        emath.FloatGrid  // Full resolution background noise
	GlobalBack float64
	GlobalRMS  float64

	nx, ny     int              // Size of the box grid
}

func (b Background)String() string {
	return fmt.Sprintf("bkg[%dx%d boxes, global %.3f, rms %.3f]", b.nx, b.ny, b.GlobalBack, b.GlobalRMS)
}

// Subtract returns a new grid, g - background.
func (b Background)Subtract(g *emath.FloatGrid) (emath.FloatGrid, error) {
	return g.Sub(&b.Level)
}

const(
	clipSigma     = 3.0
	clipMaxIter   = 10
	skewThreshold = 0.3
)

// Implausible pixel values, as seen when 32 bit data is decoded with
// the wrong byte order. Exact zeros are fine.
func implausible(v float64) bool {
	if !emath.IsFinite(v) { return true }
	a := math.Abs(v)
	return a > 1e15 || (a > 0 && a < 1e-15)
}

func checkByteOrder(g *emath.FloatGrid, mask *Mask) error {
	n, bad := 0, 0
	for y:=0; y<g.Dy(); y++ {
		for x:=0; x<g.Dx(); x++ {
			if mask.IsBad(x,y) { continue }
			n++
			if implausible(g.Get(x,y)) { bad++ }
		}
	}
	if n > 0 && bad*4 > n {
		return fmt.Errorf("%d of %d pixels implausible: %w", bad, n, ErrByteOrder)
	}
	return nil
}

// clippedStats does iterative sigma clipping, and returns the mode
// estimate and clipped stddev. ok is false if there was nothing to
// work with.
func clippedStats(vals []float64) (mode, sigma float64, ok bool) {
	if len(vals) == 0 {
		return 0, 0, false
	}
	sort.Float64s(vals)

	lo, hi := 0, len(vals)
	mean, std := stat.MeanStdDev(vals[lo:hi], nil)
	for i:=0; i<clipMaxIter; i++ {
		if hi-lo < 2 || std == 0 { break }
		nlo := sort.SearchFloat64s(vals, mean - clipSigma*std)
		nhi := sort.Search(len(vals), func(j int) bool { return vals[j] > mean + clipSigma*std })
		if nlo == lo && nhi == hi { break }
		if nhi <= nlo { break }
		lo, hi = nlo, nhi
		mean, std = stat.MeanStdDev(vals[lo:hi], nil)
	}

	kept := vals[lo:hi]
	if len(kept) == 1 {
		return kept[0], 0, true
	}
	med := stat.Quantile(0.5, stat.Empirical, kept, nil)

	// SExtractor's mode estimate, unless the distribution is too skewed
	if std > 0 && math.Abs(mean-med)/std < skewThreshold {
		return 2.5*med - 1.5*mean, std, true
	}
	return med, std, true
}

func median(vals []float64) float64 {
	s := make([]float64, len(vals))
	copy(s, vals)
	sort.Float64s(s)
	return stat.Quantile(0.5, stat.Empirical, s, nil)
}

// medianFilter smooths a (small) box grid with a fw x fh window,
// clipped at the edges.
func medianFilter(g *emath.FloatGrid, fw, fh int) emath.FloatGrid {
	out := g.NewFromThis()
	if fw <= 1 && fh <= 1 {
		copy(out.Values(), g.Values())
		return out
	}

	window := make([]float64, 0, fw*fh)
	for y:=0; y<g.Dy(); y++ {
		for x:=0; x<g.Dx(); x++ {
			window = window[:0]
			for j:=y-fh/2; j<=y+(fh-1)/2; j++ {
				for i:=x-fw/2; i<=x+(fw-1)/2; i++ {
					if g.In(i,j) { window = append(window, g.Get(i,j)) }
				}
			}
			out.Set(x, y, median(window))
		}
	}
	return out
}

// boxCentre is the pixel coord of the centre of box i, where boxes are
// `size` wide over an axis of `extent` pixels (the last box may be short).
func boxCentre(i, size, extent int) float64 {
	lo, hi := i*size, (i+1)*size
	if hi > extent { hi = extent }
	return float64(lo+hi)/2.0 - 0.5
}

// boxCoord maps pixel coord p onto fractional box-grid coords.
func boxCoord(p, size, extent, n int) float64 {
	if n == 1 { return 0 }
	first, last := boxCentre(0, size, extent), boxCentre(n-1, size, extent)
	switch {
	case float64(p) <= first: return 0
	case float64(p) >= last:  return float64(n-1)
	}
	i := int((float64(p) - first) / float64(size))
	if i >= n-1 { i = n-2 }
	c0, c1 := boxCentre(i, size, extent), boxCentre(i+1, size, extent)
	return float64(i) + (float64(p)-c0)/(c1-c0)
}

func expandBoxes(boxes *emath.FloatGrid, w, h int, cfg BackgroundConfig) emath.FloatGrid {
	out := emath.NewFloatGrid(w, h)
	xs := make([]float64, w)
	for x := range xs {
		xs[x] = boxCoord(x, cfg.BoxWidth, w, boxes.Dx())
	}
	for y:=0; y<h; y++ {
		by := boxCoord(y, cfg.BoxHeight, h, boxes.Dy())
		for x:=0; x<w; x++ {
			v, _ := boxes.Bilinear(xs[x], by)
			out.Set(x, y, v)
		}
	}
	return out
}

// NewBackground models the background of `g`, ignoring pixels flagged
// in `mask` (which may be nil).
func NewBackground(g *emath.FloatGrid, mask *Mask, cfg BackgroundConfig) (Background, error) {
	if g.Len() == 0 {
		return Background{}, fmt.Errorf("background: empty frame")
	}
	if !mask.Fits(g) {
		return Background{}, fmt.Errorf("background: mask %dx%d doesn't match frame %dx%d", mask.Dx(), mask.Dy(), g.Dx(), g.Dy())
	}
	if cfg.BoxWidth < 1 || cfg.BoxHeight < 1 {
		return Background{}, fmt.Errorf("background: box %dx%d too small", cfg.BoxWidth, cfg.BoxHeight)
	}
	if err := checkByteOrder(g, mask); err != nil {
		return Background{}, err
	}

	w, h := g.Dx(), g.Dy()
	nx, ny := (w+cfg.BoxWidth-1)/cfg.BoxWidth, (h+cfg.BoxHeight-1)/cfg.BoxHeight
	levels, rmses := emath.NewFloatGrid(nx, ny), emath.NewFloatGrid(nx, ny)
	known := make([]bool, nx*ny)
	knownLevels, knownRMS := []float64{}, []float64{}

	vals := make([]float64, 0, cfg.BoxWidth*cfg.BoxHeight)
	for by:=0; by<ny; by++ {
		for bx:=0; bx<nx; bx++ {
			vals = vals[:0]
			for y:=by*cfg.BoxHeight; y<(by+1)*cfg.BoxHeight && y<h; y++ {
				for x:=bx*cfg.BoxWidth; x<(bx+1)*cfg.BoxWidth && x<w; x++ {
					if v := g.Get(x,y); !mask.IsBad(x,y) && emath.IsFinite(v) {
						vals = append(vals, v)
					}
				}
			}
			if mode, sigma, ok := clippedStats(vals); ok {
				levels.Set(bx, by, mode)
				rmses.Set(bx, by, sigma)
				known[by*nx+bx] = true
				knownLevels = append(knownLevels, mode)
				knownRMS = append(knownRMS, sigma)
			}
		}
	}

	if len(knownLevels) == 0 {
		return Background{}, fmt.Errorf("background: no usable pixels in %d boxes", nx*ny)
	}

	// Fill in boxes that were entirely masked
	fillLevel, fillRMS := median(knownLevels), median(knownRMS)
	for i, ok := range known {
		if !ok {
			levels.Set(i%nx, i/nx, fillLevel)
			rmses.Set(i%nx, i/nx, fillRMS)
		}
	}

	levels = medianFilter(&levels, cfg.FilterWidth, cfg.FilterHeight)
	rmses = medianFilter(&rmses, cfg.FilterWidth, cfg.FilterHeight)

	return Background{
		Level:      expandBoxes(&levels, w, h, cfg),
		RMS:        expandBoxes(&rmses, w, h, cfg),
		GlobalBack: median(levels.Values()),
		GlobalRMS:  median(rmses.Values()),
		nx:         nx,
		ny:         ny,
	}, nil
}

// SubtractBackground models and subtracts the background. If the data
// looks byte swapped, it swaps it and tries one more time; the frame's
// pixels are replaced by the swapped ones in that case.
func SubtractBackground(f *Frame, cfg BackgroundConfig) (emath.FloatGrid, Background, error) {
	bkg, err := NewBackground(&f.FloatGrid, f.Mask, cfg)
	if errors.Is(err, ErrByteOrder) {
		log.Printf("%s: %v, swapping byte order and retrying\n", f.Filename(), err)
		if swapErr := f.SwapByteOrder(); swapErr != nil {
			return emath.FloatGrid{}, Background{}, fmt.Errorf("%w; %v", err, swapErr)
		}
		bkg, err = NewBackground(&f.FloatGrid, f.Mask, cfg)
	}
	if err != nil {
		return emath.FloatGrid{}, Background{}, fmt.Errorf("%s: %w", f.Filename(), err)
	}

	sub, err := bkg.Subtract(&f.FloatGrid)
	return sub, bkg, err
}
