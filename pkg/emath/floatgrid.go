package emath

import(
	"fmt"
	"image"
	"image/color"
	"math"
	"math/bits"

	"gonum.org/v1/gonum/stat"
)

// A FloatGrid is a grid of floats, with some operations. CCD frames
// live in these; (0,0) is the first pixel of the FITS data array.
type FloatGrid struct {
	stride int
	values []float64
}

func NewFloatGrid(w, h int) FloatGrid {
	return FloatGrid{
		stride: w,
		values: make([]float64, w*h),
	}
}

// NewFloatGridFromValues wraps `vals` (row major, x fastest), without
// copying it.
func NewFloatGridFromValues(w, h int, vals []float64) (FloatGrid, error) {
	if w <= 0 || h <= 0 || len(vals) != w*h {
		return FloatGrid{}, fmt.Errorf("grid %dx%d can't hold %d values", w, h, len(vals))
	}
	return FloatGrid{stride: w, values: vals}, nil
}

func (g1 *FloatGrid)NewFromThis() FloatGrid  { return NewFloatGrid(g1.Dx(), g1.Dy()) }
func (fg *FloatGrid)Set(x, y int, v float64) { fg.values[fg.stride*y + x] = v }
func (fg *FloatGrid)Get(x, y int) float64    { return fg.values[fg.stride*y + x] }
func (fg *FloatGrid)Dx() int                 { return fg.stride }
func (fg *FloatGrid)Dy() int                 {
	if fg.stride == 0 { return 0 }
	return len(fg.values) / fg.stride
}
func (fg *FloatGrid)Len() int                { return len(fg.values) }
func (fg *FloatGrid)Values() []float64       { return fg.values }
func (fg *FloatGrid)In(x, y int) bool        { return x >= 0 && y >= 0 && x < fg.Dx() && y < fg.Dy() }
func (fg *FloatGrid)Bounds() image.Rectangle { return image.Rect(0, 0, fg.Dx(), fg.Dy()) }

func (g1 *FloatGrid)Copy() *FloatGrid {
	g2 := FloatGrid{stride: g1.stride, values:make([]float64, len(g1.values))}
	copy(g2.values, g1.values)
	return &g2
}

// Sub returns a new grid, g1-g2. The grids must be the same shape.
func (g1 *FloatGrid)Sub(g2 *FloatGrid) (FloatGrid, error) {
	if g1.Dx() != g2.Dx() || g1.Dy() != g2.Dy() {
		return FloatGrid{}, fmt.Errorf("grid shape mismatch %dx%d vs %dx%d", g1.Dx(), g1.Dy(), g2.Dx(), g2.Dy())
	}
	out := g1.NewFromThis()
	for i := range g1.values {
		out.values[i] = g1.values[i] - g2.values[i]
	}
	return out, nil
}

// Bilinear samples the grid at a fractional position, where integer
// values land on pixel centres. Returns false outside the grid.
func (fg *FloatGrid)Bilinear(x, y float64) (float64, bool) {
	if x < 0 || y < 0 || x > float64(fg.Dx()-1) || y > float64(fg.Dy()-1) {
		return math.NaN(), false
	}
	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	x1, y1 := x0+1, y0+1
	if x1 >= fg.Dx() { x1 = x0 }
	if y1 >= fg.Dy() { y1 = y0 }
	fx, fy := x-float64(x0), y-float64(y0)

	top := fg.Get(x0,y0)*(1-fx) + fg.Get(x1,y0)*fx
	bot := fg.Get(x0,y1)*(1-fx) + fg.Get(x1,y1)*fx
	return top*(1-fy) + bot*fy, true
}

// GaussianBlur applies the separable [1 2 1] kernel in both axes; this
// is the same 3x3 kernel that SExtractor uses as its default detection
// filter.
func (g1 FloatGrid)GaussianBlur() FloatGrid {
	width := g1.Dx()
	height := g1.Dy()
	g2 := g1.NewFromThis()
	if width < 2 || height < 2 {
		copy(g2.values, g1.values)
		return g2
	}

	T  := g1.NewFromThis()

	//--- X blur, build up in T
	for y:=0; y<height; y++ {
		for x:=1; x<width-1; x++ {
			t := 2.0*g1.Get(x,y)
			t += g1.Get(x-1,y)
			t += g1.Get(x+1,y)
			T.Set(x, y, t/4.0)
		}
		T.Set(0, y,       (3.0*g1.Get(0,      y) + g1.Get(1,      y)) / 4.0)
		T.Set(width-1, y, (3.0*g1.Get(width-1,y) + g1.Get(width-2,y)) / 4.0)
	}

	//--- Y blur, read from T and generate output
	for x:=0; x<width; x++ {
		for y:=1; y<height-1; y++ {
			t := 2.0*T.Get(x,y)
			t += T.Get(x,y-1)
			t += T.Get(x,y+1)
			g2.Set(x, y, t/4.0)
		}
		g2.Set(x, 0,        (3.0*T.Get(x,       0) + T.Get(x,       1)) / 4.0)
		g2.Set(x, height-1, (3.0*T.Get(x,height-1) + T.Get(x,height-2)) / 4.0)
	}

	return g2
}

// SwapByteOrder treats every value as a raw stored sample of the given
// FITS BITPIX, whose bytes were read in the wrong order, and swaps them
// back. Values must not have had BZERO/BSCALE applied.
func (fg *FloatGrid)SwapByteOrder(bitpix int) (FloatGrid, error) {
	var swap func(float64) float64
	switch bitpix {
	case 8:
		swap = func(v float64) float64 { return v }
	case 16:
		swap = func(v float64) float64 {
			return float64(int16(bits.ReverseBytes16(uint16(int16(math.Round(v))))))
		}
	case 32:
		swap = func(v float64) float64 {
			return float64(int32(bits.ReverseBytes32(uint32(int32(math.Round(v))))))
		}
	case 64:
		swap = func(v float64) float64 {
			return float64(int64(bits.ReverseBytes64(uint64(int64(math.Round(v))))))
		}
	case -32:
		swap = func(v float64) float64 {
			return float64(math.Float32frombits(bits.ReverseBytes32(math.Float32bits(float32(v)))))
		}
	case -64:
		swap = func(v float64) float64 {
			return math.Float64frombits(bits.ReverseBytes64(math.Float64bits(v)))
		}
	default:
		return FloatGrid{}, fmt.Errorf("can't swap bytes of BITPIX %d samples", bitpix)
	}

	out := fg.NewFromThis()
	for i, v := range fg.values {
		out.values[i] = swap(v)
	}
	return out, nil
}

// MeanStdDev ignores NaNs and infinities.
func (fg *FloatGrid)MeanStdDev() (float64, float64) {
	vals := make([]float64, 0, len(fg.values))
	for _, v := range fg.values {
		if IsFinite(v) {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return math.NaN(), math.NaN()
	}
	return stat.MeanStdDev(vals, nil)
}

func (fg *FloatGrid)MinMax() (float64, float64) {
	min := math.MaxFloat64
	max := -1.0  * min

	for i:=0 ; i<len(fg.values) ; i++ {
		if !IsFinite(fg.values[i]) { continue }
		if fg.values[i] > max { max = fg.values[i] }
		if fg.values[i] < min { min = fg.values[i] }
	}
	return min, max
}

func (fg *FloatGrid)Stats() string {
	min, max := fg.MinMax()
	mean, stddev := fg.MeanStdDev()
	return fmt.Sprintf("fg[%dx%d, vals{%f,%f}, mean %f, stddev %f]", fg.Dx(), fg.Dy(), min, max, mean, stddev)
}

// ToGray maps [lo,hi] linearly onto a 16 bit gray, with gamma
// expansion so it looks normal for human vision. Row 0 of the grid
// ends up at the bottom of the image, as astronomers expect.
func (fg *FloatGrid)ToGray(lo, hi float64) *image.Gray16 {
	img := image.NewGray16(image.Rectangle{Max:image.Point{fg.Dx(), fg.Dy()}})
	span := hi - lo
	if span <= 0 { span = 1 }

	for x:=0; x<fg.Dx(); x++ {
		for y:=0; y<fg.Dy(); y++ {
			v := fg.Get(x,y)
			if !IsFinite(v) { v = lo }
			gray := GammaExpand_F64 (Clamp((v - lo) / span, 0, 1))
			img.SetGray16(x, fg.Dy()-1-y, color.Gray16{uint16(gray * 65535.0)})
		}
	}
	return img
}
