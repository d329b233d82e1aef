package ccd

import(
	"fmt"
	"log"
	"math"
	"sort"

	"github.com/abworrall/ccdtrail/pkg/emath"
)

// A SegMap labels each pixel with the (1-based) index of the source it
// belongs to; 0 is background.
type SegMap struct {
	stride int
	labels []int32
}

func NewSegMap(w, h int) *SegMap { return &SegMap{stride: w, labels: make([]int32, w*h)} }

func (sm *SegMap)Dx() int           { return sm.stride }
func (sm *SegMap)Dy() int           { return len(sm.labels) / sm.stride }
func (sm *SegMap)Get(x, y int) int  { return int(sm.labels[sm.stride*y + x]) }
func (sm *SegMap)set(i int, l int)  { sm.labels[i] = int32(l) }

type Extraction struct {
	Sources      SourceTable
	Segmentation *SegMap   // nil unless asked for

	footprints   []object  // Pixels of each source, same order as Sources
	w, h         int
}

func (ex *Extraction)buildSegMap() {
	ex.Segmentation = NewSegMap(ex.w, ex.h)
	for i, o := range ex.footprints {
		for _, p := range o {
			ex.Segmentation.set(p.i, i+1)
		}
	}
}

// Filter keeps the sources `keep` likes; the segmentation map (if
// any) is relabelled to match.
func (ex Extraction)Filter(keep func(Source) bool) Extraction {
	out := Extraction{Sources: SourceTable{Name: ex.Sources.Name, Sources: []Source{}}, w: ex.w, h: ex.h}
	for i, s := range ex.Sources.Sources {
		if !keep(s) { continue }
		out.Sources.Sources = append(out.Sources.Sources, s)
		if i < len(ex.footprints) {
			out.footprints = append(out.footprints, ex.footprints[i])
		}
	}
	if ex.Segmentation != nil {
		out.buildSegMap()
	}
	return out
}

// A pixel in an object's footprint. v is the detection value (which
// may have been smoothed), i is the raster index into the frame.
type pixel struct {
	x, y int
	i    int
	v    float64
}

type object []pixel

func (o object)firstIndex() int {
	first := math.MaxInt32
	for _, p := range o {
		if p.i < first { first = p.i }
	}
	return first
}

func sortObjects(objs []object) {
	sort.SliceStable(objs, func(i, j int) bool { return objs[i].firstIndex() < objs[j].firstIndex() })
}

// Extract finds sources in `data`, which should already have had its
// background subtracted. If errGrid is not nil, pixels are detected
// where they exceed Threshold*err; else where they exceed
// Threshold*globalRMS.
func Extract(name string, data, errGrid *emath.FloatGrid, mask *Mask, globalRMS float64, cfg ExtractConfig) (Extraction, error) {
	if data.Len() == 0 {
		return Extraction{}, fmt.Errorf("extract %s: empty frame", name)
	}
	if !mask.Fits(data) {
		return Extraction{}, fmt.Errorf("extract %s: mask doesn't match frame", name)
	}
	if errGrid != nil && (errGrid.Dx() != data.Dx() || errGrid.Dy() != data.Dy()) {
		return Extraction{}, fmt.Errorf("extract %s: error grid %dx%d doesn't match frame %dx%d", name,
			errGrid.Dx(), errGrid.Dy(), data.Dx(), data.Dy())
	}
	if errGrid == nil && !(globalRMS > 0) {
		return Extraction{}, fmt.Errorf("extract %s: no error grid, and global rms %g is no use", name, globalRMS)
	}
	if cfg.MinArea < 1 { cfg.MinArea = 1 }

	w, h := data.Dx(), data.Dy()
	usable := func(x, y int) bool { return !mask.IsBad(x,y) && emath.IsFinite(data.Get(x,y)) }

	// The detection image; bad pixels are zeroed so they don't smear
	// into their neighbours when smoothing.
	det := data.NewFromThis()
	for y:=0; y<h; y++ {
		for x:=0; x<w; x++ {
			if usable(x,y) { det.Set(x, y, data.Get(x,y)) }
		}
	}
	if cfg.FilterKernel {
		det = det.GaussianBlur()
	}

	thresh := func(x, y int) float64 {
		if errGrid != nil {
			return cfg.Threshold * errGrid.Get(x,y)
		}
		return cfg.Threshold * globalRMS
	}
	above := func(x, y int) bool {
		return usable(x,y) && det.Get(x,y) > thresh(x,y)
	}

	objs := floodfill(&det, above)

	type candidate struct {
		o      object
		merged bool
	}
	kept := []candidate{}
	for _, o := range objs {
		if len(o) < cfg.MinArea { continue }

		base := math.MaxFloat64
		for _, p := range o {
			if t := thresh(p.x, p.y); t < base { base = t }
		}
		children := deblender{cfg: cfg}.split(o, base)
		for _, c := range children {
			kept = append(kept, candidate{c, len(children) > 1})
		}
	}

	sources := []Source{}
	footprints := []object{}
	for _, c := range kept {
		s := measure(data, c.o, w, h)
		if c.merged { s.Flag |= FlagMerged }
		if cfg.ShapeExtras {
			addShapeExtras(&s, data, mask, name)
		}
		if s.HasNaN() { continue }
		sources = append(sources, s)
		footprints = append(footprints, c.o)
	}

	ex := Extraction{Sources: SourceTable{Name: name, Sources: sources}, footprints: footprints, w: w, h: h}
	if cfg.Segmentation {
		ex.buildSegMap()
	}

	return ex, nil
}

// floodfill finds the 8-connected groups of pixels that are `above`,
// in raster order of their first pixel.
func floodfill(det *emath.FloatGrid, above func(x, y int) bool) []object {
	w, h := det.Dx(), det.Dy()
	visited := make([]bool, w*h)
	objs := []object{}

	for y:=0; y<h; y++ {
		for x:=0; x<w; x++ {
			if visited[y*w+x] || !above(x,y) { continue }

			o := object{}
			toVisit := []image2{{x,y}}
			visited[y*w+x] = true

			for len(toVisit) > 0 {
				p := toVisit[0]
				toVisit = toVisit[1:]
				o = append(o, pixel{x: p.x, y: p.y, i: p.y*w + p.x, v: det.Get(p.x, p.y)})

				for dy:=-1; dy<=1; dy++ {
					for dx:=-1; dx<=1; dx++ {
						nx, ny := p.x+dx, p.y+dy
						if nx < 0 || ny < 0 || nx >= w || ny >= h { continue }
						if visited[ny*w+nx] || !above(nx,ny) { continue }
						visited[ny*w+nx] = true
						toVisit = append(toVisit, image2{nx,ny})
					}
				}
			}
			objs = append(objs, o)
		}
	}
	return objs
}

type image2 struct{ x, y int }

// measure computes the centroid, moments and ellipse of an object, from
// the unsmoothed data.
func measure(data *emath.FloatGrid, o object, w, h int) Source {
	s := Source{
		NPix: len(o),
		XMin: w, XMax: -1,
		YMin: h, YMax: -1,
		Peak: -math.MaxFloat64,
	}

	sum, sx, sy := 0.0, 0.0, 0.0
	for _, p := range o {
		v := data.Get(p.x, p.y)
		sum += v
		sx += v * float64(p.x)
		sy += v * float64(p.y)
		if v > s.Peak { s.Peak = v }
		if p.x < s.XMin { s.XMin = p.x }
		if p.x > s.XMax { s.XMax = p.x }
		if p.y < s.YMin { s.YMin = p.y }
		if p.y > s.YMax { s.YMax = p.y }
	}
	s.Flux = sum

	if s.XMin == 0 || s.YMin == 0 || s.XMax == w-1 || s.YMax == h-1 {
		s.Flag |= FlagTruncated
	}

	if !(sum > 0) {
		// No sensible centroid; this row gets pruned
		s.Flag |= FlagNonPositive
		s.X, s.Y = math.NaN(), math.NaN()
		return s
	}
	s.X, s.Y = sx/sum, sy/sum

	for _, p := range o {
		v := data.Get(p.x, p.y)
		dx, dy := float64(p.x)-s.X, float64(p.y)-s.Y
		s.X2 += v * dx * dx
		s.Y2 += v * dy * dy
		s.XY += v * dx * dy
	}
	s.X2 /= sum
	s.Y2 /= sum
	s.XY /= sum

	// Single pixel wide objects have singular moments; regularise by the
	// variance of a uniform pixel
	if s.X2*s.Y2 - s.XY*s.XY < 1.0/144.0 {
		s.X2 += 1.0/12.0
		s.Y2 += 1.0/12.0
		s.Flag |= FlagSingular
	}

	setEllipse(&s)
	return s
}

func setEllipse(s *Source) {
	mid := (s.X2 + s.Y2) / 2
	d := math.Sqrt((s.X2-s.Y2)*(s.X2-s.Y2)/4 + s.XY*s.XY)
	a2, b2 := mid+d, mid-d
	if b2 < 0 { b2 = 0 }

	s.A, s.B = math.Sqrt(a2), math.Sqrt(b2)
	s.Theta = 0.5 * math.Atan2(2*s.XY, s.X2-s.Y2)

	// cxx*x^2 + cyy*y^2 + cxy*x*y = r^2 traces the ellipse, scaled by r
	det := s.X2*s.Y2 - s.XY*s.XY
	if !(det > 0) {
		s.CXX, s.CYY, s.CXY = math.NaN(), math.NaN(), math.NaN()
		return
	}
	s.CXX = s.Y2 / det
	s.CYY = s.X2 / det
	s.CXY = -2 * s.XY / det
}

func logShapeFailure(name string, s *Source, stat, reason string) {
	log.Printf("%s: source at (%.1f,%.1f): %s unavailable: %s\n", name, s.X, s.Y, stat, reason)
}
