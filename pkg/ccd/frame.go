package ccd

import(
	"fmt"
	"log"
	"path/filepath"

	"github.com/abworrall/ccdtrail/pkg/emath"
	"github.com/abworrall/ccdtrail/pkg/wcs"
)

// A Frame holds the pixels of one CCD image (one HDU of a FITS file),
// plus the bits of its header we care about.
type Frame struct {
	LoadFilename string
	HDU          int
	Header       wcs.Header
	Bitpix       int           // How the samples were stored on disk; 0 if not loaded from a file

	emath.FloatGrid            // The pixel values, BZERO/BSCALE applied
	Mask         *Mask         // Optional; true == bad pixel
}

func (f Frame)String() string {
	str := fmt.Sprintf("%s[%d]: %dx%d", f.Filename(), f.HDU, f.Dx(), f.Dy())
	if t := f.ExposureTime(); t > 0 {
		str += fmt.Sprintf(", exptime %.1fs", t)
	}
	if f.Mask != nil {
		str += fmt.Sprintf(", %d masked", f.Mask.Count())
	}
	return str
}

func (f Frame)Filename() string {
	return filepath.Base(f.LoadFilename)
}

// ExposureTime looks in the usual places; zero if not found.
func (f Frame)ExposureTime() float64 {
	for _, key := range []string{"EXPTIME", "EXPOSURE", "EXPOSED"} {
		if v, ok := f.Header.Float(key); ok {
			return v
		}
	}
	return 0
}

// ChipWCS is the per-chip pixel->detector transform, if the header has
// a linear one. Mosaic cameras carry these on each extension. Headers
// with a celestial or unparseable WCS (e.g. ZPN on raw mosaic frames)
// have no chip transform as far as we are concerned; nil means identity.
func (f Frame)ChipWCS() *wcs.WCS {
	if !f.Header.Has("CRPIX1") {
		return nil
	}
	w, err := wcs.Parse(f.Header)
	if err != nil {
		log.Printf("%s: ignoring header WCS as a chip transform: %v\n", f.Filename(), err)
		return nil
	}
	if w.IsCelestial() {
		return nil
	}
	return w
}

// SwapByteOrder replaces the pixels with byte swapped versions of the
// samples as they were stored, with BZERO/BSCALE reapplied.
func (f *Frame)SwapByteOrder() error {
	if f.Bitpix == 0 {
		return fmt.Errorf("%s: on-disk sample format not known, can't swap bytes", f.Filename())
	}
	bzero, bscale := f.Header.FloatOr("BZERO", 0), f.Header.FloatOr("BSCALE", 1)
	if bscale == 0 { bscale = 1 }

	raw := f.FloatGrid.NewFromThis()
	for i, v := range f.FloatGrid.Values() {
		raw.Values()[i] = (v - bzero) / bscale
	}
	swapped, err := raw.SwapByteOrder(f.Bitpix)
	if err != nil {
		return fmt.Errorf("%s: %w", f.Filename(), err)
	}
	for i, v := range swapped.Values() {
		swapped.Values()[i] = bzero + bscale*v
	}
	f.FloatGrid = swapped
	return nil
}

// A Mask flags bad pixels; same shape as the frame it masks.
type Mask struct {
	stride int
	bad    []bool
}

func NewMask(w, h int) *Mask {
	return &Mask{stride: w, bad: make([]bool, w*h)}
}

// NewMaskFromGrid marks every non-zero pixel as bad.
func NewMaskFromGrid(g *emath.FloatGrid) *Mask {
	m := NewMask(g.Dx(), g.Dy())
	for i, v := range g.Values() {
		m.bad[i] = v != 0
	}
	return m
}

func (m *Mask)Dx() int                { return m.stride }
func (m *Mask)Dy() int                { return len(m.bad) / m.stride }
func (m *Mask)Set(x, y int, bad bool) { m.bad[m.stride*y + x] = bad }

// IsBad is safe on a nil mask.
func (m *Mask)IsBad(x, y int) bool {
	if m == nil {
		return false
	}
	return m.bad[m.stride*y + x]
}

func (m *Mask)Count() int {
	n := 0
	for _, b := range m.bad {
		if b { n++ }
	}
	return n
}

func (m *Mask)Fits(g *emath.FloatGrid) bool {
	return m == nil || (m.Dx() == g.Dx() && m.Dy() == g.Dy())
}
