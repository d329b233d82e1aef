// Package diagnostics draws quick-look PNGs: frames with detected
// sources or matched points overlaid.
package diagnostics

import(
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"

	"github.com/fogleman/gg"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/draw"

	"github.com/abworrall/ccdtrail/pkg/ccd"
	"github.com/abworrall/ccdtrail/pkg/emath"
	"github.com/abworrall/ccdtrail/pkg/match"
)

// Big CCD frames get shrunk down so the PNGs are a sane size.
var MaxDim = 2048

func WritePNG(img image.Image, filename string) error {
	if writer, err := os.Create(filename); err != nil {
		return fmt.Errorf("open+w '%s': %v", filename, err)
	} else {
		defer writer.Close()
		return png.Encode(writer, img)
	}
}

// A canvas is a stretched, maybe shrunk, copy of a frame. It maps
// 0-based frame coords onto the image, flipping y so row 0 is at the
// bottom.
type canvas struct {
	dc    *gg.Context
	scale float64
	h     int
}

func newCanvas(g *emath.FloatGrid) canvas {
	m, s := g.MeanStdDev()
	var img image.Image = g.ToGray(m-s, m+s)

	scale := 1.0
	if biggest := g.Dx(); biggest > MaxDim || g.Dy() > MaxDim {
		if g.Dy() > biggest { biggest = g.Dy() }
		scale = float64(MaxDim) / float64(biggest)
		dst := image.NewRGBA(image.Rect(0, 0, int(float64(g.Dx())*scale), int(float64(g.Dy())*scale)))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
		img = dst
	}

	return canvas{dc: gg.NewContextForImage(img), scale: scale, h: g.Dy()}
}

func (c canvas)xy(x, y float64) (float64, float64) {
	return x * c.scale, (float64(c.h-1) - y) * c.scale
}

func (c canvas)title(str string) {
	c.dc.SetRGB(1, 1, 1)
	c.dc.DrawString(str, 20, 30)
}

// Palette gives n easily told apart colours.
func Palette(n int) []color.Color {
	out := []color.Color{}
	for _, c := range colorful.FastHappyPalette(n) {
		out = append(out, c)
	}
	return out
}

// ellipse draws the source's shape at 6 semi-axes, the same size as the
// Kron aperture.
func (c canvas)ellipse(s ccd.Source) {
	x, y := c.xy(s.X, s.Y)
	a, b := 6*s.A*c.scale, 6*s.B*c.scale
	if a < 3 { a, b = 3, 3 }

	c.dc.Push()
	c.dc.RotateAbout(-s.Theta, x, y) // y is flipped
	c.dc.DrawEllipse(x, y, a, b)
	c.dc.Stroke()
	c.dc.Pop()
}

// PlotSources draws each table's sources in its own colour, over the
// frame.
func PlotSources(g *emath.FloatGrid, title, filename string, tables ...ccd.SourceTable) error {
	c := newCanvas(g)
	c.dc.SetLineWidth(1.5)

	for i, col := range Palette(len(tables)) {
		c.dc.SetColor(col)
		for _, s := range tables[i].Sources {
			c.ellipse(s)
		}
	}

	c.title(title)
	return WritePNG(c.dc.Image(), filename)
}

// PlotMatches marks the frame 1 end of each match, and draws a line
// out to where it lands in frame 2 (offsets can be large, so this
// mostly shows the pattern of the shift).
func PlotMatches(g *emath.FloatGrid, title, filename string, matches []match.Match) error {
	c := newCanvas(g)
	cols := Palette(2)
	c.dc.SetLineWidth(1)

	for _, m := range matches {
		// Match coords are FITS 1-based
		x1, y1 := c.xy(m.P1.PixX-1, m.P1.PixY-1)
		x2, y2 := c.xy(m.P2.PixX-1, m.P2.PixY-1)

		c.dc.SetColor(cols[1])
		c.dc.DrawLine(x1, y1, x2, y2)
		c.dc.Stroke()

		c.dc.SetColor(cols[0])
		c.dc.DrawCircle(x1, y1, 4)
		c.dc.Stroke()
	}

	c.title(title)
	return WritePNG(c.dc.Image(), filename)
}

// PlotGrid is a plain stretched view, e.g. of a subtracted frame.
func PlotGrid(g *emath.FloatGrid, title, filename string) error {
	c := newCanvas(g)
	c.title(title)
	return WritePNG(c.dc.Image(), filename)
}
