package ccd

import(
	"fmt"
	"io/ioutil"
	"os"
	"strings"

	"github.com/astrogo/fitsio"
	"gopkg.in/yaml.v2"

	"github.com/abworrall/ccdtrail/pkg/emath"
	"github.com/abworrall/ccdtrail/pkg/wcs"
)

func (t SourceTable)AsYaml() (string, error) {
	b, err := yaml.Marshal(t)
	return string(b), err
}

func WriteCatalogYAML(t SourceTable, filename string) error {
	str, err := t.AsYaml()
	if err != nil {
		return fmt.Errorf("catalog %s: %w", t.Name, err)
	}
	return ioutil.WriteFile(filename, []byte(str), 0644)
}

func LoadCatalogYAML(filename string) (SourceTable, error) {
	t := SourceTable{}
	b, err := ioutil.ReadFile(filename)
	if err != nil {
		return t, fmt.Errorf("catalog read %s: %w", filename, err)
	}
	if err := yaml.Unmarshal(b, &t); err != nil {
		return t, fmt.Errorf("catalog parse %s: %w", filename, err)
	}
	return t, nil
}

// WriteSolverTable writes the x_det,y_det,flux binary table that
// solve-field reads in table mode. Coords are FITS 1-based, and mapped
// through chip (if not nil) onto the detector.
func WriteSolverTable(filename string, t SourceTable, chip *wcs.WCS) error {
	w, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("open+w '%s': %w", filename, err)
	}
	defer w.Close()

	f, err := fitsio.Create(w)
	if err != nil {
		return fmt.Errorf("fits create '%s': %w", filename, err)
	}
	defer f.Close()

	phdu, err := fitsio.NewPrimaryHDU(nil)
	if err != nil {
		return fmt.Errorf("fits primary '%s': %w", filename, err)
	}
	if err := f.Write(phdu); err != nil {
		return fmt.Errorf("fits primary '%s': %w", filename, err)
	}

	cols := []fitsio.Column{
		{Name: "x_det", Format: "D"},
		{Name: "y_det", Format: "D"},
		{Name: "flux",  Format: "D"},
	}
	tbl, err := fitsio.NewTable("SOURCES", cols, fitsio.BINARY_TBL)
	if err != nil {
		return fmt.Errorf("fits table '%s': %w", filename, err)
	}
	defer tbl.Close()

	for i, s := range t.Sources {
		x, y, err := wcs.PixelToDetector(chip, s.X+1, s.Y+1)
		if err != nil {
			return fmt.Errorf("'%s' source %d: %w", filename, i, err)
		}
		flux := s.Flux
		if err := tbl.Write(&x, &y, &flux); err != nil {
			return fmt.Errorf("'%s' row %d: %w", filename, i, err)
		}
	}

	return f.Write(tbl)
}

// Structural keys are regenerated by fitsio, and the scaling is
// already applied to the values we write.
var skipCards = map[string]bool{
	"SIMPLE": true, "BITPIX": true, "EXTEND": true, "XTENSION": true, "PCOUNT": true,
	"GCOUNT": true, "BZERO": true, "BSCALE": true, "END": true, "COMMENT": true, "HISTORY": true,
}

func headerCards(h wcs.Header) []fitsio.Card {
	cards := []fitsio.Card{}
	for _, k := range h.Keys() {
		if skipCards[k] || strings.HasPrefix(k, "NAXIS") || k == "" {
			continue
		}
		cards = append(cards, fitsio.Card{Name: k, Value: h[k]})
	}
	return cards
}

// WriteFrame writes g as a 64 bit float image, carrying over the
// header cards of `h` (so WCS solutions survive).
func WriteFrame(filename string, g *emath.FloatGrid, h wcs.Header) error {
	w, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("open+w '%s': %w", filename, err)
	}
	defer w.Close()

	f, err := fitsio.Create(w)
	if err != nil {
		return fmt.Errorf("fits create '%s': %w", filename, err)
	}
	defer f.Close()

	hdr := fitsio.NewHeader(headerCards(h), fitsio.IMAGE_HDU, -64, []int{g.Dx(), g.Dy()})
	img, err := fitsio.NewPrimaryHDU(hdr)
	if err != nil {
		return fmt.Errorf("fits primary '%s': %w", filename, err)
	}

	data := g.Values()
	if err := img.Write(&data); err != nil {
		return fmt.Errorf("fits write '%s': %w", filename, err)
	}
	return f.Write(img)
}
