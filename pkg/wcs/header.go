package wcs

import(
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/astrogo/fitsio"
)

// Header holds the keyword/value cards of one FITS HDU.
type Header map[string]interface{}

func (h Header)Has(key string) bool {
	v, ok := h[key]
	return ok && v != nil
}

// Float returns a numeric card; strings holding numbers are accepted,
// since some writers quote everything.
func (h Header)Float(key string) (float64, bool) {
	switch v := h[key].(type) {
	case float64: return v, true
	case float32: return float64(v), true
	case int:     return float64(v), true
	case int8:    return float64(v), true
	case int16:   return float64(v), true
	case int32:   return float64(v), true
	case int64:   return float64(v), true
	case uint8:   return float64(v), true
	case uint16:  return float64(v), true
	case uint32:  return float64(v), true
	case uint64:  return float64(v), true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func (h Header)FloatOr(key string, def float64) float64 {
	if v, ok := h.Float(key); ok {
		return v
	}
	return def
}

func (h Header)Int(key string) (int, bool) {
	f, ok := h.Float(key)
	return int(f), ok
}

func (h Header)String(key string) string {
	if s, ok := h[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func (h Header)Keys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HeaderFromFITS copies all the cards out of a fitsio header.
func HeaderFromFITS(fh *fitsio.Header) Header {
	h := Header{}
	for _, key := range fh.Keys() {
		if card := fh.Get(key); card != nil {
			h[key] = card.Value
		}
	}
	return h
}

// LoadHeader reads the header of HDU `hdu` from a FITS file; an
// astrometry.net `.wcs` file is a FITS file with an empty primary HDU.
func LoadHeader(filename string, hdu int) (Header, error) {
	r, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open+r '%s': %w", filename, err)
	}
	defer r.Close()

	f, err := fitsio.Open(r)
	if err != nil {
		return nil, fmt.Errorf("fits parsing '%s': %w", filename, err)
	}
	defer f.Close()

	hdus := f.HDUs()
	if hdu < 0 || hdu >= len(hdus) {
		return nil, fmt.Errorf("'%s' has %d HDUs, no HDU %d", filename, len(hdus), hdu)
	}

	return HeaderFromFITS(hdus[hdu].Header()), nil
}

// Load parses the WCS solution held in a FITS header.
func Load(filename string, hdu int) (*WCS, error) {
	h, err := LoadHeader(filename, hdu)
	if err != nil {
		return nil, err
	}
	w, err := Parse(h)
	if err != nil {
		return nil, fmt.Errorf("'%s': %w", filename, err)
	}
	return w, nil
}
