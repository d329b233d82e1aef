package wcs

import(
	"fmt"
	"math"
	"strings"

	"github.com/abworrall/ccdtrail/pkg/emath"
)

// A WCS maps FITS pixel coordinates (1-based: the centre of the first
// pixel is at (1,1)) to world coordinates. Two flavours are handled:
// celestial TAN (gnomonic, with optional SIP distortion), which maps to
// (ra,dec) in degrees; and linear, where world = CRVAL + CD.(p-CRPIX),
// used for the per-chip pixel->detector transforms of CCD mosaics.
type WCS struct {
	CType      [2]string
	CRPix      [2]float64
	CRVal      [2]float64
	CD         emath.Aff3  // Only the linear part is used; degrees (or detector units) per pixel
	Projection string      // "TAN", or "" for linear
	SIP        *SIP

	invCD      emath.Aff3
}

func (w *WCS)IsCelestial() bool { return w.Projection != "" }

func (w WCS)String() string {
	str := fmt.Sprintf("WCS[%s/%s crpix(%.3f,%.3f) crval(%.6f,%.6f) cd%s", w.CType[0], w.CType[1],
		w.CRPix[0], w.CRPix[1], w.CRVal[0], w.CRVal[1], w.CD)
	if w.SIP != nil {
		str += fmt.Sprintf(" sip%d", w.SIP.A.Order)
	}
	return str + "]"
}

// PixelScale is the mean pixel size in arcsec (celestial) or world
// units (linear).
func (w *WCS)PixelScale() float64 {
	s := math.Sqrt(math.Abs(w.CD.Det()))
	if w.IsCelestial() {
		return s * emath.ArcsecPerDeg
	}
	return s
}

// Parse builds a WCS from a header. Anything missing or inconsistent
// gives a *ConfigurationError.
func Parse(h Header) (*WCS, error) {
	if h == nil {
		return nil, &ConfigurationError{Reason: "no header"}
	}

	w := WCS{}
	for i := 0; i < 2; i++ {
		n := i+1
		w.CType[i] = h.String(fmt.Sprintf("CTYPE%d", n))

		if v, ok := h.Float(fmt.Sprintf("CRPIX%d", n)); !ok {
			return nil, &ConfigurationError{Key: fmt.Sprintf("CRPIX%d", n), Reason: "missing"}
		} else {
			w.CRPix[i] = v
		}

		if v, ok := h.Float(fmt.Sprintf("CRVAL%d", n)); !ok {
			return nil, &ConfigurationError{Key: fmt.Sprintf("CRVAL%d", n), Reason: "missing"}
		} else {
			w.CRVal[i] = v
		}
	}

	if err := w.parseProjection(h); err != nil {
		return nil, err
	}

	cd, err := parseCD(h)
	if err != nil {
		return nil, err
	}
	w.CD = cd

	if inv, ok := w.CD.Invert(); !ok {
		return nil, &ConfigurationError{Key: "CD", Reason: "matrix is singular"}
	} else {
		w.invCD = inv
	}

	if strings.HasSuffix(w.CType[0], "-SIP") {
		sip, err := parseSIP(h)
		if err != nil {
			return nil, err
		}
		w.SIP = sip
	}

	return &w, nil
}

func (w *WCS)parseProjection(h Header) error {
	code := func(ctype string) string {
		if len(ctype) >= 8 && ctype[4] == '-' {
			return strings.TrimRight(ctype[5:8], "-")
		}
		return ""
	}
	p1, p2 := code(w.CType[0]), code(w.CType[1])
	if p1 != p2 {
		return &ConfigurationError{Key: "CTYPE", Reason: fmt.Sprintf("axes disagree on projection (%q vs %q)", w.CType[0], w.CType[1])}
	}

	switch p1 {
	case "":
		// linear
	case "TAN":
		if !strings.HasPrefix(w.CType[0], "RA") || !strings.HasPrefix(w.CType[1], "DEC") {
			return &ConfigurationError{Key: "CTYPE", Reason: fmt.Sprintf("want RA/DEC axes, have %q/%q", w.CType[0], w.CType[1])}
		}
		if lp, ok := h.Float("LONPOLE"); ok && lp != 180.0 {
			return &ConfigurationError{Key: "LONPOLE", Reason: fmt.Sprintf("only the default 180 is supported, have %g", lp)}
		}
	default:
		return &ConfigurationError{Key: "CTYPE", Reason: fmt.Sprintf("projection %q not supported", p1)}
	}
	w.Projection = p1
	return nil
}

// parseCD looks for CDi_j, then CDELTi with PCi_j, then CDELTi with CROTA2.
func parseCD(h Header) (emath.Aff3, error) {
	if h.Has("CD1_1") || h.Has("CD2_2") || h.Has("CD1_2") || h.Has("CD2_1") {
		return emath.Aff3{
			h.FloatOr("CD1_1", 0), h.FloatOr("CD1_2", 0), 0,
			h.FloatOr("CD2_1", 0), h.FloatOr("CD2_2", 0), 0,
		}, nil
	}

	cdelt1, ok1 := h.Float("CDELT1")
	cdelt2, ok2 := h.Float("CDELT2")
	if !ok1 || !ok2 {
		return emath.Aff3{}, &ConfigurationError{Key: "CD", Reason: "no CDi_j or CDELTi keywords"}
	}

	if h.Has("PC1_1") || h.Has("PC2_2") || h.Has("PC1_2") || h.Has("PC2_1") {
		return emath.Aff3{
			cdelt1 * h.FloatOr("PC1_1", 1), cdelt1 * h.FloatOr("PC1_2", 0), 0,
			cdelt2 * h.FloatOr("PC2_1", 0), cdelt2 * h.FloatOr("PC2_2", 1), 0,
		}, nil
	}

	rho := h.FloatOr("CROTA2", 0) * emath.Deg2Rad
	sin, cos := math.Sincos(rho)
	return emath.Aff3{
		cdelt1 * cos, -cdelt2 * sin, 0,
		cdelt1 * sin,  cdelt2 * cos, 0,
	}, nil
}

// PixelToWorld maps 1-based pixel coords to world coords.
func (w *WCS)PixelToWorld(x, y float64) (float64, float64, error) {
	if !emath.IsFinite(x) || !emath.IsFinite(y) {
		return math.NaN(), math.NaN(), &ProjectionError{Op: "pix2world", X: x, Y: y, Reason: "coordinates not finite"}
	}

	u, v := x - w.CRPix[0], y - w.CRPix[1]
	if w.SIP != nil {
		u, v = w.SIP.Forward(u, v)
	}
	ix, iy := w.CD.Apply(u, v)

	if !w.IsCelestial() {
		return w.CRVal[0] + ix, w.CRVal[1] + iy, nil
	}

	ra, dec := tanToSky(ix, iy, w.CRVal[0], w.CRVal[1])
	if !emath.IsFinite(ra) || !emath.IsFinite(dec) {
		return math.NaN(), math.NaN(), &ProjectionError{Op: "pix2world", X: x, Y: y, Reason: "projection produced non-finite result"}
	}
	return ra, dec, nil
}

// WorldToPixel is the inverse of PixelToWorld, again 1-based.
func (w *WCS)WorldToPixel(a, b float64) (float64, float64, error) {
	if !emath.IsFinite(a) || !emath.IsFinite(b) {
		return math.NaN(), math.NaN(), &ProjectionError{Op: "world2pix", X: a, Y: b, Reason: "coordinates not finite"}
	}

	var ix, iy float64
	if w.IsCelestial() {
		if b < -90 || b > 90 {
			return math.NaN(), math.NaN(), &ProjectionError{Op: "world2pix", X: a, Y: b, Reason: "declination out of range"}
		}
		var ok bool
		if ix, iy, ok = skyToTan(a, b, w.CRVal[0], w.CRVal[1]); !ok {
			return math.NaN(), math.NaN(), &ProjectionError{Op: "world2pix", X: a, Y: b, Reason: "point is 90deg or more from the tangent point"}
		}
	} else {
		ix, iy = a - w.CRVal[0], b - w.CRVal[1]
	}

	u, v := w.invCD.Apply(ix, iy)
	if w.SIP != nil {
		var err error
		if u, v, err = w.SIP.Inverse(u, v); err != nil {
			return math.NaN(), math.NaN(), &ProjectionError{Op: "world2pix", X: a, Y: b, Reason: err.Error()}
		}
	}

	return u + w.CRPix[0], v + w.CRPix[1], nil
}

// Gnomonic projection, tangent point (ra0,dec0); intermediate coords
// are in degrees on the tangent plane.
func tanToSky(xDeg, yDeg, ra0Deg, dec0Deg float64) (float64, float64) {
	xi, eta := xDeg*emath.Deg2Rad, yDeg*emath.Deg2Rad
	sd0, cd0 := math.Sincos(dec0Deg*emath.Deg2Rad)

	den := cd0 - eta*sd0
	ra  := ra0Deg*emath.Deg2Rad + math.Atan2(xi, den)
	dec := math.Atan2(eta*cd0 + sd0, math.Hypot(xi, den))

	raDeg := math.Mod(ra*emath.Rad2Deg, 360.0)
	if raDeg < 0 { raDeg += 360.0 }
	return raDeg, dec*emath.Rad2Deg
}

func skyToTan(raDeg, decDeg, ra0Deg, dec0Deg float64) (float64, float64, bool) {
	sd, cd := math.Sincos(decDeg*emath.Deg2Rad)
	sd0, cd0 := math.Sincos(dec0Deg*emath.Deg2Rad)
	sdra, cdra := math.Sincos((raDeg-ra0Deg)*emath.Deg2Rad)

	cosc := sd*sd0 + cd*cd0*cdra // cosine of the distance from the tangent point
	if cosc <= 1e-12 {
		return 0, 0, false
	}
	xi  := cd*sdra / cosc
	eta := (sd*cd0 - cd*sd0*cdra) / cosc
	return xi*emath.Rad2Deg, eta*emath.Rad2Deg, true
}
