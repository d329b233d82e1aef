package wcs

import(
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abworrall/ccdtrail/pkg/emath"
)

func tanHeader(ra0, dec0 float64) Header {
	return Header{
		"CTYPE1": "RA---TAN",
		"CTYPE2": "DEC--TAN",
		"CRPIX1": 1024.5,
		"CRPIX2": 2048.5,
		"CRVAL1": ra0,
		"CRVAL2": dec0,
		"CD1_1": -0.33/3600.0,
		"CD1_2": 1e-6,
		"CD2_1": -2e-6,
		"CD2_2": 0.33/3600.0,
	}
}

func TestReferencePixelMapsToReferenceValue(t *testing.T) {
	w, err := Parse(tanHeader(150.1, 2.2))
	require.NoError(t, err)

	ra, dec, err := w.PixelToWorld(1024.5, 2048.5)
	require.NoError(t, err)
	assert.InDelta(t, 150.1, ra, 1e-12)
	assert.InDelta(t, 2.2, dec, 1e-12)
	assert.InDelta(t, 0.33, w.PixelScale(), 1e-3)
}

func TestPixelOffsetDirection(t *testing.T) {
	h := tanHeader(10, 0)
	h["CD1_2"], h["CD2_1"] = 0.0, 0.0
	w, err := Parse(h)
	require.NoError(t, err)

	ra, dec, err := w.PixelToWorld(1025.5, 2048.5)
	require.NoError(t, err)
	assert.InDelta(t, 10-0.33/3600.0, ra, 1e-9)
	assert.InDelta(t, 0.0, dec, 1e-12)
}

func TestSkyPixelRoundTrip(t *testing.T) {
	for _, tp := range [][2]float64{{150.1, 2.2}, {0.05, -30}, {359.9, 89.9}, {200, -89.5}} {
		w, err := Parse(tanHeader(tp[0], tp[1]))
		require.NoError(t, err)

		for _, pix := range [][2]float64{{1, 1}, {1024.5, 2048.5}, {2048, 4096}, {-300, 5000}} {
			ra, dec, err := w.PixelToWorld(pix[0], pix[1])
			require.NoError(t, err)

			x, y, err := w.WorldToPixel(ra, dec)
			require.NoError(t, err)
			assert.InDelta(t, pix[0], x, 1e-6)
			assert.InDelta(t, pix[1], y, 1e-6)

			ra2, dec2, err := w.PixelToWorld(x, y)
			require.NoError(t, err)
			assert.Less(t, emath.AngularSeparation(ra, dec, ra2, dec2), 1e-6)
		}
	}
}

func TestProjectionErrors(t *testing.T) {
	w, err := Parse(tanHeader(150, 0))
	require.NoError(t, err)

	var perr *ProjectionError

	_, _, err = w.WorldToPixel(330, 0) // opposite side of the sky
	require.Error(t, err)
	assert.True(t, errors.As(err, &perr))

	_, _, err = w.WorldToPixel(150, 95)
	assert.True(t, errors.As(err, &perr))

	_, _, err = w.WorldToPixel(240, 0) // exactly 90 degrees away
	assert.True(t, errors.As(err, &perr))
}

func TestConfigurationErrors(t *testing.T) {
	var cerr *ConfigurationError

	_, err := Parse(nil)
	assert.True(t, errors.As(err, &cerr))

	h := tanHeader(1, 1)
	delete(h, "CRPIX2")
	_, err = Parse(h)
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "CRPIX2", cerr.Key)

	h = tanHeader(1, 1)
	h["CD1_1"], h["CD1_2"], h["CD2_1"], h["CD2_2"] = 1.0, 2.0, 2.0, 4.0
	_, err = Parse(h)
	assert.True(t, errors.As(err, &cerr))

	h = tanHeader(1, 1)
	h["CTYPE1"], h["CTYPE2"] = "RA---SIN", "DEC--SIN"
	_, err = Parse(h)
	assert.True(t, errors.As(err, &cerr))

	h = tanHeader(1, 1)
	for _, k := range []string{"CD1_1", "CD1_2", "CD2_1", "CD2_2"} {
		delete(h, k)
	}
	_, err = Parse(h)
	assert.True(t, errors.As(err, &cerr))

	_, _, err = DetectorToSky(nil, 1, 1)
	assert.True(t, errors.As(err, &cerr))
}

func TestCDELTWithCROTA(t *testing.T) {
	h := Header{
		"CTYPE1": "RA---TAN", "CTYPE2": "DEC--TAN",
		"CRPIX1": 10, "CRPIX2": 10, "CRVAL1": 45.0, "CRVAL2": 45.0,
		"CDELT1": -0.001, "CDELT2": 0.001, "CROTA2": 90.0,
	}
	w, err := Parse(h)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, w.CD[0], 1e-15)
	assert.InDelta(t, -0.001, w.CD[1], 1e-15)
	assert.InDelta(t, -0.001, w.CD[3], 1e-15)
}

func TestSIPRoundTrip(t *testing.T) {
	h := tanHeader(80, 20)
	h["CTYPE1"], h["CTYPE2"] = "RA---TAN-SIP", "DEC--TAN-SIP"
	h["A_ORDER"], h["B_ORDER"] = 2, 2
	h["A_2_0"], h["A_1_1"], h["A_0_2"] = 2e-6, -1e-6, 5e-7
	h["B_2_0"], h["B_1_1"], h["B_0_2"] = -3e-7, 1.5e-6, 1e-6

	w, err := Parse(h)
	require.NoError(t, err)
	require.NotNil(t, w.SIP)

	ra, dec, err := w.PixelToWorld(100, 3900)
	require.NoError(t, err)
	x, y, err := w.WorldToPixel(ra, dec)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, x, 1e-6)
	assert.InDelta(t, 3900.0, y, 1e-6)

	delete(h, "B_ORDER")
	_, err = Parse(h)
	var cerr *ConfigurationError
	assert.True(t, errors.As(err, &cerr))
}

func TestMapperWithChip(t *testing.T) {
	chip, err := Parse(Header{
		"CTYPE1": "LINEAR", "CTYPE2": "LINEAR",
		"CRPIX1": 1.0, "CRPIX2": 1.0, "CRVAL1": 2049.0, "CRVAL2": 1.0,
		"CD1_1": 1.0, "CD2_2": 1.0,
	})
	require.NoError(t, err)
	astrom, err := Parse(tanHeader(150.1, 2.2))
	require.NoError(t, err)

	m := Mapper{Chip: chip, Astrom: astrom}
	p, err := m.PixelToSky(1, 1)
	require.NoError(t, err)
	assert.Equal(t, 2049.0, p.DetX)
	assert.Equal(t, 1.0, p.DetY)

	back, err := m.SkyToPixel(p.RA, p.Dec)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, back.PixX, 1e-6)
	assert.InDelta(t, 1.0, back.PixY, 1e-6)

	_, _, err = PixelToDetector(astrom, 1, 1)
	var cerr *ConfigurationError
	assert.True(t, errors.As(err, &cerr), "a celestial chip transform is a configuration error")
}

func TestHeaderFloat(t *testing.T) {
	h := Header{"A": int64(3), "B": float32(1.5), "C": " 2.5 ", "D": "nope", "E": true}
	v, ok := h.Float("A")
	assert.True(t, ok)
	assert.Equal(t, 3.0, v)
	v, _ = h.Float("B")
	assert.Equal(t, 1.5, v)
	v, _ = h.Float("C")
	assert.Equal(t, 2.5, v)
	_, ok = h.Float("D")
	assert.False(t, ok)
	_, ok = h.Float("E")
	assert.False(t, ok)
	_, ok = h.Float("missing")
	assert.False(t, ok)
}
