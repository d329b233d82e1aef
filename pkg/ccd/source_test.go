package ccd

import(
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abworrall/ccdtrail/pkg/wcs"
)

func TestPruneNaN(t *testing.T) {
	in := SourceTable{Name: "nan", Sources: []Source{
		{X: 1, Flux: 10},
		{X: math.NaN(), Flux: 20},
		{X: 3, Flux: 30},
		{X: 4, Flux: 40, FluxRadius: Computed(math.NaN())},
		{X: 5, Flux: 50, FluxRadius: Unavailable("no flux")},
		{X: 6, Flux: 60, Theta: math.NaN()},
		{X: 7, Flux: 70, RA: math.NaN(), HasSky: true},
	}}

	out := PruneNaN(in)
	require.Equal(t, 3, out.Len())
	assert.Equal(t, "nan", out.Name)
	assert.Equal(t, 10.0, out.Sources[0].Flux)
	assert.Equal(t, 30.0, out.Sources[1].Flux)
	assert.Equal(t, 50.0, out.Sources[2].Flux)
	assert.Equal(t, 7, in.Len(), "input untouched")

	assert.Equal(t, 0, PruneNaN(SourceTable{}).Len())
}

func tanMapper(t *testing.T) wcs.Mapper {
	astrom, err := wcs.Parse(wcs.Header{
		"CTYPE1": "RA---TAN", "CTYPE2": "DEC--TAN",
		"CRPIX1": 50.0, "CRPIX2": 50.0,
		"CRVAL1": 120.0, "CRVAL2": 30.0,
		"CD1_1": -1.0/3600, "CD1_2": 0.0,
		"CD2_1": 0.0, "CD2_2": 1.0/3600,
	})
	require.NoError(t, err)
	return wcs.Mapper{Astrom: astrom}
}

func TestAugmentSky(t *testing.T) {
	m := tanMapper(t)
	in := SourceTable{Name: "sky", Sources: []Source{{X: 49, Y: 49}, {X: 149, Y: 49}}}

	out, err := AugmentSky(in, m)
	require.NoError(t, err)
	require.Equal(t, 2, out.Len())

	// 0-based (49,49) is FITS pixel (50,50), the reference pixel
	s := out.Sources[0]
	assert.True(t, s.HasSky)
	assert.InDelta(t, 120.0, s.RA, 1e-9)
	assert.InDelta(t, 30.0, s.Dec, 1e-9)
	assert.False(t, in.Sources[0].HasSky, "input untouched")

	// 100 pixels in +x is 100 arcsec east... so RA goes down
	assert.Less(t, out.Sources[1].RA, 120.0)
	assert.InDelta(t, 30.0, out.Sources[1].Dec, 1e-3)

	_, err = AugmentSky(in, wcs.Mapper{})
	require.Error(t, err)
	var ce *wcs.ConfigurationError
	assert.ErrorAs(t, err, &ce)
}

func TestCatalogYAMLRoundTrip(t *testing.T) {
	in := SourceTable{Name: "cat", Sources: []Source{
		{X: 1.5, Y: 2.5, Flux: 100, XMax: 3, Flag: FlagMerged, FWHM: Computed(2.5), KronRadius: Unavailable("masked")},
	}}
	filename := filepath.Join(t.TempDir(), "cat.yaml")
	require.NoError(t, WriteCatalogYAML(in, filename))

	out, err := LoadCatalogYAML(filename)
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())
	assert.Equal(t, "cat", out.Name)
	assert.Equal(t, 1.5, out.Sources[0].X)
	assert.Equal(t, FlagMerged, out.Sources[0].Flag)
	assert.Equal(t, Computed(2.5), out.Sources[0].FWHM)
	assert.False(t, out.Sources[0].KronRadius.Available)
	assert.Equal(t, "masked", out.Sources[0].KronRadius.Reason)
}
