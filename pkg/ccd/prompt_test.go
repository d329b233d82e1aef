package ccd

import(
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mosaicHDUs = []HDUInfo{
	{Index: 1, Name: "CCD1", Axes: []int{2048, 4096}},
	{Index: 2, Name: "CCD2", Axes: []int{2048, 4096}},
	{Index: 4, Name: "CCD4", Axes: []int{2048, 4096}},
}

func TestPromptHDU(t *testing.T) {
	var out bytes.Buffer
	n, err := PromptHDU(strings.NewReader("2\n"), &out, "mosaic.fits", mosaicHDUs)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Contains(t, out.String(), "CCD4")
}

func TestPromptHDUReprompts(t *testing.T) {
	var out bytes.Buffer
	n, err := PromptHDU(strings.NewReader("seven\n3\n  4 \n"), &out, "mosaic.fits", mosaicHDUs)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 2, strings.Count(out.String(), "Invalid selection, choose one of 1,2,4"))
	assert.Equal(t, 3, strings.Count(out.String(), "Select HDU [1,2,4]"))
}

func TestPromptHDUGivesUp(t *testing.T) {
	var out bytes.Buffer
	_, err := PromptHDU(strings.NewReader("9\n"), &out, "mosaic.fits", mosaicHDUs)
	assert.True(t, errors.Is(err, ErrNoSuchHDU))

	_, err = PromptHDU(strings.NewReader("1\n"), &out, "empty.fits", nil)
	assert.True(t, errors.Is(err, ErrNoSuchHDU))
}

func TestResolveHDUExplicit(t *testing.T) {
	// An explicit HDU never touches the file
	n, err := ResolveHDU("/does/not/exist.fits", 3, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = ResolveHDU("/does/not/exist.fits", -1, nil, nil)
	assert.Error(t, err)
}

func TestImageHDUs(t *testing.T) {
	infos := []HDUInfo{
		{Index: 0},
		{Index: 1, Axes: []int{100, 100}},
		{Index: 2, Axes: []int{100}},
		{Index: 3, Axes: []int{0, 100}},
		{Index: 4, Axes: []int{10, 20}},
	}
	images := ImageHDUs(infos)
	require.Equal(t, 2, len(images))
	assert.Equal(t, 1, images[0].Index)
	assert.Equal(t, 4, images[1].Index)
}
