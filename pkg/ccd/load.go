package ccd

import(
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/astrogo/fitsio"
	"github.com/yargevad/filepathx"

	"github.com/abworrall/ccdtrail/pkg/emath"
	"github.com/abworrall/ccdtrail/pkg/wcs"
)

var fitsExtensions = map[string]bool{".fits": true, ".fit": true, ".fts": true}

func IsFITSFile(filename string) bool {
	return fitsExtensions[strings.ToLower(filepath.Ext(filename))]
}

// ExpandInputs turns command line args into a sorted list of FITS
// files; args can be files, dirs (recursed into), or globs that may
// use `**`.
func ExpandInputs(args ...string) ([]string, error) {
	seen := map[string]bool{}
	files := []string{}

	var walk func(arg string) error
	walk = func(arg string) error {
		if strings.ContainsAny(arg, "*?[") {
			matches, err := filepathx.Glob(arg)
			if err != nil {
				return fmt.Errorf("glob %s: %w", arg, err)
			}
			for _, m := range matches {
				if err := walk(m); err != nil {
					return err
				}
			}
			return nil
		}

		item, err := os.Stat(arg)
		switch {

		case err != nil:
			return fmt.Errorf("load %s: %w", arg, err)

		case item.IsDir():
			// Is a dir, recurse into contents
			contents, err := ioutil.ReadDir(arg)
			if err != nil {
				return fmt.Errorf("readdir %s: %w", arg, err)
			}
			for _, content := range contents {
				if err := walk(filepath.Join(arg, content.Name())); err != nil {
					return err
				}
			}

		case IsFITSFile(arg) && !seen[arg]:
			seen[arg] = true
			files = append(files, arg)
		}
		return nil
	}

	for _, arg := range args {
		if err := walk(arg); err != nil {
			return nil, err
		}
	}

	sort.Strings(files)
	return files, nil
}

// HDUInfo describes one extension, for picking which one to load.
type HDUInfo struct {
	Index int
	Name  string
	Axes  []int
}

func (hi HDUInfo)IsImage2D() bool { return len(hi.Axes) == 2 && hi.Axes[0] > 0 && hi.Axes[1] > 0 }

func (hi HDUInfo)String() string {
	name := hi.Name
	if name == "" { name = "(unnamed)" }
	return fmt.Sprintf("%2d: %-12s %v", hi.Index, name, hi.Axes)
}

// openFITS does the open/parse dance, and hands the file to fn; both
// handles are closed before returning, on every path.
func openFITS(filename string, fn func(*fitsio.File) error) error {
	r, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("open+r '%s': %w", filename, err)
	}
	defer r.Close()

	f, err := fitsio.Open(r)
	if err != nil {
		return fmt.Errorf("fits parsing '%s': %w", filename, err)
	}
	defer f.Close()

	return fn(f)
}

func ListHDUs(filename string) ([]HDUInfo, error) {
	infos := []HDUInfo{}
	err := openFITS(filename, func(f *fitsio.File) error {
		for i, hdu := range f.HDUs() {
			info := HDUInfo{Index: i, Name: hdu.Name()}
			if _, isImage := hdu.(fitsio.Image); isImage {
				info.Axes = hdu.Header().Axes()
			}
			infos = append(infos, info)
		}
		return nil
	})
	return infos, err
}

// ImageHDUs filters down to the extensions holding 2D images.
func ImageHDUs(infos []HDUInfo) []HDUInfo {
	out := []HDUInfo{}
	for _, hi := range infos {
		if hi.IsImage2D() {
			out = append(out, hi)
		}
	}
	return out
}

// readPixels reads the raw samples into a slice of the type BITPIX
// says they are stored as (fitsio won't convert), then widens them.
func readPixels(img fitsio.Image, n int) ([]float64, error) {
	out := make([]float64, n)

	switch bitpix := img.Header().Bitpix(); bitpix {
	case 8:
		raw := make([]uint8, n)
		if err := img.Read(&raw); err != nil { return nil, err }
		for i, v := range raw { out[i] = float64(v) }
	case 16:
		raw := make([]int16, n)
		if err := img.Read(&raw); err != nil { return nil, err }
		for i, v := range raw { out[i] = float64(v) }
	case 32:
		raw := make([]int32, n)
		if err := img.Read(&raw); err != nil { return nil, err }
		for i, v := range raw { out[i] = float64(v) }
	case 64:
		raw := make([]int64, n)
		if err := img.Read(&raw); err != nil { return nil, err }
		for i, v := range raw { out[i] = float64(v) }
	case -32:
		raw := make([]float32, n)
		if err := img.Read(&raw); err != nil { return nil, err }
		for i, v := range raw { out[i] = float64(v) }
	case -64:
		if err := img.Read(&out); err != nil { return nil, err }
	default:
		return nil, fmt.Errorf("unsupported BITPIX %d", bitpix)
	}

	return out, nil
}

// LoadFrame reads a 2D image HDU. It does no prompting; see ResolveHDU.
func LoadFrame(filename string, hdu int) (Frame, error) {
	fr := Frame{LoadFilename: filename, HDU: hdu}

	err := openFITS(filename, func(f *fitsio.File) error {
		hdus := f.HDUs()
		if hdu < 0 || hdu >= len(hdus) {
			return fmt.Errorf("'%s' hdu %d (have %d): %w", filename, hdu, len(hdus), ErrNoSuchHDU)
		}

		img, isImage := hdus[hdu].(fitsio.Image)
		if !isImage {
			return fmt.Errorf("'%s' hdu %d is not an image: %w", filename, hdu, ErrNoSuchHDU)
		}

		fr.Header = wcs.HeaderFromFITS(img.Header())
		axes := img.Header().Axes()
		if len(axes) != 2 || axes[0] < 1 || axes[1] < 1 {
			return fmt.Errorf("'%s' hdu %d has axes %v, want 2D: %w", filename, hdu, axes, ErrNoSuchHDU)
		}

		fr.Bitpix = img.Header().Bitpix()
		data, err := readPixels(img, axes[0]*axes[1])
		if err != nil {
			return fmt.Errorf("'%s' hdu %d read: %w", filename, hdu, err)
		}

		// The true value is BZERO + BSCALE * stored value
		bzero, bscale := fr.Header.FloatOr("BZERO", 0), fr.Header.FloatOr("BSCALE", 1)
		if bzero != 0 || bscale != 1 {
			for i := range data {
				data[i] = bzero + bscale*data[i]
			}
		}

		grid, err := emath.NewFloatGridFromValues(axes[0], axes[1], data)
		if err != nil {
			return fmt.Errorf("'%s' hdu %d: %w", filename, hdu, err)
		}
		fr.FloatGrid = grid
		return nil
	})

	return fr, err
}

// LoadMask reads a bad pixel mask, where any non-zero pixel is bad.
func LoadMask(filename string, hdu int) (*Mask, error) {
	fr, err := LoadFrame(filename, hdu)
	if err != nil {
		return nil, fmt.Errorf("mask: %w", err)
	}
	return NewMaskFromGrid(&fr.FloatGrid), nil
}
