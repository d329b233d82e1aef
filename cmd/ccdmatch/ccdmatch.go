package main

import(
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/abworrall/ccdtrail/pkg/ccd"
	"github.com/abworrall/ccdtrail/pkg/diagnostics"
	"github.com/abworrall/ccdtrail/pkg/emath"
	"github.com/abworrall/ccdtrail/pkg/match"
	"github.com/abworrall/ccdtrail/pkg/wcs"
)

var(
	fVerbosity int
	fConfig string
	fHDU int
	fMode string
	fNumSamples int
	fMaxSep float64
	fSeed int64
	fSubtract string
	fCat1, fCat2 string
	fRefine float64
	fDiagnostics bool
	fOutDir string
)

func init() {
	flag.IntVar(&fVerbosity, "v", 0, "how verbose to get")
	flag.StringVar(&fConfig, "config", "", "YAML config file (flags override it)")
	flag.IntVar(&fHDU, "hdu", -1, "which HDU to load; -1 to be asked (if there's a choice)")
	flag.StringVar(&fMode, "mode", "", "how to match: grid (sample points via the WCS), detect (match extracted sources)")
	flag.IntVar(&fNumSamples, "n", 0, "number of grid samples")
	flag.Float64Var(&fMaxSep, "maxsep", -1, "max separation for detection matches, arcsec (0: no limit)")
	flag.Int64Var(&fSeed, "seed", 0, "random seed for grid samples")
	flag.StringVar(&fCat1, "cat1", "", "detect mode: use this saved source catalogue (ccdextract's -sources.yaml) for img1, instead of extracting")
	flag.StringVar(&fCat2, "cat2", "", "detect mode: ditto, for img2")
	flag.StringVar(&fSubtract, "subtract", "", "align img2 onto img1, and write img1-img2 to this FITS file")
	flag.Float64Var(&fRefine, "refine", 0, "after fitting, try nudges of up to this many pixels to improve the alignment")
	flag.BoolVar(&fDiagnostics, "diagnostics", false, "write PNGs of the matches (and the subtraction)")
	flag.StringVar(&fOutDir, "o", ".", "where to write diagnostics")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] img1 img2 [wcs1 wcs2 [mask]]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	log.Printf("ccdmatch starting\n")
}

func loadConfig() ccd.Config {
	cfg := ccd.NewConfig()
	if fConfig != "" {
		var err error
		if cfg, err = ccd.LoadConfig(fConfig); err != nil {
			log.Fatal(err)
		}
	}

	if fVerbosity > 0 { cfg.Verbosity = fVerbosity }
	if fHDU >= 0 { cfg.HDU = fHDU }
	if fMode != "" { cfg.Match.Mode = fMode }
	if fNumSamples > 0 { cfg.Match.NumSamples = fNumSamples }
	if fMaxSep >= 0 { cfg.Match.MaxSeparationArcsec = fMaxSep }
	if fSeed != 0 { cfg.Match.Seed = fSeed }
	if fDiagnostics { cfg.Diagnostics = true }
	cfg.DiagnosticsDir = fOutDir

	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}
	return cfg
}

func exitIfMissing(filenames ...string) {
	for _, filename := range filenames {
		if _, err := os.Stat(filename); errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "File not found: %s\n", filename)
			os.Exit(1)
		}
	}
}

func loadFrame(cfg ccd.Config, filename string) ccd.Frame {
	hdu, err := ccd.ResolveHDU(filename, cfg.HDU, os.Stdin, os.Stdout)
	if err != nil {
		log.Fatal(err)
	}
	f, err := ccd.LoadFrame(filename, hdu)
	if err != nil {
		log.Fatal(err)
	}
	return f
}

// mapperFor uses the separate WCS file if there is one (with the
// frame's own header supplying any chip transform); else the frame's
// header needs to hold the astrometric solution itself.
func mapperFor(f ccd.Frame, wcsFile string) wcs.Mapper {
	if wcsFile == "" {
		astrom, err := wcs.Parse(f.Header)
		if err != nil {
			log.Fatalf("%s: no usable WCS in the header (%v); pass WCS files as args", f.Filename(), err)
		}
		return wcs.Mapper{Astrom: astrom}
	}

	astrom, err := wcs.Load(wcsFile, 0)
	if err != nil {
		log.Fatal(err)
	}
	return wcs.Mapper{Chip: f.ChipWCS(), Astrom: astrom}
}

func main() {
	cfg := loadConfig()
	args := flag.Args()
	if len(args) != 2 && len(args) != 4 && len(args) != 5 {
		flag.Usage()
		os.Exit(1)
	}
	exitIfMissing(args...)
	for _, cat := range []string{fCat1, fCat2} {
		if cat != "" { exitIfMissing(cat) }
	}

	f1, f2 := loadFrame(cfg, args[0]), loadFrame(cfg, args[1])
	wcs1, wcs2 := "", ""
	if len(args) >= 4 {
		wcs1, wcs2 = args[2], args[3]
	}
	if len(args) == 5 {
		mask, err := ccd.LoadMask(args[4], 0)
		if err != nil {
			log.Fatal(err)
		}
		f1.Mask = mask
		if mask.Fits(&f2.FloatGrid) {
			f2.Mask = mask
		}
	}

	m1, m2 := mapperFor(f1, wcs1), mapperFor(f2, wcs2)
	if cfg.Verbosity > 0 {
		log.Printf("Final configuration:-\n\n%s\n", cfg.AsYaml())
		log.Printf("%s: %s\n%s: %s\n", f1, m1.Astrom, f2, m2.Astrom)
	}

	var matches []match.Match
	var err error
	switch cfg.Match.Mode {
	case "grid":
		rng := rand.New(rand.NewSource(cfg.Match.Seed))
		matches, err = match.SampleGrid(
			match.Frame{Mapper: m1, W: f1.Dx(), H: f1.Dy()},
			match.Frame{Mapper: m2, W: f2.Dx(), H: f2.Dy()},
			cfg.Match.NumSamples, rng)

	case "detect":
		matches, err = matchDetections(cfg, f1, f2, m1, m2)
	}
	if err != nil {
		log.Fatal(err)
	}

	dx, dy := match.Offsets(matches)
	log.Printf("%d matches, mean offset (%.2f,%.2f)px, %s\n", len(matches), dx, dy, match.Summarize(matches))

	if cfg.Diagnostics {
		title := fmt.Sprintf("%s -> %s: %d matches (%s)", f1.Filename(), f2.Filename(), len(matches), cfg.Match.Mode)
		if err := diagnostics.PlotMatches(&f1.FloatGrid, title, filepath.Join(fOutDir, "matches.png"), matches); err != nil {
			log.Fatal(err)
		}
	}

	if fSubtract != "" {
		subtract(cfg, f1, f2, matches)
	}
}

func matchDetections(cfg ccd.Config, f1, f2 ccd.Frame, m1, m2 wcs.Mapper) ([]match.Match, error) {
	tables := []ccd.SourceTable{}
	for i, pair := range []struct{ f ccd.Frame; m wcs.Mapper; cat string }{{f1, m1, fCat1}, {f2, m2, fCat2}} {
		sources, backdrop, err := sourcesFor(cfg, pair.f, pair.cat)
		if err != nil {
			return nil, err
		}
		t, err := ccd.AugmentSky(sources, pair.m)
		if err != nil {
			return nil, err
		}
		if cfg.Diagnostics {
			title := fmt.Sprintf("%s: %d sources", pair.f.Filename(), t.Len())
			fname := filepath.Join(fOutDir, fmt.Sprintf("sources-%d.png", i+1))
			if err := diagnostics.PlotSources(backdrop, title, fname, t); err != nil {
				return nil, err
			}
		}
		tables = append(tables, t)
	}

	return match.NearestNeighbours(tables[0], tables[1], match.Options{MaxSeparationArcsec: cfg.Match.MaxSeparationArcsec})
}

// sourcesFor loads a saved catalogue if there is one, else extracts
// sources from the frame. Also returns the grid to plot them over.
func sourcesFor(cfg ccd.Config, f ccd.Frame, catFile string) (ccd.SourceTable, *emath.FloatGrid, error) {
	if catFile != "" {
		t, err := ccd.LoadCatalogYAML(catFile)
		if err != nil {
			return t, nil, err
		}
		log.Printf("%s: %d sources from %s\n", f.Filename(), t.Len(), catFile)
		return ccd.PruneNaN(t), &f.FloatGrid, nil
	}

	res, err := ccd.ProcessFrame(cfg, f)
	if err != nil {
		return ccd.SourceTable{}, nil, err
	}
	return res.Sources, &res.Subtracted, nil
}

func subtract(cfg ccd.Config, f1, f2 ccd.Frame, matches []match.Match) {
	al, err := match.FitAffine(f1.Filename()+"-"+f2.Filename(), matches)
	if err != nil {
		log.Fatal(err)
	}
	if fRefine > 0 {
		al = match.Refine(&f1.FloatGrid, &f2.FloatGrid, al, fRefine, 0.25, 8)
	}
	log.Printf("Alignment: %s\n", al)

	diff, err := match.Subtract(&f1.FloatGrid, &f2.FloatGrid, al)
	if err != nil {
		log.Fatal(err)
	}
	if err := ccd.WriteFrame(fSubtract, &diff, f1.Header); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s\n", fSubtract)

	if cfg.Diagnostics {
		title := fmt.Sprintf("%s - %s", f1.Filename(), f2.Filename())
		if err := diagnostics.PlotGrid(&diff, title, filepath.Join(fOutDir, "subtracted.png")); err != nil {
			log.Fatal(err)
		}
	}
}
