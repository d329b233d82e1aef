package main

import(
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/abworrall/ccdtrail/pkg/ccd"
	"github.com/abworrall/ccdtrail/pkg/diagnostics"
	"github.com/abworrall/ccdtrail/pkg/solver"
)

var(
	fVerbosity int
	fConfig string
	fHDU int
	fMask string
	fExpTime float64
	fPlateScale float64
	fTolerance float64
	fKeepStars bool
	fThreshold float64
	fMinArea int
	fShapeExtras bool
	fSolve bool
	fDiagnostics bool
	fOutDir string
)

func init() {
	flag.IntVar(&fVerbosity, "v", 0, "how verbose to get")
	flag.StringVar(&fConfig, "config", "", "YAML config file (flags override it)")
	flag.IntVar(&fHDU, "hdu", -1, "which HDU to load; -1 to be asked (if there's a choice)")
	flag.StringVar(&fMask, "mask", "", "bad pixel mask (FITS, non-zero == bad)")

	flag.Float64Var(&fExpTime, "exptime", 0, "exposure time in seconds (0: use the header's EXPTIME)")
	flag.Float64Var(&fPlateScale, "platescale", 0, "plate scale, arcsec/pixel (0: no trail filtering)")
	flag.Float64Var(&fTolerance, "tolerance", -1, "trail length tolerance, as a fraction of the expected length")
	flag.BoolVar(&fKeepStars, "stars", false, "keep the sources that are not trail shaped")

	flag.Float64Var(&fThreshold, "threshold", 0, "detection threshold, in sigma")
	flag.IntVar(&fMinArea, "minarea", 0, "minimum number of pixels in a source")
	flag.BoolVar(&fShapeExtras, "shape", false, "compute ellipticity, FWHM, Kron & flux radius")

	flag.BoolVar(&fSolve, "solve", false, "write a source table and plate solve it with solve-field")
	flag.BoolVar(&fDiagnostics, "diagnostics", false, "write PNGs with the sources plotted")
	flag.StringVar(&fOutDir, "o", ".", "where to write outputs")
	flag.Parse()

	log.Printf("ccdextract starting\n")
}

func loadConfig() ccd.Config {
	cfg := ccd.NewConfig()
	if fConfig != "" {
		var err error
		if cfg, err = ccd.LoadConfig(fConfig); err != nil {
			log.Fatal(err)
		}
	}

	// Override the config file with command line args, if relevant
	if fVerbosity > 0 { cfg.Verbosity = fVerbosity }
	if fHDU >= 0 { cfg.HDU = fHDU }
	if fPlateScale > 0 { cfg.Trail.PlateScale = fPlateScale }
	if fTolerance >= 0 { cfg.Trail.Tolerance = fTolerance }
	if fThreshold > 0 { cfg.Extract.Threshold = fThreshold }
	if fMinArea > 0 { cfg.Extract.MinArea = fMinArea }

	// Just set the bool vars
	if fKeepStars { cfg.Trail.KeepStars = true }
	if fShapeExtras { cfg.Extract.ShapeExtras = true }
	if fDiagnostics { cfg.Diagnostics = true }
	cfg.DiagnosticsDir = fOutDir
	if fSolve { cfg.Solver.OutDir = fOutDir }

	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}
	return cfg
}

// exitIfMissing is the standard treatment for input files that aren't there
func exitIfMissing(filename string) {
	if _, err := os.Stat(filename); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "File not found: %s\n", filename)
		os.Exit(1)
	}
}

func stem(filename string) string {
	return strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
}

func main() {
	cfg := loadConfig()
	if cfg.Verbosity > 0 {
		log.Printf("Final configuration:-\n\n%s\n", cfg.AsYaml())
	}

	for _, arg := range flag.Args() {
		if !strings.ContainsAny(arg, "*?[") { exitIfMissing(arg) }
	}
	files, err := ccd.ExpandInputs(flag.Args()...)
	if err != nil {
		log.Fatal(err)
	} else if len(files) == 0 {
		log.Fatal("no FITS files to work on")
	}

	var mask *ccd.Mask
	if fMask != "" {
		exitIfMissing(fMask)
		if mask, err = ccd.LoadMask(fMask, 0); err != nil {
			log.Fatal(err)
		}
	}

	nFailed := 0
	for _, filename := range files {
		if err := processFile(cfg, filename, mask); err != nil {
			log.Printf("%s: %v\n", filename, err)
			nFailed++
		}
	}

	log.Printf("ccdextract done, %d files, %d failed\n", len(files), nFailed)
	if nFailed > 0 {
		os.Exit(1)
	}
}

func processFile(cfg ccd.Config, filename string, mask *ccd.Mask) error {
	hdu, err := ccd.ResolveHDU(filename, cfg.HDU, os.Stdin, os.Stdout)
	if err != nil {
		return err
	}
	f, err := ccd.LoadFrame(filename, hdu)
	if err != nil {
		return err
	}
	f.Mask = mask

	if fExpTime > 0 {
		cfg.Trail.ExposureTime = fExpTime
	} else if cfg.Trail.ExposureTime <= 0 {
		cfg.Trail.ExposureTime = f.ExposureTime()
	}

	res, err := ccd.ProcessFrame(cfg, f)
	if err != nil {
		return err
	}
	if cfg.Verbosity > 1 {
		log.Printf("%s", res.Sources)
	}

	out := filepath.Join(fOutDir, stem(filename))
	if err := ccd.WriteCatalogYAML(res.Sources, out+"-sources.yaml"); err != nil {
		return err
	}

	if cfg.Diagnostics {
		title := fmt.Sprintf("%s: %d sources", res.Frame.Filename(), res.Sources.Len())
		if err := diagnostics.PlotSources(&res.Subtracted, title, out+"-sources.png", res.Sources); err != nil {
			return err
		}
	}

	if fSolve {
		table := out + "-xy.fits"
		if err := ccd.WriteSolverTable(table, res.Sources, res.Frame.ChipWCS()); err != nil {
			return err
		}
		s := solver.New(cfg.Solver.ForFrame(res.Frame.Dx(), res.Frame.Dy()))
		wcsFile, err := s.Solve(context.Background(), table, stem(filename))
		if err != nil {
			return err
		}
		log.Printf("%s: solution in %s\n", filename, wcsFile)
	}

	return nil
}
