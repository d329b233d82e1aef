package ccd

import(
	"fmt"
	"log"

	"github.com/abworrall/ccdtrail/pkg/emath"
)

// Result is everything ProcessFrame worked out about a frame.
type Result struct {
	Frame      Frame
	Background Background
	Subtracted emath.FloatGrid   // What extraction ran over
	Extraction
	NDetected  int               // Before trail filtering
}

// ProcessFrame runs the standard chain: background subtraction,
// extraction, NaN pruning, trail filtering.
func ProcessFrame(cfg Config, f Frame) (Result, error) {
	res := Result{Frame: f}
	if cfg.Verbosity > 1 {
		log.Printf("%s: raw %s\n", f.Filename(), f.Stats())
	}

	if cfg.Extract.SubtractBackground {
		sub, bkg, err := SubtractBackground(&res.Frame, cfg.Background)
		if err != nil {
			return res, err
		}
		res.Subtracted, res.Background = sub, bkg
	} else {
		// Still need a noise level to threshold against
		bkg, err := NewBackground(&res.Frame.FloatGrid, res.Frame.Mask, cfg.Background)
		if err != nil {
			return res, fmt.Errorf("%s: %w", f.Filename(), err)
		}
		res.Subtracted, res.Background = *res.Frame.FloatGrid.Copy(), bkg
	}
	if cfg.Verbosity > 0 {
		log.Printf("%s: %s\n", res.Frame, res.Background)
	}

	ex, err := Extract(f.Filename(), &res.Subtracted, nil, res.Frame.Mask, res.Background.GlobalRMS, cfg.Extract)
	if err != nil {
		return res, err
	}
	ex = ex.Filter(func(s Source) bool { return !s.HasNaN() })
	res.NDetected = ex.Sources.Len()

	if keep := TrailKeeper(cfg.Trail); keep != nil {
		if cfg.Verbosity > 0 {
			logTrails(ex.Sources, cfg.Trail)
		}
		ex = ex.Filter(keep)
	}
	res.Extraction = ex

	log.Printf("%s: %d sources detected, %d kept\n", f.Filename(), res.NDetected, res.Sources.Len())
	return res, nil
}
