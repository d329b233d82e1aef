package solver

import(
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"
)

// Options for astrometry.net's solve-field. Scales are arcsec/pixel.
type Options struct {
	Binary    string
	ScaleLow  float64
	ScaleHigh float64

	// Bintable means the field file is a table of sources (x_det,
	// y_det, flux), not an image; Width and Height give the frame size
	// (0 means take it from the frame, see ForFrame).
	Bintable  bool
	Width     int
	Height    int

	// Search box; only used if both RA and Dec are set.
	RA        *float64 `yaml:",omitempty"`
	Dec       *float64 `yaml:",omitempty"`
	Radius    float64  // degrees

	OutDir    string
	Timeout   time.Duration
}

func NewOptions() Options {
	return Options{
		Binary:    "/usr/bin/solve-field",
		ScaleLow:  0.3,
		ScaleHigh: 0.4,
		Bintable:  true,
		Radius:    2,
		Timeout:   5 * time.Minute,
	}
}

func ftoa(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

// Args builds the solve-field command line; outputs are written to
// <prefix>.wcs and <prefix>.corr, and nothing else.
func (o Options)Args(field, prefix string) []string {
	args := []string{
		field,
		"--no-verify",
		"--no-plots",
		"--crpix-center",
		"--new-fits", "none",
		"--wcs", prefix + ".wcs",
		"--solved", "none",
		"--match", "none",
		"--rdls", "none",
		"--corr", prefix + ".corr",
		"--axy", "none",
		"--index-xyls", "none",
		"--overwrite",
		"--scale-low", ftoa(o.ScaleLow),
		"--scale-high", ftoa(o.ScaleHigh),
		"--scale-units", "arcsecperpix",
	}

	if o.OutDir != "" {
		args = append(args, "--dir", o.OutDir)
	}

	if o.Bintable {
		args = append(args,
			"--x-column", "x_det",
			"--y-column", "y_det",
			"--sort-column", "flux")
		if o.Width > 0 && o.Height > 0 {
			args = append(args, "--width", strconv.Itoa(o.Width), "--height", strconv.Itoa(o.Height))
		}
	}

	if o.RA != nil && o.Dec != nil {
		args = append(args,
			"--ra", ftoa(*o.RA),
			"--dec", ftoa(*o.Dec),
			"--radius", ftoa(o.Radius))
	}

	return args
}

// ForFrame fills in whichever of Width and Height aren't set, from the
// size of the frame being solved.
func (o Options)ForFrame(w, h int) Options {
	if o.Width <= 0 { o.Width = w }
	if o.Height <= 0 { o.Height = h }
	return o
}

// WCSFile is where a successful solve leaves its solution.
func (o Options)WCSFile(prefix string) string {
	if o.OutDir != "" {
		return filepath.Join(o.OutDir, prefix + ".wcs")
	}
	return prefix + ".wcs"
}

// A Runner runs a command to completion, returning its combined output.
type Runner interface {
	Run(ctx context.Context, binary string, args []string) (output []byte, exitCode int, err error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner)Run(ctx context.Context, binary string, args []string) ([]byte, int, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out.Bytes(), exitErr.ExitCode(), nil
	}
	if err != nil {
		return out.Bytes(), -1, err
	}
	return out.Bytes(), 0, nil
}

// SolverFailure is returned when solve-field fails, times out, or
// exits cleanly without writing a solution.
type SolverFailure struct {
	Field    string
	ExitCode int
	Output   string
	Reason   string
	Err      error
}

func (e *SolverFailure)Error() string {
	str := fmt.Sprintf("solve-field %s: %s", e.Field, e.Reason)
	if e.ExitCode != 0 {
		str += fmt.Sprintf(" (exit %d)", e.ExitCode)
	}
	if e.Err != nil {
		str += ": " + e.Err.Error()
	}
	return str
}

func (e *SolverFailure)Unwrap() error { return e.Err }

type Solver struct {
	Options
	Runner Runner
}

func New(o Options) Solver {
	return Solver{Options: o, Runner: ExecRunner{}}
}

// Solve runs solve-field over `field`, and returns the filename of the
// WCS solution it wrote.
func (s Solver)Solve(ctx context.Context, field, prefix string) (string, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	runner := s.Runner
	if runner == nil { runner = ExecRunner{} }

	args := s.Args(field, prefix)
	log.Printf("solver: %s %v\n", s.Binary, args)

	tStart := time.Now()
	out, code, err := runner.Run(ctx, s.Binary, args)
	fail := &SolverFailure{Field: field, ExitCode: code, Output: string(out)}

	switch {
	case ctx.Err() != nil:
		fail.Reason, fail.Err = fmt.Sprintf("gave up after %s", time.Since(tStart).Round(time.Second)), ctx.Err()
		return "", fail
	case err != nil:
		fail.Reason, fail.Err = "could not run", err
		return "", fail
	case code != 0:
		fail.Reason = "non-zero exit"
		return "", fail
	}

	wcsFile := s.WCSFile(prefix)
	if _, err := os.Stat(wcsFile); err != nil {
		fail.Reason, fail.Err = "no solution written to "+wcsFile, err
		return "", fail
	}

	log.Printf("solver: %s solved in %s, %s\n", field, time.Since(tStart).Round(time.Millisecond), wcsFile)
	return wcsFile, nil
}
