package match

import(
	"fmt"
	"log"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/abworrall/ccdtrail/pkg/emath"
)

// An Alignment maps a (FITS 1-based) pixel location in frame 1 to the
// pixel location in frame 2 that sees the same bit of sky.
type Alignment struct {
	Name        string
	Xform       emath.Aff3

	N           int     // How many matches it was fitted to
	RMS         float64 // Residual of the fit, in pixels
	ErrorMetric float64 // From DiffMetric, if it has been scored
}

func (al Alignment)String() string {
	str := fmt.Sprintf("Align[%s %s", al.Name, al.Xform)
	if al.N > 0 {
		str += fmt.Sprintf(", n=%d rms %.3fpx", al.N, al.RMS)
	}
	if al.ErrorMetric != 0.0 {
		str += fmt.Sprintf(", err:%.3f", al.ErrorMetric)
	}
	return str + "]"
}

// FitAffine does a least squares fit of the transform taking P1 to P2
// over the matches.
func FitAffine(name string, matches []Match) (Alignment, error) {
	n := len(matches)
	if n < 3 {
		return Alignment{}, fmt.Errorf("fit %s: need at least 3 matches, have %d", name, n)
	}

	A := mat.NewDense(n, 3, nil)
	bx := mat.NewVecDense(n, nil)
	by := mat.NewVecDense(n, nil)
	for i, m := range matches {
		A.Set(i, 0, m.P1.PixX)
		A.Set(i, 1, m.P1.PixY)
		A.Set(i, 2, 1)
		bx.SetVec(i, m.P2.PixX)
		by.SetVec(i, m.P2.PixY)
	}

	var cx, cy mat.VecDense
	if err := cx.SolveVec(A, bx); err != nil {
		return Alignment{}, fmt.Errorf("fit %s, x: %w", name, err)
	}
	if err := cy.SolveVec(A, by); err != nil {
		return Alignment{}, fmt.Errorf("fit %s, y: %w", name, err)
	}

	al := Alignment{
		Name:  name,
		Xform: emath.Aff3{cx.AtVec(0), cx.AtVec(1), cx.AtVec(2), cy.AtVec(0), cy.AtVec(1), cy.AtVec(2)},
		N:     n,
	}
	if _, ok := al.Xform.Invert(); !ok {
		return Alignment{}, fmt.Errorf("fit %s: transform is singular: %s", name, al.Xform)
	}

	sum := 0.0
	for _, m := range matches {
		x, y := al.Xform.Apply(m.P1.PixX, m.P1.PixY)
		sum += (x-m.P2.PixX)*(x-m.P2.PixX) + (y-m.P2.PixY)*(y-m.P2.PixY)
	}
	al.RMS = math.Sqrt(sum / float64(n))

	return al, nil
}

// resample builds frame 2's values on frame 1's grid; NaN wherever the
// mapped location falls off frame 2.
func resample(g1, g2 *emath.FloatGrid, xform emath.Aff3) emath.FloatGrid {
	out := g1.NewFromThis()
	for y:=0; y<g1.Dy(); y++ {
		for x:=0; x<g1.Dx(); x++ {
			// Grid index i is FITS pixel i+1
			x2, y2 := xform.Apply(float64(x+1), float64(y+1))
			v, ok := g2.Bilinear(x2-1, y2-1)
			if !ok { v = math.NaN() }
			out.Set(x, y, v)
		}
	}
	return out
}

// Subtract returns g1 minus the aligned g2; NaN outside the overlap.
func Subtract(g1, g2 *emath.FloatGrid, al Alignment) (emath.FloatGrid, error) {
	aligned := resample(g1, g2, al.Xform)
	diff, err := g1.Sub(&aligned)
	if err != nil {
		return diff, fmt.Errorf("subtract %s: %w", al.Name, err)
	}
	return diff, nil
}

// DiffMetric is the mean absolute residual over the pixels where both
// frames have data, and what fraction of frame 1 that was.
func DiffMetric(g1, g2 *emath.FloatGrid, al Alignment) (float64, float64) {
	aligned := resample(g1, g2, al.Xform)
	tot, n := 0.0, 0
	for i, v1 := range g1.Values() {
		v2 := aligned.Values()[i]
		if !emath.IsFinite(v1) || !emath.IsFinite(v2) { continue }
		tot += math.Abs(v1 - v2)
		n++
	}
	if n == 0 {
		return math.MaxFloat64, 0
	}
	return tot / float64(n), float64(n) / float64(g1.Len())
}

type refineJob struct {
	Index       int     // Position in the candidate list; breaks ties
	Al          Alignment
	ErrorMetric float64
}

// Refine tries fractional pixel nudges of `al` (up to +/- width pixels,
// in steps of `step`) and keeps whichever one has the lowest
// DiffMetric; ties go to the earliest candidate (smallest dx, then
// dy). The candidates are scored by a pool of goroutines.
func Refine(g1, g2 *emath.FloatGrid, al Alignment, width, step float64, nWorkers int) Alignment {
	if step <= 0 || width <= 0 {
		return al
	}
	if nWorkers < 1 { nWorkers = 1 }

	cands := []Alignment{}
	for dx:=-width; dx<=width+1e-9; dx += step {
		for dy:=-width; dy<=width+1e-9; dy += step {
			c := al
			c.Xform = emath.Identity().Translate(dx, dy).Mult(al.Xform)
			cands = append(cands, c)
		}
	}

	var wg sync.WaitGroup
	jobsChan    := make(chan refineJob, len(cands))
	resultsChan := make(chan refineJob, len(cands))

	for i:=0; i<nWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobsChan {
				job.ErrorMetric, _ = DiffMetric(g1, g2, job.Al)
				resultsChan<- job
			}
		}()
	}

	for i, c := range cands {
		jobsChan<- refineJob{Index: i, Al: c}
	}
	close(jobsChan)
	wg.Wait()
	close(resultsChan)

	// Results arrive in whatever order the workers finish
	best := refineJob{Index: len(cands), ErrorMetric: math.MaxFloat64}
	for result := range resultsChan {
		if result.ErrorMetric < best.ErrorMetric || (result.ErrorMetric == best.ErrorMetric && result.Index < best.Index) {
			best = result
		}
	}

	out := best.Al
	out.ErrorMetric = best.ErrorMetric
	log.Printf("match: refine %s -> %s (%d tried)\n", al, out, len(cands))
	return out
}
