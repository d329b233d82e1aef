package match

import(
	"fmt"

	"github.com/codahale/hdrhistogram"
)

// Separations are recorded in milliarcsec, up to a degree.
const(
	sepUnitsPerArcsec = 1000
	sepMax            = 3600 * sepUnitsPerArcsec
)

type Summary struct {
	N                   int64
	MeanArcsec          float64
	P50, P90, MaxArcsec float64
}

func (s Summary)String() string {
	if s.N == 0 { return "sep[none]" }
	return fmt.Sprintf("sep[n=%d, mean %.3f\", p50 %.3f\", p90 %.3f\", max %.3f\"]",
		s.N, s.MeanArcsec, s.P50, s.P90, s.MaxArcsec)
}

// Summarize describes the distribution of separations.
func Summarize(matches []Match) Summary {
	h := hdrhistogram.New(0, sepMax, 3)
	for _, m := range matches {
		v := int64(m.SepArcsec * sepUnitsPerArcsec)
		if v > sepMax { v = sepMax }
		h.RecordValue(v)
	}

	toArcsec := func(v int64) float64 { return float64(v) / sepUnitsPerArcsec }
	return Summary{
		N:          h.TotalCount(),
		MeanArcsec: h.Mean() / sepUnitsPerArcsec,
		P50:        toArcsec(h.ValueAtQuantile(50)),
		P90:        toArcsec(h.ValueAtQuantile(90)),
		MaxArcsec:  toArcsec(h.Max()),
	}
}
