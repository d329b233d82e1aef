package ccd

import(
	"log"
	"math"

	"github.com/skypies/util/histogram"
)

const(
	// DefaultTrailRate is the sidereal drift, arcsec per second of time,
	// which is how fast an untracked star trails across the chip.
	DefaultTrailRate = 15.034

	DefaultTrailTolerance = 0.2
)

// TrailLength is how long (in pixels) a sidereal trail would be after
// `exptime` seconds, at `platescale` arcsec/pixel.
func TrailLength(exptime, platescale float64) float64 {
	return TrailLengthAtRate(exptime, platescale, DefaultTrailRate)
}

func TrailLengthAtRate(exptime, platescale, rate float64) float64 {
	return exptime * rate / platescale
}

func isTrail(s Source, length, tolerance float64) bool {
	return math.Abs(s.Diagonal() - length) <= tolerance * length
}

// FilterTrails keeps the sources whose bounding box diagonal is within
// tolerance*length of length. There is no correction for the angle of
// the trail; a trail's bbox diagonal is its length whatever the angle,
// but a compact source's bbox diagonal is not rotation invariant.
func FilterTrails(t SourceTable, length, tolerance float64) SourceTable {
	return t.Filter(func(s Source) bool { return isTrail(s, length, tolerance) })
}

// RejectTrails is the inverse of FilterTrails; it keeps the stars.
func RejectTrails(t SourceTable, length, tolerance float64) SourceTable {
	return t.Filter(func(s Source) bool { return !isTrail(s, length, tolerance) })
}

// TrailKeeper returns the filter the config asks for; nil if there is
// no expected length to filter on (no exposure time or plate scale).
func TrailKeeper(tc TrailConfig) func(Source) bool {
	length := tc.ExpectedLength()
	if length <= 0 {
		return nil
	}
	if tc.KeepStars {
		return func(s Source) bool { return !isTrail(s, length, tc.Tolerance) }
	}
	return func(s Source) bool { return isTrail(s, length, tc.Tolerance) }
}

func logTrails(t SourceTable, tc TrailConfig) {
	length := tc.ExpectedLength()
	log.Printf("%s: expected trail %.1fpx (+/- %.0f%%), diagonals as %% of that:\n%s\n", t.Name, length,
		tc.Tolerance*100, DiagonalHistogram(t, length))
}

// ApplyTrailConfig runs whichever filter the config asks for; with no
// expected length, the table is returned as is.
func ApplyTrailConfig(t SourceTable, tc TrailConfig, verbosity int) SourceTable {
	keep := TrailKeeper(tc)
	if keep == nil {
		return t
	}
	if verbosity > 0 {
		logTrails(t, tc)
	}
	return t.Filter(keep)
}

// DiagonalHistogram buckets the bbox diagonals as a percentage of the
// expected length, over [0%, 200%).
func DiagonalHistogram(t SourceTable, length float64) *histogram.Histogram {
	h := histogram.Histogram{NumBuckets: 20, ValMin: 0, ValMax: 200}
	for _, s := range t.Sources {
		h.Add(histogram.ScalarVal(int(100 * s.Diagonal() / length)))
	}
	return &h
}
