// Package match pairs up points across two frames, using their WCS
// solutions.
package match

import(
	"fmt"

	"github.com/abworrall/ccdtrail/pkg/wcs"
)

// A Match pairs a point in frame 1 with its counterpart in frame 2.
// For grid samples the indices are the sample number; for detections
// they index into the two source tables.
type Match struct {
	Index1, Index2 int
	P1, P2         wcs.Point
	SepArcsec      float64
}

func (m Match)String() string {
	return fmt.Sprintf("[%4d]->[%4d] (%8.2f,%8.2f)->(%8.2f,%8.2f) sky (%.6f,%.6f) sep %.2f\"",
		m.Index1, m.Index2, m.P1.PixX, m.P1.PixY, m.P2.PixX, m.P2.PixY, m.P1.RA, m.P1.Dec, m.SepArcsec)
}

type Options struct {
	MaxSeparationArcsec float64 // 0 means no limit
}
