package wcs

import "fmt"

// A ConfigurationError means the WCS solution itself is missing or
// unusable (missing keywords, singular CD matrix, unsupported
// projection).
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError)Error() string {
	if e.Key == "" {
		return fmt.Sprintf("wcs configuration: %s", e.Reason)
	}
	return fmt.Sprintf("wcs configuration: %s: %s", e.Key, e.Reason)
}

// A ProjectionError means the solution is fine, but the coordinates
// given can't be mapped through it (behind the tangent plane, not
// finite, distortion inverse did not converge).
type ProjectionError struct {
	Op     string
	X, Y   float64
	Reason string
}

func (e *ProjectionError)Error() string {
	return fmt.Sprintf("wcs %s (%g,%g): %s", e.Op, e.X, e.Y, e.Reason)
}
