package emath

import "math"

// Some functions that only operate on basic types, that are useful

const(
	Deg2Rad = math.Pi / 180.0
	Rad2Deg = 180.0 / math.Pi
	ArcsecPerDeg = 3600.0
)

// https://www.sjbrown.co.uk/posts/gamma-correct-rendering/ - "linear RGB to sRGB"
// `f` is assumed to be in the range [0,1]
func GammaExpand_F64(f float64) float64 {
	if f <= 0.0031308 {
		return 12.92 * f
	}
	return 1.055 * math.Pow(f, 1.0/2.4) - 0.055
}

func Clamp(f, lo, hi float64) float64 {
	if f < lo { return lo }
	if f > hi { return hi }
	return f
}

func IsFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// SkyToVec maps (ra,dec) in degrees to a unit vector.
func SkyToVec(raDeg, decDeg float64) Vec3 {
	ra, dec := raDeg*Deg2Rad, decDeg*Deg2Rad
	return Vec3{math.Cos(dec) * math.Cos(ra), math.Cos(dec) * math.Sin(ra), math.Sin(dec)}
}

// VecToSky is the inverse of SkyToVec; ra is normalized into [0,360).
func VecToSky(v Vec3) (float64, float64) {
	ra := math.Atan2(v[1], v[0]) * Rad2Deg
	if ra < 0 { ra += 360.0 }
	dec := math.Atan2(v[2], math.Hypot(v[0], v[1])) * Rad2Deg
	return ra, dec
}

// AngularSeparation returns the great circle distance in degrees,
// using the Vincenty formula (well behaved at both small and large
// separations).
func AngularSeparation(ra1, dec1, ra2, dec2 float64) float64 {
	dra := (ra2 - ra1) * Deg2Rad
	d1, d2 := dec1*Deg2Rad, dec2*Deg2Rad
	sd1, cd1 := math.Sincos(d1)
	sd2, cd2 := math.Sincos(d2)
	sdra, cdra := math.Sincos(dra)

	num1 := cd2 * sdra
	num2 := cd1*sd2 - sd1*cd2*cdra
	denom := sd1*sd2 + cd1*cd2*cdra
	return math.Atan2(math.Hypot(num1, num2), denom) * Rad2Deg
}
