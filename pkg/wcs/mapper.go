package wcs

// The chain for a CCD mosaic is
//
//   pixel (per chip) --chip WCS--> detector (common to the mosaic) --astrometric WCS--> (ra,dec)
//
// For a single-chip camera there is no chip transform, and detector == pixel.
// Every coordinate along the chain uses the FITS 1-based origin.

// PixelToDetector applies a chip's linear transform; a nil chip is the identity.
func PixelToDetector(chip *WCS, x, y float64) (float64, float64, error) {
	if chip == nil {
		return x, y, nil
	}
	if chip.IsCelestial() {
		return 0, 0, &ConfigurationError{Key: "CTYPE", Reason: "chip transform must be linear, not "+chip.Projection}
	}
	return chip.PixelToWorld(x, y)
}

func DetectorToPixel(chip *WCS, xd, yd float64) (float64, float64, error) {
	if chip == nil {
		return xd, yd, nil
	}
	if chip.IsCelestial() {
		return 0, 0, &ConfigurationError{Key: "CTYPE", Reason: "chip transform must be linear, not "+chip.Projection}
	}
	return chip.WorldToPixel(xd, yd)
}

func DetectorToSky(astrom *WCS, xd, yd float64) (float64, float64, error) {
	if astrom == nil {
		return 0, 0, &ConfigurationError{Reason: "no astrometric solution"}
	}
	if !astrom.IsCelestial() {
		return 0, 0, &ConfigurationError{Key: "CTYPE", Reason: "astrometric solution has no celestial projection"}
	}
	return astrom.PixelToWorld(xd, yd)
}

func SkyToDetector(astrom *WCS, ra, dec float64) (float64, float64, error) {
	if astrom == nil {
		return 0, 0, &ConfigurationError{Reason: "no astrometric solution"}
	}
	if !astrom.IsCelestial() {
		return 0, 0, &ConfigurationError{Key: "CTYPE", Reason: "astrometric solution has no celestial projection"}
	}
	return astrom.WorldToPixel(ra, dec)
}

// A Mapper bundles the two transforms for one frame.
type Mapper struct {
	Chip   *WCS // optional
	Astrom *WCS
}

// A Point carries one position through every stage of the chain.
type Point struct {
	PixX, PixY float64
	DetX, DetY float64
	RA, Dec    float64
}

func (m Mapper)PixelToSky(x, y float64) (Point, error) {
	p := Point{PixX: x, PixY: y}
	var err error
	if p.DetX, p.DetY, err = PixelToDetector(m.Chip, x, y); err != nil {
		return p, err
	}
	if p.RA, p.Dec, err = DetectorToSky(m.Astrom, p.DetX, p.DetY); err != nil {
		return p, err
	}
	return p, nil
}

func (m Mapper)SkyToPixel(ra, dec float64) (Point, error) {
	p := Point{RA: ra, Dec: dec}
	var err error
	if p.DetX, p.DetY, err = SkyToDetector(m.Astrom, ra, dec); err != nil {
		return p, err
	}
	if p.PixX, p.PixY, err = DetectorToPixel(m.Chip, p.DetX, p.DetY); err != nil {
		return p, err
	}
	return p, nil
}
