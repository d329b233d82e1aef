package ccd

import(
	"fmt"
	"io/ioutil"
	"log"

	"gopkg.in/yaml.v2"

	"github.com/abworrall/ccdtrail/pkg/solver"
)

/* Example config file ...

verbosity: 1
hdu: 1
background:
  boxwidth: 64
  boxheight: 64
extract:
  threshold: 2.5
  shapeextras: true
trail:
  exposuretime: 60
  platescale: 0.33
  tolerance: 0.2
match:
  mode: detect
  maxseparationarcsec: 2.0
solver:
  binary: /usr/local/bin/solve-field
  scalelow: 0.3
  scalehigh: 0.4

*/

type BackgroundConfig struct {
	BoxWidth     int
	BoxHeight    int
	FilterWidth  int   // in boxes
	FilterHeight int
}

type ExtractConfig struct {
	SubtractBackground bool    // model & subtract the background before extracting
	Threshold          float64 // in sigma if no error array is given, else multiples of the error array
	MinArea            int
	DeblendNThresh     int
	DeblendContrast    float64
	FilterKernel       bool    // smooth with a 3x3 kernel before thresholding
	Segmentation       bool
	ShapeExtras        bool
}

type TrailConfig struct {
	ExposureTime float64  // seconds
	PlateScale   float64  // arcsec/pixel
	Rate         float64  // arcsec/second
	Tolerance    float64  // fraction of the expected length
	KeepStars    bool     // invert the filter; keep what isn't trail shaped
}

// ExpectedLength is zero if we don't know enough to compute it
func (tc TrailConfig)ExpectedLength() float64 {
	if tc.ExposureTime <= 0 || tc.PlateScale <= 0 {
		return 0
	}
	return TrailLengthAtRate(tc.ExposureTime, tc.PlateScale, tc.Rate)
}

type MatchConfig struct {
	Mode                string  // "detect" or "grid"
	NumSamples          int
	MaxSeparationArcsec float64 // 0 == no limit
	Seed                int64
}

type Config struct {
	Verbosity      int
	HDU            int     // -1 means "ask, or pick the only image"

	Background     BackgroundConfig
	Extract        ExtractConfig
	Trail          TrailConfig
	Match          MatchConfig
	Solver         solver.Options

	Diagnostics    bool
	DiagnosticsDir string
}

func NewConfig() Config {
	return Config{
		HDU: -1,
		Background: BackgroundConfig{
			BoxWidth:     32,
			BoxHeight:    32,
			FilterWidth:  3,
			FilterHeight: 3,
		},
		Extract: ExtractConfig{
			SubtractBackground: true,
			Threshold:          3.0,
			MinArea:            5,
			DeblendNThresh:     32,
			DeblendContrast:    0.05,
			FilterKernel:       true,
		},
		Trail: TrailConfig{
			Rate:      DefaultTrailRate,
			Tolerance: DefaultTrailTolerance,
		},
		Match: MatchConfig{
			Mode:       "grid",
			NumSamples: 1000,
			Seed:       1,
		},
		Solver:         solver.NewOptions(),
		DiagnosticsDir: ".",
	}
}

func newConfigFromYaml(b []byte) (Config, error) {
	c := NewConfig()
	err := yaml.Unmarshal(b, &c)
	return c, err
}

func LoadConfig(filename string) (Config, error) {
	contents, err := ioutil.ReadFile(filename)
	if err != nil {
		return Config{}, fmt.Errorf("config read %s: %w", filename, err)
	}

	c, err := newConfigFromYaml(contents)
	if err != nil {
		return c, fmt.Errorf("config parse %s: %w", filename, err)
	}
	return c, c.Validate()
}

func (c Config)AsYaml() string {
	b, err := yaml.Marshal(c)
	if err != nil {
		log.Fatalf("Can't marshal config yaml: %v\n", err)
	}
	return string(b)
}

// Validate does sanity checks on things that would otherwise fail deep inside a run
func (c Config)Validate() error {
	if c.Background.BoxWidth < 1 || c.Background.BoxHeight < 1 {
		return fmt.Errorf("background box %dx%d too small", c.Background.BoxWidth, c.Background.BoxHeight)
	}
	if c.Background.FilterWidth < 1 || c.Background.FilterHeight < 1 {
		return fmt.Errorf("background filter %dx%d too small", c.Background.FilterWidth, c.Background.FilterHeight)
	}
	if c.Extract.Threshold <= 0 {
		return fmt.Errorf("extract threshold %g must be positive", c.Extract.Threshold)
	}
	if c.Extract.MinArea < 1 {
		return fmt.Errorf("extract minarea %d must be at least 1", c.Extract.MinArea)
	}
	if c.Extract.DeblendNThresh < 1 {
		return fmt.Errorf("extract deblendnthresh %d must be at least 1", c.Extract.DeblendNThresh)
	}
	if c.Trail.Tolerance < 0 {
		return fmt.Errorf("trail tolerance %g is negative", c.Trail.Tolerance)
	}
	switch c.Match.Mode {
	case "grid", "detect":
	default:
		return fmt.Errorf("no match mode named '%s'", c.Match.Mode)
	}
	if c.Match.MaxSeparationArcsec < 0 {
		return fmt.Errorf("match maxseparationarcsec %g is negative", c.Match.MaxSeparationArcsec)
	}
	return nil
}
