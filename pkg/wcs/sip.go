package wcs

import(
	"fmt"
	"math"
)

// A Poly is one SIP distortion polynomial: sum of C[p][q] u^p v^q for p+q <= Order.
type Poly struct {
	Order int
	C     [][]float64
}

func (p Poly)Eval(u, v float64) float64 {
	sum := 0.0
	up := 1.0
	for i := 0; i <= p.Order; i++ {
		vq := 1.0
		for j := 0; j <= p.Order-i; j++ {
			sum += p.C[i][j] * up * vq
			vq *= v
		}
		up *= u
	}
	return sum
}

// SIP holds the Simple Imaging Polynomial distortion terms, as written
// by astrometry.net. AP/BP are optional.
type SIP struct {
	A, B   Poly
	AP, BP *Poly
}

const(
	sipMaxIterations = 50
	sipTolerance = 1e-10 // pixels
)

func parsePoly(h Header, name string, required bool) (*Poly, error) {
	key := name+"_ORDER"
	order, ok := h.Int(key)
	if !ok {
		if required {
			return nil, &ConfigurationError{Key: key, Reason: "missing for -SIP projection"}
		}
		return nil, nil
	}
	if order < 0 || order > 9 {
		return nil, &ConfigurationError{Key: key, Reason: fmt.Sprintf("order %d out of range", order)}
	}

	p := Poly{Order: order, C: make([][]float64, order+1)}
	for i := 0; i <= order; i++ {
		p.C[i] = make([]float64, order+1)
		for j := 0; j <= order-i; j++ {
			p.C[i][j] = h.FloatOr(fmt.Sprintf("%s_%d_%d", name, i, j), 0)
		}
	}
	return &p, nil
}

func parseSIP(h Header) (*SIP, error) {
	a, err := parsePoly(h, "A", true)
	if err != nil { return nil, err }
	b, err := parsePoly(h, "B", true)
	if err != nil { return nil, err }
	ap, err := parsePoly(h, "AP", false)
	if err != nil { return nil, err }
	bp, err := parsePoly(h, "BP", false)
	if err != nil { return nil, err }

	if (ap == nil) != (bp == nil) {
		return nil, &ConfigurationError{Key: "AP_ORDER", Reason: "AP and BP must come together"}
	}
	return &SIP{A: *a, B: *b, AP: ap, BP: bp}, nil
}

// Forward applies the distortion to pixel offsets from CRPIX.
func (s *SIP)Forward(u, v float64) (float64, float64) {
	return u + s.A.Eval(u, v), v + s.B.Eval(u, v)
}

// Inverse finds (u,v) such that Forward(u,v) == (U,V). The AP/BP
// polynomials, when present, only seed the iteration.
func (s *SIP)Inverse(U, V float64) (float64, float64, error) {
	u, v := U, V
	if s.AP != nil {
		u, v = U + s.AP.Eval(U, V), V + s.BP.Eval(U, V)
	}

	for i := 0; i < sipMaxIterations; i++ {
		nu := U - s.A.Eval(u, v)
		nv := V - s.B.Eval(u, v)
		if math.IsNaN(nu) || math.IsNaN(nv) || math.IsInf(nu, 0) || math.IsInf(nv, 0) {
			break
		}
		if math.Abs(nu-u) < sipTolerance && math.Abs(nv-v) < sipTolerance {
			return nu, nv, nil
		}
		u, v = nu, nv
	}
	return math.NaN(), math.NaN(), fmt.Errorf("SIP inverse did not converge after %d iterations", sipMaxIterations)
}
