package classifier

import (
	"fmt"
	"math"
)

// OpErfc is the complementary error function used by the exact GELU activation.
const OpErfc = "Erfc"

// ErfcMode selects the Erfc implementation.
type ErfcMode string

const (
	// ErfcPolynomial is the Abramowitz–Stegun 7.1.26 approximation.
	ErfcPolynomial ErfcMode = "polynomial"
	// ErfcNative uses math.Erfc.
	ErfcNative ErfcMode = "native"
)

// ErfcPolynomialMaxError is the documented maximum absolute error of
// ErfcApprox (A&S 7.1.26).
const ErfcPolynomialMaxError = 1.5e-7

const (
	asP  = 0.3275911
	asA1 = 0.254829592
	asA2 = -0.284496736
	asA3 = 1.421413741
	asA4 = -1.453152027
	asA5 = 1.061405429
)

// ErfcApprox computes erfc(x) with the five-term A&S series. The series is
// defined for x >= 0; negative arguments use erfc(-x) = 2 - erfc(x).
func ErfcApprox(x float64) float64 {
	z := math.Abs(x)
	t := 1 / (1 + asP*z)
	poly := t * (asA1 + t*(asA2+t*(asA3+t*(asA4+t*asA5))))
	r := poly * math.Exp(-z*z)
	if x < 0 {
		return 2 - r
	}
	return r
}

// RegisterErfc installs the chosen Erfc kernel. It is a no-op when Erfc is
// already registered, so calling it more than once is safe.
func RegisterErfc(r *Registry, mode ErfcMode) error {
	if r.IsRegistered(OpErfc) {
		return nil
	}
	var k Kernel
	switch mode {
	case ErfcPolynomial, "":
		k = ErfcApprox
	case ErfcNative:
		k = math.Erfc
	default:
		return fmt.Errorf("unknown erfc mode %q", mode)
	}
	r.Register(OpErfc, k)
	return nil
}
