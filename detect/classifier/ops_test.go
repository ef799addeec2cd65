package classifier

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErfcApproxWithinDocumentedBound(t *testing.T) {
	worst := 0.0
	for x := -6.0; x <= 6.0; x += 0.001 {
		diff := math.Abs(ErfcApprox(x) - math.Erfc(x))
		worst = math.Max(worst, diff)
	}
	assert.LessOrEqual(t, worst, ErfcPolynomialMaxError)
}

func TestErfcApproxReflection(t *testing.T) {
	for _, x := range []float64{0.1, 0.5, 1, 2.5, 4} {
		assert.InDelta(t, 2, ErfcApprox(x)+ErfcApprox(-x), 1e-12, "x=%v", x)
	}
	// -0 takes the series branch, so both halves carry the series error.
	assert.InDelta(t, 2, ErfcApprox(0)+ErfcApprox(math.Copysign(0, -1)), 2*ErfcPolynomialMaxError)
	assert.InDelta(t, 1, ErfcApprox(0), ErfcPolynomialMaxError)
}

func TestRegisterErfcIdempotent(t *testing.T) {
	reg := NewRegistry()
	assert.False(t, reg.IsRegistered(OpErfc))

	require.NoError(t, RegisterErfc(reg, ErfcPolynomial))
	assert.True(t, reg.IsRegistered(OpErfc))

	// A second registration with a different mode keeps the first kernel.
	require.NoError(t, RegisterErfc(reg, ErfcNative))
	k, ok := reg.Kernel(OpErfc)
	require.True(t, ok)
	assert.Equal(t, ErfcApprox(0.3), k(0.3))
}

func TestRegisterErfcUnknownMode(t *testing.T) {
	assert.Error(t, RegisterErfc(NewRegistry(), "chebyshev"))
}

func TestRegistryRegister(t *testing.T) {
	reg := NewRegistry()
	assert.True(t, reg.Register("Tanh", math.Tanh))
	assert.False(t, reg.Register("Tanh", math.Sin), "duplicate registration is a no-op")
	assert.False(t, reg.Register("MatMul", math.Sin), "built-ins cannot be replaced")
	assert.False(t, reg.Register("Nil", nil))

	k, ok := reg.Kernel("Tanh")
	require.True(t, ok)
	assert.Equal(t, math.Tanh(0.5), k(0.5))

	for _, op := range []string{"Gather", "MatMul", "Add", "LayerNorm", "Softmax", "Relu"} {
		assert.True(t, reg.IsRegistered(op), op)
	}
}

func TestRegistryRequire(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Require([]string{"MatMul", "Add"}))

	err := reg.Require([]string{"MatMul", "Erfc", "Bogus"})
	require.ErrorIs(t, err, ErrUnregisteredOperation)
	assert.Contains(t, err.Error(), "Bogus, Erfc")
}
