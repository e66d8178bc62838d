package tensor

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randMat(rng *rand.Rand, rows, cols int) *Mat {
	m := New(rows, cols)
	for i := range m.W {
		m.W[i] = rng.NormFloat64()
	}
	return m
}

// weighted reduces out to a scalar with fixed pseudo-random weights so that every
// output element contributes a distinct gradient.
func weighted(tp *Tape, out *Mat) *Mat {
	rng := rand.New(rand.NewSource(99))
	w := randMat(rng, out.Rows, out.Cols)
	return tp.SumAll(tp.Mul(out, w))
}

// assertGradients compares the tape gradients of f with central finite differences.
func assertGradients(t *testing.T, f func(tp *Tape) *Mat, inputs ...*Mat) {
	for _, in := range inputs {
		in.Dw = nil
	}
	tp := NewTape(true)
	loss := f(tp)
	tp.Backward(loss)

	const h = 1e-5
	for k, in := range inputs {
		analytic := append([]float64(nil), in.grad()...)
		for i := range in.W {
			orig := in.W[i]
			in.W[i] = orig + h
			plus := f(NewTape(false)).W[0]
			in.W[i] = orig - h
			minus := f(NewTape(false)).W[0]
			in.W[i] = orig
			numeric := (plus - minus) / (2 * h)
			assert.InDelta(t, numeric, analytic[i], 1e-4, "input %d element %d", k, i)
		}
	}
}

func TestMatMulGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	a, b := randMat(rng, 3, 4), randMat(rng, 4, 2)
	assertGradients(t, func(tp *Tape) *Mat { return weighted(tp, tp.MatMul(a, b)) }, a, b)

	c := randMat(rng, 5, 4)
	assertGradients(t, func(tp *Tape) *Mat { return weighted(tp, tp.MatMulT(a, c)) }, a, c)
}

func TestMatMulValues(t *testing.T) {
	tp := NewTape(false)
	a := FromSlice(2, 2, []float64{1, 2, 3, 4})
	b := FromSlice(2, 1, []float64{1, 1})
	out := tp.MatMul(a, b)
	assert.Equal(t, []float64{3, 7}, out.W)

	empty := tp.MatMul(New(0, 2), b)
	assert.Equal(t, 0, empty.Rows)
	assert.Equal(t, 1, empty.Cols)
}

func TestElementwiseGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	a, b := randMat(rng, 3, 3), randMat(rng, 3, 3)
	v := randMat(rng, 1, 3)

	assertGradients(t, func(tp *Tape) *Mat { return weighted(tp, tp.Gelu(a)) }, a)
	assertGradients(t, func(tp *Tape) *Mat { return weighted(tp, tp.Sigmoid(a)) }, a)
	assertGradients(t, func(tp *Tape) *Mat { return weighted(tp, tp.Add(a, b)) }, a, b)
	assertGradients(t, func(tp *Tape) *Mat { return weighted(tp, tp.AddRow(a, v)) }, a, v)
	assertGradients(t, func(tp *Tape) *Mat { return weighted(tp, tp.Scale(a, -0.5)) }, a)
	assertGradients(t, func(tp *Tape) *Mat { return weighted(tp, tp.RowDot(a, b)) }, a, b)
}

func TestNormalizationGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	a := randMat(rng, 4, 5)
	gain, bias := randMat(rng, 1, 5), randMat(rng, 1, 5)

	assertGradients(t, func(tp *Tape) *Mat { return weighted(tp, tp.LayerNorm(a, gain, bias)) }, a, gain, bias)
	assertGradients(t, func(tp *Tape) *Mat { return weighted(tp, tp.L2Normalize(a)) }, a)
}

func TestMaskedSoftmax(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	a := randMat(rng, 3, 3)
	allowed := []bool{
		true, true, false,
		true, false, true,
		false, false, false,
	}
	assertGradients(t, func(tp *Tape) *Mat { return weighted(tp, tp.MaskedSoftmax(a, allowed)) }, a)

	out := NewTape(false).MaskedSoftmax(a, allowed)
	assert.InDelta(t, 1, out.At(0, 0)+out.At(0, 1), 1e-9)
	assert.Equal(t, 0.0, out.At(0, 2))
	assert.Equal(t, []float64{0, 0, 0}, out.Row(2))
}

func TestShapeOpGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	a, b := randMat(rng, 3, 2), randMat(rng, 3, 4)

	assertGradients(t, func(tp *Tape) *Mat { return weighted(tp, tp.GatherRows(a, []int{2, -1, 0, 2})) }, a)
	assertGradients(t, func(tp *Tape) *Mat { return weighted(tp, tp.ScatterRows(a, []int{4, 0, 2}, 5)) }, a)
	assertGradients(t, func(tp *Tape) *Mat { return weighted(tp, tp.ConcatCols(a, b)) }, a, b)
	assertGradients(t, func(tp *Tape) *Mat { return weighted(tp, tp.ConcatRows(2, a, a)) }, a)
	assertGradients(t, func(tp *Tape) *Mat { return weighted(tp, tp.SliceCols(b, 1, 3)) }, b)
	assertGradients(t, func(tp *Tape) *Mat { return weighted(tp, tp.MaskRows(b, []bool{true, false, true})) }, b)
}

func TestGatherScatterRoundTrip(t *testing.T) {
	tp := NewTape(false)
	a := FromRows(2, [][]float64{{1, 2}, {3, 4}})
	grid := tp.ScatterRows(a, []int{3, 1}, 4)
	assert.Equal(t, []float64{0, 0, 3, 4, 0, 0, 1, 2}, grid.W)

	back := tp.GatherRows(grid, []int{3, 1})
	assert.Equal(t, a.W, back.W)
}

func TestDropoutDeterministic(t *testing.T) {
	a := New(10, 10)
	for i := range a.W {
		a.W[i] = 1
	}
	first := NewTape(false).Dropout(a, 0.5, rand.New(rand.NewSource(7)))
	second := NewTape(false).Dropout(a, 0.5, rand.New(rand.NewSource(7)))
	require.Equal(t, first.W, second.W)
	for _, x := range first.W {
		assert.True(t, x == 0 || x == 2)
	}
	assert.True(t, NewTape(false).Dropout(a, 0, nil) == a)
}

func TestBackwardAccumulates(t *testing.T) {
	a := FromSlice(1, 2, []float64{1, 2})
	tp := NewTape(true)
	loss := tp.SumAll(tp.Add(a, a))
	tp.Backward(loss)
	assert.Equal(t, []float64{2, 2}, a.Dw)
	assert.False(t, math.IsNaN(loss.W[0]))
}
