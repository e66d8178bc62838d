package tensor

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func mustShape(ok bool, format string, args ...interface{}) {
	if !ok {
		panic(fmt.Sprintf("tensor: "+format, args...))
	}
}

// MatMul returns a * b.
func (t *Tape) MatMul(a, b *Mat) *Mat {
	mustShape(a.Cols == b.Rows, "MatMul %v * %v", a, b)
	out := New(a.Rows, b.Cols)
	if out.Empty() || a.Cols == 0 {
		return out
	}
	out.dense().Mul(a.dense(), b.dense())
	t.addBackward(func() {
		dout := out.gradDense()
		var da, db mat.Dense
		da.Mul(dout, b.dense().T())
		db.Mul(a.dense().T(), dout)
		floats.Add(a.grad(), da.RawMatrix().Data)
		floats.Add(b.grad(), db.RawMatrix().Data)
	})
	return out
}

// MatMulT returns a * b^T.
func (t *Tape) MatMulT(a, b *Mat) *Mat {
	mustShape(a.Cols == b.Cols, "MatMulT %v * %v^T", a, b)
	out := New(a.Rows, b.Rows)
	if out.Empty() || a.Cols == 0 {
		return out
	}
	out.dense().Mul(a.dense(), b.dense().T())
	t.addBackward(func() {
		dout := out.gradDense()
		var da, db mat.Dense
		da.Mul(dout, b.dense())
		db.Mul(dout.T(), a.dense())
		floats.Add(a.grad(), da.RawMatrix().Data)
		floats.Add(b.grad(), db.RawMatrix().Data)
	})
	return out
}

// AddRow adds the 1 x cols row vector v to every row of a.
func (t *Tape) AddRow(a, v *Mat) *Mat {
	mustShape(v.Rows == 1 && v.Cols == a.Cols, "AddRow %v + %v", a, v)
	out := New(a.Rows, a.Cols)
	for i := 0; i < a.Rows; i++ {
		floats.AddTo(out.Row(i), a.Row(i), v.W)
	}
	t.addBackward(func() {
		floats.Add(a.grad(), out.grad())
		dv := v.grad()
		for i := 0; i < a.Rows; i++ {
			floats.Add(dv, out.gradRow(i))
		}
	})
	return out
}

// Add returns a + b.
func (t *Tape) Add(a, b *Mat) *Mat {
	mustShape(a.SameShape(b), "Add %v + %v", a, b)
	out := New(a.Rows, a.Cols)
	floats.AddTo(out.W, a.W, b.W)
	t.addBackward(func() {
		floats.Add(a.grad(), out.grad())
		floats.Add(b.grad(), out.grad())
	})
	return out
}

// Mul returns the elementwise product of a and b.
func (t *Tape) Mul(a, b *Mat) *Mat {
	mustShape(a.SameShape(b), "Mul %v * %v", a, b)
	out := New(a.Rows, a.Cols)
	floats.MulTo(out.W, a.W, b.W)
	t.addBackward(func() {
		da, db, dout := a.grad(), b.grad(), out.grad()
		for i := range dout {
			da[i] += b.W[i] * dout[i]
			db[i] += a.W[i] * dout[i]
		}
	})
	return out
}

// Scale returns c * a.
func (t *Tape) Scale(a *Mat, c float64) *Mat {
	out := New(a.Rows, a.Cols)
	floats.AddScaled(out.W, c, a.W)
	t.addBackward(func() {
		floats.AddScaled(a.grad(), c, out.grad())
	})
	return out
}

// SumAll returns the 1x1 sum of all values of a.
func (t *Tape) SumAll(a *Mat) *Mat {
	out := New(1, 1)
	out.W[0] = floats.Sum(a.W)
	t.addBackward(func() {
		g := out.grad()[0]
		da := a.grad()
		for i := range da {
			da[i] += g
		}
	})
	return out
}

func (t *Tape) elementwise(a *Mat, f func(x float64) float64, df func(x, y float64) float64) *Mat {
	out := New(a.Rows, a.Cols)
	for i, x := range a.W {
		out.W[i] = f(x)
	}
	t.addBackward(func() {
		da, dout := a.grad(), out.grad()
		for i, x := range a.W {
			da[i] += df(x, out.W[i]) * dout[i]
		}
	})
	return out
}

// Relu applies max(0, x).
func (t *Tape) Relu(a *Mat) *Mat {
	return t.elementwise(a,
		func(x float64) float64 { return math.Max(0, x) },
		func(x, _ float64) float64 {
			if x > 0 {
				return 1
			}
			return 0
		})
}

// Gelu applies the exact gaussian error linear unit x * Phi(x).
func (t *Tape) Gelu(a *Mat) *Mat {
	return t.elementwise(a,
		func(x float64) float64 { return 0.5 * x * (1 + math.Erf(x/math.Sqrt2)) },
		func(x, _ float64) float64 {
			cdf := 0.5 * (1 + math.Erf(x/math.Sqrt2))
			pdf := math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
			return cdf + x*pdf
		})
}

// Sigmoid applies 1 / (1 + e^-x).
func (t *Tape) Sigmoid(a *Mat) *Mat {
	return t.elementwise(a,
		func(x float64) float64 { return 1 / (1 + math.Exp(-x)) },
		func(_, y float64) float64 { return y * (1 - y) })
}

// MaskedSoftmax normalizes every row of a over the entries where allowed is true.
// Disallowed entries, and rows without any allowed entry, are zero.
func (t *Tape) MaskedSoftmax(a *Mat, allowed []bool) *Mat {
	mustShape(len(allowed) == len(a.W), "MaskedSoftmax mask of %d for %v", len(allowed), a)
	out := New(a.Rows, a.Cols)
	for i := 0; i < a.Rows; i++ {
		row, y := a.Row(i), out.Row(i)
		ok := allowed[i*a.Cols : (i+1)*a.Cols]
		max := math.Inf(-1)
		for j, x := range row {
			if ok[j] && x > max {
				max = x
			}
		}
		if math.IsInf(max, -1) {
			continue
		}
		var sum float64
		for j, x := range row {
			if ok[j] {
				y[j] = math.Exp(x - max)
				sum += y[j]
			}
		}
		floats.Scale(1/sum, y)
	}
	t.addBackward(func() {
		for i := 0; i < a.Rows; i++ {
			y, dy, da := out.Row(i), out.gradRow(i), a.gradRow(i)
			dot := floats.Dot(y, dy)
			for j := range y {
				da[j] += y[j] * (dy[j] - dot)
			}
		}
	})
	return out
}

// LayerNorm normalizes every row of a to zero mean and unit variance and applies the
// 1 x cols gain and bias.
func (t *Tape) LayerNorm(a, gain, bias *Mat) *Mat {
	mustShape(gain.Cols == a.Cols && bias.Cols == a.Cols, "LayerNorm %v with gain %v", a, gain)
	const eps = 1e-6
	n := float64(a.Cols)
	out := New(a.Rows, a.Cols)
	xhat := New(a.Rows, a.Cols)
	inv := make([]float64, a.Rows)
	for i := 0; i < a.Rows; i++ {
		row := a.Row(i)
		mean := floats.Sum(row) / n
		var variance float64
		for _, x := range row {
			variance += (x - mean) * (x - mean)
		}
		variance /= n
		inv[i] = 1 / math.Sqrt(variance+eps)
		h, y := xhat.Row(i), out.Row(i)
		for j, x := range row {
			h[j] = (x - mean) * inv[i]
			y[j] = h[j]*gain.W[j] + bias.W[j]
		}
	}
	t.addBackward(func() {
		dg, db := gain.grad(), bias.grad()
		dh := make([]float64, a.Cols)
		for i := 0; i < a.Rows; i++ {
			dy, h, da := out.gradRow(i), xhat.Row(i), a.gradRow(i)
			var meanDh, meanDhH float64
			for j := range dy {
				dg[j] += dy[j] * h[j]
				db[j] += dy[j]
				dh[j] = dy[j] * gain.W[j]
				meanDh += dh[j]
				meanDhH += dh[j] * h[j]
			}
			meanDh /= n
			meanDhH /= n
			for j := range da {
				da[j] += inv[i] * (dh[j] - meanDh - h[j]*meanDhH)
			}
		}
	})
	return out
}

// L2Normalize scales every row of a to unit euclidean norm.
func (t *Tape) L2Normalize(a *Mat) *Mat {
	const eps = 1e-12
	out := New(a.Rows, a.Cols)
	norms := make([]float64, a.Rows)
	for i := 0; i < a.Rows; i++ {
		norms[i] = math.Max(floats.Norm(a.Row(i), 2), eps)
		floats.ScaleTo(out.Row(i), 1/norms[i], a.Row(i))
	}
	t.addBackward(func() {
		for i := 0; i < a.Rows; i++ {
			y, dy, da := out.Row(i), out.gradRow(i), a.gradRow(i)
			dot := floats.Dot(y, dy)
			for j := range da {
				da[j] += (dy[j] - y[j]*dot) / norms[i]
			}
		}
	})
	return out
}

// Dropout zeroes every value with probability rate and scales the survivors by
// 1 / (1 - rate). Draws come from rng in row-major order.
func (t *Tape) Dropout(a *Mat, rate float64, rng *rand.Rand) *Mat {
	if rate <= 0 || a.Empty() {
		return a
	}
	keep := 1 - rate
	scale := make([]float64, len(a.W))
	for i := range scale {
		if rng.Float64() < keep {
			scale[i] = 1 / keep
		}
	}
	out := New(a.Rows, a.Cols)
	floats.MulTo(out.W, a.W, scale)
	t.addBackward(func() {
		da, dout := a.grad(), out.grad()
		for i := range da {
			da[i] += scale[i] * dout[i]
		}
	})
	return out
}

// RowDot returns the rows x 1 inner products of matching rows of a and b.
func (t *Tape) RowDot(a, b *Mat) *Mat {
	mustShape(a.SameShape(b), "RowDot %v . %v", a, b)
	out := New(a.Rows, 1)
	for i := 0; i < a.Rows; i++ {
		out.W[i] = floats.Dot(a.Row(i), b.Row(i))
	}
	t.addBackward(func() {
		for i := 0; i < a.Rows; i++ {
			g := out.grad()[i]
			floats.AddScaled(a.gradRow(i), g, b.Row(i))
			floats.AddScaled(b.gradRow(i), g, a.Row(i))
		}
	})
	return out
}
