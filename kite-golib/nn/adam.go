package nn

import "math"

// Adam is the Adam optimizer with L2 regularization on decaying parameters.
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	// L2 is added as L2 * w to the gradient of every parameter marked Decay.
	L2 float64

	step int
	m    map[string][]float64
	v    map[string][]float64
}

// NewAdam returns an optimizer with the usual betas.
func NewAdam(learningRate, l2 float64) *Adam {
	return &Adam{
		LearningRate: learningRate,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-7,
		L2:           l2,
		m:            make(map[string][]float64),
		v:            make(map[string][]float64),
	}
}

// Step applies the accumulated gradients and clears them.
func (a *Adam) Step(params *Params) {
	a.step++
	c1 := 1 - math.Pow(a.Beta1, float64(a.step))
	c2 := 1 - math.Pow(a.Beta2, float64(a.step))
	for _, p := range params.List() {
		w, dw := p.Mat.W, p.Mat.Dw
		if len(dw) != len(w) {
			// never touched by a backward pass
			continue
		}
		m, ok := a.m[p.Name]
		if !ok {
			m = make([]float64, len(w))
			a.m[p.Name] = m
			a.v[p.Name] = make([]float64, len(w))
		}
		v := a.v[p.Name]
		for i := range w {
			g := dw[i]
			if p.Decay {
				g += a.L2 * w[i]
			}
			m[i] = a.Beta1*m[i] + (1-a.Beta1)*g
			v[i] = a.Beta2*v[i] + (1-a.Beta2)*g*g
			w[i] -= a.LearningRate * (m[i] / c1) / (math.Sqrt(v[i]/c2) + a.Epsilon)
		}
		p.Mat.ZeroGrad()
	}
}
