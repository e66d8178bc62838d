package nn

import (
	"math"
	"math/rand"

	"github.com/kiteco/dialogue/kite-golib/errors"
	"github.com/kiteco/dialogue/kite-golib/tensor"
)

// Param is a trainable matrix.
type Param struct {
	Name string
	Mat  *tensor.Mat
	// Decay marks kernels that receive L2 regularization.
	Decay bool
}

// Params is the ordered set of trainable matrices of a model. The order is the
// registration order, which keeps optimizer updates and persistence deterministic.
type Params struct {
	list   []*Param
	byName map[string]*Param
}

// NewParams returns an empty parameter set.
func NewParams() *Params {
	return &Params{byName: make(map[string]*Param)}
}

// Add registers m under name and returns it. Names must be unique.
func (p *Params) Add(name string, m *tensor.Mat, decay bool) *tensor.Mat {
	if _, ok := p.byName[name]; ok {
		panic("nn: duplicate parameter " + name)
	}
	param := &Param{Name: name, Mat: m, Decay: decay}
	p.list = append(p.list, param)
	p.byName[name] = param
	return m
}

// List returns the parameters in registration order.
func (p *Params) List() []*Param {
	return p.list
}

// Get looks a parameter up by name.
func (p *Params) Get(name string) (*tensor.Mat, bool) {
	param, ok := p.byName[name]
	if !ok {
		return nil, false
	}
	return param.Mat, true
}

// Len is the number of parameters.
func (p *Params) Len() int {
	return len(p.list)
}

// ZeroGrad clears all gradients.
func (p *Params) ZeroGrad() {
	for _, param := range p.list {
		param.Mat.ZeroGrad()
	}
}

// Values copies the parameter values keyed by name.
func (p *Params) Values() map[string][]float64 {
	out := make(map[string][]float64, len(p.list))
	for _, param := range p.list {
		out[param.Name] = append([]float64(nil), param.Mat.W...)
	}
	return out
}

// Restore overwrites parameter values from a Values map. Every registered parameter
// must be present with a matching size.
func (p *Params) Restore(values map[string][]float64) error {
	var errs errors.Errors
	for _, param := range p.list {
		w, ok := values[param.Name]
		switch {
		case !ok:
			errs = errors.Append(errs, errors.Errorf("missing parameter %s", param.Name))
		case len(w) != len(param.Mat.W):
			errs = errors.Append(errs, errors.Errorf("parameter %s has %d values, expected %d",
				param.Name, len(w), len(param.Mat.W)))
		}
	}
	if errs != nil {
		return errs
	}
	for _, param := range p.list {
		copy(param.Mat.W, values[param.Name])
	}
	return nil
}

// glorot draws a rows x cols matrix from the Glorot uniform distribution.
func glorot(rng *rand.Rand, rows, cols int) *tensor.Mat {
	m := tensor.New(rows, cols)
	limit := math.Sqrt(6 / float64(rows+cols))
	for i := range m.W {
		m.W[i] = (2*rng.Float64() - 1) * limit
	}
	return m
}

func ones(cols int) *tensor.Mat {
	m := tensor.New(1, cols)
	for i := range m.W {
		m.W[i] = 1
	}
	return m
}
