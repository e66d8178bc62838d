package nn

import (
	"fmt"
	"math/rand"

	"github.com/kiteco/dialogue/kite-golib/tensor"
)

// Dense is a fully connected layer x * kernel + bias.
type Dense struct {
	Kernel *tensor.Mat
	Bias   *tensor.Mat
	In     int
	Out    int
}

// NewDense registers a dense layer under name; bias may be disabled.
func NewDense(params *Params, name string, in, out int, bias bool, rng *rand.Rand) *Dense {
	d := &Dense{
		Kernel: params.Add(name+".kernel", glorot(rng, in, out), true),
		In:     in,
		Out:    out,
	}
	if bias {
		d.Bias = params.Add(name+".bias", tensor.New(1, out), false)
	}
	return d
}

// Forward applies the layer to every row of x.
func (d *Dense) Forward(p *Pass, x *tensor.Mat) *tensor.Mat {
	if x.Cols != d.In {
		panic(fmt.Sprintf("nn: dense layer expects %d inputs, got %v", d.In, x))
	}
	out := p.Tape.MatMul(x, d.Kernel)
	if d.Bias != nil {
		out = p.Tape.AddRow(out, d.Bias)
	}
	return out
}

// FFNN is a stack of dense layers, each followed by gelu and dropout.
type FFNN struct {
	layers   []*Dense
	dropRate float64
	out      int
}

// NewFFNN registers one dense layer per entry of sizes. With no sizes the network is
// the identity.
func NewFFNN(params *Params, name string, in int, sizes []int, dropRate float64, rng *rand.Rand) *FFNN {
	f := &FFNN{dropRate: dropRate, out: in}
	for i, size := range sizes {
		f.layers = append(f.layers, NewDense(params, fmt.Sprintf("%s.%d", name, i), f.out, size, true, rng))
		f.out = size
	}
	return f
}

// Out is the output width.
func (f *FFNN) Out() int {
	return f.out
}

// Forward applies the stack.
func (f *FFNN) Forward(p *Pass, x *tensor.Mat) *tensor.Mat {
	for _, l := range f.layers {
		x = p.Dropout(p.Tape.Gelu(l.Forward(p, x)), f.dropRate)
	}
	return x
}

// LayerNorm holds the gain and bias of a layer normalization.
type LayerNorm struct {
	Gain *tensor.Mat
	Bias *tensor.Mat
}

// NewLayerNorm registers a layer normalization over cols features.
func NewLayerNorm(params *Params, name string, cols int) *LayerNorm {
	return &LayerNorm{
		Gain: params.Add(name+".gain", ones(cols), false),
		Bias: params.Add(name+".bias", tensor.New(1, cols), false),
	}
}

// Forward normalizes every row of x.
func (l *LayerNorm) Forward(p *Pass, x *tensor.Mat) *tensor.Mat {
	return p.Tape.LayerNorm(x, l.Gain, l.Bias)
}
