package nn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/kiteco/dialogue/kite-golib/tensor"
)

// TransformerConfig describes a transformer encoder stack.
type TransformerConfig struct {
	Layers int
	Units  int
	Heads  int
	// Causal restricts every position to attend to itself and earlier positions.
	Causal            bool
	DropRate          float64
	AttentionDropRate float64
}

// TransformerEncoder is a pre-layer-norm transformer encoder over padded sequences.
type TransformerEncoder struct {
	cfg    TransformerConfig
	embed  *Dense
	layers []*encoderLayer
	norm   *LayerNorm
}

type encoderLayer struct {
	attnNorm   *LayerNorm
	q, k, v, o *Dense
	ffNorm     *LayerNorm
	ffIn       *Dense
	ffOut      *Dense
}

// NewTransformerEncoder registers the encoder parameters under name. Inputs of width
// in are projected to cfg.Units first.
func NewTransformerEncoder(params *Params, name string, in int, cfg TransformerConfig, rng *rand.Rand) *TransformerEncoder {
	if cfg.Heads <= 0 || cfg.Units%cfg.Heads != 0 {
		panic(fmt.Sprintf("nn: %d units cannot be split across %d heads", cfg.Units, cfg.Heads))
	}
	e := &TransformerEncoder{
		cfg:   cfg,
		embed: NewDense(params, name+".embed", in, cfg.Units, true, rng),
		norm:  NewLayerNorm(params, name+".norm", cfg.Units),
	}
	for i := 0; i < cfg.Layers; i++ {
		prefix := fmt.Sprintf("%s.layer%d", name, i)
		e.layers = append(e.layers, &encoderLayer{
			attnNorm: NewLayerNorm(params, prefix+".attention_norm", cfg.Units),
			q:        NewDense(params, prefix+".query", cfg.Units, cfg.Units, false, rng),
			k:        NewDense(params, prefix+".key", cfg.Units, cfg.Units, false, rng),
			v:        NewDense(params, prefix+".value", cfg.Units, cfg.Units, false, rng),
			o:        NewDense(params, prefix+".output", cfg.Units, cfg.Units, true, rng),
			ffNorm:   NewLayerNorm(params, prefix+".ffn_norm", cfg.Units),
			ffIn:     NewDense(params, prefix+".ffn_in", cfg.Units, 4*cfg.Units, true, rng),
			ffOut:    NewDense(params, prefix+".ffn_out", 4*cfg.Units, cfg.Units, true, rng),
		})
	}
	return e
}

// Units is the output width.
func (e *TransformerEncoder) Units() int {
	return e.cfg.Units
}

// Forward encodes x, which holds len(lengths) sequences of maxLen rows each (row
// s*maxLen+i is position i of sequence s). Positions at or beyond a sequence's length
// are padding: they are never attended to and their outputs are zero. The second
// result holds, per layer and sequence, the attention weights averaged over heads.
func (e *TransformerEncoder) Forward(p *Pass, x *tensor.Mat, lengths []int, maxLen int) (*tensor.Mat, [][]*tensor.Mat) {
	if x.Rows != len(lengths)*maxLen {
		panic(fmt.Sprintf("nn: %v does not hold %d sequences of %d", x, len(lengths), maxLen))
	}
	valid := make([]bool, x.Rows)
	for s, n := range lengths {
		for i := 0; i < n && i < maxLen; i++ {
			valid[s*maxLen+i] = true
		}
	}

	h := e.embed.Forward(p, x)
	h = p.Tape.Scale(h, math.Sqrt(float64(e.cfg.Units)))
	h = p.Tape.Add(h, positionalEncoding(len(lengths), maxLen, e.cfg.Units))
	h = p.Dropout(h, e.cfg.DropRate)

	var weights [][]*tensor.Mat
	for _, l := range e.layers {
		attn, w := e.attention(p, l, l.attnNorm.Forward(p, h), lengths, maxLen)
		h = p.Tape.Add(h, p.Dropout(attn, e.cfg.DropRate))

		ff := l.ffNorm.Forward(p, h)
		ff = p.Dropout(p.Tape.Gelu(l.ffIn.Forward(p, ff)), e.cfg.DropRate)
		ff = l.ffOut.Forward(p, ff)
		h = p.Tape.Add(h, p.Dropout(ff, e.cfg.DropRate))
		weights = append(weights, w)
	}
	h = e.norm.Forward(p, h)
	return p.Tape.MaskRows(h, valid), weights
}

func (e *TransformerEncoder) attention(p *Pass, l *encoderLayer, x *tensor.Mat, lengths []int, maxLen int) (*tensor.Mat, []*tensor.Mat) {
	tp := p.Tape
	q, k, v := l.q.Forward(p, x), l.k.Forward(p, x), l.v.Forward(p, x)
	heads := e.cfg.Heads
	depth := e.cfg.Units / heads
	scale := 1 / math.Sqrt(float64(depth))

	rows := make([]int, maxLen)
	seqOut := make([]*tensor.Mat, len(lengths))
	weights := make([]*tensor.Mat, len(lengths))
	for s, n := range lengths {
		for i := range rows {
			rows[i] = s*maxLen + i
		}
		qs, ks, vs := tp.GatherRows(q, rows), tp.GatherRows(k, rows), tp.GatherRows(v, rows)
		allowed := attentionMask(n, maxLen, e.cfg.Causal)

		avg := tensor.New(maxLen, maxLen)
		headOut := make([]*tensor.Mat, heads)
		for hd := 0; hd < heads; hd++ {
			from, to := hd*depth, (hd+1)*depth
			scores := tp.Scale(tp.MatMulT(tp.SliceCols(qs, from, to), tp.SliceCols(ks, from, to)), scale)
			probs := tp.MaskedSoftmax(scores, allowed)
			for i, w := range probs.W {
				avg.W[i] += w / float64(heads)
			}
			probs = p.Dropout(probs, e.cfg.AttentionDropRate)
			headOut[hd] = tp.MatMul(probs, tp.SliceCols(vs, from, to))
		}
		seqOut[s] = tp.ConcatCols(headOut...)
		weights[s] = avg
	}
	if len(seqOut) == 0 {
		return l.o.Forward(p, tensor.New(0, e.cfg.Units)), weights
	}
	return l.o.Forward(p, tp.ConcatRows(e.cfg.Units, seqOut...)), weights
}

// attentionMask allows query i to see key j when j is a real position and, for causal
// attention, j <= i.
func attentionMask(n, maxLen int, causal bool) []bool {
	allowed := make([]bool, maxLen*maxLen)
	for i := 0; i < maxLen; i++ {
		for j := 0; j < n && j < maxLen; j++ {
			if causal && j > i {
				break
			}
			allowed[i*maxLen+j] = true
		}
	}
	return allowed
}

// positionalEncoding is the sinusoidal timing signal, repeated for every sequence.
func positionalEncoding(numSeq, maxLen, units int) *tensor.Mat {
	pe := tensor.New(numSeq*maxLen, units)
	for pos := 0; pos < maxLen; pos++ {
		row := make([]float64, units)
		for i := 0; i < units; i++ {
			angle := float64(pos) / math.Pow(10000, float64(2*(i/2))/float64(units))
			if i%2 == 0 {
				row[i] = math.Sin(angle)
			} else {
				row[i] = math.Cos(angle)
			}
		}
		for s := 0; s < numSeq; s++ {
			copy(pe.Row(s*maxLen+pos), row)
		}
	}
	return pe
}
