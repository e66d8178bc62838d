package ted

import (
	"fmt"
	"math/rand"

	"github.com/kiteco/dialogue/kite-go/dialogue/attribute"
	"github.com/kiteco/dialogue/kite-golib/nn"
	"github.com/kiteco/dialogue/kite-golib/tensor"
)

// concatLayer joins the sources of one attribute column-wise, projecting sparse
// sources to the attribute's dense dimension first.
type concatLayer struct {
	sources  []attribute.SourceSignature
	dense    []*nn.Dense
	out      int
	dropRate float64
}

func newConcatLayer(params *nn.Params, name string, sources []attribute.SourceSignature, denseDim int, dropRate float64, rng *rand.Rand) *concatLayer {
	c := &concatLayer{sources: sources, dense: make([]*nn.Dense, len(sources)), dropRate: dropRate}
	for i, s := range sources {
		if s.Sparse {
			if denseDim <= 0 {
				denseDim = s.Dim
			}
			c.dense[i] = nn.NewDense(params, fmt.Sprintf("%s.sparse_to_dense.%s", name, s.Name), s.Dim, denseDim, false, rng)
			c.out += denseDim
			continue
		}
		c.out += s.Dim
	}
	return c
}

func (c *concatLayer) forward(p *nn.Pass, sources []attribute.Source, rows int) *tensor.Mat {
	if len(c.sources) == 0 {
		return tensor.New(rows, 0)
	}
	if len(sources) != len(c.sources) {
		panic(fmt.Sprintf("ted: %d feature sources, model was built for %d", len(sources), len(c.sources)))
	}
	parts := make([]*tensor.Mat, len(sources))
	for i, s := range sources {
		x := p.Dropout(s.Data, c.dropRate)
		if c.dense[i] != nil {
			x = c.dense[i].Forward(p, x)
		}
		parts[i] = x
	}
	return p.Tape.ConcatCols(parts...)
}

// sequenceLayer encodes token features with the sentence features appended as one
// extra token at the end of every sequence.
type sequenceLayer struct {
	tokens      *concatLayer
	sentence    *concatLayer
	tokenProj   *nn.Dense
	sentProj    *nn.Dense
	ffnn        *nn.FFNN
	transformer *nn.TransformerEncoder
	units       int
}

func newSequenceLayer(params *nn.Params, name string, a attribute.Attribute, sig *attribute.BundleSignature, hp HParams, dropRate float64, rng *rand.Rand) *sequenceLayer {
	s := &sequenceLayer{
		tokens:   newConcatLayer(params, name+".sequence", sig.Sequence, hp.Dense(a), dropRate, rng),
		sentence: newConcatLayer(params, name+".sentence", sig.Sentence, hp.Dense(a), dropRate, rng),
	}
	width := s.tokens.out
	if s.sentence.out != s.tokens.out {
		width = hp.Concat(a)
		if width <= 0 {
			width = s.tokens.out
		}
		s.tokenProj = nn.NewDense(params, name+".unify_sequence", s.tokens.out, width, true, rng)
		if s.sentence.out > 0 {
			s.sentProj = nn.NewDense(params, name+".unify_sentence", s.sentence.out, width, true, rng)
		}
	}
	s.ffnn = nn.NewFFNN(params, name+".ffnn", width, hp.HiddenLayers(a), dropRate, rng)
	s.units = s.ffnn.Out()
	if units, layers := hp.Transformer(a); layers > 0 {
		s.transformer = nn.NewTransformerEncoder(params, name+".transformer", s.units, nn.TransformerConfig{
			Layers:            layers,
			Units:             units,
			Heads:             hp.NumHeads,
			Causal:            hp.UnidirectionalEncoder,
			DropRate:          hp.DropRate,
			AttentionDropRate: hp.DropRateAttention,
		}, rng)
		s.units = units
	}
	return s
}

// tokenOutput is the token-level encoding of n sequences of maxLen rows each.
type tokenOutput struct {
	hidden  *tensor.Mat
	lengths []int
	maxLen  int
}

// forward returns the token-level output, with lengths including the sentence token,
// and the output at every sentence token.
func (s *sequenceLayer) forward(p *nn.Pass, b *attribute.Bundle, n int) (tokenOutput, *tensor.Mat) {
	tp := p.Tape
	seqLen := b.MaxSequenceLength
	maxLen := seqLen + 1

	tokens := s.tokens.forward(p, b.Sequence, n*seqLen)
	sentence := s.sentence.forward(p, b.Sentence, n)
	if s.tokenProj != nil {
		tokens = s.tokenProj.Forward(p, tokens)
	}
	if s.sentProj != nil {
		sentence = s.sentProj.Forward(p, sentence)
	} else if sentence.Cols != tokens.Cols {
		sentence = tensor.New(n, tokens.Cols)
	}

	var from, to []int
	lengths := make([]int, n)
	last := make([]int, n)
	for i := 0; i < n; i++ {
		l := b.SequenceLengths[i]
		for j := 0; j < l; j++ {
			from = append(from, i*seqLen+j)
			to = append(to, i*maxLen+j)
		}
		lengths[i] = l + 1
		last[i] = i*maxLen + l
	}
	x := tp.Add(
		tp.ScatterRows(tp.GatherRows(tokens, from), to, n*maxLen),
		tp.ScatterRows(sentence, last, n*maxLen),
	)
	x = s.ffnn.Forward(p, x)
	if s.transformer != nil {
		x, _ = s.transformer.Forward(p, x, lengths, maxLen)
	}
	return tokenOutput{hidden: x, lengths: lengths, maxLen: maxLen}, tp.GatherRows(x, last)
}

// attributeEncoder turns the bundle of one attribute into one vector per grid row
// (example, turn), zero on turns where the attribute is absent.
type attributeEncoder struct {
	attr     attribute.Attribute
	sentence *concatLayer
	sequence *sequenceLayer
	encoding *nn.FFNN
	units    int
}

func newAttributeEncoder(params *nn.Params, a attribute.Attribute, sig *attribute.BundleSignature, hp HParams, rng *rand.Rand) *attributeEncoder {
	name := a.String()
	dropRate := hp.DropRate
	if attribute.LabelAttributes.Has(a) {
		dropRate = hp.DropRateLabel
	}
	e := &attributeEncoder{attr: a}
	if attribute.SequenceAttributes.Has(a) && len(sig.Sequence) > 0 {
		e.sequence = newSequenceLayer(params, name, a, sig, hp, dropRate, rng)
		e.units = e.sequence.units
	} else {
		e.sentence = newConcatLayer(params, name+".sentence", sig.Sentence, hp.Dense(a), dropRate, rng)
		e.units = e.sentence.out
	}
	if attribute.EncodedAttributes.Has(a) {
		e.encoding = nn.NewFFNN(params, "encoding_layer."+name, e.units, []int{hp.EncodingDimension}, hp.DropRateDialogue, rng)
		e.units = hp.EncodingDimension
	}
	return e
}

// attributeEncoding is the output of an attributeEncoder.
type attributeEncoding struct {
	// grid is GridRows x units.
	grid *tensor.Mat
	// tokens is only set for attributes with token features; it holds the retained
	// instances in the order of owners.
	tokens tokenOutput
	owners []attribute.Position
	// instances holds, for every retained instance, its index among all real instances.
	instances []int
}

// encode runs the real path when the bundle has real instances and otherwise returns
// zeros of the identical shape. keepTokens selects which instances keep their
// token-level output.
func (e *attributeEncoder) encode(p *nn.Pass, b *attribute.Bundle, ti *attribute.TurnIndex, keepTokens func(attribute.Position) bool) attributeEncoding {
	var positions []attribute.Position
	if b != nil {
		positions = ti.RealPositions(b.Mask)
	}
	n := len(positions)
	if n == 0 {
		out := attributeEncoding{grid: tensor.New(ti.GridRows(), e.units)}
		if e.sequence != nil {
			out.tokens = tokenOutput{hidden: tensor.New(0, e.sequence.units)}
		}
		return out
	}

	var x *tensor.Mat
	var out attributeEncoding
	if e.sequence != nil {
		tokens, last := e.sequence.forward(p, b, n)
		out.tokens, out.owners, out.instances = keepInstances(p, tokens, positions, keepTokens)
		x = last
	} else {
		x = e.sentence.forward(p, b.Sentence, n)
	}
	if e.encoding != nil {
		x = e.encoding.Forward(p, x)
	}
	out.grid = p.Tape.ScatterRows(x, ti.GridRowsOf(positions), ti.GridRows())
	return out
}

func keepInstances(p *nn.Pass, t tokenOutput, positions []attribute.Position, keep func(attribute.Position) bool) (tokenOutput, []attribute.Position, []int) {
	var rows, lengths, instances []int
	var owners []attribute.Position
	for i, pos := range positions {
		if keep != nil && !keep(pos) {
			continue
		}
		owners = append(owners, pos)
		instances = append(instances, i)
		lengths = append(lengths, t.lengths[i])
		for j := 0; j < t.maxLen; j++ {
			rows = append(rows, i*t.maxLen+j)
		}
	}
	if len(owners) == len(positions) {
		return t, positions, instances
	}
	return tokenOutput{hidden: p.Tape.GatherRows(t.hidden, rows), lengths: lengths, maxLen: t.maxLen}, owners, instances
}

// attributeEncoders is the fixed per-attribute table of encoders; nil entries are
// attributes the model was not built for.
type attributeEncoders [attribute.NumAttributes]*attributeEncoder

func newAttributeEncoders(params *nn.Params, sig *attribute.Signature, hp HParams, rng *rand.Rand) attributeEncoders {
	var encs attributeEncoders
	for a := attribute.Attribute(0); a < attribute.NumAttributes; a++ {
		if !sig.Has(a) {
			continue
		}
		if !attribute.DialogueAttributes.Has(a) && !attribute.LabelAttributes.Has(a) {
			continue
		}
		encs[a] = newAttributeEncoder(params, a, sig[a], hp, rng)
	}
	return encs
}
