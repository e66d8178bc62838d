package attribute

import (
	"github.com/kiteco/dialogue/kite-golib/errors"
	"github.com/kiteco/dialogue/kite-golib/tensor"
)

// Source is one feature matrix of an attribute, e.g. the bag-of-words or the dense
// embedding of a text. Sparse sources are projected before use, dense ones are used as is.
type Source struct {
	Name   string      `json:"name"`
	Sparse bool        `json:"sparse"`
	Data   *tensor.Mat `json:"data"`
}

// Dim is the feature width.
func (s Source) Dim() int {
	return s.Data.Cols
}

// Bundle holds the features of one attribute for a whole batch. Only real instances
// (mask true) have feature rows, in flattened (example, turn) order.
type Bundle struct {
	// Mask is [example][turn]; false marks a turn where the attribute is absent.
	Mask [][]bool `json:"mask"`
	// Sentence sources have one row per real instance.
	Sentence []Source `json:"sentence"`
	// Sequence sources have MaxSequenceLength rows per real instance, real instance i
	// starting at row i*MaxSequenceLength.
	Sequence          []Source `json:"sequence"`
	SequenceLengths   []int    `json:"sequence_lengths"`
	MaxSequenceLength int      `json:"max_sequence_length"`
}

// NumReal counts the real instances.
func (b *Bundle) NumReal() int {
	if b == nil {
		return 0
	}
	var n int
	for _, turns := range b.Mask {
		for _, real := range turns {
			if real {
				n++
			}
		}
	}
	return n
}

// HasSequence is true if the bundle carries token-level features.
func (b *Bundle) HasSequence() bool {
	return b != nil && len(b.Sequence) > 0
}

// Validate checks the bundle against the dialogue lengths of its batch.
func (b *Bundle) Validate(dialogueLengths []int, maxTurns int) error {
	if len(b.Mask) != len(dialogueLengths) {
		return errors.Contractf("mask covers %d examples, batch has %d", len(b.Mask), len(dialogueLengths))
	}
	for ex, turns := range b.Mask {
		if len(turns) != maxTurns {
			return errors.Contractf("mask of example %d has %d turns, expected %d", ex, len(turns), maxTurns)
		}
		for t := dialogueLengths[ex]; t < maxTurns; t++ {
			if turns[t] {
				return errors.Contractf("example %d marks padding turn %d as real", ex, t)
			}
		}
	}
	n := b.NumReal()
	for _, s := range b.Sentence {
		if s.Data == nil || s.Data.Rows != n {
			return errors.Contractf("sentence source %s must have %d rows", s.Name, n)
		}
	}
	if len(b.Sequence) == 0 {
		return nil
	}
	if len(b.SequenceLengths) != n {
		return errors.Contractf("%d sequence lengths for %d real instances", len(b.SequenceLengths), n)
	}
	for i, l := range b.SequenceLengths {
		if l < 0 || l > b.MaxSequenceLength {
			return errors.Contractf("sequence length %d of instance %d exceeds %d", l, i, b.MaxSequenceLength)
		}
	}
	for _, s := range b.Sequence {
		if s.Data == nil || s.Data.Rows != n*b.MaxSequenceLength {
			return errors.Contractf("sequence source %s must have %d rows", s.Name, n*b.MaxSequenceLength)
		}
	}
	return nil
}

// realIndex maps [example][turn] to the real instance index, or -1.
func (b *Bundle) realIndex() [][]int {
	idx := make([][]int, len(b.Mask))
	var n int
	for ex, turns := range b.Mask {
		idx[ex] = make([]int, len(turns))
		for t, real := range turns {
			idx[ex][t] = -1
			if real {
				idx[ex][t] = n
				n++
			}
		}
	}
	return idx
}

// Select returns the bundle restricted to the given examples (in the given order),
// keeping only the first turn of each. It is used on label bundles, where every label
// is an example with a single turn. The max sequence length shrinks to the selection.
func (b *Bundle) Select(examples []int) *Bundle {
	idx := b.realIndex()
	out := &Bundle{Mask: make([][]bool, len(examples))}
	var real []int
	for i, ex := range examples {
		out.Mask[i] = []bool{idx[ex][0] >= 0}
		if idx[ex][0] >= 0 {
			real = append(real, idx[ex][0])
		}
	}
	for _, s := range b.Sentence {
		out.Sentence = append(out.Sentence, Source{Name: s.Name, Sparse: s.Sparse, Data: gatherRows(s.Data, real, 1, 1)})
	}
	if len(b.Sequence) == 0 {
		return out
	}
	for _, r := range real {
		l := b.SequenceLengths[r]
		out.SequenceLengths = append(out.SequenceLengths, l)
		if l > out.MaxSequenceLength {
			out.MaxSequenceLength = l
		}
	}
	for _, s := range b.Sequence {
		data := gatherRows(s.Data, real, b.MaxSequenceLength, out.MaxSequenceLength)
		out.Sequence = append(out.Sequence, Source{Name: s.Name, Sparse: s.Sparse, Data: data})
	}
	return out
}

// gatherRows copies blocks of fromLen rows (block i = instance i), keeping the first
// toLen rows of each selected block and zero padding when toLen > fromLen.
func gatherRows(m *tensor.Mat, instances []int, fromLen, toLen int) *tensor.Mat {
	out := tensor.New(len(instances)*toLen, m.Cols)
	for i, inst := range instances {
		for r := 0; r < toLen && r < fromLen; r++ {
			copy(out.Row(i*toLen+r), m.Row(inst*fromLen+r))
		}
	}
	return out
}

// Batch is the featurized input of one training or prediction step.
type Batch struct {
	DialogueLengths []int `json:"dialogue_lengths"`
	MaxTurns        int   `json:"max_turns"`
	// Bundles is indexed by Attribute; a nil bundle is an attribute absent on every turn.
	Bundles [NumAttributes]*Bundle `json:"bundles"`
	// LabelIDs is [example][turn], the id of the action taken, -1 on padding turns.
	// Only needed for training.
	LabelIDs [][]int `json:"label_ids,omitempty"`
	// EntityTags is [tag category][text instance][token] for training the entity tagger,
	// text instances in the flattened order of the text bundle.
	EntityTags [][][]int `json:"entity_tags,omitempty"`
}

// Size is the number of examples.
func (b *Batch) Size() int {
	return len(b.DialogueLengths)
}

// Bundle returns the bundle of a, possibly nil.
func (b *Batch) Bundle(a Attribute) *Bundle {
	return b.Bundles[a]
}

// Validate checks every bundle and the label ids.
func (b *Batch) Validate() error {
	for ex, l := range b.DialogueLengths {
		if l < 0 || l > b.MaxTurns {
			return errors.Contractf("example %d has %d turns, max is %d", ex, l, b.MaxTurns)
		}
	}
	for a, bundle := range b.Bundles {
		if bundle == nil {
			continue
		}
		if err := bundle.Validate(b.DialogueLengths, b.MaxTurns); err != nil {
			return errors.Wrapf(err, "invalid %s bundle", Attribute(a))
		}
	}
	if b.LabelIDs != nil {
		if len(b.LabelIDs) != b.Size() {
			return errors.Contractf("label ids cover %d examples, batch has %d", len(b.LabelIDs), b.Size())
		}
		for ex, ids := range b.LabelIDs {
			if len(ids) < b.DialogueLengths[ex] {
				return errors.Contractf("example %d has %d label ids for %d turns", ex, len(ids), b.DialogueLengths[ex])
			}
		}
	}
	text := b.Bundles[Text].NumReal()
	for c, instances := range b.EntityTags {
		if len(instances) != text {
			return errors.Contractf("entity tag category %d covers %d texts, batch has %d", c, len(instances), text)
		}
		for i, tags := range instances {
			if i < len(b.Bundles[Text].SequenceLengths) && len(tags) < b.Bundles[Text].SequenceLengths[i] {
				return errors.Contractf("entity tag category %d has %d tags for text %d of %d tokens", c, len(tags), i, b.Bundles[Text].SequenceLengths[i])
			}
		}
	}
	return nil
}

// Concat appends the examples of o to those of b. Both batches must carry the same
// feature sources for every attribute they share.
func Concat(b, o *Batch) (*Batch, error) {
	maxTurns := b.MaxTurns
	if o.MaxTurns > maxTurns {
		maxTurns = o.MaxTurns
	}
	out := &Batch{
		DialogueLengths: append(append([]int(nil), b.DialogueLengths...), o.DialogueLengths...),
		MaxTurns:        maxTurns,
	}
	for a := range out.Bundles {
		x, y := b.Bundles[a], o.Bundles[a]
		if x == nil && y == nil {
			continue
		}
		if x == nil {
			x = fakeLike(y, b.Size(), b.MaxTurns)
		}
		if y == nil {
			y = fakeLike(x, o.Size(), o.MaxTurns)
		}
		merged, err := concatBundles(x, y, maxTurns)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot concatenate %s", Attribute(a))
		}
		out.Bundles[a] = merged
	}
	if b.LabelIDs != nil && o.LabelIDs != nil {
		out.LabelIDs = append(padIDs(b.LabelIDs, maxTurns), padIDs(o.LabelIDs, maxTurns)...)
	}
	categories := len(b.EntityTags)
	if len(o.EntityTags) > categories {
		categories = len(o.EntityTags)
	}
	for c := 0; c < categories; c++ {
		tags := append(entityTags(b, c), entityTags(o, c)...)
		out.EntityTags = append(out.EntityTags, tags)
	}
	return out, nil
}

// entityTags returns the tags of category c, all NoEntity if the batch has none.
func entityTags(b *Batch, c int) [][]int {
	if c < len(b.EntityTags) {
		return b.EntityTags[c]
	}
	text := b.Bundles[Text]
	out := make([][]int, text.NumReal())
	for i := range out {
		n := 0
		if i < len(text.SequenceLengths) {
			n = text.SequenceLengths[i]
		}
		out[i] = make([]int, n)
	}
	return out
}

// ConcatAll concatenates batches in order.
func ConcatAll(batches ...*Batch) (*Batch, error) {
	if len(batches) == 0 {
		return nil, errors.Contractf("no batches to concatenate")
	}
	out := batches[0]
	for _, b := range batches[1:] {
		var err error
		if out, err = Concat(out, b); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func padIDs(ids [][]int, maxTurns int) [][]int {
	out := make([][]int, len(ids))
	for i, row := range ids {
		out[i] = make([]int, maxTurns)
		for t := range out[i] {
			out[i][t] = -1
			if t < len(row) {
				out[i][t] = row[t]
			}
		}
	}
	return out
}

// fakeLike returns an all-fake bundle with the sources of like.
func fakeLike(like *Bundle, examples, maxTurns int) *Bundle {
	out := &Bundle{Mask: make([][]bool, examples)}
	for i := range out.Mask {
		out.Mask[i] = make([]bool, maxTurns)
	}
	for _, s := range like.Sentence {
		out.Sentence = append(out.Sentence, Source{Name: s.Name, Sparse: s.Sparse, Data: tensor.New(0, s.Dim())})
	}
	for _, s := range like.Sequence {
		out.Sequence = append(out.Sequence, Source{Name: s.Name, Sparse: s.Sparse, Data: tensor.New(0, s.Dim())})
	}
	return out
}

func concatBundles(x, y *Bundle, maxTurns int) (*Bundle, error) {
	if len(x.Sentence) != len(y.Sentence) || len(x.Sequence) != len(y.Sequence) {
		return nil, errors.Contractf("feature sources differ")
	}
	xn, yn := x.NumReal(), y.NumReal()
	out := &Bundle{MaxSequenceLength: x.MaxSequenceLength}
	if y.MaxSequenceLength > out.MaxSequenceLength {
		out.MaxSequenceLength = y.MaxSequenceLength
	}
	for _, m := range [][][]bool{x.Mask, y.Mask} {
		for _, turns := range m {
			padded := make([]bool, maxTurns)
			copy(padded, turns)
			out.Mask = append(out.Mask, padded)
		}
	}
	for i := range x.Sentence {
		s, err := stackSources(x.Sentence[i], y.Sentence[i], xn, yn, 1, 1, 1)
		if err != nil {
			return nil, err
		}
		out.Sentence = append(out.Sentence, s)
	}
	out.SequenceLengths = append(append([]int(nil), x.SequenceLengths...), y.SequenceLengths...)
	for i := range x.Sequence {
		s, err := stackSources(x.Sequence[i], y.Sequence[i], xn, yn, x.MaxSequenceLength, y.MaxSequenceLength, out.MaxSequenceLength)
		if err != nil {
			return nil, err
		}
		out.Sequence = append(out.Sequence, s)
	}
	return out, nil
}

func stackSources(x, y Source, xs, ys, xLen, yLen, toLen int) (Source, error) {
	if x.Name != y.Name || x.Dim() != y.Dim() || x.Sparse != y.Sparse {
		return Source{}, errors.Contractf("source %s (%d) does not match %s (%d)", x.Name, x.Dim(), y.Name, y.Dim())
	}
	data := tensor.New((xs+ys)*toLen, x.Dim())
	for i := 0; i < xs; i++ {
		for r := 0; r < xLen; r++ {
			copy(data.Row(i*toLen+r), x.Data.Row(i*xLen+r))
		}
	}
	for i := 0; i < ys; i++ {
		for r := 0; r < yLen; r++ {
			copy(data.Row((xs+i)*toLen+r), y.Data.Row(i*yLen+r))
		}
	}
	return Source{Name: x.Name, Sparse: x.Sparse, Data: data}, nil
}
