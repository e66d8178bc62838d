package attribute

import (
	"encoding/json"
	"testing"

	"github.com/kiteco/dialogue/kite-golib/errors"
	"github.com/kiteco/dialogue/kite-golib/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttributeNames(t *testing.T) {
	for a := Attribute(0); a < NumAttributes; a++ {
		parsed, err := Parse(a.String())
		require.NoError(t, err)
		assert.Equal(t, a, parsed)
	}
	_, err := Parse("sentiment")
	assert.Error(t, err)

	b, err := json.Marshal([]Attribute{Intent, LabelActionText})
	require.NoError(t, err)
	assert.Equal(t, `["intent","label_action_text"]`, string(b))

	var back []Attribute
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, []Attribute{Intent, LabelActionText}, back)
}

func TestSets(t *testing.T) {
	assert.True(t, UserAttributes.Has(Text))
	assert.False(t, UserAttributes.Has(ActionText))
	assert.Equal(t, []Attribute{Entities, Slots, ActiveLoop}, StateAttributes.Members())
}

// textBundle builds a text bundle with one dense sentence source of width 2 and one
// sparse sequence source of width 3, tokens numbered so tests can follow them.
func textBundle(mask [][]bool, lengths []int, maxLen int) *Bundle {
	var n int
	for _, turns := range mask {
		for _, real := range turns {
			if real {
				n++
			}
		}
	}
	sentence := tensor.New(n, 2)
	sequence := tensor.New(n*maxLen, 3)
	for i := 0; i < n; i++ {
		sentence.Set(i, 0, float64(i+1))
		for tok := 0; tok < lengths[i]; tok++ {
			sequence.Set(i*maxLen+tok, 0, float64(10*(i+1)+tok))
		}
	}
	return &Bundle{
		Mask:              mask,
		Sentence:          []Source{{Name: "dense", Data: sentence}},
		Sequence:          []Source{{Name: "bow", Sparse: true, Data: sequence}},
		SequenceLengths:   lengths,
		MaxSequenceLength: maxLen,
	}
}

func TestBundleValidate(t *testing.T) {
	b := textBundle([][]bool{{true, false}, {true, false}}, []int{2, 1}, 2)
	require.NoError(t, b.Validate([]int{2, 1}, 2))

	b.Mask[1][1] = true
	err := b.Validate([]int{2, 1}, 2)
	require.Error(t, err)
	assert.True(t, errors.IsContract(err))
}

func TestBundleSelect(t *testing.T) {
	labels := textBundle([][]bool{{true}, {false}, {true}}, []int{1, 3}, 3)
	sel := labels.Select([]int{2, 1})

	assert.Equal(t, [][]bool{{true}, {false}}, sel.Mask)
	assert.Equal(t, []int{3}, sel.SequenceLengths)
	assert.Equal(t, 3, sel.MaxSequenceLength)
	assert.Equal(t, 2.0, sel.Sentence[0].Data.At(0, 0))
	assert.Equal(t, 21.0, sel.Sequence[0].Data.At(1, 0))

	sel = labels.Select([]int{0})
	assert.Equal(t, 1, sel.MaxSequenceLength)
	assert.Equal(t, 1, sel.Sequence[0].Data.Rows)
}

func TestConcatBatches(t *testing.T) {
	a := &Batch{DialogueLengths: []int{1}, MaxTurns: 1}
	a.Bundles[Text] = textBundle([][]bool{{true}}, []int{1}, 1)
	a.Bundles[Intent] = &Bundle{Mask: [][]bool{{true}}, Sentence: []Source{{Name: "onehot", Sparse: true, Data: tensor.New(1, 4)}}}

	b := &Batch{DialogueLengths: []int{2}, MaxTurns: 2}
	b.Bundles[Text] = textBundle([][]bool{{false, true}}, []int{2}, 2)

	out, err := Concat(a, b)
	require.NoError(t, err)
	require.NoError(t, out.Validate())

	assert.Equal(t, []int{1, 2}, out.DialogueLengths)
	assert.Equal(t, 2, out.MaxTurns)
	text := out.Bundle(Text)
	assert.Equal(t, [][]bool{{true, false}, {false, true}}, text.Mask)
	assert.Equal(t, 2, text.MaxSequenceLength)
	assert.Equal(t, []int{1, 2}, text.SequenceLengths)
	// second block starts at row 2 after re-padding
	assert.Equal(t, 10.0, text.Sequence[0].Data.At(0, 0))
	assert.Equal(t, 10.0, text.Sequence[0].Data.At(2, 0))
	assert.Equal(t, 11.0, text.Sequence[0].Data.At(3, 0))

	intent := out.Bundle(Intent)
	assert.Equal(t, 1, intent.NumReal())
	assert.Equal(t, [][]bool{{true, false}, {false, false}}, intent.Mask)
}

func TestTurnIndex(t *testing.T) {
	ti := NewTurnIndex([]int{2, 0, 3}, 3)
	assert.Equal(t, 5, ti.NumTurns())
	assert.Equal(t, 9, ti.GridRows())
	assert.Equal(t, 2, ti.Flat(2, 0))
	assert.Equal(t, -1, ti.Flat(0, 2))

	positions := ti.RealPositions([][]bool{{false, true, true}, {true, false, false}, {true, false, true}})
	assert.Equal(t, []Position{
		{Example: 0, Turn: 1, Flat: 1},
		{Example: 2, Turn: 0, Flat: 2},
		{Example: 2, Turn: 2, Flat: 4},
	}, positions)
	assert.Equal(t, []int{1, 6, 8}, ti.GridRowsOf(positions))

	assert.Equal(t, []int{1, -1, 8}, ti.LastTurnRows())
	assert.Equal(t, []int{1, 0, -1, -1, -1, -1, 8, 7, 6}, ti.ReversedRows())
	assert.Equal(t, []bool{true, true, false, false, false, false, true, true, true}, ti.ValidRows())
}

func TestReversedRowsInvolution(t *testing.T) {
	ti := NewTurnIndex([]int{4, 1, 3}, 4)
	rev := ti.ReversedRows()
	for r, src := range rev {
		if src >= 0 {
			assert.Equal(t, r, rev[src])
		}
	}
}

func TestSignature(t *testing.T) {
	var sig Signature
	b := &Batch{DialogueLengths: []int{1}, MaxTurns: 1}
	b.Bundles[Text] = textBundle([][]bool{{true}}, []int{1}, 1)
	require.NoError(t, sig.Add(b.Bundles))
	assert.True(t, sig.Has(Text))
	assert.False(t, sig.Has(Intent))
	assert.Equal(t, 3, sig[Text].Sequence[0].Dim)

	other := &Batch{DialogueLengths: []int{1}, MaxTurns: 1}
	other.Bundles[Text] = &Bundle{Mask: [][]bool{{true}}, Sentence: []Source{{Name: "dense", Data: tensor.New(1, 5)}}}
	assert.True(t, errors.IsContract(sig.Add(other.Bundles)))
}

func TestSignatureCheck(t *testing.T) {
	var sig Signature
	b := &Batch{DialogueLengths: []int{1}, MaxTurns: 1}
	b.Bundles[Text] = textBundle([][]bool{{true}}, []int{1}, 1)
	require.NoError(t, sig.Add(b.Bundles))
	require.NoError(t, sig.Check(b))

	wide := &Batch{DialogueLengths: []int{1}, MaxTurns: 1}
	wide.Bundles[Text] = textBundle([][]bool{{true}}, []int{1}, 1)
	wide.Bundles[Text].Sequence[0].Data = tensor.New(1, 4)
	err := sig.Check(wide)
	require.Error(t, err)
	assert.True(t, errors.IsContract(err))
	assert.Contains(t, err.Error(), "width 4")

	noTokens := &Batch{DialogueLengths: []int{1}, MaxTurns: 1}
	noTokens.Bundles[Text] = textBundle([][]bool{{true}}, []int{1}, 1)
	noTokens.Bundles[Text].Sequence = nil
	assert.True(t, errors.IsContract(sig.Check(noTokens)))

	dense := &Batch{DialogueLengths: []int{1}, MaxTurns: 1}
	dense.Bundles[Text] = textBundle([][]bool{{true}}, []int{1}, 1)
	dense.Bundles[Text].Sequence[0].Sparse = false
	assert.True(t, errors.IsContract(sig.Check(dense)))

	extra := &Batch{DialogueLengths: []int{1}, MaxTurns: 1}
	extra.Bundles[Text] = textBundle([][]bool{{true}}, []int{1}, 1)
	extra.Bundles[Text].Sentence = append(extra.Bundles[Text].Sentence, Source{Name: "lm", Data: tensor.New(1, 2)})
	assert.True(t, errors.IsContract(sig.Check(extra)))

	// attributes without real instances or unknown to the signature are never read
	absent := &Batch{DialogueLengths: []int{1}, MaxTurns: 1}
	absent.Bundles[Text] = &Bundle{Mask: [][]bool{{false}}}
	absent.Bundles[Intent] = &Bundle{Mask: [][]bool{{true}}, Sentence: []Source{{Name: "onehot", Data: tensor.New(1, 7)}}}
	assert.NoError(t, sig.Check(absent))
}

func TestObserved(t *testing.T) {
	var o Observed
	b := &Batch{DialogueLengths: []int{1}, MaxTurns: 1}
	b.Bundles[Text] = textBundle([][]bool{{true}}, []int{1}, 1)
	b.Bundles[Intent] = &Bundle{Mask: [][]bool{{false}}, Sentence: []Source{{Name: "onehot", Data: tensor.New(0, 3)}}}
	o.Add(b.Bundles)
	assert.True(t, o.OnlyEndToEnd())

	b.Bundles[Intent] = &Bundle{Mask: [][]bool{{true}}, Sentence: []Source{{Name: "onehot", Data: tensor.New(1, 3)}}}
	o.Add(b.Bundles)
	assert.False(t, o.OnlyEndToEnd())
}
