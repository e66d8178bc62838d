package ted

import (
	"testing"

	"github.com/kiteco/dialogue/kite-go/dialogue/attribute"
	"github.com/kiteco/dialogue/kite-go/dialogue/entities"
	"github.com/kiteco/dialogue/kite-go/dialogue/labels"
	"github.com/kiteco/dialogue/kite-golib/tensor"
	"github.com/stretchr/testify/require"
)

const (
	numIntents = 3
	vocabSize  = 5
	// cityToken is tagged as a city wherever it appears.
	cityToken = 3
)

var actions = []string{ActionListen, "utter_greet", "utter_ask_city", "action_search"}

func testHParams() HParams {
	hp := DefaultHParams()
	for k := range hp.DenseDimension {
		hp.DenseDimension[k] = 4
	}
	for k := range hp.ConcatDimension {
		hp.ConcatDimension[k] = 4
	}
	for k := range hp.TransformerSize {
		hp.TransformerSize[k] = 8
	}
	hp.EncodingDimension = 6
	hp.EmbeddingDimension = 5
	hp.NumHeads = 2
	hp.NumNeg = 2
	hp.BatchSizes = []int{2}
	hp.Epochs = 2
	hp.EvaluateEveryNumberOfEpochs = 0
	hp.RandomSeed = 7
	return hp
}

func testSpace(t *testing.T) *labels.Space {
	onehot := tensor.New(len(actions), len(actions))
	mask := make([][]bool, len(actions))
	for i := range actions {
		onehot.Set(i, i, 1)
		mask[i] = []bool{true}
	}
	space, err := labels.NewSpace(actions, map[attribute.Attribute]*attribute.Bundle{
		attribute.LabelActionName: {
			Mask:     mask,
			Sentence: []attribute.Source{{Name: "onehot", Sparse: true, Data: onehot}},
		},
	}, 1)
	require.NoError(t, err)
	return space
}

func testTagSpecs() []*entities.TagSpec {
	return []*entities.TagSpec{entities.NewTagSpec(entities.EntityCategory, []string{"city"})}
}

// turn is one turn of a test dialogue. intent and prev are -1 when absent, text is a
// list of token ids and nil when the user did not type.
type turn struct {
	intent int
	prev   int
	text   []int
	label  int
}

// dialogue featurizes a single dialogue: intents and previous actions as one-hot sparse
// sentence features, text as one-hot sparse tokens plus a dense sentence feature.
func dialogue(turns ...turn) *attribute.Batch {
	n := len(turns)
	b := &attribute.Batch{DialogueLengths: []int{n}, MaxTurns: n, LabelIDs: [][]int{make([]int, n)}}

	intentMask, prevMask, textMask := []bool{}, []bool{}, []bool{}
	var intents, prevs [][]float64
	var texts [][]int
	maxLen := 0
	for i, tr := range turns {
		b.LabelIDs[0][i] = tr.label
		intentMask = append(intentMask, tr.intent >= 0)
		if tr.intent >= 0 {
			row := make([]float64, numIntents)
			row[tr.intent] = 1
			intents = append(intents, row)
		}
		prevMask = append(prevMask, tr.prev >= 0)
		if tr.prev >= 0 {
			row := make([]float64, len(actions))
			row[tr.prev] = 1
			prevs = append(prevs, row)
		}
		textMask = append(textMask, tr.text != nil)
		if tr.text != nil {
			texts = append(texts, tr.text)
			if len(tr.text) > maxLen {
				maxLen = len(tr.text)
			}
		}
	}
	if len(intents) > 0 {
		b.Bundles[attribute.Intent] = &attribute.Bundle{
			Mask:     [][]bool{intentMask},
			Sentence: []attribute.Source{{Name: "onehot", Sparse: true, Data: tensor.FromRows(numIntents, intents)}},
		}
	}
	if len(prevs) > 0 {
		b.Bundles[attribute.ActionName] = &attribute.Bundle{
			Mask:     [][]bool{prevMask},
			Sentence: []attribute.Source{{Name: "onehot", Sparse: true, Data: tensor.FromRows(len(actions), prevs)}},
		}
	}
	if len(texts) > 0 {
		sentence := tensor.New(len(texts), 2)
		tokens := tensor.New(len(texts)*maxLen, vocabSize)
		lengths := make([]int, len(texts))
		tags := make([][]int, len(texts))
		for i, text := range texts {
			lengths[i] = len(text)
			tags[i] = make([]int, len(text))
			sentence.Set(i, 0, float64(len(text)))
			sentence.Set(i, 1, 1)
			for j, tok := range text {
				tokens.Set(i*maxLen+j, tok, 1)
				if tok == cityToken {
					tags[i][j] = 1
				}
			}
		}
		b.Bundles[attribute.Text] = &attribute.Bundle{
			Mask:              [][]bool{textMask},
			Sentence:          []attribute.Source{{Name: "dense", Data: sentence}},
			Sequence:          []attribute.Source{{Name: "onehot", Sparse: true, Data: tokens}},
			SequenceLengths:   lengths,
			MaxSequenceLength: maxLen,
		}
		b.EntityTags = [][][]int{tags}
	}
	return b
}

// greeting is a dialogue where the user greets, then asks for a city by intent.
func greeting() *attribute.Batch {
	return dialogue(
		turn{intent: 0, prev: 0, label: 1},
		turn{intent: -1, prev: 1, label: 0},
		turn{intent: 1, prev: 0, label: 2},
	)
}

// search is a dialogue where the user types a city.
func search() *attribute.Batch {
	return dialogue(
		turn{intent: 2, prev: 0, text: []int{1, cityToken}, label: 3},
		turn{intent: -1, prev: 3, label: 0},
	)
}

func trainingExamples() []*attribute.Batch {
	return []*attribute.Batch{greeting(), search(), greeting(), search()}
}

func trainedModel(t *testing.T, hp HParams) (*Model, attribute.Observed) {
	trained, err := NewTrainer(hp, nil).Train(trainingExamples(), testSpace(t), testTagSpecs())
	require.NoError(t, err)
	return trained.Model, trained.Observed
}
