package ted

import (
	"testing"

	"github.com/kiteco/dialogue/kite-go/dialogue/attribute"
	"github.com/kiteco/dialogue/kite-go/dialogue/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gonum.org/v1/gonum/floats"
)

type fakeTracker struct {
	latest string
	text   string
	tokens []entities.Token
}

func (f fakeTracker) LatestActionName() string {
	return f.latest
}

func (f fakeTracker) LatestMessage() (string, []entities.Token) {
	return f.text, f.tokens
}

func cityTracker(latest string) fakeTracker {
	return fakeTracker{
		latest: latest,
		text:   "in Paris",
		tokens: []entities.Token{{Text: "in", Start: 0, End: 2}, {Text: "Paris", Start: 3, End: 8}},
	}
}

// fakeFeaturizer featurizes every tracker as a greeting followed by the user asking for
// a city, either by intent or by text.
type fakeFeaturizer struct {
	calls   int
	useText []bool
}

func (f *fakeFeaturizer) Featurize(t Tracker, useText bool) (*attribute.Batch, error) {
	f.calls++
	f.useText = append(f.useText, useText)
	last := turn{intent: 1, prev: 0, label: -1}
	if useText {
		last = turn{intent: -1, prev: 0, text: []int{1, cityToken}, label: -1}
	}
	return dialogue(turn{intent: 0, prev: 0, label: 1}, turn{intent: -1, prev: 1, label: 0}, last), nil
}

func trainedPolicy(t *testing.T) (*Policy, *fakeFeaturizer) {
	featurizer := &fakeFeaturizer{}
	policy, err := NewPolicy(featurizer, nil, nil)
	require.NoError(t, err)
	model, observed := trainedModel(t, testHParams())
	policy.SetModel(model, observed)
	return policy, featurizer
}

func TestUntrainedPolicyPredictsDefault(t *testing.T) {
	featurizer := &fakeFeaturizer{}
	policy, err := NewPolicy(featurizer, nil, nil)
	require.NoError(t, err)

	pred, err := policy.PredictActionProbabilities(cityTracker(ActionListen), len(actions))
	require.NoError(t, err)
	assert.Equal(t, make([]float64, len(actions)), pred.Probabilities)
	assert.False(t, pred.IsEndToEnd)
	assert.Empty(t, pred.Events)
	assert.Equal(t, 0, featurizer.calls)
}

func TestPolicyIntentOnlyAfterAction(t *testing.T) {
	policy, featurizer := trainedPolicy(t)

	pred, err := policy.PredictActionProbabilities(cityTracker("utter_greet"), len(actions))
	require.NoError(t, err)
	assert.Equal(t, []bool{false}, featurizer.useText)
	require.Len(t, pred.Probabilities, len(actions))
	assert.InDelta(t, 1, floats.Sum(pred.Probabilities), 1e-9)
	assert.False(t, pred.IsEndToEnd)
	assert.Empty(t, pred.Events)
}

func TestPolicyBothVariantsAfterListen(t *testing.T) {
	policy, featurizer := trainedPolicy(t)

	pred, err := policy.PredictActionProbabilities(cityTracker(ActionListen), len(actions))
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true}, featurizer.useText)
	require.Len(t, pred.Probabilities, len(actions))
	assert.InDelta(t, 1, floats.Sum(pred.Probabilities), 1e-9)
	if !pred.IsEndToEnd {
		assert.Empty(t, pred.Events)
	}
}

func TestPolicyCachesPredictions(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	policy, err := NewPolicy(&fakeFeaturizer{}, nil, zap.New(core))
	require.NoError(t, err)
	model, observed := trainedModel(t, testHParams())
	policy.SetModel(model, observed)
	hits := func() int {
		return logs.FilterMessage("prediction served from cache").Len()
	}

	first, err := policy.PredictActionProbabilities(cityTracker(ActionListen), len(actions))
	require.NoError(t, err)
	assert.Equal(t, 0, hits())
	second, err := policy.PredictActionProbabilities(cityTracker(ActionListen), len(actions))
	require.NoError(t, err)
	assert.Equal(t, 1, hits())
	assert.Equal(t, first, second)

	policy.SetModel(policy.Model(), policy.Observed())
	third, err := policy.PredictActionProbabilities(cityTracker(ActionListen), len(actions))
	require.NoError(t, err)
	assert.Equal(t, 1, hits())
	assert.Equal(t, first.Probabilities, third.Probabilities)
}

func TestPolicyCacheDoesNotAliasResults(t *testing.T) {
	policy, _ := trainedPolicy(t)

	first, err := policy.PredictActionProbabilities(cityTracker(ActionListen), len(actions))
	require.NoError(t, err)
	want := append([]float64(nil), first.Probabilities...)
	for i := range first.Probabilities {
		first.Probabilities[i] = 42
	}
	if len(first.Events) > 0 && len(first.Events[0].Entities) > 0 {
		first.Events[0].Entities[0].Value = "Rome"
	}

	second, err := policy.PredictActionProbabilities(cityTracker(ActionListen), len(actions))
	require.NoError(t, err)
	assert.Equal(t, want, second.Probabilities)
	for _, ev := range second.Events {
		for _, e := range ev.Entities {
			assert.NotEqual(t, "Rome", e.Value)
		}
	}

	second.Probabilities[0] = -1
	third, err := policy.PredictActionProbabilities(cityTracker(ActionListen), len(actions))
	require.NoError(t, err)
	assert.Equal(t, want, third.Probabilities)
}

func TestPolicyRankingLength(t *testing.T) {
	hp := testHParams()
	hp.RankingLength = 2
	featurizer := &fakeFeaturizer{}
	policy, err := NewPolicy(featurizer, nil, nil)
	require.NoError(t, err)
	model, observed := trainedModel(t, hp)
	policy.SetModel(model, observed)

	pred, err := policy.PredictActionProbabilities(cityTracker("utter_greet"), len(actions))
	require.NoError(t, err)
	var nonzero int
	for _, p := range pred.Probabilities {
		if p > 0 {
			nonzero++
		}
	}
	assert.Equal(t, 2, nonzero)
	assert.InDelta(t, 1, floats.Sum(pred.Probabilities), 1e-9)
}

func TestEntitiesEvent(t *testing.T) {
	policy, _ := trainedPolicy(t)
	pred := &Prediction{
		TextOwners: []attribute.Position{{Example: 1, Turn: 2}},
		Tags: []TagPrediction{{
			TagName:     entities.EntityCategory,
			IDs:         [][]int{{0, 1}},
			Confidences: [][]float64{{0.9, 0.8}},
		}},
	}

	ev, ok := policy.entitiesEvent(cityTracker(ActionListen), pred, Routed{Row: 1, IsEndToEnd: true})
	require.True(t, ok)
	assert.Equal(t, EntitiesAddedEvent, ev.Type)
	assert.Equal(t, []entities.Entity{{
		Entity:     "city",
		Value:      "Paris",
		Start:      3,
		End:        8,
		Confidence: 0.8,
		Extractor:  Extractor,
	}}, ev.Entities)

	_, ok = policy.entitiesEvent(cityTracker(ActionListen), pred, Routed{Row: 0})
	assert.False(t, ok)

	_, ok = policy.entitiesEvent(cityTracker("utter_greet"), pred, Routed{Row: 1, IsEndToEnd: true})
	assert.False(t, ok)
}
