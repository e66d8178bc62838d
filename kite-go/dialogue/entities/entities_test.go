package entities

import (
	"encoding/json"
	"testing"

	"github.com/kiteco/dialogue/kite-golib/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagSpecBijection(t *testing.T) {
	spec := NewTagSpec(EntityCategory, []string{"U-city", "B-city", "O", "L-city", "U-city"})
	require.NoError(t, spec.Validate())
	assert.Equal(t, 4, spec.NumTags)
	assert.Equal(t, 0, spec.ID(NoEntity))
	for id := 0; id < spec.NumTags; id++ {
		assert.Equal(t, id, spec.ID(spec.Tag(id)))
	}
	assert.Equal(t, []string{"O", "B-city", "U-city"}, spec.Tags([]int{0, 1, 3}))
	assert.Equal(t, NoEntity, spec.Tag(42))
}

func TestTagSpecJSON(t *testing.T) {
	spec := NewTagSpec(EntityCategory, []string{"city"})
	b, err := json.Marshal(spec)
	require.NoError(t, err)

	var back TagSpec
	require.NoError(t, json.Unmarshal(b, &back))
	require.NoError(t, back.Validate())
	assert.Equal(t, *spec, back)
}

func TestTagSpecValidate(t *testing.T) {
	spec := &TagSpec{
		TagName:   EntityCategory,
		IDsToTags: map[int]string{0: "O", 1: "city"},
		TagsToIDs: map[string]int{"O": 0, "city": 0},
		NumTags:   2,
	}
	err := spec.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsConfig(err))
}

func TestHasRealTags(t *testing.T) {
	assert.False(t, HasRealTags(nil))
	assert.False(t, HasRealTags([][]int{{0, 0}, {}}))
	assert.True(t, HasRealTags([][]int{{0}, {0, 2}}))
}

func TestF1(t *testing.T) {
	gold := [][]int{{0, 1, 1, 0}, {2, 0}}
	assert.Equal(t, 1.0, F1(gold, gold))
	assert.Equal(t, 0.0, F1([][]int{{0, 0}}, [][]int{{0, 0}}))

	// one hit, one miss, one spurious: precision 1/2, recall 1/3
	predicted := [][]int{{0, 1, 0, 0}, {1, 0}}
	assert.InDelta(t, 0.4, F1(gold, predicted), 1e-9)
}

func TestBILOUConverter(t *testing.T) {
	text := "fly from new york to berlin"
	tokens := []Token{
		{"fly", 0, 3}, {"from", 4, 8}, {"new", 9, 12}, {"york", 13, 17}, {"to", 18, 20}, {"berlin", 21, 27},
	}
	tags := []string{"O", "O", "B-city", "L-city", "O", "U-city"}
	conf := []float64{1, 1, 0.9, 0.8, 1, 0.7}

	got := BILOUConverter{}.Convert(text, tokens, tags, conf)
	require.Len(t, got, 2)
	assert.Equal(t, Entity{Entity: "city", Value: "new york", Start: 9, End: 17, Confidence: 0.8}, got[0])
	assert.Equal(t, Entity{Entity: "city", Value: "berlin", Start: 21, End: 27, Confidence: 0.7}, got[1])

	plain := BILOUConverter{}.Convert(text, tokens, []string{"O", "O", "city", "city", "O", "O"}, nil)
	require.Len(t, plain, 1)
	assert.Equal(t, "new york", plain[0].Value)
}
