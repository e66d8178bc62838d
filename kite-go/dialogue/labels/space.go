// Package labels holds the label space of the dialogue policy (every action it can
// predict, with its features) and the negative sampling over it.
package labels

import (
	"github.com/kiteco/dialogue/kite-go/dialogue/attribute"
	"github.com/kiteco/dialogue/kite-golib/errors"
)

// Space is the ordered, finite set of candidate actions. Ids are positions in Actions
// and stay stable for the lifetime of a trained model.
type Space struct {
	Actions []string `json:"actions"`
	// Bundles holds the label features indexed by attribute; only label attributes are
	// set. Label i is example i with a single turn.
	Bundles [attribute.NumAttributes]*attribute.Bundle `json:"bundles"`
	// Generation changes whenever the space is rebuilt, so that embeddings computed
	// for an older space can be recognized.
	Generation int64 `json:"generation"`
}

// NewSpace validates the label bundles against the action list.
func NewSpace(actions []string, bundles map[attribute.Attribute]*attribute.Bundle, generation int64) (*Space, error) {
	s := &Space{Actions: actions, Generation: generation}
	lengths := make([]int, len(actions))
	for i := range lengths {
		lengths[i] = 1
	}
	for a, b := range bundles {
		if !attribute.LabelAttributes.Has(a) {
			return nil, errors.Configf("%s is not a label attribute", a)
		}
		if err := b.Validate(lengths, 1); err != nil {
			return nil, errors.Wrapf(err, "invalid %s label features", a)
		}
		s.Bundles[a] = b
	}
	if s.Bundles[attribute.LabelActionName] == nil && s.Bundles[attribute.LabelActionText] == nil {
		return nil, errors.Configf("no label attribute, expected one of %v", attribute.LabelAttributes.Members())
	}
	return s, nil
}

// Size is the number of labels.
func (s *Space) Size() int {
	return len(s.Actions)
}

// ID returns the id of an action, or -1.
func (s *Space) ID(action string) int {
	for i, a := range s.Actions {
		if a == action {
			return i
		}
	}
	return -1
}

// Attributes lists the label attributes present, in enumeration order.
func (s *Space) Attributes() []attribute.Attribute {
	var out []attribute.Attribute
	for _, a := range attribute.LabelAttributes.Members() {
		if s.Bundles[a] != nil {
			out = append(out, a)
		}
	}
	return out
}

// Participates lists, in ascending order, the ids of the labels that have features
// for attribute a.
func (s *Space) Participates(a attribute.Attribute) []int {
	b := s.Bundles[a]
	if b == nil {
		return nil
	}
	var ids []int
	for id, turns := range b.Mask {
		if turns[0] {
			ids = append(ids, id)
		}
	}
	return ids
}

// Select returns the label features of the given ids, as a batch of single-turn
// examples in the order of ids.
func (s *Space) Select(ids []int) *attribute.Batch {
	b := &attribute.Batch{DialogueLengths: make([]int, len(ids)), MaxTurns: 1}
	for i := range ids {
		b.DialogueLengths[i] = 1
	}
	for _, a := range s.Attributes() {
		b.Bundles[a] = s.Bundles[a].Select(ids)
	}
	return b
}
