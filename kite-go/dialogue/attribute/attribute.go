// Package attribute defines the per-turn feature bundles the dialogue policy consumes
// and the bookkeeping that maps ragged (example, turn) data onto dense grids.
package attribute

import (
	"encoding/json"

	"github.com/kiteco/dialogue/kite-golib/errors"
)

// Attribute names one kind of per-turn (or per-label) feature.
type Attribute int

// The closed set of attributes. The order is the order state-level features are
// concatenated in.
const (
	Intent Attribute = iota
	Text
	ActionName
	ActionText
	Entities
	Slots
	ActiveLoop
	EntityTags
	Dialogue
	Label
	LabelActionName
	LabelActionText

	// NumAttributes sizes per-attribute tables.
	NumAttributes
)

var names = [NumAttributes]string{
	Intent:          "intent",
	Text:            "text",
	ActionName:      "action_name",
	ActionText:      "action_text",
	Entities:        "entities",
	Slots:           "slots",
	ActiveLoop:      "active_loop",
	EntityTags:      "entity_tags",
	Dialogue:        "dialogue",
	Label:           "label",
	LabelActionName: "label_action_name",
	LabelActionText: "label_action_text",
}

func (a Attribute) String() string {
	if a < 0 || a >= NumAttributes {
		return "unknown"
	}
	return names[a]
}

// Parse maps a name back to its attribute.
func Parse(name string) (Attribute, error) {
	for a, n := range names {
		if n == name {
			return Attribute(a), nil
		}
	}
	return 0, errors.Errorf("unknown attribute %q", name)
}

// MarshalJSON encodes the attribute by name.
func (a Attribute) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON decodes an attribute name.
func (a *Attribute) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	parsed, err := Parse(name)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Set is a fixed-size membership table over attributes.
type Set [NumAttributes]bool

// NewSet builds a set.
func NewSet(attrs ...Attribute) Set {
	var s Set
	for _, a := range attrs {
		s[a] = true
	}
	return s
}

// Has reports membership.
func (s Set) Has(a Attribute) bool {
	return a >= 0 && a < NumAttributes && s[a]
}

// Members lists the attributes in enumeration order.
func (s Set) Members() []Attribute {
	var out []Attribute
	for a, ok := range s {
		if ok {
			out = append(out, Attribute(a))
		}
	}
	return out
}

var (
	// UserAttributes describe what the user said.
	UserAttributes = NewSet(Intent, Text)
	// ActionAttributes describe what the system did.
	ActionAttributes = NewSet(ActionName, ActionText)
	// LabelAttributes describe a candidate action.
	LabelAttributes = NewSet(LabelActionName, LabelActionText)
	// StateAttributes are turn-level features concatenated as they are.
	StateAttributes = NewSet(Entities, Slots, ActiveLoop)
	// SequenceAttributes carry token-level features.
	SequenceAttributes = NewSet(Text, ActionText, LabelActionText)
	// EncodedAttributes are projected to the encoding dimension.
	EncodedAttributes = NewSet(Intent, Text, ActionName, ActionText, LabelActionName, LabelActionText)
	// DialogueAttributes are the attributes a dialogue turn can carry.
	DialogueAttributes = NewSet(Intent, Text, ActionName, ActionText, Entities, Slots, ActiveLoop)
)
