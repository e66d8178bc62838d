package attribute

import "github.com/kiteco/dialogue/kite-golib/errors"

// SourceSignature describes a feature source without its data.
type SourceSignature struct {
	Name   string `json:"name"`
	Sparse bool   `json:"sparse"`
	Dim    int    `json:"dim"`
}

// BundleSignature describes the sources of one attribute.
type BundleSignature struct {
	Sentence []SourceSignature `json:"sentence"`
	Sequence []SourceSignature `json:"sequence"`
}

// Signature describes the feature layout a model is built for, indexed by Attribute.
// It is persisted next to the model so the model can be rebuilt before its weights
// are restored.
type Signature [NumAttributes]*BundleSignature

// Has reports whether attribute a has any sources.
func (s *Signature) Has(a Attribute) bool {
	b := s[a]
	return b != nil && len(b.Sentence)+len(b.Sequence) > 0
}

func signatureOf(b *Bundle) *BundleSignature {
	sig := &BundleSignature{}
	for _, s := range b.Sentence {
		sig.Sentence = append(sig.Sentence, SourceSignature{Name: s.Name, Sparse: s.Sparse, Dim: s.Dim()})
	}
	for _, s := range b.Sequence {
		sig.Sequence = append(sig.Sequence, SourceSignature{Name: s.Name, Sparse: s.Sparse, Dim: s.Dim()})
	}
	return sig
}

// Add records the sources of every non-nil bundle. A bundle disagreeing with what was
// recorded before is a contract violation.
func (s *Signature) Add(bundles [NumAttributes]*Bundle) error {
	for a, b := range bundles {
		if b == nil {
			continue
		}
		sig := signatureOf(b)
		if s[a] == nil {
			s[a] = sig
			continue
		}
		if !sameSources(s[a].Sentence, sig.Sentence) || !sameSources(s[a].Sequence, sig.Sequence) {
			return errors.Contractf("%s features do not match the recorded signature", Attribute(a))
		}
	}
	return nil
}

// Check verifies that every attribute of b with real instances carries the sources
// recorded for it: same count, names, sparsity and widths, token features included.
// Attributes the signature does not describe are not read by the model and pass.
func (s *Signature) Check(b *Batch) error {
	for a, bundle := range b.Bundles {
		want := s[a]
		if want == nil || bundle.NumReal() == 0 {
			continue
		}
		got := signatureOf(bundle)
		if err := checkSources(Attribute(a), "sentence", want.Sentence, got.Sentence); err != nil {
			return err
		}
		if len(want.Sequence) > 0 && len(got.Sequence) == 0 {
			return errors.Contractf("%s has no token features, model expects %d sequence sources", Attribute(a), len(want.Sequence))
		}
		if err := checkSources(Attribute(a), "sequence", want.Sequence, got.Sequence); err != nil {
			return err
		}
	}
	return nil
}

func checkSources(a Attribute, kind string, want, got []SourceSignature) error {
	if len(want) != len(got) {
		return errors.Contractf("%s has %d %s sources, model expects %d", a, len(got), kind, len(want))
	}
	for i := range want {
		w, g := want[i], got[i]
		switch {
		case w.Name != g.Name:
			return errors.Contractf("%s %s source %d is %q, model expects %q", a, kind, i, g.Name, w.Name)
		case w.Sparse != g.Sparse:
			return errors.Contractf("%s %s source %s has sparse=%v, model expects sparse=%v", a, kind, w.Name, g.Sparse, w.Sparse)
		case w.Dim != g.Dim:
			return errors.Contractf("%s %s source %s has width %d, model expects %d", a, kind, w.Name, g.Dim, w.Dim)
		}
	}
	return nil
}

func sameSources(x, y []SourceSignature) bool {
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

// Observed is the set of attributes that had at least one real instance.
type Observed Set

// Add records the attributes with real instances in bundles.
func (o *Observed) Add(bundles [NumAttributes]*Bundle) {
	for a, b := range bundles {
		if b.NumReal() > 0 {
			o[a] = true
		}
	}
}

// OnlyEndToEnd is true when dialogues were featurized from raw text only: text was
// observed but intents never were.
func (o Observed) OnlyEndToEnd() bool {
	return o[Text] && !o[Intent]
}
