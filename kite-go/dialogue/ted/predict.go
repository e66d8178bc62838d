package ted

import (
	"github.com/kiteco/dialogue/kite-go/dialogue/attribute"
	"github.com/kiteco/dialogue/kite-golib/nn"
	"github.com/kiteco/dialogue/kite-golib/tensor"
	"go.uber.org/zap"
)

// Prediction is the model output for one inference batch.
type Prediction struct {
	// Similarities and Confidences are [example][label]; examples without turns are
	// all zero.
	Similarities [][]float64
	Confidences  [][]float64
	// Tags holds one prediction per tag spec for the text of the last turn of every
	// example, in the order of TextOwners.
	Tags       []TagPrediction
	TextOwners []attribute.Position
	// Attention holds the dialogue transformer attention weights, diagnostic only.
	Attention [][]*tensor.Mat
}

// Predict scores every label for the last turn of every dialogue in b.
func (m *Model) Predict(s *Snapshot, b *attribute.Batch) (*Prediction, error) {
	if err := m.checkSnapshot(s); err != nil {
		return nil, err
	}
	if err := m.validate(b); err != nil {
		return nil, err
	}
	p := nn.NewInferencePass()
	ti := attribute.ForBatch(b)
	dialogue, text := m.encodeDialogues(p, b, ti, false)

	d, l := dialogue.embedding, s.Embeddings
	if m.loss.similarity == CosineSimilarity {
		d, l = p.Tape.L2Normalize(d), p.Tape.L2Normalize(l)
	}
	sims := p.Tape.MatMulT(d, l)

	out := &Prediction{
		Similarities: make([][]float64, b.Size()),
		Confidences:  make([][]float64, b.Size()),
		Attention:    dialogue.attention,
	}
	for ex := range out.Similarities {
		out.Similarities[ex] = make([]float64, m.space.Size())
		out.Confidences[ex] = make([]float64, m.space.Size())
	}
	for i, pos := range dialogue.retained {
		copy(out.Similarities[pos.Example], sims.Row(i))
		out.Confidences[pos.Example] = confidences(sims.Row(i), m.hp.ModelConfidence)
	}

	if m.tagger != nil {
		out.Tags = m.tagger.predict(p, text, dialogue, ti)
		out.TextOwners = text.owners
	}
	m.logger.Debug("predicted", zap.Int("examples", b.Size()), zap.Int("labels", m.space.Size()))
	return out, nil
}
