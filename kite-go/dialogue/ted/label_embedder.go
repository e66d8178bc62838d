package ted

import (
	"github.com/kiteco/dialogue/kite-go/dialogue/attribute"
	"github.com/kiteco/dialogue/kite-go/dialogue/labels"
	"github.com/kiteco/dialogue/kite-golib/errors"
	"github.com/kiteco/dialogue/kite-golib/nn"
	"github.com/kiteco/dialogue/kite-golib/tensor"
	"go.uber.org/zap"
)

// embedLabels embeds the labels with the given ids, one row per id. Callers pass
// distinct ids and gather from the result, so each label is embedded once per pass.
func (m *Model) embedLabels(p *nn.Pass, ids []int) *tensor.Mat {
	b := m.space.Select(ids)
	ti := attribute.ForBatch(b)
	var sum *tensor.Mat
	for _, a := range m.space.Attributes() {
		enc := m.encoders[a]
		if enc == nil {
			continue
		}
		grid := enc.encode(p, b.Bundle(a), ti, nil).grid
		if sum == nil {
			sum = grid
		} else {
			sum = p.Tape.Add(sum, grid)
		}
	}
	return m.embedLabel.Forward(p, sum)
}

// Snapshot holds the embedding of every label of one generation of the label space.
// It is immutable; a new one is needed whenever the model or the space changes.
type Snapshot struct {
	Generation int64
	// Embeddings is |labels| x EmbeddingDimension, row i is label i.
	Embeddings *tensor.Mat
}

// PrepareForInference embeds the whole label space, LabelBatchSize labels at a time.
func (m *Model) PrepareForInference() *Snapshot {
	n := m.space.Size()
	chunk := m.hp.LabelBatchSize
	if chunk == labels.AllLabels || chunk <= 0 || chunk > n {
		chunk = n
	}
	out := tensor.New(n, m.hp.EmbeddingDimension)
	for from := 0; from < n; from += chunk {
		to := from + chunk
		if to > n {
			to = n
		}
		ids := make([]int, to-from)
		for i := range ids {
			ids[i] = from + i
		}
		embedded := m.embedLabels(nn.NewInferencePass(), ids)
		copy(out.W[from*out.Cols:to*out.Cols], embedded.W)
	}
	m.logger.Debug("embedded label space", zap.Int("labels", n), zap.Int("chunk", chunk))
	return &Snapshot{Generation: m.space.Generation, Embeddings: out}
}

func (m *Model) checkSnapshot(s *Snapshot) error {
	switch {
	case s == nil:
		return errors.Contractf("predict called without preparing the model for inference")
	case s.Generation != m.space.Generation:
		return errors.Contractf("snapshot of label space generation %d, model has generation %d", s.Generation, m.space.Generation)
	case s.Embeddings.Rows != m.space.Size():
		return errors.Contractf("snapshot has %d labels, label space has %d", s.Embeddings.Rows, m.space.Size())
	}
	return nil
}
