package ted

import (
	"math/rand"
	"time"

	"github.com/kiteco/dialogue/kite-go/dialogue/attribute"
	"github.com/kiteco/dialogue/kite-go/dialogue/entities"
	"github.com/kiteco/dialogue/kite-go/dialogue/labels"
	"github.com/kiteco/dialogue/kite-golib/errors"
	"github.com/kiteco/dialogue/kite-golib/kitelog"
	"github.com/kiteco/dialogue/kite-golib/nn"
	"github.com/kiteco/dialogue/kite-golib/tensor"
	"go.uber.org/zap"
)

// Model is the transformer embedding dialogue model: it embeds dialogues and labels
// into a shared space, ranks labels by similarity and tags entities in user text.
type Model struct {
	hp       HParams
	sig      attribute.Signature
	space    *labels.Space
	meta     *labels.Metadata
	tagSpecs []*entities.TagSpec

	params  *nn.Params
	rng     *rand.Rand
	sampler *labels.Sampler
	logger  *zap.Logger

	encoders   attributeEncoders
	dialogue   *dialogueEncoder
	embedLabel *nn.Dense
	tagger     *entityTagger
	loss       rankingLoss

	checkpoint *Checkpoint
}

// Checkpoint holds the parameters of the best evaluated epoch of a training run.
type Checkpoint struct {
	Epoch    int                  `json:"epoch"`
	Accuracy float64              `json:"accuracy"`
	Loss     float64              `json:"loss"`
	Params   map[string][]float64 `json:"-"`
}

// improvedBy reports whether eval beats the checkpoint: higher accuracy, or equal
// accuracy at a lower loss. Any evaluation beats a nil checkpoint.
func (c *Checkpoint) improvedBy(eval Metrics) bool {
	if c == nil {
		return true
	}
	return eval.Accuracy > c.Accuracy || (eval.Accuracy == c.Accuracy && eval.Loss < c.Loss)
}

// NewModel builds a model for dialogues with the features described by sig and the
// given label space. Entity tagging is enabled when tag specs are given, entity
// recognition is on and text carries token features.
func NewModel(hp HParams, sig attribute.Signature, space *labels.Space, tagSpecs []*entities.TagSpec, logger *zap.Logger) (*Model, error) {
	if err := hp.Validate(); err != nil {
		return nil, err
	}
	if !sig.Has(attribute.Intent) && !sig.Has(attribute.Text) {
		return nil, errors.Configf("no user attribute, expected one of %v", attribute.UserAttributes.Members())
	}
	if !sig.Has(attribute.ActionName) && !sig.Has(attribute.ActionText) {
		return nil, errors.Configf("no action attribute, expected one of %v", attribute.ActionAttributes.Members())
	}
	if space == nil || len(space.Attributes()) == 0 {
		return nil, errors.Configf("no label attribute, expected one of %v", attribute.LabelAttributes.Members())
	}
	meta, err := labels.NewMetadata(space, hp.LabelBatchSize)
	if err != nil {
		return nil, err
	}
	if err := sig.Add(space.Bundles); err != nil {
		return nil, err
	}
	for _, spec := range tagSpecs {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
	}

	rng := rand.New(rand.NewSource(hp.RandomSeed))
	m := &Model{
		hp:       hp,
		sig:      sig,
		space:    space,
		meta:     meta,
		tagSpecs: tagSpecs,
		params:   nn.NewParams(),
		rng:      rng,
		sampler:  labels.NewSampler(space, meta, rng),
		logger:   kitelog.OrNop(logger),
		loss:     newRankingLoss(hp),
	}
	m.encoders = newAttributeEncoders(m.params, &m.sig, hp, rng)
	m.dialogue = newDialogueEncoder(m.params, m.dialogueWidth(), hp, rng)
	m.embedLabel = nn.NewDense(m.params, "embed.label", hp.EncodingDimension, hp.EmbeddingDimension, true, rng)

	text := m.encoders[attribute.Text]
	if hp.EntityRecognition && len(tagSpecs) > 0 && text != nil && text.sequence != nil {
		units, _ := hp.Transformer(attribute.Dialogue)
		m.tagger = newEntityTagger(m.params, tagSpecs, text.sequence.units, units, rng)
	}
	m.logger.Info("built dialogue model",
		zap.Int("parameters", m.params.Len()),
		zap.Int("labels", space.Size()),
		zap.Bool("entity_recognition", m.tagger != nil),
		zap.Bool("max_history", hp.MaxHistoryMode()))
	return m, nil
}

// HParams returns the hyperparameters.
func (m *Model) HParams() HParams {
	return m.hp
}

// Space returns the label space.
func (m *Model) Space() *labels.Space {
	return m.space
}

// Signature returns the feature layout the model was built for.
func (m *Model) Signature() attribute.Signature {
	return m.sig
}

// TagSpecs returns the tag specs of the entity tagger, nil when tagging is off.
func (m *Model) TagSpecs() []*entities.TagSpec {
	if m.tagger == nil {
		return nil
	}
	return m.tagSpecs
}

// Checkpoint returns the best evaluated parameters of the last training run, nil when
// checkpointing was off or nothing was evaluated.
func (m *Model) Checkpoint() *Checkpoint {
	return m.checkpoint
}

// Params returns the trainable parameters.
func (m *Model) Params() *nn.Params {
	return m.params
}

// dialogueInputs lists the attribute groups summed into one block of the dialogue
// input: user, then action, then every state attribute.
func dialogueInputs() [][]attribute.Attribute {
	groups := [][]attribute.Attribute{
		{attribute.Intent, attribute.Text},
		{attribute.ActionName, attribute.ActionText},
	}
	for _, a := range attribute.StateAttributes.Members() {
		groups = append(groups, []attribute.Attribute{a})
	}
	return groups
}

func (m *Model) dialogueWidth() int {
	var width int
	for _, group := range dialogueInputs() {
		for _, a := range group {
			if m.encoders[a] != nil {
				width += m.encoders[a].units
				break
			}
		}
	}
	return width
}

// encodeDialogues runs every dialogue attribute encoder and the dialogue encoder.
func (m *Model) encodeDialogues(p *nn.Pass, b *attribute.Batch, ti *attribute.TurnIndex, training bool) (dialogueEncoding, attributeEncoding) {
	// entities are tagged on every text while training with full history, otherwise
	// only on the last turn
	keepText := func(pos attribute.Position) bool {
		return (training && !m.hp.MaxHistoryMode()) || ti.IsLastTurn(pos.Example, pos.Turn)
	}
	var parts []*tensor.Mat
	var text attributeEncoding
	for _, group := range dialogueInputs() {
		var sum *tensor.Mat
		for _, a := range group {
			enc := m.encoders[a]
			if enc == nil {
				continue
			}
			var keep func(attribute.Position) bool
			if a == attribute.Text {
				keep = keepText
			}
			out := enc.encode(p, b.Bundle(a), ti, keep)
			if a == attribute.Text {
				text = out
			}
			if sum == nil {
				sum = out.grid
			} else {
				sum = p.Tape.Add(sum, out.grid)
			}
		}
		if sum != nil {
			parts = append(parts, sum)
		}
	}
	return m.dialogue.encode(p, p.Tape.ConcatCols(parts...), ti, training), text
}

// Metrics are the monitoring values of one batch.
type Metrics struct {
	Loss       float64
	Accuracy   float64
	EntityLoss float64
	EntityF1   float64
}

// validate checks b on its own and against the feature layout of the model.
func (m *Model) validate(b *attribute.Batch) error {
	if err := b.Validate(); err != nil {
		return err
	}
	return m.sig.Check(b)
}

// BatchLoss computes the total training loss of a batch.
func (m *Model) BatchLoss(p *nn.Pass, b *attribute.Batch) (*tensor.Mat, Metrics, error) {
	if err := m.validate(b); err != nil {
		return nil, Metrics{}, err
	}
	if b.LabelIDs == nil {
		return nil, Metrics{}, errors.Contractf("training batch without label ids")
	}
	ti := attribute.ForBatch(b)
	dialogue, text := m.encodeDialogues(p, b, ti, true)

	// rows without a label do not take part in the ranking loss
	var rows, positives []int
	for i, pos := range dialogue.retained {
		id := b.LabelIDs[pos.Example][pos.Turn]
		if id < 0 {
			continue
		}
		if id >= m.space.Size() {
			return nil, Metrics{}, errors.Contractf("label id %d outside a space of %d", id, m.space.Size())
		}
		rows = append(rows, i)
		positives = append(positives, id)
	}

	negatives, _ := labels.UniqueSorted(m.sampler.Sample())
	ids, index := labels.UniqueSorted(negatives, positives)
	embedded := m.embedLabels(p, ids)

	posRows := make([]int, len(positives))
	for i, id := range positives {
		posRows[i] = index[id]
	}
	negRows := make([]int, len(negatives))
	for k, id := range negatives {
		negRows[k] = index[id]
	}
	in := rankingInput{
		dialogue:  p.Tape.GatherRows(dialogue.embedding, rows),
		positive:  p.Tape.GatherRows(embedded, posRows),
		negatives: p.Tape.GatherRows(embedded, negRows),
		valid:     m.usableNegatives(positives, negatives),
	}
	loss, accuracy := m.loss.forward(p.Tape, in)
	metrics := Metrics{Loss: loss.W[0], Accuracy: accuracy}

	if m.tagger != nil && len(b.EntityTags) > 0 {
		entityLoss, f1 := m.tagger.loss(p, text, dialogue, ti, b.EntityTags)
		metrics.EntityLoss, metrics.EntityF1 = entityLoss.W[0], f1
		loss = p.Tape.Add(loss, entityLoss)
	}
	return loss, metrics, nil
}

// usableNegatives excludes each row's own label and, when more negatives remain than
// NumNeg, keeps a random NumNeg of them.
func (m *Model) usableNegatives(positives, negatives []int) [][]bool {
	valid := make([][]bool, len(positives))
	for i, id := range positives {
		valid[i] = make([]bool, len(negatives))
		var usable []int
		for k, neg := range negatives {
			if neg != id {
				usable = append(usable, k)
			}
		}
		if n := m.hp.NumNeg; n > 0 && len(usable) > n {
			m.rng.Shuffle(len(usable), func(a, b int) { usable[a], usable[b] = usable[b], usable[a] })
			usable = usable[:n]
		}
		for _, k := range usable {
			valid[i][k] = true
		}
	}
	return valid
}

// TrainStep runs one optimization step on a batch.
func (m *Model) TrainStep(b *attribute.Batch, opt *nn.Adam) (Metrics, error) {
	var durations kitelog.Durations
	start := time.Now()
	p := nn.NewTrainingPass(m.rng)
	loss, metrics, err := m.BatchLoss(p, b)
	if err != nil {
		return Metrics{}, err
	}
	durations.Since("forward", start)

	start = time.Now()
	p.Tape.Backward(loss)
	durations.Since("backward", start)

	start = time.Now()
	opt.Step(m.params)
	durations.Since("step", start)
	durations.Flush(m.logger, "train step")
	return metrics, nil
}

// Evaluate computes the metrics of a batch without dropout or updates.
func (m *Model) Evaluate(b *attribute.Batch) (Metrics, error) {
	_, metrics, err := m.BatchLoss(nn.NewInferencePass(), b)
	return metrics, err
}
