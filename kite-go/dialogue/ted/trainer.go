package ted

import (
	"math/rand"
	"runtime"
	"time"

	"github.com/kiteco/dialogue/kite-go/dialogue/attribute"
	"github.com/kiteco/dialogue/kite-go/dialogue/entities"
	"github.com/kiteco/dialogue/kite-go/dialogue/labels"
	"github.com/kiteco/dialogue/kite-golib/errors"
	"github.com/kiteco/dialogue/kite-golib/kitelog"
	"github.com/kiteco/dialogue/kite-golib/nn"
	"github.com/kiteco/dialogue/kite-golib/workerpool"
	"github.com/montanaflynn/stats"
	"go.uber.org/zap"
)

// EpochMetrics are the mean batch metrics of one epoch, and the metrics on the held
// out examples when they were evaluated.
type EpochMetrics struct {
	Epoch     int
	BatchSize int
	Train     Metrics
	Eval      *Metrics
}

// Trainer fits a model to featurized dialogues.
type Trainer struct {
	hp      HParams
	rng     *rand.Rand
	logger  *zap.Logger
	workers int
}

// NewTrainer returns a trainer whose shuffling is seeded from hp.RandomSeed.
func NewTrainer(hp HParams, logger *zap.Logger) *Trainer {
	return &Trainer{
		hp:      hp,
		rng:     rand.New(rand.NewSource(hp.RandomSeed)),
		logger:  kitelog.OrNop(logger),
		workers: runtime.NumCPU(),
	}
}

// Trained is the result of a training run.
type Trained struct {
	Model    *Model
	Observed attribute.Observed
	Epochs   []EpochMetrics
}

// Train builds a model for the examples and fits it. Every example is a batch holding
// one dialogue with its label ids. Entity tagging is dropped for this run when no
// example carries an entity tag.
func (t *Trainer) Train(examples []*attribute.Batch, space *labels.Space, tagSpecs []*entities.TagSpec) (*Trained, error) {
	if len(examples) == 0 {
		return nil, errors.Configf("no training examples")
	}
	var sig attribute.Signature
	var observed attribute.Observed
	for i, ex := range examples {
		if ex.Size() != 1 {
			return nil, errors.Contractf("training example %d holds %d dialogues", i, ex.Size())
		}
		if err := sig.Add(ex.Bundles); err != nil {
			return nil, errors.Wrapf(err, "training example %d", i)
		}
		observed.Add(ex.Bundles)
	}
	if !hasRealTags(examples) {
		t.logger.Info("no entity tags in training data, entity recognition disabled")
		tagSpecs = nil
	}

	model, err := NewModel(t.hp, sig, space, tagSpecs, t.logger)
	if err != nil {
		return nil, err
	}
	return t.fit(model, observed, examples)
}

// Finetune continues training a loaded model on examples, keeping its architecture
// and hyperparameters. epochs > 0 overrides the number of epochs, and the override is
// recorded with the model. The examples must match the model's feature layout; an
// entity tagger is only trained when some example carries an entity tag.
func (t *Trainer) Finetune(model *Model, observed attribute.Observed, examples []*attribute.Batch, epochs int) (*Trained, error) {
	if model == nil {
		return nil, errors.Contractf("no model to finetune")
	}
	if len(examples) == 0 {
		return nil, errors.Configf("no training examples")
	}
	for i, ex := range examples {
		if ex.Size() != 1 {
			return nil, errors.Contractf("training example %d holds %d dialogues", i, ex.Size())
		}
		if err := model.sig.Check(ex); err != nil {
			return nil, errors.Wrapf(err, "training example %d", i)
		}
		observed.Add(ex.Bundles)
	}

	switch tagged := hasRealTags(examples); {
	case !tagged && model.tagger != nil:
		t.logger.Info("no entity tags in finetuning data, entity tagger is not trained")
		untagged := make([]*attribute.Batch, len(examples))
		for i, ex := range examples {
			cp := *ex
			cp.EntityTags = nil
			untagged[i] = &cp
		}
		examples = untagged
	case tagged && model.tagger == nil:
		t.logger.Info("model was built without entity recognition, entity tags are ignored")
	}

	hp := model.hp
	if epochs > 0 {
		hp.Epochs = epochs
	}
	model.hp.Epochs = hp.Epochs
	ft := &Trainer{hp: hp, rng: t.rng, logger: t.logger, workers: t.workers}
	ft.logger.Info("finetuning model", zap.Int("examples", len(examples)), zap.Int("epochs", hp.Epochs))
	return ft.fit(model, observed, examples)
}

// fit runs the epochs on model. With checkpointing on, the parameters of the best
// evaluated epoch are kept on the model.
func (t *Trainer) fit(model *Model, observed attribute.Observed, examples []*attribute.Batch) (*Trained, error) {
	train, eval := t.holdOut(examples)
	if t.hp.CheckpointModel && len(eval) == 0 {
		t.logger.Warn("checkpoint_model needs evaluate_on_number_of_examples > 0, no checkpoint will be kept")
	}
	opt := nn.NewAdam(t.hp.LearningRate, t.hp.RegularizationConstant)
	out := &Trained{Model: model, Observed: observed}
	var best *Checkpoint
	for epoch := 0; epoch < t.hp.Epochs; epoch++ {
		m, err := t.epoch(model, opt, train, epoch)
		if err != nil {
			return nil, err
		}
		if len(eval) > 0 && t.evaluateNow(epoch) {
			em, err := t.evaluate(model, eval)
			if err != nil {
				return nil, err
			}
			m.Eval = &em
			if t.hp.CheckpointModel && best.improvedBy(em) {
				best = &Checkpoint{Epoch: epoch, Accuracy: em.Accuracy, Loss: em.Loss, Params: model.params.Values()}
				t.logger.Info("checkpointed model", zap.Int("epoch", epoch), zap.Float64("val_acc", em.Accuracy))
			}
		}
		t.log(m)
		out.Epochs = append(out.Epochs, m)
	}
	model.checkpoint = best
	return out, nil
}

func hasRealTags(examples []*attribute.Batch) bool {
	for _, ex := range examples {
		for _, tags := range ex.EntityTags {
			if entities.HasRealTags(tags) {
				return true
			}
		}
	}
	return false
}

// holdOut sets aside EvaluateOnNumberOfExamples random examples for evaluation.
func (t *Trainer) holdOut(examples []*attribute.Batch) ([]*attribute.Batch, []*attribute.Batch) {
	n := t.hp.EvaluateOnNumberOfExamples
	if n <= 0 || n >= len(examples) {
		return examples, nil
	}
	shuffled := append([]*attribute.Batch(nil), examples...)
	t.rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	return shuffled[n:], shuffled[:n]
}

func (t *Trainer) evaluateNow(epoch int) bool {
	every := t.hp.EvaluateEveryNumberOfEpochs
	return epoch == t.hp.Epochs-1 || (every > 0 && (epoch+1)%every == 0)
}

// batchSize grows linearly from the first to the last configured size over the epochs.
func (t *Trainer) batchSize(epoch int) int {
	sizes := t.hp.BatchSizes
	first, last := sizes[0], sizes[len(sizes)-1]
	if t.hp.Epochs <= 1 || first == last {
		return first
	}
	return first + epoch*(last-first)/(t.hp.Epochs-1)
}

// order shuffles the examples and, for balanced batches, interleaves the labels so that
// every batch mixes the actions.
func (t *Trainer) order(examples []*attribute.Batch) []*attribute.Batch {
	shuffled := append([]*attribute.Batch(nil), examples...)
	t.rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	if t.hp.BatchStrategy != BalancedBatches {
		return shuffled
	}

	var keys []int
	groups := make(map[int][]*attribute.Batch)
	for _, ex := range shuffled {
		label := lastLabel(ex)
		if _, ok := groups[label]; !ok {
			keys = append(keys, label)
		}
		groups[label] = append(groups[label], ex)
	}
	out := make([]*attribute.Batch, 0, len(shuffled))
	for len(out) < len(shuffled) {
		for _, k := range keys {
			if g := groups[k]; len(g) > 0 {
				out = append(out, g[0])
				groups[k] = g[1:]
			}
		}
	}
	return out
}

func lastLabel(ex *attribute.Batch) int {
	if len(ex.LabelIDs) == 0 || ex.DialogueLengths[0] == 0 {
		return -1
	}
	return ex.LabelIDs[0][ex.DialogueLengths[0]-1]
}

func (t *Trainer) epoch(model *Model, opt *nn.Adam, examples []*attribute.Batch, epoch int) (EpochMetrics, error) {
	var durations kitelog.Durations
	size := t.batchSize(epoch)
	ordered := t.order(examples)

	start := time.Now()
	batches, err := t.batches(ordered, size)
	if err != nil {
		return EpochMetrics{}, errors.Wrapf(err, "epoch %d", epoch)
	}
	durations.Since("batch", start)

	var loss, acc, eLoss, eF1 stats.Float64Data
	for i, batch := range batches {
		start := time.Now()
		m, err := model.TrainStep(batch, opt)
		if err != nil {
			return EpochMetrics{}, errors.Wrapf(err, "epoch %d, batch %d", epoch, i)
		}
		durations.Since("train", start)

		loss = append(loss, m.Loss)
		acc = append(acc, m.Accuracy)
		eLoss = append(eLoss, m.EntityLoss)
		eF1 = append(eF1, m.EntityF1)
	}
	durations.Flush(t.logger, "epoch durations")
	return EpochMetrics{
		Epoch:     epoch,
		BatchSize: size,
		Train: Metrics{
			Loss:       mean(loss),
			Accuracy:   mean(acc),
			EntityLoss: mean(eLoss),
			EntityF1:   mean(eF1),
		},
	}, nil
}

// batches concatenates consecutive runs of size examples on the worker pool; the order
// of the batches follows the order of the examples.
func (t *Trainer) batches(examples []*attribute.Batch, size int) ([]*attribute.Batch, error) {
	out := make([]*attribute.Batch, (len(examples)+size-1)/size)
	var jobs []workerpool.Job
	for i := range out {
		i := i
		from, to := i*size, (i+1)*size
		if to > len(examples) {
			to = len(examples)
		}
		jobs = append(jobs, func() error {
			b, err := attribute.ConcatAll(examples[from:to]...)
			out[i] = b
			return err
		})
	}
	pool := workerpool.New(t.workers)
	defer pool.Stop()
	pool.Add(jobs)
	if err := pool.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *Trainer) evaluate(model *Model, eval []*attribute.Batch) (Metrics, error) {
	batch, err := attribute.ConcatAll(eval...)
	if err != nil {
		return Metrics{}, err
	}
	return model.Evaluate(batch)
}

func (t *Trainer) log(m EpochMetrics) {
	fields := []zap.Field{
		zap.Int("epoch", m.Epoch),
		zap.Int("batch_size", m.BatchSize),
		zap.Float64("loss", m.Train.Loss),
		zap.Float64("acc", m.Train.Accuracy),
		zap.Float64("e_loss", m.Train.EntityLoss),
		zap.Float64("e_f1", m.Train.EntityF1),
	}
	if m.Eval != nil {
		fields = append(fields,
			zap.Float64("val_loss", m.Eval.Loss),
			zap.Float64("val_acc", m.Eval.Accuracy),
			zap.Float64("val_e_f1", m.Eval.EntityF1))
	}
	t.logger.Info("finished epoch", fields...)
}

func mean(xs stats.Float64Data) float64 {
	m, err := stats.Mean(xs)
	if err != nil {
		return 0
	}
	return m
}
