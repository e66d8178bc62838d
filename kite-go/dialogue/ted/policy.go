package ted

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/dgryski/go-spooky"
	lru "github.com/hashicorp/golang-lru"
	"github.com/kiteco/dialogue/kite-go/dialogue/attribute"
	"github.com/kiteco/dialogue/kite-go/dialogue/entities"
	"github.com/kiteco/dialogue/kite-golib/errors"
	"github.com/kiteco/dialogue/kite-golib/kitelog"
	"go.uber.org/zap"
)

const (
	// ActionListen is the action after which the user speaks.
	ActionListen = "action_listen"
	// EntitiesAddedEvent is the type of the event carrying predicted entities.
	EntitiesAddedEvent = "entities"
	// Extractor names the policy on the entities it predicts.
	Extractor = "TEDPolicy"

	predictCacheSize = 1024
)

// Tracker is the view of a dialogue the policy needs at prediction time.
type Tracker interface {
	LatestActionName() string
	// LatestMessage returns the text of the last user message and its tokens.
	LatestMessage() (string, []entities.Token)
}

// Featurizer turns a tracker into a single-example batch. With useText the last user
// turn is featurized from its text instead of its intent.
type Featurizer interface {
	Featurize(t Tracker, useText bool) (*attribute.Batch, error)
}

// Event is an update of the dialogue state suggested by the policy.
type Event struct {
	Type     string            `json:"event"`
	Entities []entities.Entity `json:"entities"`
}

// PolicyPrediction is the result of one prediction.
type PolicyPrediction struct {
	Probabilities []float64 `json:"probabilities"`
	IsEndToEnd    bool      `json:"is_end_to_end_prediction"`
	Events        []Event   `json:"events,omitempty"`
}

// clone deep copies the prediction so cached values never alias what callers hold.
func (p *PolicyPrediction) clone() *PolicyPrediction {
	out := &PolicyPrediction{
		Probabilities: append([]float64(nil), p.Probabilities...),
		IsEndToEnd:    p.IsEndToEnd,
	}
	for _, ev := range p.Events {
		out.Events = append(out.Events, Event{
			Type:     ev.Type,
			Entities: append([]entities.Entity(nil), ev.Entities...),
		})
	}
	return out
}

type cacheKey struct {
	hash       uint64
	generation int64
}

// Policy predicts the next action of a dialogue with a trained model. A policy without
// a model predicts all-zero probabilities. It is safe for concurrent use.
type Policy struct {
	featurizer Featurizer
	spans      entities.SpanConverter
	logger     *zap.Logger

	m        sync.Mutex
	model    *Model
	snapshot *Snapshot
	observed attribute.Observed
	cache    *lru.Cache
}

// NewPolicy returns a policy without a model.
func NewPolicy(featurizer Featurizer, spans entities.SpanConverter, logger *zap.Logger) (*Policy, error) {
	cache, err := lru.New(predictCacheSize)
	if err != nil {
		return nil, err
	}
	if spans == nil {
		spans = entities.BILOUConverter{}
	}
	return &Policy{
		featurizer: featurizer,
		spans:      spans,
		logger:     kitelog.OrNop(logger),
		cache:      cache,
	}, nil
}

// SetModel installs a trained model together with the attributes observed while
// training it, and prepares it for inference.
func (p *Policy) SetModel(model *Model, observed attribute.Observed) {
	snapshot := model.PrepareForInference()
	p.m.Lock()
	defer p.m.Unlock()
	p.model, p.snapshot, p.observed = model, snapshot, observed
	p.cache.Purge()
}

// Model returns the current model, nil if untrained.
func (p *Policy) Model() *Model {
	p.m.Lock()
	defer p.m.Unlock()
	return p.model
}

// Observed returns the attributes observed while training the current model.
func (p *Policy) Observed() attribute.Observed {
	p.m.Lock()
	defer p.m.Unlock()
	return p.observed
}

// PredictActionProbabilities predicts the next action of the tracked dialogue.
// numActions is the size of the action list, used for the default prediction of a
// policy that has no model.
func (p *Policy) PredictActionProbabilities(t Tracker, numActions int) (*PolicyPrediction, error) {
	p.m.Lock()
	defer p.m.Unlock()
	if p.model == nil {
		p.logger.Debug("no trained model, returning default prediction")
		return &PolicyPrediction{Probabilities: make([]float64, numActions)}, nil
	}

	var durations kitelog.Durations
	defer durations.Flush(p.logger, "predict action probabilities")

	start := time.Now()
	batch, err := p.featurize(t)
	if err != nil {
		return nil, err
	}
	durations.Since("featurize", start)

	key, err := p.key(batch)
	if err != nil {
		return nil, err
	}
	if cached, ok := p.cache.Get(key); ok {
		p.logger.Debug("prediction served from cache")
		return cached.(*PolicyPrediction).clone(), nil
	}

	start = time.Now()
	pred, err := p.model.Predict(p.snapshot, batch)
	if err != nil {
		return nil, err
	}
	durations.Since("predict", start)
	router := Router{OnlyEndToEnd: p.observed.OnlyEndToEnd(), Threshold: p.model.hp.E2EConfidenceThreshold}
	routed, err := router.Route(pred.Similarities, pred.Confidences)
	if err != nil {
		return nil, err
	}

	probs := routed.Confidences
	hp := p.model.hp
	if hp.RankingLength > 0 && hp.ModelConfidence == SoftmaxConfidence {
		probs = normalizeTopK(probs, hp.RankingLength)
	}
	out := &PolicyPrediction{Probabilities: probs, IsEndToEnd: routed.IsEndToEnd}
	if ev, ok := p.entitiesEvent(t, pred, routed); ok {
		out.Events = append(out.Events, ev)
	}
	p.cache.Add(key, out.clone())
	return out, nil
}

// featurize builds the intent based variant and, right after the user spoke, the end-to-end
// variant as a second example when text was seen in training.
func (p *Policy) featurize(t Tracker) (*attribute.Batch, error) {
	onlyE2E := p.observed.OnlyEndToEnd()
	batch, err := p.featurizer.Featurize(t, onlyE2E)
	if err != nil {
		return nil, errors.Wrapf(err, "error featurizing tracker")
	}
	if t.LatestActionName() != ActionListen || onlyE2E || !attribute.Set(p.observed).Has(attribute.Text) {
		return batch, nil
	}
	text, err := p.featurizer.Featurize(t, true)
	if err != nil {
		return nil, errors.Wrapf(err, "error featurizing tracker text")
	}
	return attribute.Concat(batch, text)
}

func (p *Policy) key(b *attribute.Batch) (cacheKey, error) {
	buf, err := json.Marshal(b)
	if err != nil {
		return cacheKey{}, errors.Wrapf(err, "error hashing batch")
	}
	return cacheKey{hash: spooky.Hash64(buf), generation: p.snapshot.Generation}, nil
}

// entitiesEvent converts the entity tags predicted for the last user text into an event.
// Entities are only reported for end-to-end predictions made right after the user spoke.
func (p *Policy) entitiesEvent(t Tracker, pred *Prediction, routed Routed) (Event, bool) {
	if !routed.IsEndToEnd || t.LatestActionName() != ActionListen || !p.model.hp.EntityRecognition {
		return Event{}, false
	}
	inst := -1
	for i, owner := range pred.TextOwners {
		if owner.Example == routed.Row {
			inst = i
		}
	}
	if inst < 0 {
		return Event{}, false
	}
	for c, spec := range p.model.TagSpecs() {
		if spec.TagName != entities.EntityCategory || c >= len(pred.Tags) {
			continue
		}
		tags := pred.Tags[c]
		if inst >= len(tags.IDs) {
			return Event{}, false
		}
		text, tokens := t.LatestMessage()
		found := p.spans.Convert(text, tokens, tags.Tags(spec, inst), tags.Confidences[inst])
		if len(found) == 0 {
			return Event{}, false
		}
		for i := range found {
			found[i].Extractor = Extractor
		}
		return Event{Type: EntitiesAddedEvent, Entities: found}, true
	}
	return Event{}, false
}
