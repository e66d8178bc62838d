package ted

import (
	"github.com/kiteco/dialogue/kite-go/dialogue/attribute"
	"github.com/kiteco/dialogue/kite-go/dialogue/labels"
	"github.com/kiteco/dialogue/kite-golib/errors"
	"github.com/kiteco/dialogue/kite-golib/serialization"
	"github.com/spf13/afero"
)

// Loss types
const (
	CrossEntropyLoss = "cross_entropy"
	MarginLoss       = "margin"
)

// Similarity types
const (
	AutoSimilarity   = "auto"
	InnerSimilarity  = "inner"
	CosineSimilarity = "cosine"
)

// Model confidence types
const (
	SoftmaxConfidence    = "softmax"
	LinearNormConfidence = "linear_norm"
)

// Batch strategies
const (
	BalancedBatches = "balanced"
	SequenceBatches = "sequence"
)

// HParams holds the hyperparameters of the policy. Per-attribute settings are keyed by
// attribute name ("text", "label_action_text", "dialogue", ...).
type HParams struct {
	HiddenLayersSizes    map[string][]int `json:"hidden_layers_sizes" yaml:"hidden_layers_sizes"`
	DenseDimension       map[string]int   `json:"dense_dimension" yaml:"dense_dimension"`
	ConcatDimension      map[string]int   `json:"concat_dimension" yaml:"concat_dimension"`
	EncodingDimension    int              `json:"encoding_dimension" yaml:"encoding_dimension"`
	TransformerSize      map[string]int   `json:"transformer_size" yaml:"transformer_size"`
	NumTransformerLayers map[string]int   `json:"number_of_transformer_layers" yaml:"number_of_transformer_layers"`
	NumHeads             int              `json:"number_of_attention_heads" yaml:"number_of_attention_heads"`
	// UnidirectionalEncoder makes the token-level transformers causal.
	UnidirectionalEncoder bool `json:"unidirectional_encoder" yaml:"unidirectional_encoder"`
	// MaxHistory > 0 means dialogues were featurized with a fixed window of that many
	// turns; 0 means full history.
	MaxHistory int `json:"max_history" yaml:"max_history"`

	BatchSizes    []int   `json:"batch_size" yaml:"batch_size"`
	BatchStrategy string  `json:"batch_strategy" yaml:"batch_strategy"`
	Epochs        int     `json:"epochs" yaml:"epochs"`
	RandomSeed    int64   `json:"random_seed" yaml:"random_seed"`
	LearningRate  float64 `json:"learning_rate" yaml:"learning_rate"`

	EmbeddingDimension    int     `json:"embedding_dimension" yaml:"embedding_dimension"`
	NumNeg                int     `json:"number_of_negative_examples" yaml:"number_of_negative_examples"`
	SimilarityType        string  `json:"similarity_type" yaml:"similarity_type"`
	LossType              string  `json:"loss_type" yaml:"loss_type"`
	RankingLength         int     `json:"ranking_length" yaml:"ranking_length"`
	MaxPosSim             float64 `json:"maximum_positive_similarity" yaml:"maximum_positive_similarity"`
	MaxNegSim             float64 `json:"maximum_negative_similarity" yaml:"maximum_negative_similarity"`
	UseMaxNegSim          bool    `json:"use_maximum_negative_similarity" yaml:"use_maximum_negative_similarity"`
	ScaleLoss             bool    `json:"scale_loss" yaml:"scale_loss"`
	ConstrainSimilarities bool    `json:"constrain_similarities" yaml:"constrain_similarities"`
	ModelConfidence       string  `json:"model_confidence" yaml:"model_confidence"`

	RegularizationConstant float64 `json:"regularization_constant" yaml:"regularization_constant"`
	NegativeMarginScale    float64 `json:"negative_margin_scale" yaml:"negative_margin_scale"`
	DropRateDialogue       float64 `json:"drop_rate_dialogue" yaml:"drop_rate_dialogue"`
	DropRateLabel          float64 `json:"drop_rate_label" yaml:"drop_rate_label"`
	DropRate               float64 `json:"drop_rate" yaml:"drop_rate"`
	DropRateAttention      float64 `json:"drop_rate_attention" yaml:"drop_rate_attention"`

	EvaluateEveryNumberOfEpochs int `json:"evaluate_every_number_of_epochs" yaml:"evaluate_every_number_of_epochs"`
	EvaluateOnNumberOfExamples  int `json:"evaluate_on_number_of_examples" yaml:"evaluate_on_number_of_examples"`
	// CheckpointModel keeps the parameters of the best evaluated epoch, persisted under
	// CheckpointDir next to the model.
	CheckpointModel bool `json:"checkpoint_model" yaml:"checkpoint_model"`

	E2EConfidenceThreshold float64 `json:"e2e_confidence_threshold" yaml:"e2e_confidence_threshold"`
	EntityRecognition      bool    `json:"entity_recognition" yaml:"entity_recognition"`
	BILOUFlag              bool    `json:"BILOU_flag" yaml:"BILOU_flag"`
	// LabelBatchSize is the number of negative label candidates per training step,
	// labels.AllLabels for all of them. At inference it is the chunk size used to
	// embed the label space.
	LabelBatchSize int `json:"label_batch_size" yaml:"label_batch_size"`
}

// DefaultHParams returns the default hyperparameters.
func DefaultHParams() HParams {
	return HParams{
		HiddenLayersSizes: map[string][]int{
			"text":              {},
			"action_text":       {},
			"label_action_text": {},
		},
		DenseDimension: map[string]int{
			"text":              128,
			"action_text":       128,
			"label_action_text": 128,
			"intent":            20,
			"action_name":       20,
			"label_action_name": 20,
			"entities":          20,
			"slots":             20,
			"active_loop":       20,
		},
		ConcatDimension: map[string]int{
			"text":              128,
			"action_text":       128,
			"label_action_text": 128,
		},
		EncodingDimension: 50,
		TransformerSize: map[string]int{
			"text":              128,
			"action_text":       128,
			"label_action_text": 128,
			"dialogue":          128,
		},
		NumTransformerLayers: map[string]int{
			"text":              1,
			"action_text":       1,
			"label_action_text": 1,
			"dialogue":          1,
		},
		NumHeads: 4,

		BatchSizes:    []int{64, 256},
		BatchStrategy: BalancedBatches,
		Epochs:        1,
		LearningRate:  0.001,

		EmbeddingDimension: 20,
		NumNeg:             20,
		SimilarityType:     AutoSimilarity,
		LossType:           CrossEntropyLoss,
		RankingLength:      10,
		MaxPosSim:          0.8,
		MaxNegSim:          -0.2,
		UseMaxNegSim:       true,
		ScaleLoss:          true,
		ModelConfidence:    SoftmaxConfidence,

		RegularizationConstant: 0.001,
		NegativeMarginScale:    0.8,
		DropRateDialogue:       0.1,

		EvaluateEveryNumberOfEpochs: 20,

		E2EConfidenceThreshold: 0.5,
		EntityRecognition:      true,
		BILOUFlag:              true,
		LabelBatchSize:         labels.AllLabels,
	}
}

// LoadHParams reads hyperparameters from a .json or .yaml file. Fields missing from
// the file keep their defaults.
func LoadHParams(fs afero.Fs, path string) (HParams, error) {
	hp := DefaultHParams()
	if err := serialization.Decode(fs, path, &hp); err != nil {
		return HParams{}, errors.Wrapf(err, "error reading hyperparameters from '%s'", path)
	}
	return hp, nil
}

// Similarity resolves the auto similarity type: cosine for the margin loss, inner
// product for cross entropy.
func (hp HParams) Similarity() string {
	if hp.SimilarityType != AutoSimilarity {
		return hp.SimilarityType
	}
	if hp.LossType == MarginLoss {
		return CosineSimilarity
	}
	return InnerSimilarity
}

// MaxHistoryMode is true for fixed-window featurization.
func (hp HParams) MaxHistoryMode() bool {
	return hp.MaxHistory > 0
}

// Dense is the width sparse sources of a are projected to.
func (hp HParams) Dense(a attribute.Attribute) int {
	return hp.DenseDimension[a.String()]
}

// Concat is the width sequence and sentence features of a are unified to.
func (hp HParams) Concat(a attribute.Attribute) int {
	return hp.ConcatDimension[a.String()]
}

// HiddenLayers lists the feed-forward layer sizes applied to the tokens of a.
func (hp HParams) HiddenLayers(a attribute.Attribute) []int {
	return hp.HiddenLayersSizes[a.String()]
}

// Transformer returns the transformer width and depth used for a.
func (hp HParams) Transformer(a attribute.Attribute) (units, layers int) {
	return hp.TransformerSize[a.String()], hp.NumTransformerLayers[a.String()]
}

// Validate checks every setting and reports all problems at once.
func (hp HParams) Validate() error {
	var errs errors.Errors
	positive := func(name string, v int) {
		if v <= 0 {
			errs = errors.Append(errs, errors.Configf("%s is set to %d, needs to be > 0", name, v))
		}
	}
	unit := func(name string, v float64) {
		if v < 0 || v >= 1 {
			errs = errors.Append(errs, errors.Configf("%s is set to %v, needs to be in [0, 1)", name, v))
		}
	}
	positive("encoding_dimension", hp.EncodingDimension)
	positive("embedding_dimension", hp.EmbeddingDimension)
	positive("number_of_attention_heads", hp.NumHeads)
	positive("epochs", hp.Epochs)
	if hp.NumNeg < 0 {
		errs = errors.Append(errs, errors.Configf("number_of_negative_examples is set to %d, needs to be >= 0", hp.NumNeg))
	}
	if hp.MaxHistory < 0 {
		errs = errors.Append(errs, errors.Configf("max_history is set to %d, needs to be >= 0", hp.MaxHistory))
	}
	if hp.LearningRate <= 0 {
		errs = errors.Append(errs, errors.Configf("learning_rate is set to %v, needs to be > 0", hp.LearningRate))
	}
	if len(hp.BatchSizes) == 0 || len(hp.BatchSizes) > 2 {
		errs = errors.Append(errs, errors.Configf("batch_size needs one or two values, got %v", hp.BatchSizes))
	}
	for _, b := range hp.BatchSizes {
		positive("batch_size", b)
	}
	unit("drop_rate", hp.DropRate)
	unit("drop_rate_dialogue", hp.DropRateDialogue)
	unit("drop_rate_label", hp.DropRateLabel)
	unit("drop_rate_attention", hp.DropRateAttention)
	if hp.LabelBatchSize != labels.AllLabels && hp.LabelBatchSize <= 0 {
		errs = errors.Append(errs, errors.Configf("label_batch_size is set to %d, needs to be > 0 or %d",
			hp.LabelBatchSize, labels.AllLabels))
	}

	switch hp.LossType {
	case CrossEntropyLoss, MarginLoss:
	default:
		errs = errors.Append(errs, errors.Configf("unknown loss_type %q", hp.LossType))
	}
	switch hp.SimilarityType {
	case AutoSimilarity, InnerSimilarity, CosineSimilarity:
	default:
		errs = errors.Append(errs, errors.Configf("unknown similarity_type %q", hp.SimilarityType))
	}
	switch hp.ModelConfidence {
	case SoftmaxConfidence, LinearNormConfidence:
	default:
		errs = errors.Append(errs, errors.Configf("unknown model_confidence %q", hp.ModelConfidence))
	}
	if hp.ModelConfidence == LinearNormConfidence && hp.LossType != CrossEntropyLoss {
		errs = errors.Append(errs, errors.Configf("model_confidence %s requires loss_type %s", LinearNormConfidence, CrossEntropyLoss))
	}
	switch hp.BatchStrategy {
	case BalancedBatches, SequenceBatches:
	default:
		errs = errors.Append(errs, errors.Configf("unknown batch_strategy %q", hp.BatchStrategy))
	}

	for _, a := range []attribute.Attribute{attribute.Text, attribute.ActionText, attribute.LabelActionText, attribute.Dialogue} {
		units, layers := hp.Transformer(a)
		if layers < 0 {
			errs = errors.Append(errs, errors.Configf("number_of_transformer_layers for %s is %d", a, layers))
		}
		if layers > 0 && (units <= 0 || hp.NumHeads <= 0 || units%hp.NumHeads != 0) {
			errs = errors.Append(errs, errors.Configf("transformer_size %d for %s must be a positive multiple of %d heads",
				units, a, hp.NumHeads))
		}
	}
	if units, _ := hp.Transformer(attribute.Dialogue); units <= 0 {
		errs = errors.Append(errs, errors.Configf("transformer_size for dialogue is set to %d, needs to be > 0", units))
	}

	if errs != nil {
		return errs
	}
	return nil
}
