package ted

import (
	"math/rand"

	"github.com/kiteco/dialogue/kite-go/dialogue/attribute"
	"github.com/kiteco/dialogue/kite-go/dialogue/entities"
	"github.com/kiteco/dialogue/kite-golib/crf"
	"github.com/kiteco/dialogue/kite-golib/nn"
	"github.com/kiteco/dialogue/kite-golib/tensor"
)

// entityTagger predicts a tag per text token, for every tag category, from the token
// encoding joined with the dialogue state of the turn the text belongs to.
type entityTagger struct {
	specs []*entities.TagSpec
	heads []tagHead
}

type tagHead struct {
	logits *nn.Dense
	crf    *crf.CRF
}

func newEntityTagger(params *nn.Params, specs []*entities.TagSpec, textUnits, dialogueUnits int, rng *rand.Rand) *entityTagger {
	t := &entityTagger{specs: specs}
	for _, spec := range specs {
		k := spec.NumTags
		t.heads = append(t.heads, tagHead{
			logits: nn.NewDense(params, "embed."+spec.TagName+".logits", textUnits+dialogueUnits, k, true, rng),
			crf:    crf.New(k, params.Add("crf."+spec.TagName+".transitions", tensor.New(k, k), false)),
		})
	}
	return t
}

// taggerInput is the per-token input of the tag heads for n text instances of maxLen
// tokens each; the sentence token is not tagged.
type taggerInput struct {
	x       *tensor.Mat
	lengths []int
	maxLen  int
}

func (t *entityTagger) input(p *nn.Pass, text attributeEncoding, dialogue dialogueEncoding, ti *attribute.TurnIndex) (taggerInput, bool) {
	tokens := text.tokens
	n := len(text.owners)
	if n == 0 || tokens.maxLen <= 1 {
		return taggerInput{}, false
	}
	maxLen := tokens.maxLen - 1
	lengths := make([]int, n)
	tokenRows := make([]int, n*maxLen)
	contextRows := make([]int, n*maxLen)
	for i, owner := range text.owners {
		lengths[i] = tokens.lengths[i] - 1
		for j := 0; j < maxLen; j++ {
			tokenRows[i*maxLen+j] = -1
			if j < lengths[i] {
				tokenRows[i*maxLen+j] = i*tokens.maxLen + j
			}
			contextRows[i*maxLen+j] = ti.GridRow(owner.Example, owner.Turn)
		}
	}
	x := p.Tape.ConcatCols(
		p.Tape.GatherRows(tokens.hidden, tokenRows),
		p.Tape.GatherRows(dialogue.hidden, contextRows),
	)
	return taggerInput{x: x, lengths: lengths, maxLen: maxLen}, true
}

// loss returns the summed CRF loss of all categories and their mean token F1. A batch
// without real text tokens has zero loss and zero F1.
func (t *entityTagger) loss(p *nn.Pass, text attributeEncoding, dialogue dialogueEncoding, ti *attribute.TurnIndex, gold [][][]int) (*tensor.Mat, float64) {
	in, ok := t.input(p, text, dialogue, ti)
	if !ok || len(gold) == 0 {
		return tensor.New(1, 1), 0
	}
	var total *tensor.Mat
	var f1 float64
	for c, head := range t.heads {
		if c >= len(gold) {
			break
		}
		tags := make([][]int, len(text.instances))
		for i, inst := range text.instances {
			tags[i] = gold[c][inst]
		}
		seqs := crf.Sequences{Emissions: head.logits.Forward(p, in.x), Lengths: in.lengths, MaxLen: in.maxLen}
		l := head.crf.NegLogLikelihood(p.Tape, seqs, tags)
		if total == nil {
			total = l
		} else {
			total = p.Tape.Add(total, l)
		}
		predicted, _ := head.crf.Decode(seqs)
		f1 += entities.F1(tags, predicted)
	}
	if total == nil {
		return tensor.New(1, 1), 0
	}
	return total, f1 / float64(len(t.heads))
}

// TagPrediction holds the decoded tags of one category for every retained text
// instance, in the order of the text instances.
type TagPrediction struct {
	TagName     string
	IDs         [][]int
	Confidences [][]float64
}

// Tags returns the tag strings of instance i.
func (tp TagPrediction) Tags(spec *entities.TagSpec, i int) []string {
	return spec.Tags(tp.IDs[i])
}

// predict decodes every category. Without real text tokens every category has empty
// predictions.
func (t *entityTagger) predict(p *nn.Pass, text attributeEncoding, dialogue dialogueEncoding, ti *attribute.TurnIndex) []TagPrediction {
	out := make([]TagPrediction, len(t.heads))
	in, ok := t.input(p, text, dialogue, ti)
	for c, head := range t.heads {
		out[c].TagName = t.specs[c].TagName
		if !ok {
			continue
		}
		seqs := crf.Sequences{Emissions: head.logits.Forward(p, in.x), Lengths: in.lengths, MaxLen: in.maxLen}
		out[c].IDs, out[c].Confidences = head.crf.Decode(seqs)
	}
	return out
}
