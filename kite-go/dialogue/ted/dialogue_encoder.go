package ted

import (
	"math/rand"

	"github.com/kiteco/dialogue/kite-go/dialogue/attribute"
	"github.com/kiteco/dialogue/kite-golib/nn"
	"github.com/kiteco/dialogue/kite-golib/tensor"
)

// dialogueEncoder runs a transformer over the turns of every dialogue and projects the
// result into the embedding space shared with the labels.
type dialogueEncoder struct {
	transformer *nn.TransformerEncoder
	embed       *nn.Dense
	maxHistory  bool
}

func newDialogueEncoder(params *nn.Params, in int, hp HParams, rng *rand.Rand) *dialogueEncoder {
	units, layers := hp.Transformer(attribute.Dialogue)
	return &dialogueEncoder{
		transformer: nn.NewTransformerEncoder(params, "transformer.dialogue", in, nn.TransformerConfig{
			Layers: layers,
			Units:  units,
			Heads:  hp.NumHeads,
			// a fixed window is encoded bidirectionally, full history left to right
			Causal:            !hp.MaxHistoryMode(),
			DropRate:          hp.DropRateDialogue,
			AttentionDropRate: hp.DropRateAttention,
		}, rng),
		embed:      nn.NewDense(params, "embed.dialogue", units, hp.EmbeddingDimension, true, rng),
		maxHistory: hp.MaxHistoryMode(),
	}
}

// dialogueEncoding is the output of the dialogue encoder.
type dialogueEncoding struct {
	// embedding has one row per retained turn.
	embedding *tensor.Mat
	// retained lists the positions of the retained turns, in grid order.
	retained []attribute.Position
	// valid flags the grid rows of real turns; padding rows are false.
	valid []bool
	// hidden is the activated transformer output for every grid row, in chronological
	// turn order.
	hidden    *tensor.Mat
	attention [][]*tensor.Mat
}

// encode embeds the dialogue input x (GridRows x width). In a fixed window the turns
// are reversed so the most recent turn sits at position zero, and only that position
// is retained. With full history every valid turn is retained during training and
// only the last one at inference.
func (d *dialogueEncoder) encode(p *nn.Pass, x *tensor.Mat, ti *attribute.TurnIndex, training bool) dialogueEncoding {
	tp := p.Tape
	var hidden *tensor.Mat
	var attention [][]*tensor.Mat
	if d.maxHistory {
		rev := ti.ReversedRows()
		h, w := d.transformer.Forward(p, tp.GatherRows(x, rev), ti.Lengths(), ti.MaxTurns())
		hidden, attention = tp.GatherRows(tp.Gelu(h), rev), w
	} else {
		h, w := d.transformer.Forward(p, x, ti.Lengths(), ti.MaxTurns())
		hidden, attention = tp.Gelu(h), w
	}

	valid := ti.ValidRows()
	keep := valid
	if !training || d.maxHistory {
		keep = make([]bool, len(valid))
		for _, r := range ti.LastTurnRows() {
			if r >= 0 {
				keep[r] = true
			}
		}
	}
	var retained []attribute.Position
	for r, ok := range keep {
		if !ok {
			continue
		}
		ex, t := r/ti.MaxTurns(), r%ti.MaxTurns()
		retained = append(retained, attribute.Position{Example: ex, Turn: t, Flat: ti.Flat(ex, t)})
	}
	rows := tp.GatherRows(hidden, ti.GridRowsOf(retained))
	return dialogueEncoding{
		embedding: d.embed.Forward(p, rows),
		retained:  retained,
		valid:     valid,
		hidden:    hidden,
		attention: attention,
	}
}
