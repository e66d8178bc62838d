package ted

import (
	"github.com/kiteco/dialogue/kite-golib/errors"
	"gonum.org/v1/gonum/floats"
)

// Routed is the prediction surfaced for one dialogue.
type Routed struct {
	// Row is the example of the inference batch the result was taken from.
	Row          int
	Action       int
	Similarities []float64
	Confidences  []float64
	IsEndToEnd   bool
}

// Router picks between the intent based (row 0) and the end-to-end (row 1) prediction
// of a dialogue.
type Router struct {
	// OnlyEndToEnd marks models that never saw intents; their single row is end-to-end.
	OnlyEndToEnd bool
	Threshold    float64
}

// Route selects the row to report. The end-to-end row wins only if its top confidence
// exceeds the threshold and its top similarity is strictly greater than the intent
// based one.
func (r Router) Route(sims, conf [][]float64) (Routed, error) {
	if len(sims) != len(conf) {
		return Routed{}, errors.Contractf("%d similarity rows for %d confidence rows", len(sims), len(conf))
	}
	switch len(sims) {
	case 1:
		return routed(0, sims, conf, r.OnlyEndToEnd), nil
	case 2:
		if top(conf[1]) > r.Threshold && top(sims[1]) > top(sims[0]) {
			return routed(1, sims, conf, true), nil
		}
		return routed(0, sims, conf, false), nil
	default:
		return Routed{}, errors.Contractf("cannot route a batch of %d predictions, expected 1 or 2", len(sims))
	}
}

func routed(row int, sims, conf [][]float64, e2e bool) Routed {
	var action int
	if len(sims[row]) > 0 {
		action = floats.MaxIdx(sims[row])
	}
	return Routed{
		Row:          row,
		Action:       action,
		Similarities: sims[row],
		Confidences:  conf[row],
		IsEndToEnd:   e2e,
	}
}

func top(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return floats.Max(xs)
}
