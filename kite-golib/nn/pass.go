package nn

import (
	"math/rand"

	"github.com/kiteco/dialogue/kite-golib/tensor"
)

// Pass carries the state of one forward computation.
type Pass struct {
	Tape     *tensor.Tape
	Training bool
	// Rand drives dropout; it is only consulted when Training is set.
	Rand *rand.Rand
}

// NewTrainingPass records gradients and enables dropout.
func NewTrainingPass(rng *rand.Rand) *Pass {
	return &Pass{Tape: tensor.NewTape(true), Training: true, Rand: rng}
}

// NewInferencePass records nothing and disables dropout.
func NewInferencePass() *Pass {
	return &Pass{Tape: tensor.NewTape(false)}
}

// Dropout applies dropout at the given rate when training.
func (p *Pass) Dropout(x *tensor.Mat, rate float64) *tensor.Mat {
	if !p.Training || rate <= 0 {
		return x
	}
	return p.Tape.Dropout(x, rate, p.Rand)
}
