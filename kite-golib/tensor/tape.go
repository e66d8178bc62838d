package tensor

// Tape records the backward function of every op applied through it. Calling Backward
// replays them in reverse order, accumulating gradients into the Dw of every matrix
// that took part in the forward computation.
type Tape struct {
	needsBackprop bool
	backprop      []func()
}

// NewTape returns a tape; with needsBackprop false nothing is recorded, which is what
// inference wants.
func NewTape(needsBackprop bool) *Tape {
	return &Tape{needsBackprop: needsBackprop}
}

// NeedsBackprop reports whether ops are being recorded.
func (t *Tape) NeedsBackprop() bool {
	return t.needsBackprop
}

func (t *Tape) addBackward(f func()) {
	if t.needsBackprop {
		t.backprop = append(t.backprop, f)
	}
}

// Backward seeds the gradient of the scalar loss with 1 and runs the recorded
// backward functions. The tape is emptied afterwards.
func (t *Tape) Backward(loss *Mat) {
	if loss.Rows != 1 || loss.Cols != 1 {
		panic("tensor: Backward expects a 1x1 loss")
	}
	loss.grad()[0] = 1
	for i := len(t.backprop) - 1; i >= 0; i-- {
		t.backprop[i]()
	}
	t.backprop = nil
}

// Custom records a hand-written backward function for out. backward receives the
// gradient of the loss with respect to out and must accumulate into the Grad of the
// inputs it was computed from.
func (t *Tape) Custom(out *Mat, backward func(dout []float64)) *Mat {
	t.addBackward(func() {
		backward(out.grad())
	})
	return out
}
