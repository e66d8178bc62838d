package attribute

// Position locates one real instance of an attribute.
type Position struct {
	Example int
	Turn    int
	// Flat is the index of (Example, Turn) among all valid turns of the batch.
	Flat int
}

// TurnIndex maps (example, turn) pairs onto the two layouts used by the encoders: the
// flattened list of valid turns, and the padded grid of Batch x MaxTurns rows where
// (example, turn) is row example*MaxTurns+turn. It is built once per batch.
type TurnIndex struct {
	lengths  []int
	maxTurns int
	flat     [][]int
	numTurns int
}

// NewTurnIndex builds the index for the given dialogue lengths.
func NewTurnIndex(lengths []int, maxTurns int) *TurnIndex {
	ti := &TurnIndex{lengths: lengths, maxTurns: maxTurns, flat: make([][]int, len(lengths))}
	for ex, l := range lengths {
		ti.flat[ex] = make([]int, maxTurns)
		for t := range ti.flat[ex] {
			ti.flat[ex][t] = -1
			if t < l {
				ti.flat[ex][t] = ti.numTurns
				ti.numTurns++
			}
		}
	}
	return ti
}

// ForBatch builds the index of a batch.
func ForBatch(b *Batch) *TurnIndex {
	return NewTurnIndex(b.DialogueLengths, b.MaxTurns)
}

// Examples is the batch size.
func (ti *TurnIndex) Examples() int {
	return len(ti.lengths)
}

// MaxTurns is the padded dialogue length.
func (ti *TurnIndex) MaxTurns() int {
	return ti.maxTurns
}

// Length is the number of valid turns of an example.
func (ti *TurnIndex) Length(example int) int {
	return ti.lengths[example]
}

// Lengths returns the dialogue lengths.
func (ti *TurnIndex) Lengths() []int {
	return ti.lengths
}

// NumTurns counts the valid turns of the batch.
func (ti *TurnIndex) NumTurns() int {
	return ti.numTurns
}

// GridRows is Examples x MaxTurns.
func (ti *TurnIndex) GridRows() int {
	return len(ti.lengths) * ti.maxTurns
}

// GridRow is the grid row of (example, turn).
func (ti *TurnIndex) GridRow(example, turn int) int {
	return example*ti.maxTurns + turn
}

// Flat is the flattened index of (example, turn), -1 on padding turns.
func (ti *TurnIndex) Flat(example, turn int) int {
	return ti.flat[example][turn]
}

// RealPositions lists the real instances of an attribute in flattened order. Mask
// entries on padding turns are ignored.
func (ti *TurnIndex) RealPositions(mask [][]bool) []Position {
	var out []Position
	for ex := range ti.lengths {
		if ex >= len(mask) {
			break
		}
		for t := 0; t < ti.lengths[ex] && t < len(mask[ex]); t++ {
			if mask[ex][t] {
				out = append(out, Position{Example: ex, Turn: t, Flat: ti.flat[ex][t]})
			}
		}
	}
	return out
}

// GridRowsOf returns the grid row of every position.
func (ti *TurnIndex) GridRowsOf(positions []Position) []int {
	rows := make([]int, len(positions))
	for i, p := range positions {
		rows[i] = ti.GridRow(p.Example, p.Turn)
	}
	return rows
}

// ValidRows flags the grid rows of valid turns.
func (ti *TurnIndex) ValidRows() []bool {
	valid := make([]bool, ti.GridRows())
	for ex, l := range ti.lengths {
		for t := 0; t < l; t++ {
			valid[ti.GridRow(ex, t)] = true
		}
	}
	return valid
}

// LastTurnRows returns the grid row of the last valid turn of every example, -1 for
// empty dialogues.
func (ti *TurnIndex) LastTurnRows() []int {
	rows := make([]int, len(ti.lengths))
	for ex, l := range ti.lengths {
		rows[ex] = -1
		if l > 0 {
			rows[ex] = ti.GridRow(ex, l-1)
		}
	}
	return rows
}

// IsLastTurn reports whether turn is the last valid turn of example.
func (ti *TurnIndex) IsLastTurn(example, turn int) bool {
	return turn == ti.lengths[example]-1
}

// ReversedRows is the gather index that reverses the valid turns of every example in
// place: row (example, t) takes row (example, length-1-t). Padding rows map to -1.
// The permutation is its own inverse.
func (ti *TurnIndex) ReversedRows() []int {
	rows := make([]int, ti.GridRows())
	for ex, l := range ti.lengths {
		for t := 0; t < ti.maxTurns; t++ {
			rows[ti.GridRow(ex, t)] = -1
			if t < l {
				rows[ti.GridRow(ex, t)] = ti.GridRow(ex, l-1-t)
			}
		}
	}
	return rows
}
