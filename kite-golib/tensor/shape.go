package tensor

import "gonum.org/v1/gonum/floats"

// GatherRows returns a matrix whose row i is row idx[i] of a. An index of -1 produces
// a zero row that does not receive gradient.
func (t *Tape) GatherRows(a *Mat, idx []int) *Mat {
	out := New(len(idx), a.Cols)
	for i, j := range idx {
		if j >= 0 {
			mustShape(j < a.Rows, "GatherRows index %d of %v", j, a)
			copy(out.Row(i), a.Row(j))
		}
	}
	t.addBackward(func() {
		for i, j := range idx {
			if j >= 0 {
				floats.Add(a.gradRow(j), out.gradRow(i))
			}
		}
	})
	return out
}

// ScatterRows returns a rows x a.Cols matrix with row idx[i] holding row i of a. Rows
// nothing is scattered to are zero; repeated indices sum.
func (t *Tape) ScatterRows(a *Mat, idx []int, rows int) *Mat {
	mustShape(len(idx) == a.Rows, "ScatterRows %d indices for %v", len(idx), a)
	out := New(rows, a.Cols)
	for i, j := range idx {
		mustShape(j >= 0 && j < rows, "ScatterRows index %d of %d rows", j, rows)
		floats.Add(out.Row(j), a.Row(i))
	}
	t.addBackward(func() {
		for i, j := range idx {
			floats.Add(a.gradRow(i), out.gradRow(j))
		}
	})
	return out
}

// MaskRows zeroes the rows of a where keep is false.
func (t *Tape) MaskRows(a *Mat, keep []bool) *Mat {
	mustShape(len(keep) == a.Rows, "MaskRows %d flags for %v", len(keep), a)
	out := New(a.Rows, a.Cols)
	for i, k := range keep {
		if k {
			copy(out.Row(i), a.Row(i))
		}
	}
	t.addBackward(func() {
		for i, k := range keep {
			if k {
				floats.Add(a.gradRow(i), out.gradRow(i))
			}
		}
	})
	return out
}

// ConcatCols joins matrices with the same number of rows side by side.
func (t *Tape) ConcatCols(ms ...*Mat) *Mat {
	if len(ms) == 1 {
		return ms[0]
	}
	rows, cols := ms[0].Rows, 0
	for _, m := range ms {
		mustShape(m.Rows == rows, "ConcatCols %v with %d rows", m, rows)
		cols += m.Cols
	}
	out := New(rows, cols)
	for i := 0; i < rows; i++ {
		off := 0
		for _, m := range ms {
			copy(out.Row(i)[off:off+m.Cols], m.Row(i))
			off += m.Cols
		}
	}
	t.addBackward(func() {
		for i := 0; i < rows; i++ {
			off := 0
			for _, m := range ms {
				floats.Add(m.gradRow(i), out.gradRow(i)[off:off+m.Cols])
				off += m.Cols
			}
		}
	})
	return out
}

// ConcatRows stacks matrices with the same number of columns.
func (t *Tape) ConcatRows(cols int, ms ...*Mat) *Mat {
	if len(ms) == 1 {
		return ms[0]
	}
	rows := 0
	for _, m := range ms {
		mustShape(m.Cols == cols, "ConcatRows %v with %d cols", m, cols)
		rows += m.Rows
	}
	out := New(rows, cols)
	off := 0
	for _, m := range ms {
		copy(out.W[off:off+len(m.W)], m.W)
		off += len(m.W)
	}
	t.addBackward(func() {
		off := 0
		dout := out.grad()
		for _, m := range ms {
			floats.Add(m.grad(), dout[off:off+len(m.W)])
			off += len(m.W)
		}
	})
	return out
}

// SliceCols returns columns [from, to) of a.
func (t *Tape) SliceCols(a *Mat, from, to int) *Mat {
	mustShape(0 <= from && from <= to && to <= a.Cols, "SliceCols [%d, %d) of %v", from, to, a)
	out := New(a.Rows, to-from)
	for i := 0; i < a.Rows; i++ {
		copy(out.Row(i), a.Row(i)[from:to])
	}
	t.addBackward(func() {
		for i := 0; i < a.Rows; i++ {
			floats.Add(a.gradRow(i)[from:to], out.gradRow(i))
		}
	})
	return out
}
