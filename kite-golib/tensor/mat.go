package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Mat is a dense row-major matrix holding values and, once a backward pass touches it,
// the gradient of the loss with respect to those values.
type Mat struct {
	Rows int
	Cols int
	W    []float64
	Dw   []float64 `json:"-"`
}

// New returns a zero matrix.
func New(rows, cols int) *Mat {
	return &Mat{
		Rows: rows,
		Cols: cols,
		W:    make([]float64, rows*cols),
	}
}

// FromSlice wraps w as a rows x cols matrix, w is not copied.
func FromSlice(rows, cols int, w []float64) *Mat {
	if len(w) != rows*cols {
		panic(fmt.Sprintf("tensor: %d values for a %dx%d matrix", len(w), rows, cols))
	}
	return &Mat{Rows: rows, Cols: cols, W: w}
}

// FromRows copies rows of equal length into a matrix. cols is used when rows is empty.
func FromRows(cols int, rows [][]float64) *Mat {
	m := New(len(rows), cols)
	for i, r := range rows {
		if len(r) != cols {
			panic(fmt.Sprintf("tensor: row %d has %d values, expected %d", i, len(r), cols))
		}
		copy(m.Row(i), r)
	}
	return m
}

// At returns the value at (i, j).
func (m *Mat) At(i, j int) float64 {
	return m.W[i*m.Cols+j]
}

// Set sets the value at (i, j).
func (m *Mat) Set(i, j int, v float64) {
	m.W[i*m.Cols+j] = v
}

// Row returns the values of row i, sharing storage with m.
func (m *Mat) Row(i int) []float64 {
	return m.W[i*m.Cols : (i+1)*m.Cols]
}

// RowSlices copies the values of m into a slice per row.
func (m *Mat) RowSlices() [][]float64 {
	out := make([][]float64, m.Rows)
	for i := range out {
		out[i] = append([]float64(nil), m.Row(i)...)
	}
	return out
}

// Clone copies the values (not the gradient) of m.
func (m *Mat) Clone() *Mat {
	return &Mat{Rows: m.Rows, Cols: m.Cols, W: append([]float64(nil), m.W...)}
}

// Empty is true if the matrix holds no values.
func (m *Mat) Empty() bool {
	return m.Rows == 0 || m.Cols == 0
}

// SameShape reports whether m and o have identical dimensions.
func (m *Mat) SameShape(o *Mat) bool {
	return m.Rows == o.Rows && m.Cols == o.Cols
}

// ZeroGrad clears the gradient.
func (m *Mat) ZeroGrad() {
	for i := range m.Dw {
		m.Dw[i] = 0
	}
}

func (m *Mat) grad() []float64 {
	if len(m.Dw) != len(m.W) {
		m.Dw = make([]float64, len(m.W))
	}
	return m.Dw
}

func (m *Mat) gradRow(i int) []float64 {
	return m.grad()[i*m.Cols : (i+1)*m.Cols]
}

// gonum views; callers must check Empty first, gonum rejects zero dimensions.
func (m *Mat) dense() *mat.Dense {
	return mat.NewDense(m.Rows, m.Cols, m.W)
}

func (m *Mat) gradDense() *mat.Dense {
	return mat.NewDense(m.Rows, m.Cols, m.grad())
}

func (m *Mat) String() string {
	return fmt.Sprintf("Mat(%dx%d)", m.Rows, m.Cols)
}

// Grad returns the gradient storage of m, allocating it on first use.
func (m *Mat) Grad() []float64 {
	return m.grad()
}
