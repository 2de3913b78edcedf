package tensor2d

import (
	"fmt"
	"gonum.org/v1/gonum/blas/blas32"
	"slices"
)

// Dense is a row-major [Rows, Cols] matrix. Float32 matrices convert to
// blas32.General without copying.
type Dense[T any] struct {
	Rows   int
	Cols   int
	Stride int
	Data   []T
}

func NewZeros[T any](rows, cols int) Dense[T] {
	return Dense[T]{
		Rows:   rows,
		Cols:   cols,
		Stride: cols,
		Data:   make([]T, rows*cols),
	}
}

func NewZerosLike[T any](d Dense[T]) Dense[T] {
	return NewZeros[T](d.Rows, d.Cols)
}

// NewFull returns a [rows, cols] matrix filled with v.
func NewFull[T any](rows, cols int, v T) Dense[T] {
	d := NewZeros[T](rows, cols)
	for i := range d.Data {
		d.Data[i] = v
	}
	return d
}

// FromRows copies xss into a matrix. All rows must have the same length.
func FromRows[T any](xss [][]T) (Dense[T], error) {
	r := len(xss)
	if r == 0 {
		return Dense[T]{}, nil
	}
	c := len(xss[0])
	d := NewZeros[T](r, c)
	for i, xs := range xss {
		if len(xs) != c {
			return Dense[T]{}, fmt.Errorf("row %d has %d columns, want %d", i, len(xs), c)
		}
		copy(d.Row(i), xs)
	}
	return d, nil
}

func (d Dense[T]) N() int {
	return d.Rows * d.Cols
}

func (d Dense[T]) IsEmpty() bool {
	return d.Rows == 0 || d.Cols == 0
}

func (d Dense[T]) At(row, col int) int {
	return row*d.Stride + col
}

// Row returns row i. The slice aliases d.Data.
func (d Dense[T]) Row(i int) []T {
	off := i * d.Stride
	return d.Data[off : off+d.Cols]
}

func (d Dense[T]) Clone() Dense[T] {
	if d.Stride == d.Cols {
		return Dense[T]{
			Rows:   d.Rows,
			Cols:   d.Cols,
			Stride: d.Stride,
			Data:   slices.Clone(d.Data),
		}
	}
	c := NewZeros[T](d.Rows, d.Cols)
	for i := 0; i < d.Rows; i++ {
		copy(c.Row(i), d.Row(i))
	}
	return c
}

func (d Dense[T]) Transpose() Dense[T] {
	t := NewZeros[T](d.Cols, d.Rows)
	for i := range t.Rows {
		for j := range t.Cols {
			t.Data[t.At(i, j)] = d.Data[d.At(j, i)]
		}
	}
	return t
}

func Equal[T comparable](a, b Dense[T]) bool {
	if a.Rows != b.Rows || a.Cols != b.Cols {
		return false
	}
	for i := 0; i < a.Rows; i++ {
		if !slices.Equal(a.Row(i), b.Row(i)) {
			return false
		}
	}
	return true
}

func ToGeneral(d Dense[float32]) blas32.General {
	return blas32.General{
		Rows:   d.Rows,
		Cols:   d.Cols,
		Stride: d.Stride,
		Data:   d.Data,
	}
}

func FromGeneral(gen blas32.General) Dense[float32] {
	return Dense[float32]{
		Rows:   gen.Rows,
		Cols:   gen.Cols,
		Stride: gen.Stride,
		Data:   gen.Data,
	}
}

// RowVector returns row i as a blas32.Vector aliasing d.Data.
func RowVector(d Dense[float32], i int) blas32.Vector {
	return blas32.Vector{
		N:    d.Cols,
		Inc:  1,
		Data: d.Row(i),
	}
}
