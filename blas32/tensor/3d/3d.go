package tensor3d

import (
	"fmt"
	"gonum.org/v1/gonum/blas/blas32"
	"slices"
	"github.com/sw965/crowd/blas32/tensor/2d"
)

// General is a dense row-major tensor of shape [Channels, Rows, Cols].
//
// In this module Channels are player slots, Rows are worlds and Cols are
// the per-agent payload width.
type General[T any] struct {
	Channels      int
	Rows          int
	Cols          int
	ChannelStride int
	RowStride     int
	Data          []T
}

func NewZeros[T any](chs, rows, cols int) General[T] {
	rowStride := cols
	chStride := rows * rowStride
	n := chs * chStride
	return General[T]{
		Channels:      chs,
		Rows:          rows,
		Cols:          cols,
		ChannelStride: chStride,
		RowStride:     rowStride,
		Data:          make([]T, n),
	}
}

func NewZerosLike[T any](gen General[T]) General[T] {
	return NewZeros[T](gen.Channels, gen.Rows, gen.Cols)
}

func (g General[T]) N() int {
	return g.Channels * g.Rows * g.Cols
}

func (g General[T]) Clone() General[T] {
	return General[T]{
		Channels:      g.Channels,
		Rows:          g.Rows,
		Cols:          g.Cols,
		ChannelStride: g.ChannelStride,
		RowStride:     g.RowStride,
		Data:          slices.Clone(g.Data),
	}
}

func (g General[T]) At(ch, row, col int) int {
	return ch*g.ChannelStride + row*g.RowStride + col
}

// Row returns the Cols elements of (ch, row). The slice aliases g.Data.
func (g General[T]) Row(ch, row int) []T {
	i := g.At(ch, row, 0)
	return g.Data[i : i+g.Cols]
}

// Channel copies channel ch into a fresh [Rows, Cols] matrix.
func (g General[T]) Channel(ch int) tensor2d.Dense[T] {
	dst := tensor2d.NewZeros[T](g.Rows, g.Cols)
	for row := 0; row < g.Rows; row++ {
		copy(dst.Row(row), g.Row(ch, row))
	}
	return dst
}

// SetChannel overwrites channel ch with src, which must be [Rows, Cols].
func (g General[T]) SetChannel(ch int, src tensor2d.Dense[T]) error {
	if ch < 0 || ch >= g.Channels {
		return fmt.Errorf("channel %d out of range [0, %d)", ch, g.Channels)
	}
	if src.Rows != g.Rows || src.Cols != g.Cols {
		return fmt.Errorf("channel shape mismatch: want [%d, %d], got [%d, %d]", g.Rows, g.Cols, src.Rows, src.Cols)
	}
	for row := 0; row < g.Rows; row++ {
		copy(g.Row(ch, row), src.Row(row))
	}
	return nil
}

// Fill sets every element to v.
func (g General[T]) Fill(v T) {
	for i := range g.Data {
		g.Data[i] = v
	}
}

// Transpose102 swaps the channel and row axes: [C, R, K] -> [R, C, K].
func (g General[T]) Transpose102() General[T] {
	dst := NewZeros[T](g.Rows, g.Channels, g.Cols)
	dstChStride := dst.ChannelStride
	dstRowStride := dst.RowStride
	for row := 0; row < g.Rows; row++ {
		srcRowBase := row * g.RowStride
		dstBase := row * dstChStride
		for ch := 0; ch < g.Channels; ch++ {
			srcBase := srcRowBase + ch*g.ChannelStride
			dstOff := dstBase + ch*dstRowStride
			copy(dst.Data[dstOff:dstOff+g.Cols], g.Data[srcBase:srcBase+g.Cols])
		}
	}
	return dst
}

func ToVector(g General[float32]) blas32.Vector {
	return blas32.Vector{
		N:    g.N(),
		Inc:  1,
		Data: g.Data,
	}
}

func Axpy(alpha float32, x, y General[float32]) {
	blas32.Axpy(alpha, ToVector(x), ToVector(y))
}
