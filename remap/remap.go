// Package remap moves per-agent payloads between a simulator's flat record
// layout and dense [player, world, ...] tensors.
//
// A simulator reports one row per agent record in whatever order it likes,
// together with the world and agent slot each row belongs to. Scatter writes
// those rows into a dense buffer that is kept across steps; cells without a
// record this step keep whatever they held before. Gather is the inverse and
// is used to hand actions back in flat order.
package remap

import (
	"errors"
	"fmt"
	"github.com/sw965/crowd/blas32/tensor/2d"
	"github.com/sw965/crowd/blas32/tensor/3d"
	"github.com/sw965/omw/slicesx"
)

var (
	ErrShape = errors.New("remap: shape mismatch")
	ErrIndex = errors.New("remap: index out of range")
)

// Index holds the (world, agent) address of every flat record of one step.
type Index struct {
	WorldIDs []int32
	AgentIDs []int32
}

type address struct {
	world int32
	agent int32
}

func (ix Index) Len() int {
	return len(ix.WorldIDs)
}

// Validate checks that both id slices have the same length, every id is in
// range and no (world, agent) pair appears twice.
func (ix Index) Validate(players, worlds int) error {
	if len(ix.WorldIDs) != len(ix.AgentIDs) {
		return fmt.Errorf("%w: %d world ids but %d agent ids", ErrShape, len(ix.WorldIDs), len(ix.AgentIDs))
	}
	if ix.Len() > players*worlds {
		return fmt.Errorf("%w: %d records exceed %d players x %d worlds", ErrShape, ix.Len(), players, worlds)
	}

	addrs := make([]address, ix.Len())
	for k := range addrs {
		w, a := ix.WorldIDs[k], ix.AgentIDs[k]
		if w < 0 || int(w) >= worlds {
			return fmt.Errorf("%w: record %d world id %d not in [0, %d)", ErrIndex, k, w, worlds)
		}
		if a < 0 || int(a) >= players {
			return fmt.Errorf("%w: record %d agent id %d not in [0, %d)", ErrIndex, k, a, players)
		}
		addrs[k] = address{world: w, agent: a}
	}

	if len(addrs) > 1 && !slicesx.IsUnique(addrs) {
		return fmt.Errorf("%w: duplicate (world, agent) record", ErrIndex)
	}
	return nil
}

// Clone copies the id slices so the index survives the simulator reusing its
// buffers.
func (ix Index) Clone() Index {
	return Index{
		WorldIDs: append([]int32(nil), ix.WorldIDs...),
		AgentIDs: append([]int32(nil), ix.AgentIDs...),
	}
}

func (ix Index) check(players, worlds, cols, srcLen int) error {
	if len(ix.WorldIDs) != len(ix.AgentIDs) {
		return fmt.Errorf("%w: %d world ids but %d agent ids", ErrShape, len(ix.WorldIDs), len(ix.AgentIDs))
	}
	if srcLen != ix.Len()*cols {
		return fmt.Errorf("%w: flat buffer has %d elements, want %d records x %d", ErrShape, srcLen, ix.Len(), cols)
	}
	for k := range ix.WorldIDs {
		w, a := int(ix.WorldIDs[k]), int(ix.AgentIDs[k])
		if w < 0 || w >= worlds || a < 0 || a >= players {
			return fmt.Errorf("%w: record %d addresses (world %d, agent %d)", ErrIndex, k, w, a)
		}
	}
	return nil
}

// Scatter writes src[k, :] to dst[agent_k, world_k, :] for every record k.
// src is the flat [K, dst.Cols] buffer in record order.
func Scatter[T any](dst tensor3d.General[T], ix Index, src []T) error {
	if err := ix.check(dst.Channels, dst.Rows, dst.Cols, len(src)); err != nil {
		return err
	}
	cols := dst.Cols
	for k := range ix.WorldIDs {
		copy(dst.Row(int(ix.AgentIDs[k]), int(ix.WorldIDs[k])), src[k*cols:(k+1)*cols])
	}
	return nil
}

// Gather is the inverse of Scatter: dst[k, :] = src[agent_k, world_k, :].
func Gather[T any](dst []T, src tensor3d.General[T], ix Index) error {
	if err := ix.check(src.Channels, src.Rows, src.Cols, len(dst)); err != nil {
		return err
	}
	cols := src.Cols
	for k := range ix.WorldIDs {
		copy(dst[k*cols:(k+1)*cols], src.Row(int(ix.AgentIDs[k]), int(ix.WorldIDs[k])))
	}
	return nil
}

// ScatterRows covers payloads addressed by world alone: dst[rows_k, :] = src[k, :].
func ScatterRows[T any](dst tensor2d.Dense[T], rows []int32, src []T) error {
	cols := dst.Cols
	if len(src) != len(rows)*cols {
		return fmt.Errorf("%w: flat buffer has %d elements, want %d rows x %d", ErrShape, len(src), len(rows), cols)
	}
	for k, r := range rows {
		if r < 0 || int(r) >= dst.Rows {
			return fmt.Errorf("%w: record %d row %d not in [0, %d)", ErrIndex, k, r, dst.Rows)
		}
		copy(dst.Row(int(r)), src[k*cols:(k+1)*cols])
	}
	return nil
}
