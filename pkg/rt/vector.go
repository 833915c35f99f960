// Package rt is the runtime support library consumed by generated
// code: vector allocation and release, printing, and random fill.
// The engine binds these as extern functions; compiled device code
// never reaches them.
package rt

import (
	"kale/pkg/errors"
)

// Vector is the language's vector value: a contiguous buffer of
// 64-bit floats plus its element count. Len is carried separately
// from the buffer so descriptor validation (the uint32 index
// boundary, length agreement across map arguments) is independent of
// what is actually allocated.
type Vector struct {
	Buf []float64
	Len int
}

// NewVector allocates an n-element vector. Allocation failure is
// reported as an error rather than terminating the host.
func NewVector(n int) (v *Vector, err error) {
	if n < 0 {
		return nil, errors.E("rt.NewVector", errors.Alloc, errors.Errorf("negative length %d", n))
	}
	defer func() {
		if recover() != nil {
			v, err = nil, errors.E("rt.NewVector", errors.Alloc, errors.Errorf("cannot allocate %d elements", n))
		}
	}()
	return &Vector{Buf: make([]float64, n), Len: n}, nil
}

// Free releases the vector's buffer and empties the descriptor.
// Freeing an already-freed or nil vector is a no-op.
func (v *Vector) Free() {
	if v == nil {
		return
	}
	v.Buf = nil
	v.Len = 0
}

// Freed tells whether the vector's buffer has been released. A
// zero-length live vector keeps a non-nil (empty) buffer, so the two
// states are distinguishable.
func (v *Vector) Freed() bool {
	return v == nil || v.Buf == nil
}
