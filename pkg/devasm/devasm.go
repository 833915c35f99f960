// Package devasm is the device compiler: it translates a pruned IR
// module into a loadable device binary. Translation is two passes,
// like any assembler: the first lays out code offsets and collects
// every reason the module cannot run on a device, the second encodes.
// Rejections carry a diagnostic log naming each offending function
// and construct; one bad map call site must explain itself fully.
package devasm

import (
	"encoding/binary"
	"fmt"
	"math"

	"kale/pkg/device"
	"kale/pkg/errors"
	"kale/pkg/ir"
)

// Assemble compiles m into a device binary. The module is expected
// to be pruned to one kernel's call closure; every function present
// is compiled. Failure reports a DeviceCompile error whose
// diagnostic log lists all problems found.
func Assemble(m *ir.Module) ([]byte, error) {
	a := &assembler{
		mod:     m,
		funcIdx: make(map[string]int),
		poolIdx: make(map[uint64]uint32),
	}
	a.pass1()
	if len(a.diags) > 0 {
		return nil, errors.E("devasm.Assemble", errors.DeviceCompile, errors.Log(a.diags))
	}
	return a.pass2(), nil
}

type assembler struct {
	mod      *ir.Module
	funcs    []*ir.Func
	funcIdx  map[string]int
	regKinds [][]ir.Kind
	blockOff [][]uint32
	entries  []uint32
	ncode    uint32
	pool     []uint64
	poolIdx  map[uint64]uint32
	diags    []string
}

func (a *assembler) diagf(format string, args ...interface{}) {
	a.diags = append(a.diags, fmt.Sprintf(format, args...))
}

// width returns the encoded size of ins in code words.
func width(ins ir.Instr) uint32 {
	switch ins.Op {
	case ir.OpRetVoid:
		return 1
	case ir.OpLaneID, ir.OpGroupID, ir.OpGroupSize, ir.OpBr, ir.OpRet:
		return 2
	case ir.OpConstF64, ir.OpConstU32, ir.OpMov, ir.OpLoadSlot, ir.OpStoreSlot:
		return 3
	case ir.OpCall:
		return uint32(4 + len(ins.Args))
	default:
		// arithmetic, comparisons, element access, condbr
		return 4
	}
}

// kinds computes the kind of each register in f. Registers are
// written once (the builder always allocates a fresh destination),
// so a single forward walk suffices.
func kinds(f *ir.Func) []ir.Kind {
	ks := make([]ir.Kind, f.NRegs)
	for i, p := range f.Params {
		ks[i] = p.Kind
	}
	for _, blk := range f.Blocks {
		for _, ins := range blk.Instrs {
			switch ins.Op {
			case ir.OpConstF64, ir.OpConstU32, ir.OpMov,
				ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpLT, ir.OpGT,
				ir.OpAddU32, ir.OpMulU32, ir.OpLtU32,
				ir.OpLoadSlot, ir.OpElemLoad,
				ir.OpLaneID, ir.OpGroupID, ir.OpGroupSize, ir.OpMap:
				ks[ins.Dst] = ins.Kind
			case ir.OpCall:
				if ins.Kind != ir.Void {
					ks[ins.Dst] = ins.Kind
				}
			}
		}
	}
	return ks
}

func (a *assembler) pass1() {
	kernels := 0
	for _, f := range a.mod.Funcs {
		if f.External {
			continue
		}
		a.funcIdx[f.Name] = len(a.funcs)
		a.funcs = append(a.funcs, f)
		if f.Kernel {
			kernels++
		}
	}
	if kernels == 0 {
		a.diagf("module has no kernel entry point")
	}

	off := uint32(0)
	for _, f := range a.funcs {
		ks := kinds(f)
		a.regKinds = append(a.regKinds, ks)
		a.entries = append(a.entries, off)

		if !f.Kernel {
			for _, p := range f.Params {
				if p.Kind == ir.Vec {
					a.diagf("function %s: vector-typed parameter %s not supported on device", f.Name, p.Name)
				}
			}
		}
		if f.Ret == ir.Vec {
			a.diagf("function %s: vector-typed return value not supported on device", f.Name)
		}

		offs := make([]uint32, len(f.Blocks))
		slotKinds := make(map[int]ir.Kind)
		for bi, blk := range f.Blocks {
			offs[bi] = off
			n := len(blk.Instrs)
			if n == 0 || !blk.Instrs[n-1].Op.IsTerminator() {
				a.diagf("function %s: block b%d does not end in a terminator", f.Name, bi)
			}
			for _, ins := range blk.Instrs {
				a.check(f, ks, slotKinds, ins)
				off += width(ins)
			}
		}
		a.blockOff = append(a.blockOff, offs)
	}
	a.ncode = off
}

func (a *assembler) check(f *ir.Func, ks []ir.Kind, slotKinds map[int]ir.Kind, ins ir.Instr) {
	checkSlot := func(idx int, k ir.Kind) {
		if k == ir.Vec {
			a.diagf("function %s: vector-typed local (slot %d) not supported on device", f.Name, idx)
			return
		}
		if prev, ok := slotKinds[idx]; ok && prev != k {
			a.diagf("function %s: slot %d holds both %s and %s", f.Name, idx, prev, k)
			return
		}
		slotKinds[idx] = k
	}
	switch ins.Op {
	case ir.OpMap:
		a.diagf("function %s: map dispatch inside device code", f.Name)
	case ir.OpCall:
		target := a.mod.Func(ins.Sym)
		switch {
		case target == nil:
			a.diagf("function %s: call to unknown function %s", f.Name, ins.Sym)
		case target.External:
			a.diagf("function %s: call to external %s unavailable on device", f.Name, ins.Sym)
		default:
			if len(ins.Args) != len(target.Params) {
				a.diagf("function %s: call to %s with %d arguments, want %d", f.Name, ins.Sym, len(ins.Args), len(target.Params))
			}
			if ins.Kind != target.Ret {
				a.diagf("function %s: call to %s yields %s, want %s", f.Name, ins.Sym, target.Ret, ins.Kind)
			}
		}
	case ir.OpLoadSlot:
		checkSlot(ins.Idx, ins.Kind)
	case ir.OpStoreSlot:
		checkSlot(ins.Idx, ks[ins.A])
	case ir.OpElemLoad:
		if ks[ins.A] != ir.Vec {
			a.diagf("function %s: element load from non-buffer register", f.Name)
		}
		if ks[ins.B] != ir.U32 {
			a.diagf("function %s: element index is %s, want u32", f.Name, ks[ins.B])
		}
	case ir.OpElemStore:
		if ks[ins.A] != ir.Vec {
			a.diagf("function %s: element store to non-buffer register", f.Name)
		}
		if ks[ins.B] != ir.U32 {
			a.diagf("function %s: element index is %s, want u32", f.Name, ks[ins.B])
		}
	case ir.OpCondBr:
		if ks[ins.A] == ir.Vec {
			a.diagf("function %s: branch on vector value", f.Name)
		}
	case ir.OpRet:
		if ks[ins.A] == ir.Vec {
			a.diagf("function %s: vector-typed return value not supported on device", f.Name)
		}
	}
}

func (a *assembler) poolRef(v float64) uint32 {
	bits := math.Float64bits(v)
	if idx, ok := a.poolIdx[bits]; ok {
		return idx
	}
	idx := uint32(len(a.pool))
	a.pool = append(a.pool, bits)
	a.poolIdx[bits] = idx
	return idx
}

func (a *assembler) pass2() []byte {
	code := make([]uint32, 0, a.ncode)
	emit := func(ws ...uint32) {
		code = append(code, ws...)
	}
	for fi, f := range a.funcs {
		ks := a.regKinds[fi]
		offs := a.blockOff[fi]
		for _, blk := range f.Blocks {
			for _, ins := range blk.Instrs {
				switch ins.Op {
				case ir.OpConstF64:
					emit(device.OpCONSTF, uint32(ins.Dst), a.poolRef(ins.F))
				case ir.OpConstU32:
					emit(device.OpCONSTU, uint32(ins.Dst), ins.UImm)
				case ir.OpMov:
					emit(device.OpMOV, uint32(ins.Dst), uint32(ins.A))
				case ir.OpAdd:
					emit(device.OpADD, uint32(ins.Dst), uint32(ins.A), uint32(ins.B))
				case ir.OpSub:
					emit(device.OpSUB, uint32(ins.Dst), uint32(ins.A), uint32(ins.B))
				case ir.OpMul:
					emit(device.OpMUL, uint32(ins.Dst), uint32(ins.A), uint32(ins.B))
				case ir.OpDiv:
					emit(device.OpDIV, uint32(ins.Dst), uint32(ins.A), uint32(ins.B))
				case ir.OpLT:
					emit(device.OpLT, uint32(ins.Dst), uint32(ins.A), uint32(ins.B))
				case ir.OpGT:
					emit(device.OpGT, uint32(ins.Dst), uint32(ins.A), uint32(ins.B))
				case ir.OpAddU32:
					emit(device.OpADDU, uint32(ins.Dst), uint32(ins.A), uint32(ins.B))
				case ir.OpMulU32:
					emit(device.OpMULU, uint32(ins.Dst), uint32(ins.A), uint32(ins.B))
				case ir.OpLtU32:
					emit(device.OpLTU, uint32(ins.Dst), uint32(ins.A), uint32(ins.B))
				case ir.OpLoadSlot:
					emit(device.OpLDSLOT, uint32(ins.Dst), uint32(ins.Idx))
				case ir.OpStoreSlot:
					emit(device.OpSTSLOT, uint32(ins.Idx), uint32(ins.A))
				case ir.OpCall:
					words := []uint32{device.OpCALL, uint32(ins.Dst), uint32(a.funcIdx[ins.Sym]), uint32(len(ins.Args))}
					for _, r := range ins.Args {
						words = append(words, uint32(r))
					}
					emit(words...)
				case ir.OpElemLoad:
					emit(device.OpLDELEM, uint32(ins.Dst), uint32(ins.A), uint32(ins.B))
				case ir.OpElemStore:
					emit(device.OpSTELEM, uint32(ins.A), uint32(ins.B), uint32(ins.C))
				case ir.OpLaneID:
					emit(device.OpLANE, uint32(ins.Dst))
				case ir.OpGroupID:
					emit(device.OpGROUP, uint32(ins.Dst))
				case ir.OpGroupSize:
					emit(device.OpGSIZE, uint32(ins.Dst))
				case ir.OpBr:
					emit(device.OpBR, offs[ins.Then])
				case ir.OpCondBr:
					op := device.OpCBRF
					if ks[ins.A] == ir.U32 {
						op = device.OpCBRU
					}
					emit(op, uint32(ins.A), offs[ins.Then], offs[ins.Else])
				case ir.OpRet:
					emit(device.OpRET, uint32(ins.A))
				case ir.OpRetVoid:
					emit(device.OpRETV)
				}
			}
		}
	}

	out := make([]byte, 0, 64+8*len(a.pool)+4*len(code))
	out = append(out, device.Magic[:]...)
	out = binary.LittleEndian.AppendUint32(out, device.Version)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(a.funcs)))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(a.pool)))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(code)))
	for i, f := range a.funcs {
		out = binary.LittleEndian.AppendUint32(out, uint32(len(f.Name)))
		out = append(out, f.Name...)
		out = binary.LittleEndian.AppendUint32(out, a.entries[i])
		out = binary.LittleEndian.AppendUint32(out, uint32(len(f.Params)))
		out = binary.LittleEndian.AppendUint32(out, uint32(f.NRegs))
		out = binary.LittleEndian.AppendUint32(out, uint32(f.NSlots))
		var flags uint32
		if f.Kernel {
			flags |= device.FlagKernel
		}
		out = binary.LittleEndian.AppendUint32(out, flags)
	}
	for _, bits := range a.pool {
		out = binary.LittleEndian.AppendUint64(out, bits)
	}
	for _, w := range code {
		out = binary.LittleEndian.AppendUint32(out, w)
	}
	return out
}
