package ir

import (
	"fmt"
	"strings"
)

// String renders a deterministic listing of the module. The kernel
// cache digests this listing, so the rendering must be a pure
// function of the module's contents and order.
func (m *Module) String() string {
	var b strings.Builder
	for i, f := range m.Funcs {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(f.String())
	}
	return b.String()
}

// String renders the function: a one-line prototype for externs, the
// full block listing otherwise.
func (f *Func) String() string {
	var b strings.Builder
	if f.Kernel {
		b.WriteString("kernel ")
	}
	if f.External {
		b.WriteString("extern ")
	} else {
		b.WriteString("func ")
	}
	b.WriteString(f.Name)
	b.WriteByte('(')
	for i, p := range f.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s %s", p.Name, p.Kind)
	}
	b.WriteByte(')')
	fmt.Fprintf(&b, " %s", f.Ret)
	if f.External {
		b.WriteByte('\n')
		return b.String()
	}
	fmt.Fprintf(&b, " { regs=%d slots=%d\n", f.NRegs, f.NSlots)
	for i, blk := range f.Blocks {
		if blk.Name != "" {
			fmt.Fprintf(&b, "b%d: ; %s\n", i, blk.Name)
		} else {
			fmt.Fprintf(&b, "b%d:\n", i)
		}
		for _, ins := range blk.Instrs {
			b.WriteString("  ")
			b.WriteString(ins.String())
			b.WriteByte('\n')
		}
	}
	b.WriteString("}\n")
	return b.String()
}

func regs(rs []Reg) string {
	parts := make([]string, len(rs))
	for i, r := range rs {
		parts[i] = fmt.Sprintf("%%%d", r)
	}
	return strings.Join(parts, ", ")
}

// String renders one instruction.
func (i Instr) String() string {
	switch i.Op {
	case OpConstF64:
		return fmt.Sprintf("%%%d = const.f64 %v", i.Dst, i.F)
	case OpConstU32:
		return fmt.Sprintf("%%%d = const.u32 %d", i.Dst, i.UImm)
	case OpMov:
		return fmt.Sprintf("%%%d = mov %%%d", i.Dst, i.A)
	case OpAdd, OpSub, OpMul, OpDiv, OpLT, OpGT, OpAddU32, OpMulU32, OpLtU32:
		return fmt.Sprintf("%%%d = %s %%%d, %%%d", i.Dst, i.Op, i.A, i.B)
	case OpLoadSlot:
		return fmt.Sprintf("%%%d = load.slot %d", i.Dst, i.Idx)
	case OpStoreSlot:
		return fmt.Sprintf("store.slot %d, %%%d", i.Idx, i.A)
	case OpCall:
		if i.Kind == Void {
			return fmt.Sprintf("call %s(%s)", i.Sym, regs(i.Args))
		}
		return fmt.Sprintf("%%%d = call %s(%s)", i.Dst, i.Sym, regs(i.Args))
	case OpMap:
		return fmt.Sprintf("%%%d = map %s(%s)", i.Dst, i.Sym, regs(i.Args))
	case OpElemLoad:
		return fmt.Sprintf("%%%d = elem.load %%%d[%%%d]", i.Dst, i.A, i.B)
	case OpElemStore:
		return fmt.Sprintf("elem.store %%%d[%%%d], %%%d", i.A, i.B, i.C)
	case OpLaneID, OpGroupID, OpGroupSize:
		return fmt.Sprintf("%%%d = %s", i.Dst, i.Op)
	case OpBr:
		return fmt.Sprintf("br b%d", i.Then)
	case OpCondBr:
		return fmt.Sprintf("condbr %%%d, b%d, b%d", i.A, i.Then, i.Else)
	case OpRet:
		return fmt.Sprintf("ret %%%d", i.A)
	case OpRetVoid:
		return "ret.void"
	default:
		return fmt.Sprintf("?%s", i.Op)
	}
}
