package kernel

import (
	"fmt"

	"kale/pkg/errors"
	"kale/pkg/ir"
)

// Synthesize appends a kernel entry point to m wrapping the scalar
// function callee and returns the kernel's name. Each device lane
// computes one output element:
//
//	idx := GroupSize*GroupID + LaneID
//	if idx < n {
//		out[idx] = callee(in1[idx], ..., ink[idx])
//	}
//
// The wrapper takes the element count, one buffer per callee
// parameter, and the output buffer. Lanes past n fall through and
// return, so a launch may round the lane count up to a whole number
// of groups. m is mutated; callers pass a clone of the live program.
func Synthesize(m *ir.Module, callee string) (string, error) {
	f := m.Func(callee)
	if f == nil {
		return "", errors.E("kernel.Synthesize", errors.Semantic, errors.Errorf("unknown function %s", callee))
	}
	if f.External {
		return "", errors.E("kernel.Synthesize", errors.Semantic, errors.Errorf("cannot map extern function %s", callee))
	}
	if f.Ret != ir.F64 {
		return "", errors.E("kernel.Synthesize", errors.Semantic, errors.Errorf("map target %s does not return a number", callee))
	}
	for _, p := range f.Params {
		if p.Kind != ir.F64 {
			return "", errors.E("kernel.Synthesize", errors.Semantic, errors.Errorf("map target %s has non-number parameter %s", callee, p.Name))
		}
	}

	name := kernelName(m, callee)
	params := make([]ir.Param, 0, len(f.Params)+2)
	params = append(params, ir.Param{Name: "n", Kind: ir.U32})
	for i := range f.Params {
		params = append(params, ir.Param{Name: fmt.Sprintf("in%d", i+1), Kind: ir.Vec})
	}
	params = append(params, ir.Param{Name: "out", Kind: ir.Vec})

	b := ir.NewFunc(name, params, ir.Void)
	b.Fn.Kernel = true

	base := b.Bin(ir.OpMulU32, b.GroupSize(), b.GroupID())
	idx := b.Bin(ir.OpAddU32, base, b.LaneID())
	inb := b.Bin(ir.OpLtU32, idx, ir.Reg(0))
	body := b.NewBlock("body")
	exit := b.NewBlock("exit")
	b.CondBr(inb, body, exit)

	b.SetBlock(body)
	args := make([]ir.Reg, len(f.Params))
	for i := range args {
		args[i] = b.ElemLoad(ir.Reg(1+i), idx)
	}
	v := b.Call(callee, ir.F64, args...)
	b.ElemStore(ir.Reg(1+len(f.Params)), idx, v)
	b.RetVoid()

	b.SetBlock(exit)
	b.RetVoid()

	m.Add(b.Fn)
	return name, nil
}

// kernelName picks an entry point name not already taken in m. The
// choice is deterministic, so identical modules digest identically.
func kernelName(m *ir.Module, callee string) string {
	name := callee + "_kernel"
	for i := 2; m.Func(name) != nil; i++ {
		name = fmt.Sprintf("%s_kernel%d", callee, i)
	}
	return name
}
