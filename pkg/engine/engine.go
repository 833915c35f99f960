// Package engine interprets IR on the host. Top-level forms, and any
// function the program calls outside a map dispatch, run here; only
// synthesized kernels run on the device. Extern functions resolve by
// name against a registry of host bindings, and map dispatches
// delegate to a MapRunner so the engine carries no dependency on a
// particular accelerator toolchain.
package engine

import (
	"kale/pkg/errors"
	"kale/pkg/ir"
	"kale/pkg/rt"
)

// Value is one tagged runtime value.
type Value struct {
	Kind ir.Kind
	F    float64
	U    uint32
	Vec  *rt.Vector
}

// F64 wraps a scalar.
func F64(v float64) Value { return Value{Kind: ir.F64, F: v} }

// U32 wraps an index.
func U32(v uint32) Value { return Value{Kind: ir.U32, U: v} }

// VecOf wraps a vector descriptor.
func VecOf(v *rt.Vector) Value { return Value{Kind: ir.Vec, Vec: v} }

// Void is the absent value.
var Void = Value{Kind: ir.Void}

// Extern is a host function callable from interpreted code.
type Extern func(args []Value) (Value, error)

// MapRunner executes one map dispatch: apply function callee of
// module m elementwise across args, yielding a fresh result vector.
// The live module is passed so the runner can clone and specialize
// it without mutating the running program.
type MapRunner interface {
	Run(m *ir.Module, callee string, args []*rt.Vector) (*rt.Vector, error)
}

// MaxDepth bounds the interpreter's call stack. Runaway recursion is
// reported as a recoverable evaluation error.
const MaxDepth = 4096

// Engine evaluates functions of one live module.
type Engine struct {
	mod     *ir.Module
	externs map[string]Extern
	runner  MapRunner
}

// New returns an engine over mod. runner may be nil, in which case
// any map dispatch fails.
func New(mod *ir.Module, runner MapRunner) *Engine {
	return &Engine{
		mod:     mod,
		externs: make(map[string]Extern),
		runner:  runner,
	}
}

// Bind installs a host binding for the extern function named name.
func (e *Engine) Bind(name string, fn Extern) {
	e.externs[name] = fn
}

// Call evaluates the named function with the given arguments.
func (e *Engine) Call(name string, args ...Value) (Value, error) {
	f := e.mod.Func(name)
	if f == nil {
		return Void, errors.E("engine.Call", errors.Semantic, errors.Errorf("unknown function %s", name))
	}
	return e.call(f, args, 0)
}

func (e *Engine) call(f *ir.Func, args []Value, depth int) (Value, error) {
	if depth >= MaxDepth {
		return Void, errors.E("engine.call", errors.Eval, errors.Errorf("call depth exceeds %d in %s", MaxDepth, f.Name))
	}
	if f.External {
		ext, ok := e.externs[f.Name]
		if !ok {
			return Void, errors.E("engine.call", errors.Semantic, errors.Errorf("extern function %s is not bound", f.Name))
		}
		return ext(args)
	}
	if len(args) != len(f.Params) {
		return Void, errors.E("engine.call", errors.Semantic, errors.Errorf("%s called with %d arguments, want %d", f.Name, len(args), len(f.Params)))
	}

	regs := make([]Value, f.NRegs)
	slots := make([]Value, f.NSlots)
	copy(regs, args)

	blk := f.Blocks[0]
	for {
		var next int
		done := false
		var result Value
		for _, ins := range blk.Instrs {
			switch ins.Op {
			case ir.OpConstF64:
				regs[ins.Dst] = F64(ins.F)
			case ir.OpConstU32:
				regs[ins.Dst] = U32(ins.UImm)
			case ir.OpMov:
				regs[ins.Dst] = regs[ins.A]
			case ir.OpAdd:
				regs[ins.Dst] = F64(regs[ins.A].F + regs[ins.B].F)
			case ir.OpSub:
				regs[ins.Dst] = F64(regs[ins.A].F - regs[ins.B].F)
			case ir.OpMul:
				regs[ins.Dst] = F64(regs[ins.A].F * regs[ins.B].F)
			case ir.OpDiv:
				regs[ins.Dst] = F64(regs[ins.A].F / regs[ins.B].F)
			case ir.OpLT:
				regs[ins.Dst] = F64(bool2f(ult(regs[ins.A].F, regs[ins.B].F)))
			case ir.OpGT:
				regs[ins.Dst] = F64(bool2f(ugt(regs[ins.A].F, regs[ins.B].F)))
			case ir.OpAddU32:
				regs[ins.Dst] = U32(regs[ins.A].U + regs[ins.B].U)
			case ir.OpMulU32:
				regs[ins.Dst] = U32(regs[ins.A].U * regs[ins.B].U)
			case ir.OpLtU32:
				var v uint32
				if regs[ins.A].U < regs[ins.B].U {
					v = 1
				}
				regs[ins.Dst] = U32(v)
			case ir.OpLoadSlot:
				regs[ins.Dst] = slots[ins.Idx]
			case ir.OpStoreSlot:
				slots[ins.Idx] = regs[ins.A]
			case ir.OpCall:
				callee := e.mod.Func(ins.Sym)
				if callee == nil {
					return Void, errors.E("engine.call", errors.Semantic, errors.Errorf("unknown function %s", ins.Sym))
				}
				cargs := make([]Value, len(ins.Args))
				for i, r := range ins.Args {
					cargs[i] = regs[r]
				}
				v, err := e.call(callee, cargs, depth+1)
				if err != nil {
					return Void, err
				}
				if ins.Kind != ir.Void {
					regs[ins.Dst] = v
				}
			case ir.OpMap:
				v, err := e.mapDispatch(ins, regs)
				if err != nil {
					return Void, err
				}
				regs[ins.Dst] = v
			case ir.OpElemLoad:
				vec := regs[ins.A].Vec
				if vec.Freed() {
					return Void, errors.E("engine.call", errors.Eval, errors.New("use of freed vector"))
				}
				idx := int(regs[ins.B].U)
				if idx >= vec.Len || idx >= len(vec.Buf) {
					return Void, errors.E("engine.call", errors.Eval, errors.Errorf("element %d exceeds vector of %d", idx, vec.Len))
				}
				regs[ins.Dst] = F64(vec.Buf[idx])
			case ir.OpElemStore:
				vec := regs[ins.A].Vec
				if vec.Freed() {
					return Void, errors.E("engine.call", errors.Eval, errors.New("use of freed vector"))
				}
				idx := int(regs[ins.B].U)
				if idx >= vec.Len || idx >= len(vec.Buf) {
					return Void, errors.E("engine.call", errors.Eval, errors.Errorf("element %d exceeds vector of %d", idx, vec.Len))
				}
				vec.Buf[idx] = regs[ins.C].F
			case ir.OpLaneID, ir.OpGroupID, ir.OpGroupSize:
				return Void, errors.E("engine.call", errors.Eval, errors.Errorf("%s executed on host", ins.Op))
			case ir.OpBr:
				next = ins.Then
			case ir.OpCondBr:
				if truthy(regs[ins.A]) {
					next = ins.Then
				} else {
					next = ins.Else
				}
			case ir.OpRet:
				result = regs[ins.A]
				done = true
			case ir.OpRetVoid:
				result = Void
				done = true
			}
		}
		if done {
			return result, nil
		}
		n := len(blk.Instrs)
		if n == 0 || !blk.Instrs[n-1].Op.IsTerminator() {
			return Void, errors.E("engine.call", errors.Errorf("block without terminator in %s", f.Name))
		}
		blk = f.Blocks[next]
	}
}

func (e *Engine) mapDispatch(ins ir.Instr, regs []Value) (Value, error) {
	if e.runner == nil {
		return Void, errors.E("engine.map", errors.Semantic, errors.New("no map runner configured"))
	}
	vecs := make([]*rt.Vector, len(ins.Args))
	for i, r := range ins.Args {
		if regs[r].Kind != ir.Vec {
			return Void, errors.E("engine.map", errors.Semantic, errors.Errorf("map argument %d is not a vector", i+1))
		}
		vecs[i] = regs[r].Vec
	}
	out, err := e.runner.Run(e.mod, ins.Sym, vecs)
	if err != nil {
		return Void, err
	}
	return VecOf(out), nil
}

func bool2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// ordered nonzero for f64 conditions: NaN and negative zero test
// false, matching the comparison the scalar code generator emits.
func truthy(v Value) bool {
	switch v.Kind {
	case ir.U32:
		return v.U != 0
	default:
		return v.F == v.F && v.F != 0
	}
}

// unordered comparisons: a NaN operand satisfies either direction.
func ult(a, b float64) bool { return a < b || a != a || b != b }
func ugt(a, b float64) bool { return a > b || a != a || b != b }
