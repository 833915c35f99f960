package compiler

import (
	"kale/pkg/errors"
	"kale/pkg/ir"
)

// binding records where a name lives in the current function frame.
type binding struct {
	slot int
	kind ir.Kind
}

// Codegen lowers parsed forms onto an ir.Module. One Codegen serves a
// whole session; definitions accumulate in the module as they arrive,
// and later forms resolve calls against everything lowered so far.
type Codegen struct {
	mod *ir.Module
	ops *OpTable
}

// NewCodegen returns a generator targeting mod. Operator definitions
// install their precedence into ops and roll it back when body
// generation fails.
func NewCodegen(mod *ir.Module, ops *OpTable) *Codegen {
	// The allocator primitives generated code leans on. Identifiers
	// cannot contain underscores, so these names never collide with
	// user functions.
	mod.Extern("vector_malloc", []ir.Param{{Name: "n", Kind: ir.F64}}, ir.Vec)
	mod.Extern("vector_free", []ir.Param{{Name: "v", Kind: ir.Vec}}, ir.Void)
	return &Codegen{mod: mod, ops: ops}
}

// Module returns the module definitions are lowered into.
func (c *Codegen) Module() *ir.Module { return c.mod }

func semErr(format string, args ...interface{}) error {
	return errors.E(errors.Semantic, errors.Errorf(format, args...))
}

func protoParams(proto *Prototype) []ir.Param {
	params := make([]ir.Param, len(proto.Params))
	for i, p := range proto.Params {
		kind := ir.F64
		if p.IsVector {
			kind = ir.Vec
		}
		params[i] = ir.Param{Name: p.Name, Kind: kind}
	}
	return params
}

func protoRet(proto *Prototype) ir.Kind {
	if proto.RetVec {
		return ir.Vec
	}
	return ir.F64
}

func sameSignature(f *ir.Func, params []ir.Param, ret ir.Kind) bool {
	if f.Ret != ret || len(f.Params) != len(params) {
		return false
	}
	for i := range params {
		if f.Params[i].Kind != params[i].Kind {
			return false
		}
	}
	return true
}

// GenExtern records an extern prototype in the module. Redeclaring a
// known function with the same signature is a no-op; a conflicting
// signature is an error.
func (c *Codegen) GenExtern(proto *Prototype) (*ir.Func, error) {
	params := protoParams(proto)
	ret := protoRet(proto)
	if f := c.mod.Func(proto.Name); f != nil {
		if !sameSignature(f, params, ret) {
			return nil, semErr("redefinition of function %s with a different signature", proto.Name)
		}
		return f, nil
	}
	return c.mod.Extern(proto.Name, params, ret), nil
}

// GenFunction lowers a definition into the module. A definition may
// complete an extern declaration with a matching signature; anything
// else already present under the same name is a redefinition error.
func (c *Codegen) GenFunction(fn *Function) (*ir.Func, error) {
	proto := fn.Proto
	params := protoParams(proto)
	ret := protoRet(proto)

	if f := c.mod.Func(proto.Name); f != nil {
		if !f.External {
			return nil, semErr("redefinition of function %s", proto.Name)
		}
		if len(f.Params) != len(params) {
			return nil, semErr("redefinition of function %s with a different number of parameters", proto.Name)
		}
		if !sameSignature(f, params, ret) {
			return nil, semErr("redefinition of function %s with a different signature", proto.Name)
		}
	}

	// An operator definition extends the grammar for everything
	// parsed after it. The registration rolls back if the body
	// fails so a broken definition leaves the table untouched.
	installedOp := ""
	prevPrec := -1
	if proto.IsBinaryOp() {
		installedOp = proto.OperatorName()
		prevPrec = c.ops.Precedence(installedOp)
		c.ops.Install(installedOp, proto.Prec)
	}

	f, err := c.genBody(proto, params, ret, fn.Body)
	if err != nil {
		if installedOp != "" {
			if prevPrec < 0 {
				c.ops.Remove(installedOp)
			} else {
				c.ops.Install(installedOp, prevPrec)
			}
		}
		return nil, err
	}
	c.mod.Replace(f)
	return f, nil
}

// GenTopLevel wraps a bare expression in a zero-parameter function
// whose return kind is whatever the expression produces. The caller
// removes the function from the module once it has run.
func (c *Codegen) GenTopLevel(name string, body Expr) (*ir.Func, error) {
	b := ir.NewFunc(name, nil, ir.F64)
	g := &gen{cg: c, b: b, scope: make(map[string]binding)}
	val, kind, err := g.expr(body)
	if err != nil {
		return nil, err
	}
	b.Fn.Ret = kind
	b.Ret(val)
	c.mod.Replace(b.Fn)
	return b.Fn, nil
}

func (c *Codegen) genBody(proto *Prototype, params []ir.Param, ret ir.Kind, body Expr) (*ir.Func, error) {
	b := ir.NewFunc(proto.Name, params, ret)
	g := &gen{cg: c, b: b, scope: make(map[string]binding)}
	// Parameters move into frame slots so assignment works on them.
	for i, p := range params {
		slot := b.NewSlot()
		b.StoreSlot(slot, ir.Reg(i))
		g.scope[p.Name] = binding{slot: slot, kind: p.Kind}
	}
	val, kind, err := g.expr(body)
	if err != nil {
		return nil, err
	}
	if kind != ret {
		return nil, semErr("function %s is declared to return %s but its body is %s", proto.Name, ret, kind)
	}
	b.Ret(val)
	return b.Fn, nil
}

// gen holds per-function lowering state: the instruction builder and
// the scope mapping names to frame slots.
type gen struct {
	cg    *Codegen
	b     *ir.Builder
	scope map[string]binding
}

// expr lowers e, returning the register holding its value and the
// value's kind.
func (g *gen) expr(e Expr) (ir.Reg, ir.Kind, error) {
	switch e := e.(type) {
	case *Number:
		return g.b.ConstF64(e.Value), ir.F64, nil
	case *VarRef:
		return g.varRef(e)
	case *UnaryExpr:
		return g.unary(e)
	case *BinaryExpr:
		return g.binary(e)
	case *FunctionCall:
		return g.call(e)
	case *MapExpr:
		return g.mapExpr(e)
	case *VecLit:
		return g.vecLit(e)
	case *IfExpr:
		return g.ifExpr(e)
	case *ForExpr:
		return g.forExpr(e)
	case *VarExpr:
		return g.varExpr(e)
	}
	return 0, 0, semErr("cannot lower %T", e)
}

func (g *gen) varRef(e *VarRef) (ir.Reg, ir.Kind, error) {
	bind, ok := g.scope[e.Name]
	if !ok {
		return 0, 0, semErr("unknown variable %s", e.Name)
	}
	return g.b.LoadSlot(bind.slot, bind.kind), bind.kind, nil
}

func (g *gen) unary(e *UnaryExpr) (ir.Reg, ir.Kind, error) {
	operand, kind, err := g.expr(e.Operand)
	if err != nil {
		return 0, 0, err
	}
	name := "unary" + e.Op
	f := g.cg.mod.Func(name)
	if f == nil {
		return 0, 0, semErr("unknown unary operator %s", e.Op)
	}
	if err := checkCallKinds(f, []ir.Kind{kind}); err != nil {
		return 0, 0, err
	}
	return g.b.Call(name, f.Ret, operand), f.Ret, nil
}

// binary lowers an operator application. '=' assigns through the
// scope; the builtin arithmetic and comparison operators apply to
// numbers regardless of any user redefinition (a def binary for a
// builtin character changes only its precedence); anything else calls
// the user's binary<op> function.
func (g *gen) binary(e *BinaryExpr) (ir.Reg, ir.Kind, error) {
	if e.Op == "=" {
		return g.assign(e)
	}

	// Two literal operands fold at generation time.
	if l, lok := e.Left.(*Number); lok {
		if r, rok := e.Right.(*Number); rok {
			if v, ok := foldConst(e.Op, l.Value, r.Value); ok {
				return g.b.ConstF64(v), ir.F64, nil
			}
		}
	}

	lhs, lk, err := g.expr(e.Left)
	if err != nil {
		return 0, 0, err
	}
	rhs, rk, err := g.expr(e.Right)
	if err != nil {
		return 0, 0, err
	}

	switch e.Op {
	case "+", "-", "*", "/", "<", ">":
		if lk != ir.F64 || rk != ir.F64 {
			return 0, 0, semErr("operands of binary %s are %s and %s, want numbers", e.Op, lk, rk)
		}
		return g.b.Bin(builtinOp(e.Op), lhs, rhs), ir.F64, nil
	}

	name := "binary" + e.Op
	f := g.cg.mod.Func(name)
	if f == nil {
		return 0, 0, semErr("unknown binary operator %s", e.Op)
	}
	if err := checkCallKinds(f, []ir.Kind{lk, rk}); err != nil {
		return 0, 0, err
	}
	return g.b.Call(name, f.Ret, lhs, rhs), f.Ret, nil
}

// assign lowers '='. The destination must be a bare variable and the
// value's kind must match the binding's.
func (g *gen) assign(e *BinaryExpr) (ir.Reg, ir.Kind, error) {
	ref, ok := e.Left.(*VarRef)
	if !ok {
		return 0, 0, semErr("destination of = must be a variable")
	}
	bind, ok := g.scope[ref.Name]
	if !ok {
		return 0, 0, semErr("unknown variable %s", ref.Name)
	}
	val, kind, err := g.expr(e.Right)
	if err != nil {
		return 0, 0, err
	}
	if kind != bind.kind {
		return 0, 0, semErr("cannot assign %s to %s variable %s", kind, bind.kind, ref.Name)
	}
	g.b.StoreSlot(bind.slot, val)
	return val, kind, nil
}

func (g *gen) call(e *FunctionCall) (ir.Reg, ir.Kind, error) {
	f := g.cg.mod.Func(e.Name)
	if f == nil {
		return 0, 0, semErr("unknown function %s", e.Name)
	}
	args := make([]ir.Reg, len(e.Args))
	kinds := make([]ir.Kind, len(e.Args))
	for i, a := range e.Args {
		v, k, err := g.expr(a)
		if err != nil {
			return 0, 0, err
		}
		args[i] = v
		kinds[i] = k
	}
	if err := checkCallKinds(f, kinds); err != nil {
		return 0, 0, err
	}
	return g.b.Call(e.Name, f.Ret, args...), f.Ret, nil
}

// mapExpr lowers map(f, v...) to a dispatch instruction. The callee's
// shape is checked here so a bad map fails its enclosing definition;
// the dispatcher revalidates against the live module at launch.
func (g *gen) mapExpr(e *MapExpr) (ir.Reg, ir.Kind, error) {
	f := g.cg.mod.Func(e.Callee)
	if f == nil {
		return 0, 0, semErr("unknown function %s", e.Callee)
	}
	if len(e.Args) != len(f.Params) {
		return 0, 0, semErr("map %s over %d vectors, want %d", e.Callee, len(e.Args), len(f.Params))
	}
	args := make([]ir.Reg, len(e.Args))
	for i, a := range e.Args {
		v, k, err := g.expr(a)
		if err != nil {
			return 0, 0, err
		}
		if k != ir.Vec {
			return 0, 0, semErr("map argument %d is %s, want a vector", i+1, k)
		}
		args[i] = v
	}
	return g.b.MapCall(e.Callee, args...), ir.Vec, nil
}

// vecLit lowers a bracket literal: allocate, then store each element.
// The resulting vector is owned by whoever receives it, like a map
// result.
func (g *gen) vecLit(e *VecLit) (ir.Reg, ir.Kind, error) {
	n := g.b.ConstF64(float64(len(e.Elems)))
	vec := g.b.Call("vector_malloc", ir.Vec, n)
	for i, el := range e.Elems {
		v, k, err := g.expr(el)
		if err != nil {
			return 0, 0, err
		}
		if k != ir.F64 {
			return 0, 0, semErr("element %d of a vector literal is %s, want a number", i+1, k)
		}
		idx := g.b.ConstU32(uint32(i))
		g.b.ElemStore(vec, idx, v)
	}
	return vec, ir.Vec, nil
}

// ifExpr lowers two-branch control flow. Both arms store into one
// kind-typed slot and branch to a merge block that loads it.
func (g *gen) ifExpr(e *IfExpr) (ir.Reg, ir.Kind, error) {
	cond, ck, err := g.expr(e.Cond)
	if err != nil {
		return 0, 0, err
	}
	if ck != ir.F64 {
		return 0, 0, semErr("if condition is %s, want a number", ck)
	}

	thenBlk := g.b.NewBlock("then")
	elseBlk := g.b.NewBlock("else")
	mergeBlk := g.b.NewBlock("endif")
	g.b.CondBr(cond, thenBlk, elseBlk)

	slot := g.b.NewSlot()

	g.b.SetBlock(thenBlk)
	thenVal, tk, err := g.expr(e.Then)
	if err != nil {
		return 0, 0, err
	}
	g.b.StoreSlot(slot, thenVal)
	g.b.Br(mergeBlk)

	g.b.SetBlock(elseBlk)
	elseVal, ek, err := g.expr(e.Else)
	if err != nil {
		return 0, 0, err
	}
	if tk != ek {
		return 0, 0, semErr("if arms are %s and %s, want matching kinds", tk, ek)
	}
	g.b.StoreSlot(slot, elseVal)
	g.b.Br(mergeBlk)

	g.b.SetBlock(mergeBlk)
	return g.b.LoadSlot(slot, tk), tk, nil
}

// forExpr lowers a counted loop. The bound expression is evaluated
// and tested before every iteration including the first, so a loop
// whose condition starts false runs zero times. The loop itself
// evaluates to 0.
func (g *gen) forExpr(e *ForExpr) (ir.Reg, ir.Kind, error) {
	// The start expression sees the outer binding of the loop name.
	start, sk, err := g.expr(e.Start)
	if err != nil {
		return 0, 0, err
	}
	if sk != ir.F64 {
		return 0, 0, semErr("for start is %s, want a number", sk)
	}

	slot := g.b.NewSlot()
	g.b.StoreSlot(slot, start)

	old, shadowed := g.scope[e.VarName]
	g.scope[e.VarName] = binding{slot: slot, kind: ir.F64}
	defer func() {
		if shadowed {
			g.scope[e.VarName] = old
		} else {
			delete(g.scope, e.VarName)
		}
	}()

	headBlk := g.b.NewBlock("loop")
	bodyBlk := g.b.NewBlock("body")
	afterBlk := g.b.NewBlock("endfor")
	g.b.Br(headBlk)

	g.b.SetBlock(headBlk)
	cond, ck, err := g.expr(e.End)
	if err != nil {
		return 0, 0, err
	}
	if ck != ir.F64 {
		return 0, 0, semErr("for bound is %s, want a number", ck)
	}
	g.b.CondBr(cond, bodyBlk, afterBlk)

	g.b.SetBlock(bodyBlk)
	if _, _, err := g.expr(e.Body); err != nil {
		return 0, 0, err
	}
	var step ir.Reg
	if e.Step != nil {
		v, k, err := g.expr(e.Step)
		if err != nil {
			return 0, 0, err
		}
		if k != ir.F64 {
			return 0, 0, semErr("for step is %s, want a number", k)
		}
		step = v
	} else {
		step = g.b.ConstF64(1)
	}
	cur := g.b.LoadSlot(slot, ir.F64)
	g.b.StoreSlot(slot, g.b.Bin(ir.OpAdd, cur, step))
	g.b.Br(headBlk)

	g.b.SetBlock(afterBlk)
	return g.b.ConstF64(0), ir.F64, nil
}

// varExpr lowers a var block. Bindings install left to right: a later
// initializer sees an earlier binding, while each initializer sees
// the outer binding of its own name. Vector bindings allocate at
// block entry and free at block exit.
func (g *gen) varExpr(e *VarExpr) (ir.Reg, ir.Kind, error) {
	type saved struct {
		name     string
		old      binding
		shadowed bool
	}
	var (
		restores []saved
		vecSlots []int
	)
	restore := func() {
		for i := len(restores) - 1; i >= 0; i-- {
			s := restores[i]
			if s.shadowed {
				g.scope[s.name] = s.old
			} else {
				delete(g.scope, s.name)
			}
		}
	}

	for _, bind := range e.Bindings {
		var (
			val  ir.Reg
			kind ir.Kind
		)
		switch {
		case bind.Length != nil:
			n, nk, err := g.expr(bind.Length)
			if err != nil {
				restore()
				return 0, 0, err
			}
			if nk != ir.F64 {
				restore()
				return 0, 0, semErr("length of vector %s is %s, want a number", bind.Name, nk)
			}
			val = g.b.Call("vector_malloc", ir.Vec, n)
			kind = ir.Vec
		case bind.Init != nil:
			v, k, err := g.expr(bind.Init)
			if err != nil {
				restore()
				return 0, 0, err
			}
			val, kind = v, k
		default:
			val = g.b.ConstF64(0)
			kind = ir.F64
		}

		slot := g.b.NewSlot()
		g.b.StoreSlot(slot, val)
		old, shadowed := g.scope[bind.Name]
		restores = append(restores, saved{name: bind.Name, old: old, shadowed: shadowed})
		g.scope[bind.Name] = binding{slot: slot, kind: kind}
		if bind.Length != nil {
			vecSlots = append(vecSlots, slot)
		}
	}

	val, kind, err := g.expr(e.Body)
	if err != nil {
		restore()
		return 0, 0, err
	}

	// Buffers allocated by this block die with it.
	for _, slot := range vecSlots {
		g.b.Call("vector_free", ir.Void, g.b.LoadSlot(slot, ir.Vec))
	}
	restore()
	return val, kind, nil
}

func checkCallKinds(f *ir.Func, kinds []ir.Kind) error {
	if len(kinds) != len(f.Params) {
		return semErr("%s takes %d arguments, got %d", f.Name, len(f.Params), len(kinds))
	}
	for i, k := range kinds {
		if k != f.Params[i].Kind {
			return semErr("argument %d of %s is %s, want %s", i+1, f.Name, k, f.Params[i].Kind)
		}
	}
	return nil
}

func builtinOp(op string) ir.Op {
	switch op {
	case "+":
		return ir.OpAdd
	case "-":
		return ir.OpSub
	case "*":
		return ir.OpMul
	case "/":
		return ir.OpDiv
	case "<":
		return ir.OpLT
	case ">":
		return ir.OpGT
	}
	panic("compiler: no builtin operator " + op)
}

// foldConst evaluates a builtin operator over two literals. Division
// folds even when the divisor is zero, yielding the same infinity
// runtime evaluation would.
func foldConst(op string, l, r float64) (float64, bool) {
	switch op {
	case "+":
		return l + r, true
	case "-":
		return l - r, true
	case "*":
		return l * r, true
	case "/":
		return l / r, true
	case "<":
		return bool2f(l < r), true
	case ">":
		return bool2f(l > r), true
	}
	return 0, false
}

func bool2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
