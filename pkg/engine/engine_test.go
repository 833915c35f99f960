package engine

import (
	"math"
	"strings"
	"testing"

	"kale/pkg/errors"
	"kale/pkg/ir"
	"kale/pkg/rt"
)

func binModule(op ir.Op) *ir.Module {
	b := ir.NewFunc("f", []ir.Param{{Name: "a", Kind: ir.F64}, {Name: "b", Kind: ir.F64}}, ir.F64)
	b.Ret(b.Bin(op, 0, 1))
	return &ir.Module{Funcs: []*ir.Func{b.Fn}}
}

func TestArith(t *testing.T) {
	tests := []struct {
		name string
		op   ir.Op
		a, b float64
		want float64
	}{
		{"Add", ir.OpAdd, 2, 3, 5},
		{"Sub", ir.OpSub, 2, 3, -1},
		{"Mul", ir.OpMul, 2, 3, 6},
		{"Div", ir.OpDiv, 3, 2, 1.5},
		{"LTTrue", ir.OpLT, 1, 2, 1},
		{"LTFalse", ir.OpLT, 2, 1, 0},
		{"LTEqual", ir.OpLT, 2, 2, 0},
		{"GTTrue", ir.OpGT, 2, 1, 1},
		{"GTFalse", ir.OpGT, 1, 2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(binModule(tt.op), nil)
			got, err := e.Call("f", F64(tt.a), F64(tt.b))
			if err != nil {
				t.Fatalf("Call: %v", err)
			}
			if got.Kind != ir.F64 || got.F != tt.want {
				t.Errorf("got %v, want %v", got.F, tt.want)
			}
		})
	}
}

func TestDivByZero(t *testing.T) {
	e := New(binModule(ir.OpDiv), nil)
	got, err := e.Call("f", F64(1), F64(0))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !math.IsInf(got.F, 1) {
		t.Errorf("1/0 = %v, want +Inf", got.F)
	}
}

// Comparisons are unordered: a NaN operand satisfies either direction.
func TestUnorderedCompare(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		name string
		op   ir.Op
		a, b float64
		want float64
	}{
		{"NaNLeftLT", ir.OpLT, nan, 1, 1},
		{"NaNRightLT", ir.OpLT, 1, nan, 1},
		{"NaNLeftGT", ir.OpGT, nan, 1, 1},
		{"NaNRightGT", ir.OpGT, 1, nan, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(binModule(tt.op), nil)
			got, err := e.Call("f", F64(tt.a), F64(tt.b))
			if err != nil {
				t.Fatalf("Call: %v", err)
			}
			if got.F != tt.want {
				t.Errorf("got %v, want %v", got.F, tt.want)
			}
		})
	}
}

// sel(c) branches on c and returns 1 from the then arm, 2 from the
// else arm.
func selModule() *ir.Module {
	b := ir.NewFunc("sel", []ir.Param{{Name: "c", Kind: ir.F64}}, ir.F64)
	then := b.NewBlock("then")
	els := b.NewBlock("else")
	b.CondBr(0, then, els)
	b.SetBlock(then)
	b.Ret(b.ConstF64(1))
	b.SetBlock(els)
	b.Ret(b.ConstF64(2))
	return &ir.Module{Funcs: []*ir.Func{b.Fn}}
}

func TestCondTruthiness(t *testing.T) {
	tests := []struct {
		name string
		cond float64
		want float64
	}{
		{"Positive", 3, 1},
		{"Negative", -1, 1},
		{"Zero", 0, 2},
		{"NegativeZero", math.Copysign(0, -1), 2},
		{"NaN", math.NaN(), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(selModule(), nil)
			got, err := e.Call("sel", F64(tt.cond))
			if err != nil {
				t.Fatalf("Call: %v", err)
			}
			if got.F != tt.want {
				t.Errorf("sel(%v) = %v, want %v", tt.cond, got.F, tt.want)
			}
		})
	}
}

// sum(n) adds 1..n with a slot-backed loop, exercising block chaining
// and the mutable frame.
func sumModule() *ir.Module {
	b := ir.NewFunc("sum", []ir.Param{{Name: "n", Kind: ir.F64}}, ir.F64)
	acc := b.NewSlot()
	i := b.NewSlot()
	head := b.NewBlock("head")
	body := b.NewBlock("body")
	exit := b.NewBlock("exit")

	b.StoreSlot(acc, b.ConstF64(0))
	b.StoreSlot(i, b.ConstF64(1))
	limit := b.Bin(ir.OpAdd, 0, b.ConstF64(1))
	b.Br(head)

	b.SetBlock(head)
	cond := b.Bin(ir.OpLT, b.LoadSlot(i, ir.F64), limit)
	b.CondBr(cond, body, exit)

	b.SetBlock(body)
	iv := b.LoadSlot(i, ir.F64)
	b.StoreSlot(acc, b.Bin(ir.OpAdd, b.LoadSlot(acc, ir.F64), iv))
	b.StoreSlot(i, b.Bin(ir.OpAdd, iv, b.ConstF64(1)))
	b.Br(head)

	b.SetBlock(exit)
	b.Ret(b.LoadSlot(acc, ir.F64))
	return &ir.Module{Funcs: []*ir.Func{b.Fn}}
}

func TestLoopSum(t *testing.T) {
	e := New(sumModule(), nil)
	tests := []struct {
		n, want float64
	}{
		{0, 0},
		{1, 1},
		{10, 55},
		{100, 5050},
	}
	for _, tt := range tests {
		got, err := e.Call("sum", F64(tt.n))
		if err != nil {
			t.Fatalf("sum(%v): %v", tt.n, err)
		}
		if got.F != tt.want {
			t.Errorf("sum(%v) = %v, want %v", tt.n, got.F, tt.want)
		}
	}
}

func TestRecursionDepth(t *testing.T) {
	b := ir.NewFunc("loop", []ir.Param{{Name: "x", Kind: ir.F64}}, ir.F64)
	b.Ret(b.Call("loop", ir.F64, 0))
	e := New(&ir.Module{Funcs: []*ir.Func{b.Fn}}, nil)

	_, err := e.Call("loop", F64(0))
	if !errors.Is(errors.Eval, err) {
		t.Fatalf("got %v, want an evaluation error", err)
	}
	if !strings.Contains(err.Error(), "call depth exceeds") {
		t.Errorf("unexpected message: %v", err)
	}
}

// Calling a function in a pruned clone produces the same values as
// calling it in the full module.
func TestPrunedEquivalence(t *testing.T) {
	twice := ir.NewFunc("twice", []ir.Param{{Name: "x", Kind: ir.F64}}, ir.F64)
	twice.Ret(twice.Bin(ir.OpAdd, 0, 0))
	b := ir.NewFunc("addtwice", []ir.Param{{Name: "a", Kind: ir.F64}, {Name: "b", Kind: ir.F64}}, ir.F64)
	d := b.Call("twice", ir.F64, 0)
	b.Ret(b.Bin(ir.OpAdd, d, 1))
	dead := ir.NewFunc("dead", []ir.Param{{Name: "x", Kind: ir.F64}}, ir.F64)
	dead.Ret(dead.Bin(ir.OpMul, 0, 0))
	m := &ir.Module{Funcs: []*ir.Func{twice.Fn, b.Fn, dead.Fn}}

	clone := m.Clone()
	if err := ir.Prune(clone, "addtwice"); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if clone.Func("dead") != nil {
		t.Fatal("prune kept an unreachable function")
	}

	full := New(m, nil)
	pruned := New(clone, nil)
	for _, in := range [][2]float64{{1, 2}, {-3, 0.5}, {0, 0}} {
		want, err := full.Call("addtwice", F64(in[0]), F64(in[1]))
		if err != nil {
			t.Fatalf("full addtwice(%v, %v): %v", in[0], in[1], err)
		}
		got, err := pruned.Call("addtwice", F64(in[0]), F64(in[1]))
		if err != nil {
			t.Fatalf("pruned addtwice(%v, %v): %v", in[0], in[1], err)
		}
		if got.F != want.F {
			t.Errorf("addtwice(%v, %v) = %v pruned, %v full", in[0], in[1], got.F, want.F)
		}
	}
}

func TestExternBind(t *testing.T) {
	m := &ir.Module{}
	m.Extern("sin", []ir.Param{{Name: "x", Kind: ir.F64}}, ir.F64)
	b := ir.NewFunc("caller", []ir.Param{{Name: "x", Kind: ir.F64}}, ir.F64)
	b.Ret(b.Call("sin", ir.F64, 0))
	m.Add(b.Fn)

	e := New(m, nil)
	_, err := e.Call("caller", F64(1))
	if !errors.Is(errors.Semantic, err) || !strings.Contains(err.Error(), "not bound") {
		t.Fatalf("unbound extern: got %v", err)
	}

	var seen float64
	e.Bind("sin", func(args []Value) (Value, error) {
		seen = args[0].F
		return F64(math.Sin(args[0].F)), nil
	})
	got, err := e.Call("caller", F64(2))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if seen != 2 {
		t.Errorf("extern saw %v, want 2", seen)
	}
	if got.F != math.Sin(2) {
		t.Errorf("got %v, want %v", got.F, math.Sin(2))
	}
}

func TestUnknownFunction(t *testing.T) {
	e := New(&ir.Module{}, nil)
	_, err := e.Call("nope")
	if !errors.Is(errors.Semantic, err) {
		t.Fatalf("got %v, want a semantic error", err)
	}
}

func TestArityMismatch(t *testing.T) {
	e := New(binModule(ir.OpAdd), nil)
	_, err := e.Call("f", F64(1))
	if !errors.Is(errors.Semantic, err) {
		t.Fatalf("got %v, want a semantic error", err)
	}
	if !strings.Contains(err.Error(), "called with 1 arguments, want 2") {
		t.Errorf("unexpected message: %v", err)
	}
}

// first(v) loads element 0 of its vector argument.
func firstModule() *ir.Module {
	b := ir.NewFunc("first", []ir.Param{{Name: "v", Kind: ir.Vec}}, ir.F64)
	b.Ret(b.ElemLoad(0, b.ConstU32(0)))
	return &ir.Module{Funcs: []*ir.Func{b.Fn}}
}

func TestElemLoad(t *testing.T) {
	v, err := rt.NewVector(3)
	if err != nil {
		t.Fatal(err)
	}
	v.Buf[0] = 7.5
	e := New(firstModule(), nil)
	got, err := e.Call("first", VecOf(v))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got.F != 7.5 {
		t.Errorf("got %v, want 7.5", got.F)
	}

	v.Free()
	_, err = e.Call("first", VecOf(v))
	if !errors.Is(errors.Eval, err) || !strings.Contains(err.Error(), "use of freed vector") {
		t.Errorf("freed load: got %v", err)
	}
}

func TestElemLoadOutOfRange(t *testing.T) {
	b := ir.NewFunc("fifth", []ir.Param{{Name: "v", Kind: ir.Vec}}, ir.F64)
	b.Ret(b.ElemLoad(0, b.ConstU32(5)))
	e := New(&ir.Module{Funcs: []*ir.Func{b.Fn}}, nil)

	v, err := rt.NewVector(2)
	if err != nil {
		t.Fatal(err)
	}
	_, err = e.Call("fifth", VecOf(v))
	if !errors.Is(errors.Eval, err) {
		t.Fatalf("got %v, want an evaluation error", err)
	}
	if !strings.Contains(err.Error(), "element 5 exceeds vector of 2") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestLaneIntrinsicOnHost(t *testing.T) {
	b := ir.NewFunc("f", nil, ir.F64)
	b.LaneID()
	b.Ret(b.ConstF64(0))
	e := New(&ir.Module{Funcs: []*ir.Func{b.Fn}}, nil)
	_, err := e.Call("f")
	if !errors.Is(errors.Eval, err) || !strings.Contains(err.Error(), "executed on host") {
		t.Errorf("got %v, want a host-execution error", err)
	}
}

type fakeRunner struct {
	callee string
	args   []*rt.Vector
	out    *rt.Vector
	err    error
}

func (f *fakeRunner) Run(m *ir.Module, callee string, args []*rt.Vector) (*rt.Vector, error) {
	f.callee = callee
	f.args = args
	return f.out, f.err
}

func mapModule() *ir.Module {
	b := ir.NewFunc("driver", []ir.Param{{Name: "v", Kind: ir.Vec}}, ir.Vec)
	b.Ret(b.MapCall("square", 0))
	return &ir.Module{Funcs: []*ir.Func{b.Fn}}
}

func TestMapDispatch(t *testing.T) {
	in, err := rt.NewVector(4)
	if err != nil {
		t.Fatal(err)
	}
	out, err := rt.NewVector(4)
	if err != nil {
		t.Fatal(err)
	}
	runner := &fakeRunner{out: out}
	e := New(mapModule(), runner)

	got, err := e.Call("driver", VecOf(in))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if runner.callee != "square" {
		t.Errorf("runner saw callee %q, want %q", runner.callee, "square")
	}
	if len(runner.args) != 1 || runner.args[0] != in {
		t.Errorf("runner saw args %v, want the input vector", runner.args)
	}
	if got.Kind != ir.Vec || got.Vec != out {
		t.Errorf("got %+v, want the runner's result vector", got)
	}
}

func TestMapWithoutRunner(t *testing.T) {
	in, err := rt.NewVector(1)
	if err != nil {
		t.Fatal(err)
	}
	e := New(mapModule(), nil)
	_, err = e.Call("driver", VecOf(in))
	if !errors.Is(errors.Semantic, err) || !strings.Contains(err.Error(), "no map runner") {
		t.Errorf("got %v, want a missing-runner error", err)
	}
}
