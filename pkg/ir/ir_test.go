package ir

import (
	"reflect"
	"strings"
	"testing"
)

func names(m *Module) []string {
	out := make([]string, len(m.Funcs))
	for i, f := range m.Funcs {
		out[i] = f.Name
	}
	return out
}

func TestListing(t *testing.T) {
	b := NewFunc("square", []Param{{Name: "x", Kind: F64}}, F64)
	v := b.Bin(OpMul, 0, 0)
	b.Ret(v)

	m := &Module{}
	m.Add(&Func{Name: "printd", Params: []Param{{Name: "x", Kind: F64}}, Ret: F64, External: true})
	m.Add(b.Fn)

	want := strings.Join([]string{
		"extern printd(x f64) f64",
		"",
		"func square(x f64) f64 { regs=2 slots=0",
		"b0: ; entry",
		"  %1 = mul %0, %0",
		"  ret %1",
		"}",
		"",
	}, "\n")
	if got := m.String(); got != want {
		t.Errorf("listing mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestInstrString(t *testing.T) {
	tests := []struct {
		name string
		ins  Instr
		want string
	}{
		{"ConstF64", Instr{Op: OpConstF64, Dst: 3, F: 2.5}, "%3 = const.f64 2.5"},
		{"ConstU32", Instr{Op: OpConstU32, Dst: 1, UImm: 7}, "%1 = const.u32 7"},
		{"LoadSlot", Instr{Op: OpLoadSlot, Dst: 2, Idx: 1}, "%2 = load.slot 1"},
		{"StoreSlot", Instr{Op: OpStoreSlot, Idx: 0, A: 4}, "store.slot 0, %4"},
		{"Call", Instr{Op: OpCall, Dst: 5, Sym: "fib", Args: []Reg{2}, Kind: F64}, "%5 = call fib(%2)"},
		{"CallVoid", Instr{Op: OpCall, Sym: "vector_free", Args: []Reg{1}, Kind: Void}, "call vector_free(%1)"},
		{"Map", Instr{Op: OpMap, Dst: 6, Sym: "square", Args: []Reg{1, 2}, Kind: Vec}, "%6 = map square(%1, %2)"},
		{"ElemLoad", Instr{Op: OpElemLoad, Dst: 4, A: 1, B: 3}, "%4 = elem.load %1[%3]"},
		{"ElemStore", Instr{Op: OpElemStore, A: 1, B: 3, C: 5}, "elem.store %1[%3], %5"},
		{"LaneID", Instr{Op: OpLaneID, Dst: 2}, "%2 = lane.id"},
		{"Br", Instr{Op: OpBr, Then: 2}, "br b2"},
		{"CondBr", Instr{Op: OpCondBr, A: 1, Then: 2, Else: 3}, "condbr %1, b2, b3"},
		{"RetVoid", Instr{Op: OpRetVoid}, "ret.void"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ins.String(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuilderRegisters(t *testing.T) {
	b := NewFunc("f", []Param{{Name: "a", Kind: F64}, {Name: "b", Kind: F64}}, F64)
	// Parameters occupy the first registers; everything after is fresh.
	r := b.ConstF64(1)
	if r != 2 {
		t.Fatalf("first fresh register = %%%d, want %%2", r)
	}
	s := b.Bin(OpAdd, 0, r)
	if s != 3 {
		t.Fatalf("second fresh register = %%%d, want %%3", s)
	}
	b.Ret(s)
	if b.Fn.NRegs != 4 {
		t.Errorf("NRegs = %d, want 4", b.Fn.NRegs)
	}
	if !b.Terminated() {
		t.Error("block with ret not reported terminated")
	}
}

func TestCloneIndependence(t *testing.T) {
	b := NewFunc("f", []Param{{Name: "x", Kind: F64}}, F64)
	c := b.ConstF64(10)
	v := b.Call("g", F64, 0, c)
	b.Ret(v)
	m := &Module{Funcs: []*Func{b.Fn}}

	clone := m.Clone()
	cf := clone.Funcs[0]
	cf.Name = "f_kernel"
	cf.Kernel = true
	cf.Params[0].Name = "renamed"
	cf.Blocks[0].Instrs[0].F = 99
	cf.Blocks[0].Instrs[1].Args[0] = 42
	cf.Blocks = append(cf.Blocks, &Block{Name: "extra"})

	orig := m.Funcs[0]
	if orig.Name != "f" || orig.Kernel {
		t.Errorf("clone mutation leaked into function header: %+v", orig)
	}
	if orig.Params[0].Name != "x" {
		t.Errorf("clone mutation leaked into params: %+v", orig.Params)
	}
	if got := orig.Blocks[0].Instrs[0].F; got != 10 {
		t.Errorf("clone mutation leaked into instruction: F = %v, want 10", got)
	}
	if got := orig.Blocks[0].Instrs[1].Args[0]; got != 0 {
		t.Errorf("clone mutation leaked into call args: %v", orig.Blocks[0].Instrs[1].Args)
	}
	if len(orig.Blocks) != 1 {
		t.Errorf("clone mutation leaked into block list: %d blocks", len(orig.Blocks))
	}
}

func TestCloneExtern(t *testing.T) {
	m := &Module{}
	m.Extern("sin", []Param{{Name: "x", Kind: F64}}, F64)
	clone := m.Clone()
	f := clone.Funcs[0]
	if !f.External || f.Blocks != nil {
		t.Errorf("cloned extern = %+v, want bodyless external", f)
	}
}

// leaf builds a function that calls each callee once and returns 0.
func leaf(name string, callees ...string) *Func {
	b := NewFunc(name, nil, F64)
	for _, c := range callees {
		b.Call(c, F64)
	}
	b.Ret(b.ConstF64(0))
	return b.Fn
}

func TestPrune(t *testing.T) {
	tests := []struct {
		name  string
		funcs []*Func
		root  string
		want  []string
	}{
		{
			name:  "CallChain",
			funcs: []*Func{leaf("main", "helper"), leaf("helper", "inner"), leaf("inner"), leaf("dead")},
			root:  "main",
			want:  []string{"main", "helper", "inner"},
		},
		{
			name:  "MutualRecursion",
			funcs: []*Func{leaf("even", "odd"), leaf("odd", "even")},
			root:  "even",
			want:  []string{"even", "odd"},
		},
		{
			name: "ExternKeptOnlyWhenCalled",
			funcs: []*Func{
				{Name: "sin", Params: []Param{{Name: "x", Kind: F64}}, Ret: F64, External: true},
				{Name: "cos", Params: []Param{{Name: "x", Kind: F64}}, Ret: F64, External: true},
				leaf("f", "sin"),
			},
			root: "f",
			want: []string{"sin", "f"},
		},
		{
			name:  "SelfRecursion",
			funcs: []*Func{leaf("fib", "fib"), leaf("dead", "fib")},
			root:  "fib",
			want:  []string{"fib"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Module{Funcs: tt.funcs}
			if err := Prune(m, tt.root); err != nil {
				t.Fatalf("Prune: %v", err)
			}
			if got := names(m); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("kept %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPruneMapCallee(t *testing.T) {
	b := NewFunc("driver", []Param{{Name: "v", Kind: Vec}}, Vec)
	v := b.MapCall("square", 0)
	b.Ret(v)
	m := &Module{Funcs: []*Func{b.Fn, leaf("square"), leaf("dead")}}
	if err := Prune(m, "driver"); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	want := []string{"driver", "square"}
	if got := names(m); !reflect.DeepEqual(got, want) {
		t.Errorf("kept %v, want %v", got, want)
	}
}

func TestPruneUnknownRoot(t *testing.T) {
	m := &Module{Funcs: []*Func{leaf("f")}}
	if err := Prune(m, "nope"); err == nil {
		t.Fatal("Prune accepted an unknown root")
	}
}

func TestModuleReplace(t *testing.T) {
	m := &Module{}
	m.Extern("f", []Param{{Name: "x", Kind: F64}}, F64)
	m.Add(leaf("g"))

	def := leaf("f")
	m.Replace(def)
	if got := m.Func("f"); got != def {
		t.Error("Replace did not swap the extern for its definition")
	}
	if got := names(m); !reflect.DeepEqual(got, []string{"f", "g"}) {
		t.Errorf("Replace reordered the module: %v", got)
	}

	m.Remove("g")
	if m.Func("g") != nil {
		t.Error("Remove left the function behind")
	}
}
