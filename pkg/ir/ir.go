// Package ir defines the intermediate representation the compiler
// lowers to: a register-machine program form shared by the host
// engine and the device toolchain. A Module holds an ordered list of
// functions; each function is a list of basic blocks over a flat
// register file plus mutable frame slots. Branch targets are block
// indexes, so modules survive cloning without pointer fixups.
package ir

import "fmt"

// Kind classifies the value produced by an instruction, held in a
// slot, or passed as a parameter.
type Kind uint8

const (
	// F64 is a 64-bit floating point scalar, the language's only
	// numeric type.
	F64 Kind = iota
	// U32 is a 32-bit unsigned integer, used for element indexing.
	U32
	// Vec is a vector descriptor on the host and an element buffer
	// handle on the device.
	Vec
	// Void is the absence of a value.
	Void
)

func (k Kind) String() string {
	switch k {
	case F64:
		return "f64"
	case U32:
		return "u32"
	case Vec:
		return "vec"
	case Void:
		return "void"
	default:
		return fmt.Sprintf("kind%d", uint8(k))
	}
}

// Reg names a virtual register within one function. Registers
// 0..len(Params)-1 hold the arguments on entry.
type Reg int

// Op enumerates the instruction set.
type Op uint8

const (
	// OpConstF64 loads immediate F into Dst.
	OpConstF64 Op = iota
	// OpConstU32 loads immediate UImm into Dst.
	OpConstU32
	// OpMov copies A into Dst.
	OpMov

	// Scalar arithmetic over f64: Dst = A op B.
	OpAdd
	OpSub
	OpMul
	OpDiv
	// Scalar comparison over f64, yielding f64 1.0 or 0.0.
	OpLT
	OpGT

	// Index arithmetic over u32, wrapping at 2^32.
	OpAddU32
	OpMulU32
	// OpLtU32 yields u32 1 or 0.
	OpLtU32

	// OpLoadSlot loads frame slot Idx into Dst; OpStoreSlot stores A
	// into frame slot Idx.
	OpLoadSlot
	OpStoreSlot

	// OpCall calls function Sym with Args, result (if any) in Dst.
	// Sym may name a defined function or an extern declaration.
	OpCall
	// OpMap dispatches function Sym over the vector Args and yields
	// the result vector in Dst. Host only.
	OpMap

	// OpElemLoad loads element B (u32) of buffer A into Dst (f64);
	// OpElemStore stores C (f64) to element B of buffer A.
	OpElemLoad
	OpElemStore

	// Device execution geometry, u32 results. Host code never
	// executes these.
	OpLaneID
	OpGroupID
	OpGroupSize

	// Terminators. OpBr jumps to block Then; OpCondBr jumps to Then
	// when A is nonzero, else to Else; OpRet returns A; OpRetVoid
	// returns nothing.
	OpBr
	OpCondBr
	OpRet
	OpRetVoid

	maxOp
)

var opNames = [maxOp]string{
	OpConstF64:  "const.f64",
	OpConstU32:  "const.u32",
	OpMov:       "mov",
	OpAdd:       "add",
	OpSub:       "sub",
	OpMul:       "mul",
	OpDiv:       "div",
	OpLT:        "cmp.lt",
	OpGT:        "cmp.gt",
	OpAddU32:    "add.u32",
	OpMulU32:    "mul.u32",
	OpLtU32:     "lt.u32",
	OpLoadSlot:  "load.slot",
	OpStoreSlot: "store.slot",
	OpCall:      "call",
	OpMap:       "map",
	OpElemLoad:  "elem.load",
	OpElemStore: "elem.store",
	OpLaneID:    "lane.id",
	OpGroupID:   "group.id",
	OpGroupSize: "group.size",
	OpBr:        "br",
	OpCondBr:    "condbr",
	OpRet:       "ret",
	OpRetVoid:   "ret.void",
}

func (o Op) String() string {
	if int(o) < len(opNames) && opNames[o] != "" {
		return opNames[o]
	}
	return fmt.Sprintf("op%d", uint8(o))
}

// IsTerminator tells whether the op ends a basic block.
func (o Op) IsTerminator() bool {
	switch o {
	case OpBr, OpCondBr, OpRet, OpRetVoid:
		return true
	}
	return false
}

// Instr is one instruction. Which fields are meaningful depends on
// Op; unused fields are zero. Kind records the kind of the value
// written to Dst (Void when the instruction produces none).
type Instr struct {
	Op   Op
	Dst  Reg
	A    Reg
	B    Reg
	C    Reg
	F    float64 // OpConstF64 immediate
	UImm uint32  // OpConstU32 immediate
	Idx  int     // frame slot (OpLoadSlot/OpStoreSlot)
	Sym  string  // callee (OpCall/OpMap)
	Args []Reg   // call arguments
	Then int     // branch target block index
	Else int     // branch target block index
	Kind Kind
}

// Block is a basic block: a named run of instructions ending in a
// terminator.
type Block struct {
	Name   string
	Instrs []Instr
}

// Param is one formal parameter.
type Param struct {
	Name string
	Kind Kind
}

// Func is one function. External functions carry a prototype only
// (no blocks) and resolve at call time: on the host against the
// extern registry, never on the device. Kernel marks a device entry
// point for the device compiler.
type Func struct {
	Name     string
	Params   []Param
	Ret      Kind
	External bool
	Kernel   bool
	Blocks   []*Block
	NRegs    int
	NSlots   int
}

// Entry returns the function's entry block.
func (f *Func) Entry() *Block {
	return f.Blocks[0]
}

// Module is an ordered collection of functions (including extern
// declarations). Order is part of the module's identity: the printed
// listing, and therefore the kernel cache digest, follow it.
type Module struct {
	Funcs []*Func
}

// Func returns the function or extern declaration named name, or nil.
func (m *Module) Func(name string) *Func {
	for _, f := range m.Funcs {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Add appends f to the module. Adding a name twice is the caller's
// bug; name management (redefinition, extern completion) lives in the
// compiler session.
func (m *Module) Add(f *Func) {
	m.Funcs = append(m.Funcs, f)
}

// Remove deletes the function named name, if present.
func (m *Module) Remove(name string) {
	for i, f := range m.Funcs {
		if f.Name == name {
			m.Funcs = append(m.Funcs[:i], m.Funcs[i+1:]...)
			return
		}
	}
}

// Replace swaps the function named f.Name for f, or appends f if no
// such function exists. Used to complete an extern declaration with
// its definition.
func (m *Module) Replace(f *Func) {
	for i, old := range m.Funcs {
		if old.Name == f.Name {
			m.Funcs[i] = f
			return
		}
	}
	m.Funcs = append(m.Funcs, f)
}

// Extern returns the extern declaration named name, inserting one
// with the given signature if the module has no function of that
// name. The code generator uses it to declare runtime functions it
// emits calls to.
func (m *Module) Extern(name string, params []Param, ret Kind) *Func {
	if f := m.Func(name); f != nil {
		return f
	}
	f := &Func{Name: name, Params: params, Ret: ret, External: true}
	m.Funcs = append(m.Funcs, f)
	return f
}
