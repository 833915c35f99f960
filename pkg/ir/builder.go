package ir

// Builder appends blocks and instructions to one function under
// construction. The compiler's code generator and the kernel
// synthesizer both drive it.
type Builder struct {
	Fn  *Func
	cur int
}

// NewFunc starts a function with an empty entry block and returns a
// builder positioned there. The parameters occupy registers
// 0..len(params)-1 on entry.
func NewFunc(name string, params []Param, ret Kind) *Builder {
	fn := &Func{
		Name:   name,
		Params: params,
		Ret:    ret,
		NRegs:  len(params),
	}
	b := &Builder{Fn: fn}
	b.NewBlock("entry")
	return b
}

// NewBlock appends an empty block and returns its index. It does not
// change the insertion point.
func (b *Builder) NewBlock(name string) int {
	b.Fn.Blocks = append(b.Fn.Blocks, &Block{Name: name})
	return len(b.Fn.Blocks) - 1
}

// SetBlock moves the insertion point to block idx.
func (b *Builder) SetBlock(idx int) {
	b.cur = idx
}

// Block returns the insertion point's block index.
func (b *Builder) Block() int {
	return b.cur
}

// Terminated tells whether the current block already ends in a
// terminator.
func (b *Builder) Terminated() bool {
	blk := b.Fn.Blocks[b.cur]
	n := len(blk.Instrs)
	return n > 0 && blk.Instrs[n-1].Op.IsTerminator()
}

// NewReg allocates a fresh register.
func (b *Builder) NewReg() Reg {
	r := Reg(b.Fn.NRegs)
	b.Fn.NRegs++
	return r
}

// NewSlot allocates a fresh frame slot.
func (b *Builder) NewSlot() int {
	s := b.Fn.NSlots
	b.Fn.NSlots++
	return s
}

func (b *Builder) emit(i Instr) {
	blk := b.Fn.Blocks[b.cur]
	blk.Instrs = append(blk.Instrs, i)
}

// ConstF64 materializes an f64 immediate.
func (b *Builder) ConstF64(v float64) Reg {
	dst := b.NewReg()
	b.emit(Instr{Op: OpConstF64, Dst: dst, F: v, Kind: F64})
	return dst
}

// ConstU32 materializes a u32 immediate.
func (b *Builder) ConstU32(v uint32) Reg {
	dst := b.NewReg()
	b.emit(Instr{Op: OpConstU32, Dst: dst, UImm: v, Kind: U32})
	return dst
}

// Mov copies a register.
func (b *Builder) Mov(a Reg, kind Kind) Reg {
	dst := b.NewReg()
	b.emit(Instr{Op: OpMov, Dst: dst, A: a, Kind: kind})
	return dst
}

// Bin emits a two-operand instruction (arithmetic or comparison) and
// returns the result register.
func (b *Builder) Bin(op Op, a, rhs Reg) Reg {
	dst := b.NewReg()
	kind := F64
	switch op {
	case OpAddU32, OpMulU32, OpLtU32:
		kind = U32
	}
	b.emit(Instr{Op: op, Dst: dst, A: a, B: rhs, Kind: kind})
	return dst
}

// LoadSlot loads frame slot idx.
func (b *Builder) LoadSlot(idx int, kind Kind) Reg {
	dst := b.NewReg()
	b.emit(Instr{Op: OpLoadSlot, Dst: dst, Idx: idx, Kind: kind})
	return dst
}

// StoreSlot stores a into frame slot idx.
func (b *Builder) StoreSlot(idx int, a Reg) {
	b.emit(Instr{Op: OpStoreSlot, Idx: idx, A: a})
}

// Call emits a call to sym returning ret. For a Void callee the
// returned register is meaningless.
func (b *Builder) Call(sym string, ret Kind, args ...Reg) Reg {
	var dst Reg
	if ret != Void {
		dst = b.NewReg()
	}
	b.emit(Instr{Op: OpCall, Dst: dst, Sym: sym, Args: args, Kind: ret})
	return dst
}

// MapCall emits a map dispatch of sym over the vector args.
func (b *Builder) MapCall(sym string, args ...Reg) Reg {
	dst := b.NewReg()
	b.emit(Instr{Op: OpMap, Dst: dst, Sym: sym, Args: args, Kind: Vec})
	return dst
}

// ElemLoad loads element idx (u32) of buffer buf.
func (b *Builder) ElemLoad(buf, idx Reg) Reg {
	dst := b.NewReg()
	b.emit(Instr{Op: OpElemLoad, Dst: dst, A: buf, B: idx, Kind: F64})
	return dst
}

// ElemStore stores v (f64) to element idx (u32) of buffer buf.
func (b *Builder) ElemStore(buf, idx, v Reg) {
	b.emit(Instr{Op: OpElemStore, A: buf, B: idx, C: v})
}

// LaneID yields the lane index within the group.
func (b *Builder) LaneID() Reg {
	dst := b.NewReg()
	b.emit(Instr{Op: OpLaneID, Dst: dst, Kind: U32})
	return dst
}

// GroupID yields the group index within the launch.
func (b *Builder) GroupID() Reg {
	dst := b.NewReg()
	b.emit(Instr{Op: OpGroupID, Dst: dst, Kind: U32})
	return dst
}

// GroupSize yields the number of lanes per group.
func (b *Builder) GroupSize() Reg {
	dst := b.NewReg()
	b.emit(Instr{Op: OpGroupSize, Dst: dst, Kind: U32})
	return dst
}

// Br jumps unconditionally to block target.
func (b *Builder) Br(target int) {
	b.emit(Instr{Op: OpBr, Then: target})
}

// CondBr jumps to then when cond is nonzero, to els otherwise.
func (b *Builder) CondBr(cond Reg, then, els int) {
	b.emit(Instr{Op: OpCondBr, A: cond, Then: then, Else: els})
}

// Ret returns a.
func (b *Builder) Ret(a Reg) {
	b.emit(Instr{Op: OpRet, A: a})
}

// RetVoid returns nothing.
func (b *Builder) RetVoid() {
	b.emit(Instr{Op: OpRetVoid})
}
