package ir

// Clone returns a deep copy of the module. Kernel specialization
// works on a clone so it never mutates the live program.
func (m *Module) Clone() *Module {
	c := &Module{Funcs: make([]*Func, len(m.Funcs))}
	for i, f := range m.Funcs {
		c.Funcs[i] = f.clone()
	}
	return c
}

func (f *Func) clone() *Func {
	c := &Func{
		Name:     f.Name,
		Params:   append([]Param(nil), f.Params...),
		Ret:      f.Ret,
		External: f.External,
		Kernel:   f.Kernel,
		NRegs:    f.NRegs,
		NSlots:   f.NSlots,
	}
	if f.Blocks == nil {
		return c
	}
	c.Blocks = make([]*Block, len(f.Blocks))
	for i, blk := range f.Blocks {
		nb := &Block{Name: blk.Name, Instrs: make([]Instr, len(blk.Instrs))}
		copy(nb.Instrs, blk.Instrs)
		for j := range nb.Instrs {
			if nb.Instrs[j].Args != nil {
				nb.Instrs[j].Args = append([]Reg(nil), nb.Instrs[j].Args...)
			}
		}
		c.Blocks[i] = nb
	}
	return c
}
