package ir

import "fmt"

// Prune deletes from m every function unreachable from root,
// bounding later compilation cost to the size of root's call
// closure. Reachability is computed over the call graph with an
// iterative worklist and a visited set, so mutually recursive
// (cyclic) call graphs terminate. Extern declarations survive only
// if some retained function calls them.
func Prune(m *Module, root string) error {
	if m.Func(root) == nil {
		return fmt.Errorf("prune: no function %q in module", root)
	}
	visited := map[string]bool{root: true}
	work := []string{root}
	for len(work) > 0 {
		name := work[len(work)-1]
		work = work[:len(work)-1]
		f := m.Func(name)
		if f == nil || f.External {
			continue
		}
		for _, blk := range f.Blocks {
			for _, ins := range blk.Instrs {
				switch ins.Op {
				case OpCall, OpMap:
					if !visited[ins.Sym] {
						visited[ins.Sym] = true
						work = append(work, ins.Sym)
					}
				}
			}
		}
	}
	kept := m.Funcs[:0]
	for _, f := range m.Funcs {
		if visited[f.Name] {
			kept = append(kept, f)
		}
	}
	m.Funcs = kept
	return nil
}
