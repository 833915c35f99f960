// Package kernel turns scalar functions into data-parallel device
// kernels. A map dispatch clones the live program, prunes the clone
// to the mapped function's call closure, synthesizes a kernel entry
// point around it, assembles the result for the device, and launches
// it over the argument vectors. Compiled binaries are cached by
// content digest for the life of the process.
package kernel

import (
	"crypto"
	_ "crypto/sha256"
	"io"
	"math"
	"sync"

	"github.com/grailbio/base/digest"

	"kale/pkg/devasm"
	"kale/pkg/device"
	"kale/pkg/errors"
	"kale/pkg/ir"
	"kale/pkg/log"
	"kale/pkg/rt"
)

// Digester computes kernel cache keys.
var Digester = digest.Digester(crypto.SHA256)

// Dispatcher compiles map targets to device binaries and launches
// them through a device executor. It implements engine.MapRunner.
// Cache keys cover every function in the mapped closure, so
// redefining any of them recompiles on the next dispatch while an
// unchanged program hits cache.
type Dispatcher struct {
	exec device.Executor
	log  *log.Logger

	// launch admits one dispatch at a time: the executor owns a
	// single device context shared across the process.
	launch sync.Mutex

	mu       sync.Mutex
	cache    map[digest.Digest][]byte
	compiles int
}

// New returns a dispatcher launching on exec.
func New(exec device.Executor, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Std
	}
	return &Dispatcher{
		exec:  exec,
		log:   logger,
		cache: make(map[digest.Digest][]byte),
	}
}

// Compiles reports how many device compilations the dispatcher has
// performed, not counting cache hits.
func (d *Dispatcher) Compiles() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.compiles
}

// Run applies function callee of module m elementwise across args,
// returning a fresh vector of the common argument length. The caller
// retains ownership of the argument vectors.
func (d *Dispatcher) Run(m *ir.Module, callee string, args []*rt.Vector) (*rt.Vector, error) {
	f := m.Func(callee)
	if f == nil {
		return nil, errors.E("kernel.Run", errors.Semantic, errors.Errorf("unknown function %s", callee))
	}
	if len(f.Params) == 0 {
		return nil, errors.E("kernel.Run", errors.Semantic, errors.Errorf("map target %s takes no parameters", callee))
	}
	if len(args) != len(f.Params) {
		return nil, errors.E("kernel.Run", errors.Semantic, errors.Errorf("map %s over %d vectors, want %d", callee, len(args), len(f.Params)))
	}
	n := args[0].Len
	for _, a := range args {
		if a.Freed() {
			return nil, errors.E("kernel.Run", errors.Eval, errors.New("use of freed vector"))
		}
		if a.Len != n {
			return nil, errors.E("kernel.Run", errors.Eval, errors.Errorf("map %s over vectors of mismatched lengths %d and %d", callee, n, a.Len))
		}
	}
	if uint64(n) > math.MaxUint32 {
		return nil, errors.E("kernel.Run", errors.Eval, errors.Errorf("vector of %d elements exceeds launch limit", n))
	}
	if n == 0 {
		return rt.NewVector(0)
	}

	clone := m.Clone()
	total := len(clone.Funcs)
	if err := ir.Prune(clone, callee); err != nil {
		return nil, err
	}
	d.log.Debugf("pruned %s closure to %d of %d functions", callee, len(clone.Funcs), total)
	kname, err := Synthesize(clone, callee)
	if err != nil {
		return nil, err
	}
	bin, err := d.compile(clone, kname)
	if err != nil {
		return nil, err
	}

	out, err := rt.NewVector(n)
	if err != nil {
		return nil, err
	}
	inputs := make([][]float64, len(args))
	for i, a := range args {
		inputs[i] = a.Buf[:a.Len]
	}
	d.log.Debugf("map %s over %d elements", callee, n)
	d.launch.Lock()
	err = d.exec.Dispatch(bin, kname, uint32(n), inputs, out.Buf)
	d.launch.Unlock()
	if err != nil {
		out.Free()
		return nil, err
	}
	return out, nil
}

// compile assembles the specialized module, consulting the cache
// first. The key digests the module's printed listing; the
// synthesized kernel is part of the module by the time it is
// digested, so the key also covers the wrapper and its name.
func (d *Dispatcher) compile(m *ir.Module, kname string) ([]byte, error) {
	w := Digester.NewWriter()
	io.WriteString(w, m.String())
	key := w.Digest()

	d.mu.Lock()
	bin, ok := d.cache[key]
	d.mu.Unlock()
	if ok {
		d.log.Debugf("kernel %s hits cache (%s)", kname, key.Short())
		return bin, nil
	}

	bin, err := devasm.Assemble(m)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.cache[key] = bin
	d.compiles++
	d.mu.Unlock()
	d.log.Debugf("compiled kernel %s, %d bytes (%s)", kname, len(bin), key.Short())
	return bin, nil
}
