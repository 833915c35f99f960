package device

import (
	"encoding/binary"
	"math"

	"kale/pkg/errors"
)

// Device binaries are little-endian: a header, a function table, an
// f64 constant pool, then the code as 32-bit words. Instructions are
// variable length; the opcode word is followed by its operand words.

// Magic identifies a kale device binary.
var Magic = [4]byte{'K', 'D', 'V', '1'}

// Version is the binary format version.
const Version uint32 = 1

// FlagKernel marks a function table entry as a launchable kernel
// entry point.
const FlagKernel uint32 = 1 << 0

// Device opcodes. The encoded operand words for each are listed
// alongside; dst/a/b/c are register numbers.
const (
	OpCONSTF uint32 = iota + 1 // dst, pool index
	OpCONSTU                   // dst, immediate
	OpMOV                      // dst, a
	OpADD                      // dst, a, b   (f64)
	OpSUB                      // dst, a, b   (f64)
	OpMUL                      // dst, a, b   (f64)
	OpDIV                      // dst, a, b   (f64)
	OpLT                       // dst, a, b   (f64, unordered-or-less, yields 1.0/0.0)
	OpGT                       // dst, a, b   (f64, unordered-or-greater, yields 1.0/0.0)
	OpADDU                     // dst, a, b   (u32, wraps)
	OpMULU                     // dst, a, b   (u32, wraps)
	OpLTU                      // dst, a, b   (u32, yields 1/0)
	OpLDSLOT                   // dst, slot
	OpSTSLOT                   // slot, a
	OpCALL                     // dst, func index, nargs, args...
	OpLDELEM                   // dst, a (buffer handle), b (u32 index)
	OpSTELEM                   // a (buffer handle), b (u32 index), c (f64)
	OpLANE                     // dst
	OpGROUP                    // dst
	OpGSIZE                    // dst
	OpBR                       // code offset
	OpCBRF                     // cond, then offset, else offset (f64 ordered nonzero)
	OpCBRU                     // cond, then offset, else offset (u32 nonzero)
	OpRET                      // a
	OpRETV                     //
)

// FuncInfo is one function table entry of a loaded binary.
type FuncInfo struct {
	Name    string
	Entry   uint32
	NParams uint32
	NRegs   uint32
	NSlots  uint32
	Kernel  bool
}

// Program is a loaded device binary.
type Program struct {
	Funcs []FuncInfo
	Pool  []float64
	Code  []uint32

	byName map[string]int
}

// Func returns the index of the function named name, or -1.
func (p *Program) Func(name string) int {
	if i, ok := p.byName[name]; ok {
		return i
	}
	return -1
}

type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) u32() uint32 {
	if r.err != nil {
		return 0
	}
	if r.off+4 > len(r.buf) {
		r.err = errors.New("truncated binary")
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *reader) u64() uint64 {
	if r.err != nil {
		return 0
	}
	if r.off+8 > len(r.buf) {
		r.err = errors.New("truncated binary")
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.err = errors.New("truncated binary")
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

// Load parses a device binary. A malformed binary is reported as a
// device runtime error: by the time a binary reaches the device it
// has already passed compilation.
func Load(bin []byte) (*Program, error) {
	r := &reader{buf: bin}
	var magic [4]byte
	copy(magic[:], r.bytes(4))
	if r.err == nil && magic != Magic {
		return nil, errors.E("device.Load", errors.DeviceRuntime, errors.New("bad magic"))
	}
	if v := r.u32(); r.err == nil && v != Version {
		return nil, errors.E("device.Load", errors.DeviceRuntime, errors.Errorf("unsupported binary version %d", v))
	}
	nfuncs := r.u32()
	npool := r.u32()
	ncode := r.u32()
	if r.err != nil {
		return nil, errors.E("device.Load", errors.DeviceRuntime, r.err)
	}
	p := &Program{byName: make(map[string]int)}
	for i := uint32(0); i < nfuncs && r.err == nil; i++ {
		nameLen := r.u32()
		name := string(r.bytes(int(nameLen)))
		fi := FuncInfo{
			Name:    name,
			Entry:   r.u32(),
			NParams: r.u32(),
			NRegs:   r.u32(),
			NSlots:  r.u32(),
		}
		fi.Kernel = r.u32()&FlagKernel != 0
		p.Funcs = append(p.Funcs, fi)
		p.byName[name] = int(i)
	}
	for i := uint32(0); i < npool && r.err == nil; i++ {
		p.Pool = append(p.Pool, math.Float64frombits(r.u64()))
	}
	for i := uint32(0); i < ncode && r.err == nil; i++ {
		p.Code = append(p.Code, r.u32())
	}
	if r.err != nil {
		return nil, errors.E("device.Load", errors.DeviceRuntime, r.err)
	}
	if r.off != len(bin) {
		return nil, errors.E("device.Load", errors.DeviceRuntime, errors.New("trailing bytes"))
	}
	return p, nil
}
