package device

import (
	"math"

	"kale/pkg/errors"
)

// lane interprets one kernel instance. Registers and slots hold raw
// 64-bit words: f64 values as their IEEE bits, u32 values in the low
// word, buffer handles as buffer-table indexes.
type lane struct {
	prog *Program
	bufs [][]float64

	gsize uint32
	gid   uint32
	lid   uint32

	maxSteps int
	maxDepth int
	steps    int
}

type frame struct {
	regs  []uint64
	slots []uint64

	retPC  int
	retDst uint32
}

func newFrame(fi FuncInfo) *frame {
	return &frame{
		regs:  make([]uint64, fi.NRegs),
		slots: make([]uint64, fi.NSlots),
	}
}

// ordered nonzero: NaN tests false, as does negative zero.
func nonzero(f float64) bool {
	return f == f && f != 0
}

// unordered comparisons: a NaN operand satisfies either direction.
func ult(a, b float64) bool { return a < b || a != a || b != b }
func ugt(a, b float64) bool { return a > b || a != a || b != b }

func b2f(b bool) uint64 {
	if b {
		return math.Float64bits(1)
	}
	return math.Float64bits(0)
}

// run executes function fnIdx to completion with the given argument
// words. Slice accesses are guarded by recover so a corrupt binary
// surfaces as an error instead of tearing down the process.
func (l *lane) run(fnIdx int, args []uint64) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.E(errors.DeviceRuntime, errors.Errorf("corrupt device binary: %v", p))
		}
	}()

	code := l.prog.Code
	fi := l.prog.Funcs[fnIdx]
	fr := newFrame(fi)
	copy(fr.regs, args)
	stack := []*frame{fr}
	pc := int(fi.Entry)

	for {
		l.steps++
		if l.steps > l.maxSteps {
			return errors.E(errors.DeviceRuntime, errors.New("kernel instruction budget exceeded"))
		}
		if pc < 0 || pc >= len(code) {
			return errors.E(errors.DeviceRuntime, errors.Errorf("pc %d out of range", pc))
		}
		switch code[pc] {
		case OpCONSTF:
			fr.regs[code[pc+1]] = math.Float64bits(l.prog.Pool[code[pc+2]])
			pc += 3
		case OpCONSTU:
			fr.regs[code[pc+1]] = uint64(code[pc+2])
			pc += 3
		case OpMOV:
			fr.regs[code[pc+1]] = fr.regs[code[pc+2]]
			pc += 3
		case OpADD:
			a, b := l.f64(fr, pc+2), l.f64(fr, pc+3)
			fr.regs[code[pc+1]] = math.Float64bits(a + b)
			pc += 4
		case OpSUB:
			a, b := l.f64(fr, pc+2), l.f64(fr, pc+3)
			fr.regs[code[pc+1]] = math.Float64bits(a - b)
			pc += 4
		case OpMUL:
			a, b := l.f64(fr, pc+2), l.f64(fr, pc+3)
			fr.regs[code[pc+1]] = math.Float64bits(a * b)
			pc += 4
		case OpDIV:
			a, b := l.f64(fr, pc+2), l.f64(fr, pc+3)
			fr.regs[code[pc+1]] = math.Float64bits(a / b)
			pc += 4
		case OpLT:
			fr.regs[code[pc+1]] = b2f(ult(l.f64(fr, pc+2), l.f64(fr, pc+3)))
			pc += 4
		case OpGT:
			fr.regs[code[pc+1]] = b2f(ugt(l.f64(fr, pc+2), l.f64(fr, pc+3)))
			pc += 4
		case OpADDU:
			fr.regs[code[pc+1]] = uint64(uint32(fr.regs[code[pc+2]]) + uint32(fr.regs[code[pc+3]]))
			pc += 4
		case OpMULU:
			fr.regs[code[pc+1]] = uint64(uint32(fr.regs[code[pc+2]]) * uint32(fr.regs[code[pc+3]]))
			pc += 4
		case OpLTU:
			if uint32(fr.regs[code[pc+2]]) < uint32(fr.regs[code[pc+3]]) {
				fr.regs[code[pc+1]] = 1
			} else {
				fr.regs[code[pc+1]] = 0
			}
			pc += 4
		case OpLDSLOT:
			fr.regs[code[pc+1]] = fr.slots[code[pc+2]]
			pc += 3
		case OpSTSLOT:
			fr.slots[code[pc+1]] = fr.regs[code[pc+2]]
			pc += 3
		case OpCALL:
			dst := code[pc+1]
			callee := l.prog.Funcs[code[pc+2]]
			nargs := int(code[pc+3])
			if len(stack) >= l.maxDepth {
				return errors.E(errors.DeviceRuntime, errors.New("kernel call stack overflow"))
			}
			nf := newFrame(callee)
			for i := 0; i < nargs; i++ {
				nf.regs[i] = fr.regs[code[pc+4+i]]
			}
			nf.retPC = pc + 4 + nargs
			nf.retDst = dst
			stack = append(stack, nf)
			fr = nf
			pc = int(callee.Entry)
		case OpLDELEM:
			buf := l.bufs[fr.regs[code[pc+2]]]
			idx := uint32(fr.regs[code[pc+3]])
			if int(idx) >= len(buf) {
				return errors.E(errors.DeviceRuntime, errors.Errorf("element load at %d exceeds buffer of %d", idx, len(buf)))
			}
			fr.regs[code[pc+1]] = math.Float64bits(buf[idx])
			pc += 4
		case OpSTELEM:
			buf := l.bufs[fr.regs[code[pc+1]]]
			idx := uint32(fr.regs[code[pc+2]])
			if int(idx) >= len(buf) {
				return errors.E(errors.DeviceRuntime, errors.Errorf("element store at %d exceeds buffer of %d", idx, len(buf)))
			}
			buf[idx] = math.Float64frombits(fr.regs[code[pc+3]])
			pc += 4
		case OpLANE:
			fr.regs[code[pc+1]] = uint64(l.lid)
			pc += 2
		case OpGROUP:
			fr.regs[code[pc+1]] = uint64(l.gid)
			pc += 2
		case OpGSIZE:
			fr.regs[code[pc+1]] = uint64(l.gsize)
			pc += 2
		case OpBR:
			pc = int(code[pc+1])
		case OpCBRF:
			if nonzero(l.f64(fr, pc+1)) {
				pc = int(code[pc+2])
			} else {
				pc = int(code[pc+3])
			}
		case OpCBRU:
			if uint32(fr.regs[code[pc+1]]) != 0 {
				pc = int(code[pc+2])
			} else {
				pc = int(code[pc+3])
			}
		case OpRET:
			val := fr.regs[code[pc+1]]
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return nil
			}
			ret := fr
			fr = stack[len(stack)-1]
			fr.regs[ret.retDst] = val
			pc = ret.retPC
		case OpRETV:
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return nil
			}
			ret := fr
			fr = stack[len(stack)-1]
			pc = ret.retPC
		default:
			return errors.E(errors.DeviceRuntime, errors.Errorf("invalid opcode %d at pc %d", code[pc], pc))
		}
	}
}

func (l *lane) f64(fr *frame, operand int) float64 {
	return math.Float64frombits(fr.regs[l.prog.Code[operand]])
}
