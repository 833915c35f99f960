package compiler

import (
	"fmt"
	"io"
	"os"

	"kale/pkg/engine"
	"kale/pkg/errors"
	"kale/pkg/ir"
	"kale/pkg/log"
	"kale/pkg/rt"
)

// anonName wraps top-level expressions. Identifiers cannot contain
// underscores, so the name never collides with a user function.
const anonName = "__anon_expr"

// Config configures a session.
type Config struct {
	// Out receives evaluation reports. Defaults to standard error,
	// keeping them apart from program output.
	Out io.Writer
	// Lib is the runtime library backing the extern primitives.
	// Defaults to one printing on standard output.
	Lib *rt.Library
	// Runner executes map dispatches. A session without one still
	// compiles and evaluates; reaching a map reports an error.
	Runner engine.MapRunner
	Log    *log.Logger
}

// Session is one live compilation unit: an operator table, a module
// accumulating definitions, and an engine evaluating top-level
// expressions as they arrive. Operator definitions in earlier input
// change how later input parses, so source must flow through a
// session incrementally and in order. A session is not safe for
// concurrent use.
type Session struct {
	ops *OpTable
	cg  *Codegen
	mod *ir.Module
	eng *engine.Engine
	lib *rt.Library
	out io.Writer
	log *log.Logger
}

// NewSession returns a session with the builtin operators and the
// runtime primitives bound. Library functions still need an extern
// declaration before source can call them.
func NewSession(cfg Config) *Session {
	if cfg.Out == nil {
		cfg.Out = os.Stderr
	}
	if cfg.Lib == nil {
		cfg.Lib = rt.New(nil, nil)
	}
	if cfg.Log == nil {
		cfg.Log = log.Std
	}
	mod := &ir.Module{}
	ops := NewOpTable()
	s := &Session{
		ops: ops,
		cg:  NewCodegen(mod, ops),
		mod: mod,
		eng: engine.New(mod, cfg.Runner),
		lib: cfg.Lib,
		out: cfg.Out,
		log: cfg.Log,
	}
	s.bindRuntime()
	return s
}

// Module returns the module definitions accumulate in.
func (s *Session) Module() *ir.Module { return s.mod }

// Ops returns the session's live operator table, for parse probes.
func (s *Session) Ops() *OpTable { return s.ops }

// Exec compiles and evaluates every top-level form in src, in source
// order. Parse and evaluation failures are reported to the session
// log and processing resumes at the next token, so one bad form does
// not take down the rest of the input. The returned error is non-nil
// only when src ends in the middle of a form; interactive drivers
// test it with IsIncomplete and ask for a continuation line.
func (s *Session) Exec(src string) error {
	p := NewParser(Lex(src), src, s.ops)
	for !p.AtEOF() {
		if _, _, err := s.form(p); err != nil {
			if IsIncomplete(err) {
				return err
			}
			s.log.Errorf("%v", err)
			if errors.Is(errors.Syntax, err) {
				p.Skip()
			}
		}
	}
	return nil
}

// Eval runs src like Exec but stops at the first failure and returns
// the value of the last bare expression. Callers that want the result
// rather than the printed report use it.
func (s *Session) Eval(src string) (engine.Value, error) {
	p := NewParser(Lex(src), src, s.ops)
	last := engine.Void
	for !p.AtEOF() {
		val, ran, err := s.form(p)
		if err != nil {
			return engine.Void, err
		}
		if ran {
			last = val
		}
	}
	return last, nil
}

// form processes one top-level form: a definition, an extern
// declaration, a bare expression, or a lone semicolon. ran tells
// whether an expression was evaluated.
func (s *Session) form(p *Parser) (val engine.Value, ran bool, err error) {
	switch p.Peek().Type {
	case SEMICOLON:
		p.Skip()
		return engine.Void, false, nil
	case DEF:
		fn, err := p.ParseDefinition()
		if err != nil {
			return engine.Void, false, err
		}
		f, err := s.cg.GenFunction(fn)
		if err != nil {
			return engine.Void, false, err
		}
		if s.log.At(log.DebugLevel) {
			s.log.Debugf("read function definition:\n%s", f)
		}
		return engine.Void, false, nil
	case EXTERN:
		proto, err := p.ParseExtern()
		if err != nil {
			return engine.Void, false, err
		}
		f, err := s.cg.GenExtern(proto)
		if err != nil {
			return engine.Void, false, err
		}
		s.log.Debugf("read extern %s", f.Name)
		return engine.Void, false, nil
	default:
		e, err := p.ParseTopLevelExpr()
		if err != nil {
			return engine.Void, false, err
		}
		if _, err := s.cg.GenTopLevel(anonName, e); err != nil {
			return engine.Void, false, err
		}
		val, err := s.eng.Call(anonName)
		s.mod.Remove(anonName)
		if err != nil {
			return engine.Void, false, err
		}
		if err := s.report(val); err != nil {
			return engine.Void, false, err
		}
		return val, true, nil
	}
}

// report prints an evaluation result: scalars on one line, vectors in
// the runtime's vector format.
func (s *Session) report(val engine.Value) error {
	switch val.Kind {
	case ir.F64:
		fmt.Fprintf(s.out, "Evaluated to %f\n", val.F)
	case ir.Vec:
		return s.lib.PrintVector(val.Vec)
	}
	return nil
}

func extErr(name string) error {
	return errors.E(errors.Eval, errors.Errorf("%s applied to the wrong arguments; check its extern declaration", name))
}

// bindRuntime installs the host implementations of the runtime
// primitives. The allocator pair is already declared in the module;
// the library functions exist only as bindings until source declares
// them extern.
func (s *Session) bindRuntime() {
	s.eng.Bind("vector_malloc", func(args []engine.Value) (engine.Value, error) {
		v, err := rt.NewVector(int(args[0].F))
		if err != nil {
			return engine.Void, err
		}
		return engine.VecOf(v), nil
	})
	s.eng.Bind("vector_free", func(args []engine.Value) (engine.Value, error) {
		args[0].Vec.Free()
		return engine.Void, nil
	})
	s.eng.Bind("printd", func(args []engine.Value) (engine.Value, error) {
		if len(args) != 1 || args[0].Kind != ir.F64 {
			return engine.Void, extErr("printd")
		}
		return engine.F64(s.lib.Printd(args[0].F)), nil
	})
	s.eng.Bind("putchard", func(args []engine.Value) (engine.Value, error) {
		if len(args) != 1 || args[0].Kind != ir.F64 {
			return engine.Void, extErr("putchard")
		}
		return engine.F64(s.lib.Putchard(args[0].F)), nil
	})
	s.eng.Bind("printVector", func(args []engine.Value) (engine.Value, error) {
		if len(args) != 1 || args[0].Kind != ir.Vec {
			return engine.Void, extErr("printVector")
		}
		if err := s.lib.PrintVector(args[0].Vec); err != nil {
			return engine.Void, err
		}
		return engine.F64(0), nil
	})
	s.eng.Bind("randVector", func(args []engine.Value) (engine.Value, error) {
		if len(args) != 2 || args[0].Kind != ir.Vec || args[1].Kind != ir.F64 {
			return engine.Void, extErr("randVector")
		}
		if err := s.lib.RandVector(args[0].Vec, args[1].F); err != nil {
			return engine.Void, err
		}
		return engine.F64(0), nil
	})
}
