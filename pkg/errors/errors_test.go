package errors

import (
	"strings"
	"testing"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "OpAndKind",
			err:  E("compile", Semantic, New("unknown variable x")),
			want: "compile: semantic error: unknown variable x",
		},
		{
			name: "OpWithArgs",
			err:  E("dispatch", "square_kernel", DeviceRuntime, New("lane fault")),
			want: "dispatch square_kernel: device execution failed: lane fault",
		},
		{
			name: "KindOnly",
			err:  E(Syntax, New("expected an expression")),
			want: "syntax error: expected an expression",
		},
		{
			name: "Chained",
			err:  E("session", E("compile", Semantic, New("unknown variable x"))),
			want: "session: semantic error:\n\tcompile: unknown variable x",
		},
		{
			name: "DiagnosticLog",
			err:  E("devasm.Assemble", DeviceCompile, Log{"function f: map dispatch inside device code"}),
			want: "devasm.Assemble: device compilation failed:\n\tfunction f: map dispatch inside device code",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKindInheritance(t *testing.T) {
	inner := E("inner", DeviceCompile, New("boom"))
	outer := E("outer", inner)
	if !Is(DeviceCompile, outer) {
		t.Errorf("outer did not inherit DeviceCompile: %v", outer)
	}
	// The kind renders once, on the outermost error that carries it.
	if got := outer.Error(); strings.Count(got, "device compilation failed") != 1 {
		t.Errorf("kind rendered more than once: %q", got)
	}
}

func TestIs(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		err  error
		want bool
	}{
		{"Direct", Semantic, E(Semantic, New("x")), true},
		{"Chained", Eval, E("outer", E("inner", Eval, New("x"))), true},
		{"Mismatch", Syntax, E(Semantic, New("x")), false},
		{"NotAnError", Syntax, New("plain"), false},
		{"Nil", Syntax, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.kind, tt.err); got != tt.want {
				t.Errorf("Is(%v, %v) = %v, want %v", tt.kind, tt.err, got, tt.want)
			}
		})
	}
}

func TestRecoverable(t *testing.T) {
	for _, kind := range []Kind{Syntax, Semantic, Eval, Alloc, DeviceCompile, DeviceRuntime} {
		if !Recoverable(E(kind, New("x"))) {
			t.Errorf("kind %v should be recoverable", kind)
		}
	}
	if Recoverable(E("op", New("x"))) {
		t.Error("kind Other should not be recoverable")
	}
}

func TestDiagnostics(t *testing.T) {
	diags := Log{"function f: call to external sin unavailable on device", "function f: vector-typed return value not supported on device"}
	err := E("kernel.compile", E("devasm.Assemble", DeviceCompile, diags))
	got := Diagnostics(err)
	if len(got) != 2 || got[0] != diags[0] || got[1] != diags[1] {
		t.Errorf("Diagnostics = %v, want %v", got, diags)
	}
	if Diagnostics(New("plain")) != nil {
		t.Error("plain error should carry no diagnostics")
	}
	// The log also renders, one line per entry.
	for _, line := range diags {
		if !strings.Contains(err.Error(), line) {
			t.Errorf("rendered error misses diagnostic %q:\n%s", line, err)
		}
	}
}

func TestMatch(t *testing.T) {
	err := E("engine.call", Eval, New("use of freed vector"))
	if !Match(Eval, err) {
		t.Error("Match by kind failed")
	}
	if !Match(&Error{Op: "engine.call"}, err) {
		t.Error("Match by op failed")
	}
	if Match(&Error{Op: "engine.map"}, err) {
		t.Error("Match accepted the wrong op")
	}
}
