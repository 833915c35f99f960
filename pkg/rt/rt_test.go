package rt

import (
	"bytes"
	"math/rand"
	"testing"

	"kale/pkg/errors"
)

func TestNewVector(t *testing.T) {
	v, err := NewVector(5)
	if err != nil {
		t.Fatalf("NewVector(5): %v", err)
	}
	if v.Len != 5 || len(v.Buf) != 5 {
		t.Errorf("got Len=%d len(Buf)=%d, want 5 and 5", v.Len, len(v.Buf))
	}
	if v.Freed() {
		t.Error("fresh vector reports freed")
	}
}

func TestNewVectorNegative(t *testing.T) {
	_, err := NewVector(-1)
	if err == nil {
		t.Fatal("NewVector(-1) succeeded")
	}
	if !errors.Is(errors.Alloc, err) {
		t.Errorf("got %v, want an allocation failure", err)
	}
}

func TestFree(t *testing.T) {
	v, err := NewVector(3)
	if err != nil {
		t.Fatal(err)
	}
	v.Free()
	if !v.Freed() || v.Len != 0 {
		t.Errorf("after Free: Freed=%v Len=%d", v.Freed(), v.Len)
	}
	v.Free() // double free is a no-op
	var nilv *Vector
	nilv.Free()
	if !nilv.Freed() {
		t.Error("nil vector should report freed")
	}
}

func TestZeroLengthDistinguishable(t *testing.T) {
	v, err := NewVector(0)
	if err != nil {
		t.Fatal(err)
	}
	if v.Freed() {
		t.Error("live zero-length vector reports freed")
	}
	v.Free()
	if !v.Freed() {
		t.Error("freed zero-length vector reports live")
	}
}

func TestPrintd(t *testing.T) {
	var buf bytes.Buffer
	lib := New(&buf, nil)
	if got := lib.Printd(3.5); got != 0 {
		t.Errorf("Printd returned %v, want 0", got)
	}
	if got, want := buf.String(), "3.500000\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestPutchard(t *testing.T) {
	var buf bytes.Buffer
	lib := New(&buf, nil)
	lib.Putchard(72)
	lib.Putchard(105)
	lib.Putchard(10)
	if got, want := buf.String(), "Hi\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestPrintVector(t *testing.T) {
	tests := []struct {
		name string
		n    int
		want string
	}{
		{"Empty", 0, "\n"},
		{"Short", 3, "0.00 1.00 2.00 \n"},
		{"FullRow", 10, "0.00 1.00 2.00 3.00 4.00 5.00 6.00 7.00 8.00 9.00 \n\n"},
		{"Wrapped", 12, "0.00 1.00 2.00 3.00 4.00 5.00 6.00 7.00 8.00 9.00 \n10.00 11.00 \n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := NewVector(tt.n)
			if err != nil {
				t.Fatal(err)
			}
			for i := 0; i < tt.n; i++ {
				v.Buf[i] = float64(i)
			}
			var buf bytes.Buffer
			lib := New(&buf, nil)
			if err := lib.PrintVector(v); err != nil {
				t.Fatalf("PrintVector: %v", err)
			}
			if got := buf.String(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrintVectorFreed(t *testing.T) {
	v, err := NewVector(3)
	if err != nil {
		t.Fatal(err)
	}
	v.Free()
	lib := New(nil, nil)
	if err := lib.PrintVector(v); !errors.Is(errors.Eval, err) {
		t.Errorf("got %v, want an evaluation error", err)
	}
}

func TestRandVector(t *testing.T) {
	v, err := NewVector(100)
	if err != nil {
		t.Fatal(err)
	}
	lib := New(nil, rand.New(rand.NewSource(42)))
	if err := lib.RandVector(v, 10); err != nil {
		t.Fatalf("RandVector: %v", err)
	}
	var nonzero bool
	for i, x := range v.Buf {
		if x < 0 || x >= 10 {
			t.Fatalf("element %d = %v, want in [0, 10)", i, x)
		}
		if x != 0 {
			nonzero = true
		}
	}
	if !nonzero {
		t.Error("RandVector left the vector all zero")
	}

	v.Free()
	if err := lib.RandVector(v, 10); !errors.Is(errors.Eval, err) {
		t.Errorf("got %v, want an evaluation error", err)
	}
}
