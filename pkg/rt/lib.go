package rt

import (
	"fmt"
	"io"
	"math/rand"
	"os"

	"kale/pkg/errors"
)

// Library holds the runtime's host state: where prints go and where
// randomness comes from. Both are injectable so tests can capture
// output and fix the random sequence.
type Library struct {
	Out io.Writer
	Rng *rand.Rand
}

// New returns a library printing to out and drawing randomness from
// rng. A nil out defaults to standard output; a nil rng to a fixed
// seed, matching the unseeded generator of the original runtime.
func New(out io.Writer, rng *rand.Rand) *Library {
	if out == nil {
		out = os.Stdout
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Library{Out: out, Rng: rng}
}

// Printd prints a scalar on its own line and returns 0.
func (l *Library) Printd(x float64) float64 {
	fmt.Fprintf(l.Out, "%f\n", x)
	return 0
}

// Putchard writes the character code x and returns 0.
func (l *Library) Putchard(x float64) float64 {
	fmt.Fprintf(l.Out, "%c", rune(byte(x)))
	return 0
}

// PrintVector prints each element as "%0.2f ", breaking the line
// after every tenth element, and ends with a newline.
func (l *Library) PrintVector(v *Vector) error {
	if v.Freed() {
		return errors.E("rt.printVector", errors.Eval, errors.New("use of freed vector"))
	}
	for i := 0; i < v.Len; i++ {
		fmt.Fprintf(l.Out, "%0.2f ", v.Buf[i])
		if (i+1)%10 == 0 {
			fmt.Fprintln(l.Out)
		}
	}
	fmt.Fprintln(l.Out)
	return nil
}

// RandVector fills v with uniform values in [0, max).
func (l *Library) RandVector(v *Vector, max float64) error {
	if v.Freed() {
		return errors.E("rt.randVector", errors.Eval, errors.New("use of freed vector"))
	}
	for i := 0; i < v.Len; i++ {
		v.Buf[i] = max * l.Rng.Float64()
	}
	return nil
}
