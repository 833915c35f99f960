// Package device provides the accelerator execution service: it owns
// device memory and launch mechanics below the dispatch boundary.
// The only backend is a virtual accelerator that interprets kale
// device binaries on the host, but the Executor interface is what
// the rest of the system programs against.
package device

import (
	"kale/pkg/errors"
	"kale/pkg/log"
)

// Executor runs compiled kernels. Dispatch is synchronous: it
// performs device allocation, host-to-device copies of each input,
// a launch whose group geometry covers at least n elements,
// device-to-host copy-back of the output, and release of all device
// allocations, in that order, before returning. Implementations
// hold a single device context: concurrent calls serialize.
type Executor interface {
	Dispatch(bin []byte, kernel string, n uint32, inputs [][]float64, out []float64) error
}

// Config selects and parameterizes a backend.
type Config struct {
	// Backend names the execution backend. The empty string selects
	// "sim", the virtual accelerator.
	Backend string
	// GroupSize is the number of lanes per group. Defaults to 128.
	GroupSize int
	// MaxDepth bounds a lane's call stack. Defaults to 256 frames.
	MaxDepth int
	// MaxSteps bounds the instructions one lane may execute,
	// terminating runaway kernels. Defaults to 1<<22.
	MaxSteps int
	// Log receives launch diagnostics at debug level.
	Log *log.Logger
}

// DefaultGroupSize is the launch group width used when Config leaves
// GroupSize zero. It matches the thread-block size the language's
// kernels were originally tuned for.
const DefaultGroupSize = 128

func (c *Config) fill() {
	if c.GroupSize <= 0 {
		c.GroupSize = DefaultGroupSize
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = 256
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = 1 << 22
	}
}

// Open returns the executor named by cfg.Backend. An unknown backend
// is an initialization failure: the caller is expected to exit
// nonzero rather than continue without a device.
func Open(cfg Config) (Executor, error) {
	cfg.fill()
	switch cfg.Backend {
	case "", "sim":
		return newSim(cfg), nil
	default:
		return nil, errors.E("device.Open", errors.Errorf("unknown device backend %q", cfg.Backend))
	}
}
