package device

import (
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"kale/pkg/errors"
	"kale/pkg/log"
)

// sim is the virtual accelerator: it interprets device binaries on
// the host with the same memory and launch contract a hardware
// backend would honor. Device memory is simulated by copying inputs
// into buffers the lanes alone touch, so a kernel can never alias
// host memory it was not handed.
type sim struct {
	groupSize int
	maxDepth  int
	maxSteps  int
	log       *log.Logger

	mu sync.Mutex // the single device context
}

func newSim(cfg Config) *sim {
	return &sim{
		groupSize: cfg.GroupSize,
		maxDepth:  cfg.MaxDepth,
		maxSteps:  cfg.MaxSteps,
		log:       cfg.Log,
	}
}

// Dispatch implements Executor. Kernel parameters are marshaled in
// launch order: the element count, one buffer handle per input, and
// the output buffer handle. Groups run concurrently; lanes within a
// group run in sequence, which is indistinguishable to kernels that
// cannot communicate across lanes.
func (s *sim) Dispatch(bin []byte, kernel string, n uint32, inputs [][]float64, out []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prog, err := Load(bin)
	if err != nil {
		return err
	}
	fi := prog.Func(kernel)
	if fi < 0 {
		return errors.E("device.Dispatch", errors.DeviceRuntime, errors.Errorf("no function %q in binary", kernel))
	}
	kf := prog.Funcs[fi]
	if !kf.Kernel {
		return errors.E("device.Dispatch", errors.DeviceRuntime, errors.Errorf("%q is not a kernel entry point", kernel))
	}
	if int(kf.NParams) != len(inputs)+2 {
		return errors.E("device.Dispatch", errors.DeviceRuntime, errors.Errorf("kernel %q takes %d parameters, launch supplies %d", kernel, kf.NParams, len(inputs)+2))
	}
	if len(out) < int(n) {
		return errors.E("device.Dispatch", errors.DeviceRuntime, errors.Errorf("output buffer of %d below launch size %d", len(out), n))
	}

	// Device allocation and host-to-device copies.
	bufs := make([][]float64, len(inputs)+1)
	for i, in := range inputs {
		if len(in) < int(n) {
			return errors.E("device.Dispatch", errors.DeviceRuntime, errors.Errorf("input %d of %d elements below launch size %d", i, len(in), n))
		}
		buf := make([]float64, n)
		copy(buf, in[:n])
		bufs[i] = buf
	}
	outBuf := make([]float64, n)
	bufs[len(inputs)] = outBuf

	args := make([]uint64, len(inputs)+2)
	args[0] = uint64(n)
	for i := range inputs {
		args[i+1] = uint64(i)
	}
	args[len(inputs)+1] = uint64(len(inputs))

	gsize := uint32(s.groupSize)
	ngroups := (n + gsize - 1) / gsize
	s.log.Debugf("device: launch %s over %d elements, %d groups of %d lanes", kernel, n, ngroups, gsize)

	g := new(errgroup.Group)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for gid := uint32(0); gid < ngroups; gid++ {
		gid := gid
		g.Go(func() error {
			for lid := uint32(0); lid < gsize; lid++ {
				ln := &lane{
					prog:     prog,
					bufs:     bufs,
					gsize:    gsize,
					gid:      gid,
					lid:      lid,
					maxSteps: s.maxSteps,
					maxDepth: s.maxDepth,
				}
				if err := ln.run(fi, args); err != nil {
					return errors.E("device.Dispatch", fmt.Sprintf("group %d lane %d", gid, lid), err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Device-to-host copy-back of the single output.
	copy(out[:n], outBuf)
	return nil
}
