package boundary

import (
	"github.com/go-interpreter/wagon/exec"
	"github.com/pkg/errors"
	"github.com/vitali2y/redshirt/abi"
	"github.com/vitali2y/redshirt/kernel"
	"github.com/vitali2y/redshirt/loader"
)

// Image is a loaded wasm module ready to be spawned.
type Image struct {
	w   *WasmInterface
	mod *loader.Module
}

func (w *WasmInterface) Image(mod *loader.Module) *Image {
	return &Image{w: w, mod: mod}
}

func (i *Image) Name() string {
	return i.mod.Name
}

func (i *Image) MemorySize() uint64 {
	return i.mod.Memory
}

func (i *Image) Instantiate() (kernel.Program, error) {
	vm, err := exec.NewVM(i.mod.Module)
	if err != nil {
		return nil, err
	}

	vm.RecoverPanic = true

	return &Program{w: i.w, mod: i.mod, vm: vm}, nil
}

// Program runs a wasm guest. _start runs on the first resumption; every
// later one calls on_message with the length of the delivered event, or 0
// when the guest is resumed after yielding. A guest without on_message
// exits when _start returns.
type Program struct {
	w   *WasmInterface
	mod *loader.Module
	vm  *exec.VM

	started bool
}

func (p *Program) Resume(ctx *kernel.Context, ev *kernel.Event) (kernel.Outcome, error) {
	c := &call{ctx: ctx, prog: p}

	if ev != nil {
		c.pending = abi.EncodeEvent(ev)
	}

	prev := p.w.current
	p.w.current = c
	defer func() {
		p.w.current = prev
	}()

	if !p.started {
		p.started = true

		out, err := p.exec(c, p.mod.Start)
		if err != nil || out == kernel.Exit || c.pending == nil {
			return out, err
		}
	}

	if p.mod.OnMessage < 0 {
		return kernel.Exit, nil
	}

	return p.exec(c, p.mod.OnMessage, uint64(len(c.pending)))
}

func (p *Program) exec(c *call, fn int64, args ...uint64) (kernel.Outcome, error) {
	c.yielded = false

	ret, err := p.vm.ExecCode(fn, args...)

	if gerr := p.checkGrowth(); gerr != nil {
		return kernel.Exit, gerr
	}

	if c.exited {
		return kernel.Exit, c.ctx.SetExitCode(int(c.code))
	}

	if err != nil {
		return kernel.Exit, err
	}

	if c.yielded {
		return kernel.Yield, nil
	}

	if p.mod.OnMessage >= 0 {
		return kernel.Wait, nil
	}

	return kernel.Exit, c.ctx.SetExitCode(int(exitCode(ret)))
}

// checkGrowth faults a guest whose linear memory outgrew the size reserved
// for it at spawn. wagon's grow_memory does not honour the declared maximum.
func (p *Program) checkGrowth() error {
	size := uint64(len(p.vm.Memory()))
	if size > p.mod.Memory {
		return errors.Wrapf(kernel.ErrOutOfMemory, "linear memory grew to %d bytes, %d reserved", size, p.mod.Memory)
	}

	return nil
}

func (p *Program) Destroy() {
	p.w.L.Trace("wasm-program-destroy", "name", p.mod.Name)
	p.vm = nil
}

func exitCode(ret interface{}) int32 {
	switch v := ret.(type) {
	case int32:
		return v
	case uint32:
		return int32(v)
	case int64:
		return int32(v)
	case uint64:
		return int32(v)
	default:
		return 0
	}
}
