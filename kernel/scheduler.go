package kernel

import (
	"context"

	"github.com/pkg/errors"
)

type StepResult int

const (
	// Idle means there was nothing to run.
	Idle StepResult = iota

	// Progressed means one unit of work was serviced.
	Progressed
)

func (r StepResult) String() string {
	if r == Progressed {
		return "progressed"
	}

	return "idle"
}

// Step services one unit of work: pending interrupts are queued first,
// then one builtin message if any is waiting, otherwise the next ready
// process is resumed. Once Step returns an error caused by ErrKernelFatal
// every later call returns it too.
func (k *Kernel) Step() (StepResult, error) {
	if k.fatal != nil {
		return Idle, k.fatal
	}

	k.drainInterrupts()

	if len(k.builtinQueue) > 0 {
		k.metrics.Steps.WithLabelValues("builtin").Inc()

		if err := k.serviceBuiltin(); err != nil {
			return Progressed, err
		}

		return Progressed, nil
	}

	for len(k.ready) > 0 {
		pid := k.ready[0]
		k.ready = k.ready[1:]

		p, ok := k.processes.Lookup(pid)
		if !ok {
			// destroyed while queued
			continue
		}

		if p.status != Ready {
			return Progressed, k.halt(errors.Errorf("process %s queued while %s", pid, p.status))
		}

		k.metrics.Steps.WithLabelValues("process").Inc()

		k.resume(p)

		return Progressed, nil
	}

	return Idle, nil
}

func (k *Kernel) resume(p *Process) {
	var ev *Event

	if len(p.inbox) > 0 {
		ev = p.inbox[0]
		p.inbox[0] = nil
		p.inbox = p.inbox[1:]
	}

	p.status = Running

	ctx := &Context{k: k, p: p}

	out, err := k.invoke(p, ctx, ev)

	ctx.expired = true

	if ev != nil {
		k.release(ev)
	}

	if k.fatal != nil {
		return
	}

	switch {
	case err != nil:
		k.destroy(p, Faulted, &Fault{Pid: p.pid, Err: err})
	case p.killed:
		k.destroy(p, Terminated, p.killReason)
	case out == Exit:
		k.destroy(p, Terminated, nil)
	case out == Yield || len(p.inbox) > 0:
		p.status = Ready
		k.ready = append(k.ready, p.pid)
	default:
		p.status = Blocked
	}
}

func (k *Kernel) invoke(p *Process, ctx *Context, ev *Event) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()

	return p.program.Resume(ctx, ev)
}

// halt stops the instance for good.
func (k *Kernel) halt(err error) error {
	if k.fatal == nil {
		k.fatal = errors.Wrapf(ErrKernelFatal, "%s", err)
		k.L.Error("kernel-fatal", "error", err)
	}

	return k.fatal
}

// Halted returns the fatal error that stopped the instance, if any.
func (k *Kernel) Halted() error {
	return k.fatal
}

// Run steps the kernel until no process is left, ctx is done or the
// instance halts. While idle it sleeps until an interrupt is injected.
func (k *Kernel) Run(ctx context.Context) error {
	c := make(chan struct{}, 1)

	e := k.events.RegisterChannel(InterruptPending, c)
	defer k.events.Unregister(e)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := k.Step()
		if err != nil {
			return err
		}

		if res == Progressed {
			continue
		}

		if k.processes.Len() == 0 && !k.interruptsPending() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c:
		}
	}
}
