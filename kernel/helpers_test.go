package kernel

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vitali2y/redshirt/iface"
	"github.com/vitali2y/redshirt/log"
)

type progFunc func(ctx *Context, ev *Event) (Outcome, error)

func (f progFunc) Resume(ctx *Context, ev *Event) (Outcome, error) {
	return f(ctx, ev)
}

type testImage struct {
	name string
	mem  uint64
	prog Program
	err  error
}

func (i *testImage) Name() string {
	return i.name
}

func (i *testImage) MemorySize() uint64 {
	return i.mem
}

func (i *testImage) Instantiate() (Program, error) {
	return i.prog, i.err
}

// actor registers its interfaces on the first resumption, records every
// other event and hands it to handle.
type actor struct {
	register []iface.ID
	start    func(ctx *Context) (Outcome, error)
	handle   func(ctx *Context, ev *Event) (Outcome, error)

	started  bool
	regs     map[MessageID]iface.ID
	statuses map[iface.ID]iface.Status
	events   []*Event
	resumes  int
}

func (a *actor) Resume(ctx *Context, ev *Event) (Outcome, error) {
	a.resumes++

	if !a.started {
		a.started = true
		a.regs = make(map[MessageID]iface.ID)
		a.statuses = make(map[iface.ID]iface.Status)

		for _, id := range a.register {
			mid, err := ctx.Emit(iface.Registration, iface.RegisterRequest(id), true)
			if err != nil {
				return Exit, err
			}

			a.regs[mid] = id
		}

		if a.start != nil {
			out, err := a.start(ctx)
			if ev == nil || err != nil || out == Exit {
				return out, err
			}
		}
	}

	// handle only ever sees delivered events
	if ev == nil {
		return Wait, nil
	}

	if ev.Kind == EventResponse {
		if id, ok := a.regs[ev.MessageID]; ok {
			delete(a.regs, ev.MessageID)

			st, err := iface.DecodeStatus(ev.Payload)
			if err != nil {
				return Exit, err
			}

			a.statuses[id] = st

			return Wait, nil
		}
	}

	a.events = append(a.events, ev)

	if a.handle != nil {
		return a.handle(ctx, ev)
	}

	return Wait, nil
}

func (a *actor) payloads() []string {
	var out []string
	for _, ev := range a.events {
		out = append(out, string(ev.Payload))
	}
	return out
}

type harness struct {
	k     *Kernel
	exits []ExitInfo
}

func newHarness(t *testing.T, cfg Config) *harness {
	h := &harness{}

	cfg.Logger = log.Discard()
	cfg.OnExit = func(info ExitInfo) {
		h.exits = append(h.exits, info)
	}

	k, err := NewKernel(cfg)
	require.NoError(t, err)

	h.k = k

	return h
}

func (h *harness) spawn(t *testing.T, name string, prog Program) Pid {
	pid, err := h.k.Spawn(&testImage{name: name, prog: prog})
	require.NoError(t, err)

	return pid
}

// settle steps until nothing is left to do.
func (h *harness) settle(t *testing.T) {
	for i := 0; i < 10000; i++ {
		res, err := h.k.Step()
		require.NoError(t, err)

		if res == Idle {
			return
		}
	}

	t.Fatal("kernel never went idle")
}

func (h *harness) status(t *testing.T, pid Pid) ProcessStatus {
	st, err := h.k.Status(pid)
	require.NoError(t, err)

	return st
}

func (h *harness) exitOf(pid Pid) (ExitInfo, bool) {
	for _, e := range h.exits {
		if e.Pid == pid {
			return e, true
		}
	}

	return ExitInfo{}, false
}
