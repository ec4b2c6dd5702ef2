// Package native runs trusted Go code as kernel processes. A native program
// is scheduled and isolated like any other process: it registers its
// interfaces through the registration message and is reached only by
// messages.
package native

import (
	"github.com/pkg/errors"
	"github.com/vitali2y/redshirt/iface"
	"github.com/vitali2y/redshirt/kernel"
)

// Service answers messages on a fixed set of interfaces.
type Service interface {
	Interfaces() []iface.ID
	HandleMessage(ctx *kernel.Context, ev *kernel.Event) error
}

// DestroyWatcher is implemented by services that keep per-client state.
type DestroyWatcher interface {
	ProcessDestroyed(ctx *kernel.Context, pid kernel.Pid) error
}

// Starter is implemented by services with work to do once registered.
type Starter interface {
	Start(ctx *kernel.Context, p *Program) error
}

var ErrRegistrationRefused = errors.New("interface registration refused")

// Continuation receives the outcome of a message emitted with Call.
type Continuation func(ctx *kernel.Context, resp *kernel.Event) error

// Program adapts a Service to kernel.Program.
type Program struct {
	svc Service

	started bool

	// registration requests still waiting for a status
	registering map[kernel.MessageID]iface.ID

	continuations map[kernel.MessageID]Continuation
}

func NewProgram(svc Service) *Program {
	return &Program{
		svc:           svc,
		registering:   make(map[kernel.MessageID]iface.ID),
		continuations: make(map[kernel.MessageID]Continuation),
	}
}

// Call emits a message needing an answer and arranges for k to receive it.
func (p *Program) Call(ctx *kernel.Context, to iface.ID, payload []byte, k Continuation) error {
	id, err := ctx.Emit(to, payload, true)
	if err != nil {
		return err
	}

	p.continuations[id] = k

	return nil
}

// Registered reports whether every interface of the service is registered.
func (p *Program) Registered() bool {
	return p.started && len(p.registering) == 0
}

func (p *Program) Resume(ctx *kernel.Context, ev *kernel.Event) (kernel.Outcome, error) {
	if !p.started {
		p.started = true

		for _, id := range p.svc.Interfaces() {
			mid, err := ctx.Emit(iface.Registration, iface.RegisterRequest(id), true)
			if err != nil {
				return kernel.Exit, errors.Wrapf(err, "registering %s", id)
			}

			p.registering[mid] = id
		}

		if len(p.registering) == 0 {
			if err := p.start(ctx); err != nil {
				return kernel.Exit, err
			}
		}
	}

	if ev == nil {
		return kernel.Wait, nil
	}

	switch ev.Kind {
	case kernel.EventInterface:
		if err := p.svc.HandleMessage(ctx, ev); err != nil {
			return kernel.Exit, err
		}
	case kernel.EventResponse:
		if err := p.response(ctx, ev); err != nil {
			return kernel.Exit, err
		}
	case kernel.EventProcessDestroyed:
		if w, ok := p.svc.(DestroyWatcher); ok {
			if err := w.ProcessDestroyed(ctx, ev.Pid); err != nil {
				return kernel.Exit, err
			}
		}
	}

	return kernel.Wait, nil
}

func (p *Program) start(ctx *kernel.Context) error {
	if s, ok := p.svc.(Starter); ok {
		return s.Start(ctx, p)
	}

	return nil
}

func (p *Program) response(ctx *kernel.Context, ev *kernel.Event) error {
	if id, ok := p.registering[ev.MessageID]; ok {
		delete(p.registering, ev.MessageID)

		if ev.Err != nil {
			return errors.Wrapf(ev.Err, "registering %s", id)
		}

		st, err := iface.DecodeStatus(ev.Payload)
		if err != nil {
			return err
		}

		if st != iface.StatusOK {
			return errors.Wrapf(ErrRegistrationRefused, "%s: %s", id, st)
		}

		ctx.Logger().Debug("native-registered", "interface", id)

		if len(p.registering) == 0 {
			return p.start(ctx)
		}

		return nil
	}

	k, ok := p.continuations[ev.MessageID]
	if !ok {
		ctx.Logger().Warn("native-unexpected-response", "id", ev.MessageID)
		return nil
	}

	delete(p.continuations, ev.MessageID)

	return k(ctx, ev)
}

// Image spawns one Program per instantiation of a service built by New.
type Image struct {
	name   string
	memory uint64
	new    func() Service
}

func NewImage(name string, newService func() Service) *Image {
	return &Image{name: name, new: newService}
}

// WithMemory sets the memory the image declares.
func (i *Image) WithMemory(size uint64) *Image {
	i.memory = size
	return i
}

func (i *Image) Name() string {
	return i.name
}

func (i *Image) MemorySize() uint64 {
	return i.memory
}

func (i *Image) Instantiate() (kernel.Program, error) {
	return NewProgram(i.new()), nil
}
