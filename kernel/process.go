package kernel

import (
	"math"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"github.com/vitali2y/redshirt/iface"
	"github.com/vitali2y/redshirt/memory"
)

type ProcessStatus int

const (
	Ready ProcessStatus = iota
	Running
	Blocked
	Terminated
	Faulted
)

func (s ProcessStatus) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Blocked:
		return "blocked"
	case Terminated:
		return "terminated"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Program is the executable half of a process. Resume runs it until it
// waits, yields or exits. ev is the event being delivered, or nil when the
// process is resumed with an empty inbox. A returned error or a panic
// faults the process.
type Program interface {
	Resume(ctx *Context, ev *Event) (Outcome, error)
}

// Destroyer is implemented by programs holding resources that must be
// released when their process is torn down.
type Destroyer interface {
	Destroy()
}

// Image is a loadable program module.
type Image interface {
	Name() string

	// MemorySize is the amount of private memory the program declares.
	MemorySize() uint64

	Instantiate() (Program, error)
}

// ExitInfo describes a destroyed process.
type ExitInfo struct {
	Pid    Pid
	Name   string
	Status ProcessStatus
	Code   int
	Err    error
}

type Process struct {
	pid     Pid
	name    string
	program Program
	status  ProcessStatus

	memSize     uint64
	reservation memory.Pointer
	mem         *memory.VirtualMemory

	inbox []*Event

	// messages this process emitted and still waits an answer for
	awaiting map[MessageID]struct{}

	// processes that emitted interface messages to this one
	emitters map[Pid]struct{}

	exitCode int

	// set when the process is terminated from within its own resumption
	killed     bool
	killReason error
}

func (p *Process) Pid() Pid {
	return p.pid
}

func (p *Process) Name() string {
	return p.name
}

func (p *Process) Status() ProcessStatus {
	return p.status
}

// Pending is the number of events waiting in the inbox.
func (p *Process) Pending() int {
	return len(p.inbox)
}

// Awaiting is the number of answers the process is still waiting for.
func (p *Process) Awaiting() int {
	return len(p.awaiting)
}

// Context is how a running program reaches the kernel. It is only valid
// for the duration of the resumption it was handed to.
type Context struct {
	k       *Kernel
	p       *Process
	expired bool
}

func (c *Context) check() error {
	if c.expired {
		return ErrContextExpired
	}

	return nil
}

func (c *Context) Pid() Pid {
	return c.p.pid
}

func (c *Context) Name() string {
	return c.p.name
}

func (c *Context) Logger() hclog.Logger {
	return c.k.L.With("pid", c.p.pid, "name", c.p.name)
}

// Memory returns the private memory of the process, created on first use
// with the size the image declared.
func (c *Context) Memory() (*memory.VirtualMemory, error) {
	if err := c.check(); err != nil {
		return nil, err
	}

	if c.p.mem != nil {
		return c.p.mem, nil
	}

	if c.p.memSize > math.MaxInt32 {
		return nil, errors.Wrapf(memory.ErrBadRegionRequest, "memory of %d bytes", c.p.memSize)
	}

	size := int32(c.p.memSize)

	mem := memory.NewVirtualMemory(size)

	if size > 0 {
		if _, err := mem.NewRegion(0, size); err != nil {
			return nil, err
		}
	}

	c.p.mem = mem

	return mem, nil
}

// Emit sends payload to the handler of to. When needsAnswer is set the
// returned id identifies the answer, which arrives later as an
// EventResponse.
func (c *Context) Emit(to iface.ID, payload []byte, needsAnswer bool) (MessageID, error) {
	if err := c.check(); err != nil {
		return 0, err
	}

	return c.k.send(c.p.pid, to, payload, needsAnswer, nil)
}

// Answer responds to a message received on one of the process' interfaces.
func (c *Context) Answer(id MessageID, payload []byte) error {
	if err := c.check(); err != nil {
		return err
	}

	return c.k.respond(c.p.pid, id, payload, nil)
}

// Reject resolves a message as invalid instead of answering it.
func (c *Context) Reject(id MessageID) error {
	if err := c.check(); err != nil {
		return err
	}

	return c.k.respond(c.p.pid, id, nil, ErrInvalidMessage)
}

// Cancel abandons the answer to a message the process emitted.
func (c *Context) Cancel(id MessageID) error {
	if err := c.check(); err != nil {
		return err
	}

	return c.k.cancel(c.p.pid, id)
}

// SetExitCode records the code reported when the process exits.
func (c *Context) SetExitCode(code int) error {
	if err := c.check(); err != nil {
		return err
	}

	c.p.exitCode = code

	return nil
}

// Spawn creates a process from img and makes it runnable. Nothing about the
// process is observable unless Spawn succeeds.
func (k *Kernel) Spawn(img Image) (Pid, error) {
	if k.fatal != nil {
		return 0, k.fatal
	}

	name := img.Name()
	size := img.MemorySize()

	if size > k.maxMem {
		k.metrics.LoadFailures.Inc()
		return 0, &LoadError{
			Image: name,
			Err:   errors.Wrapf(ErrImageTooLarge, "%d bytes declared, limit is %d", size, k.maxMem),
		}
	}

	ptr, err := k.alloc.Allocate(chargeSize(size), memAlign)
	if err != nil {
		k.metrics.LoadFailures.Inc()
		return 0, errors.Wrapf(err, "reserving memory for %s", name)
	}

	prog, err := img.Instantiate()
	if err != nil {
		k.alloc.Deallocate(ptr, chargeSize(size), memAlign)
		k.metrics.LoadFailures.Inc()
		return 0, &LoadError{Image: name, Err: err}
	}

	proc := &Process{
		name:        name,
		program:     prog,
		status:      Ready,
		memSize:     size,
		reservation: ptr,
		awaiting:    make(map[MessageID]struct{}),
		emitters:    make(map[Pid]struct{}),
	}

	pid := k.processes.AssignPid(proc)
	k.ready = append(k.ready, pid)

	k.metrics.ProcessesSpawned.Inc()
	k.metrics.ProcessesLive.Inc()

	k.L.Debug("process-spawn", "pid", pid, "name", name, "memory", size)

	return pid, nil
}

// Terminate destroys pid. When called while pid is running, the process is
// destroyed as soon as its resumption returns.
func (k *Kernel) Terminate(pid Pid, reason error) error {
	p, ok := k.processes.Lookup(pid)
	if !ok {
		return errors.Wrapf(ErrNoSuchProcess, "pid %s", pid)
	}

	if p.status == Running {
		p.killed = true
		p.killReason = reason
		return nil
	}

	k.destroy(p, Terminated, reason)

	return nil
}

// destroy removes p from every kernel structure in one step.
func (k *Kernel) destroy(p *Process, status ProcessStatus, reason error) {
	p.status = status

	k.processes.RemoveProc(p.pid)

	freed := k.registry.RevokeAll(p.pid)
	if len(freed) > 0 {
		k.metrics.Interfaces.Sub(float64(len(freed)))
		for _, id := range freed {
			k.L.Debug("interface-revoked", "pid", p.pid, "interface", id)
		}
	}

	k.cancelInFlightFor(p.pid)

	for _, ev := range p.inbox {
		k.release(ev)
	}
	p.inbox = nil

	k.alloc.Deallocate(p.reservation, chargeSize(p.memSize), memAlign)
	p.mem = nil

	if d, ok := p.program.(Destroyer); ok {
		d.Destroy()
	}

	k.metrics.ProcessesLive.Dec()
	k.metrics.ProcessesExited.WithLabelValues(status.String()).Inc()

	info := ExitInfo{
		Pid:    p.pid,
		Name:   p.name,
		Status: status,
		Code:   p.exitCode,
		Err:    reason,
	}

	if status == Faulted {
		k.L.Error("process-fault", "pid", p.pid, "name", p.name, "error", reason)
	} else {
		k.L.Debug("process-exit", "pid", p.pid, "name", p.name, "code", p.exitCode, "reason", reason)
	}

	if k.onExit != nil {
		k.onExit(info)
	}
}

const memAlign = 8

// chargeSize is what an allocation of n bytes is accounted as. Zero sized
// reservations still take a byte so each one has a distinct pointer.
func chargeSize(n uint64) uint64 {
	if n == 0 {
		return 1
	}

	return n
}
