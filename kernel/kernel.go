package kernel

import (
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"github.com/vitali2y/redshirt/iface"
	"github.com/vitali2y/redshirt/log"
	"github.com/vitali2y/redshirt/memory"
	"github.com/vitali2y/redshirt/metrics"
	"github.com/vitali2y/redshirt/pkg/waiter"
)

const (
	DefaultMaxProcessMemory = 64 << 20
	DefaultTotalMemory      = 1 << 30
	DefaultResolvedHistory  = 4096
)

type Config struct {
	Logger    hclog.Logger
	Allocator memory.Allocator
	Metrics   *metrics.Metrics

	// Largest memory an image may declare.
	MaxProcessMemory uint64

	// How many resolved message ids are remembered to report
	// ErrAlreadyAnswered.
	ResolvedHistory int

	// Extra kernel-answered interfaces, on top of iface.Registration.
	Builtins map[iface.ID]Builtin

	OnExit func(ExitInfo)
}

// Kernel is one instance of the message bus and its scheduler. Except for
// InjectInterrupt, its methods must be called from a single goroutine.
type Kernel struct {
	L hclog.Logger

	alloc   memory.Allocator
	metrics *metrics.Metrics
	maxMem  uint64
	onExit  func(ExitInfo)

	processes *ProcessTable
	registry  *Registry
	inflight  *InFlightTable
	builtins  map[iface.ID]Builtin

	ready        []Pid
	builtinQueue []*Event

	irqMu  sync.Mutex
	irqs   []interrupt
	events waiter.Waiter

	fatal error
}

func NewKernel(cfg Config) (*Kernel, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.L
	}

	if cfg.Allocator == nil {
		cfg.Allocator = memory.NewArena(DefaultTotalMemory)
	}

	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Discard()
	}

	if cfg.MaxProcessMemory == 0 {
		cfg.MaxProcessMemory = DefaultMaxProcessMemory
	}

	if cfg.ResolvedHistory == 0 {
		cfg.ResolvedHistory = DefaultResolvedHistory
	}

	inflight, err := NewInFlightTable(cfg.ResolvedHistory)
	if err != nil {
		return nil, errors.Wrapf(err, "resolved history of %d", cfg.ResolvedHistory)
	}

	k := &Kernel{
		L:         cfg.Logger,
		alloc:     cfg.Allocator,
		metrics:   cfg.Metrics,
		maxMem:    cfg.MaxProcessMemory,
		onExit:    cfg.OnExit,
		processes: NewProcessTable(),
		registry:  NewRegistry(),
		inflight:  inflight,
		builtins:  map[iface.ID]Builtin{iface.Registration: registration{}},
	}

	for id, b := range cfg.Builtins {
		if id == iface.Registration {
			return nil, errors.Errorf("interface %s is reserved", id)
		}

		k.builtins[id] = b
	}

	for id := range k.builtins {
		k.registry.Reserve(id)
	}

	return k, nil
}

// Resolve returns the process answering id.
func (k *Kernel) Resolve(id iface.ID) (Pid, error) {
	return k.registry.Resolve(id)
}

// Emit sends a message originating in the kernel. When reply is set the
// message needs an answer and reply is called with its outcome.
func (k *Kernel) Emit(to iface.ID, payload []byte, reply func(Response)) (MessageID, error) {
	return k.send(KernelPid, to, payload, reply != nil, reply)
}

func (k *Kernel) Status(pid Pid) (ProcessStatus, error) {
	p, ok := k.processes.Lookup(pid)
	if !ok {
		return 0, errors.Wrapf(ErrNoSuchProcess, "pid %s", pid)
	}

	return p.status, nil
}

// Process returns a live process.
func (k *Kernel) Process(pid Pid) (*Process, bool) {
	return k.processes.Lookup(pid)
}

// Processes lists the live processes in slot order.
func (k *Kernel) Processes() []Pid {
	var pids []Pid

	k.processes.Each(func(p *Process) {
		pids = append(pids, p.pid)
	})

	return pids
}

// InFlight is the number of messages waiting for an answer.
func (k *Kernel) InFlight() int {
	return k.inflight.Len()
}

// Interfaces is the number of interfaces registered to processes.
func (k *Kernel) Interfaces() int {
	return k.registry.Len()
}
