package kernel

import (
	"fmt"
)

// Pid is a process handle: a slot index in the low 32 bits and the slot's
// generation in the high 32 bits. A slot is only reused with a new
// generation, so handles of destroyed processes stay detectably stale.
type Pid uint64

// KernelPid is the emitter of messages that originate in the kernel.
const KernelPid Pid = 0

func makePid(index, gen uint32) Pid {
	return Pid(uint64(gen)<<32 | uint64(index))
}

func (p Pid) Index() uint32 {
	return uint32(p)
}

func (p Pid) Generation() uint32 {
	return uint32(p >> 32)
}

func (p Pid) String() string {
	if p == KernelPid {
		return "kernel"
	}

	return fmt.Sprintf("%d.%d", p.Index(), p.Generation())
}

type slot struct {
	gen  uint32
	proc *Process
}

// ProcessTable is the arena of live processes. Slot 0 is never handed out.
type ProcessTable struct {
	slots []slot
	free  []uint32
	live  int
}

func NewProcessTable() *ProcessTable {
	return &ProcessTable{
		slots: make([]slot, 1),
	}
}

// AssignPid places proc in the lowest free slot and sets its pid.
func (t *ProcessTable) AssignPid(proc *Process) Pid {
	var idx uint32

	if n := len(t.free); n > 0 {
		lowest := 0
		for i := 1; i < n; i++ {
			if t.free[i] < t.free[lowest] {
				lowest = i
			}
		}

		idx = t.free[lowest]
		t.free = append(t.free[:lowest], t.free[lowest+1:]...)
	} else {
		idx = uint32(len(t.slots))
		t.slots = append(t.slots, slot{})
	}

	s := &t.slots[idx]
	s.gen++
	s.proc = proc

	pid := makePid(idx, s.gen)
	proc.pid = pid
	t.live++

	return pid
}

// Lookup returns the process for pid, or false when the handle is stale.
func (t *ProcessTable) Lookup(pid Pid) (*Process, bool) {
	idx := pid.Index()
	if idx == 0 || int(idx) >= len(t.slots) {
		return nil, false
	}

	s := &t.slots[idx]
	if s.proc == nil || s.gen != pid.Generation() {
		return nil, false
	}

	return s.proc, true
}

func (t *ProcessTable) RemoveProc(pid Pid) {
	idx := pid.Index()
	if _, ok := t.Lookup(pid); !ok {
		return
	}

	t.slots[idx].proc = nil
	t.free = append(t.free, idx)
	t.live--
}

func (t *ProcessTable) Len() int {
	return t.live
}

// Each calls f for every live process in slot order.
func (t *ProcessTable) Each(f func(*Process)) {
	for i := range t.slots {
		if p := t.slots[i].proc; p != nil {
			f(p)
		}
	}
}
