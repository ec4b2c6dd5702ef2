package memory

import (
	"sort"

	"github.com/pkg/errors"
)

var ErrOutOfMemory = errors.New("out of memory")

// Pointer is an address handed out by an Allocator.
type Pointer uint64

// Allocator is the contract the kernel core consumes for its own
// bookkeeping: process memory reservations and queued message payloads.
type Allocator interface {
	Allocate(size, align uint64) (Pointer, error)
	Deallocate(ptr Pointer, size, align uint64)
}

type span struct {
	start, size uint64
}

// Arena is a first-fit free-list allocator over [0, total). It never touches
// real memory; it only hands out disjoint address ranges, which is all the
// hosted kernel needs to account for a bounded physical memory.
type Arena struct {
	total uint64
	used  uint64
	free  []span
}

func NewArena(total uint64) *Arena {
	a := &Arena{total: total}
	if total > 0 {
		a.free = []span{{start: 0, size: total}}
	}

	return a
}

func (a *Arena) Total() uint64 {
	return a.total
}

func (a *Arena) Used() uint64 {
	return a.used
}

func alignUp(x, align uint64) uint64 {
	if align <= 1 {
		return x
	}

	return (x + align - 1) / align * align
}

func (a *Arena) Allocate(size, align uint64) (Pointer, error) {
	if size == 0 {
		size = 1
	}

	if align != 0 && align&(align-1) != 0 {
		return 0, errors.Errorf("alignment %d is not a power of two", align)
	}

	for i, s := range a.free {
		start := alignUp(s.start, align)
		if start < s.start || start-s.start+size > s.size {
			continue
		}

		end := start + size
		lead := span{start: s.start, size: start - s.start}
		tail := span{start: end, size: s.start + s.size - end}

		var repl []span
		if lead.size > 0 {
			repl = append(repl, lead)
		}
		if tail.size > 0 {
			repl = append(repl, tail)
		}

		rest := append(repl, a.free[i+1:]...)
		a.free = append(a.free[:i], rest...)

		a.used += size
		return Pointer(start), nil
	}

	return 0, errors.Wrapf(ErrOutOfMemory, "allocating %d bytes (%d of %d in use)", size, a.used, a.total)
}

func (a *Arena) Deallocate(ptr Pointer, size, align uint64) {
	if size == 0 {
		size = 1
	}

	a.free = append(a.free, span{start: uint64(ptr), size: size})
	a.used -= size

	sort.Slice(a.free, func(i, j int) bool {
		return a.free[i].start < a.free[j].start
	})

	merged := a.free[:1]
	for _, s := range a.free[1:] {
		last := &merged[len(merged)-1]
		if last.start+last.size == s.start {
			last.size += s.size
			continue
		}
		merged = append(merged, s)
	}

	a.free = merged
}
