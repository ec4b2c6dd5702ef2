package memory

import (
	"github.com/pkg/errors"
)

const WasmPageSize = 65536 // (64 KB)

// Region is a contiguous span of a process's private memory. Its backing
// slice is allocated on first projection, zero-initialized.
type Region struct {
	Start, Size int32

	linear []byte
}

func (reg *Region) Contains(x int32) bool {
	if x < reg.Start {
		return false
	}

	if x >= reg.Start+reg.Size {
		return false
	}

	return true
}

func pageRound(sz int32) int32 {
	if sz < WasmPageSize {
		return WasmPageSize
	}

	diff := sz % WasmPageSize
	if diff == 0 {
		return sz
	}

	return sz + (WasmPageSize - diff)
}

func (reg *Region) project(addr, sz int32) []byte {
	offset := addr - reg.Start

	want := pageRound(offset + sz)
	if want > reg.Size {
		want = reg.Size
	}

	if len(reg.linear) < int(offset+sz) {
		slice := make([]byte, want)
		copy(slice, reg.linear)

		reg.linear = slice
	}

	return reg.linear[offset : offset+sz]
}

// VirtualMemory is the private memory of one execution context. Nothing
// outside the owning process can obtain a projection of it.
type VirtualMemory struct {
	regions []*Region

	limit int32
	size  int32
}

// NewVirtualMemory returns an empty memory that may grow up to limit bytes.
func NewVirtualMemory(limit int32) *VirtualMemory {
	return &VirtualMemory{
		limit: limit,
	}
}

func (vm *VirtualMemory) Size() int {
	return int(vm.size)
}

func (vm *VirtualMemory) Limit() int {
	return int(vm.limit)
}

func (vm *VirtualMemory) FindRegion(addr int32) (*Region, bool) {
	for _, reg := range vm.regions {
		if reg.Contains(addr) {
			return reg, true
		}
	}

	return nil, false
}

var ErrInvalidMemoryAccess = errors.New("invalid memory access via projection")

// Project returns the bytes at [addr, addr+sz). The whole span must lie in a
// single region.
func (vm *VirtualMemory) Project(addr, sz int32) ([]byte, error) {
	if sz < 0 || addr < 0 {
		return nil, errors.Wrapf(ErrInvalidMemoryAccess, "error projecting address=%x, size=%x", addr, sz)
	}

	reg, ok := vm.FindRegion(addr)
	if !ok || int64(addr)+int64(sz) > int64(reg.Start)+int64(reg.Size) {
		return nil, errors.Wrapf(ErrInvalidMemoryAccess, "error projecting address=%x, size=%x", addr, sz)
	}

	return reg.project(addr, sz), nil
}

func (vm *VirtualMemory) ReadAt(b []byte, off int64) (int, error) {
	mem, err := vm.Project(int32(off), int32(len(b)))
	if err != nil {
		return 0, err
	}

	return copy(b, mem), nil
}

func (vm *VirtualMemory) WriteAt(b []byte, off int64) (int, error) {
	mem, err := vm.Project(int32(off), int32(len(b)))
	if err != nil {
		return 0, err
	}

	return copy(mem, b), nil
}

// Grow extends the region at address 0.
func (vm *VirtualMemory) Grow(additional int32) error {
	reg, ok := vm.FindRegion(0)
	if !ok {
		return ErrInvalidMemoryAccess
	}

	if vm.size+additional > vm.limit {
		return errors.Wrapf(ErrBadRegionRequest, "grow by %d exceeds limit %d", additional, vm.limit)
	}

	reg.Size += additional
	vm.size += additional

	return nil
}

var ErrBadRegionRequest = errors.New("bad region request")

// NewRegion maps size bytes at addr. Regions may not overlap and the total
// may not exceed the memory's limit.
func (vm *VirtualMemory) NewRegion(addr, size int32) (*Region, error) {
	if size <= 0 || addr < 0 {
		return nil, ErrBadRegionRequest
	}

	if vm.size+size > vm.limit {
		return nil, errors.Wrapf(ErrBadRegionRequest, "region of %d exceeds limit %d", size, vm.limit)
	}

	for _, reg := range vm.regions {
		if addr < reg.Start+reg.Size && reg.Start < addr+size {
			return nil, errors.Wrapf(ErrBadRegionRequest, "region at %x overlaps %x", addr, reg.Start)
		}
	}

	reg := &Region{
		Start: addr,
		Size:  size,
	}

	vm.regions = append(vm.regions, reg)

	vm.size += size

	return reg, nil
}
