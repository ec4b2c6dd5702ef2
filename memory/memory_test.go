package memory

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vektra/neko"
)

func TestVirtualMemory(t *testing.T) {
	n := neko.Modern(t)

	n.It("starts zeroed", func(t *testing.T) {
		vm := NewVirtualMemory(WasmPageSize)
		_, err := vm.NewRegion(0, WasmPageSize)
		require.NoError(t, err)

		b, err := vm.Project(100, 16)
		require.NoError(t, err)
		require.Equal(t, make([]byte, 16), b)
	})

	n.It("round trips writes", func(t *testing.T) {
		vm := NewVirtualMemory(WasmPageSize)
		_, err := vm.NewRegion(0, 1024)
		require.NoError(t, err)

		_, err = vm.WriteAt([]byte("hello"), 10)
		require.NoError(t, err)

		out := make([]byte, 5)
		_, err = vm.ReadAt(out, 10)
		require.NoError(t, err)
		require.Equal(t, "hello", string(out))
	})

	n.It("rejects projections that leave the region", func(t *testing.T) {
		vm := NewVirtualMemory(WasmPageSize)
		_, err := vm.NewRegion(0, 1024)
		require.NoError(t, err)

		_, err = vm.Project(1020, 8)
		require.Equal(t, ErrInvalidMemoryAccess, errors.Cause(err))

		_, err = vm.Project(4096, 1)
		require.Equal(t, ErrInvalidMemoryAccess, errors.Cause(err))

		_, err = vm.Project(-1, 1)
		require.Equal(t, ErrInvalidMemoryAccess, errors.Cause(err))
	})

	n.It("enforces the limit", func(t *testing.T) {
		vm := NewVirtualMemory(2048)
		_, err := vm.NewRegion(0, 1024)
		require.NoError(t, err)

		require.NoError(t, vm.Grow(1024))
		require.Equal(t, 2048, vm.Size())

		err = vm.Grow(1)
		require.Equal(t, ErrBadRegionRequest, errors.Cause(err))

		_, err = vm.NewRegion(4096, 16)
		require.Equal(t, ErrBadRegionRequest, errors.Cause(err))
	})

	n.It("rejects overlapping regions", func(t *testing.T) {
		vm := NewVirtualMemory(WasmPageSize)
		_, err := vm.NewRegion(0, 1024)
		require.NoError(t, err)

		_, err = vm.NewRegion(512, 1024)
		require.Equal(t, ErrBadRegionRequest, errors.Cause(err))
	})

	n.Meow()
}

func TestArena(t *testing.T) {
	n := neko.Modern(t)

	n.It("hands out disjoint aligned ranges", func(t *testing.T) {
		a := NewArena(1024)

		p1, err := a.Allocate(10, 1)
		require.NoError(t, err)

		p2, err := a.Allocate(16, 16)
		require.NoError(t, err)

		require.Equal(t, Pointer(0), p1)
		require.Equal(t, Pointer(16), p2)
		require.Equal(t, uint64(26), a.Used())
	})

	n.It("fails with out of memory when exhausted", func(t *testing.T) {
		a := NewArena(100)

		_, err := a.Allocate(60, 1)
		require.NoError(t, err)

		_, err = a.Allocate(60, 1)
		require.Equal(t, ErrOutOfMemory, errors.Cause(err))
	})

	n.It("reuses and coalesces freed ranges", func(t *testing.T) {
		a := NewArena(100)

		p1, err := a.Allocate(50, 1)
		require.NoError(t, err)
		p2, err := a.Allocate(50, 1)
		require.NoError(t, err)

		a.Deallocate(p1, 50, 1)
		a.Deallocate(p2, 50, 1)
		require.Equal(t, uint64(0), a.Used())

		p3, err := a.Allocate(100, 1)
		require.NoError(t, err)
		require.Equal(t, Pointer(0), p3)
	})

	n.It("rejects bad alignment", func(t *testing.T) {
		a := NewArena(100)

		_, err := a.Allocate(1, 3)
		require.Error(t, err)
	})

	n.Meow()
}
