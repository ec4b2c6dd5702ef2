package boundary

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vektra/neko"
	"github.com/vitali2y/redshirt/iface"
	"github.com/vitali2y/redshirt/internal/wasmtest"
	"github.com/vitali2y/redshirt/kernel"
	"github.com/vitali2y/redshirt/loader"
	"github.com/vitali2y/redshirt/log"
)

type harness struct {
	k     *kernel.Kernel
	w     *WasmInterface
	l     *loader.Loader
	exits []kernel.ExitInfo
}

func newHarness(t *testing.T, cfg kernel.Config) *harness {
	h := &harness{}

	cfg.Logger = log.Discard()
	cfg.OnExit = func(info kernel.ExitInfo) {
		h.exits = append(h.exits, info)
	}

	k, err := kernel.NewKernel(cfg)
	require.NoError(t, err)

	h.k = k
	h.w = NewWasmInterface(log.Discard())
	h.l = loader.NewLoader(log.Discard(), h.w.EnvModule(), nil)

	return h
}

func (h *harness) spawn(t *testing.T, name string, bin []byte) kernel.Pid {
	mod, err := h.l.Load(name, bin)
	require.NoError(t, err)

	pid, err := h.k.Spawn(h.w.Image(mod))
	require.NoError(t, err)

	return pid
}

func (h *harness) settle(t *testing.T) {
	for i := 0; i < 100; i++ {
		res, err := h.k.Step()
		require.NoError(t, err)

		if res == kernel.Idle {
			return
		}
	}

	t.Fatal("kernel never went idle")
}

func TestWasmPrograms(t *testing.T) {
	n := neko.Modern(t)

	n.It("uses the _start result as exit code", func(t *testing.T) {
		h := newHarness(t, kernel.Config{})

		pid := h.spawn(t, "three", wasmtest.Exit(3))
		h.settle(t)

		require.Len(t, h.exits, 1)
		require.Equal(t, pid, h.exits[0].Pid)
		require.Equal(t, kernel.Terminated, h.exits[0].Status)
		require.Equal(t, 3, h.exits[0].Code)
	})

	n.It("answers messages through the host module", func(t *testing.T) {
		h := newHarness(t, kernel.Config{})

		pid := h.spawn(t, "echo", wasmtest.Echo(iface.Console))
		h.settle(t)

		handler, err := h.k.Resolve(iface.Console)
		require.NoError(t, err)
		require.Equal(t, pid, handler)

		var got *kernel.Response

		_, err = h.k.Emit(iface.Console, []byte("hi"), func(r kernel.Response) {
			got = &r
		})
		require.NoError(t, err)

		h.settle(t)

		require.NotNil(t, got)
		require.NoError(t, got.Err)
		require.Equal(t, []byte("hi"), got.Payload)

		status, err := h.k.Status(pid)
		require.NoError(t, err)
		require.Equal(t, kernel.Blocked, status)
		require.Equal(t, 0, h.k.InFlight())
	})

	n.It("exits through the host module", func(t *testing.T) {
		h := newHarness(t, kernel.Config{})

		var b wasmtest.Builder
		env := b.EnvImports()
		start := b.Function(nil, nil, wasmtest.I32Const(7), wasmtest.Call(env["exit"]))
		b.Export("_start", start)

		h.spawn(t, "seven", b.Bytes())
		h.settle(t)

		require.Len(t, h.exits, 1)
		require.Equal(t, kernel.Terminated, h.exits[0].Status)
		require.Equal(t, 7, h.exits[0].Code)
	})

	n.It("resumes a yielded guest through on_message", func(t *testing.T) {
		h := newHarness(t, kernel.Config{})

		var b wasmtest.Builder
		env := b.EnvImports()
		start := b.Function(nil, nil, wasmtest.Call(env["yield"]))
		onMessage := b.Function([]byte{wasmtest.I32}, nil, wasmtest.I32Const(5), wasmtest.Call(env["exit"]))
		b.Export("_start", start)
		b.Export("on_message", onMessage)

		pid := h.spawn(t, "yielder", b.Bytes())

		_, err := h.k.Step()
		require.NoError(t, err)

		status, err := h.k.Status(pid)
		require.NoError(t, err)
		require.Equal(t, kernel.Ready, status)

		h.settle(t)

		require.Len(t, h.exits, 1)
		require.Equal(t, 5, h.exits[0].Code)
	})

	n.It("faults a guest passing a pointer outside its memory", func(t *testing.T) {
		h := newHarness(t, kernel.Config{})

		var b wasmtest.Builder
		env := b.EnvImports()
		b.Memory(1, 1)
		start := b.Function(nil, nil,
			wasmtest.I32Const(65536-8),
			wasmtest.I32Const(64),
			wasmtest.Call(env["debug"]),
		)
		b.Export("_start", start)

		h.spawn(t, "wild", b.Bytes())
		h.settle(t)

		require.Len(t, h.exits, 1)
		require.Equal(t, kernel.Faulted, h.exits[0].Status)
		require.Error(t, h.exits[0].Err)
		require.Contains(t, h.exits[0].Err.Error(), "invalid memory access")

		require.NoError(t, h.k.Halted())
	})

	n.It("contains a trapping guest", func(t *testing.T) {
		h := newHarness(t, kernel.Config{})

		var b wasmtest.Builder
		start := b.Function(nil, nil, []byte{wasmtest.OpUnreachable})
		b.Export("_start", start)

		h.spawn(t, "trap", b.Bytes())
		other := h.spawn(t, "echo", wasmtest.Echo(iface.Console))

		h.settle(t)

		require.Len(t, h.exits, 1)
		require.Equal(t, kernel.Faulted, h.exits[0].Status)

		status, err := h.k.Status(other)
		require.NoError(t, err)
		require.Equal(t, kernel.Blocked, status)
		require.NoError(t, h.k.Halted())
	})

	n.It("lets a guest grow up to its declared maximum", func(t *testing.T) {
		h := newHarness(t, kernel.Config{})

		pid := h.spawn(t, "grow", wasmtest.Grow(1, 2))
		h.settle(t)

		require.Len(t, h.exits, 1)
		require.Equal(t, pid, h.exits[0].Pid)
		require.Equal(t, kernel.Terminated, h.exits[0].Status)
		require.Equal(t, 2, h.exits[0].Code)
	})

	n.It("faults a guest growing past its declared maximum", func(t *testing.T) {
		h := newHarness(t, kernel.Config{MaxProcessMemory: 2 * 64 * 1024})

		h.spawn(t, "greedy", wasmtest.Grow(1000, 1))
		other := h.spawn(t, "echo", wasmtest.Echo(iface.Console))
		h.settle(t)

		require.Len(t, h.exits, 1)
		require.Equal(t, kernel.Faulted, h.exits[0].Status)
		require.Equal(t, kernel.ErrOutOfMemory, errors.Cause(h.exits[0].Err))

		status, err := h.k.Status(other)
		require.NoError(t, err)
		require.Equal(t, kernel.Blocked, status)
		require.NoError(t, h.k.Halted())
	})

	n.It("refuses images declaring too much memory", func(t *testing.T) {
		h := newHarness(t, kernel.Config{MaxProcessMemory: 64 * 1024})

		var b wasmtest.Builder
		b.Memory(1, 4)
		start := b.Function(nil, nil)
		b.Export("_start", start)

		mod, err := h.l.Load("big", b.Bytes())
		require.NoError(t, err)

		_, err = h.k.Spawn(h.w.Image(mod))
		require.Error(t, err)

		_, ok := err.(*kernel.LoadError)
		require.True(t, ok)
		require.Equal(t, kernel.ErrImageTooLarge, errors.Cause(err))

		require.Empty(t, h.k.Processes())
		require.Equal(t, 0, h.k.InFlight())
	})

	n.Meow()
}
