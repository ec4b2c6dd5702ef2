package loader

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-interpreter/wagon/wasm"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vektra/neko"
	"github.com/vitali2y/redshirt/internal/wasmtest"
	"github.com/vitali2y/redshirt/kernel"
	"github.com/vitali2y/redshirt/log"
)

func TestLoader(t *testing.T) {
	n := neko.Modern(t)

	env := wasm.NewModule()

	n.It("finds the entry points", func(t *testing.T) {
		var b wasmtest.Builder
		start := b.Function(nil, nil)
		onMessage := b.Function([]byte{wasmtest.I32}, nil)
		b.Export("_start", start)
		b.Export("on_message", onMessage)

		mod, err := NewLoader(log.Discard(), env, nil).Load("svc", b.Bytes())
		require.NoError(t, err)

		require.Equal(t, "svc", mod.Name)
		require.Equal(t, int64(start), mod.Start)
		require.Equal(t, int64(onMessage), mod.OnMessage)
	})

	n.It("requires _start", func(t *testing.T) {
		var b wasmtest.Builder
		f := b.Function(nil, nil)
		b.Export("main", f)

		_, err := NewLoader(log.Discard(), env, nil).Load("nostart", b.Bytes())
		require.Error(t, err)

		le, ok := err.(*kernel.LoadError)
		require.True(t, ok)
		require.Equal(t, "nostart", le.Image)
		require.Equal(t, ErrNoStart, errors.Cause(err))
	})

	n.It("rejects imports from other modules", func(t *testing.T) {
		var b wasmtest.Builder
		b.ImportFunc("wasi_unstable", "fd_write", []byte{wasmtest.I32}, nil)
		start := b.Function(nil, nil)
		b.Export("_start", start)

		_, err := NewLoader(log.Discard(), env, nil).Load("foreign", b.Bytes())
		require.Error(t, err)

		_, ok := err.(*kernel.LoadError)
		require.True(t, ok)
	})

	n.It("rejects garbage", func(t *testing.T) {
		_, err := NewLoader(log.Discard(), env, nil).Load("junk", []byte("not a module"))
		require.Error(t, err)
	})

	n.It("computes the declared memory", func(t *testing.T) {
		var b wasmtest.Builder
		b.Memory(2)
		b.Export("_start", b.Function(nil, nil))

		mod, err := NewLoader(log.Discard(), env, nil).Load("two", b.Bytes())
		require.NoError(t, err)
		require.Equal(t, uint64(2*64*1024), mod.Memory)

		var c wasmtest.Builder
		c.Memory(1, 3)
		c.Export("_start", c.Function(nil, nil))

		mod, err = NewLoader(log.Discard(), env, nil).Load("three", c.Bytes())
		require.NoError(t, err)
		require.Equal(t, uint64(3*64*1024), mod.Memory)
	})

	n.It("refuses growth without a declared maximum", func(t *testing.T) {
		l := NewLoader(log.Discard(), env, nil)

		_, err := l.Load("unbounded", wasmtest.Grow(1))
		require.Error(t, err)
		require.Equal(t, ErrUnboundedMemory, errors.Cause(err))

		mod, err := l.Load("bounded", wasmtest.Grow(1, 4))
		require.NoError(t, err)
		require.Equal(t, uint64(4*64*1024), mod.Memory)
	})

	n.It("caches modules by content", func(t *testing.T) {
		cache, err := NewLoaderCache(4)
		require.NoError(t, err)

		l := NewLoader(log.Discard(), env, cache)

		bin := wasmtest.Exit(1)

		a, err := l.Load("a", bin)
		require.NoError(t, err)

		b, err := l.Load("a", bin)
		require.NoError(t, err)
		require.True(t, a == b)

		c, err := l.Load("c", bin)
		require.NoError(t, err)
		require.Equal(t, "c", c.Name)
		require.True(t, a.Module == c.Module)

		require.Equal(t, 1, cache.Len())
	})

	n.It("names file images after their base name", func(t *testing.T) {
		dir, err := ioutil.TempDir("", "loader")
		require.NoError(t, err)
		defer os.RemoveAll(dir)

		path := filepath.Join(dir, "hello.wasm")
		require.NoError(t, ioutil.WriteFile(path, wasmtest.Exit(0), 0644))

		mod, err := NewLoader(log.Discard(), env, nil).LoadFile(path)
		require.NoError(t, err)
		require.Equal(t, "hello", mod.Name)
	})

	n.Meow()
}
