package native_test

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vektra/neko"
	"github.com/vitali2y/redshirt/iface"
	"github.com/vitali2y/redshirt/kernel"
	"github.com/vitali2y/redshirt/log"
	"github.com/vitali2y/redshirt/memory"
	"github.com/vitali2y/redshirt/native"
	"github.com/vitali2y/redshirt/native/console"
	"github.com/vitali2y/redshirt/native/random"
)

// client runs start once its (absent) interfaces are registered.
type client struct {
	start func(ctx *kernel.Context, p *native.Program) error
}

func (c *client) Interfaces() []iface.ID {
	return nil
}

func (c *client) HandleMessage(ctx *kernel.Context, ev *kernel.Event) error {
	return nil
}

func (c *client) Start(ctx *kernel.Context, p *native.Program) error {
	return c.start(ctx, p)
}

func clientImage(start func(ctx *kernel.Context, p *native.Program) error) *native.Image {
	return native.NewImage("client", func() native.Service {
		return &client{start: start}
	})
}

func setup(t *testing.T) (*kernel.Kernel, *[]kernel.ExitInfo) {
	var exits []kernel.ExitInfo

	k, err := kernel.NewKernel(kernel.Config{
		Logger: log.Discard(),
		OnExit: func(info kernel.ExitInfo) {
			exits = append(exits, info)
		},
	})
	require.NoError(t, err)

	return k, &exits
}

func settle(t *testing.T, k *kernel.Kernel) {
	for i := 0; i < 1000; i++ {
		res, err := k.Step()
		require.NoError(t, err)

		if res == kernel.Idle {
			return
		}
	}

	t.Fatal("kernel never went idle")
}

func TestNative(t *testing.T) {
	n := neko.Modern(t)

	n.It("writes console messages to the output", func(t *testing.T) {
		k, _ := setup(t)

		var out bytes.Buffer

		_, err := k.Spawn(console.Image(&out))
		require.NoError(t, err)
		settle(t, k)

		var answered bool

		_, err = k.Spawn(clientImage(func(ctx *kernel.Context, p *native.Program) error {
			if _, err := ctx.Emit(iface.Console, []byte("hello "), false); err != nil {
				return err
			}

			return p.Call(ctx, iface.Console, []byte("world\n"), func(ctx *kernel.Context, resp *kernel.Event) error {
				answered = resp.Err == nil
				return nil
			})
		}))
		require.NoError(t, err)
		settle(t, k)

		require.Equal(t, "hello world\n", out.String())
		require.True(t, answered)
	})

	n.It("answers randomness requests", func(t *testing.T) {
		k, _ := setup(t)

		src := bytes.NewReader([]byte{1, 2, 3, 4, 5, 6, 7, 8})

		_, err := k.Spawn(random.Image(src))
		require.NoError(t, err)
		settle(t, k)

		var got []byte
		var rejected error

		_, err = k.Spawn(clientImage(func(ctx *kernel.Context, p *native.Program) error {
			err := p.Call(ctx, iface.Randomness, random.Request(4), func(ctx *kernel.Context, resp *kernel.Event) error {
				got = resp.Payload
				return resp.Err
			})
			if err != nil {
				return err
			}

			return p.Call(ctx, iface.Randomness, []byte{1}, func(ctx *kernel.Context, resp *kernel.Event) error {
				rejected = resp.Err
				return nil
			})
		}))
		require.NoError(t, err)
		settle(t, k)

		require.Equal(t, []byte{1, 2, 3, 4}, got)
		require.Equal(t, kernel.ErrInvalidMessage, errors.Cause(rejected))
	})

	n.It("stages randomness in its own memory", func(t *testing.T) {
		arena := memory.NewArena(1 << 20)

		k, err := kernel.NewKernel(kernel.Config{Logger: log.Discard(), Allocator: arena})
		require.NoError(t, err)

		src := bytes.NewReader([]byte{1, 2, 3, 4, 5, 6, 7, 8})

		_, err = k.Spawn(random.Image(src))
		require.NoError(t, err)
		require.True(t, arena.Used() >= random.MaxRequest)
		settle(t, k)

		var first, second []byte

		_, err = k.Spawn(clientImage(func(ctx *kernel.Context, p *native.Program) error {
			return p.Call(ctx, iface.Randomness, random.Request(4), func(ctx *kernel.Context, resp *kernel.Event) error {
				first = resp.Payload

				return p.Call(ctx, iface.Randomness, random.Request(4), func(ctx *kernel.Context, resp *kernel.Event) error {
					second = resp.Payload
					return resp.Err
				})
			})
		}))
		require.NoError(t, err)
		settle(t, k)

		require.Equal(t, []byte{1, 2, 3, 4}, first)
		require.Equal(t, []byte{5, 6, 7, 8}, second)
	})

	n.It("faults when its interface is taken", func(t *testing.T) {
		k, exits := setup(t)

		first, err := k.Spawn(console.Image(&bytes.Buffer{}))
		require.NoError(t, err)

		second, err := k.Spawn(console.Image(&bytes.Buffer{}))
		require.NoError(t, err)

		settle(t, k)

		pid, err := k.Resolve(iface.Console)
		require.NoError(t, err)
		require.Equal(t, first, pid)

		require.Len(t, *exits, 1)
		require.Equal(t, second, (*exits)[0].Pid)
		require.Equal(t, kernel.Faulted, (*exits)[0].Status)
		require.Equal(t, native.ErrRegistrationRefused, errors.Cause((*exits)[0].Err))
	})

	n.Meow()
}
