// Package console provides the console interface: every message is a chunk
// of text written to the host's output.
package console

import (
	"io"
	"os"
	"sync"

	"github.com/vitali2y/redshirt/iface"
	"github.com/vitali2y/redshirt/kernel"
	"github.com/vitali2y/redshirt/native"
)

type Console struct {
	mu  sync.Mutex
	out io.Writer
}

func New(out io.Writer) *Console {
	if out == nil {
		out = os.Stdout
	}

	return &Console{out: out}
}

func (c *Console) Interfaces() []iface.ID {
	return []iface.ID{iface.Console}
}

func (c *Console) HandleMessage(ctx *kernel.Context, ev *kernel.Event) error {
	c.mu.Lock()
	_, err := c.out.Write(ev.Payload)
	c.mu.Unlock()

	if err != nil {
		ctx.Logger().Error("console-write", "emitter", ev.Emitter, "error", err)

		if ev.NeedsAnswer {
			return ctx.Reject(ev.MessageID)
		}

		return nil
	}

	if ev.NeedsAnswer {
		if err := ctx.Answer(ev.MessageID, nil); err != nil {
			ctx.Logger().Warn("console-answer", "id", ev.MessageID, "error", err)
		}
	}

	return nil
}

// Image returns an image of a console writing to out.
func Image(out io.Writer) *native.Image {
	c := New(out)

	return native.NewImage("console", func() native.Service {
		return c
	})
}
