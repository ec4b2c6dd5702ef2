// Package random provides the randomness interface. A request is the
// number of bytes wanted, a little endian u32; the answer is that many
// bytes.
package random

import (
	"crypto/rand"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"github.com/vitali2y/redshirt/iface"
	"github.com/vitali2y/redshirt/kernel"
	"github.com/vitali2y/redshirt/native"
)

// MaxRequest is the largest number of bytes served in one answer.
const MaxRequest = 64 * 1024

type Random struct {
	src io.Reader
}

func New(src io.Reader) *Random {
	if src == nil {
		src = rand.Reader
	}

	return &Random{src: src}
}

func (r *Random) Interfaces() []iface.ID {
	return []iface.ID{iface.Randomness}
}

// Request encodes a request for n bytes.
func Request(n uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, n)
	return buf
}

func (r *Random) HandleMessage(ctx *kernel.Context, ev *kernel.Event) error {
	if !ev.NeedsAnswer {
		return nil
	}

	if len(ev.Payload) != 4 {
		return ctx.Reject(ev.MessageID)
	}

	n := binary.LittleEndian.Uint32(ev.Payload)
	if n > MaxRequest {
		return ctx.Reject(ev.MessageID)
	}

	// answers are staged in the provider's own memory
	mem, err := ctx.Memory()
	if err != nil {
		return err
	}

	buf, err := mem.Project(0, int32(n))
	if err != nil {
		return err
	}

	if _, err := io.ReadFull(r.src, buf); err != nil {
		return errors.Wrap(err, "reading entropy")
	}

	if err := ctx.Answer(ev.MessageID, buf); err != nil {
		ctx.Logger().Warn("random-answer", "id", ev.MessageID, "size", n, "error", err)
	}

	return nil
}

func Image(src io.Reader) *native.Image {
	r := New(src)

	return native.NewImage("random", func() native.Service {
		return r
	}).WithMemory(MaxRequest)
}
