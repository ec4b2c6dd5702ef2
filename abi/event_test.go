package abi

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vektra/neko"
	"github.com/vitali2y/redshirt/iface"
	"github.com/vitali2y/redshirt/kernel"
)

func TestEvents(t *testing.T) {
	n := neko.Modern(t)

	n.It("lays out interface events", func(t *testing.T) {
		ev := &kernel.Event{
			Kind:        kernel.EventInterface,
			Interface:   iface.Console,
			MessageID:   7,
			Emitter:     kernel.Pid(3),
			NeedsAnswer: true,
			Payload:     []byte("hi"),
		}

		buf := EncodeEvent(ev)
		require.Len(t, buf, interfaceHeader+2)
		require.Equal(t, byte(kernel.EventInterface), buf[0])
		require.Equal(t, iface.Console[:], buf[1:33])
		require.Equal(t, byte(7), buf[33])

		d, err := DecodeEvent(buf)
		require.NoError(t, err)

		require.Equal(t, iface.Console, d.Interface)
		require.Equal(t, kernel.MessageID(7), d.MessageID)
		require.Equal(t, kernel.Pid(3), d.Emitter)
		require.True(t, d.NeedsAnswer)
		require.Equal(t, []byte("hi"), d.Payload)
	})

	n.It("carries failures as negated codes", func(t *testing.T) {
		ev := &kernel.Event{
			Kind:      kernel.EventResponse,
			MessageID: 9,
			Err:       errors.Wrap(kernel.ErrDestinationGone, "handler 1.1"),
		}

		d, err := DecodeEvent(EncodeEvent(ev))
		require.NoError(t, err)

		require.Equal(t, int32(-EGONE), d.Status)
		require.Empty(t, d.Payload)
	})

	n.It("encodes destroyed notifications", func(t *testing.T) {
		d, err := DecodeEvent(EncodeEvent(&kernel.Event{
			Kind: kernel.EventProcessDestroyed,
			Pid:  kernel.Pid(1<<32 | 4),
		}))
		require.NoError(t, err)

		require.Equal(t, kernel.Pid(1<<32|4), d.Pid)
	})

	n.It("rejects truncated input", func(t *testing.T) {
		buf := EncodeEvent(&kernel.Event{
			Kind:    kernel.EventResponse,
			Payload: []byte("abcdef"),
		})

		_, err := DecodeEvent(buf[:len(buf)-1])
		require.Equal(t, ErrShortEvent, err)

		_, err = DecodeEvent(nil)
		require.Equal(t, ErrShortEvent, err)
	})

	n.Meow()
}

func TestCode(t *testing.T) {
	require.Equal(t, int32(OK), Code(nil))
	require.Equal(t, int32(EUNREGISTERED), Code(errors.Wrap(kernel.ErrUnregistered, "x")))
	require.Equal(t, int32(ENOMEM), Code(kernel.ErrOutOfMemory))
	require.Equal(t, int32(EIO), Code(errors.New("other")))
	require.Equal(t, "destination gone", CodeName(-EGONE))
}
