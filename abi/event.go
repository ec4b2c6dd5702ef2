package abi

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/vitali2y/redshirt/iface"
	"github.com/vitali2y/redshirt/kernel"
)

// Event layouts, all integers little endian:
//
//   interface:  kind u8 | iface [32]u8 | id u64 | emitter u64 | needs-answer u8 | len u32 | data
//   response:   kind u8 | id u64 | status i32 | len u32 | data
//   destroyed:  kind u8 | pid u64
//
// status is 0 for an answer, otherwise a negated result code.
const (
	interfaceHeader = 1 + iface.Size + 8 + 8 + 1 + 4
	responseHeader  = 1 + 8 + 4 + 4
	destroyedSize   = 1 + 8
)

var ErrShortEvent = errors.New("event truncated")

func EncodeEvent(ev *kernel.Event) []byte {
	le := binary.LittleEndian

	switch ev.Kind {
	case kernel.EventInterface:
		buf := make([]byte, interfaceHeader+len(ev.Payload))
		buf[0] = byte(ev.Kind)
		copy(buf[1:], ev.Interface[:])

		off := 1 + iface.Size
		le.PutUint64(buf[off:], uint64(ev.MessageID))
		le.PutUint64(buf[off+8:], uint64(ev.Emitter))
		if ev.NeedsAnswer {
			buf[off+16] = 1
		}
		le.PutUint32(buf[off+17:], uint32(len(ev.Payload)))
		copy(buf[interfaceHeader:], ev.Payload)

		return buf
	case kernel.EventResponse:
		buf := make([]byte, responseHeader+len(ev.Payload))
		buf[0] = byte(ev.Kind)
		le.PutUint64(buf[1:], uint64(ev.MessageID))
		le.PutUint32(buf[9:], uint32(Errno(ev.Err)))
		le.PutUint32(buf[13:], uint32(len(ev.Payload)))
		copy(buf[responseHeader:], ev.Payload)

		return buf
	case kernel.EventProcessDestroyed:
		buf := make([]byte, destroyedSize)
		buf[0] = byte(ev.Kind)
		le.PutUint64(buf[1:], uint64(ev.Pid))

		return buf
	default:
		return nil
	}
}

// Decoded is an event as a guest sees it.
type Decoded struct {
	Kind        kernel.EventKind
	Interface   iface.ID
	MessageID   kernel.MessageID
	Emitter     kernel.Pid
	NeedsAnswer bool
	Status      int32
	Pid         kernel.Pid
	Payload     []byte
}

func DecodeEvent(buf []byte) (*Decoded, error) {
	if len(buf) == 0 {
		return nil, ErrShortEvent
	}

	le := binary.LittleEndian

	d := &Decoded{Kind: kernel.EventKind(buf[0])}

	switch d.Kind {
	case kernel.EventInterface:
		if len(buf) < interfaceHeader {
			return nil, ErrShortEvent
		}

		copy(d.Interface[:], buf[1:])

		off := 1 + iface.Size
		d.MessageID = kernel.MessageID(le.Uint64(buf[off:]))
		d.Emitter = kernel.Pid(le.Uint64(buf[off+8:]))
		d.NeedsAnswer = buf[off+16] != 0

		n := le.Uint32(buf[off+17:])
		if uint64(len(buf)-interfaceHeader) < uint64(n) {
			return nil, ErrShortEvent
		}
		d.Payload = buf[interfaceHeader : interfaceHeader+int(n)]
	case kernel.EventResponse:
		if len(buf) < responseHeader {
			return nil, ErrShortEvent
		}

		d.MessageID = kernel.MessageID(le.Uint64(buf[1:]))
		d.Status = int32(le.Uint32(buf[9:]))

		n := le.Uint32(buf[13:])
		if uint64(len(buf)-responseHeader) < uint64(n) {
			return nil, ErrShortEvent
		}
		d.Payload = buf[responseHeader : responseHeader+int(n)]
	case kernel.EventProcessDestroyed:
		if len(buf) < destroyedSize {
			return nil, ErrShortEvent
		}

		d.Pid = kernel.Pid(le.Uint64(buf[1:]))
	default:
		return nil, errors.Errorf("unknown event kind %d", buf[0])
	}

	return d, nil
}
