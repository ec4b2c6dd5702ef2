package wasmtest

import (
	"github.com/vitali2y/redshirt/iface"
)

// Exit returns a guest whose _start returns code.
func Exit(code int32) []byte {
	var b Builder

	start := b.Function(nil, []byte{I32}, I32Const(code))
	b.Export("_start", start)

	return b.Bytes()
}

// Echo layout in guest memory.
const (
	echoRequest  = 0   // registration request, 33 bytes
	echoRegistry = 64  // iface.Registration
	echoIDOut    = 128 // id of the registration message
	echoEvent    = 256 // event buffer
	echoEventLen = 1024

	// offsets into an encoded interface event
	eventID   = 1 + iface.Size
	eventLen  = eventID + 8 + 8 + 1
	eventData = eventLen + 4
)

// Echo returns a guest that registers id and answers every message it
// receives on it with the message payload.
func Echo(id iface.ID) []byte {
	var b Builder

	env := b.EnvImports()

	b.Memory(1, 1)
	b.Segment(echoRequest, iface.RegisterRequest(id))
	b.Segment(echoRegistry, iface.Registration[:])

	start := b.Function(nil, nil,
		I32Const(echoRegistry),
		I32Const(echoRequest),
		I32Const(int32(1+iface.Size)),
		I32Const(1),
		I32Const(echoIDOut),
		Call(env["emit_message"]),
		[]byte{OpDrop},
	)

	onMessage := b.Function([]byte{I32}, nil,
		I32Const(echoEvent),
		I32Const(echoEventLen),
		Call(env["next_message"]),
		[]byte{OpDrop},

		// interface events only
		I32Const(echoEvent),
		Load(OpI32Load8U, 0),
		I32Const(1),
		[]byte{OpI32Eq, OpIf, BlockEmpty},

		I32Const(0),
		Load(OpI64Load, echoEvent+eventID),
		I32Const(echoEvent+eventData),
		I32Const(0),
		Load(OpI32Load, echoEvent+eventLen),
		Call(env["emit_answer"]),
		[]byte{OpDrop},

		[]byte{OpEnd},
	)

	b.Export("_start", start)
	b.Export("on_message", onMessage)

	return b.Bytes()
}

// Print returns a guest that sends msg to the console interface without
// waiting for an answer and then returns 0 from _start.
func Print(msg string) []byte {
	var b Builder

	env := b.EnvImports()

	const (
		ifaceAt = 0
		idOut   = 64
		msgAt   = 128
	)

	b.Memory(1, 1)
	b.Segment(ifaceAt, iface.Console[:])
	b.Segment(msgAt, []byte(msg))

	start := b.Function(nil, []byte{I32},
		I32Const(ifaceAt),
		I32Const(msgAt),
		I32Const(int32(len(msg))),
		I32Const(0),
		I32Const(idOut),
		Call(env["emit_message"]),
		[]byte{OpDrop},
		I32Const(0),
	)

	b.Export("_start", start)

	return b.Bytes()
}

// Grow returns a guest with one page of memory, capped at max pages when
// max is given, that grows it by pages and returns the resulting size in
// pages from _start.
func Grow(pages int32, max ...uint32) []byte {
	var b Builder

	b.Memory(1, max...)

	start := b.Function(nil, []byte{I32},
		I32Const(pages),
		[]byte{OpMemoryGrow, 0x00, OpDrop},
		[]byte{OpMemorySize, 0x00},
	)
	b.Export("_start", start)

	return b.Bytes()
}
