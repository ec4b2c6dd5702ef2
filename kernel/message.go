package kernel

import (
	"github.com/vitali2y/redshirt/iface"
	"github.com/vitali2y/redshirt/memory"
)

// MessageID identifies a message. IDs are assigned from a counter and never
// reused, which makes them unique among in-flight messages. 0 means "none".
type MessageID uint64

// Message is a unit of communication addressed to an interface.
type Message struct {
	ID          MessageID
	Source      Pid
	Interface   iface.ID
	Payload     []byte
	NeedsAnswer bool
}

type EventKind int

const (
	// EventInterface is a message received on an interface the process handles.
	EventInterface EventKind = iota + 1

	// EventResponse answers a message the process emitted, or reports that no
	// answer will ever come (Err is set).
	EventResponse

	// EventProcessDestroyed tells a handler that a process which emitted
	// messages on its interfaces is gone.
	EventProcessDestroyed
)

func (k EventKind) String() string {
	switch k {
	case EventInterface:
		return "interface"
	case EventResponse:
		return "response"
	case EventProcessDestroyed:
		return "process-destroyed"
	default:
		return "unknown"
	}
}

// Event is what a process receives when it is resumed.
type Event struct {
	Kind EventKind

	// EventInterface
	Interface   iface.ID
	Emitter     Pid
	NeedsAnswer bool

	// EventInterface and EventResponse
	MessageID MessageID
	Payload   []byte

	// EventResponse: nil for an answer, otherwise why none will come.
	Err error

	// EventProcessDestroyed
	Pid Pid

	// bytes reserved from the allocator while the event sits in an inbox
	reservation memory.Pointer
	charged     uint64
}

// Response is delivered to kernel-originated messages.
type Response struct {
	MessageID MessageID
	Payload   []byte
	Err       error
}

// Outcome is how a resumption ended.
type Outcome int

const (
	// Wait blocks the process until the next event is delivered.
	Wait Outcome = iota

	// Yield leaves the process runnable.
	Yield

	// Exit terminates the process normally.
	Exit
)

func (o Outcome) String() string {
	switch o {
	case Wait:
		return "wait"
	case Yield:
		return "yield"
	case Exit:
		return "exit"
	default:
		return "unknown"
	}
}
