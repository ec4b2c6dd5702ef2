// Package iface defines interface identifiers, the opaque tokens that name a
// capability a process can answer for, and the wire protocol of the
// registration interface every handler uses to announce itself.
package iface

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Size is the length in bytes of an ID.
const Size = 32

// ID names an interface. IDs are derived from content, so two parties that
// agree on a name agree on the ID without coordination.
type ID [Size]byte

// Hash derives the ID for an interface name.
func Hash(name string) ID {
	return ID(blake2b.Sum256([]byte(name)))
}

// FromBytes copies b into an ID. ok is false when b has the wrong length.
func FromBytes(b []byte) (ID, bool) {
	var id ID

	if len(b) != Size {
		return id, false
	}

	copy(id[:], b)
	return id, true
}

// String renders the first eight bytes, which is enough to tell interfaces
// apart in logs.
func (id ID) String() string {
	if name, ok := names[id]; ok {
		return name
	}

	return hex.EncodeToString(id[:8])
}

// Hex renders the full identifier.
func (id ID) Hex() string {
	return hex.EncodeToString(id[:])
}

func (id ID) IsZero() bool {
	return id == ID{}
}

var (
	// Registration is answered by the kernel itself and is resolvable before
	// any process has registered anything.
	Registration = Hash("interface")

	Console    = Hash("console")
	Randomness = Hash("randomness")
	Hardware   = Hash("hardware")
)

// Interrupt returns the well-known interface that receives interrupts for a
// device class, e.g. Interrupt("timer").
func Interrupt(class string) ID {
	return Hash("interrupt/" + class)
}

var names = map[ID]string{
	Registration: "interface",
	Console:      "console",
	Randomness:   "randomness",
	Hardware:     "hardware",
}
