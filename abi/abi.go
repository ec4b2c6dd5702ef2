// Package abi defines what crosses the boundary between the kernel and a
// wasm guest: result codes and the encoding of delivered events.
//
// Host functions return 0 or a positive count on success and a negated
// code on failure, e.g. -abi.ENOMSG.
package abi

import (
	"github.com/pkg/errors"
	"github.com/vitali2y/redshirt/kernel"
	"github.com/vitali2y/redshirt/memory"
)

const (
	OK = 0

	EUNREGISTERED = 1 // no handler for the interface
	ENOMSG        = 2 // unknown message id, or not addressed to the caller
	EALREADY      = 3 // message already answered
	EGONE         = 4 // handler destroyed before answering
	EINVAL        = 5 // message rejected as invalid
	ENOMEM        = 6 // allocator exhausted
	EFAULT        = 7 // pointer outside the guest memory
	ERANGE        = 8 // buffer too small
	EIO           = 9 // anything else
)

// Code maps a kernel error onto its positive result code.
func Code(err error) int32 {
	switch errors.Cause(err) {
	case nil:
		return OK
	case kernel.ErrUnregistered:
		return EUNREGISTERED
	case kernel.ErrNoSuchMessage:
		return ENOMSG
	case kernel.ErrAlreadyAnswered:
		return EALREADY
	case kernel.ErrDestinationGone:
		return EGONE
	case kernel.ErrInvalidMessage:
		return EINVAL
	case memory.ErrOutOfMemory:
		return ENOMEM
	case memory.ErrInvalidMemoryAccess:
		return EFAULT
	default:
		return EIO
	}
}

// Errno is Code negated, the form host functions return.
func Errno(err error) int32 {
	return -Code(err)
}

var codeNames = map[int32]string{
	OK:            "ok",
	EUNREGISTERED: "unregistered",
	ENOMSG:        "no such message",
	EALREADY:      "already answered",
	EGONE:         "destination gone",
	EINVAL:        "invalid message",
	ENOMEM:        "out of memory",
	EFAULT:        "bad address",
	ERANGE:        "buffer too small",
	EIO:           "i/o error",
}

// CodeName describes a code in either sign.
func CodeName(code int32) string {
	if code < 0 {
		code = -code
	}

	if s, ok := codeNames[code]; ok {
		return s
	}

	return "unknown"
}
