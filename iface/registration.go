package iface

import "github.com/pkg/errors"

// Op is the first byte of a registration request.
type Op uint8

const (
	OpRegister   Op = 1
	OpUnregister Op = 2
)

// Status is the single byte answered by the registration interface.
type Status uint8

const (
	StatusOK Status = iota
	StatusAlreadyRegistered
	StatusNotOwner
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusAlreadyRegistered:
		return "already registered"
	case StatusNotOwner:
		return "not owner"
	default:
		return "unknown"
	}
}

var ErrMalformedRequest = errors.New("malformed registration request")

// RegisterRequest encodes a request to become the handler of id.
func RegisterRequest(id ID) []byte {
	return encodeRequest(OpRegister, id)
}

// UnregisterRequest encodes a request to stop handling id.
func UnregisterRequest(id ID) []byte {
	return encodeRequest(OpUnregister, id)
}

func encodeRequest(op Op, id ID) []byte {
	buf := make([]byte, 1+Size)
	buf[0] = byte(op)
	copy(buf[1:], id[:])
	return buf
}

// DecodeRequest parses a registration request.
func DecodeRequest(b []byte) (Op, ID, error) {
	if len(b) != 1+Size {
		return 0, ID{}, errors.Wrapf(ErrMalformedRequest, "length %d", len(b))
	}

	op := Op(b[0])
	switch op {
	case OpRegister, OpUnregister:
	default:
		return 0, ID{}, errors.Wrapf(ErrMalformedRequest, "op %d", op)
	}

	id, _ := FromBytes(b[1:])
	return op, id, nil
}

// DecodeStatus parses the registration interface's answer.
func DecodeStatus(b []byte) (Status, error) {
	if len(b) != 1 {
		return 0, errors.Wrapf(ErrMalformedRequest, "status length %d", len(b))
	}

	return Status(b[0]), nil
}
