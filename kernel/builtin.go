package kernel

import (
	"github.com/pkg/errors"
	"github.com/vitali2y/redshirt/iface"
)

// Builtin is an interface handler implemented by kernel code. Handle runs
// with the same authority as the kernel: returning an error other than one
// caused by ErrInvalidMessage, or panicking, halts the instance.
type Builtin interface {
	Handle(k *Kernel, msg *Message) ([]byte, error)
}

type BuiltinFunc func(k *Kernel, msg *Message) ([]byte, error)

func (f BuiltinFunc) Handle(k *Kernel, msg *Message) ([]byte, error) {
	return f(k, msg)
}

// registration answers iface.Registration.
type registration struct{}

func (registration) Handle(k *Kernel, msg *Message) ([]byte, error) {
	op, id, err := iface.DecodeRequest(msg.Payload)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidMessage, err.Error())
	}

	if msg.Source == KernelPid {
		return nil, errors.Wrap(ErrInvalidMessage, "the kernel cannot own interfaces")
	}

	switch op {
	case iface.OpRegister:
		err = k.registry.Register(id, msg.Source)
		if err == nil {
			k.metrics.Interfaces.Set(float64(k.registry.Len()))
			k.L.Debug("interface-registered", "pid", msg.Source, "interface", id)
		}
	case iface.OpUnregister:
		err = k.registry.Unregister(id, msg.Source)
		if err == nil {
			k.metrics.Interfaces.Set(float64(k.registry.Len()))
			k.L.Debug("interface-unregistered", "pid", msg.Source, "interface", id)
		}
	}

	status := registrationStatus(err)

	k.metrics.Registrations.WithLabelValues(status.String()).Inc()

	return []byte{byte(status)}, nil
}

func registrationStatus(err error) iface.Status {
	switch errors.Cause(err) {
	case nil:
		return iface.StatusOK
	case ErrAlreadyRegistered:
		return iface.StatusAlreadyRegistered
	default:
		return iface.StatusNotOwner
	}
}

// serviceBuiltin handles the oldest queued builtin message.
func (k *Kernel) serviceBuiltin() error {
	ev := k.builtinQueue[0]
	k.builtinQueue[0] = nil
	k.builtinQueue = k.builtinQueue[1:]

	k.release(ev)

	msg := &Message{
		ID:          ev.MessageID,
		Source:      ev.Emitter,
		Interface:   ev.Interface,
		Payload:     ev.Payload,
		NeedsAnswer: ev.NeedsAnswer,
	}

	answer, err := k.callBuiltin(k.builtins[msg.Interface], msg)
	if err != nil {
		if errors.Cause(err) != ErrInvalidMessage {
			return k.halt(errors.Wrapf(err, "builtin %s", msg.Interface))
		}

		k.L.Debug("builtin-rejected", "interface", msg.Interface, "from", msg.Source, "error", err)
	}

	if !msg.NeedsAnswer {
		return nil
	}

	if err != nil {
		err = k.respond(KernelPid, msg.ID, nil, ErrInvalidMessage)
	} else {
		err = k.respond(KernelPid, msg.ID, answer, nil)
	}

	if err != nil {
		k.L.Warn("builtin-answer-lost", "id", msg.ID, "interface", msg.Interface, "error", err)
	}

	return nil
}

func (k *Kernel) callBuiltin(b Builtin, msg *Message) (answer []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()

	return b.Handle(k, msg)
}
