package kernel

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/vitali2y/redshirt/memory"
)

var (
	ErrUnregistered      = errors.New("interface has no registered handler")
	ErrAlreadyRegistered = errors.New("interface already registered")
	ErrNotOwner          = errors.New("caller does not own the registration")
	ErrNoSuchMessage     = errors.New("no such message")
	ErrAlreadyAnswered   = errors.New("message already answered")
	ErrDestinationGone   = errors.New("destination gone")
	ErrInvalidMessage    = errors.New("message rejected as invalid")
	ErrNoSuchProcess     = errors.New("no such process")
	ErrImageTooLarge     = errors.New("image declares more memory than the platform allows")
	ErrKernelFatal       = errors.New("kernel fatal error")
	ErrContextExpired    = errors.New("context used outside of its resumption")

	ErrOutOfMemory = memory.ErrOutOfMemory
)

// LoadError is returned by Spawn when an image is refused. A refused image
// never reaches the scheduler.
type LoadError struct {
	Image string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("unable to load %s: %s", e.Image, e.Err)
}

func (e *LoadError) Cause() error {
	return e.Err
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Fault is the reason recorded for a process that trapped.
type Fault struct {
	Pid Pid
	Err error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("process %s faulted: %s", f.Pid, f.Err)
}

func (f *Fault) Cause() error {
	return f.Err
}

func (f *Fault) Unwrap() error {
	return f.Err
}
