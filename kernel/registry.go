package kernel

import (
	"bytes"
	"sort"

	"github.com/pkg/errors"
	"github.com/vitali2y/redshirt/iface"
)

// Registry maps interfaces to the process answering them. The first
// registrant wins; a registration is only ever changed by its owner or by
// the owner's termination.
type Registry struct {
	handlers map[iface.ID]Pid
	owned    map[Pid]map[iface.ID]struct{}
	reserved map[iface.ID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[iface.ID]Pid),
		owned:    make(map[Pid]map[iface.ID]struct{}),
		reserved: make(map[iface.ID]struct{}),
	}
}

// Reserve marks id as answered by the kernel; no process may register it.
func (r *Registry) Reserve(id iface.ID) {
	r.reserved[id] = struct{}{}
}

func (r *Registry) Reserved(id iface.ID) bool {
	_, ok := r.reserved[id]
	return ok
}

func (r *Registry) Register(id iface.ID, owner Pid) error {
	if r.Reserved(id) {
		return errors.Wrapf(ErrAlreadyRegistered, "interface %s is answered by the kernel", id)
	}

	if cur, ok := r.handlers[id]; ok {
		if cur == owner {
			return nil
		}

		return errors.Wrapf(ErrAlreadyRegistered, "interface %s held by %s", id, cur)
	}

	r.handlers[id] = owner

	set, ok := r.owned[owner]
	if !ok {
		set = make(map[iface.ID]struct{})
		r.owned[owner] = set
	}
	set[id] = struct{}{}

	return nil
}

func (r *Registry) Resolve(id iface.ID) (Pid, error) {
	pid, ok := r.handlers[id]
	if !ok {
		return 0, errors.Wrapf(ErrUnregistered, "interface %s", id)
	}

	return pid, nil
}

func (r *Registry) Unregister(id iface.ID, owner Pid) error {
	cur, ok := r.handlers[id]
	if !ok || cur != owner {
		return errors.Wrapf(ErrNotOwner, "interface %s", id)
	}

	delete(r.handlers, id)

	set := r.owned[owner]
	delete(set, id)
	if len(set) == 0 {
		delete(r.owned, owner)
	}

	return nil
}

// RevokeAll drops every registration held by owner and returns the freed
// identifiers in a stable order.
func (r *Registry) RevokeAll(owner Pid) []iface.ID {
	set := r.owned[owner]
	if len(set) == 0 {
		return nil
	}

	freed := make([]iface.ID, 0, len(set))
	for id := range set {
		delete(r.handlers, id)
		freed = append(freed, id)
	}

	delete(r.owned, owner)

	sort.Slice(freed, func(i, j int) bool {
		return bytes.Compare(freed[i][:], freed[j][:]) < 0
	})

	return freed
}

// Owned returns the number of interfaces owner currently answers.
func (r *Registry) Owned(owner Pid) int {
	return len(r.owned[owner])
}

func (r *Registry) Len() int {
	return len(r.handlers)
}
