package kernel

import (
	"sort"

	lru "github.com/hashicorp/golang-lru"
	"github.com/vitali2y/redshirt/iface"
)

// inflight is a needs-answer message that has not been resolved yet.
type inflight struct {
	id      MessageID
	source  Pid
	handler Pid
	iface   iface.ID

	// the sender abandoned the answer; the handler may still respond
	cancelled bool

	// set for kernel-originated messages
	reply func(Response)
}

type resolution int

const (
	resolvedAnswered resolution = iota + 1
	resolvedAbandoned
)

// InFlightTable tracks needs-answer messages from send to resolution. A
// bounded history of resolved ids lets a second answer be told apart from
// an answer to an id that never existed.
type InFlightTable struct {
	next     MessageID
	entries  map[MessageID]*inflight
	resolved *lru.Cache
}

func NewInFlightTable(history int) (*InFlightTable, error) {
	cache, err := lru.New(history)
	if err != nil {
		return nil, err
	}

	return &InFlightTable{
		entries:  make(map[MessageID]*inflight),
		resolved: cache,
	}, nil
}

// NextID hands out a fresh message id. 0 is never returned.
func (t *InFlightTable) NextID() MessageID {
	t.next++
	return t.next
}

func (t *InFlightTable) add(e *inflight) {
	t.entries[e.id] = e
}

func (t *InFlightTable) get(id MessageID) (*inflight, bool) {
	e, ok := t.entries[id]
	return e, ok
}

func (t *InFlightTable) resolve(id MessageID, how resolution) {
	delete(t.entries, id)
	t.resolved.Add(id, how)
}

func (t *InFlightTable) wasResolved(id MessageID) (resolution, bool) {
	v, ok := t.resolved.Get(id)
	if !ok {
		return 0, false
	}

	return v.(resolution), true
}

// involving returns the entries where pid is sender or handler, oldest first.
func (t *InFlightTable) involving(pid Pid) []*inflight {
	var out []*inflight

	for _, e := range t.entries {
		if e.source == pid || e.handler == pid {
			out = append(out, e)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].id < out[j].id
	})

	return out
}

func (t *InFlightTable) Len() int {
	return len(t.entries)
}
