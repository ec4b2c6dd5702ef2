package kernel

import (
	"github.com/pkg/errors"
	"github.com/vitali2y/redshirt/iface"
)

// send routes a message from source to the handler of to. Events are
// appended to the handler's inbox at send time, so messages between any
// pair of processes are delivered in the order they were sent.
func (k *Kernel) send(source Pid, to iface.ID, payload []byte, needsAnswer bool, reply func(Response)) (MessageID, error) {
	if k.fatal != nil {
		return 0, k.fatal
	}

	ev := &Event{
		Kind:        EventInterface,
		Interface:   to,
		Emitter:     source,
		NeedsAnswer: needsAnswer,
		Payload:     copyBytes(payload),
	}

	if _, ok := k.builtins[to]; ok {
		if err := k.charge(ev); err != nil {
			k.metrics.MessagesSent.WithLabelValues("out-of-memory").Inc()
			return 0, err
		}

		ev.MessageID = k.inflight.NextID()
		k.builtinQueue = append(k.builtinQueue, ev)
		k.track(ev, KernelPid, reply)

		k.metrics.MessagesSent.WithLabelValues("builtin").Inc()

		return ev.MessageID, nil
	}

	handler, err := k.registry.Resolve(to)
	if err != nil {
		k.metrics.MessagesSent.WithLabelValues("unregistered").Inc()
		return 0, err
	}

	dest, ok := k.processes.Lookup(handler)
	if !ok {
		return 0, k.halt(errors.Errorf("interface %s registered to dead process %s", to, handler))
	}

	if err := k.charge(ev); err != nil {
		k.metrics.MessagesSent.WithLabelValues("out-of-memory").Inc()
		return 0, err
	}

	ev.MessageID = k.inflight.NextID()

	k.enqueue(dest, ev)
	k.track(ev, handler, reply)

	if source != KernelPid {
		dest.emitters[source] = struct{}{}
	}

	k.metrics.MessagesSent.WithLabelValues("ok").Inc()

	k.L.Trace("message-send", "id", ev.MessageID, "from", source, "to", handler, "interface", to, "size", len(payload), "needs-answer", needsAnswer)

	return ev.MessageID, nil
}

func (k *Kernel) track(ev *Event, handler Pid, reply func(Response)) {
	if !ev.NeedsAnswer {
		return
	}

	k.inflight.add(&inflight{
		id:      ev.MessageID,
		source:  ev.Emitter,
		handler: handler,
		iface:   ev.Interface,
		reply:   reply,
	})

	if src, ok := k.processes.Lookup(ev.Emitter); ok {
		src.awaiting[ev.MessageID] = struct{}{}
	}

	k.metrics.MessagesInFlight.Inc()
}

// respond resolves id on behalf of its handler. rerr is delivered to the
// sender instead of an answer when set.
func (k *Kernel) respond(handler Pid, id MessageID, payload []byte, rerr error) error {
	e, ok := k.inflight.get(id)
	if !ok {
		if how, ok := k.inflight.wasResolved(id); ok && how == resolvedAnswered {
			return errors.Wrapf(ErrAlreadyAnswered, "message %d", id)
		}

		return errors.Wrapf(ErrNoSuchMessage, "message %d", id)
	}

	if e.handler != handler {
		return errors.Wrapf(ErrNoSuchMessage, "message %d is not addressed to %s", id, handler)
	}

	k.inflight.resolve(id, resolvedAnswered)
	k.metrics.MessagesInFlight.Dec()

	if e.cancelled {
		k.metrics.Responses.WithLabelValues("dropped").Inc()
		return nil
	}

	if rerr != nil {
		k.metrics.Responses.WithLabelValues("rejected").Inc()
	} else {
		k.metrics.Responses.WithLabelValues("answered").Inc()
	}

	return k.complete(e, payload, rerr)
}

// complete hands the outcome of e to its sender. An answer that cannot be
// queued for lack of memory reaches the sender as ErrOutOfMemory, and the
// handler is told its answer was lost.
func (k *Kernel) complete(e *inflight, payload []byte, rerr error) error {
	if e.source == KernelPid {
		if e.reply != nil {
			e.reply(Response{MessageID: e.id, Payload: copyBytes(payload), Err: rerr})
		}
		return nil
	}

	src, ok := k.processes.Lookup(e.source)
	if !ok {
		return nil
	}

	delete(src.awaiting, e.id)

	ev := &Event{
		Kind:      EventResponse,
		MessageID: e.id,
		Err:       rerr,
	}

	var err error

	if rerr == nil {
		ev.Payload = copyBytes(payload)

		if err = k.charge(ev); err != nil {
			ev.Payload = nil
			ev.Err = ErrOutOfMemory
			err = errors.Wrapf(err, "answer to message %d", e.id)
		}
	}

	k.enqueue(src, ev)

	return err
}

func (k *Kernel) cancel(source Pid, id MessageID) error {
	e, ok := k.inflight.get(id)
	if !ok || e.source != source || e.cancelled {
		return errors.Wrapf(ErrNoSuchMessage, "message %d", id)
	}

	e.cancelled = true

	if src, ok := k.processes.Lookup(source); ok {
		delete(src.awaiting, id)
	}

	return nil
}

// cancelInFlightFor settles every message involving pid, which is being
// destroyed and is no longer in the process table. Requests pid emitted
// that were not delivered yet are dropped along with their entries.
func (k *Kernel) cancelInFlightFor(pid Pid) {
	for _, e := range k.inflight.involving(pid) {
		k.metrics.MessagesInFlight.Dec()

		if e.source == pid {
			k.inflight.resolve(e.id, resolvedAbandoned)
			continue
		}

		k.inflight.resolve(e.id, resolvedAnswered)

		if e.cancelled {
			continue
		}

		k.metrics.Responses.WithLabelValues("destination-gone").Inc()
		k.complete(e, nil, errors.Wrapf(ErrDestinationGone, "handler %s of %s", pid, e.iface))
	}

	k.builtinQueue = k.purge(k.builtinQueue, pid, true)

	k.processes.Each(func(q *Process) {
		q.inbox = k.purge(q.inbox, pid, false)

		if _, ok := q.emitters[pid]; ok {
			delete(q.emitters, pid)
			k.enqueue(q, &Event{Kind: EventProcessDestroyed, Pid: pid})
		}
	})
}

// purge drops undelivered requests emitted by pid. Messages that need no
// answer were complete when sent and stay queued unless all is set.
func (k *Kernel) purge(queue []*Event, pid Pid, all bool) []*Event {
	out := queue[:0]

	for _, ev := range queue {
		if ev.Kind == EventInterface && ev.Emitter == pid && (all || ev.NeedsAnswer) {
			k.release(ev)
			continue
		}

		out = append(out, ev)
	}

	for i := len(out); i < len(queue); i++ {
		queue[i] = nil
	}

	return out
}

// charge reserves the payload of ev from the allocator for as long as the
// event is queued.
func (k *Kernel) charge(ev *Event) error {
	if len(ev.Payload) == 0 {
		return nil
	}

	size := uint64(len(ev.Payload))

	ptr, err := k.alloc.Allocate(size, 1)
	if err != nil {
		return errors.Wrapf(err, "queueing %d bytes", size)
	}

	ev.reservation = ptr
	ev.charged = size

	return nil
}

func (k *Kernel) release(ev *Event) {
	if ev.charged == 0 {
		return
	}

	k.alloc.Deallocate(ev.reservation, ev.charged, 1)
	ev.charged = 0
}

// enqueue appends ev to the inbox of p, waking it if blocked.
func (k *Kernel) enqueue(p *Process, ev *Event) {
	p.inbox = append(p.inbox, ev)

	if p.status == Blocked {
		p.status = Ready
		k.ready = append(k.ready, p.pid)
	}
}

func copyBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}

	out := make([]byte, len(b))
	copy(out, b)

	return out
}
