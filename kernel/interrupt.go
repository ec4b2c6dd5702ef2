package kernel

import (
	"github.com/vitali2y/redshirt/iface"
	"github.com/vitali2y/redshirt/pkg/waiter"
)

// InterruptPending is signalled on the kernel's waiter whenever an
// interrupt is injected.
const InterruptPending waiter.EventType = 1 << 0

type interrupt struct {
	class   iface.ID
	payload []byte
}

// InjectInterrupt queues an interrupt for class. It is the only kernel
// method safe to call from other goroutines; the interrupt is turned into a
// message from KernelPid at the start of the next Step.
func (k *Kernel) InjectInterrupt(class iface.ID, payload []byte) {
	k.irqMu.Lock()
	k.irqs = append(k.irqs, interrupt{class: class, payload: copyBytes(payload)})
	k.irqMu.Unlock()

	k.events.Notify(InterruptPending)
}

func (k *Kernel) interruptsPending() bool {
	k.irqMu.Lock()
	defer k.irqMu.Unlock()

	return len(k.irqs) > 0
}

func (k *Kernel) drainInterrupts() {
	k.irqMu.Lock()
	pending := k.irqs
	k.irqs = nil
	k.irqMu.Unlock()

	for _, irq := range pending {
		if _, err := k.send(KernelPid, irq.class, irq.payload, false, nil); err != nil {
			k.metrics.Interrupts.WithLabelValues("dropped").Inc()
			k.L.Debug("interrupt-dropped", "class", irq.class, "error", err)
			continue
		}

		k.metrics.Interrupts.WithLabelValues("delivered").Inc()
	}
}
