//go:build unix

package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/vitali2y/redshirt/boot"
	"github.com/vitali2y/redshirt/iface"
	"golang.org/x/sys/unix"
)

// forwardSignals turns SIGUSR1 and SIGUSR2 into interrupts of the classes
// "usr1" and "usr2". The payload is the signal number.
func forwardSignals(ctx context.Context, sys *boot.System) {
	classes := map[os.Signal]string{
		unix.SIGUSR1: "usr1",
		unix.SIGUSR2: "usr2",
	}

	c := make(chan os.Signal, 4)
	signal.Notify(c, unix.SIGUSR1, unix.SIGUSR2)

	go func() {
		defer signal.Stop(c)

		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-c:
				num := sig.(unix.Signal)
				sys.L.Debug("signal-interrupt", "signal", unix.SignalName(num))
				sys.Kernel.InjectInterrupt(iface.Interrupt(classes[sig]), []byte{byte(num)})
			}
		}
	}()
}
