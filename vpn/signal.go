package vpn

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"github.com/yllada/relayhop/common"
)

// NotifyReadiness subscribes to the tunnel's route-up notification
// (SIGUSR1, delivered by the hook the Launcher installs) and adapts it
// into a readiness channel for the session state machine. The returned
// stop function releases the subscription.
func NotifyReadiness() (<-chan struct{}, func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGUSR1)

	ready := make(chan struct{}, 1)
	stop := make(chan struct{})

	go func() {
		for {
			select {
			case <-sigs:
				select {
				case ready <- struct{}{}:
				default:
				}
			case <-stop:
				return
			}
		}
	}()

	return ready, func() {
		signal.Stop(sigs)
		close(stop)
	}
}

// NotifyReload feeds SIGHUP (service-manager reload) into the latch. The
// returned stop function releases the subscription.
func NotifyReload(latch *ReloadLatch) func() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGHUP)

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-sigs:
				common.LogInfo("reload requested")
				latch.Set()
			case <-stop:
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(stop)
	}
}
