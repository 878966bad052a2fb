// Package systemd reports service state to systemd through sd_notify.
// Every call is a no-op when the process is not run by systemd.
package systemd

import (
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends sd_notify messages.
type Notifier struct {
	// notify is daemon.SdNotify; replaced in tests.
	notify func(unsetEnv bool, state string) (bool, error)
}

func New() *Notifier { return &Notifier{notify: daemon.SdNotify} }

func (n *Notifier) send(state string) (bool, error) {
	if n == nil || n.notify == nil {
		return false, nil
	}
	return n.notify(false, state)
}

// Ready reports that startup finished.
func (n *Notifier) Ready() (bool, error) { return n.send(daemon.SdNotifyReady) }

// Stopping reports that shutdown began.
func (n *Notifier) Stopping() (bool, error) { return n.send(daemon.SdNotifyStopping) }

// Watchdog pets the service watchdog.
func (n *Notifier) Watchdog() (bool, error) { return n.send(daemon.SdNotifyWatchdog) }

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(s string) (bool, error) { return n.send("STATUS=" + s) }

// WatchdogInterval returns the configured WatchdogSec, or 0 when the
// watchdog is not enabled for this process.
func WatchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return 0
	}
	return d
}
