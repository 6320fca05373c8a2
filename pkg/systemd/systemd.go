// Package systemd speaks the sd_notify protocol: readiness, stopping and
// watchdog keepalives. Every call is a no-op outside a systemd unit.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends state updates to the service manager.
type Notifier struct {
	enabled bool
	notify  func(state string) (bool, error)
	// watchdog reports the unit's WatchdogSec, zero when disabled.
	watchdog func() (time.Duration, error)
}

func New(enabled bool) *Notifier {
	return &Notifier{
		enabled:  enabled,
		notify:   func(state string) (bool, error) { return daemon.SdNotify(false, state) },
		watchdog: func() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) },
	}
}

func (n *Notifier) send(state string) (bool, error) {
	if n == nil || !n.enabled {
		return false, nil
	}
	return n.notify(state)
}

// Ready reports READY=1. sent is false when no notify socket exists.
func (n *Notifier) Ready() (sent bool, err error) { return n.send(daemon.SdNotifyReady) }

func (n *Notifier) Stopping() (bool, error) { return n.send(daemon.SdNotifyStopping) }

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(s string) (bool, error) { return n.send("STATUS=" + s) }

// WatchdogInterval returns how often to ping, half of WatchdogSec.
// It is zero when the unit has no watchdog configured.
func (n *Notifier) WatchdogInterval() (time.Duration, error) {
	if n == nil || !n.enabled {
		return 0, nil
	}
	d, err := n.watchdog()
	if err != nil || d <= 0 {
		return 0, err
	}
	return d / 2, nil
}

// RunWatchdog pings WATCHDOG=1 every interval until ctx ends.
// healthy is consulted before each ping; a false result skips that ping so
// systemd restarts a wedged process.
func (n *Notifier) RunWatchdog(ctx context.Context, interval time.Duration, healthy func() bool) error {
	if interval <= 0 {
		return nil
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if healthy != nil && !healthy() {
				continue
			}
			if _, err := n.send(daemon.SdNotifyWatchdog); err != nil {
				return err
			}
		}
	}
}
