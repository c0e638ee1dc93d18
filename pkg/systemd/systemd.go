// Package systemd reports service state to systemd through sd_notify.
// Every call is a no-op when the process is not run by systemd
// (NOTIFY_SOCKET unset).
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"surveysched/pkg/logx"
)

type Notifier struct {
	enabled bool
	log     logx.Logger
}

func New(enabled bool, log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{enabled: enabled, log: log.With(logx.String("comp", "systemd"))}
}

func (n *Notifier) Ready() bool     { return n.notify(daemon.SdNotifyReady) }
func (n *Notifier) Stopping() bool  { return n.notify(daemon.SdNotifyStopping) }
func (n *Notifier) Reloading() bool { return n.notify(daemon.SdNotifyReloading) }

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(msg string) bool { return n.notify("STATUS=" + msg) }

func (n *Notifier) notify(state string) bool {
	if n == nil || !n.enabled {
		return false
	}
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return false
	}
	return sent
}

// WatchdogInterval returns the interval systemd expects pings at, or false
// when the watchdog is not configured for this process.
func WatchdogInterval() (time.Duration, bool) {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

// Watchdog pings systemd at half the configured interval until ctx ends.
// A ping is skipped while healthy returns an error, so systemd restarts a
// wedged process. It returns immediately when no watchdog is configured.
func (n *Notifier) Watchdog(ctx context.Context, healthy func() error) {
	if n == nil || !n.enabled {
		return
	}
	every, ok := WatchdogInterval()
	if !ok {
		return
	}
	every /= 2
	n.log.Info("watchdog enabled", logx.Duration("ping_every", every))

	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if healthy != nil {
				if err := healthy(); err != nil {
					n.log.Warn("watchdog ping skipped", logx.Err(err))
					continue
				}
			}
			n.notify(daemon.SdNotifyWatchdog)
		}
	}
}
