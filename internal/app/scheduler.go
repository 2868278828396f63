package app

import (
	"sync"
	"time"
)

// countdown is a single cancellable per-question timer. It ticks once per
// interval with the remaining whole seconds and fires the expiry callback
// exactly once when the count reaches zero, then terminates. The controller
// keeps at most one live countdown per session and compares countdown
// identity before acting on a callback, so a cancelled timer can never
// advance the session.
type countdown struct {
	stop     chan struct{}
	stopOnce sync.Once
}

// startCountdown launches the timer goroutine. interval is the wall-clock
// spacing between ticks and represents one logical second, which lets tests
// compress time.
func startCountdown(seconds int, interval time.Duration, onTick func(c *countdown, secondsLeft int), onExpire func(c *countdown)) *countdown {
	c := &countdown{stop: make(chan struct{})}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		remaining := seconds
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				remaining--
				if remaining > 0 {
					onTick(c, remaining)
					continue
				}
				onExpire(c)
				return
			}
		}
	}()
	return c
}

// Cancel stops the countdown. Idempotent. A tick or expiry already in
// flight is discarded by the controller's identity check.
func (c *countdown) Cancel() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}
