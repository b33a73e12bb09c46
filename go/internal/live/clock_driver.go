package live

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// clockDriver delivers one tick per interval to a running session. Each
// driver carries the generation it was started with; ticks from a driver
// whose generation is no longer current are discarded by the session.
type clockDriver struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func startClockDriver(clock clockwork.Clock, interval time.Duration, gen uint64, tick func(gen uint64) bool) *clockDriver {
	ctx, cancel := context.WithCancel(context.Background())
	d := &clockDriver{cancel: cancel, done: make(chan struct{})}
	ticker := clock.NewTicker(interval)

	go func() {
		defer close(d.done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				if !tick(gen) {
					return
				}
			}
		}
	}()
	return d
}

// stop cancels the driver. It does not wait for the goroutine: the caller
// usually holds the session lock the goroutine may be waiting on.
func (d *clockDriver) stop() {
	d.cancel()
}
