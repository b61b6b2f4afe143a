// Package sweeper runs a periodic cleanup function on a background goroutine
// whose lifetime is owned by the caller.
package sweeper

import (
	"sync"
	"time"
)

type Sweeper struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// Start calls sweep(clock()) every interval until Close. A non-positive
// interval returns a Sweeper that never fires.
func Start(interval time.Duration, clock func() time.Time, sweep func(now time.Time)) *Sweeper {
	s := &Sweeper{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	if interval <= 0 {
		close(s.done)
		return s
	}
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sweep(clock())
			case <-s.stop:
				return
			}
		}
	}()
	return s
}

// Close stops the sweeper and waits for an in-flight sweep to finish. It is
// safe to call more than once.
func (s *Sweeper) Close() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
}
