package channel

import (
	"time"
)

// Sweeper periodically lifts expired bans and mutes across all channels.
type Sweeper struct {
	reg      *Registry
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewSweeper builds a sweeper over the registry. A non-positive interval
// falls back to one minute.
func NewSweeper(reg *Registry, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		reg:      reg,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop. Blocks; run in a goroutine.
func (s *Sweeper) Start() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			s.sweep(now)
		case <-s.stop:
			return
		}
	}
}

// Stop halts the loop and waits for the current sweep to finish.
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Sweeper) sweep(now time.Time) {
	for _, c := range s.reg.Channels() {
		c.CheckExpires(now)
	}
}
