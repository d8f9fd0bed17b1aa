package dedup

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Sweeper periodically deletes states whose window has lapsed. It runs
// as a background goroutine and is stopped via its context or Stop.
//
// An interval of 0 disables sweeping.
type Sweeper struct {
	store    Store
	window   time.Duration
	interval time.Duration
	now      func() time.Time
	log      logrus.FieldLogger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSweeper creates a sweeper but does not start it.
func NewSweeper(s Store, window, interval time.Duration, log logrus.FieldLogger) *Sweeper {
	return &Sweeper{
		store:    s,
		window:   window,
		interval: interval,
		now:      time.Now,
		log:      log.WithField("component", "sweeper"),
		done:     make(chan struct{}),
	}
}

// Start begins the sweep loop. The loop exits when ctx is cancelled or
// Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.log.Debug("Dedup sweeper disabled")
		close(s.done)
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)

	s.log.Debugf("Dedup sweeper started (window=%s, interval=%s)", s.window, s.interval)
}

// Stop signals the sweeper to exit and waits for it. Stopping a sweeper
// that was never started is a no-op.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	cutoff := s.now().Add(-s.window)
	removed, err := s.store.Sweep(cutoff)
	if err != nil {
		s.log.WithError(err).Warn("Dedup sweep failed")
		return
	}
	if removed > 0 {
		s.log.Debugf("Dedup sweep removed %d lapsed states", removed)
	}
}
