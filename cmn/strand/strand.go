// Package strand implements the "main strand" serialized execution
// context described in spec §5: a single owner goroutine drains a work
// queue so that components A, B, E, F (and the spatial handlers C, D,
// which run on it to avoid locking their own internal structures) never
// need internal synchronization. I/O-thread ingress posts closures onto
// the strand instead of mutating shared state directly.
package strand

import (
	"context"
	"time"
)

type job struct {
	fn   func()
	done chan struct{}
}

// Strand is a single-goroutine serialized executor.
type Strand struct {
	queue  chan job
	stopCh chan struct{}
	stopped chan struct{}
}

func New(name string, queueDepth int) *Strand {
	s := &Strand{
		queue:   make(chan job, queueDepth),
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go s.loop(name)
	return s
}

func (s *Strand) loop(_name string) {
	defer close(s.stopped)
	for {
		select {
		case j := <-s.queue:
			j.fn()
			if j.done != nil {
				close(j.done)
			}
		case <-s.stopCh:
			// Drain whatever is already queued before exiting (spec §5:
			// "drains any pending posts, then releases the handlers").
			for {
				select {
				case j := <-s.queue:
					j.fn()
					if j.done != nil {
						close(j.done)
					}
				default:
					return
				}
			}
		}
	}
}

// Post enqueues fn to run on the strand; it never blocks the caller on
// fn's completion (spec §5: "returns immediately... never blocks").
func (s *Strand) Post(fn func()) {
	select {
	case s.queue <- job{fn: fn}:
	case <-s.stopCh:
	}
}

// PostDelay schedules fn to be posted onto the strand after d elapses —
// used for the optional apply-delay toggle (spec §6 delay-apply-loc-update).
func (s *Strand) PostDelay(d time.Duration, fn func()) {
	if d <= 0 {
		s.Post(fn)
		return
	}
	t := time.NewTimer(d)
	go func() {
		defer t.Stop()
		select {
		case <-t.C:
			s.Post(fn)
		case <-s.stopCh:
		}
	}()
}

// Sync runs fn on the strand and blocks the caller until it completes,
// or ctx is done.
func (s *Strand) Sync(ctx context.Context, fn func()) error {
	j := job{fn: fn, done: make(chan struct{})}
	select {
	case s.queue <- j:
	case <-s.stopCh:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop signals the loop to drain and exit, then blocks until it has.
func (s *Strand) Stop() {
	close(s.stopCh)
	<-s.stopped
}
