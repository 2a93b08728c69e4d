package research

import "golang.org/x/sync/errgroup"

// Limiter runs at most a fixed number of functions at once. Go blocks while
// the limiter is full, so work starts in the order it was submitted.
//
// The engine builds one Limiter per recursion level. Work running under one
// limiter may submit to another one freely.
type Limiter struct {
	group errgroup.Group
}

// NewLimiter returns a Limiter admitting capacity concurrent functions.
// Capacities below one are treated as one.
func NewLimiter(capacity int) *Limiter {
	l := &Limiter{}
	l.group.SetLimit(max(capacity, 1))
	return l
}

// Go runs fn in its own goroutine once a slot is free.
func (l *Limiter) Go(fn func()) {
	l.group.Go(func() error {
		fn()
		return nil
	})
}

// Wait blocks until every submitted function has returned.
func (l *Limiter) Wait() {
	_ = l.group.Wait()
}
