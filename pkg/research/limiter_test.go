package research

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterBoundsConcurrency(t *testing.T) {
	l := NewLimiter(3)

	var inFlight, peak atomic.Int32
	for range 12 {
		l.Go(func() {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
		})
	}
	l.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Zero(t, inFlight.Load())
}

func TestLimiterStartsInSubmissionOrder(t *testing.T) {
	l := NewLimiter(1)

	var mu sync.Mutex
	var order []int
	for i := range 5 {
		l.Go(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	l.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestLimiterClampsCapacity(t *testing.T) {
	for _, capacity := range []int{0, -4} {
		l := NewLimiter(capacity)
		ran := false
		l.Go(func() { ran = true })
		l.Wait()
		assert.True(t, ran, "capacity %d", capacity)
	}
}

func TestNestedLimitersDoNotDeadlock(t *testing.T) {
	done := make(chan struct{})

	go func() {
		defer close(done)
		outer := NewLimiter(1)
		for range 2 {
			outer.Go(func() {
				inner := NewLimiter(1)
				for range 2 {
					inner.Go(func() { time.Sleep(time.Millisecond) })
				}
				inner.Wait()
			})
		}
		outer.Wait()
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("nested limiters deadlocked")
	}
}
