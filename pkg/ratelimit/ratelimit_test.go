package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCheckWithinWindow(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	l := New(3, time.Second, WithClock(clock.Now))

	var got []bool
	for i := 0; i < 4; i++ {
		got = append(got, l.Check("chart"))
		clock.Advance(100 * time.Millisecond)
	}
	assert.Equal(t, []bool{true, true, true, false}, got)

	clock.Advance(time.Second)
	assert.True(t, l.Check("chart"), "window elapsed, call should be allowed again")
}

func TestCheckSlidesWithOldestEntry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	l := New(2, time.Second, WithClock(clock.Now))

	assert.True(t, l.Check("a"))
	clock.Advance(600 * time.Millisecond)
	assert.True(t, l.Check("a"))
	assert.False(t, l.Check("a"))

	// first entry ages out, second is still inside the window
	clock.Advance(500 * time.Millisecond)
	assert.True(t, l.Check("a"))
	assert.False(t, l.Check("a"))
}

func TestDeniedCallsAreNotRecorded(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	l := New(1, time.Second, WithClock(clock.Now))

	assert.True(t, l.Check("a"))
	for i := 0; i < 5; i++ {
		assert.False(t, l.Check("a"))
	}

	clock.Advance(time.Second)
	assert.Equal(t, 1, l.Remaining("a"))
}

func TestWindowsAreIndependent(t *testing.T) {
	l := New(1, time.Minute)

	assert.True(t, l.Check("a"))
	assert.False(t, l.Check("a"))
	assert.True(t, l.Check("b"))
}

func TestResetAndRemaining(t *testing.T) {
	l := New(3, time.Minute)

	assert.Equal(t, 3, l.Remaining("a"))
	l.Check("a")
	l.Check("a")
	assert.Equal(t, 1, l.Remaining("a"))

	l.Reset("a")
	assert.Equal(t, 3, l.Remaining("a"))
}

func TestZeroBudgetDeniesEverything(t *testing.T) {
	l := New(0, time.Second)
	assert.False(t, l.Check("a"))
	assert.Equal(t, 0, l.Remaining("a"))
}

func TestConcurrentChecksNeverExceedBudget(t *testing.T) {
	l := New(10, time.Hour)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Check("shared") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, allowed)
}
