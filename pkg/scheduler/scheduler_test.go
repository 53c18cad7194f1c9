package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakePreloader struct {
	mu     sync.Mutex
	order  []string
	loaded map[string]bool
	fail   map[string]bool
	gates  map[string]chan struct{}
	active int
	peak   int
}

func newFakePreloader() *fakePreloader {
	return &fakePreloader{
		loaded: make(map[string]bool),
		fail:   make(map[string]bool),
		gates:  make(map[string]chan struct{}),
	}
}

func (p *fakePreloader) gate(id string) chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan struct{})
	p.gates[id] = ch
	return ch
}

func (p *fakePreloader) Preload(ctx context.Context, id string) error {
	p.mu.Lock()
	p.order = append(p.order, id)
	p.active++
	if p.active > p.peak {
		p.peak = p.active
	}
	gate := p.gates[id]
	p.mu.Unlock()

	if gate != nil {
		<-gate
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.active--
	if p.fail[id] {
		return errors.New("preload failed")
	}
	p.loaded[id] = true
	return nil
}

func (p *fakePreloader) IsLoaded(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded[id]
}

func (p *fakePreloader) Order() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.order...)
}

func (p *fakePreloader) started(id string) bool {
	for _, got := range p.Order() {
		if got == id {
			return true
		}
	}
	return false
}

func waitIdle(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
}

func TestHighPriorityDrainsBeforeLow(t *testing.T) {
	p := newFakePreloader()
	release := p.gate("first")
	s := New(context.Background(), p)

	s.AddLowPriority("first")
	require.Eventually(t, func() bool { return p.started("first") }, time.Second, time.Millisecond)

	s.AddLowPriority("c")
	s.AddHighPriority("a")
	s.AddHighPriority("b")

	high, low := s.Pending()
	assert.Equal(t, 2, high)
	assert.Equal(t, 1, low)
	assert.True(t, s.Draining())

	close(release)
	waitIdle(t, s)

	assert.Equal(t, []string{"first", "a", "b", "c"}, p.Order())
	assert.False(t, s.Draining())
}

func TestFailedPreloadDoesNotStopDraining(t *testing.T) {
	p := newFakePreloader()
	p.fail["a"] = true
	core, logs := observer.New(zap.WarnLevel)
	s := New(context.Background(), p, WithLogger(zap.New(core)))

	release := p.gate("hold")
	s.AddHighPriority("hold")
	require.Eventually(t, func() bool { return p.started("hold") }, time.Second, time.Millisecond)
	s.AddHighPriority("a")
	s.AddHighPriority("b")
	s.AddLowPriority("c")
	close(release)
	waitIdle(t, s)

	assert.Equal(t, []string{"hold", "a", "b", "c"}, p.Order())
	assert.False(t, p.IsLoaded("a"))
	assert.True(t, p.IsLoaded("c"))
	assert.Equal(t, 1, logs.FilterMessage("Widget preload failed").Len())
}

func TestDuplicateAndLoadedIdsAreIgnored(t *testing.T) {
	p := newFakePreloader()
	p.loaded["done"] = true
	release := p.gate("x")
	s := New(context.Background(), p)

	s.AddLowPriority("x")
	require.Eventually(t, func() bool { return p.started("x") }, time.Second, time.Millisecond)

	s.AddHighPriority("x") // in progress
	s.AddLowPriority("y")
	s.AddHighPriority("y") // already queued
	s.AddHighPriority("done")

	high, low := s.Pending()
	assert.Equal(t, 0, high)
	assert.Equal(t, 1, low)

	close(release)
	waitIdle(t, s)
	assert.Equal(t, []string{"x", "y"}, p.Order())
}

func TestSingleDrainLoop(t *testing.T) {
	p := newFakePreloader()
	s := New(context.Background(), p)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i%26))
			if i%2 == 0 {
				s.AddHighPriority(id)
			} else {
				s.AddLowPriority(id)
			}
		}(i)
	}
	wg.Wait()
	waitIdle(t, s)

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, 1, p.peak)
	seen := make(map[string]int)
	for _, id := range p.order {
		seen[id]++
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
}

func TestDrainRestartsAfterIdle(t *testing.T) {
	p := newFakePreloader()
	s := New(context.Background(), p)

	s.AddHighPriority("a")
	waitIdle(t, s)
	s.AddLowPriority("b")
	waitIdle(t, s)

	assert.Equal(t, []string{"a", "b"}, p.Order())
}

func TestWaitHonoursContext(t *testing.T) {
	p := newFakePreloader()
	release := p.gate("slow")
	s := New(context.Background(), p)
	s.AddHighPriority("slow")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Wait(ctx), context.DeadlineExceeded)

	close(release)
	waitIdle(t, s)
}

func TestWaitOnIdleScheduler(t *testing.T) {
	s := New(context.Background(), newFakePreloader())
	assert.NoError(t, s.Wait(context.Background()))
}
