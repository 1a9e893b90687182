package sched

import (
	"context"
	"sync"
	"time"
)

// Loop is the production Scheduler, driven by a single goroutine ticking
// at the configured frame interval. All callbacks run on that goroutine.
type Loop struct {
	mu      sync.Mutex
	nextID  int
	frames  map[int]func(now time.Time)
	timers  map[int]*loopTimer
	idles   []loopIdle
	stopped bool

	cancel context.CancelFunc
	done   chan struct{}
}

type loopTimer struct {
	deadline time.Time
	fn       func()
}

type loopIdle struct {
	id     int
	budget time.Duration
	fn     func(budget time.Duration)
}

// NewLoop starts a frame loop with the given tick interval. Stop it via
// Stop; pending callbacks after Stop are discarded.
func NewLoop(interval time.Duration) *Loop {
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Loop{
		frames: make(map[int]func(now time.Time)),
		timers: make(map[int]*loopTimer),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go l.run(ctx, interval)
	return l
}

// Stop halts the loop and waits for the goroutine to exit.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
	l.cancel()
	<-l.done
}

func (l *Loop) OnFrame(fn func(now time.Time)) CancelFunc {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextID
	l.nextID++
	l.frames[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.frames, id)
	}
}

func (l *Loop) After(d time.Duration, fn func()) CancelFunc {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextID
	l.nextID++
	l.timers[id] = &loopTimer{deadline: time.Now().Add(d), fn: fn}
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.timers, id)
	}
}

func (l *Loop) OnIdle(fn func(budget time.Duration), budget time.Duration) CancelFunc {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextID
	l.nextID++
	l.idles = append(l.idles, loopIdle{id: id, budget: budget, fn: fn})
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, idle := range l.idles {
			if idle.id == id {
				l.idles = append(l.idles[:i], l.idles[i+1:]...)
				return
			}
		}
	}
}

func (l *Loop) run(ctx context.Context, interval time.Duration) {
	defer close(l.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.tick(now)
		}
	}
}

// tick fires due timers, then frame callbacks, then at most one idle
// callback. Callback slices are snapshotted under the lock and invoked
// outside it so callbacks may (de)register freely.
func (l *Loop) tick(now time.Time) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}

	var due []func()
	for id, t := range l.timers {
		if !t.deadline.After(now) {
			due = append(due, t.fn)
			delete(l.timers, id)
		}
	}

	frames := make([]func(now time.Time), 0, len(l.frames))
	for _, fn := range l.frames {
		frames = append(frames, fn)
	}

	var idle *loopIdle
	if len(l.idles) > 0 {
		i := l.idles[0]
		l.idles = l.idles[1:]
		idle = &i
	}
	l.mu.Unlock()

	for _, fn := range due {
		fn()
	}
	for _, fn := range frames {
		fn(now)
	}
	if idle != nil {
		idle.fn(idle.budget)
	}
}
