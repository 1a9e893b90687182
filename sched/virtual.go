package sched

import (
	"sort"
	"time"
)

// Virtual is a deterministic Scheduler for tests, advanced manually with
// Step. Callbacks run synchronously on the calling goroutine, in frame
// order, so tests observe every intermediate state.
type Virtual struct {
	now      time.Time
	interval time.Duration
	nextID   int
	frames   map[int]func(now time.Time)
	timers   map[int]*loopTimer
	idles    []loopIdle
}

// NewVirtual creates a virtual scheduler ticking every interval of
// simulated time.
func NewVirtual(interval time.Duration) *Virtual {
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	return &Virtual{
		now:      time.Unix(0, 0),
		interval: interval,
		frames:   make(map[int]func(now time.Time)),
		timers:   make(map[int]*loopTimer),
	}
}

// Now returns the current simulated time.
func (v *Virtual) Now() time.Time {
	return v.now
}

// Step advances simulated time by d, firing every frame tick and due
// timer along the way.
func (v *Virtual) Step(d time.Duration) {
	end := v.now.Add(d)
	for v.now.Before(end) {
		v.now = v.now.Add(v.interval)
		v.fire()
	}
}

// StepFrames advances by n frame ticks.
func (v *Virtual) StepFrames(n int) {
	for i := 0; i < n; i++ {
		v.now = v.now.Add(v.interval)
		v.fire()
	}
}

func (v *Virtual) fire() {
	type dueTimer struct {
		id int
		t  *loopTimer
	}
	var due []dueTimer
	for id, t := range v.timers {
		if !t.deadline.After(v.now) {
			due = append(due, dueTimer{id, t})
		}
	}
	// Deterministic firing order regardless of map iteration.
	sort.Slice(due, func(i, j int) bool { return due[i].id < due[j].id })
	for _, d := range due {
		delete(v.timers, d.id)
		d.t.fn()
	}

	frameIDs := make([]int, 0, len(v.frames))
	for id := range v.frames {
		frameIDs = append(frameIDs, id)
	}
	sort.Ints(frameIDs)
	for _, id := range frameIDs {
		if fn, ok := v.frames[id]; ok {
			fn(v.now)
		}
	}

	if len(v.idles) > 0 {
		idle := v.idles[0]
		v.idles = v.idles[1:]
		idle.fn(idle.budget)
	}
}

func (v *Virtual) OnFrame(fn func(now time.Time)) CancelFunc {
	id := v.nextID
	v.nextID++
	v.frames[id] = fn
	return func() { delete(v.frames, id) }
}

func (v *Virtual) After(d time.Duration, fn func()) CancelFunc {
	id := v.nextID
	v.nextID++
	v.timers[id] = &loopTimer{deadline: v.now.Add(d), fn: fn}
	return func() { delete(v.timers, id) }
}

func (v *Virtual) OnIdle(fn func(budget time.Duration), budget time.Duration) CancelFunc {
	id := v.nextID
	v.nextID++
	v.idles = append(v.idles, loopIdle{id: id, budget: budget, fn: fn})
	return func() {
		for i, idle := range v.idles {
			if idle.id == id {
				v.idles = append(v.idles[:i], v.idles[i+1:]...)
				return
			}
		}
	}
}
