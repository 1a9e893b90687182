package scanner

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/use-agent/mosaic/dom"
	"github.com/use-agent/mosaic/models"
	"github.com/use-agent/mosaic/sched"
)

// Session is one scan of one page context. It is created by
// Scanner.Start and mutated only on the scanner's tick turns, except for
// the running flag which Stop may flip from any goroutine.
type Session struct {
	// ID correlates log lines for one scan.
	ID string

	opts   models.ScanOptions
	target *int

	found map[string]struct{}
	pins  []models.Pin // discovery order

	attempts     int
	currentDelay time.Duration
	stagnant     int // consecutive ticks yielding no new items
	bottomTicks  int // consecutive at-bottom ticks without content growth
	lastHeight   float64
	lastMetrics  dom.Metrics // last successful geometry read
	wiggled      bool

	lastProgress models.Progress
	emittedAny   bool

	mu          sync.Mutex
	running     bool
	reason      string
	cancelTimer sched.CancelFunc
	done        chan struct{}
}

func newSession(opts models.ScanOptions, baseDelay time.Duration) *Session {
	return &Session{
		ID:           uuid.NewString(),
		opts:         opts,
		target:       opts.TargetHint,
		found:        make(map[string]struct{}),
		currentDelay: baseDelay,
		running:      true,
		done:         make(chan struct{}),
	}
}

// Done is closed when the session has finished or been stopped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Found returns the number of unique identities discovered so far.
func (s *Session) Found() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.found)
}

// Pins returns the discovered pins in discovery order.
func (s *Session) Pins() []models.Pin {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Pin, len(s.pins))
	copy(out, s.pins)
	return out
}

// Reason returns why the session stopped, or "" while running.
func (s *Session) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Stop halts the session. The final progress event still fires.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancelTimer
	s.cancelTimer = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	close(s.done)
}

// isRunning reports whether the session is still live.
func (s *Session) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// armTimer records the pending re-arm cancel func.
func (s *Session) armTimer(c sched.CancelFunc) {
	s.mu.Lock()
	if !s.running {
		// Lost the race with Stop; drop the timer immediately.
		s.mu.Unlock()
		c()
		return
	}
	s.cancelTimer = c
	s.mu.Unlock()
}

// remember records a pin under the session's seen set.
func (s *Session) remember(p models.Pin) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.found[p.Identity] = struct{}{}
	s.pins = append(s.pins, p)
}

// seen reports whether the identity was already found this session.
func (s *Session) seen(identity string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.found[identity]
	return ok
}
