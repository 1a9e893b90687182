// Package scanner drives incremental probing of the live host document:
// it snapshots the rendered markup, extracts qualifying image candidates,
// normalizes them to deduplicated identities, and scrolls the page to
// coax lazy-loaded content into existence, backing off adaptively while
// nothing new appears.
//
// Scanning never fails hard. A broken container lookup degrades to the
// whole document, snapshot errors count as stagnant ticks, and the loop
// always reaches one of its stop conditions.
package scanner

import (
	"context"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/use-agent/mosaic/config"
	"github.com/use-agent/mosaic/dom"
	"github.com/use-agent/mosaic/models"
	"github.com/use-agent/mosaic/sched"
)

const (
	// targetReachedFraction: a known target counts as reached at 98%.
	targetReachedFraction = 0.98

	// lowYieldFraction: below 80% of a known target the scanner waits
	// longer before giving up at the bottom.
	lowYieldFraction = 0.80

	// patienceLow / patienceHigh are the at-bottom give-up windows, in
	// ticks, below and at-or-above lowYieldFraction.
	patienceLow  = 30
	patienceHigh = 15

	// targetStagnantTicks: the target-reached stop requires this many
	// consecutive stagnant ticks first.
	targetStagnantTicks = 2

	// wiggleEvery / wigglePixels: while stuck at the bottom, every Nth
	// stagnant tick scrolls up briefly to re-trigger lazy loaders.
	wiggleEvery  = 4
	wigglePixels = 200.0

	// growthEpsilon: content-height change below this is not growth.
	growthEpsilon = 4.0
)

// Scanner discovers pins in a live document. One Scanner can run many
// sessions sequentially; each Start call begins a fresh session.
type Scanner struct {
	doc       dom.Document
	sch       sched.Scheduler
	cfg       config.ScanConfig
	selectors []cascadia.Selector
}

// New creates a Scanner over the given document.
func New(doc dom.Document, sch sched.Scheduler, cfg config.ScanConfig) *Scanner {
	return &Scanner{
		doc:       doc,
		sch:       sch,
		cfg:       cfg,
		selectors: compileSelectors(cfg.Selectors),
	}
}

// Start begins a scan session. Discovered pins arrive in batches through
// onBatch; progress events through onProgress (both optional, both called
// on the scheduler's turn). The returned session exposes Done and Stop.
func (sc *Scanner) Start(ctx context.Context, opts models.ScanOptions, onBatch func(models.Batch), onProgress models.ProgressFunc) *Session {
	if opts.MinPixels == 0 {
		opts.MinPixels = sc.cfg.MinPixels
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = sc.cfg.MaxAttempts
	}
	opts.Defaults()

	s := newSession(opts, sc.cfg.BaseDelay)
	slog.Info("scan session starting", "session", s.ID, "maxAttempts", opts.MaxAttempts)

	var tick func()
	tick = func() {
		if !s.isRunning() || ctx.Err() != nil {
			if ctx.Err() != nil {
				sc.finish(s, onProgress, "context canceled")
			}
			return
		}

		s.attempts++
		if s.attempts > s.opts.MaxAttempts {
			sc.finish(s, onProgress, "attempt ceiling")
			return
		}

		newPins := sc.probe(ctx, s)
		if len(newPins) > 0 {
			for _, p := range newPins {
				s.remember(p)
			}
			if onBatch != nil {
				onBatch(models.Batch{Pins: newPins})
			}
			s.currentDelay = sc.cfg.BaseDelay
			s.stagnant = 0
		} else {
			s.stagnant++
			if d := s.currentDelay + sc.cfg.DelayStep; d <= sc.cfg.MaxDelay {
				s.currentDelay = d
			} else {
				s.currentDelay = sc.cfg.MaxDelay
			}
		}

		m, stop := sc.advance(ctx, s)
		sc.emit(s, onProgress, m, false)
		if stop != "" {
			sc.finish(s, onProgress, stop)
			return
		}

		s.armTimer(sc.sch.After(s.currentDelay, tick))
	}

	s.armTimer(sc.sch.After(0, tick))
	return s
}

// probe snapshots the document and extracts newly discovered pins.
// Errors degrade to an empty result.
func (sc *Scanner) probe(ctx context.Context, s *Session) []models.Pin {
	raw, err := sc.doc.HTML(ctx)
	if err != nil {
		slog.Debug("snapshot failed", "session", s.ID, "error", err)
		return nil
	}

	root, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		slog.Debug("snapshot parse failed", "session", s.ID, "error", err)
		return nil
	}

	// The target hint is parsed once, from the first usable snapshot.
	if s.target == nil && s.attempts == 1 {
		s.target = ParseTargetCount(goquery.NewDocumentFromNode(root))
		if s.target != nil {
			slog.Info("target hint parsed", "session", s.ID, "target", *s.target)
		}
	}

	container := findContainer(root, sc.selectors)

	var batch []models.Pin
	dom.Walk(container, func(n *html.Node) bool {
		if n.Type != html.ElementNode || n.Data != "img" {
			return true
		}
		if !validCandidate(n, container, s.opts.MinPixels) {
			return true
		}

		ref := BestSource(n)
		identity := Identity(ref)
		if identity == "" || s.seen(identity) {
			return true
		}
		if w, h := RefPixelSize(ref); (w > 0 && w < s.opts.MinPixels) || (h > 0 && h < s.opts.MinPixels) {
			return true
		}
		for _, p := range batch {
			if p.Identity == identity {
				return true
			}
		}
		batch = append(batch, models.Pin{Identity: identity, URL: ref})
		return true
	})
	return batch
}

// advance drives the document forward: scrolls toward the bottom, tracks
// content growth, wiggles while stuck, and evaluates the stop conditions.
// It returns the post-scroll metrics and a non-empty reason when the
// session should stop.
func (sc *Scanner) advance(ctx context.Context, s *Session) (dom.Metrics, string) {
	m, err := sc.doc.Metrics(ctx)
	if err != nil {
		// A degraded tick keeps the last known geometry so the progress
		// event does not claim a fully-scrolled page.
		slog.Debug("metrics read failed", "session", s.ID, "error", err)
		return s.lastMetrics, ""
	}
	s.lastMetrics = m

	if m.AtBottom() {
		if s.stagnant > 0 && s.stagnant%wiggleEvery == 0 && !s.wiggled {
			// Oscillate once per wiggle window rather than every tick, so
			// the host page is not spammed with scroll events.
			target := m.ScrollTop - wigglePixels
			if target < 0 {
				target = 0
			}
			_ = sc.doc.ScrollTo(ctx, target)
			s.wiggled = true
		} else {
			_ = sc.doc.ScrollTo(ctx, m.ContentHeight)
			s.wiggled = false
		}
	} else {
		_ = sc.doc.ScrollTo(ctx, m.ScrollTop+m.ViewportHeight*0.9)
		s.wiggled = false
	}

	grew := m.ContentHeight > s.lastHeight+growthEpsilon
	if grew {
		s.lastHeight = m.ContentHeight
		s.bottomTicks = 0
	} else if m.AtBottom() {
		s.bottomTicks++
	}

	found := s.Found()

	// Stop (a): target effectively reached, confirmed by stagnation.
	if s.target != nil && *s.target > 0 {
		if float64(found) >= float64(*s.target)*targetReachedFraction && s.stagnant >= targetStagnantTicks {
			return m, "target reached"
		}
	}

	// Stop (b): stuck at the bottom past the patience window. Patience is
	// longer while the yield is poor (or the target is unknown).
	patience := patienceHigh
	if s.target == nil || float64(found) < float64(*s.target)*lowYieldFraction {
		patience = patienceLow
	}
	if m.AtBottom() && s.bottomTicks >= patience && s.stagnant >= patience {
		return m, "stuck at bottom"
	}

	return m, ""
}

// emit delivers a progress event, suppressing duplicates.
func (sc *Scanner) emit(s *Session, onProgress models.ProgressFunc, m dom.Metrics, done bool) {
	if onProgress == nil {
		return
	}
	scroll := 0
	if m.ContentHeight > 0 {
		scroll = m.ScrollPercent()
	}
	p := models.Progress{
		Count:         s.Found(),
		Target:        s.target,
		ScrollPercent: scroll,
		Done:          done,
	}
	if s.emittedAny && p.Equal(s.lastProgress) {
		return
	}
	s.lastProgress = p
	s.emittedAny = true
	onProgress(p)
}

// finish ends the session and emits the final done event.
func (sc *Scanner) finish(s *Session, onProgress models.ProgressFunc, reason string) {
	if !s.isRunning() {
		return
	}
	s.mu.Lock()
	s.reason = reason
	s.mu.Unlock()
	slog.Info("scan session finished",
		"session", s.ID,
		"reason", reason,
		"found", s.Found(),
		"attempts", s.attempts,
	)
	p := models.Progress{
		Count:         s.Found(),
		Target:        s.target,
		ScrollPercent: s.lastProgress.ScrollPercent,
		Done:          true,
	}
	if onProgress != nil {
		s.lastProgress = p
		onProgress(p)
	}
	s.Stop()
}
