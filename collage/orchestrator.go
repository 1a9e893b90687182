// Package collage renders a pool of discovered pins as an infinite,
// multi-column, auto-scrolling wall. Each column owns a
// create → load → reveal → recycle pipeline; the orchestrator runs a
// SPRINT/COAST/STABLE phase machine that fixes how much pipeline work
// each frame may do, distributes that budget round-robin across columns,
// and commits every column's scroll transform once per frame.
package collage

import (
	"context"
	"log/slog"
	"time"

	"github.com/use-agent/mosaic/config"
	"github.com/use-agent/mosaic/models"
	"github.com/use-agent/mosaic/sched"
)

// Phase is a stage of the loading schedule. It advances monotonically
// within one render session and resets only on a fresh RenderPins call.
type Phase int

const (
	// PhaseSprint fills aggressively toward first paint.
	PhaseSprint Phase = iota
	// PhaseCoast works gently every few frames once content is visible.
	PhaseCoast
	// PhaseStable performs only residual loading and recycling upkeep.
	PhaseStable
)

func (p Phase) String() string {
	switch p {
	case PhaseSprint:
		return "sprint"
	case PhaseCoast:
		return "coast"
	default:
		return "stable"
	}
}

// frameBudget is the per-phase work allowance.
type frameBudget struct {
	creates   int // placeholder creations per heavy frame
	maxLoads  int // concurrent loads across all columns
	reveals   int // reveals per heavy frame
	frameSkip int // heavy work runs every Nth frame
}

var budgets = map[Phase]frameBudget{
	PhaseSprint: {creates: 4, maxLoads: 8, reveals: 3, frameSkip: 1},
	PhaseCoast:  {creates: 2, maxLoads: 4, reveals: 1, frameSkip: 3},
	PhaseStable: {creates: 1, maxLoads: 2, reveals: 1, frameSkip: 6},
}

// minVisibleForCoast is the per-column visible-item count that ends
// SPRINT.
const minVisibleForCoast = 4

// fillSafetyCap bounds the cross-column fill-in pass.
const fillSafetyCap = 500

// minSourceDepth: a pool smaller than this per column is repeated so the
// pipeline always has enough depth to reach stability.
const minSourceDepth = 12

// Orchestrator owns the columns, the phase machine, and the frame
// callback. All engine state is mutated only on the scheduler's turn.
type Orchestrator struct {
	cfg     config.RenderConfig
	sch     sched.Scheduler
	loader  Loader
	factory SurfaceFactory

	ctx         context.Context
	columns     []*Column
	phase       Phase
	frameCount  int
	paused      bool
	fillDone    bool
	nextToken   uint64
	tokenOwner  map[uint64]*Column
	cancelFrame sched.CancelFunc
}

// NewOrchestrator wires the render engine. RenderPins must be called to
// start producing frames.
func NewOrchestrator(cfg config.RenderConfig, sch sched.Scheduler, loader Loader, factory SurfaceFactory) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		sch:        sch,
		loader:     loader,
		factory:    factory,
		tokenOwner: make(map[uint64]*Column),
	}
}

// Phase returns the current phase.
func (o *Orchestrator) Phase() Phase {
	return o.phase
}

// Pause stops scroll advancement; pipeline work continues.
func (o *Orchestrator) Pause() { o.paused = true }

// Resume restarts scroll advancement.
func (o *Orchestrator) Resume() { o.paused = false }

// RenderPins (re)builds the collage from the pool: it tears down any
// previous columns, assigns the pool round-robin across numColumns
// lanes, resets the phase to SPRINT, and starts the frame callback.
// Calling it again is safe and starts a fresh render session.
func (o *Orchestrator) RenderPins(ctx context.Context, pool []models.Pin, numColumns int, viewportHeight float64) error {
	o.Stop()

	if len(pool) == 0 || numColumns <= 0 {
		return models.NewError(models.ErrCodeInvalidInput, "empty pool or no columns", nil)
	}

	o.ctx = ctx
	o.phase = PhaseSprint
	o.frameCount = 0
	o.fillDone = false
	o.tokenOwner = make(map[uint64]*Column)

	assigned := assignRoundRobin(pool, numColumns)
	colCfg := columnConfig{
		speed:      o.cfg.ScrollSpeed,
		minPending: o.cfg.MinPending,
		maxLoading: o.cfg.MaxLoading,
	}

	o.columns = make([]*Column, 0, numColumns)
	for i := 0; i < numColumns; i++ {
		surface, err := o.factory(i, float64(o.cfg.ColumnWidth))
		if err != nil {
			o.Stop()
			return err
		}
		o.columns = append(o.columns,
			newColumn(i, float64(o.cfg.ColumnWidth), viewportHeight, surface, assigned[i], colCfg))
	}

	slog.Info("render session starting",
		"pool", len(pool),
		"columns", numColumns,
		"perColumn", len(assigned[0]),
	)

	o.cancelFrame = o.sch.OnFrame(o.onFrame)
	return nil
}

// Stop cancels the frame callback and discards all columns.
func (o *Orchestrator) Stop() {
	if o.cancelFrame != nil {
		o.cancelFrame()
		o.cancelFrame = nil
	}
	for _, c := range o.columns {
		c.teardown()
	}
	o.columns = nil
}

// assignRoundRobin deals the pool across columns. Small pools repeat so
// every column reaches a workable pipeline depth.
func assignRoundRobin(pool []models.Pin, numColumns int) [][]models.Pin {
	out := make([][]models.Pin, numColumns)
	for i, p := range pool {
		col := i % numColumns
		out[col] = append(out[col], p)
	}
	for col := range out {
		if len(out[col]) == 0 {
			out[col] = append(out[col], pool[col%len(pool)])
		}
		orig := len(out[col])
		for len(out[col]) < minSourceDepth {
			out[col] = append(out[col], out[col][len(out[col])%orig])
		}
	}
	return out
}

// onFrame is the per-frame driver. Intra-frame ordering is fixed: drain
// load completions, then creates, then load starts, then reveals, then
// the unconditional scroll commit. Creates from this frame only become
// load-eligible next frame, so no column's fresh placeholder can jump
// the queue within a single frame.
func (o *Orchestrator) onFrame(time.Time) {
	if o.ctx != nil && o.ctx.Err() != nil {
		o.Stop()
		return
	}

	o.frameCount++
	o.drainResults()

	b := budgets[o.phase]
	heavy := b.frameSkip <= 1 || o.frameCount%b.frameSkip == 0
	if heavy {
		if o.phase != PhaseStable || o.anyColumnLoading() {
			o.distributeCreates(b.creates)
			o.distributeLoads(b.maxLoads)
			o.distributeReveals(b.reveals)
		}
		o.maybeFillIn()
	}

	if !o.paused {
		for _, c := range o.columns {
			c.updateScroll()
		}
	}

	o.advancePhase()
}

// drainResults routes every completed load to its owning column.
func (o *Orchestrator) drainResults() {
	for {
		select {
		case res := <-o.loader.Results():
			col, ok := o.tokenOwner[res.Token]
			if !ok {
				continue // stale result from a torn-down session
			}
			delete(o.tokenOwner, res.Token)
			col.onLoadResult(res)
		default:
			return
		}
	}
}

// distributeCreates spends the create budget one placeholder at a time,
// round-robin across columns, so fill-in stays even.
func (o *Orchestrator) distributeCreates(budget int) {
	for budget > 0 {
		progressed := false
		for _, c := range o.columns {
			if budget == 0 {
				break
			}
			if c.createOne(o.frameCount) {
				budget--
				progressed = true
			}
		}
		if !progressed {
			return
		}
	}
}

// distributeLoads starts loads round-robin until the phase's concurrent
// ceiling is reached.
func (o *Orchestrator) distributeLoads(maxLoads int) {
	inFlight := 0
	for _, c := range o.columns {
		inFlight += len(c.loading)
	}

	for inFlight < maxLoads {
		progressed := false
		for _, c := range o.columns {
			if inFlight >= maxLoads {
				break
			}
			if !c.canStartLoad(o.frameCount) {
				continue
			}
			o.nextToken++
			token := o.nextToken
			item := c.beginLoad(token)
			o.tokenOwner[token] = c
			o.loader.Load(o.ctx, token, item.pin.URL)
			inFlight++
			progressed = true
		}
		if !progressed {
			return
		}
	}
}

// distributeReveals spends the reveal budget round-robin.
func (o *Orchestrator) distributeReveals(budget int) {
	for budget > 0 {
		progressed := false
		for _, c := range o.columns {
			if budget == 0 {
				break
			}
			if c.revealOne() {
				budget--
				progressed = true
			}
		}
		if !progressed {
			return
		}
	}
}

// anyColumnLoading reports whether residual pipeline work remains.
func (o *Orchestrator) anyColumnLoading() bool {
	for _, c := range o.columns {
		if !c.isDoneLoading {
			return true
		}
	}
	return false
}

// maybeFillIn runs the one-time cross-column fill-in: once every column
// has drained its pipeline, clone already-loaded images into columns
// still short of the stability height, skipping a column's own
// duplicates where possible. A safety cap guarantees termination.
func (o *Orchestrator) maybeFillIn() {
	if o.fillDone {
		return
	}
	for _, c := range o.columns {
		if !c.isDoneLoading || c.pending() > 0 {
			return
		}
	}
	o.fillDone = true

	var loaded []visibleItem
	seen := make(map[string]bool)
	for _, c := range o.columns {
		for _, v := range c.loadedAspects() {
			if seen[v.pin.Identity] {
				continue
			}
			seen[v.pin.Identity] = true
			loaded = append(loaded, v)
		}
	}
	if len(loaded) == 0 {
		return
	}

	cloned := 0
	next := 0
	for iter := 0; iter < fillSafetyCap; iter++ {
		target := o.shortestUnderfilledColumn()
		if target == nil {
			break
		}

		// Prefer an image the column does not already show.
		pick := -1
		for probe := 0; probe < len(loaded); probe++ {
			idx := (next + probe) % len(loaded)
			if !target.hasIdentity(loaded[idx].pin.Identity) {
				pick = idx
				break
			}
		}
		if pick == -1 {
			pick = next % len(loaded)
		}
		next = pick + 1

		src := loaded[pick]
		handle, err := target.surface.Create(src.pin)
		if err != nil {
			slog.Debug("fill-in clone failed", "column", target.index, "error", err)
			break
		}
		target.appendVisible(visibleItem{
			pin:    src.pin,
			handle: handle,
			height: target.width / src.aspect,
			aspect: src.aspect,
		})
		cloned++
	}

	if cloned > 0 {
		slog.Info("fill-in pass complete", "clones", cloned)
	}
}

// shortestUnderfilledColumn picks the most starved column still below
// the stability bound, or nil when every column is tall enough.
func (o *Orchestrator) shortestUnderfilledColumn() *Column {
	var target *Column
	for _, c := range o.columns {
		if !c.needsFill() {
			continue
		}
		if target == nil || c.totalHeight < target.totalHeight {
			target = c
		}
	}
	return target
}

// advancePhase applies the monotonic transition rules.
func (o *Orchestrator) advancePhase() {
	switch o.phase {
	case PhaseSprint:
		for _, c := range o.columns {
			if len(c.items) < minVisibleForCoast && !c.isDoneLoading {
				return
			}
		}
		o.phase = PhaseCoast
		slog.Info("phase transition", "phase", o.phase.String(), "frame", o.frameCount)
	case PhaseCoast:
		for _, c := range o.columns {
			if !c.isStable && !(c.isDoneLoading && o.fillDone) {
				return
			}
		}
		o.phase = PhaseStable
		slog.Info("phase transition", "phase", o.phase.String(), "frame", o.frameCount)
	}
}
