package collage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/use-agent/mosaic/config"
	"github.com/use-agent/mosaic/models"
	"github.com/use-agent/mosaic/sched"
)

// fakeSurface records every operation so tests can assert on the DOM
// footprint without a browser.
type fakeSurface struct {
	nextHandle int
	cells      map[ItemHandle]*fakeCell
	offsets    int
	lastOffset float64
}

type fakeCell struct {
	pin     models.Pin
	top     float64
	height  float64
	visible bool
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{cells: make(map[ItemHandle]*fakeCell)}
}

func (s *fakeSurface) Create(pin models.Pin) (ItemHandle, error) {
	s.nextHandle++
	h := ItemHandle(s.nextHandle)
	s.cells[h] = &fakeCell{pin: pin}
	return h, nil
}

func (s *fakeSurface) Reveal(h ItemHandle, localTop, height float64) {
	if c, ok := s.cells[h]; ok {
		c.top, c.height, c.visible = localTop, height, true
	}
}

func (s *fakeSurface) Move(h ItemHandle, localTop float64) {
	if c, ok := s.cells[h]; ok {
		c.top = localTop
	}
}

func (s *fakeSurface) Remove(h ItemHandle) {
	delete(s.cells, h)
}

func (s *fakeSurface) SetOffset(offset float64) {
	s.offsets++
	s.lastOffset = offset
}

// fakeLoader holds requested loads until the test completes them.
type fakeLoader struct {
	results chan LoadResult
	pending []uint64
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{results: make(chan LoadResult, 256)}
}

func (l *fakeLoader) Load(_ context.Context, token uint64, _ string) {
	l.pending = append(l.pending, token)
}

func (l *fakeLoader) Results() <-chan LoadResult {
	return l.results
}

// completeAll resolves every pending load with the given dimensions.
func (l *fakeLoader) completeAll(w, h int) {
	for _, token := range l.pending {
		l.results <- LoadResult{Token: token, Width: w, Height: h}
	}
	l.pending = nil
}

// failAll resolves every pending load as an error.
func (l *fakeLoader) failAll() {
	for _, token := range l.pending {
		l.results <- LoadResult{Token: token, Err: fmt.Errorf("decode failed")}
	}
	l.pending = nil
}

func testRenderConfig() config.RenderConfig {
	return config.RenderConfig{
		ColumnWidth:   236,
		ScrollSpeed:   0.6,
		MinPending:    8,
		MaxLoading:    3,
		FrameInterval: 16 * time.Millisecond,
	}
}

func testPool(n int) []models.Pin {
	out := make([]models.Pin, n)
	for i := range out {
		out[i] = models.Pin{
			Identity: fmt.Sprintf("pin%03d", i),
			URL:      fmt.Sprintf("https://c.test/originals/pin%03d.jpg", i),
		}
	}
	return out
}

// --- Column unit tests -------------------------------------------------

func testColumn(source []models.Pin, viewport float64) (*Column, *fakeSurface) {
	surface := newFakeSurface()
	c := newColumn(0, 236, viewport, surface, source, columnConfig{
		speed:      0.6,
		minPending: 8,
		maxLoading: 3,
	})
	return c, surface
}

func TestColumn_ThreePinPipeline(t *testing.T) {
	c, surface := testColumn(testPool(3), 800)

	// With minPending = 8 all three creates happen immediately.
	frame := 1
	for c.createOne(frame) {
	}
	if got := c.pending(); got != 3 {
		t.Fatalf("pending after creates = %d, want 3", got)
	}
	if c.isDoneLoading {
		t.Fatal("isDoneLoading before any reveal")
	}

	// Loads start up to the concurrency ceiling, next frame.
	frame++
	var tokens []uint64
	for tok := uint64(1); c.canStartLoad(frame); tok++ {
		c.beginLoad(tok)
		tokens = append(tokens, tok)
	}
	if len(tokens) != 3 {
		t.Fatalf("started %d loads, want 3 (ceiling)", len(tokens))
	}

	for _, tok := range tokens {
		c.onLoadResult(LoadResult{Token: tok, Width: 200, Height: 300})
	}
	if len(c.revealQueue) != 3 {
		t.Fatalf("revealQueue = %d, want 3", len(c.revealQueue))
	}
	if c.isDoneLoading {
		t.Fatal("isDoneLoading before reveals")
	}

	// Done only after every assigned pin has been revealed once.
	for i := 0; i < 3; i++ {
		if c.isDoneLoading {
			t.Fatalf("isDoneLoading after %d of 3 reveals", i)
		}
		if !c.revealOne() {
			t.Fatalf("revealOne %d returned false", i)
		}
	}
	if !c.isDoneLoading {
		t.Fatal("isDoneLoading should be true after all reveals")
	}

	// Display height scales the natural aspect to the lane width.
	wantHeight := 236.0 * 300.0 / 200.0
	if got := c.items[0].height; got != wantHeight {
		t.Errorf("display height = %v, want %v", got, wantHeight)
	}
	if len(surface.cells) != 3 {
		t.Errorf("surface cells = %d, want 3", len(surface.cells))
	}
}

func TestColumn_PendingCeilingThrottlesCreates(t *testing.T) {
	c, _ := testColumn(testPool(40), 800)

	created := 0
	for c.createOne(1) {
		created++
	}
	if created != 8 {
		t.Errorf("created %d placeholders, want minPending (8)", created)
	}
	if c.needsCreate() {
		t.Error("needsCreate should be false at the pending ceiling")
	}
}

func TestColumn_LoadFailureDiscardsPlaceholder(t *testing.T) {
	c, surface := testColumn(testPool(1), 800)

	c.createOne(1)
	c.beginLoad(7)
	c.onLoadResult(LoadResult{Token: 7, Err: fmt.Errorf("boom")})

	if len(surface.cells) != 0 {
		t.Errorf("failed load left %d cells on the surface", len(surface.cells))
	}
	if len(c.revealQueue) != 0 || len(c.loading) != 0 {
		t.Error("failed load left pipeline entries")
	}
	if !c.isDoneLoading {
		t.Error("a failed-out column should still finish")
	}
}

func TestColumn_RecyclingBound(t *testing.T) {
	for _, direction := range []string{"down", "up"} {
		t.Run(direction, func(t *testing.T) {
			c, surface := testColumn(testPool(12), 400)
			if direction == "up" {
				c.speed = -c.speed
			}

			// Reveal enough content to pass the 2x-viewport stability bound.
			for i := 0; i < 12; i++ {
				h, _ := surface.Create(c.source[i])
				c.appendVisible(visibleItem{pin: c.source[i], handle: h, height: 150, aspect: 1.5})
			}
			if !c.isStable {
				t.Fatal("column should be stable")
			}

			floor, ceiling := len(c.items), len(c.items)

			// Scroll an arbitrarily large distance.
			for i := 0; i < 50000; i++ {
				c.updateScroll()
				if n := len(c.items); n < floor || n > ceiling {
					t.Fatalf("item count %d escaped [%d, %d] after %d frames", n, floor, ceiling, i)
				}
				if n := len(surface.cells); n != ceiling {
					t.Fatalf("surface cell count %d changed after %d frames", n, i)
				}
			}

			// Items must still tile the visible window with no gap at the
			// leading edge.
			window := c.trackOffset
			first := c.items[0]
			if first.localTop > window+c.viewport {
				t.Error("content lost contact with the visible window")
			}
		})
	}
}

func TestColumn_ScrollIsOneTransformWrite(t *testing.T) {
	c, surface := testColumn(testPool(4), 800)
	for i := 0; i < 100; i++ {
		c.updateScroll()
	}
	if surface.offsets != 100 {
		t.Errorf("%d transform writes for 100 ticks, want 100", surface.offsets)
	}
}

// --- Orchestrator tests ------------------------------------------------

type orchTest struct {
	orch     *Orchestrator
	loader   *fakeLoader
	surfaces []*fakeSurface
	v        *sched.Virtual
}

func newOrchTest(t *testing.T) *orchTest {
	t.Helper()
	ot := &orchTest{
		loader: newFakeLoader(),
		v:      sched.NewVirtual(16 * time.Millisecond),
	}
	factory := func(index int, width float64) (Surface, error) {
		s := newFakeSurface()
		ot.surfaces = append(ot.surfaces, s)
		return s, nil
	}
	ot.orch = NewOrchestrator(testRenderConfig(), ot.v, ot.loader, factory)
	return ot
}

// pump advances one frame and completes any loads it started.
func (ot *orchTest) pump(w, h int) {
	ot.v.StepFrames(1)
	ot.loader.completeAll(w, h)
}

func TestOrchestrator_PhaseMonotonic(t *testing.T) {
	ot := newOrchTest(t)
	if err := ot.orch.RenderPins(context.Background(), testPool(30), 3, 400); err != nil {
		t.Fatalf("RenderPins: %v", err)
	}

	if ot.orch.Phase() != PhaseSprint {
		t.Fatalf("initial phase = %v, want sprint", ot.orch.Phase())
	}

	seen := []Phase{PhaseSprint}
	for i := 0; i < 5000 && ot.orch.Phase() != PhaseStable; i++ {
		ot.pump(200, 300)
		p := ot.orch.Phase()
		if p < seen[len(seen)-1] {
			t.Fatalf("phase regressed: %v after %v", p, seen[len(seen)-1])
		}
		if p != seen[len(seen)-1] {
			seen = append(seen, p)
		}
	}

	if ot.orch.Phase() != PhaseStable {
		t.Fatalf("never reached stable; phases seen: %v", seen)
	}
	if len(seen) != 3 {
		t.Errorf("phase sequence %v, want [sprint coast stable]", seen)
	}
}

func TestOrchestrator_CreatedItemLoadsNextFrame(t *testing.T) {
	ot := newOrchTest(t)
	if err := ot.orch.RenderPins(context.Background(), testPool(20), 1, 400); err != nil {
		t.Fatalf("RenderPins: %v", err)
	}

	ot.v.StepFrames(1)
	col := ot.orch.columns[0]
	if len(col.loadQueue) == 0 {
		t.Fatal("first frame created nothing")
	}
	if len(col.loading) != 0 {
		t.Error("a just-created item started loading in the same frame")
	}

	ot.v.StepFrames(1)
	if len(col.loading) == 0 {
		t.Error("no loads started on the following frame")
	}
}

func TestOrchestrator_ScrollRunsEveryFrame(t *testing.T) {
	ot := newOrchTest(t)
	if err := ot.orch.RenderPins(context.Background(), testPool(10), 2, 400); err != nil {
		t.Fatalf("RenderPins: %v", err)
	}

	ot.v.StepFrames(50)
	for i, s := range ot.surfaces {
		if s.offsets != 50 {
			t.Errorf("column %d: %d transform writes for 50 frames, want 50", i, s.offsets)
		}
	}

	ot.orch.Pause()
	ot.v.StepFrames(10)
	if ot.surfaces[0].offsets != 50 {
		t.Error("paused collage kept scrolling")
	}
	ot.orch.Resume()
	ot.v.StepFrames(1)
	if ot.surfaces[0].offsets != 51 {
		t.Error("resume did not restart scrolling")
	}
}

func TestOrchestrator_RenderPinsIdempotent(t *testing.T) {
	ot := newOrchTest(t)
	ctx := context.Background()

	if err := ot.orch.RenderPins(ctx, testPool(12), 2, 400); err != nil {
		t.Fatalf("first RenderPins: %v", err)
	}
	for i := 0; i < 50; i++ {
		ot.pump(200, 300)
	}
	firstSurfaces := append([]*fakeSurface(nil), ot.surfaces...)

	if err := ot.orch.RenderPins(ctx, testPool(12), 3, 400); err != nil {
		t.Fatalf("second RenderPins: %v", err)
	}

	for _, s := range firstSurfaces {
		if len(s.cells) != 0 {
			t.Errorf("previous render left %d cells behind", len(s.cells))
		}
	}
	if ot.orch.Phase() != PhaseSprint {
		t.Errorf("phase after re-render = %v, want sprint", ot.orch.Phase())
	}
	if len(ot.orch.columns) != 3 {
		t.Errorf("columns after re-render = %d, want 3", len(ot.orch.columns))
	}
}

func TestOrchestrator_FailedLoadsDoNotStall(t *testing.T) {
	ot := newOrchTest(t)
	if err := ot.orch.RenderPins(context.Background(), testPool(6), 2, 400); err != nil {
		t.Fatalf("RenderPins: %v", err)
	}

	for i := 0; i < 2000; i++ {
		ot.v.StepFrames(1)
		ot.loader.failAll()
		allDone := true
		for _, c := range ot.orch.columns {
			if !c.isDoneLoading {
				allDone = false
			}
		}
		if allDone {
			break
		}
	}

	for i, c := range ot.orch.columns {
		if !c.isDoneLoading {
			t.Errorf("column %d never finished despite failures", i)
		}
	}
	for i, s := range ot.surfaces {
		if len(s.cells) != 0 {
			t.Errorf("column %d kept %d placeholders for failed loads", i, len(s.cells))
		}
	}
}

func TestOrchestrator_FillInTopsUpShortColumns(t *testing.T) {
	ot := newOrchTest(t)
	cfg := testRenderConfig()

	// Build two finished columns directly: one tall and stable, one short.
	tall := newColumn(0, 236, 400, newFakeSurface(), nil, columnConfig{speed: 0.6, minPending: 8, maxLoading: 3})
	short := newColumn(1, 236, 400, newFakeSurface(), nil, columnConfig{speed: 0.6, minPending: 8, maxLoading: 3})
	tall.isDoneLoading = true
	short.isDoneLoading = true

	for _, pin := range testPool(5) {
		h, _ := tall.surface.Create(pin)
		tall.appendVisible(visibleItem{pin: pin, handle: h, height: 200, aspect: 1.18})
	}
	if !tall.isStable {
		t.Fatal("tall column should be stable")
	}

	ot.orch.cfg = cfg
	ot.orch.columns = []*Column{tall, short}
	ot.orch.maybeFillIn()

	if !ot.orch.fillDone {
		t.Fatal("fill-in did not run")
	}
	if short.needsFill() {
		t.Errorf("short column still under bound: height %v", short.totalHeight)
	}
	if len(short.items) == 0 {
		t.Fatal("no clones appended")
	}

	// Clones favor images the column does not already show.
	seen := map[string]int{}
	for _, v := range short.items {
		seen[v.pin.Identity]++
	}
	if len(seen) < 2 {
		t.Errorf("fill-in reused one identity only: %v", seen)
	}
}

func TestOrchestrator_FillInSafetyCap(t *testing.T) {
	ot := newOrchTest(t)

	// A viewport so tall the stability bound is unreachable: the pass must
	// still terminate at the clone cap.
	donor := newColumn(0, 236, 400, newFakeSurface(), nil, columnConfig{speed: 0.6, minPending: 8, maxLoading: 3})
	abyss := newColumn(1, 236, 1e9, newFakeSurface(), nil, columnConfig{speed: 0.6, minPending: 8, maxLoading: 3})
	donor.isDoneLoading = true
	abyss.isDoneLoading = true

	for _, pin := range testPool(4) {
		h, _ := donor.surface.Create(pin)
		donor.appendVisible(visibleItem{pin: pin, handle: h, height: 200, aspect: 1.18})
	}
	if donor.needsFill() {
		t.Fatal("donor column should already be tall enough")
	}

	ot.orch.columns = []*Column{donor, abyss}
	ot.orch.maybeFillIn()

	if !ot.orch.fillDone {
		t.Fatal("fill-in did not run")
	}
	if got := len(abyss.items); got != fillSafetyCap {
		t.Errorf("clones = %d, want cap %d", got, fillSafetyCap)
	}
}

func TestAssignRoundRobin(t *testing.T) {
	pool := testPool(9)
	cols := assignRoundRobin(pool, 3)

	for i, col := range cols {
		if len(col) < minSourceDepth {
			t.Errorf("column %d depth %d below working minimum %d", i, len(col), minSourceDepth)
		}
	}
	// Round-robin: column 0 gets pins 0, 3, 6 first.
	if cols[0][0].Identity != "pin000" || cols[0][1].Identity != "pin003" {
		t.Errorf("column 0 head = %v", []string{cols[0][0].Identity, cols[0][1].Identity})
	}

	// A pool smaller than the column count still feeds every column.
	tiny := assignRoundRobin(testPool(2), 4)
	for i, col := range tiny {
		if len(col) == 0 {
			t.Errorf("column %d starved by tiny pool", i)
		}
	}
}
