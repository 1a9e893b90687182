package collage

import (
	"log/slog"

	"github.com/use-agent/mosaic/models"
)

// itemGap is the vertical spacing between revealed items, in pixels.
const itemGap = 8.0

// stabilityFactor: a column is stable once its accumulated content
// height reaches this many viewports, which is also the ceiling the
// recycler maintains.
const stabilityFactor = 2.0

// pipeItem is an entry moving through the pre-visible pipeline stages
// (queued, loading, ready-to-reveal).
type pipeItem struct {
	pin     models.Pin
	handle  ItemHandle
	width   int     // natural px, known after load
	height  int     // natural px, known after load
	display float64 // display height at column width, known after load
	frame   int     // frame the item was created on
}

// visibleItem is a revealed entry positioned inside the track. Items are
// kept ordered by localTop ascending.
type visibleItem struct {
	pin      models.Pin
	handle   ItemHandle
	height   float64 // display height
	localTop float64 // coordinate within the track, scroll-independent
	aspect   float64 // natural width/height, kept for fill-in cloning
}

// Column owns one visual lane: a source pool of assigned pins, the
// create/load/reveal pipeline, the revealed items, and the scrolling
// track. All mutation happens on the orchestrator's frame turn.
type Column struct {
	index    int
	width    float64
	viewport float64
	surface  Surface
	speed    float64 // signed px per frame

	source     []models.Pin
	nextSource int

	loadQueue   []*pipeItem
	loading     map[uint64]*pipeItem
	revealQueue []*pipeItem

	items       []visibleItem
	trackOffset float64
	cursor      float64 // next localTop for appended items
	totalHeight float64

	minPending  int
	maxLoading  int
	outstanding int // created but not yet revealed or failed

	isStable      bool
	isDoneLoading bool
}

// newColumn builds a column over its assigned source pool. Direction
// alternates by column index, with a slight per-index speed variation so
// lanes drift out of phase.
func newColumn(index int, width, viewport float64, surface Surface, source []models.Pin, cfg columnConfig) *Column {
	speed := cfg.speed * (1.0 + 0.15*float64(index%3))
	if index%2 == 1 {
		speed = -speed
	}
	return &Column{
		index:      index,
		width:      width,
		viewport:   viewport,
		surface:    surface,
		speed:      speed,
		source:     source,
		loading:    make(map[uint64]*pipeItem),
		minPending: cfg.minPending,
		maxLoading: cfg.maxLoading,
	}
}

type columnConfig struct {
	speed      float64
	minPending int
	maxLoading int
}

// pending is the total count across the pre-visible pipeline stages.
func (c *Column) pending() int {
	return len(c.loadQueue) + len(c.loading) + len(c.revealQueue)
}

// needsCreate reports whether the pipeline should be fed: still items
// left to create, and the pending ceiling not yet reached.
func (c *Column) needsCreate() bool {
	return c.nextSource < len(c.source) && c.pending() < c.minPending
}

// createOne materializes the next source pin as a hidden placeholder and
// queues it for loading. Returns false when nothing was created.
func (c *Column) createOne(frame int) bool {
	if !c.needsCreate() {
		return false
	}
	pin := c.source[c.nextSource]
	handle, err := c.surface.Create(pin)
	if err != nil {
		// Placeholder creation failing means the surface is unhealthy;
		// skip the pin rather than stall the pipeline.
		slog.Debug("placeholder create failed", "column", c.index, "pin", pin.Identity, "error", err)
		c.nextSource++
		c.refreshDone()
		return false
	}
	c.nextSource++
	c.outstanding++
	c.loadQueue = append(c.loadQueue, &pipeItem{pin: pin, handle: handle, frame: frame})
	return true
}

// canStartLoad reports whether a load slot is free and an eligible item
// is queued. Items created this same frame are not yet eligible.
func (c *Column) canStartLoad(frame int) bool {
	if len(c.loading) >= c.maxLoading || len(c.loadQueue) == 0 {
		return false
	}
	return c.loadQueue[0].frame < frame
}

// beginLoad moves the head of the load queue into the loading set under
// the given token. Caller must have checked canStartLoad.
func (c *Column) beginLoad(token uint64) *pipeItem {
	item := c.loadQueue[0]
	c.loadQueue = c.loadQueue[1:]
	c.loading[token] = item
	return item
}

// onLoadResult resolves a loading item: success computes the display
// height from the natural aspect ratio at the column's fixed width and
// queues the reveal; failure discards the item and its placeholder.
func (c *Column) onLoadResult(res LoadResult) {
	item, ok := c.loading[res.Token]
	if !ok {
		return
	}
	delete(c.loading, res.Token)

	if res.Err != nil || res.Width <= 0 || res.Height <= 0 {
		slog.Debug("pin load failed", "column", c.index, "pin", item.pin.Identity, "error", res.Err)
		c.surface.Remove(item.handle)
		c.outstanding--
		c.refreshDone()
		return
	}

	item.width = res.Width
	item.height = res.Height
	item.display = c.width * float64(res.Height) / float64(res.Width)
	c.revealQueue = append(c.revealQueue, item)
}

// revealOne pops the reveal queue, assigns the item the track's running
// content-height cursor as its localTop, and makes it visible. Returns
// false when the queue is empty.
func (c *Column) revealOne() bool {
	if len(c.revealQueue) == 0 {
		return false
	}
	item := c.revealQueue[0]
	c.revealQueue = c.revealQueue[1:]

	c.appendVisible(visibleItem{
		pin:    item.pin,
		handle: item.handle,
		height: item.display,
		aspect: float64(item.width) / float64(item.height),
	})
	c.outstanding--
	c.refreshDone()
	return true
}

// appendVisible places the item at the cursor and advances the height
// accumulator. Used by both the pipeline and the fill-in pass.
func (c *Column) appendVisible(v visibleItem) {
	v.localTop = c.cursor
	c.surface.Reveal(v.handle, v.localTop, v.height)
	c.items = append(c.items, v)
	c.cursor += v.height + itemGap
	c.totalHeight = c.cursor
	if !c.isStable && c.totalHeight >= stabilityFactor*c.viewport {
		c.isStable = true
	}
}

// refreshDone recomputes isDoneLoading: every assigned source item has
// passed through the pipeline (revealed at least once, or failed).
func (c *Column) refreshDone() {
	if !c.isDoneLoading && c.nextSource >= len(c.source) && c.outstanding == 0 {
		c.isDoneLoading = true
	}
}

// updateScroll advances the track by the column's per-frame speed and
// commits the single transform write. Once stable it also runs the O(1)
// edge recycle check.
func (c *Column) updateScroll() {
	c.trackOffset += c.speed
	c.surface.SetOffset(c.trackOffset)
	if c.isStable {
		c.recycle()
	}
}

// recycle looks only at the item on the leading edge of the scroll
// direction. An item fully past that edge moves to the trailing end with
// an updated localTop, keeping the live item count bounded no matter how
// far the track has scrolled.
func (c *Column) recycle() {
	if len(c.items) < 2 {
		return
	}

	if c.speed > 0 {
		// Track moves up; items exit above. The visible window within
		// track coordinates is [trackOffset, trackOffset+viewport].
		first := c.items[0]
		if first.localTop+first.height < c.trackOffset {
			c.items = c.items[1:]
			first.localTop = c.cursor
			c.surface.Move(first.handle, first.localTop)
			c.items = append(c.items, first)
			c.cursor += first.height + itemGap
		}
		return
	}

	// Track moves down; items exit below and re-enter on top.
	last := c.items[len(c.items)-1]
	if last.localTop > c.trackOffset+c.viewport {
		c.items = c.items[:len(c.items)-1]
		last.localTop = c.items[0].localTop - itemGap - last.height
		c.surface.Move(last.handle, last.localTop)
		c.items = append([]visibleItem{last}, c.items...)
	}
}

// loadedAspects returns the distinct loaded images of this column for
// the cross-column fill-in pass.
func (c *Column) loadedAspects() []visibleItem {
	seen := make(map[string]bool, len(c.items))
	var out []visibleItem
	for _, v := range c.items {
		if seen[v.pin.Identity] {
			continue
		}
		seen[v.pin.Identity] = true
		out = append(out, v)
	}
	return out
}

// hasIdentity reports whether the column already shows the identity.
func (c *Column) hasIdentity(identity string) bool {
	for _, v := range c.items {
		if v.pin.Identity == identity {
			return true
		}
	}
	return false
}

// needsFill reports whether the column is still under the stability
// height bound after its own pipeline drained.
func (c *Column) needsFill() bool {
	return c.totalHeight < stabilityFactor*c.viewport
}

// teardown removes every surface node the column owns.
func (c *Column) teardown() {
	for _, item := range c.loadQueue {
		c.surface.Remove(item.handle)
	}
	for _, item := range c.loading {
		c.surface.Remove(item.handle)
	}
	for _, item := range c.revealQueue {
		c.surface.Remove(item.handle)
	}
	for _, v := range c.items {
		c.surface.Remove(v.handle)
	}
	c.loadQueue = nil
	c.loading = map[uint64]*pipeItem{}
	c.revealQueue = nil
	c.items = nil
}
