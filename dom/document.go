package dom

import "context"

// Metrics is a snapshot of the host document's scroll geometry.
type Metrics struct {
	ScrollTop      float64
	ViewportWidth  float64
	ViewportHeight float64
	ContentHeight  float64
}

// AtBottom reports whether the viewport has reached the end of the
// scrollable content, within a small epsilon to absorb sub-pixel layout.
func (m Metrics) AtBottom() bool {
	const epsilon = 2.0
	return m.ScrollTop+m.ViewportHeight >= m.ContentHeight-epsilon
}

// ScrollPercent returns how far down the document the viewport sits, 0..100.
func (m Metrics) ScrollPercent() int {
	span := m.ContentHeight - m.ViewportHeight
	if span <= 0 {
		return 100
	}
	p := int(m.ScrollTop / span * 100)
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return p
}

// Document is the engine's view of the live host page. The production
// implementation is backed by a headless browser; tests use a synthetic
// document whose HTML and geometry mutate under scripted control.
type Document interface {
	// HTML returns the current rendered markup of the whole document.
	HTML(ctx context.Context) (string, error)

	// Metrics returns the current scroll geometry.
	Metrics(ctx context.Context) (Metrics, error)

	// ScrollTo scrolls the document so that top is the new scroll offset.
	ScrollTo(ctx context.Context, top float64) error

	// Location returns the document's current URL.
	Location(ctx context.Context) (string, error)
}
