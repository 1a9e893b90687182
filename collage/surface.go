package collage

import (
	"log/slog"

	"github.com/go-rod/rod"

	"github.com/use-agent/mosaic/models"
)

// ItemHandle identifies one placeholder on a surface.
type ItemHandle int

// Surface is a column's render target: a fixed-width vertical lane whose
// content strip (the track) can be translated as a whole. All methods are
// called on the frame turn. The only per-tick style mutation is
// SetOffset's single transform write.
type Surface interface {
	// Create inserts a hidden placeholder for the pin.
	Create(pin models.Pin) (ItemHandle, error)

	// Reveal positions the placeholder at localTop within the track,
	// gives it its display height, and makes it visible.
	Reveal(h ItemHandle, localTop, height float64)

	// Move repositions a visible item to a new localTop (recycling).
	Move(h ItemHandle, localTop float64)

	// Remove deletes the placeholder.
	Remove(h ItemHandle)

	// SetOffset applies the track transform for the current scroll
	// position.
	SetOffset(offset float64)
}

// SurfaceFactory builds the surface for one column lane.
type SurfaceFactory func(index int, width float64) (Surface, error)

// installJS sets up the collage root and per-cell helpers inside the
// host page. Cells live in per-column track containers positioned
// absolutely; scrolling is one translate3d write on the track.
const installJS = `(colWidth) => {
	if (window.__mosaic) return;
	const root = document.createElement('div');
	root.id = '__mosaic-root';
	root.style.cssText = 'position:fixed;inset:0;z-index:2147483000;overflow:hidden;background:#111;';
	document.body.appendChild(root);
	window.__mosaic = { root, tracks: {}, cells: {}, nextCell: 1, colWidth };
}`

// DOMSurface renders one column into the live page.
type DOMSurface struct {
	page  *rod.Page
	index int
	width float64
}

// NewDOMSurface creates the column's track container in the page.
func NewDOMSurface(page *rod.Page, index int, width float64) (*DOMSurface, error) {
	if _, err := page.Eval(installJS, width); err != nil {
		return nil, models.NewError(models.ErrCodeNavigation, "collage install failed", err)
	}
	_, err := page.Eval(`(i, w) => {
		const m = window.__mosaic;
		const track = document.createElement('div');
		track.style.cssText = 'position:absolute;top:0;width:' + w + 'px;left:' + (i * w) + 'px;will-change:transform;';
		m.root.appendChild(track);
		m.tracks[i] = track;
	}`, index, width)
	if err != nil {
		return nil, models.NewError(models.ErrCodeNavigation, "track create failed", err)
	}
	return &DOMSurface{page: page, index: index, width: width}, nil
}

func (s *DOMSurface) Create(pin models.Pin) (ItemHandle, error) {
	res, err := s.page.Eval(`(i, src) => {
		const m = window.__mosaic;
		const img = document.createElement('img');
		img.src = src;
		img.style.cssText = 'position:absolute;left:0;width:100%;visibility:hidden;';
		m.tracks[i].appendChild(img);
		const id = m.nextCell++;
		m.cells[id] = img;
		return id;
	}`, s.index, pin.URL)
	if err != nil {
		return 0, models.NewError(models.ErrCodeNavigation, "cell create failed", err)
	}
	return ItemHandle(res.Value.Int()), nil
}

func (s *DOMSurface) Reveal(h ItemHandle, localTop, height float64) {
	_, err := s.page.Eval(`(id, top, height) => {
		const img = window.__mosaic.cells[id];
		if (!img) return;
		img.style.top = top + 'px';
		img.style.height = height + 'px';
		img.style.visibility = 'visible';
	}`, int(h), localTop, height)
	if err != nil {
		slog.Debug("cell reveal failed", "column", s.index, "cell", int(h), "error", err)
	}
}

func (s *DOMSurface) Move(h ItemHandle, localTop float64) {
	_, err := s.page.Eval(`(id, top) => {
		const img = window.__mosaic.cells[id];
		if (img) img.style.top = top + 'px';
	}`, int(h), localTop)
	if err != nil {
		slog.Debug("cell move failed", "column", s.index, "cell", int(h), "error", err)
	}
}

func (s *DOMSurface) Remove(h ItemHandle) {
	_, err := s.page.Eval(`(id) => {
		const m = window.__mosaic;
		const img = m.cells[id];
		if (img) { img.remove(); delete m.cells[id]; }
	}`, int(h))
	if err != nil {
		slog.Debug("cell remove failed", "column", s.index, "cell", int(h), "error", err)
	}
}

func (s *DOMSurface) SetOffset(offset float64) {
	_, err := s.page.Eval(`(i, y) => {
		const t = window.__mosaic.tracks[i];
		if (t) t.style.transform = 'translate3d(0,' + y + 'px,0)';
	}`, s.index, -offset)
	if err != nil {
		slog.Debug("track transform failed", "column", s.index, "error", err)
	}
}
