package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/use-agent/mosaic/collage"
	"github.com/use-agent/mosaic/config"
	"github.com/use-agent/mosaic/dom"
	"github.com/use-agent/mosaic/models"
	"github.com/use-agent/mosaic/scanner"
	"github.com/use-agent/mosaic/sched"
	"github.com/use-agent/mosaic/store"
)

// resizePollInterval is how often the viewport width is re-checked.
const resizePollInterval = 2 * time.Second

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s <board-url>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	boardURL := flag.Arg(0)

	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("mosaic starting", "url", boardURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── 3. Launch browser and open the board ────────────────────────
	browser, err := dom.NewBrowser(cfg.Browser)
	if err != nil {
		slog.Error("failed to launch browser", "error", err)
		os.Exit(1)
	}
	defer browser.Close()

	doc, err := browser.Open(ctx, boardURL)
	if err != nil {
		slog.Error("failed to open board", "error", err)
		os.Exit(1)
	}
	defer doc.Close()

	// ── 4. Open the board store ─────────────────────────────────────
	var kv store.KV
	if cfg.Store.Path != "" {
		sqliteKV, err := store.OpenSQLite(cfg.Store.Path)
		if err != nil {
			slog.Warn("sqlite store unavailable, using in-memory store", "error", err)
			kv = store.NewMemoryKV()
		} else {
			defer sqliteKV.Close()
			kv = sqliteKV
		}
	} else {
		kv = store.NewMemoryKV()
	}
	boards := store.New(kv, cfg.Store)

	location, err := doc.Location(ctx)
	if err != nil {
		location = boardURL
	}
	collection := store.CollectionFromURL(location)

	// ── 5. Start the shared frame loop ──────────────────────────────
	loop := sched.NewLoop(cfg.Render.FrameInterval)
	defer loop.Stop()

	// ── 6. Scan the board ───────────────────────────────────────────
	sc := scanner.New(doc, loop, cfg.Scan)
	session := sc.Start(ctx, models.ScanOptions{},
		func(b models.Batch) {
			boards.Merge(collection, b.Pins)
		},
		func(p models.Progress) {
			attrs := []any{"count", p.Count, "scroll", p.ScrollPercent, "done", p.Done}
			if p.Target != nil {
				attrs = append(attrs, "target", *p.Target)
			}
			slog.Info("scan progress", attrs...)
		},
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-session.Done():
	case sig := <-quit:
		slog.Info("shutdown signal received during scan", "signal", sig.String())
		session.Stop()
		boards.Flush(collection)
		return
	}
	boards.Flush(collection)

	// ── 7. Assemble the pool ────────────────────────────────────────
	pool, err := boards.Read(ctx, collection)
	if err != nil || len(pool) == 0 {
		pool = session.Pins()
	}
	if len(pool) == 0 {
		slog.Error("nothing discovered, nothing to render")
		os.Exit(1)
	}

	// ── 8. Render the collage ───────────────────────────────────────
	m, err := doc.Metrics(ctx)
	if err != nil {
		slog.Error("failed to read viewport", "error", err)
		os.Exit(1)
	}

	loader := collage.NewHTTPLoader(cfg.Loader)
	factory := func(index int, width float64) (collage.Surface, error) {
		return collage.NewDOMSurface(doc.Page(), index, width)
	}
	orch := collage.NewOrchestrator(cfg.Render, loop, loader, factory)

	numColumns := columnsForWidth(m.ViewportWidth, cfg.Render.ColumnWidth)
	if err := orch.RenderPins(ctx, pool, numColumns, m.ViewportHeight); err != nil {
		slog.Error("render failed", "error", err)
		os.Exit(1)
	}

	// ── 9. Resize watch: re-render when the viewport width changes ──
	go watchResize(ctx, doc, loop, orch, pool, cfg.Render.ColumnWidth, m.ViewportWidth)

	// ── 10. Graceful shutdown ───────────────────────────────────────
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())
	cancel()
	orch.Stop()
	slog.Info("mosaic stopped")
}

// watchResize polls the viewport and schedules a re-render on the frame
// loop's turn whenever the width changes enough to alter the column
// count. RenderPins resets the phase to SPRINT.
func watchResize(ctx context.Context, doc *dom.LiveDocument, loop *sched.Loop, orch *collage.Orchestrator, pool []models.Pin, colWidth int, lastWidth float64) {
	ticker := time.NewTicker(resizePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m, err := doc.Metrics(ctx)
		if err != nil {
			continue
		}
		if math.Abs(m.ViewportWidth-lastWidth) < 1 {
			continue
		}
		if columnsForWidth(m.ViewportWidth, colWidth) == columnsForWidth(lastWidth, colWidth) {
			lastWidth = m.ViewportWidth
			continue
		}
		lastWidth = m.ViewportWidth

		width, height := m.ViewportWidth, m.ViewportHeight
		loop.After(0, func() {
			slog.Info("viewport resized, rebuilding collage", "width", width)
			if err := orch.RenderPins(ctx, pool, columnsForWidth(width, colWidth), height); err != nil {
				slog.Warn("re-render failed", "error", err)
			}
		})
	}
}

// columnsForWidth derives the column count from the viewport width.
func columnsForWidth(viewportWidth float64, columnWidth int) int {
	n := int(viewportWidth) / columnWidth
	if n < 1 {
		n = 1
	}
	return n
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
