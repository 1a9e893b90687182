package dom

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"

	"github.com/use-agent/mosaic/config"
	"github.com/use-agent/mosaic/models"
)

// Browser owns the headless browser lifecycle.
type Browser struct {
	browser *rod.Browser
	cfg     config.BrowserConfig
}

// NewBrowser launches a headless browser with anti-detection flags.
func NewBrowser(cfg config.BrowserConfig) (*Browser, error) {
	l := launcher.New().
		Headless(cfg.Headless).
		NoSandbox(cfg.NoSandbox)

	if cfg.BrowserBin != "" {
		l = l.Bin(cfg.BrowserBin)
	}

	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.NewError(models.ErrCodeBrowserCrash, "failed to launch browser", err)
	}
	slog.Info("browser launched", "controlURL", controlURL)

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, models.NewError(models.ErrCodeBrowserCrash, "failed to connect to browser", err)
	}

	return &Browser{browser: browser, cfg: cfg}, nil
}

// Close disconnects and kills the browser.
func (b *Browser) Close() {
	if err := b.browser.Close(); err != nil {
		slog.Warn("browser close failed", "error", err)
	}
}

// Open navigates a fresh page to the given URL and waits for the DOM to
// settle. Stealth JS is injected before navigation when configured.
func (b *Browser) Open(ctx context.Context, url string) (*LiveDocument, error) {
	page, err := b.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, models.NewError(models.ErrCodeBrowserCrash, "failed to create page", err)
	}

	if b.cfg.Stealth {
		if _, evalErr := page.EvalOnNewDocument(stealth.JS); evalErr != nil {
			slog.Warn("stealth injection failed, proceeding without stealth", "error", evalErr)
		}
	}

	navCtx, cancel := context.WithTimeout(ctx, b.cfg.NavigationTimeout)
	defer cancel()

	p := page.Context(navCtx)
	if err := p.Navigate(url); err != nil {
		_ = page.Close()
		return nil, categorizeError(err, "navigation to target URL failed")
	}

	if stableErr := p.WaitDOMStable(300*time.Millisecond, 0.1); stableErr != nil {
		slog.Debug("WaitDOMStable did not converge, proceeding with current DOM", "error", stableErr)
	}

	return &LiveDocument{page: page}, nil
}

// LiveDocument adapts a live browser page to the Document interface.
type LiveDocument struct {
	page *rod.Page
}

// Page exposes the underlying rod page for render-surface wiring.
func (d *LiveDocument) Page() *rod.Page {
	return d.page
}

// Close closes the underlying page.
func (d *LiveDocument) Close() {
	if err := d.page.Close(); err != nil {
		slog.Warn("page close failed", "error", err)
	}
}

func (d *LiveDocument) HTML(ctx context.Context) (string, error) {
	raw, err := d.page.Context(ctx).HTML()
	if err != nil {
		return "", categorizeError(err, "failed to extract page HTML")
	}
	return raw, nil
}

func (d *LiveDocument) Metrics(ctx context.Context) (Metrics, error) {
	res, err := d.page.Context(ctx).Eval(`() => ({
		scrollTop: window.scrollY,
		viewportWidth: window.innerWidth,
		viewportHeight: window.innerHeight,
		contentHeight: document.documentElement.scrollHeight,
	})`)
	if err != nil {
		return Metrics{}, categorizeError(err, "failed to read scroll metrics")
	}
	return metricsFromJSON(res.Value), nil
}

func (d *LiveDocument) ScrollTo(ctx context.Context, top float64) error {
	_, err := d.page.Context(ctx).Eval(`(y) => window.scrollTo(0, y)`, top)
	if err != nil {
		return categorizeError(err, "scroll failed")
	}
	return nil
}

func (d *LiveDocument) Location(ctx context.Context) (string, error) {
	res, err := d.page.Context(ctx).Eval(`() => window.location.href`)
	if err != nil {
		return "", categorizeError(err, "failed to read location")
	}
	return res.Value.Str(), nil
}

// metricsFromJSON unpacks the Eval result object.
func metricsFromJSON(v gson.JSON) Metrics {
	return Metrics{
		ScrollTop:      v.Get("scrollTop").Num(),
		ViewportWidth:  v.Get("viewportWidth").Num(),
		ViewportHeight: v.Get("viewportHeight").Num(),
		ContentHeight:  v.Get("contentHeight").Num(),
	}
}

// categorizeError wraps raw rod errors into typed MosaicErrors.
func categorizeError(err error, msg string) *models.MosaicError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewError(models.ErrCodeScanTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewError(models.ErrCodeScanTimeout, "operation canceled", err)
	default:
		return models.NewError(models.ErrCodeNavigation, msg, err)
	}
}
