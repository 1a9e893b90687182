package collage

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"time"

	_ "golang.org/x/image/webp"
	"golang.org/x/time/rate"

	"github.com/use-agent/mosaic/config"
	"github.com/use-agent/mosaic/models"
)

// LoadResult is the completion of one image load. Width and Height are
// the natural pixel dimensions; Err is set on failure.
type LoadResult struct {
	Token  uint64
	Width  int
	Height int
	Err    error
}

// Loader resolves image dimensions asynchronously. Results arrive on the
// Results channel in completion order; the orchestrator drains it at the
// start of every frame so all pipeline mutation stays on the frame turn.
type Loader interface {
	Load(ctx context.Context, token uint64, url string)
	Results() <-chan LoadResult
}

// HTTPLoader fetches images over HTTP and decodes only their headers to
// learn dimensions. Fetches are paced by a rate limiter so a SPRINT-phase
// burst does not hammer the image CDN.
type HTTPLoader struct {
	client  *http.Client
	limiter *rate.Limiter
	timeout time.Duration
	results chan LoadResult
}

// NewHTTPLoader creates a loader with the configured pacing.
func NewHTTPLoader(cfg config.LoaderConfig) *HTTPLoader {
	rps := cfg.FetchesPerSecond
	if rps <= 0 {
		rps = 20
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 10
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPLoader{
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		timeout: timeout,
		results: make(chan LoadResult, 256),
	}
}

func (l *HTTPLoader) Results() <-chan LoadResult {
	return l.results
}

// Load starts one fetch. The goroutine delivers exactly one result.
func (l *HTTPLoader) Load(ctx context.Context, token uint64, url string) {
	go func() {
		w, h, err := l.fetch(ctx, url)
		select {
		case l.results <- LoadResult{Token: token, Width: w, Height: h, Err: err}:
		case <-ctx.Done():
		}
	}()
}

func (l *HTTPLoader) fetch(ctx context.Context, url string) (int, int, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return 0, 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, 0, models.NewError(models.ErrCodeInvalidInput, "bad image url", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return 0, 0, models.NewError(models.ErrCodeDecode, "image fetch failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return 0, 0, models.NewError(models.ErrCodeDecode,
			fmt.Sprintf("image fetch returned status %d", resp.StatusCode), nil)
	}

	// DecodeConfig reads only as much of the body as the header needs.
	cfg, _, err := image.DecodeConfig(resp.Body)
	if err != nil {
		return 0, 0, models.NewError(models.ErrCodeDecode, "image header decode failed", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return 0, 0, models.NewError(models.ErrCodeDecode, "image has no dimensions", nil)
	}
	return cfg.Width, cfg.Height, nil
}
