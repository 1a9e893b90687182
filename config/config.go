package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Browser BrowserConfig
	Scan    ScanConfig
	Store   StoreConfig
	Render  RenderConfig
	Loader  LoaderConfig
	Log     LogConfig
}

// BrowserConfig controls the Rod browser instance.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// Stealth enables anti-bot-detection evasions before navigation.
	Stealth bool // default: true

	// NavigationTimeout is the max time for page.Navigate alone.
	NavigationTimeout time.Duration // default: 15s
}

// ScanConfig controls the discovery loop.
type ScanConfig struct {
	// BaseDelay is the inter-tick delay after a productive tick.
	BaseDelay time.Duration // default: 500ms

	// DelayStep is added to the delay after every stagnant tick.
	DelayStep time.Duration // default: 200ms

	// MaxDelay is the backoff ceiling.
	MaxDelay time.Duration // default: 2s

	// MinPixels is the minimum candidate width and height.
	MinPixels int // default: 100

	// MaxAttempts is the hard ceiling on scan ticks.
	MaxAttempts int // default: 400

	// Selectors overrides the ordered container selector strategies.
	// Empty means the built-in list.
	Selectors []string
}

// StoreConfig controls the board cache.
type StoreConfig struct {
	// Path is the sqlite database file. Empty means in-memory only.
	Path string // default: "mosaic.db"

	// Capacity is the maximum number of pins kept per board.
	Capacity int // default: 200

	// DebounceWindow coalesces rapid merge calls into one write.
	DebounceWindow time.Duration // default: 500ms
}

// RenderConfig controls the collage engine.
type RenderConfig struct {
	// ColumnWidth is the fixed pixel width of each column lane.
	ColumnWidth int // default: 236

	// ScrollSpeed is the base per-frame scroll delta in pixels.
	ScrollSpeed float64 // default: 0.6

	// MinPending is the pipeline depth kept per column while loading.
	MinPending int // default: 8

	// MaxLoading is the per-column concurrent load ceiling.
	MaxLoading int // default: 3

	// FrameInterval is the production frame tick period.
	FrameInterval time.Duration // default: 16ms
}

// LoaderConfig controls image dimension fetching.
type LoaderConfig struct {
	// FetchesPerSecond is the sustained image fetch rate.
	FetchesPerSecond float64 // default: 20

	// Burst is the fetch burst size.
	Burst int // default: 10

	// Timeout is the per-image fetch deadline.
	Timeout time.Duration // default: 10s
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Browser: BrowserConfig{
			Headless:          envBoolOr("MOSAIC_HEADLESS", true),
			NoSandbox:         envBoolOr("MOSAIC_NO_SANDBOX", false),
			BrowserBin:        os.Getenv("MOSAIC_BROWSER_BIN"),
			Stealth:           envBoolOr("MOSAIC_STEALTH", true),
			NavigationTimeout: envDurationOr("MOSAIC_NAV_TIMEOUT", 15*time.Second),
		},
		Scan: ScanConfig{
			BaseDelay:   envDurationOr("MOSAIC_SCAN_BASE_DELAY", 500*time.Millisecond),
			DelayStep:   envDurationOr("MOSAIC_SCAN_DELAY_STEP", 200*time.Millisecond),
			MaxDelay:    envDurationOr("MOSAIC_SCAN_MAX_DELAY", 2*time.Second),
			MinPixels:   envIntOr("MOSAIC_SCAN_MIN_PIXELS", 100),
			MaxAttempts: envIntOr("MOSAIC_SCAN_MAX_ATTEMPTS", 400),
			Selectors:   envSliceOr("MOSAIC_SCAN_SELECTORS", nil),
		},
		Store: StoreConfig{
			Path:           envOr("MOSAIC_STORE_PATH", "mosaic.db"),
			Capacity:       envIntOr("MOSAIC_STORE_CAPACITY", 200),
			DebounceWindow: envDurationOr("MOSAIC_STORE_DEBOUNCE", 500*time.Millisecond),
		},
		Render: RenderConfig{
			ColumnWidth:   envIntOr("MOSAIC_COLUMN_WIDTH", 236),
			ScrollSpeed:   envFloatOr("MOSAIC_SCROLL_SPEED", 0.6),
			MinPending:    envIntOr("MOSAIC_MIN_PENDING", 8),
			MaxLoading:    envIntOr("MOSAIC_MAX_LOADING", 3),
			FrameInterval: envDurationOr("MOSAIC_FRAME_INTERVAL", 16*time.Millisecond),
		},
		Loader: LoaderConfig{
			FetchesPerSecond: envFloatOr("MOSAIC_LOADER_RPS", 20),
			Burst:            envIntOr("MOSAIC_LOADER_BURST", 10),
			Timeout:          envDurationOr("MOSAIC_LOADER_TIMEOUT", 10*time.Second),
		},
		Log: LogConfig{
			Level:  envOr("MOSAIC_LOG_LEVEL", "info"),
			Format: envOr("MOSAIC_LOG_FORMAT", "json"),
		},
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
