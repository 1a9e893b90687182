package models

// Pin is one discoverable visual asset reference.
type Pin struct {
	// Identity is the normalized content-hash identity. Two references to
	// the same asset at different resolutions share one Identity.
	Identity string `json:"identity"`

	// URL is the best-available source reference (highest-resolution
	// variant seen during discovery).
	URL string `json:"url"`
}

// ScanOptions tunes one scan session.
type ScanOptions struct {
	// TargetHint is an optional expected pin count parsed from the page
	// chrome. It is a heuristic hint only; no stop condition depends
	// solely on it. Nil means unknown.
	TargetHint *int

	// MinPixels is the minimum width and height for a candidate element
	// to qualify. Elements with unknown dimensions pass.
	// Default: 100.
	MinPixels int

	// MaxAttempts is the hard ceiling on scan ticks.
	// Default: 400.
	MaxAttempts int
}

// Defaults applies default values to unset fields.
func (o *ScanOptions) Defaults() {
	if o.MinPixels == 0 {
		o.MinPixels = 100
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 400
	}
}

// Batch is one group of newly discovered pins handed from the scanner to
// the merge store. Pins within a batch are unique by Identity.
type Batch struct {
	Pins []Pin
}
