package models

// Progress reports scan state to the UI layer. It is delivered through a
// ProgressFunc at most once per meaningful state change.
type Progress struct {
	// Count is the number of unique pins found so far.
	Count int `json:"count"`

	// Target is the expected total if a target hint was parsed from the
	// page chrome; nil when unknown.
	Target *int `json:"target"`

	// ScrollPercent is how far down the host document the scanner has
	// driven, 0..100.
	ScrollPercent int `json:"scroll_percent"`

	// Done is true exactly once, on the final event of a session.
	Done bool `json:"done"`
}

// ProgressFunc receives progress events. Implementations must be cheap;
// they run on the scanner's tick turn.
type ProgressFunc func(Progress)

// Equal reports whether two progress snapshots are indistinguishable,
// used to suppress duplicate emissions.
func (p Progress) Equal(o Progress) bool {
	if (p.Target == nil) != (o.Target == nil) {
		return false
	}
	if p.Target != nil && *p.Target != *o.Target {
		return false
	}
	return p.Count == o.Count && p.ScrollPercent == o.ScrollPercent && p.Done == o.Done
}
