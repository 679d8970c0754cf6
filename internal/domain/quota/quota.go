package quota

import "time"

const (
	// WindowDuration is the length of a sliding window, anchored at first use.
	WindowDuration = 24 * time.Hour
	// DefaultLimit applies to features without an explicit limit.
	DefaultLimit = 5
)

// Window is the stored admission counter for one (scope, feature).
type Window struct {
	Limit   int
	Count   int
	StartAt time.Time
}

// ResetAt returns the instant the window expires.
func (w Window) ResetAt() time.Time { return w.StartAt.Add(WindowDuration) }

// Expired reports whether now is at or past the reset instant.
func (w Window) Expired(now time.Time) bool { return !now.Before(w.ResetAt()) }

// Reset starts a fresh window at now.
func (w Window) Reset(now time.Time) Window {
	return Window{Limit: w.Limit, Count: 0, StartAt: now}
}

// Admit counts one admission against limit. The returned window is unchanged
// when the limit is already reached.
func (w Window) Admit(limit int) (Window, bool) {
	w.Limit = limit
	if w.Count >= limit {
		return w, false
	}
	w.Count++
	return w, true
}

// Result is the admission decision returned to callers.
type Result struct {
	Allowed   bool
	Remaining int
	Limit     int
	ResetAt   time.Time
}

// Decide applies one consume step to the stored window. stored is nil when no
// record exists. write reports whether next must be persisted; a denial never writes.
func Decide(stored *Window, limit int, now time.Time) (next Window, res Result, write bool) {
	w := current(stored, now)
	next, ok := w.Admit(limit)
	if !ok {
		return w, Result{Allowed: false, Remaining: 0, Limit: limit, ResetAt: w.ResetAt()}, false
	}
	return next, Result{
		Allowed:   true,
		Remaining: remaining(limit, next.Count),
		Limit:     limit,
		ResetAt:   next.ResetAt(),
	}, true
}

// Peek reports the window as a subsequent consume would see it, without changing anything.
// A missing or expired window reads as a full fresh window starting at now.
func Peek(stored *Window, limit int, now time.Time) Result {
	w := current(stored, now)
	rem := remaining(limit, w.Count)
	return Result{Allowed: rem > 0, Remaining: rem, Limit: limit, ResetAt: w.ResetAt()}
}

func current(stored *Window, now time.Time) Window {
	if stored == nil {
		return Window{StartAt: now}
	}
	if stored.Expired(now) {
		return stored.Reset(now)
	}
	return *stored
}

func remaining(limit, count int) int {
	if count >= limit {
		return 0
	}
	return limit - count
}

// Limits maps feature names to per-window admission limits.
type Limits struct {
	def        int
	perFeature map[string]int
}

// NewLimits creates a limit table. A non-positive def falls back to DefaultLimit.
func NewLimits(def int, perFeature map[string]int) Limits {
	if def <= 0 {
		def = DefaultLimit
	}
	m := make(map[string]int, len(perFeature))
	for k, v := range perFeature {
		if v > 0 {
			m[k] = v
		}
	}
	return Limits{def: def, perFeature: m}
}

// For returns the limit for feature.
func (l Limits) For(feature string) int {
	if v, ok := l.perFeature[feature]; ok {
		return v
	}
	if l.def <= 0 {
		return DefaultLimit
	}
	return l.def
}
