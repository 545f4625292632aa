package domain

import (
	"context"
	"time"
)

// ThrottleKey names one counter. Subject is the vault, claim or recovery the action targets,
// so a caller hammering one vault does not spend its budget on another.
type ThrottleKey struct {
	Action  string
	Subject string
	Caller  string
}

// Quota allows Limit charges per Window. A non-positive Limit disables throttling.
type Quota struct {
	Limit  int
	Window time.Duration
}

// Span returns the aligned window holding now. Alignment lets every replica agree on window
// boundaries without coordination.
func (q Quota) Span(now time.Time) (start, end time.Time) {
	w := q.Window
	if w <= 0 {
		w = time.Minute
	}
	start = now.Truncate(w)
	return start, start.Add(w)
}

// Verdict judges the used-th charge of a window ending at end.
func (q Quota) Verdict(used int, now, end time.Time) ThrottleVerdict {
	v := ThrottleVerdict{
		Allowed:   used <= q.Limit,
		Limit:     q.Limit,
		Remaining: max(q.Limit-used, 0),
		ResetAt:   end,
	}
	if !v.Allowed {
		v.RetryAfter = end.Sub(now)
	}
	return v
}

type ThrottleVerdict struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

type Throttle interface {
	Charge(ctx context.Context, key ThrottleKey, q Quota) (ThrottleVerdict, error)
}
