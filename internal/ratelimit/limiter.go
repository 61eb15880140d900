// Package ratelimit provides sliding-window abuse control for the
// portal's sensitive entry points. Counters live in Redis so the budget
// is shared across instances; when no Redis URL is configured the
// limiter degrades to an explicit always-allow variant (fail-open):
// portal availability takes priority over abuse prevention when the
// optional counter store is absent.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Action classifies the sensitive operation being gated. Each action has
// its own window length and point budget, tuned independently.
type Action string

const (
	ActionSignup        Action = "signup"
	ActionLogin         Action = "login"
	ActionRefresh       Action = "refresh"
	ActionPasswordReset Action = "password_reset"
)

// Policy is the window length and point budget for one action class.
type Policy struct {
	Window time.Duration
	Points int
}

// DefaultPolicies reflect how sensitive each entry point is: tight for
// signup and reset, looser for refresh which legitimate clients hit often.
func DefaultPolicies() map[Action]Policy {
	return map[Action]Policy{
		ActionSignup:        {Window: time.Hour, Points: 5},
		ActionLogin:         {Window: 15 * time.Minute, Points: 10},
		ActionRefresh:       {Window: time.Minute, Points: 60},
		ActionPasswordReset: {Window: time.Hour, Points: 3},
	}
}

// Result reports the outcome of consuming one point from a window.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter consumes one point per Check call, regardless of outcome.
type Limiter interface {
	Check(ctx context.Context, identifier string, action Action) (Result, error)
}

// Error is returned by callers when a window budget is exhausted. It
// carries the retry metadata surfaced to clients on 429 responses.
type Error struct {
	Action  Action
	Limit   int
	ResetAt time.Time
}

func (e *Error) Error() string {
	return fmt.Sprintf("ratelimit: %s budget exhausted", e.Action)
}

// RetryAfter returns the wait until the window resets, floored at zero.
func (e *Error) RetryAfter(now time.Time) time.Duration {
	d := e.ResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Disabled is the fail-open variant used when no counter store is
// configured. Every check is allowed and no budget is tracked.
type Disabled struct{}

func NewDisabled() Disabled { return Disabled{} }

func (Disabled) Check(context.Context, string, Action) (Result, error) {
	return Result{Allowed: true}, nil
}
