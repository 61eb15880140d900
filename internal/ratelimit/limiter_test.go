package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestLimiter(t *testing.T, opts ...RedisOption) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLimiter(client, opts...), mr
}

func TestCheckConsumesBudget(t *testing.T) {
	limiter, _ := newTestLimiter(t, WithPolicy(ActionLogin, Policy{Window: time.Minute, Points: 3}))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := limiter.Check(ctx, "clinic@example.org", ActionLogin)
		if err != nil {
			t.Fatalf("Check %d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("attempt %d should be within budget", i)
		}
		if res.Remaining != 2-i {
			t.Fatalf("attempt %d: remaining = %d, want %d", i, res.Remaining, 2-i)
		}
	}

	res, err := limiter.Check(ctx, "clinic@example.org", ActionLogin)
	if err != nil {
		t.Fatalf("Check over budget: %v", err)
	}
	if res.Allowed {
		t.Fatal("fourth attempt must be denied")
	}
	if res.Remaining != 0 {
		t.Fatalf("remaining = %d, want 0", res.Remaining)
	}
	if res.ResetAt.IsZero() {
		t.Fatal("denied result must carry a reset time")
	}
}

func TestCheckWindowResets(t *testing.T) {
	limiter, mr := newTestLimiter(t, WithPolicy(ActionLogin, Policy{Window: time.Minute, Points: 1}))
	ctx := context.Background()

	if res, _ := limiter.Check(ctx, "k", ActionLogin); !res.Allowed {
		t.Fatal("first attempt must pass")
	}
	if res, _ := limiter.Check(ctx, "k", ActionLogin); res.Allowed {
		t.Fatal("second attempt must be denied")
	}

	mr.FastForward(61 * time.Second)

	if res, _ := limiter.Check(ctx, "k", ActionLogin); !res.Allowed {
		t.Fatal("window expiry must restore the budget")
	}
}

func TestCheckIsolatesActionsAndIdentifiers(t *testing.T) {
	limiter, _ := newTestLimiter(t,
		WithPolicy(ActionLogin, Policy{Window: time.Minute, Points: 1}),
		WithPolicy(ActionRefresh, Policy{Window: time.Minute, Points: 1}),
	)
	ctx := context.Background()

	if res, _ := limiter.Check(ctx, "alice", ActionLogin); !res.Allowed {
		t.Fatal("alice login must pass")
	}
	if res, _ := limiter.Check(ctx, "alice", ActionLogin); res.Allowed {
		t.Fatal("alice login budget exhausted")
	}
	// Other action classes and other identifiers keep their own budgets.
	if res, _ := limiter.Check(ctx, "alice", ActionRefresh); !res.Allowed {
		t.Fatal("alice refresh must have its own budget")
	}
	if res, _ := limiter.Check(ctx, "bob", ActionLogin); !res.Allowed {
		t.Fatal("bob must have his own budget")
	}
}

func TestCheckUnknownActionAllows(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	res, err := limiter.Check(context.Background(), "k", Action("unknown"))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !res.Allowed {
		t.Fatal("unconfigured action must be allowed")
	}
}

func TestCheckFailsOpenOnBackendError(t *testing.T) {
	limiter, mr := newTestLimiter(t, WithPolicy(ActionLogin, Policy{Window: time.Minute, Points: 1}))
	mr.Close()

	res, err := limiter.Check(context.Background(), "k", ActionLogin)
	if err == nil {
		t.Fatal("expected a backend error")
	}
	if !res.Allowed {
		t.Fatal("backend failure must not lock users out")
	}
}

func TestNewWithoutURLIsDisabled(t *testing.T) {
	limiter, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := limiter.(Disabled); !ok {
		t.Fatalf("expected Disabled, got %T", limiter)
	}
	res, err := limiter.Check(context.Background(), "k", ActionLogin)
	if err != nil || !res.Allowed {
		t.Fatalf("disabled limiter must always allow: %+v, %v", res, err)
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	if _, err := New("not-a-url"); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestDefaultPolicies(t *testing.T) {
	policies := DefaultPolicies()
	for _, action := range []Action{ActionSignup, ActionLogin, ActionRefresh, ActionPasswordReset} {
		p, ok := policies[action]
		if !ok {
			t.Errorf("missing policy for %s", action)
			continue
		}
		if p.Window <= 0 || p.Points <= 0 {
			t.Errorf("%s: degenerate policy %+v", action, p)
		}
	}
}

func TestErrorRetryAfter(t *testing.T) {
	now := time.Now()
	e := &Error{Action: ActionLogin, Limit: 10, ResetAt: now.Add(90 * time.Second)}
	if got := e.RetryAfter(now); got != 90*time.Second {
		t.Fatalf("RetryAfter = %v, want 90s", got)
	}
	if got := e.RetryAfter(now.Add(2 * time.Minute)); got != 0 {
		t.Fatalf("past reset must yield zero, got %v", got)
	}
	if e.Error() == "" {
		t.Fatal("error string must not be empty")
	}
}
